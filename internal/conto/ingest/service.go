// Package ingest turns uploaded revenue spreadsheets and manual requests into
// ledger entries: normalize, resolve parties, split, deduplicate, persist.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/directory"
	"github.com/fiacom/gestionale/internal/observability"
	"github.com/fiacom/gestionale/internal/shared"
)

// Store is the persistence the pipeline writes to.
type Store interface {
	InsertTransaction(ctx context.Context, tx conto.Transaction) error
	InsertUnreconciled(ctx context.Context, e conto.UnreconciledEntry) error
	InsertImport(ctx context.Context, rec conto.ImportRecord) error
	FindImport(ctx context.Context, account conto.Account, fileHash string) (conto.ImportRecord, error)
	ExistingKeys(ctx context.Context, account conto.Account, keys []string) (map[string]struct{}, error)
}

// Directory is the registry the pipeline resolves rows against.
type Directory interface {
	Snapshot(ctx context.Context) (*directory.Snapshot, error)
	LinkJobCenter(ctx context.Context, companyID, centerID uuid.UUID, consultantName string) error
}

// Invalidator drops cached report views after a write.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Auditor records name based resolutions and backfills.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs previews, commits and manual creations.
type Service struct {
	store     Store
	directory Directory
	cache     Invalidator
	audit     Auditor
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source used for upload dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAuditor records name based resolutions in the audit log.
func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.audit = a }
}

// WithMetrics counts processed rows and commits.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the pipeline.
func NewService(store Store, dir Directory, cache Invalidator, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: store, directory: dir, cache: cache, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) authorize(actor shared.Identity, account conto.Account) error {
	if actor.UserID == uuid.Nil {
		return shared.ErrUnauthenticated
	}
	if !account.Valid() {
		return conto.ErrInvalidAccount
	}
	if !conto.CanIngest(actor.Role) {
		return conto.ErrForbidden
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Error("invalidate report cache", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit log write failed", slog.String("action", entry.Action), slog.Any("error", err))
	}
}

// effectiveDate is the first day of the competence month, or the upload day
// when month or year is missing.
func effectiveDate(month, year *int, uploaded time.Time) time.Time {
	if month != nil && year != nil {
		return time.Date(*year, time.Month(*month), 1, 0, 0, 0, 0, time.UTC)
	}
	y, m, d := uploaded.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
