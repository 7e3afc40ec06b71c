// Package report computes the role-scoped summary and breakdown views of a
// ledger and serves them through a short-lived cache.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/conto/scope"
	"github.com/fiacom/gestionale/internal/conto/store"
	"github.com/fiacom/gestionale/internal/observability"
	"github.com/fiacom/gestionale/internal/shared"
)

// Query holds the caller supplied parameters of a read.
type Query struct {
	Account conto.Account
	From    *time.Time
	To      *time.Time
	Search  string
}

func (q Query) key() string {
	return strings.Join([]string{string(q.Account), formatDate(q.From), formatDate(q.To), strings.TrimSpace(q.Search)}, "|")
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// Service serves the read side of the engine.
type Service struct {
	store      store.Repository
	directory  scope.SnapshotSource
	scopes     *scope.Resolver
	summaries  Cache
	breakdowns Cache
	metrics    *observability.Metrics
	logger     *slog.Logger
	group      singleflight.Group
}

// NewService wires the read path. Nil caches disable caching.
func NewService(repo store.Repository, directory scope.SnapshotSource, summaries, breakdowns Cache, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if summaries == nil {
		summaries = NopCache{}
	}
	if breakdowns == nil {
		breakdowns = NopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      repo,
		directory:  directory,
		scopes:     scope.NewResolver(directory),
		summaries:  summaries,
		breakdowns: breakdowns,
		metrics:    metrics,
		logger:     logger,
	}
}

// Invalidate clears both caches. Any write can change totals of any scope.
func (s *Service) Invalidate(ctx context.Context) error {
	errSummary := s.summaries.Clear(ctx)
	errBreakdown := s.breakdowns.Clear(ctx)
	if errSummary != nil {
		return fmt.Errorf("report: clear summary cache: %w", errSummary)
	}
	if errBreakdown != nil {
		return fmt.Errorf("report: clear breakdown cache: %w", errBreakdown)
	}
	return nil
}

// SummaryJSON returns the cached summary payload of id for q.
func (s *Service) SummaryJSON(ctx context.Context, id shared.Identity, q Query) ([]byte, error) {
	return s.cached(ctx, "summary", s.summaries, id, q, func(ctx context.Context) (any, error) {
		return s.computeSummary(ctx, id, q)
	})
}

// BreakdownJSON returns the cached breakdown payload of id for q.
func (s *Service) BreakdownJSON(ctx context.Context, id shared.Identity, q Query) ([]byte, error) {
	return s.cached(ctx, "breakdown", s.breakdowns, id, q, func(ctx context.Context) (any, error) {
		return s.computeBreakdown(ctx, id, q)
	})
}

// Summary decodes SummaryJSON.
func (s *Service) Summary(ctx context.Context, id shared.Identity, q Query) (Summary, error) {
	var out Summary
	raw, err := s.SummaryJSON(ctx, id, q)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

// Breakdown decodes BreakdownJSON.
func (s *Service) Breakdown(ctx context.Context, id shared.Identity, q Query) (Breakdown, error) {
	var out Breakdown
	raw, err := s.BreakdownJSON(ctx, id, q)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

func (s *Service) cached(ctx context.Context, view string, cache Cache, id shared.Identity, q Query, build func(context.Context) (any, error)) ([]byte, error) {
	if !q.Account.Valid() {
		return nil, conto.ErrInvalidAccount
	}
	key := strings.Join([]string{view, id.UserID.String(), string(id.Role), q.key()}, ":")
	gen, err := cache.Generation(ctx)
	if err != nil {
		s.logger.Warn("report cache generation failed", slog.String("view", view), slog.Any("error", err))
		s.metrics.ObserveCache(view, false)
		value, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	}
	payload, ok, err := cache.Get(ctx, gen, key)
	if err != nil {
		s.logger.Warn("report cache read failed", slog.String("view", view), slog.Any("error", err))
	}
	if ok {
		s.metrics.ObserveCache(view, true)
		return payload, nil
	}
	s.metrics.ObserveCache(view, false)

	// Callers of a later generation never join a build started before a Clear.
	flightKey := strconv.FormatInt(gen, 10) + ":" + key
	buildCtx := context.WithoutCancel(ctx)
	res := s.group.DoChan(flightKey, func() (any, error) {
		value, err := build(buildCtx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := cache.Set(buildCtx, gen, key, raw); err != nil {
			s.logger.Warn("report cache write failed", slog.String("view", view), slog.Any("error", err))
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-res:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]byte), nil
	}
}

func (s *Service) filter(ctx context.Context, id shared.Identity, q Query) (store.Filter, error) {
	sc, err := s.scopes.Resolve(ctx, id, q.Account)
	if err != nil {
		return store.Filter{}, err
	}
	return store.Filter{Account: q.Account, Scope: sc, From: q.From, To: q.To, Query: q.Search}, nil
}

// TransactionPage is one page of ledger entries.
type TransactionPage struct {
	Items      []conto.Transaction `json:"items"`
	Pagination shared.Pagination   `json:"pagination"`
}

// UnreconciledPage is one page of unreconciled entries.
type UnreconciledPage struct {
	Items      []conto.UnreconciledEntry `json:"items"`
	Pagination shared.Pagination         `json:"pagination"`
}

// ImportPage is one page of import records.
type ImportPage struct {
	Items      []conto.ImportRecord `json:"items"`
	Pagination shared.Pagination    `json:"pagination"`
}

// ListTransactions returns the visible ledger entries, newest first.
func (s *Service) ListTransactions(ctx context.Context, id shared.Identity, q Query, page, perPage int) (TransactionPage, error) {
	f, err := s.filter(ctx, id, q)
	if err != nil {
		return TransactionPage{}, err
	}
	p := shared.NewPagination(page, perPage, 0)
	items, total, err := s.store.ListTransactions(ctx, f, p.PerPage, p.Offset())
	if err != nil {
		return TransactionPage{}, err
	}
	if items == nil {
		items = []conto.Transaction{}
	}
	return TransactionPage{Items: items, Pagination: shared.NewPagination(p.Page, p.PerPage, total)}, nil
}

// ListUnreconciled returns the visible unreconciled entries, newest first.
func (s *Service) ListUnreconciled(ctx context.Context, id shared.Identity, q Query, page, perPage int) (UnreconciledPage, error) {
	f, err := s.filter(ctx, id, q)
	if err != nil {
		return UnreconciledPage{}, err
	}
	p := shared.NewPagination(page, perPage, 0)
	items, total, err := s.store.ListUnreconciled(ctx, f, p.PerPage, p.Offset())
	if err != nil {
		return UnreconciledPage{}, err
	}
	if items == nil {
		items = []conto.UnreconciledEntry{}
	}
	return UnreconciledPage{Items: items, Pagination: shared.NewPagination(p.Page, p.PerPage, total)}, nil
}

// ListImports returns import records: all of them for admins, the caller's
// own uploads otherwise.
func (s *Service) ListImports(ctx context.Context, id shared.Identity, account conto.Account, page, perPage int) (ImportPage, error) {
	if !account.Valid() {
		return ImportPage{}, conto.ErrInvalidAccount
	}
	var uploadedBy *uuid.UUID
	if !id.Role.IsAdmin() {
		uid := id.UserID
		uploadedBy = &uid
	}
	p := shared.NewPagination(page, perPage, 0)
	items, total, err := s.store.ListImports(ctx, account, uploadedBy, p.PerPage, p.Offset())
	if err != nil {
		return ImportPage{}, err
	}
	if items == nil {
		items = []conto.ImportRecord{}
	}
	return ImportPage{Items: items, Pagination: shared.NewPagination(p.Page, p.PerPage, total)}, nil
}

// sortParties orders by share, then name.
func sortParties(parties []PartyTotal) {
	sort.SliceStable(parties, func(i, j int) bool {
		if !parties[i].Share.Equal(parties[j].Share) {
			return parties[i].Share.GreaterThan(parties[j].Share)
		}
		return parties[i].Name < parties[j].Name
	})
}
