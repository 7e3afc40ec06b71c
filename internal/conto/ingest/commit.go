package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/conto/scope"
	"github.com/fiacom/gestionale/internal/conto/store"
	"github.com/fiacom/gestionale/internal/directory"
	"github.com/fiacom/gestionale/internal/shared"
)

// CommitResult reports what an upload wrote, or why it stopped.
type CommitResult struct {
	RequiresConfirmation bool                `json:"requiresConfirmation"`
	AlreadyImported      bool                `json:"alreadyImported"`
	PreviousImport       *conto.ImportRecord `json:"previousImport,omitempty"`
	Import               *conto.ImportRecord `json:"import,omitempty"`
	TotalRows            int                 `json:"totalRows"`
	CreatedTransactions  int                 `json:"createdTransactions"`
	CreatedUnreconciled  int                 `json:"createdUnreconciled"`
	SkippedDuplicates    int                 `json:"skippedDuplicates"`
	Duplicates           []Row               `json:"duplicates"`
	Errors               []conto.RowError    `json:"errors"`
}

// Commit persists an upload. Without ConfirmDuplicates, an upload carrying
// rows already persisted or a file already imported stops before any write
// and returns RequiresConfirmation.
func (s *Service) Commit(ctx context.Context, up Upload) (*CommitResult, error) {
	if err := s.authorize(up.Actor, up.Account); err != nil {
		return nil, err
	}
	p, snap, err := s.analyze(ctx, up)
	if err != nil {
		return nil, err
	}
	res := &CommitResult{
		AlreadyImported: p.AlreadyImported,
		PreviousImport:  p.PreviousImport,
		TotalRows:       p.TotalRows,
		Duplicates:      p.Duplicates(),
		Errors:          p.Errors,
	}
	if res.Duplicates == nil {
		res.Duplicates = []Row{}
	}
	account := string(up.Account)
	if (len(res.Duplicates) > 0 || p.AlreadyImported) && !up.ConfirmDuplicates {
		res.RequiresConfirmation = true
		s.metrics.ObserveImport(account, "awaiting_confirmation")
		return res, nil
	}

	now := s.now()
	rec := conto.ImportRecord{
		ID:         uuid.New(),
		Account:    up.Account,
		FileHash:   p.FileHash,
		UploadedBy: up.Actor.UserID,
		FileName:   up.FileName,
		RowCount:   p.TotalRows,
		UploadedAt: now,
	}
	switch err := s.store.InsertImport(ctx, rec); {
	case err == nil:
		res.Import = &rec
	case errors.Is(err, conto.ErrAlreadyImported):
		prev, findErr := s.store.FindImport(ctx, up.Account, p.FileHash)
		if findErr != nil {
			return nil, fmt.Errorf("ingest: load concurrent import: %w", findErr)
		}
		res.AlreadyImported = true
		res.PreviousImport = &prev
		if !up.ConfirmDuplicates {
			res.RequiresConfirmation = true
			s.metrics.ObserveImport(account, "awaiting_confirmation")
			return res, nil
		}
		rec = prev
	default:
		return nil, err
	}
	res.SkippedDuplicates = len(res.Duplicates)

	linked := map[uuid.UUID]bool{}
	persisted := 0
	for i := range p.Rows {
		row := &p.Rows[i]
		if row.Status != RowOK {
			continue
		}
		s.backfill(ctx, snap, up, row, linked)
		created, unrec, err := s.persistRow(ctx, up, rec, row, now)
		res.CreatedTransactions += created
		res.CreatedUnreconciled += unrec
		switch {
		case errors.Is(err, store.ErrDuplicateKey):
			row.Status = RowDuplicate
			res.SkippedDuplicates++
			res.Duplicates = append(res.Duplicates, *row)
		case err != nil:
			s.logger.Error("persist conto row",
				slog.String("account", account),
				slog.Int("row", row.Row),
				slog.Any("error", err))
			row.fail("", conto.CodePersistence, "row could not be saved")
			res.Errors = append(res.Errors, *row.Error)
		default:
			persisted++
			s.auditResolution(ctx, up, row)
		}
	}

	if res.CreatedTransactions > 0 || res.CreatedUnreconciled > 0 {
		s.invalidate(ctx)
	}
	s.metrics.ObserveImport(account, "committed")
	s.metrics.ObserveRows(account, "created", persisted)
	s.metrics.ObserveRows(account, "duplicate", res.SkippedDuplicates)
	s.metrics.ObserveRows(account, "error", len(res.Errors))
	s.logger.Info("conto upload committed",
		slog.String("account", account),
		slog.String("file", up.FileName),
		slog.String("import_id", rec.ID.String()),
		slog.Int("transactions", res.CreatedTransactions),
		slog.Int("unreconciled", res.CreatedUnreconciled),
		slog.Int("duplicates", res.SkippedDuplicates),
		slog.Int("errors", len(res.Errors)),
	)
	return res, nil
}

// persistRow writes the ledger and unreconciled entries of one row. Writes
// are independent; a failure stops the remaining writes of the row only.
func (s *Service) persistRow(ctx context.Context, up Upload, rec conto.ImportRecord, row *Row, now time.Time) (int, int, error) {
	importID := rec.ID
	date := effectiveDate(row.Record.Month, row.Record.Year, now)
	created := 0
	if row.Split != nil {
		txs := ledgerTransactions(ledgerInput{
			Account:     up.Account,
			Actor:       up.Actor.UserID,
			Shares:      *row.Split,
			Manager:     row.manager,
			Center:      row.center,
			CompanyID:   row.CompanyID,
			CompanyName: row.CompanyName,
			Note:        periodLabel(row.Record.Month, row.Record.Year),
			Source:      conto.SourceXLSX,
			ImportKey:   row.ImportKey,
			Date:        date,
			CreatedAt:   now,
		})
		for _, tx := range txs {
			tx.ImportID = &importID
			if err := s.store.InsertTransaction(ctx, tx); err != nil {
				return created, 0, err
			}
			created++
		}
	}
	if row.Unreconciled != nil {
		entry := conto.UnreconciledEntry{
			ID:                 uuid.New(),
			Account:            up.Account,
			Amount:             *row.Unreconciled,
			Status:             conto.StatusUnreconciled,
			OwnerUserID:        row.Manager.ID,
			CompanyID:          row.CompanyID,
			CompanyName:        row.CompanyName,
			RegistrationNumber: row.Record.RegistrationNumber,
			Month:              row.Record.Month,
			Year:               row.Record.Year,
			Source:             conto.SourceXLSX,
			ImportKey:          row.ImportKey,
			ImportID:           &importID,
			Date:               date,
			CreatedAt:          now,
		}
		if err := s.store.InsertUnreconciled(ctx, entry); err != nil {
			return created, 0, err
		}
		return created, 1, nil
	}
	return created, 0, nil
}

// backfill stores a job center found by name on the company, once per
// company and upload.
func (s *Service) backfill(ctx context.Context, snap *directory.Snapshot, up Upload, row *Row, linked map[uuid.UUID]bool) {
	if row.JobCenter == nil || !row.JobCenter.Resolution.Backfill || linked[row.company.ID] {
		return
	}
	linked[row.company.ID] = true
	consultant := row.JobCenter.Name
	if err := s.directory.LinkJobCenter(ctx, row.company.ID, row.JobCenter.ID, consultant); err != nil {
		s.logger.Warn("job center backfill failed",
			slog.String("company_id", row.company.ID.String()),
			slog.Any("error", err))
		return
	}
	snap.SetCompanyJobCenter(row.company.ID, row.JobCenter.ID, consultant)
	s.logger.Info("job center linked to company",
		slog.String("company", row.company.Name),
		slog.String("job_center", row.JobCenter.Name),
		slog.String("tier", string(row.JobCenter.Resolution.Tier)))
	s.record(ctx, shared.AuditLog{
		ActorID:  up.Actor.UserID,
		Action:   "conto.job_center_backfill",
		Entity:   "company",
		EntityID: row.company.ID.String(),
		Meta: map[string]any{
			"job_center_id":   row.JobCenter.ID.String(),
			"previous_link":   uuidString(row.company.JobCenterID),
			"consultant_name": row.company.ConsultantName,
		},
	})
}

// auditResolution records every party resolved by free-text name.
func (s *Service) auditResolution(ctx context.Context, up Upload, row *Row) {
	for _, party := range []struct {
		kind string
		p    *Party
	}{{"manager", row.Manager}, {"job_center", row.JobCenter}} {
		if party.p == nil || party.p.Resolution.Method != scope.MethodName {
			continue
		}
		s.logger.Info("party resolved by name",
			slog.String("account", string(up.Account)),
			slog.Int("row", row.Row),
			slog.String("company", row.CompanyName),
			slog.String("party", party.kind),
			slog.String("matched", party.p.Name),
			slog.String("tier", string(party.p.Resolution.Tier)))
		s.record(ctx, shared.AuditLog{
			ActorID:  up.Actor.UserID,
			Action:   "conto.resolve_by_name",
			Entity:   "company",
			EntityID: row.CompanyID.String(),
			Meta: map[string]any{
				"account":    string(up.Account),
				"row":        row.Row,
				"party":      party.kind,
				"party_id":   party.p.ID.String(),
				"party_name": party.p.Name,
				"tier":       string(party.p.Resolution.Tier),
				"import_key": row.ImportKey,
			},
		})
	}
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func periodLabel(month, year *int) string {
	if month == nil || year == nil {
		return ""
	}
	return fmt.Sprintf("%02d/%d", *month, *year)
}
