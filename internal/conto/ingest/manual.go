package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/conto/dedup"
	"github.com/fiacom/gestionale/internal/conto/split"
	"github.com/fiacom/gestionale/internal/directory"
	"github.com/fiacom/gestionale/internal/shared"
)

// ManualRequest creates one commission event by hand.
type ManualRequest struct {
	BaseAmount    decimal.Decimal
	ManagerUserID uuid.UUID
	JobCenterID   *uuid.UUID
	CompanyID     *uuid.UUID
	Description   string
	Date          *time.Time
}

// ManualResult carries the rows written and the split they came from.
type ManualResult struct {
	ImportKey    string              `json:"importKey"`
	Split        split.Shares        `json:"split"`
	Transactions []conto.Transaction `json:"transactions"`
}

// CreateManual splits a base amount between house, manager and job center
// and writes one ledger entry per share.
func (s *Service) CreateManual(ctx context.Context, actor shared.Identity, account conto.Account, req ManualRequest) (*ManualResult, error) {
	if err := s.authorize(actor, account); err != nil {
		return nil, err
	}
	if !req.BaseAmount.IsPositive() {
		return nil, fmt.Errorf("%w: base amount must be positive", conto.ErrInvalidRequest)
	}
	snap, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest: load directory: %w", err)
	}
	manager, ok := snap.User(req.ManagerUserID)
	if !ok || !manager.IsActiveManager() {
		return nil, conto.ErrManagerNotFound
	}
	var center *directory.JobCenter
	if req.JobCenterID != nil {
		c, ok := snap.JobCenter(*req.JobCenterID)
		if !ok || !c.Active {
			return nil, conto.ErrJobCenterMissing
		}
		center = &c
	}
	var companyName string
	if req.CompanyID != nil {
		c, ok := snap.Company(*req.CompanyID)
		if !ok {
			return nil, fmt.Errorf("%w: unknown company", conto.ErrInvalidRequest)
		}
		companyName = c.Name
	}

	var centerPct *float64
	if center != nil {
		centerPct = center.CommissionPct
	}
	shares, err := split.Compute(req.BaseAmount, manager.ProfitSharePct, centerPct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", conto.ErrInvalidRequest, err)
	}

	now := s.now()
	date := effectiveDate(nil, nil, now)
	if req.Date != nil {
		date = effectiveDate(nil, nil, *req.Date)
	}
	key := dedup.ManualKey()
	txs := ledgerTransactions(ledgerInput{
		Account:     account,
		Actor:       actor.UserID,
		Shares:      shares,
		Manager:     manager,
		Center:      center,
		CompanyID:   req.CompanyID,
		CompanyName: companyName,
		Note:        req.Description,
		Source:      conto.SourceManual,
		ImportKey:   key,
		Date:        date,
		CreatedAt:   now,
	})
	written := make([]conto.Transaction, 0, len(txs))
	var errs []error
	for _, tx := range txs {
		if err := s.store.InsertTransaction(ctx, tx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tx.Category, err))
			continue
		}
		written = append(written, tx)
	}
	if len(written) > 0 {
		s.invalidate(ctx)
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("manual commission partially saved",
			slog.String("account", string(account)),
			slog.String("import_key", key),
			slog.Int("written", len(written)),
			slog.Any("error", err))
		return nil, fmt.Errorf("ingest: manual commission: %w", err)
	}
	s.logger.Info("manual commission created",
		slog.String("account", string(account)),
		slog.String("import_key", key),
		slog.String("base", shares.Base.StringFixed(2)),
		slog.String("manager_id", manager.ID.String()))
	return &ManualResult{ImportKey: key, Split: shares, Transactions: written}, nil
}

type ledgerInput struct {
	Account     conto.Account
	Actor       uuid.UUID
	Shares      split.Shares
	Manager     directory.User
	Center      *directory.JobCenter
	CompanyID   *uuid.UUID
	CompanyName string
	Note        string
	Source      conto.Source
	ImportKey   string
	Date        time.Time
	CreatedAt   time.Time
}

// ledgerTransactions builds the house, manager and, when a job center is
// present, center entries of one event. All carry the same key and base.
func ledgerTransactions(in ledgerInput) []conto.Transaction {
	base := in.Shares.Base
	row := func(category string, owner uuid.UUID, amount decimal.Decimal, label string) conto.Transaction {
		return conto.Transaction{
			ID:          uuid.New(),
			Account:     in.Account,
			Amount:      amount,
			RawAmount:   &base,
			Direction:   conto.DirectionIn,
			Status:      conto.StatusRecorded,
			Description: describe(label, in.CompanyName, in.Note),
			Category:    category,
			OwnerUserID: owner,
			CompanyID:   in.CompanyID,
			CompanyName: in.CompanyName,
			Source:      in.Source,
			ImportKey:   in.ImportKey,
			Date:        in.Date,
			CreatedAt:   in.CreatedAt,
		}
	}
	out := []conto.Transaction{
		row(conto.CategoryHouse, in.Actor, in.Shares.House, "Quota FIACOM"),
		row(conto.CategoryManager, in.Manager.ID, in.Shares.Manager, "Quota responsabile "+managerLabel(in.Manager)),
	}
	if in.Center != nil {
		owner := in.Actor
		if in.Center.UserID != nil {
			owner = *in.Center.UserID
		}
		out = append(out, row(conto.CategoryCenter, owner, in.Shares.Center, "Quota sportello "+in.Center.DisplayName()))
	}
	return out
}

func describe(label, company, note string) string {
	parts := []string{label}
	if company != "" {
		parts = append(parts, company)
	}
	if note = strings.TrimSpace(note); note != "" {
		parts = append(parts, note)
	}
	return strings.Join(parts, " - ")
}
