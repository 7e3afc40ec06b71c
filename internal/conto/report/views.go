package report

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/conto/scope"
	"github.com/fiacom/gestionale/internal/conto/split"
	"github.com/fiacom/gestionale/internal/conto/store"
	"github.com/fiacom/gestionale/internal/directory"
	"github.com/fiacom/gestionale/internal/shared"
)

// Summary is the totals view of one account.
type Summary struct {
	Account           conto.Account    `json:"account"`
	Incoming          decimal.Decimal  `json:"incoming"`
	Outgoing          decimal.Decimal  `json:"outgoing"`
	Balance           decimal.Decimal  `json:"balance"`
	Reconciled        decimal.Decimal  `json:"reconciled"`
	Unreconciled      decimal.Decimal  `json:"unreconciled"`
	TransactionCount  int              `json:"transactionCount"`
	UnreconciledCount int              `json:"unreconciledCount"`
	Reference         *ReferenceTotals `json:"reference,omitempty"`
}

// ReferenceTotals re-derive the split of every economic event from the
// percentages in force at read time.
type ReferenceTotals struct {
	Events  int             `json:"events"`
	Base    decimal.Decimal `json:"base"`
	House   decimal.Decimal `json:"house"`
	Manager decimal.Decimal `json:"manager"`
	Center  decimal.Decimal `json:"center"`
}

// PartyTotal is the share owed to one manager or job center.
type PartyTotal struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Percentage float64         `json:"percentage"`
	Events     int             `json:"events"`
	Base       decimal.Decimal `json:"base"`
	Share      decimal.Decimal `json:"share"`
}

// Breakdown buckets the re-derived totals by party.
type Breakdown struct {
	Account    conto.Account   `json:"account"`
	Totals     ReferenceTotals `json:"totals"`
	Managers   []PartyTotal    `json:"managers"`
	JobCenters []PartyTotal    `json:"jobCenters"`
}

func (s *Service) computeSummary(ctx context.Context, id shared.Identity, q Query) (Summary, error) {
	f, err := s.filter(ctx, id, q)
	if err != nil {
		return Summary{}, err
	}
	totals, err := s.store.Totals(ctx, f)
	if err != nil {
		return Summary{}, fmt.Errorf("report: totals: %w", err)
	}
	out := Summary{
		Account:           q.Account,
		Incoming:          totals.Incoming,
		Outgoing:          totals.Outgoing,
		Balance:           totals.Incoming.Sub(totals.Outgoing),
		Reconciled:        totals.Incoming,
		Unreconciled:      totals.Unreconciled,
		TransactionCount:  totals.TransactionCount,
		UnreconciledCount: totals.UnreconciledCount,
	}
	if q.Account != conto.AccountProselitismo {
		return out, nil
	}
	events, snap, err := s.events(ctx, f)
	if err != nil {
		return Summary{}, err
	}
	ref := ReferenceTotals{}
	for _, ev := range events {
		ev.derive(snap)
		ref.add(ev)
	}
	out.Reference = &ref
	return out, nil
}

func (s *Service) computeBreakdown(ctx context.Context, id shared.Identity, q Query) (Breakdown, error) {
	f, err := s.filter(ctx, id, q)
	if err != nil {
		return Breakdown{}, err
	}
	events, snap, err := s.events(ctx, f)
	if err != nil {
		return Breakdown{}, err
	}
	out := Breakdown{Account: q.Account, Managers: []PartyTotal{}, JobCenters: []PartyTotal{}}
	managers := map[uuid.UUID]*PartyTotal{}
	centers := map[string]*PartyTotal{}
	var managerOrder []uuid.UUID
	var centerOrder []string
	for _, ev := range events {
		ev.derive(snap)
		out.Totals.add(ev)
		if ev.manager != nil {
			p, ok := managers[ev.manager.ID]
			if !ok {
				p = &PartyTotal{ID: ev.manager.ID.String(), Name: managerLabel(*ev.manager), Percentage: ev.shares.ManagerPct}
				managers[ev.manager.ID] = p
				managerOrder = append(managerOrder, ev.manager.ID)
			}
			p.Events++
			p.Base = p.Base.Add(ev.base)
			p.Share = p.Share.Add(ev.shares.Manager)
		}
		if ev.center != nil {
			key := scope.CenterNameKey(*ev.center)
			p, ok := centers[key]
			if !ok {
				p = &PartyTotal{ID: ev.center.ID.String(), Name: ev.center.DisplayName(), Percentage: ev.shares.CenterPct}
				centers[key] = p
				centerOrder = append(centerOrder, key)
			}
			p.Events++
			p.Base = p.Base.Add(ev.base)
			p.Share = p.Share.Add(ev.shares.Center)
		}
	}
	for _, id := range managerOrder {
		out.Managers = append(out.Managers, *managers[id])
	}
	for _, key := range centerOrder {
		out.JobCenters = append(out.JobCenters, *centers[key])
	}
	sortParties(out.Managers)
	sortParties(out.JobCenters)
	return out, nil
}

func managerLabel(u directory.User) string {
	if u.Name != "" {
		return u.Name
	}
	if u.Organization != "" {
		return u.Organization
	}
	return u.Username
}

// event is one economic event rebuilt from the ledger rows sharing an
// import key.
type event struct {
	key          string
	base         decimal.Decimal
	companyID    *uuid.UUID
	managerOwner *uuid.UUID
	centerOwner  *uuid.UUID

	manager *directory.User
	center  *directory.JobCenter
	shares  split.Shares
}

func (s *Service) events(ctx context.Context, f store.Filter) ([]*event, *directory.Snapshot, error) {
	rows, err := s.store.EventRows(ctx, f)
	if err != nil {
		return nil, nil, fmt.Errorf("report: event rows: %w", err)
	}
	snap, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("report: load directory: %w", err)
	}
	return groupEvents(rows), snap, nil
}

// groupEvents collapses the house, manager and center rows of one import
// key back into a single event carrying the original base amount.
func groupEvents(rows []conto.Transaction) []*event {
	byKey := map[string]*event{}
	var order []*event
	for _, row := range rows {
		ev, ok := byKey[row.ImportKey]
		if !ok {
			ev = &event{key: row.ImportKey}
			byKey[row.ImportKey] = ev
			order = append(order, ev)
		}
		if ev.base.IsZero() {
			switch {
			case row.RawAmount != nil:
				ev.base = *row.RawAmount
			case row.Category == conto.CategoryHouse:
				ev.base = row.Amount.Div(split.HouseRatio)
			}
		}
		if ev.companyID == nil && row.CompanyID != nil {
			cid := *row.CompanyID
			ev.companyID = &cid
		}
		owner := row.OwnerUserID
		switch row.Category {
		case conto.CategoryManager:
			ev.managerOwner = &owner
		case conto.CategoryCenter:
			ev.centerOwner = &owner
		}
	}
	out := order[:0]
	for _, ev := range order {
		if ev.base.IsPositive() {
			out = append(out, ev)
		}
	}
	return out
}

// derive resolves the parties of the event and splits its base with their
// current percentages.
func (ev *event) derive(snap *directory.Snapshot) {
	var company *directory.Company
	if ev.companyID != nil {
		if c, ok := snap.Company(*ev.companyID); ok {
			company = &c
		}
	}

	if ev.managerOwner != nil {
		if u, ok := snap.User(*ev.managerOwner); ok {
			ev.manager = &u
		}
	}
	if ev.manager == nil && company != nil {
		if u, _, err := scope.ResolveManager(snap, *company); err == nil {
			ev.manager = &u
		}
	}

	var resolved *directory.JobCenter
	if company != nil {
		if c, _, err := scope.ResolveJobCenter(snap, *company); err == nil {
			resolved = c
		}
	}
	if ev.centerOwner != nil {
		if resolved != nil && resolved.UserID != nil && *resolved.UserID == *ev.centerOwner {
			ev.center = resolved
		} else if owned := snap.JobCentersOfUser(*ev.centerOwner); len(owned) > 0 {
			c := owned[0]
			ev.center = &c
		}
	}
	if ev.center == nil {
		ev.center = resolved
	}

	var pm, ps *float64
	if ev.manager != nil {
		pm = ev.manager.ProfitSharePct
	}
	if ev.center != nil {
		ps = ev.center.CommissionPct
	}
	shares, err := split.Compute(ev.base, pm, ps)
	if err == nil {
		ev.shares = shares
	}
}

func (r *ReferenceTotals) add(ev *event) {
	r.Events++
	r.Base = r.Base.Add(ev.base)
	r.House = r.House.Add(ev.shares.House)
	r.Manager = r.Manager.Add(ev.shares.Manager)
	r.Center = r.Center.Add(ev.shares.Center)
}
