package scope

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/directory"
	"github.com/fiacom/gestionale/internal/shared"
)

// Scope is the visibility predicate of one caller on one account.
// A row is visible when Global is set, when its company is in CompanyIDs or
// when the caller owns it.
type Scope struct {
	Global      bool        `json:"global"`
	CompanyIDs  []uuid.UUID `json:"companyIds,omitempty"`
	OwnerUserID uuid.UUID   `json:"ownerUserId"`
}

// Allows evaluates the predicate in memory.
func (s Scope) Allows(companyID *uuid.UUID, owner uuid.UUID) bool {
	if s.Global || owner == s.OwnerUserID {
		return true
	}
	if companyID == nil {
		return false
	}
	for _, id := range s.CompanyIDs {
		if id == *companyID {
			return true
		}
	}
	return false
}

// CacheKey identifies the scope inside cache keys.
func (s Scope) CacheKey() string {
	if s.Global {
		return "global"
	}
	return s.OwnerUserID.String()
}

// For computes the scope of identity on account against a registry snapshot.
func For(snap *directory.Snapshot, id shared.Identity, account conto.Account) Scope {
	if id.Role.IsAdmin() {
		return Scope{Global: true, OwnerUserID: id.UserID}
	}
	sc := Scope{OwnerUserID: id.UserID}
	switch id.Role {
	case shared.RoleTerritorialManager:
		if account != conto.AccountProselitismo {
			return sc
		}
		for _, c := range snap.Companies() {
			u, _, err := ResolveManager(snap, c)
			if err == nil && u.ID == id.UserID {
				sc.CompanyIDs = append(sc.CompanyIDs, c.ID)
			}
		}
	case shared.RoleJobCenter:
		own := map[uuid.UUID]struct{}{}
		for _, c := range snap.JobCentersOfUser(id.UserID) {
			own[c.ID] = struct{}{}
		}
		if len(own) == 0 {
			return sc
		}
		for _, c := range snap.Companies() {
			center, _, err := ResolveJobCenter(snap, c)
			if err != nil || center == nil {
				continue
			}
			if _, ok := own[center.ID]; ok {
				sc.CompanyIDs = append(sc.CompanyIDs, c.ID)
			}
		}
	}
	return sc
}

// SnapshotSource loads the registry.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*directory.Snapshot, error)
}

// Resolver maps callers to scopes.
type Resolver struct {
	source SnapshotSource
}

// NewResolver builds a Resolver.
func NewResolver(source SnapshotSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve computes the scope of id on account. Admins never touch the registry.
func (r *Resolver) Resolve(ctx context.Context, id shared.Identity, account conto.Account) (Scope, error) {
	if id.Role.IsAdmin() {
		return Scope{Global: true, OwnerUserID: id.UserID}, nil
	}
	if id.Role != shared.RoleTerritorialManager && id.Role != shared.RoleJobCenter {
		return Scope{OwnerUserID: id.UserID}, nil
	}
	snap, err := r.source.Snapshot(ctx)
	if err != nil {
		return Scope{}, fmt.Errorf("scope: load directory: %w", err)
	}
	return For(snap, id, account), nil
}
