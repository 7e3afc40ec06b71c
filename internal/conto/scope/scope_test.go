package scope

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/directory"
	"github.com/fiacom/gestionale/internal/shared"
)

func idPtr(id uuid.UUID) *uuid.UUID { return &id }

type registry struct {
	mgrA, mgrB, inactive directory.User
	centerUser           uuid.UUID
	north, closed        directory.JobCenter
	x, y, z, w           directory.Company
	p, q, r              directory.Company
	snap                 *directory.Snapshot
}

func newRegistry() *registry {
	reg := &registry{}
	reg.mgrA = directory.User{ID: uuid.New(), Username: "mrossi", Name: "Mario Rossi", Organization: "Rossi S.r.l.", Role: shared.RoleTerritorialManager, Active: true}
	reg.mgrB = directory.User{ID: uuid.New(), Username: "lrossi", Name: "Rossi", Role: shared.RoleTerritorialManager, Active: true}
	reg.inactive = directory.User{ID: uuid.New(), Username: "old", Name: "Old Manager", Role: shared.RoleTerritorialManager, Active: false}
	reg.centerUser = uuid.New()
	reg.north = directory.JobCenter{ID: uuid.New(), Name: "Sportello Nord", UserID: idPtr(reg.centerUser), Active: true}
	reg.closed = directory.JobCenter{ID: uuid.New(), Name: "Sportello Chiuso", Active: false}

	reg.x = directory.Company{ID: uuid.New(), Name: "Alfa", ManagerName: "Rossi S.r.l.", Active: true}
	reg.y = directory.Company{ID: uuid.New(), Name: "Beta", ManagerName: "Rossi", Active: true}
	reg.z = directory.Company{ID: uuid.New(), Name: "Gamma", OwnerUserID: idPtr(reg.mgrB.ID), Active: true}
	reg.w = directory.Company{ID: uuid.New(), Name: "Delta", ManagerUserID: idPtr(reg.mgrA.ID), ManagerName: "Rossi", Active: true}
	reg.p = directory.Company{ID: uuid.New(), Name: "Epsilon", JobCenterID: idPtr(reg.north.ID), OwnerUserID: idPtr(reg.mgrA.ID), Active: true}
	reg.q = directory.Company{ID: uuid.New(), Name: "Zeta", ConsultantName: "sportello nord srl", OwnerUserID: idPtr(reg.mgrA.ID), Active: true}
	reg.r = directory.Company{ID: uuid.New(), Name: "Eta", ConsultantName: "Sportello Sud", OwnerUserID: idPtr(reg.mgrA.ID), Active: true}

	reg.snap = directory.NewSnapshot(
		[]directory.Company{reg.x, reg.y, reg.z, reg.w, reg.p, reg.q, reg.r},
		[]directory.User{reg.mgrA, reg.mgrB, reg.inactive},
		[]directory.JobCenter{reg.north, reg.closed},
	)
	return reg
}

func TestResolveManagerOrder(t *testing.T) {
	reg := newRegistry()

	u, res, err := ResolveManager(reg.snap, reg.w)
	require.NoError(t, err)
	assert.Equal(t, reg.mgrA.ID, u.ID)
	assert.Equal(t, MethodReference, res.Method)

	u, res, err = ResolveManager(reg.snap, reg.x)
	require.NoError(t, err)
	assert.Equal(t, reg.mgrA.ID, u.ID)
	assert.True(t, res.ByName())
	assert.Equal(t, TierLiteral, res.Tier)

	u, res, err = ResolveManager(reg.snap, reg.z)
	require.NoError(t, err)
	assert.Equal(t, reg.mgrB.ID, u.ID)
	assert.Equal(t, MethodOwner, res.Method)

	stale := directory.Company{ID: uuid.New(), Name: "Theta", ManagerUserID: idPtr(reg.inactive.ID), ManagerName: "Nessuno"}
	_, _, err = ResolveManager(reg.snap, stale)
	require.ErrorIs(t, err, conto.ErrManagerNotFound)
}

func TestResolveJobCenter(t *testing.T) {
	reg := newRegistry()

	c, res, err := ResolveJobCenter(reg.snap, reg.p)
	require.NoError(t, err)
	assert.Equal(t, reg.north.ID, c.ID)
	assert.Equal(t, MethodReference, res.Method)
	assert.False(t, res.Backfill)

	c, res, err = ResolveJobCenter(reg.snap, reg.q)
	require.NoError(t, err)
	assert.Equal(t, reg.north.ID, c.ID)
	assert.Equal(t, MethodName, res.Method)
	assert.True(t, res.Backfill)

	_, _, err = ResolveJobCenter(reg.snap, reg.r)
	require.ErrorIs(t, err, conto.ErrJobCenterMissing)

	closedLink := directory.Company{ID: uuid.New(), Name: "Iota", JobCenterID: idPtr(reg.closed.ID)}
	_, _, err = ResolveJobCenter(reg.snap, closedLink)
	require.ErrorIs(t, err, conto.ErrJobCenterMissing)

	c, _, err = ResolveJobCenter(reg.snap, reg.x)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestResolveCompany(t *testing.T) {
	one := directory.Company{ID: uuid.New(), Name: "Rossi S.r.l.", RegistrationNumbers: []string{"12-345678"}, Active: true}
	two := directory.Company{ID: uuid.New(), Name: "ROSSI S.R.L.", RegistrationNumbers: []string{"99887766"}, Active: true}
	gone := directory.Company{ID: uuid.New(), Name: "Chiusa", Active: false}
	snap := directory.NewSnapshot([]directory.Company{one, two, gone}, nil, nil)

	c, err := ResolveCompany(snap, "12345678", "")
	require.NoError(t, err)
	assert.Equal(t, one.ID, c.ID)

	c, err = ResolveCompany(snap, "998877", "whatever")
	require.NoError(t, err)
	assert.Equal(t, two.ID, c.ID)

	_, err = ResolveCompany(snap, "", "rossi s.r.l.")
	require.ErrorIs(t, err, ErrCompanyAmbiguous)

	_, err = ResolveCompany(snap, "00000000", "Rossi S.r.l.")
	require.ErrorIs(t, err, ErrCompanyAmbiguous)

	_, err = ResolveCompany(snap, "", "Chiusa")
	require.ErrorIs(t, err, ErrCompanyNotFound)
}

func TestScopeNeverLeaksOtherManagersCompanies(t *testing.T) {
	reg := newRegistry()

	b := For(reg.snap, shared.Identity{UserID: reg.mgrB.ID, Role: shared.RoleTerritorialManager}, conto.AccountProselitismo)
	assert.False(t, b.Global)
	assert.ElementsMatch(t, []uuid.UUID{reg.y.ID, reg.z.ID}, b.CompanyIDs)
	assert.False(t, b.Allows(idPtr(reg.x.ID), uuid.New()))
	assert.True(t, b.Allows(nil, reg.mgrB.ID))

	a := For(reg.snap, shared.Identity{UserID: reg.mgrA.ID, Role: shared.RoleTerritorialManager}, conto.AccountProselitismo)
	assert.ElementsMatch(t, []uuid.UUID{reg.x.ID, reg.w.ID, reg.p.ID, reg.q.ID, reg.r.ID}, a.CompanyIDs)

	servizi := For(reg.snap, shared.Identity{UserID: reg.mgrB.ID, Role: shared.RoleTerritorialManager}, conto.AccountServizi)
	assert.Empty(t, servizi.CompanyIDs)
}

func TestScopeJobCenterAndOthers(t *testing.T) {
	reg := newRegistry()

	sc := For(reg.snap, shared.Identity{UserID: reg.centerUser, Role: shared.RoleJobCenter}, conto.AccountServizi)
	assert.ElementsMatch(t, []uuid.UUID{reg.p.ID, reg.q.ID}, sc.CompanyIDs)

	agent := uuid.New()
	sc = For(reg.snap, shared.Identity{UserID: agent, Role: shared.RoleAgent}, conto.AccountProselitismo)
	assert.Empty(t, sc.CompanyIDs)
	assert.True(t, sc.Allows(nil, agent))
	assert.False(t, sc.Allows(idPtr(reg.x.ID), uuid.New()))

	admin := For(reg.snap, shared.Identity{UserID: uuid.New(), Role: shared.RoleSuperAdmin}, conto.AccountServizi)
	assert.True(t, admin.Global)
	assert.Equal(t, "global", admin.CacheKey())
}

type countingSource struct {
	snap  *directory.Snapshot
	err   error
	calls int
}

func (s *countingSource) Snapshot(context.Context) (*directory.Snapshot, error) {
	s.calls++
	return s.snap, s.err
}

func TestResolverLoadsRegistryOnlyWhenNeeded(t *testing.T) {
	reg := newRegistry()
	src := &countingSource{snap: reg.snap}
	r := NewResolver(src)

	_, err := r.Resolve(context.Background(), shared.Identity{UserID: uuid.New(), Role: shared.RoleAdmin}, conto.AccountProselitismo)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), shared.Identity{UserID: uuid.New(), Role: shared.RoleEmployee}, conto.AccountProselitismo)
	require.NoError(t, err)
	assert.Zero(t, src.calls)

	sc, err := r.Resolve(context.Background(), shared.Identity{UserID: reg.mgrB.ID, Role: shared.RoleTerritorialManager}, conto.AccountProselitismo)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Len(t, sc.CompanyIDs, 2)

	src.err = errors.New("db down")
	_, err = r.Resolve(context.Background(), shared.Identity{UserID: reg.centerUser, Role: shared.RoleJobCenter}, conto.AccountServizi)
	require.Error(t, err)
}
