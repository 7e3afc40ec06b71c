package report

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/conto/store"
	"github.com/fiacom/gestionale/internal/directory"
	"github.com/fiacom/gestionale/internal/observability"
	"github.com/fiacom/gestionale/internal/shared"
)

func pct(v float64) *float64        { return &v }
func idPtr(id uuid.UUID) *uuid.UUID { return &id }

type fakeDirectory struct {
	mu       sync.Mutex
	snap     *directory.Snapshot
	requests int
}

func (d *fakeDirectory) Snapshot(context.Context) (*directory.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests++
	return d.snap, nil
}

func (d *fakeDirectory) set(s *directory.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap = s
}

type fixture struct {
	admin, manager, rival, centerUser directory.User
	north, northAgain                 directory.JobCenter
	alfa, beta                        directory.Company
	dir                               *fakeDirectory
	repo                              *store.Memory
}

func newFixture(managerPct float64) *fixture {
	f := &fixture{repo: store.NewMemory(), dir: &fakeDirectory{}}
	f.admin = directory.User{ID: uuid.New(), Name: "Admin", Role: shared.RoleAdmin, Active: true}
	f.manager = directory.User{ID: uuid.New(), Name: "Mario Rossi", Role: shared.RoleTerritorialManager, Active: true, ProfitSharePct: pct(managerPct)}
	f.rival = directory.User{ID: uuid.New(), Name: "Rossi", Role: shared.RoleTerritorialManager, Active: true, ProfitSharePct: pct(50)}
	f.centerUser = directory.User{ID: uuid.New(), Name: "Sportello", Role: shared.RoleJobCenter, Active: true}
	f.north = directory.JobCenter{ID: uuid.New(), Name: "Sportello Nord", UserID: idPtr(f.centerUser.ID), CommissionPct: pct(5), Active: true}
	f.northAgain = directory.JobCenter{ID: uuid.New(), Name: "SPORTELLO  NORD", CommissionPct: pct(5), Active: true}
	f.alfa = directory.Company{ID: uuid.New(), Name: "Alfa", ManagerUserID: idPtr(f.manager.ID), JobCenterID: idPtr(f.north.ID), Active: true}
	f.beta = directory.Company{ID: uuid.New(), Name: "Beta", ManagerUserID: idPtr(f.manager.ID), JobCenterID: idPtr(f.northAgain.ID), Active: true}
	f.refresh()
	return f
}

func (f *fixture) refresh() {
	f.dir.set(directory.NewSnapshot(
		[]directory.Company{f.alfa, f.beta},
		[]directory.User{f.admin, f.manager, f.rival, f.centerUser},
		[]directory.JobCenter{f.north, f.northAgain},
	))
}

// event writes the three rows of one economic event.
func (f *fixture) event(t *testing.T, key string, company directory.Company, base int64, centerOwner *uuid.UUID) {
	t.Helper()
	raw := decimal.NewFromInt(base)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	row := func(category string, owner uuid.UUID, amount decimal.Decimal) conto.Transaction {
		return conto.Transaction{
			ID: uuid.New(), Account: conto.AccountProselitismo, Amount: amount, RawAmount: &raw,
			Direction: conto.DirectionIn, Status: conto.StatusRecorded, Category: category,
			OwnerUserID: owner, CompanyID: idPtr(company.ID), CompanyName: company.Name,
			Source: conto.SourceXLSX, ImportKey: key, Date: date, CreatedAt: date,
		}
	}
	ctx := context.Background()
	require.NoError(t, f.repo.InsertTransaction(ctx, row(conto.CategoryHouse, f.admin.ID, raw.Mul(decimal.RequireFromString("0.8")))))
	require.NoError(t, f.repo.InsertTransaction(ctx, row(conto.CategoryManager, f.manager.ID, raw.Div(decimal.NewFromInt(10)))))
	if centerOwner != nil {
		require.NoError(t, f.repo.InsertTransaction(ctx, row(conto.CategoryCenter, *centerOwner, raw.Div(decimal.NewFromInt(20)))))
	}
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestSummaryRegroupsEventsWithCurrentPercentages(t *testing.T) {
	f := newFixture(10)
	f.event(t, "k1", f.alfa, 1000, idPtr(f.centerUser.ID))
	svc := NewService(f.repo, f.dir, nil, nil, nil, nil)
	admin := shared.Identity{UserID: f.admin.ID, Role: shared.RoleAdmin}
	q := Query{Account: conto.AccountProselitismo}

	sum, err := svc.Summary(context.Background(), admin, q)
	require.NoError(t, err)
	assert.True(t, sum.Incoming.Equal(decimal.NewFromInt(950)), sum.Incoming.String())
	assert.Equal(t, 3, sum.TransactionCount)
	require.NotNil(t, sum.Reference)
	assert.Equal(t, 1, sum.Reference.Events)
	assert.True(t, sum.Reference.Base.Equal(decimal.NewFromInt(1000)))
	assert.True(t, sum.Reference.House.Equal(decimal.NewFromInt(800)))
	assert.True(t, sum.Reference.Manager.Equal(decimal.NewFromInt(100)))
	assert.True(t, sum.Reference.Center.Equal(decimal.NewFromInt(50)))

	f.manager.ProfitSharePct = pct(80)
	f.refresh()
	sum, err = svc.Summary(context.Background(), admin, q)
	require.NoError(t, err)
	assert.True(t, sum.Reference.Manager.Equal(decimal.NewFromInt(800)), sum.Reference.Manager.String())
	assert.True(t, sum.Incoming.Equal(decimal.NewFromInt(950)))

	servizi, err := svc.Summary(context.Background(), admin, Query{Account: conto.AccountServizi})
	require.NoError(t, err)
	assert.Nil(t, servizi.Reference)
	assert.True(t, servizi.Incoming.IsZero())
}

func TestSummaryIsScopedToResolvedManager(t *testing.T) {
	f := newFixture(10)
	f.event(t, "k1", f.alfa, 1000, idPtr(f.centerUser.ID))
	svc := NewService(f.repo, f.dir, nil, nil, nil, nil)
	q := Query{Account: conto.AccountProselitismo}

	own, err := svc.Summary(context.Background(), shared.Identity{UserID: f.manager.ID, Role: shared.RoleTerritorialManager}, q)
	require.NoError(t, err)
	assert.Equal(t, 1, own.Reference.Events)

	rival, err := svc.Summary(context.Background(), shared.Identity{UserID: f.rival.ID, Role: shared.RoleTerritorialManager}, q)
	require.NoError(t, err)
	assert.Zero(t, rival.TransactionCount)
	assert.Zero(t, rival.Reference.Events)
	assert.True(t, rival.Incoming.IsZero())
}

func TestBreakdownGroupsJobCentersByName(t *testing.T) {
	f := newFixture(10)
	f.event(t, "k1", f.alfa, 1000, idPtr(f.centerUser.ID))
	f.event(t, "k2", f.beta, 500, nil)
	svc := NewService(f.repo, f.dir, nil, nil, nil, nil)

	b, err := svc.Breakdown(context.Background(), shared.Identity{UserID: f.admin.ID, Role: shared.RoleSuperAdmin}, Query{Account: conto.AccountProselitismo})
	require.NoError(t, err)
	assert.Equal(t, 2, b.Totals.Events)
	require.Len(t, b.Managers, 1)
	assert.Equal(t, f.manager.ID.String(), b.Managers[0].ID)
	assert.True(t, b.Managers[0].Share.Equal(decimal.NewFromInt(150)), b.Managers[0].Share.String())
	require.Len(t, b.JobCenters, 1)
	assert.Equal(t, 2, b.JobCenters[0].Events)
	assert.True(t, b.JobCenters[0].Share.Equal(decimal.NewFromInt(75)), b.JobCenters[0].Share.String())
}

func TestCachedReadsAreByteIdenticalUntilInvalidated(t *testing.T) {
	f := newFixture(10)
	f.event(t, "k1", f.alfa, 1000, idPtr(f.centerUser.ID))
	clk := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	metrics := observability.NewMetrics()
	svc := NewService(f.repo, f.dir, NewMemoryCache(30*time.Second, clk.Now), NewMemoryCache(30*time.Second, clk.Now), metrics, nil)
	admin := shared.Identity{UserID: f.admin.ID, Role: shared.RoleAdmin}
	q := Query{Account: conto.AccountProselitismo}
	ctx := context.Background()

	first, err := svc.SummaryJSON(ctx, admin, q)
	require.NoError(t, err)
	f.event(t, "k2", f.beta, 500, nil)
	second, err := svc.SummaryJSON(ctx, admin, q)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, svc.Invalidate(ctx))
	third, err := svc.Summary(ctx, admin, q)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Reference.Events)

	f.event(t, "k3", f.beta, 100, nil)
	clk.now = clk.now.Add(31 * time.Second)
	fourth, err := svc.Summary(ctx, admin, q)
	require.NoError(t, err)
	assert.Equal(t, 3, fourth.Reference.Events)
}

func TestListsPaginateAndScopeImports(t *testing.T) {
	f := newFixture(10)
	for i := 0; i < 3; i++ {
		f.event(t, uuid.NewString(), f.alfa, 100, nil)
	}
	ctx := context.Background()
	require.NoError(t, f.repo.InsertImport(ctx, conto.ImportRecord{ID: uuid.New(), Account: conto.AccountProselitismo, FileHash: "a", UploadedBy: f.admin.ID}))
	require.NoError(t, f.repo.InsertImport(ctx, conto.ImportRecord{ID: uuid.New(), Account: conto.AccountProselitismo, FileHash: "b", UploadedBy: f.manager.ID}))
	svc := NewService(f.repo, f.dir, nil, nil, nil, nil)
	admin := shared.Identity{UserID: f.admin.ID, Role: shared.RoleAdmin}

	page, err := svc.ListTransactions(ctx, admin, Query{Account: conto.AccountProselitismo}, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)
	assert.Len(t, page.Items, 2)

	unrec, err := svc.ListUnreconciled(ctx, admin, Query{Account: conto.AccountProselitismo}, 1, 10)
	require.NoError(t, err)
	assert.NotNil(t, unrec.Items)
	assert.Zero(t, unrec.Pagination.Total)

	imports, err := svc.ListImports(ctx, admin, conto.AccountProselitismo, 1, 20)
	require.NoError(t, err)
	assert.Len(t, imports.Items, 2)
	imports, err = svc.ListImports(ctx, shared.Identity{UserID: f.manager.ID, Role: shared.RoleTerritorialManager}, conto.AccountProselitismo, 1, 20)
	require.NoError(t, err)
	require.Len(t, imports.Items, 1)
	assert.Equal(t, "b", imports.Items[0].FileHash)

	_, err = svc.ListImports(ctx, admin, conto.Account("altro"), 1, 20)
	require.ErrorIs(t, err, conto.ErrInvalidAccount)
}

// blockingStore reads totals, then parks the first call until release is
// closed, so the caller finishes with figures from before any write made
// while it waited.
type blockingStore struct {
	*store.Memory
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func newBlockingStore(repo *store.Memory) *blockingStore {
	return &blockingStore{Memory: repo, entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *blockingStore) Totals(ctx context.Context, f store.Filter) (store.Totals, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	totals, err := s.Memory.Totals(ctx, f)
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return store.Totals{}, ctxErr
	}
	return totals, err
}

func (s *blockingStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestReadOverlappingInvalidationIsNotCached(t *testing.T) {
	for name, newCache := range map[string]func(t *testing.T) Cache{
		"memory": func(*testing.T) Cache { return NewMemoryCache(time.Minute, nil) },
		"redis": func(t *testing.T) Cache {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisCache(client, "conto:summary", time.Minute)
		},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(10)
			f.event(t, "k1", f.alfa, 1000, nil)
			repo := newBlockingStore(f.repo)
			svc := NewService(repo, f.dir, newCache(t), nil, nil, nil)
			admin := shared.Identity{UserID: f.admin.ID, Role: shared.RoleAdmin}
			q := Query{Account: conto.AccountProselitismo}
			ctx := context.Background()

			stale := make(chan Summary, 1)
			go func() {
				s, err := svc.Summary(ctx, admin, q)
				assert.NoError(t, err)
				stale <- s
			}()
			<-repo.entered

			f.event(t, "k2", f.beta, 500, nil)
			require.NoError(t, svc.Invalidate(ctx))
			close(repo.release)
			<-stale

			fresh, err := svc.Summary(ctx, admin, q)
			require.NoError(t, err)
			assert.Equal(t, 4, fresh.TransactionCount)
			assert.Equal(t, 2, fresh.Reference.Events)
		})
	}
}

func TestSharedBuildOutlivesCallerCancellation(t *testing.T) {
	f := newFixture(10)
	f.event(t, "k1", f.alfa, 1000, nil)
	repo := newBlockingStore(f.repo)
	svc := NewService(repo, f.dir, NewMemoryCache(time.Minute, nil), nil, nil, nil)
	admin := shared.Identity{UserID: f.admin.ID, Role: shared.RoleAdmin}
	q := Query{Account: conto.AccountProselitismo}

	callerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.SummaryJSON(callerCtx, admin, q)
		done <- err
	}()
	<-repo.entered
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	close(repo.release)

	s, err := svc.Summary(context.Background(), admin, q)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TransactionCount)
	assert.Equal(t, 1, repo.callCount())
}
