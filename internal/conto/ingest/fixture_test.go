package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/conto/dedup"
	"github.com/fiacom/gestionale/internal/conto/scope"
	"github.com/fiacom/gestionale/internal/conto/store"
	"github.com/fiacom/gestionale/internal/directory"
	"github.com/fiacom/gestionale/internal/shared"
)

func pct(v float64) *float64        { return &v }
func idPtr(id uuid.UUID) *uuid.UUID { return &id }

type memoryDirectory struct {
	mu        sync.Mutex
	companies []directory.Company
	users     []directory.User
	centers   []directory.JobCenter
	links     []uuid.UUID
}

func (d *memoryDirectory) Snapshot(context.Context) (*directory.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	companies := append([]directory.Company(nil), d.companies...)
	return directory.NewSnapshot(companies, d.users, d.centers), nil
}

func (d *memoryDirectory) LinkJobCenter(_ context.Context, companyID, centerID uuid.UUID, consultantName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.companies {
		if d.companies[i].ID != companyID {
			continue
		}
		d.companies[i].JobCenterID = idPtr(centerID)
		if d.companies[i].ConsultantName == "" {
			d.companies[i].ConsultantName = consultantName
		}
		d.links = append(d.links, companyID)
		return nil
	}
	return shared.ErrNotFound
}

type countingCache struct{ calls int }

func (c *countingCache) Invalidate(context.Context) error {
	c.calls++
	return nil
}

type memoryAudit struct{ entries []shared.AuditLog }

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

func (a *memoryAudit) actions() []string {
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	admin                    shared.Identity
	manager, bigManager      directory.User
	idle                     directory.User
	centerUser               uuid.UUID
	north, south             directory.JobCenter
	alfa, beta, twinA, twinB directory.Company

	dir   *memoryDirectory
	repo  *store.Memory
	cache *countingCache
	audit *memoryAudit
	svc   *Service
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		admin:      shared.Identity{UserID: uuid.New(), Role: shared.RoleAdmin},
		centerUser: uuid.New(),
		repo:       store.NewMemory(),
		cache:      &countingCache{},
		audit:      &memoryAudit{},
		now:        time.Date(2024, 5, 20, 10, 30, 0, 0, time.UTC),
	}
	f.manager = directory.User{ID: uuid.New(), Username: "mrossi", Name: "Mario Rossi", Role: shared.RoleTerritorialManager, Active: true, ProfitSharePct: pct(10)}
	f.bigManager = directory.User{ID: uuid.New(), Username: "lverdi", Name: "Luigi Verdi", Role: shared.RoleTerritorialManager, Active: true, ProfitSharePct: pct(80)}
	f.idle = directory.User{ID: uuid.New(), Username: "old", Name: "Ex Responsabile", Role: shared.RoleTerritorialManager, Active: false, ProfitSharePct: pct(10)}
	f.north = directory.JobCenter{ID: uuid.New(), Name: "Sportello Nord", UserID: idPtr(f.centerUser), CommissionPct: pct(5), Active: true}
	f.south = directory.JobCenter{ID: uuid.New(), Name: "Sportello Sud", CommissionPct: pct(40), Active: true}
	f.alfa = directory.Company{ID: uuid.New(), Name: "Alfa", RegistrationNumbers: []string{"12345678"}, ManagerUserID: idPtr(f.manager.ID), JobCenterID: idPtr(f.north.ID), Active: true}
	f.beta = directory.Company{ID: uuid.New(), Name: "Beta", ManagerName: "Mario Rossi", ConsultantName: "Sportello Nord srl", Active: true}
	f.twinA = directory.Company{ID: uuid.New(), Name: "Gemelli", ManagerUserID: idPtr(f.manager.ID), Active: true}
	f.twinB = directory.Company{ID: uuid.New(), Name: "GEMELLI", ManagerUserID: idPtr(f.bigManager.ID), Active: true}
	f.dir = &memoryDirectory{
		companies: []directory.Company{f.alfa, f.beta, f.twinA, f.twinB},
		users:     []directory.User{f.manager, f.bigManager, f.idle},
		centers:   []directory.JobCenter{f.north, f.south},
	}
	f.svc = NewService(f.repo, f.dir, f.cache, nil,
		WithAuditor(f.audit),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) upload(name, body string, confirm bool) Upload {
	return Upload{
		Account:           conto.AccountProselitismo,
		FileName:          name,
		Data:              []byte(body),
		Actor:             f.admin,
		ConfirmDuplicates: confirm,
	}
}

func (f *fixture) transactions(t *testing.T) []conto.Transaction {
	t.Helper()
	rows, _, err := f.repo.ListTransactions(context.Background(), store.Filter{Account: conto.AccountProselitismo, Scope: scope.Scope{Global: true}}, 0, 0)
	require.NoError(t, err)
	return rows
}

func (f *fixture) importCount(t *testing.T) int {
	t.Helper()
	_, total, err := f.repo.ListImports(context.Background(), conto.AccountProselitismo, nil, 10, 0)
	require.NoError(t, err)
	return total
}

func csv(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

const header = "Mese;Anno;Matricola;Azienda;Quota FIACOM;Non riconciliato"

// mixedFile covers every row outcome of the pipeline.
var mixedFile = csv(
	header,
	"3;2024;12345678;Alfa;1.000,00;",
	"3;2024;;Beta;500;",
	"3;2024;;Gemelli;100;",
	"3;2024;12345678;Alfa;1.000,00;",
	"4;2024;;Alfa;;250",
	";;;;;",
	"4;2024;;Sconosciuta;10;",
	"4;2024;12345678;;;",
)

func dedupHash(body string) string {
	return dedup.FileHash([]byte(body))
}
