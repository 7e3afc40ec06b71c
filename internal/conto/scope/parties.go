package scope

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/conto/dedup"
	"github.com/fiacom/gestionale/internal/directory"
)

// Method records how a party was resolved.
type Method string

const (
	MethodReference Method = "reference"
	MethodName      Method = "name"
	MethodOwner     Method = "owner"
)

// Resolution describes a successful party resolution.
type Resolution struct {
	Method Method `json:"method"`
	Tier   Tier   `json:"tier,omitempty"`
	// Backfill is set when a job center was found by name and the company's
	// stored link is missing or points elsewhere.
	Backfill bool `json:"backfill,omitempty"`
}

// ByName reports whether the resolution relied on free-text matching.
func (r Resolution) ByName() bool { return r.Method == MethodName }

func managerCandidates(users []directory.User) []Candidate {
	out := make([]Candidate, 0, len(users))
	for _, u := range users {
		out = append(out, Candidate{ID: u.ID, Names: []string{u.Organization, u.Name, u.Username}})
	}
	return out
}

func centerCandidates(centers []directory.JobCenter) []Candidate {
	out := make([]Candidate, 0, len(centers))
	for _, c := range centers {
		out = append(out, Candidate{ID: c.ID, Names: []string{c.Name, c.Organization}})
	}
	return out
}

// ResolveManager finds the active territorial manager of a company: the
// explicit reference first, then the recorded manager name, then the owner
// of the company record.
func ResolveManager(snap *directory.Snapshot, company directory.Company) (directory.User, Resolution, error) {
	if company.ManagerUserID != nil {
		if u, ok := snap.User(*company.ManagerUserID); ok && u.IsActiveManager() {
			return u, Resolution{Method: MethodReference}, nil
		}
	}
	if company.ManagerName != "" {
		if id, tier, ok := Match(company.ManagerName, managerCandidates(snap.ActiveManagers())); ok {
			u, _ := snap.User(id)
			return u, Resolution{Method: MethodName, Tier: tier}, nil
		}
	}
	if company.OwnerUserID != nil {
		if u, ok := snap.User(*company.OwnerUserID); ok && u.IsActiveManager() {
			return u, Resolution{Method: MethodOwner}, nil
		}
	}
	return directory.User{}, Resolution{}, fmt.Errorf("%w: company %q", conto.ErrManagerNotFound, company.Name)
}

// ResolveJobCenter finds the job center of a company. A company with neither
// a link nor a consultant name has no center and returns nil without error.
func ResolveJobCenter(snap *directory.Snapshot, company directory.Company) (*directory.JobCenter, Resolution, error) {
	if company.JobCenterID != nil {
		if c, ok := snap.JobCenter(*company.JobCenterID); ok && c.Active {
			return &c, Resolution{Method: MethodReference}, nil
		}
	}
	if company.ConsultantName != "" {
		if id, tier, ok := Match(company.ConsultantName, centerCandidates(snap.ActiveJobCenters())); ok {
			c, _ := snap.JobCenter(id)
			stale := company.JobCenterID == nil || *company.JobCenterID != id
			return &c, Resolution{Method: MethodName, Tier: tier, Backfill: stale}, nil
		}
		return nil, Resolution{}, fmt.Errorf("%w: %q", conto.ErrJobCenterMissing, company.ConsultantName)
	}
	if company.JobCenterID != nil {
		return nil, Resolution{}, fmt.Errorf("%w: company %q", conto.ErrJobCenterMissing, company.Name)
	}
	return nil, Resolution{}, nil
}

// CenterNameKey is the grouping key of job centers in reports.
func CenterNameKey(c directory.JobCenter) string {
	return NormalizeName(c.DisplayName())
}

// companyByRegistration matches a registration number against the stored
// aliases of active companies, exact first, then by containment.
func companyByRegistration(companies []directory.Company, normalized string) []directory.Company {
	var exact, partial []directory.Company
	for _, c := range companies {
		for _, alias := range c.RegistrationNumbers {
			a := dedup.NormalizeRegistration(alias)
			if a == "" {
				continue
			}
			if a == normalized {
				exact = append(exact, c)
				break
			}
			if len(normalized) >= minSubstringLen && (strings.Contains(a, normalized) || strings.Contains(normalized, a)) {
				partial = append(partial, c)
				break
			}
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return partial
}

// ErrCompanyAmbiguous is returned when a name matches several companies
// and no registration number can disambiguate.
var ErrCompanyAmbiguous = errors.New("ambiguous company, use registration number")

// ErrCompanyNotFound is returned when no active company matches.
var ErrCompanyNotFound = errors.New("company not found")

// ResolveCompany finds the company a spreadsheet row refers to. The
// registration number is authoritative when present; otherwise the name must
// match exactly one active company, case-insensitively.
func ResolveCompany(snap *directory.Snapshot, registration, name string) (directory.Company, error) {
	active := snap.ActiveCompanies()
	if reg := dedup.NormalizeRegistration(registration); reg != "" {
		switch hits := companyByRegistration(active, reg); len(hits) {
		case 1:
			return hits[0], nil
		case 0:
		default:
			return directory.Company{}, ErrCompanyAmbiguous
		}
	}
	target := NormalizeName(name)
	if target == "" {
		return directory.Company{}, ErrCompanyNotFound
	}
	var hits []directory.Company
	seen := map[uuid.UUID]struct{}{}
	for _, c := range active {
		if NormalizeName(c.Name) != target {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		hits = append(hits, c)
	}
	switch len(hits) {
	case 0:
		return directory.Company{}, ErrCompanyNotFound
	case 1:
		return hits[0], nil
	default:
		return directory.Company{}, ErrCompanyAmbiguous
	}
}
