package directory

import (
	"sort"

	"github.com/google/uuid"
)

// Snapshot is a point-in-time copy of the registry used for one request.
// It is not safe for concurrent mutation.
type Snapshot struct {
	companies []Company
	users     []User
	centers   []JobCenter

	companyIdx map[uuid.UUID]int
	userIdx    map[uuid.UUID]int
	centerIdx  map[uuid.UUID]int
}

// NewSnapshot indexes the given records.
func NewSnapshot(companies []Company, users []User, centers []JobCenter) *Snapshot {
	s := &Snapshot{
		companies:  companies,
		users:      users,
		centers:    centers,
		companyIdx: make(map[uuid.UUID]int, len(companies)),
		userIdx:    make(map[uuid.UUID]int, len(users)),
		centerIdx:  make(map[uuid.UUID]int, len(centers)),
	}
	for i, c := range companies {
		s.companyIdx[c.ID] = i
	}
	for i, u := range users {
		s.userIdx[u.ID] = i
	}
	for i, c := range centers {
		s.centerIdx[c.ID] = i
	}
	return s
}

// Companies returns every company, active or not.
func (s *Snapshot) Companies() []Company { return s.companies }

// ActiveCompanies returns companies that can receive new rows.
func (s *Snapshot) ActiveCompanies() []Company {
	out := make([]Company, 0, len(s.companies))
	for _, c := range s.companies {
		if c.Active {
			out = append(out, c)
		}
	}
	return out
}

// Company looks a company up by id.
func (s *Snapshot) Company(id uuid.UUID) (Company, bool) {
	i, ok := s.companyIdx[id]
	if !ok {
		return Company{}, false
	}
	return s.companies[i], true
}

// User looks a user up by id.
func (s *Snapshot) User(id uuid.UUID) (User, bool) {
	i, ok := s.userIdx[id]
	if !ok {
		return User{}, false
	}
	return s.users[i], true
}

// JobCenter looks a job center up by id.
func (s *Snapshot) JobCenter(id uuid.UUID) (JobCenter, bool) {
	i, ok := s.centerIdx[id]
	if !ok {
		return JobCenter{}, false
	}
	return s.centers[i], true
}

// ActiveManagers returns active territorial managers ordered by name.
func (s *Snapshot) ActiveManagers() []User {
	var out []User
	for _, u := range s.users {
		if u.IsActiveManager() {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ActiveJobCenters returns active job centers ordered by display name.
func (s *Snapshot) ActiveJobCenters() []JobCenter {
	var out []JobCenter
	for _, c := range s.centers {
		if c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName() < out[j].DisplayName() })
	return out
}

// JobCentersOfUser returns the centers whose login is userID.
func (s *Snapshot) JobCentersOfUser(userID uuid.UUID) []JobCenter {
	var out []JobCenter
	for _, c := range s.centers {
		if c.UserID != nil && *c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

// SetCompanyJobCenter mirrors a backfill into the snapshot so later rows of
// the same upload see it. An existing consultant name is kept.
func (s *Snapshot) SetCompanyJobCenter(companyID, centerID uuid.UUID, consultantName string) {
	i, ok := s.companyIdx[companyID]
	if !ok {
		return
	}
	id := centerID
	s.companies[i].JobCenterID = &id
	if s.companies[i].ConsultantName == "" {
		s.companies[i].ConsultantName = consultantName
	}
}
