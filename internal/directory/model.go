// Package directory exposes the read-only view of companies, territorial
// managers and job centers that the conto engine resolves rows against.
package directory

import (
	"github.com/google/uuid"

	"github.com/fiacom/gestionale/internal/shared"
)

// Company is a client company as maintained by the registry screens.
type Company struct {
	ID                  uuid.UUID
	Name                string
	RegistrationNumbers []string
	ManagerName         string
	ManagerUserID       *uuid.UUID
	OwnerUserID         *uuid.UUID
	JobCenterID         *uuid.UUID
	ConsultantName      string
	Active              bool
}

// User is a platform user. Territorial managers carry a profit share.
type User struct {
	ID             uuid.UUID
	Username       string
	Name           string
	Organization   string
	Role           shared.Role
	Active         bool
	ProfitSharePct *float64
	PasswordHash   string
}

// IsActiveManager reports whether the user can receive a manager share.
func (u User) IsActiveManager() bool {
	return u.Active && u.Role == shared.RoleTerritorialManager
}

// JobCenter is a job center with its agreed commission.
type JobCenter struct {
	ID            uuid.UUID
	Name          string
	Organization  string
	UserID        *uuid.UUID
	CommissionPct *float64
	Active        bool
}

// DisplayName is the label used when centers are grouped by name.
func (c JobCenter) DisplayName() string {
	if c.Organization != "" {
		return c.Organization
	}
	return c.Name
}
