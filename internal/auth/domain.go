package auth

import (
	"github.com/google/uuid"

	"github.com/fiacom/gestionale/internal/directory"
	"github.com/fiacom/gestionale/internal/shared"
)

// Account is the public view of the logged in user.
type Account struct {
	ID           uuid.UUID   `json:"id"`
	Username     string      `json:"username"`
	Name         string      `json:"name"`
	Organization string      `json:"organization,omitempty"`
	Role         shared.Role `json:"role"`
}

func accountFrom(u directory.User) Account {
	return Account{ID: u.ID, Username: u.Username, Name: u.Name, Organization: u.Organization, Role: u.Role}
}
