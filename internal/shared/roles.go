package shared

import "strings"

// Role is the platform role attached to every user record.
type Role string

const (
	RoleSuperAdmin         Role = "super_admin"
	RoleAdmin              Role = "admin"
	RoleTerritorialManager Role = "responsabile_territoriale"
	RoleJobCenter          Role = "sportello_lavoro"
	RoleAgent              Role = "agente"
	RoleEmployee           Role = "dipendente"
)

// ParseRole normalises a stored role name. Unknown values are kept verbatim
// so they fall into the "own rows only" visibility bucket.
func ParseRole(raw string) Role {
	return Role(strings.ToLower(strings.TrimSpace(raw)))
}

// IsAdmin reports whether the role has unrestricted visibility.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}
