package domain

type Role string

const (
	RoleGuest  Role = "guest"
	RoleHost   Role = "host"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleGuest, RoleHost, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is the verified caller of an operation.
type Actor struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

// SystemActor performs automatic transitions such as pending expiry.
var SystemActor = Actor{Role: RoleSystem}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func (a Actor) IsSystem() bool {
	return a.Role == RoleSystem
}
