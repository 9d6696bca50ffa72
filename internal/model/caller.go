package model

// Role is the role a caller acts under.
type Role string

const (
	// RoleATC is the authority role that approves, denies, suggests and force-releases.
	RoleATC Role = "atc"
	// RoleStakeholder submits and cancels requests.
	RoleStakeholder Role = "stakeholder"
)

// Caller identifies who issued a command.
type Caller struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// IsAuthority reports whether the caller holds the authority role.
func (c Caller) IsAuthority() bool {
	return c.Role == RoleATC
}
