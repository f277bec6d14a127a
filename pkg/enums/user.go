package enums

import "fmt"

// Role maps to the user_role enum in Postgres.
type Role string

const (
	RoleManager     Role = "manager"
	RoleFacilitator Role = "facilitator"
	RoleStudent     Role = "student"
)

var validRoles = []Role{
	RoleManager,
	RoleFacilitator,
	RoleStudent,
}

// IsValid checks whether the given role matches the canonical enum.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRole converts raw strings into Role.
func ParseRole(value string) (Role, error) {
	for _, candidate := range validRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
