package db

import "strings"

// IsUniqueViolation reports whether err looks like a Postgres unique
// constraint violation. With a constraint name it matches that constraint
// specifically; without one it matches any duplicate-key error.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if constraintName != "" {
		return strings.Contains(err.Error(), constraintName)
	}
	return strings.Contains(err.Error(), "duplicate key value")
}
