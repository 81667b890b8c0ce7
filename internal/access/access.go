// Package access carries the caller identity resolved by the auth middleware.
package access

import "elibrary/internal/apperr"

const (
	RoleUser      = "USER"
	RoleLibrarian = "LIBRARIAN"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Role   string
}

func (a Actor) IsLibrarian() bool { return a.Role == RoleLibrarian }

// Require fails with Forbidden unless the actor holds role.
func (a Actor) Require(role string) error {
	if a.UserID == "" || a.Role != role {
		return apperr.Forbidden("this action requires the " + role + " role")
	}
	return nil
}

// CanAccessUser reports whether the actor may read or act on userID's records.
func (a Actor) CanAccessUser(userID string) bool {
	return a.UserID != "" && (a.UserID == userID || a.IsLibrarian())
}

func ValidRole(role string) bool {
	return role == RoleUser || role == RoleLibrarian
}
