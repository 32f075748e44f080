package domain

import (
	"context"
	"errors"
	"strings"
)

// User is the acting identity behind a request.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Role      Role
}

// DisplayName returns "First Last", falling back to the email.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return u.Email
}

// Role represents a user's access level
type Role string

const (
	// RoleAdmin can record, amend and delete movements
	RoleAdmin Role = "admin"

	// RoleOperator can record and amend movements
	RoleOperator Role = "operator"

	// RoleViewer can only read balances, movements and history
	RoleViewer Role = "viewer"
)

var validRoles = map[Role]bool{
	RoleAdmin:    true,
	RoleOperator: true,
	RoleViewer:   true,
}

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	return validRoles[r]
}

// CanWrite checks if the role can record or amend movements
func (r Role) CanWrite() bool {
	return r == RoleAdmin || r == RoleOperator
}

// CanDelete checks if the role can delete movements
func (r Role) CanDelete() bool {
	return r == RoleAdmin
}

// Authentication errors
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInsufficientRole = errors.New("insufficient role for this operation")
)

type userContextKey struct{}

// ContextWithUser returns a copy of ctx carrying the acting user.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the acting user, if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*User)
	return user, ok && user != nil
}

// ActorID returns the id of the acting user, or nil for anonymous calls.
func ActorID(ctx context.Context) *string {
	user, ok := UserFromContext(ctx)
	if !ok || user.ID == "" {
		return nil
	}
	id := user.ID
	return &id
}
