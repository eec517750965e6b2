// Package identity defines the authenticated user model and the contract of
// the authentication provider.
package identity

import (
	"context"
	"net/mail"
	"strings"
)

// Identity is an authenticated user's session-scoped reference.
//
// SessionID names the sign-in that produced the identity. Two devices signed
// in as the same user share ID but not SessionID.
type Identity struct {
	ID          string
	SessionID   string
	Email       string
	DisplayName string
	PhotoURL    string
}

// Credentials holds email/password sign-in input.
type Credentials struct {
	Email    string
	Password string
}

// Registration holds the input for creating an account.
type Registration struct {
	Email       string
	Password    string
	DisplayName string
}

// Authenticator is the authentication provider. Failures are reported as
// *apperr.AuthError.
type Authenticator interface {
	SignIn(ctx context.Context, creds Credentials) (Identity, error)
	SignUp(ctx context.Context, reg Registration) (Identity, error)
	// SignOut invalidates the remote session created by SignIn.
	SignOut(ctx context.Context, sessionID string) error
	// OnIdentityChanged registers fn for provider-initiated changes, such as
	// a revoked or expired session. fn receives the session id and nil when
	// the session is gone. The returned func unregisters fn.
	OnIdentityChanged(fn func(sessionID string, current *Identity)) (cancel func())

	UpdateDisplayName(ctx context.Context, id, name string) error
	UpdateEmail(ctx context.Context, id, email string) error
	UpdatePassword(ctx context.Context, id, password string) error
}

// NormalizeEmail lowercases and trims s. ok is false when the result is not
// a bare address.
func NormalizeEmail(s string) (email string, ok bool) {
	email = strings.ToLower(strings.TrimSpace(s))
	addr, err := mail.ParseAddress(email)
	return email, err == nil && addr.Address == email
}
