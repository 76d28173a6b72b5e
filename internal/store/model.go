package store

import (
	"fmt"
	"strings"
	"time"
)

type AuthMethod string

const (
	AuthMethodManual AuthMethod = "manual"
	AuthMethodGoogle AuthMethod = "google"
)

// User is the single account record. Empty optional fields mean "absent".
type User struct {
	ID             string
	Email          string
	FirstName      string
	LastName       string
	ProfilePicture string
	PasswordHash   string
	GoogleID       string
	AuthMethod     AuthMethod
	CreatedAt      time.Time
}

// HasPassword reports whether the account can authenticate by password.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Validate checks the shape of a user before it is written.
func (u User) Validate() error {
	if u.Email == "" {
		return fmt.Errorf("%w: empty email", ErrInvalidUser)
	}

	if u.PasswordHash == "" && u.GoogleID == "" {
		return fmt.Errorf("%w: no credential", ErrInvalidUser)
	}

	switch u.AuthMethod {
	case AuthMethodManual, AuthMethodGoogle:
	default:
		return fmt.Errorf("%w: unknown auth method %q", ErrInvalidUser, u.AuthMethod)
	}

	return nil
}

// NormalizeEmail returns the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
