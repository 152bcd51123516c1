// internal/membership/domain.go
package membership

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// User represents a registered library user.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Credential holds a user's password material, stored apart from the profile.
type Credential struct {
	UserID       uuid.UUID `json:"-"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
}

// Identity is the authenticated caller as extracted from a bearer token.
type Identity struct {
	UserID  uuid.UUID
	IsAdmin bool
}

var (
	// ErrNotFound is returned when the referenced user does not exist.
	ErrNotFound = errors.New("user not found")

	// ErrDuplicateUser is returned when the username or email is already taken.
	ErrDuplicateUser = errors.New("username or email already registered")

	// ErrInvalidCredentials is returned on a failed login. It does not
	// distinguish an unknown username from a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrRateLimited is returned when register/login attempts come too fast.
	ErrRateLimited = errors.New("too many attempts, try again later")

	// ErrInvalidToken is returned for a missing, malformed or expired token.
	ErrInvalidToken = errors.New("invalid or expired token")
)
