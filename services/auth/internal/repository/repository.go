package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/domain"
)

// ErrSessionNotFound is returned by SessionStore.Get when no refresh token
// is stored for the user, either because it was never written, was deleted
// on logout, or expired.
var ErrSessionNotFound = errors.New("session not found")

// UserRepository is the credential store.
//
// Lookups that find nothing return an error wrapping apperrors.ErrNotFound.
// Create returns an error wrapping apperrors.ErrAlreadyExists when the email
// or username is already taken.
type UserRepository interface {
	// Create inserts a new user into the store.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by their email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// ExistsByEmailOrUsername reports whether any user has the given email
	// or the given username.
	ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error)

	// Update modifies the profile fields and password hash of an existing user.
	Update(ctx context.Context, user *domain.User) error

	// UpdateLastLogin sets lastLoginAt for the user.
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// SessionStore maps a user ID to the digest of their single valid refresh
// token. Every operation is idempotent and atomic per key.
type SessionStore interface {
	// Put stores token for userID, replacing any previous entry.
	Put(ctx context.Context, userID, token string, ttl time.Duration) error

	// Get returns the stored token or ErrSessionNotFound.
	Get(ctx context.Context, userID string) (string, error)

	// Delete removes the entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, userID string) error
}

// SessionKey is the key a session is stored under.
func SessionKey(userID string) string {
	return "refresh_token:" + userID
}
