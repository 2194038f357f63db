package memory

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/errors"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/domain"
)

// UserRepository is a volatile repository.UserRepository for tests and
// local runs. Email and username uniqueness is enforced under one lock, so
// concurrent registrations of the same identity cannot both succeed.
type UserRepository struct {
	mu         sync.RWMutex
	byID       map[string]*domain.User
	byEmail    map[string]string
	byUsername map[string]string
}

// NewUserRepository creates an empty in-memory user repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:       make(map[string]*domain.User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

// Create stores a copy of u.
func (r *UserRepository) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[u.Email]; ok {
		return apperrors.AlreadyExists("user", "email", u.Email)
	}
	if _, ok := r.byUsername[u.Username]; ok {
		return apperrors.AlreadyExists("user", "username", u.Username)
	}

	r.byID[u.ID] = clone(u)
	r.byEmail[u.Email] = u.ID
	r.byUsername[u.Username] = u.ID
	return nil
}

// GetByID returns a copy of the user with the given ID.
func (r *UserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return clone(u), nil
}

// GetByEmail returns a copy of the user with the given email.
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return clone(r.byID[id]), nil
}

// ExistsByEmailOrUsername implements repository.UserRepository.
func (r *UserRepository) ExistsByEmailOrUsername(_ context.Context, email, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, emailTaken := r.byEmail[email]
	_, usernameTaken := r.byUsername[username]
	return emailTaken || usernameTaken, nil
}

// Update replaces the mutable fields of an existing user.
func (r *UserRepository) Update(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[u.ID]
	if !ok {
		return apperrors.NotFound("user", u.ID)
	}

	u.UpdatedAt = time.Now().UTC()
	stored.PasswordHash = u.PasswordHash
	stored.FirstName = u.FirstName
	stored.LastName = u.LastName
	stored.UpdatedAt = u.UpdatedAt
	return nil
}

// UpdateLastLogin implements repository.UserRepository.
func (r *UserRepository) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[id]
	if !ok {
		return apperrors.NotFound("user", id)
	}
	at = at.UTC()
	stored.LastLoginAt = &at
	return nil
}

func clone(u *domain.User) *domain.User {
	c := *u
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}
