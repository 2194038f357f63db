package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/repository"
)

type sessionEntry struct {
	token     string
	expiresAt time.Time
}

// SessionStore is a volatile repository.SessionStore. Expired entries are
// dropped lazily on read.
type SessionStore struct {
	mu      sync.Mutex
	entries map[string]sessionEntry
	now     func() time.Time
}

// NewSessionStore creates an empty session store. A nil now uses time.Now.
func NewSessionStore(now func() time.Time) *SessionStore {
	if now == nil {
		now = time.Now
	}
	return &SessionStore{
		entries: make(map[string]sessionEntry),
		now:     now,
	}
}

// Put implements repository.SessionStore.
func (s *SessionStore) Put(_ context.Context, userID, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[repository.SessionKey(userID)] = sessionEntry{token: token, expiresAt: s.now().Add(ttl)}
	return nil
}

// Get implements repository.SessionStore.
func (s *SessionStore) Get(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := repository.SessionKey(userID)
	e, ok := s.entries[key]
	if !ok {
		return "", repository.ErrSessionNotFound
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return "", repository.ErrSessionNotFound
	}
	return e.token, nil
}

// Delete implements repository.SessionStore.
func (s *SessionStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, repository.SessionKey(userID))
	return nil
}
