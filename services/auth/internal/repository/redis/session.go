package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/repository"
)

// SessionStore implements repository.SessionStore using Redis. Each user has
// at most one key; writing a new session replaces the old one atomically.
type SessionStore struct {
	client redis.UniversalClient
}

// NewSessionStore creates a new Redis-backed session store.
func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return &SessionStore{client: client}
}

// Put stores the session digest for userID with the given TTL.
func (s *SessionStore) Put(ctx context.Context, userID, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, repository.SessionKey(userID), token, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// Get returns the session digest for userID.
func (s *SessionStore) Get(ctx context.Context, userID string) (string, error) {
	val, err := s.client.Get(ctx, repository.SessionKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrSessionNotFound
		}
		return "", fmt.Errorf("redis get session: %w", err)
	}
	return val, nil
}

// Delete removes the session for userID. Missing keys are not an error.
func (s *SessionStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, repository.SessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}
