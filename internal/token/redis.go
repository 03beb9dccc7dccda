package token

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps tokens as per-token keys with a server-side TTL, so
// expired tokens disappear without an explicit prune pass.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore builds a Redis-backed token store.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "presence:qr"
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(sessionID, value string) string {
	return s.prefix + ":" + sessionID + ":" + value
}

// Rotate mints a new token; Redis expiry handles pruning.
func (s *RedisStore) Rotate(ctx context.Context, sessionID string) (Token, error) {
	value, err := NewValue()
	if err != nil {
		return Token{}, err
	}
	now := time.Now().UTC()
	tok := Token{
		Value:     value,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.client.Set(ctx, s.key(sessionID, value), "1", s.ttl).Err(); err != nil {
		return Token{}, err
	}
	return tok, nil
}

// IsValid checks for an unexpired key with the exact token value.
func (s *RedisStore) IsValid(ctx context.Context, sessionID, value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	n, err := s.client.Exists(ctx, s.key(sessionID, value)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
