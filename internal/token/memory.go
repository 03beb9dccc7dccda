package token

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps tokens in process memory. Used for dev and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]map[string]Token // session id -> token value -> token
	ttl  time.Duration
	nowF func() time.Time
}

// NewMemoryStore returns an in-memory store issuing tokens valid for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &MemoryStore{
		m:    make(map[string]map[string]Token),
		ttl:  ttl,
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Rotate mints a new token for the session and drops expired ones.
// Creation and pruning happen under one lock so a rotation is a single unit.
func (s *MemoryStore) Rotate(ctx context.Context, sessionID string) (Token, error) {
	value, err := NewValue()
	if err != nil {
		return Token{}, err
	}
	now := s.nowF()
	tok := Token{
		Value:     value,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byValue, ok := s.m[sessionID]
	if !ok {
		byValue = make(map[string]Token)
		s.m[sessionID] = byValue
	}
	for v, t := range byValue {
		if !t.ExpiresAt.After(now) {
			delete(byValue, v)
		}
	}
	byValue[value] = tok
	return tok, nil
}

// IsValid reports whether the exact value is stored for the session and unexpired.
func (s *MemoryStore) IsValid(ctx context.Context, sessionID, value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	s.mu.RLock()
	t, ok := s.m[sessionID][value]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return t.ExpiresAt.After(s.nowF()), nil
}
