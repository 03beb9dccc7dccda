package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"
)

// Token is an ephemeral bearer secret scoped to one attendance session.
// Multiple tokens may coexist for a session during rotation overlap; only
// unexpired ones are honored.
type Token struct {
	Value     string    `json:"token"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store issues and validates rotating tokens for attendance sessions.
type Store interface {
	// Rotate mints a fresh token for the session and prunes tokens whose
	// expiry has already passed. Safe to call every few seconds.
	Rotate(ctx context.Context, sessionID string) (Token, error)
	// IsValid reports whether an unexpired token with exactly this value
	// exists for the session.
	IsValid(ctx context.Context, sessionID, value string) (bool, error)
}

// NewValue returns a fresh token value: 32 random bytes, URL-safe base64
// without padding.
func NewValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
