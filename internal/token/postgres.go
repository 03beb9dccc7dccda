package token

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists tokens in the session_tokens table. Lookups hit the
// (session_id, token) index; rotation and pruning share one transaction.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresStore builds a Postgres-backed token store.
func NewPostgresStore(db *sql.DB, ttl time.Duration) *PostgresStore {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &PostgresStore{db: db, ttl: ttl}
}

// Rotate inserts a fresh token and deletes the session's expired ones in a
// single transaction.
func (s *PostgresStore) Rotate(ctx context.Context, sessionID string) (Token, error) {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Token{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM session_tokens WHERE session_id = $1 AND expires_at <= NOW()
	`, sessionID); err != nil {
		return Token{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_tokens (session_id, token, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, sessionID, tok.Value, tok.IssuedAt, tok.ExpiresAt); err != nil {
		return Token{}, err
	}
	if err := tx.Commit(); err != nil {
		return Token{}, err
	}
	return tok, nil
}

// IsValid reports whether an unexpired row with the exact value exists.
func (s *PostgresStore) IsValid(ctx context.Context, sessionID, value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM session_tokens
			WHERE session_id = $1 AND token = $2 AND expires_at > NOW()
		)
	`, sessionID, value).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
