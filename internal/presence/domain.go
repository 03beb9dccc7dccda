// Package presence holds the proof-of-presence core: attendance sessions,
// per-student presence records, and the verification service that redeems
// rotating tokens and signed join links.
package presence

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors; the HTTP layer maps them to status codes.
var (
	// ErrNotFound means the session or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized means the caller's identity or role does not permit
	// the operation. Never retried.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidToken covers missing, expired, and unknown tokens as well
	// as bad join-link signatures. The sub-causes are deliberately not
	// distinguishable by the caller.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrOriginDenied means the request origin failed the geofence policy.
	ErrOriginDenied = errors.New("origin not permitted")
)

// Session is one instructor-opened check-in window for a lecture occurrence.
// Immutable once created.
type Session struct {
	ID        string    `json:"id"`
	LectureID string    `json:"lecture_id"`
	OpenedAt  time.Time `json:"opened_at"`
}

// Record is the per-(session, student) presence row. Present moves false to
// true exactly once through the redemption path; evidence fields are written
// together with the flag.
type Record struct {
	SessionID       string     `json:"session_id"`
	StudentID       string     `json:"student_id"`
	Present         bool       `json:"present"`
	IP              *string    `json:"ip,omitempty"`
	FingerprintHash *string    `json:"fingerprint_hash,omitempty"`
	Lat             *float64   `json:"lat,omitempty"`
	Lon             *float64   `json:"lon,omitempty"`
	UserAgent       *string    `json:"user_agent,omitempty"`
	ScanTime        *time.Time `json:"scan_time,omitempty"`
}

// Evidence is everything captured atomically alongside a successful
// absent-to-present transition.
type Evidence struct {
	IP              string
	FingerprintHash string
	Lat             *float64
	Lon             *float64
	UserAgent       string
	At              time.Time
}

// Ledger stores presence records. Implementations must make MarkPresent a
// single atomic read-modify-write: two concurrent calls for the same record
// commit exactly one transition.
type Ledger interface {
	// Get returns the record, creating it with present=false if absent.
	Get(ctx context.Context, sessionID, studentID string) (Record, error)
	// MarkPresent flips the record to present and writes the evidence,
	// only if it is not already present. Returns the resulting record and
	// whether this call performed the transition.
	MarkPresent(ctx context.Context, sessionID, studentID string, ev Evidence) (Record, bool, error)
	// Override sets the flag directly in either direction. The scan time
	// is stamped only on a transition into present, and only once.
	Override(ctx context.Context, sessionID, studentID string, present bool, at time.Time) (Record, error)
	// List returns all records for the session.
	List(ctx context.Context, sessionID string) ([]Record, error)
}

// Roster resolves sessions and membership. Backed by the university roster
// outside the core; the core trusts its answers.
type Roster interface {
	// Session resolves a session id or returns ErrNotFound.
	Session(ctx context.Context, sessionID string) (Session, error)
	// ActiveSession returns the lecture's open session, creating one on
	// first access. ErrNotFound when the lecture does not exist.
	ActiveSession(ctx context.Context, lectureID string) (Session, error)
	// IsEnrolled reports whether the student belongs to the lecture.
	IsEnrolled(ctx context.Context, lectureID, studentID string) (bool, error)
	// IsInstructor reports whether the user teaches the lecture.
	IsInstructor(ctx context.Context, lectureID, userID string) (bool, error)
}
