package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type recordKey struct {
	sessionID string
	studentID string
}

// MemoryLedger is an in-memory Ledger for dev and tests. One mutex covers all
// records; the check-and-set inside MarkPresent runs under it, which gives the
// at-most-once guarantee.
type MemoryLedger struct {
	mu sync.Mutex
	m  map[recordKey]Record
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{m: make(map[recordKey]Record)}
}

// Get returns the record, creating an absent one on first access.
func (l *MemoryLedger) Get(ctx context.Context, sessionID, studentID string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getOrCreate(sessionID, studentID), nil
}

func (l *MemoryLedger) getOrCreate(sessionID, studentID string) Record {
	key := recordKey{sessionID, studentID}
	rec, ok := l.m[key]
	if !ok {
		rec = Record{SessionID: sessionID, StudentID: studentID}
		l.m[key] = rec
	}
	return rec
}

// MarkPresent performs the conditional transition under the lock.
func (l *MemoryLedger) MarkPresent(ctx context.Context, sessionID, studentID string, ev Evidence) (Record, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.getOrCreate(sessionID, studentID)
	if rec.Present {
		return rec, false, nil
	}
	at := ev.At
	rec.Present = true
	rec.ScanTime = &at
	if ev.IP != "" {
		ip := ev.IP
		rec.IP = &ip
	}
	if ev.FingerprintHash != "" {
		fp := ev.FingerprintHash
		rec.FingerprintHash = &fp
	}
	if ev.UserAgent != "" {
		ua := ev.UserAgent
		rec.UserAgent = &ua
	}
	rec.Lat = ev.Lat
	rec.Lon = ev.Lon
	l.m[recordKey{sessionID, studentID}] = rec
	return rec, true, nil
}

// Override sets the flag directly; scan time is stamped only on the first
// transition into present.
func (l *MemoryLedger) Override(ctx context.Context, sessionID, studentID string, present bool, at time.Time) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.getOrCreate(sessionID, studentID)
	if present && !rec.Present && rec.ScanTime == nil {
		rec.ScanTime = &at
	}
	rec.Present = present
	l.m[recordKey{sessionID, studentID}] = rec
	return rec, nil
}

// List returns all records for the session.
func (l *MemoryLedger) List(ctx context.Context, sessionID string) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Record
	for k, rec := range l.m {
		if k.sessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// MemoryRoster is an in-memory Roster for dev and tests.
type MemoryRoster struct {
	mu          sync.Mutex
	sessions    map[string]Session
	active      map[string]string // lecture id -> session id
	enrolled    map[string]map[string]bool
	instructors map[string]map[string]bool
	lectures    map[string]bool
	nowF        func() time.Time
}

// NewMemoryRoster returns an empty in-memory roster.
func NewMemoryRoster() *MemoryRoster {
	return &MemoryRoster{
		sessions:    make(map[string]Session),
		active:      make(map[string]string),
		enrolled:    make(map[string]map[string]bool),
		instructors: make(map[string]map[string]bool),
		lectures:    make(map[string]bool),
		nowF:        func() time.Time { return time.Now().UTC() },
	}
}

// AddLecture registers a lecture with its instructor and enrolled students.
func (r *MemoryRoster) AddLecture(lectureID, instructorID string, studentIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lectures[lectureID] = true
	if r.instructors[lectureID] == nil {
		r.instructors[lectureID] = make(map[string]bool)
	}
	r.instructors[lectureID][instructorID] = true
	if r.enrolled[lectureID] == nil {
		r.enrolled[lectureID] = make(map[string]bool)
	}
	for _, s := range studentIDs {
		r.enrolled[lectureID][s] = true
	}
}

// Session resolves a session id.
func (r *MemoryRoster) Session(ctx context.Context, sessionID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// ActiveSession returns the lecture's open session, creating one on first access.
func (r *MemoryRoster) ActiveSession(ctx context.Context, lectureID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.lectures[lectureID] {
		return Session{}, ErrNotFound
	}
	if id, ok := r.active[lectureID]; ok {
		return r.sessions[id], nil
	}
	s := Session{ID: uuid.NewString(), LectureID: lectureID, OpenedAt: r.nowF()}
	r.sessions[s.ID] = s
	r.active[lectureID] = s.ID
	return s, nil
}

// IsEnrolled reports lecture membership.
func (r *MemoryRoster) IsEnrolled(ctx context.Context, lectureID, studentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enrolled[lectureID][studentID], nil
}

// IsInstructor reports whether the user teaches the lecture.
func (r *MemoryRoster) IsInstructor(ctx context.Context, lectureID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instructors[lectureID][userID], nil
}
