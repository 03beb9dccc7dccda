package presence

import "sync"

// AnomalyTracker watches redemption events for device-fingerprint collisions:
// many students resolving to one fingerprint within a session suggests a
// single relayed device marking several people present.
type AnomalyTracker struct {
	mu sync.Mutex
	// session id -> fingerprint hash -> student ids seen
	seen map[string]map[string]map[string]struct{}
}

// NewAnomalyTracker returns an empty tracker.
func NewAnomalyTracker() *AnomalyTracker {
	return &AnomalyTracker{seen: make(map[string]map[string]map[string]struct{})}
}

// Observe records the event and returns how many distinct students have used
// this fingerprint in this session. Events without a fingerprint return 0.
func (t *AnomalyTracker) Observe(ev RedemptionEvent) int {
	if ev.FingerprintHash == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	byFP, ok := t.seen[ev.SessionID]
	if !ok {
		byFP = make(map[string]map[string]struct{})
		t.seen[ev.SessionID] = byFP
	}
	students, ok := byFP[ev.FingerprintHash]
	if !ok {
		students = make(map[string]struct{})
		byFP[ev.FingerprintHash] = students
	}
	students[ev.StudentID] = struct{}{}
	return len(students)
}

// Forget drops a session's state once its window is over.
func (t *AnomalyTracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seen, sessionID)
}
