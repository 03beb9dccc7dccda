package token

import (
	"context"
	"sync"
	"testing"
	"time"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestMemoryStore_RotateIssuesValidToken(t *testing.T) {
	s := NewMemoryStore(10 * time.Second)
	ctx := context.Background()

	tok, err := s.Rotate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if tok.SessionID != "sess-1" {
		t.Errorf("session id = %q, want %q", tok.SessionID, "sess-1")
	}
	if got := tok.ExpiresAt.Sub(tok.IssuedAt); got != 10*time.Second {
		t.Errorf("validity window = %s, want 10s", got)
	}

	ok, err := s.IsValid(ctx, "sess-1", tok.Value)
	if err != nil {
		t.Fatalf("IsValid: %v", err)
	}
	if !ok {
		t.Error("freshly rotated token should be valid")
	}
}

func TestMemoryStore_IsValid_ExactMatchOnly(t *testing.T) {
	s := NewMemoryStore(10 * time.Second)
	ctx := context.Background()

	tok, err := s.Rotate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if ok, _ := s.IsValid(ctx, "sess-1", tok.Value[:len(tok.Value)-1]); ok {
		t.Error("prefix of a token must not validate")
	}
	if ok, _ := s.IsValid(ctx, "sess-1", ""); ok {
		t.Error("empty token must not validate")
	}
	if ok, _ := s.IsValid(ctx, "sess-2", tok.Value); ok {
		t.Error("token must not validate for another session")
	}
}

func TestMemoryStore_ExpiryIsStrict(t *testing.T) {
	s := NewMemoryStore(10 * time.Second)
	ctx := context.Background()
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.nowF = fixedClock(issued)
	tok, err := s.Rotate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	s.nowF = fixedClock(issued.Add(9 * time.Second))
	if ok, _ := s.IsValid(ctx, "sess-1", tok.Value); !ok {
		t.Error("token should be valid inside the window")
	}

	// t = issued + window: current time is no longer < expires-at
	s.nowF = fixedClock(issued.Add(10 * time.Second))
	if ok, _ := s.IsValid(ctx, "sess-1", tok.Value); ok {
		t.Error("token should be invalid at the window boundary")
	}

	s.nowF = fixedClock(issued.Add(11 * time.Second))
	if ok, _ := s.IsValid(ctx, "sess-1", tok.Value); ok {
		t.Error("token should be invalid past the window")
	}
}

func TestMemoryStore_ExpiresAgainstRealClock(t *testing.T) {
	// No injected clock here: the store's own time source must advance,
	// not stay pinned to the construction instant.
	s := NewMemoryStore(40 * time.Millisecond)
	ctx := context.Background()

	tok, err := s.Rotate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if ok, _ := s.IsValid(ctx, "sess-1", tok.Value); !ok {
		t.Fatal("token should be valid right after rotation")
	}

	time.Sleep(120 * time.Millisecond)

	if ok, _ := s.IsValid(ctx, "sess-1", tok.Value); ok {
		t.Error("token with 40ms ttl should be invalid 120ms later")
	}
}

func TestMemoryStore_OverlapDuringRotation(t *testing.T) {
	s := NewMemoryStore(10 * time.Second)
	ctx := context.Background()

	first, _ := s.Rotate(ctx, "sess-1")
	second, _ := s.Rotate(ctx, "sess-1")

	ok1, _ := s.IsValid(ctx, "sess-1", first.Value)
	ok2, _ := s.IsValid(ctx, "sess-1", second.Value)
	if !ok1 || !ok2 {
		t.Error("unexpired tokens should coexist during rotation overlap")
	}
}

func TestMemoryStore_RotationPrunesExpired(t *testing.T) {
	s := NewMemoryStore(10 * time.Second)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.nowF = fixedClock(start)
	old, _ := s.Rotate(ctx, "sess-1")

	s.nowF = fixedClock(start.Add(15 * time.Second))
	if _, err := s.Rotate(ctx, "sess-1"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	s.mu.RLock()
	_, stillThere := s.m["sess-1"][old.Value]
	count := len(s.m["sess-1"])
	s.mu.RUnlock()
	if stillThere {
		t.Error("expired token should be pruned on rotation")
	}
	if count != 1 {
		t.Errorf("stored tokens = %d, want 1", count)
	}
}

func TestMemoryStore_RapidRotationBoundedGrowth(t *testing.T) {
	s := NewMemoryStore(10 * time.Second)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Rotate every 5s for 100 windows; pruning must keep the map small.
	for i := 0; i < 100; i++ {
		s.nowF = fixedClock(at.Add(time.Duration(i) * 5 * time.Second))
		if _, err := s.Rotate(ctx, "sess-1"); err != nil {
			t.Fatalf("Rotate: %v", err)
		}
	}

	s.mu.RLock()
	count := len(s.m["sess-1"])
	s.mu.RUnlock()
	if count > 2 {
		t.Errorf("stored tokens = %d, pruning should bound growth to the overlap window", count)
	}
}

func TestMemoryStore_RotationIndependentAcrossSessions(t *testing.T) {
	s := NewMemoryStore(10 * time.Second)
	ctx := context.Background()

	tokA, _ := s.Rotate(ctx, "sess-a")
	if _, err := s.Rotate(ctx, "sess-b"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if ok, _ := s.IsValid(ctx, "sess-a", tokA.Value); !ok {
		t.Error("rotating sess-b must not invalidate sess-a's token")
	}
}

func TestMemoryStore_ConcurrentRotation(t *testing.T) {
	s := NewMemoryStore(10 * time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Rotate(ctx, "sess-1"); err != nil {
				t.Errorf("Rotate: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestNewValue_EntropyAndEncoding(t *testing.T) {
	a, err := NewValue()
	if err != nil {
		t.Fatalf("NewValue: %v", err)
	}
	b, err := NewValue()
	if err != nil {
		t.Fatalf("NewValue: %v", err)
	}
	if a == b {
		t.Error("two generated values should differ")
	}
	// 32 bytes in unpadded URL-safe base64 is 43 chars
	if len(a) != 43 {
		t.Errorf("value length = %d, want 43", len(a))
	}
}
