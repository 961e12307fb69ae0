package session

import (
	"testing"
	"time"

	"github.com/dermassist/telederm-backend/internal/ai"
	"github.com/dermassist/telederm-backend/internal/domain"
)

// clockStore returns a store whose clock the test advances by hand.
func clockStore(ttl time.Duration) (*Store, *time.Time) {
	s := NewStore(ttl)
	t0 := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	now := t0
	s.now = func() time.Time { return now }
	return s, &now
}

func TestCreateAndGet(t *testing.T) {
	s, _ := clockStore(time.Minute)

	id := s.Create(&ai.Analysis{Condition: "Acne"}, "/uploads/x.jpg", "Looks like acne.")
	if id == "" {
		t.Fatalf("Create must return an id")
	}

	snap, ok := s.Get(id)
	if !ok {
		t.Fatalf("fresh session must be retrievable")
	}
	if snap.Analysis.Condition != "Acne" || snap.ImageURL != "/uploads/x.jpg" {
		t.Fatalf("snapshot wrong: %+v", snap)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Role != domain.RoleAI {
		t.Fatalf("session must open with the AI analysis message")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s, _ := clockStore(time.Minute)
	id := s.Create(&ai.Analysis{}, "", "hello")

	snap, _ := s.Get(id)
	snap.Messages[0].Body = "tampered"

	again, _ := s.Get(id)
	if again.Messages[0].Body != "hello" {
		t.Fatalf("Get must hand out a copy, not the live slice")
	}
}

func TestAppendOrdersAndRefreshes(t *testing.T) {
	s, now := clockStore(time.Minute)
	id := s.Create(&ai.Analysis{}, "", "opening")

	*now = now.Add(30 * time.Second)
	if !s.Append(id, domain.RolePatient, "is it serious?") {
		t.Fatalf("append on a live session must succeed")
	}

	// The append refreshed the TTL, so 50 more seconds is still inside
	// the window measured from the last touch.
	*now = now.Add(50 * time.Second)
	snap, ok := s.Get(id)
	if !ok {
		t.Fatalf("session must survive, TTL was refreshed by Append")
	}
	if len(snap.Messages) != 2 || snap.Messages[1].Body != "is it serious?" {
		t.Fatalf("messages out of order: %+v", snap.Messages)
	}
	if !snap.Messages[1].CreatedAt.After(snap.Messages[0].CreatedAt) {
		t.Fatalf("timestamps must follow the clock")
	}
}

func TestExpiry(t *testing.T) {
	s, now := clockStore(time.Minute)
	id := s.Create(&ai.Analysis{}, "", "opening")

	*now = now.Add(61 * time.Second)
	if _, ok := s.Get(id); ok {
		t.Fatalf("session must expire after the TTL")
	}
	if s.Append(id, domain.RolePatient, "anyone?") {
		t.Fatalf("append on an expired session must fail")
	}
	if s.Len() != 0 {
		t.Fatalf("expired sessions must be pruned")
	}
}

func TestTakeIsMigrateOnce(t *testing.T) {
	s, _ := clockStore(time.Minute)
	id := s.Create(&ai.Analysis{Condition: "Eczema"}, "", "opening")

	snap, ok := s.Take(id)
	if !ok || snap.Analysis.Condition != "Eczema" {
		t.Fatalf("Take must return the session")
	}
	if _, ok := s.Take(id); ok {
		t.Fatalf("a session can be taken only once")
	}
	if _, ok := s.Get(id); ok {
		t.Fatalf("taken session must be gone")
	}
}

func TestPruneKeepsLiveNeighbors(t *testing.T) {
	s, now := clockStore(time.Minute)
	stale := s.Create(&ai.Analysis{}, "", "old")

	*now = now.Add(45 * time.Second)
	fresh := s.Create(&ai.Analysis{}, "", "new")

	*now = now.Add(30 * time.Second)
	if s.Len() != 1 {
		t.Fatalf("only the stale session should be pruned, have %d", s.Len())
	}
	if _, ok := s.Get(stale); ok {
		t.Fatalf("stale session must be gone")
	}
	if _, ok := s.Get(fresh); !ok {
		t.Fatalf("fresh session must survive the prune")
	}
}

func TestNewStoreDefaultTTL(t *testing.T) {
	if s := NewStore(0); s.ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want %v", s.ttl, DefaultTTL)
	}
	if s := NewStore(-time.Second); s.ttl != DefaultTTL {
		t.Fatalf("negative ttl must fall back to the default")
	}
}
