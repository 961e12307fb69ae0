// Package session holds anonymous trial consultations in memory.
//
// A visitor can analyze one image and chat about the result before creating
// an account. Nothing touches the database until the visitor registers and
// migrates the session into a durable case; until then the whole trial lives
// in this store and silently expires after the TTL. Expired sessions are
// pruned lazily on access, so no background goroutine is needed.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dermassist/telederm-backend/internal/ai"
	"github.com/dermassist/telederm-backend/internal/domain"
)

// DefaultTTL is how long an untouched trial session survives.
const DefaultTTL = 20 * time.Minute

// Message is one trial utterance, kept with its timestamp so migration can
// preserve the conversation's timeline.
type Message struct {
	Role      domain.Role
	Body      string
	CreatedAt time.Time
}

// Snapshot is a copied view of a session handed to the migration path.
type Snapshot struct {
	ID       string
	Analysis *ai.Analysis
	ImageURL string
	Messages []Message
}

type entry struct {
	analysis *ai.Analysis
	imageURL string
	messages []Message
	lastSeen time.Time
}

// Store is a concurrency-safe TTL map of trial sessions.
type Store struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]*entry

	// now is swapped in tests to control expiry.
	now func() time.Time
}

// NewStore constructs a Store. ttl <= 0 selects DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{ttl: ttl, m: make(map[string]*entry), now: time.Now}
}

// Create opens a new trial session seeded with an analysis result and its
// opening AI message, returning the session id.
func (s *Store) Create(analysis *ai.Analysis, imageURL, openingMessage string) string {
	id := uuid.NewString()
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	s.m[id] = &entry{
		analysis: analysis,
		imageURL: imageURL,
		messages: []Message{{Role: domain.RoleAI, Body: openingMessage, CreatedAt: now}},
		lastSeen: now,
	}
	return id
}

// Append records one utterance on a live session and refreshes its TTL.
// It reports false when the session does not exist or has expired.
func (s *Store) Append(id string, role domain.Role, body string) bool {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	e, ok := s.m[id]
	if !ok {
		return false
	}
	e.messages = append(e.messages, Message{Role: role, Body: body, CreatedAt: now})
	e.lastSeen = now
	return true
}

// Get returns a copied snapshot of a live session and refreshes its TTL.
func (s *Store) Get(id string) (*Snapshot, bool) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	e, ok := s.m[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = now
	return snapshotLocked(id, e), true
}

// Take removes a session and returns its final snapshot. Used by migration
// so a session cannot be migrated twice.
func (s *Store) Take(id string) (*Snapshot, bool) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	e, ok := s.m[id]
	if !ok {
		return nil, false
	}
	delete(s.m, id)
	return snapshotLocked(id, e), true
}

// Len reports the number of live sessions after pruning.
func (s *Store) Len() int {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	return len(s.m)
}

func (s *Store) pruneLocked(now time.Time) {
	for id, e := range s.m {
		if now.Sub(e.lastSeen) > s.ttl {
			delete(s.m, id)
		}
	}
}

func snapshotLocked(id string, e *entry) *Snapshot {
	msgs := make([]Message, len(e.messages))
	copy(msgs, e.messages)
	return &Snapshot{
		ID:       id,
		Analysis: e.analysis,
		ImageURL: e.imageURL,
		Messages: msgs,
	}
}
