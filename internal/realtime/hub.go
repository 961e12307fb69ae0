// Package realtime delivers case events to live WebSocket connections.
//
// The hub keeps a per-case registry of connections keyed by user id, so a
// reconnecting client replaces its previous socket instead of duplicating it.
// Broadcasts snapshot the registry under the lock and write outside it, so a
// slow or dead socket cannot stall the registry. A failed write deregisters
// and closes the offending connection; delivery to the remaining connections
// is unaffected.
package realtime

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dermassist/telederm-backend/internal/domain"
)

// Conn is the minimal connection surface the hub needs. *websocket.Conn
// satisfies it; tests substitute in-memory fakes.
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Event is the wire envelope pushed to subscribed clients.
type Event struct {
	Type    string              `json:"type"`
	CaseID  string              `json:"case_id"`
	Message *domain.ChatMessage `json:"message,omitempty"`
}

// Event types.
const (
	EventMessage = "message"
)

const writeWait = 10 * time.Second

// Hub is a concurrency-safe registry of live case subscriptions.
type Hub struct {
	mu    sync.RWMutex
	cases map[string]map[string]Conn // case id -> user id -> conn
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{cases: make(map[string]map[string]Conn)}
}

// Register subscribes conn to caseID under userID. A previous connection for
// the same (case, user) pair is closed and replaced.
func (h *Hub) Register(caseID, userID string, conn Conn) {
	h.mu.Lock()
	subs, ok := h.cases[caseID]
	if !ok {
		subs = make(map[string]Conn)
		h.cases[caseID] = subs
	}
	prev := subs[userID]
	subs[userID] = conn
	h.mu.Unlock()

	if prev != nil && prev != conn {
		_ = prev.Close()
	}
}

// Unregister removes the (case, user) subscription if conn is still the
// registered connection. A stale socket cannot evict its replacement.
func (h *Hub) Unregister(caseID, userID string, conn Conn) {
	h.mu.Lock()
	if subs, ok := h.cases[caseID]; ok {
		if subs[userID] == conn {
			delete(subs, userID)
			if len(subs) == 0 {
				delete(h.cases, caseID)
			}
		}
	}
	h.mu.Unlock()
}

// Subscribers returns the number of live connections on a case.
func (h *Hub) Subscribers(caseID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.cases[caseID])
}

// BroadcastMessage pushes a persisted chat message to every connection
// subscribed to its case. Implements services.Broadcaster.
func (h *Hub) BroadcastMessage(caseID string, m *domain.ChatMessage) {
	if m == nil {
		return
	}
	h.broadcast(caseID, Event{Type: EventMessage, CaseID: caseID, Message: m})
}

func (h *Hub) broadcast(caseID string, ev Event) {
	type target struct {
		userID string
		conn   Conn
	}

	h.mu.RLock()
	subs := h.cases[caseID]
	targets := make([]target, 0, len(subs))
	for uid, c := range subs {
		targets = append(targets, target{userID: uid, conn: c})
	}
	h.mu.RUnlock()

	for _, t := range targets {
		_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := t.conn.WriteJSON(ev); err != nil {
			log.Debug().
				Err(err).
				Str("case_id", caseID).
				Str("user_id", t.userID).
				Msg("websocket write failed, dropping connection")
			h.Unregister(caseID, t.userID, t.conn)
			_ = t.conn.Close()
		}
	}
}
