// WebSocket endpoint for live case conversations.
//
// The HTTP upgrade carries no credentials; the client authenticates by
// sending a token as the first frame. After verification the handler checks
// case access through the workflow service, registers the socket with the
// hub, and replays the full transcript so the client starts from a complete
// view. Subsequent inbound frames are chat messages routed through the chat
// service, which persists, arbitrates, and broadcasts them.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dermassist/telederm-backend/internal/domain"
	"github.com/dermassist/telederm-backend/internal/services"
)

// syncConn serializes writes to one socket. The hub's broadcasts, the ping
// loop, and the private ack path run on different goroutines, and gorilla
// permits only one concurrent writer.
type syncConn struct {
	mu sync.Mutex
	*websocket.Conn
}

func (s *syncConn) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.Conn.WriteJSON(v)
}

func (s *syncConn) writePing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.Conn.WriteMessage(websocket.PingMessage, nil)
}

// TokenVerifier resolves a bearer token to an authenticated identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID string, role domain.Role, err error)
}

const (
	authWait  = 15 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = 50 * time.Second

	maxFrameBytes = 64 << 10
)

// Additional event types emitted only on the owning socket.
const (
	EventHistory = "history"
	EventAck     = "ack"
	EventError   = "error"
)

type authFrame struct {
	Token string `json:"token"`
}

type inboundFrame struct {
	Message string `json:"message"`
}

type ackEvent struct {
	Type   string `json:"type"`
	CaseID string `json:"case_id"`
	Ack    string `json:"ack"`
}

type historyEvent struct {
	Type     string               `json:"type"`
	CaseID   string               `json:"case_id"`
	Case     *domain.Case         `json:"case"`
	Messages []domain.ChatMessage `json:"messages"`
}

type errorEvent struct {
	Type   string `json:"type"`
	CaseID string `json:"case_id"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// Handler upgrades case subscription requests and pumps frames.
type Handler struct {
	Hub      *Hub
	Verifier TokenVerifier
	Workflow *services.WorkflowService
	Chat     *services.ChatService

	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler. checkOrigin may be nil to accept any
// origin, which is appropriate behind the gateway's CORS policy.
func NewHandler(hub *Hub, verifier TokenVerifier, wf *services.WorkflowService, chat *services.ChatService, checkOrigin func(*http.Request) bool) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		Hub:      hub,
		Verifier: verifier,
		Workflow: wf,
		Chat:     chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Serve handles GET /ws/cases/:id.
func (h *Handler) Serve(c *gin.Context) {
	caseID := c.Param("id")

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Debug().Err(err).Str("case_id", caseID).Msg("websocket upgrade rejected")
		return
	}
	conn := &syncConn{Conn: raw}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	userID, role, ok := h.authenticate(c.Request.Context(), conn, caseID)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	caseRow, msgs, err := h.Workflow.History(ctx, caseID, userID, role)
	if err != nil {
		h.closeWith(conn, caseID, err)
		return
	}

	h.Hub.Register(caseID, userID, conn)
	defer h.Hub.Unregister(caseID, userID, conn)

	if err := conn.WriteJSON(historyEvent{
		Type:     EventHistory,
		CaseID:   caseID,
		Case:     caseRow,
		Messages: msgs,
	}); err != nil {
		return
	}

	done := make(chan struct{})
	go h.pingLoop(conn, done)
	defer close(done)

	h.readLoop(ctx, conn, caseID, userID, role)
}

// authenticate reads the token frame and verifies it within authWait.
func (h *Handler) authenticate(ctx context.Context, conn *syncConn, caseID string) (string, domain.Role, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(authWait))

	var frame authFrame
	if err := conn.ReadJSON(&frame); err != nil || frame.Token == "" {
		h.writeError(conn, caseID, "auth_required", "expected a token as the first frame")
		return "", "", false
	}

	userID, role, err := h.Verifier.Verify(ctx, frame.Token)
	if err != nil {
		h.writeError(conn, caseID, "auth_failed", "token rejected")
		return "", "", false
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return userID, role, true
}

// readLoop consumes inbound chat frames until the peer goes away.
func (h *Handler) readLoop(ctx context.Context, conn *syncConn, caseID, userID string, role domain.Role) {
	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("case_id", caseID).Msg("websocket read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		res, err := h.Chat.Send(ctx, caseID, userID, role, frame.Message)
		if err != nil {
			h.writeError(conn, caseID, errorCode(err), err.Error())
			continue
		}
		// Persisted messages were already fanned out by the chat service,
		// this socket included. Only the synchronous ack is private.
		if err := conn.WriteJSON(ackEvent{Type: EventAck, CaseID: caseID, Ack: res.Ack}); err != nil {
			return
		}
	}
}

func (h *Handler) pingLoop(conn *syncConn, done <-chan struct{}) {
	t := time.NewTicker(pingEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := conn.writePing(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Handler) closeWith(conn *syncConn, caseID string, err error) {
	h.writeError(conn, caseID, errorCode(err), err.Error())
}

func (h *Handler) writeError(conn *syncConn, caseID, code, detail string) {
	_ = conn.WriteJSON(errorEvent{Type: EventError, CaseID: caseID, Code: code, Detail: detail})
}

// errorCode maps service sentinels onto stable wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrCaseNotFound):
		return "case_not_found"
	case errors.Is(err, services.ErrNotYourCase):
		return "forbidden"
	case errors.Is(err, services.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, services.ErrMessageTooLong):
		return "message_too_long"
	default:
		return "internal_error"
	}
}
