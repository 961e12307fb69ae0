// Anonymous trial HTTP handlers.
//
// This file exposes the unauthenticated trial flow: a visitor analyzes one
// image, chats about the result, and can later migrate the whole session into
// a durable case after registering. Until migration everything lives in the
// in-memory session store and silently expires.
//
//   - POST /public/analyze                 (analyze an image, open a session)
//   - GET  /public/sessions/{id}           (session snapshot)
//   - POST /public/sessions/{id}/messages  (trial chat, AI always replies)
//   - POST /public/sessions/{id}/migrate   (turn the session into a case)
package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dermassist/telederm-backend/internal/ai"
	"github.com/dermassist/telederm-backend/internal/domain"
)

// TrialAnalyzeResponse returns the opened session and its analysis.
type TrialAnalyzeResponse struct {
	SessionID string       `json:"session_id"`
	Analysis  *ai.Analysis `json:"analysis"`
	ExpiresIn string       `json:"expires_in" example:"20m0s"`
}

// TrialMessageResponse returns the AI reply for a trial message.
type TrialMessageResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

// TrialSessionResponse is the snapshot of a live trial session.
type TrialSessionResponse struct {
	SessionID string         `json:"session_id"`
	Analysis  *ai.Analysis   `json:"analysis"`
	Messages  []TrialMessage `json:"messages"`
}

// TrialMessage is one trial utterance in wire form.
type TrialMessage struct {
	Role      string `json:"role"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// TrialAnalyze godoc
// @ID          trialAnalyze
// @Summary     Analyze an image anonymously
// @Description Runs the AI analysis without an account and opens a temporary session. Nothing is stored durably until the session is migrated.
// @Tags        Trial
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       image  formData  file  true  "Lesion image (JPEG/PNG, max 10MB)"
//
// @Success     201  {object} handlers.TrialAnalyzeResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     502  {object} handlers.ErrorResponse "Analysis failed"
// @Router      /public/analyze [post]
func (h *Handlers) TrialAnalyze(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image file required")
		return
	}
	defer file.Close()

	if header.Size > maxImageBytes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image exceeds the 10MB limit")
		return
	}
	img, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil || len(img) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read image")
		return
	}
	mime := header.Header.Get("Content-Type")
	if mime == "" {
		mime = "image/jpeg"
	}

	analysis, err := h.ai.Analyze(c.Request.Context(), img, mime)
	if err != nil {
		fail(c, http.StatusBadGateway, ErrCodeAnalyzeFailed, "image analysis failed, please try again")
		return
	}

	opening := analysis.Recommendation
	if analysis.Disclaimer != "" {
		opening += "\n\n" + analysis.Disclaimer
	}
	id := h.sessions.Create(analysis, "", opening)

	ok(c, http.StatusCreated, TrialAnalyzeResponse{
		SessionID: id,
		Analysis:  analysis,
		ExpiresIn: "20m0s",
	})
}

// TrialSession godoc
// @ID          trialSession
// @Summary     Get a trial session snapshot
// @Tags        Trial
// @Produce     json
//
// @Param       id  path  string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.TrialSessionResponse
// @Failure     404  {object} handlers.ErrorResponse "Session expired or unknown"
// @Router      /public/sessions/{id} [get]
func (h *Handlers) TrialSession(c *gin.Context) {
	snap, found := h.sessions.Get(c.Param("id"))
	if !found {
		fail(c, http.StatusNotFound, ErrCodeSessionExpired, "session expired or unknown")
		return
	}

	msgs := make([]TrialMessage, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		msgs = append(msgs, TrialMessage{
			Role:      string(m.Role),
			Message:   m.Body,
			CreatedAt: m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	ok(c, http.StatusOK, TrialSessionResponse{
		SessionID: snap.ID,
		Analysis:  snap.Analysis,
		Messages:  msgs,
	})
}

// TrialMessageSend godoc
// @ID          trialMessage
// @Summary     Chat within a trial session
// @Description Appends the visitor's message and returns the AI reply. No doctor is ever involved in a trial session.
// @Tags        Trial
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Session ID (UUID)"  format(uuid)
// @Param       body  body  handlers.SendMessageRequest  true  "Message payload"
//
// @Success     200  {object} handlers.TrialMessageResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Session expired or unknown"
// @Failure     502  {object} handlers.ErrorResponse "Reply failed"
// @Router      /public/sessions/{id}/messages [post]
func (h *Handlers) TrialMessageSend(c *gin.Context) {
	id := c.Param("id")

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}
	text := strings.TrimSpace(req.Message)

	snap, found := h.sessions.Get(id)
	if !found {
		fail(c, http.StatusNotFound, ErrCodeSessionExpired, "session expired or unknown")
		return
	}

	history := make([]ai.Turn, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		history = append(history, ai.Turn{Role: string(m.Role), Text: m.Body})
	}

	analysisCtx := ""
	if snap.Analysis != nil {
		analysisCtx = snap.Analysis.Condition + ": " + snap.Analysis.Recommendation
	}
	reply, err := h.ai.Reply(c.Request.Context(), analysisCtx, text, history)
	if err != nil {
		fail(c, http.StatusBadGateway, ErrCodeAnalyzeFailed, "could not generate a reply, please try again")
		return
	}

	// Record both turns; a session that expired mid-request just loses them.
	if h.sessions.Append(id, domain.RolePatient, text) {
		h.sessions.Append(id, domain.RoleAI, reply)
	}

	ok(c, http.StatusOK, TrialMessageResponse{SessionID: id, Reply: reply})
}

// TrialMigrate godoc
// @ID          trialMigrate
// @Summary     Migrate a trial session into a case
// @Description Persists the trial analysis and transcript as a case owned by the now-authenticated caller, then discards the session. A session can be migrated once.
// @Tags        Trial
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Session ID (UUID)"      format(uuid)
//
// @Success     201  {object} domain.Case
// @Failure     404  {object} handlers.ErrorResponse "Session expired or unknown"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /public/sessions/{id}/migrate [post]
func (h *Handlers) TrialMigrate(c *gin.Context) {
	snap, found := h.sessions.Take(c.Param("id"))
	if !found {
		fail(c, http.StatusNotFound, ErrCodeSessionExpired, "session expired or unknown")
		return
	}

	caseRow, err := h.intake.MigrateSession(c.Request.Context(), userID(c), snap)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusCreated, caseRow)
}
