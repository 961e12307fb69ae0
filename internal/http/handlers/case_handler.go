// Case HTTP handlers.
//
// This file exposes REST endpoints for consultation cases:
//   - POST   /cases                     (create from an uploaded image)
//   - GET    /cases                     (list own cases, ETag support)
//   - GET    /cases/{id}                (case snapshot)
//   - GET    /cases/{id}/messages       (transcript, paginated)
//   - POST   /cases/{id}/messages       (send a chat message)
//   - POST   /cases/{id}/request-review (escalate to the linked doctor)
//   - POST   /cases/{id}/accept         (doctor claims the review)
//   - POST   /cases/{id}/complete       (doctor closes the review)
//   - POST   /cases/{id}/rate           (one-shot patient rating)
package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dermassist/telederm-backend/internal/domain"
	"github.com/dermassist/telederm-backend/internal/repo"
	"github.com/dermassist/telederm-backend/internal/services"
)

// maxImageBytes caps uploaded lesion images.
const maxImageBytes = 10 << 20

// SendMessageRequest is the JSON payload for posting a chat message.
type SendMessageRequest struct {
	// Message is the utterance text (1+ chars after trimming).
	Message string `json:"message" binding:"required" example:"Is this rash contagious?"`
}

// SendMessageResponse returns the persisted message, the optional AI reply,
// and the synchronous acknowledgment text.
type SendMessageResponse struct {
	Message *domain.ChatMessage `json:"message"`
	Reply   *domain.ChatMessage `json:"reply,omitempty"`
	Ack     string              `json:"ack"`
}

// RateCaseRequest is the JSON payload for rating a completed consultation.
type RateCaseRequest struct {
	// Rating is the star value, 1 to 5.
	Rating int `json:"rating" binding:"required" example:"5"`
	// Feedback optionally carries free-text comments.
	Feedback string `json:"feedback" example:"Clear and reassuring, thank you"`
}

// ListCasesResponse wraps the caller's cases.
type ListCasesResponse struct {
	Cases []domain.Case `json:"cases"`
}

// TranscriptResponse wraps a page of a case transcript.
type TranscriptResponse struct {
	Case       *domain.Case         `json:"case"`
	Messages   []domain.ChatMessage `json:"messages"`
	Pagination Pagination           `json:"pagination"`
}

// CreateCase godoc
// @ID          createCase
// @Summary     Create a case from an uploaded image
// @Description Runs the AI analysis on the uploaded lesion image and creates a new case seeded with the result.
// @Tags        Cases
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       image      formData file   true  "Lesion image (JPEG/PNG, max 10MB)"
//
// @Success     201  {object}  domain.Case
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     502  {object}  handlers.ErrorResponse  "Analysis failed"
// @Router      /cases [post]
func (h *Handlers) CreateCase(c *gin.Context) {
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

	caseRow, _, err := h.intake.Analyze(c.Request.Context(), userID(c), img, mime, "")
	if err != nil {
		fail(c, http.StatusBadGateway, ErrCodeAnalyzeFailed, "image analysis failed, please try again")
		return
	}
	ok(c, http.StatusCreated, caseRow)
}

// ListCases godoc
// @ID          listCases
// @Summary     List own cases
// @Description Returns the caller's cases, most recent first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Cases
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
//
// @Success     200  {object} handlers.ListCasesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /cases [get]
func (h *Handlers) ListCases(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, okAssert := h.workflow.(*services.WorkflowService); okAssert {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.CasesStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"cases:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.workflow.ListForPatient(ctx, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, ListCasesResponse{Cases: items})
}

// GetCase godoc
// @ID          getCase
// @Summary     Get a case snapshot
// @Description Returns the case with its workflow state. Patients see their own cases; doctors see assigned, linked, or pending cases.
// @Tags        Cases
// @Produce     json
//
// @Param       X-User-ID    header  string  false "User ID (demo header)"   example(user123)
// @Param       X-User-Role  header  string  false "Role (patient|doctor)"   example(patient)
// @Param       id           path    string  true  "Case ID (UUID)"          format(uuid)
//
// @Success     200  {object} domain.Case
// @Failure     403  {object} handlers.ErrorResponse "Forbidden"
// @Failure     404  {object} handlers.ErrorResponse "Case not found"
// @Router      /cases/{id} [get]
func (h *Handlers) GetCase(c *gin.Context) {
	caseID := c.Param("id")
	if _, err := uuid.Parse(caseID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "case id must be a UUID")
		return
	}
	caseRow, err := h.workflow.Get(c.Request.Context(), caseID, userID(c), userRole(c))
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, caseRow)
}

// GetTranscript godoc
// @ID          getTranscript
// @Summary     Get the case transcript
// @Description Returns the case snapshot and a page of its messages in creation order.
// @Tags        Cases
// @Produce     json
//
// @Param       X-User-ID    header  string  false "User ID (demo header)"  example(user123)
// @Param       X-User-Role  header  string  false "Role (patient|doctor)"  example(patient)
// @Param       id           path    string  true  "Case ID (UUID)"         format(uuid)
// @Param       page         query   int     false "Page number"            minimum(1) default(1)
// @Param       page_size    query   int     false "Items per page"         minimum(1) maximum(200) default(50)
//
// @Success     200  {object} handlers.TranscriptResponse
// @Failure     403  {object} handlers.ErrorResponse "Forbidden"
// @Failure     404  {object} handlers.ErrorResponse "Case not found"
// @Router      /cases/{id}/messages [get]
func (h *Handlers) GetTranscript(c *gin.Context) {
	caseID := c.Param("id")
	if _, err := uuid.Parse(caseID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "case id must be a UUID")
		return
	}
	page, pageSize := clampPagination(c)

	caseRow, msgs, total, err := h.workflow.HistoryPage(c.Request.Context(), caseID, userID(c), userRole(c), page, pageSize)
	if err != nil {
		svcFail(c, err)
		return
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))

	ok(c, http.StatusOK, TranscriptResponse{
		Case:     caseRow,
		Messages: msgs,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a chat message
// @Description Persists the message and arbitrates the reply: the AI answers while no doctor is active, otherwise a plain acknowledgment is returned.
// @Tags        Cases
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID    header  string  false "User ID (demo header)"  example(user123)
// @Param       X-User-Role  header  string  false "Role (patient|doctor)"  example(patient)
// @Param       id           path    string  true  "Case ID (UUID)"         format(uuid)
// @Param       body         body    handlers.SendMessageRequest  true  "Message payload"
//
// @Success     200  {object} handlers.SendMessageResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Forbidden"
// @Failure     404  {object} handlers.ErrorResponse "Case not found"
// @Router      /cases/{id}/messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	caseID := c.Param("id")
	if _, err := uuid.Parse(caseID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "case id must be a UUID")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}

	res, err := h.chat.Send(c.Request.Context(), caseID, userID(c), userRole(c), req.Message)
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, SendMessageResponse{
		Message: res.Message,
		Reply:   res.Reply,
		Ack:     res.Ack,
	})
}

// RequestReview godoc
// @ID          requestReview
// @Summary     Request a doctor review
// @Description Escalates the case to the patient's linked doctor. Re-requesting a pending case is a no-op.
// @Tags        Workflow
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Case ID (UUID)"         format(uuid)
//
// @Success     200  {object} domain.Case
// @Failure     404  {object} handlers.ErrorResponse "Case not found"
// @Failure     409  {object} handlers.ErrorResponse "No doctor linked, active case exists, or already responded"
// @Router      /cases/{id}/request-review [post]
func (h *Handlers) RequestReview(c *gin.Context) {
	caseID := c.Param("id")
	if _, err := uuid.Parse(caseID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "case id must be a UUID")
		return
	}
	caseRow, err := h.workflow.RequestReview(c.Request.Context(), caseID, userID(c))
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, caseRow)
}

// AcceptCase godoc
// @ID          acceptCase
// @Summary     Accept a pending review
// @Description Claims the case for the calling doctor: status becomes accepted, AI replies are suppressed, and a system message is broadcast.
// @Tags        Workflow
// @Produce     json
//
// @Param       X-User-ID  header  string  false "Doctor ID (demo header)"  example(doc123)
// @Param       id         path    string  true  "Case ID (UUID)"           format(uuid)
//
// @Success     200  {object} domain.Case
// @Failure     404  {object} handlers.ErrorResponse "Case not found"
// @Failure     409  {object} handlers.ErrorResponse "No review requested"
// @Router      /cases/{id}/accept [post]
func (h *Handlers) AcceptCase(c *gin.Context) {
	caseID := c.Param("id")
	if _, err := uuid.Parse(caseID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "case id must be a UUID")
		return
	}
	caseRow, err := h.workflow.Accept(c.Request.Context(), caseID, userID(c))
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, caseRow)
}

// CompleteCase godoc
// @ID          completeCase
// @Summary     Complete a review
// @Description Closes the review: status becomes reviewed, AI replies resume, and a system message invites the patient to rate.
// @Tags        Workflow
// @Produce     json
//
// @Param       X-User-ID  header  string  false "Doctor ID (demo header)"  example(doc123)
// @Param       id         path    string  true  "Case ID (UUID)"           format(uuid)
//
// @Success     200  {object} domain.Case
// @Failure     403  {object} handlers.ErrorResponse "Not the assigned doctor"
// @Failure     404  {object} handlers.ErrorResponse "Case not found"
// @Failure     409  {object} handlers.ErrorResponse "No review requested"
// @Router      /cases/{id}/complete [post]
func (h *Handlers) CompleteCase(c *gin.Context) {
	caseID := c.Param("id")
	if _, err := uuid.Parse(caseID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "case id must be a UUID")
		return
	}
	caseRow, err := h.workflow.Complete(c.Request.Context(), caseID, userID(c))
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, caseRow)
}

// RateCase godoc
// @ID          rateCase
// @Summary     Rate a completed consultation
// @Description Records the patient's one-shot rating (1-5) with optional feedback. Only reviewed cases can be rated, exactly once.
// @Tags        Workflow
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Case ID (UUID)"         format(uuid)
// @Param       body       body    handlers.RateCaseRequest  true  "Rating payload"
//
// @Success     200  {object} domain.Case
// @Failure     400  {object} handlers.ErrorResponse "Invalid rating"
// @Failure     404  {object} handlers.ErrorResponse "Case not found"
// @Failure     409  {object} handlers.ErrorResponse "Not reviewed or already rated"
// @Router      /cases/{id}/rate [post]
func (h *Handlers) RateCase(c *gin.Context) {
	caseID := c.Param("id")
	if _, err := uuid.Parse(caseID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "case id must be a UUID")
		return
	}

	var req RateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	caseRow, err := h.workflow.Rate(c.Request.Context(), caseID, userID(c), req.Rating, req.Feedback)
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, caseRow)
}
