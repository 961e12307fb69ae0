// Handler wiring and shared helpers.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. Service sentinel errors are
// mapped onto (status, code) pairs in exactly one place, svcFail, so each
// workflow conflict surfaces with a stable machine-readable code.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dermassist/telederm-backend/internal/ai"
	"github.com/dermassist/telederm-backend/internal/domain"
	"github.com/dermassist/telederm-backend/internal/services"
	"github.com/dermassist/telederm-backend/internal/session"
	"github.com/dermassist/telederm-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// WorkflowAPI defines the case state machine operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type WorkflowAPI interface {
	RequestReview(ctx context.Context, caseID, patientID string) (*domain.Case, error)
	Accept(ctx context.Context, caseID, doctorID string) (*domain.Case, error)
	Complete(ctx context.Context, caseID, doctorID string) (*domain.Case, error)
	Rate(ctx context.Context, caseID, patientID string, rating int, feedback string) (*domain.Case, error)
	Get(ctx context.Context, caseID, userID string, role domain.Role) (*domain.Case, error)
	History(ctx context.Context, caseID, userID string, role domain.Role) (*domain.Case, []domain.ChatMessage, error)
	HistoryPage(ctx context.Context, caseID, userID string, role domain.Role, page, pageSize int) (*domain.Case, []domain.ChatMessage, int64, error)
	ListForPatient(ctx context.Context, patientID string) ([]domain.Case, error)
	ListForDoctor(ctx context.Context, doctorID string, status *domain.ReviewStatus) ([]domain.Case, error)
	ListPendingTriage(ctx context.Context) ([]domain.Case, error)
}

// ChatAPI defines message arbitration consumed by HTTP handlers.
type ChatAPI interface {
	Send(ctx context.Context, caseID, senderID string, role domain.Role, text string) (*services.SendResult, error)
}

// IntakeAPI defines case creation from image analysis and trial migration.
type IntakeAPI interface {
	Analyze(ctx context.Context, patientID string, image []byte, mimeType, imageURL string) (*domain.Case, *ai.Analysis, error)
	MigrateSession(ctx context.Context, patientID string, snap *session.Snapshot) (*domain.Case, error)
}

// AssignmentAPI defines doctor link operations consumed by HTTP handlers.
type AssignmentAPI interface {
	SelectDoctor(ctx context.Context, patientID, doctorID string) (*services.AssignmentResult, error)
	ChangeDoctor(ctx context.Context, patientID, newDoctorID, reason string) (*services.AssignmentResult, error)
	CurrentDoctor(ctx context.Context, patientID string) (*domain.PatientDoctorLink, error)
	ChangeHistory(ctx context.Context, patientID string) ([]domain.DoctorChangeLog, error)
}

// DoctorAPI defines directory and dashboard reads consumed by HTTP handlers.
type DoctorAPI interface {
	Directory(ctx context.Context) ([]services.DoctorEntry, error)
	Profile(ctx context.Context, doctorID string) (*services.DoctorEntry, error)
	Patients(ctx context.Context, doctorID string) ([]services.PatientSummary, error)
}

// LifecycleAPI defines patient data erasure consumed by HTTP handlers.
type LifecycleAPI interface {
	ErasePatient(ctx context.Context, patientID string) (*services.ErasureReport, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for cases, chat, doctors, trial
// sessions, and account lifecycle. It depends on abstract service interfaces
// to keep transport concerns separate from business logic.
type Handlers struct {
	workflow   WorkflowAPI
	chat       ChatAPI
	intake     IntakeAPI
	assignment AssignmentAPI
	doctors    DoctorAPI
	lifecycle  LifecycleAPI
	ai         ai.Generator
	sessions   *session.Store
}

// New constructs a Handlers instance bound to the given services.
func New(
	workflow WorkflowAPI,
	chat ChatAPI,
	intake IntakeAPI,
	assignment AssignmentAPI,
	doctors DoctorAPI,
	lifecycle LifecycleAPI,
	gen ai.Generator,
	sessions *session.Store,
) *Handlers {
	return &Handlers{
		workflow:   workflow,
		chat:       chat,
		intake:     intake,
		assignment: assignment,
		doctors:    doctors,
		lifecycle:  lifecycle,
		ai:         gen,
		sessions:   sessions,
	}
}

//
// Identity
//

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

// userRole extracts the caller's role from Gin context, falling back to the
// "X-User-Role" header and finally to patient.
func userRole(c *gin.Context) domain.Role {
	if v, ok := c.Get("userRole"); ok {
		if r, ok := v.(domain.Role); ok && r != "" {
			return r
		}
		if s, ok := v.(string); ok && s != "" {
			return domain.Role(s)
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-Role")); h == string(domain.RoleDoctor) {
			return domain.RoleDoctor
		}
	}
	return domain.RolePatient
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 50
		maxPageSize     = 200
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	return utils.ClampPage(page, pageSize, maxPageSize)
}

// svcFail translates a service sentinel error into the matching HTTP status
// and error code. Unknown errors become 500 internal_error.
func svcFail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrCaseNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "case not found")
	case errors.Is(err, services.ErrDoctorNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "doctor not found")
	case errors.Is(err, services.ErrNotYourCase):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "you do not have access to this case")
	case errors.Is(err, services.ErrNotAssignedDoctor):
		fail(c, http.StatusForbidden, ErrCodeNotAssignedDoctor, "only the assigned doctor may perform this action")
	case errors.Is(err, services.ErrNoDoctorLinked):
		fail(c, http.StatusConflict, ErrCodeNoDoctorLinked, "select a doctor before requesting a review")
	case errors.Is(err, services.ErrActiveCaseExists):
		fail(c, http.StatusConflict, ErrCodeActiveCaseExists, "another case is already under review")
	case errors.Is(err, services.ErrAlreadyResponded):
		fail(c, http.StatusConflict, ErrCodeAlreadyResponded, "this case has already been responded to")
	case errors.Is(err, services.ErrNoReviewRequested):
		fail(c, http.StatusConflict, ErrCodeNoReviewRequested, "no review has been requested for this case")
	case errors.Is(err, services.ErrNotReviewed):
		fail(c, http.StatusConflict, ErrCodeNotReviewed, "the review is not complete yet")
	case errors.Is(err, services.ErrAlreadyRated):
		fail(c, http.StatusConflict, ErrCodeAlreadyRated, "this consultation has already been rated")
	case errors.Is(err, services.ErrInvalidRating):
		fail(c, http.StatusBadRequest, ErrCodeInvalidRating, "rating must be between 1 and 5")
	case errors.Is(err, services.ErrEmptyMessage):
		fail(c, http.StatusBadRequest, ErrCodeEmptyMessage, "message must not be empty")
	case errors.Is(err, services.ErrMessageTooLong):
		fail(c, http.StatusBadRequest, ErrCodeMessageTooLong, "message exceeds the maximum length")
	case errors.Is(err, services.ErrAssignmentBlocked):
		fail(c, http.StatusConflict, ErrCodeDoctorChangeBlocked, "finish or wait for the active review before changing doctor")
	case errors.Is(err, services.ErrSameDoctor):
		fail(c, http.StatusConflict, ErrCodeSameDoctor, "this doctor is already assigned to you")
	case errors.Is(err, services.ErrNoLink):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no doctor is linked to this account")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
