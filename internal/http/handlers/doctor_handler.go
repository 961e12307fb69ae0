// Doctor HTTP handlers.
//
// This file exposes REST endpoints for the doctor directory, the
// doctor-patient link, and the doctor's work queues:
//   - GET    /doctors                 (directory)
//   - GET    /doctors/{id}            (single profile)
//   - GET    /me/doctor               (current link)
//   - POST   /me/doctor               (select a doctor)
//   - PUT    /me/doctor               (change doctor, guarded)
//   - GET    /me/doctor/history       (reassignment audit trail)
//   - GET    /doctor/patients         (dashboard of linked patients)
//   - GET    /doctor/cases            (assigned cases, optional status filter)
//   - GET    /doctor/pending          (triage queue, oldest first)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dermassist/telederm-backend/internal/domain"
)

// SelectDoctorRequest is the JSON payload for selecting or changing a doctor.
type SelectDoctorRequest struct {
	// DoctorID identifies the target doctor.
	DoctorID string `json:"doctor_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// Reason optionally explains a change; ignored on first selection.
	Reason string `json:"reason" example:"Moved to a new city"`
}

// ListDoctors godoc
// @ID          listDoctors
// @Summary     List the doctor directory
// @Description Returns all registered doctors as presentation-ready entries, ordered by name.
// @Tags        Doctors
// @Produce     json
//
// @Success     200  {array}  services.DoctorEntry
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /doctors [get]
func (h *Handlers) ListDoctors(c *gin.Context) {
	entries, err := h.doctors.Directory(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, entries)
}

// GetDoctor godoc
// @ID          getDoctor
// @Summary     Get one doctor profile
// @Tags        Doctors
// @Produce     json
//
// @Param       id  path  string  true  "Doctor ID (UUID)"  format(uuid)
//
// @Success     200  {object} services.DoctorEntry
// @Failure     404  {object} handlers.ErrorResponse "Doctor not found"
// @Router      /doctors/{id} [get]
func (h *Handlers) GetDoctor(c *gin.Context) {
	doctorID := c.Param("id")
	if _, err := uuid.Parse(doctorID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "doctor id must be a UUID")
		return
	}
	entry, err := h.doctors.Profile(c.Request.Context(), doctorID)
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, entry)
}

// MyDoctor godoc
// @ID          myDoctor
// @Summary     Get the current doctor link
// @Tags        Doctors
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object} domain.PatientDoctorLink
// @Failure     404  {object} handlers.ErrorResponse "No doctor linked"
// @Router      /me/doctor [get]
func (h *Handlers) MyDoctor(c *gin.Context) {
	link, err := h.assignment.CurrentDoctor(c.Request.Context(), userID(c))
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, link)
}

// SelectDoctor godoc
// @ID          selectDoctor
// @Summary     Select a doctor
// @Description Links the calling patient to a doctor. Selecting while already linked updates the link in place.
// @Tags        Doctors
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.SelectDoctorRequest  true  "Doctor selection payload"
//
// @Success     201  {object} domain.PatientDoctorLink
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Doctor not found"
// @Router      /me/doctor [post]
func (h *Handlers) SelectDoctor(c *gin.Context) {
	var req SelectDoctorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "doctor_id required")
		return
	}
	if _, err := uuid.Parse(req.DoctorID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "doctor_id must be a UUID")
		return
	}

	res, err := h.assignment.SelectDoctor(c.Request.Context(), userID(c), req.DoctorID)
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusCreated, res.Link)
}

// ChangeDoctor godoc
// @ID          changeDoctor
// @Summary     Change the linked doctor
// @Description Moves the link to a new doctor. Blocked with 409 while any case is pending or accepted; every change is recorded in the audit trail.
// @Tags        Doctors
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.SelectDoctorRequest  true  "Doctor change payload"
//
// @Success     200  {object} domain.PatientDoctorLink
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "No link or doctor not found"
// @Failure     409  {object} handlers.ErrorResponse "Change blocked by an active case, or same doctor"
// @Router      /me/doctor [put]
func (h *Handlers) ChangeDoctor(c *gin.Context) {
	var req SelectDoctorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "doctor_id required")
		return
	}
	if _, err := uuid.Parse(req.DoctorID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "doctor_id must be a UUID")
		return
	}

	res, err := h.assignment.ChangeDoctor(c.Request.Context(), userID(c), req.DoctorID, req.Reason)
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, res.Link)
}

// DoctorChangeHistory godoc
// @ID          doctorChangeHistory
// @Summary     Get the doctor reassignment history
// @Tags        Doctors
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {array}  domain.DoctorChangeLog
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /me/doctor/history [get]
func (h *Handlers) DoctorChangeHistory(c *gin.Context) {
	entries, err := h.assignment.ChangeHistory(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, entries)
}

// DoctorPatients godoc
// @ID          doctorPatients
// @Summary     List linked patients (doctor dashboard)
// @Description Returns every patient linked to the calling doctor with open case counts and the latest case.
// @Tags        Doctors
// @Produce     json
//
// @Param       X-User-ID  header  string  false "Doctor ID (demo header)"  example(doc123)
//
// @Success     200  {array}  services.PatientSummary
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /doctor/patients [get]
func (h *Handlers) DoctorPatients(c *gin.Context) {
	summaries, err := h.doctors.Patients(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, summaries)
}

// DoctorCases godoc
// @ID          doctorCases
// @Summary     List assigned cases
// @Description Returns the doctor's assigned cases, optionally filtered with ?status=pending|accepted|reviewed.
// @Tags        Doctors
// @Produce     json
//
// @Param       X-User-ID  header  string  false "Doctor ID (demo header)"      example(doc123)
// @Param       status     query   string  false "Review status filter"         Enums(pending, accepted, reviewed)
//
// @Success     200  {object} handlers.ListCasesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /doctor/cases [get]
func (h *Handlers) DoctorCases(c *gin.Context) {
	var status *domain.ReviewStatus
	if raw := c.Query("status"); raw != "" {
		s := domain.ReviewStatus(raw)
		switch s {
		case domain.ReviewNone, domain.ReviewPending, domain.ReviewAccepted, domain.ReviewReviewed:
			status = &s
		default:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status filter")
			return
		}
	}

	items, err := h.workflow.ListForDoctor(c.Request.Context(), userID(c), status)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, ListCasesResponse{Cases: items})
}

// PendingCases godoc
// @ID          pendingCases
// @Summary     List the triage queue
// @Description Returns every case awaiting a doctor, oldest first, so reviews are claimed in arrival order.
// @Tags        Doctors
// @Produce     json
//
// @Success     200  {object} handlers.ListCasesResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /doctor/pending [get]
func (h *Handlers) PendingCases(c *gin.Context) {
	items, err := h.workflow.ListPendingTriage(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, ListCasesResponse{Cases: items})
}
