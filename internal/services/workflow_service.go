// Package services – WorkflowService
//
// This file implements the case state machine: the lifecycle of a
// consultation case from AI-only triage (none) through escalation (pending),
// doctor takeover (accepted), and close-out (reviewed), plus the one-shot
// patient rating. Every transition runs inside a single transaction that
// locks the case row and re-validates its guard against the now-current
// state, so concurrent attempts serialize and the loser receives the guard
// error for the state it actually observes.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// case/user identifiers.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dermassist/telederm-backend/internal/domain"
	"github.com/dermassist/telederm-backend/internal/repo"
)

// System message texts appended by workflow transitions.
const (
	sysMsgAccepted  = "Your doctor has accepted the review and joined the conversation. AI replies are paused."
	sysMsgCompleted = "The doctor has completed the review. You can now rate this consultation."
)

// Broadcaster delivers a freshly persisted message to every live connection
// watching a case. Implementations must be best-effort and non-blocking with
// respect to the calling request.
type Broadcaster interface {
	BroadcastMessage(caseID string, m *domain.ChatMessage)
}

// WorkflowService owns the case state machine and case/transcript reads.
type WorkflowService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Hub receives system messages produced by transitions. Optional.
	Hub Broadcaster
}

// NewWorkflowService constructs a WorkflowService.
func NewWorkflowService(db *gorm.DB, hub Broadcaster) *WorkflowService {
	return &WorkflowService{DB: db, Hub: hub}
}

// RequestReview escalates a patient-owned case from none to pending and
// assigns the patient's linked doctor.
//
// Semantics:
//   - Re-requesting while already pending is an idempotent no-op returning
//     the current state.
//   - accepted/reviewed cases are rejected with ErrAlreadyResponded.
//   - The patient must hold an active doctor link (ErrNoDoctorLinked).
//   - At most one case per patient may be pending or accepted at once
//     (ErrActiveCaseExists).
func (s *WorkflowService) RequestReview(ctx context.Context, caseID, patientID string) (*domain.Case, error) {
	ctx, span := s.startSpan(ctx, "RequestReview", caseID, patientID)
	defer span.End()

	var out *domain.Case
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockOwnCase(ctx, tx, caseID, patientID)
		if err != nil {
			return err
		}

		switch c.ReviewStatus {
		case domain.ReviewPending:
			// Idempotent: the request is already in flight.
			out = c
			return nil
		case domain.ReviewAccepted, domain.ReviewReviewed:
			return ErrAlreadyResponded
		}

		link, err := repo.GetActiveLink(ctx, tx, patientID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrNoDoctorLinked
			}
			return err
		}

		busy, err := repo.HasOtherActiveCase(ctx, tx, patientID, c.ID)
		if err != nil {
			return err
		}
		if busy {
			return ErrActiveCaseExists
		}

		c.ReviewStatus = domain.ReviewPending
		c.DoctorID = &link.DoctorID
		if err := repo.SaveCase(ctx, tx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Accept lets a doctor claim a pending case: pending → accepted,
// doctor_active set, the accepting doctor recorded, and a system message
// appended and broadcast.
//
// Any doctor may claim a pending case (claim-on-accept triage). Accepting a
// case that is already accepted or reviewed is an idempotent no-op; a case
// that was never escalated is rejected with ErrNoReviewRequested.
func (s *WorkflowService) Accept(ctx context.Context, caseID, doctorID string) (*domain.Case, error) {
	ctx, span := s.startSpan(ctx, "Accept", caseID, doctorID)
	defer span.End()

	var out *domain.Case
	var sysMsg *domain.ChatMessage
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := repo.GetCaseForUpdate(ctx, tx, caseID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrCaseNotFound
			}
			return err
		}

		switch c.ReviewStatus {
		case domain.ReviewNone:
			return ErrNoReviewRequested
		case domain.ReviewAccepted, domain.ReviewReviewed:
			// Idempotent: a concurrent accept already won; report its state.
			out = c
			return nil
		}

		c.ReviewStatus = domain.ReviewAccepted
		c.DoctorID = &doctorID
		c.DoctorActive = true
		if err := repo.SaveCase(ctx, tx, c); err != nil {
			return err
		}

		m, err := repo.AppendMessage(tx, c.ID, nil, domain.RoleSystem, sysMsgAccepted)
		if err != nil {
			return err
		}
		sysMsg = m
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.broadcast(caseID, sysMsg)
	return out, nil
}

// Complete closes out a review: accepted → reviewed, doctor_active cleared,
// system message appended and broadcast. Only the assigned doctor may
// complete; completing an already-reviewed case is an idempotent no-op for
// that doctor.
func (s *WorkflowService) Complete(ctx context.Context, caseID, doctorID string) (*domain.Case, error) {
	ctx, span := s.startSpan(ctx, "Complete", caseID, doctorID)
	defer span.End()

	var out *domain.Case
	var sysMsg *domain.ChatMessage
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := repo.GetCaseForUpdate(ctx, tx, caseID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrCaseNotFound
			}
			return err
		}

		if c.DoctorID == nil || *c.DoctorID != doctorID {
			return ErrNotAssignedDoctor
		}

		switch c.ReviewStatus {
		case domain.ReviewReviewed:
			out = c
			return nil
		case domain.ReviewNone, domain.ReviewPending:
			return ErrNoReviewRequested
		}

		c.ReviewStatus = domain.ReviewReviewed
		c.DoctorActive = false
		if err := repo.SaveCase(ctx, tx, c); err != nil {
			return err
		}

		m, err := repo.AppendMessage(tx, c.ID, nil, domain.RoleSystem, sysMsgCompleted)
		if err != nil {
			return err
		}
		sysMsg = m
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.broadcast(caseID, sysMsg)
	return out, nil
}

// Rate records the patient's one-shot rating on a reviewed case. The bounds
// check runs before any state is read so an out-of-range value is a
// validation error, not a state conflict.
func (s *WorkflowService) Rate(ctx context.Context, caseID, patientID string, rating int, feedback string) (*domain.Case, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	ctx, span := s.startSpan(ctx, "Rate", caseID, patientID)
	defer span.End()

	var out *domain.Case
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockOwnCase(ctx, tx, caseID, patientID)
		if err != nil {
			return err
		}

		if c.ReviewStatus != domain.ReviewReviewed {
			return ErrNotReviewed
		}
		if c.PatientRating != nil {
			return ErrAlreadyRated
		}

		c.PatientRating = &rating
		if fb := strings.TrimSpace(feedback); fb != "" {
			c.PatientFeedback = &fb
		}
		if err := repo.SaveCase(ctx, tx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a case after verifying the caller may see it (owner patient,
// or a doctor who is assigned, linked to the patient, or triaging a pending
// case).
func (s *WorkflowService) Get(ctx context.Context, caseID, userID string, role domain.Role) (*domain.Case, error) {
	return verifyCaseAccess(ctx, s.DB, caseID, userID, role)
}

// History returns the case's workflow snapshot and its full transcript in
// creation order, applying the same access rule as Get.
func (s *WorkflowService) History(ctx context.Context, caseID, userID string, role domain.Role) (*domain.Case, []domain.ChatMessage, error) {
	c, err := verifyCaseAccess(ctx, s.DB, caseID, userID, role)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := repo.ListMessages(s.DB.WithContext(ctx), caseID)
	if err != nil {
		return nil, nil, err
	}
	return c, msgs, nil
}

// HistoryPage returns the case snapshot plus one transcript page and the
// total message count, applying the same access rule as Get. Pages are
// 1-based and sized by the caller.
func (s *WorkflowService) HistoryPage(ctx context.Context, caseID, userID string, role domain.Role, page, pageSize int) (*domain.Case, []domain.ChatMessage, int64, error) {
	c, err := verifyCaseAccess(ctx, s.DB, caseID, userID, role)
	if err != nil {
		return nil, nil, 0, err
	}
	db := s.DB.WithContext(ctx)
	total, err := repo.CountMessages(db, caseID)
	if err != nil {
		return nil, nil, 0, err
	}
	msgs, err := repo.ListMessagesPage(db, caseID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, nil, 0, err
	}
	return c, msgs, total, nil
}

// ListForPatient returns the patient's cases, most recent first.
func (s *WorkflowService) ListForPatient(ctx context.Context, patientID string) ([]domain.Case, error) {
	return repo.ListPatientCases(ctx, s.DB, patientID)
}

// ListForDoctor returns the doctor's assigned cases, optionally filtered by
// review status.
func (s *WorkflowService) ListForDoctor(ctx context.Context, doctorID string, status *domain.ReviewStatus) ([]domain.Case, error) {
	return repo.ListDoctorCases(ctx, s.DB, doctorID, status)
}

// ListPendingTriage returns all cases awaiting a doctor, oldest first.
func (s *WorkflowService) ListPendingTriage(ctx context.Context) ([]domain.Case, error) {
	return repo.ListPendingCases(ctx, s.DB)
}

// broadcast fans a system message out to live connections, if a hub is wired.
func (s *WorkflowService) broadcast(caseID string, m *domain.ChatMessage) {
	if s.Hub != nil && m != nil {
		s.Hub.BroadcastMessage(caseID, m)
	}
}

func (s *WorkflowService) startSpan(ctx context.Context, op, caseID, userID string) (context.Context, trace.Span) {
	tr := otel.Tracer("services/WorkflowService")
	return tr.Start(ctx, op,
		trace.WithAttributes(
			attribute.String("case.id", caseID),
			attribute.String("user.id", userID),
		),
	)
}

// lockOwnCase loads a case under an exclusive lock and verifies the caller
// owns it. Anonymized cases (nil patient) are never owned.
func lockOwnCase(ctx context.Context, tx *gorm.DB, caseID, patientID string) (*domain.Case, error) {
	c, err := repo.GetCaseForUpdate(ctx, tx, caseID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCaseNotFound
		}
		return nil, err
	}
	if c.PatientID == nil || *c.PatientID != patientID {
		return nil, ErrNotYourCase
	}
	return c, nil
}

// verifyCaseAccess implements arbitration rule 1: patients see their own
// cases; doctors see cases they are assigned to, cases of patients linked to
// them, and pending cases open for triage.
func verifyCaseAccess(ctx context.Context, db *gorm.DB, caseID, userID string, role domain.Role) (*domain.Case, error) {
	c, err := repo.GetCase(ctx, db, caseID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCaseNotFound
		}
		return nil, err
	}

	switch role {
	case domain.RolePatient:
		if c.PatientID != nil && *c.PatientID == userID {
			return c, nil
		}
	case domain.RoleDoctor:
		if c.DoctorID != nil && *c.DoctorID == userID {
			return c, nil
		}
		// Unclaimed escalations are visible to any doctor for triage.
		if c.ReviewStatus == domain.ReviewPending {
			return c, nil
		}
		if c.PatientID != nil {
			link, err := repo.GetActiveLink(ctx, db, *c.PatientID)
			if err == nil && link.DoctorID == userID {
				return c, nil
			}
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return nil, err
			}
		}
	}
	return nil, ErrNotYourCase
}
