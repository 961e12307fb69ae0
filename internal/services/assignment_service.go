// Package services – AssignmentService
//
// This file implements the doctor assignment guard: creating or moving the
// single active doctor-patient link with serializability guarantees. Both
// operations run inside one transaction holding an exclusive lock on the
// patient's link row, so a doctor change cannot interleave with a concurrent
// case acceptance, the race that would otherwise leave the case's doctor_id
// and the link disagreeing about which doctor is live. Every successful
// change appends an immutable DoctorChangeLog row; historical cases keep
// their original doctor_id.
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

// AssignmentService guards mutations of the doctor-patient link.
type AssignmentService struct {
	DB *gorm.DB
}

// NewAssignmentService constructs an AssignmentService.
func NewAssignmentService(db *gorm.DB) *AssignmentService {
	return &AssignmentService{DB: db}
}

// AssignmentResult reports the outcome of a link mutation.
type AssignmentResult struct {
	Link *domain.PatientDoctorLink
	// PreviousDoctorID is set on a change, empty on first selection.
	PreviousDoctorID string
}

// SelectDoctor links a patient to a doctor for the first time, or re-selects
// when the previous link was deleted. It follows the same locking discipline
// as ChangeDoctor but skips the active-case check since there is nothing to
// protect yet.
func (s *AssignmentService) SelectDoctor(ctx context.Context, patientID, doctorID string) (*AssignmentResult, error) {
	ctx, span := s.startSpan(ctx, "SelectDoctor", patientID, doctorID)
	defer span.End()

	var out AssignmentResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, _, err := repo.GetDoctorWithProfile(ctx, tx, doctorID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrDoctorNotFound
			}
			return err
		}

		link, err := repo.GetLinkForUpdate(ctx, tx, patientID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			created, cerr := repo.CreateLink(ctx, tx, patientID, doctorID)
			if cerr != nil {
				return cerr
			}
			out.Link = created
			return nil
		case err != nil:
			return err
		}

		// Re-selecting after deletion reuses the row; selecting while an
		// active link exists behaves as an upsert, per the original flow.
		link.DoctorID = doctorID
		link.Status = domain.LinkActive
		if err := repo.SaveLink(ctx, tx, link); err != nil {
			return err
		}
		out.Link = link
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ChangeDoctor moves the patient's active link to a new doctor.
//
// Under the link row lock it re-checks: a link exists (ErrNoLink), the
// patient has no case in a pending or accepted state (ErrAssignmentBlocked),
// the target differs from the current doctor (ErrSameDoctor), and the target
// resolves to a valid doctor profile (ErrDoctorNotFound). On success it
// appends a DoctorChangeLog entry and updates the link in place.
func (s *AssignmentService) ChangeDoctor(ctx context.Context, patientID, newDoctorID, reason string) (*AssignmentResult, error) {
	ctx, span := s.startSpan(ctx, "ChangeDoctor", patientID, newDoctorID)
	defer span.End()

	var out AssignmentResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		link, err := repo.GetLinkForUpdate(ctx, tx, patientID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrNoLink
			}
			return err
		}
		if link.Status != domain.LinkActive {
			return ErrNoLink
		}

		// The core race this guard defends against: a doctor accepting a
		// case in the same instant the patient initiates a change. The
		// check runs under the lock, so whichever transaction commits
		// first decides the outcome.
		busy, err := repo.HasActiveCase(ctx, tx, patientID)
		if err != nil {
			return err
		}
		if busy {
			return ErrAssignmentBlocked
		}

		if link.DoctorID == newDoctorID {
			return ErrSameDoctor
		}

		if _, _, err := repo.GetDoctorWithProfile(ctx, tx, newDoctorID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrDoctorNotFound
			}
			return err
		}

		oldDoctorID := link.DoctorID
		if err := repo.AppendChangeLog(ctx, tx, patientID, oldDoctorID, newDoctorID, strings.TrimSpace(reason)); err != nil {
			return err
		}

		link.DoctorID = newDoctorID
		link.Status = domain.LinkActive
		if err := repo.SaveLink(ctx, tx, link); err != nil {
			return err
		}

		out.Link = link
		out.PreviousDoctorID = oldDoctorID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentDoctor returns the patient's active link, or ErrNoLink.
func (s *AssignmentService) CurrentDoctor(ctx context.Context, patientID string) (*domain.PatientDoctorLink, error) {
	link, err := repo.GetActiveLink(ctx, s.DB, patientID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNoLink
		}
		return nil, err
	}
	return link, nil
}

// ChangeHistory returns the patient's reassignment audit trail, oldest first.
func (s *AssignmentService) ChangeHistory(ctx context.Context, patientID string) ([]domain.DoctorChangeLog, error) {
	return repo.ListChangeLog(ctx, s.DB, patientID)
}

func (s *AssignmentService) startSpan(ctx context.Context, op, patientID, doctorID string) (context.Context, trace.Span) {
	tr := otel.Tracer("services/AssignmentService")
	return tr.Start(ctx, op,
		trace.WithAttributes(
			attribute.String("patient.id", patientID),
			attribute.String("doctor.id", doctorID),
		),
	)
}
