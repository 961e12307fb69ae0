// Package services – LifecycleService
//
// GDPR-style account lifecycle: when a patient exercises their right to
// erasure, their identity is detached from clinical data rather than the data
// being destroyed. Cases keep their review status and analysis fields but
// lose the patient reference and feedback text; patient chat messages are
// rewritten to a placeholder in place, preserving position and timestamps so
// doctor and AI context stays coherent; active links are marked deleted.
// The whole erasure runs in one transaction.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dermassist/telederm-backend/internal/domain"
	"github.com/dermassist/telederm-backend/internal/repo"
)

// redactedMessage replaces the text of a patient's chat messages on erasure.
const redactedMessage = "[message removed at patient's request]"

// ErasureReport summarizes what one anonymization pass touched.
type ErasureReport struct {
	CasesAnonymized  int64 `json:"cases_anonymized"`
	MessagesRedacted int64 `json:"messages_redacted"`
	LinksDeactivated int64 `json:"links_deactivated"`
}

// LifecycleService handles patient data erasure and retention cleanup.
type LifecycleService struct {
	DB *gorm.DB

	// RetentionDays bounds how long fully-anonymized cases with no doctor
	// involvement are kept before cleanup removes them. Zero disables it.
	RetentionDays int
}

// NewLifecycleService constructs a LifecycleService.
func NewLifecycleService(db *gorm.DB, retentionDays int) *LifecycleService {
	return &LifecycleService{DB: db, RetentionDays: retentionDays}
}

// ErasePatient detaches patientID from all clinical data in one transaction.
func (s *LifecycleService) ErasePatient(ctx context.Context, patientID string) (*ErasureReport, error) {
	tr := otel.Tracer("services/LifecycleService")
	ctx, span := tr.Start(ctx, "ErasePatient",
		trace.WithAttributes(attribute.String("patient.id", patientID)),
	)
	defer span.End()

	var report ErasureReport
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Matching on sender_id means rows redacted by an earlier pass
		// (sender already nil) are not touched again.
		res := tx.Model(&domain.ChatMessage{}).
			Where("sender_id = ? AND sender_role = ?", patientID, domain.RolePatient).
			Updates(map[string]any{
				"sender_id": nil,
				"message":   redactedMessage,
			})
		if res.Error != nil {
			return res.Error
		}
		report.MessagesRedacted = res.RowsAffected

		res = tx.Model(&domain.Case{}).
			Where("patient_id = ?", patientID).
			Updates(map[string]any{
				"patient_id":       nil,
				"patient_feedback": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		report.CasesAnonymized = res.RowsAffected

		res = tx.Model(&domain.PatientDoctorLink{}).
			Where("patient_id = ? AND status = ?", patientID, domain.LinkActive).
			Update("status", domain.LinkDeleted)
		if res.Error != nil {
			return res.Error
		}
		report.LinksDeactivated = res.RowsAffected
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("patient_id", patientID).
		Int64("cases", report.CasesAnonymized).
		Int64("messages", report.MessagesRedacted).
		Int64("links", report.LinksDeactivated).
		Msg("patient data anonymized")
	return &report, nil
}

// CleanupExpired soft-deletes anonymized cases that were never escalated and
// are past the retention window. It returns the number of cases removed.
func (s *LifecycleService) CleanupExpired(ctx context.Context) (int64, error) {
	if s.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.RetentionDays)

	res := s.DB.WithContext(ctx).
		Where("patient_id IS NULL AND review_status = ? AND updated_at < ?", domain.ReviewNone, cutoff).
		Delete(&domain.Case{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		log.Info().Int64("cases", res.RowsAffected).Msg("expired anonymized cases removed")
	}
	return res.RowsAffected, nil
}

// VerifyErased reports whether any identifying rows remain for patientID.
// Used by the deletion endpoint to confirm the erasure took effect.
func (s *LifecycleService) VerifyErased(ctx context.Context, patientID string) (bool, error) {
	var total int64
	err := s.DB.WithContext(ctx).
		Model(&domain.Case{}).
		Where("patient_id = ?", patientID).
		Count(&total).Error
	if err != nil {
		return false, err
	}
	if total > 0 {
		return false, nil
	}
	_, err = repo.GetActiveLink(ctx, s.DB, patientID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return false, err
	}
	return true, nil
}
