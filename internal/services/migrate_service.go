// Package services – trial session migration
//
// When an anonymous visitor registers, their in-memory trial session becomes
// a durable case. The case row and every trial message are written in one
// transaction with the original timestamps, so the migrated transcript reads
// exactly like the trial did.
package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dermassist/telederm-backend/internal/domain"
	"github.com/dermassist/telederm-backend/internal/repo"
	"github.com/dermassist/telederm-backend/internal/session"
)

// MigrateSession persists a trial snapshot as a case owned by patientID.
func (s *IntakeService) MigrateSession(ctx context.Context, patientID string, snap *session.Snapshot) (*domain.Case, error) {
	tr := otel.Tracer("services/IntakeService")
	ctx, span := tr.Start(ctx, "MigrateSession",
		trace.WithAttributes(
			attribute.String("patient.id", patientID),
			attribute.String("session.id", snap.ID),
		),
	)
	defer span.End()

	report, err := json.Marshal(snap.Analysis)
	if err != nil {
		return nil, err
	}

	var out *domain.Case
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := repo.CreateCase(ctx, tx, patientID, domain.Case{
			Condition:      snap.Analysis.Condition,
			Confidence:     snap.Analysis.Confidence,
			Recommendation: snap.Analysis.Recommendation,
			ReportJSON:     string(report),
			ImageURL:       snap.ImageURL,
		})
		if err != nil {
			return err
		}

		// Rows are created directly so the trial timestamps survive; the
		// append helper would restamp them.
		for _, m := range snap.Messages {
			senderID := (*string)(nil)
			if m.Role.HasSenderIdentity() {
				senderID = &patientID
			}
			row := &domain.ChatMessage{
				ID:         uuid.NewString(),
				CaseID:     c.ID,
				SenderID:   senderID,
				SenderRole: m.Role,
				Body:       m.Body,
				CreatedAt:  m.CreatedAt,
			}
			if err := tx.Create(row).Error; err != nil {
				return err
			}
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
