// Package services – IntakeService
//
// Case intake for authenticated patients: an uploaded lesion image is sent to
// the AI collaborator for analysis, the structured result is persisted as a
// new case in the none state, and the analysis summary is appended to the
// transcript as the first AI message. If analysis fails the case is not
// created; intake has no partial outcome.
package services

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dermassist/telederm-backend/internal/ai"
	"github.com/dermassist/telederm-backend/internal/domain"
	"github.com/dermassist/telederm-backend/internal/repo"
)

// IntakeService turns uploaded images into analyzed consultation cases.
type IntakeService struct {
	DB  *gorm.DB
	AI  ai.Generator
	Hub Broadcaster
}

// NewIntakeService constructs an IntakeService.
func NewIntakeService(db *gorm.DB, gen ai.Generator, hub Broadcaster) *IntakeService {
	return &IntakeService{DB: db, AI: gen, Hub: hub}
}

// Analyze runs the AI analysis on an uploaded image and persists the result
// as a new case owned by patientID. The returned case carries the structured
// analysis and the full report JSON.
func (s *IntakeService) Analyze(ctx context.Context, patientID string, image []byte, mimeType, imageURL string) (*domain.Case, *ai.Analysis, error) {
	tr := otel.Tracer("services/IntakeService")
	ctx, span := tr.Start(ctx, "Analyze",
		trace.WithAttributes(attribute.String("patient.id", patientID)),
	)
	defer span.End()

	res, err := s.AI.Analyze(ctx, image, mimeType)
	if err != nil {
		return nil, nil, fmt.Errorf("analyze image: %w", err)
	}

	c, err := s.CreateFromAnalysis(ctx, patientID, res, imageURL)
	if err != nil {
		return nil, nil, err
	}
	return c, res, nil
}

// CreateFromAnalysis persists an already-computed analysis as a new case and
// seeds the transcript with the analysis summary. Used by Analyze and by the
// anonymous session migration.
func (s *IntakeService) CreateFromAnalysis(ctx context.Context, patientID string, res *ai.Analysis, imageURL string) (*domain.Case, error) {
	report, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}

	var out *domain.Case
	var seed *domain.ChatMessage
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := repo.CreateCase(ctx, tx, patientID, domain.Case{
			Condition:      res.Condition,
			Confidence:     res.Confidence,
			Recommendation: res.Recommendation,
			ReportJSON:     string(report),
			ImageURL:       imageURL,
		})
		if err != nil {
			return err
		}
		m, err := repo.AppendMessage(tx, c.ID, nil, domain.RoleAI, analysisSummary(res))
		if err != nil {
			return err
		}
		out = c
		seed = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.Hub != nil && seed != nil {
		s.Hub.BroadcastMessage(out.ID, seed)
	}
	return out, nil
}

// analysisSummary renders the structured analysis as the transcript's opening
// AI message.
func analysisSummary(res *ai.Analysis) string {
	return fmt.Sprintf(
		"Preliminary analysis: %s (confidence %.0f%%). %s\n\n%s",
		res.Condition, res.Confidence*100, res.Recommendation, res.Disclaimer,
	)
}
