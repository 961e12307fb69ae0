// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the ChatMessage
// model. The transcript is append-only: rows are never reordered or deleted,
// and anonymization rewrites text in place without touching timestamps.
package repo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dermassist/telederm-backend/internal/domain"
)

// AppendMessage inserts a new chat message row for a case. senderID must be
// nil for ai and system messages and set for patient and doctor messages.
func AppendMessage(db *gorm.DB, caseID string, senderID *string, role domain.Role, body string) (*domain.ChatMessage, error) {
	if !role.HasSenderIdentity() {
		senderID = nil
	}
	m := &domain.ChatMessage{
		ID:         uuid.NewString(),
		CaseID:     caseID,
		SenderID:   senderID,
		SenderRole: role,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
	return m, db.Create(m).Error
}

// ListMessages returns the full transcript ordered deterministically
// (CreatedAt ASC, ID ASC).
func ListMessages(db *gorm.DB, caseID string) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	err := db.
		Where("case_id = ?", caseID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(db *gorm.DB, caseID string) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM chat_messages WHERE case_id = ?", caseID).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated transcript slice ordered
// (CreatedAt ASC, ID ASC).
func ListMessagesPage(db *gorm.DB, caseID string, offset, limit int) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	err := db.
		Where("case_id = ?", caseID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
