// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Case model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a case is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Locking:
//   - GetCaseForUpdate acquires an exclusive row lock (SELECT ... FOR UPDATE)
//     so workflow transitions can re-validate preconditions serially. Callers
//     must run it inside a transaction.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dermassist/telederm-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// withRowLock adds SELECT ... FOR UPDATE on dialects that support it.
// SQLite rejects the syntax; its single-writer transaction model already
// serializes competing updates, so the clause is skipped there.
func withRowLock(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// CreateCase inserts a new Case row for patientID seeded with the analysis
// fields. The case ID is a randomly generated UUID and CreatedAt is UTC.
func CreateCase(ctx context.Context, db *gorm.DB, patientID string, c domain.Case) (*domain.Case, error) {
	c.ID = uuid.NewString()
	c.PatientID = &patientID
	c.ReviewStatus = domain.ReviewNone
	c.DoctorActive = false
	c.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCase fetches a single case by its ID, or ErrNotFound if missing.
func GetCase(ctx context.Context, db *gorm.DB, id string) (*domain.Case, error) {
	var c domain.Case
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCaseForUpdate fetches a case by ID while holding an exclusive row lock.
// Must be called inside a transaction; concurrent transition attempts on the
// same case serialize on this lock.
func GetCaseForUpdate(ctx context.Context, tx *gorm.DB, id string) (*domain.Case, error) {
	var c domain.Case
	err := withRowLock(tx.WithContext(ctx)).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveCase persists all fields of an already-loaded case row.
func SaveCase(ctx context.Context, db *gorm.DB, c *domain.Case) error {
	c.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Save(c).Error
}

// ListPatientCases returns all cases owned by patientID, most recent first.
func ListPatientCases(ctx context.Context, db *gorm.DB, patientID string) ([]domain.Case, error) {
	var out []domain.Case
	err := db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// ListDoctorCases returns cases assigned to doctorID, optionally filtered by
// review status, most recent first.
func ListDoctorCases(ctx context.Context, db *gorm.DB, doctorID string, status *domain.ReviewStatus) ([]domain.Case, error) {
	q := db.WithContext(ctx).Where("doctor_id = ?", doctorID)
	if status != nil {
		q = q.Where("review_status = ?", *status)
	}
	var out []domain.Case
	err := q.Order("created_at desc").Find(&out).Error
	return out, err
}

// ListPendingCases returns every case awaiting triage, oldest first, so any
// doctor can claim work in arrival order.
func ListPendingCases(ctx context.Context, db *gorm.DB) ([]domain.Case, error) {
	var out []domain.Case
	err := db.WithContext(ctx).
		Where("review_status = ?", domain.ReviewPending).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// HasActiveCase reports whether patientID has any case in a pending or
// accepted state. Such a case blocks doctor reassignment.
func HasActiveCase(ctx context.Context, db *gorm.DB, patientID string) (bool, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Case{}).
		Where("patient_id = ? AND review_status IN ?", patientID, domain.ActiveReviewStatuses).
		Count(&total).Error
	return total > 0, err
}

// HasOtherActiveCase is HasActiveCase excluding one case, used when that case
// itself is the one being escalated.
func HasOtherActiveCase(ctx context.Context, db *gorm.DB, patientID, excludeCaseID string) (bool, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Case{}).
		Where("patient_id = ? AND id <> ? AND review_status IN ?", patientID, excludeCaseID, domain.ActiveReviewStatuses).
		Count(&total).Error
	return total > 0, err
}

// CasesStats returns the case count and most recent update time for a
// patient. Used by the list endpoint to build a weak ETag.
func CasesStats(ctx context.Context, db *gorm.DB, patientID string) (int64, *time.Time, error) {
	var total int64
	if err := db.WithContext(ctx).
		Model(&domain.Case{}).
		Where("patient_id = ?", patientID).
		Count(&total).Error; err != nil {
		return 0, nil, err
	}
	if total == 0 {
		return 0, nil, nil
	}
	// Fetch the newest row instead of MAX(updated_at): aggregate columns come
	// back as driver strings on the pure-Go sqlite driver and fail to scan
	// into time.Time.
	var latest domain.Case
	err := db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("updated_at desc").
		First(&latest).Error
	if err != nil {
		return 0, nil, err
	}
	return total, &latest.UpdatedAt, nil
}
