// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// PatientDoctorLink and DoctorChangeLog models, plus doctor lookups used by
// the assignment guard.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dermassist/telederm-backend/internal/domain"
)

// GetActiveLink returns the patient's active link, or ErrNotFound.
func GetActiveLink(ctx context.Context, db *gorm.DB, patientID string) (*domain.PatientDoctorLink, error) {
	var l domain.PatientDoctorLink
	err := db.WithContext(ctx).
		Where("patient_id = ? AND status = ?", patientID, domain.LinkActive).
		First(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLinkForUpdate fetches the patient's link row (any status) while holding
// an exclusive row lock. Must be called inside a transaction; concurrent
// assignment changes for the same patient serialize on this lock.
func GetLinkForUpdate(ctx context.Context, tx *gorm.DB, patientID string) (*domain.PatientDoctorLink, error) {
	var l domain.PatientDoctorLink
	err := withRowLock(tx.WithContext(ctx)).
		Where("patient_id = ?", patientID).
		First(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLink inserts a new active link for a patient.
func CreateLink(ctx context.Context, db *gorm.DB, patientID, doctorID string) (*domain.PatientDoctorLink, error) {
	l := &domain.PatientDoctorLink{
		ID:        uuid.NewString(),
		PatientID: patientID,
		DoctorID:  doctorID,
		Status:    domain.LinkActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(l).Error; err != nil {
		return nil, err
	}
	return l, nil
}

// SaveLink persists all fields of an already-loaded link row.
func SaveLink(ctx context.Context, db *gorm.DB, l *domain.PatientDoctorLink) error {
	l.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Save(l).Error
}

// ListDoctorLinks returns every link owned by doctorID, any status.
func ListDoctorLinks(ctx context.Context, db *gorm.DB, doctorID string) ([]domain.PatientDoctorLink, error) {
	var out []domain.PatientDoctorLink
	err := db.WithContext(ctx).
		Where("doctor_id = ?", doctorID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// AppendChangeLog writes one immutable audit row for a doctor reassignment.
func AppendChangeLog(ctx context.Context, db *gorm.DB, patientID, oldDoctorID, newDoctorID, reason string) error {
	entry := &domain.DoctorChangeLog{
		ID:          uuid.NewString(),
		PatientID:   patientID,
		OldDoctorID: oldDoctorID,
		NewDoctorID: newDoctorID,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(entry).Error
}

// ListChangeLog returns a patient's reassignment history, oldest first.
func ListChangeLog(ctx context.Context, db *gorm.DB, patientID string) ([]domain.DoctorChangeLog, error) {
	var out []domain.DoctorChangeLog
	err := db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// GetUser fetches a user by ID, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetDoctorWithProfile fetches a doctor user and their profile, returning
// ErrNotFound if either is missing or the user is not a doctor.
func GetDoctorWithProfile(ctx context.Context, db *gorm.DB, doctorID string) (*domain.User, *domain.DoctorProfile, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Where("id = ? AND role = ?", doctorID, domain.RoleDoctor).
		First(&u).Error
	if err != nil {
		return nil, nil, err
	}
	var p domain.DoctorProfile
	if err := db.WithContext(ctx).Where("user_id = ?", u.ID).First(&p).Error; err != nil {
		return nil, nil, err
	}
	return &u, &p, nil
}

// ListDoctors returns all doctor users joined with their profiles.
func ListDoctors(ctx context.Context, db *gorm.DB) ([]domain.DoctorProfile, error) {
	var out []domain.DoctorProfile
	err := db.WithContext(ctx).
		Joins("JOIN users ON users.id = doctor_profiles.user_id AND users.role = ?", domain.RoleDoctor).
		Order("doctor_profiles.full_name asc").
		Find(&out).Error
	return out, err
}
