// Package services – DoctorService
//
// Read-side operations for the doctor directory and the doctor's dashboard.
// Directory entries are presentation-ready: missing profile fields fall back
// to friendly placeholders and display names are normalized to title case so
// clients never special-case partial profiles.
package services

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/dermassist/telederm-backend/internal/domain"
	"github.com/dermassist/telederm-backend/internal/repo"
)

// Placeholder values used when a doctor profile is incomplete.
const (
	defaultClinicName = "Clinic not provided"
	defaultBio        = "Doctor profile coming soon."
	defaultAvatarURL  = "/static/avatars/placeholder.png"
)

// DoctorEntry is one presentation-ready directory listing.
type DoctorEntry struct {
	DoctorID   string `json:"doctor_id"`
	FullName   string `json:"full_name"`
	ClinicName string `json:"clinic_name"`
	Bio        string `json:"bio"`
	AvatarURL  string `json:"avatar_url"`
}

// PatientSummary is one row on the doctor's dashboard: a linked patient and
// the review workload they currently represent.
type PatientSummary struct {
	PatientID     string       `json:"patient_id"`
	LinkedAt      string       `json:"linked_at"`
	OpenCases     int          `json:"open_cases"`
	LatestCaseID  string       `json:"latest_case_id,omitempty"`
	LatestStatus  string       `json:"latest_status,omitempty"`
	LatestCreated string       `json:"latest_created,omitempty"`
	Cases         []domain.Case `json:"cases,omitempty"`
}

// DoctorService serves the doctor directory and dashboard reads.
type DoctorService struct {
	DB *gorm.DB

	titler cases.Caser
}

// NewDoctorService constructs a DoctorService.
func NewDoctorService(db *gorm.DB) *DoctorService {
	return &DoctorService{DB: db, titler: cases.Title(language.English)}
}

// Directory returns every registered doctor as a presentation-ready entry,
// ordered by name.
func (s *DoctorService) Directory(ctx context.Context) ([]DoctorEntry, error) {
	profiles, err := repo.ListDoctors(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	out := make([]DoctorEntry, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, s.entryFrom(p))
	}
	return out, nil
}

// Profile returns a single doctor's directory entry, or ErrDoctorNotFound.
func (s *DoctorService) Profile(ctx context.Context, doctorID string) (*DoctorEntry, error) {
	_, p, err := repo.GetDoctorWithProfile(ctx, s.DB, doctorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	e := s.entryFrom(*p)
	return &e, nil
}

// Patients builds the doctor's dashboard: every linked patient with their
// open (pending or accepted) case count and the most recent case, if any.
func (s *DoctorService) Patients(ctx context.Context, doctorID string) ([]PatientSummary, error) {
	links, err := repo.ListDoctorLinks(ctx, s.DB, doctorID)
	if err != nil {
		return nil, err
	}

	out := make([]PatientSummary, 0, len(links))
	for _, l := range links {
		if l.Status != domain.LinkActive {
			continue
		}
		sum := PatientSummary{
			PatientID: l.PatientID,
			LinkedAt:  l.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
		caseRows, err := repo.ListPatientCases(ctx, s.DB, l.PatientID)
		if err != nil {
			return nil, err
		}
		for _, c := range caseRows {
			if c.ReviewStatus == domain.ReviewPending || c.ReviewStatus == domain.ReviewAccepted {
				sum.OpenCases++
			}
		}
		if len(caseRows) > 0 {
			latest := caseRows[0]
			sum.LatestCaseID = latest.ID
			sum.LatestStatus = string(latest.ReviewStatus)
			sum.LatestCreated = latest.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		sum.Cases = caseRows
		out = append(out, sum)
	}
	return out, nil
}

func (s *DoctorService) entryFrom(p domain.DoctorProfile) DoctorEntry {
	e := DoctorEntry{
		DoctorID:   p.UserID,
		FullName:   strings.TrimSpace(p.FullName),
		ClinicName: strings.TrimSpace(p.ClinicName),
		Bio:        strings.TrimSpace(p.Bio),
		AvatarURL:  strings.TrimSpace(p.AvatarURL),
	}
	if e.FullName != "" {
		e.FullName = s.titler.String(strings.ToLower(e.FullName))
	}
	if e.ClinicName == "" {
		e.ClinicName = defaultClinicName
	}
	if e.Bio == "" {
		e.Bio = defaultBio
	}
	if e.AvatarURL == "" {
		e.AvatarURL = defaultAvatarURL
	}
	return e
}
