// Package domain defines the persistence models for the teledermatology
// consultation workflow: users, doctor profiles, cases (one per analysis
// report), chat messages, doctor-patient links, and the doctor change audit
// log. These types are mapped with GORM and form the core data layer of the
// application.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Role identifies who authored an action or message.
type Role string

// Known roles. AI and system messages carry no sender identity.
const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAI      Role = "ai"
	RoleSystem  Role = "system"
)

// ReviewStatus is the case's position in the escalation lifecycle.
// It only moves forward: none → pending → accepted → reviewed.
type ReviewStatus string

// Review lifecycle states.
const (
	ReviewNone     ReviewStatus = "none"
	ReviewPending  ReviewStatus = "pending"
	ReviewAccepted ReviewStatus = "accepted"
	ReviewReviewed ReviewStatus = "reviewed"
)

// LinkStatus is the state of a doctor-patient link.
type LinkStatus string

// Link states. A patient has at most one active link at any time.
const (
	LinkActive  LinkStatus = "active"
	LinkDeleted LinkStatus = "deleted"
)

// User is a registered patient or doctor. Credential handling lives outside
// this engine; the row only carries identity and role.
type User struct {
	ID        string    `json:"id"    gorm:"type:char(36);primaryKey"`
	Email     string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Role      Role      `json:"role"  gorm:"type:varchar(16);not null;check:role IN ('patient','doctor')"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// DoctorProfile holds the public-facing details for a doctor user.
type DoctorProfile struct {
	ID         string `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID     string `json:"user_id"     gorm:"type:char(36);not null;uniqueIndex"`
	FullName   string `json:"full_name"   gorm:"type:varchar(255);not null"`
	ClinicName string `json:"clinic_name" gorm:"type:varchar(255)"`
	Bio        string `json:"bio"         gorm:"type:text"`
	AvatarURL  string `json:"avatar_url"  gorm:"type:varchar(512)"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DoctorProfile.
func (DoctorProfile) TableName() string { return "doctor_profiles" }

// Case is one analysis report and its consultation workflow state.
//
// Invariants:
//   - DoctorActive is true iff ReviewStatus == accepted.
//   - A patient has at most one case in {pending, accepted} at any time.
//   - PatientID becomes nil only through anonymization; workflow fields
//     (ReviewStatus, Condition, Confidence) survive anonymization.
//   - PatientRating and PatientFeedback are settable exactly once, after
//     the review completes.
type Case struct {
	ID        string  `json:"id"         gorm:"type:char(36);primaryKey"`
	PatientID *string `json:"patient_id" gorm:"type:char(36);index:idx_patient_cases"`
	DoctorID  *string `json:"doctor_id"  gorm:"type:char(36);index"`

	// Structured analysis captured at case creation.
	Condition      string  `json:"condition"      gorm:"type:varchar(255)"`
	Confidence     float64 `json:"confidence"`
	Recommendation string  `json:"recommendation" gorm:"type:text"`
	ReportJSON     string  `json:"report_json"    gorm:"type:text"`
	ImageURL       string  `json:"image_url"      gorm:"type:varchar(512)"`

	ReviewStatus ReviewStatus `json:"review_status" gorm:"type:varchar(16);not null;default:'none';index;check:review_status IN ('none','pending','accepted','reviewed')"`
	DoctorActive bool         `json:"doctor_active" gorm:"not null;default:false"`

	PatientRating   *int    `json:"patient_rating,omitempty"   gorm:"check:patient_rating IS NULL OR (patient_rating >= 1 AND patient_rating <= 5)"`
	PatientFeedback *string `json:"patient_feedback,omitempty" gorm:"type:text"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Case.
func (Case) TableName() string { return "cases" }

// ChatMessage is a single utterance within a case's transcript. Messages are
// append-only and totally ordered by (CreatedAt, ID); anonymization replaces
// the text of patient messages but never their position or timestamp.
//
// SenderID is set iff SenderRole is patient or doctor.
type ChatMessage struct {
	ID         string  `json:"id"          gorm:"type:char(36);primaryKey"`
	CaseID     string  `json:"case_id"     gorm:"type:char(36);not null;index:idx_case_msgs,priority:1"`
	SenderID   *string `json:"sender_id"   gorm:"type:char(36)"`
	SenderRole Role    `json:"sender_role" gorm:"type:varchar(16);not null;check:sender_role IN ('patient','doctor','ai','system')"`
	Body       string  `json:"message"     gorm:"column:message;type:text;not null"`

	CreatedAt time.Time `json:"created_at" gorm:"index:idx_case_msgs,priority:2"`

	Case Case `json:"-" gorm:"foreignKey:CaseID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatMessage.
func (ChatMessage) TableName() string { return "chat_messages" }

// PatientDoctorLink records which doctor currently owns a patient's
// escalations. At most one link row exists per patient; changing the linked
// doctor is guarded by the assignment service.
type PatientDoctorLink struct {
	ID        string     `json:"id"         gorm:"type:char(36);primaryKey"`
	PatientID string     `json:"patient_id" gorm:"type:char(36);not null;uniqueIndex"`
	DoctorID  string     `json:"doctor_id"  gorm:"type:char(36);not null;index"`
	Status    LinkStatus `json:"status"     gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','deleted')"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName returns the database table name for PatientDoctorLink.
func (PatientDoctorLink) TableName() string { return "patient_doctor_links" }

// DoctorChangeLog is the immutable audit trail of doctor reassignments.
// Rows are created once per successful change and never mutated.
type DoctorChangeLog struct {
	ID          string    `json:"id"            gorm:"type:char(36);primaryKey"`
	PatientID   string    `json:"patient_id"    gorm:"type:char(36);not null;index"`
	OldDoctorID string    `json:"old_doctor_id" gorm:"type:char(36);not null"`
	NewDoctorID string    `json:"new_doctor_id" gorm:"type:char(36);not null"`
	Reason      string    `json:"reason"        gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for DoctorChangeLog.
func (DoctorChangeLog) TableName() string { return "doctor_change_logs" }

// ActiveReviewStatuses are the states in which a doctor is (or is about to
// be) actively involved with a case. A case in one of these states blocks
// doctor reassignment for its patient.
var ActiveReviewStatuses = []ReviewStatus{ReviewPending, ReviewAccepted}

// HasSenderIdentity reports whether messages from this role carry a sender id.
func (r Role) HasSenderIdentity() bool {
	return r == RolePatient || r == RoleDoctor
}
