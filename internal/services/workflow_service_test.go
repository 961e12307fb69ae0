package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dermassist/telederm-backend/internal/domain"
	"github.com/dermassist/telederm-backend/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.DoctorProfile{},
		&domain.Case{},
		&domain.ChatMessage{},
		&domain.PatientDoctorLink{},
		&domain.DoctorChangeLog{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mkUser(t *testing.T, db *gorm.DB, role domain.Role) string {
	t.Helper()
	u := domain.User{
		ID:        uuid.NewString(),
		Email:     fmt.Sprintf("%s@example.com", uuid.NewString()),
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	if role == domain.RoleDoctor {
		p := domain.DoctorProfile{
			ID:       uuid.NewString(),
			UserID:   u.ID,
			FullName: "Erika Demo",
		}
		if err := db.Create(&p).Error; err != nil {
			t.Fatalf("create profile: %v", err)
		}
	}
	return u.ID
}

func mkLinkRow(t *testing.T, db *gorm.DB, patientID, doctorID string) {
	t.Helper()
	if _, err := repo.CreateLink(context.Background(), db, patientID, doctorID); err != nil {
		t.Fatalf("create link: %v", err)
	}
}

func mkCaseRow(t *testing.T, db *gorm.DB, patientID string) *domain.Case {
	t.Helper()
	c, err := repo.CreateCase(context.Background(), db, patientID, domain.Case{
		Condition:      "Eczema",
		Confidence:     0.82,
		Recommendation: "Moisturize and monitor.",
	})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	return c
}

// recordingHub captures broadcasts for assertions.
type recordingHub struct {
	mu   sync.Mutex
	msgs []*domain.ChatMessage
}

func (h *recordingHub) BroadcastMessage(_ string, m *domain.ChatMessage) {
	h.mu.Lock()
	h.msgs = append(h.msgs, m)
	h.mu.Unlock()
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

// ---------- RequestReview ----------

func TestRequestReview_HappyPath(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	doctor := mkUser(t, db, domain.RoleDoctor)
	mkLinkRow(t, db, patient, doctor)
	c := mkCaseRow(t, db, patient)

	got, err := svc.RequestReview(ctx, c.ID, patient)
	if err != nil {
		t.Fatalf("RequestReview: %v", err)
	}
	if got.ReviewStatus != domain.ReviewPending {
		t.Fatalf("status = %s, want pending", got.ReviewStatus)
	}
	if got.DoctorID == nil || *got.DoctorID != doctor {
		t.Fatalf("doctor id not assigned from link")
	}
}

func TestRequestReview_PendingIsIdempotent(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	doctor := mkUser(t, db, domain.RoleDoctor)
	mkLinkRow(t, db, patient, doctor)
	c := mkCaseRow(t, db, patient)

	if _, err := svc.RequestReview(ctx, c.ID, patient); err != nil {
		t.Fatalf("first request: %v", err)
	}
	got, err := svc.RequestReview(ctx, c.ID, patient)
	if err != nil {
		t.Fatalf("second request should be a no-op, got: %v", err)
	}
	if got.ReviewStatus != domain.ReviewPending {
		t.Fatalf("status = %s, want pending", got.ReviewStatus)
	}
}

func TestRequestReview_NoDoctorLinked(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)

	patient := mkUser(t, db, domain.RolePatient)
	c := mkCaseRow(t, db, patient)

	_, err := svc.RequestReview(context.Background(), c.ID, patient)
	if !errors.Is(err, ErrNoDoctorLinked) {
		t.Fatalf("err = %v, want ErrNoDoctorLinked", err)
	}
}

func TestRequestReview_SecondActiveCaseBlocked(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	doctor := mkUser(t, db, domain.RoleDoctor)
	mkLinkRow(t, db, patient, doctor)
	first := mkCaseRow(t, db, patient)
	second := mkCaseRow(t, db, patient)

	if _, err := svc.RequestReview(ctx, first.ID, patient); err != nil {
		t.Fatalf("first escalation: %v", err)
	}
	_, err := svc.RequestReview(ctx, second.ID, patient)
	if !errors.Is(err, ErrActiveCaseExists) {
		t.Fatalf("err = %v, want ErrActiveCaseExists", err)
	}
}

func TestRequestReview_AfterAcceptRejected(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	doctor := mkUser(t, db, domain.RoleDoctor)
	mkLinkRow(t, db, patient, doctor)
	c := mkCaseRow(t, db, patient)

	if _, err := svc.RequestReview(ctx, c.ID, patient); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Accept(ctx, c.ID, doctor); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, err := svc.RequestReview(ctx, c.ID, patient)
	if !errors.Is(err, ErrAlreadyResponded) {
		t.Fatalf("err = %v, want ErrAlreadyResponded", err)
	}
}

func TestRequestReview_NotOwner(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)

	patient := mkUser(t, db, domain.RolePatient)
	other := mkUser(t, db, domain.RolePatient)
	c := mkCaseRow(t, db, patient)

	_, err := svc.RequestReview(context.Background(), c.ID, other)
	if !errors.Is(err, ErrNotYourCase) {
		t.Fatalf("err = %v, want ErrNotYourCase", err)
	}
}

// ---------- Accept ----------

func TestAccept_SetsDoctorActiveAndSystemMessage(t *testing.T) {
	db := newSvcDB(t)
	hub := &recordingHub{}
	svc := NewWorkflowService(db, hub)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	doctor := mkUser(t, db, domain.RoleDoctor)
	mkLinkRow(t, db, patient, doctor)
	c := mkCaseRow(t, db, patient)

	if _, err := svc.RequestReview(ctx, c.ID, patient); err != nil {
		t.Fatalf("request: %v", err)
	}
	got, err := svc.Accept(ctx, c.ID, doctor)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.ReviewStatus != domain.ReviewAccepted || !got.DoctorActive {
		t.Fatalf("state = %s/doctorActive=%v, want accepted/true", got.ReviewStatus, got.DoctorActive)
	}

	msgs, err := repo.ListMessages(db, c.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].SenderRole != domain.RoleSystem {
		t.Fatalf("expected exactly one system message, got %d", len(msgs))
	}
	if msgs[0].SenderID != nil {
		t.Fatalf("system message must carry no sender id")
	}
	if hub.count() != 1 {
		t.Fatalf("expected the system message to be broadcast once")
	}
}

func TestAccept_WithoutRequestRejected(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)

	patient := mkUser(t, db, domain.RolePatient)
	doctor := mkUser(t, db, domain.RoleDoctor)
	c := mkCaseRow(t, db, patient)

	_, err := svc.Accept(context.Background(), c.ID, doctor)
	if !errors.Is(err, ErrNoReviewRequested) {
		t.Fatalf("err = %v, want ErrNoReviewRequested", err)
	}
}

func TestAccept_SecondAcceptIsIdempotent(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	doc1 := mkUser(t, db, domain.RoleDoctor)
	doc2 := mkUser(t, db, domain.RoleDoctor)
	mkLinkRow(t, db, patient, doc1)
	c := mkCaseRow(t, db, patient)

	if _, err := svc.RequestReview(ctx, c.ID, patient); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Accept(ctx, c.ID, doc1); err != nil {
		t.Fatalf("first accept: %v", err)
	}

	// The loser of the race observes the winner's state, not an error.
	got, err := svc.Accept(ctx, c.ID, doc2)
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if got.DoctorID == nil || *got.DoctorID != doc1 {
		t.Fatalf("second accept must not steal the case")
	}

	msgs, _ := repo.ListMessages(db, c.ID)
	if len(msgs) != 1 {
		t.Fatalf("idempotent accept must not duplicate the system message, got %d", len(msgs))
	}
}

// ---------- Complete ----------

func TestComplete_FullLifecycle(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	doctor := mkUser(t, db, domain.RoleDoctor)
	mkLinkRow(t, db, patient, doctor)
	c := mkCaseRow(t, db, patient)

	if _, err := svc.RequestReview(ctx, c.ID, patient); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Accept(ctx, c.ID, doctor); err != nil {
		t.Fatalf("accept: %v", err)
	}
	got, err := svc.Complete(ctx, c.ID, doctor)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.ReviewStatus != domain.ReviewReviewed || got.DoctorActive {
		t.Fatalf("state = %s/doctorActive=%v, want reviewed/false", got.ReviewStatus, got.DoctorActive)
	}

	// reviewed is terminal: completing again is a no-op for that doctor.
	if _, err := svc.Complete(ctx, c.ID, doctor); err != nil {
		t.Fatalf("second complete should be a no-op, got: %v", err)
	}
}

func TestComplete_OnlyAssignedDoctor(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	doctor := mkUser(t, db, domain.RoleDoctor)
	stranger := mkUser(t, db, domain.RoleDoctor)
	mkLinkRow(t, db, patient, doctor)
	c := mkCaseRow(t, db, patient)

	if _, err := svc.RequestReview(ctx, c.ID, patient); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Accept(ctx, c.ID, doctor); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, err := svc.Complete(ctx, c.ID, stranger)
	if !errors.Is(err, ErrNotAssignedDoctor) {
		t.Fatalf("err = %v, want ErrNotAssignedDoctor", err)
	}
}

func TestComplete_BeforeAcceptRejected(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	doctor := mkUser(t, db, domain.RoleDoctor)
	mkLinkRow(t, db, patient, doctor)
	c := mkCaseRow(t, db, patient)

	if _, err := svc.RequestReview(ctx, c.ID, patient); err != nil {
		t.Fatalf("request: %v", err)
	}
	_, err := svc.Complete(ctx, c.ID, doctor)
	if !errors.Is(err, ErrNoReviewRequested) {
		t.Fatalf("err = %v, want ErrNoReviewRequested", err)
	}
}

// ---------- Rate ----------

func TestRate_SingleWrite(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	doctor := mkUser(t, db, domain.RoleDoctor)
	mkLinkRow(t, db, patient, doctor)
	c := mkCaseRow(t, db, patient)

	if _, err := svc.RequestReview(ctx, c.ID, patient); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Accept(ctx, c.ID, doctor); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Not reviewed yet.
	if _, err := svc.Rate(ctx, c.ID, patient, 5, ""); !errors.Is(err, ErrNotReviewed) {
		t.Fatalf("err = %v, want ErrNotReviewed", err)
	}

	if _, err := svc.Complete(ctx, c.ID, doctor); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := svc.Rate(ctx, c.ID, patient, 4, "  helpful  ")
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if got.PatientRating == nil || *got.PatientRating != 4 {
		t.Fatalf("rating not persisted")
	}
	if got.PatientFeedback == nil || *got.PatientFeedback != "helpful" {
		t.Fatalf("feedback not trimmed/persisted: %v", got.PatientFeedback)
	}

	// Exactly once.
	if _, err := svc.Rate(ctx, c.ID, patient, 5, ""); !errors.Is(err, ErrAlreadyRated) {
		t.Fatalf("err = %v, want ErrAlreadyRated", err)
	}
}

func TestRate_BoundsCheckedBeforeState(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)

	// The case does not even exist; an out-of-range value must still be a
	// validation error, never a state conflict.
	for _, v := range []int{0, 6, -1} {
		if _, err := svc.Rate(context.Background(), uuid.NewString(), "p", v, ""); !errors.Is(err, ErrInvalidRating) {
			t.Fatalf("rating %d: err = %v, want ErrInvalidRating", v, err)
		}
	}
}

// ---------- Access ----------

func TestVerifyCaseAccess_Rules(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	doctor := mkUser(t, db, domain.RoleDoctor)
	linked := mkUser(t, db, domain.RoleDoctor)
	stranger := mkUser(t, db, domain.RoleDoctor)
	mkLinkRow(t, db, patient, linked)
	c := mkCaseRow(t, db, patient)

	if _, err := svc.Get(ctx, c.ID, patient, domain.RolePatient); err != nil {
		t.Fatalf("owner must see the case: %v", err)
	}
	if _, err := svc.Get(ctx, c.ID, linked, domain.RoleDoctor); err != nil {
		t.Fatalf("linked doctor must see the case: %v", err)
	}
	if _, err := svc.Get(ctx, c.ID, stranger, domain.RoleDoctor); !errors.Is(err, ErrNotYourCase) {
		t.Fatalf("stranger doctor: err = %v, want ErrNotYourCase", err)
	}

	// Pending cases open up for triage by any doctor.
	if _, err := svc.RequestReview(ctx, c.ID, patient); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Get(ctx, c.ID, stranger, domain.RoleDoctor); err != nil {
		t.Fatalf("pending case must be visible for triage: %v", err)
	}
	_ = doctor
}

func TestListPendingTriage_OldestFirst(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)
	ctx := context.Background()

	doctor := mkUser(t, db, domain.RoleDoctor)
	p1 := mkUser(t, db, domain.RolePatient)
	p2 := mkUser(t, db, domain.RolePatient)
	mkLinkRow(t, db, p1, doctor)
	mkLinkRow(t, db, p2, doctor)

	c1 := mkCaseRow(t, db, p1)
	time.Sleep(5 * time.Millisecond)
	c2 := mkCaseRow(t, db, p2)

	if _, err := svc.RequestReview(ctx, c1.ID, p1); err != nil {
		t.Fatalf("request c1: %v", err)
	}
	if _, err := svc.RequestReview(ctx, c2.ID, p2); err != nil {
		t.Fatalf("request c2: %v", err)
	}

	queue, err := svc.ListPendingTriage(ctx)
	if err != nil {
		t.Fatalf("triage list: %v", err)
	}
	if len(queue) != 2 || queue[0].ID != c1.ID {
		t.Fatalf("triage queue must be oldest first")
	}
}

func TestHistoryPage(t *testing.T) {
	db := newSvcDB(t)
	svc := NewWorkflowService(db, nil)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	c := mkCaseRow(t, db, patient)

	for i := 0; i < 5; i++ {
		if _, err := repo.AppendMessage(db, c.ID, &patient, domain.RolePatient, fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	_, msgs, total, err := svc.HistoryPage(ctx, c.ID, patient, domain.RolePatient, 2, 2)
	if err != nil {
		t.Fatalf("history page: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(msgs) != 2 || msgs[0].Body != "msg 2" || msgs[1].Body != "msg 3" {
		t.Fatalf("page 2 wrong: %+v", msgs)
	}

	if _, _, _, err := svc.HistoryPage(ctx, c.ID, "someone-else", domain.RolePatient, 1, 10); !errors.Is(err, ErrNotYourCase) {
		t.Fatalf("access rule must apply to paged reads, got %v", err)
	}
}
