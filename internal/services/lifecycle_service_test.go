package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dermassist/telederm-backend/internal/ai"
	"github.com/dermassist/telederm-backend/internal/domain"
	"github.com/dermassist/telederm-backend/internal/repo"
)

func TestErasePatient_DetachesIdentityKeepsClinicalData(t *testing.T) {
	db := newSvcDB(t)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	doctor := mkUser(t, db, domain.RoleDoctor)
	mkLinkRow(t, db, patient, doctor)
	c := mkCaseRow(t, db, patient)

	chat := NewChatService(db, &ai.Static{ReplyText: "Noted."}, nil)
	if _, err := chat.Send(ctx, c.ID, patient, domain.RolePatient, "my name is Bob"); err != nil {
		t.Fatalf("send: %v", err)
	}

	svc := NewLifecycleService(db, 0)
	report, err := svc.ErasePatient(ctx, patient)
	if err != nil {
		t.Fatalf("erase: %v", err)
	}
	if report.CasesAnonymized != 1 || report.LinksDeactivated != 1 {
		t.Fatalf("report wrong: %+v", report)
	}
	if report.MessagesRedacted != 1 {
		t.Fatalf("only the patient message should be redacted, got %d", report.MessagesRedacted)
	}

	got, err := repo.GetCase(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if got.PatientID != nil {
		t.Fatalf("patient id must be nulled")
	}
	if got.Condition != "Eczema" || got.Confidence != 0.82 {
		t.Fatalf("clinical analysis must survive anonymization")
	}

	// The transcript keeps its shape: same count, same order, patient text
	// replaced, AI text untouched.
	msgs, _ := repo.ListMessages(db, c.ID)
	if len(msgs) != 2 {
		t.Fatalf("transcript length changed: %d", len(msgs))
	}
	if msgs[0].Body != redactedMessage || msgs[0].SenderID != nil {
		t.Fatalf("patient message not redacted: %+v", msgs[0])
	}
	if msgs[1].Body != "Noted." {
		t.Fatalf("AI message must be untouched")
	}

	if _, err := repo.GetActiveLink(ctx, db, patient); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("link must be deactivated")
	}

	clean, err := svc.VerifyErased(ctx, patient)
	if err != nil || !clean {
		t.Fatalf("VerifyErased = %v, %v; want true, nil", clean, err)
	}
}

func TestCleanupExpired(t *testing.T) {
	db := newSvcDB(t)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	c := mkCaseRow(t, db, patient)

	svc := NewLifecycleService(db, 30)
	if _, err := svc.ErasePatient(ctx, patient); err != nil {
		t.Fatalf("erase: %v", err)
	}

	// Fresh anonymized case stays.
	n, err := svc.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 0 {
		t.Fatalf("fresh case must not be removed")
	}

	// Age the row past the window.
	old := time.Now().UTC().AddDate(0, 0, -60)
	if err := db.Model(&domain.Case{}).Where("id = ?", c.ID).Update("updated_at", old).Error; err != nil {
		t.Fatalf("age row: %v", err)
	}
	n, err = svc.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired case must be removed, got %d", n)
	}

	// Disabled window is a no-op.
	disabled := NewLifecycleService(db, 0)
	if n, _ := disabled.CleanupExpired(ctx); n != 0 {
		t.Fatalf("disabled retention must not delete")
	}
}

func TestCleanupExpired_KeepsEscalatedCases(t *testing.T) {
	db := newSvcDB(t)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	doctor := mkUser(t, db, domain.RoleDoctor)
	mkLinkRow(t, db, patient, doctor)
	c := mkCaseRow(t, db, patient)

	wf := NewWorkflowService(db, nil)
	if _, err := wf.RequestReview(ctx, c.ID, patient); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := wf.Accept(ctx, c.ID, doctor); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := wf.Complete(ctx, c.ID, doctor); err != nil {
		t.Fatalf("complete: %v", err)
	}

	svc := NewLifecycleService(db, 30)
	if _, err := svc.ErasePatient(ctx, patient); err != nil {
		t.Fatalf("erase: %v", err)
	}
	old := time.Now().UTC().AddDate(0, 0, -60)
	if err := db.Model(&domain.Case{}).Where("id = ?", c.ID).Update("updated_at", old).Error; err != nil {
		t.Fatalf("age row: %v", err)
	}

	// Reviewed cases carry clinical history and are never swept.
	n, err := svc.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 0 {
		t.Fatalf("reviewed case must survive retention cleanup")
	}
}
