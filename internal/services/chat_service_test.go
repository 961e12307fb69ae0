package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dermassist/telederm-backend/internal/ai"
	"github.com/dermassist/telederm-backend/internal/domain"
	"github.com/dermassist/telederm-backend/internal/repo"
)

func TestSend_AIRepliesWhileNoDoctorActive(t *testing.T) {
	db := newSvcDB(t)
	hub := &recordingHub{}
	svc := NewChatService(db, &ai.Static{ReplyText: "That looks mild."}, hub)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	c := mkCaseRow(t, db, patient)

	res, err := svc.Send(ctx, c.ID, patient, domain.RolePatient, "Should I worry?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Reply == nil || res.Reply.SenderRole != domain.RoleAI {
		t.Fatalf("expected a persisted AI reply")
	}
	if res.Reply.SenderID != nil {
		t.Fatalf("AI message must carry no sender id")
	}
	if res.Ack != "That looks mild." {
		t.Fatalf("ack = %q, want the reply text", res.Ack)
	}

	msgs, _ := repo.ListMessages(db, c.ID)
	if len(msgs) != 2 {
		t.Fatalf("transcript = %d messages, want inbound + reply", len(msgs))
	}
	if msgs[0].SenderRole != domain.RolePatient || msgs[1].SenderRole != domain.RoleAI {
		t.Fatalf("transcript order wrong: %s then %s", msgs[0].SenderRole, msgs[1].SenderRole)
	}
	if hub.count() != 2 {
		t.Fatalf("both messages must be broadcast, got %d", hub.count())
	}
}

func TestSend_DoctorActiveSuppressesAI(t *testing.T) {
	db := newSvcDB(t)
	svc := NewChatService(db, &ai.Static{ReplyText: "should never appear"}, nil)
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

	res, err := svc.Send(ctx, c.ID, patient, domain.RolePatient, "Doctor, are you there?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Reply != nil {
		t.Fatalf("AI must stay silent while the doctor is active")
	}
	if res.Ack != AckToDoctor {
		t.Fatalf("ack = %q, want %q", res.Ack, AckToDoctor)
	}
}

func TestSend_DoctorMessagesNeverGetAIReplies(t *testing.T) {
	db := newSvcDB(t)
	svc := NewChatService(db, &ai.Static{ReplyText: "should never appear"}, nil)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	doctor := mkUser(t, db, domain.RoleDoctor)
	mkLinkRow(t, db, patient, doctor)
	c := mkCaseRow(t, db, patient)

	res, err := svc.Send(ctx, c.ID, doctor, domain.RoleDoctor, "Please send a clearer photo.")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Reply != nil {
		t.Fatalf("doctor messages must not trigger the AI")
	}
	if res.Ack != AckToPatient {
		t.Fatalf("ack = %q, want %q", res.Ack, AckToPatient)
	}
}

func TestSend_AIFailureKeepsInboundAndDegrades(t *testing.T) {
	db := newSvcDB(t)
	svc := NewChatService(db, &ai.Static{Err: errors.New("model timeout")}, nil)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	c := mkCaseRow(t, db, patient)

	res, err := svc.Send(ctx, c.ID, patient, domain.RolePatient, "Hello?")
	if err != nil {
		t.Fatalf("AI failure must not fail the send: %v", err)
	}
	if res.Reply != nil {
		t.Fatalf("no reply row expected on AI failure")
	}
	if res.Ack != ackFallback {
		t.Fatalf("ack = %q, want fallback", res.Ack)
	}

	// The patient's message survived the failure.
	msgs, _ := repo.ListMessages(db, c.ID)
	if len(msgs) != 1 || msgs[0].Body != "Hello?" {
		t.Fatalf("inbound message must be persisted despite AI failure")
	}
}

func TestSend_Validation(t *testing.T) {
	db := newSvcDB(t)
	svc := NewChatService(db, &ai.Static{}, nil)
	ctx := context.Background()

	patient := mkUser(t, db, domain.RolePatient)
	c := mkCaseRow(t, db, patient)

	if _, err := svc.Send(ctx, c.ID, patient, domain.RolePatient, "   \n\t "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}

	svc.MaxMessageRunes = 10
	if _, err := svc.Send(ctx, c.ID, patient, domain.RolePatient, strings.Repeat("x", 11)); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("err = %v, want ErrMessageTooLong", err)
	}

	// Exactly at the cap passes.
	if _, err := svc.Send(ctx, c.ID, patient, domain.RolePatient, strings.Repeat("x", 10)); err != nil {
		t.Fatalf("at-cap message should pass: %v", err)
	}
}

func TestSend_AccessDenied(t *testing.T) {
	db := newSvcDB(t)
	svc := NewChatService(db, &ai.Static{}, nil)

	patient := mkUser(t, db, domain.RolePatient)
	other := mkUser(t, db, domain.RolePatient)
	c := mkCaseRow(t, db, patient)

	if _, err := svc.Send(context.Background(), c.ID, other, domain.RolePatient, "hi"); !errors.Is(err, ErrNotYourCase) {
		t.Fatalf("err = %v, want ErrNotYourCase", err)
	}
}

func TestSend_AIResumesAfterComplete(t *testing.T) {
	db := newSvcDB(t)
	svc := NewChatService(db, &ai.Static{ReplyText: "Back with you."}, nil)
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

	res, err := svc.Send(ctx, c.ID, patient, domain.RolePatient, "One more question")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Reply == nil {
		t.Fatalf("AI must resume once the review completes")
	}
}
