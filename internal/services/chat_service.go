// Package services – ChatService
//
// This file implements chat arbitration: for every inbound case message it
// decides who, if anyone, must answer automatically. The inbound message is
// always persisted verbatim first; an AI reply is generated iff the sender
// is the patient and no doctor is active on the case. AI failures and
// timeouts never surface to the caller; the inbound message stays persisted
// and the caller receives a fallback acknowledgment, keeping the case usable
// for continued conversation with the doctor.
//
// Doctor messages never change the review status here; closing out a case is
// the explicit Complete transition on the workflow service.
package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dermassist/telederm-backend/internal/ai"
	"github.com/dermassist/telederm-backend/internal/domain"
	"github.com/dermassist/telederm-backend/internal/repo"
)

// Synchronous acknowledgments returned when no AI reply is produced.
const (
	AckToDoctor  = "Message sent to your doctor."
	AckToPatient = "Message sent to the patient."

	// ackFallback is returned when the AI call fails or times out; the
	// patient's message is already saved at that point.
	ackFallback = "Your message has been saved, but I couldn't generate a reply right now. Your doctor can still see the conversation."
)

// SendResult is the outcome of arbitrating one inbound message.
type SendResult struct {
	// Message is the persisted inbound message.
	Message *domain.ChatMessage
	// Reply is the persisted AI message, when one was generated.
	Reply *domain.ChatMessage
	// Ack is the text returned synchronously to the caller: the AI reply
	// when one exists, a direction-appropriate acknowledgment otherwise.
	Ack string
}

// ChatService arbitrates inbound case messages.
type ChatService struct {
	DB  *gorm.DB
	AI  ai.Generator
	Hub Broadcaster

	// MaxMessageRunes caps inbound message length; 0 disables the cap.
	MaxMessageRunes int
}

// NewChatService constructs a ChatService with the default message cap.
func NewChatService(db *gorm.DB, gen ai.Generator, hub Broadcaster) *ChatService {
	return &ChatService{DB: db, AI: gen, Hub: hub, MaxMessageRunes: 4000}
}

// Send validates, persists, and arbitrates one inbound message from senderID
// acting as role on caseID.
func (s *ChatService) Send(ctx context.Context, caseID, senderID string, role domain.Role, text string) (*SendResult, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("case.id", caseID),
			attribute.String("user.id", senderID),
			attribute.String("sender.role", string(role)),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(text) > s.MaxMessageRunes {
		return nil, ErrMessageTooLong
	}

	// Rule 1: only the owning patient, or a doctor who is assigned, linked,
	// or triaging a pending case.
	c, err := verifyCaseAccess(ctx, s.DB, caseID, senderID, role)
	if err != nil {
		return nil, err
	}

	// Rule 2: the inbound message is persisted verbatim, unconditionally.
	// It lives in its own write so a later AI failure cannot roll it back.
	inbound, err := repo.AppendMessage(s.DB.WithContext(ctx), caseID, &senderID, role, text)
	if err != nil {
		return nil, err
	}
	s.broadcast(caseID, inbound)

	res := &SendResult{Message: inbound}

	// Rule 4: the auto-reply gate. A doctor who has taken over suppresses
	// the AI entirely; doctor messages never get automated replies.
	if role != domain.RolePatient || c.DoctorActive {
		if role == domain.RolePatient {
			res.Ack = AckToDoctor
		} else {
			res.Ack = AckToPatient
		}
		return res, nil
	}

	// Rule 5: assemble context and delegate to the AI collaborator.
	replyText, err := s.generateReply(ctx, c, text)
	if err != nil {
		log.Warn().Err(err).Str("case_id", caseID).Msg("ai reply failed, degrading to fallback ack")
		res.Ack = ackFallback
		return res, nil
	}

	replyMsg, err := repo.AppendMessage(s.DB.WithContext(ctx), caseID, nil, domain.RoleAI, replyText)
	if err != nil {
		// The reply was generated but could not be stored; the caller
		// still gets it, and the transcript stays consistent without it.
		log.Error().Err(err).Str("case_id", caseID).Msg("persisting ai reply failed")
		res.Ack = replyText
		return res, nil
	}
	s.broadcast(caseID, replyMsg)

	res.Reply = replyMsg
	res.Ack = replyText
	return res, nil
}

// generateReply builds the conversation context (stored analysis summary
// plus prior messages in creation order) and calls the AI collaborator.
func (s *ChatService) generateReply(ctx context.Context, c *domain.Case, message string) (string, error) {
	prior, err := repo.ListMessages(s.DB.WithContext(ctx), c.ID)
	if err != nil {
		return "", err
	}
	history := make([]ai.Turn, 0, len(prior))
	for _, m := range prior {
		history = append(history, ai.Turn{Role: string(m.SenderRole), Text: m.Body})
	}
	return s.AI.Reply(ctx, analysisContext(c), message, history)
}

// analysisContext renders the stored analysis for the model prompt. The raw
// report JSON is preferred; the structured columns are the fallback.
func analysisContext(c *domain.Case) string {
	if strings.TrimSpace(c.ReportJSON) != "" {
		return c.ReportJSON
	}
	var b strings.Builder
	b.WriteString(`{"condition":"`)
	b.WriteString(c.Condition)
	b.WriteString(`","recommendation":"`)
	b.WriteString(c.Recommendation)
	b.WriteString(`"}`)
	return b.String()
}

func (s *ChatService) broadcast(caseID string, m *domain.ChatMessage) {
	if s.Hub != nil && m != nil {
		s.Hub.BroadcastMessage(caseID, m)
	}
}
