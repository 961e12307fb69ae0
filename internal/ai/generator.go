// Package ai defines the external AI collaborator used by the consultation
// engine: image analysis at case-creation time and contextual chat replies
// while no doctor is active. The engine only depends on the Generator
// interface; concrete implementations (HTTP-backed model endpoint, static
// fallback) live alongside it.
package ai

import "context"

// Analysis is the structured result of analyzing a lesion image.
type Analysis struct {
	Condition       string   `json:"condition"`
	Confidence      float64  `json:"confidence"`
	Severity        string   `json:"severity"`
	Characteristics []string `json:"characteristics"`
	Recommendation  string   `json:"recommendation"`
	Disclaimer      string   `json:"disclaimer"`
}

// Turn is one prior utterance passed as conversation context.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Generator produces automated analyses and replies. Implementations may
// fail or exceed the caller's deadline; callers must treat both identically
// and degrade gracefully.
type Generator interface {
	// Reply generates a contextual answer to message given the stored
	// analysis summary and the transcript so far.
	Reply(ctx context.Context, analysisContext, message string, history []Turn) (string, error)

	// Analyze produces a structured result for an uploaded lesion image.
	Analyze(ctx context.Context, image []byte, mimeType string) (*Analysis, error)
}

// DefaultDisclaimer accompanies every automated analysis.
const DefaultDisclaimer = "DISCLAIMER: I am an AI assistant. This analysis is for informational purposes only and does NOT constitute a medical diagnosis. Please consult a medical professional."
