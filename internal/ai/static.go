// Static Generator used when no model endpoint is configured, and by tests.
package ai

import (
	"context"
	"fmt"
	"strings"
)

// Static is a deterministic Generator. It echoes a cautious canned reply and
// a fixed analysis. Err, when set, is returned from every call so failure
// paths can be exercised.
type Static struct {
	// ReplyText overrides the generated reply when non-empty.
	ReplyText string
	// Result overrides the generated analysis when non-nil.
	Result *Analysis
	// Err, when non-nil, is returned by both Reply and Analyze.
	Err error
}

// Reply implements Generator.
func (s *Static) Reply(_ context.Context, analysisContext, message string, _ []Turn) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	if s.ReplyText != "" {
		return s.ReplyText, nil
	}
	condition := "your skin condition"
	if c := conditionFrom(analysisContext); c != "" {
		condition = c
	}
	return fmt.Sprintf(
		"Based on the preliminary analysis of %s, I can share general information only. %s",
		condition, DefaultDisclaimer,
	), nil
}

// Analyze implements Generator.
func (s *Static) Analyze(context.Context, []byte, string) (*Analysis, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Result != nil {
		return s.Result, nil
	}
	return &Analysis{
		Condition:       "Unknown",
		Confidence:      0,
		Severity:        "Unknown",
		Characteristics: []string{},
		Recommendation:  "Please consult a dermatologist for a full assessment.",
		Disclaimer:      DefaultDisclaimer,
	}, nil
}

// conditionFrom pulls a "condition": "..." value out of a stored analysis
// summary without requiring it to be well-formed JSON.
func conditionFrom(analysisContext string) string {
	const key = `"condition"`
	i := strings.Index(analysisContext, key)
	if i < 0 {
		return ""
	}
	rest := analysisContext[i+len(key):]
	start := strings.Index(rest, `"`)
	if start < 0 {
		return ""
	}
	end := strings.Index(rest[start+1:], `"`)
	if end < 0 {
		return ""
	}
	return rest[start+1 : start+1+end]
}
