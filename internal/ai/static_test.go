package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestStatic_ReplyMentionsCondition(t *testing.T) {
	s := &Static{}
	got, err := s.Reply(context.Background(), `{"condition": "Eczema", "confidence": 0.8}`, "what is this?", nil)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if !strings.Contains(got, "Eczema") {
		t.Fatalf("reply must reference the analyzed condition: %q", got)
	}
	if !strings.Contains(got, "DISCLAIMER") {
		t.Fatalf("reply must carry the disclaimer")
	}
}

func TestStatic_ReplyWithoutCondition(t *testing.T) {
	s := &Static{}
	got, err := s.Reply(context.Background(), "no structure here", "hello", nil)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if !strings.Contains(got, "your skin condition") {
		t.Fatalf("reply must fall back to a generic phrase: %q", got)
	}
}

func TestStatic_ReplyOverride(t *testing.T) {
	s := &Static{ReplyText: "canned"}
	got, err := s.Reply(context.Background(), "", "hi", nil)
	if err != nil || got != "canned" {
		t.Fatalf("got %q, %v; want the override", got, err)
	}
}

func TestStatic_ErrPropagates(t *testing.T) {
	boom := errors.New("down")
	s := &Static{Err: boom}

	if _, err := s.Reply(context.Background(), "", "hi", nil); !errors.Is(err, boom) {
		t.Fatalf("Reply err = %v, want %v", err, boom)
	}
	if _, err := s.Analyze(context.Background(), nil, ""); !errors.Is(err, boom) {
		t.Fatalf("Analyze err = %v, want %v", err, boom)
	}
}

func TestStatic_AnalyzeDefaults(t *testing.T) {
	s := &Static{}
	res, err := s.Analyze(context.Background(), []byte{1}, "image/png")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Condition != "Unknown" || res.Disclaimer != DefaultDisclaimer {
		t.Fatalf("defaults wrong: %+v", res)
	}
	if res.Recommendation == "" {
		t.Fatalf("analysis must always recommend a next step")
	}
}

func TestStatic_AnalyzeOverride(t *testing.T) {
	want := &Analysis{Condition: "Rosacea", Confidence: 0.5}
	s := &Static{Result: want}
	res, err := s.Analyze(context.Background(), nil, "")
	if err != nil || res != want {
		t.Fatalf("override not returned")
	}
}

func TestConditionFrom(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"condition": "Eczema"}`, "Eczema"},
		{`{"condition":"Atopic Dermatitis","severity":"Mild"}`, "Atopic Dermatitis"},
		{`plain text`, ""},
		{`"condition": `, ""},
		{`"condition": "unterminated`, ""},
	}
	for _, tc := range cases {
		if got := conditionFrom(tc.in); got != tc.want {
			t.Errorf("conditionFrom(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
