package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_Reply(t *testing.T) {
	var gotAuth string
	var gotReq replyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/reply" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(replyResponse{Reply: "It is usually mild."})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second)
	got, err := c.Reply(context.Background(), "Eczema: moisturize", "is it serious?", []Turn{{Role: "patient", Text: "hi"}})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got != "It is usually mild." {
		t.Fatalf("reply = %q", got)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotReq.Message != "is it serious?" || gotReq.Context != "Eczema: moisturize" || len(gotReq.History) != 1 {
		t.Fatalf("request payload wrong: %+v", gotReq)
	}
}

func TestClient_ReplyEmptyIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(replyResponse{Reply: "  "})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	if _, err := c.Reply(context.Background(), "", "hi", nil); err == nil {
		t.Fatalf("blank reply must be an error")
	}
}

func TestClient_Analyze(t *testing.T) {
	image := []byte{0xFF, 0xD8, 0xFF}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req analyzeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Image != base64.StdEncoding.EncodeToString(image) || req.MimeType != "image/jpeg" {
			t.Errorf("image payload wrong: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(Analysis{Condition: "Psoriasis", Confidence: 0.73})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	res, err := c.Analyze(context.Background(), image, "image/jpeg")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Condition != "Psoriasis" || res.Confidence != 0.73 {
		t.Fatalf("analysis wrong: %+v", res)
	}
	// Fields the endpoint omitted are backfilled.
	if res.Recommendation == "" || res.Disclaimer != DefaultDisclaimer {
		t.Fatalf("missing fields must be defaulted: %+v", res)
	}
}

func TestClient_AnalyzeUnknownCondition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Analysis{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	res, err := c.Analyze(context.Background(), []byte{1}, "image/png")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Condition != "Unknown" {
		t.Fatalf("empty condition must surface as Unknown, got %q", res.Condition)
	}
}

func TestClient_ServerErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.Reply(context.Background(), "", "hi", nil)
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("error must carry the endpoint body, got %v", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(replyResponse{Reply: "late"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 20*time.Millisecond)
	if _, err := c.Reply(context.Background(), "", "hi", nil); err == nil {
		t.Fatalf("slow endpoint must time out")
	}
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	c := NewClient("http://ai.internal/v1/", "", 0)
	if c.baseURL != "http://ai.internal/v1" {
		t.Fatalf("baseURL = %q", c.baseURL)
	}
	if c.timeout != 30*time.Second {
		t.Fatalf("zero timeout must default to 30s, got %v", c.timeout)
	}
}
