// HTTP-backed Generator talking to a model-serving endpoint.
//
// The endpoint is expected to expose two JSON routes: POST {base}/reply and
// POST {base}/analyze. The client enforces a per-call timeout on top of
// whatever deadline the caller's context already carries; a timeout surfaces
// as an ordinary error so arbitration treats it like any other failure.
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls a remote model endpoint over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient constructs a Client for the given base URL. timeout bounds each
// call; zero means 30s.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type replyRequest struct {
	Context string `json:"context"`
	Message string `json:"message"`
	History []Turn `json:"history,omitempty"`
}

type replyResponse struct {
	Reply string `json:"reply"`
}

// Reply implements Generator.
func (c *Client) Reply(ctx context.Context, analysisContext, message string, history []Turn) (string, error) {
	var out replyResponse
	err := c.post(ctx, "/reply", replyRequest{
		Context: analysisContext,
		Message: message,
		History: history,
	}, &out)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Reply) == "" {
		return "", fmt.Errorf("ai: empty reply from model endpoint")
	}
	return out.Reply, nil
}

type analyzeRequest struct {
	Image    string `json:"image"` // base64
	MimeType string `json:"mime_type"`
}

// Analyze implements Generator.
func (c *Client) Analyze(ctx context.Context, image []byte, mimeType string) (*Analysis, error) {
	var out Analysis
	err := c.post(ctx, "/analyze", analyzeRequest{
		Image:    base64.StdEncoding.EncodeToString(image),
		MimeType: mimeType,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Condition == "" {
		out.Condition = "Unknown"
	}
	if out.Recommendation == "" {
		out.Recommendation = "Please consult a dermatologist for a full assessment."
	}
	if out.Disclaimer == "" {
		out.Disclaimer = DefaultDisclaimer
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ai: model endpoint error: %s - %s", resp.Status, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
