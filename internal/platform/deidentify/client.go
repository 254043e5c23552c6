// Package deidentify calls the external text de-identification collaborator.
// The collaborator output is untrusted: callers must run the policy
// post-filter on it before persisting anything.
package deidentify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request carries the raw text and structured hints to the collaborator.
type Request struct {
	ReportType string
	RawContent string
	// Hints are structured identifiers already known to the caller (owner
	// identity, record numbers) that the collaborator must remove.
	Hints []string
}

// Response is the collaborator's de-identified output.
type Response struct {
	AnonymizedContent string
	ModelVersion      string
}

// Client is the de-identification collaborator interface.
type Client interface {
	Deidentify(ctx context.Context, req Request) (*Response, error)
}

// ErrTransient marks failures worth retrying (timeouts, rate limits,
// upstream 5xx). Everything else is permanent for the attempt.
var ErrTransient = errors.New("transient de-identification failure")

// IsTransient reports whether the error is retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

const systemPrompt = `You are a medical text de-identification engine. Remove every direct identifier from the input: names of patients, relatives and clinicians, addresses and geographic subdivisions below state level, all dates tied to the patient except year, phone and fax numbers, email addresses, social security numbers, medical record numbers, account and license numbers, device and vehicle identifiers, URLs, IP addresses, and biometric identifiers. Replace each with a neutral placeholder (Patient_001, Doctor_A, Hospital_X, MRN_XXXX, [Year-YYYY]). Preserve all medical content: conditions, symptoms, procedures, medications, lab values, treatments and timelines. Output only the rewritten de-identified text.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// HTTPClient calls a chat-completions style de-identification API.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Option configures the HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient overrides the underlying HTTP client (used in tests).
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.httpClient = c }
}

func NewHTTPClient(endpoint, apiKey, model string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) Deidentify(ctx context.Context, req Request) (*Response, error) {
	user := req.RawContent
	if len(req.Hints) > 0 {
		// Hints ride along so the collaborator can catch structured
		// identifiers that do not look like prose.
		hintBlock, _ := json.Marshal(req.Hints)
		user = fmt.Sprintf("Known identifiers to remove: %s\n\nReport type: %s\n\n%s", hintBlock, req.ReportType, req.RawContent)
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
		MaxTokens:   2000,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: upstream status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("de-identification request rejected: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransient, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("empty response from de-identification service")
	}

	model := parsed.Model
	if model == "" {
		model = c.model
	}
	return &Response{
		AnonymizedContent: parsed.Choices[0].Message.Content,
		ModelVersion:      model,
	}, nil
}
