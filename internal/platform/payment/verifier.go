// Package payment calls the external on-chain payment verification
// collaborator. The delivery engine trusts nothing from this service beyond
// what it cross-checks field by field.
package payment

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

// Status is the collaborator's view of a payment proof.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusPending   Status = "pending"
	StatusRejected  Status = "rejected"
)

// Proof identifies a payment to verify against expected terms.
type Proof struct {
	ProofReference    string `json:"proof_reference"`
	ExpectedAmountWei int64  `json:"expected_amount_wei"`
	ExpectedRecipient string `json:"expected_recipient"`
	MinConfirmations  int    `json:"min_confirmations"`
}

// Verification is the collaborator's answer. Confirmed fields must be
// compared against the expected terms by the caller; a confirmed status with
// mismatched amount or recipient is a rejection.
type Verification struct {
	Status               Status `json:"status"`
	ConfirmedAmountWei   int64  `json:"confirmed_amount_wei"`
	ConfirmedRecipient   string `json:"confirmed_recipient"`
	TransactionReference string `json:"transaction_reference"`
	Confirmations        int    `json:"confirmations"`
}

// Verifier is the payment-verification collaborator interface.
type Verifier interface {
	Verify(ctx context.Context, proof Proof) (*Verification, error)
}

// ErrUnavailable marks transient verifier failures worth retrying.
var ErrUnavailable = errors.New("payment verifier unavailable")

// IsUnavailable reports whether the error is retryable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// HTTPVerifier queries an HTTP payment-verification service.
type HTTPVerifier struct {
	endpoint   string
	httpClient *http.Client
}

// Option configures the HTTPVerifier.
type Option func(*HTTPVerifier)

// WithHTTPClient overrides the underlying HTTP client (used in tests).
func WithHTTPClient(c *http.Client) Option {
	return func(v *HTTPVerifier) { v.httpClient = c }
}

func NewHTTPVerifier(endpoint string, opts ...Option) *HTTPVerifier {
	v := &HTTPVerifier{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *HTTPVerifier) Verify(ctx context.Context, proof Proof) (*Verification, error) {
	payload, err := json.Marshal(proof)
	if err != nil {
		return nil, fmt.Errorf("marshal proof: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: upstream status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("verification request rejected: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	var verification Verification
	if err := json.Unmarshal(body, &verification); err != nil {
		return nil, fmt.Errorf("decode verification: %w", err)
	}
	switch verification.Status {
	case StatusConfirmed, StatusPending, StatusRejected:
	default:
		return nil, fmt.Errorf("unknown verification status %q", verification.Status)
	}
	return &verification, nil
}
