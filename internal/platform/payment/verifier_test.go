package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPVerifier_Confirmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var proof Proof
		if err := json.NewDecoder(r.Body).Decode(&proof); err != nil {
			t.Fatalf("decode proof: %v", err)
		}
		if proof.ProofReference != "0xdeadbeef" {
			t.Errorf("unexpected proof reference %q", proof.ProofReference)
		}
		json.NewEncoder(w).Encode(Verification{
			Status:               StatusConfirmed,
			ConfirmedAmountWei:   1000000000000000,
			ConfirmedRecipient:   "0xseller",
			TransactionReference: "0xdeadbeef",
			Confirmations:        5,
		})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	result, err := v.Verify(context.Background(), Proof{
		ProofReference:    "0xdeadbeef",
		ExpectedAmountWei: 1000000000000000,
		ExpectedRecipient: "0xseller",
		MinConfirmations:  3,
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", result.Status)
	}
	if result.ConfirmedAmountWei != 1000000000000000 {
		t.Errorf("unexpected amount %d", result.ConfirmedAmountWei)
	}
}

func TestHTTPVerifier_UnavailableOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	_, err := v.Verify(context.Background(), Proof{ProofReference: "0x1"})
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestHTTPVerifier_RejectsUnknownStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "maybe"})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	_, err := v.Verify(context.Background(), Proof{ProofReference: "0x1"})
	if err == nil || IsUnavailable(err) {
		t.Fatalf("expected permanent decode error, got %v", err)
	}
}
