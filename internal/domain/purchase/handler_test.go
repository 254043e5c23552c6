package purchase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/medmarket/medmarket/internal/platform/auth"
	"github.com/medmarket/medmarket/internal/platform/payment"
)

func newTestHandler() (*Handler, *mockRepo, *mockListings) {
	repo := newMockRepo()
	listings := newMockListings()
	verifier := &mockVerifier{fn: func(_ int, p payment.Proof) (*payment.Verification, error) { return confirmed(p) }}
	return NewHandler(newTestService(repo, listings, verifier)), repo, listings
}

// doJSON runs a handler with an optional wallet claim on the context, the
// way OptionalJWT sets it for authenticated buyers.
func doJSON(t *testing.T, h echo.HandlerFunc, wallet, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if wallet != "" {
		c.Set(auth.WalletKey, wallet)
	}
	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestHandlerInitiate_WalletClaimWinsOverBody(t *testing.T) {
	h, repo, listings := newTestHandler()
	l := listings.add(1000, "0xseller")

	rec := doJSON(t, h.Initiate, "0xclaimed",
		`{"listing_id":"`+l.ID.String()+`","buyer_address":"0xspoofed"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var a PurchaseAttempt
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if a.BuyerAddress != "0xclaimed" {
		t.Errorf("buyer = %q, want wallet claim 0xclaimed", a.BuyerAddress)
	}
	stored, err := repo.GetAttempt(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if stored.BuyerAddress != "0xclaimed" {
		t.Errorf("stored buyer = %q, want 0xclaimed", stored.BuyerAddress)
	}
}

func TestHandlerInitiate_AnonymousFallsBackToBody(t *testing.T) {
	h, _, listings := newTestHandler()
	l := listings.add(1000, "0xseller")

	rec := doJSON(t, h.Initiate, "",
		`{"listing_id":"`+l.ID.String()+`","buyer_address":"0xanon"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var a PurchaseAttempt
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if a.BuyerAddress != "0xanon" {
		t.Errorf("buyer = %q, want 0xanon", a.BuyerAddress)
	}
}

func TestHandlerInitiate_NoBuyerAddress(t *testing.T) {
	h, _, listings := newTestHandler()
	l := listings.add(1000, "0xseller")

	rec := doJSON(t, h.Initiate, "", `{"listing_id":"`+l.ID.String()+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without wallet or body address, got %d", rec.Code)
	}
}

func TestHandlerCancel_ClaimScopesAccess(t *testing.T) {
	h, repo, listings := newTestHandler()
	l := listings.add(1000, "0xseller")

	svc := h.svc
	a, err := svc.Initiate(context.Background(), l.ID, "0xowner")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"buyer_address":"0xowner"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	// The token says a different wallet; the spoofed body field must lose.
	c.Set(auth.WalletKey, "0xsomeoneelse")
	if err := h.Cancel(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign wallet claim, got %d", rec.Code)
	}

	got, err := repo.GetAttempt(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.State != StateInitiated {
		t.Errorf("attempt state = %s, want initiated", got.State)
	}
}
