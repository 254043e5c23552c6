package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medmarket/medmarket/internal/domain/listing"
	"github.com/medmarket/medmarket/internal/domain/purchase"
	"github.com/medmarket/medmarket/internal/platform/payment"
)

// stubVerifier confirms every proof against the terms it was built with.
type stubVerifier struct {
	amountWei int64
	recipient string
}

func (v *stubVerifier) Verify(_ context.Context, proof payment.Proof) (*payment.Verification, error) {
	return &payment.Verification{
		Status:               payment.StatusConfirmed,
		ConfirmedAmountWei:   v.amountWei,
		ConfirmedRecipient:   v.recipient,
		TransactionReference: "0xtx-" + proof.ProofReference,
		Confirmations:        6,
	}, nil
}

// publishTestListing sets up seller, report, artifact and an active listing.
func publishTestListing(t *testing.T, ctx context.Context, priceWei int64, payout string) (*listing.Listing, purchase.ListingSource, purchase.ArtifactProvider) {
	t.Helper()
	reports := newReportService()
	listings := newListingService(reports)
	seller := uniqueIdentity("pseller")
	registerPatient(t, ctx, seller)
	reportID := storeReportWithArtifact(t, ctx, reports, seller)

	l, err := listings.Publish(ctx, seller, listing.PublishInput{
		ReportID:            reportID,
		PriceWei:            priceWei,
		SellerPayoutAddress: payout,
	})
	if err != nil {
		t.Fatalf("publish listing: %v", err)
	}
	return l, listing.NewRepo(globalDB.Pool), reports
}

func newPurchaseService(listings purchase.ListingSource, artifacts purchase.ArtifactProvider, verifier payment.Verifier, ttl time.Duration) *purchase.Service {
	return purchase.NewService(purchase.NewRepo(globalDB.Pool), listings, artifacts, verifier,
		globalDB.Pool, nil, testLogger, ttl, 3)
}

func TestPurchaseFullFlow(t *testing.T) {
	ctx := context.Background()
	payout := uniqueWallet()
	const price = int64(5_000_000)
	l, listingSrc, artifacts := publishTestListing(t, ctx, price, payout)
	svc := newPurchaseService(listingSrc, artifacts, &stubVerifier{amountWei: price, recipient: payout}, 10*time.Minute)

	buyer := uniqueWallet()
	attempt, err := svc.Initiate(ctx, l.ID, buyer)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if attempt.State != purchase.StateInitiated {
		t.Fatalf("expected initiated state, got %s", attempt.State)
	}

	if _, err := svc.SubmitProof(ctx, attempt.ID, buyer, "proof-abc"); err != nil {
		t.Fatalf("submit proof: %v", err)
	}

	delivery, err := svc.VerifyAndDeliver(ctx, attempt.ID, buyer, "")
	if err != nil {
		t.Fatalf("verify and deliver: %v", err)
	}
	if delivery.Content == "" {
		t.Fatal("expected anonymized content in delivery")
	}
	if delivery.Record.AmountWei != price {
		t.Fatalf("record amount = %d, want %d", delivery.Record.AmountWei, price)
	}

	// The listing is sold and no longer purchasable.
	if _, err := svc.Initiate(ctx, l.ID, uniqueWallet()); !errors.Is(err, purchase.ErrListingUnavailable) {
		t.Fatalf("expected ErrListingUnavailable after sale, got %v", err)
	}

	records, total, err := svc.ListPurchases(ctx, buyer, 10, 0)
	if err != nil {
		t.Fatalf("list purchases: %v", err)
	}
	if total != 1 || len(records) != 1 {
		t.Fatalf("expected one purchase record, got total=%d len=%d", total, len(records))
	}
}

func TestPurchaseReservationContention(t *testing.T) {
	ctx := context.Background()
	payout := uniqueWallet()
	l, listingSrc, artifacts := publishTestListing(t, ctx, 1000, payout)
	svc := newPurchaseService(listingSrc, artifacts, &stubVerifier{amountWei: 1000, recipient: payout}, 10*time.Minute)

	if _, err := svc.Initiate(ctx, l.ID, uniqueWallet()); err != nil {
		t.Fatalf("first initiate: %v", err)
	}
	if _, err := svc.Initiate(ctx, l.ID, uniqueWallet()); !errors.Is(err, purchase.ErrContended) {
		t.Fatalf("expected ErrContended for second buyer, got %v", err)
	}
}

func TestPurchaseCancelReleasesListing(t *testing.T) {
	ctx := context.Background()
	payout := uniqueWallet()
	l, listingSrc, artifacts := publishTestListing(t, ctx, 1000, payout)
	svc := newPurchaseService(listingSrc, artifacts, &stubVerifier{amountWei: 1000, recipient: payout}, 10*time.Minute)

	buyer := uniqueWallet()
	attempt, err := svc.Initiate(ctx, l.ID, buyer)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := svc.Cancel(ctx, attempt.ID, buyer); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Cancelling twice is a no-op.
	if err := svc.Cancel(ctx, attempt.ID, buyer); err != nil {
		t.Fatalf("second cancel: %v", err)
	}

	if _, err := svc.Initiate(ctx, l.ID, uniqueWallet()); err != nil {
		t.Fatalf("initiate after cancel should succeed: %v", err)
	}
}

func TestPurchaseExpiredReservationIsReclaimed(t *testing.T) {
	ctx := context.Background()
	payout := uniqueWallet()
	l, listingSrc, artifacts := publishTestListing(t, ctx, 1000, payout)
	svc := newPurchaseService(listingSrc, artifacts, &stubVerifier{amountWei: 1000, recipient: payout}, time.Millisecond)

	first, err := svc.Initiate(ctx, l.ID, uniqueWallet())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	// A new buyer reclaims the listing once the deadline passes.
	svcLongTTL := newPurchaseService(listingSrc, artifacts, &stubVerifier{amountWei: 1000, recipient: payout}, 10*time.Minute)
	if _, err := svcLongTTL.Initiate(ctx, l.ID, uniqueWallet()); err != nil {
		t.Fatalf("initiate after expiry: %v", err)
	}

	got, err := svc.GetAttempt(ctx, first.ID, first.BuyerAddress)
	if err != nil {
		t.Fatalf("get first attempt: %v", err)
	}
	if got.State != purchase.StateExpired {
		t.Fatalf("expected first attempt expired, got %s", got.State)
	}
}

// TestConcurrentBuyersSingleSale drives many buyers through the full flow at
// once against the real database. The partial unique index on live attempts
// and the unique purchase record per listing must allow exactly one sale.
func TestConcurrentBuyersSingleSale(t *testing.T) {
	ctx := context.Background()
	payout := uniqueWallet()
	const price = int64(9999)
	l, listingSrc, artifacts := publishTestListing(t, ctx, price, payout)
	svc := newPurchaseService(listingSrc, artifacts, &stubVerifier{amountWei: price, recipient: payout}, 10*time.Minute)

	const buyers = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	delivered := 0

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buyer := uniqueWallet()
			attempt, err := svc.Initiate(ctx, l.ID, buyer)
			if err != nil {
				return
			}
			if _, err := svc.SubmitProof(ctx, attempt.ID, buyer, "proof-"+attempt.ID.String()); err != nil {
				return
			}
			if _, err := svc.VerifyAndDeliver(ctx, attempt.ID, buyer, ""); err != nil {
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if delivered != 1 {
		t.Fatalf("expected exactly one delivery, got %d", delivered)
	}

	var count int
	err := globalDB.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM purchase_records WHERE listing_id = $1`, l.ID).Scan(&count)
	if err != nil {
		t.Fatalf("count records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one purchase record in database, got %d", count)
	}
}

func TestPurchaseWithdrawnListingNotSold(t *testing.T) {
	ctx := context.Background()
	payout := uniqueWallet()
	l, listingSrc, artifacts := publishTestListing(t, ctx, 1000, payout)
	svc := newPurchaseService(listingSrc, artifacts, &stubVerifier{amountWei: 1000, recipient: payout}, 10*time.Minute)

	buyer := uniqueWallet()
	attempt, err := svc.Initiate(ctx, l.ID, buyer)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := svc.SubmitProof(ctx, attempt.ID, buyer, "proof-withdrawn"); err != nil {
		t.Fatalf("submit proof: %v", err)
	}

	// Seller withdraws mid-flight; the delivery transaction must roll back.
	if flipped, err := listingSrc.Deactivate(ctx, l.ID); err != nil || !flipped {
		t.Fatalf("deactivate: flipped=%v err=%v", flipped, err)
	}

	if _, err := svc.VerifyAndDeliver(ctx, attempt.ID, buyer, ""); !errors.Is(err, purchase.ErrListingUnavailable) {
		t.Fatalf("expected ErrListingUnavailable, got %v", err)
	}

	var count int
	if err := globalDB.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM purchase_records WHERE listing_id = $1`, l.ID).Scan(&count); err != nil {
		t.Fatalf("count records: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no purchase record for withdrawn listing, got %d", count)
	}

	got, err := svc.GetAttempt(ctx, attempt.ID, buyer)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if got.State != purchase.StatePaymentSubmitted {
		t.Fatalf("attempt state = %s, want payment_submitted", got.State)
	}
}

func TestPurchaseBuyerScoping(t *testing.T) {
	ctx := context.Background()
	payout := uniqueWallet()
	l, listingSrc, artifacts := publishTestListing(t, ctx, 1000, payout)
	svc := newPurchaseService(listingSrc, artifacts, &stubVerifier{amountWei: 1000, recipient: payout}, 10*time.Minute)

	attempt, err := svc.Initiate(ctx, l.ID, uniqueWallet())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := svc.GetAttempt(ctx, attempt.ID, uniqueWallet()); !errors.Is(err, purchase.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for other wallet, got %v", err)
	}
	if _, err := svc.GetAttempt(ctx, uuid.New(), uniqueWallet()); !errors.Is(err, purchase.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown attempt, got %v", err)
	}
}
