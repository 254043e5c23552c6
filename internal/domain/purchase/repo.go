package purchase

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists purchase attempts and records.
type Repository interface {
	// CreateAttempt inserts a live reservation. Returns ErrContended when
	// another live attempt already holds the listing.
	CreateAttempt(ctx context.Context, a *PurchaseAttempt) error
	GetAttempt(ctx context.Context, id uuid.UUID) (*PurchaseAttempt, error)
	// SetProof moves an initiated attempt to payment_submitted with the
	// proof reference. Returns ErrInvalidState if the attempt is not in the
	// initiated state.
	SetProof(ctx context.Context, id uuid.UUID, proofReference string) error
	// Transition moves an attempt from one state to another. Returns
	// ErrInvalidState if the attempt is not in the from state.
	Transition(ctx context.Context, id uuid.UUID, from, to AttemptState) error
	// ExpireStale expires every live attempt whose deadline passed.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)

	// CreateRecord writes the durable purchase record. Returns
	// ErrListingUnavailable if the listing already has one (single sale).
	CreateRecord(ctx context.Context, r *PurchaseRecord) error
	GetRecordByListing(ctx context.Context, listingID uuid.UUID) (*PurchaseRecord, error)
	ListRecordsByBuyer(ctx context.Context, buyerAddress string, limit, offset int) ([]*PurchaseRecord, int, error)
}
