// Package purchase is the payment-gated delivery engine. A purchase
// attempt reserves a listing, collects a payment proof, verifies it against
// the listing's exact terms, and only then releases the anonymized content,
// atomically with the durable purchase record.
package purchase

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// AttemptState is the lifecycle state of a purchase attempt.
type AttemptState string

const (
	StateInitiated        AttemptState = "initiated"
	StatePaymentSubmitted AttemptState = "payment_submitted"
	StateDelivered        AttemptState = "delivered"
	StateRejected         AttemptState = "rejected"
	StateExpired          AttemptState = "expired"
)

// Live reports whether the attempt still holds the listing reservation.
func (s AttemptState) Live() bool {
	return s == StateInitiated || s == StatePaymentSubmitted
}

var (
	ErrNotFound = errors.New("purchase attempt not found")

	// ErrContended is returned when another live attempt already reserves
	// the listing. Callers may retry after that reservation expires.
	ErrContended = errors.New("listing is reserved by another purchase attempt")

	// ErrListingUnavailable is returned for inactive or already-sold
	// listings.
	ErrListingUnavailable = errors.New("listing is not available")

	// ErrExpired is returned when an attempt's deadline has passed. The
	// reservation is released.
	ErrExpired = errors.New("purchase attempt expired")

	// ErrInvalidState is returned for operations that do not apply to the
	// attempt's current state.
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrForbidden is returned when the caller is not the attempt's buyer.
	ErrForbidden = errors.New("access denied")

	// ErrPaymentRejected is terminal: the proof did not verify, or the
	// confirmed amount or recipient did not match the listing terms.
	ErrPaymentRejected = errors.New("payment rejected")

	// ErrPaymentPending means the transaction lacks confirmations; retry
	// later with the same proof.
	ErrPaymentPending = errors.New("payment not yet confirmed")

	// ErrVerificationUnavailable means the verifier could not be reached;
	// the attempt is unchanged and the call may be retried.
	ErrVerificationUnavailable = errors.New("payment verification unavailable")
)

// PurchaseAttempt is the reservation handle returned by Initiate. At most
// one live attempt exists per listing.
type PurchaseAttempt struct {
	ID             uuid.UUID    `json:"id"`
	ListingID      uuid.UUID    `json:"listing_id"`
	BuyerAddress   string       `json:"buyer_address"`
	State          AttemptState `json:"state"`
	ProofReference string       `json:"proof_reference,omitempty"`
	ExpiresAt      time.Time    `json:"expires_at"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// PurchaseRecord is the durable proof that a verified payment bought a
// listing. It is written before content is released, never after.
type PurchaseRecord struct {
	ID                    uuid.UUID  `json:"id"`
	ListingID             uuid.UUID  `json:"listing_id"`
	BuyerAddress          string     `json:"buyer_address"`
	PaymentProofReference string     `json:"payment_proof_reference"`
	TransactionReference  string     `json:"transaction_reference"`
	AmountWei             int64      `json:"amount_wei"`
	VerifiedAt            time.Time  `json:"verified_at"`
	DeliveredAt           *time.Time `json:"delivered_at,omitempty"`
}

// Delivery is the result of a successful VerifyAndDeliver call.
type Delivery struct {
	Record  *PurchaseRecord `json:"record"`
	Content string          `json:"content"`
}
