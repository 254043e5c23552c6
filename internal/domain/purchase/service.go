package purchase

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/medmarket/medmarket/internal/domain/listing"
	"github.com/medmarket/medmarket/internal/platform/db"
	"github.com/medmarket/medmarket/internal/platform/notification"
	"github.com/medmarket/medmarket/internal/platform/payment"
)

const (
	maxVerifyAttempts = 3
	verifyBackoffBase = 500 * time.Millisecond
)

// ListingSource is the slice of the listing layer the engine needs. Both
// methods must honor a transaction on the context.
type ListingSource interface {
	Get(ctx context.Context, id uuid.UUID) (*listing.Listing, error)
	// Deactivate reports whether it flipped the listing to inactive.
	// False means the listing was already off the market.
	Deactivate(ctx context.Context, id uuid.UUID) (bool, error)
}

// ArtifactProvider returns anonymized content after payment verification.
type ArtifactProvider interface {
	ArtifactContent(ctx context.Context, reportID uuid.UUID) (string, error)
}

type Service struct {
	repo      Repository
	listings  ListingSource
	artifacts ArtifactProvider
	verifier  payment.Verifier
	pool      *pgxpool.Pool
	notifier  *notification.Manager
	log       zerolog.Logger

	ttl              time.Duration
	minConfirmations int

	sleep func(ctx context.Context, d time.Duration) error
}

// NewService builds the delivery engine. pool may be nil in tests, in which
// case the delivery transaction degrades to direct calls. notifier may be
// nil.
func NewService(repo Repository, listings ListingSource, artifacts ArtifactProvider,
	verifier payment.Verifier, pool *pgxpool.Pool, notifier *notification.Manager,
	log zerolog.Logger, ttl time.Duration, minConfirmations int) *Service {
	return &Service{
		repo:             repo,
		listings:         listings,
		artifacts:        artifacts,
		verifier:         verifier,
		pool:             pool,
		notifier:         notifier,
		log:              log.With().Str("component", "purchase").Logger(),
		ttl:              ttl,
		minConfirmations: minConfirmations,
		sleep:            sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Service) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool != nil {
		return db.WithTx(ctx, s.pool, fn)
	}
	return fn(ctx)
}

// Initiate reserves an active listing for a buyer. The reservation expires
// at the returned deadline unless the purchase completes first. A listing
// already reserved by another live attempt yields ErrContended.
func (s *Service) Initiate(ctx context.Context, listingID uuid.UUID, buyerAddress string) (*PurchaseAttempt, error) {
	if strings.TrimSpace(buyerAddress) == "" {
		return nil, ErrForbidden
	}

	// Release stale leases first so an abandoned attempt does not block
	// the listing past its deadline.
	if _, err := s.repo.ExpireStale(ctx, time.Now().UTC()); err != nil {
		return nil, err
	}

	l, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !l.IsActive {
		return nil, ErrListingUnavailable
	}

	a := &PurchaseAttempt{
		ListingID:    listingID,
		BuyerAddress: buyerAddress,
		State:        StateInitiated,
		ExpiresAt:    time.Now().UTC().Add(s.ttl),
	}
	if err := s.repo.CreateAttempt(ctx, a); err != nil {
		return nil, err
	}
	s.log.Info().Str("attempt_id", a.ID.String()).Str("listing_id", listingID.String()).Time("expires_at", a.ExpiresAt).Msg("purchase initiated")
	return a, nil
}

// GetAttempt returns the buyer's own attempt.
func (s *Service) GetAttempt(ctx context.Context, id uuid.UUID, buyerAddress string) (*PurchaseAttempt, error) {
	a, err := s.repo.GetAttempt(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(a.BuyerAddress, buyerAddress) {
		return nil, ErrForbidden
	}
	return a, nil
}

// SubmitProof attaches a payment proof to an initiated attempt before its
// deadline. A late submission expires the attempt and releases the
// reservation.
func (s *Service) SubmitProof(ctx context.Context, attemptID uuid.UUID, buyerAddress, proofReference string) (*PurchaseAttempt, error) {
	a, err := s.GetAttempt(ctx, attemptID, buyerAddress)
	if err != nil {
		return nil, err
	}
	if !a.State.Live() {
		return nil, ErrInvalidState
	}
	if time.Now().UTC().After(a.ExpiresAt) {
		_ = s.repo.Transition(ctx, a.ID, a.State, StateExpired)
		return nil, ErrExpired
	}
	if err := s.repo.SetProof(ctx, a.ID, proofReference); err != nil {
		return nil, err
	}
	a.State = StatePaymentSubmitted
	a.ProofReference = proofReference
	s.log.Info().Str("attempt_id", a.ID.String()).Msg("payment proof submitted")
	return a, nil
}

// VerifyAndDeliver verifies the submitted proof against the listing's
// exact amount and payout address, then atomically writes the purchase
// record, deactivates the listing, finishes the attempt, and returns the
// anonymized content. The record is durable before content leaves the
// engine. buyerEmail, when present, receives the receipt.
func (s *Service) VerifyAndDeliver(ctx context.Context, attemptID uuid.UUID, buyerAddress, buyerEmail string) (*Delivery, error) {
	a, err := s.GetAttempt(ctx, attemptID, buyerAddress)
	if err != nil {
		return nil, err
	}
	if a.State != StatePaymentSubmitted {
		return nil, ErrInvalidState
	}
	if time.Now().UTC().After(a.ExpiresAt) {
		_ = s.repo.Transition(ctx, a.ID, a.State, StateExpired)
		return nil, ErrExpired
	}

	l, err := s.listings.Get(ctx, a.ListingID)
	if err != nil {
		return nil, err
	}

	verification, err := s.verify(ctx, a, l)
	if err != nil {
		return nil, err
	}

	switch {
	case verification.Status == payment.StatusPending:
		return nil, ErrPaymentPending
	case verification.Status == payment.StatusRejected,
		verification.ConfirmedAmountWei != l.PriceWei,
		!strings.EqualFold(verification.ConfirmedRecipient, l.SellerPayoutAddress):
		if err := s.repo.Transition(ctx, a.ID, StatePaymentSubmitted, StateRejected); err != nil && !errors.Is(err, ErrInvalidState) {
			return nil, err
		}
		s.log.Warn().Str("attempt_id", a.ID.String()).Str("status", string(verification.Status)).Msg("payment rejected")
		return nil, ErrPaymentRejected
	}

	var delivery *Delivery
	err = s.runTx(ctx, func(ctx context.Context) error {
		// The listing must still be live at delivery time. A seller may
		// have withdrawn it while this attempt was in flight; deactivating
		// zero rows detects that and aborts the sale.
		flipped, err := s.listings.Deactivate(ctx, l.ID)
		if err != nil {
			return err
		}
		if !flipped {
			return ErrListingUnavailable
		}
		if err := s.repo.Transition(ctx, a.ID, StatePaymentSubmitted, StateDelivered); err != nil {
			return err
		}
		now := time.Now().UTC()
		rec := &PurchaseRecord{
			ListingID:             l.ID,
			BuyerAddress:          a.BuyerAddress,
			PaymentProofReference: a.ProofReference,
			TransactionReference:  verification.TransactionReference,
			AmountWei:             verification.ConfirmedAmountWei,
			VerifiedAt:            now,
			DeliveredAt:           &now,
		}
		if err := s.repo.CreateRecord(ctx, rec); err != nil {
			return err
		}
		content, err := s.artifacts.ArtifactContent(ctx, l.ReportID)
		if err != nil {
			return err
		}
		delivery = &Delivery{Record: rec, Content: content}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("attempt_id", a.ID.String()).Str("listing_id", l.ID.String()).Int64("amount_wei", delivery.Record.AmountWei).Msg("purchase delivered")
	s.notifySale(l, delivery.Record, buyerEmail)
	return delivery, nil
}

func (s *Service) verify(ctx context.Context, a *PurchaseAttempt, l *listing.Listing) (*payment.Verification, error) {
	proof := payment.Proof{
		ProofReference:    a.ProofReference,
		ExpectedAmountWei: l.PriceWei,
		ExpectedRecipient: l.SellerPayoutAddress,
		MinConfirmations:  s.minConfirmations,
	}

	for attempt := 1; ; attempt++ {
		verification, err := s.verifier.Verify(ctx, proof)
		if err == nil {
			return verification, nil
		}
		if !payment.IsUnavailable(err) || attempt == maxVerifyAttempts {
			s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Int("attempts", attempt).Msg("payment verification failed")
			return nil, ErrVerificationUnavailable
		}
		backoff := verifyBackoffBase << (attempt - 1)
		if err := s.sleep(ctx, backoff); err != nil {
			return nil, ErrVerificationUnavailable
		}
	}
}

func (s *Service) notifySale(l *listing.Listing, rec *PurchaseRecord, buyerEmail string) {
	if s.notifier == nil {
		return
	}
	amount := rec.AmountWei
	go func() {
		_, err := s.notifier.SendFromTemplate(context.Background(), notification.TemplateListingSold, map[string]string{
			"listing_title":  l.Title,
			"amount_wei":     formatWei(amount),
			"payout_address": l.SellerPayoutAddress,
		}, l.SellerIdentity)
		if err != nil {
			s.log.Warn().Err(err).Msg("seller sale notice failed")
		}
	}()
	if buyerEmail == "" {
		return
	}
	go func() {
		_, err := s.notifier.SendFromTemplate(context.Background(), notification.TemplatePurchaseReceipt, map[string]string{
			"listing_title":         l.Title,
			"transaction_reference": rec.TransactionReference,
			"amount_wei":            formatWei(amount),
			"purchase_id":           rec.ID.String(),
		}, buyerEmail)
		if err != nil {
			s.log.Warn().Err(err).Msg("buyer receipt failed")
		}
	}()
}

func formatWei(v int64) string {
	return strconv.FormatInt(v, 10)
}

// Cancel releases a buyer's live reservation. Cancelling an already
// expired attempt is a no-op; sweep and cancel are the same transition.
func (s *Service) Cancel(ctx context.Context, attemptID uuid.UUID, buyerAddress string) error {
	a, err := s.GetAttempt(ctx, attemptID, buyerAddress)
	if err != nil {
		return err
	}
	switch a.State {
	case StateExpired:
		return nil
	case StateInitiated, StatePaymentSubmitted:
		if err := s.repo.Transition(ctx, a.ID, a.State, StateExpired); err != nil {
			if errors.Is(err, ErrInvalidState) {
				// The sweeper got there first.
				return nil
			}
			return err
		}
		s.log.Info().Str("attempt_id", a.ID.String()).Msg("purchase cancelled")
		return nil
	default:
		return ErrInvalidState
	}
}

// ListPurchases returns a buyer's completed purchases.
func (s *Service) ListPurchases(ctx context.Context, buyerAddress string, limit, offset int) ([]*PurchaseRecord, int, error) {
	if strings.TrimSpace(buyerAddress) == "" {
		return nil, 0, ErrForbidden
	}
	return s.repo.ListRecordsByBuyer(ctx, buyerAddress, limit, offset)
}
