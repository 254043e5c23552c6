package purchase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medmarket/medmarket/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const attemptCols = `id, listing_id, buyer_address, state, COALESCE(proof_reference, ''), expires_at, created_at, updated_at`

func (r *repoPG) CreateAttempt(ctx context.Context, a *PurchaseAttempt) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO purchase_attempts (id, listing_id, buyer_address, state, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.ListingID, a.BuyerAddress, a.State, a.ExpiresAt,
	)
	// The partial unique index on live attempts turns a concurrent
	// reservation into a unique violation.
	if isUniqueViolation(err) {
		return ErrContended
	}
	return err
}

func (r *repoPG) GetAttempt(ctx context.Context, id uuid.UUID) (*PurchaseAttempt, error) {
	var a PurchaseAttempt
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+attemptCols+` FROM purchase_attempts WHERE id = $1`, id,
	).Scan(&a.ID, &a.ListingID, &a.BuyerAddress, &a.State, &a.ProofReference, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) SetProof(ctx context.Context, id uuid.UUID, proofReference string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE purchase_attempts
		SET state = $2, proof_reference = $3, updated_at = NOW()
		WHERE id = $1 AND state = $4`,
		id, StatePaymentSubmitted, proofReference, StateInitiated,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (r *repoPG) Transition(ctx context.Context, id uuid.UUID, from, to AttemptState) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE purchase_attempts SET state = $3, updated_at = NOW()
		WHERE id = $1 AND state = $2`,
		id, from, to,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (r *repoPG) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE purchase_attempts SET state = $1, updated_at = NOW()
		WHERE state IN ($2, $3) AND expires_at < $4`,
		StateExpired, StateInitiated, StatePaymentSubmitted, now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) CreateRecord(ctx context.Context, rec *PurchaseRecord) error {
	rec.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO purchase_records (
			id, listing_id, buyer_address, payment_proof_reference,
			transaction_reference, amount_wei, verified_at, delivered_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.ListingID, rec.BuyerAddress, rec.PaymentProofReference,
		rec.TransactionReference, rec.AmountWei, rec.VerifiedAt, rec.DeliveredAt,
	)
	// Unique index on listing_id enforces single sale.
	if isUniqueViolation(err) {
		return ErrListingUnavailable
	}
	return err
}

const recordCols = `id, listing_id, buyer_address, payment_proof_reference,
	transaction_reference, amount_wei, verified_at, delivered_at`

func (r *repoPG) GetRecordByListing(ctx context.Context, listingID uuid.UUID) (*PurchaseRecord, error) {
	var rec PurchaseRecord
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM purchase_records WHERE listing_id = $1`, listingID,
	).Scan(&rec.ID, &rec.ListingID, &rec.BuyerAddress, &rec.PaymentProofReference,
		&rec.TransactionReference, &rec.AmountWei, &rec.VerifiedAt, &rec.DeliveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repoPG) ListRecordsByBuyer(ctx context.Context, buyerAddress string, limit, offset int) ([]*PurchaseRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM purchase_records WHERE buyer_address = $1`, buyerAddress,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recordCols+` FROM purchase_records WHERE buyer_address = $1
		 ORDER BY verified_at DESC LIMIT $2 OFFSET $3`,
		buyerAddress, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []*PurchaseRecord
	for rows.Next() {
		var rec PurchaseRecord
		err := rows.Scan(&rec.ID, &rec.ListingID, &rec.BuyerAddress, &rec.PaymentProofReference,
			&rec.TransactionReference, &rec.AmountWei, &rec.VerifiedAt, &rec.DeliveredAt)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, &rec)
	}
	return records, total, nil
}
