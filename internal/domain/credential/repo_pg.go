package credential

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

func (r *repoPG) Create(ctx context.Context, cred *Credential) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_credentials (patient_identity, mpin_hash, mpin_salt)
		VALUES ($1, $2, $3)`,
		cred.PatientIdentity, cred.MPINHash, cred.MPINSalt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateIdentity
	}
	return err
}

func (r *repoPG) Get(ctx context.Context, identity string) (*Credential, error) {
	var cred Credential
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT patient_identity, mpin_hash, mpin_salt, created_at, rotated_at
		FROM patient_credentials WHERE patient_identity = $1`, identity,
	).Scan(&cred.PatientIdentity, &cred.MPINHash, &cred.MPINSalt, &cred.CreatedAt, &cred.RotatedAt)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (r *repoPG) UpdateMPIN(ctx context.Context, identity string, hash, salt []byte) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_credentials SET mpin_hash = $2, mpin_salt = $3, rotated_at = NOW()
		WHERE patient_identity = $1`,
		identity, hash, salt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) RecordAttempt(ctx context.Context, attempt *AuthAttempt) error {
	attempt.ID = uuid.New()
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO auth_attempts (id, patient_identity, succeeded, attempted_at)
		VALUES ($1, $2, $3, $4)`,
		attempt.ID, attempt.PatientIdentity, attempt.Succeeded, attempt.AttemptedAt,
	)
	return err
}

func (r *repoPG) CountRecentFailures(ctx context.Context, identity string, since time.Time) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM auth_attempts
		WHERE patient_identity = $1
		  AND succeeded = FALSE
		  AND attempted_at >= $2
		  AND attempted_at > COALESCE(
			(SELECT MAX(attempted_at) FROM auth_attempts
			 WHERE patient_identity = $1 AND succeeded = TRUE),
			'-infinity'::timestamptz)`,
		identity, since,
	).Scan(&count)
	return count, err
}
