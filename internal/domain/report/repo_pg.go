package report

import (
	"context"
	"errors"

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

const rawCols = `id, owner_identity, report_type, raw_content, test_date, created_at`

func (r *repoPG) CreateRaw(ctx context.Context, rep *RawReport) error {
	rep.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO raw_reports (id, owner_identity, report_type, raw_content, test_date)
		VALUES ($1, $2, $3, $4, $5)`,
		rep.ID, rep.OwnerIdentity, rep.ReportType, rep.RawContent, rep.TestDate,
	)
	return err
}

func (r *repoPG) GetRaw(ctx context.Context, id uuid.UUID) (*RawReport, error) {
	var rep RawReport
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+rawCols+` FROM raw_reports WHERE id = $1`, id,
	).Scan(&rep.ID, &rep.OwnerIdentity, &rep.ReportType, &rep.RawContent, &rep.TestDate, &rep.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *repoPG) ListRawByOwner(ctx context.Context, owner, reportType string, limit, offset int) ([]*RawReport, int, error) {
	// Empty reportType matches every type.
	var total int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM raw_reports
		WHERE owner_identity = $1 AND ($2 = '' OR report_type = $2)`,
		owner, reportType,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+rawCols+` FROM raw_reports
		WHERE owner_identity = $1 AND ($2 = '' OR report_type = $2)
		ORDER BY test_date DESC LIMIT $3 OFFSET $4`,
		owner, reportType, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var reports []*RawReport
	for rows.Next() {
		var rep RawReport
		if err := rows.Scan(&rep.ID, &rep.OwnerIdentity, &rep.ReportType, &rep.RawContent, &rep.TestDate, &rep.CreatedAt); err != nil {
			return nil, 0, err
		}
		reports = append(reports, &rep)
	}
	return reports, total, nil
}

// UpsertArtifact replaces the artifact unless a listing references it.
// Check and write run in one transaction: the FOR UPDATE lock on the
// artifact row blocks a concurrent listing insert (whose foreign key takes
// a key-share lock on the same row) until this transaction decides, so a
// listed artifact can never be replaced through the race.
func (r *repoPG) UpsertArtifact(ctx context.Context, a *AnonymizedArtifact) error {
	if db.TxFromContext(ctx) != nil {
		return r.upsertArtifact(ctx, a)
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		return r.upsertArtifact(ctx, a)
	})
}

func (r *repoPG) upsertArtifact(ctx context.Context, a *AnonymizedArtifact) error {
	q := r.conn(ctx)

	var exists bool
	err := q.QueryRow(ctx,
		`SELECT TRUE FROM anonymized_artifacts WHERE report_id = $1 FOR UPDATE`,
		a.ReportID,
	).Scan(&exists)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if exists {
		var listed bool
		if err := q.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM listings WHERE report_id = $1)`, a.ReportID,
		).Scan(&listed); err != nil {
			return err
		}
		if listed {
			return ErrArtifactImmutable
		}
	}

	_, err = q.Exec(ctx, `
		INSERT INTO anonymized_artifacts (report_id, anonymized_content, anonymization_model)
		VALUES ($1, $2, $3)
		ON CONFLICT (report_id) DO UPDATE
		SET anonymized_content = EXCLUDED.anonymized_content,
		    anonymization_model = EXCLUDED.anonymization_model`,
		a.ReportID, a.AnonymizedContent, a.AnonymizationModel,
	)
	return err
}

func (r *repoPG) GetArtifact(ctx context.Context, reportID uuid.UUID) (*AnonymizedArtifact, error) {
	var a AnonymizedArtifact
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT report_id, anonymized_content, anonymization_model, created_at
		FROM anonymized_artifacts WHERE report_id = $1`, reportID,
	).Scan(&a.ReportID, &a.AnonymizedContent, &a.AnonymizationModel, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) HasListing(ctx context.Context, reportID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM listings WHERE report_id = $1)`, reportID,
	).Scan(&exists)
	return exists, err
}
