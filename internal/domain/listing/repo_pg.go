package listing

import (
	"context"
	"errors"
	"strings"

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

const listingCols = `id, report_id, seller_identity, title, description, report_type,
	price_wei, seller_payout_address, tags, is_active, published_at, withdrawn_at`

func (r *repoPG) Create(ctx context.Context, l *Listing) error {
	l.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO listings (
			id, report_id, seller_identity, title, description, report_type,
			price_wei, seller_payout_address, tags, is_active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,TRUE)`,
		l.ID, l.ReportID, l.SellerIdentity, l.Title, l.Description, l.ReportType,
		l.PriceWei, l.SellerPayoutAddress, l.Tags,
	)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Listing, error) {
	return scanListing(r.conn(ctx).QueryRow(ctx,
		`SELECT `+listingCols+` FROM listings WHERE id = $1`, id))
}

const searchWhere = `
	WHERE is_active
	  AND ($1 = '' OR title ILIKE '%' || $1 || '%'
	       OR report_type ILIKE '%' || $1 || '%'
	       OR EXISTS (SELECT 1 FROM unnest(tags) AS tag WHERE tag ILIKE '%' || $1 || '%'))
	  AND ($2 = '' OR report_type = $2)`

// likeEscaper neutralizes LIKE metacharacters in user queries so "%" and
// "_" match literally instead of acting as wildcards.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *repoPG) Search(ctx context.Context, query, reportType string, limit, offset int) ([]*Listing, int, error) {
	query = likeEscaper.Replace(query)

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM listings`+searchWhere, query, reportType,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+listingCols+` FROM listings`+searchWhere+
			` ORDER BY published_at DESC LIMIT $3 OFFSET $4`,
		query, reportType, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectListings(rows, total)
}

func (r *repoPG) ListBySeller(ctx context.Context, seller string, limit, offset int) ([]*Listing, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM listings WHERE seller_identity = $1`, seller,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+listingCols+` FROM listings WHERE seller_identity = $1
		 ORDER BY published_at DESC LIMIT $2 OFFSET $3`,
		seller, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectListings(rows, total)
}

func (r *repoPG) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE listings SET is_active = FALSE, withdrawn_at = NOW()
		WHERE id = $1 AND is_active`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanListing(row pgx.Row) (*Listing, error) {
	var l Listing
	err := row.Scan(
		&l.ID, &l.ReportID, &l.SellerIdentity, &l.Title, &l.Description, &l.ReportType,
		&l.PriceWei, &l.SellerPayoutAddress, &l.Tags, &l.IsActive, &l.PublishedAt, &l.WithdrawnAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func collectListings(rows pgx.Rows, total int) ([]*Listing, int, error) {
	var listings []*Listing
	for rows.Next() {
		var l Listing
		err := rows.Scan(
			&l.ID, &l.ReportID, &l.SellerIdentity, &l.Title, &l.Description, &l.ReportType,
			&l.PriceWei, &l.SellerPayoutAddress, &l.Tags, &l.IsActive, &l.PublishedAt, &l.WithdrawnAt,
		)
		if err != nil {
			return nil, 0, err
		}
		listings = append(listings, &l)
	}
	return listings, total, nil
}
