package listing

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists listings.
type Repository interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id uuid.UUID) (*Listing, error)
	// Search returns active listings whose title, tags, or report type
	// match the query, case-insensitively. An empty query matches all
	// active listings; reportType narrows by exact type.
	Search(ctx context.Context, query, reportType string, limit, offset int) ([]*Listing, int, error)
	ListBySeller(ctx context.Context, seller string, limit, offset int) ([]*Listing, int, error)
	// Deactivate clears is_active and stamps withdrawn_at. It reports
	// whether this call flipped the row; false means the listing was
	// already inactive.
	Deactivate(ctx context.Context, id uuid.UUID) (bool, error)
}
