package report

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists raw reports and anonymized artifacts.
type Repository interface {
	CreateRaw(ctx context.Context, r *RawReport) error
	GetRaw(ctx context.Context, id uuid.UUID) (*RawReport, error)
	ListRawByOwner(ctx context.Context, owner, reportType string, limit, offset int) ([]*RawReport, int, error)

	// UpsertArtifact inserts or replaces the artifact. Returns
	// ErrArtifactImmutable when a listing references it; the check and
	// the write are atomic.
	UpsertArtifact(ctx context.Context, a *AnonymizedArtifact) error
	GetArtifact(ctx context.Context, reportID uuid.UUID) (*AnonymizedArtifact, error)

	// HasListing reports whether any listing references the artifact.
	HasListing(ctx context.Context, reportID uuid.UUID) (bool, error)
}
