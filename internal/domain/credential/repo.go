package credential

import (
	"context"
	"time"
)

// Repository persists credentials and authentication attempts.
type Repository interface {
	Create(ctx context.Context, cred *Credential) error
	Get(ctx context.Context, identity string) (*Credential, error)
	UpdateMPIN(ctx context.Context, identity string, hash, salt []byte) error

	RecordAttempt(ctx context.Context, attempt *AuthAttempt) error
	// CountRecentFailures counts failed attempts for the identity since the
	// cutoff, not counting failures that precede the most recent success.
	CountRecentFailures(ctx context.Context, identity string, since time.Time) (int, error)
}
