// Package credential stores patient MPIN credentials and authenticates
// owners. Authentication responses never reveal whether an identity exists,
// and repeated failures lock the identity out for a window.
package credential

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateIdentity is returned when registering an identity that
	// already has a credential on file.
	ErrDuplicateIdentity = errors.New("identity already registered")

	// ErrAuthenticationFailed covers every non-lockout authentication
	// failure: unknown identity, wrong MPIN, and internal errors alike.
	// Collapsing them prevents identity enumeration and fails closed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrLocked is returned while an identity is locked out after too many
	// consecutive failures.
	ErrLocked = errors.New("identity temporarily locked")

	// ErrInvalidMPIN is returned when a submitted MPIN does not meet the
	// format rules.
	ErrInvalidMPIN = errors.New("mpin must be 4 to 8 digits")

	// ErrInvalidIdentity is returned for an empty or malformed identity.
	ErrInvalidIdentity = errors.New("invalid patient identity")
)

// Credential is a patient identity with its salted MPIN hash. The raw MPIN
// is never stored or logged.
type Credential struct {
	PatientIdentity string     `json:"patient_identity"`
	MPINHash        []byte     `json:"-"`
	MPINSalt        []byte     `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	RotatedAt       *time.Time `json:"rotated_at,omitempty"`
}

// AuthAttempt is one authentication outcome, persisted so lockout windows
// survive restarts.
type AuthAttempt struct {
	ID              uuid.UUID `json:"id"`
	PatientIdentity string    `json:"patient_identity"`
	Succeeded       bool      `json:"succeeded"`
	AttemptedAt     time.Time `json:"attempted_at"`
}

// ValidMPIN reports whether the MPIN meets the format rules: 4 to 8 ASCII
// digits.
func ValidMPIN(mpin string) bool {
	if len(mpin) < 4 || len(mpin) > 8 {
		return false
	}
	for _, r := range mpin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
