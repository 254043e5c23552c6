package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 210000
	keyLength        = 32
	saltLength       = 16
)

// dummySalt feeds a throwaway key derivation when the identity is unknown,
// so the unknown-identity path costs the same as a wrong MPIN.
var dummySalt = make([]byte, saltLength)

type Service struct {
	repo             Repository
	log              zerolog.Logger
	lockoutThreshold int
	lockoutWindow    time.Duration
}

func NewService(repo Repository, log zerolog.Logger, lockoutThreshold int, lockoutWindow time.Duration) *Service {
	return &Service{
		repo:             repo,
		log:              log.With().Str("component", "credential").Logger(),
		lockoutThreshold: lockoutThreshold,
		lockoutWindow:    lockoutWindow,
	}
}

func deriveKey(mpin string, salt []byte) []byte {
	return pbkdf2.Key([]byte(mpin), salt, pbkdf2Iterations, keyLength, sha256.New)
}

// Register stores a new credential with a fresh salt.
func (s *Service) Register(ctx context.Context, identity, mpin string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" || len(identity) > 255 {
		return ErrInvalidIdentity
	}
	if !ValidMPIN(mpin) {
		return ErrInvalidMPIN
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	cred := &Credential{
		PatientIdentity: identity,
		MPINHash:        deriveKey(mpin, salt),
		MPINSalt:        salt,
	}
	if err := s.repo.Create(ctx, cred); err != nil {
		return err
	}
	s.log.Info().Str("identity", identity).Msg("credential registered")
	return nil
}

// Authenticate checks an MPIN against the stored credential. Every failure
// mode except lockout returns ErrAuthenticationFailed so callers cannot
// tell an unknown identity from a wrong MPIN, and internal errors deny
// rather than allow.
func (s *Service) Authenticate(ctx context.Context, identity, mpin string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ErrAuthenticationFailed
	}

	since := time.Now().UTC().Add(-s.lockoutWindow)
	failures, err := s.repo.CountRecentFailures(ctx, identity, since)
	if err != nil {
		s.log.Error().Err(err).Msg("lockout check failed")
		return ErrAuthenticationFailed
	}
	if failures >= s.lockoutThreshold {
		return ErrLocked
	}

	cred, err := s.repo.Get(ctx, identity)
	if err != nil {
		// Burn a derivation anyway so unknown identities are not
		// distinguishable by response time.
		deriveKey(mpin, dummySalt)
		s.recordAttempt(ctx, identity, false)
		return ErrAuthenticationFailed
	}

	derived := deriveKey(mpin, cred.MPINSalt)
	if subtle.ConstantTimeCompare(derived, cred.MPINHash) != 1 {
		s.recordAttempt(ctx, identity, false)
		return ErrAuthenticationFailed
	}

	s.recordAttempt(ctx, identity, true)
	return nil
}

// Rotate replaces the MPIN after re-authenticating with the current one.
func (s *Service) Rotate(ctx context.Context, identity, currentMPIN, newMPIN string) error {
	if !ValidMPIN(newMPIN) {
		return ErrInvalidMPIN
	}
	if err := s.Authenticate(ctx, identity, currentMPIN); err != nil {
		return err
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	if err := s.repo.UpdateMPIN(ctx, identity, deriveKey(newMPIN, salt), salt); err != nil {
		return err
	}
	s.log.Info().Str("identity", identity).Msg("mpin rotated")
	return nil
}

func (s *Service) recordAttempt(ctx context.Context, identity string, succeeded bool) {
	err := s.repo.RecordAttempt(ctx, &AuthAttempt{
		PatientIdentity: identity,
		Succeeded:       succeeded,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("record auth attempt failed")
	}
}
