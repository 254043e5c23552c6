package purchase

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper expires stale purchase attempts in the background so abandoned
// reservations release their listings without buyer action.
type Sweeper struct {
	repo     Repository
	interval time.Duration
	log      zerolog.Logger
}

func NewSweeper(repo Repository, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		repo:     repo,
		interval: interval,
		log:      log.With().Str("component", "purchase_sweeper").Logger(),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.repo.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		s.log.Error().Err(err).Msg("sweep failed")
		return
	}
	if expired > 0 {
		s.log.Info().Int64("expired", expired).Msg("stale purchase attempts released")
	}
}
