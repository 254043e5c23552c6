// Package anonymize runs the de-identification pipeline: load the raw
// report, call the collaborator, police the output, persist the artifact.
package anonymize

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medmarket/medmarket/internal/domain/report"
	"github.com/medmarket/medmarket/internal/platform/deidentify"
)

var (
	// ErrPolicyViolation is returned when collaborator output still carries
	// an identifier from the raw input. Terminal for the attempt.
	ErrPolicyViolation = errors.New("anonymized output failed policy check")

	// ErrAnonymizationFailed is returned when the collaborator could not
	// produce an acceptable result within the retry budget.
	ErrAnonymizationFailed = errors.New("anonymization failed")
)

const (
	maxAttempts = 3
	backoffBase = 500 * time.Millisecond
)

// ReportStore is the slice of the report service the pipeline needs.
type ReportStore interface {
	GetRaw(ctx context.Context, id uuid.UUID, requesterIdentity string) (*report.RawReport, error)
	StoreAnonymized(ctx context.Context, reportID uuid.UUID, content, modelVersion string) (*report.AnonymizedArtifact, error)
}

type Service struct {
	reports ReportStore
	client  deidentify.Client
	log     zerolog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(reports ReportStore, client deidentify.Client, log zerolog.Logger) *Service {
	return &Service{
		reports: reports,
		client:  client,
		log:     log.With().Str("component", "anonymize").Logger(),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Anonymize runs the pipeline for one report on behalf of its owner.
// Transient collaborator failures are retried with exponential backoff; a
// policy violation is terminal. Reruns overwrite the previous artifact.
func (s *Service) Anonymize(ctx context.Context, reportID uuid.UUID, ownerIdentity string) (*report.AnonymizedArtifact, error) {
	raw, err := s.reports.GetRaw(ctx, reportID, ownerIdentity)
	if err != nil {
		return nil, err
	}

	hints := HarvestIdentifiers(raw.RawContent)
	hints = append(hints, raw.OwnerIdentity)

	req := deidentify.Request{
		ReportType: raw.ReportType,
		RawContent: raw.RawContent,
		Hints:      hints,
	}

	var resp *deidentify.Response
	for attempt := 1; ; attempt++ {
		resp, err = s.client.Deidentify(ctx, req)
		if err == nil {
			break
		}
		if !deidentify.IsTransient(err) || attempt == maxAttempts {
			s.log.Error().Err(err).Str("report_id", reportID.String()).Int("attempts", attempt).Msg("de-identification exhausted")
			return nil, ErrAnonymizationFailed
		}
		backoff := backoffBase << (attempt - 1)
		s.log.Warn().Err(err).Str("report_id", reportID.String()).Dur("backoff", backoff).Msg("transient de-identification failure")
		if err := s.sleep(ctx, backoff); err != nil {
			return nil, ErrAnonymizationFailed
		}
	}

	if leaked := CheckPolicy(raw.RawContent, resp.AnonymizedContent); len(leaked) > 0 {
		s.log.Error().Str("report_id", reportID.String()).Int("leaked_tokens", len(leaked)).Msg("policy check rejected output")
		return nil, ErrPolicyViolation
	}

	artifact, err := s.reports.StoreAnonymized(ctx, reportID, resp.AnonymizedContent, resp.ModelVersion)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("report_id", reportID.String()).Str("model", resp.ModelVersion).Msg("report anonymized")
	return artifact, nil
}
