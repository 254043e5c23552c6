package report

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medmarket/medmarket/internal/platform/notification"
)

type Service struct {
	repo     Repository
	notifier *notification.Manager
	log      zerolog.Logger
}

// NewService builds the report service. notifier may be nil; notifications
// are best-effort and never block or fail a store.
func NewService(repo Repository, notifier *notification.Manager, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		log:      log.With().Str("component", "report").Logger(),
	}
}

// StoreRaw persists a raw report for an authenticated owner and sends the
// access-credentials notice.
func (s *Service) StoreRaw(ctx context.Context, ownerIdentity, reportType, content string, testDate time.Time) (*RawReport, error) {
	if ownerIdentity == "" {
		return nil, ErrForbidden
	}
	if !ValidReportType(reportType) || strings.TrimSpace(content) == "" {
		return nil, ErrInvalidReport
	}
	if testDate.IsZero() {
		testDate = time.Now().UTC()
	}

	rep := &RawReport{
		OwnerIdentity: ownerIdentity,
		ReportType:    reportType,
		RawContent:    content,
		TestDate:      testDate,
	}
	if err := s.repo.CreateRaw(ctx, rep); err != nil {
		return nil, err
	}
	s.log.Info().Str("report_id", rep.ID.String()).Str("report_type", reportType).Msg("raw report stored")

	if s.notifier != nil {
		go func(rep RawReport) {
			_, err := s.notifier.SendFromTemplate(context.Background(), notification.TemplateReportStored, map[string]string{
				"report_type": rep.ReportType,
				"test_date":   rep.TestDate.Format("2006-01-02"),
				"report_id":   rep.ID.String(),
			}, rep.OwnerIdentity)
			if err != nil {
				s.log.Warn().Err(err).Str("report_id", rep.ID.String()).Msg("report-stored notice failed")
			}
		}(*rep)
	}
	return rep, nil
}

// GetRaw returns a raw report only to its owner.
func (s *Service) GetRaw(ctx context.Context, id uuid.UUID, requesterIdentity string) (*RawReport, error) {
	rep, err := s.repo.GetRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	if rep.OwnerIdentity != requesterIdentity {
		return nil, ErrForbidden
	}
	return rep, nil
}

// ListRaw returns the owner's reports, newest test first, optionally
// filtered by type.
func (s *Service) ListRaw(ctx context.Context, ownerIdentity, reportType string, limit, offset int) ([]*RawReport, int, error) {
	if ownerIdentity == "" {
		return nil, 0, ErrForbidden
	}
	return s.repo.ListRawByOwner(ctx, ownerIdentity, reportType, limit, offset)
}

// StoreAnonymized upserts the artifact for a raw report. Replays overwrite
// rather than duplicate. Once a listing references the artifact it is
// frozen.
func (s *Service) StoreAnonymized(ctx context.Context, reportID uuid.UUID, content, modelVersion string) (*AnonymizedArtifact, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrInvalidReport
	}
	if _, err := s.repo.GetRaw(ctx, reportID); err != nil {
		return nil, err
	}

	a := &AnonymizedArtifact{
		ReportID:           reportID,
		AnonymizedContent:  content,
		AnonymizationModel: modelVersion,
	}
	if err := s.repo.UpsertArtifact(ctx, a); err != nil {
		return nil, err
	}
	s.log.Info().Str("report_id", reportID.String()).Str("model", modelVersion).Msg("anonymized artifact stored")
	return a, nil
}

// GetAnonymized returns the artifact on the public path. Until a listing
// references it the artifact is not public.
func (s *Service) GetAnonymized(ctx context.Context, reportID uuid.UUID) (*AnonymizedArtifact, error) {
	a, err := s.repo.GetArtifact(ctx, reportID)
	if err != nil {
		return nil, err
	}
	listed, err := s.repo.HasListing(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if !listed {
		return nil, ErrForbidden
	}
	return a, nil
}

// GetArtifactForOwner returns the artifact to the report owner regardless
// of listing state. Used when publishing a listing.
func (s *Service) GetArtifactForOwner(ctx context.Context, reportID uuid.UUID, ownerIdentity string) (*AnonymizedArtifact, error) {
	rep, err := s.repo.GetRaw(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if rep.OwnerIdentity != ownerIdentity {
		return nil, ErrForbidden
	}
	return s.repo.GetArtifact(ctx, reportID)
}

// ArtifactContent returns the anonymized content without access gates. Only
// the delivery engine calls this, after payment verification.
func (s *Service) ArtifactContent(ctx context.Context, reportID uuid.UUID) (string, error) {
	a, err := s.repo.GetArtifact(ctx, reportID)
	if err != nil {
		return "", err
	}
	return a.AnonymizedContent, nil
}
