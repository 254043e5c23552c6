package listing

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medmarket/medmarket/internal/domain/report"
)

// ArtifactSource is the slice of the report service the listing manager
// needs to gate publishing on anonymization.
type ArtifactSource interface {
	GetRaw(ctx context.Context, id uuid.UUID, requesterIdentity string) (*report.RawReport, error)
	GetArtifactForOwner(ctx context.Context, reportID uuid.UUID, ownerIdentity string) (*report.AnonymizedArtifact, error)
}

type Service struct {
	repo    Repository
	reports ArtifactSource
	log     zerolog.Logger
}

func NewService(repo Repository, reports ArtifactSource, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		reports: reports,
		log:     log.With().Str("component", "listing").Logger(),
	}
}

// PublishInput carries the seller-supplied listing fields.
type PublishInput struct {
	ReportID            uuid.UUID
	PriceWei            int64
	SellerPayoutAddress string
	Title               string
	Description         string
	Tags                []string
}

// Publish creates an active listing for an anonymized report. The seller
// must own the report and the artifact must exist; a missing artifact is
// ErrNotAnonymized. An empty title gets the generated default.
func (s *Service) Publish(ctx context.Context, sellerIdentity string, in PublishInput) (*Listing, error) {
	if sellerIdentity == "" {
		return nil, ErrForbidden
	}
	if in.PriceWei <= 0 {
		return nil, ErrInvalidPrice
	}
	if strings.TrimSpace(in.SellerPayoutAddress) == "" {
		return nil, ErrInvalidListing
	}

	raw, err := s.reports.GetRaw(ctx, in.ReportID, sellerIdentity)
	if err != nil {
		return nil, err
	}
	if _, err := s.reports.GetArtifactForOwner(ctx, in.ReportID, sellerIdentity); err != nil {
		if errors.Is(err, report.ErrNotFound) {
			return nil, ErrNotAnonymized
		}
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = AutoTitle(raw.ReportType, raw.TestDate)
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}

	l := &Listing{
		ReportID:            in.ReportID,
		SellerIdentity:      sellerIdentity,
		Title:               title,
		Description:         in.Description,
		ReportType:          raw.ReportType,
		PriceWei:            in.PriceWei,
		SellerPayoutAddress: in.SellerPayoutAddress,
		Tags:                tags,
		IsActive:            true,
	}
	if err := s.repo.Create(ctx, l); err != nil {
		return nil, err
	}
	s.log.Info().Str("listing_id", l.ID.String()).Str("report_type", l.ReportType).Int64("price_wei", l.PriceWei).Msg("listing published")
	return l, nil
}

// Get returns a listing by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Listing, error) {
	return s.repo.Get(ctx, id)
}

// Search returns active listings matching the query and optional type
// filter, newest first.
func (s *Service) Search(ctx context.Context, query, reportType string, limit, offset int) ([]*Listing, int, error) {
	return s.repo.Search(ctx, strings.TrimSpace(query), reportType, limit, offset)
}

// ListBySeller returns all of one seller's listings, active or not.
func (s *Service) ListBySeller(ctx context.Context, seller string, limit, offset int) ([]*Listing, int, error) {
	if seller == "" {
		return nil, 0, ErrForbidden
	}
	return s.repo.ListBySeller(ctx, seller, limit, offset)
}

// Withdraw deactivates a listing. Only the publisher may withdraw;
// withdrawing an already-inactive listing is a no-op.
func (s *Service) Withdraw(ctx context.Context, id uuid.UUID, sellerIdentity string) error {
	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if l.SellerIdentity != sellerIdentity {
		return ErrForbidden
	}
	if !l.IsActive {
		return nil
	}
	if _, err := s.repo.Deactivate(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("listing_id", id.String()).Msg("listing withdrawn")
	return nil
}
