// Package listing manages marketplace listings of anonymized reports.
// Only reports with a policy-approved artifact can be listed; raw content
// never appears here.
package listing

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("listing not found")
	ErrForbidden = errors.New("access denied")

	// ErrNotAnonymized is returned when publishing a report that has no
	// anonymized artifact yet.
	ErrNotAnonymized = errors.New("report has no anonymized artifact")

	// ErrInvalidPrice is returned for a non-positive price.
	ErrInvalidPrice = errors.New("price must be positive")

	// ErrInvalidListing is returned for missing required listing fields.
	ErrInvalidListing = errors.New("invalid listing")
)

// Listing is an active or withdrawn marketplace offer. PriceWei and the
// payout address are the exact terms payment verification checks against.
type Listing struct {
	ID                  uuid.UUID  `json:"id"`
	ReportID            uuid.UUID  `json:"report_id"`
	SellerIdentity      string     `json:"-"`
	Title               string     `json:"title"`
	Description         string     `json:"description,omitempty"`
	ReportType          string     `json:"report_type"`
	PriceWei            int64      `json:"price_wei"`
	SellerPayoutAddress string     `json:"seller_payout_address"`
	Tags                []string   `json:"tags"`
	IsActive            bool       `json:"is_active"`
	PublishedAt         time.Time  `json:"published_at"`
	WithdrawnAt         *time.Time `json:"withdrawn_at,omitempty"`
}

// AutoTitle builds the default listing title for a report type and test
// date, e.g. "Anonymous Blood Report - 2025-06".
func AutoTitle(reportType string, testDate time.Time) string {
	words := strings.Split(strings.ReplaceAll(reportType, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return "Anonymous " + strings.Join(words, " ") + " Report - " + testDate.Format("2006-01")
}
