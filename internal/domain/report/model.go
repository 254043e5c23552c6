// Package report stores raw medical reports and their anonymized artifacts.
// Raw content is owner-only; an anonymized artifact becomes publicly
// readable once a listing references it.
package report

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("report not found")
	ErrForbidden = errors.New("access denied")

	// ErrInvalidReport is returned when a raw report is missing required
	// fields or names an unknown type.
	ErrInvalidReport = errors.New("invalid report")

	// ErrArtifactImmutable is returned when an anonymized artifact already
	// backs a listing and may no longer be replaced.
	ErrArtifactImmutable = errors.New("artifact referenced by a listing is immutable")
)

// Valid report types.
var validReportTypes = map[string]bool{
	"blood":     true,
	"xray":      true,
	"mri":       true,
	"ct_scan":   true,
	"urine":     true,
	"pathology": true,
	"cardiac":   true,
	"general":   true,
}

func ValidReportType(t string) bool {
	return validReportTypes[t]
}

// RawReport is the original, identifying report content. It never leaves
// the owner's scope.
type RawReport struct {
	ID            uuid.UUID `json:"id"`
	OwnerIdentity string    `json:"owner_identity"`
	ReportType    string    `json:"report_type"`
	RawContent    string    `json:"raw_content"`
	TestDate      time.Time `json:"test_date"`
	CreatedAt     time.Time `json:"created_at"`
}

// AnonymizedArtifact is the de-identified counterpart of a raw report,
// keyed one-to-one by report id.
type AnonymizedArtifact struct {
	ReportID           uuid.UUID `json:"report_id"`
	AnonymizedContent  string    `json:"anonymized_content"`
	AnonymizationModel string    `json:"anonymization_model"`
	CreatedAt          time.Time `json:"created_at"`
}
