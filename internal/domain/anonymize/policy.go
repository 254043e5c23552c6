package anonymize

import (
	"regexp"
	"strings"
)

// The policy filter is deterministic and runs on every collaborator
// response. It harvests identifier-shaped tokens from the raw input and
// rejects any output that still contains one of them verbatim. The
// collaborator is probabilistic; this filter is the hard floor.

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)
	datePattern  = regexp.MustCompile(`\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|\d{1,2}-\d{1,2}-\d{4})\b`)
	mrnPattern   = regexp.MustCompile(`\b(?:MRN|SSN|ID)[:#\s-]*[A-Za-z0-9-]{4,}\b`)
	// Runs of two or more capitalized words; each adjacent pair in a run is
	// harvested so "Patient John Smith" yields both "Patient John" and
	// "John Smith".
	nameRunPattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`)
)

// clinicalPairs are capitalized two-word sequences that read like names but
// are ordinary report vocabulary. They are never treated as identifiers.
var clinicalPairs = map[string]bool{
	"blood pressure":  true,
	"heart rate":      true,
	"white blood":     true,
	"red blood":       true,
	"complete blood":  true,
	"blood count":     true,
	"lipid panel":     true,
	"thyroid panel":   true,
	"chest xray":      true,
	"reference range": true,
	"test results":    true,
	"lab report":      true,
	"normal limits":   true,
}

// HarvestIdentifiers extracts identifier-shaped tokens from raw report
// content: emails, phone numbers, dates, record-number tokens, and
// capitalized name pairs.
func HarvestIdentifiers(raw string) []string {
	seen := make(map[string]bool)
	var tokens []string

	add := func(tok string) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return
		}
		key := strings.ToLower(tok)
		if seen[key] {
			return
		}
		seen[key] = true
		tokens = append(tokens, tok)
	}

	for _, m := range emailPattern.FindAllString(raw, -1) {
		add(m)
	}
	for _, m := range phonePattern.FindAllString(raw, -1) {
		add(m)
	}
	for _, m := range datePattern.FindAllString(raw, -1) {
		add(m)
	}
	for _, m := range mrnPattern.FindAllString(raw, -1) {
		add(m)
	}
	for _, run := range nameRunPattern.FindAllString(raw, -1) {
		words := strings.Fields(run)
		for i := 0; i+1 < len(words); i++ {
			pair := words[i] + " " + words[i+1]
			if clinicalPairs[strings.ToLower(pair)] {
				continue
			}
			add(pair)
		}
	}
	return tokens
}

// CheckPolicy scans the anonymized output for harvested identifiers from
// the raw input. It returns the tokens that leaked, matched without regard
// to case.
func CheckPolicy(raw, anonymized string) []string {
	lowered := strings.ToLower(anonymized)
	var leaked []string
	for _, tok := range HarvestIdentifiers(raw) {
		if strings.Contains(lowered, strings.ToLower(tok)) {
			leaked = append(leaked, tok)
		}
	}
	return leaked
}
