// Package sanitize strips personally identifying information from record
// batches before they leave the service.
//
// Two independent passes run in order:
//
//  1. PII pass: drop any column whose lowercased name contains a member of
//     the PII set, then scrub email- and phone-shaped substrings out of the
//     remaining text values.
//  2. Policy pass: drop columns whose lowercased name exactly matches a
//     policy-banned attribute the decision rules must never see, even when
//     it is not literally PII.
//
// The full pipeline is idempotent: sanitizing already-sanitized output
// drops nothing further and scrubs nothing further.
package sanitize

import (
	"regexp"
	"sort"
	"strings"

	"github.com/opencredit/kestrel/internal/domain"
)

// piiNames are matched as substrings of lowercased column names.
var piiNames = []string{"name", "email", "phone", "address", "ssn", "national_id", "dob"}

// policyBanned are matched by exact lowercased column name.
var policyBanned = map[string]bool{
	"race":        true,
	"gender":      true,
	"religion":    true,
	"ethnicity":   true,
	"ssn":         true,
	"national_id": true,
}

var (
	emailRE = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRE = regexp.MustCompile(`\+?\d[\d\-\s]{6,}\d`)
)

// Sanitize runs both passes over the batch and returns the sanitized copy
// plus the sorted list of dropped column names for audit display.
// The input batch is not modified.
func Sanitize(b *domain.Batch) (*domain.Batch, []string) {
	out, dropped := DropPIIColumns(b)
	out, banned := StripPolicyBanned(out)
	dropped = append(dropped, banned...)
	sort.Strings(dropped)
	return out, dropped
}

// DropPIIColumns removes PII-named columns, scrubs text values in the
// remaining columns, and dedupes duplicate column names (last wins).
func DropPIIColumns(b *domain.Batch) (*domain.Batch, []string) {
	out := &domain.Batch{Records: make([]domain.Record, len(b.Records))}

	var dropped []string
	keep := make(map[string]bool, len(b.Columns))
	for _, col := range b.Columns {
		if isPIIName(col) {
			dropped = append(dropped, col)
			continue
		}
		keep[col] = true
		out.Columns = append(out.Columns, col)
	}
	out.DedupeColumns()

	for i, rec := range b.Records {
		clean := make(domain.Record, len(rec))
		for k, v := range rec {
			if !keep[k] {
				continue
			}
			if s, ok := v.(string); ok {
				clean[k] = ScrubText(s)
			} else {
				clean[k] = v
			}
		}
		out.Records[i] = clean
	}

	return out, dropped
}

// StripPolicyBanned removes policy-banned columns by exact lowercase match.
func StripPolicyBanned(b *domain.Batch) (*domain.Batch, []string) {
	out := &domain.Batch{Records: make([]domain.Record, len(b.Records))}

	var dropped []string
	keep := make(map[string]bool, len(b.Columns))
	for _, col := range b.Columns {
		if policyBanned[strings.ToLower(col)] {
			dropped = append(dropped, col)
			continue
		}
		keep[col] = true
		out.Columns = append(out.Columns, col)
	}

	for i, rec := range b.Records {
		clean := make(domain.Record, len(rec))
		for k, v := range rec {
			if keep[k] {
				clean[k] = v
			}
		}
		out.Records[i] = clean
	}

	return out, dropped
}

// ScrubText removes email- and phone-shaped substrings from a text value
// and trims surrounding whitespace.
func ScrubText(s string) string {
	s = emailRE.ReplaceAllString(s, "")
	s = phoneRE.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func isPIIName(col string) bool {
	lower := strings.ToLower(col)
	for _, k := range piiNames {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
