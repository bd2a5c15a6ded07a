// Package clean turns the raw warehouse streams into deduplicated,
// date-resolved touchpoint tables. Malformed cells degrade to missing values;
// only schema-level problems surface as errors, and those are raised by the
// cohort readers before this package runs.
package clean

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// ParseLongDate parses the leading YYYY-MM-DD of a possibly longer timestamp
// string. Returns nil for anything that does not parse; a bad date never
// fails a batch.
func ParseLongDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if len(s) < len(dateLayout) {
		return nil
	}
	t, err := time.ParseInLocation(dateLayout, s[:len(dateLayout)], time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

// ParseDay parses a plain YYYY-MM-DD string, for config-supplied window
// bounds where a malformed value is a caller error.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.UTC)
}

// daysBetween counts whole days from a to b. All dates in the engine are UTC
// midnights, so the division is exact.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}

func addDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}

// sanitizeReturnDate nulls an expected-return date that lands on or before
// its anchoring contact, or more than a year past it. Such values are
// administrative noise, not forward commitments.
func sanitizeReturnDate(anchor time.Time, ret *time.Time) *time.Time {
	if ret == nil {
		return nil
	}
	delta := daysBetween(anchor, *ret)
	if delta <= 0 || delta > 365 {
		return nil
	}
	return ret
}

// withinWindow reports whether d falls inside the inclusive [start, end]
// window. A zero end means no upper bound.
func withinWindow(d, start, end time.Time) bool {
	if d.Before(start) {
		return false
	}
	if !end.IsZero() && d.After(end) {
		return false
	}
	return true
}
