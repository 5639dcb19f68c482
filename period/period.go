/*
Package period provides the reporting-period math used across the pipeline.

PURPOSE:
  Every fact table, freshness check and aggregation is keyed by a string,
  not a time value. This package owns those strings so the rest of the
  code never formats dates by hand.

CANONICAL FORMATS:
  Date:       "YYYY-MM-DD"             (daily snapshot key)
  Date range: "YYYY-MM-DD~YYYY-MM-DD"  (monthly fact key)

REPORTING PERIOD:
  The default reporting period is the previous calendar month relative to
  "now": first day of last month through last day of last month.

SEE ALSO:
  - etl/freshness.go: compares stored snapshot dates with Range.EndString
  - etl/aggregate.go: filters facts by Range.String / Range.EndString
*/
package period

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical date format for every stored key.
const DateLayout = "2006-01-02"

// RangeSeparator joins the two halves of a canonical date range.
const RangeSeparator = "~"

// ErrInvalidRange is returned when a range ends before it starts.
var ErrInvalidRange = errors.New("invalid range: end before start")

// =============================================================================
// RANGE - Inclusive day range [Start, End]
// =============================================================================

// Range is an inclusive range of calendar days. Times are truncated to
// midnight so two ranges built from the same dates compare equal.
type Range struct {
	Start time.Time
	End   time.Time
}

// NewRange parses two canonical dates into a Range.
func NewRange(start, end string) (Range, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Range{}, fmt.Errorf("start date: %w", err)
	}
	e, err := ParseDate(end)
	if err != nil {
		return Range{}, fmt.Errorf("end date: %w", err)
	}
	if e.Before(s) {
		return Range{}, ErrInvalidRange
	}
	return Range{Start: s, End: e}, nil
}

// PreviousMonth returns the calendar month before the one containing now.
func PreviousMonth(now time.Time) Range {
	firstOfThisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Range{
		Start: firstOfThisMonth.AddDate(0, -1, 0),
		End:   firstOfThisMonth.AddDate(0, 0, -1),
	}
}

// StartString returns the canonical start date.
func (r Range) StartString() string { return FormatDate(r.Start) }

// EndString returns the canonical end date. Daily snapshots are keyed by it.
func (r Range) EndString() string { return FormatDate(r.End) }

// String returns the canonical "start~end" key used by monthly facts.
func (r Range) String() string {
	return r.StartString() + RangeSeparator + r.EndString()
}

// Contains reports whether t falls on a day inside the range.
func (r Range) Contains(t time.Time) bool {
	d := truncate(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

// =============================================================================
// DATE HELPERS
// =============================================================================

// FormatDate formats t as a canonical date.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// ParseDate parses a canonical date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return t, nil
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
