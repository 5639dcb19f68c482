package period

import (
	"strings"
	"time"
)

// Layouts seen in analytics exports, tried in order.
var looseLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"20060102",
	"2006.01.02",
	"2006-1-2",
	"2006/1/2",
}

// Separators seen between the two halves of an exported range. A bare "-"
// is not listed because it also appears inside dates.
var rangeSeparators = []string{"~", "至", " - ", "—"}

// NormalizeDate converts a loosely formatted date into the canonical form.
func NormalizeDate(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range looseLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return FormatDate(t), true
		}
	}
	return raw, false
}

// NormalizeRange converts an exported date-range label into the canonical
// "YYYY-MM-DD~YYYY-MM-DD" key. A single date is treated as a one-day range.
// When the label cannot be parsed it is returned trimmed with ok=false.
func NormalizeRange(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}

	for _, sep := range rangeSeparators {
		parts := strings.SplitN(trimmed, sep, 2)
		if len(parts) != 2 {
			continue
		}
		start, okStart := NormalizeDate(parts[0])
		end, okEnd := NormalizeDate(parts[1])
		if okStart && okEnd {
			return start + RangeSeparator + end, true
		}
		return trimmed, false
	}

	if d, ok := NormalizeDate(trimmed); ok {
		return d + RangeSeparator + d, true
	}
	return trimmed, false
}
