package search

import (
	"strings"
	"time"
)

// Coarse time ranges shared by the search APIs.
const (
	RangeDay   = "day"
	RangeWeek  = "week"
	RangeMonth = "month"
	RangeYear  = "year"
)

// TimeRange rounds a recency window in days up to the smallest range
// search APIs accept. Zero, negative, or more than a year yields "".
// The 30-day research window maps to a month.
func TimeRange(days int) string {
	switch {
	case days <= 0:
		return ""
	case days <= 1:
		return RangeDay
	case days <= 7:
		return RangeWeek
	case days <= 31:
		return RangeMonth
	case days <= 366:
		return RangeYear
	}
	return ""
}

var publishedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// publishedDate normalises a provider timestamp to YYYY-MM-DD in UTC,
// or "" when it cannot be parsed.
func publishedDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.DateOnly)
		}
	}
	return ""
}
