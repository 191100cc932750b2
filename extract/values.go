package extract

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// normalize converts a scanned ledger value to its text form.
// NULL, empty and whitespace-only values are absent (nil).
func normalize(v interface{}) *string {
	var s string
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(v)
	case time.Time:
		s = v.UTC().Format(time.RFC3339Nano)
	default:
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime accepts time values, unix seconds (or milliseconds), and common text layouts.
// Anything else is absent.
func parseTime(v interface{}) *time.Time {
	switch v := v.(type) {
	case time.Time:
		t := v.UTC()
		return &t
	case int64:
		return unixTime(float64(v))
	case float64:
		return unixTime(v)
	}

	s := normalize(v)
	if s == nil {
		return nil
	}
	if f, err := strconv.ParseFloat(*s, 64); err == nil {
		return unixTime(f)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func unixTime(f float64) *time.Time {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return nil
	}
	if f > 1e12 {
		f /= 1000
	}
	sec, frac := math.Modf(f)
	t := time.Unix(int64(sec), int64(frac*1e9)).UTC().Truncate(time.Microsecond)
	return &t
}

// statusAccepted reports whether a raw token_status value is in the filter set.
// Absent and non-integral statuses are rejected.
func statusAccepted(v interface{}, filter map[int]bool) bool {
	s := normalize(v)
	if s == nil {
		return false
	}
	f, err := strconv.ParseFloat(*s, 64)
	if err != nil || f != math.Trunc(f) {
		return false
	}
	return filter[int(f)]
}
