package utils

import (
	"time"
)

// Now returns current time (useful for mocking in tests)
var Now = time.Now

// FormatTimestamp formats timestamp in RFC 3339 format
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// DurationOr returns d when it is set, fallback otherwise.
func DurationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
