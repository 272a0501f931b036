package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

var (
	// ElementIDRegex validates room, member and endpoint ids. Slashes are
	// reserved as fid separators.
	ElementIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.\-]+$`)
)

// MaxElementIDLength bounds room, member and endpoint ids.
const MaxElementIDLength = 128

// ValidateElementID validates a room, member or endpoint id
func ValidateElementID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s id is required", kind)
	}
	if len(id) > MaxElementIDLength {
		return fmt.Errorf("%s id is too long (max %d characters)", kind, MaxElementIDLength)
	}
	if !ElementIDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s id format: %q", kind, id)
	}
	return nil
}

// ValidateCallbackURL validates on_join/on_leave callback targets.
// Supported schemes are http, https and redis (redis://<channel>).
func ValidateCallbackURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("callback URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid callback URL format: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "redis":
	default:
		return fmt.Errorf("invalid callback URL scheme %q (must be http, https or redis)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("callback URL must have a host")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonNegativeDuration rejects negative timeouts.
func ValidateNonNegativeDuration(d time.Duration, fieldName string) error {
	if d < 0 {
		return fmt.Errorf("%s must not be negative, got %s", fieldName, d)
	}
	return nil
}
