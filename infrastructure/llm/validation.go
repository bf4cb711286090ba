package llm

import (
	"cmp"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

// Accepted ranges for request parameters. Gemini takes temperatures up to
// 2.0, the others clamp lower themselves.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinTopP        = 0.0
	MaxTopP        = 1.0
	MinPenalty     = -2.0
	MaxPenalty     = 2.0
	MinTimeout     = 1 * time.Second
	MaxTimeout     = 10 * time.Minute
)

func inRange[T cmp.Ordered](v, lo, hi T) bool { return v >= lo && v <= hi }

// IsValidTemperature reports whether val is within [MinTemperature, MaxTemperature].
func IsValidTemperature(val float64) bool { return inRange(val, MinTemperature, MaxTemperature) }

// IsValidTopP reports whether val is within [MinTopP, MaxTopP].
func IsValidTopP(val float64) bool { return inRange(val, MinTopP, MaxTopP) }

func IsPositiveInt(val int) bool       { return val > 0 }
func IsNonEmptyString(val string) bool { return val != "" }

// ValidateBaseURL checks that baseURL is an absolute http(s) URL and strips
// a trailing slash, since SDKs append paths starting with one. The empty
// string selects the provider's own endpoint.
func ValidateBaseURL(baseURL string) (string, error) {
	if baseURL == "" {
		return "", nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("base URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base URL %q has no host", baseURL)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

// ValidateTimeout clamps timeout into [MinTimeout, MaxTimeout]. Zero and
// negative values return zero, which means the SDK default.
func ValidateTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	return min(max(timeout, MinTimeout), MaxTimeout)
}

// SafeFloat32 converts an option value to float32. Values outside the
// float32 range are rejected.
func SafeFloat32(value any) (float32, bool) {
	switch v := value.(type) {
	case float32:
		return v, true
	case float64:
		if math.Abs(v) > math.MaxFloat32 {
			return 0, false
		}
		return float32(v), true
	case int:
		return float32(v), true
	}
	return 0, false
}

// SafeInt converts an option value to int. Decoded YAML and JSON hand us
// int64 and float64, so both are accepted when they fit.
func SafeInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		if int64(int(v)) != v {
			return 0, false
		}
		return int(v), true
	case float64:
		if math.IsNaN(v) || !inRange(v, math.MinInt32, math.MaxInt32) {
			return 0, false
		}
		return int(v), true
	}
	return 0, false
}

func ClampFloat64(val, lo, hi float64) float64 { return max(lo, min(hi, val)) }
func ClampInt(val, lo, hi int) int             { return max(lo, min(hi, val)) }
