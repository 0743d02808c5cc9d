package retry

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerRetryAfter     = "Retry-After"
	headerRateLimitReset = "X-Rate-Limit-Reset"
)

// lockoutFromHeaders returns the wait requested by the server through
// Retry-After (delta seconds or HTTP date) or X-Rate-Limit-Reset (absolute
// unix seconds). Only positive waits count.
func lockoutFromHeaders(h http.Header, now time.Time) (time.Duration, string, bool) {
	if v := strings.TrimSpace(h.Get(headerRetryAfter)); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			if d := time.Duration(secs * float64(time.Second)); d > 0 {
				return d, causeRetryAfter, true
			}
		} else if t, err := http.ParseTime(v); err == nil {
			if d := t.Sub(now); d > 0 {
				return d, causeRetryAfter, true
			}
		}
	}
	if v := strings.TrimSpace(h.Get(headerRateLimitReset)); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(secs, 0).Sub(now); d > 0 {
				return d, causeRateLimitReset, true
			}
		}
	}
	return 0, "", false
}
