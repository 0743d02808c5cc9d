package retry

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/warpdl/warpreq/pkg/reqlib"
)

// Policy configures retries. As a per-request override, zero and nil fields
// inherit the manager's defaults.
type Policy struct {
	// MaxRetries bounds the number of resubmissions. Nil means none.
	MaxRetries *int
	// MaxRetriesForConnectionError, when set, bounds resubmissions after
	// connection errors independently of MaxRetries.
	MaxRetriesForConnectionError *int
	// RelativeTimeout is the total budget across every attempt.
	RelativeTimeout time.Duration
	// RetryableResponseCodes lists status codes worth another attempt.
	RetryableResponseCodes []int
	// RetryableVerbs lists verbs retried when no response was received.
	// Defaults to GET and HEAD.
	RetryableVerbs []string
	// Domains, when set, rotates the target host after connection errors.
	Domains *Domains
	Backoff BackoffCurve
}

// Limit returns a pointer to n, for MaxRetries and
// MaxRetriesForConnectionError.
func Limit(n int) *int { return &n }

// DefaultPolicy retries idempotent verbs three times on throttling and
// gateway errors.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: Limit(3),
		RetryableResponseCodes: []int{
			http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
		Backoff: DefaultBackoffCurve(),
	}
}

var defaultRetryableVerbs = []string{http.MethodGet, http.MethodHead}

// merge overlays the non-zero fields of p onto def.
func (p Policy) merge(def Policy) Policy {
	out := def
	if p.MaxRetries != nil {
		out.MaxRetries = p.MaxRetries
	}
	if p.MaxRetriesForConnectionError != nil {
		out.MaxRetriesForConnectionError = p.MaxRetriesForConnectionError
	}
	if p.RelativeTimeout > 0 {
		out.RelativeTimeout = p.RelativeTimeout
	}
	if len(p.RetryableResponseCodes) > 0 {
		out.RetryableResponseCodes = p.RetryableResponseCodes
	}
	if len(p.RetryableVerbs) > 0 {
		out.RetryableVerbs = p.RetryableVerbs
	}
	if len(out.RetryableVerbs) == 0 {
		out.RetryableVerbs = defaultRetryableVerbs
	}
	if p.Domains != nil {
		out.Domains = p.Domains
	}
	if !p.Backoff.IsZero() {
		out.Backoff = p.Backoff
	}
	return out
}

// shouldRetry reports whether the outcome of an attempt is eligible for
// another one.
func (p Policy) shouldRetry(verb string, resp *reqlib.Response, reason reqlib.FailureReason) bool {
	if resp != nil {
		return slices.Contains(p.RetryableResponseCodes, resp.Code)
	}
	if reason == reqlib.FailureConnectionError {
		return true
	}
	return slices.ContainsFunc(p.RetryableVerbs, func(v string) bool {
		return strings.EqualFold(v, verb)
	})
}

// canRetry reports whether the counters leave room for another attempt.
func (p Policy) canRetry(retries, connRetries int, reason reqlib.FailureReason) bool {
	if reason == reqlib.FailureConnectionError && p.MaxRetriesForConnectionError != nil {
		return connRetries < *p.MaxRetriesForConnectionError
	}
	return p.MaxRetries != nil && retries < *p.MaxRetries
}
