// Package retry decorates reqlib requests with a resilience policy: bounded
// retries, exponential backoff with jitter, server-provided waits from
// Retry-After and X-Rate-Limit-Reset, and host rotation after connection
// errors. Callers only observe the final outcome of a request.
package retry
