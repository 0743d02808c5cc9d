package reqlib

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// RateLimitedReader wraps an io.Reader and limits the read rate.
// A limit of 0 or negative means unlimited (no throttling).
type RateLimitedReader struct {
	r   io.Reader
	ctx context.Context
	lim *rate.Limiter
}

// NewRateLimitedReader creates a rate-limited reader.
// limit is in bytes per second. Waiting for tokens stops when ctx is done.
func NewRateLimitedReader(ctx context.Context, r io.Reader, limit int64) *RateLimitedReader {
	rl := &RateLimitedReader{r: r, ctx: ctx}
	if limit > 0 {
		burst := limit
		if burst > math.MaxInt32 {
			burst = math.MaxInt32
		}
		// start with empty bucket - no initial burst
		rl.lim = rate.NewLimiter(rate.Limit(limit), int(burst))
		rl.lim.AllowN(time.Now(), int(burst))
	}
	return rl
}

// Read implements io.Reader. A single read never exceeds one second worth
// of data, so the limiter can always satisfy the wait.
func (r *RateLimitedReader) Read(b []byte) (n int, err error) {
	if r.lim == nil {
		return r.r.Read(b)
	}
	if burst := r.lim.Burst(); len(b) > burst {
		b = b[:burst]
	}
	n, err = r.r.Read(b)
	if n > 0 {
		if werr := r.lim.WaitN(r.ctx, n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}

// Limit returns the current rate limit in bytes per second.
func (r *RateLimitedReader) Limit() int64 {
	if r.lim == nil {
		return 0
	}
	return int64(r.lim.Limit())
}

// RateLimitedReadCloser wraps an io.ReadCloser with rate limiting.
type RateLimitedReadCloser struct {
	*RateLimitedReader
	closer io.Closer
}

// NewRateLimitedReadCloser creates a rate-limited ReadCloser.
func NewRateLimitedReadCloser(ctx context.Context, rc io.ReadCloser, limit int64) *RateLimitedReadCloser {
	return &RateLimitedReadCloser{
		RateLimitedReader: NewRateLimitedReader(ctx, rc, limit),
		closer:            rc,
	}
}

// Close closes the underlying ReadCloser.
func (r *RateLimitedReadCloser) Close() error {
	return r.closer.Close()
}

// ParseSpeedLimit parses a human-readable speed limit such as "512KB",
// "1.5MiB" or "100". Returns bytes per second; 0 means unlimited.
func ParseSpeedLimit(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty speed limit")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("invalid speed limit: negative value not allowed in %q", s)
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid speed limit %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("invalid speed limit %q: too large", s)
	}
	return int64(n), nil
}
