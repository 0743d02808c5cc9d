package retry

import (
	"math"
	"time"
)

// BackoffCurve describes the exponential lockout between attempts:
//
//	lockout = Base^(retryCount+1+ExponentBias) * U(MinCoefficient, MaxCoefficient)
//
// capped at MaxBackoff.
type BackoffCurve struct {
	Base           float64
	ExponentBias   float64
	MinCoefficient float64
	MaxCoefficient float64
	MaxBackoff     time.Duration
}

// DefaultBackoffCurve waits 2-4s before the first retry, 4-8s before the
// second and never more than a minute.
func DefaultBackoffCurve() BackoffCurve {
	return BackoffCurve{
		Base:           2,
		ExponentBias:   1,
		MinCoefficient: 0.5,
		MaxCoefficient: 1.0,
		MaxBackoff:     60 * time.Second,
	}
}

// IsZero reports whether every field is unset.
func (c BackoffCurve) IsZero() bool {
	return c == BackoffCurve{}
}

// IsValid reports whether the jitter range and base are usable.
func (c BackoffCurve) IsValid() bool {
	return c.Base > 1 &&
		c.ExponentBias >= 0 &&
		c.MinCoefficient >= 0 &&
		c.MinCoefficient <= c.MaxCoefficient &&
		c.MaxBackoff >= 0
}

// Lockout returns the wait before the attempt following retryCount earlier
// retries. rnd must return values in [0, 1). An invalid curve uses a fixed
// coefficient of 1.
func (c BackoffCurve) Lockout(retryCount int, rnd func() float64) time.Duration {
	coef := 1.0
	if c.IsValid() {
		coef = c.MinCoefficient + rnd()*(c.MaxCoefficient-c.MinCoefficient)
	}
	secs := math.Pow(c.Base, float64(retryCount)+1+c.ExponentBias) * coef
	switch {
	case math.IsNaN(secs) || secs <= 0:
		return 0
	case c.MaxBackoff > 0 && secs >= c.MaxBackoff.Seconds():
		return c.MaxBackoff
	case secs >= math.MaxInt64/float64(time.Second):
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(secs * float64(time.Second))
}
