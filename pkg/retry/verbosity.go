package retry

import (
	"sync"

	"github.com/warpdl/warpreq/pkg/logger"
)

// VerbosityTracker counts requests that are currently between attempts and
// raises a logger to LevelDebug while the count is non-zero. The previous
// level is restored when the count drops back to zero.
type VerbosityTracker struct {
	mu     sync.Mutex
	target logger.Leveled
	count  int
	saved  logger.Level
}

// NewVerbosityTracker creates a tracker driving target. A nil target only
// counts.
func NewVerbosityTracker(target logger.Leveled) *VerbosityTracker {
	return &VerbosityTracker{target: target}
}

// Enter registers one more request in retry.
func (v *VerbosityTracker) Enter() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.count++
	if v.count == 1 && v.target != nil {
		v.saved = v.target.Level()
		if v.saved > logger.LevelDebug {
			v.target.SetLevel(logger.LevelDebug)
		}
	}
}

// Leave unregisters a request. Extra calls are ignored.
func (v *VerbosityTracker) Leave() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.count == 0 {
		return
	}
	v.count--
	if v.count == 0 && v.target != nil {
		v.target.SetLevel(v.saved)
	}
}

// Count returns the number of requests in retry.
func (v *VerbosityTracker) Count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.count
}
