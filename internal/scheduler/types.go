package scheduler

import (
	"sync/atomic"
	"time"
)

const (
	statePending int32 = iota
	stateFired
	stateCancelled
)

// Handle refers to a task returned by Schedule.
type Handle struct {
	fn    func()
	due   time.Time
	state atomic.Int32
	// index is the position in the owning heap, -1 once popped or removed.
	// Guarded by the owning Scheduler's mutex.
	index int
	s     *Scheduler
}

// Cancel prevents the task from firing. It reports false when the task has
// already fired or was cancelled before.
func (h *Handle) Cancel() bool {
	if !h.state.CompareAndSwap(statePending, stateCancelled) {
		return false
	}
	h.s.remove(h)
	return true
}

// Due returns the earliest time the task may fire.
func (h *Handle) Due() time.Time { return h.due }

// Fired reports whether the task has been claimed for execution.
func (h *Handle) Fired() bool { return h.state.Load() == stateFired }

// Cancelled reports whether Cancel won against firing.
func (h *Handle) Cancelled() bool { return h.state.Load() == stateCancelled }

func (h *Handle) claim() bool {
	return h.state.CompareAndSwap(statePending, stateFired)
}
