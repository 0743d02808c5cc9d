package reqlib

import (
	"time"
)

// FlushReason selects the time budget of a Flush.
type FlushReason int

const (
	FlushDefault FlushReason = iota
	FlushShutdown
	FlushFull
)

func (r FlushReason) String() string {
	switch r {
	case FlushShutdown:
		return "shutdown"
	case FlushFull:
		return "full"
	}
	return "default"
}

// FlushLimits is a (soft, hard) budget. After Soft every outstanding request
// is cancelled; after Hard the flush gives up. Negative means unbounded.
type FlushLimits struct {
	Soft time.Duration
	Hard time.Duration
}

func (l FlushLimits) isZero() bool { return l.Soft == 0 && l.Hard == 0 }

// FlushConfig holds the budget of every FlushReason.
// A zero FlushLimits selects the default budget of its reason.
type FlushConfig struct {
	Default  FlushLimits
	Shutdown FlushLimits
	Full     FlushLimits
	// SleepInterval is the pause between flush polls.
	SleepInterval time.Duration
}

const DefaultFlushSleepInterval = 5 * time.Millisecond

var (
	defaultFlushLimits  = FlushLimits{Soft: 2 * time.Second, Hard: 4 * time.Second}
	shutdownFlushLimits = FlushLimits{Soft: 2 * time.Second, Hard: 4 * time.Second}
	fullFlushLimits     = FlushLimits{Soft: -1, Hard: -1}
)

// DefaultFlushConfig returns the budgets used for zero FlushLimits.
func DefaultFlushConfig() FlushConfig {
	c := FlushConfig{}
	c.applyDefaults()
	return c
}

func (c *FlushConfig) applyDefaults() {
	if c.Default.isZero() {
		c.Default = defaultFlushLimits
	}
	if c.Shutdown.isZero() {
		c.Shutdown = shutdownFlushLimits
	}
	if c.Full.isZero() {
		c.Full = fullFlushLimits
	}
	if c.SleepInterval <= 0 {
		c.SleepInterval = DefaultFlushSleepInterval
	}
}

// Limits returns the budget for reason. The Shutdown budget is normalized so
// that at least one tick runs before cancellation, one more before giving up,
// and soft stays below hard.
func (c FlushConfig) Limits(reason FlushReason, minTick time.Duration) FlushLimits {
	switch reason {
	case FlushShutdown:
		return normalizeShutdown(c.Shutdown, minTick)
	case FlushFull:
		return c.Full
	}
	return c.Default
}

func normalizeShutdown(l FlushLimits, minTick time.Duration) FlushLimits {
	if l.Hard >= 0 && l.Hard < 2*minTick {
		l.Hard = 2 * minTick
	}
	if l.Soft < minTick {
		l.Soft = minTick
	}
	if l.Hard >= 0 && l.Soft >= l.Hard {
		l.Soft = l.Hard / 2
	}
	return l
}

// Flush ticks the manager until no request is outstanding or the hard
// budget of reason runs out. Once the soft budget is spent, every
// outstanding request is cancelled exactly once. Requests still outstanding
// after the hard budget are abandoned and logged.
//
// Flush is not reentrant: a concurrent call logs a warning and returns
// immediately.
func (m *Manager) Flush(reason FlushReason) {
	if !m.flushing.CompareAndSwap(false, true) {
		m.l.Warning("flush(%s) called while another flush is in progress", reason)
		return
	}
	defer m.flushing.Store(false)

	minTick := m.cfg.Flush.SleepInterval
	if m.worker.Threaded() && m.cfg.Worker.ActiveSleep > minTick {
		minTick = m.cfg.Worker.ActiveSleep
	}
	limits := m.cfg.Flush.Limits(reason, minTick)

	start := time.Now()
	if n := m.outstanding(); n > 0 {
		m.l.Info("flush(%s) waiting for %d requests (soft %s, hard %s)", reason, n, limits.Soft, limits.Hard)
	}

	cancelled := false
	for m.outstanding() > 0 {
		elapsed := time.Since(start)
		if limits.Hard >= 0 && elapsed >= limits.Hard {
			break
		}
		if !cancelled && limits.Soft >= 0 && elapsed >= limits.Soft {
			m.cancelAll()
			cancelled = true
		}
		m.Tick()
		time.Sleep(m.cfg.Flush.SleepInterval)
	}

	if n := m.outstanding(); n > 0 {
		m.l.Warning("flush(%s) abandoned %d requests after %s", reason, n, time.Since(start))
		for _, req := range m.tracked.Keys() {
			m.l.Warning("abandoned request %s %s %s (%s)", req.ID(), req.Verb(), req.URL(), req.Status())
		}
	}
}

func (m *Manager) outstanding() int {
	n := m.tracked.Len() + int(m.dispatching.Load())
	for _, p := range m.flushParticipants() {
		n += p.Pending()
	}
	return n
}

func (m *Manager) cancelAll() {
	reqs := m.tracked.Keys()
	m.l.Info("flush cancelling %d requests", len(reqs))
	for _, req := range reqs {
		_ = m.Cancel(req)
	}
	for _, p := range m.flushParticipants() {
		p.CancelAll()
	}
}
