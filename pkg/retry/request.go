package retry

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warpdl/warpreq/internal/scheduler"
	"github.com/warpdl/warpreq/pkg/reqlib"
)

type entryState int

const (
	stateIdle entryState = iota
	stateActive
	stateLockout
	stateDone
)

// Request is a reqlib.Request decorated with a retry policy. Its caller
// handlers see progress of every attempt but only the final completion.
type Request struct {
	*reqlib.Request
	m        *Manager
	override Policy

	mu             sync.Mutex
	state          entryState
	policy         Policy
	caller         reqlib.Handlers
	retryCount     int
	connRetryCount int
	startTime      time.Time
	domainIdx      int
	inRetry        bool
	lockout        *scheduler.Handle
	lastResponse   *reqlib.Response
	finalResponse  *reqlib.Response

	cancelRequested atomic.Bool
}

// install routes the inner completion through the retry decision and keeps
// the caller's completion and retry handlers for the final outcome.
func (r *Request) install(h reqlib.Handlers) {
	if h.CompleteHandler == nil {
		h.CompleteHandler = func(*reqlib.Request, *reqlib.Response, bool) {}
	}
	if h.WillRetryHandler == nil {
		h.WillRetryHandler = func(*reqlib.Request, *reqlib.Response, time.Duration) {}
	}
	r.mu.Lock()
	r.caller = h
	r.mu.Unlock()

	inner := h
	inner.CompleteHandler = r.onComplete
	inner.WillRetryHandler = nil
	r.Request.SetHandlers(inner)
}

// Handlers returns the caller's handler set.
func (r *Request) Handlers() reqlib.Handlers {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.caller
}

// SetHandlers replaces the caller's handler set.
func (r *Request) SetHandlers(h reqlib.Handlers) {
	r.install(h)
}

// Status reports StatusProcessing while the request waits out a lockout.
func (r *Request) Status() reqlib.Status {
	r.mu.Lock()
	s := r.state
	r.mu.Unlock()
	if s == stateLockout {
		return reqlib.StatusProcessing
	}
	return r.Request.Status()
}

// Response returns the final response once the request is resolved. A
// request that timed out or ran out of retries keeps the last response it
// received.
func (r *Request) Response() *reqlib.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateDone {
		return r.finalResponse
	}
	return r.Request.Response()
}

// Retries returns how many resubmissions happened in the current cycle,
// overall and after connection errors.
func (r *Request) Retries() (total, connection int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryCount, r.connRetryCount
}

// StartTime returns when the current cycle was first submitted.
func (r *Request) StartTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startTime
}

// Policy returns the effective policy of the current cycle.
func (r *Request) Policy() Policy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy
}

// ProcessRequest starts a new cycle: it resolves the policy against the
// manager defaults, pushes the relative timeout down to the request,
// reconciles the request host into the domain rotation and submits it.
func (r *Request) ProcessRequest() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateActive || r.state == stateLockout {
		return reqlib.ErrRequestAlreadyTracked
	}

	p := r.override.merge(r.m.Defaults())
	r.policy = p
	r.retryCount, r.connRetryCount = 0, 0
	r.lastResponse, r.finalResponse = nil, nil
	r.inRetry = false
	r.lockout = nil
	r.cancelRequested.Store(false)
	r.startTime = time.Now()
	if p.RelativeTimeout > 0 {
		r.SetTimeout(p.RelativeTimeout)
	}
	r.domainIdx = -1
	if p.Domains != nil {
		p.Domains.Reconcile(r.Host())
		_, r.domainIdx = p.Domains.Active()
	}

	r.state = stateActive
	r.m.register(r)
	if err := r.m.reqs.AddThreadedRequest(r.Request); err != nil {
		r.state = stateIdle
		r.m.deregister(r)
		return err
	}
	return nil
}

// CancelRequest cancels the request. A request waiting out a lockout
// completes as cancelled right away; an attempt in flight is cancelled
// through the request manager.
func (r *Request) CancelRequest() {
	r.cancelRequested.Store(true)
	r.mu.Lock()
	switch r.state {
	case stateLockout:
		if r.lockout == nil || r.lockout.Cancel() {
			r.Request.MarkCancelled()
			r.finishLocked(nil, false, false)
			return
		}
		// The resubmission already fired and will observe the flag.
	case stateActive:
		_ = r.m.reqs.Cancel(r.Request)
	}
	r.mu.Unlock()
}

// onComplete intercepts the completion of every attempt.
func (r *Request) onComplete(_ *reqlib.Request, resp *reqlib.Response, succeeded bool) {
	r.mu.Lock()
	if r.state != stateActive {
		r.mu.Unlock()
		r.m.l.Warning("request %s completed outside of an attempt", r.ID())
		return
	}
	if resp != nil {
		r.lastResponse = resp
	}
	status, reason := r.Request.Status(), r.Request.FailureReason()

	if r.cancelRequested.Load() || status == reqlib.StatusCancelled {
		r.finishLocked(resp, succeeded, false)
		return
	}
	if reason == reqlib.FailureTimedOut {
		r.m.l.Debug("request %s timed out after %d retries", r.ID(), r.retryCount)
		r.finishLocked(resp, succeeded, true)
		return
	}
	p := r.policy
	if !p.shouldRetry(r.Verb(), resp, reason) || !p.canRetry(r.retryCount, r.connRetryCount, reason) {
		r.finishLocked(resp, succeeded, true)
		return
	}

	lockout, cause := r.lockoutLocked(resp, reason)
	if d, ok := r.Deadline(); ok && time.Now().Add(lockout).After(d) {
		r.m.l.Debug("request %s: lockout %s would pass its deadline, giving up", r.ID(), lockout)
		r.finishLocked(resp, succeeded, true)
		return
	}

	if cause == causeRotation {
		r.moveToActiveDomainLocked()
	}
	r.state = stateLockout
	if !r.inRetry {
		r.inRetry = true
		r.m.verbosity.Enter()
	}
	connErr := resp == nil && reason == reqlib.FailureConnectionError
	caller := r.caller
	attempt := r.retryCount + 1
	r.mu.Unlock()

	retriesScheduled.WithLabelValues(cause).Inc()
	retryLockout.Observe(lockout.Seconds())
	r.m.l.Debug("request %s %s: retry %d in %s (%s)", r.ID(), r.URL(), attempt, lockout, cause)
	r.m.call("will retry handler", func() { caller.WillRetryHandler(r.Request, resp, lockout) })

	r.mu.Lock()
	if r.state == stateLockout && r.lockout == nil {
		r.lockout = r.m.reqs.Schedule(r.CompletionPolicy(), func() { r.resubmit(connErr) }, lockout)
	}
	r.mu.Unlock()
}

// lockoutLocked picks the wait before the next attempt: a server-provided
// wait, an immediate retry on the next domain, or the backoff curve.
func (r *Request) lockoutLocked(resp *reqlib.Response, reason reqlib.FailureReason) (time.Duration, string) {
	if resp != nil {
		if d, cause, ok := lockoutFromHeaders(resp.Header, time.Now()); ok {
			return d, cause
		}
	}
	if d := r.policy.Domains; reason == reqlib.FailureConnectionError && d != nil && d.Len() > 1 {
		r.domainIdx = d.Rotate(r.domainIdx)
		return 0, causeRotation
	}
	return r.policy.Backoff.Lockout(r.retryCount, r.m.rnd), causeBackoff
}

// moveToActiveDomainLocked points the request at the active host of its
// domain rotation.
func (r *Request) moveToActiveDomainLocked() {
	d := r.policy.Domains
	if d == nil {
		return
	}
	host, idx := d.Active()
	if idx < 0 {
		return
	}
	u, err := withHost(r.URL(), host)
	if err != nil {
		r.m.l.Warning("request %s: cannot move to %s: %v", r.ID(), host, err)
		return
	}
	r.SetURL(u)
	r.domainIdx = idx
}

// resubmit runs on the request's completion context once the lockout ends.
func (r *Request) resubmit(connErr bool) {
	r.mu.Lock()
	if r.state != stateLockout {
		r.mu.Unlock()
		return
	}
	r.lockout = nil
	if r.cancelRequested.Load() {
		r.Request.MarkCancelled()
		r.finishLocked(nil, false, false)
		return
	}

	r.retryCount++
	if connErr {
		r.connRetryCount++
	}
	r.moveToActiveDomainLocked()

	prev := r.Request.Status()
	r.SetStatus(reqlib.StatusProcessing)
	r.state = stateActive
	if err := r.m.reqs.AddThreadedRequest(r.Request); err != nil {
		r.m.l.Warning("request %s: resubmission failed: %v", r.ID(), err)
		r.SetStatus(prev)
		r.finishLocked(r.Request.Response(), prev == reqlib.StatusSucceeded, true)
		return
	}
	r.mu.Unlock()
}

// finishLocked resolves the request and delivers the caller's completion.
// It must be called with r.mu held and releases it. With fallback set, an
// attempt without a response reports the last response received instead.
func (r *Request) finishLocked(resp *reqlib.Response, succeeded, fallback bool) {
	if fallback && resp == nil && r.lastResponse != nil {
		resp, succeeded = r.lastResponse, true
	}
	r.finalResponse = resp
	r.state = stateDone
	r.lockout = nil
	retried := r.inRetry
	r.inRetry = false
	caller := r.caller
	r.mu.Unlock()

	r.m.deregister(r)
	if retried {
		r.m.verbosity.Leave()
		if r.Request.Status() != reqlib.StatusCancelled && (resp == nil || !resp.OK()) {
			retriesExhausted.Inc()
		}
	}
	r.m.call("complete handler", func() { caller.CompleteHandler(r.Request, resp, succeeded) })
}

func (m *Manager) call(what string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			m.l.Error("PANIC [%s]: %v\n%s", what, rec, debug.Stack())
		}
	}()
	fn()
}
