package reqlib

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/warpdl/warpreq/internal/scheduler"
	"github.com/warpdl/warpreq/pkg/logger"
)

const (
	DefaultMaxConcurrentRequests = 16
	DefaultActiveSleep           = 5 * time.Millisecond
	DefaultIdleSleep             = 50 * time.Millisecond
)

// WorkerConfig configures the WorkerScheduler.
type WorkerConfig struct {
	// MaxConcurrentRequests bounds the number of in-flight requests.
	MaxConcurrentRequests int
	// AllowConcurrencyGrowth lets SetMaxConcurrentRequests raise the limit.
	// Without it the limit can only shrink.
	AllowConcurrencyGrowth bool
	// Cooperative disables the worker goroutine; the worker is then ticked
	// once per Manager.Tick.
	Cooperative bool
	// ActiveSleep is the loop cadence while requests are in flight or queued.
	ActiveSleep time.Duration
	// IdleSleep is the loop cadence with nothing to do.
	IdleSleep time.Duration
	// StartRate limits promotions per second. 0 means unlimited.
	StartRate float64
	// StartBurst is the promotion burst allowed by StartRate. Defaults to 1.
	StartBurst int
}

func (c *WorkerConfig) applyDefaults() {
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if c.ActiveSleep <= 0 {
		c.ActiveSleep = DefaultActiveSleep
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = DefaultIdleSleep
	}
	if c.IdleSleep < c.ActiveSleep {
		c.IdleSleep = c.ActiveSleep
	}
	if c.StartRate > 0 && c.StartBurst <= 0 {
		c.StartBurst = 1
	}
}

// WorkerScheduler owns the in-flight slots and the waiting list.
// Submissions and cancellations arrive through lock-free queues; all other
// state is touched only inside Tick.
type WorkerScheduler struct {
	cfg     WorkerConfig
	factory TransportFactory
	l       logger.Logger
	// onWorkerComplete finishes WorkerThread completions synchronously.
	onWorkerComplete func(*Request)

	submissions   *mpscQueue[*Request]
	cancellations *mpscQueue[*Request]
	completions   *mpscQueue[*Request]

	tickMu  sync.Mutex
	waiting []*Request
	running []*Request

	maxConcurrent atomic.Int32
	inFlight      atomic.Int32
	queued        atomic.Int32
	limiter       *rate.Limiter
	tasks         *scheduler.Scheduler

	wake     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func newWorkerScheduler(cfg WorkerConfig, factory TransportFactory, l logger.Logger, onWorkerComplete func(*Request)) *WorkerScheduler {
	cfg.applyDefaults()
	w := &WorkerScheduler{
		cfg:              cfg,
		factory:          factory,
		l:                l,
		onWorkerComplete: onWorkerComplete,
		submissions:      newMPSCQueue[*Request](),
		cancellations:    newMPSCQueue[*Request](),
		completions:      newMPSCQueue[*Request](),
		wake:             make(chan struct{}, 1),
	}
	w.maxConcurrent.Store(int32(cfg.MaxConcurrentRequests))
	if cfg.StartRate > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.StartRate), cfg.StartBurst)
	}
	if cfg.Cooperative {
		w.tasks = scheduler.NewPull(l)
		return w
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.tasks = scheduler.NewPush(ctx, l)
	go w.run(ctx)
	return w
}

// Threaded reports whether the worker runs its own goroutine.
func (w *WorkerScheduler) Threaded() bool { return !w.cfg.Cooperative }

// AddRequest queues req for promotion. Never blocks.
func (w *WorkerScheduler) AddRequest(req *Request) {
	w.submissions.Push(req)
	w.notify()
}

// CancelRequest queues a cancellation for req. Never blocks.
func (w *WorkerScheduler) CancelRequest(req *Request) {
	w.cancellations.Push(req)
	w.notify()
}

// InFlight returns the number of requests holding a slot.
func (w *WorkerScheduler) InFlight() int { return int(w.inFlight.Load()) }

// Waiting returns the number of requests waiting for a slot.
func (w *WorkerScheduler) Waiting() int { return int(w.queued.Load()) }

// MaxConcurrentRequests returns the current slot limit.
func (w *WorkerScheduler) MaxConcurrentRequests() int { return int(w.maxConcurrent.Load()) }

// SetMaxConcurrentRequests changes the slot limit. Raising the limit is
// refused unless AllowConcurrencyGrowth is set; in-flight requests above a
// lowered limit run to completion.
func (w *WorkerScheduler) SetMaxConcurrentRequests(n int) bool {
	if n <= 0 {
		w.l.Warning("ignoring max concurrent requests %d", n)
		return false
	}
	cur := w.MaxConcurrentRequests()
	if n > cur && !w.cfg.AllowConcurrencyGrowth {
		w.l.Warning("cannot grow max concurrent requests from %d to %d", cur, n)
		return false
	}
	w.maxConcurrent.Store(int32(n))
	w.notify()
	return true
}

func (w *WorkerScheduler) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Tick runs one pass of the worker loop: drain queues, advance in-flight
// transports, promote waiting requests and dispatch completions.
func (w *WorkerScheduler) Tick() {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()

	now := time.Now()
	if w.tasks.Mode() == scheduler.Pull {
		w.tasks.RunDue(now)
	}
	prevRunning, prevWaiting := len(w.running), len(w.waiting)

	var done []*Request
	for {
		req, ok := w.submissions.Pop()
		if !ok {
			break
		}
		req.markQueued(now)
		w.waiting = append(w.waiting, req)
	}
	for {
		req, ok := w.cancellations.Pop()
		if !ok {
			break
		}
		if w.cancelTracked(req, now) {
			done = append(done, req)
		}
	}

	done = w.advance(now, done)
	done = w.promote(now, done)

	w.inFlight.Store(int32(len(w.running)))
	w.queued.Store(int32(len(w.waiting)))
	requestsInFlight.Add(float64(len(w.running) - prevRunning))
	requestsWaiting.Add(float64(len(w.waiting) - prevWaiting))

	for _, req := range done {
		w.complete(req)
	}
}

// cancelTracked removes req from the running or waiting list and marks it
// cancelled. Requests already completed are ignored.
func (w *WorkerScheduler) cancelTracked(req *Request, now time.Time) bool {
	if i := slices.Index(w.running, req); i >= 0 {
		w.running = slices.Delete(w.running, i, i+1)
		req.transport.Cancel()
		req.transport = nil
		req.finish(StatusCancelled, FailureCancelled, nil, context.Canceled, now)
		return true
	}
	if i := slices.Index(w.waiting, req); i >= 0 {
		w.waiting = slices.Delete(w.waiting, i, i+1)
		req.finish(StatusCancelled, FailureCancelled, nil, context.Canceled, now)
		return true
	}
	return false
}

// advance ticks every in-flight transport and collects finished requests.
func (w *WorkerScheduler) advance(now time.Time, done []*Request) []*Request {
	kept := w.running[:0]
	for _, req := range w.running {
		t := req.transport
		safeCall(w.l, "transport tick", t.Tick)
		switch {
		case t.IsComplete():
			req.finish(t.Status(), t.FailureReason(), t.Response(), transportErr(t), now)
		case req.deadlineExceeded(now):
			t.Cancel()
			req.finish(StatusFailed, FailureTimedOut, nil, context.DeadlineExceeded, now)
		default:
			if req.CompletionPolicy() == WorkerThread {
				safeCall(w.l, "request events", req.dispatchEvents)
			}
			kept = append(kept, req)
			continue
		}
		req.transport = nil
		done = append(done, req)
	}
	clear(w.running[len(kept):])
	w.running = kept
	return done
}

// promote moves waiting requests into free slots in arrival order.
func (w *WorkerScheduler) promote(now time.Time, done []*Request) []*Request {
	limit := w.MaxConcurrentRequests()
	for len(w.waiting) > 0 && len(w.running) < limit {
		req := w.waiting[0]
		switch {
		case req.CancelRequested():
			w.popWaiting()
			req.finish(StatusCancelled, FailureCancelled, nil, context.Canceled, now)
			done = append(done, req)
			continue
		case req.deadlineExceeded(now):
			w.popWaiting()
			req.finish(StatusFailed, FailureTimedOut, nil, context.DeadlineExceeded, now)
			done = append(done, req)
			continue
		}
		if w.limiter != nil && !w.limiter.AllowN(now, 1) {
			break
		}
		w.popWaiting()
		req.markStarted(now)
		queueWaitSeconds.Observe(req.WaitedInQueue().Seconds())
		if err := w.start(req); err != nil {
			w.l.Warning("request %s: %v", req.ID(), err)
			req.finish(StatusFailed, FailureConnectionError, nil, err, now)
			done = append(done, req)
			continue
		}
		w.running = append(w.running, req)
	}
	return done
}

func (w *WorkerScheduler) popWaiting() {
	w.waiting[0] = nil
	w.waiting = w.waiting[1:]
}

// start creates and starts a transport for req. Any failure, including a
// panic, is reported as a connection error.
func (w *WorkerScheduler) start(req *Request) (err error) {
	if w.factory == nil {
		return ErrNoTransportFactory
	}
	defer func() {
		if r := recover(); r != nil {
			err = &TransportError{Op: "start", Cause: fmt.Errorf("panic: %v", r), Reason: FailureConnectionError}
		}
	}()
	t, err := w.factory(req)
	if err == nil {
		err = t.Start()
	}
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			err = &TransportError{Op: "start", Cause: err, Reason: FailureConnectionError}
		}
		return err
	}
	req.transport = t
	return nil
}

func (w *WorkerScheduler) complete(req *Request) {
	observeCompletion(req)
	if req.CompletionPolicy() == WorkerThread && w.onWorkerComplete != nil {
		w.onWorkerComplete(req)
		return
	}
	w.completions.Push(req)
}

// run is the worker goroutine. It ticks at the active cadence while there
// is work and at the idle cadence otherwise; new submissions wake it early.
func (w *WorkerScheduler) run(ctx context.Context) {
	defer close(w.done)
	timer := time.NewTimer(w.cfg.IdleSleep)
	defer timer.Stop()

	for {
		safeCall(w.l, "worker tick", w.Tick)
		wait := w.cfg.IdleSleep
		if w.inFlight.Load() > 0 || w.queued.Load() > 0 || w.submissions.Len() > 0 {
			wait = w.cfg.ActiveSleep
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-timer.C:
		}
	}
}

// Stop terminates the worker goroutine and its delayed tasks.
// In-flight transports are cancelled without completing their requests.
func (w *WorkerScheduler) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
			<-w.done
		}
		w.tasks.Stop()

		w.tickMu.Lock()
		for _, req := range w.running {
			req.transport.Cancel()
			req.transport = nil
		}
		requestsInFlight.Sub(float64(len(w.running)))
		requestsWaiting.Sub(float64(len(w.waiting)))
		w.running, w.waiting = nil, nil
		w.inFlight.Store(0)
		w.queued.Store(0)
		w.tickMu.Unlock()
	})
}
