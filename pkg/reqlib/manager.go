package reqlib

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warpdl/warpreq/internal/scheduler"
	"github.com/warpdl/warpreq/pkg/logger"
)

// Config configures a Manager.
type Config struct {
	Worker WorkerConfig
	Flush  FlushConfig
	// TransportFactory creates the Transport for every attempt. Required.
	TransportFactory TransportFactory
	// Logger receives warnings about misuse and abandoned requests.
	// Defaults to a NopLogger.
	Logger logger.Logger
}

// FlushParticipant is implemented by layers that hold requests outside the
// tracked set, such as retries waiting out a lockout. Flush waits for them
// and cancels them together with the tracked requests.
type FlushParticipant interface {
	// Pending returns the number of requests the participant still owns.
	Pending() int
	// CancelAll cancels every owned request. Each must still complete
	// exactly once.
	CancelAll()
}

// Manager tracks every live Request, hands them to the WorkerScheduler and
// dispatches their completion handlers according to their completion policy.
type Manager struct {
	cfg     Config
	l       logger.Logger
	tracked *VMap[*Request, struct{}]
	worker  *WorkerScheduler
	// tasks runs delayed work on the goroutine calling Tick.
	tasks *scheduler.Scheduler

	tickMu       sync.Mutex
	flushing     atomic.Bool
	dispatching  atomic.Int32
	closed       atomic.Bool
	shutdownOnce sync.Once

	hooksMu     sync.RWMutex
	onAdded     func(*Request)
	onCompleted func(*Request)

	partsMu      sync.Mutex
	participants []FlushParticipant
}

// NewManager creates a Manager. In the default threaded mode the worker
// goroutine starts immediately; call Shutdown to stop it.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TransportFactory == nil {
		return nil, ErrNoTransportFactory
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}
	cfg.Worker.applyDefaults()
	cfg.Flush.applyDefaults()

	m := &Manager{
		cfg:     cfg,
		l:       cfg.Logger,
		tracked: NewVMap[*Request, struct{}](),
		tasks:   scheduler.NewPull(cfg.Logger),
	}
	m.worker = newWorkerScheduler(cfg.Worker, cfg.TransportFactory, cfg.Logger, m.finish)
	return m, nil
}

// Worker returns the scheduler executing the requests.
func (m *Manager) Worker() *WorkerScheduler { return m.worker }

// Logger returns the logger the manager reports to.
func (m *Manager) Logger() logger.Logger { return m.l }

// SubmitOptions contains optional parameters for Submit.
type SubmitOptions struct {
	Timeout  time.Duration
	Policy   CompletionPolicy
	Handlers *Handlers
}

// Submit creates a request and adds it to the manager.
func (m *Manager) Submit(verb, url string, header http.Header, body []byte, opts *SubmitOptions) (*Request, error) {
	if opts == nil {
		opts = &SubmitOptions{}
	}
	req := NewRequest(verb, url, &RequestOpts{
		Header:   header,
		Body:     body,
		Timeout:  opts.Timeout,
		Policy:   opts.Policy,
		Handlers: opts.Handlers,
	})
	if err := m.AddThreadedRequest(req); err != nil {
		return nil, err
	}
	return req, nil
}

// AddThreadedRequest tracks req and hands it to the worker.
// Requests added during a Flush are accepted with a warning.
func (m *Manager) AddThreadedRequest(req *Request) error {
	if req == nil {
		return ErrNilRequest
	}
	if m.closed.Load() {
		return ErrManagerClosed
	}
	// A new cycle drops the cancel flag of the previous one before the
	// request becomes visible to Cancel. Retries keep it.
	if req.Status() != StatusProcessing {
		req.cancelRequested.Store(false)
	}
	if !m.tracked.SetIfAbsent(req, struct{}{}) {
		m.l.Warning("request %s submitted while already being processed", req.ID())
		return ErrRequestAlreadyTracked
	}
	if m.flushing.Load() {
		m.l.Warning("request %s added during flush", req.ID())
	}
	req.prepareSubmission(time.Now())
	if hook := m.addedHook(); hook != nil {
		safeCall(m.l, "request added hook", func() { hook(req) })
	}
	m.worker.AddRequest(req)
	return nil
}

// Cancel asks the worker to cancel req. The request completes as
// StatusCancelled at the next worker tick unless it finished first.
func (m *Manager) Cancel(req *Request) error {
	if req == nil {
		return ErrNilRequest
	}
	if _, ok := m.tracked.Get(req); !ok {
		return ErrRequestNotTracked
	}
	req.cancelRequested.Store(true)
	m.worker.CancelRequest(req)
	return nil
}

// SetCompletionPolicy changes where req's completion handler runs.
// It applies to the next completion of req.
func (m *Manager) SetCompletionPolicy(req *Request, p CompletionPolicy) {
	req.policy.Store(int32(p))
}

// IsTracked reports whether req is waiting for its completion.
func (m *Manager) IsTracked(req *Request) bool {
	_, ok := m.tracked.Get(req)
	return ok
}

// Tracked returns the number of live requests.
func (m *Manager) Tracked() int { return m.tracked.Len() }

// Schedule runs fn once after delay in the context matching policy: on the
// worker for WorkerThread, on the goroutine calling Tick for SubmissionThread.
func (m *Manager) Schedule(policy CompletionPolicy, fn func(), delay time.Duration) *scheduler.Handle {
	if policy == SubmissionThread {
		return m.tasks.Schedule(fn, delay)
	}
	h := m.worker.tasks.Schedule(fn, delay)
	m.worker.notify()
	return h
}

// Tick runs due delayed tasks, delivers pending events of SubmissionThread
// requests, ticks a cooperative worker and dispatches staged completions.
func (m *Manager) Tick() {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	m.tasks.RunDue(time.Now())
	for _, req := range m.tracked.Keys() {
		if req.CompletionPolicy() == SubmissionThread {
			safeCall(m.l, "request events", req.dispatchEvents)
		}
	}
	if !m.worker.Threaded() {
		m.worker.Tick()
	}
	for {
		req, ok := m.worker.completions.Pop()
		if !ok {
			break
		}
		m.finish(req)
	}
}

// finish untracks req and invokes its completion handler. The tracked set
// guarantees one invocation per submission cycle.
//
// The completed hook runs before the handler: a handler may resubmit req,
// which resets the state the hook reads. dispatching keeps Flush waiting
// until both return.
func (m *Manager) finish(req *Request) {
	m.dispatching.Add(1)
	defer m.dispatching.Add(-1)
	if _, ok := m.tracked.LoadAndDelete(req); !ok {
		m.l.Warning("request %s completed without being tracked", req.ID())
		return
	}
	safeCall(m.l, "request events", req.dispatchEvents)

	h := req.Handlers()
	resp := req.Response()
	succeeded := req.Status() == StatusSucceeded
	if hook := m.completedHook(); hook != nil {
		safeCall(m.l, "request completed hook", func() { hook(req) })
	}
	safeCall(m.l, "complete handler", func() { h.CompleteHandler(req, resp, succeeded) })
}

// SetOnRequestAdded installs a hook called for every accepted submission.
func (m *Manager) SetOnRequestAdded(fn func(*Request)) {
	m.hooksMu.Lock()
	m.onAdded = fn
	m.hooksMu.Unlock()
}

// SetOnRequestCompleted installs a hook called for every finished attempt,
// just before its completion handler.
func (m *Manager) SetOnRequestCompleted(fn func(*Request)) {
	m.hooksMu.Lock()
	m.onCompleted = fn
	m.hooksMu.Unlock()
}

func (m *Manager) addedHook() func(*Request) {
	m.hooksMu.RLock()
	defer m.hooksMu.RUnlock()
	return m.onAdded
}

func (m *Manager) completedHook() func(*Request) {
	m.hooksMu.RLock()
	defer m.hooksMu.RUnlock()
	return m.onCompleted
}

// AddFlushParticipant registers p with Flush.
func (m *Manager) AddFlushParticipant(p FlushParticipant) {
	m.partsMu.Lock()
	m.participants = append(m.participants, p)
	m.partsMu.Unlock()
}

func (m *Manager) flushParticipants() []FlushParticipant {
	m.partsMu.Lock()
	defer m.partsMu.Unlock()
	return append([]FlushParticipant(nil), m.participants...)
}

// Shutdown clears the manager hooks, flushes with the Shutdown budget and
// stops the worker and delayed tasks. Later submissions fail with
// ErrManagerClosed.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.SetOnRequestAdded(nil)
		m.SetOnRequestCompleted(nil)
		m.Flush(FlushShutdown)
		m.closed.Store(true)
		m.worker.Stop()
		m.tasks.Stop()
	})
}
