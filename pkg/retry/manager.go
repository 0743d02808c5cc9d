package retry

import (
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/warpdl/warpreq/pkg/logger"
	"github.com/warpdl/warpreq/pkg/reqlib"
)

// Config configures a Manager.
type Config struct {
	// Defaults apply to every request; per-request policies override them.
	// The zero value means DefaultPolicy.
	Defaults Policy
	// Verbosity counts requests between attempts. Defaults to a tracker
	// driving the request manager's logger when it is Leveled.
	Verbosity *VerbosityTracker
	// Rand returns jitter samples in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// Manager decorates requests of a reqlib.Manager with retries. It joins the
// request manager's flushes, so Flush and Shutdown wait for retries sitting
// out a lockout and cancel them with everything else.
type Manager struct {
	reqs      *reqlib.Manager
	l         logger.Logger
	verbosity *VerbosityTracker
	rnd       func() float64

	defMu    sync.RWMutex
	defaults Policy

	mu      sync.Mutex
	entries map[*Request]struct{}
}

// NewManager creates a retry manager on top of reqs.
func NewManager(reqs *reqlib.Manager, cfg Config) *Manager {
	m := &Manager{
		reqs:      reqs,
		l:         reqs.Logger(),
		verbosity: cfg.Verbosity,
		rnd:       cfg.Rand,
		entries:   make(map[*Request]struct{}),
	}
	m.defaults = DefaultPolicy()
	if !isZeroPolicy(cfg.Defaults) {
		m.defaults = cfg.Defaults
	}
	if m.verbosity == nil {
		lv, _ := m.l.(logger.Leveled)
		m.verbosity = NewVerbosityTracker(lv)
	}
	if m.rnd == nil {
		m.rnd = rand.Float64
	}
	reqs.AddFlushParticipant(m)
	return m
}

func isZeroPolicy(p Policy) bool {
	return p.MaxRetries == nil &&
		p.MaxRetriesForConnectionError == nil &&
		p.RelativeTimeout == 0 &&
		len(p.RetryableResponseCodes) == 0 &&
		len(p.RetryableVerbs) == 0 &&
		p.Domains == nil &&
		p.Backoff.IsZero()
}

// Defaults returns the process-wide policy.
func (m *Manager) Defaults() Policy {
	m.defMu.RLock()
	defer m.defMu.RUnlock()
	return m.defaults
}

// SetDefaults replaces the process-wide policy. Requests already in flight
// keep the policy they started with.
func (m *Manager) SetDefaults(p Policy) {
	m.defMu.Lock()
	m.defaults = p
	m.defMu.Unlock()
}

// Verbosity returns the tracker of requests between attempts.
func (m *Manager) Verbosity() *VerbosityTracker { return m.verbosity }

// Requests returns the underlying request manager.
func (m *Manager) Requests() *reqlib.Manager { return m.reqs }

// RequestOpts contains optional parameters for NewRequest.
type RequestOpts struct {
	Header   http.Header
	Body     []byte
	Timeout  time.Duration
	Policy   reqlib.CompletionPolicy
	Handlers *reqlib.Handlers
	// Retry overrides the manager defaults for this request.
	Retry Policy
}

// NewRequest creates a retry-aware request. Call ProcessRequest to submit it.
func (m *Manager) NewRequest(verb, url string, opts *RequestOpts) *Request {
	if opts == nil {
		opts = &RequestOpts{}
	}
	inner := reqlib.NewRequest(verb, url, &reqlib.RequestOpts{
		Header:   opts.Header,
		Body:     opts.Body,
		Timeout:  opts.Timeout,
		Policy:   opts.Policy,
		Handlers: opts.Handlers,
	})
	r := &Request{
		Request:  inner,
		m:        m,
		override: opts.Retry,
	}
	r.install(inner.Handlers())
	return r
}

// Submit creates a retry-aware request and processes it.
func (m *Manager) Submit(verb, url string, opts *RequestOpts) (*Request, error) {
	r := m.NewRequest(verb, url, opts)
	if err := r.ProcessRequest(); err != nil {
		return nil, err
	}
	return r, nil
}

func (m *Manager) register(r *Request) {
	m.mu.Lock()
	m.entries[r] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) deregister(r *Request) {
	m.mu.Lock()
	delete(m.entries, r)
	m.mu.Unlock()
}

// Pending returns the number of requests that have not reached their final
// outcome.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// CancelAll cancels every pending request.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	reqs := make([]*Request, 0, len(m.entries))
	for r := range m.entries {
		reqs = append(reqs, r)
	}
	m.mu.Unlock()
	for _, r := range reqs {
		r.CancelRequest()
	}
}

var _ reqlib.FlushParticipant = (*Manager)(nil)
