// Package reqtest provides scripted transports for testing code built on
// reqlib without touching the network.
package reqtest

import (
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warpdl/warpreq/pkg/reqlib"
)

// Step describes the outcome of one attempt.
type Step struct {
	// Code and Header make up the response of a successful attempt.
	Code   int
	Header http.Header
	Body   []byte
	// Failure, when set, completes the attempt without a response.
	Failure reqlib.FailureReason
	// StartErr is returned from Start.
	StartErr error
	// Delay postpones completion. Never keeps the attempt running until it
	// is cancelled.
	Delay time.Duration
	Never bool
}

// OK is a 200 response step.
func OK() Step { return Step{Code: http.StatusOK} }

// Status is a response step with the given code.
func Status(code int) Step { return Step{Code: code} }

// Fail is a failing step without a response.
func Fail(reason reqlib.FailureReason) Step { return Step{Failure: reason} }

// Attempt records one started attempt.
type Attempt struct {
	URL string
	At  time.Time
}

// Script hands out steps to attempts in order. The last step repeats once
// the script runs out. Steps registered with OnHost take precedence for
// requests targeting that host.
type Script struct {
	mu       sync.Mutex
	steps    []Step
	next     int
	hosts    map[string]Step
	attempts []Attempt

	active atomic.Int32
	peak   atomic.Int32
}

// NewScript creates a Script. Without steps every attempt returns 200.
func NewScript(steps ...Step) *Script {
	if len(steps) == 0 {
		steps = []Step{OK()}
	}
	return &Script{steps: steps, hosts: make(map[string]Step)}
}

// OnHost makes every attempt against host use step.
func (s *Script) OnHost(host string, step Step) *Script {
	s.mu.Lock()
	s.hosts[host] = step
	s.mu.Unlock()
	return s
}

// Factory returns a TransportFactory backed by the script.
func (s *Script) Factory() reqlib.TransportFactory {
	return func(req *reqlib.Request) (reqlib.Transport, error) {
		return &transport{s: s, req: req, step: s.take(req.URL())}, nil
	}
}

func (s *Script) take(rawURL string) Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, err := url.Parse(rawURL); err == nil {
		if st, ok := s.hosts[u.Host]; ok {
			return st
		}
	}
	st := s.steps[s.next]
	if s.next < len(s.steps)-1 {
		s.next++
	}
	return st
}

func (s *Script) record(rawURL string) {
	s.mu.Lock()
	s.attempts = append(s.attempts, Attempt{URL: rawURL, At: time.Now()})
	s.mu.Unlock()
	n := s.active.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// Attempts returns every started attempt in start order.
func (s *Script) Attempts() []Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Attempt(nil), s.attempts...)
}

// Count returns the number of started attempts.
func (s *Script) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

// Active returns the number of started, unfinished attempts.
func (s *Script) Active() int { return int(s.active.Load()) }

// Peak returns the highest value Active ever reached.
func (s *Script) Peak() int { return int(s.peak.Load()) }

type transport struct {
	s       *Script
	req     *reqlib.Request
	step    Step
	rep     reqlib.Reporter
	started time.Time
	done    bool
	status  reqlib.Status
	reason  reqlib.FailureReason
	resp    *reqlib.Response
}

func (t *transport) Start() error {
	if t.step.StartErr != nil {
		return t.step.StartErr
	}
	t.started = time.Now()
	t.rep = t.req.Reporter()
	t.s.record(t.req.URL())
	return nil
}

func (t *transport) Tick() {
	if t.done || t.step.Never || time.Since(t.started) < t.step.Delay {
		return
	}
	t.done = true
	t.s.active.Add(-1)

	switch t.step.Failure {
	case reqlib.FailureNone:
	case reqlib.FailureCancelled:
		t.status, t.reason = reqlib.StatusCancelled, reqlib.FailureCancelled
		return
	default:
		t.status, t.reason = reqlib.StatusFailed, t.step.Failure
		return
	}

	t.rep.ReportStatusCode(t.step.Code)
	for name, values := range t.step.Header {
		for _, v := range values {
			t.rep.ReportHeader(name, v)
		}
	}
	t.rep.ReportProgress(int64(len(t.req.Body())), int64(len(t.step.Body)))
	t.status = reqlib.StatusSucceeded
	t.resp = &reqlib.Response{Code: t.step.Code, Header: t.step.Header.Clone(), Body: t.step.Body}
}

func (t *transport) Cancel() {
	if t.done {
		return
	}
	t.done = true
	t.s.active.Add(-1)
	t.status, t.reason = reqlib.StatusCancelled, reqlib.FailureCancelled
}

func (t *transport) IsComplete() bool                    { return t.done }
func (t *transport) Status() reqlib.Status                { return t.status }
func (t *transport) FailureReason() reqlib.FailureReason { return t.reason }
func (t *transport) Response() *reqlib.Response          { return t.resp }
