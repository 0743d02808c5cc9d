package reqlib

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Request.
type Status int32

const (
	StatusNotStarted Status = iota
	StatusProcessing
	StatusSucceeded
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusProcessing:
		return "processing"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// IsTerminal reports whether no further transition can follow s
// within the current submission.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// MarkCancelled records a cancellation that happened outside the worker,
// such as while a retry was waiting to resubmit.
func (r *Request) MarkCancelled() {
	r.mu.Lock()
	r.failure = FailureCancelled
	r.response = nil
	r.err = context.Canceled
	r.mu.Unlock()
	r.status.Store(int32(StatusCancelled))
}

// FailureReason explains a Failed or Cancelled status.
type FailureReason int32

const (
	FailureNone FailureReason = iota
	// FailureConnectionError means the request never reached the server.
	FailureConnectionError
	// FailureTimedOut means the activity or total time budget was exceeded.
	FailureTimedOut
	// FailureCancelled means the caller cancelled the request.
	FailureCancelled
)

func (f FailureReason) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureConnectionError:
		return "connection_error"
	case FailureTimedOut:
		return "timed_out"
	case FailureCancelled:
		return "cancelled"
	}
	return "unknown"
}

// CompletionPolicy selects where the completion handler runs.
type CompletionPolicy int32

const (
	// WorkerThread invokes the handler on the worker as soon as the
	// request completes.
	WorkerThread CompletionPolicy = iota
	// SubmissionThread stages the completion until the next Manager.Tick
	// and invokes the handler on the goroutine calling Tick.
	SubmissionThread
)

func (p CompletionPolicy) String() string {
	if p == SubmissionThread {
		return "submission"
	}
	return "worker"
}

// Response is a fully received HTTP response.
type Response struct {
	Code   int
	Header http.Header
	Body   []byte
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r != nil && r.Code >= 200 && r.Code < 300
}

// RequestOpts contains optional parameters for NewRequest.
type RequestOpts struct {
	Header http.Header
	Body   []byte
	// Timeout bounds the whole request measured from its first submission.
	// Zero means no timeout.
	Timeout  time.Duration
	Policy   CompletionPolicy
	Handlers *Handlers
}

// Request is one outbound HTTP request. It is owned by the caller until
// submitted, then shared with the Manager until its completion handler runs.
type Request struct {
	id string

	mu       sync.Mutex
	verb     string
	url      string
	header   http.Header
	body     []byte
	timeout  time.Duration
	failure  FailureReason
	response *Response
	err      error
	elapsed  time.Duration
	waited   time.Duration
	// startedAt is the first submission of the current cycle; retry
	// resubmissions keep it so the deadline spans every attempt.
	startedAt time.Time
	attemptAt time.Time
	queuedAt  time.Time
	events    []event
	handlers  Handlers
	// attempt advances whenever an attempt finishes; reports carrying an
	// older number are dropped.
	attempt uint64

	status          atomic.Int32
	policy          atomic.Int32
	cancelRequested atomic.Bool

	// transport is owned by the worker between promotion and completion.
	transport Transport
}

// NewRequest creates a request in StatusNotStarted.
func NewRequest(verb, rawURL string, opts *RequestOpts) *Request {
	if opts == nil {
		opts = &RequestOpts{}
	}
	r := &Request{
		id:      uuid.NewString(),
		verb:    verb,
		url:     rawURL,
		header:  opts.Header.Clone(),
		body:    opts.Body,
		timeout: opts.Timeout,
	}
	if r.header == nil {
		r.header = make(http.Header)
	}
	if opts.Handlers != nil {
		r.handlers = *opts.Handlers
	}
	r.handlers.setDefault()
	r.policy.Store(int32(opts.Policy))
	return r
}

// ID returns the unique request identifier.
func (r *Request) ID() string { return r.id }

func (r *Request) Verb() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verb
}

func (r *Request) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}

// SetURL replaces the target URL. Only meaningful before a submission.
func (r *Request) SetURL(u string) {
	r.mu.Lock()
	r.url = u
	r.mu.Unlock()
}

// Host returns the host component of the URL, or "" if it does not parse.
func (r *Request) Host() string {
	u, err := url.Parse(r.URL())
	if err != nil {
		return ""
	}
	return u.Host
}

// Header returns a copy of the request headers.
func (r *Request) Header() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.Clone()
}

// SetHeader sets a request header.
func (r *Request) SetHeader(key, value string) {
	r.mu.Lock()
	r.header.Set(key, value)
	r.mu.Unlock()
}

func (r *Request) Body() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body
}

func (r *Request) Timeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeout
}

// SetTimeout sets the total time budget. Zero disables it.
func (r *Request) SetTimeout(d time.Duration) {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

// Deadline returns the absolute deadline of the current cycle.
// ok is false when the request has no timeout or was never submitted.
func (r *Request) Deadline() (deadline time.Time, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timeout <= 0 || r.startedAt.IsZero() {
		return time.Time{}, false
	}
	return r.startedAt.Add(r.timeout), true
}

func (r *Request) Status() Status { return Status(r.status.Load()) }

// SetStatus overrides the status. The retry layer uses it to move a
// finished attempt back to StatusProcessing before resubmitting.
func (r *Request) SetStatus(s Status) { r.status.Store(int32(s)) }

func (r *Request) FailureReason() FailureReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// Response returns the response of the last attempt, or nil.
func (r *Request) Response() *Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response
}

// Err returns the transport error behind a failure, if any.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Elapsed returns the duration of the last attempt.
func (r *Request) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// WaitedInQueue returns how long the last attempt waited for a slot.
func (r *Request) WaitedInQueue() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waited
}

func (r *Request) CompletionPolicy() CompletionPolicy {
	return CompletionPolicy(r.policy.Load())
}

// Handlers returns a copy of the handler set.
func (r *Request) Handlers() Handlers {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handlers
}

// SetHandlers replaces the handler set. Nil fields get no-op defaults.
func (r *Request) SetHandlers(h Handlers) {
	h.setDefault()
	r.mu.Lock()
	r.handlers = h
	r.mu.Unlock()
}

// CancelRequested reports whether Cancel was called for the current cycle.
func (r *Request) CancelRequested() bool { return r.cancelRequested.Load() }

// Reporter carries the events of one attempt to its Request. Events
// reported once that attempt is over are dropped, so a cancelled transport
// still winding down cannot leak into the next attempt.
// Transports may use it from any goroutine.
type Reporter struct {
	req     *Request
	attempt uint64
}

// Reporter returns a Reporter bound to the current attempt. Transports take
// it when they start.
func (r *Request) Reporter() Reporter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Reporter{req: r, attempt: r.attempt}
}

// ReportProgress records transferred byte counts.
func (p Reporter) ReportProgress(sent, received int64) {
	p.req.pushEvent(p.attempt, event{kind: eventProgress, sent: sent, received: received})
}

// ReportHeader records one received response header.
func (p Reporter) ReportHeader(name, value string) {
	p.req.pushEvent(p.attempt, event{kind: eventHeader, name: name, value: value})
}

// ReportStatusCode records the response status code.
func (p Reporter) ReportStatusCode(code int) {
	p.req.pushEvent(p.attempt, event{kind: eventStatusCode, code: code})
}

// prepareSubmission resets per-cycle state. A request resubmitted while
// in StatusProcessing is a retry and keeps its original start time.
func (r *Request) prepareSubmission(now time.Time) {
	retrying := r.Status() == StatusProcessing
	r.mu.Lock()
	if !retrying || r.startedAt.IsZero() {
		r.startedAt = now
	}
	r.attemptAt = time.Time{}
	r.failure = FailureNone
	r.response = nil
	r.err = nil
	r.elapsed = 0
	r.waited = 0
	r.events = nil
	r.mu.Unlock()
	r.status.Store(int32(StatusProcessing))
}

func (r *Request) markQueued(now time.Time) {
	r.mu.Lock()
	r.queuedAt = now
	r.mu.Unlock()
}

func (r *Request) markStarted(now time.Time) {
	r.mu.Lock()
	r.waited = now.Sub(r.queuedAt)
	r.attemptAt = now
	r.mu.Unlock()
}

func (r *Request) deadlineExceeded(now time.Time) bool {
	d, ok := r.Deadline()
	return ok && !now.Before(d)
}

// finish records the terminal outcome of the current attempt.
func (r *Request) finish(s Status, reason FailureReason, resp *Response, err error, now time.Time) {
	r.mu.Lock()
	r.attempt++
	r.failure = reason
	r.response = resp
	r.err = err
	if !r.attemptAt.IsZero() {
		r.elapsed = now.Sub(r.attemptAt)
	}
	r.mu.Unlock()
	r.status.Store(int32(s))
}
