package reqlib

import "time"

type (
	// ProgressHandlerFunc is called with cumulative bytes sent and received.
	ProgressHandlerFunc func(req *Request, sent, received int64)
	// HeaderReceivedHandlerFunc is called once per received response header.
	HeaderReceivedHandlerFunc func(req *Request, name, value string)
	// StatusCodeHandlerFunc is called when the response status code is known.
	StatusCodeHandlerFunc func(req *Request, code int)
	// CompleteHandlerFunc is called exactly once per submission cycle.
	// succeeded is true when a complete response was received, whatever
	// its status code.
	CompleteHandlerFunc func(req *Request, resp *Response, succeeded bool)
	// WillRetryHandlerFunc is called by the retry layer before it waits
	// lockout and submits the request again.
	WillRetryHandlerFunc func(req *Request, resp *Response, lockout time.Duration)
)

// Handlers is the typed set of per-request event sinks.
type Handlers struct {
	ProgressHandler       ProgressHandlerFunc
	HeaderReceivedHandler HeaderReceivedHandlerFunc
	StatusCodeHandler     StatusCodeHandlerFunc
	CompleteHandler       CompleteHandlerFunc
	WillRetryHandler      WillRetryHandlerFunc
}

func (h *Handlers) setDefault() {
	if h.ProgressHandler == nil {
		h.ProgressHandler = func(req *Request, sent, received int64) {}
	}
	if h.HeaderReceivedHandler == nil {
		h.HeaderReceivedHandler = func(req *Request, name, value string) {}
	}
	if h.StatusCodeHandler == nil {
		h.StatusCodeHandler = func(req *Request, code int) {}
	}
	if h.CompleteHandler == nil {
		h.CompleteHandler = func(req *Request, resp *Response, succeeded bool) {}
	}
	if h.WillRetryHandler == nil {
		h.WillRetryHandler = func(req *Request, resp *Response, lockout time.Duration) {}
	}
}

type eventKind int

const (
	eventProgress eventKind = iota
	eventHeader
	eventStatusCode
)

type event struct {
	kind     eventKind
	sent     int64
	received int64
	name     string
	value    string
	code     int
}

func (r *Request) pushEvent(attempt uint64, e event) {
	r.mu.Lock()
	if attempt == r.attempt {
		r.events = append(r.events, e)
	}
	r.mu.Unlock()
}

// dispatchEvents delivers pending events in the order they were reported.
func (r *Request) dispatchEvents() {
	r.mu.Lock()
	events := r.events
	r.events = nil
	h := r.handlers
	r.mu.Unlock()

	for _, e := range events {
		switch e.kind {
		case eventProgress:
			h.ProgressHandler(r, e.sent, e.received)
		case eventHeader:
			h.HeaderReceivedHandler(r, e.name, e.value)
		case eventStatusCode:
			h.StatusCodeHandler(r, e.code)
		}
	}
}
