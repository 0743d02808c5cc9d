package reqlib

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

const readChunkSize = 32 * 1024

// HTTPTransportOpts configures the net/http backed Transport.
type HTTPTransportOpts struct {
	// Client performs the requests. Nil uses NewHTTPClient("", 0).
	Client *http.Client
	// SpeedLimit caps the response body read rate in bytes per second.
	// 0 means unlimited.
	SpeedLimit int64
	// Header holds defaults for headers the request does not set,
	// such as User-Agent.
	Header http.Header
}

// NewHTTPTransportFactory returns a factory creating one net/http transport
// per attempt.
func NewHTTPTransportFactory(opts *HTTPTransportOpts) (TransportFactory, error) {
	if opts == nil {
		opts = &HTTPTransportOpts{}
	}
	client := opts.Client
	if client == nil {
		var err error
		if client, err = NewHTTPClient("", 0); err != nil {
			return nil, err
		}
	}
	limit, defaults := opts.SpeedLimit, opts.Header.Clone()
	return func(req *Request) (Transport, error) {
		return &httpTransport{req: req, client: client, speedLimit: limit, defaults: defaults}, nil
	}, nil
}

// httpTransport runs one attempt on its own goroutine.
type httpTransport struct {
	req        *Request
	client     *http.Client
	speedLimit int64
	defaults   http.Header

	cancel context.CancelFunc
	rep    Reporter
	done   atomic.Bool

	mu     sync.Mutex
	status Status
	reason FailureReason
	resp   *Response
	err    error
}

func (t *httpTransport) Start() error {
	ctx := context.Background()
	var cancel context.CancelFunc
	if deadline, ok := t.req.Deadline(); ok {
		ctx, cancel = context.WithDeadline(ctx, deadline)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	var body io.Reader
	if b := t.req.Body(); len(b) > 0 {
		body = bytes.NewReader(b)
	}
	hreq, err := http.NewRequestWithContext(ctx, t.req.Verb(), t.req.URL(), body)
	if err != nil {
		cancel()
		return &TransportError{Op: "build request", Cause: err, Reason: FailureConnectionError}
	}
	hreq.Header = t.req.Header()
	for name, values := range t.defaults {
		if _, ok := hreq.Header[name]; !ok {
			hreq.Header[name] = values
		}
	}

	t.cancel = cancel
	t.rep = t.req.Reporter()
	go t.run(ctx, hreq)
	return nil
}

func (t *httpTransport) run(ctx context.Context, hreq *http.Request) {
	defer t.cancel()

	resp, err := t.client.Do(hreq)
	if err != nil {
		t.fail("do", err)
		return
	}
	defer resp.Body.Close()

	t.rep.ReportStatusCode(resp.StatusCode)
	for name, values := range resp.Header {
		for _, v := range values {
			t.rep.ReportHeader(name, v)
		}
	}

	var r io.Reader = resp.Body
	if t.speedLimit > 0 {
		r = NewRateLimitedReader(ctx, resp.Body, t.speedLimit)
	}
	sent := hreq.ContentLength
	if sent < 0 {
		sent = 0
	}
	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	for {
		n, rerr := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			t.rep.ReportProgress(sent, int64(buf.Len()))
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			t.fail("read body", rerr)
			return
		}
	}

	t.finish(StatusSucceeded, FailureNone, &Response{
		Code:   resp.StatusCode,
		Header: resp.Header,
		Body:   buf.Bytes(),
	}, nil)
}

func (t *httpTransport) fail(op string, err error) {
	reason := ClassifyError(err)
	status := StatusFailed
	if reason == FailureCancelled {
		status = StatusCancelled
	}
	t.finish(status, reason, nil, &TransportError{Op: op, Cause: err, Reason: reason})
}

func (t *httpTransport) finish(s Status, reason FailureReason, resp *Response, err error) {
	t.mu.Lock()
	t.status, t.reason, t.resp, t.err = s, reason, resp, err
	t.mu.Unlock()
	t.done.Store(true)
}

func (t *httpTransport) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *httpTransport) Tick() {}

func (t *httpTransport) IsComplete() bool { return t.done.Load() }

func (t *httpTransport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *httpTransport) FailureReason() FailureReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

func (t *httpTransport) Response() *Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resp
}

func (t *httpTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
