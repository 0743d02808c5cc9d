package reqlib_test

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdl/warpreq/pkg/logger"
	"github.com/warpdl/warpreq/pkg/reqlib"
	"github.com/warpdl/warpreq/pkg/reqlib/reqtest"
)

type completion struct {
	req       *reqlib.Request
	resp      *reqlib.Response
	succeeded bool
	at        time.Time
}

// recorder collects completion handler invocations.
type recorder struct {
	mu   sync.Mutex
	all  []completion
	ch   chan completion
	once map[*reqlib.Request]int
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan completion, 4096), once: make(map[*reqlib.Request]int)}
}

func (r *recorder) handlers() *reqlib.Handlers {
	return &reqlib.Handlers{CompleteHandler: r.complete}
}

func (r *recorder) complete(req *reqlib.Request, resp *reqlib.Response, ok bool) {
	c := completion{req: req, resp: resp, succeeded: ok, at: time.Now()}
	r.mu.Lock()
	r.all = append(r.all, c)
	r.once[req]++
	r.mu.Unlock()
	r.ch <- c
}

func (r *recorder) wait(t *testing.T, n int, timeout time.Duration) []completion {
	t.Helper()
	var got []completion
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case c := <-r.ch:
			got = append(got, c)
		case <-deadline:
			t.Fatalf("got %d of %d completions", len(got), n)
		}
	}
	return got
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.all)
}

func (r *recorder) invocations(req *reqlib.Request) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.once[req]
}

func newManager(t *testing.T, script *reqtest.Script, mutate func(*reqlib.Config)) (*reqlib.Manager, *logger.MockLogger) {
	t.Helper()
	l := logger.NewMockLogger()
	cfg := reqlib.Config{
		TransportFactory: script.Factory(),
		Logger:           l,
		Flush: reqlib.FlushConfig{
			Shutdown: reqlib.FlushLimits{Soft: 100 * time.Millisecond, Hard: 300 * time.Millisecond},
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := reqlib.NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m, l
}

func TestNewManager_RequiresFactory(t *testing.T) {
	_, err := reqlib.NewManager(reqlib.Config{})
	assert.ErrorIs(t, err, reqlib.ErrNoTransportFactory)
}

func TestManager_SubmitWorkerThread(t *testing.T) {
	script := reqtest.NewScript(reqtest.Step{Code: 200, Body: []byte("hi")})
	m, _ := newManager(t, script, nil)
	rec := newRecorder()

	req, err := m.Submit(http.MethodGet, "http://example.test/a", nil, nil, &reqlib.SubmitOptions{Handlers: rec.handlers()})
	require.NoError(t, err)

	got := rec.wait(t, 1, 2*time.Second)
	assert.Same(t, req, got[0].req)
	assert.True(t, got[0].succeeded)
	require.NotNil(t, got[0].resp)
	assert.Equal(t, 200, got[0].resp.Code)
	assert.Equal(t, []byte("hi"), got[0].resp.Body)
	assert.Equal(t, reqlib.StatusSucceeded, req.Status())
	assert.Equal(t, reqlib.FailureNone, req.FailureReason())
	assert.NotEmpty(t, req.ID())
	assert.Eventually(t, func() bool { return !m.IsTracked(req) }, time.Second, 5*time.Millisecond)
}

func TestManager_SubmissionThreadWaitsForTick(t *testing.T) {
	script := reqtest.NewScript()
	m, _ := newManager(t, script, func(c *reqlib.Config) { c.Worker.Cooperative = true })
	rec := newRecorder()

	req, err := m.Submit(http.MethodGet, "http://example.test/", nil, nil, &reqlib.SubmitOptions{
		Policy:   reqlib.SubmissionThread,
		Handlers: rec.handlers(),
	})
	require.NoError(t, err)
	assert.False(t, m.Worker().Threaded())

	// tick 1 promotes, tick 2 completes the scripted attempt and stages it
	m.Tick()
	m.Tick()
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 1, rec.invocations(req))
	assert.Equal(t, 0, m.Tracked())
}

func TestManager_EventOrder(t *testing.T) {
	script := reqtest.NewScript(reqtest.Step{Code: 201, Header: http.Header{"X-Test": {"1"}}, Body: []byte("abc")})
	m, _ := newManager(t, script, func(c *reqlib.Config) { c.Worker.Cooperative = true })

	var events []string
	h := &reqlib.Handlers{
		StatusCodeHandler:     func(_ *reqlib.Request, code int) { events = append(events, "status") },
		HeaderReceivedHandler: func(_ *reqlib.Request, name, value string) { events = append(events, "header:"+name+"="+value) },
		ProgressHandler:       func(_ *reqlib.Request, _, received int64) { events = append(events, "progress") },
		CompleteHandler:       func(*reqlib.Request, *reqlib.Response, bool) { events = append(events, "complete") },
	}
	_, err := m.Submit(http.MethodPost, "http://example.test/", nil, []byte("body"), &reqlib.SubmitOptions{
		Policy:   reqlib.SubmissionThread,
		Handlers: h,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		m.Tick()
	}
	assert.Equal(t, []string{"status", "header:X-Test=1", "progress", "complete"}, events)
}

func TestManager_DuplicateSubmissionRejected(t *testing.T) {
	script := reqtest.NewScript(reqtest.Step{Never: true})
	m, l := newManager(t, script, nil)

	req := reqlib.NewRequest(http.MethodGet, "http://example.test/", nil)
	require.NoError(t, m.AddThreadedRequest(req))
	assert.ErrorIs(t, m.AddThreadedRequest(req), reqlib.ErrRequestAlreadyTracked)
	assert.NotEmpty(t, l.Warnings())
	assert.ErrorIs(t, m.AddThreadedRequest(nil), reqlib.ErrNilRequest)
}

func TestManager_CancelWaitingRequest(t *testing.T) {
	script := reqtest.NewScript(reqtest.Step{Never: true})
	m, _ := newManager(t, script, func(c *reqlib.Config) { c.Worker.MaxConcurrentRequests = 1 })
	rec := newRecorder()

	running, err := m.Submit(http.MethodGet, "http://example.test/1", nil, nil, &reqlib.SubmitOptions{Handlers: rec.handlers()})
	require.NoError(t, err)
	waiting, err := m.Submit(http.MethodGet, "http://example.test/2", nil, nil, &reqlib.SubmitOptions{Handlers: rec.handlers()})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return script.Count() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Cancel(waiting))

	got := rec.wait(t, 1, time.Second)
	assert.Same(t, waiting, got[0].req)
	assert.False(t, got[0].succeeded)
	assert.Equal(t, reqlib.StatusCancelled, waiting.Status())
	assert.Equal(t, reqlib.FailureCancelled, waiting.FailureReason())
	assert.Equal(t, 1, script.Count(), "cancelled request must never start")
	assert.True(t, m.IsTracked(running))
}

func TestManager_CancelRunningRequestCompletesOnce(t *testing.T) {
	script := reqtest.NewScript(reqtest.Step{Never: true})
	m, _ := newManager(t, script, nil)
	rec := newRecorder()

	req, err := m.Submit(http.MethodGet, "http://example.test/", nil, nil, &reqlib.SubmitOptions{Handlers: rec.handlers()})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return script.Active() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Cancel(req))
	_ = m.Cancel(req)
	rec.wait(t, 1, time.Second)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.invocations(req))
	assert.Equal(t, reqlib.StatusCancelled, req.Status())
	assert.Equal(t, 0, script.Active())
	assert.ErrorIs(t, m.Cancel(req), reqlib.ErrRequestNotTracked)
}

func TestManager_StartFailureIsConnectionError(t *testing.T) {
	boom := errors.New("too many open files")
	script := reqtest.NewScript(reqtest.Step{StartErr: boom})
	m, l := newManager(t, script, nil)
	rec := newRecorder()

	req, err := m.Submit(http.MethodGet, "http://example.test/", nil, nil, &reqlib.SubmitOptions{Handlers: rec.handlers()})
	require.NoError(t, err)

	got := rec.wait(t, 1, time.Second)
	assert.False(t, got[0].succeeded)
	assert.Nil(t, got[0].resp)
	assert.Equal(t, reqlib.StatusFailed, req.Status())
	assert.Equal(t, reqlib.FailureConnectionError, req.FailureReason())
	assert.ErrorIs(t, req.Err(), boom)

	var te *reqlib.TransportError
	require.ErrorAs(t, req.Err(), &te)
	assert.Equal(t, "start", te.Op)
	assert.NotEmpty(t, l.Warnings())
}

func TestManager_TimeoutEnforcedByWorker(t *testing.T) {
	script := reqtest.NewScript(reqtest.Step{Never: true})
	m, _ := newManager(t, script, nil)
	rec := newRecorder()

	start := time.Now()
	req, err := m.Submit(http.MethodGet, "http://example.test/", nil, nil, &reqlib.SubmitOptions{
		Timeout:  50 * time.Millisecond,
		Handlers: rec.handlers(),
	})
	require.NoError(t, err)

	got := rec.wait(t, 1, time.Second)
	assert.GreaterOrEqual(t, got[0].at.Sub(start), 50*time.Millisecond)
	assert.Equal(t, reqlib.StatusFailed, req.Status())
	assert.Equal(t, reqlib.FailureTimedOut, req.FailureReason())
	assert.Equal(t, 0, script.Active(), "timed out transport must be cancelled")
}

func TestManager_ConcurrencyBound(t *testing.T) {
	const total, limit = 1000, 16
	script := reqtest.NewScript(reqtest.Step{Code: 200, Delay: time.Millisecond})
	m, _ := newManager(t, script, func(c *reqlib.Config) { c.Worker.MaxConcurrentRequests = limit })

	var completed atomic.Int32
	h := &reqlib.Handlers{CompleteHandler: func(*reqlib.Request, *reqlib.Response, bool) { completed.Add(1) }}

	stop := make(chan struct{})
	var maxSampled atomic.Int32
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if n := int32(m.Worker().InFlight()); n > maxSampled.Load() {
				maxSampled.Store(n)
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Submit(http.MethodGet, "http://example.test/", nil, nil, &reqlib.SubmitOptions{Handlers: h})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return completed.Load() == total }, 20*time.Second, 10*time.Millisecond)
	close(stop)

	assert.LessOrEqual(t, script.Peak(), limit)
	assert.LessOrEqual(t, int(maxSampled.Load()), limit)
	assert.Equal(t, total, script.Count())
	assert.Equal(t, 0, m.Tracked())
}

func TestManager_SetMaxConcurrentRequests(t *testing.T) {
	m, l := newManager(t, reqtest.NewScript(), func(c *reqlib.Config) { c.Worker.MaxConcurrentRequests = 8 })
	w := m.Worker()

	assert.True(t, w.SetMaxConcurrentRequests(4))
	assert.Equal(t, 4, w.MaxConcurrentRequests())
	assert.False(t, w.SetMaxConcurrentRequests(6), "growth not allowed")
	assert.False(t, w.SetMaxConcurrentRequests(0))
	assert.Equal(t, 4, w.MaxConcurrentRequests())
	assert.Len(t, l.Warnings(), 2)

	g, _ := newManager(t, reqtest.NewScript(), func(c *reqlib.Config) {
		c.Worker.MaxConcurrentRequests = 2
		c.Worker.AllowConcurrencyGrowth = true
	})
	assert.True(t, g.Worker().SetMaxConcurrentRequests(32))
	assert.Equal(t, 32, g.Worker().MaxConcurrentRequests())
}

func TestManager_StartRateLimit(t *testing.T) {
	script := reqtest.NewScript()
	m, _ := newManager(t, script, func(c *reqlib.Config) {
		c.Worker.StartRate = 20
		c.Worker.StartBurst = 1
	})
	rec := newRecorder()

	for i := 0; i < 5; i++ {
		_, err := m.Submit(http.MethodGet, "http://example.test/", nil, nil, &reqlib.SubmitOptions{Handlers: rec.handlers()})
		require.NoError(t, err)
	}
	rec.wait(t, 5, 3*time.Second)

	attempts := script.Attempts()
	require.Len(t, attempts, 5)
	assert.GreaterOrEqual(t, attempts[4].At.Sub(attempts[0].At), 150*time.Millisecond)
}

func TestManager_RequestReuse(t *testing.T) {
	script := reqtest.NewScript(reqtest.Status(500), reqtest.OK())
	m, _ := newManager(t, script, nil)
	rec := newRecorder()

	req := reqlib.NewRequest(http.MethodGet, "http://example.test/", &reqlib.RequestOpts{Handlers: rec.handlers()})
	require.NoError(t, m.AddThreadedRequest(req))
	first := rec.wait(t, 1, time.Second)
	assert.Equal(t, 500, first[0].resp.Code)

	require.Eventually(t, func() bool { return !m.IsTracked(req) }, time.Second, time.Millisecond)
	require.NoError(t, m.AddThreadedRequest(req))
	second := rec.wait(t, 1, time.Second)
	assert.Equal(t, 200, second[0].resp.Code)
	assert.Equal(t, 2, rec.invocations(req))
}

func TestManager_Hooks(t *testing.T) {
	m, _ := newManager(t, reqtest.NewScript(), nil)
	rec := newRecorder()

	var added, completed atomic.Int32
	m.SetOnRequestAdded(func(*reqlib.Request) { added.Add(1) })
	m.SetOnRequestCompleted(func(*reqlib.Request) { completed.Add(1) })

	_, err := m.Submit(http.MethodGet, "http://example.test/", nil, nil, &reqlib.SubmitOptions{Handlers: rec.handlers()})
	require.NoError(t, err)
	rec.wait(t, 1, time.Second)

	assert.Equal(t, int32(1), added.Load())
	assert.Eventually(t, func() bool { return completed.Load() == 1 }, time.Second, time.Millisecond)
}

func TestManager_ShutdownWaitsForCompletedHook(t *testing.T) {
	m, err := reqlib.NewManager(reqlib.Config{TransportFactory: reqtest.NewScript().Factory()})
	require.NoError(t, err)

	var hooked atomic.Int32
	m.SetOnRequestCompleted(func(*reqlib.Request) {
		time.Sleep(20 * time.Millisecond)
		hooked.Add(1)
	})
	handled := make(chan struct{})
	h := &reqlib.Handlers{CompleteHandler: func(*reqlib.Request, *reqlib.Response, bool) { close(handled) }}
	_, err = m.Submit(http.MethodGet, "http://example.test/", nil, nil, &reqlib.SubmitOptions{Handlers: h})
	require.NoError(t, err)

	<-handled
	m.Shutdown()
	assert.Equal(t, int32(1), hooked.Load())
}

func TestManager_HandlerPanicRecovered(t *testing.T) {
	m, l := newManager(t, reqtest.NewScript(), nil)

	done := make(chan struct{})
	h := &reqlib.Handlers{CompleteHandler: func(*reqlib.Request, *reqlib.Response, bool) {
		defer close(done)
		panic("handler exploded")
	}}
	_, err := m.Submit(http.MethodGet, "http://example.test/", nil, nil, &reqlib.SubmitOptions{Handlers: h})
	require.NoError(t, err)
	<-done

	assert.Eventually(t, func() bool { return len(l.Errors()) == 1 }, time.Second, time.Millisecond)

	rec := newRecorder()
	_, err = m.Submit(http.MethodGet, "http://example.test/", nil, nil, &reqlib.SubmitOptions{Handlers: rec.handlers()})
	require.NoError(t, err)
	rec.wait(t, 1, time.Second)
}

func TestManager_Schedule(t *testing.T) {
	m, _ := newManager(t, reqtest.NewScript(), nil)

	fired := make(chan string, 2)
	m.Schedule(reqlib.WorkerThread, func() { fired <- "worker" }, 10*time.Millisecond)
	m.Schedule(reqlib.SubmissionThread, func() { fired <- "submission" }, 0)

	select {
	case name := <-fired:
		assert.Equal(t, "worker", name, "submission tasks only run on Tick")
	case <-time.After(time.Second):
		t.Fatal("worker task never fired")
	}
	m.Tick()
	assert.Equal(t, "submission", <-fired)
}

func TestManager_ShutdownFlushBound(t *testing.T) {
	const n = 10
	script := reqtest.NewScript(reqtest.Step{Never: true})
	m, _ := newManager(t, script, nil)
	rec := newRecorder()

	for i := 0; i < n; i++ {
		_, err := m.Submit(http.MethodGet, "http://example.test/", nil, nil, &reqlib.SubmitOptions{Handlers: rec.handlers()})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return script.Active() == n }, time.Second, time.Millisecond)

	var added atomic.Int32
	m.SetOnRequestAdded(func(*reqlib.Request) { added.Add(1) })

	start := time.Now()
	m.Shutdown()
	took := time.Since(start)

	assert.Less(t, took, 300*time.Millisecond+100*time.Millisecond)
	got := rec.wait(t, n, time.Second)
	for _, c := range got {
		assert.Equal(t, reqlib.StatusCancelled, c.req.Status())
		assert.LessOrEqual(t, c.at.Sub(start), 100*time.Millisecond+50*time.Millisecond)
	}

	_, err := m.Submit(http.MethodGet, "http://example.test/", nil, nil, nil)
	assert.ErrorIs(t, err, reqlib.ErrManagerClosed)
	assert.Equal(t, int32(0), added.Load(), "shutdown clears hooks")
}

type stuckParticipant struct{ cancelled atomic.Int32 }

func (p *stuckParticipant) Pending() int { return 1 }
func (p *stuckParticipant) CancelAll()   { p.cancelled.Add(1) }

func TestManager_FlushAbandonsAfterHardLimit(t *testing.T) {
	m, l := newManager(t, reqtest.NewScript(), func(c *reqlib.Config) {
		c.Flush.Default = reqlib.FlushLimits{Soft: 30 * time.Millisecond, Hard: 80 * time.Millisecond}
	})
	p := &stuckParticipant{}
	m.AddFlushParticipant(p)

	start := time.Now()
	m.Flush(reqlib.FlushDefault)
	took := time.Since(start)

	assert.GreaterOrEqual(t, took, 80*time.Millisecond)
	assert.Less(t, took, 200*time.Millisecond)
	assert.Equal(t, int32(1), p.cancelled.Load(), "cancel is issued once")

	var abandoned bool
	for _, w := range l.Warnings() {
		abandoned = abandoned || strings.Contains(w, "abandoned 1 requests")
	}
	assert.True(t, abandoned)
}

func TestManager_ReentrantFlushWarns(t *testing.T) {
	script := reqtest.NewScript(reqtest.Step{Never: true})
	m, l := newManager(t, script, func(c *reqlib.Config) {
		c.Flush.Default = reqlib.FlushLimits{Soft: 100 * time.Millisecond, Hard: 200 * time.Millisecond}
	})
	_, err := m.Submit(http.MethodGet, "http://example.test/", nil, nil, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Flush(reqlib.FlushDefault)
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	m.Flush(reqlib.FlushDefault)
	assert.Less(t, time.Since(start), 20*time.Millisecond, "reentrant flush returns immediately")

	// submissions during a flush are accepted with a warning
	_, err = m.Submit(http.MethodGet, "http://example.test/late", nil, nil, nil)
	require.NoError(t, err)
	<-done

	var reentrant, late bool
	for _, w := range l.Warnings() {
		reentrant = reentrant || strings.Contains(w, "another flush is in progress")
		late = late || strings.Contains(w, "added during flush")
	}
	assert.True(t, reentrant)
	assert.True(t, late)
	assert.Equal(t, 0, m.Tracked())
}

func TestManager_CompletedHookRunsBeforeHandler(t *testing.T) {
	m, _ := newManager(t, reqtest.NewScript(reqtest.Fail(reqlib.FailureConnectionError), reqtest.OK()), nil)

	var order []string
	var mu sync.Mutex
	note := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	var hookSaw reqlib.Status
	m.SetOnRequestCompleted(func(req *reqlib.Request) {
		hookSaw = req.Status()
		note("hook")
	})
	done := make(chan struct{})
	h := &reqlib.Handlers{CompleteHandler: func(r *reqlib.Request, _ *reqlib.Response, _ bool) {
		note("handler")
		if r.FailureReason() == reqlib.FailureConnectionError {
			// resubmitting from the handler resets the attempt state
			r.SetStatus(reqlib.StatusProcessing)
			assert.NoError(t, m.AddThreadedRequest(r))
			return
		}
		close(done)
	}}
	req := reqlib.NewRequest(http.MethodGet, "http://example.test/", &reqlib.RequestOpts{Handlers: h})
	require.NoError(t, m.AddThreadedRequest(req))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("no completion")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hook", "handler", "hook", "handler"}, order)
	assert.Equal(t, reqlib.StatusSucceeded, hookSaw)
}

func TestManager_CancelFromAddedHook(t *testing.T) {
	script := reqtest.NewScript(reqtest.Step{Code: 200, Delay: 50 * time.Millisecond})
	m, _ := newManager(t, script, nil)
	rec := newRecorder()

	var cancelled atomic.Bool
	m.SetOnRequestAdded(func(req *reqlib.Request) {
		if !cancelled.Swap(true) {
			assert.NoError(t, m.Cancel(req))
		}
	})
	req := reqlib.NewRequest(http.MethodGet, "http://example.test/", &reqlib.RequestOpts{Handlers: rec.handlers()})
	require.NoError(t, m.AddThreadedRequest(req))
	first := rec.wait(t, 1, time.Second)
	assert.Nil(t, first[0].resp)
	assert.Equal(t, reqlib.FailureCancelled, req.FailureReason())

	// the next cycle starts without the old cancellation
	require.Eventually(t, func() bool { return !m.IsTracked(req) }, time.Second, time.Millisecond)
	require.NoError(t, m.AddThreadedRequest(req))
	assert.False(t, req.CancelRequested())
	second := rec.wait(t, 1, time.Second)
	require.NotNil(t, second[0].resp)
	assert.Equal(t, reqlib.StatusSucceeded, req.Status())
}

// stalledTransport never finishes on its own and hands out its reporter.
type stalledTransport struct {
	req      *reqlib.Request
	reporter chan reqlib.Reporter
	done     bool
}

func (s *stalledTransport) Start() error {
	s.reporter <- s.req.Reporter()
	return nil
}
func (s *stalledTransport) Cancel()                              { s.done = true }
func (s *stalledTransport) Tick()                                {}
func (s *stalledTransport) IsComplete() bool                     { return s.done }
func (s *stalledTransport) Status() reqlib.Status                { return reqlib.StatusCancelled }
func (s *stalledTransport) FailureReason() reqlib.FailureReason { return reqlib.FailureCancelled }
func (s *stalledTransport) Response() *reqlib.Response          { return nil }

func TestManager_StaleAttemptEventsDropped(t *testing.T) {
	reporters := make(chan reqlib.Reporter, 1)
	next := reqtest.NewScript(reqtest.Step{Code: 200, Delay: 30 * time.Millisecond}).Factory()
	var calls atomic.Int32
	factory := func(req *reqlib.Request) (reqlib.Transport, error) {
		if calls.Add(1) == 1 {
			return &stalledTransport{req: req, reporter: reporters}, nil
		}
		return next(req)
	}
	m, _ := newManager(t, reqtest.NewScript(), func(c *reqlib.Config) { c.TransportFactory = factory })

	var mu sync.Mutex
	var codes []int
	rec := newRecorder()
	h := rec.handlers()
	h.StatusCodeHandler = func(_ *reqlib.Request, code int) {
		mu.Lock()
		codes = append(codes, code)
		mu.Unlock()
	}
	req := reqlib.NewRequest(http.MethodGet, "http://example.test/", &reqlib.RequestOpts{Handlers: h})
	require.NoError(t, m.AddThreadedRequest(req))

	stale := <-reporters
	require.NoError(t, m.Cancel(req))
	rec.wait(t, 1, time.Second)

	require.Eventually(t, func() bool { return !m.IsTracked(req) }, time.Second, time.Millisecond)
	require.NoError(t, m.AddThreadedRequest(req))
	stale.ReportStatusCode(599)
	stale.ReportHeader("X-Stale", "1")

	second := rec.wait(t, 1, time.Second)
	require.NotNil(t, second[0].resp)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{200}, codes)
}
