package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/warpdl/warpreq/pkg/logger"
)

const maxSleepCap = 60 * time.Second

// Mode selects how due tasks are executed.
type Mode int

const (
	// Push runs due tasks on a goroutine owned by the scheduler.
	Push Mode = iota
	// Pull runs due tasks only when RunDue is called.
	Pull
)

func (m Mode) String() string {
	if m == Pull {
		return "pull"
	}
	return "push"
}

// Scheduler holds delayed one-shot tasks.
type Scheduler struct {
	mu    sync.Mutex
	tasks taskHeap
	mode  Mode
	l     logger.Logger

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewPush creates a scheduler that fires tasks from its own goroutine.
// The goroutine exits when ctx is cancelled or Stop is called.
func NewPush(ctx context.Context, l logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	s := newScheduler(Push, l)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	return s
}

// NewPull creates a scheduler driven by RunDue.
func NewPull(l logger.Logger) *Scheduler {
	return newScheduler(Pull, l)
}

func newScheduler(mode Mode, l logger.Logger) *Scheduler {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Scheduler{
		mode: mode,
		l:    l,
		wake: make(chan struct{}, 1),
	}
}

// Mode returns the backend chosen at construction.
func (s *Scheduler) Mode() Mode { return s.mode }

// Schedule arranges for fn to run once after delay.
// A negative delay is treated as zero.
func (s *Scheduler) Schedule(fn func(), delay time.Duration) *Handle {
	if delay < 0 {
		delay = 0
	}
	h := &Handle{
		fn:    fn,
		due:   time.Now().Add(delay),
		index: -1,
		s:     s,
	}
	s.mu.Lock()
	heapPush(&s.tasks, h)
	s.mu.Unlock()
	s.notify()
	return h
}

// Len returns the number of queued tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks.Len()
}

// RunDue fires every task due at or before now, earliest first, on the
// calling goroutine. It returns the number of tasks fired.
func (s *Scheduler) RunDue(now time.Time) int {
	fired := 0
	for {
		s.mu.Lock()
		if s.tasks.Len() == 0 || s.tasks[0].due.After(now) {
			s.mu.Unlock()
			return fired
		}
		h := heapPop(&s.tasks)
		s.mu.Unlock()
		if h.claim() {
			s.invoke(h)
			fired++
		}
	}
}

// Stop terminates the push goroutine and waits for it to exit.
// Queued tasks are dropped without firing. Safe to call multiple times
// and on pull schedulers.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		s.mu.Lock()
		for _, h := range s.tasks {
			h.index = -1
		}
		s.tasks = nil
		s.mu.Unlock()
	})
}

func (s *Scheduler) remove(h *Handle) {
	s.mu.Lock()
	heapRemove(&s.tasks, h)
	s.mu.Unlock()
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) invoke(h *Handle) {
	defer func() {
		if r := recover(); r != nil {
			s.l.Error("PANIC [scheduled task]: %v\n%s", r, debug.Stack())
		}
	}()
	h.fn()
}

// nextWait returns how long the push loop may sleep.
func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks.Len() == 0 {
		return maxSleepCap
	}
	dur := time.Until(s.tasks[0].due)
	if dur > maxSleepCap {
		dur = maxSleepCap
	}
	if dur < 0 {
		dur = 0
	}
	return dur
}

// run is the push goroutine. It fires due tasks, then sleeps until the
// next due time, a new Schedule call, or cancellation.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	timer := time.NewTimer(maxSleepCap)
	defer timer.Stop()

	for {
		s.RunDue(time.Now())
		timer.Reset(s.nextWait())
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}
