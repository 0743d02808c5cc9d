package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdl/warpreq/pkg/logger"
)

func TestPush_FiresAfterDelay(t *testing.T) {
	s := NewPush(context.Background(), nil)
	defer s.Stop()

	start := time.Now()
	firedAt := make(chan time.Time, 1)
	s.Schedule(func() { firedAt <- time.Now() }, 100*time.Millisecond)

	select {
	case at := <-firedAt:
		assert.GreaterOrEqual(t, at.Sub(start), 100*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("task never fired")
	}
}

func TestPush_EarlierTaskWakesLoop(t *testing.T) {
	s := NewPush(context.Background(), nil)
	defer s.Stop()

	var order []string
	var mu sync.Mutex
	done := make(chan struct{}, 2)
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			done <- struct{}{}
		}
	}

	s.Schedule(record("slow"), 300*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	s.Schedule(record("fast"), 20*time.Millisecond)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tasks")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"fast", "slow"}, order)
}

func TestPush_CancelBeforeFire(t *testing.T) {
	s := NewPush(context.Background(), nil)
	defer s.Stop()

	var fired atomic.Bool
	h := s.Schedule(func() { fired.Store(true) }, 100*time.Millisecond)

	require.True(t, h.Cancel())
	assert.True(t, h.Cancelled())
	assert.Equal(t, 0, s.Len())

	time.Sleep(250 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.False(t, h.Cancel(), "second cancel reports false")
}

func TestPush_CancelAfterFire(t *testing.T) {
	s := NewPush(context.Background(), nil)
	defer s.Stop()

	done := make(chan struct{})
	h := s.Schedule(func() { close(done) }, 0)
	<-done

	assert.True(t, h.Fired())
	assert.False(t, h.Cancel())
}

func TestPush_StopDropsPending(t *testing.T) {
	s := NewPush(context.Background(), nil)

	var fired atomic.Bool
	s.Schedule(func() { fired.Store(true) }, 50*time.Millisecond)
	s.Stop()
	s.Stop()

	time.Sleep(150 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.Equal(t, 0, s.Len())
}

func TestPush_ContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewPush(ctx, nil)
	cancel()

	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on context cancel")
	}
	s.Stop()
}

func TestPull_RunDue(t *testing.T) {
	s := NewPull(nil)
	assert.Equal(t, Pull, s.Mode())

	var calls []int
	s.Schedule(func() { calls = append(calls, 2) }, 2*time.Second)
	s.Schedule(func() { calls = append(calls, 1) }, time.Second)
	s.Schedule(func() { calls = append(calls, 0) }, 0)

	now := time.Now()
	assert.Equal(t, 1, s.RunDue(now))
	assert.Equal(t, []int{0}, calls)

	assert.Equal(t, 0, s.RunDue(now.Add(500*time.Millisecond)), "nothing may fire before its delay")
	assert.Equal(t, 2, s.RunDue(now.Add(3*time.Second)))
	assert.Equal(t, []int{0, 1, 2}, calls)
	assert.Equal(t, 0, s.Len())
}

func TestPull_NegativeDelayIsImmediate(t *testing.T) {
	s := NewPull(nil)
	h := s.Schedule(func() {}, -time.Hour)
	assert.False(t, h.Due().After(time.Now()))
	assert.Equal(t, 1, s.RunDue(time.Now()))
}

func TestPull_PanicRecovered(t *testing.T) {
	l := logger.NewMockLogger()
	s := NewPull(l)

	ran := false
	s.Schedule(func() { panic("boom") }, 0)
	s.Schedule(func() { ran = true }, 0)

	assert.NotPanics(t, func() { s.RunDue(time.Now()) })
	assert.True(t, ran)
	require.Len(t, l.Errors(), 1)
	assert.Contains(t, l.Errors()[0], "boom")
}

// Run with: go test -race
func TestHandle_FireCancelRace(t *testing.T) {
	for i := 0; i < 200; i++ {
		s := NewPull(nil)
		var fired atomic.Int32
		h := s.Schedule(func() { fired.Add(1) }, 0)

		var cancelled atomic.Bool
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.RunDue(time.Now())
		}()
		go func() {
			defer wg.Done()
			cancelled.Store(h.Cancel())
		}()
		wg.Wait()

		if cancelled.Load() {
			assert.Equal(t, int32(0), fired.Load(), "iteration %d fired after cancel", i)
		} else {
			assert.Equal(t, int32(1), fired.Load(), "iteration %d lost the task", i)
		}
		assert.NotEqual(t, h.Fired(), h.Cancelled())
	}
}

// Run with: go test -race
func TestPush_ConcurrentSchedule(t *testing.T) {
	s := NewPush(context.Background(), nil)
	defer s.Stop()

	const n = 100
	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Schedule(func() { fired.Add(1) }, time.Duration(i%5)*time.Millisecond)
		}(i)
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return fired.Load() == n }, 2*time.Second, 10*time.Millisecond)
}
