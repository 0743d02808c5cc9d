package reqlib

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMPSCQueue_FIFO(t *testing.T) {
	q := newMPSCQueue[int]()
	_, ok := q.Pop()
	assert.False(t, ok)

	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	assert.Equal(t, 5, q.Len())
	for i := 0; i < 5; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok = q.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

// Run with: go test -race
func TestMPSCQueue_ConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 500
	q := newMPSCQueue[int]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}

	seen := make(map[int]bool)
	lastPerProducer := make(map[int]int)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	drain := func() {
		for {
			v, ok := q.Pop()
			if !ok {
				return
			}
			require.False(t, seen[v], "duplicate %d", v)
			seen[v] = true
			p := v / perProducer
			if last, ok := lastPerProducer[p]; ok {
				assert.Greater(t, v, last, "per-producer order broken")
			}
			lastPerProducer[p] = v
		}
	}
	for {
		select {
		case <-done:
			drain()
			assert.Len(t, seen, producers*perProducer)
			return
		default:
			drain()
		}
	}
}

func TestMPSCQueue_PushNeverRefusesWithoutConsumer(t *testing.T) {
	const n = 1 << 16
	q := newMPSCQueue[int]()
	for i := 0; i < n; i++ {
		q.Push(i)
	}
	assert.Equal(t, n, q.Len())
	for i := 0; i < n; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}
