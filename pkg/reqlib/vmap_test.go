package reqlib

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVMap_Basics(t *testing.T) {
	m := NewVMap[string, int]()
	assert.True(t, m.SetIfAbsent("a", 1))
	assert.False(t, m.SetIfAbsent("a", 2))

	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, m.SetIfAbsent("b", 3))
	assert.Equal(t, 2, m.Len())
	assert.ElementsMatch(t, []string{"a", "b"}, m.Keys())

	v, ok = m.LoadAndDelete("b")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
	_, ok = m.Get("b")
	assert.False(t, ok)
}

// Run with: go test -race
func TestVMap_LoadAndDeleteOnce(t *testing.T) {
	m := NewVMap[int, struct{}]()
	m.SetIfAbsent(1, struct{}{})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := m.LoadAndDelete(1); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 0, m.Len())
}
