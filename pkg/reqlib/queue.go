package reqlib

import "sync/atomic"

type qnode[T any] struct {
	next atomic.Pointer[qnode[T]]
	val  T
}

// mpscQueue is an unbounded multi-producer single-consumer FIFO.
// Push never blocks and may be called from any goroutine. Pop must only be
// called by one goroutine at a time.
//
// A Push that has swapped the head but not yet linked its node is invisible
// to Pop until it links; the consumer picks it up on its next drain.
type mpscQueue[T any] struct {
	head atomic.Pointer[qnode[T]]
	tail *qnode[T]
	size atomic.Int64
}

func newMPSCQueue[T any]() *mpscQueue[T] {
	q := &mpscQueue[T]{}
	stub := &qnode[T]{}
	q.head.Store(stub)
	q.tail = stub
	return q
}

// Push appends v.
func (q *mpscQueue[T]) Push(v T) {
	n := &qnode[T]{val: v}
	prev := q.head.Swap(n)
	prev.next.Store(n)
	q.size.Add(1)
}

// Pop removes the oldest linked element.
func (q *mpscQueue[T]) Pop() (T, bool) {
	var zero T
	next := q.tail.next.Load()
	if next == nil {
		return zero, false
	}
	q.tail = next
	v := next.val
	next.val = zero
	q.size.Add(-1)
	return v, true
}

// Len returns an approximate element count.
func (q *mpscQueue[T]) Len() int {
	n := q.size.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
