package scheduler

import "container/heap"

// taskHeap implements container/heap.Interface for *Handle,
// sorted by due time (earliest first, min-heap).
type taskHeap []*Handle

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Handle)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	x.index = -1
	*h = old[:n-1]
	return x
}

// heapPush adds a task to the heap, maintaining heap invariant.
func heapPush(h *taskHeap, t *Handle) {
	heap.Push(h, t)
}

// heapPop removes and returns the task with the earliest due time.
// Panics if the heap is empty.
func heapPop(h *taskHeap) *Handle {
	return heap.Pop(h).(*Handle)
}

// heapRemove removes t if it is still queued in h.
// Returns true if the task was found and removed, false otherwise.
func heapRemove(h *taskHeap, t *Handle) bool {
	i := t.index
	if i < 0 || i >= h.Len() || (*h)[i] != t {
		return false
	}
	heap.Remove(h, i)
	return true
}
