package history

import (
	"context"
	"sync"
	"time"

	"github.com/warpdl/warpreq/pkg/logger"
	"github.com/warpdl/warpreq/pkg/reqlib"
)

const defaultJournalBuffer = 256

// Journal writes completions to a Store from its own goroutine so the
// request manager's worker never waits on the database.
type Journal struct {
	store *Store
	l     logger.Logger
	ch    chan *Record
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewJournal starts a journal with room for buffer pending records.
func NewJournal(store *Store, l logger.Logger, buffer int) *Journal {
	if buffer <= 0 {
		buffer = defaultJournalBuffer
	}
	if l == nil {
		l = logger.NewNopLogger()
	}
	j := &Journal{
		store: store,
		l:     l,
		ch:    make(chan *Record, buffer),
		done:  make(chan struct{}),
	}
	go j.run()
	return j
}

// Attach records every completion of m.
func (j *Journal) Attach(m *reqlib.Manager) {
	m.SetOnRequestCompleted(j.Record)
}

// Record queues the outcome of req. When the buffer is full the record is
// dropped and counted.
func (j *Journal) Record(req *reqlib.Request) {
	rec := NewRecord(req, time.Now())
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.ch <- rec:
	default:
		j.dropped++
		j.l.Warning("history: journal full, dropped completion of %s", req.ID())
	}
}

// Dropped returns the number of records lost to a full buffer.
func (j *Journal) Dropped() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}

func (j *Journal) run() {
	defer close(j.done)
	for rec := range j.ch {
		if err := j.store.Add(context.Background(), rec); err != nil {
			j.l.Error("history: %v", err)
		}
	}
}

// Close flushes pending records and stops the writer. The store stays open.
func (j *Journal) Close() {
	j.once.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.ch)
		j.mu.Unlock()
		<-j.done
	})
}
