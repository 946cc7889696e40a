package link

import (
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/sweeney/yamp/internal/logic"
)

// DefaultQueueSize holds far more events than arrive between two ticks.
const DefaultQueueSize = 64

// Queue carries link events from provider callbacks (single producer) to the
// control loop (single consumer). Push never blocks; overflow is counted.
type Queue struct {
	ch      chan logic.Event
	dropped atomic.Uint64
	warned  atomic.Bool
	logger  hclog.Logger
}

// NewQueue creates a queue with room for size events.
func NewQueue(size int, logger hclog.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Queue{ch: make(chan logic.Event, size), logger: logger}
}

// Push enqueues ev. It returns false and counts a drop when the queue is full.
// Only the first drop is logged.
func (q *Queue) Push(ev logic.Event) bool {
	select {
	case q.ch <- ev:
		return true
	default:
	}
	q.dropped.Add(1)
	if q.warned.CompareAndSwap(false, true) {
		q.logger.Warn("link event queue full, dropping events", "capacity", cap(q.ch))
	}
	return false
}

// Drain returns every queued event in arrival order without blocking.
func (q *Queue) Drain() []logic.Event {
	var out []logic.Event
	for {
		select {
		case ev := <-q.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped returns how many events were dropped on overflow.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
