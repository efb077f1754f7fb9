package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rolledback/cloudbridge/internal/logger"
)

const (
	DefaultCapacity      = 256
	DefaultResultTimeout = 30 * time.Second
)

// Queue is a bounded Notifier read through Events.
//
// Progress never blocks the producer. When the buffer is full the event is
// parked as its task's latest progress, replacing any older parked one, which
// is counted in Dropped. Progress is cumulative so only the newest matters.
//
// A result first flushes its task's parked progress and then sends itself,
// waiting at most the result timeout in total or until Close. A result that
// cannot be delivered in time is logged and discarded. Per-task order holds
// as long as each task notifies from one goroutine.
type Queue struct {
	events        chan Event
	done          chan struct{}
	resultTimeout time.Duration
	log           logrus.FieldLogger

	// mu is held shared by senders and exclusively by Close so the channel
	// is never closed under a pending send.
	mu     sync.RWMutex
	closed bool
	once   sync.Once

	parkMu sync.Mutex
	parked map[int64]Event

	dropped atomic.Uint64
}

// NewQueue creates a queue. Non-positive arguments select the defaults.
func NewQueue(capacity int, resultTimeout time.Duration, log logrus.FieldLogger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if resultTimeout <= 0 {
		resultTimeout = DefaultResultTimeout
	}
	return &Queue{
		events:        make(chan Event, capacity),
		done:          make(chan struct{}),
		resultTimeout: resultTimeout,
		log:           logger.Or(log),
		parked:        make(map[int64]Event),
	}
}

// Events returns the stream of delivered events. It is closed by Close.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// Dropped reports how many progress events were superseded before delivery.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *Queue) Notify(e Event) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}

	if e.Kind == KindProgress {
		q.notifyProgress(e)
		return
	}
	q.notifyResult(e)
}

func (q *Queue) notifyProgress(e Event) {
	q.parkMu.Lock()
	defer q.parkMu.Unlock()

	_, hadParked := q.parked[e.TaskID]
	select {
	case q.events <- e:
		if hadParked {
			delete(q.parked, e.TaskID)
			q.dropped.Add(1)
		}
	default:
		if hadParked {
			q.dropped.Add(1)
		}
		q.parked[e.TaskID] = e
	}
}

func (q *Queue) notifyResult(e Event) {
	q.parkMu.Lock()
	pending, hasPending := q.parked[e.TaskID]
	delete(q.parked, e.TaskID)
	q.parkMu.Unlock()

	timer := time.NewTimer(q.resultTimeout)
	defer timer.Stop()

	if hasPending && !q.send(pending, timer) {
		q.dropped.Add(1)
		q.log.WithField("task_id", e.TaskID).Warn("event queue full, result dropped")
		return
	}
	if !q.send(e, timer) {
		q.log.WithField("task_id", e.TaskID).Warn("event queue full, result dropped")
	}
}

func (q *Queue) send(e Event, timer *time.Timer) bool {
	select {
	case q.events <- e:
		return true
	case <-timer.C:
		return false
	case <-q.done:
		return false
	}
}

// Close stops delivery and closes the Events channel. Senders waiting on a
// full queue give up. Notify after Close is a no-op.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		close(q.events)
		q.mu.Unlock()
	})
}
