// Package taskqueue implements the MPSC queue of deferred closures that
// run on the reactor thread. The backing ring buffer is
// github.com/eapache/queue.
package taskqueue

import (
	"sync"

	"github.com/eapache/queue"
)

// Task is an opaque unit of work submitted from any goroutine to run on
// the reactor goroutine.
type Task func()

// Waker is the narrow interface taskqueue needs from the reactor's
// self-pipe wakeup channel, kept separate so this package does not need
// to import the concrete reactor type.
type Waker interface {
	Signal() error
}

// Queue is a thread-safe FIFO of Tasks. Schedule may be called from any
// goroutine; Drain must only be called from the reactor goroutine.
type Queue struct {
	mu     sync.Mutex
	q      *queue.Queue
	wakeup Waker
}

// New builds an empty task queue. w is signaled once per Schedule call so
// the reactor's blocked poll wait returns promptly.
func New(w Waker) *Queue {
	return &Queue{q: queue.New(), wakeup: w}
}

// Schedule appends task and signals the wakeup channel. Safe from any
// goroutine, including before Serve has started or after Terminate has
// been requested — scheduling into a queue that will never drain again is
// the caller's problem; this is a fire-and-forget contract.
func (q *Queue) Schedule(t Task) {
	q.mu.Lock()
	q.q.Add(t)
	q.mu.Unlock()
	if q.wakeup != nil {
		_ = q.wakeup.Signal()
	}
}

// Drain pops every task currently enqueued and runs each to completion,
// in submission order, before returning. Reactor-goroutine only.
func (q *Queue) Drain() {
	for {
		t := q.pop()
		if t == nil {
			return
		}
		t()
	}
}

func (q *Queue) pop() Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.q.Length() == 0 {
		return nil
	}
	v := q.q.Remove()
	t, _ := v.(Task)
	return t
}

// Len reports the approximate number of tasks currently queued; useful
// for stats/debug probes, not for correctness.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.q.Length()
}
