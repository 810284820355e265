package reconcile

import (
	"sync"

	"github.com/juzibot/wechaty/internal/puppet"
)

// Job is one unit of work for Run: exactly one of Dirty or Tag is set.
type Job struct {
	Dirty *puppet.DirtySignal
	Tag   *puppet.TagEvent
}

// jobQueue is an unbounded FIFO with a size-1 signal channel for
// context-aware waiting.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []Job
	closed bool
	signal chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]Job, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends j. Returns false once the queue is closed.
func (q *jobQueue) Enqueue(j Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front job without blocking.
func (q *jobQueue) TryDequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return Job{}, false
	}
	j := q.jobs[0]
	// Clear the slot so the backing array does not pin the job.
	q.jobs[0] = Job{}
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// Wait fires when jobs may be available, and stays ready once closed.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close stops further Enqueue calls and wakes waiters.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
