package reconcile

import (
	"sync"
	"time"

	"github.com/roach88/wins/internal/win"
)

// completion is the result of one durable insert.
type completion struct {
	tempID  string
	record  win.Record
	err     error
	elapsed time.Duration
}

// completionQueue is a thread-safe FIFO of completions.
//
// Insert goroutines enqueue; the Run loop dequeues. The queue is unbounded
// so a slow Run loop never blocks a finished insert.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type completionQueue struct {
	mu     sync.Mutex
	items  []completion
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)
}

func newCompletionQueue() *completionQueue {
	return &completionQueue{
		items:  make([]completion, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a completion to the back of the queue.
// Returns false if the queue is closed.
func (q *completionQueue) Enqueue(c completion) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, c)

	// Non-blocking: a buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front completion without blocking.
func (q *completionQueue) TryDequeue() (completion, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return completion{}, false
	}

	c := q.items[0]

	// Clear the slot so the error value can be collected.
	q.items[0] = completion{}

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return c, true
}

// Wait returns a channel that signals when completions may be available.
// The channel is closed by Close.
func (q *completionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *completionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further enqueues and wakes any waiter.
func (q *completionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
