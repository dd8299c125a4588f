package usecase

import (
	"sync"
	"time"
)

// Queue is the ordered pending-work list feeding the pipeline. A path
// appears at most once across the pending list and the held set, so a
// file can never be scheduled twice concurrently.
type Queue struct {
	mu         sync.Mutex
	pending    []string
	queued     map[string]struct{}
	held       map[string]struct{}
	enqueuedAt map[string]time.Time
	now        func() time.Time
}

func NewQueue() *Queue {
	return &Queue{
		queued:     make(map[string]struct{}),
		held:       make(map[string]struct{}),
		enqueuedAt: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Enqueue appends a path unless it is already pending or held.
func (q *Queue) Enqueue(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(path)
}

// EnqueueAll enqueues paths preserving input order and reports how many
// were accepted.
func (q *Queue) EnqueueAll(paths []string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	accepted := 0
	for _, path := range paths {
		if q.enqueueLocked(path) {
			accepted++
		}
	}
	return accepted
}

func (q *Queue) enqueueLocked(path string) bool {
	if path == "" {
		return false
	}
	if _, ok := q.queued[path]; ok {
		return false
	}
	if _, ok := q.held[path]; ok {
		return false
	}
	q.queued[path] = struct{}{}
	q.pending = append(q.pending, path)
	q.enqueuedAt[path] = q.now()
	return true
}

// WaitTime reports how long a path sat in the queue before its dequeue.
// Zero for paths the queue no longer tracks.
func (q *Queue) WaitTime(path string) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	at, ok := q.enqueuedAt[path]
	if !ok {
		return 0
	}
	return q.now().Sub(at)
}

// DequeueNext removes and returns the head of the queue, marking it held
// until Release or RequeueAtEnd. Empty is a valid, reportable state.
func (q *Queue) DequeueNext() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return "", false
	}
	path := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.queued, path)
	q.held[path] = struct{}{}
	return path, true
}

// RequeueAtEnd moves a held path to the tail, preserving the relative
// order of everything else. Used on recoverable failure.
func (q *Queue) RequeueAtEnd(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.held, path)
	q.enqueueLocked(path)
}

// Release drops a held path once processing reached a terminal state.
func (q *Queue) Release(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.held, path)
	delete(q.enqueuedAt, path)
}

// Remove drops a pending path, e.g. after the file vanished from the
// vault before being dequeued.
func (q *Queue) Remove(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[path]; !ok {
		return
	}
	delete(q.queued, path)
	delete(q.enqueuedAt, path)
	for i, p := range q.pending {
		if p == path {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
}

// Contains reports whether a path is pending or held.
func (q *Queue) Contains(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[path]; ok {
		return true
	}
	_, ok := q.held[path]
	return ok
}

// Len is the number of pending paths, held ones excluded.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
