// Package queue is a bounded work queue drained by a fixed worker pool.
package queue

import (
	"sync"
)

// Queue buffers items for background workers. Push never blocks: when the
// buffer is full the item is dropped and Push reports false.
type Queue[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	closed bool
	wg     sync.WaitGroup
}

// New creates a Queue holding up to size pending items.
func New[T any](size int) *Queue[T] {
	if size <= 0 {
		size = 1
	}
	return &Queue[T]{ch: make(chan T, size)}
}

// Start launches n workers calling fn for each item until Close.
func (q *Queue[T]) Start(n int, fn func(worker int, item T)) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go func(id int) {
			defer q.wg.Done()
			for item := range q.ch {
				fn(id, item)
			}
		}(i)
	}
}

// Push enqueues item. It returns false if the queue is full or closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// Len returns the number of items waiting.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Close stops accepting items and waits for the workers to drain the
// buffer. Safe to call more than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
