package pubsub

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// FIFOQueue is unbounded so that a handler can enqueue while the queue is being drained.
type FIFOQueue[T any] struct {
	caller string
	items  []T
	mutex  sync.Mutex
}

func NewFIFOQueue[T any](caller string) *FIFOQueue[T] {
	return &FIFOQueue[T]{
		caller: caller,
	}
}

func (q *FIFOQueue[T]) Enqueue(item T) {
	q.mutex.Lock()
	q.items = append(q.items, item)
	count := len(q.items)
	q.mutex.Unlock()

	log.Tracef("%v (%p): Enqueueing item: %v, count=%v", q.caller, q, item, count)
}

func (q *FIFOQueue[T]) Dequeue() (T, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, false
	}

	item := q.items[0]

	var zero T
	q.items[0] = zero
	q.items = q.items[1:]

	return item, true
}

func (q *FIFOQueue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return len(q.items)
}
