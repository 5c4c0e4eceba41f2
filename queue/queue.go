// Package queue implements the producer/consumer collection that the timer
// and connection cores treat as an external collaborator: items are
// produced by one or more sides, consumed by one or more readers, and may be
// retracted by identity before they are consumed.
package queue

import "sync"

// Queue is a FIFO collection of items of type T, safe for concurrent use by
// multiple producers and one or more consumers. Unlike a channel, an item
// already sitting in the queue can be pulled back out by identity via
// DeleteEqual, which is the operation TimerSet.abortElapsed depends on to
// retract an elapse that raced with a stop or restart.
type Queue[T any] struct {
	mu        sync.Mutex
	items     []T
	producers int
	notEmpty  sync.Cond
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.notEmpty.L = &q.mu
	return q
}

// AddProducer registers the caller's intent to Produce onto this queue.
// TimerSet calls this once at creation and RemoveProducer once at
// destruction, mirroring gwlib's list_add_producer. The count is recorded
// but nothing reads it: it has no effect on Queue's behavior and no
// accessor exposes it.
func (q *Queue[T]) AddProducer() {
	q.mu.Lock()
	q.producers++
	q.mu.Unlock()
}

// RemoveProducer undoes a prior AddProducer.
func (q *Queue[T]) RemoveProducer() {
	q.mu.Lock()
	q.producers--
	q.mu.Unlock()
}

// Produce appends item to the tail of the queue and wakes one blocked
// Consume, if any.
func (q *Queue[T]) Produce(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.notEmpty.Signal()
}

// Consume blocks until at least one item is available, then removes and
// returns the item at the head of the queue.
func (q *Queue[T]) Consume() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.notEmpty.Wait()
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

// TryConsume removes and returns the head item without blocking. ok is
// false if the queue was empty.
func (q *Queue[T]) TryConsume() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the current number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DeleteEqual removes every item equal to target (via the supplied equal
// function, since Go generics give us no universal identity comparison)
// and returns how many were removed. A count of zero means a consumer
// already took the item before the delete could race it out — ownership
// of whatever the item refers to has transferred to that consumer.
func (q *Queue[T]) DeleteEqual(target T, equal func(a, b T) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	kept := q.items[:0]
	for _, it := range q.items {
		if equal(it, target) {
			n++
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	return n
}
