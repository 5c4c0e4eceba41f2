// Package gwthread provides the small thread abstraction the timer and
// connection cores are written against: spawn a goroutine, identify it,
// join it, put it to sleep in a way that a single pending wakeup can
// shorten, and poll one file descriptor with a timeout.
package gwthread

import (
	"sync"
	"sync/atomic"
	"time"
)

// ID identifies a goroutine spawned through Spawn.
type ID uint64

var nextID atomic.Uint64

var selfID sync.Map // goroutine-local substitute: ID -> *handle, keyed by the handle's ID

// handle is the per-goroutine state Spawn installs so that Self, Sleep and
// Wakeup can find each other without a true thread-local.
type handle struct {
	id   ID
	wake chan struct{} // buffered 1: a pending wakeup that Sleep has not yet observed
	done chan struct{}
}

// Thread is the handle Spawn passes to the spawned function; its Self and
// Sleep methods act on that goroutine. A thread-local would be the literal
// translation of gwthread_self(); Go has none, so the spawned function is
// handed its own handle instead of calling Self() blind.
type Thread struct {
	h *handle
}

// Spawn starts fn in a new goroutine and returns its ID. fn receives a
// *Thread bound to that goroutine, which is how it calls Sleep on itself;
// external callers use the returned ID with Wakeup and Join.
func Spawn(fn func(t *Thread)) (ID, *Thread) {
	h := &handle{
		id:   ID(nextID.Add(1)),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	t := &Thread{h: h}
	selfID.Store(h.id, h)
	go func() {
		defer close(h.done)
		fn(t)
	}()
	return h.id, t
}

// Self returns the ID of the thread handle t is bound to.
func (t *Thread) Self() ID {
	return t.h.id
}

// Sleep blocks for d, or until Wakeup(t.Self()) is called, whichever comes
// first. A wakeup that arrives before Sleep is called is not lost: it sits
// in a buffer of one and is consumed by the very next Sleep.
func (t *Thread) Sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-t.h.wake:
	}
}

// Wakeup cancels one pending or future Sleep on the given thread. If no
// Sleep is currently in progress, the wakeup is remembered and consumed by
// the next one instead of being lost.
func Wakeup(id ID) {
	v, ok := selfID.Load(id)
	if !ok {
		return
	}
	h := v.(*handle)
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Join blocks until the goroutine identified by id has returned from its
// spawned function, then forgets the handle.
func Join(id ID) {
	v, ok := selfID.Load(id)
	if !ok {
		return
	}
	h := v.(*handle)
	<-h.done
	selfID.Delete(id)
}
