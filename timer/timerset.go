// Package timer implements a shared min-heap of pending timers driven by a
// dedicated watcher goroutine, the way gw/timers.c does for Kannel's WTP
// layer: callers start, reset and stop Timer handles, and a background
// watcher delivers an opaque payload to an output queue when each one
// elapses.
package timer

import (
	"sync"
	"time"

	"github.com/kannelgo/timerconn/gwthread"
	"github.com/kannelgo/timerconn/payload"
	"github.com/kannelgo/timerconn/queue"
	"github.com/sirupsen/logrus"
)

// inactive is the sentinel elapses value (and index value) for a Timer
// that is not currently in any heap.
const inactive = -1

const verySleepySeconds = 1_000_000.0 // "sleep very long" per timers.c

// TimerSet owns a min-heap of Timer entries keyed by absolute elapse time
// and runs a watcher goroutine that delivers an elapse payload to a
// caller-supplied output queue.
type TimerSet struct {
	mu       sync.Mutex
	stopping bool
	heap     []*Timer

	output    *queue.Queue[payload.Payload]
	watcherID gwthread.ID

	logger *logrus.Logger
}

// Option configures a TimerSet at construction.
type Option func(*TimerSet)

// WithLogger overrides the default (logrus.StandardLogger()) logger.
func WithLogger(l *logrus.Logger) Option {
	return func(s *TimerSet) { s.logger = l }
}

// NewTimerSet registers as a producer on output and spawns the watcher
// goroutine.
func NewTimerSet(output *queue.Queue[payload.Payload], opts ...Option) *TimerSet {
	s := &TimerSet{
		output: output,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	output.AddProducer()

	id, _ := gwthread.Spawn(func(t *gwthread.Thread) {
		s.watch(t)
	})
	s.watcherID = id

	return s
}

// Destroy stops all remaining timers (draining the heap the same way
// timerset_destroy does, by repeatedly stopping the current top), signals
// and joins the watcher, de-registers from the output queue, and releases
// resources. Destroy must not be called while any Timer created from this
// set is still in use elsewhere.
func (s *TimerSet) Destroy() {
	s.mu.Lock()
	for len(s.heap) > 0 {
		top := s.heap[0]
		s.mu.Unlock()
		top.Stop()
		s.mu.Lock()
	}
	s.stopping = true
	s.mu.Unlock()

	gwthread.Wakeup(s.watcherID)
	gwthread.Join(s.watcherID)

	s.output.RemoveProducer()
}

// NewTimer allocates an inactive Timer belonging to this set.
func (s *TimerSet) NewTimer() *Timer {
	return &Timer{set: s, elapses: inactive, index: inactive}
}

// Timer is a handle to one scheduled event inside a TimerSet. It is created
// inactive, may cycle inactive -> pending -> elapsed -> inactive (driven by
// the watcher), or inactive -> pending -> inactive (via Stop or a
// re-Start), and must be Stopped before it is discarded.
type Timer struct {
	set *TimerSet

	elapses      int64 // absolute unix seconds, or inactive
	event        payload.Payload
	elapsedEvent payload.Payload
	index        int // position in set.heap, or inactive
}

// Destroy stops the timer (retracting any outstanding elapse payload) and
// releases its event. A destroyed Timer must not be used again.
func (t *Timer) Destroy() {
	t.Stop()
	if t.event != nil {
		t.event.Destroy()
		t.event = nil
	}
}

// Start arms the timer to elapse interval after now. If event is non-nil
// it replaces the timer's payload; event may be nil only if a payload was
// already set by a previous Start. Starting an already-active timer moves
// it to its new position in the heap in place; starting an inactive one
// first retracts any elapse payload still sitting unconsumed on the
// output queue (see abortElapsed), covering the race between a
// stop-then-restart and the watcher goroutine elapsing the old event in
// between.
func (t *Timer) Start(interval time.Duration, event payload.Payload) {
	if event == nil && t.event == nil {
		panic("timer: Start called with nil event on a timer that has never been given one")
	}

	set := t.set
	newElapses := time.Now().Add(interval).Unix()

	set.mu.Lock()
	wakeup := false
	if t.elapses > 0 {
		// Resetting an already-active timer: move it in place.
		if newElapses < t.elapses && t.index == 0 {
			wakeup = true
		}
		t.elapses = newElapses
		wakeup = wakeup || heapAdjust(set.heap, t.index)

		if event != nil {
			if t.event != nil {
				t.event.Destroy()
			}
			t.event = event
		}
	} else {
		// Setting a new timer, or restarting one that elapsed: first deal
		// with any elapse payload that may still be queued.
		set.abortElapsed(t)

		t.elapses = newElapses
		heapInsert(&set.heap, t)
		wakeup = t.index == 0
		if event != nil {
			t.event = event
		}
	}
	set.mu.Unlock()

	if wakeup {
		gwthread.Wakeup(set.watcherID)
	}
}

// Stop deactivates the timer, removing it from the heap if present, and
// retracts any elapse payload already sitting on the output queue that was
// never consumed.
func (t *Timer) Stop() {
	set := t.set
	set.mu.Lock()
	if t.elapses > 0 {
		t.elapses = inactive
		heapDelete(&set.heap, t.index)
	}
	set.abortElapsed(t)
	set.mu.Unlock()
}

// abortElapsed retracts t's outstanding elapse payload from the output
// queue if it is still sitting there unconsumed. Must be called with
// set.mu held.
func (s *TimerSet) abortElapsed(t *Timer) {
	if t.elapsedEvent == nil {
		return
	}

	count := s.output.DeleteEqual(t.elapsedEvent, payload.SameIdentity)
	if count > 0 {
		t.elapsedEvent.Destroy()
	}
	t.elapsedEvent = nil
}

// elapseTimer hands timer's event to the output queue. The caller must
// already have removed timer from the heap and must hold set.mu.
func (s *TimerSet) elapseTimer(t *Timer) {
	t.elapsedEvent = t.event.Duplicate()
	s.output.Produce(t.elapsedEvent)
	t.elapses = inactive
}

// watch is the watcher goroutine's main loop: repeatedly lock the set,
// check whether the top timer has elapsed, and otherwise sleep until it
// will (interruptibly, so Start/Stop can shorten the wait).
func (s *TimerSet) watch(th *gwthread.Thread) {
	for {
		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			return
		}

		if len(s.heap) == 0 {
			s.mu.Unlock()
			th.Sleep(time.Duration(verySleepySeconds * float64(time.Second)))
			continue
		}

		top := s.heap[0]
		topTime := top.elapses
		now := time.Now().Unix()
		if topTime <= now {
			heapDelete(&s.heap, 0)
			s.elapseTimer(top)
			s.mu.Unlock()
			continue
		}

		s.mu.Unlock()
		th.Sleep(time.Duration(topTime-now) * time.Second)
	}
}
