package timer

import (
	"testing"
	"time"

	"github.com/kannelgo/timerconn/payload"
	"github.com/kannelgo/timerconn/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stringPayload is the simplest possible Payload implementation: a value
// wrapped in a pointer so that two duplicates are never identity-equal to
// each other, only to themselves.
type stringPayload struct {
	s string
}

func (p *stringPayload) Duplicate() payload.Payload {
	return &stringPayload{s: p.s}
}

func (p *stringPayload) Destroy() {}

func newSet(t *testing.T) (*TimerSet, *queue.Queue[payload.Payload]) {
	t.Helper()
	q := queue.New[payload.Payload]()
	s := NewTimerSet(q)
	t.Cleanup(s.Destroy)
	return s, q
}

func TestImmediateTimerElapses(t *testing.T) {
	s, q := newSet(t)
	tm := s.NewTimer()
	tm.Start(0, &stringPayload{s: "P"})

	deadline := time.After(2 * time.Second)
	select {
	case item := <-consumeAsync(q):
		p := item.(*stringPayload)
		assert.Equal(t, "P", p.s)
	case <-deadline:
		t.Fatal("timer did not elapse within 2s")
	}

	assert.Zero(t, q.Len())
}

func TestResetShortensWait(t *testing.T) {
	s, q := newSet(t)
	tm := s.NewTimer()
	tm.Start(100*time.Second, &stringPayload{s: "first"})
	tm.Start(1*time.Second, nil)

	start := time.Now()
	select {
	case <-consumeAsync(q):
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not elapse after reset to a shorter interval")
	}
	assert.Less(t, time.Since(start), 90*time.Second)
	assert.Zero(t, q.Len())
}

func TestStopRetractsQueuedElapse(t *testing.T) {
	s, q := newSet(t)
	tm := s.NewTimer()
	tm.Start(0, &stringPayload{s: "will be retracted"})

	// Give the watcher a moment to actually elapse the timer and push
	// onto the queue before we stop it without consuming.
	time.Sleep(200 * time.Millisecond)
	tm.Stop()

	assert.Zero(t, q.Len())
}

func TestHeapOrderingAfterReverseOrderStarts(t *testing.T) {
	s, q := newSet(t)

	const n = 20
	timers := make([]*Timer, n)
	for i := range timers {
		timers[i] = s.NewTimer()
	}

	// Start them in reverse order of how they should elapse, so the
	// heap has to reorder itself repeatedly. Elapse times are whole
	// seconds, and the shortest interval is 2s so none elapses before the
	// heap is inspected.
	for i := n - 1; i >= 0; i-- {
		timers[i].Start(time.Duration(i+2)*time.Second, &stringPayload{s: "x"})
	}

	s.mu.Lock()
	require.Len(t, s.heap, n)
	assertHeapProperty(t, s.heap)
	s.mu.Unlock()
}

func assertHeapProperty(t *testing.T, h []*Timer) {
	t.Helper()
	for i, tm := range h {
		require.Equal(t, i, tm.index, "heap[%d].index should be %d", i, i)
		for _, child := range []int{2*i + 1, 2*i + 2} {
			if child < len(h) {
				assert.LessOrEqual(t, tm.elapses, h[child].elapses)
			}
		}
	}
}

// consumeAsync returns a channel that receives the next item consumed from
// q, off the calling goroutine so tests can select on a timeout.
func consumeAsync(q *queue.Queue[payload.Payload]) <-chan payload.Payload {
	ch := make(chan payload.Payload, 1)
	go func() {
		ch <- q.Consume()
	}()
	return ch
}
