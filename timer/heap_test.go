package timer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTimer(elapses int64) *Timer {
	return &Timer{elapses: elapses, index: inactive}
}

func TestHeapInsertMaintainsOrder(t *testing.T) {
	var h []*Timer
	values := []int64{50, 10, 40, 20, 5, 60, 15}

	for _, v := range values {
		heapInsert(&h, newTestTimer(v))
	}

	require.Len(t, h, len(values))
	assertHeapProperty(t, h)

	// The top must always be the smallest value inserted so far.
	assert.EqualValues(t, 5, h[0].elapses)
}

func TestHeapDeleteTopRepeatedlyYieldsSortedOrder(t *testing.T) {
	var h []*Timer
	values := []int64{9, 3, 7, 1, 8, 2, 6, 4, 5}
	for _, v := range values {
		heapInsert(&h, newTestTimer(v))
	}

	var out []int64
	for len(h) > 0 {
		out = append(out, h[0].elapses)
		heapDelete(&h, 0)
		assertHeapProperty(t, h)
	}

	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i-1], out[i])
	}
}

func TestHeapDeleteArbitraryIndex(t *testing.T) {
	var h []*Timer
	for i := int64(0); i < 30; i++ {
		heapInsert(&h, newTestTimer(rand.Int63n(1000)))
	}

	for len(h) > 0 {
		idx := rand.Intn(len(h))
		heapDelete(&h, idx)
		assertHeapProperty(t, h)
	}
}

func TestHeapAdjustReportsTopChange(t *testing.T) {
	var h []*Timer
	for _, v := range []int64{10, 20, 30, 40, 50} {
		heapInsert(&h, newTestTimer(v))
	}
	require.EqualValues(t, 10, h[0].elapses)

	// Shrinking a leaf below the current top must bubble it up and
	// report that the top changed.
	leaf := h[len(h)-1]
	leaf.elapses = 1
	changed := heapAdjust(h, leaf.index)
	assert.True(t, changed)
	assert.EqualValues(t, 1, h[0].elapses)

	// Growing the (new) top past its children must sift it down and
	// report no top change: the new top is whichever child moved up,
	// which is later, not earlier, than before.
	top := h[0]
	top.elapses = 1000
	changed = heapAdjust(h, top.index)
	assert.False(t, changed)
	assertHeapProperty(t, h)
}
