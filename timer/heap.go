package timer

// The heap is a slice of *Timer kept in partial order on elapses: element i
// never elapses before its parent at (i-1)/2, and never after either child
// at 2i+1 or 2i+2. Element 0 is therefore always the next timer to fire.
// This mirrors timers.c's heap_insert/heap_delete/heap_adjust/heap_swap,
// adjusted to the standard 0-based parent formula the source's own
// 1-based-ish index/2 arithmetic was meant to express.

// heapSwap exchanges the timers at index1 and index2 and fixes up their
// index fields.
func heapSwap(h []*Timer, index1, index2 int) {
	h[index1], h[index2] = h[index2], h[index1]
	h[index1].index = index1
	h[index2].index = index2
}

// heapInsert appends timer at the end of the heap and restores order.
func heapInsert(h *[]*Timer, t *Timer) {
	*h = append(*h, t)
	t.index = len(*h) - 1
	heapAdjust(*h, t.index)
}

// heapDelete removes the timer at index, swapping in the last element and
// re-adjusting as needed.
func heapDelete(h *[]*Timer, index int) {
	heap := *h
	t := heap[index]
	last := len(heap) - 1
	if index == last {
		*h = heap[:last]
	} else {
		heapSwap(heap, index, last)
		*h = heap[:last]
		heapAdjust(*h, index)
	}
	t.index = -1
}

// heapAdjust restores partial order around index after its elapses value
// changed, moving it up or down as needed. It returns true if the timer
// now at the top of the heap is earlier than it was before this call —
// the signal timer_start uses to decide whether the watcher needs waking.
func heapAdjust(h []*Timer, index int) bool {
	// Move toward the top, if this element is now earlier than its parent.
	if index > 0 {
		t := h[index]
		parentIndex := (index - 1) / 2
		if t.elapses < h[parentIndex].elapses {
			for {
				heapSwap(h, index, parentIndex)
				index = parentIndex
				if index == 0 {
					return true
				}
				parentIndex = (index - 1) / 2
				if h[index].elapses >= h[parentIndex].elapses {
					return false
				}
			}
		}
	}

	// Otherwise this element may need to move toward the bottom instead.
	for {
		t := h[index]
		childIndex := index*2 + 1
		if childIndex >= len(h) {
			return false // already at the bottom
		}
		child := h[childIndex]
		if childIndex == len(h)-1 {
			// Only one child.
			if child.elapses < t.elapses {
				heapSwap(h, index, childIndex)
			}
			return false
		}

		child2 := h[childIndex+1]
		if child2.elapses < child.elapses {
			child = child2
			childIndex++
		}

		if child.elapses < t.elapses {
			heapSwap(h, index, childIndex)
			index = childIndex
		} else {
			return false
		}
	}
}
