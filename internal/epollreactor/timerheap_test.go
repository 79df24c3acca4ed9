// SPDX-License-Identifier: GPL-3.0-or-later

package epollreactor

import (
	"container/heap"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryAt(offset time.Duration) *timerEntry {
	return &timerEntry{deadline: time.Unix(0, 0).Add(offset)}
}

func TestTimerHeapPopsInDeadlineOrder(t *testing.T) {
	h := &timerHeap{}
	heap.Init(h)

	heap.Push(h, entryAt(30*time.Second))
	heap.Push(h, entryAt(10*time.Second))
	heap.Push(h, entryAt(20*time.Second))

	var order []time.Duration
	for h.Len() > 0 {
		e := heap.Pop(h).(*timerEntry)
		order = append(order, e.deadline.Sub(time.Unix(0, 0)))
	}

	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}, order)
}

func TestTimerHeapKeepsIndexInSyncAcrossSwaps(t *testing.T) {
	h := &timerHeap{}
	heap.Init(h)

	first := entryAt(5 * time.Second)
	second := entryAt(1 * time.Second)
	heap.Push(h, first)
	heap.Push(h, second)

	// After pushing a smaller deadline, the heap must bubble it to the
	// root and keep every entry's recorded index consistent with its
	// actual slice position through the swaps.
	for i, e := range *h {
		require.Equal(t, i, e.index)
	}
	assert.Same(t, second, (*h)[0])
}

func TestTimerHeapPopClearsTrailingSlot(t *testing.T) {
	h := &timerHeap{}
	heap.Init(h)
	heap.Push(h, entryAt(time.Second))

	popped := heap.Pop(h).(*timerEntry)
	assert.NotNil(t, popped)
	assert.Equal(t, 0, h.Len())
	assert.Nil(t, (*h)[:1][0], "Pop should nil out the vacated slot")
}
