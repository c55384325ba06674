package memory

import "container/heap"

// mergeHeapItem pairs a bucket cursor with its current head, so the merge
// heap can advance the right cursor after popping the newest head.
type mergeHeapItem struct {
	cursor *rawCursor
	head   *managedEvent
}

// mergeHeap is a max-heap over the event total order: Pop yields the
// newest head among all active bucket cursors. Cursor state lives outside
// the heap nodes (in mergeHeapItem.cursor) so advancing a cursor never
// requires moving heap state, per spec.md's merged-iterator design note.
type mergeHeap []*mergeHeapItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	// max-heap: item with the newer head sorts first.
	return eventCompare(h[i].head, h[j].head) > 0
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x interface{}) {
	*h = append(*h, x.(*mergeHeapItem))
}

func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*mergeHeap)(nil)
