package memory

import (
	"sort"

	"github.com/strtr/relay/pkg/event"
)

// eventCompare orders two managed events by the event total order.
func eventCompare(a, b *managedEvent) int {
	return event.Compare(a.event, b.event)
}

// eventBucket is a time-sorted sequence of managed events, ascending by the
// event total order (pkg/event.Compare): oldest first, newest last. Query
// walks it in the opposite direction.
type eventBucket struct {
	events []*managedEvent
}

func newEventBucket() *eventBucket {
	return &eventBucket{}
}

// insert appends mev then sifts it backward via adjacent swaps until the
// ascending-order invariant holds. Amortized O(1) for near-monotonic
// arrivals; O(n) worst case for wildly out-of-order created_at values.
func (b *eventBucket) insert(mev *managedEvent) {
	b.events = append(b.events, mev)
	i := len(b.events) - 1
	for i > 0 && eventOrderLess(b.events[i], b.events[i-1]) {
		b.events[i], b.events[i-1] = b.events[i-1], b.events[i]
		i--
	}
}

func (b *eventBucket) size() int {
	return len(b.events)
}

// binarySearchStartIndex returns the largest index i with
// events[i].CreatedAt <= until, or -1 if every element is newer than until.
func (b *eventBucket) binarySearchStartIndex(until int64) int {
	n := len(b.events)
	// first index with CreatedAt > until
	idx := sort.Search(n, func(i int) bool {
		return b.events[i].event.CreatedAt > until
	})
	return idx - 1
}

// query returns a cursor over the bucket positioned to walk non-deleted
// events in descending time order starting from until (or the
// newest event if until is nil), stopping once since is crossed.
func (b *eventBucket) query(until *int64, since *int64) *rawCursor {
	start := len(b.events) - 1
	if until != nil {
		start = b.binarySearchStartIndex(*until)
	}
	return &rawCursor{bucket: b, i: start, since: since}
}

// rawCursor walks descending, skipping deleted entries and enforcing the
// since bound, but does not itself apply the full filter predicate — that
// is the caller's job (single-bucket path applies it directly; the merge
// path applies it once per popped candidate).
type rawCursor struct {
	bucket *eventBucket
	i      int
	since  *int64
}

// next returns the next non-deleted managed event walking downward, or nil
// when the cursor is exhausted (index below 0 or since bound crossed).
func (c *rawCursor) next() *managedEvent {
	for c.i >= 0 {
		mev := c.bucket.events[c.i]
		if c.since != nil && mev.event.CreatedAt < *c.since {
			c.i = -1
			return nil
		}
		c.i--
		if mev.isDeleted() {
			continue
		}
		return mev
	}
	return nil
}

func eventOrderLess(a, b *managedEvent) bool {
	return eventCompare(a, b) < 0
}
