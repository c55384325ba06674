// Package memory implements the in-memory event repository: the managed
// event, time-sorted buckets, secondary indices, the replaceable-event
// tracker, and the query planner that ties them together. This is the
// default, and only production, backend — see DESIGN.md for why the
// sqlite backend is kept as an alternate rather than the primary.
package memory

import (
	"container/heap"
	"context"
	"sync"

	"github.com/strtr/relay/pkg/event"
	"github.com/strtr/relay/pkg/nips/nip09"
	"github.com/strtr/relay/pkg/storage"
)

// Repository is the concurrent in-memory event store described by
// spec.md §3-§4.7: a global bucket, four secondary indices, a
// replaceable-event tracker, and a deleted-id set, all guarded by a single
// writer lock so every mutating operation observes and leaves the
// invariants intact.
type Repository struct {
	mu sync.RWMutex

	eventsByID map[string]*managedEvent
	allEvents  *eventBucket

	authorIdx *secondaryIndex
	kindIdx   *secondaryIndex
	eTagIdx   *secondaryIndex
	pTagIdx   *secondaryIndex

	reTracker  *replaceableTracker
	deletedIDs map[string]struct{}
}

var _ storage.Repository = (*Repository)(nil)

// New constructs an empty repository.
func New() *Repository {
	return &Repository{
		eventsByID: make(map[string]*managedEvent),
		allEvents:  newEventBucket(),
		authorIdx:  newSecondaryIndex(),
		kindIdx:    newSecondaryIndex(),
		eTagIdx:    newSecondaryIndex(),
		pTagIdx:    newSecondaryIndex(),
		reTracker:  newReplaceableTracker(),
		deletedIDs: make(map[string]struct{}),
	}
}

// Insert applies spec.md §4.5's admission algorithm. ctx is accepted to
// satisfy storage.Repository; all repository work here is non-blocking CPU
// work, so it is never consulted.
func (r *Repository) Insert(_ context.Context, ev *event.Event) (storage.InsertOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.deletedIDs[ev.ID]; ok {
		return storage.InsertDeleted, nil
	}
	if _, ok := r.eventsByID[ev.ID]; ok {
		return storage.InsertDuplicate, nil
	}

	if nip09.IsDeletionEvent(ev) {
		r.storeLocked(ev)
		for _, id := range nip09.TargetEventIDs(ev) {
			if r.deleteByIDLocked(id, ev.PubKey) {
				r.deletedIDs[id] = struct{}{}
			}
		}
		for _, addr := range nip09.TargetAddresses(ev) {
			r.deleteByAddrLocked(addr, ev.PubKey)
		}
		return storage.InsertOK, nil
	}

	if event.Classify(ev.Kind).IsReplaceable() {
		_, overwritten, toBeStored := r.reTracker.replace(ev)
		if toBeStored != nil {
			r.storeLocked(toBeStored)
		}
		if overwritten != nil {
			r.deleteByIDLocked(overwritten.ID, ev.PubKey)
		}
		return storage.InsertOK, nil
	}

	r.storeLocked(ev)
	return storage.InsertOK, nil
}

// storeLocked wraps ev in a new managed event and inserts the same
// reference into eventsByID, allEvents, and every applicable index
// bucket. Callers must hold mu.
func (r *Repository) storeLocked(ev *event.Event) {
	mev := newManagedEvent(ev)
	r.eventsByID[ev.ID] = mev
	r.allEvents.insert(mev)
	r.authorIdx.insert(authorKey(ev), mev)
	r.kindIdx.insert(kindKey(ev.Kind), mev)
	for _, v := range eTagValues(ev) {
		r.eTagIdx.insert(v, mev)
	}
	for _, v := range pTagValues(ev) {
		r.pTagIdx.insert(v, mev)
	}
}

// deleteByIDLocked marks id deleted if it exists, requester authored it,
// and it is not itself a deletion event. Callers must hold mu.
func (r *Repository) deleteByIDLocked(id, requester string) bool {
	mev, ok := r.eventsByID[id]
	if !ok {
		return false
	}
	if mev.event.PubKey != requester {
		return false
	}
	if mev.event.Kind == event.DeletionKind {
		return false
	}
	mev.markDeleted()
	return true
}

// deleteByAddrLocked removes the tracker entry for addr if its author
// matches requester, then deletes the retained event by id.
func (r *Repository) deleteByAddrLocked(addr, requester string) {
	removed := r.reTracker.deleteIfAuthor(addr, requester)
	if removed == nil {
		return
	}
	r.deleteByIDLocked(removed.ID, requester)
}

// Query yields events matching any of filters, each filter independently
// capped at its effective limit, newest first. Trivially unsatisfiable
// filters and filters with limit == 0 are skipped. Results from distinct
// filters are concatenated without cross-filter dedup, per spec.md §4.7.
func (r *Repository) Query(_ context.Context, filters []*event.Filter) ([]*event.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*event.Event
	for _, f := range filters {
		if f.IsTriviallyUnsatisfiable() {
			continue
		}
		limit := f.EffectiveLimit()
		if limit == 0 {
			continue
		}
		results = append(results, r.queryOneLocked(f, limit)...)
	}
	return results, nil
}

// queryOneLocked plans and executes a single filter. Callers must hold at
// least a read lock.
func (r *Repository) queryOneLocked(f *event.Filter, limit int) []*event.Event {
	bucket, merged := r.planLocked(f)
	if !merged {
		return r.walkSingleBucket(bucket, f, limit)
	}
	return r.walkMerged(bucket, f, limit)
}

// planLocked selects the query path for f, per spec.md §4.7's index
// selection rule: ids forces a full scan of allEvents; otherwise the
// smallest-total-size candidate among authors/kinds/#e/#p is used,
// breaking ties by fewer buckets; absent all of those, allEvents. It
// returns a single bucket to walk directly, or several to merge.
func (r *Repository) planLocked(f *event.Filter) (queryPlan, bool) {
	if f.HasIDs() {
		return queryPlan{single: r.allEvents}, false
	}

	var best queryPlan
	haveBest := false

	tryField := func(candidates []candidateBucket, total int) {
		if len(candidates) == 0 {
			return
		}
		if !haveBest || total < best.total || (total == best.total && len(candidates) < len(best.buckets)) {
			best = queryPlan{buckets: bucketsOf(candidates), total: total}
			haveBest = true
		}
	}

	if f.HasAuthors() {
		c, total := r.authorIdx.getCandidateBuckets(f.Authors)
		tryField(c, total)
	}
	if f.HasKinds() {
		c, total := r.kindIdx.getCandidateBuckets(kindKeys(f.Kinds))
		tryField(c, total)
	}
	if values, ok := f.TagValues("e"); ok {
		c, total := r.eTagIdx.getCandidateBuckets(values)
		tryField(c, total)
	}
	if values, ok := f.TagValues("p"); ok {
		c, total := r.pTagIdx.getCandidateBuckets(values)
		tryField(c, total)
	}

	if !haveBest {
		return queryPlan{single: r.allEvents}, false
	}
	if len(best.buckets) == 1 {
		return queryPlan{single: best.buckets[0]}, false
	}
	return best, true
}

// queryPlan names either a single bucket or a set of buckets to merge.
type queryPlan struct {
	single  *eventBucket
	buckets []*eventBucket
	total   int
}

func bucketsOf(candidates []candidateBucket) []*eventBucket {
	out := make([]*eventBucket, len(candidates))
	for i, c := range candidates {
		out[i] = c.bucket
	}
	return out
}

func kindKeys(kinds []int) []string {
	keys := make([]string, len(kinds))
	for i, k := range kinds {
		keys[i] = kindKey(k)
	}
	return keys
}

// walkSingleBucket walks plan.single's descending cursor, applying the
// full filter predicate, up to limit matches.
func (r *Repository) walkSingleBucket(plan queryPlan, f *event.Filter, limit int) []*event.Event {
	cur := plan.single.query(f.Until, f.Since)
	var out []*event.Event
	for len(out) < limit {
		mev := cur.next()
		if mev == nil {
			break
		}
		if f.Match(mev.event) {
			out = append(out, mev.event)
		}
	}
	return out
}

// walkMerged drives the max-heap merge across plan.buckets' cursors, per
// spec.md §4.7's "multi-bucket merged path": pop the newest head, yield
// and dedup by id, advance that cursor, repeat until the heap empties or
// limit is reached.
func (r *Repository) walkMerged(plan queryPlan, f *event.Filter, limit int) []*event.Event {
	h := make(mergeHeap, 0, len(plan.buckets))
	for _, b := range plan.buckets {
		cur := b.query(f.Until, f.Since)
		if head := cur.next(); head != nil {
			h = append(h, &mergeHeapItem{cursor: cur, head: head})
		}
	}
	heap.Init(&h)

	seen := make(map[string]struct{})
	var out []*event.Event
	for h.Len() > 0 && len(out) < limit {
		item := heap.Pop(&h).(*mergeHeapItem)
		mev := item.head
		if _, dup := seen[mev.event.ID]; !dup {
			seen[mev.event.ID] = struct{}{}
			if f.Match(mev.event) {
				out = append(out, mev.event)
			}
		}
		if next := item.cursor.next(); next != nil {
			item.head = next
			heap.Push(&h, item)
		}
	}
	return out
}

// GetByID retrieves a single non-deleted event by id.
func (r *Repository) GetByID(_ context.Context, id string) (*event.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mev, ok := r.eventsByID[id]
	if !ok || mev.isDeleted() {
		return nil, storage.ErrNotFound
	}
	return mev.event, nil
}

// Close is a no-op; the in-memory repository owns no external resources.
func (r *Repository) Close() error { return nil }

// Count returns the number of non-deleted events (test/diagnostic helper).
func (r *Repository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, mev := range r.eventsByID {
		if !mev.isDeleted() {
			n++
		}
	}
	return n
}
