package memory

import (
	"strconv"

	"github.com/strtr/relay/pkg/event"
)

// secondaryIndex maps an index key (author pubkey, kind, e-tag value, or
// p-tag value) to the bucket of events carrying that key. An event with
// multiple values under a multi-valued key (e.g. several e tags) appears in
// several buckets.
type secondaryIndex struct {
	buckets map[string]*eventBucket
}

func newSecondaryIndex() *secondaryIndex {
	return &secondaryIndex{buckets: make(map[string]*eventBucket)}
}

func (idx *secondaryIndex) insert(key string, mev *managedEvent) {
	b, ok := idx.buckets[key]
	if !ok {
		b = newEventBucket()
		idx.buckets[key] = b
	}
	b.insert(mev)
}

// candidateBucket names a bucket together with its size, so the query
// planner can pick the smallest candidate without walking every bucket.
type candidateBucket struct {
	key    string
	bucket *eventBucket
}

// getCandidateBuckets returns the buckets registered under any of keys,
// skipping keys with no bucket, together with the combined size.
func (idx *secondaryIndex) getCandidateBuckets(keys []string) (candidates []candidateBucket, total int) {
	for _, k := range keys {
		b, ok := idx.buckets[k]
		if !ok {
			continue
		}
		candidates = append(candidates, candidateBucket{key: k, bucket: b})
		total += b.size()
	}
	return candidates, total
}

// authorKey, kindKey, eTagKey, and pTagKey compute the index key for the
// four secondary indices.
func authorKey(ev *event.Event) string { return ev.PubKey }

func kindKey(kind int) string { return strconv.Itoa(kind) }

func eTagValues(ev *event.Event) []string { return ev.GetTagValues("e") }
func pTagValues(ev *event.Event) []string { return ev.GetTagValues("p") }
