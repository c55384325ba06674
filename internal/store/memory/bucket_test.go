package memory

import (
	"testing"

	"github.com/strtr/relay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBucket_InsertMaintainsAscendingOrder(t *testing.T) {
	b := newEventBucket()
	kp := testutil.MustGenerateKeyPair()

	timestamps := []int64{300, 100, 200, 50, 400}
	for _, ts := range timestamps {
		evt, err := testutil.NewTestEventAt(kp, 1, "x", nil, ts)
		require.NoError(t, err)
		b.insert(newManagedEvent(evt))
	}

	require.Equal(t, len(timestamps), b.size())
	for i := 1; i < b.size(); i++ {
		assert.LessOrEqual(t, b.events[i-1].event.CreatedAt, b.events[i].event.CreatedAt)
	}
}

func TestEventBucket_QueryDescendingWithBounds(t *testing.T) {
	b := newEventBucket()
	kp := testutil.MustGenerateKeyPair()

	var ids []string
	for _, ts := range []int64{100, 200, 300, 400, 500} {
		evt, err := testutil.NewTestEventAt(kp, 1, "x", nil, ts)
		require.NoError(t, err)
		b.insert(newManagedEvent(evt))
		ids = append(ids, evt.ID)
	}

	until := int64(400)
	since := int64(200)
	cur := b.query(&until, &since)

	var got []string
	for {
		mev := cur.next()
		if mev == nil {
			break
		}
		got = append(got, mev.event.ID)
	}

	// descending: 400, 300, 200 — 500 excluded by until, 100 excluded by since.
	assert.Equal(t, []string{ids[3], ids[2], ids[1]}, got)
}

func TestEventBucket_QuerySkipsDeleted(t *testing.T) {
	b := newEventBucket()
	kp := testutil.MustGenerateKeyPair()

	evt1, err := testutil.NewTestEventAt(kp, 1, "x", nil, 100)
	require.NoError(t, err)
	evt2, err := testutil.NewTestEventAt(kp, 1, "y", nil, 200)
	require.NoError(t, err)

	mev1 := newManagedEvent(evt1)
	mev2 := newManagedEvent(evt2)
	mev2.markDeleted()

	b.insert(mev1)
	b.insert(mev2)

	cur := b.query(nil, nil)
	first := cur.next()
	require.NotNil(t, first)
	assert.Equal(t, evt1.ID, first.event.ID)
	assert.Nil(t, cur.next())
}

func TestEventBucket_BinarySearchStartIndexAllNewer(t *testing.T) {
	b := newEventBucket()
	kp := testutil.MustGenerateKeyPair()

	evt, err := testutil.NewTestEventAt(kp, 1, "x", nil, 500)
	require.NoError(t, err)
	b.insert(newManagedEvent(evt))

	assert.Equal(t, -1, b.binarySearchStartIndex(100))
}
