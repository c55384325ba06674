package ingest_test

import (
	"context"
	"testing"

	"github.com/strtr/relay/internal/store/memory"
	"github.com/strtr/relay/internal/testutil"
	"github.com/strtr/relay/pkg/event"
	"github.com/strtr/relay/pkg/ingest"
	"github.com/strtr/relay/pkg/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestor_AcceptsAndBroadcasts(t *testing.T) {
	repo := memory.New()
	p := pool.New()
	ing := ingest.New(repo, p)

	evt, _ := testutil.MustNewTestEvent(1, "hello", nil)

	result := ing.Ingest(context.Background(), evt)
	assert.True(t, result.OK)
	assert.Empty(t, result.Message)

	got, err := repo.GetByID(context.Background(), evt.ID)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, got.ID)
}

func TestIngestor_RejectsBadSignature(t *testing.T) {
	repo := memory.New()
	p := pool.New()
	ing := ingest.New(repo, p)

	evt, _ := testutil.MustNewTestEvent(1, "hello", nil)
	evt.Sig = evt.Sig[:len(evt.Sig)-2] + "00"

	result := ing.Ingest(context.Background(), evt)
	assert.False(t, result.OK)
	assert.Contains(t, result.Message, "invalid signature")
}

func TestIngestor_RejectsMissingDTag(t *testing.T) {
	repo := memory.New()
	p := pool.New()
	ing := ingest.New(repo, p)

	evt, _ := testutil.MustNewTestEvent(30001, "no d tag", nil)

	result := ing.Ingest(context.Background(), evt)
	assert.False(t, result.OK)
	assert.Contains(t, result.Message, "no d-tag")
}

func TestIngestor_DuplicateReturnsOKWithMessage(t *testing.T) {
	repo := memory.New()
	p := pool.New()
	ing := ingest.New(repo, p)

	evt, _ := testutil.MustNewTestEvent(1, "hello", nil)

	ing.Ingest(context.Background(), evt)
	result := ing.Ingest(context.Background(), evt)

	assert.True(t, result.OK)
	assert.Contains(t, result.Message, "duplicate")
}

func TestIngestor_DeletedReturnsRejection(t *testing.T) {
	repo := memory.New()
	p := pool.New()
	ing := ingest.New(repo, p)
	kp := testutil.MustGenerateKeyPair()

	target, err := testutil.NewTestEventWithKey(kp, 1, "victim", nil)
	require.NoError(t, err)
	ing.Ingest(context.Background(), target)

	deletion, err := testutil.NewTestEventWithKey(kp, event.DeletionKind, "", [][]string{{"e", target.ID}})
	require.NoError(t, err)
	ing.Ingest(context.Background(), deletion)

	result := ing.Ingest(context.Background(), target)
	assert.False(t, result.OK)
	assert.Contains(t, result.Message, "already deleted")
}

func TestIngestor_EphemeralNeverStored(t *testing.T) {
	repo := memory.New()
	p := pool.New()
	ing := ingest.New(repo, p)

	evt, _ := testutil.MustNewTestEvent(20001, "ephemeral", nil)

	result := ing.Ingest(context.Background(), evt)
	assert.True(t, result.OK)

	_, err := repo.GetByID(context.Background(), evt.ID)
	assert.Error(t, err)
}

func TestIngestor_RejectsExpiredEvent(t *testing.T) {
	repo := memory.New()
	p := pool.New()
	ing := ingest.New(repo, p)

	evt, _ := testutil.MustNewTestEvent(1, "expired", [][]string{{"expiration", "1"}})

	result := ing.Ingest(context.Background(), evt)
	assert.False(t, result.OK)
	assert.Contains(t, result.Message, "expired")
}
