package relay_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/strtr/relay/internal/store/memory"
	"github.com/strtr/relay/internal/testutil"
	"github.com/strtr/relay/pkg/event"
	"github.com/strtr/relay/pkg/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startRelay grounds this package's white-box tests the same way
// pkg/protocol/protocol_test.go does: a real httptest.NewServer in front of
// the actual type under test, dialed with testutil.WSClient, rather than a
// fake Handler — Relay itself is the thing being exercised here.
func startRelay(t *testing.T) (wsURL string, r *relay.Relay, cleanup func()) {
	t.Helper()
	repo := memory.New()
	r = relay.New(repo, nil)
	srv := httptest.NewServer(r)
	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, r, func() {
		srv.Close()
		r.Close()
	}
}

func TestRelay_EventAcceptedAndQueryable(t *testing.T) {
	wsURL, _, cleanup := startRelay(t)
	defer cleanup()

	client, err := testutil.NewWSClient(wsURL)
	require.NoError(t, err)
	defer client.Close()

	evt, _ := testutil.MustNewTestEvent(1, "hello", nil)
	require.NoError(t, client.SendEvent(evt))

	accepted, msg, err := client.ExpectOK(evt.ID, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Empty(t, msg)

	require.NoError(t, client.SendReq("sub1", &event.Filter{IDs: []string{evt.ID}}))
	got, err := client.ExpectEvent("sub1", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, got.ID)
	require.NoError(t, client.ExpectEOSE("sub1", 2*time.Second))
}

func TestRelay_DuplicateEventAcknowledged(t *testing.T) {
	wsURL, _, cleanup := startRelay(t)
	defer cleanup()

	client, err := testutil.NewWSClient(wsURL)
	require.NoError(t, err)
	defer client.Close()

	evt, _ := testutil.MustNewTestEvent(1, "hello", nil)
	require.NoError(t, client.SendEvent(evt))
	_, _, err = client.ExpectOK(evt.ID, 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, client.SendEvent(evt))
	accepted, msg, err := client.ExpectOK(evt.ID, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.NotEmpty(t, msg)
}

func TestRelay_LiveBroadcastToMatchingSubscription(t *testing.T) {
	wsURL, _, cleanup := startRelay(t)
	defer cleanup()

	subscriber, err := testutil.NewWSClient(wsURL)
	require.NoError(t, err)
	defer subscriber.Close()

	kind := 1
	require.NoError(t, subscriber.SendReq("live", &event.Filter{Kinds: []int{kind}}))
	require.NoError(t, subscriber.ExpectEOSE("live", 2*time.Second))

	publisher, err := testutil.NewWSClient(wsURL)
	require.NoError(t, err)
	defer publisher.Close()

	evt, _ := testutil.MustNewTestEvent(kind, "live note", nil)
	require.NoError(t, publisher.SendEvent(evt))
	_, _, err = publisher.ExpectOK(evt.ID, 2*time.Second)
	require.NoError(t, err)

	got, err := subscriber.ExpectEvent("live", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, got.ID)
}

func TestRelay_CloseUnregistersSubscription(t *testing.T) {
	wsURL, _, cleanup := startRelay(t)
	defer cleanup()

	client, err := testutil.NewWSClient(wsURL)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SendReq("sub1", &event.Filter{Kinds: []int{1}}))
	require.NoError(t, client.ExpectEOSE("sub1", 2*time.Second))
	require.NoError(t, client.SendClose("sub1"))

	// A live event published after CLOSE must not reach this subscription.
	other, err := testutil.NewWSClient(wsURL)
	require.NoError(t, err)
	defer other.Close()

	evt, _ := testutil.MustNewTestEvent(1, "after close", nil)
	require.NoError(t, other.SendEvent(evt))
	_, _, err = other.ExpectOK(evt.ID, 2*time.Second)
	require.NoError(t, err)

	_, err = client.ExpectEvent("sub1", 300*time.Millisecond)
	assert.Error(t, err)
}

func TestRelay_AuthEventNeverStored(t *testing.T) {
	wsURL, r, cleanup := startRelay(t)
	defer cleanup()

	client, err := testutil.NewWSClient(wsURL)
	require.NoError(t, err)
	defer client.Close()

	kp := testutil.MustGenerateKeyPair()
	authEvt, err := testutil.NewTestEventWithKey(kp, 22242, "auth", nil)
	require.NoError(t, err)

	require.NoError(t, client.SendEvent(authEvt))
	accepted, msg, err := client.ExpectOK(authEvt.ID, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Empty(t, msg)

	require.NoError(t, client.SendReq("sub1", &event.Filter{IDs: []string{authEvt.ID}}))
	require.NoError(t, client.ExpectEOSE("sub1", 2*time.Second))
	_, err = client.ExpectEvent("sub1", 300*time.Millisecond)
	assert.Error(t, err, "AUTH events must never be stored or returned from REQ")
	_ = r
}

func TestRelay_NIP11InfoDocument(t *testing.T) {
	wsURL, _, cleanup := startRelay(t)
	defer cleanup()

	httpURL := strings.Replace(wsURL, "ws://", "http://", 1)
	req, err := http.NewRequest("GET", httpURL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/nostr+json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/nostr+json", resp.Header.Get("Content-Type"))

	var doc map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "strtr relay", doc["name"])
	nips, ok := doc["supported_nips"].([]interface{})
	require.True(t, ok)
	assert.NotContains(t, nips, float64(59))
}

func TestRelay_HealthEndpoint(t *testing.T) {
	wsURL, _, cleanup := startRelay(t)
	defer cleanup()

	httpURL := strings.Replace(wsURL, "ws://", "http://", 1) + "/health"
	resp, err := http.Get(httpURL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "ok", health["database_status"])
	assert.InDelta(t, 0, health["rate_limited_count"], 0.0001)
}
