// Package relay wires the connection coordinator (pkg/protocol) to the
// repository, subscription pool, and ingestor: the thin orchestrator that
// satisfies protocol.Handler, grounded on the teacher's
// pkg/relay.Relay — narrowed to dispatch only, since admission and
// broadcast now live in pkg/ingest and pkg/pool.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/strtr/relay/pkg/config"
	"github.com/strtr/relay/pkg/event"
	"github.com/strtr/relay/pkg/ingest"
	"github.com/strtr/relay/pkg/nips/nip11"
	"github.com/strtr/relay/pkg/nips/nip40"
	"github.com/strtr/relay/pkg/nips/nip42"
	"github.com/strtr/relay/pkg/nips/nip50"
	"github.com/strtr/relay/pkg/pool"
	"github.com/strtr/relay/pkg/protocol"
	"github.com/strtr/relay/pkg/ratelimit"
	"github.com/strtr/relay/pkg/storage"
)

// Version of the relay.
const Version = "0.10.0"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Relay is the main relay orchestrator: it implements protocol.Handler
// against a storage.Repository, a pkg/pool.Pool, and a pkg/ingest.Ingestor,
// and serves the NIP-11 info document and WebSocket upgrade over HTTP.
type Relay struct {
	repo     storage.Repository
	pool     *pool.Pool
	ingestor *ingest.Ingestor
	limiter  *ratelimit.Limiter
	cfg      *config.Config
	version  string
	metrics  *metrics
}

var _ protocol.Handler = (*Relay)(nil)

// New creates a relay backed by repo, with its own subscription pool and
// ingestor. cfg governs NIP-50 search and outbound rate limiting; a nil
// cfg falls back to config.DefaultConfig().
func New(repo storage.Repository, cfg *config.Config) *Relay {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	p := pool.New()

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(float64(cfg.RateLimit.EventsPerSec), cfg.RateLimit.Burst)
	}

	return &Relay{
		repo:     repo,
		pool:     p,
		ingestor: ingest.New(repo, p),
		limiter:  limiter,
		cfg:      cfg,
		version:  Version,
		metrics:  newMetrics(),
	}
}

// ServeHTTP serves the health snapshot on /health, the NIP-11 relay
// information document on a content-negotiated GET, and upgrades every
// other request to a WebSocket connection bound to a new protocol.Client.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path == "/health" {
		r.serveHealth(w, req)
		return
	}

	if req.Header.Get("Accept") == "application/nostr+json" {
		info := &nip11.RelayInformationDocument{
			Name:          "strtr relay",
			Description:   "A Nostr relay written in Go",
			Software:      "https://github.com/strtr/relay",
			Version:       r.version,
			SupportedNIPs: []int{1, 9, 11, 40, 42, 44, 50},
		}

		w.Header().Set("Content-Type", "application/nostr+json")
		json.NewEncoder(w).Encode(info)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		http.Error(w, "WebSocket upgrade failed", http.StatusInternalServerError)
		return
	}

	r.metrics.totalConnections.Add(1)
	r.metrics.activeConnections.Add(1)

	client := protocol.NewClient(conn, r, r.limiter)
	client.OnClose(func(c *protocol.Client) {
		r.pool.UnregisterPeer(c.ID())
		r.metrics.activeConnections.Add(-1)
	})

	client.Start(req.Context())
}

// HandleEvent processes an EVENT message from a client. NIP-42 AUTH events
// are validated and acknowledged without ever reaching the ingestor;
// everything else goes through ingest.Ingestor.Ingest, whose Result is the
// single OK this sends.
func (r *Relay) HandleEvent(ctx context.Context, c *protocol.Client, evt *event.Event) error {
	r.metrics.totalEvents.Add(1)

	if nip42.IsAuthEvent(evt) {
		if err := nip42.ValidateAuthEvent(evt); err != nil {
			return c.SendOK(evt.ID, false, fmt.Sprintf("invalid: %v", err))
		}
		return c.SendOK(evt.ID, true, "")
	}

	result := r.ingestor.Ingest(ctx, evt)
	return c.SendOK(evt.ID, result.OK, result.Message)
}

// HandleReq streams the repository's (or, when NIP-50 search is enabled
// and requested, nip50.SearchEvents') matching backlog to c as EVENT
// frames, skipping expired events. It never registers the subscription for
// live broadcast, sends EOSE, or sends CLOSED — the coordinator does all
// three once this returns, calling Subscribe only after EOSE has been
// queued, per spec.md §5's ordering guarantee.
func (r *Relay) HandleReq(ctx context.Context, c *protocol.Client, subID string, filters []*event.Filter) error {
	r.metrics.totalRequests.Add(1)

	var events []*event.Event
	var err error

	if r.cfg.Features.NIP50Search && nip50.HasSearchTerm(filters) {
		events, err = nip50.SearchEvents(ctx, r.repo, filters)
	} else {
		events, err = r.repo.Query(ctx, filters)
	}
	if err != nil {
		return fmt.Errorf("failed to query events: %w", err)
	}

	for _, evt := range events {
		if nip40.ShouldFilterEvent(evt) {
			continue
		}
		if err := c.SendEvent(subID, evt); err != nil {
			log.Printf("failed to send stored event to client: %v", err)
		}
	}

	return nil
}

// Subscribe registers filters (the set protocol.handleReqMessage already
// determined survives its trivially-unsatisfiable/limit==0 check) into the
// pool so future broadcasts reach this subscription. The coordinator only
// calls this after it has queued EOSE for delivery, so this registration
// can never race a broadcast ahead of that EOSE.
func (r *Relay) Subscribe(ctx context.Context, c *protocol.Client, subID string, filters []*event.Filter) error {
	r.pool.Register(&pool.Subscription{
		PeerID:  c.ID(),
		SubID:   subID,
		Filters: filters,
		Sender:  c,
	})
	return nil
}

// HandleClose processes a CLOSE message from a client, removing its
// subscription from the pool.
func (r *Relay) HandleClose(ctx context.Context, c *protocol.Client, subID string) error {
	r.pool.Unregister(c.ID(), subID)
	return nil
}

// Close shuts down the relay's storage backend.
func (r *Relay) Close() error {
	return r.repo.Close()
}

// Start starts the relay HTTP server on addr.
func (r *Relay) Start(addr string) error {
	log.Printf("relay starting on %s", addr)
	return http.ListenAndServe(addr, r)
}

// StartTLS starts the relay HTTPS/WSS server on addr using the given
// certificate and key files, per the network.tls_cert/tls_key config
// fields (SPEC_FULL.md §4.11).
func (r *Relay) StartTLS(addr, certFile, keyFile string) error {
	log.Printf("relay starting on %s (tls)", addr)
	return http.ListenAndServeTLS(addr, certFile, keyFile, r)
}
