// Package pool implements the subscription registry and broadcast fan-out
// described by spec.md §4.8: a shared, connection-independent table of
// active subscriptions that a successful insertion is broadcast against.
package pool

import (
	"sync"

	"github.com/strtr/relay/pkg/event"
	"github.com/strtr/relay/pkg/nips/nip44"
)

// Sender is the narrow capability a subscription needs from its owning
// connection: deliver one more EVENT frame for a subscription id. The pool
// never touches anything else about the connection.
type Sender interface {
	SendEvent(subID string, ev *event.Event) error
}

// Subscription is one client's standing REQ: the surviving (non-trivially-
// unsatisfiable) filters and the connection to deliver matches to.
type Subscription struct {
	PeerID  string
	SubID   string
	Filters []*event.Filter
	Sender  Sender
}

func (s *Subscription) matches(ev *event.Event) bool {
	if !s.visibleTo(ev) {
		return false
	}
	for _, f := range s.Filters {
		if f.Match(ev) {
			return true
		}
	}
	return false
}

// visibleTo applies the kind-4 recipient-only visibility rule (SPEC_FULL.md
// §4.13): a legacy encrypted DM is only forwarded to a subscription whose
// own filters name the DM's tagged recipient in a #p filter. Every other
// event kind is visible to any subscription whose filters match it.
func (s *Subscription) visibleTo(ev *event.Event) bool {
	if !nip44.IsEncryptedDirectMessage(ev) {
		return true
	}
	recipient, ok := nip44.GetRecipientPubKey(ev)
	if !ok {
		return false
	}
	for _, f := range s.Filters {
		if values, ok := f.TagValues("p"); ok {
			for _, v := range values {
				if v == recipient {
					return true
				}
			}
		}
	}
	return false
}

type subKey struct {
	peerID string
	subID  string
}

// Pool is the (peerID, subID)-keyed subscription registry. All methods are
// safe for concurrent use; broadcast dispatches each subscription's
// delivery on its own goroutine so one slow client's send cannot stall
// fan-out to the rest, grounded on the teacher's
// pkg/relay.Relay.broadcastEvent per-connection dispatch pattern.
type Pool struct {
	mu   sync.RWMutex
	subs map[subKey]*Subscription
}

// New constructs an empty pool.
func New() *Pool {
	return &Pool{subs: make(map[subKey]*Subscription)}
}

// Register stores sub under (sub.PeerID, sub.SubID), atomically replacing
// any existing subscription there — a client re-issuing REQ with the same
// subId overwrites its previous filters.
func (p *Pool) Register(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[subKey{sub.PeerID, sub.SubID}] = sub
}

// Unregister removes the (peerID, subID) subscription if present. No-op if
// absent.
func (p *Pool) Unregister(peerID, subID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, subKey{peerID, subID})
}

// UnregisterPeer removes every subscription belonging to peerID, for use on
// connection termination.
func (p *Pool) UnregisterPeer(peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.subs {
		if key.peerID == peerID {
			delete(p.subs, key)
		}
	}
}

// Broadcast delivers ev to every subscription whose filters match it. Each
// delivery re-applies the subscription's own filter predicate and runs on
// its own goroutine, so a subscription whose sender blocks never delays
// delivery to any other subscription.
func (p *Pool) Broadcast(ev *event.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, sub := range p.subs {
		if !sub.matches(ev) {
			continue
		}
		go func(s *Subscription) {
			_ = s.Sender.SendEvent(s.SubID, ev)
		}(sub)
	}
}

// Count returns the number of registered subscriptions (test/diagnostic
// helper).
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
