package memory

import (
	"sync"

	"github.com/strtr/relay/pkg/event"
)

// replaceableTracker holds, per replaceable address, the currently retained
// event (unwrapped — this map is the source of truth for "which event wins
// at this address", not a managed-event view).
type replaceableTracker struct {
	mu      sync.Mutex
	current map[string]*event.Event
}

func newReplaceableTracker() *replaceableTracker {
	return &replaceableTracker{current: make(map[string]*event.Event)}
}

// replace applies the replaceable-event admission rule: the first event at
// an address is always stored; afterward only a strictly newer event (by
// the event total order) replaces the retained one. It returns the address,
// the event that was overwritten (nil if none), and the event that should
// be stored (nil if ev lost to the existing entry).
func (t *replaceableTracker) replace(ev *event.Event) (addr string, overwritten, toBeStored *event.Event) {
	addr = event.ReplaceableAddress(ev)

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.current[addr]
	if !ok {
		t.current[addr] = ev
		return addr, nil, ev
	}
	if event.IsNewer(ev, existing) {
		t.current[addr] = ev
		return addr, existing, ev
	}
	return addr, nil, nil
}

// deleteIfAuthor removes the tracker entry for addr only if present and
// authored by requester, returning the removed event (nil otherwise).
func (t *replaceableTracker) deleteIfAuthor(addr, requester string) *event.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	ev, ok := t.current[addr]
	if !ok || ev.PubKey != requester {
		return nil
	}
	delete(t.current, addr)
	return ev
}
