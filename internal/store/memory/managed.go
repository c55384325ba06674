package memory

import (
	"sync/atomic"

	"github.com/strtr/relay/pkg/event"
)

// managedEvent wraps an event with a mutable deleted flag. Every index
// bucket and eventsById entry for a given id holds the same *managedEvent
// instance, so flipping deleted is observed everywhere at once without a
// fan-out update.
type managedEvent struct {
	event   *event.Event
	deleted atomic.Bool
}

func newManagedEvent(ev *event.Event) *managedEvent {
	return &managedEvent{event: ev}
}

func (m *managedEvent) isDeleted() bool {
	return m.deleted.Load()
}

func (m *managedEvent) markDeleted() {
	m.deleted.Store(true)
}
