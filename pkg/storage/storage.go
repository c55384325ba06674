// Package storage defines the Repository boundary the ingestor and
// connection coordinator depend on, so the in-memory and sqlite backends
// are interchangeable.
package storage

import (
	"context"
	"errors"

	"github.com/strtr/relay/pkg/event"
)

var ErrNotFound = errors.New("event not found")

// InsertOutcome is the result of Repository.Insert, per spec.md §4.5.
type InsertOutcome int

const (
	// InsertOK means the event (or its replacement, or its deletion
	// side-effects) was applied successfully.
	InsertOK InsertOutcome = iota
	// InsertDuplicate means an event with this id is already stored.
	InsertDuplicate
	// InsertDeleted means this id was previously deleted and must not be
	// re-admitted.
	InsertDeleted
)

// Repository is the storage boundary: insertion (with deletion and
// replaceable-event side effects already applied) and filtered query.
// Ephemeral events never reach Insert — the ingestor routes them straight
// to the pool.
type Repository interface {
	// Insert applies ev's admission rule (duplicate/deleted rejection,
	// deletion-event cascade, replaceable-event reconciliation, or plain
	// store) and reports the outcome.
	Insert(ctx context.Context, ev *event.Event) (InsertOutcome, error)

	// Query streams events matching any of filters, each filter
	// independently capped at its effective limit, newest first.
	Query(ctx context.Context, filters []*event.Filter) ([]*event.Event, error)

	// GetByID retrieves a single non-deleted event, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*event.Event, error)

	// Close releases backend resources.
	Close() error
}
