// Package nip42 implements the AUTH-event recognition and validation
// SPEC_FULL.md §4.10 folds into the ordinary EVENT path: a kind-22242
// event is acknowledged without ever reaching the repository or pool.
package nip42

import (
	"fmt"
	"strings"

	"github.com/strtr/relay/pkg/event"
)

// AuthKind is the NIP-42 AUTH event kind.
const AuthKind = 22242

// Processor validates AUTH events. It never touches storage — AUTH events
// are acknowledged, not stored or broadcast.
type Processor struct{}

// New creates a NIP-42 processor.
func New() *Processor {
	return &Processor{}
}

// Process validates evt as an AUTH event.
func (p *Processor) Process(evt *event.Event) error {
	if !IsAuthEvent(evt) {
		return fmt.Errorf("not an AUTH event: kind %d", evt.Kind)
	}
	if err := evt.VerifySignature(); err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	return nil
}

// IsAuthEvent reports whether evt is a NIP-42 AUTH event.
func IsAuthEvent(evt *event.Event) bool {
	return evt.Kind == AuthKind
}

// ValidateAuthEvent validates an AUTH event without storing it.
func ValidateAuthEvent(evt *event.Event) error {
	if !IsAuthEvent(evt) {
		return fmt.Errorf("event kind %d is not AUTH (%d)", evt.Kind, AuthKind)
	}
	if strings.TrimSpace(evt.Content) == "" {
		return fmt.Errorf("AUTH event content cannot be empty")
	}
	if err := evt.VerifySignature(); err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	return nil
}
