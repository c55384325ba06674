// Package nip09 implements the NIP-09 deletion tag vocabulary: extracting
// the event ids and addresses a kind-5 event asks to retract. The cascade
// itself — author check, marking deleted, updating indices — is the
// repository's job (internal/store/memory); this package only names which
// tags carry a deletion's targets, grounded on the teacher's
// nip09.HandleDeletion tag loop.
package nip09

import "github.com/strtr/relay/pkg/event"

// IsDeletionEvent reports whether evt is a NIP-09 kind-5 deletion request.
func IsDeletionEvent(evt *event.Event) bool {
	return evt.Kind == event.DeletionKind
}

// TargetEventIDs returns the ids named in evt's e tags.
func TargetEventIDs(evt *event.Event) []string {
	return evt.GetTagValues("e")
}

// TargetAddresses returns the replaceable-event addresses named in evt's a
// tags.
func TargetAddresses(evt *event.Event) []string {
	return evt.GetTagValues("a")
}
