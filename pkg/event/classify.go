package event

import "fmt"

// Class is the storage-handling class an event's kind puts it in.
type Class int

const (
	// Regular events are stored forever, until explicitly deleted.
	Regular Class = iota
	// Replaceable events retain at most one event per (kind, pubkey).
	Replaceable
	// ParamReplaceable events retain at most one event per
	// (kind, pubkey, d-tag value).
	ParamReplaceable
	// Ephemeral events are never stored, only broadcast.
	Ephemeral
)

// DeletionKind is the kind-5 NIP-09 deletion event.
const DeletionKind = 5

// ErrNoDTag is returned when a parameterized-replaceable event carries no
// d tag.
var ErrNoDTag = fmt.Errorf("no-dtag-in-param-replaceable")

// Classify derives the storage-handling class from an event kind.
func Classify(kind int) Class {
	switch {
	case kind == 0 || kind == 3 || (kind >= 10000 && kind < 20000):
		return Replaceable
	case kind >= 30000 && kind < 40000:
		return ParamReplaceable
	case kind >= 20000 && kind < 30000:
		return Ephemeral
	default:
		return Regular
	}
}

// IsReplaceable reports whether c is one of the two replaceable classes.
func (c Class) IsReplaceable() bool {
	return c == Replaceable || c == ParamReplaceable
}

// ValidateSemantics performs the one semantic check spec.md names: a
// parameterized-replaceable event must carry a d tag.
func (e *Event) ValidateSemantics() error {
	if Classify(e.Kind) == ParamReplaceable {
		if len(e.GetTagValues("d")) == 0 {
			return ErrNoDTag
		}
	}
	return nil
}

// DTagValue returns the value of the event's first d tag, or "" if absent.
func (e *Event) DTagValue() string {
	values := e.GetTagValues("d")
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// ReplaceableAddress returns the canonical "<kind>:<pubkey>:<d>" address
// for a replaceable event. d is empty for non-parameterized events.
func ReplaceableAddress(e *Event) string {
	d := ""
	if Classify(e.Kind) == ParamReplaceable {
		d = e.DTagValue()
	}
	return fmt.Sprintf("%d:%s:%s", e.Kind, e.PubKey, d)
}

// Compare implements the event total order used for sorting and
// replacement decisions: newer created_at wins; on a tie the
// lexicographically smaller id is considered newer. It returns a negative
// number if a is older than b, zero if they are the same event (equal
// ids), and a positive number if a is newer than b.
func Compare(a, b *Event) int {
	if a.CreatedAt != b.CreatedAt {
		if a.CreatedAt < b.CreatedAt {
			return -1
		}
		return 1
	}
	if a.ID == b.ID {
		return 0
	}
	if a.ID > b.ID {
		// a's id is lexicographically larger, so b is the newer one.
		return -1
	}
	return 1
}

// IsNewer reports whether a is strictly newer than b by the event order.
func IsNewer(a, b *Event) bool {
	return Compare(a, b) > 0
}
