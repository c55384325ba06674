// Package event implements the NIP-01 event shape: canonical
// serialization, id computation, Schnorr signature verification, kind
// classification, and filter matching.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

var (
	hex64Re  = regexp.MustCompile(`^[a-f0-9]{64}$`)
	hex128Re = regexp.MustCompile(`^[a-f0-9]{128}$`)
)

// Event is an immutable, signed record as defined by NIP-01. Once admitted
// to a repository an Event is never mutated.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Validate checks structural shape, id integrity, and signature.
func (e *Event) Validate() error {
	if err := e.ValidateShape(); err != nil {
		return err
	}
	if err := e.VerifySignature(); err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	return nil
}

// ValidateShape checks the hex fields and recomputes the id, without
// touching the signature. It is the cheap check the transport boundary can
// run before an event is ever handed to the ingestor.
func (e *Event) ValidateShape() error {
	if !hex64Re.MatchString(e.PubKey) {
		return fmt.Errorf("pubkey must be 64 lowercase hex chars")
	}
	if !hex64Re.MatchString(e.ID) {
		return fmt.Errorf("id must be 64 lowercase hex chars")
	}
	if !hex128Re.MatchString(e.Sig) {
		return fmt.Errorf("sig must be 128 lowercase hex chars")
	}
	if e.Kind < 0 {
		return fmt.Errorf("invalid kind")
	}

	computedID, err := e.ComputeID()
	if err != nil {
		return fmt.Errorf("failed to compute id: %w", err)
	}
	if e.ID != computedID {
		return fmt.Errorf("id does not match computed hash")
	}
	return nil
}

// ComputeID computes the event id per NIP-01.
func (e *Event) ComputeID() (string, error) {
	serialized, err := e.Serialize()
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256([]byte(serialized))
	return hex.EncodeToString(hash[:]), nil
}

// Serialize produces the canonical NIP-01 array used for id computation:
// [0, pubkey, created_at, kind, tags, content].
func (e *Event) Serialize() (string, error) {
	data := []interface{}{
		0,
		e.PubKey,
		e.CreatedAt,
		e.Kind,
		e.Tags,
		e.Content,
	}
	serialized, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to serialize event: %w", err)
	}
	return string(serialized), nil
}

// VerifySignature checks the BIP-340 Schnorr signature over the event id.
func (e *Event) VerifySignature() error {
	pubKeyBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return fmt.Errorf("invalid pubkey hex: %w", err)
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return fmt.Errorf("invalid pubkey: %w", err)
	}

	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}

	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return fmt.Errorf("invalid id hex: %w", err)
	}

	if !sig.Verify(idBytes, pubKey) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// GetTagValues returns all values for a given tag name, in tag order.
func (e *Event) GetTagValues(tagName string) []string {
	var values []string
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == tagName {
			values = append(values, tag[1])
		}
	}
	return values
}

// hasTag reports whether the event carries a tag named name with value.
func (e *Event) hasTag(name, value string) bool {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name && tag[1] == value {
			return true
		}
	}
	return false
}
