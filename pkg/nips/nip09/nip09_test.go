package nip09

import (
	"testing"

	"github.com/strtr/relay/pkg/event"
	"github.com/stretchr/testify/assert"
)

func TestIsDeletionEvent(t *testing.T) {
	assert.True(t, IsDeletionEvent(&event.Event{Kind: 5}))
	assert.False(t, IsDeletionEvent(&event.Event{Kind: 1}))
}

func TestTargetEventIDs(t *testing.T) {
	evt := &event.Event{Tags: [][]string{{"e", "abc"}, {"p", "def"}, {"e", "ghi"}}}
	assert.Equal(t, []string{"abc", "ghi"}, TargetEventIDs(evt))
}

func TestTargetAddresses(t *testing.T) {
	evt := &event.Event{Tags: [][]string{{"a", "30000:pub:d"}, {"e", "abc"}}}
	assert.Equal(t, []string{"30000:pub:d"}, TargetAddresses(evt))
}
