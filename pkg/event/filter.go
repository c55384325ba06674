package event

import (
	"encoding/json"
	"fmt"
)

// DefaultLimit and MaxLimit bound how many events a single filter can
// produce from a query, per spec.md §4.7.
const (
	DefaultLimit = 500
	MaxLimit     = 500
)

// Filter is a conjunction of optional constraints over events, as defined
// by NIP-01, plus arbitrary single-letter tag filters (#e, #p, ...).
type Filter struct {
	IDs     []string            `json:"ids,omitempty"`
	Authors []string            `json:"authors,omitempty"`
	Kinds   []int               `json:"kinds,omitempty"`
	Tags    map[string][]string `json:"-"`
	Since   *int64              `json:"since,omitempty"`
	Until   *int64              `json:"until,omitempty"`
	Limit   *int                `json:"limit,omitempty"`
	Search  string              `json:"search,omitempty"`
}

// UnmarshalJSON decodes the known NIP-01 fields plus any "#X" tag filter
// keys, which JSON's struct tags can't express directly.
func (f *Filter) UnmarshalJSON(data []byte) error {
	type alias Filter
	aux := &struct{ *alias }{alias: (*alias)(f)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for key, value := range raw {
		if len(key) < 2 || key[0] != '#' {
			continue
		}
		tagName := key[1:]
		var values []string
		if err := json.Unmarshal(value, &values); err != nil {
			return fmt.Errorf("invalid tag filter for %s: %w", key, err)
		}
		if f.Tags == nil {
			f.Tags = make(map[string][]string)
		}
		f.Tags[tagName] = values
	}
	return nil
}

// IsTriviallyUnsatisfiable reports whether the filter can never match any
// event: an array-typed field present but empty, or since > until.
func (f *Filter) IsTriviallyUnsatisfiable() bool {
	if f.IDs != nil && len(f.IDs) == 0 {
		return true
	}
	if f.Authors != nil && len(f.Authors) == 0 {
		return true
	}
	if f.Kinds != nil && len(f.Kinds) == 0 {
		return true
	}
	for _, values := range f.Tags {
		if len(values) == 0 {
			return true
		}
	}
	if f.Since != nil && f.Until != nil && *f.Since > *f.Until {
		return true
	}
	return false
}

// EffectiveLimit returns min(Limit ?? DefaultLimit, MaxLimit).
func (f *Filter) EffectiveLimit() int {
	limit := DefaultLimit
	if f.Limit != nil {
		limit = *f.Limit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return limit
}

// HasAuthors, HasKinds, and HasIDs report whether the authors, kinds, or
// ids field is set and non-empty, for index-selection purposes.
func (f *Filter) HasAuthors() bool { return len(f.Authors) > 0 }
func (f *Filter) HasKinds() bool   { return len(f.Kinds) > 0 }
func (f *Filter) HasIDs() bool     { return len(f.IDs) > 0 }

// TagValues returns the accepted values for tag name, and whether that tag
// filter is present at all.
func (f *Filter) TagValues(name string) ([]string, bool) {
	values, ok := f.Tags[name]
	return values, ok
}

// Match reports whether ev satisfies every constraint in the filter.
func (f *Filter) Match(ev *Event) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, ev.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, ev.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, ev.Kind) {
		return false
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	for tagName, values := range f.Tags {
		if !eventHasAnyTag(ev, tagName, values) {
			return false
		}
	}
	// search semantics are unspecified by the protocol (spec.md §9 open
	// question); this core treats it as a no-op once every other
	// constraint has passed.
	return true
}

func eventHasAnyTag(ev *Event, name string, values []string) bool {
	for _, v := range values {
		if ev.hasTag(name, v) {
			return true
		}
	}
	return false
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
