// Package nip50 implements NIP-50 search: extension syntax parsing
// (terms, exclusions, key:value extensions) layered on top of the
// ordinary event.Filter match, and the repo.Query variant that applies it.
package nip50

import (
	"context"
	"fmt"
	"strings"

	"github.com/strtr/relay/pkg/event"
	"github.com/strtr/relay/pkg/storage"
)

// HasSearchTerm reports whether any of filters carries a non-empty search
// field, the signal pkg/relay.Relay.HandleReq uses to route a REQ through
// SearchEvents instead of repo.Query directly.
func HasSearchTerm(filters []*event.Filter) bool {
	for _, f := range filters {
		if f.Search != "" {
			return true
		}
	}
	return false
}

// SearchQuery is a parsed NIP-50 search string: required terms (AND),
// excluded terms (NOT), and key:value extensions.
type SearchQuery struct {
	Terms      []string
	Exclusions []string
	Extensions map[string]string
}

// ParseSearchQuery splits query on whitespace and classifies each word as
// an extension (key:value), an exclusion (-word), or a plain term.
func ParseSearchQuery(query string) *SearchQuery {
	sq := &SearchQuery{Extensions: make(map[string]string)}
	if query == "" {
		return sq
	}

	for _, word := range strings.Fields(query) {
		if !strings.HasPrefix(word, "-") {
			if k, v, ok := strings.Cut(word, ":"); ok && k != "" && v != "" {
				sq.Extensions[k] = v
				continue
			}
		}
		if exclusion, ok := strings.CutPrefix(word, "-"); ok {
			if exclusion != "" {
				sq.Exclusions = append(sq.Exclusions, exclusion)
			}
			continue
		}
		sq.Terms = append(sq.Terms, word)
	}

	return sq
}

// SearchFilter pairs an event.Filter with the parsed query from its Search
// field, if any.
type SearchFilter struct {
	*event.Filter
	Query *SearchQuery
}

// NewSearchFilter wraps filter, parsing its Search field when present.
func NewSearchFilter(filter *event.Filter) *SearchFilter {
	sf := &SearchFilter{Filter: filter}
	if filter.Search != "" {
		sf.Query = ParseSearchQuery(filter.Search)
	}
	return sf
}

// Matches reports whether evt satisfies both the base filter and the
// parsed search query, if one is set.
func (sf *SearchFilter) Matches(evt *event.Event) bool {
	if !sf.Filter.Match(evt) {
		return false
	}
	if sf.Query == nil {
		return true
	}

	for _, term := range sf.Query.Terms {
		if !eventContainsTerm(evt, term) {
			return false
		}
	}
	for _, exclusion := range sf.Query.Exclusions {
		if eventContainsTerm(evt, exclusion) {
			return false
		}
	}
	for key, value := range sf.Query.Extensions {
		if !eventMatchesExtension(evt, key, value) {
			return false
		}
	}
	return true
}

// eventContainsTerm reports whether term occurs, case-insensitively, in
// evt's content or any tag value.
func eventContainsTerm(evt *event.Event, term string) bool {
	term = strings.ToLower(term)
	if strings.Contains(strings.ToLower(evt.Content), term) {
		return true
	}
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && strings.Contains(strings.ToLower(tag[1]), term) {
			return true
		}
	}
	return false
}

// eventMatchesExtension evaluates one key:value search extension against
// evt. Unknown extensions are ignored (match), per NIP-50.
func eventMatchesExtension(evt *event.Event, key, value string) bool {
	value = strings.ToLower(value)

	switch strings.ToLower(key) {
	case "domain":
		for _, nip05 := range evt.GetTagValues("nip05") {
			if strings.HasSuffix(strings.ToLower(nip05), "@"+value) {
				return true
			}
		}
		return false

	case "language":
		for _, lang := range evt.GetTagValues("language") {
			if strings.EqualFold(lang, value) {
				return true
			}
		}
		return false

	case "nsfw":
		isNSFW := len(evt.GetTagValues("content-warning")) > 0
		switch value {
		case "true":
			return isNSFW
		case "false":
			return !isNSFW
		default:
			return true
		}

	default:
		return true
	}
}

// SearchEvents queries repo with filters, then narrows the results to
// those matching at least one filter's parsed search query.
func SearchEvents(ctx context.Context, repo storage.Repository, filters []*event.Filter) ([]*event.Event, error) {
	searchFilters := make([]*SearchFilter, len(filters))
	for i, filter := range filters {
		searchFilters[i] = NewSearchFilter(filter)
	}

	events, err := repo.Query(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	var matched []*event.Event
	for _, evt := range events {
		for _, sf := range searchFilters {
			if sf.Matches(evt) {
				matched = append(matched, evt)
				break
			}
		}
	}

	return matched, nil
}
