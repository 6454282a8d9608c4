// Package filter implements the query surface used to list entities: a
// composable, AND-combined set of predicates over a materialized snapshot,
// including the case-insensitive substring search grounded on the reference
// system's text matcher.
package filter

import (
	"strings"

	"github.com/forgeline/core/pkg/clock"
	"github.com/forgeline/core/pkg/ident"
	"github.com/forgeline/core/pkg/replay"
)

// TextMatcher performs a case-insensitive substring search across an
// entity's title, description, state, labels, and assignees.
type TextMatcher struct {
	needle string
}

// NewTextMatcher normalizes query into a matcher. It returns (zero, false)
// for a blank query, mirroring the reference matcher's refusal to construct
// one for an empty search term.
func NewTextMatcher(query string) (TextMatcher, bool) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return TextMatcher{}, false
	}
	return TextMatcher{needle: strings.ToLower(trimmed)}, true
}

func (m TextMatcher) matchesField(value string) bool {
	return strings.Contains(strings.ToLower(value), m.needle)
}

// Matches reports whether any textual field of snap contains the query.
func (m TextMatcher) Matches(snap *replay.Snapshot) bool {
	if m.matchesField(snap.Title) || m.matchesField(snap.Description) || m.matchesField(snap.State) {
		return true
	}
	for _, l := range snap.Labels {
		if m.matchesField(l) {
			return true
		}
	}
	for _, a := range snap.Assignees {
		if m.matchesField(a) {
			return true
		}
	}
	return false
}

// TimeRange bounds a timestamp comparison; a nil bound is unconstrained on
// that side.
type TimeRange struct {
	After  *clock.LamportTimestamp
	Before *clock.LamportTimestamp
}

// contains reports whether ts falls within [After, Before], an inclusive
// range on both ends.
func (r TimeRange) contains(ts clock.LamportTimestamp) bool {
	if r.After != nil && ts.Less(*r.After) {
		return false
	}
	if r.Before != nil && r.Before.Less(ts) {
		return false
	}
	return true
}

// Query is the full set of filter criteria, AND-combined. An empty Query
// (all fields left at their zero value) matches every entity.
type Query struct {
	Status            string
	LabelsAll         []string
	AssigneesAny      []string
	Parents           []ident.EntityId
	Children          []ident.EntityId
	StateKindsInclude []string
	StateKindsExclude []string
	Text              string
	UpdatedRange      *TimeRange
}

// Compiled holds the normalized, precomputed form of a Query so Matches can
// run cheaply across many snapshots.
type Compiled struct {
	q       Query
	text    TextMatcher
	hasText bool
}

// Compile prepares q for repeated matching.
func Compile(q Query) Compiled {
	c := Compiled{q: q}
	if m, ok := NewTextMatcher(q.Text); ok {
		c.text = m
		c.hasText = true
	}
	return c
}

// Matches reports whether snap satisfies every configured predicate.
func (c Compiled) Matches(snap *replay.Snapshot) bool {
	q := c.q

	if q.Status != "" && snap.State != q.Status {
		return false
	}

	for _, want := range q.LabelsAll {
		if !containsString(snap.Labels, want) {
			return false
		}
	}

	if len(q.AssigneesAny) > 0 {
		found := false
		for _, want := range q.AssigneesAny {
			if containsString(snap.Assignees, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, want := range q.Parents {
		if !containsEntityId(snap.Parents, want) {
			return false
		}
	}
	for _, want := range q.Children {
		if !containsEntityId(snap.Children, want) {
			return false
		}
	}

	if len(q.StateKindsInclude) > 0 && !containsString(q.StateKindsInclude, snap.StateKind) {
		return false
	}
	if len(q.StateKindsExclude) > 0 && containsString(q.StateKindsExclude, snap.StateKind) {
		return false
	}

	if c.hasText && !c.text.Matches(snap) {
		return false
	}

	if q.UpdatedRange != nil && !q.UpdatedRange.contains(snap.UpdatedAt) {
		return false
	}

	return true
}

// Apply filters snapshots down to those matching q, preserving input order.
func Apply(snapshots []*replay.Snapshot, q Query) []*replay.Snapshot {
	c := Compile(q)
	out := make([]*replay.Snapshot, 0, len(snapshots))
	for _, snap := range snapshots {
		if c.Matches(snap) {
			out = append(out, snap)
		}
	}
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func containsEntityId(haystack []ident.EntityId, needle ident.EntityId) bool {
	for _, v := range haystack {
		if v.Equal(needle) {
			return true
		}
	}
	return false
}
