// Package replay folds an entity's ordered operation history into a
// materialized snapshot: the deterministic CRDT merge at the heart of the
// system.
package replay

import (
	"sort"

	"github.com/forgeline/core/pkg/clock"
	"github.com/forgeline/core/pkg/event"
	"github.com/forgeline/core/pkg/ident"
	"github.com/forgeline/core/pkg/log"
)

// Comment is a materialized comment attached to an entity.
type Comment struct {
	CommentId ident.OperationId
	Author    string
	BodyMD    string
	CreatedAt clock.LamportTimestamp
	EditedAt  *clock.LamportTimestamp
}

// LabelEvent records one observed label add/remove, for callers that want
// the raw timeline rather than just the converged set (mirrors the
// materialized entity's label_events field).
type LabelEvent struct {
	Added     bool
	Label     string
	Author    string
	Timestamp clock.LamportTimestamp
}

// Relation is one (kind, target) pair observed in the log.
type Relation struct {
	Kind   string
	Target ident.EntityId
}

// Snapshot is the deterministic fold of an entity's operation history: the
// materialized issue, milestone, or task.
type Snapshot struct {
	Id                ident.EntityId
	Title             string
	Description       string
	HasDescription    bool
	State             string
	StateKind         string
	Labels            []string
	Assignees         []string
	Comments          []Comment
	InitialCommentId  *ident.OperationId
	Parents           []ident.EntityId
	Children          []ident.EntityId
	LabelEvents       []LabelEvent
	Relations         []Relation
	CreatedAt         clock.LamportTimestamp
	UpdatedAt         clock.LamportTimestamp
	ClockSnapshot     clock.LamportTimestamp

	// Warnings accumulates non-fatal replay anomalies, such as a
	// CommentUpdated whose target comment never appeared.
	Warnings []string
}

// orSet implements observed-remove set semantics over string members: Add
// tags a member with the adding operation's id; Remove clears every tag
// observed so far for that member. Because replay always processes
// operations in the same total order, two replicas that saw the same set of
// operations converge on the same set contents regardless of local arrival
// order (T7).
type orSet struct {
	tags  map[string]map[string]struct{}
	order []string
}

func newOrSet() *orSet {
	return &orSet{tags: make(map[string]map[string]struct{})}
}

func (s *orSet) add(member string, tag string) {
	if _, ok := s.tags[member]; !ok {
		s.tags[member] = make(map[string]struct{})
		s.order = append(s.order, member)
	}
	s.tags[member][tag] = struct{}{}
}

func (s *orSet) remove(member string) {
	if set, ok := s.tags[member]; ok {
		for tag := range set {
			delete(set, tag)
		}
	}
}

// members returns currently present members in first-add order, so the
// result behaves like the materialized entity's "ordered set" fields.
func (s *orSet) members() []string {
	var out []string
	for _, member := range s.order {
		if set, ok := s.tags[member]; ok && len(set) > 0 {
			out = append(out, member)
		}
	}
	return out
}

// BlobResolver fetches a previously persisted blob's bytes by digest, for
// decoding an operation's payload during replay.
type BlobResolver func(digest ident.BlobRef) ([]byte, error)

// Replay sorts ops by (counter, replica, operation_id) and folds them into a
// snapshot. clockSnapshot is the entity log's separately stored snapshot
// (which may exceed the highest operation counter if a merge advanced it
// without a corresponding tick on this replica). resolve is used to fetch
// each operation's payload bytes from its content-addressed digest; a
// payload that fails to resolve or decode is recorded as a warning and
// skipped rather than aborting the whole replay, so one corrupt operation
// cannot make an entity unreadable.
func Replay(id ident.EntityId, ops []event.Operation, clockSnapshot clock.LamportTimestamp, resolve BlobResolver) (*Snapshot, error) {
	sorted := make([]event.Operation, len(ops))
	copy(sorted, ops)
	sort.Slice(sorted, func(i, j int) bool {
		return compareOps(sorted[i], sorted[j]) < 0
	})

	snap := &Snapshot{Id: id, ClockSnapshot: clockSnapshot}
	if len(sorted) > 0 {
		snap.CreatedAt = sorted[0].Id.Timestamp
		snap.UpdatedAt = sorted[len(sorted)-1].Id.Timestamp
	}

	labels := newOrSet()
	assignees := newOrSet()
	children := newOrSet()
	relations := newOrSet()

	commentIndex := make(map[string]int)
	pendingUpdates := make(map[string]pendingUpdate)

	for _, op := range sorted {
		data, err := resolve(op.Payload)
		if err != nil {
			snap.Warnings = append(snap.Warnings, "could not resolve payload for operation "+op.Id.String()+": "+err.Error())
			continue
		}
		payload, err := event.DecodePayload(data)
		if err != nil {
			snap.Warnings = append(snap.Warnings, "could not decode payload for operation "+op.Id.String()+": "+err.Error())
			continue
		}

		switch payload.Kind {
		case event.KindCreated:
			snap.Title = payload.Title
			if payload.Description != nil {
				snap.Description = *payload.Description
				snap.HasDescription = true
			}
			snap.State = payload.State
			snap.StateKind = payload.StateKind
			for _, l := range payload.Labels {
				labels.add(l, op.Id.String())
			}
			for _, a := range payload.Assignees {
				assignees.add(a, op.Id.String())
			}
			if payload.InitialComment != nil {
				applyCommentAdd(snap, commentIndex, pendingUpdates, payload.InitialComment.CommentId, op.Metadata.Author, payload.InitialComment.BodyMD, op.Id.Timestamp)
				cid := payload.InitialComment.CommentId
				snap.InitialCommentId = &cid
			}

		case event.KindTitleSet:
			snap.Title = payload.Title

		case event.KindStateSet:
			snap.State = payload.State
			snap.StateKind = payload.StateKind

		case event.KindStateCleared:
			snap.State = ""
			snap.StateKind = ""

		case event.KindDescriptionSet:
			if payload.Description != nil {
				snap.Description = *payload.Description
				snap.HasDescription = true
			} else {
				snap.Description = ""
				snap.HasDescription = false
			}

		case event.KindLabelsAdded:
			for _, l := range payload.Labels {
				labels.add(l, op.Id.String())
				snap.LabelEvents = append(snap.LabelEvents, LabelEvent{Added: true, Label: l, Author: op.Metadata.Author, Timestamp: op.Id.Timestamp})
			}

		case event.KindLabelsRemoved:
			for _, l := range payload.Labels {
				labels.remove(l)
				snap.LabelEvents = append(snap.LabelEvents, LabelEvent{Added: false, Label: l, Author: op.Metadata.Author, Timestamp: op.Id.Timestamp})
			}

		case event.KindAssigneesAdded:
			for _, a := range payload.Assignees {
				assignees.add(a, op.Id.String())
			}

		case event.KindAssigneesRemoved:
			for _, a := range payload.Assignees {
				assignees.remove(a)
			}

		case event.KindCommentAdded:
			applyCommentAdd(snap, commentIndex, pendingUpdates, payload.CommentId, op.Metadata.Author, payload.BodyMD, op.Id.Timestamp)

		case event.KindCommentUpdated:
			applyCommentUpdate(snap, commentIndex, pendingUpdates, payload.CommentId, payload.BodyMD, op.Id.Timestamp)

		case event.KindChildLinked:
			children.add(pairKey(payload.Parent, payload.Child), op.Id.String())

		case event.KindChildUnlinked:
			children.remove(pairKey(payload.Parent, payload.Child))

		case event.KindRelationAdded:
			relations.add(relationKey(payload.RelationKind, payload.Target), op.Id.String())

		case event.KindRelationRemoved:
			relations.remove(relationKey(payload.RelationKind, payload.Target))

		case event.KindUnknown:
			// Forward-compatibility escape hatch: parses, round-trips, never
			// mutates the snapshot.
		}
	}

	dropped := make([]string, 0, len(pendingUpdates))
	for commentId := range pendingUpdates {
		dropped = append(dropped, commentId)
	}
	sort.Strings(dropped)
	for _, commentId := range dropped {
		log.WithComponent("replay").Warn().Str("comment_id", commentId).Msg("comment update referenced a comment that never appeared")
		snap.Warnings = append(snap.Warnings, "dropped update for missing comment "+commentId)
	}

	snap.Labels = labels.members()
	snap.Assignees = assignees.members()

	for _, key := range children.members() {
		parent, child := unpairKey(key)
		if child.Equal(id) {
			snap.Parents = append(snap.Parents, parent)
		} else {
			snap.Children = append(snap.Children, child)
		}
	}
	for _, key := range relations.members() {
		kind, target := unrelationKey(key)
		snap.Relations = append(snap.Relations, Relation{Kind: kind, Target: target})
	}

	return snap, nil
}

type pendingUpdate struct {
	BodyMD string
	Ts     clock.LamportTimestamp
}

func applyCommentAdd(snap *Snapshot, index map[string]int, pending map[string]pendingUpdate, commentId ident.OperationId, author, body string, ts clock.LamportTimestamp) {
	key := commentId.String()
	snap.Comments = append(snap.Comments, Comment{CommentId: commentId, Author: author, BodyMD: body, CreatedAt: ts})
	index[key] = len(snap.Comments) - 1

	if upd, buffered := pending[key]; buffered {
		idx := index[key]
		snap.Comments[idx].BodyMD = upd.BodyMD
		editedAt := upd.Ts
		snap.Comments[idx].EditedAt = &editedAt
		delete(pending, key)
	}
}

func applyCommentUpdate(snap *Snapshot, index map[string]int, pending map[string]pendingUpdate, commentId ident.OperationId, body string, ts clock.LamportTimestamp) {
	key := commentId.String()
	if idx, ok := index[key]; ok {
		snap.Comments[idx].BodyMD = body
		editedAt := ts
		snap.Comments[idx].EditedAt = &editedAt
		return
	}
	pending[key] = pendingUpdate{BodyMD: body, Ts: ts}
}

func pairKey(parent, child ident.EntityId) string {
	return parent.String() + "->" + child.String()
}

func unpairKey(key string) (ident.EntityId, ident.EntityId) {
	for i := 0; i+2 <= len(key); i++ {
		if key[i:i+2] == "->" {
			parent, _ := ident.ParseEntityId(key[:i])
			child, _ := ident.ParseEntityId(key[i+2:])
			return parent, child
		}
	}
	return ident.EntityId{}, ident.EntityId{}
}

func relationKey(kind string, target ident.EntityId) string {
	return kind + "::" + target.String()
}

func unrelationKey(key string) (string, ident.EntityId) {
	for i := 0; i+2 <= len(key); i++ {
		if key[i:i+2] == "::" {
			target, _ := ident.ParseEntityId(key[i+2:])
			return key[:i], target
		}
	}
	return "", ident.EntityId{}
}

// compareOps implements the total order/tie-break rule: counter, then
// replica, then (for the practically impossible case of an equal
// timestamp) the raw operation id bytes.
func compareOps(a, b event.Operation) int {
	if c := a.Id.Compare(b.Id); c != 0 {
		return c
	}
	if a.Id.String() == b.Id.String() {
		return 0
	}
	if a.Id.String() < b.Id.String() {
		return -1
	}
	return 1
}
