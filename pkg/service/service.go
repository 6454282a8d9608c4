// Package service is the thin composition layer the external CLI and MCP
// layers are built on: it wires together the clock, the event/pack model,
// the entity log, replay, the cache, and the repository lock into the
// handful of high-level operations those layers actually call (create,
// append_comment, update_labels, change_status, get_with_comments,
// list_entities, resolve_conflicts), consulting workflow configuration for
// every issue and milestone state transition.
package service

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/forgeline/core/pkg/actor"
	"github.com/forgeline/core/pkg/cache"
	"github.com/forgeline/core/pkg/clock"
	"github.com/forgeline/core/pkg/config"
	"github.com/forgeline/core/pkg/coreerr"
	"github.com/forgeline/core/pkg/entitylog"
	"github.com/forgeline/core/pkg/event"
	"github.com/forgeline/core/pkg/filter"
	"github.com/forgeline/core/pkg/ident"
	"github.com/forgeline/core/pkg/notify"
	"github.com/forgeline/core/pkg/pack"
	"github.com/forgeline/core/pkg/repolock"
	"github.com/forgeline/core/pkg/replay"
	"github.com/forgeline/core/pkg/store"
)

// Kind names one of the three entity kinds the facade manages. Each kind
// gets its own per-entity reference namespace, cache namespace, and entity
// log, but shares the same event model and replay logic.
type Kind string

const (
	Issues     Kind = "issues"
	Milestones Kind = "milestones"
	Tasks      Kind = "tasks"
)

func (k Kind) valid() bool {
	switch k {
	case Issues, Milestones, Tasks:
		return true
	default:
		return false
	}
}

// Service is a handle to one repository's worth of entity logs. It owns the
// per-replica clock, so it must not be shared across replicas (each replica,
// i.e. each process x repository pairing, constructs its own Service).
type Service struct {
	Config *config.Config
	Clock  *clock.Clock
	Store  store.Store
	Lock   *repolock.RepositoryLock
	Cache  *cache.Cache
	Notify *notify.Broker

	mu   sync.Mutex
	logs map[Kind]*entitylog.Log
}

// New builds a Service bound to replica over the given store, lock, and
// cache. notifier and c may be nil if hook integration or caching are not
// wired up.
func New(cfg *config.Config, replica clock.ReplicaId, st store.Store, lock *repolock.RepositoryLock, c *cache.Cache, notifier *notify.Broker) *Service {
	return &Service{
		Config: cfg,
		Clock:  clock.New(replica),
		Store:  st,
		Lock:   lock,
		Cache:  c,
		Notify: notifier,
		logs:   make(map[Kind]*entitylog.Log),
	}
}

func (s *Service) logFor(kind Kind) (*entitylog.Log, error) {
	if !kind.valid() {
		return nil, coreerr.Validation("unknown entity kind %q", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[kind]; ok {
		return l, nil
	}
	l := entitylog.New(string(kind), s.Store, s.Lock, s.Cache, s.Notify)
	s.logs[kind] = l
	return l, nil
}

// Actor identifies the caller attributed to a write. Name/Email may be left
// blank, in which case Resolve falls back to the environment and configured
// default per §6's priority chain.
type Actor struct {
	Name  string
	Email string
}

func (a Actor) resolve(cfg *config.Config) actor.Actor {
	return actor.Resolve(a.Name, a.Email, cfg)
}

// CreateInput parameterizes Create.
type CreateInput struct {
	Kind           Kind
	Title          string
	Description    *string
	Labels         []string
	Assignees      []string
	State          string // empty means the configured default state
	InitialComment *string
	Actor          Actor
}

// Create assembles and admits the first pack in an entity's history: a
// single Created operation. The returned snapshot reflects the new entity
// immediately, without a cache round trip.
func (s *Service) Create(in CreateInput) (*replay.Snapshot, error) {
	l, err := s.logFor(in.Kind)
	if err != nil {
		return nil, err
	}

	state := in.State
	if state == "" {
		state = s.Config.Workflow.DefaultState
	}
	if in.Kind != Tasks && state != "" && !s.Config.AllowedState(state) {
		return nil, coreerr.Validation("state %q is not a configured workflow state", state)
	}
	stateKind, _ := s.Config.StateKindOf(state)

	payload := event.Payload{
		Kind:        event.KindCreated,
		Title:       in.Title,
		Description: in.Description,
		Labels:      dedupe(in.Labels),
		Assignees:   dedupe(in.Assignees),
		State:       state,
		StateKind:   string(stateKind),
	}
	if in.InitialComment != nil {
		payload.InitialComment = &event.CommentSeed{
			CommentId: ident.NewOperationId(s.Clock.Snapshot()), // placeholder, replaced below
			BodyMD:    *in.InitialComment,
		}
	}

	ts, err := s.Clock.Tick()
	if err != nil {
		return nil, err
	}
	opId := ident.NewOperationId(ts)
	if payload.InitialComment != nil {
		payload.InitialComment.CommentId = opId
	}

	entityId := ident.NewEntityId()
	who := in.Actor.resolve(s.Config)

	return s.admitSingle(l, entityId, opId, nil, payload, who, "")
}

// AppendComment adds a new comment to entityId, parented on its current
// heads.
func (s *Service) AppendComment(kind Kind, entityId ident.EntityId, commentId ident.OperationId, bodyMD string, a Actor) (*replay.Snapshot, error) {
	l, err := s.logFor(kind)
	if err != nil {
		return nil, err
	}
	heads, err := l.Heads(entityId)
	if err != nil {
		return nil, err
	}
	ts, err := s.Clock.Tick()
	if err != nil {
		return nil, err
	}
	opId := ident.NewOperationId(ts)
	if commentId == (ident.OperationId{}) {
		commentId = opId
	}
	payload := event.Payload{Kind: event.KindCommentAdded, CommentId: commentId, BodyMD: bodyMD}
	return s.admitSingle(l, entityId, opId, heads, payload, a.resolve(s.Config), "")
}

// UpdateComment replaces the body of a previously added comment. If
// commentId never appeared by the time the pack is admitted, replay buffers
// and then drops the update, surfacing a warning on the resulting snapshot
// rather than failing the write (§4.4).
func (s *Service) UpdateComment(kind Kind, entityId ident.EntityId, commentId ident.OperationId, bodyMD string, a Actor) (*replay.Snapshot, error) {
	l, err := s.logFor(kind)
	if err != nil {
		return nil, err
	}
	heads, err := l.Heads(entityId)
	if err != nil {
		return nil, err
	}
	ts, err := s.Clock.Tick()
	if err != nil {
		return nil, err
	}
	payload := event.Payload{Kind: event.KindCommentUpdated, CommentId: commentId, BodyMD: bodyMD}
	return s.admitSingle(l, entityId, ident.NewOperationId(ts), heads, payload, a.resolve(s.Config), "")
}

// UpdateLabels bundles an add and/or remove of labels into a single pack.
// Either slice may be empty.
func (s *Service) UpdateLabels(kind Kind, entityId ident.EntityId, add, remove []string, a Actor) (*replay.Snapshot, error) {
	return s.updateSet(kind, entityId, event.KindLabelsAdded, event.KindLabelsRemoved, add, remove, a)
}

// UpdateAssignees bundles an add and/or remove of assignees into a single
// pack.
func (s *Service) UpdateAssignees(kind Kind, entityId ident.EntityId, add, remove []string, a Actor) (*replay.Snapshot, error) {
	return s.updateSet(kind, entityId, event.KindAssigneesAdded, event.KindAssigneesRemoved, add, remove, a)
}

func (s *Service) updateSet(kind Kind, entityId ident.EntityId, addKind, removeKind event.Kind, add, remove []string, a Actor) (*replay.Snapshot, error) {
	l, err := s.logFor(kind)
	if err != nil {
		return nil, err
	}
	if len(add) == 0 && len(remove) == 0 {
		return l.Materialize(entityId)
	}
	heads, err := l.Heads(entityId)
	if err != nil {
		return nil, err
	}
	who := a.resolve(s.Config)

	var ops []event.Operation
	var blobs []event.Blob
	parents := heads

	appendOp := func(k event.Kind, members []string) error {
		if len(members) == 0 {
			return nil
		}
		ts, err := s.Clock.Tick()
		if err != nil {
			return err
		}
		var payload event.Payload
		if k == event.KindLabelsAdded || k == event.KindLabelsRemoved {
			payload = event.Payload{Kind: k, Labels: dedupe(members)}
		} else {
			payload = event.Payload{Kind: k, Assignees: dedupe(members)}
		}
		data, err := event.EncodePayload(payload)
		if err != nil {
			return err
		}
		blob := event.NewBlob(data)
		op := event.Operation{
			Id:       ident.NewOperationId(ts),
			Parents:  parents,
			Payload:  blob.Digest,
			Metadata: event.Metadata{Author: formatAuthor(who)},
		}
		ops = append(ops, op)
		blobs = append(blobs, blob)
		parents = []ident.OperationId{op.Id}
		return nil
	}

	if err := appendOp(addKind, add); err != nil {
		return nil, err
	}
	if err := appendOp(removeKind, remove); err != nil {
		return nil, err
	}

	p, err := pack.New(entityId, s.Clock.Snapshot(), ops, blobs)
	if err != nil {
		return nil, err
	}
	if err := l.Append(p); err != nil {
		return nil, err
	}
	return l.Materialize(entityId)
}

// ChangeStatus sets or clears the entity's status. An empty newState clears
// it (StateCleared); otherwise, for issues and milestones, newState must be
// an allowed workflow state. Tasks accept any state value.
func (s *Service) ChangeStatus(kind Kind, entityId ident.EntityId, newState string, a Actor) (*replay.Snapshot, error) {
	l, err := s.logFor(kind)
	if err != nil {
		return nil, err
	}
	heads, err := l.Heads(entityId)
	if err != nil {
		return nil, err
	}
	ts, err := s.Clock.Tick()
	if err != nil {
		return nil, err
	}

	var payload event.Payload
	if newState == "" {
		payload = event.Payload{Kind: event.KindStateCleared}
	} else {
		if kind != Tasks && !s.Config.AllowedState(newState) {
			return nil, coreerr.Validation("state %q is not a configured workflow state", newState)
		}
		stateKind, _ := s.Config.StateKindOf(newState)
		payload = event.Payload{Kind: event.KindStateSet, State: newState, StateKind: string(stateKind)}
	}
	return s.admitSingle(l, entityId, ident.NewOperationId(ts), heads, payload, a.resolve(s.Config), "")
}

// SetTitle overwrites the entity's title.
func (s *Service) SetTitle(kind Kind, entityId ident.EntityId, title string, a Actor) (*replay.Snapshot, error) {
	l, err := s.logFor(kind)
	if err != nil {
		return nil, err
	}
	heads, err := l.Heads(entityId)
	if err != nil {
		return nil, err
	}
	ts, err := s.Clock.Tick()
	if err != nil {
		return nil, err
	}
	payload := event.Payload{Kind: event.KindTitleSet, Title: title}
	return s.admitSingle(l, entityId, ident.NewOperationId(ts), heads, payload, a.resolve(s.Config), "")
}

// SetDescription overwrites or clears (nil) the entity's description.
func (s *Service) SetDescription(kind Kind, entityId ident.EntityId, description *string, a Actor) (*replay.Snapshot, error) {
	l, err := s.logFor(kind)
	if err != nil {
		return nil, err
	}
	heads, err := l.Heads(entityId)
	if err != nil {
		return nil, err
	}
	ts, err := s.Clock.Tick()
	if err != nil {
		return nil, err
	}
	payload := event.Payload{Kind: event.KindDescriptionSet, Description: description}
	return s.admitSingle(l, entityId, ident.NewOperationId(ts), heads, payload, a.resolve(s.Config), "")
}

// LinkChild records child as a child of entityId.
func (s *Service) LinkChild(kind Kind, entityId, child ident.EntityId, a Actor) (*replay.Snapshot, error) {
	l, err := s.logFor(kind)
	if err != nil {
		return nil, err
	}
	heads, err := l.Heads(entityId)
	if err != nil {
		return nil, err
	}
	ts, err := s.Clock.Tick()
	if err != nil {
		return nil, err
	}
	payload := event.Payload{Kind: event.KindChildLinked, Parent: entityId, Child: child}
	return s.admitSingle(l, entityId, ident.NewOperationId(ts), heads, payload, a.resolve(s.Config), "")
}

// UnlinkChild removes a previously recorded parent/child relation.
func (s *Service) UnlinkChild(kind Kind, entityId, child ident.EntityId, a Actor) (*replay.Snapshot, error) {
	l, err := s.logFor(kind)
	if err != nil {
		return nil, err
	}
	heads, err := l.Heads(entityId)
	if err != nil {
		return nil, err
	}
	ts, err := s.Clock.Tick()
	if err != nil {
		return nil, err
	}
	payload := event.Payload{Kind: event.KindChildUnlinked, Parent: entityId, Child: child}
	return s.admitSingle(l, entityId, ident.NewOperationId(ts), heads, payload, a.resolve(s.Config), "")
}

// AddRelation records an auxiliary (kind, target) relation on entityId.
func (s *Service) AddRelation(kind Kind, entityId ident.EntityId, relationKind string, target ident.EntityId, a Actor) (*replay.Snapshot, error) {
	l, err := s.logFor(kind)
	if err != nil {
		return nil, err
	}
	heads, err := l.Heads(entityId)
	if err != nil {
		return nil, err
	}
	ts, err := s.Clock.Tick()
	if err != nil {
		return nil, err
	}
	payload := event.Payload{Kind: event.KindRelationAdded, RelationKind: relationKind, Target: target}
	return s.admitSingle(l, entityId, ident.NewOperationId(ts), heads, payload, a.resolve(s.Config), "")
}

// RemoveRelation removes a previously recorded (kind, target) relation.
func (s *Service) RemoveRelation(kind Kind, entityId ident.EntityId, relationKind string, target ident.EntityId, a Actor) (*replay.Snapshot, error) {
	l, err := s.logFor(kind)
	if err != nil {
		return nil, err
	}
	heads, err := l.Heads(entityId)
	if err != nil {
		return nil, err
	}
	ts, err := s.Clock.Tick()
	if err != nil {
		return nil, err
	}
	payload := event.Payload{Kind: event.KindRelationRemoved, RelationKind: relationKind, Target: target}
	return s.admitSingle(l, entityId, ident.NewOperationId(ts), heads, payload, a.resolve(s.Config), "")
}

// admitSingle builds, validates, and appends a one-operation pack, then
// returns the freshly materialized snapshot.
func (s *Service) admitSingle(l *entitylog.Log, entityId ident.EntityId, opId ident.OperationId, parents []ident.OperationId, payload event.Payload, who actor.Actor, message string) (*replay.Snapshot, error) {
	data, err := event.EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	blob := event.NewBlob(data)
	op := event.Operation{
		Id:       opId,
		Parents:  parents,
		Payload:  blob.Digest,
		Metadata: event.Metadata{Author: formatAuthor(who), Message: message},
	}
	p, err := pack.New(entityId, s.Clock.Snapshot(), []event.Operation{op}, []event.Blob{blob})
	if err != nil {
		return nil, err
	}
	if err := l.Append(p); err != nil {
		return nil, err
	}
	return l.Materialize(entityId)
}

// GetWithComments returns entityId's current materialized snapshot, serving
// from cache when possible and falling back to direct log traversal on a
// miss or any cache failure (§7).
func (s *Service) GetWithComments(kind Kind, entityId ident.EntityId) (*replay.Snapshot, error) {
	l, err := s.logFor(kind)
	if err != nil {
		return nil, err
	}
	ns := cache.Namespace(kind)

	if s.Cache != nil {
		if status, data := s.Cache.Get(ns, entityId); status == cache.Hit {
			snap, err := decodeSnapshot(data)
			if err == nil {
				return snap, nil
			}
			// A corrupt cache entry degrades to direct traversal rather than
			// failing the read.
		}
	}

	ops, err := l.Operations(entityId)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, coreerr.NotFound("entity %s not found in %s", entityId, kind)
	}

	snap, err := l.Materialize(entityId)
	if err != nil {
		return nil, err
	}

	if s.Cache != nil {
		if data, err := encodeSnapshot(snap); err == nil {
			_ = s.Cache.Put(ns, entityId, data)
		}
	}
	return snap, nil
}

// ListEntities lists every entity of kind matching query, materializing each
// one (served from cache where possible).
func (s *Service) ListEntities(kind Kind, query filter.Query) ([]*replay.Snapshot, error) {
	if !kind.valid() {
		return nil, coreerr.Validation("unknown entity kind %q", kind)
	}
	ids, err := s.Store.ListEntities(string(kind))
	if err != nil {
		return nil, err
	}
	snaps := make([]*replay.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.GetWithComments(kind, id)
		if err != nil {
			if coreerr.Of(err) == coreerr.KindNotFound {
				continue
			}
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return filter.Apply(snaps, query), nil
}

// ResolveConflicts synthesizes a merge operation over entityId's divergent
// heads per entitylog.Resolve.
func (s *Service) ResolveConflicts(kind Kind, entityId ident.EntityId, req entitylog.ResolveRequest) (*replay.Snapshot, error) {
	l, err := s.logFor(kind)
	if err != nil {
		return nil, err
	}
	if err := l.Resolve(entityId, s.Clock, req); err != nil {
		return nil, err
	}
	return l.Materialize(entityId)
}

func encodeSnapshot(snap *replay.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, coreerr.Serialization(err, "encoding cached snapshot")
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*replay.Snapshot, error) {
	var snap replay.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, coreerr.Serialization(err, "decoding cached snapshot")
	}
	return &snap, nil
}

func formatAuthor(a actor.Actor) string {
	if a.Email == "" {
		return a.Name
	}
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

func dedupe(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}
