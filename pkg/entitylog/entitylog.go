// Package entitylog implements the per-entity append-only history: admitting
// validated packs, tracking heads, and resolving concurrent heads left by
// divergent replicas.
package entitylog

import (
	"sort"

	"github.com/forgeline/core/pkg/cache"
	"github.com/forgeline/core/pkg/clock"
	"github.com/forgeline/core/pkg/coreerr"
	"github.com/forgeline/core/pkg/event"
	"github.com/forgeline/core/pkg/ident"
	"github.com/forgeline/core/pkg/log"
	"github.com/forgeline/core/pkg/metrics"
	"github.com/forgeline/core/pkg/notify"
	"github.com/forgeline/core/pkg/pack"
	"github.com/forgeline/core/pkg/repolock"
	"github.com/forgeline/core/pkg/replay"
	"github.com/forgeline/core/pkg/store"
)

// Log is a handle to one entity kind's history within a repository. Every
// write goes through Append, which takes the repository write lock for its
// duration; reads may optionally take a shared lock via the caller.
type Log struct {
	Kind   string
	Store  store.Store
	Lock   *repolock.RepositoryLock
	Cache  *cache.Cache
	Notify *notify.Broker
}

// New builds a Log bound to one entity kind (issues, milestones, tasks).
// notifier may be nil if hook integration is not wired up.
func New(kind string, s store.Store, lock *repolock.RepositoryLock, c *cache.Cache, notifier *notify.Broker) *Log {
	return &Log{Kind: kind, Store: s, Lock: lock, Cache: c, Notify: notifier}
}

// Heads returns the current set of head operation IDs for entityId:
// operations with no recorded descendant.
func (l *Log) Heads(entityId ident.EntityId) ([]ident.OperationId, error) {
	return l.Store.GetHeads(l.Kind, entityId)
}

// Operations returns every operation recorded for entityId, without any
// particular ordering guarantee beyond append order (replay reorders them).
func (l *Log) Operations(entityId ident.EntityId) ([]event.Operation, error) {
	return l.Store.GetOperations(l.Kind, entityId)
}

// ClockSnapshot returns the entity's latest stored clock snapshot.
func (l *Log) ClockSnapshot(entityId ident.EntityId) (clock.LamportTimestamp, bool, error) {
	return l.Store.GetClockSnapshot(l.Kind, entityId)
}

// Materialize replays entityId's full operation history into a snapshot. It
// is a read-only operation and takes no lock: replay is a pure function of
// the operation history, so a concurrent Append cannot corrupt it, only
// leave it one pack behind.
func (l *Log) Materialize(entityId ident.EntityId) (*replay.Snapshot, error) {
	ops, err := l.Store.GetOperations(l.Kind, entityId)
	if err != nil {
		return nil, err
	}
	snapshot, _, err := l.Store.GetClockSnapshot(l.Kind, entityId)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReplayDuration)
	return replay.Replay(entityId, ops, snapshot, l.Store.GetBlob)
}

// Append admits p as a new atomic unit of history, following the ten-step
// sequence the append contract specifies. Failure at any step leaves the log
// unchanged; success always invalidates the cache entry for entityId before
// releasing the lock.
func (l *Log) Append(p *pack.Pack) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AppendDuration)

	guard, err := l.Lock.Acquire(repolock.Write)
	if err != nil {
		return err
	}
	defer guard.Release()

	oldHeads, err := l.Store.GetHeads(l.Kind, p.EntityId)
	if err != nil {
		return err
	}
	oldSnapshot, _, err := l.Store.GetClockSnapshot(l.Kind, p.EntityId)
	if err != nil {
		return err
	}

	if err := l.verifyExternalParents(p, oldHeads); err != nil {
		return err
	}
	if err := p.Validate(func(digest ident.BlobRef) bool {
		has, _ := l.Store.HasBlob(digest)
		return has
	}); err != nil {
		return err
	}

	for _, b := range p.Blobs {
		if err := l.Store.PutBlob(b.Digest, b.Data); err != nil {
			return coreerr.Storage(false, err, "persisting blob %s", b.Digest)
		}
	}

	if err := l.Store.AppendOperations(l.Kind, p.EntityId, p.Operations); err != nil {
		return err
	}

	newHeads := computeHeads(oldHeads, p.Operations)
	if err := l.Store.PutHeads(l.Kind, p.EntityId, newHeads); err != nil {
		return err
	}

	mergedSnapshot := maxTimestamp(oldSnapshot, p.ClockSnapshot)
	if err := l.Store.PutClockSnapshot(l.Kind, p.EntityId, mergedSnapshot); err != nil {
		return err
	}

	if l.Cache != nil {
		l.Cache.Invalidate(cache.Namespace(l.Kind), p.EntityId)
	}

	metrics.PacksAdmittedTotal.WithLabelValues(l.Kind).Inc()
	log.WithComponent("entitylog").Info().Str("entity_id", p.EntityId.String()).Msg("pack admitted")

	if l.Notify != nil {
		author := ""
		if len(p.Operations) > 0 {
			author = p.Operations[0].Metadata.Author
		}
		l.Notify.Publish(&notify.HookEvent{
			Kind:       notify.EntityAppended,
			EntityKind: l.Kind,
			EntityID:   p.EntityId.String(),
			Author:     author,
			OpCount:    len(p.Operations),
		})
	}
	return nil
}

// verifyExternalParents checks that every parent reference in p which is not
// satisfied from within the pack already exists in the log.
func (l *Log) verifyExternalParents(p *pack.Pack, oldHeads []ident.OperationId) error {
	inPack := make(map[string]struct{}, len(p.Operations))
	for _, op := range p.Operations {
		inPack[op.Id.String()] = struct{}{}
	}
	for _, op := range p.Operations {
		for _, parent := range op.Parents {
			if _, internal := inPack[parent.String()]; internal {
				continue
			}
			has, err := l.Store.HasOperation(l.Kind, p.EntityId, parent)
			if err != nil {
				return err
			}
			if !has {
				return coreerr.Validation("operation %s references external parent %s not present in the log", op.Id, parent)
			}
		}
	}
	return nil
}

// computeHeads applies step 7 of the append contract:
// (old_heads ∪ new_op_ids) \ parents_covered_by_new_ops.
func computeHeads(oldHeads []ident.OperationId, newOps []event.Operation) []ident.OperationId {
	covered := make(map[string]struct{})
	candidates := make(map[string]ident.OperationId)

	for _, h := range oldHeads {
		candidates[h.String()] = h
	}
	for _, op := range newOps {
		candidates[op.Id.String()] = op.Id
		for _, parent := range op.Parents {
			covered[parent.String()] = struct{}{}
		}
	}

	result := make([]ident.OperationId, 0, len(candidates))
	for key, id := range candidates {
		if _, isCovered := covered[key]; isCovered {
			continue
		}
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Less(result[j]) })
	return result
}

func maxTimestamp(a, b clock.LamportTimestamp) clock.LamportTimestamp {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

// Strategy selects how Resolve synthesizes a merge operation over divergent
// heads.
type Strategy int

const (
	// Ours parents the merge operation on every current head, leaving it as
	// the single head. Resolve picks the lowest OperationId among the heads
	// the caller already knows about as the local-preferred head, but that
	// choice does not shape the merge operation: its payload is
	// ResolveRequest.Payload (empty by default), not the preferred head's.
	Ours Strategy = iota
	// Theirs behaves exactly like Ours, except that the preferred head it
	// picks is the lowest OperationId among the heads the caller does not
	// already know about; that choice likewise does not shape the merge
	// operation.
	Theirs
	// Manual keeps exactly the caller-specified set of heads.
	Manual
)

// ResolveRequest parameterizes Resolve.
type ResolveRequest struct {
	Strategy Strategy
	// KnownHeads is consulted for Ours/Theirs to split current heads into
	// the caller's known set versus the rest when picking the preferred
	// head; the resulting merge operation is the same either way.
	KnownHeads []ident.OperationId
	// KeepHeads is consulted for Manual: the exact set of heads to retain.
	KeepHeads []ident.OperationId
	// Payload is the merge operation's payload blob, for every strategy. If
	// nil, an empty payload blob is synthesized.
	Payload *event.Blob
	Author  string
}

// Resolve synthesizes a merge operation over every currently divergent head
// and admits it, leaving a single new head (Ours/Theirs) or exactly the
// requested set of heads (Manual).
func (l *Log) Resolve(entityId ident.EntityId, c *clock.Clock, req ResolveRequest) error {
	heads, err := l.Store.GetHeads(l.Kind, entityId)
	if err != nil {
		return err
	}
	if len(heads) < 2 {
		return nil // nothing to resolve.
	}
	metrics.ConflictsTotal.Inc()

	// mergeParents is what the synthesized merge operation supersedes.
	// Ours/Theirs fold in every current head, so the merge operation itself
	// becomes the single surviving head once computeHeads runs. Manual only
	// folds in the heads it is dropping, since the caller's requested set
	// must survive as heads in its own right, not be superseded by the merge
	// operation too.
	var keep, mergeParents []ident.OperationId
	switch req.Strategy {
	case Ours:
		keep = []ident.OperationId{lowestKnown(heads, req.KnownHeads, true)}
		mergeParents = heads
	case Theirs:
		keep = []ident.OperationId{lowestKnown(heads, req.KnownHeads, false)}
		mergeParents = heads
	case Manual:
		keep = req.KeepHeads
		mergeParents = otherHeads(heads, keep)
	default:
		return coreerr.Validation("unknown resolution strategy")
	}

	if len(mergeParents) == 0 {
		return nil // requested set already equals current heads.
	}

	payload := req.Payload
	if payload == nil {
		empty := event.NewBlob([]byte{})
		payload = &empty
	}

	ts, err := c.Tick()
	if err != nil {
		return err
	}
	mergeOp := event.Operation{
		Id:       ident.NewOperationId(ts),
		Parents:  mergeParents,
		Payload:  payload.Digest,
		Metadata: event.Metadata{Author: req.Author, Message: "merge"},
	}

	p, err := pack.New(entityId, c.Snapshot(), []event.Operation{mergeOp}, []event.Blob{*payload})
	if err != nil {
		return err
	}
	if err := l.Append(p); err != nil {
		return err
	}

	if req.Strategy == Manual {
		// Append's generic computeHeads leaves the merge operation itself as
		// an extra head (it supersedes only the dropped heads, not the kept
		// ones). Manual's contract is that heads equal exactly the
		// caller-requested set afterward, so force it here.
		if err := l.Store.PutHeads(l.Kind, entityId, keep); err != nil {
			return err
		}
		if l.Cache != nil {
			l.Cache.Invalidate(cache.Namespace(l.Kind), entityId)
		}
	}
	return nil
}

// otherHeads returns the members of heads not present in keep.
func otherHeads(heads, keep []ident.OperationId) []ident.OperationId {
	keepSet := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		keepSet[k.String()] = struct{}{}
	}
	var out []ident.OperationId
	for _, h := range heads {
		if _, kept := keepSet[h.String()]; !kept {
			out = append(out, h)
		}
	}
	return out
}

// lowestKnown returns the lowest OperationId among heads that are (wantKnown
// true) or are not (wantKnown false) present in known.
func lowestKnown(heads, known []ident.OperationId, wantKnown bool) ident.OperationId {
	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k.String()] = struct{}{}
	}

	var best ident.OperationId
	haveBest := false
	for _, h := range heads {
		_, isKnown := knownSet[h.String()]
		if isKnown != wantKnown {
			continue
		}
		if !haveBest || h.Less(best) {
			best = h
			haveBest = true
		}
	}
	if !haveBest {
		// No head matches the split; fall back to the lowest of all heads so
		// Resolve always makes progress.
		for _, h := range heads {
			if !haveBest || h.Less(best) {
				best = h
				haveBest = true
			}
		}
	}
	return best
}
