package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/core/pkg/cache"
	"github.com/forgeline/core/pkg/clock"
	"github.com/forgeline/core/pkg/config"
	"github.com/forgeline/core/pkg/entitylog"
	"github.com/forgeline/core/pkg/event"
	"github.com/forgeline/core/pkg/filter"
	"github.com/forgeline/core/pkg/ident"
	"github.com/forgeline/core/pkg/pack"
	"github.com/forgeline/core/pkg/repolock"
	"github.com/forgeline/core/pkg/store"
)

func newTestService(t *testing.T, replica string) *Service {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	lock, err := repolock.Open(dir)
	require.NoError(t, err)

	c, err := cache.Open(dir, cache.Config{TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return New(config.Default(), clock.NewReplicaId(replica), st, lock, c, nil)
}

// Scenario 1: create, append, list.
func TestCreateAppendList(t *testing.T) {
	s := newTestService(t, "r1")

	snap, err := s.Create(CreateInput{
		Kind:   Issues,
		Title:  "T",
		State:  "todo",
		Labels: []string{"a"},
		Actor:  Actor{Name: "alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, "T", snap.Title)
	assert.Equal(t, []string{"a"}, snap.Labels)

	_, err = s.AppendComment(Issues, snap.Id, ident.OperationId{}, "hi", Actor{Name: "alice"})
	require.NoError(t, err)

	list, err := s.ListEntities(Issues, filter.Query{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	l, err := s.logFor(Issues)
	require.NoError(t, err)
	heads, err := l.Heads(snap.Id)
	require.NoError(t, err)
	assert.Len(t, heads, 1, "expected head_count = 1")

	loaded, err := s.GetWithComments(Issues, snap.Id)
	require.NoError(t, err)
	if assert.Len(t, loaded.Comments, 1) {
		assert.Equal(t, "hi", loaded.Comments[0].BodyMD)
	}
	assert.Equal(t, []string{"a"}, loaded.Labels)
	assert.True(t, loaded.CreatedAt.Less(loaded.UpdatedAt), "expected updated_at > created_at")
}

// Scenario 2: divergent replicas converge.
func TestDivergentReplicasConverge(t *testing.T) {
	s1 := newTestService(t, "r1")

	snap, err := s1.Create(CreateInput{Kind: Issues, Title: "T", State: "todo", Actor: Actor{Name: "alice"}})
	require.NoError(t, err)

	_, err = s1.UpdateLabels(Issues, snap.Id, []string{"x"}, nil, Actor{Name: "alice"})
	require.NoError(t, err)

	// A second replica shares the same underlying store and lock but owns
	// its own clock, starting from zero: its label operation is parented on
	// the current head yet carries a lower counter (1@r2) than r1's label
	// operation (2@r1), so replay must converge by timestamp order rather
	// than by append order.
	s2 := New(s1.Config, clock.NewReplicaId("r2"), s1.Store, s1.Lock, s1.Cache, nil)
	_, err = s2.UpdateLabels(Issues, snap.Id, []string{"y"}, nil, Actor{Name: "bob"})
	require.NoError(t, err)

	final, err := s1.GetWithComments(Issues, snap.Id)
	require.NoError(t, err)
	assert.Contains(t, final.Labels, "x")
	assert.Contains(t, final.Labels, "y")
}

// Scenario 3: manual conflict resolution over two heads that diverged from
// the same parent, mirroring two replicas that raced independently.
func TestManualConflictResolution(t *testing.T) {
	s := newTestService(t, "r1")

	snap, err := s.Create(CreateInput{Kind: Issues, Title: "T", State: "todo", Actor: Actor{Name: "alice"}})
	require.NoError(t, err)
	l, err := s.logFor(Issues)
	require.NoError(t, err)
	h0 := headOf(t, l, snap.Id)

	h1 := appendLabelAgainstParent(t, s, l, snap.Id, h0, "x")
	h2 := appendLabelAgainstParent(t, s, l, snap.Id, h0, "y")

	heads, err := l.Heads(snap.Id)
	require.NoError(t, err)
	require.Len(t, heads, 2, "expected two divergent heads")

	_, err = s.ResolveConflicts(Issues, snap.Id, entitylog.ResolveRequest{
		Strategy:   entitylog.Manual,
		KeepHeads:  []ident.OperationId{h1},
		KnownHeads: []ident.OperationId{h1},
		Author:     "alice",
	})
	require.NoError(t, err)

	heads, err = l.Heads(snap.Id)
	require.NoError(t, err)
	if assert.Len(t, heads, 1, "expected a single resolved head") {
		assert.True(t, heads[0].Equal(h1), "expected heads to equal exactly the requested set [h1]")
		assert.False(t, heads[0].Equal(h2), "h2 should no longer be a head after resolution")
	}
}

func headOf(t *testing.T, l *entitylog.Log, entityId ident.EntityId) ident.OperationId {
	t.Helper()
	heads, err := l.Heads(entityId)
	require.NoError(t, err)
	require.NotEmpty(t, heads)
	return heads[0]
}

// appendLabelAgainstParent admits a single LabelsAdded operation whose sole
// parent is explicitly parent, bypassing the service's head-tracking so two
// calls against the same parent produce genuinely divergent heads.
func appendLabelAgainstParent(t *testing.T, s *Service, l *entitylog.Log, entityId ident.EntityId, parent ident.OperationId, label string) ident.OperationId {
	t.Helper()
	ts, err := s.Clock.Tick()
	require.NoError(t, err)
	payload, err := event.EncodePayload(event.Payload{Kind: event.KindLabelsAdded, Labels: []string{label}})
	require.NoError(t, err)
	blob := event.NewBlob(payload)
	op := event.Operation{
		Id:       ident.NewOperationId(ts),
		Parents:  []ident.OperationId{parent},
		Payload:  blob.Digest,
		Metadata: event.Metadata{Author: "tester"},
	}
	p, err := pack.New(entityId, s.Clock.Snapshot(), []event.Operation{op}, []event.Blob{blob})
	require.NoError(t, err)
	require.NoError(t, l.Append(p))
	return op.Id
}
