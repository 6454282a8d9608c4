package store

import (
	"testing"

	"github.com/forgeline/core/pkg/clock"
	"github.com/forgeline/core/pkg/event"
	"github.com/forgeline/core/pkg/ident"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutBlobIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	blob := event.NewBlob([]byte("payload"))

	if err := s.PutBlob(blob.Digest, blob.Data); err != nil {
		t.Fatal(err)
	}
	if err := s.PutBlob(blob.Digest, blob.Data); err != nil {
		t.Fatalf("second write of the same digest must not fail: %v", err)
	}

	got, err := s.GetBlob(blob.Digest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q", got)
	}
}

func TestAppendAndListOperations(t *testing.T) {
	s := openTestStore(t)
	entityId := ident.NewEntityId()
	c := clock.New(clock.NewReplicaId("r1"))

	ts1, _ := c.Tick()
	ts2, _ := c.Tick()
	payload := event.NewBlob([]byte("payload")).Digest
	op1 := event.Operation{Id: ident.NewOperationId(ts1), Payload: payload, Metadata: event.Metadata{Author: "a"}}
	op2 := event.Operation{Id: ident.NewOperationId(ts2), Payload: payload, Metadata: event.Metadata{Author: "a"}}

	if err := s.AppendOperations("issues", entityId, []event.Operation{op1, op2}); err != nil {
		t.Fatal(err)
	}
	// Re-appending must be idempotent.
	if err := s.AppendOperations("issues", entityId, []event.Operation{op1}); err != nil {
		t.Fatal(err)
	}

	ops, err := s.GetOperations("issues", entityId)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(ops))
	}

	has, err := s.HasOperation("issues", entityId, op1.Id)
	if err != nil || !has {
		t.Fatalf("expected op1 present: has=%v err=%v", has, err)
	}
}

func TestHeadsAndClockSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)
	entityId := ident.NewEntityId()
	c := clock.New(clock.NewReplicaId("r1"))
	ts, _ := c.Tick()
	id := ident.NewOperationId(ts)

	if err := s.PutHeads("issues", entityId, []ident.OperationId{id}); err != nil {
		t.Fatal(err)
	}
	heads, err := s.GetHeads("issues", entityId)
	if err != nil {
		t.Fatal(err)
	}
	if len(heads) != 1 || !heads[0].Equal(id) {
		t.Fatalf("unexpected heads: %v", heads)
	}

	if err := s.PutClockSnapshot("issues", entityId, ts); err != nil {
		t.Fatal(err)
	}
	got, found, err := s.GetClockSnapshot("issues", entityId)
	if err != nil || !found || got.Compare(ts) != 0 {
		t.Fatalf("unexpected clock snapshot: %v found=%v err=%v", got, found, err)
	}
}

func TestListEntitiesReturnsDistinctEntitiesWithHeads(t *testing.T) {
	s := openTestStore(t)
	a := ident.NewEntityId()
	b := ident.NewEntityId()
	c := clock.New(clock.NewReplicaId("r1"))
	ts, _ := c.Tick()
	id := ident.NewOperationId(ts)

	if err := s.PutHeads("issues", a, []ident.OperationId{id}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutHeads("issues", b, []ident.OperationId{id}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListEntities("issues")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(got))
	}
}
