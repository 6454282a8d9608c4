package entitylog

import (
	"testing"
	"time"

	"github.com/forgeline/core/pkg/cache"
	"github.com/forgeline/core/pkg/clock"
	"github.com/forgeline/core/pkg/event"
	"github.com/forgeline/core/pkg/ident"
	"github.com/forgeline/core/pkg/pack"
	"github.com/forgeline/core/pkg/repolock"
	"github.com/forgeline/core/pkg/store"
)

func newTestLog(t *testing.T) (*Log, *clock.Clock) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	l, err := repolock.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	c, err := cache.Open(dir, cache.Config{TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })

	return New("issues", s, l, c, nil), clock.New(clock.NewReplicaId("r1"))
}

func createdOp(c *clock.Clock, title string) (event.Operation, event.Blob) {
	ts, _ := c.Tick()
	payload, _ := event.EncodePayload(event.Payload{Kind: event.KindCreated, Title: title, Labels: []string{"a"}})
	blob := event.NewBlob(payload)
	op := event.Operation{Id: ident.NewOperationId(ts), Payload: blob.Digest, Metadata: event.Metadata{Author: "alice"}}
	return op, blob
}

func TestAppendSingleCreatedOperationYieldsOneHead(t *testing.T) {
	l, c := newTestLog(t)
	entityId := ident.NewEntityId()
	op, blob := createdOp(c, "T")

	p, err := pack.New(entityId, c.Snapshot(), []event.Operation{op}, []event.Blob{blob})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append(p); err != nil {
		t.Fatal(err)
	}

	heads, err := l.Heads(entityId)
	if err != nil {
		t.Fatal(err)
	}
	if len(heads) != 1 || !heads[0].Equal(op.Id) {
		t.Fatalf("expected single head equal to created op, got %v", heads)
	}
}

func TestAppendChainAdvancesHead(t *testing.T) {
	l, c := newTestLog(t)
	entityId := ident.NewEntityId()
	op1, blob1 := createdOp(c, "T")
	p1, err := pack.New(entityId, c.Snapshot(), []event.Operation{op1}, []event.Blob{blob1})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append(p1); err != nil {
		t.Fatal(err)
	}

	ts2, _ := c.Tick()
	payload, _ := event.EncodePayload(event.Payload{Kind: event.KindTitleSet, Title: "T2"})
	blob2 := event.NewBlob(payload)
	op2 := event.Operation{
		Id:       ident.NewOperationId(ts2),
		Parents:  []ident.OperationId{op1.Id},
		Payload:  blob2.Digest,
		Metadata: event.Metadata{Author: "alice"},
	}
	p2, err := pack.New(entityId, c.Snapshot(), []event.Operation{op2}, []event.Blob{blob2})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append(p2); err != nil {
		t.Fatal(err)
	}

	heads, err := l.Heads(entityId)
	if err != nil {
		t.Fatal(err)
	}
	if len(heads) != 1 || !heads[0].Equal(op2.Id) {
		t.Fatalf("expected single head equal to op2, got %v", heads)
	}
}

func TestDivergentAppendsProduceTwoHeads(t *testing.T) {
	l, c := newTestLog(t)
	entityId := ident.NewEntityId()
	op1, blob1 := createdOp(c, "T")
	p1, _ := pack.New(entityId, c.Snapshot(), []event.Operation{op1}, []event.Blob{blob1})
	if err := l.Append(p1); err != nil {
		t.Fatal(err)
	}

	mkLabelOp := func(label string) (event.Operation, event.Blob) {
		ts, _ := c.Tick()
		payload, _ := event.EncodePayload(event.Payload{Kind: event.KindLabelsAdded, Labels: []string{label}})
		blob := event.NewBlob(payload)
		return event.Operation{Id: ident.NewOperationId(ts), Parents: []ident.OperationId{op1.Id}, Payload: blob.Digest, Metadata: event.Metadata{Author: "alice"}}, blob
	}

	opX, blobX := mkLabelOp("x")
	px, _ := pack.New(entityId, c.Snapshot(), []event.Operation{opX}, []event.Blob{blobX})
	if err := l.Append(px); err != nil {
		t.Fatal(err)
	}

	opY, blobY := mkLabelOp("y")
	py, _ := pack.New(entityId, c.Snapshot(), []event.Operation{opY}, []event.Blob{blobY})
	if err := l.Append(py); err != nil {
		t.Fatal(err)
	}

	heads, err := l.Heads(entityId)
	if err != nil {
		t.Fatal(err)
	}
	if len(heads) != 2 {
		t.Fatalf("expected 2 divergent heads, got %d", len(heads))
	}
}

func TestManualResolveKeepsRequestedHeadAndSupersedesOthers(t *testing.T) {
	l, c := newTestLog(t)
	entityId := ident.NewEntityId()
	op1, blob1 := createdOp(c, "T")
	p1, _ := pack.New(entityId, c.Snapshot(), []event.Operation{op1}, []event.Blob{blob1})
	if err := l.Append(p1); err != nil {
		t.Fatal(err)
	}

	mkOp := func() (event.Operation, event.Blob) {
		ts, _ := c.Tick()
		payload, _ := event.EncodePayload(event.Payload{Kind: event.KindLabelsAdded, Labels: []string{"z"}})
		blob := event.NewBlob(payload)
		return event.Operation{Id: ident.NewOperationId(ts), Parents: []ident.OperationId{op1.Id}, Payload: blob.Digest, Metadata: event.Metadata{Author: "alice"}}, blob
	}
	h1, b1 := mkOp()
	p2, _ := pack.New(entityId, c.Snapshot(), []event.Operation{h1}, []event.Blob{b1})
	if err := l.Append(p2); err != nil {
		t.Fatal(err)
	}
	h2, b2 := mkOp()
	p3, _ := pack.New(entityId, c.Snapshot(), []event.Operation{h2}, []event.Blob{b2})
	if err := l.Append(p3); err != nil {
		t.Fatal(err)
	}

	if err := l.Resolve(entityId, c, ResolveRequest{Strategy: Manual, KeepHeads: []ident.OperationId{h1.Id}, Author: "alice"}); err != nil {
		t.Fatal(err)
	}

	heads, err := l.Heads(entityId)
	if err != nil {
		t.Fatal(err)
	}
	if len(heads) != 1 || !heads[0].Equal(h1.Id) {
		t.Fatalf("expected heads to equal exactly the requested set [h1], got %v", heads)
	}
}

func TestOursResolveLeavesSingleSynthesizedHead(t *testing.T) {
	l, c := newTestLog(t)
	entityId := ident.NewEntityId()
	op1, blob1 := createdOp(c, "T")
	p1, _ := pack.New(entityId, c.Snapshot(), []event.Operation{op1}, []event.Blob{blob1})
	if err := l.Append(p1); err != nil {
		t.Fatal(err)
	}

	mkOp := func() (event.Operation, event.Blob) {
		ts, _ := c.Tick()
		payload, _ := event.EncodePayload(event.Payload{Kind: event.KindLabelsAdded, Labels: []string{"z"}})
		blob := event.NewBlob(payload)
		return event.Operation{Id: ident.NewOperationId(ts), Parents: []ident.OperationId{op1.Id}, Payload: blob.Digest, Metadata: event.Metadata{Author: "alice"}}, blob
	}
	h1, b1 := mkOp()
	p2, _ := pack.New(entityId, c.Snapshot(), []event.Operation{h1}, []event.Blob{b1})
	if err := l.Append(p2); err != nil {
		t.Fatal(err)
	}
	h2, b2 := mkOp()
	p3, _ := pack.New(entityId, c.Snapshot(), []event.Operation{h2}, []event.Blob{b2})
	if err := l.Append(p3); err != nil {
		t.Fatal(err)
	}

	if err := l.Resolve(entityId, c, ResolveRequest{Strategy: Ours, KnownHeads: []ident.OperationId{h1.Id}, Author: "alice"}); err != nil {
		t.Fatal(err)
	}

	heads, err := l.Heads(entityId)
	if err != nil {
		t.Fatal(err)
	}
	if len(heads) != 1 {
		t.Fatalf("expected resolution to leave a single synthesized head, got %v", heads)
	}
	if heads[0].Equal(h1.Id) || heads[0].Equal(h2.Id) {
		t.Fatalf("expected the single head to be the new merge operation, not a prior head: %v", heads)
	}
}
