package pack

import (
	"testing"

	"github.com/forgeline/core/pkg/clock"
	"github.com/forgeline/core/pkg/coreerr"
	"github.com/forgeline/core/pkg/event"
	"github.com/forgeline/core/pkg/ident"
)

func op(c *clock.Clock) event.Operation {
	ts, _ := c.Tick()
	blob := event.NewBlob([]byte(ts.String()))
	return event.Operation{
		Id:       ident.NewOperationId(ts),
		Payload:  blob.Digest,
		Metadata: event.Metadata{Author: "tester"},
	}
}

func TestValidPackPassesAllInvariants(t *testing.T) {
	c := clock.New(clock.NewReplicaId("r1"))
	o1 := op(c)
	b1 := event.Blob{Digest: o1.Payload, Data: []byte(o1.Id.String())}

	p, err := New(ident.NewEntityId(), c.Snapshot(), []event.Operation{o1}, []event.Blob{b1})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Operations) != 1 {
		t.Fatalf("expected 1 operation")
	}
}

func TestDuplicateOperationIdsRejectedP1(t *testing.T) {
	c := clock.New(clock.NewReplicaId("r1"))
	o1 := op(c)
	b1 := event.Blob{Digest: o1.Payload, Data: []byte(o1.Id.String())}

	_, err := New(ident.NewEntityId(), c.Snapshot(), []event.Operation{o1, o1}, []event.Blob{b1})
	assertValidationKind(t, err, "P1")
}

func TestOutOfOrderInternalParentsRejectedP2(t *testing.T) {
	c := clock.New(clock.NewReplicaId("r1"))
	o1 := op(c)
	o2 := op(c)
	o2.Parents = []ident.OperationId{o1.Id}

	b1 := event.Blob{Digest: o1.Payload, Data: []byte(o1.Id.String())}
	b2 := event.Blob{Digest: o2.Payload, Data: []byte(o2.Id.String())}

	// o2 (parent=o1) listed before o1: violates topological order.
	_, err := New(ident.NewEntityId(), c.Snapshot(), []event.Operation{o2, o1}, []event.Blob{b1, b2})
	assertValidationKind(t, err, "P2")
}

func TestExternalParentUnconstrainedByOrder(t *testing.T) {
	c := clock.New(clock.NewReplicaId("r1"))
	external := ident.NewOperationId(clock.LamportTimestamp{Counter: 1, Replica: clock.NewReplicaId("other")})

	o1 := op(c)
	o1.Parents = []ident.OperationId{external}
	b1 := event.Blob{Digest: o1.Payload, Data: []byte(o1.Id.String())}

	if _, err := New(ident.NewEntityId(), c.Snapshot(), []event.Operation{o1}, []event.Blob{b1}); err != nil {
		t.Fatalf("external parent reference should not require in-pack ordering: %v", err)
	}
}

func TestMissingPayloadBlobRejectedP3(t *testing.T) {
	c := clock.New(clock.NewReplicaId("r1"))
	o1 := op(c)

	_, err := New(ident.NewEntityId(), c.Snapshot(), []event.Operation{o1}, nil)
	assertValidationKind(t, err, "P3")
}

func TestDuplicateBlobDigestsRejectedP4(t *testing.T) {
	c := clock.New(clock.NewReplicaId("r1"))
	o1 := op(c)
	b1 := event.Blob{Digest: o1.Payload, Data: []byte(o1.Id.String())}

	_, err := New(ident.NewEntityId(), c.Snapshot(), []event.Operation{o1}, []event.Blob{b1, b1})
	assertValidationKind(t, err, "P4")
}

func TestMismatchedBlobDigestRejectedP5(t *testing.T) {
	c := clock.New(clock.NewReplicaId("r1"))
	o1 := op(c)
	tampered := event.Blob{Digest: o1.Payload, Data: []byte("not the real bytes")}

	_, err := New(ident.NewEntityId(), c.Snapshot(), []event.Operation{o1}, []event.Blob{tampered})
	assertValidationKind(t, err, "P5")
}

func TestClockSnapshotBelowMaxOperationCounterRejectedP6(t *testing.T) {
	c := clock.New(clock.NewReplicaId("r1"))
	o1 := op(c)
	b1 := event.Blob{Digest: o1.Payload, Data: []byte(o1.Id.String())}

	staleSnapshot := clock.LamportTimestamp{Counter: 0, Replica: clock.NewReplicaId("r1")}
	_, err := New(ident.NewEntityId(), staleSnapshot, []event.Operation{o1}, []event.Blob{b1})
	assertValidationKind(t, err, "P6")
}

func assertValidationKind(t *testing.T, err error, invariant string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s validation failure, got nil", invariant)
	}
	ce, ok := err.(*coreerr.Error)
	if !ok || ce.Kind != coreerr.KindValidation {
		t.Fatalf("expected a validation error for %s, got %v", invariant, err)
	}
}
