// Package pack implements OperationPack, the validated, atomic bundle of
// operations and blobs admitted to an entity log as a unit.
package pack

import (
	"github.com/forgeline/core/pkg/clock"
	"github.com/forgeline/core/pkg/coreerr"
	"github.com/forgeline/core/pkg/event"
	"github.com/forgeline/core/pkg/ident"
	"github.com/forgeline/core/pkg/metrics"
)

// Pack is a validated, atomic bundle: one or more operations touching a
// single entity, plus every content blob those operations' payloads
// reference for the first time.
type Pack struct {
	EntityId      ident.EntityId
	ClockSnapshot clock.LamportTimestamp
	Operations    []event.Operation
	Blobs         []event.Blob
}

// New builds a pack and validates it before returning, so a caller never
// holds an unvalidated Pack value.
func New(entityId ident.EntityId, snapshot clock.LamportTimestamp, operations []event.Operation, blobs []event.Blob) (*Pack, error) {
	p := &Pack{
		EntityId:      entityId,
		ClockSnapshot: snapshot,
		Operations:    operations,
		Blobs:         blobs,
	}
	if err := p.Validate(nil); err != nil {
		return nil, err
	}
	return p, nil
}

// ExistingBlob is consulted by Validate to resolve payload digests that are
// not satisfied from within the pack itself (P3): it should report whether a
// digest is already durably stored in the entity log.
type ExistingBlob func(digest ident.BlobRef) bool

// Validate runs the six pack invariants, P1 through P6, in the fixed order
// the spec defines, and returns the first violation encountered. existing
// may be nil, in which case every payload digest must be satisfied from
// within the pack (suitable for validating a pack in isolation, before it is
// known which entity log it will be admitted against).
func (p *Pack) Validate(existing ExistingBlob) error {
	if err := p.ensureUniqueOperations(); err != nil {
		metrics.ValidationFailuresTotal.WithLabelValues("P1").Inc()
		return err
	}
	if err := p.ensureTopologicalOrder(); err != nil {
		metrics.ValidationFailuresTotal.WithLabelValues("P2").Inc()
		return err
	}
	if err := p.ensurePayloadBlobsPresent(existing); err != nil {
		metrics.ValidationFailuresTotal.WithLabelValues("P3").Inc()
		return err
	}
	if err := p.ensureBlobUniqueness(); err != nil {
		metrics.ValidationFailuresTotal.WithLabelValues("P4").Inc()
		return err
	}
	if err := p.ensureBlobDigestsMatch(); err != nil {
		metrics.ValidationFailuresTotal.WithLabelValues("P5").Inc()
		return err
	}
	if err := p.ensureClockSnapshotBound(); err != nil {
		metrics.ValidationFailuresTotal.WithLabelValues("P6").Inc()
		return err
	}
	return nil
}

// P1: operation IDs inside the pack are unique.
func (p *Pack) ensureUniqueOperations() error {
	seen := make(map[string]struct{}, len(p.Operations))
	for _, op := range p.Operations {
		key := op.Id.String()
		if _, dup := seen[key]; dup {
			return coreerr.Validation("P1: duplicate operation id %s in pack", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// P2: any parent reference targeting an operation inside the pack must
// appear earlier in Operations. Parents referencing operations outside the
// pack (already in the log) are unconstrained here.
func (p *Pack) ensureTopologicalOrder() error {
	seenSoFar := make(map[string]struct{}, len(p.Operations))
	inPack := make(map[string]struct{}, len(p.Operations))
	for _, op := range p.Operations {
		inPack[op.Id.String()] = struct{}{}
	}
	for _, op := range p.Operations {
		for _, parent := range op.Parents {
			key := parent.String()
			if _, isInternal := inPack[key]; !isInternal {
				continue
			}
			if _, seen := seenSoFar[key]; !seen {
				return coreerr.Validation("P2: operation %s references in-pack parent %s before it appears", op.Id, parent)
			}
		}
		seenSoFar[op.Id.String()] = struct{}{}
	}
	return nil
}

// P3: every payload digest resolves to a blob in the pack or already
// persisted.
func (p *Pack) ensurePayloadBlobsPresent(existing ExistingBlob) error {
	inPack := make(map[string]struct{}, len(p.Blobs))
	for _, b := range p.Blobs {
		inPack[b.Digest.String()] = struct{}{}
	}
	for _, op := range p.Operations {
		key := op.Payload.String()
		if _, ok := inPack[key]; ok {
			continue
		}
		if existing != nil && existing(op.Payload) {
			continue
		}
		return coreerr.Validation("P3: operation %s references payload blob %s not present in pack or log", op.Id, op.Payload)
	}
	return nil
}

// P4: blob digests inside the pack are unique.
func (p *Pack) ensureBlobUniqueness() error {
	seen := make(map[string]struct{}, len(p.Blobs))
	for _, b := range p.Blobs {
		key := b.Digest.String()
		if _, dup := seen[key]; dup {
			return coreerr.Validation("P4: duplicate blob digest %s in pack", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// P5: every blob's stored digest equals the hash of its bytes.
func (p *Pack) ensureBlobDigestsMatch() error {
	for _, b := range p.Blobs {
		computed := ident.BlobRefFromBytes(b.Data)
		if !b.Digest.Equal(computed) {
			return coreerr.Validation("P5: blob %s does not match hash of its data (%s)", b.Digest, computed)
		}
	}
	return nil
}

// P6: clock_snapshot.counter >= max(op.id.counter for op in operations).
func (p *Pack) ensureClockSnapshotBound() error {
	var max uint64
	for _, op := range p.Operations {
		if op.Id.Timestamp.Counter > max {
			max = op.Id.Timestamp.Counter
		}
	}
	if p.ClockSnapshot.Counter < max {
		return coreerr.Validation("P6: clock snapshot counter %d is below the highest operation counter %d", p.ClockSnapshot.Counter, max)
	}
	return nil
}
