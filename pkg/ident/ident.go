// Package ident defines the identifier and content-digest types shared
// across the event model: EntityId, OperationId, and BlobRef.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/forgeline/core/pkg/clock"
	"github.com/forgeline/core/pkg/coreerr"
)

// EntityId is a 128-bit random identifier for an issue, milestone, or task.
// Its string form is the canonical hex (RFC 4122) encoding; equality is
// bitwise.
type EntityId struct {
	u uuid.UUID
}

// NewEntityId generates a fresh, random entity identifier.
func NewEntityId() EntityId {
	return EntityId{u: uuid.New()}
}

// ParseEntityId parses the canonical string form of an entity identifier.
func ParseEntityId(s string) (EntityId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EntityId{}, coreerr.Validation("malformed entity id %q: %v", s, err)
	}
	return EntityId{u: u}, nil
}

func (e EntityId) String() string {
	return e.u.String()
}

// Hex returns the identifier with no separators, matching the layout used
// for per-entity reference paths.
func (e EntityId) Hex() string {
	return strings.ReplaceAll(e.u.String(), "-", "")
}

// Equal reports bitwise equality.
func (e EntityId) Equal(other EntityId) bool {
	return e.u == other.u
}

// MarshalJSON encodes the entity id as its canonical string form.
func (e EntityId) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.u.String())
}

// UnmarshalJSON parses the canonical string form produced by MarshalJSON.
func (e *EntityId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEntityId(s)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// OperationId wraps a LamportTimestamp and inherits its total order; it
// doubles as the identifier of a comment or a merge event.
type OperationId struct {
	Timestamp clock.LamportTimestamp
}

// NewOperationId wraps a timestamp as an operation identifier.
func NewOperationId(ts clock.LamportTimestamp) OperationId {
	return OperationId{Timestamp: ts}
}

// ParseOperationId parses the "counter@replica" display form produced by
// String, as accepted from CLI arguments and MCP request payloads.
func ParseOperationId(s string) (OperationId, error) {
	idx := strings.LastIndexByte(s, '@')
	if idx < 0 {
		return OperationId{}, coreerr.Validation("malformed operation id %q: missing '@'", s)
	}
	counterPart, replicaPart := s[:idx], s[idx+1:]
	if replicaPart == "" {
		return OperationId{}, coreerr.Validation("malformed operation id %q: empty replica", s)
	}
	var counter uint64
	if _, err := fmt.Sscanf(counterPart, "%d", &counter); err != nil {
		return OperationId{}, coreerr.Validation("malformed operation id %q: invalid counter: %v", s, err)
	}
	return OperationId{Timestamp: clock.LamportTimestamp{Counter: counter, Replica: clock.NewReplicaId(replicaPart)}}, nil
}

func (o OperationId) String() string {
	return o.Timestamp.String()
}

// Compare orders operation IDs by their underlying timestamp.
func (o OperationId) Compare(other OperationId) int {
	return o.Timestamp.Compare(other.Timestamp)
}

// Less reports whether o sorts strictly before other.
func (o OperationId) Less(other OperationId) bool {
	return o.Compare(other) < 0
}

// Equal reports whether o and other wrap identical timestamps.
func (o OperationId) Equal(other OperationId) bool {
	return o.Compare(other) == 0
}

// Replica returns the replica that produced this operation.
func (o OperationId) Replica() clock.ReplicaId {
	return o.Timestamp.Replica
}

const digestHexLen = 64

// BlobRef is the lower-case hex encoding of a SHA-256 digest.
type BlobRef struct {
	hex string
}

// BlobRefFromBytes computes the digest of data and wraps it as a BlobRef.
func BlobRefFromBytes(data []byte) BlobRef {
	sum := sha256.Sum256(data)
	return BlobRef{hex: hex.EncodeToString(sum[:])}
}

// ParseBlobRef validates a literal digest string: it must be exactly 64
// lower-case hex characters. Upper-case or mixed-case input is rejected
// rather than normalized, so a parsed BlobRef is always in canonical form.
func ParseBlobRef(s string) (BlobRef, error) {
	if len(s) != digestHexLen {
		return BlobRef{}, coreerr.Validation("blob digest %q must be %d hex characters, got %d", s, digestHexLen, len(s))
	}
	for _, r := range s {
		isLowerHexDigit := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
		if !isLowerHexDigit {
			return BlobRef{}, coreerr.Validation("blob digest %q is not lower-case hex", s)
		}
	}
	return BlobRef{hex: s}, nil
}

func (b BlobRef) String() string {
	return b.hex
}

// Equal reports whether two digests denote the same content.
func (b BlobRef) Equal(other BlobRef) bool {
	return b.hex == other.hex
}

// IsZero reports whether b is the zero value (no digest set).
func (b BlobRef) IsZero() bool {
	return b.hex == ""
}

// MarshalJSON encodes the digest as its hex string.
func (b BlobRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.hex)
}

// UnmarshalJSON parses and validates the hex string produced by MarshalJSON.
func (b *BlobRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBlobRef(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
