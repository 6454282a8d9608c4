// Package event defines the operation payload model: event kinds, operation
// metadata, and the content-addressed blob that carries a serialized
// payload.
package event

import (
	"encoding/json"

	"github.com/forgeline/core/pkg/coreerr"
	"github.com/forgeline/core/pkg/ident"
)

// Kind names a discriminant understood by replay. Unknown kinds still parse
// and round-trip; they are simply skipped during replay.
type Kind string

const (
	KindCreated           Kind = "created"
	KindTitleSet          Kind = "title_set"
	KindStateSet          Kind = "state_set"
	KindStateCleared      Kind = "state_cleared"
	KindDescriptionSet    Kind = "description_set"
	KindLabelsAdded       Kind = "labels_added"
	KindLabelsRemoved     Kind = "labels_removed"
	KindAssigneesAdded    Kind = "assignees_added"
	KindAssigneesRemoved  Kind = "assignees_removed"
	KindCommentAdded      Kind = "comment_added"
	KindCommentUpdated    Kind = "comment_updated"
	KindChildLinked       Kind = "child_linked"
	KindChildUnlinked     Kind = "child_unlinked"
	KindRelationAdded     Kind = "relation_added"
	KindRelationRemoved   Kind = "relation_removed"
	KindUnknown           Kind = "unknown"
)

// Metadata carries the author and an optional free-text message attached to
// an operation.
type Metadata struct {
	Author  string `json:"author"`
	Message string `json:"message,omitempty"`
}

// Payload is the tagged-union event body. Exactly the fields relevant to Kind
// are populated; the rest are left at their zero value. This mirrors the
// reference system's serde externally-tagged enum, flattened into one Go
// struct keyed by Kind for simple (de)serialization without a custom
// UnmarshalJSON per variant.
type Payload struct {
	Kind Kind `json:"kind"`

	// Created
	Title          string   `json:"title,omitempty"`
	Description    *string  `json:"description,omitempty"`
	Labels         []string `json:"labels,omitempty"`
	Assignees      []string `json:"assignees,omitempty"`
	State          string   `json:"state,omitempty"`
	StateKind      string   `json:"state_kind,omitempty"`
	InitialComment *CommentSeed `json:"initial_comment,omitempty"`

	// CommentAdded / CommentUpdated
	CommentId ident.OperationId `json:"comment_id,omitempty"`
	BodyMD    string            `json:"body_md,omitempty"`

	// ChildLinked / ChildUnlinked
	Parent ident.EntityId `json:"parent,omitempty"`
	Child  ident.EntityId `json:"child,omitempty"`

	// RelationAdded / RelationRemoved
	RelationKind string         `json:"relation_kind,omitempty"`
	Target       ident.EntityId `json:"target,omitempty"`

	// Unknown: preserves whatever the original kind and payload were, so the
	// event still round-trips even though replay skips it.
	UnknownKind    string          `json:"unknown_kind,omitempty"`
	UnknownPayload json.RawMessage `json:"unknown_payload,omitempty"`
}

// CommentSeed is the optional initial comment attached to a Created event.
type CommentSeed struct {
	CommentId ident.OperationId `json:"comment_id"`
	BodyMD    string            `json:"body_md"`
}

// Operation is one immutable, content-addressed mutation in an entity's
// history.
type Operation struct {
	Id       ident.OperationId   `json:"id"`
	Parents  []ident.OperationId `json:"parents"`
	Payload  ident.BlobRef       `json:"payload"`
	Metadata Metadata            `json:"metadata"`
}

// Blob is a content-addressed byte string whose digest must equal the hash
// of its own data.
type Blob struct {
	Digest ident.BlobRef
	Data   []byte
}

// NewBlob hashes data and returns the resulting content-addressed blob.
func NewBlob(data []byte) Blob {
	return Blob{Digest: ident.BlobRefFromBytes(data), Data: data}
}

// ParseBlob builds a blob from an explicit digest and data, validating that
// the digest actually matches the data (P5 of pack validation re-checks this
// at the pack level; this constructor rejects the mismatch immediately at
// the point of construction too).
func ParseBlob(digest ident.BlobRef, data []byte) (Blob, error) {
	computed := ident.BlobRefFromBytes(data)
	if !digest.Equal(computed) {
		return Blob{}, coreerr.Validation("blob digest %s does not match hash of its data (%s)", digest, computed)
	}
	return Blob{Digest: digest, Data: data}, nil
}

// EncodePayload serializes a payload to bytes suitable for hashing into a
// Blob.
func EncodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, coreerr.Serialization(err, "encoding event payload")
	}
	return data, nil
}

// DecodePayload parses bytes previously produced by EncodePayload.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, coreerr.Serialization(err, "decoding event payload")
	}
	return p, nil
}
