// Package store is the durable persistence layer underneath an entity log:
// content-addressed blobs, the operation history per entity, and each
// entity's current heads and clock snapshot. The concrete object-store
// format of the surrounding version-control repository is out of scope for
// this module; Store models the durable facts a VCS-backed log needs to
// remember, in a shape the entitylog package can traverse without knowing
// how those facts are laid out on disk.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/forgeline/core/pkg/clock"
	"github.com/forgeline/core/pkg/coreerr"
	"github.com/forgeline/core/pkg/event"
	"github.com/forgeline/core/pkg/ident"
)

var (
	bucketBlobs      = []byte("blobs")
	bucketOperations = []byte("operations")
	bucketHeads      = []byte("heads")
	bucketClock      = []byte("clock")
)

// Store is the persistence contract the entity log is built on.
type Store interface {
	// PutBlob persists data under its own digest. Writing a digest that
	// already exists is a no-op and never fails (T10).
	PutBlob(digest ident.BlobRef, data []byte) error
	HasBlob(digest ident.BlobRef) (bool, error)
	GetBlob(digest ident.BlobRef) ([]byte, error)

	// AppendOperations persists new operations for an entity, in order.
	// Writing an operation id that already exists is idempotent.
	AppendOperations(entityKind string, entityId ident.EntityId, ops []event.Operation) error
	// GetOperations returns every operation recorded for the entity, in the
	// order they were appended (not necessarily replay order).
	GetOperations(entityKind string, entityId ident.EntityId) ([]event.Operation, error)
	HasOperation(entityKind string, entityId ident.EntityId, id ident.OperationId) (bool, error)

	GetHeads(entityKind string, entityId ident.EntityId) ([]ident.OperationId, error)
	PutHeads(entityKind string, entityId ident.EntityId, heads []ident.OperationId) error

	GetClockSnapshot(entityKind string, entityId ident.EntityId) (clock.LamportTimestamp, bool, error)
	PutClockSnapshot(entityKind string, entityId ident.EntityId, snapshot clock.LamportTimestamp) error

	// ListEntities returns every entity id with at least one appended
	// operation, for a given entity kind.
	ListEntities(entityKind string) ([]ident.EntityId, error)

	Close() error
}

// BoltStore is a bbolt-backed Store, organized one bucket per concern and
// keyed by "<entity_kind>/<entity_id_hex>[/<operation_id>]", mirroring the
// per-entity reference layout of the surrounding repository.
type BoltStore struct {
	db *bolt.DB
}

// Open creates or opens the control database at <dataDir>/core.db.
func Open(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "core.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, coreerr.Storage(false, err, "opening control database at %s", dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlobs, bucketOperations, bucketHeads, bucketClock} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, coreerr.Storage(true, err, "initializing control database buckets")
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func entityKey(entityKind string, entityId ident.EntityId) []byte {
	return []byte(entityKind + "/" + entityId.Hex())
}

func operationKey(entityKind string, entityId ident.EntityId, id ident.OperationId) []byte {
	return []byte(entityKind + "/" + entityId.Hex() + "/" + id.String())
}

func (s *BoltStore) PutBlob(digest ident.BlobRef, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		key := []byte(digest.String())
		if existing := b.Get(key); existing != nil {
			return nil // idempotent: content-addressed writes never overwrite.
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) HasBlob(digest ident.BlobRef) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketBlobs).Get([]byte(digest.String())) != nil
		return nil
	})
	return found, wrapStorageErr(err, "checking blob presence")
}

func (s *BoltStore) GetBlob(digest ident.BlobRef) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlobs).Get([]byte(digest.String()))
		if v == nil {
			return coreerr.NotFound("blob %s not found", digest)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

func (s *BoltStore) AppendOperations(entityKind string, entityId ident.EntityId, ops []event.Operation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperations)
		for _, op := range ops {
			key := operationKey(entityKind, entityId, op.Id)
			if b.Get(key) != nil {
				continue // idempotent re-append of an already-persisted operation.
			}
			data, err := json.Marshal(op)
			if err != nil {
				return coreerr.Serialization(err, "encoding operation %s", op.Id)
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetOperations(entityKind string, entityId ident.EntityId) ([]event.Operation, error) {
	var ops []event.Operation
	prefix := entityKey(entityKind, entityId)
	prefix = append(prefix, '/')
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOperations).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var op event.Operation
			if err := json.Unmarshal(v, &op); err != nil {
				return coreerr.Serialization(err, "decoding operation at key %s", k)
			}
			ops = append(ops, op)
		}
		return nil
	})
	return ops, wrapStorageErr(err, "listing operations")
}

func (s *BoltStore) HasOperation(entityKind string, entityId ident.EntityId, id ident.OperationId) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketOperations).Get(operationKey(entityKind, entityId, id)) != nil
		return nil
	})
	return found, wrapStorageErr(err, "checking operation presence")
}

func (s *BoltStore) GetHeads(entityKind string, entityId ident.EntityId) ([]ident.OperationId, error) {
	var heads []headRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeads).Get(entityKey(entityKind, entityId))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &heads)
	})
	if err != nil {
		return nil, coreerr.Serialization(err, "decoding heads")
	}
	out := make([]ident.OperationId, len(heads))
	for i, h := range heads {
		out[i] = ident.NewOperationId(h.Timestamp)
	}
	return out, nil
}

func (s *BoltStore) PutHeads(entityKind string, entityId ident.EntityId, heads []ident.OperationId) error {
	records := make([]headRecord, len(heads))
	for i, h := range heads {
		records[i] = headRecord{Timestamp: h.Timestamp}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return coreerr.Serialization(err, "encoding heads")
	}
	return wrapStorageErr(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeads).Put(entityKey(entityKind, entityId), data)
	}), "writing heads")
}

func (s *BoltStore) GetClockSnapshot(entityKind string, entityId ident.EntityId) (clock.LamportTimestamp, bool, error) {
	var ts clock.LamportTimestamp
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketClock).Get(entityKey(entityKind, entityId))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &ts)
	})
	if err != nil {
		return clock.LamportTimestamp{}, false, coreerr.Serialization(err, "decoding clock snapshot")
	}
	return ts, found, nil
}

func (s *BoltStore) PutClockSnapshot(entityKind string, entityId ident.EntityId, snapshot clock.LamportTimestamp) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return coreerr.Serialization(err, "encoding clock snapshot")
	}
	return wrapStorageErr(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClock).Put(entityKey(entityKind, entityId), data)
	}), "writing clock snapshot")
}

func (s *BoltStore) ListEntities(entityKind string) ([]ident.EntityId, error) {
	seen := make(map[string]struct{})
	var out []ident.EntityId
	prefix := []byte(entityKind + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHeads).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			hex := string(k[len(prefix):])
			if _, dup := seen[hex]; dup {
				continue
			}
			seen[hex] = struct{}{}
			u, err := parseHexEntityId(hex)
			if err != nil {
				continue
			}
			out = append(out, u)
		}
		return nil
	})
	return out, wrapStorageErr(err, "listing entities")
}

func parseHexEntityId(hex string) (ident.EntityId, error) {
	if len(hex) != 32 {
		return ident.EntityId{}, coreerr.Validation("malformed entity id key %q", hex)
	}
	dashed := hex[0:8] + "-" + hex[8:12] + "-" + hex[12:16] + "-" + hex[16:20] + "-" + hex[20:32]
	return ident.ParseEntityId(dashed)
}

type headRecord struct {
	Timestamp clock.LamportTimestamp `json:"timestamp"`
}

func wrapStorageErr(err error, action string) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*coreerr.Error); ok {
		return err
	}
	return coreerr.Storage(false, err, action)
}
