// Package cache implements the persistent, namespaced snapshot cache: a
// (namespace, entity_id) -> serialized snapshot map with generation stamps,
// TTL, and background eviction under a capacity budget. Get, Invalidate,
// and Sweep degrade gracefully on storage failure: a cache error is logged
// (and, for Get, treated as a miss) rather than propagated, so callers
// always fall back to direct log traversal. Put returns its error to the
// caller.
package cache

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/forgeline/core/pkg/ident"
	"github.com/forgeline/core/pkg/log"
	"github.com/forgeline/core/pkg/metrics"
)

// Namespace partitions the cache keyspace by entity kind.
type Namespace string

const (
	Issues     Namespace = "issues"
	Milestones Namespace = "milestones"
	Tasks      Namespace = "tasks"
	Entities   Namespace = "entities"
)

// Status is the result of a Get.
type Status int

const (
	Miss Status = iota
	Hit
	Stale
)

// Config bounds the cache's behavior; it mirrors the cache.* configuration
// keys consumed by the surrounding application.
type Config struct {
	// Capacity is the maximum live entries retained per namespace by
	// background maintenance. Zero means unbounded.
	Capacity int
	// TTL is how long an entry remains fresh after Put.
	TTL time.Duration
	// MaintenanceInterval is how often Sweep runs when Start is used. Zero
	// disables background maintenance.
	MaintenanceInterval time.Duration
}

var (
	bucketEntries     = []byte("cache_entries")
	bucketGenerations = []byte("cache_generations")
)

// Cache is a bbolt-backed namespaced cache.
type Cache struct {
	db     *bolt.DB
	cfg    Config
	mu     sync.Mutex
	stopCh chan struct{}
}

// Open creates or opens the cache database at <dataDir>/cache.db.
func Open(dataDir string, cfg Config) (*Cache, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "cache.db"), 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketEntries, bucketGenerations} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db, cfg: cfg}, nil
}

func (c *Cache) Close() error {
	c.Stop()
	return c.db.Close()
}

type entry struct {
	Generation uint64    `json:"generation"`
	StoredAt   time.Time `json:"stored_at"`
	Data       []byte    `json:"data"`
}

func key(ns Namespace, id ident.EntityId) []byte {
	return []byte(string(ns) + "/" + id.Hex())
}

func (c *Cache) currentGeneration(tx *bolt.Tx, k []byte) uint64 {
	v := tx.Bucket(bucketGenerations).Get(k)
	if v == nil {
		return 0
	}
	var gen uint64
	_ = json.Unmarshal(v, &gen)
	return gen
}

// Get looks up a cached snapshot. Any underlying storage error degrades to
// Miss rather than propagating, per the cache's never-fatal contract.
func (c *Cache) Get(ns Namespace, id ident.EntityId) (Status, []byte) {
	k := key(ns, id)
	var status Status
	var data []byte

	err := c.db.View(func(tx *bolt.Tx) error {
		gen := c.currentGeneration(tx, k)
		v := tx.Bucket(bucketEntries).Get(k)
		if v == nil {
			status = Miss
			return nil
		}
		var e entry
		if err := json.Unmarshal(v, &e); err != nil {
			status = Miss
			return nil
		}
		if e.Generation != gen {
			status = Stale
			return nil
		}
		if c.cfg.TTL > 0 && time.Since(e.StoredAt) > c.cfg.TTL {
			status = Stale
			return nil
		}
		status = Hit
		data = append([]byte(nil), e.Data...)
		return nil
	})
	if err != nil {
		log.WithComponent("cache").Warn().Err(err).Msg("cache get degraded to miss")
		return Miss, nil
	}

	if status == Hit {
		metrics.CacheHitsTotal.WithLabelValues(string(ns)).Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues(string(ns)).Inc()
	}
	return status, data
}

// Put writes a snapshot, stamping it with the key's current generation and
// resetting its age. A Put issued immediately after Invalidate for the same
// key always supersedes the invalidation, since it reads the post-bump
// generation inside the same transaction.
func (c *Cache) Put(ns Namespace, id ident.EntityId, snapshot []byte) error {
	k := key(ns, id)
	return c.db.Update(func(tx *bolt.Tx) error {
		gen := c.currentGeneration(tx, k)
		e := entry{Generation: gen, StoredAt: time.Now(), Data: snapshot}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEntries).Put(k, data)
	})
}

// Invalidate bumps the generation for (ns, id), so any entry already stored
// under the prior generation is treated as Stale.
func (c *Cache) Invalidate(ns Namespace, id ident.EntityId) {
	k := key(ns, id)
	err := c.db.Update(func(tx *bolt.Tx) error {
		gen := c.currentGeneration(tx, k) + 1
		data, err := json.Marshal(gen)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketGenerations).Put(k, data)
	})
	if err != nil {
		log.WithComponent("cache").Warn().Err(err).Msg("cache invalidate failed, degrading to direct log traversal")
	}
}

// Sweep runs one round of background maintenance: it evicts stale entries
// and, per namespace, trims the oldest surviving entries beyond Capacity.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	type liveEntry struct {
		key      []byte
		ns       string
		storedAt time.Time
	}

	err := c.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		genBucket := tx.Bucket(bucketGenerations)

		byNamespace := make(map[string][]liveEntry)
		var toDelete [][]byte

		cur := entries.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				toDelete = append(toDelete, append([]byte(nil), k...))
				continue
			}
			gen := c.currentGeneration(tx, k)
			stale := e.Generation != gen || (c.cfg.TTL > 0 && time.Since(e.StoredAt) > c.cfg.TTL)
			if stale {
				toDelete = append(toDelete, append([]byte(nil), k...))
				continue
			}
			ns := string(bytes.SplitN(k, []byte("/"), 2)[0])
			byNamespace[ns] = append(byNamespace[ns], liveEntry{key: append([]byte(nil), k...), ns: ns, storedAt: e.StoredAt})
		}

		if c.cfg.Capacity > 0 {
			for _, live := range byNamespace {
				if len(live) <= c.cfg.Capacity {
					continue
				}
				sort.Slice(live, func(i, j int) bool { return live[i].storedAt.Before(live[j].storedAt) })
				excess := len(live) - c.cfg.Capacity
				for i := 0; i < excess; i++ {
					toDelete = append(toDelete, live[i].key)
				}
			}
		}

		for _, k := range toDelete {
			if err := entries.Delete(k); err != nil {
				return err
			}
			_ = genBucket // generation records are small and left for reuse; they are not a capacity concern.
		}
		return nil
	})
	if err != nil {
		log.WithComponent("cache").Warn().Err(err).Msg("cache maintenance sweep failed")
	}
}

// Start launches a background goroutine that runs Sweep every
// MaintenanceInterval. A zero interval disables background maintenance; the
// caller is expected to invoke Sweep manually (e.g. from tests) in that
// case.
func (c *Cache) Start() {
	if c.cfg.MaintenanceInterval <= 0 {
		return
	}
	c.mu.Lock()
	if c.stopCh != nil {
		c.mu.Unlock()
		return
	}
	c.stopCh = make(chan struct{})
	stop := c.stopCh
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.cfg.MaintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts background maintenance started by Start. Safe to call even if
// Start was never called.
func (c *Cache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
}
