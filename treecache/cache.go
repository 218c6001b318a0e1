// Package treecache maps schema assignments to the vocabulary tree that
// serves them. A Cache is rebuilt in full for every published snapshot.
package treecache

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360studio/semvocab/schema"
	"github.com/c360studio/semvocab/vocab"
)

// Cache is an immutable tree lookup derived from one snapshot and one
// schema set.
type Cache struct {
	snapshot *vocab.Snapshot
	schemas  *schema.Set
	trees    map[vocab.TreeKey]*vocab.Tree
	dropped  []vocab.TreeKey
}

// Build indexes the trees of snap that still match a schema in schemas.
// Trees whose schema prefix or slot no longer exists are dropped with a
// warning. A nil schema set disables the check.
func Build(snap *vocab.Snapshot, schemas *schema.Set, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		snapshot: snap,
		schemas:  schemas,
		trees:    make(map[vocab.TreeKey]*vocab.Tree, snap.TreeCount()),
	}
	for _, key := range snap.Keys() {
		if schemas != nil {
			s := schemas.ByPrefix(key.SchemaPrefix)
			if s == nil || !s.Has(key) {
				logger.Warn("Dropping vocabulary tree with no matching schema assignment",
					"tree", key.String(),
					"generation", snap.Generation())
				c.dropped = append(c.dropped, key)
				continue
			}
		}
		c.trees[key] = snap.TreeByKey(key)
	}
	return c
}

// Snapshot returns the snapshot the cache was built from.
func (c *Cache) Snapshot() *vocab.Snapshot { return c.snapshot }

// Schemas returns the schema set the cache was validated against.
func (c *Cache) Schemas() *schema.Set { return c.schemas }

// Len returns the number of usable trees.
func (c *Cache) Len() int { return len(c.trees) }

// Dropped lists the keys that were discarded as schema drift.
func (c *Cache) Dropped() []vocab.TreeKey {
	return append([]vocab.TreeKey(nil), c.dropped...)
}

// Tree returns the tree for an assignment location, or nil when no tree is
// available.
func (c *Cache) Tree(schemaPrefix, propURI string, groupNest []string) *vocab.Tree {
	return c.trees[vocab.NewTreeKey(schemaPrefix, propURI, groupNest)]
}

// Resolve follows the snapshot's remap graph.
func (c *Cache) Resolve(uri string) (string, error) {
	return c.snapshot.Resolve(uri)
}

// Holder publishes the current Cache and rebuilds it when either the
// snapshot or the schema set changes.
type Holder struct {
	mu      sync.Mutex
	current atomic.Pointer[Cache]
	logger  *slog.Logger
}

// NewHolder builds the initial cache.
func NewHolder(snap *vocab.Snapshot, schemas *schema.Set, logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Holder{logger: logger}
	h.current.Store(Build(snap, schemas, logger))
	return h
}

// Current returns the cache readers should use.
func (h *Holder) Current() *Cache {
	return h.current.Load()
}

// OnSnapshot rebuilds the cache for a newly published snapshot. It has the
// signature expected by vocab.Publisher.Subscribe.
func (h *Holder) OnSnapshot(snap *vocab.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current.Store(Build(snap, h.current.Load().schemas, h.logger))
}

// SetSchemas rebuilds the cache against a new schema set.
func (h *Holder) SetSchemas(schemas *schema.Set) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current.Store(Build(h.current.Load().snapshot, schemas, h.logger))
}
