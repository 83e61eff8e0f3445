// Package tilecache implements a weighted LRU tile cache with TTL and TTI
// eviction. hashicorp/golang-lru/v2 supplies the recency-ordered index (no
// eviction callback is registered); byte-weight accounting, TTL, TTI, and
// at-most-one-compute-per-key dedup are layered on top: an LRU index plus
// time bookkeeping plus a hash index of in-flight computations.
package tilecache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mmartin/tileserv/internal/tileid"
)

// Key identifies a cached tile. Query participates only when the source is
// query-sensitive; callers leave it empty otherwise.
type Key struct {
	SourceID string
	Coord    tileid.Coord
	Query    string
}

// Tile is the cached payload.
type Tile struct {
	Data []byte
	Info tileid.Info
	ETag string
}

type entry struct {
	key        Key
	tile       Tile
	insertedAt time.Time
	lastRead   time.Time
}

func (e *entry) weight() int { return len(e.tile.Data) }

// Options configures a Cache.
type Options struct {
	MaxCapacityBytes int64
	TTL              time.Duration // 0 disables TTL expiry
	TTI              time.Duration // 0 disables TTI expiry
}

// Cache is a byte-weighted, TTL/TTI-aware, at-most-one-compute-per-key tile
// cache safe for concurrent multi-reader, multi-writer use.
type Cache struct {
	opts Options

	mu           sync.Mutex
	index        *lru.Cache[Key, *entry]
	currentBytes int64

	inflight map[Key]*inflightCall
}

type inflightCall struct {
	done chan struct{}
	tile Tile
	err  error
}

// New constructs a Cache. A non-positive MaxCapacityBytes means unbounded
// (size-eviction never triggers; only TTL/TTI do).
func New(opts Options) *Cache {
	c := &Cache{
		opts:     opts,
		inflight: make(map[Key]*inflightCall),
	}
	// golang-lru requires a positive size; since real eviction in this
	// cache is driven by byte-weight, not entry count, size it generously
	// and let weight-based eviction in insert/evictLocked do the real work.
	idx, err := lru.New[Key, *entry](1 << 20)
	if err != nil {
		panic(fmt.Sprintf("tilecache: failed to construct LRU index: %v", err))
	}
	c.index = idx
	return c
}

// Get performs a non-blocking lookup. It does not participate in dedup.
func (c *Cache) Get(key Key) (Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index.Get(key)
	if !ok {
		return Tile{}, false
	}
	if c.expiredLocked(e, time.Now()) {
		c.removeLocked(key, e)
		return Tile{}, false
	}
	e.lastRead = time.Now()
	return e.tile, true
}

func (c *Cache) expiredLocked(e *entry, now time.Time) bool {
	if c.opts.TTL > 0 && now.Sub(e.insertedAt) >= c.opts.TTL {
		return true
	}
	if c.opts.TTI > 0 && now.Sub(e.lastRead) >= c.opts.TTI {
		return true
	}
	return false
}

func (c *Cache) removeLocked(key Key, e *entry) {
	c.index.Remove(key)
	c.currentBytes -= int64(e.weight())
}

// ComputeFunc produces a tile for a cache miss. It must be cancellation-safe:
// on error the entry is never memoized.
type ComputeFunc func() (Tile, error)

// GetOrInsert guarantees at most one concurrent invocation of compute per
// key; other callers racing on the same key wait for the in-flight result.
func (c *Cache) GetOrInsert(key Key, compute ComputeFunc) (Tile, error) {
	if tile, ok := c.Get(key); ok {
		return tile, nil
	}

	c.mu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		<-call.done
		return call.tile, call.err
	}
	call := &inflightCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	tile, err := compute()
	call.tile, call.err = tile, err

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(call.done)

	if err != nil {
		return Tile{}, err
	}
	c.insert(key, tile)
	return tile, nil
}

func (c *Cache) insert(key Key, tile Tile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	e := &entry{key: key, tile: tile, insertedAt: now, lastRead: now}
	if old, ok := c.index.Get(key); ok {
		c.currentBytes -= int64(old.weight())
	}
	c.index.Add(key, e)
	c.currentBytes += int64(e.weight())
	c.evictLocked()
}

func (c *Cache) evictLocked() {
	if c.opts.MaxCapacityBytes <= 0 {
		return
	}
	for c.currentBytes > c.opts.MaxCapacityBytes {
		key, e, ok := c.index.RemoveOldest()
		if !ok {
			return
		}
		_ = key
		c.currentBytes -= int64(e.weight())
	}
}

// InvalidateSource removes every entry whose key's SourceID matches.
func (c *Cache) InvalidateSource(sourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.index.Keys() {
		if key.SourceID == sourceID {
			if e, ok := c.index.Peek(key); ok {
				c.removeLocked(key, e)
			}
		}
	}
}

// InvalidateAll clears the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index.Purge()
	c.currentBytes = 0
}

// Sync runs the maintenance pass (TTL/TTI sweep) so EntryCount and
// WeightedSize reflect expirations deterministically; tests needing exact
// assertions should call it after advancing time, matching the moka
// "run_pending_tasks" idiom referenced in the source spec.
func (c *Cache) Sync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, key := range c.index.Keys() {
		if e, ok := c.index.Peek(key); ok && c.expiredLocked(e, now) {
			c.removeLocked(key, e)
		}
	}
}

// EntryCount returns the number of live entries. Eventually consistent;
// call Sync first for exact assertions.
func (c *Cache) EntryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Len()
}

// WeightedSize returns the total byte weight of live entries. Eventually
// consistent; call Sync first for exact assertions.
func (c *Cache) WeightedSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentBytes
}
