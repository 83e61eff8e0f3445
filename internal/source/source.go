// Package source defines the polymorphic tile provider abstraction and the
// registry that resolves ids to concrete adapters. Every adapter kind
// (MBTiles, PMTiles, COG, Postgres table/function, GeoJSON) implements the
// one Source interface in full; there are no smaller per-kind interfaces.
package source

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mmartin/tileserv/internal/tileid"
	"github.com/mmartin/tileserv/pkg/tilejson"
)

// Source is the capability-typed interface every concrete adapter
// implements. Implementations are immutable once registered; the registry
// owns them behind shared references, so GetTile must be safe for
// concurrent use by multiple callers.
type Source interface {
	ID() string
	TileJSON() tilejson.TileJSON
	TileInfo() tileid.Info
	GetTile(ctx context.Context, coord tileid.Coord, query string) ([]byte, error)

	// SupportsURLQuery reports whether this source's cache key must
	// include the request query string.
	SupportsURLQuery() bool

	// ConcurrentFriendly is a bulk-copy advisory hint (see Design Notes):
	// it is never consulted on the HTTP serving path.
	ConcurrentFriendly() bool

	// CloneHandle returns an owned reference usable from another
	// goroutine/task, mirroring the Rust `clone_handle` contract.
	CloneHandle() Source
}

// CatalogEntry is what the registry exposes per source id for /catalog.
type CatalogEntry struct {
	ContentType     string
	ContentEncoding string
	Name            string
	Description     string
	Attribution     string
}

// Registry maps source ids to Sources, resolving collisions by appending a
// stable numeric suffix in insertion order (".1", ".2", ...).
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	order   []string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source under its natural id, renaming it with a stable
// suffix if that id is already taken. It returns the id the source was
// actually registered under.
func (r *Registry) Register(s Source) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := s.ID()
	if _, taken := r.sources[id]; taken {
		for i := 1; ; i++ {
			candidate := fmt.Sprintf("%s.%d", id, i)
			if _, taken := r.sources[candidate]; !taken {
				id = candidate
				break
			}
		}
	}
	r.sources[id] = s
	r.order = append(r.order, id)
	return id
}

// Get returns the source registered under id, if any.
func (r *Registry) Get(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	return s, ok
}

// GetMany resolves a comma-separated id_list in order, returning an error
// naming the first unknown id (client-invalid per the error taxonomy).
func (r *Registry) GetMany(idList string) ([]Source, error) {
	ids := strings.Split(idList, ",")
	out := make([]Source, 0, len(ids))
	for _, id := range ids {
		s, ok := r.Get(id)
		if !ok {
			return nil, &NotFoundError{ID: id}
		}
		out = append(out, s)
	}
	return out, nil
}

// Catalog returns a stable-ordered snapshot of every registered source.
func (r *Registry) Catalog() map[string]CatalogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]CatalogEntry, len(r.sources))
	for id, s := range r.sources {
		tj := s.TileJSON()
		out[id] = CatalogEntry{
			ContentType: s.TileInfo().Format.ContentType(),
			Name:        tj.Name,
			Description: tj.Description,
			Attribution: tj.Attribution,
		}
	}
	return out
}

// OrderedIDs returns registered ids in lexical order, not insertion order.
func (r *Registry) OrderedIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	sort.Strings(out) // deterministic enumeration for catalog listings
	return out
}

// NotFoundError is a not-found outcome: unknown source id. Dispatchers map
// it to HTTP 404.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("source: unknown source id %q", e.ID)
}
