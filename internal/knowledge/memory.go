package knowledge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Memory is the in-memory Store backend. It is safe for concurrent use;
// writes are append-only and ids never collide.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dimension int
	entries   []Entry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

func (m *Memory) EnsureCollection(_ context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("collection %s: dimension must be positive", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		if c.dimension != dimension {
			return fmt.Errorf("collection %s already exists with dimension %d: %w", name, c.dimension, ErrDimensionMismatch)
		}
		return nil
	}
	m.collections[name] = &memCollection{dimension: dimension}
	return nil
}

func (m *Memory) Put(_ context.Context, collection string, payload map[string]any, vector []float32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return "", fmt.Errorf("put into %s: %w", collection, ErrUnknownCollection)
	}
	if len(vector) != c.dimension {
		return "", fmt.Errorf("put into %s: got %d dims, want %d: %w", collection, len(vector), c.dimension, ErrDimensionMismatch)
	}
	id := ulid.Make().String()
	vec := make([]float32, len(vector))
	copy(vec, vector)
	c.entries = append(c.entries, Entry{
		ID:        id,
		Vector:    vec,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	return id, nil
}

func (m *Memory) Search(_ context.Context, collection string, query []float32, limit int, filter Filter) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("search %s: %w", collection, ErrUnknownCollection)
	}
	if len(query) != c.dimension {
		return nil, fmt.Errorf("search %s: got %d dims, want %d: %w", collection, len(query), c.dimension, ErrDimensionMismatch)
	}
	if limit <= 0 {
		limit = 5
	}

	hits := make([]Hit, 0, len(c.entries))
	for _, e := range c.entries {
		if !matchesFilter(e.Payload, filter) {
			continue
		}
		hits = append(hits, Hit{ID: e.ID, Score: Cosine(query, e.Vector), Payload: e.Payload})
	}
	// Stable sort keeps insertion order for equal scores.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *Memory) Count(_ context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return 0, fmt.Errorf("count %s: %w", collection, ErrUnknownCollection)
	}
	return len(c.entries), nil
}

func (m *Memory) Close() error { return nil }
