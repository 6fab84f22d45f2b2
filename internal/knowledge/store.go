// Package knowledge provides the similarity-indexed store for historical
// energy patterns, applied solutions and building insights.
//
// Two backends sit behind the Store interface: a durable SQLite index and an
// in-memory fallback. Backend selection and degradation on connectivity
// failure are transparent to callers; no caller ever branches on backend
// type.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Collection names used by the pipeline.
const (
	CollectionPatterns  = "energy_patterns"
	CollectionSolutions = "solutions"
	CollectionInsights  = "building_insights"
)

// DefaultDimension is the embedding width used for all built-in collections.
const DefaultDimension = 384

var (
	// ErrDimensionMismatch rejects writes and queries whose vector width
	// does not match the collection's configured dimension. The write causes
	// no partial state change.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrUnknownCollection is returned for operations against a collection
	// that was never created.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrConnectivity marks a durable-backend connectivity failure. The
	// resilient wrapper reacts to it by degrading to the in-memory backend.
	ErrConnectivity = errors.New("knowledge backend unreachable")
)

// Entry is one stored record with its embedding.
type Entry struct {
	ID        string
	Vector    []float32
	Payload   map[string]any
	CreatedAt time.Time
}

// Hit is one similarity search result.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Filter narrows a search to entries whose payload fields equal the given
// values. A nil or empty filter matches everything.
type Filter map[string]any

// Store is the similarity store contract shared by all backends.
type Store interface {
	// EnsureCollection creates the named collection with a fixed vector
	// dimension if it does not exist yet. It is idempotent and safe to call
	// repeatedly.
	EnsureCollection(ctx context.Context, name string, dimension int) error

	// Put stores a payload with its embedding and returns a fresh unique id.
	// Existing ids are never overwritten. A vector of the wrong width fails
	// with ErrDimensionMismatch and leaves the collection untouched.
	Put(ctx context.Context, collection string, payload map[string]any, vector []float32) (string, error)

	// Search returns up to limit entries ranked by descending cosine
	// similarity to the query vector. Ties are broken by insertion order,
	// earlier entries first.
	Search(ctx context.Context, collection string, query []float32, limit int, filter Filter) ([]Hit, error)

	// Count reports the number of entries in a collection.
	Count(ctx context.Context, collection string) (int, error)

	Close() error
}

// SearchSolutionsByEffectiveness runs a similarity search over the solutions
// collection and re-sorts the returned page by the payload-carried
// effectiveness value, descending. Which items were selected is still decided
// purely by similarity.
func SearchSolutionsByEffectiveness(ctx context.Context, s Store, query []float32, limit int, filter Filter) ([]Hit, error) {
	hits, err := s.Search(ctx, CollectionSolutions, query, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("search solutions: %w", err)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return effectiveness(hits[i]) > effectiveness(hits[j])
	})
	return hits, nil
}

func effectiveness(h Hit) float64 {
	switch v := h.Payload["effectiveness"].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Cosine computes the cosine similarity of two vectors. If either vector has
// zero norm the similarity is undefined and reported as 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func matchesFilter(payload map[string]any, f Filter) bool {
	for k, want := range f {
		got, ok := payload[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
