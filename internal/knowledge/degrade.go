package knowledge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Resilient wraps a durable backend with an in-memory fallback. The first
// connectivity failure flips the store into degraded mode for the remainder
// of the process lifetime; the degradation is logged once and the caller's
// operation is retried against the fallback instead of failing. Logical
// errors (dimension mismatch, unknown collection) pass through untouched.
type Resilient struct {
	lg       *slog.Logger
	primary  Store
	fallback *Memory

	mu       sync.Mutex
	degraded bool
	logOnce  sync.Once

	// Collections seen so far, replayed into the fallback on degradation so
	// in-flight callers keep working against the same schema.
	ensured map[string]int
}

// Open builds the process-wide knowledge store. With a non-empty dbPath the
// durable SQLite backend is primary; an open failure immediately degrades to
// in-memory. An empty dbPath selects the in-memory backend outright.
func Open(dbPath string, lg *slog.Logger) *Resilient {
	r := &Resilient{
		lg:       lg,
		fallback: NewMemory(),
		ensured:  make(map[string]int),
	}
	if dbPath == "" {
		r.degraded = true
		lg.Info("knowledge store running in-memory", "reason", "no database path configured")
		return r
	}
	primary, err := OpenSQLite(dbPath)
	if err != nil {
		r.degraded = true
		r.logOnce.Do(func() {
			lg.Warn("knowledge store degraded to in-memory", "path", dbPath, "error", err)
		})
		return r
	}
	r.primary = primary
	lg.Info("knowledge store opened", "path", dbPath)
	return r
}

func (r *Resilient) EnsureCollection(ctx context.Context, name string, dimension int) error {
	r.mu.Lock()
	r.ensured[name] = dimension
	r.mu.Unlock()

	err := r.backend().EnsureCollection(ctx, name, dimension)
	if r.shouldDegrade(err) {
		return r.fallback.EnsureCollection(ctx, name, dimension)
	}
	return err
}

func (r *Resilient) Put(ctx context.Context, collection string, payload map[string]any, vector []float32) (string, error) {
	id, err := r.backend().Put(ctx, collection, payload, vector)
	if r.shouldDegrade(err) {
		return r.fallback.Put(ctx, collection, payload, vector)
	}
	return id, err
}

func (r *Resilient) Search(ctx context.Context, collection string, query []float32, limit int, filter Filter) ([]Hit, error) {
	hits, err := r.backend().Search(ctx, collection, query, limit, filter)
	if r.shouldDegrade(err) {
		return r.fallback.Search(ctx, collection, query, limit, filter)
	}
	return hits, err
}

func (r *Resilient) Count(ctx context.Context, collection string) (int, error) {
	n, err := r.backend().Count(ctx, collection)
	if r.shouldDegrade(err) {
		return r.fallback.Count(ctx, collection)
	}
	return n, err
}

func (r *Resilient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.primary != nil {
		return r.primary.Close()
	}
	return nil
}

// Degraded reports whether the store is running on its in-memory fallback.
func (r *Resilient) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

func (r *Resilient) backend() Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.degraded || r.primary == nil {
		return r.fallback
	}
	return r.primary
}

// shouldDegrade inspects an operation error; on a connectivity failure it
// switches the store to the fallback (replaying known collections) and
// reports true so the caller retries there.
func (r *Resilient) shouldDegrade(err error) bool {
	if err == nil || !errors.Is(err, ErrConnectivity) {
		return false
	}
	r.mu.Lock()
	already := r.degraded
	r.degraded = true
	ensured := make(map[string]int, len(r.ensured))
	for k, v := range r.ensured {
		ensured[k] = v
	}
	r.mu.Unlock()

	if !already {
		r.logOnce.Do(func() {
			r.lg.Warn("knowledge store degraded to in-memory for the rest of the process", "error", err)
		})
		for name, dim := range ensured {
			_ = r.fallback.EnsureCollection(context.Background(), name, dim)
		}
	}
	return true
}
