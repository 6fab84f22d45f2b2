package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLite is the durable Store backend. Vectors are stored as little-endian
// float32 blobs; similarity is computed in-process over the collection,
// which is fine at the scale of a building portfolio's pattern history.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the knowledge database at the given path.
func OpenSQLite(dbPath string) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create knowledge db dir: %w: %v", ErrConnectivity, err)
		}
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open knowledge db: %w: %v", ErrConnectivity, err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate knowledge db: %w: %v", ErrConnectivity, err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS collections (
		name      TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS entries (
		id         TEXT PRIMARY KEY,
		collection TEXT NOT NULL REFERENCES collections(name),
		vector     BLOB NOT NULL,
		payload    TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_collection ON entries(collection);
	`)
	return err
}

func (s *SQLite) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("collection %s: dimension must be positive", name)
	}
	var existing int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, name).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO collections (name, dimension) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
			name, dimension); err != nil {
			return fmt.Errorf("create collection %s: %w: %v", name, ErrConnectivity, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("lookup collection %s: %w: %v", name, ErrConnectivity, err)
	case existing != dimension:
		return fmt.Errorf("collection %s already exists with dimension %d: %w", name, existing, ErrDimensionMismatch)
	default:
		return nil
	}
}

func (s *SQLite) Put(ctx context.Context, collection string, payload map[string]any, vector []float32) (string, error) {
	dim, err := s.dimension(ctx, collection)
	if err != nil {
		return "", err
	}
	if len(vector) != dim {
		return "", fmt.Errorf("put into %s: got %d dims, want %d: %w", collection, len(vector), dim, ErrDimensionMismatch)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	id := ulid.Make().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (id, collection, vector, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, collection, encodeVector(vector), string(body), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w: %v", collection, ErrConnectivity, err)
	}
	return id, nil
}

func (s *SQLite) Search(ctx context.Context, collection string, query []float32, limit int, filter Filter) ([]Hit, error) {
	dim, err := s.dimension(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(query) != dim {
		return nil, fmt.Errorf("search %s: got %d dims, want %d: %w", collection, len(query), dim, ErrDimensionMismatch)
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vector, payload FROM entries WHERE collection = ? ORDER BY rowid`, collection)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w: %v", collection, ErrConnectivity, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id, body string
		var blob []byte
		if err := rows.Scan(&id, &blob, &body); err != nil {
			return nil, fmt.Errorf("scan %s: %w: %v", collection, ErrConnectivity, err)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			return nil, fmt.Errorf("decode payload %s: %w", id, err)
		}
		if !matchesFilter(payload, filter) {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: Cosine(query, decodeVector(blob)), Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w: %v", collection, ErrConnectivity, err)
	}
	// Rows arrive in insertion order; a stable sort keeps that order for
	// equal similarity scores.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *SQLite) Count(ctx context.Context, collection string) (int, error) {
	if _, err := s.dimension(ctx, collection); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE collection = ?`, collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w: %v", collection, ErrConnectivity, err)
	}
	return n, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) dimension(ctx context.Context, collection string) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, collection).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("collection %s: %w", collection, ErrUnknownCollection)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup collection %s: %w: %v", collection, ErrConnectivity, err)
	}
	return dim, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
