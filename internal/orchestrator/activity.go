package orchestrator

import (
	"sync"
	"time"

	"github.com/gridmind/gridmind/internal/model"
)

// ActivityLog is the append-only audit trail for a run. Entries are never
// mutated or removed; readers get copies.
type ActivityLog struct {
	mu      sync.RWMutex
	entries []model.ActivityLogEntry
}

// NewActivityLog returns an empty log.
func NewActivityLog() *ActivityLog {
	return &ActivityLog{}
}

// Append records one entry with the current timestamp when none is set.
func (l *ActivityLog) Append(e model.ActivityLogEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// Tail returns the most recent n entries in chronological order. n <= 0 or
// n larger than the log returns everything.
func (l *ActivityLog) Tail(n int) []model.ActivityLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if n > 0 && n < len(l.entries) {
		start = len(l.entries) - n
	}
	out := make([]model.ActivityLogEntry, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}

// Len reports the number of entries recorded so far.
func (l *ActivityLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
