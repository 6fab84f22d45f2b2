package reasoning

import (
	"sync"

	"github.com/gridmind/gridmind/internal/model"
)

// ContextStore retains the last N analysis reports per building so that
// follow-up analyses can see what was concluded before. It replaces implicit
// conversational memory with an explicit, bounded buffer.
type ContextStore struct {
	mu      sync.RWMutex
	depth   int
	reports map[string][]model.AnalysisReport
}

// NewContextStore builds a store keeping up to depth reports per building.
// depth <= 0 selects 10.
func NewContextStore(depth int) *ContextStore {
	if depth <= 0 {
		depth = 10
	}
	return &ContextStore{depth: depth, reports: make(map[string][]model.AnalysisReport)}
}

// Record appends a report, evicting the oldest when the per-building buffer
// is full.
func (c *ContextStore) Record(report model.AnalysisReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := append(c.reports[report.BuildingID], report)
	if len(buf) > c.depth {
		buf = buf[len(buf)-c.depth:]
	}
	c.reports[report.BuildingID] = buf
}

// History returns the retained reports for a building, oldest first. The
// returned slice is a copy.
func (c *ContextStore) History(buildingID string) []model.AnalysisReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	buf := c.reports[buildingID]
	out := make([]model.AnalysisReport, len(buf))
	copy(out, buf)
	return out
}
