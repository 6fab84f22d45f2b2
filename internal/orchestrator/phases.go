package orchestrator

import "sync"

// Cycle phases, in execution order.
const (
	PhaseMonitoring   = "monitoring"
	PhaseAnalysis     = "analysis"
	PhaseOptimization = "optimization"
)

// PhaseStatus is the lifecycle state of one phase.
type PhaseStatus string

const (
	StatusIdle   PhaseStatus = "idle"
	StatusActive PhaseStatus = "active"
	StatusError  PhaseStatus = "error"
)

// phaseTracker records per-phase status across a cycle. A phase ends in
// error only when it could not run at all; isolated per-building failures
// leave it idle.
type phaseTracker struct {
	mu       sync.RWMutex
	statuses map[string]PhaseStatus
	lastErr  map[string]string
}

func newPhaseTracker() *phaseTracker {
	return &phaseTracker{
		statuses: map[string]PhaseStatus{
			PhaseMonitoring:   StatusIdle,
			PhaseAnalysis:     StatusIdle,
			PhaseOptimization: StatusIdle,
		},
		lastErr: make(map[string]string),
	}
}

func (t *phaseTracker) begin(phase string) {
	t.mu.Lock()
	t.statuses[phase] = StatusActive
	delete(t.lastErr, phase)
	t.mu.Unlock()
}

// finish returns the phase to idle unless fail already marked it; the
// error state must stay visible after the phase method returns.
func (t *phaseTracker) finish(phase string) {
	t.mu.Lock()
	if t.statuses[phase] != StatusError {
		t.statuses[phase] = StatusIdle
	}
	t.mu.Unlock()
}

func (t *phaseTracker) fail(phase string, err error) {
	t.mu.Lock()
	t.statuses[phase] = StatusError
	t.lastErr[phase] = err.Error()
	t.mu.Unlock()
}

// Snapshot returns a copy of the current per-phase statuses.
func (t *phaseTracker) Snapshot() map[string]PhaseStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]PhaseStatus, len(t.statuses))
	for k, v := range t.statuses {
		out[k] = v
	}
	return out
}
