// Package orchestrator drives the decision loop: monitoring scores every
// building against its peer group, analysis explains the worst anomalies,
// optimization decides and actuates. Phases run in sequence; work inside a
// phase fans out over a bounded worker pool. One building's failure never
// aborts a phase, and a failed actuation is always reported as deferred.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/gridmind/gridmind/internal/actuation"
	"github.com/gridmind/gridmind/internal/anomaly"
	"github.com/gridmind/gridmind/internal/decide"
	"github.com/gridmind/gridmind/internal/knowledge"
	"github.com/gridmind/gridmind/internal/model"
	"github.com/gridmind/gridmind/internal/observability"
	"github.com/gridmind/gridmind/internal/reasoning"
	"github.com/gridmind/gridmind/internal/telemetry"
	"github.com/gridmind/gridmind/internal/weather"
)

// ErrStopped is returned from a cycle interrupted by Stop.
var ErrStopped = errors.New("orchestrator stopped")

// Reasoner explains one anomaly. Implementations must isolate their own
// state; the orchestrator calls them concurrently.
type Reasoner interface {
	Analyze(ctx context.Context, rec model.AnomalyRecord, building model.Building, snapshot model.WeatherSnapshot, store knowledge.Store, history []model.AnalysisReport) (model.AnalysisReport, error)
}

// Config holds the loop tunables.
type Config struct {
	Buildings []model.Building
	// TopK bounds how many anomalies enter analysis per cycle. Default 3.
	TopK int
	// AnomalyThreshold excludes low scores from analysis. Default 0.3.
	AnomalyThreshold float64
	// DecisionGate is the minimum report confidence for optimization.
	// Default 0.70.
	DecisionGate float64
	// Workers bounds intra-phase concurrency. Default 4.
	Workers int
	// CycleInterval is the pause between cycles in Run. Default 5 minutes.
	CycleInterval time.Duration
	// MaxCycles bounds Run; 0 means run until stopped.
	MaxCycles int
}

func (c *Config) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = 3
	}
	if c.AnomalyThreshold <= 0 {
		c.AnomalyThreshold = 0.3
	}
	if c.DecisionGate <= 0 {
		c.DecisionGate = 0.70
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = 5 * time.Minute
	}
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Source   telemetry.Source
	Weather  weather.Provider
	Reasoner Reasoner
	Actuator actuation.Actuator
	Engine   *decide.Engine
	Store    knowledge.Store
	// Embedder is used to index executed solutions; nil skips that.
	Embedder knowledge.Embedder
	// Metrics is optional.
	Metrics *observability.Metrics
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

// Failure is one isolated per-building error within a phase.
type Failure struct {
	BuildingID string `json:"buildingId"`
	Phase      string `json:"phase"`
	Reason     string `json:"reason"`
}

// CycleResult is everything one cycle produced.
type CycleResult struct {
	Cycle      int                     `json:"cycle"`
	StartedAt  time.Time               `json:"startedAt"`
	Duration   time.Duration           `json:"duration"`
	Records    []model.AnomalyRecord   `json:"records"`
	Reports    []model.AnalysisReport  `json:"reports"`
	Decisions  []model.Decision        `json:"decisions"`
	Executions []model.ExecutionRecord `json:"executions"`
	Failures   []Failure               `json:"failures"`
}

// Stats are cumulative counters across all cycles of a run.
type Stats struct {
	CyclesRun       int `json:"cyclesRun"`
	AnomaliesScored int `json:"anomaliesScored"`
	Executed        int `json:"executed"`
	Recommended     int `json:"recommended"`
	Deferred        int `json:"deferred"`
	Failures        int `json:"failures"`
}

type monitorOutcome struct {
	record  *model.AnomalyRecord
	failure *Failure
}

type analysisOutcome struct {
	report  *model.AnalysisReport
	rank    int
	failure *Failure
}

// Orchestrator owns all run state. Construct with New, drive with Run or
// RunCycle, and stop with Stop.
type Orchestrator struct {
	cfg       Config
	buildings map[string]model.Building

	source   telemetry.Source
	weather  weather.Provider
	reasoner Reasoner
	actuator actuation.Actuator
	engine   *decide.Engine
	store    knowledge.Store
	embedder knowledge.Embedder
	metrics  *observability.Metrics
	contexts *reasoning.ContextStore
	clock    clockwork.Clock
	log      *slog.Logger

	activity *ActivityLog
	phases   *phaseTracker

	monitorPool  pond.ResultPool[monitorOutcome]
	analysisPool pond.ResultPool[analysisOutcome]

	stopOnce sync.Once
	stopped  chan struct{}

	mu       sync.Mutex
	stats    Stats
	cycleN   int
	lastSeen CycleResult
}

// New validates the collaborators and builds an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	cfg.applyDefaults()
	if len(cfg.Buildings) == 0 {
		return nil, fmt.Errorf("no buildings configured")
	}
	if deps.Source == nil || deps.Weather == nil || deps.Reasoner == nil ||
		deps.Actuator == nil || deps.Engine == nil || deps.Store == nil {
		return nil, fmt.Errorf("missing collaborator: source, weather, reasoner, actuator, engine and store are required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	buildings := make(map[string]model.Building, len(cfg.Buildings))
	for _, b := range cfg.Buildings {
		if b.ID == "" {
			return nil, fmt.Errorf("building with empty id")
		}
		if _, dup := buildings[b.ID]; dup {
			return nil, fmt.Errorf("duplicate building id %s", b.ID)
		}
		buildings[b.ID] = b
	}
	return &Orchestrator{
		cfg:          cfg,
		buildings:    buildings,
		source:       deps.Source,
		weather:      deps.Weather,
		reasoner:     deps.Reasoner,
		actuator:     deps.Actuator,
		engine:       deps.Engine,
		store:        deps.Store,
		embedder:     deps.Embedder,
		metrics:      deps.Metrics,
		contexts:     reasoning.NewContextStore(10),
		clock:        deps.Clock,
		log:          deps.Logger,
		activity:     NewActivityLog(),
		phases:       newPhaseTracker(),
		monitorPool:  pond.NewResultPool[monitorOutcome](cfg.Workers),
		analysisPool: pond.NewResultPool[analysisOutcome](cfg.Workers),
		stopped:      make(chan struct{}),
	}, nil
}

// Stop requests a cooperative stop. Safe to call more than once and from any
// goroutine; the current phase finishes, later phases and cycles do not run.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopped) })
}

func (o *Orchestrator) isStopped() bool {
	select {
	case <-o.stopped:
		return true
	default:
		return false
	}
}

// Activity exposes the append-only audit trail.
func (o *Orchestrator) Activity() *ActivityLog { return o.activity }

// PhaseStatuses reports the current per-phase status.
func (o *Orchestrator) PhaseStatuses() map[string]PhaseStatus { return o.phases.Snapshot() }

// Stats returns a copy of the cumulative counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// LastResult returns the most recently completed cycle's output.
func (o *Orchestrator) LastResult() CycleResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSeen
}

// Run executes cycles until MaxCycles, Stop, or context cancellation. A
// failed cycle is logged and the run continues.
func (o *Orchestrator) Run(ctx context.Context) error {
	for n := 1; o.cfg.MaxCycles == 0 || n <= o.cfg.MaxCycles; n++ {
		if o.isStopped() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := o.RunCycle(ctx); err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			o.log.Error("cycle_failed", "cycle", n, "error", err)
		}
		if o.cfg.MaxCycles != 0 && n == o.cfg.MaxCycles {
			return nil
		}
		select {
		case <-o.clock.After(o.cfg.CycleInterval):
		case <-o.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// RunCycle executes one monitoring → analysis → optimization pass.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleResult, error) {
	o.mu.Lock()
	o.cycleN++
	cycle := o.cycleN
	o.mu.Unlock()

	started := o.clock.Now().UTC()
	result := CycleResult{Cycle: cycle, StartedAt: started}
	o.activity.Append(model.ActivityLogEntry{
		Phase: PhaseMonitoring, Agent: "orchestrator",
		Message: "cycle started", Data: map[string]any{"cycle": cycle},
	})

	records, failures := o.monitoring(ctx)
	result.Records = records
	result.Failures = append(result.Failures, failures...)
	if o.isStopped() {
		return o.finishCycle(result, started), ErrStopped
	}

	reports, failures := o.analysis(ctx, records)
	result.Reports = reports
	result.Failures = append(result.Failures, failures...)
	if o.isStopped() {
		return o.finishCycle(result, started), ErrStopped
	}

	decisions, executions, failures := o.optimization(ctx, reports)
	result.Decisions = decisions
	result.Executions = executions
	result.Failures = append(result.Failures, failures...)

	return o.finishCycle(result, started), nil
}

func (o *Orchestrator) finishCycle(result CycleResult, started time.Time) CycleResult {
	result.Duration = o.clock.Since(started)

	o.mu.Lock()
	o.stats.CyclesRun++
	o.stats.AnomaliesScored += len(result.Records)
	for _, d := range result.Decisions {
		switch d.Action {
		case model.ActionExecuted:
			o.stats.Executed++
		case model.ActionRecommended:
			o.stats.Recommended++
		default:
			o.stats.Deferred++
		}
	}
	o.stats.Failures += len(result.Failures)
	o.lastSeen = result
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.CycleCompleted(result.Duration)
		if r, ok := o.store.(interface{ Degraded() bool }); ok {
			o.metrics.SetKnowledgeDegraded(r.Degraded())
		}
	}
	o.activity.Append(model.ActivityLogEntry{
		Phase: PhaseOptimization, Agent: "orchestrator",
		Message: "cycle finished",
		Data: map[string]any{
			"cycle":     result.Cycle,
			"records":   len(result.Records),
			"reports":   len(result.Reports),
			"decisions": len(result.Decisions),
			"failures":  len(result.Failures),
		},
	})
	return result
}

// monitoring scores every configured building against its peer group.
func (o *Orchestrator) monitoring(ctx context.Context) ([]model.AnomalyRecord, []Failure) {
	o.phases.begin(PhaseMonitoring)
	defer o.phases.finish(PhaseMonitoring)

	var failures []Failure
	observations := make(map[string]model.Observation, len(o.cfg.Buildings))
	for _, b := range o.cfg.Buildings {
		obs, err := o.source.Latest(ctx, b.ID)
		if err != nil {
			failures = append(failures, o.recordFailure(b.ID, PhaseMonitoring, err))
			continue
		}
		observations[b.ID] = obs
	}

	group := o.monitorPool.NewGroupContext(ctx)
	for _, b := range o.cfg.Buildings {
		b := b
		obs, ok := observations[b.ID]
		if !ok {
			continue
		}
		group.SubmitErr(func() (monitorOutcome, error) {
			rec, err := o.scoreOne(b, obs, observations)
			if err != nil {
				f := o.recordFailure(b.ID, PhaseMonitoring, err)
				return monitorOutcome{failure: &f}, nil
			}
			return monitorOutcome{record: &rec}, nil
		})
	}
	outcomes, err := group.Wait()
	if err != nil {
		o.phases.fail(PhaseMonitoring, err)
		return nil, append(failures, Failure{Phase: PhaseMonitoring, Reason: err.Error()})
	}

	var records []model.AnomalyRecord
	for _, out := range outcomes {
		switch {
		case out.record != nil:
			records = append(records, *out.record)
			if o.metrics != nil {
				o.metrics.AnomalyScored(out.record.Severity)
			}
		case out.failure != nil:
			failures = append(failures, *out.failure)
		}
	}

	// Pool completion order is nondeterministic; restore ranking order.
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return records[i].BuildingID < records[j].BuildingID
	})

	o.activity.Append(model.ActivityLogEntry{
		Phase: PhaseMonitoring, Agent: "monitor",
		Message: "buildings scored",
		Data:    map[string]any{"scored": len(records), "failed": len(failures)},
	})
	return records, failures
}

// scoreOne computes one building's anomaly record from its peer group's
// latest loads.
func (o *Orchestrator) scoreOne(b model.Building, obs model.Observation, observations map[string]model.Observation) (model.AnomalyRecord, error) {
	var peerLoads []float64
	for _, peer := range o.cfg.Buildings {
		if peer.ID == b.ID || peer.PeerGroup != b.PeerGroup {
			continue
		}
		if peerObs, ok := observations[peer.ID]; ok {
			peerLoads = append(peerLoads, peerObs.LoadKW)
		}
	}
	mean, stddev, err := anomaly.PeerStats(peerLoads)
	if err != nil {
		return model.AnomalyRecord{}, fmt.Errorf("peer group %s: %w", b.PeerGroup, err)
	}
	res, err := anomaly.Score(obs.LoadKW, mean, stddev)
	if err != nil {
		return model.AnomalyRecord{}, fmt.Errorf("peer group %s: %w", b.PeerGroup, err)
	}
	return model.AnomalyRecord{
		BuildingID:       b.ID,
		Timestamp:        obs.Timestamp,
		Score:            res.Score,
		ZScore:           res.ZScore,
		Severity:         res.Severity,
		ConsumptionKW:    obs.LoadKW,
		NeighborMeanKW:   mean,
		NeighborStdDevKW: stddev,
		NeighborCount:    len(peerLoads),
	}, nil
}

// analysis explains the top-K anomalies above the threshold.
func (o *Orchestrator) analysis(ctx context.Context, records []model.AnomalyRecord) ([]model.AnalysisReport, []Failure) {
	o.phases.begin(PhaseAnalysis)
	defer o.phases.finish(PhaseAnalysis)

	var selected []model.AnomalyRecord
	for _, rec := range records {
		if rec.Score >= o.cfg.AnomalyThreshold {
			selected = append(selected, rec)
		}
		if len(selected) == o.cfg.TopK {
			break
		}
	}
	if len(selected) == 0 {
		o.activity.Append(model.ActivityLogEntry{
			Phase: PhaseAnalysis, Agent: "analyst", Message: "no anomalies above threshold",
		})
		return nil, nil
	}

	group := o.analysisPool.NewGroupContext(ctx)
	for rank, rec := range selected {
		rank, rec := rank, rec
		group.SubmitErr(func() (analysisOutcome, error) {
			building := o.buildings[rec.BuildingID]
			snapshot, err := o.weather.Forecast(ctx, building.Location)
			if err != nil {
				// Analysis still runs; attribution treats the zero
				// snapshot as having no weather signal.
				o.log.Warn("weather_unavailable", "buildingId", rec.BuildingID, "error", err)
			}
			report, err := o.reasoner.Analyze(ctx, rec, building, snapshot, o.store, o.contexts.History(rec.BuildingID))
			if err != nil {
				f := o.recordFailure(rec.BuildingID, PhaseAnalysis, err)
				return analysisOutcome{failure: &f}, nil
			}
			o.contexts.Record(report)
			return analysisOutcome{report: &report, rank: rank}, nil
		})
	}
	outcomes, err := group.Wait()
	if err != nil {
		o.phases.fail(PhaseAnalysis, err)
		return nil, []Failure{{Phase: PhaseAnalysis, Reason: err.Error()}}
	}

	var failures []Failure
	ranked := make([]*model.AnalysisReport, len(selected))
	for _, out := range outcomes {
		switch {
		case out.report != nil:
			ranked[out.rank] = out.report
		case out.failure != nil:
			failures = append(failures, *out.failure)
		}
	}
	var reports []model.AnalysisReport
	for _, r := range ranked {
		if r != nil {
			reports = append(reports, *r)
		}
	}

	o.activity.Append(model.ActivityLogEntry{
		Phase: PhaseAnalysis, Agent: "analyst",
		Message: "anomalies analyzed",
		Data:    map[string]any{"analyzed": len(reports), "failed": len(failures)},
	})
	return reports, failures
}

// optimization decides per report and dispatches executed actions.
// Dispatch is sequential: actuations are side effects and stay ordered.
func (o *Orchestrator) optimization(ctx context.Context, reports []model.AnalysisReport) ([]model.Decision, []model.ExecutionRecord, []Failure) {
	o.phases.begin(PhaseOptimization)
	defer o.phases.finish(PhaseOptimization)

	var (
		decisions  []model.Decision
		executions []model.ExecutionRecord
		failures   []Failure
	)
	for _, report := range reports {
		if report.Confidence < o.cfg.DecisionGate {
			o.activity.Append(model.ActivityLogEntry{
				Phase: PhaseOptimization, Agent: "optimizer",
				Message: "analysis below confidence gate",
				Data:    map[string]any{"buildingId": report.BuildingID, "confidence": report.Confidence},
			})
			continue
		}
		decision := o.engine.Decide(report)

		if decision.Action == model.ActionExecuted {
			record, err := o.dispatch(ctx, decision)
			if err != nil {
				failures = append(failures, o.recordFailure(decision.BuildingID, PhaseOptimization, err))
				decision.Action = model.ActionDeferred
				decision.Rationale = fmt.Sprintf("%s; actuation failed: %v", decision.Rationale, err)
				decision.MonitoringPlan = nil
			} else {
				executions = append(executions, record)
				o.recordSolution(ctx, report, decision)
			}
		}

		decisions = append(decisions, decision)
		if o.metrics != nil {
			o.metrics.DecisionEmitted(decision.Action)
		}
		o.activity.Append(model.ActivityLogEntry{
			Phase: PhaseOptimization, Agent: "optimizer",
			Message: "decision emitted",
			Data: map[string]any{
				"buildingId": decision.BuildingID,
				"action":     string(decision.Action),
				"rationale":  decision.Rationale,
			},
		})
	}
	return decisions, executions, failures
}

// dispatch sends the decision's command to the BMS and builds the audit
// record. A result with success=false is an error here; the caller
// downgrades the decision.
func (o *Orchestrator) dispatch(ctx context.Context, decision model.Decision) (model.ExecutionRecord, error) {
	cmd := model.CommandSpec{
		Type: decision.Selected.Action,
		Parameters: map[string]any{
			"targetLoadKw":    decision.Selected.ProjectedLoadKW,
			"savingsFraction": decision.Selected.SavingsFraction,
		},
	}
	start := o.clock.Now()
	res, err := o.actuator.Execute(ctx, decision.BuildingID, cmd)
	elapsed := o.clock.Since(start)
	if o.metrics != nil {
		o.metrics.ActuationObserved(elapsed)
	}
	if err != nil {
		return model.ExecutionRecord{}, err
	}
	// Actuators are not required to map a rejected command to an error; a
	// success=false result counts as a failed actuation either way.
	if !res.Success {
		return model.ExecutionRecord{}, fmt.Errorf("%w: %s", actuation.ErrActuationFailed, res.Message)
	}
	return model.ExecutionRecord{
		ID:         uuid.NewString(),
		BuildingID: decision.BuildingID,
		Command:    cmd,
		Result:     res,
		StartedAt:  start.UTC(),
		Duration:   elapsed,
	}, nil
}

// recordSolution indexes an executed intervention so future analyses can
// find it as precedent. Best effort.
func (o *Orchestrator) recordSolution(ctx context.Context, report model.AnalysisReport, decision model.Decision) {
	if o.embedder == nil {
		return
	}
	vec, err := o.embedder.Embed(ctx, report.RootCause)
	if err != nil {
		o.log.Warn("solution_embed_failed", "buildingId", report.BuildingID, "error", err)
		return
	}
	_, err = o.store.Put(ctx, knowledge.CollectionSolutions, map[string]any{
		"buildingId":    report.BuildingID,
		"rootCause":     report.RootCause,
		"action":        string(decision.Selected.Action),
		"effectiveness": decision.Selected.Confidence,
	}, vec)
	if err != nil {
		o.log.Warn("solution_write_failed", "buildingId", report.BuildingID, "error", err)
	}
}

func (o *Orchestrator) recordFailure(buildingID, phase string, err error) Failure {
	o.log.Warn("building_failed", "phase", phase, "buildingId", buildingID, "error", err)
	o.activity.Append(model.ActivityLogEntry{
		Phase: phase, Agent: phase,
		Message: "building skipped",
		Data:    map[string]any{"buildingId": buildingID, "reason": err.Error()},
	})
	if o.metrics != nil {
		o.metrics.PhaseFailure(phase)
	}
	return Failure{BuildingID: buildingID, Phase: phase, Reason: err.Error()}
}
