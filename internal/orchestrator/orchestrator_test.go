package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/gridmind/gridmind/internal/actuation"
	"github.com/gridmind/gridmind/internal/decide"
	"github.com/gridmind/gridmind/internal/knowledge"
	"github.com/gridmind/gridmind/internal/model"
	"github.com/gridmind/gridmind/internal/reasoning"
	"github.com/gridmind/gridmind/internal/simulate"
	"github.com/gridmind/gridmind/internal/telemetry"
	"github.com/gridmind/gridmind/internal/weather"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeActuator records commands and answers with a scripted result.
type fakeActuator struct {
	fail     bool
	reject   bool
	commands []model.CommandSpec
}

func (f *fakeActuator) Execute(_ context.Context, buildingID string, cmd model.CommandSpec) (model.ExecutionResult, error) {
	f.commands = append(f.commands, cmd)
	if f.fail {
		return model.ExecutionResult{Success: false, Message: "bms offline"},
			errors.New("actuation rejected: bms offline")
	}
	if f.reject {
		return model.ExecutionResult{Success: false, Message: "rejected by bms"}, nil
	}
	return model.ExecutionResult{Success: true, RollbackToken: "rb", Message: "ok"}, nil
}

// fixedReasoner returns the same scripted report for every building.
type fixedReasoner struct {
	confidence float64
	candidate  model.InterventionCandidate
	err        error
	failFor    string
}

func (f *fixedReasoner) Analyze(_ context.Context, rec model.AnomalyRecord, _ model.Building, _ model.WeatherSnapshot, _ knowledge.Store, _ []model.AnalysisReport) (model.AnalysisReport, error) {
	if f.err != nil && (f.failFor == "" || f.failFor == rec.BuildingID) {
		return model.AnalysisReport{}, f.err
	}
	return model.AnalysisReport{
		BuildingID: rec.BuildingID,
		RootCause:  "scripted cause",
		Confidence: f.confidence,
		Candidates: []model.InterventionCandidate{f.candidate},
	}, nil
}

func executableCandidate() model.InterventionCandidate {
	return model.InterventionCandidate{
		Action:             model.ActionSetpointAdjustment,
		CurrentLoadKW:      900,
		ProjectedLoadKW:    765,
		SavingsFraction:    0.15,
		DailySavingsKWh:    900 * 0.15 * 24,
		DailyCostSavings:   decimal.NewFromFloat(1231.2),
		ImplementationCost: decimal.NewFromInt(400),
		Confidence:         0.85,
		Risk:               model.RiskLow,
	}
}

// flatPortfolio has five buildings in one peer group where the outlier's
// four peers carry identical loads: its peer spread is zero and it cannot
// be scored, while everyone else can.
func flatPortfolio() ([]model.Building, *telemetry.Static) {
	buildings := []model.Building{
		{ID: "b1", PeerGroup: "g", Location: "marina"},
		{ID: "b2", PeerGroup: "g", Location: "marina"},
		{ID: "b3", PeerGroup: "g", Location: "marina"},
		{ID: "b4", PeerGroup: "g", Location: "marina"},
		{ID: "outlier", PeerGroup: "g", Location: "marina"},
	}
	now := time.Now()
	source := telemetry.NewStatic(
		model.Observation{BuildingID: "b1", Timestamp: now, LoadKW: 400},
		model.Observation{BuildingID: "b2", Timestamp: now, LoadKW: 400},
		model.Observation{BuildingID: "b3", Timestamp: now, LoadKW: 400},
		model.Observation{BuildingID: "b4", Timestamp: now, LoadKW: 400},
		model.Observation{BuildingID: "outlier", Timestamp: now, LoadKW: 900},
	)
	return buildings, source
}

// spikedPortfolio has one clear anomaly: building d runs far above its
// tightly clustered peers, so it scores at the top of the range.
func spikedPortfolio() ([]model.Building, *telemetry.Static) {
	buildings := []model.Building{
		{ID: "a", PeerGroup: "g", Location: "marina"},
		{ID: "b", PeerGroup: "g", Location: "marina"},
		{ID: "c", PeerGroup: "g", Location: "marina"},
		{ID: "d", PeerGroup: "g", Location: "marina"},
	}
	now := time.Now()
	source := telemetry.NewStatic(
		model.Observation{BuildingID: "a", Timestamp: now, LoadKW: 400},
		model.Observation{BuildingID: "b", Timestamp: now, LoadKW: 410},
		model.Observation{BuildingID: "c", Timestamp: now, LoadKW: 390},
		model.Observation{BuildingID: "d", Timestamp: now, LoadKW: 900},
	)
	return buildings, source
}

func testStore(t *testing.T) knowledge.Store {
	t.Helper()
	s := knowledge.NewMemory()
	if err := knowledge.EnsureDefaultCollections(context.Background(), s, knowledge.DefaultDimension); err != nil {
		t.Fatalf("ensure collections: %v", err)
	}
	return s
}

func newOrchestrator(t *testing.T, cfg Config, deps Deps) *Orchestrator {
	t.Helper()
	if deps.Engine == nil {
		deps.Engine = decide.New(decide.DefaultThresholds(), clockwork.NewFakeClock())
	}
	if deps.Weather == nil {
		deps.Weather = weather.Static{Snapshot: model.WeatherSnapshot{TemperatureC: 30, Confidence: 1}}
	}
	if deps.Store == nil {
		deps.Store = testStore(t)
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewFakeClock()
	}
	deps.Logger = discardLogger()
	o, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func TestMonitoringIsolatesZeroSpreadPeerGroup(t *testing.T) {
	buildings, source := flatPortfolio()
	o := newOrchestrator(t, Config{Buildings: buildings}, Deps{
		Source:   source,
		Reasoner: &fixedReasoner{confidence: 0.9, candidate: executableCandidate()},
		Actuator: &fakeActuator{},
	})

	result, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(result.Records) != 4 {
		t.Fatalf("records = %d, want 4", len(result.Records))
	}
	if len(result.Failures) != 1 {
		t.Fatalf("failures = %+v, want exactly one", result.Failures)
	}
	f := result.Failures[0]
	if f.BuildingID != "outlier" || f.Phase != PhaseMonitoring {
		t.Fatalf("failure = %+v", f)
	}
	for _, rec := range result.Records {
		if rec.BuildingID == "outlier" {
			t.Fatalf("unscoreable building present in records")
		}
	}
}

func TestRecordsSortedByScoreThenID(t *testing.T) {
	buildings, source := spikedPortfolio()
	o := newOrchestrator(t, Config{Buildings: buildings}, Deps{
		Source:   source,
		Reasoner: &fixedReasoner{confidence: 0.9, candidate: executableCandidate()},
		Actuator: &fakeActuator{},
	})

	result, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(result.Records) != 4 {
		t.Fatalf("records = %d, want 4", len(result.Records))
	}
	if result.Records[0].BuildingID != "d" {
		t.Fatalf("top anomaly = %s, want d", result.Records[0].BuildingID)
	}
	for i := 1; i < len(result.Records); i++ {
		prev, cur := result.Records[i-1], result.Records[i]
		if prev.Score < cur.Score {
			t.Fatalf("records not sorted by score: %v then %v", prev.Score, cur.Score)
		}
		if prev.Score == cur.Score && prev.BuildingID > cur.BuildingID {
			t.Fatalf("tie not broken by id: %s then %s", prev.BuildingID, cur.BuildingID)
		}
	}
}

func TestExecutedDecisionDispatchesCommand(t *testing.T) {
	buildings, source := spikedPortfolio()
	act := &fakeActuator{}
	o := newOrchestrator(t, Config{Buildings: buildings}, Deps{
		Source:   source,
		Reasoner: &fixedReasoner{confidence: 0.9, candidate: executableCandidate()},
		Actuator: act,
	})

	result, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(result.Decisions) == 0 {
		t.Fatalf("no decisions emitted")
	}
	executed := 0
	for _, d := range result.Decisions {
		if d.Action == model.ActionExecuted {
			executed++
		}
	}
	if executed == 0 {
		t.Fatalf("no executed decisions despite executable candidate")
	}
	if len(act.commands) != executed {
		t.Fatalf("dispatched %d commands for %d executed decisions", len(act.commands), executed)
	}
	if len(result.Executions) != executed {
		t.Fatalf("execution records = %d, want %d", len(result.Executions), executed)
	}
	for _, rec := range result.Executions {
		if rec.ID == "" || !rec.Result.Success {
			t.Fatalf("execution record = %+v", rec)
		}
	}
}

func TestFailedActuationDowngradesToDeferred(t *testing.T) {
	buildings, source := spikedPortfolio()
	act := &fakeActuator{fail: true}
	o := newOrchestrator(t, Config{Buildings: buildings}, Deps{
		Source:   source,
		Reasoner: &fixedReasoner{confidence: 0.9, candidate: executableCandidate()},
		Actuator: act,
	})

	result, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(act.commands) == 0 {
		t.Fatalf("actuator never called")
	}
	for _, d := range result.Decisions {
		if d.Action == model.ActionExecuted {
			t.Fatalf("failed actuation reported as executed: %+v", d)
		}
		if d.Action != model.ActionDeferred {
			t.Fatalf("action = %s, want deferred", d.Action)
		}
		if d.Rationale == "" {
			t.Fatalf("downgraded decision lost its rationale")
		}
	}
	if len(result.Executions) != 0 {
		t.Fatalf("failed dispatch produced execution records: %+v", result.Executions)
	}
	found := false
	for _, f := range result.Failures {
		if f.Phase == PhaseOptimization {
			found = true
		}
	}
	if !found {
		t.Fatalf("actuation failure not recorded: %+v", result.Failures)
	}
}

// Some actuators report rejection only in the result payload, without a
// transport error. That still must never surface as an executed decision.
func TestRejectedResultDowngradesToDeferred(t *testing.T) {
	buildings, source := spikedPortfolio()
	act := &fakeActuator{reject: true}
	o := newOrchestrator(t, Config{Buildings: buildings}, Deps{
		Source:   source,
		Reasoner: &fixedReasoner{confidence: 0.9, candidate: executableCandidate()},
		Actuator: act,
	})

	result, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(act.commands) == 0 {
		t.Fatalf("actuator never called")
	}
	for _, d := range result.Decisions {
		if d.Action != model.ActionDeferred {
			t.Fatalf("success=false result reported as %s: %+v", d.Action, d)
		}
	}
	if len(result.Executions) != 0 {
		t.Fatalf("rejected command produced execution records: %+v", result.Executions)
	}
	found := false
	for _, f := range result.Failures {
		if f.Phase == PhaseOptimization {
			found = true
		}
	}
	if !found {
		t.Fatalf("rejection not recorded as an optimization failure: %+v", result.Failures)
	}
}

func TestConfidenceGateSkipsDecision(t *testing.T) {
	buildings, source := spikedPortfolio()
	o := newOrchestrator(t, Config{Buildings: buildings}, Deps{
		Source:   source,
		Reasoner: &fixedReasoner{confidence: 0.5, candidate: executableCandidate()},
		Actuator: &fakeActuator{},
	})

	result, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(result.Reports) == 0 {
		t.Fatalf("no reports produced")
	}
	if len(result.Decisions) != 0 {
		t.Fatalf("low-confidence reports produced decisions: %+v", result.Decisions)
	}
}

func TestAnalysisFailureIsolated(t *testing.T) {
	buildings, source := spikedPortfolio()
	o := newOrchestrator(t, Config{Buildings: buildings}, Deps{
		Source:   source,
		Reasoner: &fixedReasoner{confidence: 0.9, candidate: executableCandidate(), err: errors.New("analyst crashed"), failFor: "d"},
		Actuator: &fakeActuator{},
	})

	result, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	for _, r := range result.Reports {
		if r.BuildingID == "d" {
			t.Fatalf("failed building produced a report")
		}
	}
	found := false
	for _, f := range result.Failures {
		if f.BuildingID == "d" && f.Phase == PhaseAnalysis {
			found = true
		}
	}
	if !found {
		t.Fatalf("analysis failure not recorded: %+v", result.Failures)
	}
}

func TestTopKBoundsAnalysis(t *testing.T) {
	buildings, source := spikedPortfolio()
	o := newOrchestrator(t, Config{Buildings: buildings, TopK: 1, AnomalyThreshold: 0.05}, Deps{
		Source:   source,
		Reasoner: &fixedReasoner{confidence: 0.9, candidate: executableCandidate()},
		Actuator: &fakeActuator{},
	})

	result, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(result.Reports) != 1 {
		t.Fatalf("reports = %d, want exactly 1 with TopK=1 and low threshold", len(result.Reports))
	}
	if result.Reports[0].BuildingID != "d" {
		t.Fatalf("top-1 analysis went to %s, want d", result.Reports[0].BuildingID)
	}
}

func TestStopBetweenPhases(t *testing.T) {
	buildings, source := spikedPortfolio()
	o := newOrchestrator(t, Config{Buildings: buildings}, Deps{
		Source:   source,
		Reasoner: &fixedReasoner{confidence: 0.9, candidate: executableCandidate()},
		Actuator: &fakeActuator{},
	})

	o.Stop()
	_, err := o.RunCycle(context.Background())
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	// Stop is idempotent.
	o.Stop()
}

func TestStatsAccumulate(t *testing.T) {
	buildings, source := spikedPortfolio()
	o := newOrchestrator(t, Config{Buildings: buildings}, Deps{
		Source:   source,
		Reasoner: &fixedReasoner{confidence: 0.9, candidate: executableCandidate()},
		Actuator: &fakeActuator{},
	})

	for i := 0; i < 2; i++ {
		if _, err := o.RunCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	stats := o.Stats()
	if stats.CyclesRun != 2 {
		t.Fatalf("cycles = %d, want 2", stats.CyclesRun)
	}
	if stats.AnomaliesScored != 8 {
		t.Fatalf("anomalies = %d, want 8", stats.AnomaliesScored)
	}
	if stats.Failures != 0 {
		t.Fatalf("failures = %d, want 0", stats.Failures)
	}
	if stats.Executed != 2 {
		t.Fatalf("executed = %d, want 2", stats.Executed)
	}
}

func TestActivityLogTail(t *testing.T) {
	log := NewActivityLog()
	for i := 0; i < 10; i++ {
		log.Append(model.ActivityLogEntry{Phase: PhaseMonitoring, Agent: "test", Message: "entry", Data: map[string]any{"i": i}})
	}
	tail := log.Tail(3)
	if len(tail) != 3 {
		t.Fatalf("tail = %d entries, want 3", len(tail))
	}
	if tail[2].Data["i"] != 9 {
		t.Fatalf("tail not chronological: %+v", tail)
	}
	if got := log.Tail(0); len(got) != 10 {
		t.Fatalf("tail(0) = %d entries, want all 10", len(got))
	}
	if log.Len() != 10 {
		t.Fatalf("len = %d", log.Len())
	}
}

func TestExecutedSolutionIndexed(t *testing.T) {
	buildings, source := spikedPortfolio()
	store := testStore(t)
	o := newOrchestrator(t, Config{Buildings: buildings}, Deps{
		Source:   source,
		Reasoner: &fixedReasoner{confidence: 0.9, candidate: executableCandidate()},
		Actuator: &fakeActuator{},
		Store:    store,
		Embedder: knowledge.NewHashEmbedder(knowledge.DefaultDimension),
	})

	result, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(result.Executions) == 0 {
		t.Fatalf("no executions, test premise broken")
	}
	n, err := store.Count(context.Background(), knowledge.CollectionSolutions)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != len(result.Executions) {
		t.Fatalf("solutions indexed = %d, want %d", n, len(result.Executions))
	}
}

func TestRunHonorsMaxCycles(t *testing.T) {
	buildings, source := spikedPortfolio()
	o := newOrchestrator(t, Config{Buildings: buildings, MaxCycles: 2, CycleInterval: time.Millisecond}, Deps{
		Source:   source,
		Reasoner: &fixedReasoner{confidence: 0.9, candidate: executableCandidate()},
		Actuator: &fakeActuator{},
		Clock:    clockwork.NewRealClock(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := o.Stats().CyclesRun; got != 2 {
		t.Fatalf("cycles run = %d, want 2", got)
	}
}

func TestPhaseStatusesIdleAfterCycle(t *testing.T) {
	buildings, source := spikedPortfolio()
	o := newOrchestrator(t, Config{Buildings: buildings}, Deps{
		Source:   source,
		Reasoner: &fixedReasoner{confidence: 0.9, candidate: executableCandidate()},
		Actuator: &fakeActuator{},
	})
	if _, err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	for phase, status := range o.PhaseStatuses() {
		if status != StatusIdle {
			t.Fatalf("phase %s = %s, want idle", phase, status)
		}
	}
}

func TestRealCollaboratorsEndToEnd(t *testing.T) {
	buildings, source := spikedPortfolio()
	sim := simulate.New(nil, decimal.NewFromFloat(0.38), "EUR")
	analyst := reasoning.NewAnalyst(nil, sim, knowledge.NewHashEmbedder(knowledge.DefaultDimension), clockwork.NewFakeClock(), discardLogger())
	o := newOrchestrator(t, Config{Buildings: buildings}, Deps{
		Source:   source,
		Reasoner: analyst,
		Actuator: actuation.NewSimulated(discardLogger()),
	})

	result, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(result.Records) != 4 {
		t.Fatalf("records = %d, want 4", len(result.Records))
	}
	if len(result.Reports) == 0 {
		t.Fatalf("heuristic analyst produced no reports")
	}
	for _, d := range result.Decisions {
		if d.Action == "" {
			t.Fatalf("decision missing action: %+v", d)
		}
	}
}
