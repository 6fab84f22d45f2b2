// Package decide turns an analysis report into a terminal decision:
// execute, recommend, or defer. The engine is pure policy; it performs no
// I/O and never dispatches commands itself.
package decide

import (
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/gridmind/gridmind/internal/model"
)

// Thresholds are the policy knobs for the decision rule.
type Thresholds struct {
	// ExecuteConfidence is the exclusive lower bound for autonomous execution.
	ExecuteConfidence float64
	// RecommendConfidence is the exclusive lower bound for operator
	// recommendation.
	RecommendConfidence float64
	// MinSavingsFraction is the inclusive savings floor for autonomous
	// execution.
	MinSavingsFraction float64
}

// DefaultThresholds mirror the operating policy the platform ships with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ExecuteConfidence:   0.80,
		RecommendConfidence: 0.70,
		MinSavingsFraction:  0.10,
	}
}

// Engine applies the decision policy. Safe for concurrent use.
type Engine struct {
	thresholds Thresholds
	clock      clockwork.Clock
}

// New builds an engine; a nil clock selects the real one.
func New(thresholds Thresholds, clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{thresholds: thresholds, clock: clock}
}

// ExpectedValue scores a candidate: projected savings discounted by the
// analysis confidence, minus implementation cost discounted by risk weight.
// Currency figures stay in decimal arithmetic end to end.
func ExpectedValue(c model.InterventionCandidate, confidence float64) decimal.Decimal {
	gain := c.DailyCostSavings.Mul(decimal.NewFromFloat(confidence))
	penalty := c.ImplementationCost.Mul(decimal.NewFromFloat(c.Risk.Weight()))
	return gain.Sub(penalty).Round(4)
}

// Decide evaluates a report and returns the terminal decision for the
// building. The candidate with the highest expected value is considered for
// the rule; an empty candidate list defers outright.
func (e *Engine) Decide(report model.AnalysisReport) model.Decision {
	now := e.clock.Now().UTC()
	d := model.Decision{
		BuildingID: report.BuildingID,
		Action:     model.ActionDeferred,
		CreatedAt:  now,
	}
	if len(report.Candidates) == 0 {
		d.Rationale = "no intervention candidates produced"
		return d
	}

	best := pickBest(report.Candidates, report.Confidence)
	d.Selected = &best
	d.ExpectedValue = ExpectedValue(best, report.Confidence)

	// The rule gates on the analysis confidence, not the candidate's own
	// estimate: the candidate only contributes risk and savings.
	switch {
	case report.Confidence > e.thresholds.ExecuteConfidence &&
		best.Risk == model.RiskLow &&
		best.SavingsFraction >= e.thresholds.MinSavingsFraction:
		d.Action = model.ActionExecuted
		d.Rationale = fmt.Sprintf("%s: analysis confidence %.2f, low risk, %.0f%% projected savings",
			best.Action, report.Confidence, best.SavingsFraction*100)
		d.MonitoringPlan = monitoringPlan(now)
		d.RollbackCondition = fmt.Sprintf("load above %.1f kW or comfort complaint within 2h",
			best.CurrentLoadKW)
	case report.Confidence > e.thresholds.RecommendConfidence &&
		best.Risk == model.RiskMedium:
		d.Action = model.ActionRecommended
		d.Rationale = fmt.Sprintf("%s: analysis confidence %.2f with %s risk requires operator approval",
			best.Action, report.Confidence, best.Risk)
	default:
		d.Rationale = fmt.Sprintf("%s: analysis confidence %.2f and %s risk below action thresholds",
			best.Action, report.Confidence, best.Risk)
	}
	return d
}

// pickBest returns the candidate with the highest expected value. Ties break
// on higher confidence, then action name, so the choice is deterministic for
// identical inputs.
func pickBest(candidates []model.InterventionCandidate, confidence float64) model.InterventionCandidate {
	ranked := make([]model.InterventionCandidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		evi, evj := ExpectedValue(ranked[i], confidence), ExpectedValue(ranked[j], confidence)
		if !evi.Equal(evj) {
			return evi.GreaterThan(evj)
		}
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].Action < ranked[j].Action
	})
	return ranked[0]
}

// monitoringPlan schedules the three follow-up checks attached to every
// executed decision.
func monitoringPlan(from time.Time) []model.MonitoringCheck {
	return []model.MonitoringCheck{
		{At: from.Add(15 * time.Minute), Purpose: "verify no comfort alarms"},
		{At: from.Add(2 * time.Hour), Purpose: "confirm savings trend"},
		{At: from.Add(24 * time.Hour), Purpose: "full impact assessment"},
	}
}
