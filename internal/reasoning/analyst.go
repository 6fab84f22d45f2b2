// Package reasoning ships the built-in analysis collaborator: a heuristic
// analyst that attributes an anomaly to physical driving factors, consults
// the knowledge store for precedent, and proposes intervention candidates.
// It fills the reasoning seam with a deterministic implementation; richer
// analysts plug in behind the same contract.
package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gridmind/gridmind/internal/knowledge"
	"github.com/gridmind/gridmind/internal/model"
	"github.com/gridmind/gridmind/internal/simulate"
)

// AnalysisError reports a failed analysis for one building. It wraps the
// underlying cause so callers can errors.Is/As through it.
type AnalysisError struct {
	BuildingID string
	Stage      string
	Err        error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed for %s at %s: %v", e.BuildingID, e.Stage, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// rootCauses maps the dominant attribution factor to a cause statement and
// the actions worth simulating against it.
var rootCauses = map[string]struct {
	cause   string
	actions []model.ActionType
}{
	FactorWeather: {
		"elevated thermal load from outdoor temperature deviation",
		[]model.ActionType{model.ActionPreCooling, model.ActionSetpointAdjustment, model.ActionThermalStorage},
	},
	FactorSolarGain: {
		"excess solar gain driving cooling demand",
		[]model.ActionType{model.ActionBlindAdjustment, model.ActionPreCooling},
	},
	FactorOccupancy: {
		"occupancy pattern mismatch with conditioning schedule",
		[]model.ActionType{model.ActionOccupancyScheduling, model.ActionSetpointAdjustment},
	},
	FactorBaselineDrift: {
		"consumption drift from peer baseline, likely HVAC schedule or equipment degradation",
		[]model.ActionType{model.ActionHVACOptimization, model.ActionSetpointAdjustment},
	},
}

// Analyst is the heuristic reasoning collaborator. Safe for concurrent use.
type Analyst struct {
	attributor Attributor
	simulator  *simulate.Simulator
	embedder   knowledge.Embedder
	clock      clockwork.Clock
	log        *slog.Logger
}

// NewAnalyst builds an analyst. A nil attributor selects PhysicalAttributor
// and a nil clock the real one.
func NewAnalyst(attributor Attributor, simulator *simulate.Simulator, embedder knowledge.Embedder, clock clockwork.Clock, lg *slog.Logger) *Analyst {
	if attributor == nil {
		attributor = PhysicalAttributor{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if lg == nil {
		lg = slog.Default()
	}
	return &Analyst{attributor: attributor, simulator: simulator, embedder: embedder, clock: clock, log: lg}
}

// Analyze produces an analysis report for one scored anomaly. The knowledge
// store is consulted for precedent and updated with the new pattern;
// store failures degrade the analysis (logged, confidence unboosted) but do
// not fail it. Only a missing root cause fails the call.
func (a *Analyst) Analyze(ctx context.Context, rec model.AnomalyRecord, building model.Building, weather model.WeatherSnapshot, store knowledge.Store, history []model.AnalysisReport) (model.AnalysisReport, error) {
	attribution := a.attributor.Attribute(rec, weather)
	factor := dominantFactor(attribution)
	rc, ok := rootCauses[factor]
	if !ok {
		return model.AnalysisReport{}, &AnalysisError{
			BuildingID: rec.BuildingID,
			Stage:      "attribution",
			Err:        fmt.Errorf("no root cause for factor %q", factor),
		}
	}

	confidence := baseConfidence(rec.Severity)

	description := fmt.Sprintf("%s building %s: %s (severity %s, z=%.2f, outdoor %.1fC)",
		building.Type, building.ID, rc.cause, rec.Severity, rec.ZScore, weather.TemperatureC)
	vector, err := a.embedder.Embed(ctx, description)
	if err != nil {
		a.log.Warn("embedding failed, skipping precedent lookup",
			"buildingId", rec.BuildingID, "error", err)
	} else {
		confidence = a.adjustFromPrecedent(ctx, store, vector, confidence, rec.BuildingID)
		a.recordPattern(ctx, store, vector, rec, building, rc.cause)
	}

	// Repeat findings for the same building raise confidence slightly: the
	// pattern persisted across cycles.
	for _, prior := range history {
		if prior.RootCause == rc.cause {
			confidence += 0.03
			break
		}
	}
	confidence = math.Min(confidence, 0.95)

	candidates := make([]model.InterventionCandidate, 0, len(rc.actions))
	for _, action := range rc.actions {
		candidates = append(candidates, a.simulator.Simulate(building.ID, action, rec.ConsumptionKW))
	}
	a.boostProvenSolutions(ctx, store, vector, candidates)

	return model.AnalysisReport{
		BuildingID:  rec.BuildingID,
		RootCause:   rc.cause,
		Confidence:  confidence,
		Attribution: attribution,
		Candidates:  candidates,
		CreatedAt:   a.clock.Now().UTC(),
	}, nil
}

func baseConfidence(severity model.Severity) float64 {
	switch severity {
	case model.SeverityCritical:
		return 0.82
	case model.SeverityHigh:
		return 0.76
	case model.SeverityMedium:
		return 0.68
	default:
		return 0.55
	}
}

// adjustFromPrecedent boosts confidence when the store already holds a very
// similar historical pattern.
func (a *Analyst) adjustFromPrecedent(ctx context.Context, store knowledge.Store, vector []float32, confidence float64, buildingID string) float64 {
	hits, err := store.Search(ctx, knowledge.CollectionPatterns, vector, 3, nil)
	if err != nil {
		a.log.Warn("precedent lookup failed", "buildingId", buildingID, "error", err)
		return confidence
	}
	for _, h := range hits {
		if h.Score >= 0.85 {
			return confidence + 0.05
		}
	}
	return confidence
}

// recordPattern persists the analyzed anomaly for future precedent lookups.
// Best effort: a write failure is logged and ignored.
func (a *Analyst) recordPattern(ctx context.Context, store knowledge.Store, vector []float32, rec model.AnomalyRecord, building model.Building, cause string) {
	_, err := store.Put(ctx, knowledge.CollectionPatterns, map[string]any{
		"buildingId": rec.BuildingID,
		"type":       building.Type,
		"severity":   string(rec.Severity),
		"score":      rec.Score,
		"rootCause":  cause,
		"observedAt": rec.Timestamp.Format(time.RFC3339),
	}, vector)
	if err != nil {
		a.log.Warn("pattern write failed", "buildingId", rec.BuildingID, "error", err)
	}
}

// boostProvenSolutions nudges candidate confidence up when the knowledge
// store records the same action as an effective historical solution.
func (a *Analyst) boostProvenSolutions(ctx context.Context, store knowledge.Store, vector []float32, candidates []model.InterventionCandidate) {
	if vector == nil {
		return
	}
	hits, err := knowledge.SearchSolutionsByEffectiveness(ctx, store, vector, 5, nil)
	if err != nil {
		a.log.Warn("solution lookup failed", "error", err)
		return
	}
	proven := make(map[model.ActionType]bool)
	for _, h := range hits {
		action, _ := h.Payload["action"].(string)
		if eff, ok := h.Payload["effectiveness"].(float64); ok && eff >= 0.75 && action != "" {
			proven[model.ActionType(action)] = true
		}
	}
	for i := range candidates {
		if proven[candidates[i].Action] {
			candidates[i].Confidence = math.Min(candidates[i].Confidence+0.05, 1)
		}
	}
}
