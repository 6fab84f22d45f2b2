// Package simulate estimates the savings, cost and risk profile of
// candidate corrective actions.
//
// The default impact model is a deterministic stand-in for a later
// physics/ML-based estimator. What matters and is preserved by the contract:
// the output schema, and that claimed confidence decreases as claimed risk
// increases. Tests inject their own ImpactModel.
package simulate

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/gridmind/gridmind/internal/model"
)

// Estimate is the raw output of an ImpactModel for one action on one load.
type Estimate struct {
	// Fraction of the current load removed by the action, in (0,1).
	Fraction float64
	// Confidence in the estimate, clamped to [0,1].
	Confidence float64
	Risk       model.RiskLevel
	// ImplementationCost in the configured currency.
	ImplementationCost decimal.Decimal
}

// ImpactModel produces impact estimates. Implementations must keep
// confidence monotonically non-increasing in risk.
type ImpactModel interface {
	Impact(action model.ActionType, currentLoadKW float64) Estimate
}

// Simulator turns impact estimates into full intervention candidates with
// energy and currency figures.
type Simulator struct {
	impact      ImpactModel
	tariffPerKW decimal.Decimal
	currency    string
}

// New builds a simulator. tariffPerKWh is the energy price in the configured
// currency; a nil model selects the default deterministic one.
func New(impact ImpactModel, tariffPerKWh decimal.Decimal, currency string) *Simulator {
	if impact == nil {
		impact = DefaultModel{}
	}
	return &Simulator{impact: impact, tariffPerKW: tariffPerKWh, currency: currency}
}

// Currency returns the currency code all monetary outputs are denominated in.
func (s *Simulator) Currency() string { return s.currency }

// Simulate estimates one candidate action against the building's current
// load. It never fails: unknown action types fall back to the model's
// conservative default so the decision engine always has a baseline.
func (s *Simulator) Simulate(buildingID string, action model.ActionType, currentLoadKW float64) model.InterventionCandidate {
	_ = buildingID // reserved for building-specific models
	est := s.impact.Impact(action, currentLoadKW)

	fraction := clamp01(est.Fraction)
	projected := currentLoadKW * (1 - fraction)
	dailyKWh := currentLoadKW * fraction * 24

	dailySavings := decimal.NewFromFloat(dailyKWh).Mul(s.tariffPerKW).Round(2)
	payback := paybackMonths(est.ImplementationCost, dailySavings)

	return model.InterventionCandidate{
		Action:             action,
		CurrentLoadKW:      currentLoadKW,
		ProjectedLoadKW:    projected,
		SavingsFraction:    fraction,
		DailySavingsKWh:    dailyKWh,
		DailyCostSavings:   dailySavings,
		ImplementationCost: est.ImplementationCost,
		PaybackMonths:      payback,
		Confidence:         clamp01(est.Confidence),
		Risk:               est.Risk,
	}
}

// paybackMonths is implementation cost divided by a month of savings. A zero
// savings stream never pays back; report a sentinel large horizon instead of
// dividing by zero.
func paybackMonths(cost, dailySavings decimal.Decimal) float64 {
	monthly := dailySavings.Mul(decimal.NewFromInt(30))
	if monthly.IsZero() {
		return math.Inf(1)
	}
	f, _ := cost.Div(monthly).Float64()
	return f
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// DefaultModel is the deterministic built-in estimator. Each known action
// maps to a fractional impact range; the model claims the range midpoint.
// Unknown actions get a conservative 3-8% default rather than an error.
type DefaultModel struct{}

type actionProfile struct {
	minFraction, maxFraction float64
	risk                     model.RiskLevel
	confidence               float64
	// Cost per kW of current load, a crude proxy for system size.
	costPerKW float64
}

// Per-risk confidence bands keep the contract's monotonic relation:
// every low-risk action claims more confidence than any medium-risk one,
// and medium more than high.
var actionProfiles = map[model.ActionType]actionProfile{
	model.ActionPreCooling:          {0.15, 0.20, model.RiskMedium, 0.78, 9},
	model.ActionBlindAdjustment:     {0.10, 0.15, model.RiskLow, 0.88, 4},
	model.ActionHVACOptimization:    {0.12, 0.18, model.RiskMedium, 0.76, 11},
	model.ActionOccupancyScheduling: {0.06, 0.10, model.RiskLow, 0.85, 3},
	model.ActionSetpointAdjustment:  {0.08, 0.12, model.RiskLow, 0.90, 2},
	model.ActionThermalStorage:      {0.18, 0.25, model.RiskHigh, 0.66, 40},
}

var fallbackProfile = actionProfile{0.03, 0.08, model.RiskHigh, 0.60, 6}

func (DefaultModel) Impact(action model.ActionType, currentLoadKW float64) Estimate {
	p, ok := actionProfiles[action]
	if !ok {
		p = fallbackProfile
	}
	fraction := (p.minFraction + p.maxFraction) / 2
	cost := decimal.NewFromFloat(p.costPerKW * math.Max(currentLoadKW, 0)).Round(2)
	return Estimate{
		Fraction:           fraction,
		Confidence:         p.confidence,
		Risk:               p.risk,
		ImplementationCost: cost,
	}
}

// KnownActions lists the action types the default model has profiles for,
// useful for enumerating candidates.
func KnownActions() []model.ActionType {
	return []model.ActionType{
		model.ActionPreCooling,
		model.ActionBlindAdjustment,
		model.ActionHVACOptimization,
		model.ActionOccupancyScheduling,
		model.ActionSetpointAdjustment,
		model.ActionThermalStorage,
	}
}
