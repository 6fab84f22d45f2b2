package simulate

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gridmind/gridmind/internal/model"
)

func newTestSimulator() *Simulator {
	return New(nil, decimal.NewFromFloat(0.38), "EUR")
}

func TestSimulateKnownActions(t *testing.T) {
	s := newTestSimulator()
	for _, action := range KnownActions() {
		c := s.Simulate("bldg-1", action, 500)
		if c.SavingsFraction <= 0 || c.SavingsFraction >= 1 {
			t.Fatalf("%s: savings fraction %v out of (0,1)", action, c.SavingsFraction)
		}
		if c.ProjectedLoadKW >= c.CurrentLoadKW {
			t.Fatalf("%s: projected load %v not below current %v", action, c.ProjectedLoadKW, c.CurrentLoadKW)
		}
		if got, want := c.DailySavingsKWh, 500*c.SavingsFraction*24; math.Abs(got-want) > 1e-9 {
			t.Fatalf("%s: daily kWh = %v, want %v", action, got, want)
		}
		wantCost := decimal.NewFromFloat(c.DailySavingsKWh).Mul(decimal.NewFromFloat(0.38)).Round(2)
		if !c.DailyCostSavings.Equal(wantCost) {
			t.Fatalf("%s: daily cost savings = %s, want %s", action, c.DailyCostSavings, wantCost)
		}
		if c.Confidence <= 0 || c.Confidence > 1 {
			t.Fatalf("%s: confidence %v out of (0,1]", action, c.Confidence)
		}
	}
}

func TestSimulateFractionWithinProfileRange(t *testing.T) {
	s := newTestSimulator()
	for action, p := range actionProfiles {
		c := s.Simulate("bldg-1", action, 300)
		if c.SavingsFraction < p.minFraction || c.SavingsFraction > p.maxFraction {
			t.Fatalf("%s: fraction %v outside [%v,%v]", action, c.SavingsFraction, p.minFraction, p.maxFraction)
		}
	}
}

func TestSimulateUnknownActionFallsBack(t *testing.T) {
	s := newTestSimulator()
	c := s.Simulate("bldg-1", model.ActionType("fusion_reactor"), 400)
	if c.SavingsFraction < 0.03 || c.SavingsFraction > 0.08 {
		t.Fatalf("fallback fraction %v outside conservative range", c.SavingsFraction)
	}
	if c.Risk != model.RiskHigh {
		t.Fatalf("fallback risk = %s, want high", c.Risk)
	}
}

func TestConfidenceDecreasesWithRisk(t *testing.T) {
	s := newTestSimulator()
	minByRisk := map[model.RiskLevel]float64{model.RiskLow: 2, model.RiskMedium: 2, model.RiskHigh: 2}
	maxByRisk := map[model.RiskLevel]float64{}
	for _, action := range KnownActions() {
		c := s.Simulate("bldg-1", action, 500)
		if c.Confidence < minByRisk[c.Risk] {
			minByRisk[c.Risk] = c.Confidence
		}
		if c.Confidence > maxByRisk[c.Risk] {
			maxByRisk[c.Risk] = c.Confidence
		}
	}
	if minByRisk[model.RiskLow] <= maxByRisk[model.RiskMedium] {
		t.Fatalf("low-risk confidence floor %v not above medium-risk ceiling %v",
			minByRisk[model.RiskLow], maxByRisk[model.RiskMedium])
	}
	if minByRisk[model.RiskMedium] <= maxByRisk[model.RiskHigh] {
		t.Fatalf("medium-risk confidence floor %v not above high-risk ceiling %v",
			minByRisk[model.RiskMedium], maxByRisk[model.RiskHigh])
	}
}

func TestPaybackMonths(t *testing.T) {
	s := newTestSimulator()
	c := s.Simulate("bldg-1", model.ActionSetpointAdjustment, 500)
	monthly := c.DailyCostSavings.Mul(decimal.NewFromInt(30))
	want, _ := c.ImplementationCost.Div(monthly).Float64()
	if math.Abs(c.PaybackMonths-want) > 1e-9 {
		t.Fatalf("payback = %v, want %v", c.PaybackMonths, want)
	}

	// Zero load means zero savings: payback must report never, not divide.
	zero := s.Simulate("bldg-1", model.ActionSetpointAdjustment, 0)
	if !math.IsInf(zero.PaybackMonths, 1) {
		t.Fatalf("zero-savings payback = %v, want +Inf", zero.PaybackMonths)
	}
}

type fixedModel struct{ est Estimate }

func (m fixedModel) Impact(model.ActionType, float64) Estimate { return m.est }

func TestSimulateClampsModelOutput(t *testing.T) {
	s := New(fixedModel{Estimate{Fraction: 1.7, Confidence: 2.5, Risk: model.RiskLow}},
		decimal.NewFromFloat(0.38), "EUR")
	c := s.Simulate("bldg-1", model.ActionPreCooling, 100)
	if c.SavingsFraction != 1 {
		t.Fatalf("fraction not clamped: %v", c.SavingsFraction)
	}
	if c.Confidence != 1 {
		t.Fatalf("confidence not clamped: %v", c.Confidence)
	}
	if c.ProjectedLoadKW != 0 {
		t.Fatalf("projected load = %v, want 0 at full savings", c.ProjectedLoadKW)
	}
}

func TestSimulateDeterministic(t *testing.T) {
	s := newTestSimulator()
	a := s.Simulate("bldg-1", model.ActionPreCooling, 321.5)
	b := s.Simulate("bldg-1", model.ActionPreCooling, 321.5)
	if a.SavingsFraction != b.SavingsFraction || !a.DailyCostSavings.Equal(b.DailyCostSavings) {
		t.Fatalf("same input produced different estimates: %+v vs %+v", a, b)
	}
}
