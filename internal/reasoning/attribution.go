package reasoning

import (
	"math"

	"github.com/gridmind/gridmind/internal/model"
)

// Factor names used in attribution maps. Stable strings: they appear in
// reports, knowledge payloads and dashboards.
const (
	FactorWeather       = "weather"
	FactorSolarGain     = "solar_gain"
	FactorOccupancy     = "occupancy"
	FactorBaselineDrift = "baseline_drift"
)

// Attributor assigns a contribution weight per driving factor for an
// anomaly. Weights are non-negative and sum to 1. Implementations must be
// deterministic so the same anomaly always yields the same attribution.
type Attributor interface {
	Attribute(rec model.AnomalyRecord, weather model.WeatherSnapshot) map[string]float64
}

// PhysicalAttributor derives attributions from first-order physical signals:
// outdoor temperature deviation from the comfort band, solar load, and the
// statistical distance from the peer baseline. It is a coarse heuristic, not
// a trained model, but it is reproducible.
type PhysicalAttributor struct {
	// ComfortTempC is the outdoor temperature at which HVAC load is assumed
	// minimal. Zero value selects 18 degrees.
	ComfortTempC float64
}

func (p PhysicalAttributor) Attribute(rec model.AnomalyRecord, weather model.WeatherSnapshot) map[string]float64 {
	comfort := p.ComfortTempC
	if comfort == 0 {
		comfort = 18
	}

	// Raw, dimensionless pressure per factor.
	raw := map[string]float64{
		FactorBaselineDrift: math.Min(math.Abs(rec.ZScore)/6, 1),
		FactorOccupancy:     0.15, // flat prior; no occupancy telemetry in the record
	}
	// An absent snapshot (zero timestamp) contributes nothing; a literal
	// zero-value read would count 0 degC as strong weather pressure.
	if !weather.Timestamp.IsZero() {
		raw[FactorWeather] = math.Abs(weather.TemperatureC-comfort) / 15
		raw[FactorSolarGain] = weather.SolarRadiationWM / 1000
	}

	total := 0.0
	for _, v := range raw {
		total += v
	}
	if total == 0 {
		return map[string]float64{FactorBaselineDrift: 1}
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		out[k] = v / total
	}
	return out
}

// dominantFactor returns the factor with the highest weight, with a fixed
// name-order tie-break for determinism.
func dominantFactor(attribution map[string]float64) string {
	best, bestW := "", -1.0
	for _, f := range []string{FactorBaselineDrift, FactorOccupancy, FactorSolarGain, FactorWeather} {
		if w, ok := attribution[f]; ok && w > bestW {
			best, bestW = f, w
		}
	}
	return best
}
