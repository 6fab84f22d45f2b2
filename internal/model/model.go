// Package model defines the entities shared across the decision pipeline:
// buildings, telemetry observations, anomaly records, analysis reports,
// intervention candidates and decisions.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Building identifies a monitored physical asset. Identity is immutable
// after onboarding.
type Building struct {
	ID        string `json:"buildingId"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	PeerGroup string `json:"peerGroup"`
	Location  string `json:"location"`
}

// Observation is one telemetry snapshot for a building. Observations are
// consumed read-only; they are never mutated after ingestion.
type Observation struct {
	BuildingID   string    `json:"buildingId"`
	Timestamp    time.Time `json:"timestamp"`
	LoadKW       float64   `json:"loadKw"`
	IndoorTempC  float64   `json:"indoorTempC"`
	OutdoorTempC float64   `json:"outdoorTempC"`
	Occupancy    int       `json:"occupancy"`
}

// Severity is the discrete bucket derived from an anomaly score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFor maps an anomaly score to its severity bucket. The mapping is
// monotonic non-decreasing in score.
func SeverityFor(score float64) Severity {
	switch {
	case score > 0.7:
		return SeverityCritical
	case score > 0.5:
		return SeverityHigh
	case score > 0.3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AnomalyRecord is the scoring output for one building in one cycle.
type AnomalyRecord struct {
	BuildingID       string    `json:"buildingId"`
	Timestamp        time.Time `json:"timestamp"`
	Score            float64   `json:"score"`
	ZScore           float64   `json:"zScore"`
	Severity         Severity  `json:"severity"`
	ConsumptionKW    float64   `json:"consumptionKw"`
	NeighborMeanKW   float64   `json:"neighborMeanKw"`
	NeighborStdDevKW float64   `json:"neighborStdDevKw"`
	NeighborCount    int       `json:"neighborCount"`
}

// WeatherSnapshot carries the forecast fields consumed by analysis.
type WeatherSnapshot struct {
	Location         string    `json:"location"`
	TemperatureC     float64   `json:"temperatureC"`
	HumidityPct      float64   `json:"humidityPct"`
	SolarRadiationWM float64   `json:"solarRadiationWm2"`
	Confidence       float64   `json:"confidence"`
	Timestamp        time.Time `json:"timestamp"`
}

// RiskLevel is the qualitative risk/complexity bucket of an intervention.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Weight returns the risk weight used in expected-value computation. Weights
// are strictly increasing low -> medium -> high.
func (r RiskLevel) Weight() float64 {
	switch r {
	case RiskLow:
		return 0.2
	case RiskMedium:
		return 0.5
	default:
		return 0.9
	}
}

// ActionType names a corrective intervention the simulator knows how to
// estimate.
type ActionType string

const (
	ActionPreCooling          ActionType = "pre_cooling"
	ActionBlindAdjustment     ActionType = "blind_adjustment"
	ActionHVACOptimization    ActionType = "hvac_optimization"
	ActionOccupancyScheduling ActionType = "occupancy_scheduling"
	ActionSetpointAdjustment  ActionType = "setpoint_adjustment"
	ActionThermalStorage      ActionType = "thermal_storage"
)

// InterventionCandidate is one simulated corrective action. Candidates are
// compared by the decision engine but never mutated.
type InterventionCandidate struct {
	Action             ActionType      `json:"action"`
	CurrentLoadKW      float64         `json:"currentLoadKw"`
	ProjectedLoadKW    float64         `json:"projectedLoadKw"`
	SavingsFraction    float64         `json:"savingsFraction"`
	DailySavingsKWh    float64         `json:"dailySavingsKwh"`
	DailyCostSavings   decimal.Decimal `json:"dailyCostSavings"`
	ImplementationCost decimal.Decimal `json:"implementationCost"`
	PaybackMonths      float64         `json:"paybackMonths"`
	Confidence         float64         `json:"confidence"`
	Risk               RiskLevel       `json:"risk"`
}

// AnalysisReport is the structured output of the reasoning collaborator for
// one building in one cycle.
type AnalysisReport struct {
	BuildingID  string                  `json:"buildingId"`
	RootCause   string                  `json:"rootCause"`
	Confidence  float64                 `json:"confidence"`
	Attribution map[string]float64      `json:"attribution,omitempty"`
	Candidates  []InterventionCandidate `json:"candidates"`
	CreatedAt   time.Time               `json:"createdAt"`
}

// ActionState is the terminal state of a decision.
type ActionState string

const (
	ActionExecuted    ActionState = "executed"
	ActionRecommended ActionState = "recommended"
	ActionDeferred    ActionState = "deferred"
)

// MonitoringCheck is one follow-up checkpoint attached to an executed
// decision.
type MonitoringCheck struct {
	At      time.Time `json:"at"`
	Purpose string    `json:"purpose"`
}

// Decision is the terminal choice for a building in a cycle.
type Decision struct {
	BuildingID        string                 `json:"buildingId"`
	Action            ActionState            `json:"action"`
	Selected          *InterventionCandidate `json:"selected,omitempty"`
	Rationale         string                 `json:"rationale"`
	ExpectedValue     decimal.Decimal        `json:"expectedValue"`
	MonitoringPlan    []MonitoringCheck      `json:"monitoringPlan,omitempty"`
	RollbackCondition string                 `json:"rollbackCondition,omitempty"`
	CreatedAt         time.Time              `json:"createdAt"`
}

// CommandSpec describes a control command dispatched to a building's BMS.
type CommandSpec struct {
	Type       ActionType     `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ExecutionResult is the actuation collaborator's response to a command.
type ExecutionResult struct {
	Success       bool   `json:"success"`
	RollbackToken string `json:"rollbackToken,omitempty"`
	Message       string `json:"message"`
}

// ExecutionRecord is the audit row for one dispatched command.
type ExecutionRecord struct {
	ID         string          `json:"id"`
	BuildingID string          `json:"buildingId"`
	Command    CommandSpec     `json:"command"`
	Result     ExecutionResult `json:"result"`
	StartedAt  time.Time       `json:"startedAt"`
	Duration   time.Duration   `json:"duration"`
}

// ActivityLogEntry is one append-only audit trail row.
type ActivityLogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Phase     string         `json:"phase"`
	Agent     string         `json:"agent"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}
