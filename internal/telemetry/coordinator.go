// Package telemetry glues raw session telemetry to the behavioral engines:
// fusion classification first, then the engagement score, flattened into a
// single wire record.
package telemetry

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/rbailabs/rbai/internal/behavior"
)

// Analysis is the flattened result of one telemetry tick: computed metrics,
// the engagement score, the three behavioral states as their human-readable
// labels, and the effective metrics after fusion adjustments.
type Analysis struct {
	KPM float64 `json:"kpm"`
	AD  float64 `json:"ad"`
	IR  float64 `json:"ir"`
	FVC int     `json:"fvc"`

	CES            float64 `json:"ces"`
	Classification string  `json:"ces_classification"`

	ProvenanceState string `json:"provenance_state"`
	IterationState  string `json:"iteration_state"`
	CognitiveState  string `json:"cognitive_state"`

	EffectiveKPM     float64 `json:"effective_kpm"`
	EffectiveAD      float64 `json:"effective_ad"`
	EffectiveIR      float64 `json:"effective_ir"`
	IntegrityPenalty float64 `json:"integrity_penalty"`

	Timestamp time.Time `json:"timestamp"`
}

// Coordinator owns the fusion engine and the score calculator. Both are
// stateless, so a single coordinator serves all sessions.
type Coordinator struct {
	fusion *behavior.FusionEngine
	calc   *behavior.CESCalculator
	log    zerolog.Logger
}

func NewCoordinator(log zerolog.Logger) *Coordinator {
	return &Coordinator{
		fusion: behavior.NewFusionEngine(),
		calc:   behavior.NewCESCalculator(),
		log:    log,
	}
}

// Analyze classifies one telemetry snapshot and computes its engagement
// score. The kpm/ad/ir fields carry the rounded effective values; the
// effective_* fields echo them unrounded for downstream consumers.
func (c *Coordinator) Analyze(m behavior.SessionMetrics) Analysis {
	insights := c.fusion.Analyze(m)
	result := c.calc.Calculate(m, insights)

	c.log.Info().
		Float64("ces", result.CES).
		Str("classification", result.Classification).
		Str("provenance", string(insights.ProvenanceState)).
		Str("iteration", string(insights.IterationState)).
		Str("cognitive", string(insights.CognitiveState)).
		Msg("telemetry analyzed")

	return Analysis{
		KPM:              result.KPM,
		AD:               result.AD,
		IR:               result.IR,
		FVC:              m.FocusViolationCount,
		CES:              result.CES,
		Classification:   result.Classification,
		ProvenanceState:  insights.ProvenanceState.Label(),
		IterationState:   insights.IterationState.Label(),
		CognitiveState:   insights.CognitiveState.Label(),
		EffectiveKPM:     insights.EffectiveKPM,
		EffectiveAD:      insights.EffectiveAD,
		EffectiveIR:      insights.EffectiveIR,
		IntegrityPenalty: insights.IntegrityPenalty,
		Timestamp:        time.Now(),
	}
}

// ExecutionFlags derives the behavioral flags attached to an execution
// response. Nil telemetry yields nil flags. When the client reports its last
// run timestamp the run interval is computed and rapid iteration (under ten
// seconds) is flagged for the fusion engine.
func ExecutionFlags(status string, executionTime float64, clientTelemetry map[string]any, now time.Time) map[string]any {
	if clientTelemetry == nil {
		return nil
	}

	flags := map[string]any{
		"last_run_was_error": status == "error",
		"execution_time":     executionTime,
		"timestamp":          now.Format(time.RFC3339),
	}

	if raw, ok := clientTelemetry["last_run_timestamp"].(string); ok {
		if lastRun, err := time.Parse(time.RFC3339, raw); err == nil {
			interval := now.Sub(lastRun).Seconds()
			flags["last_run_interval_seconds"] = interval
			if interval < 10 {
				flags["rapid_iteration"] = true
			}
		}
	}

	return flags
}
