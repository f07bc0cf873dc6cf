package behavior

import "math"

// Normalization bounds for clamped min-max scaling. KPM above 24 exceeds
// realistic sustained manual typing for novices; AD of 0.5 is one run every
// two minutes; idle beyond 60% of the session dominates it; focus violations
// past 10 add no diagnostic value.
const (
	minKPM = 5.0
	maxKPM = 24.0
	minAD  = 0.05
	maxAD  = 0.50
	minIR  = 0.0
	maxIR  = 0.60
	minFVC = 0.0
	maxFVC = 10.0
)

// Weights for the engagement formula. Keystroke activity is the primary
// indicator of active composition, run attempts reflect iterative effort,
// idle time and focus violations are conservative penalties.
const (
	weightKPM = 0.40
	weightAD  = 0.30
	weightIR  = 0.20
	weightFVC = 0.10
)

// Engagement classification labels.
const (
	LabelHigh       = "High Engagement"
	LabelModerate   = "Moderate Engagement"
	LabelLow        = "Low Engagement"
	LabelDisengaged = "Disengaged/Suspicious"
)

// CESResult is the bounded engagement score with its classification and a
// debug echo of the effective metrics that produced it.
type CESResult struct {
	CES            float64
	Classification string

	// Effective metrics, rounded for the wire: KPM and IR to 2 decimals,
	// AD to 4.
	KPM float64
	AD  float64
	IR  float64
}

// CESCalculator turns fused insights into a single score in [-1, 1].
type CESCalculator struct{}

// NewCESCalculator returns a ready-to-use calculator.
func NewCESCalculator() *CESCalculator {
	return &CESCalculator{}
}

// Calculate normalizes the effective metrics, applies the weights and the
// integrity penalty, and clamps the result. FVC uses the raw count; the
// fusion engine does not adjust it.
func (c *CESCalculator) Calculate(m SessionMetrics, insights FusionInsights) CESResult {
	kpmNorm := normalize(insights.EffectiveKPM, minKPM, maxKPM)
	adNorm := normalize(insights.EffectiveAD, minAD, maxAD)
	irNorm := normalize(insights.EffectiveIR, minIR, maxIR)
	fvcNorm := normalize(float64(m.FocusViolationCount), minFVC, maxFVC)

	productive := weightKPM*kpmNorm + weightAD*adNorm
	penalty := weightIR*irNorm + weightFVC*fvcNorm

	ces := productive - penalty - insights.IntegrityPenalty
	ces = math.Max(-1.0, math.Min(1.0, ces))

	return CESResult{
		CES:            round(ces, 4),
		Classification: classify(ces),
		KPM:            round(insights.EffectiveKPM, 2),
		AD:             round(insights.EffectiveAD, 4),
		IR:             round(insights.EffectiveIR, 2),
	}
}

// normalize performs clamped min-max scaling to [0, 1].
func normalize(value, min, max float64) float64 {
	if max-min == 0 {
		return 0
	}
	norm := (value - min) / (max - min)
	return math.Max(0, math.Min(1, norm))
}

func classify(score float64) string {
	switch {
	case score > 0.5:
		return LabelHigh
	case score > 0.2:
		return LabelModerate
	case score > 0.0:
		return LabelLow
	default:
		return LabelDisengaged
	}
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
