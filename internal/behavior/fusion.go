package behavior

// Heuristic thresholds calibrated for novice learners working 20-80 line
// algorithmic exercises in 15-60 minute sessions.
const (
	// Provenance tree
	largeInsertionChars = 30   // edits above this enter the large-insertion branch
	pasteMinEditChars   = 50   // strict paste check requires an edit larger than this
	pastePenalty        = 0.5  // integrity penalty applied on SUSPECTED_PASTE
	spamKeystrokeMin    = 200  // keystroke floor for the spam branch
	spamEfficiency      = 0.05 // net change per keystroke below this is spam
	burstMinChars       = 50   // burst-typing window, lower bound
	burstMaxChars       = 100  // burst-typing window, upper bound
	burstEfficiency     = 0.15 // efficiency ceiling inside the burst window

	// Iteration tree
	rapidIterationSeconds = 10.0 // run gaps under this are rapid
	rapidGuessingFactor   = 0.8  // fraction of runs kept when guessing

	// Cognitive tree
	reflectivePauseSeconds = 30.0
	// disengagementSeconds is the documented long-idle threshold. The idle
	// branch currently gates on reflectivePauseSeconds only; this constant is
	// retained until the classifier is recalibrated against session data.
	disengagementSeconds = 120.0
)

// FusionEngine evaluates the three decision trees (provenance, iteration,
// cognitive) over a single telemetry snapshot. It is stateless: every call
// classifies current telemetry only, with no memory of prior snapshots.
type FusionEngine struct{}

// NewFusionEngine returns a ready-to-use engine.
func NewFusionEngine() *FusionEngine {
	return &FusionEngine{}
}

// Analyze runs all three trees and returns the fused insight record.
func (e *FusionEngine) Analyze(m SessionMetrics) FusionInsights {
	provenance, effectiveKPM, penalty := e.classifyProvenance(m)
	iteration, effectiveAD := e.classifyIteration(m)
	cognitive, effectiveIR := e.classifyCognitive(m)

	return FusionInsights{
		ProvenanceState:  provenance,
		IterationState:   iteration,
		CognitiveState:   cognitive,
		EffectiveKPM:     effectiveKPM,
		EffectiveAD:      effectiveAD,
		EffectiveIR:      effectiveIR,
		IntegrityPenalty: penalty,
	}
}

// classifyProvenance decides how the current code most likely got there and
// nullifies keystroke credit for spam-like input.
func (e *FusionEngine) classifyProvenance(m SessionMetrics) (ProvenanceState, float64, float64) {
	state := IncrementalEdit
	penalty := 0.0

	rawKPM := 0.0
	if m.DurationMinutes > 0 {
		rawKPM = float64(m.TotalKeystrokes) / m.DurationMinutes
	}

	// Large insertions: compare the trailing typing burst against the edit
	// size. A big edit that was not typed is paste-shaped.
	if m.LastEditSizeChars > largeInsertionChars {
		ratio := float64(m.RecentBurstSizeChars) / float64(m.LastEditSizeChars)
		switch {
		case ratio < 0.2 && m.FocusViolationCount > 0 && m.LastEditSizeChars > pasteMinEditChars:
			state = SuspectedPaste
			penalty = pastePenalty
		case ratio > 0.8:
			state = AuthenticRefactoring
		default:
			state = AmbiguousEdit
		}
	}

	// Efficiency: net code produced per keystroke. Small sessions get the
	// benefit of the doubt.
	efficiency := 1.0
	if m.TotalKeystrokes > 50 {
		efficiency = float64(m.NetCodeChange) / float64(m.TotalKeystrokes)
	}

	// Strict secondary paste check: lots of code, few keystrokes, repeated
	// focus loss. Never downgrades an existing paste or spam verdict.
	if m.NetCodeChange > 200 &&
		float64(m.TotalKeystrokes) < 0.3*float64(m.NetCodeChange) &&
		m.FocusViolationCount > 2 &&
		state != SuspectedPaste && state != Spamming {
		state = SuspectedPaste
		penalty = pastePenalty
	}

	effectiveKPM := rawKPM
	switch {
	case m.TotalKeystrokes > spamKeystrokeMin && efficiency < spamEfficiency:
		effectiveKPM = 0
		state = Spamming
	case m.RecentBurstSizeChars >= burstMinChars && m.RecentBurstSizeChars <= burstMaxChars && efficiency < burstEfficiency:
		effectiveKPM = 0.5 * rawKPM
		// Only a plain incremental edit is promoted; paste and refactoring
		// verdicts from the branches above stand.
		if state == IncrementalEdit {
			state = Spamming
		}
	}

	return state, effectiveKPM, penalty
}

// classifyIteration reads the gap between the two most recent runs.
func (e *FusionEngine) classifyIteration(m SessionMetrics) (IterationState, float64) {
	state := IterationNormal
	effectiveRuns := float64(m.TotalRunAttempts)

	if m.LastRunIntervalSeconds < rapidIterationSeconds {
		switch {
		case !m.IsSemanticChange:
			state = RapidGuessing
			effectiveRuns *= rapidGuessingFactor
		case m.LastRunWasError:
			// A fast re-run straight after an error reads as trial-and-error
			// even when the code changed.
			state = RapidGuessing
			effectiveRuns *= rapidGuessingFactor
		default:
			state = MicroIteration
		}
	} else if m.IsSemanticChange {
		state = DeliberateDebugging
	} else {
		state = VerificationRun
	}

	effectiveAD := 0.0
	if m.DurationMinutes > 0 {
		effectiveAD = effectiveRuns / m.DurationMinutes
	}
	return state, effectiveAD
}

// classifyCognitive interprets the in-progress idle segment.
func (e *FusionEngine) classifyCognitive(m SessionMetrics) (CognitiveState, float64) {
	state := Active
	adjustedIdle := m.TotalIdleMinutes

	if m.CurrentIdleDuration > reflectivePauseSeconds {
		switch {
		case !m.IsWindowFocused:
			state = Disengagement
		case m.LastRunWasError:
			// Thinking about a failure is productive; exclude the pause from
			// the idle penalty.
			state = ReflectivePause
			adjustedIdle -= m.CurrentIdleDuration / 60
			if adjustedIdle < 0 {
				adjustedIdle = 0
			}
		default:
			state = PassiveIdle
		}
	}

	effectiveIR := 0.0
	if m.DurationMinutes > 0 {
		effectiveIR = adjustedIdle / m.DurationMinutes
	}
	return state, effectiveIR
}
