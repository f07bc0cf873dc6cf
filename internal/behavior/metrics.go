// Package behavior implements the behavioral analysis engine: three
// decision-tree classifiers fused into a single insight record, and the
// Cognitive Engagement Score (CES) computed from the fused metrics.
package behavior

// SessionMetrics carries the raw per-session telemetry captured by the
// learning environment. It is the input DTO for the fusion engine; nothing
// here is interpreted or adjusted yet.
type SessionMetrics struct {
	// Base metrics
	DurationMinutes     float64 `json:"session_duration_minutes"`
	TotalKeystrokes     int     `json:"total_keystrokes"`
	TotalRunAttempts    int     `json:"total_run_attempts"`
	TotalIdleMinutes    float64 `json:"total_idle_minutes"`
	FocusViolationCount int     `json:"focus_violation_count"`
	NetCodeChange       int     `json:"net_code_change"`

	// Context signals for the decision trees
	LastEditSizeChars      int     `json:"last_edit_size_chars"`
	LastRunIntervalSeconds float64 `json:"last_run_interval_seconds"`
	IsSemanticChange       bool    `json:"is_semantic_change"`
	CurrentIdleDuration    float64 `json:"current_idle_duration"`
	IsWindowFocused        bool    `json:"is_window_focused"`
	LastRunWasError        bool    `json:"last_run_was_error"`

	// Characters typed in the trailing ~5-second window, used for burst
	// and paste detection.
	RecentBurstSizeChars int `json:"recent_burst_size_chars"`
}

// ProvenanceState classifies how the present code got there.
type ProvenanceState string

const (
	IncrementalEdit       ProvenanceState = "INCREMENTAL_EDIT"
	AuthenticRefactoring  ProvenanceState = "AUTHENTIC_REFACTORING"
	AmbiguousEdit         ProvenanceState = "AMBIGUOUS_EDIT"
	SuspectedPaste        ProvenanceState = "SUSPECTED_PASTE"
	Spamming              ProvenanceState = "SPAMMING"
)

// Label returns the human-readable form used on the telemetry wire.
func (s ProvenanceState) Label() string {
	switch s {
	case IncrementalEdit:
		return "Incremental Edit"
	case AuthenticRefactoring:
		return "Authentic Refactoring"
	case AmbiguousEdit:
		return "Ambiguous Large Edit"
	case SuspectedPaste:
		return "Suspected External Paste"
	case Spamming:
		return "Spamming/Gaming"
	}
	return string(s)
}

// IterationState classifies the learner's run-rerun cadence.
type IterationState string

const (
	IterationNormal      IterationState = "NORMAL"
	DeliberateDebugging  IterationState = "DELIBERATE_DEBUGGING"
	VerificationRun      IterationState = "VERIFICATION_RUN"
	MicroIteration       IterationState = "MICRO_ITERATION"
	RapidGuessing        IterationState = "RAPID_GUESSING"
)

// Label returns the human-readable form used on the telemetry wire.
func (s IterationState) Label() string {
	switch s {
	case IterationNormal:
		return "Normal"
	case DeliberateDebugging:
		return "Deliberate Debugging"
	case VerificationRun:
		return "Verification Run"
	case MicroIteration:
		return "Micro-Iteration"
	case RapidGuessing:
		return "Rapid-Fire Guessing"
	}
	return string(s)
}

// CognitiveState classifies the learner's current attentional posture.
type CognitiveState string

const (
	Active          CognitiveState = "ACTIVE"
	ReflectivePause CognitiveState = "REFLECTIVE_PAUSE"
	PassiveIdle     CognitiveState = "PASSIVE_IDLE"
	Disengagement   CognitiveState = "DISENGAGEMENT"
)

// Label returns the human-readable form used on the telemetry wire.
func (s CognitiveState) Label() string {
	switch s {
	case Active:
		return "Active"
	case ReflectivePause:
		return "Reflective Pause"
	case PassiveIdle:
		return "Passive Idle"
	case Disengagement:
		return "Disengagement"
	}
	return string(s)
}

// FusionInsights carries the qualitative classifications plus the effective
// metrics after non-productive activity has been filtered out.
type FusionInsights struct {
	ProvenanceState ProvenanceState
	IterationState  IterationState
	CognitiveState  CognitiveState

	// Effective metrics: raw values with spam keystrokes removed, guessing
	// runs discounted and reflective pauses excluded.
	EffectiveKPM float64
	EffectiveAD  float64
	EffectiveIR  float64

	// IntegrityPenalty is 0.5 when a paste is suspected, 0 otherwise.
	IntegrityPenalty float64
}
