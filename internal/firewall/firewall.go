package firewall

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rbailabs/rbai/internal/llm"
)

// LanguageModel is the slice of the LLM client the firewall needs. Tests
// substitute a scripted fake.
type LanguageModel interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, chatHistory []llm.Message) (string, error)
	ValidateScope(ctx context.Context, userQuery, validatorSystem, validatorUser string) bool
	StreamComplete(ctx context.Context, systemPrompt, userPrompt string, chatHistory []llm.Message, onDelta func(string)) error
}

// ChatContext bundles everything known about one tutoring request.
type ChatContext struct {
	UserQuery          string
	ProblemDescription string
	ProblemID          string
	SessionID          string
	CurrentCode        string
	ChatHistory        []llm.Message

	// Behavioral context from telemetry, by state name.
	CognitiveState  string
	IterationState  string
	ProvenanceState string
}

// ChatResponse is the firewall's verdict and reply.
type ChatResponse struct {
	Message               string
	IsAllowed             bool
	Reasoning             string
	InterventionTriggered bool
}

// Firewall orchestrates scope gating, intervention policy and prompt
// assembly over the language model. It is stateless apart from the shared
// code store.
type Firewall struct {
	lm    LanguageModel
	store *CodeStore
	log   zerolog.Logger
}

func New(lm LanguageModel, store *CodeStore, log zerolog.Logger) *Firewall {
	return &Firewall{lm: lm, store: store, log: log}
}

// Process runs the full non-streaming pipeline: quick filter, optional model
// validation, intervention computation, prompt assembly, completion. LLM
// failures degrade to a fixed fallback message rather than an error.
func (f *Firewall) Process(ctx context.Context, cc ChatContext) ChatResponse {
	allowed, reason, intervention := f.gate(ctx, cc)
	if !allowed {
		return ChatResponse{Message: OutOfScopeResponse, IsAllowed: false, Reasoning: reason}
	}

	systemPrompt, userPrompt := f.assemblePrompt(cc)

	message, err := f.lm.Complete(ctx, systemPrompt, userPrompt, cc.ChatHistory)
	if err != nil {
		f.log.Error().Err(err).Msg("socratic completion failed")
		return ChatResponse{
			Message:               FallbackResponse,
			IsAllowed:             true,
			Reasoning:             ReasonLLMError,
			InterventionTriggered: intervention,
		}
	}

	return ChatResponse{
		Message:               message,
		IsAllowed:             true,
		Reasoning:             reason,
		InterventionTriggered: intervention,
	}
}

// Stream runs the same gating as Process but emits the reply incrementally.
// A rejected query emits the canned message as a single chunk. A mid-stream
// failure appends a brief apology; chunks already sent stand.
func (f *Firewall) Stream(ctx context.Context, cc ChatContext, onChunk func(string)) ChatResponse {
	allowed, reason, intervention := f.gate(ctx, cc)
	if !allowed {
		onChunk(OutOfScopeResponse)
		return ChatResponse{Message: OutOfScopeResponse, IsAllowed: false, Reasoning: reason}
	}

	systemPrompt, userPrompt := f.assemblePrompt(cc)

	if err := f.lm.StreamComplete(ctx, systemPrompt, userPrompt, cc.ChatHistory, onChunk); err != nil {
		f.log.Error().Err(err).Msg("streaming completion failed")
		onChunk("\n\nSorry, I encountered an error. Please try again.")
		return ChatResponse{IsAllowed: true, Reasoning: ReasonLLMError, InterventionTriggered: intervention}
	}

	return ChatResponse{IsAllowed: true, Reasoning: reason, InterventionTriggered: intervention}
}

// Hint generates a proactive nudge for a struggling student by running a
// synthetic stuck query through the standard pipeline. Intervention is
// always flagged; hints exist because the system decided to step in.
func (f *Firewall) Hint(ctx context.Context, problemDescription, currentCode, cognitiveState string) ChatResponse {
	hintQuery := "I'm stuck and need a hint to get started."
	if currentCode != "" {
		snippet := currentCode
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		hintQuery = fmt.Sprintf("I'm stuck. Here's my current code:\n```\n%s...\n```\nWhat should I focus on?", snippet)
	}

	if cognitiveState == "" {
		cognitiveState = "DISENGAGEMENT"
	}

	resp := f.Process(ctx, ChatContext{
		UserQuery:          hintQuery,
		ProblemDescription: problemDescription,
		CognitiveState:     cognitiveState,
	})
	resp.InterventionTriggered = true
	return resp
}

// gate runs scope filtering, model validation when needed, and the
// intervention decision.
func (f *Firewall) gate(ctx context.Context, cc ChatContext) (allowed bool, reason string, intervention bool) {
	allowed, reason = QuickFilter(cc.UserQuery)
	if !allowed {
		f.log.Warn().Str("reason", reason).Msg("request blocked by policy")
		return false, reason, false
	}

	if reason == ReasonNeedsValidation {
		if !f.lm.ValidateScope(ctx, cc.UserQuery, scopeValidatorSystem, cc.UserQuery) {
			f.log.Info().Msg("request rejected by model scope validator")
			return false, ReasonValidationFailed, false
		}
	}

	if cc.CognitiveState != "" && cc.IterationState != "" {
		intervention = ShouldIntervene(cc.CognitiveState, cc.IterationState)
		if intervention {
			f.log.Info().
				Str("cognitive", cc.CognitiveState).
				Str("iteration", cc.IterationState).
				Msg("intervention triggered")
		}
	}

	return true, reason, intervention
}

// assemblePrompt resolves code context and builds the prompt pair. Stored
// session code is used only when the request carried none of its own.
func (f *Firewall) assemblePrompt(cc ChatContext) (string, string) {
	code := cc.CurrentCode
	if code == "" && cc.SessionID != "" && cc.ProblemID != "" && f.store != nil {
		if stored, ok := f.store.Get(cc.SessionID, cc.ProblemID); ok {
			f.log.Debug().Str("session", cc.SessionID).Int("chars", len(stored)).Msg("retrieved code context")
			code = stored
		}
	}
	return BuildSocraticPrompt(cc.UserQuery, cc.ProblemDescription, code, cc.CognitiveState, cc.IterationState, cc.ProvenanceState)
}
