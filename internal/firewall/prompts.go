package firewall

import (
	"fmt"
	"strings"
)

// scopeValidatorSystem is the system prompt for the low-token scope check.
const scopeValidatorSystem = `You are a scope validator. Determine if the user's request is about:
1. Getting help with algorithmic/coding problems
2. Understanding code concepts, debugging, or learning
3. Asking for hints or explanations

Respond with ONLY 'IN_SCOPE' or 'OUT_OF_SCOPE'. No explanations.`

// socraticTutorBase is the Socratic persona. The two placeholders are the
// problem description and the behavioral one-liner.
const socraticTutorBase = `You are a Socratic programming tutor for novice learners solving algorithmic puzzles.

STRICT RULES:
- NEVER give direct solutions or complete code
- Ask guiding questions that prompt thinking
- Give hints about approach, not implementation
- Keep responses under 100 tokens
- Use simple language for beginners

Context:
- Problem: %s
- Behavioral State: %s

Adapt your tone based on the learner's state.`

// stateAdjustments are the single tail clause appended for the dominant
// behavioral state.
var stateAdjustments = map[string]string{
	"DISENGAGEMENT":        "\n⚠️ INTERVENTION MODE: Student appears disengaged. Be more encouraging and provide a concrete starting point.",
	"RAPID_GUESSING":       "\n⚠️ Student is guessing rapidly. Slow them down with a reflective question about their approach.",
	"DELIBERATE_DEBUGGING": "\n✓ Student is debugging methodically. Support their process with targeted debugging hints.",
	"SUSPECTED_PASTE":      "\n⚠️ CRITICAL: Suspected code paste. Ask them to explain the code in their own words.",
	"ACTIVE":               "\n✓ Student is actively engaged. Provide subtle hints to maintain flow.",
}

// OutOfScopeResponse is the canned reply for rejected queries.
const OutOfScopeResponse = `I'm specifically designed to help you learn algorithmic problem-solving.

I can help you with:
✓ Understanding the problem
✓ Thinking through your approach
✓ Debugging your code
✓ Learning concepts

I cannot help with:
✗ Non-programming questions
✗ Complete solutions
✗ Unrelated tasks

Please ask about your coding problem, and I'll guide you!`

// FallbackResponse is returned when the LLM call fails.
const FallbackResponse = "I'm having trouble processing your request right now. Please try rephrasing your question or try again in a moment."

// maxCodeContextChars bounds the student-code block in the system prompt to
// keep token usage low.
const maxCodeContextChars = 800

// BuildSocraticPrompt assembles the (system, user) pair. The behavioral
// one-liner skips baseline states; the tail clause is chosen by priority
// paste/spam over rapid guessing over cognitive state. The user prompt is the
// learner's raw query; prior turns travel separately as chat history.
func BuildSocraticPrompt(userQuery, problemDescription, currentCode, cognitiveState, iterationState, provenanceState string) (string, string) {
	var parts []string
	if cognitiveState != "" {
		parts = append(parts, "Cognitive: "+cognitiveState)
	}
	if iterationState != "" && iterationState != "NORMAL" {
		parts = append(parts, "Iteration: "+iterationState)
	}
	if provenanceState != "" && provenanceState != "INCREMENTAL_EDIT" {
		parts = append(parts, "Code Pattern: "+provenanceState)
	}
	behavioralContext := "Normal engagement"
	if len(parts) > 0 {
		behavioralContext = strings.Join(parts, ", ")
	}

	systemPrompt := fmt.Sprintf(socraticTutorBase, problemDescription, behavioralContext)

	if currentCode != "" {
		code := currentCode
		if len(code) > maxCodeContextChars {
			code = code[:maxCodeContextChars] + "..."
		}
		systemPrompt += fmt.Sprintf("\n\nStudent's current code:\n```\n%s\n```", code)
	}

	primaryState := cognitiveState
	switch {
	case provenanceState == "SUSPECTED_PASTE" || provenanceState == "SPAMMING":
		primaryState = provenanceState
	case iterationState == "RAPID_GUESSING":
		primaryState = iterationState
	}
	if tail, ok := stateAdjustments[primaryState]; ok {
		systemPrompt += tail
	}

	return systemPrompt, userQuery
}
