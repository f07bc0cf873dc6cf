// Package firewall gates all LLM tutoring: pattern-based scope filtering,
// model-based scope validation, behavioral intervention policy and Socratic
// prompt assembly, orchestrated over the LLM client.
package firewall

import (
	"regexp"
	"strings"
)

// Filter reason codes returned with each scope decision.
const (
	ReasonOutOfScopeDomain   = "OUT_OF_SCOPE_DOMAIN"
	ReasonBorderlineSolution = "BORDERLINE_SOLUTION_SEEKING"
	ReasonLearningOriented   = "LEARNING_ORIENTED"
	ReasonNeedsValidation    = "NEEDS_LLM_VALIDATION"
	ReasonValidationFailed   = "LLM_VALIDATION_FAILED"
	ReasonLLMError           = "LLM_ERROR"
)

// Patterns clearly out of scope: non-programming topics, unethical requests,
// credentials and PII, professional-advice domains.
var outOfScopePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(weather|news|sports|recipe|movie|music)\b`),
	regexp.MustCompile(`(?i)\b(hack|cheat|steal|plagiarize|copy)\b`),
	regexp.MustCompile(`(?i)\b(personal|address|phone|email|password)\b`),
	regexp.MustCompile(`(?i)\b(medical|legal|financial)\s+advice\b`),
}

// Patterns that look like solution-seeking. These are not auto-rejected; the
// Socratic prompt handles them.
var solutionSeekingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(write|code|implement|complete)\s+(the\s+)?(code|solution|function|program)`),
	regexp.MustCompile(`(?i)\bgive\s+me\s+(the\s+)?(answer|solution|code)`),
	regexp.MustCompile(`(?i)\bsolve\s+(this|the)\s+problem`),
	regexp.MustCompile(`(?i)\bshow\s+me\s+(the\s+)?(solution|code|answer)`),
}

// Keywords that indicate learning-oriented queries.
var learningKeywords = []string{
	// Understanding
	"how", "why", "what", "explain", "understand", "confused",
	"difference", "between", "mean", "means",

	// Problem-solving
	"hint", "stuck", "help", "approach", "strategy", "think",
	"start", "beginning", "idea",

	// Debugging
	"error", "bug", "wrong", "not working", "issue", "problem",
	"debug", "fix", "fail",

	// Concepts
	"algorithm", "complexity", "time", "space", "data structure",
	"loop", "recursion", "variable", "function",
}

// QuickFilter is the pattern-based fast path run before any LLM call.
// It rejects only clearly out-of-scope queries; everything else is allowed
// with a reason code that decides whether model validation follows.
func QuickFilter(userQuery string) (bool, string) {
	for _, p := range outOfScopePatterns {
		if p.MatchString(userQuery) {
			return false, ReasonOutOfScopeDomain
		}
	}

	for _, p := range solutionSeekingPatterns {
		if p.MatchString(userQuery) {
			return true, ReasonBorderlineSolution
		}
	}

	queryLower := strings.ToLower(userQuery)
	for _, kw := range learningKeywords {
		if strings.Contains(queryLower, kw) {
			return true, ReasonLearningOriented
		}
	}

	return true, ReasonNeedsValidation
}

// interventionUrgency maps cognitive states to how urgently the tutor should
// step in.
var interventionUrgency = map[string]int{
	"ACTIVE":           0,
	"REFLECTIVE_PAUSE": 1,
	"PASSIVE_IDLE":     2,
	"DISENGAGEMENT":    3,
}

// ShouldIntervene reports whether the behavioral state warrants proactive
// help. Problematic iteration patterns raise urgency to at least medium.
func ShouldIntervene(cognitiveState, iterationState string) bool {
	urgency := interventionUrgency[cognitiveState]
	if iterationState == "RAPID_GUESSING" || iterationState == "MICRO_ITERATION" {
		if urgency < 2 {
			urgency = 2
		}
	}
	return urgency >= 2
}
