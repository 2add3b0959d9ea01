package models

import (
	"fmt"
	"regexp"
	"strings"
)

// RootCause is a label from the closed failure taxonomy.
type RootCause string

// Root-cause taxonomy
const (
	DOMParsingFailure         RootCause = "DOM_PARSING_FAILURE"         // Expected control could not be located
	ElementInteractionFailure RootCause = "ELEMENT_INTERACTION_FAILURE" // Control located but not used successfully
	DynamicContentFailure     RootCause = "DYNAMIC_CONTENT_FAILURE"     // Content read before it could have rendered
	AgentReasoningFailure     RootCause = "AGENT_REASONING_FAILURE"     // Agent picked a plausible but wrong target
	WebsiteStateFailure       RootCause = "WEBSITE_STATE_FAILURE"       // Site returned transient or server errors
	Success                   RootCause = "SUCCESS"                     // Every step passed
	Unknown                   RootCause = "UNKNOWN"                     // No classification possible
)

// AnalysisFailureLabel is how an UNKNOWN produced by the fallback tier is shown to users.
const AnalysisFailureLabel = "ANALYSIS_FAILURE"

// AllRootCauses lists the taxonomy in declaration order.
var AllRootCauses = []RootCause{
	DOMParsingFailure,
	ElementInteractionFailure,
	DynamicContentFailure,
	AgentReasoningFailure,
	WebsiteStateFailure,
	Success,
	Unknown,
}

// Valid reports whether r is part of the taxonomy.
func (r RootCause) Valid() bool {
	for _, known := range AllRootCauses {
		if r == known {
			return true
		}
	}
	return false
}

// IsFailure reports whether r names an actual failure class (not SUCCESS or UNKNOWN).
func (r RootCause) IsFailure() bool {
	return r.Valid() && r != Success && r != Unknown
}

// String returns the label text.
func (r RootCause) String() string {
	return string(r)
}

// ParseRootCause converts a label string into a RootCause.
// Matching is case-insensitive and tolerates spaces or dashes instead of underscores.
func ParseRootCause(s string) (RootCause, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	rc := RootCause(normalized)
	if !rc.Valid() {
		return Unknown, fmt.Errorf("unknown root cause %q", s)
	}
	return rc, nil
}

var labelTokenRe = regexp.MustCompile(`(?i)\b(DOM_PARSING_FAILURE|ELEMENT_INTERACTION_FAILURE|DYNAMIC_CONTENT_FAILURE|AGENT_REASONING_FAILURE|WEBSITE_STATE_FAILURE)\b`)

// httpStatusRe matches a standalone 5xx code next to HTTP wording, so that
// durations such as "5000ms" or "1500ms" never read as server errors.
var httpStatusRe = regexp.MustCompile(`(?i)\b(?:(?:http(?:/[\d.]+)?|status(?:\s+code)?|server|returned|responded(?:\s+with)?|response|error|code|got)[\s:=(]+5\d\d\b|5\d\d\s+(?:internal|server|service|bad\s+gateway|gateway|error|response|status))`)

// labelHints maps free-text cues to taxonomy labels. Order matters: the first
// label with a matching hint wins, so the more specific classes come first.
var labelHints = []struct {
	label RootCause
	hints []string
}{
	{WebsiteStateFailure, []string{"server error", "internal server error", "service unavailable", "rate limit", "too many requests", "site was down", "website state", "maintenance", "bad gateway"}},
	{DynamicContentFailure, []string{"dynamic content", "not yet rendered", "not rendered", "still loading", "lazy load", "before the page loaded", "race condition", "asynchronous", "ajax", "render timing", "too early"}},
	{AgentReasoningFailure, []string{"wrong option", "wrong element", "incorrect choice", "chose the wrong", "selected the wrong", "misinterpreted", "reasoning", "hallucinat", "wrong target", "incorrect option"}},
	{ElementInteractionFailure, []string{"click failed", "could not click", "not clickable", "interaction failed", "element interaction", "intercepted", "not interactable", "obscured", "disabled element", "failed to type"}},
	{DOMParsingFailure, []string{"selector", "not found in the dom", "dom parsing", "could not locate", "could not find", "element not found", "missing element", "parse the page", "no such element"}},
}

// InferRootCause maps free text (typically an oracle's primary cause) onto the taxonomy.
// Explicit label tokens win; otherwise keyword hints are tried in order.
// Returns Unknown when nothing matches.
func InferRootCause(text string) RootCause {
	if text == "" {
		return Unknown
	}
	if m := labelTokenRe.FindString(text); m != "" {
		return RootCause(strings.ToUpper(m))
	}
	if httpStatusRe.MatchString(text) {
		return WebsiteStateFailure
	}

	lower := strings.ToLower(text)
	for _, entry := range labelHints {
		for _, hint := range entry.hints {
			if strings.Contains(lower, hint) {
				return entry.label
			}
		}
	}
	return Unknown
}

// Method identifies which tier produced a Hybrid Outcome.
type Method string

const (
	MethodDeterministic Method = "deterministic"
	MethodAI            Method = "ai"
	MethodFallback      Method = "fallback"
)

// LearningMode controls whether and when rule updates are applied.
type LearningMode string

const (
	LearningOff        LearningMode = "off"        // Nothing is recorded
	LearningPassive    LearningMode = "passive"    // Record and search; never apply
	LearningActive     LearningMode = "active"     // Propose; apply only after validation
	LearningAggressive LearningMode = "aggressive" // Propose and apply immediately
)

// ParseLearningMode validates a learning mode string.
func ParseLearningMode(s string) (LearningMode, error) {
	switch mode := LearningMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case LearningOff, LearningPassive, LearningActive, LearningAggressive:
		return mode, nil
	case "disabled", "none":
		return LearningOff, nil
	default:
		return "", fmt.Errorf("invalid learning mode %q, must be one of: off, passive, active, aggressive", s)
	}
}

// Records reports whether the mode persists outcomes at all.
func (m LearningMode) Records() bool {
	return m == LearningPassive || m == LearningActive || m == LearningAggressive
}

// Proposes reports whether the mode synthesizes rule updates.
func (m LearningMode) Proposes() bool {
	return m == LearningActive || m == LearningAggressive
}
