package models

import "time"

// HybridOutcome is the user-facing classification result.
// Created once per request and persisted verbatim into the learning store.
type HybridOutcome struct {
	CaseID            string    `json:"case_id" yaml:"case_id"`
	TaskID            string    `json:"task_id" yaml:"task_id"`
	Domain            string    `json:"domain" yaml:"domain"`
	Label             RootCause `json:"label" yaml:"label"`
	Confidence        float64   `json:"confidence" yaml:"confidence"`
	Method            Method    `json:"primary_method" yaml:"primary_method"`
	OracleInvoked     bool      `json:"oracle_invoked" yaml:"oracle_invoked"`
	PatternDiscovered bool      `json:"pattern_discovered" yaml:"pattern_discovered"`
	RuleUpdates       []string  `json:"rule_updates" yaml:"rule_updates"`
	LatencyMs         int64     `json:"latency_ms" yaml:"latency_ms"`
	Timestamp         time.Time `json:"timestamp" yaml:"timestamp"`

	// States is the router path taken, e.g. START, DETERMINISTIC, ACCEPT, RECORD, DONE.
	States []string `json:"states" yaml:"states"`

	Deterministic *DeterministicResult `json:"deterministic,omitempty" yaml:"deterministic,omitempty"`
	AI            *AIFinding           `json:"ai,omitempty" yaml:"ai,omitempty"`
}

// DisplayLabel returns the label as shown to users. A fallback UNKNOWN is
// surfaced as ANALYSIS_FAILURE.
func (o HybridOutcome) DisplayLabel() string {
	if o.Method == MethodFallback && o.Label == Unknown {
		return AnalysisFailureLabel
	}
	return string(o.Label)
}
