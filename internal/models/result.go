package models

// StepResult is the evaluation of one cascade step.
// Created only by the cascade engine and never mutated afterwards.
type StepResult struct {
	Number           int      `json:"number" yaml:"number"` // 1-based, contiguous per rule table
	Name             string   `json:"name" yaml:"name"`
	Description      string   `json:"description" yaml:"description"`
	Success          bool     `json:"success" yaml:"success"`
	TimingMs         *int64   `json:"timing_ms,omitempty" yaml:"timing_ms,omitempty"`
	DetectedElements []string `json:"detected_elements,omitempty" yaml:"detected_elements,omitempty"`
	Error            string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// DeterministicResult is the output of one cascade engine run.
type DeterministicResult struct {
	Domain     string    `json:"domain" yaml:"domain"`
	Label      RootCause `json:"label" yaml:"label"`
	Confidence float64   `json:"confidence" yaml:"confidence"`

	// FailingStep is the 1-based number of the step that fired, or 0 when the
	// label is SUCCESS or the engine could not run.
	FailingStep int `json:"failing_step,omitempty" yaml:"failing_step,omitempty"`

	Steps []StepResult `json:"steps" yaml:"steps"`

	// Success reports whether the engine ran to completion, independent of the label.
	Success bool `json:"success" yaml:"success"`

	// TableVersion is the rule-table version the result was computed against.
	TableVersion int `json:"table_version" yaml:"table_version"`

	// MatchedRule names the learned rule that overrode the step label, if any.
	MatchedRule string `json:"matched_rule,omitempty" yaml:"matched_rule,omitempty"`

	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// HasFailingStep reports whether a step fired.
func (r DeterministicResult) HasFailingStep() bool {
	return r.FailingStep > 0
}
