package models

// AIAnalysisFailed is the root cause carried by a failed oracle consultation.
const AIAnalysisFailed = "AI_ANALYSIS_FAILED"

// WhyChain links a named cause to progressively deeper explanations.
type WhyChain struct {
	Cause string   `json:"cause" yaml:"cause"`
	Whys  []string `json:"whys" yaml:"whys"`
}

// AIFinding is the structured form of an oracle reply.
type AIFinding struct {
	// RootCauses is ranked; the first entry is the primary cause.
	RootCauses          []string  `json:"root_causes" yaml:"root_causes"`
	Label               RootCause `json:"label" yaml:"label"`
	WhyChain            WhyChain  `json:"why_chain" yaml:"why_chain"`
	ContributingFactors []string  `json:"contributing_factors,omitempty" yaml:"contributing_factors,omitempty"`
	Recommendations     []string  `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
	Confidence          float64   `json:"confidence" yaml:"confidence"`
	Summary             string    `json:"summary" yaml:"summary"`

	// Success is false only on transport or parse failure.
	Success   bool   `json:"success" yaml:"success"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	Backend   string `json:"backend,omitempty" yaml:"backend,omitempty"`
	LatencyMs int64  `json:"latency_ms" yaml:"latency_ms"`
}

// Primary returns the top-ranked root cause description.
func (f AIFinding) Primary() string {
	if len(f.RootCauses) == 0 {
		return ""
	}
	return f.RootCauses[0]
}

// FailedFinding builds the finding returned when the oracle could not be consulted.
func FailedFinding(reason string) AIFinding {
	return AIFinding{
		RootCauses: []string{AIAnalysisFailed},
		Label:      Unknown,
		WhyChain:   WhyChain{Cause: AIAnalysisFailed, Whys: []string{}},
		Confidence: 0,
		Summary:    reason,
		Success:    false,
		Error:      reason,
	}
}
