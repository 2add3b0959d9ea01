package cascade

import (
	"fmt"

	"github.com/harrison/rootcause/internal/models"
)

// stage pairs a step predicate with the label returned when it fails.
type stage struct {
	pred  Predicate
	label models.RootCause
}

// Classify runs table against ev. Evaluation is strictly sequential and the
// first failing predicate wins: detection, interaction, timing, wrong choice,
// then transient errors, for each step in order. Confidence for every label is
// the table's configured constant.
//
// Classify never panics. A nil table yields UNKNOWN with confidence 0 and
// Success=false, as does a fault inside a predicate.
func Classify(table *Table, ev models.EvidenceBundle) (result models.DeterministicResult) {
	if table == nil {
		return models.DeterministicResult{
			Label:      models.Unknown,
			Confidence: 0,
			Steps:      []models.StepResult{},
			Success:    false,
			Error:      "no rule table registered for domain",
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = models.DeterministicResult{
				Domain:       table.Domain,
				Label:        models.Unknown,
				Confidence:   0,
				Steps:        result.Steps,
				Success:      false,
				TableVersion: table.Version,
				Error:        fmt.Sprintf("cascade fault: %v", r),
			}
		}
	}()

	result = models.DeterministicResult{
		Domain:       table.Domain,
		Steps:        make([]models.StepResult, 0, len(table.Steps)),
		Success:      true,
		TableVersion: table.Version,
	}

	for i, step := range table.Steps {
		sr, label, fired := evaluateStep(i+1, step, &ev)
		result.Steps = append(result.Steps, sr)
		if fired {
			result.Label = label
			result.FailingStep = i + 1
			result.Confidence = table.ConfidenceFor(label)
			applyLearned(table, &ev, &result)
			return result
		}
	}

	result.Label = models.Success
	result.Confidence = table.ConfidenceFor(models.Success)
	return result
}

func evaluateStep(number int, step Step, ev *models.EvidenceBundle) (models.StepResult, models.RootCause, bool) {
	sr := models.StepResult{
		Number:      number,
		Name:        step.Name,
		Description: step.Description,
		Success:     true,
	}

	stages := []stage{
		{step.Detect, models.DOMParsingFailure},
		{step.Interact, models.ElementInteractionFailure},
		{step.Timing, models.DynamicContentFailure},
		{step.WrongChoice, models.AgentReasoningFailure},
		{step.Transient, models.WebsiteStateFailure},
	}

	for _, s := range stages {
		if s.pred == nil {
			continue
		}
		check := s.pred.Evaluate(ev)
		if len(check.Detected) > 0 {
			sr.DetectedElements = append(sr.DetectedElements, check.Detected...)
		}
		if check.TimingMs != nil {
			ms := *check.TimingMs
			sr.TimingMs = &ms
		}
		if !check.OK {
			sr.Success = false
			sr.Error = check.Detail
			return sr, s.label, true
		}
	}
	return sr, "", false
}

// applyLearned overrides a non-SUCCESS step label with the first matching
// learned rule. The failing step is kept.
func applyLearned(table *Table, ev *models.EvidenceBundle, result *models.DeterministicResult) {
	for _, rule := range table.Learned {
		if rule.Matches(ev) {
			result.Label = rule.Label
			result.Confidence = rule.Confidence
			result.MatchedRule = rule.ID
			return
		}
	}
}
