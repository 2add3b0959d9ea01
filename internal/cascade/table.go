package cascade

import (
	"fmt"
	"strings"

	"github.com/harrison/rootcause/internal/models"
)

// Step is a compiled cascade step. Nil predicates are skipped.
type Step struct {
	Name        string
	Description string
	Detect      Predicate
	Interact    Predicate
	Timing      Predicate
	WrongChoice Predicate
	Transient   Predicate
}

// LearnedRule is a compiled learned rule.
type LearnedRule struct {
	ID          string
	Keywords    []string
	DOMPatterns []string
	Frameworks  []string
	Label       models.RootCause
	Confidence  float64
	MinMatch    float64
}

// Table is a compiled, read-only rule table.
type Table struct {
	Domain            string
	Version           int
	Keywords          []string
	Confidence        map[models.RootCause]float64
	DefaultConfidence float64
	Steps             []Step
	Learned           []LearnedRule
}

// Compile validates spec and builds its predicate table at the given version.
func Compile(spec TableSpec, version int) (*Table, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	t := &Table{
		Domain:            spec.Domain,
		Version:           version,
		Keywords:          lowerAll(spec.Keywords),
		Confidence:        make(map[models.RootCause]float64, len(spec.Confidence)),
		DefaultConfidence: spec.DefaultConfidence,
		Steps:             make([]Step, 0, len(spec.Steps)),
	}
	for label, c := range spec.Confidence {
		t.Confidence[label] = c
	}

	signatures := lowerAll(spec.TransientSignatures)
	for _, st := range spec.Steps {
		step := Step{Name: st.Name, Description: st.Description}
		if len(st.Detect) > 0 {
			step.Detect = detectPredicate{markers: lowerAll(st.Detect)}
		}
		if st.Interact != nil {
			types := lowerAll(st.Interact.ActionTypes)
			targets := lowerAll(st.Interact.Targets)
			step.Interact = interactPredicate{types: types, targets: targets}
			if st.MinRenderMs > 0 {
				step.Timing = timingPredicate{types: types, targets: targets, minMs: st.MinRenderMs}
			}
		} else if st.MinRenderMs > 0 {
			return nil, fmt.Errorf("rule table %s: step %s sets min_render_ms without interact", spec.Domain, st.Name)
		}
		if st.Choice != nil {
			step.WrongChoice = choicePredicate{
				correct:      lowerAll(st.Choice.Correct),
				alternatives: lowerAll(st.Choice.Alternatives),
			}
		}
		if st.CheckTransient && len(signatures) > 0 {
			step.Transient = transientPredicate{signatures: signatures}
		}
		t.Steps = append(t.Steps, step)
	}

	for _, lr := range spec.Learned {
		minMatch := lr.MinMatch
		if minMatch == 0 {
			minMatch = 0.5
		}
		t.Learned = append(t.Learned, LearnedRule{
			ID:          lr.ID,
			Keywords:    lowerAll(lr.Keywords),
			DOMPatterns: lowerAll(lr.DOMPatterns),
			Frameworks:  lowerAll(lr.Frameworks),
			Label:       lr.Label,
			Confidence:  lr.Confidence,
			MinMatch:    minMatch,
		})
	}

	return t, nil
}

// ConfidenceFor returns the domain-configured constant for a label.
func (t *Table) ConfidenceFor(label models.RootCause) float64 {
	if c, ok := t.Confidence[label]; ok {
		return c
	}
	return t.DefaultConfidence
}

// Matches reports whether the learned rule's trigger conditions hold for ev.
func (r LearnedRule) Matches(ev *models.EvidenceBundle) bool {
	if len(r.Frameworks) > 0 && !equalsAny(strings.ToLower(strings.TrimSpace(ev.Framework)), r.Frameworks) {
		return false
	}
	if !fractionPresent(strings.ToLower(ev.FailureLog), r.Keywords, r.MinMatch) {
		return false
	}
	if len(r.DOMPatterns) > 0 && !fractionPresent(strings.ToLower(ev.DOMSnapshot), r.DOMPatterns, r.MinMatch) {
		return false
	}
	return true
}

func fractionPresent(text string, terms []string, min float64) bool {
	if len(terms) == 0 {
		return false
	}
	hits := len(containsAny(text, terms))
	return hits > 0 && float64(hits)/float64(len(terms)) >= min
}
