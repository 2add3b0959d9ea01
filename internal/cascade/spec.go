// Package cascade implements the deterministic tier: an ordered, short-circuiting
// rule cascade evaluated against an evidence bundle.
//
// A rule table is declared as a TableSpec (YAML), compiled into a Table of
// predicates, and evaluated by Classify. Tables are pure data; the engine holds
// no state and performs no I/O.
package cascade

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/harrison/rootcause/internal/models"
	"gopkg.in/yaml.v3"
)

// TableSpec is the serializable declaration of a domain's rule table.
type TableSpec struct {
	Domain              string                       `yaml:"domain"`
	Description         string                       `yaml:"description,omitempty"`
	Keywords            []string                     `yaml:"keywords"`
	Confidence          map[models.RootCause]float64 `yaml:"confidence"`
	DefaultConfidence   float64                      `yaml:"default_confidence,omitempty"`
	TransientSignatures []string                     `yaml:"transient_signatures,omitempty"`
	Steps               []StepSpec                   `yaml:"steps"`
	Learned             []LearnedRuleSpec            `yaml:"learned,omitempty"`
}

// StepSpec declares one cascade step.
type StepSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Detect lists markers of which at least one must appear in the DOM snapshot.
	Detect []string `yaml:"detect,omitempty"`

	// Interact requires a successful recorded action on a matching target.
	Interact *InteractSpec `yaml:"interact,omitempty"`

	// MinRenderMs flags interactions recorded faster than content could render.
	MinRenderMs int64 `yaml:"min_render_ms,omitempty"`

	// Choice flags an agent that settled on a plausible but incorrect alternative.
	Choice *ChoiceSpec `yaml:"choice,omitempty"`

	// CheckTransient evaluates the table's transient signatures against the failure log.
	CheckTransient bool `yaml:"check_transient,omitempty"`
}

// InteractSpec matches recorded actions by type and target text.
type InteractSpec struct {
	ActionTypes []string `yaml:"action_types,omitempty"`
	Targets     []string `yaml:"targets"`
}

// ChoiceSpec names the correct target and its tempting alternatives.
type ChoiceSpec struct {
	Correct      []string `yaml:"correct"`
	Alternatives []string `yaml:"alternatives"`
}

// LearnedRuleSpec is a rule synthesized from confirmed oracle verdicts.
type LearnedRuleSpec struct {
	ID          string           `yaml:"id"`
	UpdateID    string           `yaml:"update_id,omitempty"`
	Keywords    []string         `yaml:"keywords"`
	DOMPatterns []string         `yaml:"dom_patterns,omitempty"`
	Frameworks  []string         `yaml:"frameworks,omitempty"`
	Label       models.RootCause `yaml:"label"`
	Confidence  float64          `yaml:"confidence"`

	// MinMatch is the fraction of keywords (and of DOM patterns) that must be
	// present for the rule to fire. Zero means 0.5.
	MinMatch float64 `yaml:"min_match,omitempty"`
}

// ParseSpec decodes a YAML rule table.
func ParseSpec(data []byte) (TableSpec, error) {
	var spec TableSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return TableSpec{}, fmt.Errorf("parse rule table: %w", err)
	}
	return spec, nil
}

// Marshal encodes the spec as YAML. Map keys are emitted in sorted order so the
// output is byte-stable for identical specs.
func (s TableSpec) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode rule table %s: %w", s.Domain, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode rule table %s: %w", s.Domain, err)
	}
	return buf.Bytes(), nil
}

// Clone returns a deep copy of the spec.
func (s TableSpec) Clone() TableSpec {
	out := s
	out.Keywords = cloneStrings(s.Keywords)
	out.TransientSignatures = cloneStrings(s.TransientSignatures)
	if s.Confidence != nil {
		out.Confidence = make(map[models.RootCause]float64, len(s.Confidence))
		for k, v := range s.Confidence {
			out.Confidence[k] = v
		}
	}
	if s.Steps != nil {
		out.Steps = make([]StepSpec, len(s.Steps))
		for i, st := range s.Steps {
			cp := st
			cp.Detect = cloneStrings(st.Detect)
			if st.Interact != nil {
				cp.Interact = &InteractSpec{
					ActionTypes: cloneStrings(st.Interact.ActionTypes),
					Targets:     cloneStrings(st.Interact.Targets),
				}
			}
			if st.Choice != nil {
				cp.Choice = &ChoiceSpec{
					Correct:      cloneStrings(st.Choice.Correct),
					Alternatives: cloneStrings(st.Choice.Alternatives),
				}
			}
			out.Steps[i] = cp
		}
	}
	if s.Learned != nil {
		out.Learned = make([]LearnedRuleSpec, len(s.Learned))
		for i, lr := range s.Learned {
			cp := lr
			cp.Keywords = cloneStrings(lr.Keywords)
			cp.DOMPatterns = cloneStrings(lr.DOMPatterns)
			cp.Frameworks = cloneStrings(lr.Frameworks)
			out.Learned[i] = cp
		}
	}
	return out
}

// Validate checks structural constraints before compilation.
func (s TableSpec) Validate() error {
	if strings.TrimSpace(s.Domain) == "" {
		return fmt.Errorf("rule table has no domain")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("rule table %s has no steps", s.Domain)
	}

	labels := make([]string, 0, len(s.Confidence))
	for label := range s.Confidence {
		labels = append(labels, string(label))
	}
	sort.Strings(labels)
	for _, l := range labels {
		label := models.RootCause(l)
		if !label.Valid() {
			return fmt.Errorf("rule table %s: unknown label %q in confidence table", s.Domain, l)
		}
		if c := s.Confidence[label]; c < 0 || c > 1 {
			return fmt.Errorf("rule table %s: confidence for %s out of range: %v", s.Domain, label, c)
		}
	}
	if s.DefaultConfidence < 0 || s.DefaultConfidence > 1 {
		return fmt.Errorf("rule table %s: default_confidence out of range: %v", s.Domain, s.DefaultConfidence)
	}

	seen := make(map[string]bool, len(s.Steps))
	for i, st := range s.Steps {
		if st.Name == "" {
			return fmt.Errorf("rule table %s: step %d has no name", s.Domain, i+1)
		}
		if seen[st.Name] {
			return fmt.Errorf("rule table %s: duplicate step name %q", s.Domain, st.Name)
		}
		seen[st.Name] = true
		if st.Interact != nil && len(st.Interact.Targets) == 0 {
			return fmt.Errorf("rule table %s: step %s interact has no targets", s.Domain, st.Name)
		}
		if st.Choice != nil && (len(st.Choice.Correct) == 0 || len(st.Choice.Alternatives) == 0) {
			return fmt.Errorf("rule table %s: step %s choice needs correct and alternative targets", s.Domain, st.Name)
		}
		if st.MinRenderMs < 0 {
			return fmt.Errorf("rule table %s: step %s min_render_ms is negative", s.Domain, st.Name)
		}
	}

	ids := make(map[string]bool, len(s.Learned))
	for _, lr := range s.Learned {
		if lr.ID == "" {
			return fmt.Errorf("rule table %s: learned rule without id", s.Domain)
		}
		if ids[lr.ID] {
			return fmt.Errorf("rule table %s: duplicate learned rule %q", s.Domain, lr.ID)
		}
		ids[lr.ID] = true
		if !lr.Label.IsFailure() {
			return fmt.Errorf("rule table %s: learned rule %s has non-failure label %q", s.Domain, lr.ID, lr.Label)
		}
		if len(lr.Keywords) == 0 {
			return fmt.Errorf("rule table %s: learned rule %s has no keywords", s.Domain, lr.ID)
		}
		if lr.Confidence < 0 || lr.Confidence > 1 {
			return fmt.Errorf("rule table %s: learned rule %s confidence out of range: %v", s.Domain, lr.ID, lr.Confidence)
		}
		if lr.MinMatch < 0 || lr.MinMatch > 1 {
			return fmt.Errorf("rule table %s: learned rule %s min_match out of range: %v", s.Domain, lr.ID, lr.MinMatch)
		}
	}
	return nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
