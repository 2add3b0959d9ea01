package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidEvidence is wrapped by every boundary validation failure.
var ErrInvalidEvidence = errors.New("invalid evidence bundle")

// Action is one recorded step of the automation run.
type Action struct {
	Type     string `json:"type" yaml:"type" validate:"required,max=64"`
	Target   string `json:"target,omitempty" yaml:"target,omitempty" validate:"max=2048"`
	Success  bool   `json:"success" yaml:"success"`
	TimingMs *int64 `json:"timing_ms,omitempty" yaml:"timing_ms,omitempty" validate:"omitempty,gte=0"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
}

// EvidenceBundle is the normalized failure input assembled by the execution harness.
// It is treated as immutable once created; engines receive it by value.
type EvidenceBundle struct {
	TaskID      string    `json:"task_id" yaml:"task_id" validate:"required,max=256"`
	FailureLog  string    `json:"failure_log,omitempty" yaml:"failure_log,omitempty"`
	DOMSnapshot string    `json:"dom_snapshot,omitempty" yaml:"dom_snapshot,omitempty"`
	Actions     []Action  `json:"actions,omitempty" yaml:"actions,omitempty" validate:"dive"`
	Framework   string    `json:"framework,omitempty" yaml:"framework,omitempty" validate:"max=64"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp" validate:"required"`
}

// Clone returns a deep copy so callers can never mutate a bundle held elsewhere.
func (e EvidenceBundle) Clone() EvidenceBundle {
	out := e
	if e.Actions != nil {
		out.Actions = make([]Action, len(e.Actions))
		for i, a := range e.Actions {
			out.Actions[i] = a
			if a.TimingMs != nil {
				ms := *a.TimingMs
				out.Actions[i].TimingMs = &ms
			}
		}
	}
	return out
}

// Text returns the log and snapshot joined, the corpus used for similarity search.
func (e EvidenceBundle) Text() string {
	return e.FailureLog + "\n" + e.DOMSnapshot
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError is returned when an Evidence Bundle is rejected at the boundary.
type ValidationError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s (%s)", f.Field, f.Rule))
	}
	return fmt.Sprintf("%s: %s", ErrInvalidEvidence, strings.Join(parts, ", "))
}

// Unwrap lets errors.Is match ErrInvalidEvidence.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvidence
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		ev := sl.Current().Interface().(EvidenceBundle)
		if strings.TrimSpace(ev.TaskID) == "" && ev.TaskID != "" {
			sl.ReportError(ev.TaskID, "TaskID", "TaskID", "notblank", "")
		}
		if strings.TrimSpace(ev.FailureLog) == "" && strings.TrimSpace(ev.DOMSnapshot) == "" && len(ev.Actions) == 0 {
			sl.ReportError(ev.FailureLog, "FailureLog", "FailureLog", "evidence_present", "")
		}
	}, EvidenceBundle{})
	return v
}

// Validate checks an Evidence Bundle at the ingestion boundary.
// A bundle needs a task id, a timestamp, well-formed actions, and at least one
// piece of evidence (log, snapshot, or actions).
func (e EvidenceBundle) Validate() error {
	err := validate.Struct(e)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidEvidence, err)
	}

	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field: strings.TrimPrefix(fe.Namespace(), "EvidenceBundle."),
			Rule:  fe.Tag(),
		})
	}
	return out
}
