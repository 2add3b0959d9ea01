package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func ms(v int64) *int64 { return &v }

func validBundle() EvidenceBundle {
	return EvidenceBundle{
		TaskID:     "task-1",
		FailureLog: "element not found",
		Actions: []Action{
			{Type: "click", Target: "#submit", Success: false, TimingMs: ms(40)},
		},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEvidenceBundleValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(ev *EvidenceBundle)
		wantField string
	}{
		{name: "valid bundle", mutate: func(ev *EvidenceBundle) {}},
		{name: "snapshot only", mutate: func(ev *EvidenceBundle) {
			ev.FailureLog = ""
			ev.Actions = nil
			ev.DOMSnapshot = "<html></html>"
		}},
		{name: "missing task id", mutate: func(ev *EvidenceBundle) { ev.TaskID = "" }, wantField: "TaskID"},
		{name: "blank task id", mutate: func(ev *EvidenceBundle) { ev.TaskID = "   " }, wantField: "TaskID"},
		{name: "zero timestamp", mutate: func(ev *EvidenceBundle) { ev.Timestamp = time.Time{} }, wantField: "Timestamp"},
		{name: "no evidence at all", mutate: func(ev *EvidenceBundle) {
			ev.FailureLog = "  "
			ev.Actions = nil
		}, wantField: "FailureLog"},
		{name: "action without type", mutate: func(ev *EvidenceBundle) { ev.Actions[0].Type = "" }, wantField: "Actions[0].Type"},
		{name: "negative timing", mutate: func(ev *EvidenceBundle) { ev.Actions[0].TimingMs = ms(-1) }, wantField: "Actions[0].TimingMs"},
		{name: "task id too long", mutate: func(ev *EvidenceBundle) { ev.TaskID = strings.Repeat("x", 257) }, wantField: "TaskID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validBundle().Clone()
			tt.mutate(&ev)
			err := ev.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !errors.Is(err, ErrInvalidEvidence) {
				t.Errorf("error should wrap ErrInvalidEvidence: %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error should be a *ValidationError: %T", err)
			}
			found := false
			for _, f := range verr.Fields {
				if f.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("fields %+v do not include %s", verr.Fields, tt.wantField)
			}
		})
	}
}

func TestEvidenceBundleCloneIsDeep(t *testing.T) {
	orig := validBundle()
	clone := orig.Clone()

	clone.Actions[0].Target = "#other"
	*clone.Actions[0].TimingMs = 999

	if orig.Actions[0].Target != "#submit" {
		t.Error("Clone shares the actions slice")
	}
	if *orig.Actions[0].TimingMs != 40 {
		t.Error("Clone shares timing pointers")
	}
}

func TestParseRootCause(t *testing.T) {
	tests := []struct {
		in      string
		want    RootCause
		wantErr bool
	}{
		{in: "DOM_PARSING_FAILURE", want: DOMParsingFailure},
		{in: "website state failure", want: WebsiteStateFailure},
		{in: " dynamic-content-failure ", want: DynamicContentFailure},
		{in: "success", want: Success},
		{in: "timeout", want: Unknown, wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRootCause(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRootCause(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseRootCause(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestInferRootCause(t *testing.T) {
	tests := []struct {
		text string
		want RootCause
	}{
		{"", Unknown},
		{"Label: agent_reasoning_failure because the wrong option was chosen", AgentReasoningFailure},
		{"The server returned 503 during checkout", WebsiteStateFailure},
		{"HTTP 502 from the upstream", WebsiteStateFailure},
		{"status code: 504", WebsiteStateFailure},
		{"500 Internal Server Error on submit", WebsiteStateFailure},
		{"The dropdown element not found in the DOM after waiting 5000ms", DOMParsingFailure},
		{"Agent selected the wrong option from the list within 1500ms", AgentReasoningFailure},
		{"Waited 500 ms and the selector matched nothing", DOMParsingFailure},
		{"Retried 503 times before giving up", Unknown},
		{"Options were not yet rendered when read", DynamicContentFailure},
		{"The click was intercepted by an overlay", ElementInteractionFailure},
		{"The selector matched nothing", DOMParsingFailure},
		{"Something odd happened", Unknown},
	}
	for _, tt := range tests {
		if got := InferRootCause(tt.text); got != tt.want {
			t.Errorf("InferRootCause(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestRootCauseIsFailure(t *testing.T) {
	if Success.IsFailure() || Unknown.IsFailure() {
		t.Error("SUCCESS and UNKNOWN are not failure classes")
	}
	if !ElementInteractionFailure.IsFailure() {
		t.Error("ELEMENT_INTERACTION_FAILURE is a failure class")
	}
	if RootCause("TIMEOUT").IsFailure() {
		t.Error("labels outside the taxonomy are not failure classes")
	}
}

func TestParseLearningMode(t *testing.T) {
	tests := []struct {
		in      string
		want    LearningMode
		records bool
		wantErr bool
	}{
		{in: "off", want: LearningOff},
		{in: "disabled", want: LearningOff},
		{in: "Passive", want: LearningPassive, records: true},
		{in: "active", want: LearningActive, records: true},
		{in: "aggressive", want: LearningAggressive, records: true},
		{in: "eager", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLearningMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLearningMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLearningMode(%q) = %s, want %s", tt.in, got, tt.want)
		}
		if got.Records() != tt.records {
			t.Errorf("%s.Records() = %v, want %v", got, got.Records(), tt.records)
		}
	}
}

func TestParseValidationStatus(t *testing.T) {
	for _, s := range []string{"pending", "validated", "rejected"} {
		if _, err := ParseValidationStatus(s); err != nil {
			t.Errorf("ParseValidationStatus(%q) error = %v", s, err)
		}
	}
	if _, err := ParseValidationStatus("approved"); err == nil {
		t.Error("ParseValidationStatus(approved) should fail")
	}
}

func TestCaseID(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := CaseID("task-1", ts)
	if !strings.HasPrefix(a, "case-") || len(a) != len("case-")+16 {
		t.Errorf("CaseID format = %q", a)
	}
	if b := CaseID("task-1", ts.In(time.FixedZone("CET", 3600))); b != a {
		t.Errorf("CaseID should not depend on the time zone: %s != %s", a, b)
	}
	if c := CaseID("task-1", ts.Add(time.Nanosecond)); c == a {
		t.Error("CaseID should differ for different timestamps")
	}
	if d := CaseID("task-2", ts); d == a {
		t.Error("CaseID should differ for different tasks")
	}
}

func TestHybridOutcomeDisplayLabel(t *testing.T) {
	tests := []struct {
		name    string
		outcome HybridOutcome
		want    string
	}{
		{"fallback unknown", HybridOutcome{Method: MethodFallback, Label: Unknown}, AnalysisFailureLabel},
		{"ai unknown", HybridOutcome{Method: MethodAI, Label: Unknown}, "UNKNOWN"},
		{"deterministic label", HybridOutcome{Method: MethodDeterministic, Label: WebsiteStateFailure}, "WEBSITE_STATE_FAILURE"},
	}
	for _, tt := range tests {
		if got := tt.outcome.DisplayLabel(); got != tt.want {
			t.Errorf("%s: DisplayLabel() = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestFailedFinding(t *testing.T) {
	f := FailedFinding("backend timed out")
	if f.Success {
		t.Error("failed finding must not be successful")
	}
	if f.Label != Unknown || f.Confidence != 0 {
		t.Errorf("failed finding = %s %.2f, want UNKNOWN 0", f.Label, f.Confidence)
	}
	if f.Primary() != AIAnalysisFailed {
		t.Errorf("Primary() = %q, want %q", f.Primary(), AIAnalysisFailed)
	}
	if (AIFinding{}).Primary() != "" {
		t.Error("Primary() of an empty finding should be empty")
	}
}
