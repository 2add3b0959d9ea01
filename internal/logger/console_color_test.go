package logger

import (
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/harrison/rootcause/internal/models"
)

// forceColor enables color output for the duration of a test.
func forceColor(t *testing.T) {
	t.Helper()
	orig := color.NoColor
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = orig })
}

func TestLabelColor(t *testing.T) {
	scheme := newColorScheme()
	tests := []struct {
		label models.RootCause
		want  *color.Color
	}{
		{models.Success, scheme.success},
		{models.Unknown, scheme.warn},
		{models.DOMParsingFailure, scheme.fail},
		{models.WebsiteStateFailure, scheme.fail},
	}
	for _, tt := range tests {
		if got := labelColor(tt.label, scheme); got != tt.want {
			t.Errorf("labelColor(%s) returned the wrong color", tt.label)
		}
	}
}

func TestMethodAndConfidenceColor(t *testing.T) {
	scheme := newColorScheme()
	if methodColor(models.MethodDeterministic, scheme) != scheme.success {
		t.Error("deterministic should be green")
	}
	if methodColor(models.MethodAI, scheme) != scheme.warn {
		t.Error("ai should be yellow")
	}
	if methodColor(models.MethodFallback, scheme) != scheme.fail {
		t.Error("fallback should be red")
	}
	if confidenceColor(0.75, scheme) != scheme.success {
		t.Error("0.75 should be green")
	}
	if confidenceColor(0.6, scheme) != scheme.warn {
		t.Error("0.6 should be yellow")
	}
	if confidenceColor(0.1, scheme) != scheme.fail {
		t.Error("0.1 should be red")
	}
}

func TestFormatColorizedOutcome(t *testing.T) {
	forceColor(t)

	out := formatColorizedOutcome(sampleOutcome(), newColorScheme())
	if !strings.Contains(out, "\x1b[") {
		t.Errorf("expected ANSI codes in %q", out)
	}
	if !strings.Contains(out, "DYNAMIC_CONTENT_FAILURE") || !strings.Contains(out, "task-7") {
		t.Errorf("missing content in %q", out)
	}
}

func TestFormatColorizedOutcome_NoColor(t *testing.T) {
	orig := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = orig }()

	got := formatColorizedOutcome(sampleOutcome(), newColorScheme())
	if got != formatOutcome(sampleOutcome()) {
		t.Errorf("with NO_COLOR the colored form should equal the plain form:\n%q\n%q", got, formatOutcome(sampleOutcome()))
	}
}

func TestSummarize(t *testing.T) {
	fallback := sampleOutcome()
	fallback.Method = models.MethodFallback
	fallback.Label = models.Unknown

	s := Summarize([]models.HybridOutcome{sampleOutcome(), fallback, fallback})
	if s.Total != 3 {
		t.Errorf("Total = %d, want 3", s.Total)
	}
	if s.ByMethod[models.MethodFallback] != 2 || s.ByMethod[models.MethodAI] != 1 {
		t.Errorf("ByMethod = %v", s.ByMethod)
	}
	if len(s.Labels) != 2 || s.Labels[0] != models.Unknown {
		t.Errorf("Labels = %v, want UNKNOWN first", s.Labels)
	}

	empty := Summarize(nil)
	if empty.Total != 0 || len(empty.Labels) != 0 {
		t.Errorf("empty summary = %+v", empty)
	}
}
