package logger

import (
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/harrison/rootcause/internal/models"
)

// colorScheme defines consistent colors for outcome output.
// Green: success and deterministic acceptance
// Red: failure labels and fallbacks
// Yellow: low confidence and oracle answers
// Cyan: labels and identifiers
type colorScheme struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	label   *color.Color
	value   *color.Color
}

// newColorScheme creates the standard color scheme for outcomes.
func newColorScheme() *colorScheme {
	return &colorScheme{
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgCyan),
		value:   color.New(color.FgWhite),
	}
}

// labelColor picks the color for a root-cause label.
func labelColor(label models.RootCause, scheme *colorScheme) *color.Color {
	switch {
	case label == models.Success:
		return scheme.success
	case label == models.Unknown:
		return scheme.warn
	default:
		return scheme.fail
	}
}

// methodColor picks the color for the tier that produced an outcome.
func methodColor(method models.Method, scheme *colorScheme) *color.Color {
	switch method {
	case models.MethodDeterministic:
		return scheme.success
	case models.MethodAI:
		return scheme.warn
	default:
		return scheme.fail
	}
}

// confidenceColor is green at or above 0.75, yellow above 0.5 and red below.
func confidenceColor(c float64, scheme *colorScheme) *color.Color {
	switch {
	case c >= 0.75:
		return scheme.success
	case c >= 0.5:
		return scheme.warn
	default:
		return scheme.fail
	}
}

// formatColorizedOutcome is the colored form of formatOutcome.
// Colors are disabled automatically when NO_COLOR is set.
func formatColorizedOutcome(o models.HybridOutcome, scheme *colorScheme) string {
	return fmt.Sprintf("%s: %s (%s) via %s [%s] %s",
		scheme.label.Sprint(o.TaskID),
		labelColor(o.Label, scheme).Sprint(o.DisplayLabel()),
		confidenceColor(o.Confidence, scheme).Sprintf("%.2f", o.Confidence),
		methodColor(o.Method, scheme).Sprint(o.Method),
		scheme.value.Sprint(o.Domain),
		formatDuration(time.Duration(o.LatencyMs)*time.Millisecond))
}

// Summary aggregates a batch of outcomes.
type Summary struct {
	Total    int
	ByMethod map[models.Method]int
	ByLabel  map[models.RootCause]int

	// Labels lists the labels seen, most frequent first.
	Labels []models.RootCause
}

// Summarize counts outcomes by method and label.
func Summarize(outcomes []models.HybridOutcome) Summary {
	s := Summary{
		Total:    len(outcomes),
		ByMethod: make(map[models.Method]int),
		ByLabel:  make(map[models.RootCause]int),
	}
	for _, o := range outcomes {
		s.ByMethod[o.Method]++
		s.ByLabel[o.Label]++
	}
	for label := range s.ByLabel {
		s.Labels = append(s.Labels, label)
	}
	sort.Slice(s.Labels, func(i, j int) bool {
		a, b := s.Labels[i], s.Labels[j]
		if s.ByLabel[a] != s.ByLabel[b] {
			return s.ByLabel[a] > s.ByLabel[b]
		}
		return a < b
	})
	return s
}
