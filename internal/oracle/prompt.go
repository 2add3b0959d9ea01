package oracle

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/harrison/rootcause/internal/models"
)

// Limits bound the evidence excerpt sent to the oracle.
type Limits struct {
	MaxLogChars      int `yaml:"max_log_chars"`
	MaxSnapshotChars int `yaml:"max_snapshot_chars"`
	MaxActions       int `yaml:"max_actions"`
}

// DefaultLimits returns the standard excerpt bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxLogChars:      2000,
		MaxSnapshotChars: 1500,
		MaxActions:       10,
	}
}

// SystemPrompt frames the reply format the parser expects.
const SystemPrompt = `You are a failure analyst for web automation agents.
Explain why the task failed. Reply in markdown with these sections:
## Root Cause
A ranked bullet list, most likely first. Start the first bullet with one label from:
DOM_PARSING_FAILURE, ELEMENT_INTERACTION_FAILURE, DYNAMIC_CONTENT_FAILURE, AGENT_REASONING_FAILURE, WEBSITE_STATE_FAILURE.
## Why
A numbered list, each item one level deeper than the last.
## Contributing Factors
## Recommendations
## Summary
One or two sentences.`

var (
	scriptRe     = regexp.MustCompile(`(?is)<(script|style|noscript)\b.*?</(script|style|noscript)>`)
	commentRe    = regexp.MustCompile(`(?s)<!--.*?-->`)
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// BuildPrompt assembles a size-bounded prompt from ev: task id, framework, the
// tail of the failure log, a cleaned snapshot summary, and the last actions.
func BuildPrompt(ev models.EvidenceBundle, limits Limits) Prompt {
	var b strings.Builder

	fmt.Fprintf(&b, "Task ID: %s\n", ev.TaskID)
	framework := ev.Framework
	if framework == "" {
		framework = "unknown"
	}
	fmt.Fprintf(&b, "Framework: %s\n\n", framework)

	b.WriteString("### Failure Log (tail)\n")
	b.WriteString(orNone(tail(strings.TrimSpace(ev.FailureLog), limits.MaxLogChars)))
	b.WriteString("\n\n### Page Snapshot (cleaned)\n")
	b.WriteString(orNone(CleanSnapshot(ev.DOMSnapshot, limits.MaxSnapshotChars)))
	b.WriteString("\n\n### Recent Actions\n")

	actions := ev.Actions
	if limits.MaxActions > 0 && len(actions) > limits.MaxActions {
		actions = actions[len(actions)-limits.MaxActions:]
	}
	if len(actions) == 0 {
		b.WriteString("(none)\n")
	}
	offset := len(ev.Actions) - len(actions)
	for i, a := range actions {
		status := "ok"
		if !a.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "%d. %s %q [%s]", offset+i+1, a.Type, a.Target, status)
		if a.TimingMs != nil {
			fmt.Fprintf(&b, " after %dms", *a.TimingMs)
		}
		if a.Value != "" {
			fmt.Fprintf(&b, " value=%q", truncate(a.Value, 80))
		}
		b.WriteByte('\n')
	}

	return Prompt{System: SystemPrompt, User: b.String()}
}

// CleanSnapshot strips scripts, comments, and tags from a DOM snapshot,
// collapses whitespace, and truncates the result to max characters.
func CleanSnapshot(snapshot string, max int) string {
	s := scriptRe.ReplaceAllString(snapshot, " ")
	s = commentRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
	return truncate(s, max)
}

// truncate cuts s to max runes, appending "..." when shortened.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// tail keeps the last max runes of s, where failures are usually reported.
func tail(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[len(r)-max:])
	}
	return "..." + string(r[len(r)-max+3:])
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
