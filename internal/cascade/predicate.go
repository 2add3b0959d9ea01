package cascade

import (
	"fmt"
	"strings"

	"github.com/harrison/rootcause/internal/models"
)

// Check is the outcome of one predicate. OK means the check passed and the
// cascade should continue.
type Check struct {
	OK       bool
	Detected []string
	TimingMs *int64
	Detail   string
}

// Predicate inspects an evidence bundle. Implementations must be pure.
type Predicate interface {
	Evaluate(ev *models.EvidenceBundle) Check
}

// PredicateFunc adapts a function to the Predicate interface.
type PredicateFunc func(ev *models.EvidenceBundle) Check

// Evaluate calls f(ev).
func (f PredicateFunc) Evaluate(ev *models.EvidenceBundle) Check {
	return f(ev)
}

// detectPredicate passes when any marker appears in the DOM snapshot.
type detectPredicate struct {
	markers []string
}

func (p detectPredicate) Evaluate(ev *models.EvidenceBundle) Check {
	found := containsAny(strings.ToLower(ev.DOMSnapshot), p.markers)
	if len(found) == 0 {
		return Check{OK: false, Detail: fmt.Sprintf("none of %v found in DOM snapshot", p.markers)}
	}
	return Check{OK: true, Detected: found}
}

// interactPredicate passes when a successful action of an accepted type hit a
// matching target.
type interactPredicate struct {
	types   []string
	targets []string
}

func (p interactPredicate) Evaluate(ev *models.EvidenceBundle) Check {
	a, ok := lastMatchingAction(ev.Actions, p.types, p.targets, true)
	if !ok {
		if _, attempted := lastMatchingAction(ev.Actions, p.types, p.targets, false); attempted {
			return Check{OK: false, Detail: fmt.Sprintf("interaction with %v was attempted but did not succeed", p.targets)}
		}
		return Check{OK: false, Detail: fmt.Sprintf("no recorded interaction with %v", p.targets)}
	}
	return Check{OK: true, TimingMs: a.TimingMs}
}

// timingPredicate fails when the matched interaction completed faster than the
// minimum plausible render time. Actions without timing pass.
type timingPredicate struct {
	types   []string
	targets []string
	minMs   int64
}

func (p timingPredicate) Evaluate(ev *models.EvidenceBundle) Check {
	a, ok := lastMatchingAction(ev.Actions, p.types, p.targets, true)
	if !ok || a.TimingMs == nil {
		return Check{OK: true}
	}
	if *a.TimingMs < p.minMs {
		return Check{
			OK:       false,
			TimingMs: a.TimingMs,
			Detail:   fmt.Sprintf("interaction after %dms, below minimum render time %dms", *a.TimingMs, p.minMs),
		}
	}
	return Check{OK: true, TimingMs: a.TimingMs}
}

// choicePredicate fails when the agent's final choice among correct and
// alternative targets was an alternative while the correct target was present
// in the snapshot.
type choicePredicate struct {
	correct      []string
	alternatives []string
}

func (p choicePredicate) Evaluate(ev *models.EvidenceBundle) Check {
	present := containsAny(strings.ToLower(ev.DOMSnapshot), p.correct)
	if len(present) == 0 {
		return Check{OK: true}
	}

	candidates := append(cloneStrings(p.correct), p.alternatives...)
	a, ok := lastMatchingAction(ev.Actions, nil, candidates, true)
	if !ok {
		return Check{OK: true}
	}
	text := strings.ToLower(a.Target + " " + a.Value)
	if len(containsAny(text, p.correct)) > 0 {
		return Check{OK: true}
	}
	wrong := containsAny(text, p.alternatives)
	return Check{
		OK:       false,
		Detected: present,
		Detail:   fmt.Sprintf("agent chose %v while %v was available", wrong, present),
	}
}

// transientPredicate fails when the failure log carries a transient or
// server-side error signature.
type transientPredicate struct {
	signatures []string
}

func (p transientPredicate) Evaluate(ev *models.EvidenceBundle) Check {
	hits := containsAny(strings.ToLower(ev.FailureLog), p.signatures)
	if len(hits) > 0 {
		return Check{OK: false, Detected: hits, Detail: fmt.Sprintf("transient error signature %v in failure log", hits)}
	}
	return Check{OK: true}
}

// lastMatchingAction scans the action sequence from the end and returns the
// most recent action matching the type and target filters. An empty type list
// accepts any type.
func lastMatchingAction(actions []models.Action, types, targets []string, requireSuccess bool) (models.Action, bool) {
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		if requireSuccess && !a.Success {
			continue
		}
		if len(types) > 0 && !equalsAny(strings.ToLower(a.Type), types) {
			continue
		}
		if len(containsAny(strings.ToLower(a.Target+" "+a.Value), targets)) == 0 {
			continue
		}
		return a, true
	}
	return models.Action{}, false
}

// containsAny returns the markers found in text. Markers are expected lowercase.
func containsAny(text string, markers []string) []string {
	var found []string
	for _, m := range markers {
		if m != "" && strings.Contains(text, m) {
			found = append(found, m)
		}
	}
	return found
}

func equalsAny(s string, options []string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
