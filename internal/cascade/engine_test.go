package cascade

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/rootcause/internal/models"
)

func ms(v int64) *int64 { return &v }

func builtinTable(t *testing.T, domain string) *Table {
	t.Helper()
	spec, ok, err := BuiltinSpec(domain)
	require.NoError(t, err)
	require.True(t, ok, "builtin table %s missing", domain)
	table, err := Compile(spec, 1)
	require.NoError(t, err)
	return table
}

const dropdownDOM = `<form><select id="country" class="dropdown"><option value="">-- select</option><option value="fr">France</option></select></form>`

func passingDropdownEvidence() models.EvidenceBundle {
	return models.EvidenceBundle{
		TaskID:      "task-dropdown-ok",
		FailureLog:  "step completed",
		DOMSnapshot: dropdownDOM,
		Actions: []models.Action{
			{Type: "click", Target: "select#country", Success: true, TimingMs: ms(120)},
			{Type: "select", Target: "option France", Value: "fr", Success: true, TimingMs: ms(80)},
		},
		Framework: "browser-use",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestClassify_NilTable(t *testing.T) {
	result := Classify(nil, passingDropdownEvidence())

	assert.Equal(t, models.Unknown, result.Label)
	assert.Equal(t, 0.0, result.Confidence)
	assert.False(t, result.Success)
	assert.False(t, result.HasFailingStep())
	assert.NotEmpty(t, result.Error)
}

func TestClassify_Dropdown(t *testing.T) {
	table := builtinTable(t, "dropdown")

	tests := []struct {
		name        string
		mutate      func(ev *models.EvidenceBundle)
		wantLabel   models.RootCause
		wantStep    int
		wantStepErr bool
	}{
		{
			name:      "all steps pass",
			mutate:    func(ev *models.EvidenceBundle) {},
			wantLabel: models.Success,
			wantStep:  0,
		},
		{
			name: "empty snapshot and no actions",
			mutate: func(ev *models.EvidenceBundle) {
				ev.DOMSnapshot = ""
				ev.Actions = nil
			},
			wantLabel:   models.DOMParsingFailure,
			wantStep:    1,
			wantStepErr: true,
		},
		{
			name: "dropdown click did not succeed",
			mutate: func(ev *models.EvidenceBundle) {
				ev.Actions[0].Success = false
			},
			wantLabel:   models.ElementInteractionFailure,
			wantStep:    2,
			wantStepErr: true,
		},
		{
			name: "options read before render",
			mutate: func(ev *models.EvidenceBundle) {
				ev.Actions[0].TimingMs = ms(5)
			},
			wantLabel:   models.DynamicContentFailure,
			wantStep:    2,
			wantStepErr: true,
		},
		{
			name: "placeholder chosen while expected option present",
			mutate: func(ev *models.EvidenceBundle) {
				ev.DOMSnapshot = `<select class="dropdown"><option>placeholder</option><option data-expected="1">France</option></select>`
				ev.Actions[1].Target = "option placeholder"
			},
			wantLabel:   models.AgentReasoningFailure,
			wantStep:    3,
			wantStepErr: true,
		},
		{
			name: "server error in log",
			mutate: func(ev *models.EvidenceBundle) {
				ev.FailureLog = "GET /countries -> 503 Service Unavailable"
			},
			wantLabel:   models.WebsiteStateFailure,
			wantStep:    1,
			wantStepErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := passingDropdownEvidence().Clone()
			tt.mutate(&ev)

			result := Classify(table, ev)

			assert.True(t, result.Success)
			assert.Equal(t, "dropdown", result.Domain)
			assert.Equal(t, tt.wantLabel, result.Label)
			assert.Equal(t, tt.wantStep, result.FailingStep)
			assert.Equal(t, table.ConfidenceFor(tt.wantLabel), result.Confidence)
			assert.Equal(t, 1, result.TableVersion)

			if tt.wantStep > 0 {
				require.Len(t, result.Steps, tt.wantStep)
				last := result.Steps[len(result.Steps)-1]
				assert.False(t, last.Success)
				assert.Equal(t, tt.wantStep, last.Number)
				if tt.wantStepErr {
					assert.NotEmpty(t, last.Error)
				}
			} else {
				assert.Len(t, result.Steps, len(table.Steps))
			}
			for i, sr := range result.Steps {
				assert.Equal(t, i+1, sr.Number)
			}
		})
	}
}

func TestClassify_EmptyDropdownConfidenceBelowDefaultThreshold(t *testing.T) {
	table := builtinTable(t, "dropdown")
	ev := models.EvidenceBundle{TaskID: "t", FailureLog: "timeout", Timestamp: time.Now()}

	result := Classify(table, ev)

	assert.Equal(t, models.DOMParsingFailure, result.Label)
	assert.Equal(t, 1, result.FailingStep)
	assert.Less(t, result.Confidence, 0.75)
}

func TestClassify_Deterministic(t *testing.T) {
	table := builtinTable(t, "dropdown")
	inputs := []models.EvidenceBundle{
		passingDropdownEvidence(),
		{TaskID: "empty", Timestamp: time.Unix(0, 0)},
		{TaskID: "log-only", FailureLog: "502 Bad Gateway", DOMSnapshot: dropdownDOM, Timestamp: time.Unix(0, 0)},
	}

	for _, ev := range inputs {
		first := Classify(table, ev)
		second := Classify(table, ev)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("Classify(%s) not deterministic (-first +second):\n%s", ev.TaskID, diff)
		}
	}
}

func TestClassify_ShortCircuit(t *testing.T) {
	calls := map[string]int{}
	counting := func(name string, ok bool) Predicate {
		return PredicateFunc(func(ev *models.EvidenceBundle) Check {
			calls[name]++
			return Check{OK: ok, Detail: name}
		})
	}

	table := &Table{
		Domain:     "synthetic",
		Version:    3,
		Confidence: map[models.RootCause]float64{models.DOMParsingFailure: 0.6},
		Steps: []Step{
			{Name: "one", Detect: counting("one.detect", true), Interact: counting("one.interact", true)},
			{Name: "two", Detect: counting("two.detect", false), Interact: counting("two.interact", true), Transient: counting("two.transient", true)},
			{Name: "three", Detect: counting("three.detect", true)},
		},
	}

	result := Classify(table, models.EvidenceBundle{TaskID: "x"})

	assert.Equal(t, models.DOMParsingFailure, result.Label)
	assert.Equal(t, 2, result.FailingStep)
	assert.Equal(t, 0.6, result.Confidence)
	assert.Equal(t, map[string]int{"one.detect": 1, "one.interact": 1, "two.detect": 1}, calls)
}

func TestClassify_StageOrderWithinStep(t *testing.T) {
	fail := PredicateFunc(func(ev *models.EvidenceBundle) Check { return Check{OK: false} })
	pass := PredicateFunc(func(ev *models.EvidenceBundle) Check { return Check{OK: true} })

	tests := []struct {
		name string
		step Step
		want models.RootCause
	}{
		{"interaction before timing", Step{Name: "s", Detect: pass, Interact: fail, Timing: fail}, models.ElementInteractionFailure},
		{"timing before choice", Step{Name: "s", Detect: pass, Interact: pass, Timing: fail, WrongChoice: fail}, models.DynamicContentFailure},
		{"choice before transient", Step{Name: "s", WrongChoice: fail, Transient: fail}, models.AgentReasoningFailure},
		{"transient last", Step{Name: "s", Detect: pass, Transient: fail}, models.WebsiteStateFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := &Table{Domain: "synthetic", DefaultConfidence: 0.5, Steps: []Step{tt.step}}
			result := Classify(table, models.EvidenceBundle{})
			assert.Equal(t, tt.want, result.Label)
			assert.Equal(t, 0.5, result.Confidence)
		})
	}
}

func TestClassify_RecoversFromPredicateFault(t *testing.T) {
	table := &Table{
		Domain:  "synthetic",
		Version: 2,
		Steps: []Step{{
			Name: "boom",
			Detect: PredicateFunc(func(ev *models.EvidenceBundle) Check {
				panic("index out of range")
			}),
		}},
	}

	var result models.DeterministicResult
	require.NotPanics(t, func() { result = Classify(table, models.EvidenceBundle{}) })
	assert.Equal(t, models.Unknown, result.Label)
	assert.Equal(t, 0.0, result.Confidence)
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.TableVersion)
	assert.Contains(t, result.Error, "index out of range")
}

func TestClassify_LearnedRuleOverlay(t *testing.T) {
	spec, _, err := BuiltinSpec("dropdown")
	require.NoError(t, err)
	spec.Learned = []LearnedRuleSpec{{
		ID:          "learned-1",
		Keywords:    []string{"shadow root", "detached"},
		DOMPatterns: []string{"<my-select"},
		Frameworks:  []string{"browser-use"},
		Label:       models.DynamicContentFailure,
		Confidence:  0.82,
	}}
	table, err := Compile(spec, 2)
	require.NoError(t, err)

	ev := models.EvidenceBundle{
		TaskID:      "shadow",
		FailureLog:  "element detached from shadow root",
		DOMSnapshot: "<my-select></my-select>",
		Framework:   "Browser-Use",
	}

	result := Classify(table, ev)
	assert.Equal(t, models.DynamicContentFailure, result.Label)
	assert.Equal(t, 0.82, result.Confidence)
	assert.Equal(t, "learned-1", result.MatchedRule)
	assert.Equal(t, 1, result.FailingStep)

	ev.Framework = "playwright"
	result = Classify(table, ev)
	assert.Equal(t, models.DOMParsingFailure, result.Label)
	assert.Empty(t, result.MatchedRule)

	// learned rules never override a passing cascade
	ok := passingDropdownEvidence()
	ok.FailureLog = "shadow root detached"
	result = Classify(table, ok)
	assert.Equal(t, models.Success, result.Label)
	assert.Empty(t, result.MatchedRule)
}

func TestCompile_Errors(t *testing.T) {
	base := func() TableSpec {
		return TableSpec{
			Domain:     "d",
			Confidence: map[models.RootCause]float64{models.Success: 0.9},
			Steps:      []StepSpec{{Name: "s", Detect: []string{"x"}}},
		}
	}

	tests := []struct {
		name   string
		mutate func(s *TableSpec)
		want   string
	}{
		{"no domain", func(s *TableSpec) { s.Domain = " " }, "no domain"},
		{"no steps", func(s *TableSpec) { s.Steps = nil }, "no steps"},
		{"bad label", func(s *TableSpec) { s.Confidence["BROKEN"] = 0.1 }, "unknown label"},
		{"confidence range", func(s *TableSpec) { s.Confidence[models.Success] = 1.5 }, "out of range"},
		{"duplicate step", func(s *TableSpec) { s.Steps = append(s.Steps, StepSpec{Name: "s"}) }, "duplicate step"},
		{"render without interact", func(s *TableSpec) { s.Steps[0].MinRenderMs = 10 }, "without interact"},
		{"learned success label", func(s *TableSpec) {
			s.Learned = []LearnedRuleSpec{{ID: "l", Keywords: []string{"k"}, Label: models.Success, Confidence: 0.5}}
		}, "non-failure label"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := base()
			tt.mutate(&spec)
			_, err := Compile(spec, 1)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuiltinSpecs(t *testing.T) {
	specs, err := BuiltinSpecs()
	require.NoError(t, err)

	var domains []string
	for _, s := range specs {
		domains = append(domains, s.Domain)
		_, err := Compile(s, 1)
		assert.NoError(t, err, s.Domain)
		assert.NotEmpty(t, s.Keywords, s.Domain)
	}
	assert.Equal(t, []string{"dropdown", "login_form", "navigation", "search_form"}, domains)

	_, ok, err := BuiltinSpec("calendar")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTableSpec_MarshalStable(t *testing.T) {
	spec, _, err := BuiltinSpec("login_form")
	require.NoError(t, err)

	first, err := spec.Marshal()
	require.NoError(t, err)
	reparsed, err := ParseSpec(first)
	require.NoError(t, err)
	second, err := reparsed.Marshal()
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestTableSpec_CloneIsDeep(t *testing.T) {
	spec, _, err := BuiltinSpec("dropdown")
	require.NoError(t, err)

	cp := spec.Clone()
	cp.Keywords[0] = "changed"
	cp.Steps[1].Interact.Targets[0] = "changed"
	cp.Confidence[models.Success] = 0.1

	assert.NotEqual(t, "changed", spec.Keywords[0])
	assert.NotEqual(t, "changed", spec.Steps[1].Interact.Targets[0])
	assert.NotEqual(t, 0.1, spec.Confidence[models.Success])
}

func TestParseSpec_RejectsUnknownFields(t *testing.T) {
	_, err := ParseSpec([]byte("domain: d\nsteps: []\nbogus: true\n"))
	require.Error(t, err)
}
