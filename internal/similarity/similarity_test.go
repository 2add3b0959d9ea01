package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tok := NewTokenizer()

	got := tok.Tokenize(`The <div class="menu">Dropdown</div> was NOT found: timeout_error 503!`)

	assert.Equal(t, []string{"menu", "dropdown", "found", "timeout_error", "503"}, got)
}

func TestWordTokenizer_KeepsStopwords(t *testing.T) {
	tok := NewWordTokenizer()

	assert.Equal(t, []string{"could", "not", "log", "in", "a"}, tok.Tokenize("Could not log in: a"))
	assert.Equal(t, []string{"li", "role", "menuitem"}, tok.Tokenize(`<li role="menuitem">`))
}

func TestTerms_DistinctSorted(t *testing.T) {
	tok := NewTokenizer()

	assert.Equal(t, []string{"click", "failed", "option"}, tok.Terms("option click failed, click option"))
	assert.Empty(t, tok.Terms("the a an"))
}

func TestFingerprint(t *testing.T) {
	tok := NewTokenizer()

	a := tok.Fingerprint("Click failed on the Option")
	b := tok.Fingerprint("option; click FAILED")
	c := tok.Fingerprint("option click succeeded")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b Vector
		want float64
	}{
		{"identical", Vector{"x": 1, "y": 2}, Vector{"x": 1, "y": 2}, 1},
		{"orthogonal", Vector{"x": 1}, Vector{"y": 1}, 0},
		{"empty", Vector{}, Vector{"y": 1}, 0},
		{"half overlap", Vector{"x": 1, "y": 1}, Vector{"x": 1, "z": 1}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.want, Cosine(tt.b, tt.a), 1e-9)
		})
	}
}

func TestTopTerms(t *testing.T) {
	v := Vector{"b": 2, "a": 2, "c": 5, "d": 1}

	assert.Equal(t, []string{"c", "a", "b"}, v.TopTerms(3))
	assert.Len(t, v.TopTerms(10), 4)
}
