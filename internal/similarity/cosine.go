package similarity

import (
	"math"
	"sort"
)

// Vector is a sparse term-frequency vector.
type Vector map[string]float64

// Vectorize builds a term-frequency vector from input.
func (t *Tokenizer) Vectorize(input string) Vector {
	v := make(Vector)
	for _, w := range t.Tokenize(input) {
		v[w]++
	}
	return v
}

// Norm returns the Euclidean length of v.
func (v Vector) Norm() float64 {
	var sum float64
	for _, f := range v {
		sum += f * f
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of two vectors. Empty vectors score 0.
func Cosine(a, b Vector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	// iterate the smaller map
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for term, fa := range a {
		if fb, ok := b[term]; ok {
			dot += fa * fb
		}
	}
	if dot == 0 {
		return 0
	}
	score := dot / (a.Norm() * b.Norm())
	if score > 1 {
		return 1
	}
	return score
}

// TopTerms returns up to n terms ordered by descending weight, then name.
func (v Vector) TopTerms(n int) []string {
	terms := make([]string, 0, len(v))
	for term := range v {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if v[terms[i]] != v[terms[j]] {
			return v[terms[i]] > v[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if n >= 0 && len(terms) > n {
		terms = terms[:n]
	}
	return terms
}
