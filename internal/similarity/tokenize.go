// Package similarity turns failure text into term vectors and scores them with
// cosine similarity. It is the lexical engine behind learning-store search.
package similarity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"
)

// Tokenizer normalizes free text into terms.
type Tokenizer struct {
	// stopwords contains words to filter out during normalization
	stopwords map[string]bool

	// minLen drops terms shorter than this many runes
	minLen int
}

// NewTokenizer creates a Tokenizer with default stopwords.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{
		stopwords: defaultStopwords(),
		minLen:    2,
	}
}

// NewWordTokenizer creates a Tokenizer that keeps every word, including
// stopwords and single characters. Phrase matching needs all of them.
func NewWordTokenizer() *Tokenizer {
	return &Tokenizer{
		stopwords: map[string]bool{},
		minLen:    1,
	}
}

// defaultStopwords returns common English stopwords plus markup noise found in
// DOM snapshots.
func defaultStopwords() map[string]bool {
	words := []string{
		"the", "a", "an", "is", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "may", "might", "must", "shall", "can", "need",
		"to", "of", "in", "for", "on", "with", "at", "by", "from", "as",
		"into", "through", "during", "before", "after", "above", "below",
		"between", "under", "over", "out", "up", "down", "off", "about",
		"and", "but", "or", "nor", "so", "yet", "both", "either", "neither",
		"not", "only", "also", "just", "than", "too", "very", "much",
		"this", "that", "these", "those", "it", "its", "itself",
		"i", "me", "my", "we", "us", "our", "you", "your", "he", "she",
		"him", "her", "his", "they", "them", "their", "who", "which", "what",
		"all", "each", "every", "any", "some", "no", "none", "one", "two",
		// markup
		"div", "span", "class", "id", "style", "px", "nbsp", "html", "body",
	}

	stopwords := make(map[string]bool, len(words))
	for _, w := range words {
		stopwords[w] = true
	}
	return stopwords
}

// Tokenize lowercases input, replaces punctuation with spaces, splits into
// words, and drops stopwords and very short terms. Order is preserved.
func (t *Tokenizer) Tokenize(input string) []string {
	lower := strings.ToLower(input)

	var cleaned strings.Builder
	cleaned.Grow(len(lower))
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			cleaned.WriteRune(r)
		} else {
			cleaned.WriteRune(' ')
		}
	}

	words := strings.Fields(cleaned.String())
	filtered := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < t.minLen || t.stopwords[w] {
			continue
		}
		filtered = append(filtered, w)
	}
	return filtered
}

// Terms returns the distinct terms of input, sorted.
func (t *Tokenizer) Terms(input string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range t.Tokenize(input) {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}

// Fingerprint hashes the sorted distinct terms of input. Two texts that differ
// only in punctuation, case, stopwords, or word order share a fingerprint.
func (t *Tokenizer) Fingerprint(input string) string {
	sum := sha256.Sum256([]byte(strings.Join(t.Terms(input), " ")))
	return hex.EncodeToString(sum[:])
}
