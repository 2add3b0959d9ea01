package cascade

import (
	"sort"

	"github.com/harrison/rootcause/internal/models"
	"github.com/harrison/rootcause/internal/similarity"
)

// AutoDomain is the domain hint that asks for keyword-based table selection.
const AutoDomain = "auto"

// DomainScore is the keyword overlap between evidence and one domain.
type DomainScore struct {
	Domain string
	Score  int
}

// ScoreDomains counts, for each table, how many of its keywords occur as whole
// words in the evidence (log, snapshot, action targets and values). A
// multi-word keyword must appear as a contiguous phrase. Results are ordered by
// descending score, then domain name, so selection is deterministic.
func ScoreDomains(tables []*Table, ev models.EvidenceBundle) []DomainScore {
	words := similarity.NewWordTokenizer()
	var corpus []string
	corpus = append(corpus, words.Tokenize(ev.FailureLog)...)
	corpus = append(corpus, words.Tokenize(ev.DOMSnapshot)...)
	for _, a := range ev.Actions {
		corpus = append(corpus, words.Tokenize(a.Type+" "+a.Target+" "+a.Value)...)
	}
	present := make(map[string]bool, len(corpus))
	for _, w := range corpus {
		present[w] = true
	}

	scores := make([]DomainScore, 0, len(tables))
	for _, t := range tables {
		if t == nil {
			continue
		}
		score := 0
		for _, kw := range t.Keywords {
			phrase := words.Tokenize(kw)
			switch {
			case len(phrase) == 0:
			case len(phrase) == 1 && present[phrase[0]]:
				score++
			case len(phrase) > 1 && containsPhrase(corpus, phrase):
				score++
			}
		}
		scores = append(scores, DomainScore{Domain: t.Domain, Score: score})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Domain < scores[j].Domain
	})
	return scores
}

// DetectDomain picks the highest-scoring domain. It returns "" when no table
// shares a single keyword with the evidence.
func DetectDomain(tables []*Table, ev models.EvidenceBundle) string {
	scores := ScoreDomains(tables, ev)
	if len(scores) == 0 || scores[0].Score == 0 {
		return ""
	}
	return scores[0].Domain
}

// containsPhrase reports whether phrase occurs as a contiguous run of words.
func containsPhrase(words, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j, p := range phrase {
			if words[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
