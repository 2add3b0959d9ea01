package oracle

import "strings"

// domainTerms are vocabulary a grounded failure explanation tends to use.
var domainTerms = []string{
	"dom", "selector", "element", "click", "render", "loaded", "timeout",
	"dropdown", "option", "button", "input", "form", "page", "server",
	"network", "agent", "snapshot", "visible", "wait", "navigation",
}

// ScoreConfidence derives a confidence in [0,1] from the reply itself: its
// length, how much domain vocabulary it uses, and how many labeled sections
// the parser recognized. Whatever confidence the service states is ignored.
func ScoreConfidence(reply string, p Parsed) float64 {
	score := 0.2

	switch n := len(strings.TrimSpace(reply)); {
	case n >= 800:
		score += 0.2
	case n >= 300:
		score += 0.15
	case n >= 100:
		score += 0.1
	case n > 0:
		score += 0.05
	}

	lower := strings.ToLower(reply)
	hits := 0
	for _, term := range domainTerms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	if hits > 5 {
		hits = 5
	}
	score += 0.04 * float64(hits)

	f := p.Finding
	if !p.Fallback && len(f.RootCauses) > 0 {
		score += 0.1
	}
	if len(f.WhyChain.Whys) > 0 {
		score += 0.1
	}
	if len(f.Recommendations) > 0 {
		score += 0.1
	}
	if len(f.ContributingFactors) > 0 {
		score += 0.05
	}
	if p.Sections >= 4 {
		score += 0.05
	}
	if p.Fallback {
		score -= 0.1
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
