package oracle

import (
	"errors"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/harrison/rootcause/internal/models"
)

// ErrEmptyReply is returned when a reply contains no usable text.
var ErrEmptyReply = errors.New("empty reply")

// Parsed is a finding extracted from a reply plus how much structure was found.
type Parsed struct {
	Finding models.AIFinding

	// Sections counts the labeled sections recognized (root cause, why,
	// contributing, recommendations, summary).
	Sections int

	// Fallback is true when no labeled section was found and the leading
	// sentences were used instead.
	Fallback bool
}

// Parser turns reply text into a finding. Implementations must be deterministic.
type Parser interface {
	Parse(reply string) (Parsed, error)
}

type section int

const (
	sectionNone section = iota
	sectionRootCause
	sectionWhy
	sectionContributing
	sectionRecommendations
	sectionSummary
)

// sectionNames is checked in order; the first matching cue wins.
var sectionNames = []struct {
	section section
	cues    []string
}{
	{sectionContributing, []string{"contributing", "factor"}},
	{sectionRootCause, []string{"root cause", "primary cause", "likely cause", "cause"}},
	{sectionWhy, []string{"why", "5 whys", "five whys"}},
	{sectionRecommendations, []string{"recommend", "remediation", "next step", "fix", "suggest"}},
	{sectionSummary, []string{"summary", "overview", "tl;dr", "conclusion"}},
}

func classifySection(heading string) section {
	h := strings.ToLower(strings.TrimSpace(heading))
	for _, s := range sectionNames {
		for _, cue := range s.cues {
			if strings.Contains(h, cue) {
				return s.section
			}
		}
	}
	return sectionNone
}

var (
	labeledLineRe = regexp.MustCompile(`(?i)^\s*(root cause|primary cause|why(?:\s*\d+)?|contributing factors?|recommendations?|summary)\s*[:：]\s*(.*)$`)
	listMarkerRe  = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	sentenceRe    = regexp.MustCompile(`[^.!?\n]+[.!?]+`)
)

// MarkdownParser extracts sections from markdown headings, labeled lines
// ("Root cause: ..."), and list items. When nothing is labeled it falls back
// to the first one to three sentences.
type MarkdownParser struct {
	markdown goldmark.Markdown
}

// NewMarkdownParser creates a parser backed by goldmark.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{markdown: goldmark.New()}
}

type collector struct {
	current  section
	seen     map[section]bool
	roots    []string
	whys     []string
	factors  []string
	recs     []string
	summary  []string
	leftover []string
}

func (c *collector) add(s section, line string) {
	line = cleanInline(line)
	if line == "" {
		return
	}
	switch s {
	case sectionRootCause:
		c.roots = append(c.roots, line)
	case sectionWhy:
		c.whys = append(c.whys, line)
	case sectionContributing:
		c.factors = append(c.factors, line)
	case sectionRecommendations:
		c.recs = append(c.recs, line)
	case sectionSummary:
		c.summary = append(c.summary, line)
	default:
		c.leftover = append(c.leftover, line)
	}
}

// addBlock handles one paragraph or list item. A line carrying its own label
// ("Why: ...") starts a new entry; unlabeled lines continue the current one.
func (c *collector) addBlock(block string) {
	var buf []string
	target := c.current
	flush := func() {
		if len(buf) > 0 {
			c.add(target, strings.Join(buf, " "))
			buf = buf[:0]
		}
	}
	for _, line := range strings.Split(block, "\n") {
		plain := strings.NewReplacer("**", "", "__", "", "`", "").Replace(line)
		plain = listMarkerRe.ReplaceAllString(plain, "")
		if m := labeledLineRe.FindStringSubmatch(plain); m != nil {
			flush()
			target = classifySection(m[1])
			c.current = target
			c.seen[target] = true
			buf = append(buf, m[2])
			continue
		}
		buf = append(buf, strings.TrimSpace(line))
	}
	flush()
}

// Parse implements Parser.
func (p *MarkdownParser) Parse(reply string) (Parsed, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return Parsed{}, ErrEmptyReply
	}

	source := []byte(reply)
	doc := p.markdown.Parser().Parse(text.NewReader(source))
	c := &collector{seen: make(map[section]bool)}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			c.current = classifySection(blockText(node, source))
			if c.current != sectionNone {
				c.seen[c.current] = true
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock:
			c.addBlock(blockText(node, source))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return Parsed{}, err
	}

	delete(c.seen, sectionNone)
	parsed := Parsed{Sections: len(c.seen)}

	f := models.AIFinding{
		RootCauses:          c.roots,
		ContributingFactors: c.factors,
		Recommendations:     c.recs,
		Summary:             strings.Join(c.summary, " "),
	}

	if len(f.RootCauses) == 0 {
		sentences := leadingSentences(strings.Join(c.leftover, " "), 3)
		if len(sentences) == 0 {
			sentences = leadingSentences(cleanInline(reply), 3)
		}
		if len(sentences) == 0 {
			return Parsed{}, ErrEmptyReply
		}
		f.RootCauses = []string{sentences[0]}
		if f.Summary == "" {
			f.Summary = strings.Join(sentences, " ")
		}
		parsed.Fallback = parsed.Sections == 0
	}
	if f.Summary == "" {
		f.Summary = f.RootCauses[0]
	}

	f.WhyChain = models.WhyChain{Cause: f.RootCauses[0], Whys: c.whys}
	if f.WhyChain.Whys == nil {
		f.WhyChain.Whys = []string{}
	}
	parsed.Finding = f
	return parsed, nil
}

// blockText concatenates the raw source lines of a block node.
func blockText(n ast.Node, source []byte) string {
	lines := n.Lines()
	parts := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		parts = append(parts, strings.TrimRight(string(seg.Value(source)), "\r\n"))
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// cleanInline removes list markers, emphasis, and surrounding whitespace.
func cleanInline(s string) string {
	s = listMarkerRe.ReplaceAllString(s, "")
	s = strings.NewReplacer("**", "", "__", "", "`", "").Replace(s)
	return strings.TrimSpace(s)
}

// leadingSentences returns up to n sentences from s. Text without terminal
// punctuation counts as a single sentence.
func leadingSentences(s string, n int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	matches := sentenceRe.FindAllString(s, n)
	if len(matches) == 0 {
		return []string{s}
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}
