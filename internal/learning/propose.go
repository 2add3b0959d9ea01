package learning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/harrison/rootcause/internal/models"
	"github.com/harrison/rootcause/internal/similarity"
)

// cluster is a group of mutually similar cases sharing an oracle label.
type cluster struct {
	label       models.RootCause
	seed        similarity.Vector
	fingerprint string
	members     []candidate
}

// ProposeUpdates synthesizes rule updates for domain from recurring
// oracle-confirmed patterns. Cases are grouped by label and clustered by
// similarity; a cluster of at least MinOccurrences cases yields one update
// whose triggers are the terms common to its members. Proposals whose trigger
// signature already exists are skipped, so only newly created updates are
// returned, each with status pending.
func (s *Store) ProposeUpdates(ctx context.Context, domain string) ([]*models.RuleUpdate, error) {
	cands, err := s.loadCandidates(ctx, domain)
	if err != nil {
		return nil, err
	}

	var proposals []*models.RuleUpdate
	for _, c := range s.clusterCandidates(cands) {
		if len(c.members) < s.Tuning.MinOccurrences {
			continue
		}
		u := s.synthesize(domain, c)
		if u == nil {
			continue
		}
		created, err := s.insertProposal(ctx, u)
		if err != nil {
			return nil, err
		}
		if created {
			proposals = append(proposals, u)
		}
	}
	return proposals, nil
}

// clusterCandidates assigns each case to the first cluster of the same label
// whose seed it resembles, opening a new cluster otherwise. Cases are visited
// in id order so the result does not depend on recording order.
func (s *Store) clusterCandidates(cands []candidate) []*cluster {
	sorted := make([]candidate, len(cands))
	copy(sorted, cands)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].id < sorted[j].id })

	var clusters []*cluster
	for _, c := range sorted {
		vec := s.tokenizer.Vectorize(c.ev.Text())
		if len(vec) == 0 {
			continue
		}
		fp := s.tokenizer.Fingerprint(c.ev.Text())
		var home *cluster
		for _, cl := range clusters {
			if cl.label != c.label {
				continue
			}
			if cl.fingerprint == fp || similarity.Cosine(cl.seed, vec) >= s.Tuning.SimilarityFloor {
				home = cl
				break
			}
		}
		if home == nil {
			home = &cluster{label: c.label, seed: vec, fingerprint: fp}
			clusters = append(clusters, home)
		}
		home.members = append(home.members, c)
	}
	return clusters
}

// synthesize derives trigger conditions from a cluster. It returns nil when
// the members share no failure-log terms.
func (s *Store) synthesize(domain string, c *cluster) *models.RuleUpdate {
	logs := make([]string, len(c.members))
	doms := make([]string, len(c.members))
	ids := make([]string, len(c.members))
	for i, m := range c.members {
		logs[i] = m.ev.FailureLog
		doms[i] = m.ev.DOMSnapshot
		ids[i] = m.id
	}
	sort.Strings(ids)

	keywords := s.commonTerms(logs, s.Tuning.MaxKeywords)
	if len(keywords) == 0 {
		return nil
	}

	n := len(c.members)
	confidence := math.Min(s.Tuning.ConfidenceCap, s.Tuning.ConfidenceBase+s.Tuning.ConfidencePerCase*float64(n))

	u := &models.RuleUpdate{
		ID:              uuid.New().String(),
		Domain:          domain,
		Keywords:        keywords,
		DOMPatterns:     s.commonTerms(doms, s.Tuning.MaxDOMTerms),
		Frameworks:      sharedFrameworks(c.members),
		ExpectedLabel:   c.label,
		Confidence:      math.Round(confidence*100) / 100,
		SupportingCases: ids,
		Status:          models.UpdatePending,
		CreatedAt:       s.now(),
	}
	u.Signature = UpdateSignature(u)
	return u
}

// commonTerms returns up to max terms present in at least KeywordShare of
// texts, ranked by document frequency then total frequency then name.
func (s *Store) commonTerms(texts []string, max int) []string {
	df := make(map[string]int)
	tf := make(map[string]int)
	total := 0
	for _, text := range texts {
		for _, term := range s.tokenizer.Terms(text) {
			df[term]++
		}
		for _, term := range s.tokenizer.Tokenize(text) {
			tf[term]++
			total++
		}
	}

	need := int(math.Ceil(s.Tuning.KeywordShare * float64(len(texts))))
	if need < 1 {
		need = 1
	}
	// tf never exceeds total, so weighting df by total+1 keeps df primary
	weights := make(similarity.Vector, len(df))
	for term, n := range df {
		if n >= need {
			weights[term] = float64(n*(total+1) + tf[term])
		}
	}
	if max <= 0 {
		max = len(weights)
	}
	terms := weights.TopTerms(max)
	sort.Strings(terms)
	return terms
}

// sharedFrameworks returns the distinct frameworks of the members when every
// member names one, and an empty set (any framework) otherwise.
func sharedFrameworks(members []candidate) []string {
	seen := make(map[string]bool)
	for _, m := range members {
		fw := strings.ToLower(strings.TrimSpace(m.ev.Framework))
		if fw == "" {
			return []string{}
		}
		seen[fw] = true
	}
	out := make([]string, 0, len(seen))
	for fw := range seen {
		out = append(out, fw)
	}
	sort.Strings(out)
	return out
}

// UpdateSignature hashes an update's domain, label, and trigger sets.
func UpdateSignature(u *models.RuleUpdate) string {
	parts := []string{
		u.Domain,
		string(u.ExpectedLabel),
		strings.Join(sortedCopy(u.Keywords), ","),
		strings.Join(sortedCopy(u.DOMPatterns), ","),
		strings.Join(sortedCopy(u.Frameworks), ","),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

// insertProposal stores u unless an update with the same signature exists.
func (s *Store) insertProposal(ctx context.Context, u *models.RuleUpdate) (bool, error) {
	row, err := encodeUpdate(u)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO rule_updates
		(id, domain, signature, keywords, dom_patterns, frameworks, expected_label, confidence,
		 supporting_cases, status, backup_taken, applied_version, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Domain, u.Signature, row.keywords, row.domPatterns, row.frameworks,
		string(u.ExpectedLabel), u.Confidence, row.cases, string(u.Status), u.BackupTaken,
		nullInt(u.AppliedVersion), nullString(u.Error), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert rule update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert rule update: %w", err)
	}
	return n > 0, nil
}
