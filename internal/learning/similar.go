package learning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/harrison/rootcause/internal/models"
	"github.com/harrison/rootcause/internal/similarity"
)

// candidate is a historical case eligible for similarity search.
type candidate struct {
	id    string
	label models.RootCause
	ev    models.EvidenceBundle
}

// loadCandidates returns recent cases in domain where the deterministic tier
// failed or was unsure and the oracle produced a concrete failure label.
// Rejected cases are excluded. Rows are fully read before returning.
func (s *Store) loadCandidates(ctx context.Context, domain string) ([]candidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, ai_label, evidence_json
		FROM learning_cases
		WHERE domain = ?
		  AND validation_status != ?
		  AND ai_success = 1
		  AND ai_label IS NOT NULL
		  AND (det_success IS NULL OR det_success = 0 OR det_confidence < ? OR det_label = ?)
		ORDER BY created_at DESC, id ASC
		LIMIT ?`,
		domain, string(models.CaseRejected), s.Tuning.LowConfidence, string(models.Unknown), s.Tuning.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		var label, evidenceJSON string
		if err := rows.Scan(&c.id, &label, &evidenceJSON); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.label = models.RootCause(label)
		if !c.label.IsFailure() {
			continue
		}
		if err := json.Unmarshal([]byte(evidenceJSON), &c.ev); err != nil {
			return nil, fmt.Errorf("decode evidence for %s: %w", c.id, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// FindSimilar scores ev against past cases of the same domain and groups the
// matches at or above the similarity floor by their oracle label. The case
// recorded for ev itself is never matched. Matches are ordered by similarity.
func (s *Store) FindSimilar(ctx context.Context, ev models.EvidenceBundle, domain string) ([]models.PatternMatch, error) {
	cands, err := s.loadCandidates(ctx, domain)
	if err != nil {
		return nil, err
	}

	self := models.CaseID(ev.TaskID, ev.Timestamp)
	query := s.tokenizer.Vectorize(ev.Text())
	if len(query) == 0 {
		return []models.PatternMatch{}, nil
	}

	byLabel := make(map[models.RootCause]*models.PatternMatch)
	for _, c := range cands {
		if c.id == self {
			continue
		}
		score := similarity.Cosine(query, s.tokenizer.Vectorize(c.ev.Text()))
		if score < s.Tuning.SimilarityFloor {
			continue
		}
		m, ok := byLabel[c.label]
		if !ok {
			m = &models.PatternMatch{
				PatternID:        PatternID(domain, c.label),
				RecommendedLabel: c.label,
			}
			byLabel[c.label] = m
		}
		m.CaseIDs = append(m.CaseIDs, c.id)
		if score > m.Similarity {
			m.Similarity = score
		}
	}

	matches := make([]models.PatternMatch, 0, len(byLabel))
	for _, m := range byLabel {
		sort.Strings(m.CaseIDs)
		m.ConfidenceBoost = s.boost(len(m.CaseIDs))
		matches = append(matches, *m)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].PatternID < matches[j].PatternID
	})
	return matches, nil
}

func (s *Store) boost(n int) float64 {
	b := s.Tuning.BoostPerCase * float64(n)
	if b > s.Tuning.MaxBoost {
		return s.Tuning.MaxBoost
	}
	return b
}

// PatternID is the stable identifier of a (domain, label) pattern.
func PatternID(domain string, label models.RootCause) string {
	sum := sha256.Sum256([]byte(domain + "|" + string(label)))
	return "pat-" + hex.EncodeToString(sum[:])[:12]
}
