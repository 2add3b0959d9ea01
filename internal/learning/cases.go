package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/rootcause/internal/models"
)

// Record appends a case and its outcome. The case id is derived from the
// evidence task id and timestamp; recording the same evidence again is a
// no-op that returns the existing id.
func (s *Store) Record(ctx context.Context, outcome models.HybridOutcome, ev models.EvidenceBundle) (string, error) {
	id, _, err := s.record(ctx, outcome, ev)
	return id, err
}

// record reports whether a new case row was inserted.
func (s *Store) record(ctx context.Context, outcome models.HybridOutcome, ev models.EvidenceBundle) (string, bool, error) {
	caseID := models.CaseID(ev.TaskID, ev.Timestamp)
	outcome.CaseID = caseID

	evidenceJSON, err := json.Marshal(ev)
	if err != nil {
		return "", false, fmt.Errorf("marshal evidence: %w", err)
	}
	detJSON, err := marshalOptional(outcome.Deterministic)
	if err != nil {
		return "", false, fmt.Errorf("marshal deterministic result: %w", err)
	}
	aiJSON, err := marshalOptional(outcome.AI)
	if err != nil {
		return "", false, fmt.Errorf("marshal ai finding: %w", err)
	}
	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return "", false, fmt.Errorf("marshal outcome: %w", err)
	}
	updatesJSON, err := marshalStrings(outcome.RuleUpdates)
	if err != nil {
		return "", false, fmt.Errorf("marshal rule updates: %w", err)
	}

	var detLabel, aiLabel sql.NullString
	var detConfidence sql.NullFloat64
	var detSuccess, aiSuccess sql.NullBool
	if d := outcome.Deterministic; d != nil {
		detLabel = sql.NullString{String: string(d.Label), Valid: true}
		detConfidence = sql.NullFloat64{Float64: d.Confidence, Valid: true}
		detSuccess = sql.NullBool{Bool: d.Success, Valid: true}
	}
	if a := outcome.AI; a != nil {
		aiLabel = sql.NullString{String: string(a.Label), Valid: true}
		aiSuccess = sql.NullBool{Bool: a.Success, Valid: true}
	}

	createdAt := outcome.Timestamp.UTC()
	if outcome.Timestamp.IsZero() {
		createdAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin record: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO learning_cases
		(id, task_id, domain, framework, failure_log, dom_snapshot, evidence_json, deterministic_json, ai_json,
		 det_label, det_confidence, det_success, ai_label, ai_success, validation_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		caseID, ev.TaskID, outcome.Domain, ev.Framework, ev.FailureLog, ev.DOMSnapshot, string(evidenceJSON),
		detJSON, aiJSON, detLabel, detConfidence, detSuccess, aiLabel, aiSuccess,
		string(models.CasePending), createdAt,
	)
	if err != nil {
		return "", false, fmt.Errorf("insert learning case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("insert learning case: %w", err)
	}
	if n == 0 {
		return caseID, false, nil
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO hybrid_outcomes
		(case_id, task_id, domain, label, confidence, primary_method, oracle_invoked, pattern_discovered, rule_updates, latency_ms, outcome_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		caseID, outcome.TaskID, outcome.Domain, string(outcome.Label), outcome.Confidence, string(outcome.Method),
		outcome.OracleInvoked, outcome.PatternDiscovered, updatesJSON, outcome.LatencyMs, string(outcomeJSON), createdAt,
	)
	if err != nil {
		return "", false, fmt.Errorf("insert hybrid outcome: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit record: %w", err)
	}
	return caseID, true, nil
}

// AnnotateOutcome stores what the learning pass found for a recorded case.
func (s *Store) AnnotateOutcome(ctx context.Context, caseID string, discovered bool, updateIDs []string) error {
	outcome, err := s.GetOutcome(ctx, caseID)
	if err != nil {
		return err
	}
	outcome.PatternDiscovered = discovered
	outcome.RuleUpdates = append([]string{}, updateIDs...)

	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	updatesJSON, err := marshalStrings(outcome.RuleUpdates)
	if err != nil {
		return fmt.Errorf("marshal rule updates: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE hybrid_outcomes
		SET pattern_discovered = ?, rule_updates = ?, outcome_json = ?
		WHERE case_id = ?`, discovered, updatesJSON, string(outcomeJSON), caseID)
	if err != nil {
		return fmt.Errorf("annotate outcome %s: %w", caseID, err)
	}
	return nil
}

// GetOutcome returns the stored outcome of a case.
func (s *Store) GetOutcome(ctx context.Context, caseID string) (models.HybridOutcome, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT outcome_json FROM hybrid_outcomes WHERE case_id = ?`, caseID).Scan(&raw)
	if err == sql.ErrNoRows {
		return models.HybridOutcome{}, fmt.Errorf("outcome %s: %w", caseID, ErrNotFound)
	}
	if err != nil {
		return models.HybridOutcome{}, fmt.Errorf("query outcome %s: %w", caseID, err)
	}
	var outcome models.HybridOutcome
	if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
		return models.HybridOutcome{}, fmt.Errorf("decode outcome %s: %w", caseID, err)
	}
	return outcome, nil
}

const caseColumns = `id, domain, evidence_json, deterministic_json, ai_json, validation_status, created_at`

func scanCase(scan func(dest ...interface{}) error) (*models.LearningCase, error) {
	c := &models.LearningCase{}
	var evidenceJSON string
	var detJSON, aiJSON sql.NullString
	var status string
	if err := scan(&c.ID, &c.Domain, &evidenceJSON, &detJSON, &aiJSON, &status, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = models.ValidationStatus(status)
	if err := json.Unmarshal([]byte(evidenceJSON), &c.Evidence); err != nil {
		return nil, fmt.Errorf("decode evidence for %s: %w", c.ID, err)
	}
	if detJSON.Valid && detJSON.String != "" {
		c.Deterministic = &models.DeterministicResult{}
		if err := json.Unmarshal([]byte(detJSON.String), c.Deterministic); err != nil {
			return nil, fmt.Errorf("decode deterministic result for %s: %w", c.ID, err)
		}
	}
	if aiJSON.Valid && aiJSON.String != "" {
		c.AI = &models.AIFinding{}
		if err := json.Unmarshal([]byte(aiJSON.String), c.AI); err != nil {
			return nil, fmt.Errorf("decode ai finding for %s: %w", c.ID, err)
		}
	}
	return c, nil
}

// GetCase loads one case by id.
func (s *Store) GetCase(ctx context.Context, caseID string) (*models.LearningCase, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM learning_cases WHERE id = ?`, caseID)
	c, err := scanCase(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query case %s: %w", caseID, err)
	}
	return c, nil
}

// CaseFilter narrows ListCases. Zero values match everything.
type CaseFilter struct {
	Domain string
	Status models.ValidationStatus
	// Label matches the final label of the case's hybrid outcome
	Label models.RootCause
	Limit int
}

// ListCases returns cases newest first.
func (s *Store) ListCases(ctx context.Context, f CaseFilter) ([]*models.LearningCase, error) {
	var where []string
	var args []interface{}
	if f.Domain != "" {
		where = append(where, "domain = ?")
		args = append(args, f.Domain)
	}
	if f.Status != "" {
		where = append(where, "validation_status = ?")
		args = append(args, string(f.Status))
	}
	if f.Label != "" {
		where = append(where, "id IN (SELECT case_id FROM hybrid_outcomes WHERE label = ?)")
		args = append(args, string(f.Label))
	}
	query := `SELECT ` + caseColumns + ` FROM learning_cases`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var cases []*models.LearningCase
	for rows.Next() {
		c, err := scanCase(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return cases, nil
}

// SetValidation re-flags a case. Cases are never deleted.
func (s *Store) SetValidation(ctx context.Context, caseID string, status models.ValidationStatus) error {
	if _, err := models.ParseValidationStatus(string(status)); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE learning_cases SET validation_status = ? WHERE id = ?`, string(status), caseID)
	if err != nil {
		return fmt.Errorf("update case %s: %w", caseID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update case %s: %w", caseID, err)
	}
	if n == 0 {
		return fmt.Errorf("case %s: %w", caseID, ErrNotFound)
	}
	return nil
}

// AllValidated reports whether every listed case exists and is validated.
func (s *Store) AllValidated(ctx context.Context, caseIDs []string) (bool, error) {
	if len(caseIDs) == 0 {
		return false, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(caseIDs)), ",")
	args := make([]interface{}, len(caseIDs))
	for i, id := range caseIDs {
		args[i] = id
	}
	args = append(args, string(models.CaseValidated))

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM learning_cases WHERE id IN (`+placeholders+`) AND validation_status = ?`,
		args...).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count validated cases: %w", err)
	}
	return n == len(caseIDs), nil
}

// Stats summarizes the store contents.
type Stats struct {
	Cases     int                             `json:"cases" yaml:"cases"`
	ByStatus  map[models.ValidationStatus]int `json:"by_status" yaml:"by_status"`
	ByMethod  map[models.Method]int           `json:"by_method" yaml:"by_method"`
	ByLabel   map[models.RootCause]int        `json:"by_label" yaml:"by_label"`
	Updates   map[models.UpdateStatus]int     `json:"updates" yaml:"updates"`
	OracleUse float64                         `json:"oracle_rate" yaml:"oracle_rate"`
	Schema    int                             `json:"schema_version" yaml:"schema_version"`
}

// Stats counts cases, outcomes, and updates, optionally for one domain.
func (s *Store) Stats(ctx context.Context, domain string) (Stats, error) {
	st := Stats{
		ByStatus: make(map[models.ValidationStatus]int),
		ByMethod: make(map[models.Method]int),
		ByLabel:  make(map[models.RootCause]int),
		Updates:  make(map[models.UpdateStatus]int),
	}

	type group struct {
		query string
		add   func(key string, n int)
	}
	filter, args := "", []interface{}{}
	if domain != "" {
		filter = " WHERE domain = ?"
		args = append(args, domain)
	}
	groups := []group{
		{`SELECT validation_status, COUNT(*) FROM learning_cases` + filter + ` GROUP BY validation_status`,
			func(k string, n int) { st.ByStatus[models.ValidationStatus(k)] = n; st.Cases += n }},
		{`SELECT primary_method, COUNT(*) FROM hybrid_outcomes` + filter + ` GROUP BY primary_method`,
			func(k string, n int) { st.ByMethod[models.Method(k)] = n }},
		{`SELECT label, COUNT(*) FROM hybrid_outcomes` + filter + ` GROUP BY label`,
			func(k string, n int) { st.ByLabel[models.RootCause(k)] = n }},
		{`SELECT status, COUNT(*) FROM rule_updates` + filter + ` GROUP BY status`,
			func(k string, n int) { st.Updates[models.UpdateStatus(k)] = n }},
	}
	for _, g := range groups {
		if err := s.countGroups(ctx, g.query, args, g.add); err != nil {
			return Stats{}, err
		}
	}

	var invoked int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hybrid_outcomes`+filter+withCond(filter, "oracle_invoked = 1"), args...).Scan(&invoked); err != nil {
		return Stats{}, fmt.Errorf("count oracle calls: %w", err)
	}
	if st.Cases > 0 {
		st.OracleUse = float64(invoked) / float64(st.Cases)
	}
	schema, err := s.GetLatestVersion(ctx)
	if err != nil {
		return Stats{}, err
	}
	st.Schema = schema
	return st, nil
}

func withCond(filter, cond string) string {
	if filter == "" {
		return " WHERE " + cond
	}
	return " AND " + cond
}

func (s *Store) countGroups(ctx context.Context, query string, args []interface{}, add func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key sql.NullString
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan stats: %w", err)
		}
		add(key.String, n)
	}
	return rows.Err()
}

func marshalOptional(v interface{}) (sql.NullString, error) {
	switch x := v.(type) {
	case *models.DeterministicResult:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *models.AIFinding:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func marshalStrings(in []string) (string, error) {
	if in == nil {
		in = []string{}
	}
	data, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalStrings(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// timeOrZero dereferences an optional timestamp column.
func timeOrZero(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
