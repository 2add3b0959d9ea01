package learning

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/harrison/rootcause/internal/models"
)

type updateRow struct {
	keywords    string
	domPatterns string
	frameworks  string
	cases       string
}

func encodeUpdate(u *models.RuleUpdate) (updateRow, error) {
	var row updateRow
	var err error
	if row.keywords, err = marshalStrings(u.Keywords); err != nil {
		return row, fmt.Errorf("marshal keywords: %w", err)
	}
	if row.domPatterns, err = marshalStrings(u.DOMPatterns); err != nil {
		return row, fmt.Errorf("marshal dom patterns: %w", err)
	}
	if row.frameworks, err = marshalStrings(u.Frameworks); err != nil {
		return row, fmt.Errorf("marshal frameworks: %w", err)
	}
	if row.cases, err = marshalStrings(u.SupportingCases); err != nil {
		return row, fmt.Errorf("marshal supporting cases: %w", err)
	}
	return row, nil
}

const updateColumns = `id, domain, signature, keywords, dom_patterns, frameworks, expected_label, confidence,
	supporting_cases, status, backup_taken, applied_version, error, created_at, updated_at`

func scanUpdate(scan func(dest ...interface{}) error) (*models.RuleUpdate, error) {
	u := &models.RuleUpdate{}
	var keywords, domPatterns, frameworks, cases, label, status string
	var applied sql.NullInt64
	var errText sql.NullString
	var updated sql.NullTime
	err := scan(&u.ID, &u.Domain, &u.Signature, &keywords, &domPatterns, &frameworks, &label, &u.Confidence,
		&cases, &status, &u.BackupTaken, &applied, &errText, &u.CreatedAt, &updated)
	if err != nil {
		return nil, err
	}
	u.ExpectedLabel = models.RootCause(label)
	u.Status = models.UpdateStatus(status)
	u.AppliedVersion = int(applied.Int64)
	u.Error = errText.String
	u.UpdatedAt = timeOrZero(updated)

	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{keywords, &u.Keywords},
		{domPatterns, &u.DOMPatterns},
		{frameworks, &u.Frameworks},
		{cases, &u.SupportingCases},
	} {
		v, err := unmarshalStrings(f.raw)
		if err != nil {
			return nil, fmt.Errorf("decode update %s: %w", u.ID, err)
		}
		*f.dst = v
	}
	return u, nil
}

// GetUpdate loads a rule update by id.
func (s *Store) GetUpdate(ctx context.Context, id string) (*models.RuleUpdate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+updateColumns+` FROM rule_updates WHERE id = ?`, id)
	u, err := scanUpdate(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule update %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query rule update %s: %w", id, err)
	}
	return u, nil
}

// ListUpdates returns updates oldest first, optionally filtered by domain and status.
func (s *Store) ListUpdates(ctx context.Context, domain string, status models.UpdateStatus) ([]*models.RuleUpdate, error) {
	var where []string
	var args []interface{}
	if domain != "" {
		where = append(where, "domain = ?")
		args = append(args, domain)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, string(status))
	}
	query := `SELECT ` + updateColumns + ` FROM rule_updates`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rule updates: %w", err)
	}
	defer rows.Close()

	var updates []*models.RuleUpdate
	for rows.Next() {
		u, err := scanUpdate(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan rule update: %w", err)
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule updates: %w", err)
	}
	return updates, nil
}

// SaveUpdateState persists the lifecycle fields of u: status, backup flag,
// applied version, error, and update time.
func (s *Store) SaveUpdateState(ctx context.Context, u *models.RuleUpdate) error {
	updated := u.UpdatedAt
	if updated == nil {
		now := s.now()
		updated = &now
	}
	res, err := s.db.ExecContext(ctx, `UPDATE rule_updates
		SET status = ?, backup_taken = ?, applied_version = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		string(u.Status), u.BackupTaken, nullInt(u.AppliedVersion), nullString(u.Error), *updated, u.ID)
	if err != nil {
		return fmt.Errorf("update rule update %s: %w", u.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rule update %s: %w", u.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("rule update %s: %w", u.ID, ErrNotFound)
	}
	return nil
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
