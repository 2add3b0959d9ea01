package learning

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/harrison/rootcause/internal/models"
)

// SaveRuleVersion stores one rule-table version. Saving an existing
// (domain, version) pair replaces it.
func (s *Store) SaveRuleVersion(ctx context.Context, v models.RuleVersion) error {
	created := v.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO rule_versions
		(domain, version, parent, source, spec, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.Domain, v.Version, v.Parent, v.Source, v.Spec, created.UTC())
	if err != nil {
		return fmt.Errorf("save rule version %s v%d: %w", v.Domain, v.Version, err)
	}
	return nil
}

// SetActiveRuleVersion points domain at version.
func (s *Store) SetActiveRuleVersion(ctx context.Context, domain string, version int) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO rule_active (domain, version, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at`,
		domain, version, s.now())
	if err != nil {
		return fmt.Errorf("activate rule version %s v%d: %w", domain, version, err)
	}
	return nil
}

// LoadRuleVersions returns every stored version of domain in ascending order,
// with Active set on the one the domain points at.
func (s *Store) LoadRuleVersions(ctx context.Context, domain string) ([]models.RuleVersion, error) {
	var active sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM rule_active WHERE domain = ?`, domain).Scan(&active)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("query active rule version %s: %w", domain, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT domain, version, parent, source, spec, created_at
		FROM rule_versions WHERE domain = ? ORDER BY version ASC`, domain)
	if err != nil {
		return nil, fmt.Errorf("query rule versions %s: %w", domain, err)
	}
	defer rows.Close()

	var versions []models.RuleVersion
	for rows.Next() {
		var v models.RuleVersion
		var source sql.NullString
		if err := rows.Scan(&v.Domain, &v.Version, &v.Parent, &source, &v.Spec, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule version: %w", err)
		}
		v.Source = source.String
		v.Active = active.Valid && int(active.Int64) == v.Version
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule versions: %w", err)
	}
	return versions, nil
}

// RuleDomains lists domains with stored versions.
func (s *Store) RuleDomains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT domain FROM rule_versions ORDER BY domain ASC`)
	if err != nil {
		return nil, fmt.Errorf("query rule domains: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan rule domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// DeleteRuleVersions removes the listed versions of domain.
func (s *Store) DeleteRuleVersions(ctx context.Context, domain string, versions []int) error {
	if len(versions) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(versions)), ",")
	args := make([]interface{}, 0, len(versions)+1)
	args = append(args, domain)
	for _, v := range versions {
		args = append(args, v)
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM rule_versions WHERE domain = ? AND version IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete rule versions %s: %w", domain, err)
	}
	return nil
}
