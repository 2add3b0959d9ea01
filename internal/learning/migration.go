package learning

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of all database migrations
var migrations = []Migration{
	{
		Version:     1,
		Description: "Learning cases and hybrid outcomes",
		SQL: `
-- One row per classified evidence bundle, keyed by content-derived case id
CREATE TABLE IF NOT EXISTS learning_cases (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    domain TEXT NOT NULL,
    framework TEXT,
    failure_log TEXT,
    dom_snapshot TEXT,
    evidence_json TEXT NOT NULL,
    deterministic_json TEXT,
    ai_json TEXT,
    det_label TEXT,
    det_confidence REAL,
    det_success BOOLEAN,
    ai_label TEXT,
    ai_success BOOLEAN,
    validation_status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_learning_cases_lookup ON learning_cases(domain, validation_status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_learning_cases_task ON learning_cases(task_id);

-- The hybrid outcome returned to the caller for each case
CREATE TABLE IF NOT EXISTS hybrid_outcomes (
    case_id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    domain TEXT NOT NULL,
    label TEXT NOT NULL,
    confidence REAL NOT NULL,
    primary_method TEXT NOT NULL,
    oracle_invoked BOOLEAN NOT NULL,
    pattern_discovered BOOLEAN NOT NULL DEFAULT 0,
    rule_updates TEXT NOT NULL DEFAULT '[]',
    latency_ms INTEGER,
    outcome_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (case_id) REFERENCES learning_cases(id)
);

CREATE INDEX IF NOT EXISTS idx_hybrid_outcomes_method ON hybrid_outcomes(primary_method);
CREATE INDEX IF NOT EXISTS idx_hybrid_outcomes_domain ON hybrid_outcomes(domain, created_at DESC);
`,
	},
	{
		Version:     2,
		Description: "Rule updates synthesized from recurring patterns",
		SQL: `
CREATE TABLE IF NOT EXISTS rule_updates (
    id TEXT PRIMARY KEY,
    domain TEXT NOT NULL,
    signature TEXT NOT NULL UNIQUE,
    keywords TEXT NOT NULL,
    dom_patterns TEXT NOT NULL DEFAULT '[]',
    frameworks TEXT NOT NULL DEFAULT '[]',
    expected_label TEXT NOT NULL,
    confidence REAL NOT NULL,
    supporting_cases TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    backup_taken BOOLEAN NOT NULL DEFAULT 0,
    applied_version INTEGER,
    error TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_rule_updates_domain_status ON rule_updates(domain, status);
`,
	},
	{
		Version:     3,
		Description: "Versioned rule tables with active pointer",
		SQL: `
CREATE TABLE IF NOT EXISTS rule_versions (
    domain TEXT NOT NULL,
    version INTEGER NOT NULL,
    parent INTEGER NOT NULL DEFAULT 0,
    source TEXT,
    spec TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (domain, version)
);

CREATE TABLE IF NOT EXISTS rule_active (
    domain TEXT PRIMARY KEY,
    version INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`,
	},
}

// MigrationVersion is one applied migration.
type MigrationVersion struct {
	Version   int
	AppliedAt time.Time
}

// ApplyMigrations applies all pending migrations to the database.
// Runs in a single serializable transaction so concurrent openers of the same
// file do not race.
func (s *Store) ApplyMigrations(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin exclusive transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	if err := ensureSchemaVersionTableTx(ctx, tx); err != nil {
		return fmt.Errorf("ensure schema_version table: %w", err)
	}

	appliedVersions, err := getAppliedVersionsTx(ctx, tx)
	if err != nil {
		return fmt.Errorf("get applied versions: %w", err)
	}
	applied := make(map[int]bool, len(appliedVersions))
	for _, v := range appliedVersions {
		applied[v.Version] = true
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", migration.Version, migration.Description, err)
		}
		if err := recordMigrationTx(ctx, tx, migration.Version); err != nil {
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

// GetLatestVersion returns the latest applied migration version
func (s *Store) GetLatestVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("query latest version: %w", err)
	}
	return version, nil
}

func ensureSchemaVersionTableTx(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	return nil
}

func getAppliedVersionsTx(ctx context.Context, tx *sql.Tx) ([]*MigrationVersion, error) {
	rows, err := tx.QueryContext(ctx, `SELECT version, applied_at FROM schema_version ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("query schema versions: %w", err)
	}
	defer rows.Close()
	return scanVersions(rows)
}

func scanVersions(rows *sql.Rows) ([]*MigrationVersion, error) {
	var versions []*MigrationVersion
	for rows.Next() {
		v := &MigrationVersion{}
		if err := rows.Scan(&v.Version, &v.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return versions, nil
}

func recordMigrationTx(ctx context.Context, tx *sql.Tx, version int) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, version)
	if err != nil {
		return fmt.Errorf("insert migration version: %w", err)
	}
	return nil
}
