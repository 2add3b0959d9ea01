package learning

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "learning.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func indexExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func appliedVersions(ctx context.Context, store *Store) ([]*MigrationVersion, error) {
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return getAppliedVersionsTx(ctx, tx)
}

func TestApplyMigrations(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	require.NoError(t, store.ApplyMigrations(ctx))

	versions, err := appliedVersions(ctx, store)
	require.NoError(t, err)
	require.Len(t, versions, len(migrations))
	for i, v := range versions {
		assert.Equal(t, migrations[i].Version, v.Version)
	}
}

func TestApplyMigrations_Idempotency(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	first, err := appliedVersions(ctx, store)
	require.NoError(t, err)

	require.NoError(t, store.ApplyMigrations(ctx))
	require.NoError(t, store.ApplyMigrations(ctx))

	second, err := appliedVersions(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, len(first), len(second))
}

func TestMigrations_TableCreation(t *testing.T) {
	store := setupTestStore(t)

	for _, table := range []string{
		"schema_version",
		"learning_cases",
		"hybrid_outcomes",
		"rule_updates",
		"rule_versions",
		"rule_active",
	} {
		assert.True(t, tableExists(t, store.db, table), "table %s should exist", table)
	}

	for _, index := range []string{
		"idx_learning_cases_lookup",
		"idx_learning_cases_task",
		"idx_hybrid_outcomes_method",
		"idx_hybrid_outcomes_domain",
		"idx_rule_updates_domain_status",
	} {
		assert.True(t, indexExists(t, store.db, index), "index %s should exist", index)
	}
}

func TestMigrations_SignatureUnique(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	insert := `INSERT INTO rule_updates (id, domain, signature, keywords, expected_label, confidence, supporting_cases, created_at)
		VALUES (?, 'dropdown', 'sig-1', '[]', 'DOM_PARSING_FAILURE', 0.8, '[]', ?)`
	_, err := store.db.ExecContext(ctx, insert, "u1", time.Now())
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, insert, "u2", time.Now())
	require.Error(t, err, "duplicate signature should be rejected")
}

func TestMigrations_FreshVsExisting(t *testing.T) {
	t.Run("fresh database gets all migrations", func(t *testing.T) {
		store := setupTestStore(t)

		version, err := store.GetLatestVersion(context.Background())
		require.NoError(t, err)
		assert.Equal(t, len(migrations), version)
	})

	t.Run("existing database gets incremental migrations", func(t *testing.T) {
		ctx := context.Background()
		dbPath := filepath.Join(t.TempDir(), "existing.db")

		store1, err := NewStore(dbPath)
		require.NoError(t, err)

		// Roll the schema back to version 1
		_, err = store1.db.ExecContext(ctx, "DELETE FROM schema_version WHERE version > 1")
		require.NoError(t, err)
		_, err = store1.db.ExecContext(ctx, "DROP TABLE rule_versions")
		require.NoError(t, err)

		version, err := store1.GetLatestVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, version)
		require.NoError(t, store1.Close())

		store2, err := NewStore(dbPath)
		require.NoError(t, err)
		defer store2.Close()

		version, err = store2.GetLatestVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, len(migrations), version)
		assert.True(t, tableExists(t, store2.db, "rule_versions"))
	})
}

func TestWALMode_ConcurrentAccess(t *testing.T) {
	store := setupTestStore(t)

	var journalMode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, store.db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	ctx := context.Background()
	const iterations = 50
	errCh := make(chan error, 2)

	go func() {
		for i := 0; i < iterations; i++ {
			ev := testEvidence(fmt.Sprintf("wal-%d", i), "Timeout waiting for selector #country")
			if _, err := store.Record(ctx, testOutcome(ev, "dropdown"), ev); err != nil {
				errCh <- fmt.Errorf("write %d: %w", i, err)
				return
			}
		}
		errCh <- nil
	}()

	go func() {
		for i := 0; i < iterations; i++ {
			if _, err := store.ListCases(ctx, CaseFilter{Domain: "dropdown"}); err != nil {
				errCh <- fmt.Errorf("read %d: %w", i, err)
				return
			}
		}
		errCh <- nil
	}()

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errCh)
	}

	cases, err := store.ListCases(ctx, CaseFilter{Domain: "dropdown"})
	require.NoError(t, err)
	assert.Len(t, cases, iterations)
}
