// Package learning is the durable memory of the classifier: an append-only
// SQLite record of every hybrid outcome, lexical similarity search over past
// cases, synthesis of rule updates from recurring oracle verdicts, and
// persistence for rule-table versions.
package learning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/rootcause/internal/similarity"
)

var (
	// ErrNotFound is returned when a case or update id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotValidated is returned when an update in active mode still has
	// supporting cases awaiting validation.
	ErrNotValidated = errors.New("supporting cases not validated")
)

// Tuning holds the similarity and synthesis parameters.
type Tuning struct {
	// SimilarityFloor discards matches scoring below it.
	SimilarityFloor float64

	// LowConfidence marks deterministic results worth learning from.
	LowConfidence float64

	// MinOccurrences is how often a pattern must recur before it is proposed.
	MinOccurrences int

	// Confidence of a proposed rule is min(ConfidenceCap, ConfidenceBase +
	// ConfidencePerCase*occurrences).
	ConfidenceBase    float64
	ConfidencePerCase float64
	ConfidenceCap     float64

	// BoostPerCase and MaxBoost scale a pattern match's confidence boost.
	BoostPerCase float64
	MaxBoost     float64

	// KeywordShare is the fraction of a cluster's cases a term must occur in.
	KeywordShare float64
	MaxKeywords  int
	MaxDOMTerms  int

	// CandidateLimit caps how many recent cases a search scans.
	CandidateLimit int
}

// DefaultTuning returns the standard parameters.
func DefaultTuning() Tuning {
	return Tuning{
		SimilarityFloor:   0.3,
		LowConfidence:     0.75,
		MinOccurrences:    3,
		ConfidenceBase:    0.5,
		ConfidencePerCase: 0.1,
		ConfidenceCap:     0.9,
		BoostPerCase:      0.05,
		MaxBoost:          0.2,
		KeywordShare:      0.6,
		MaxKeywords:       8,
		MaxDOMTerms:       5,
		CandidateLimit:    500,
	}
}

// Store manages the SQLite database for adaptive learning
type Store struct {
	db     *sql.DB
	dbPath string

	// Tuning may be changed before the store is shared.
	Tuning Tuning

	tokenizer *similarity.Tokenizer
	now       func() time.Time
}

// NewStore creates a new Store instance and initializes the database
func NewStore(dbPath string) (*Store, error) {
	// Handle in-memory database
	if dbPath == ":memory:" {
		return openAndInitStore(dbPath)
	}

	// Ensure parent directory exists for file-based databases
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	return openAndInitStore(dbPath)
}

// openAndInitStore opens the database connection and initializes schema
func openAndInitStore(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		// Writers take the lock up front so concurrent Record calls queue on
		// busy_timeout instead of failing on lock upgrade.
		dsn = "file:" + dbPath + "?_txlock=immediate"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	// Set busy_timeout FIRST so subsequent operations wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000", // 64MB cache
	}

	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{
		db:        db,
		dbPath:    dbPath,
		Tuning:    DefaultTuning(),
		tokenizer: similarity.NewTokenizer(),
		now:       func() time.Time { return time.Now().UTC() },
	}

	if err := store.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on lock errors.
func execWithRetry(db *sql.DB, sql string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(sql)
		if err == nil {
			return nil
		}

		// Only retry on "database is locked" errors
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}

		lastErr = err
		delay := baseDelay * time.Duration(1<<attempt)
		time.Sleep(delay)
	}
	return lastErr
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.dbPath
}
