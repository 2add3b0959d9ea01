package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClassificationConfig controls routing between the cascade and the oracle.
type ClassificationConfig struct {
	// ConfidenceThreshold is the minimum deterministic confidence accepted
	// without consulting the oracle
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// DefaultDomain is the rule table used when no domain hint is given ("auto" detects)
	DefaultDomain string `yaml:"default_domain"`

	// OracleTimeout bounds each escalation, retries included
	OracleTimeout time.Duration `yaml:"oracle_timeout"`

	// MaxOracleAttempts is how many times a failed consultation may be tried
	MaxOracleAttempts int `yaml:"max_oracle_attempts"`

	// Concurrency is the number of bundles classified in parallel by batch (0 = unlimited)
	Concurrency int `yaml:"concurrency"`
}

// OracleConfig selects and configures the oracle backend.
type OracleConfig struct {
	// Backend is one of none, claude, openai
	Backend string `yaml:"backend"`

	// ClaudePath is the claude CLI binary
	ClaudePath string `yaml:"claude_path"`

	// Model overrides the backend's default model
	Model string `yaml:"model"`

	// BaseURL points the openai backend at a compatible gateway
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key
	APIKeyEnv string `yaml:"api_key_env"`

	MaxTokens int `yaml:"max_tokens"`

	// Prompt size bounds
	MaxLogChars      int `yaml:"max_log_chars"`
	MaxSnapshotChars int `yaml:"max_snapshot_chars"`
	MaxActions       int `yaml:"max_actions"`
}

// LearningConfig represents learning system configuration
type LearningConfig struct {
	// Mode is one of off, passive, active, aggressive
	Mode string `yaml:"mode"`

	// DBPath is the path to the learning database
	DBPath string `yaml:"db_path"`

	// SimilarityFloor discards similarity matches below it
	SimilarityFloor float64 `yaml:"similarity_floor"`

	// LowConfidence marks deterministic results worth learning from
	LowConfidence float64 `yaml:"low_confidence"`

	// MinOccurrences is how often a pattern must recur before a rule update is proposed
	MinOccurrences int `yaml:"min_occurrences"`

	// ConfidenceCap bounds the confidence of a proposed rule
	ConfidenceCap float64 `yaml:"confidence_cap"`

	// KeepVersions is how many rule-table versions per domain survive a prune (0 = keep all)
	KeepVersions int `yaml:"keep_versions"`
}

// Config represents rootcause configuration options
type Config struct {
	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where logs will be written
	LogDir string `yaml:"log_dir"`

	// RulesDir holds additional rule tables (*.yaml) registered at startup
	RulesDir string `yaml:"rules_dir"`

	Classification ClassificationConfig `yaml:"classification"`
	Oracle         OracleConfig         `yaml:"oracle"`
	Learning       LearningConfig       `yaml:"learning"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LogDir:   ".rootcause/logs",
		Classification: ClassificationConfig{
			ConfidenceThreshold: 0.75,
			DefaultDomain:       "auto",
			OracleTimeout:       60 * time.Second,
			MaxOracleAttempts:   1,
			Concurrency:         4,
		},
		Oracle: OracleConfig{
			Backend:          "none",
			ClaudePath:       "claude",
			APIKeyEnv:        "OPENAI_API_KEY",
			MaxLogChars:      2000,
			MaxSnapshotChars: 1500,
			MaxActions:       10,
		},
		Learning: LearningConfig{
			Mode:            "passive",
			DBPath:          ".rootcause/learning/rootcause.db",
			SimilarityFloor: 0.3,
			LowConfidence:   0.75,
			MinOccurrences:  3,
			ConfidenceCap:   0.9,
			KeepVersions:    10,
		},
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Keys present in the file override the defaults; absent keys keep them.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .rootcause/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".rootcause", "config.yaml"))
}

// FlagOverrides carries CLI flag values. Nil fields were not set on the command line.
type FlagOverrides struct {
	LogLevel      *string
	LogDir        *string
	Threshold     *float64
	Domain        *string
	OracleTimeout *time.Duration
	Backend       *string
	Model         *string
	LearningMode  *string
	DBPath        *string
	Concurrency   *int
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
// This allows CLI flags to take precedence over config file settings
func (c *Config) MergeWithFlags(f FlagOverrides) {
	if f.LogLevel != nil {
		c.LogLevel = *f.LogLevel
	}
	if f.LogDir != nil {
		c.LogDir = *f.LogDir
	}
	if f.Threshold != nil {
		c.Classification.ConfidenceThreshold = *f.Threshold
	}
	if f.Domain != nil {
		c.Classification.DefaultDomain = *f.Domain
	}
	if f.OracleTimeout != nil {
		c.Classification.OracleTimeout = *f.OracleTimeout
	}
	if f.Backend != nil {
		c.Oracle.Backend = *f.Backend
	}
	if f.Model != nil {
		c.Oracle.Model = *f.Model
	}
	if f.LearningMode != nil {
		c.Learning.Mode = *f.LearningMode
	}
	if f.DBPath != nil {
		c.Learning.DBPath = *f.DBPath
	}
	if f.Concurrency != nil {
		c.Classification.Concurrency = *f.Concurrency
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	cl := c.Classification
	if cl.ConfidenceThreshold < 0 || cl.ConfidenceThreshold > 1 {
		return fmt.Errorf("classification.confidence_threshold must be in [0,1], got %v", cl.ConfidenceThreshold)
	}
	if strings.TrimSpace(cl.DefaultDomain) == "" {
		return fmt.Errorf("classification.default_domain cannot be empty")
	}
	if cl.OracleTimeout <= 0 {
		return fmt.Errorf("classification.oracle_timeout must be > 0, got %v", cl.OracleTimeout)
	}
	if cl.MaxOracleAttempts < 1 {
		return fmt.Errorf("classification.max_oracle_attempts must be >= 1, got %d", cl.MaxOracleAttempts)
	}
	if cl.Concurrency < 0 {
		return fmt.Errorf("classification.concurrency must be >= 0, got %d", cl.Concurrency)
	}

	switch strings.ToLower(c.Oracle.Backend) {
	case "none", "claude", "openai":
	default:
		return fmt.Errorf("invalid oracle.backend %q, must be one of: none, claude, openai", c.Oracle.Backend)
	}
	if c.Oracle.MaxLogChars < 0 || c.Oracle.MaxSnapshotChars < 0 || c.Oracle.MaxActions < 0 || c.Oracle.MaxTokens < 0 {
		return fmt.Errorf("oracle size limits must be >= 0")
	}

	l := c.Learning
	switch strings.ToLower(l.Mode) {
	case "off", "passive", "active", "aggressive":
	default:
		return fmt.Errorf("invalid learning.mode %q, must be one of: off, passive, active, aggressive", l.Mode)
	}
	if strings.ToLower(l.Mode) != "off" && l.DBPath == "" {
		return fmt.Errorf("learning.db_path cannot be empty when learning is enabled")
	}
	if l.SimilarityFloor < 0 || l.SimilarityFloor > 1 {
		return fmt.Errorf("learning.similarity_floor must be in [0,1], got %v", l.SimilarityFloor)
	}
	if l.LowConfidence < 0 || l.LowConfidence > 1 {
		return fmt.Errorf("learning.low_confidence must be in [0,1], got %v", l.LowConfidence)
	}
	if l.MinOccurrences < 1 {
		return fmt.Errorf("learning.min_occurrences must be >= 1, got %d", l.MinOccurrences)
	}
	if l.ConfidenceCap < 0 || l.ConfidenceCap > 1 {
		return fmt.Errorf("learning.confidence_cap must be in [0,1], got %v", l.ConfidenceCap)
	}
	if l.KeepVersions < 0 {
		return fmt.Errorf("learning.keep_versions must be >= 0, got %d", l.KeepVersions)
	}

	return nil
}
