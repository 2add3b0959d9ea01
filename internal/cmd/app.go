package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/harrison/rootcause/internal/cascade"
	"github.com/harrison/rootcause/internal/config"
	"github.com/harrison/rootcause/internal/learning"
	"github.com/harrison/rootcause/internal/logger"
	"github.com/harrison/rootcause/internal/models"
	"github.com/harrison/rootcause/internal/oracle"
	"github.com/harrison/rootcause/internal/registry"
	"github.com/harrison/rootcause/internal/router"
)

// appLogger is implemented by logger.ConsoleLogger, logger.FileLogger and multiLogger.
type appLogger interface {
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	LogOutcome(outcome models.HybridOutcome)
	LogProgress(done, total int)
	LogBatchSummary(outcomes []models.HybridOutcome, rejected int, elapsed time.Duration)
}

// app holds the components shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      appLogger
	store    *learning.Store
	registry *registry.Registry
	learner  *learning.Learner
	router   *router.Router
	metrics  *prometheus.Registry

	closers []func() error
}

// appOptions selects which components a command needs.
type appOptions struct {
	// withOracle builds the oracle backend; commands that never classify skip it.
	withOracle bool

	// fileLog enables the per-run file logger.
	fileLog bool
}

// loadConfig reads the config file named by --config (or .rootcause/config.yaml),
// applies persistent flag overrides, and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(".")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}

	var overrides config.FlagOverrides
	stringFlag := func(name string, dst **string) {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetString(name)
			*dst = &v
		}
	}
	stringFlag("log-level", &overrides.LogLevel)
	stringFlag("log-dir", &overrides.LogDir)
	stringFlag("db-path", &overrides.DBPath)
	stringFlag("backend", &overrides.Backend)
	stringFlag("model", &overrides.Model)
	stringFlag("domain", &overrides.Domain)
	stringFlag("mode", &overrides.LearningMode)
	if cmd.Flags().Changed("threshold") {
		v, _ := cmd.Flags().GetFloat64("threshold")
		overrides.Threshold = &v
	}
	if cmd.Flags().Changed("timeout") {
		v, _ := cmd.Flags().GetDuration("timeout")
		overrides.OracleTimeout = &v
	}
	if cmd.Flags().Changed("concurrency") {
		v, _ := cmd.Flags().GetInt("concurrency")
		overrides.Concurrency = &v
	}
	cfg.MergeWithFlags(overrides)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp builds the logger, learning store, rule registry, oracle, learner,
// and router from cfg. Call Close when done.
func newApp(cmd *cobra.Command, cfg *config.Config, opts appOptions) (*app, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a := &app{cfg: cfg, metrics: prometheus.NewRegistry()}

	console := logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	a.log = console
	if opts.fileLog && cfg.LogDir != "" {
		fileLog, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to create file logger: %w", err)
		}
		a.closers = append(a.closers, fileLog.Close)
		a.log = &multiLogger{loggers: []appLogger{console, fileLog}}
		console.Debugf("Run log: %s", fileLog.RunFile())
	}

	store, err := learning.NewStore(cfg.Learning.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open learning store: %w", err)
	}
	store.Tuning.SimilarityFloor = cfg.Learning.SimilarityFloor
	store.Tuning.LowConfidence = cfg.Learning.LowConfidence
	store.Tuning.MinOccurrences = cfg.Learning.MinOccurrences
	store.Tuning.ConfidenceCap = cfg.Learning.ConfidenceCap
	a.store = store
	a.closers = append(a.closers, store.Close)

	a.registry = registry.New(store, a.log)
	if err := a.registry.Bootstrap(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load rule tables: %w", err)
	}
	if cfg.RulesDir != "" {
		if err := registerRulesDir(ctx, a.registry, cfg.RulesDir, a.log); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.learner = learning.NewLearner(store, a.registry, a.log, a.metrics)

	// A nil Consulter makes every escalation fall back without a call.
	var consulter router.Consulter
	if opts.withOracle {
		backend, err := oracle.NewBackend(oracle.BackendOptions{
			Kind:       cfg.Oracle.Backend,
			ClaudePath: cfg.Oracle.ClaudePath,
			Model:      cfg.Oracle.Model,
			BaseURL:    cfg.Oracle.BaseURL,
			APIKeyEnv:  cfg.Oracle.APIKeyEnv,
			MaxTokens:  cfg.Oracle.MaxTokens,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("configure oracle: %w", err)
		}
		if backend != nil {
			adapter := oracle.NewAdapter(backend, a.log)
			adapter.Limits = oracle.Limits{
				MaxLogChars:      cfg.Oracle.MaxLogChars,
				MaxSnapshotChars: cfg.Oracle.MaxSnapshotChars,
				MaxActions:       cfg.Oracle.MaxActions,
			}
			adapter.Timeout = cfg.Classification.OracleTimeout
			consulter = adapter
		}
	}

	mode, _ := models.ParseLearningMode(cfg.Learning.Mode)
	a.router = router.New(a.registry, consulter, a.learner, a.log, router.Config{
		Threshold:         cfg.Classification.ConfidenceThreshold,
		OracleTimeout:     cfg.Classification.OracleTimeout,
		MaxOracleAttempts: cfg.Classification.MaxOracleAttempts,
		DefaultDomain:     cfg.Classification.DefaultDomain,
		Mode:              mode,
	}, a.metrics)

	return a, nil
}

// Close releases the store and log files in reverse order of creation.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// registerRulesDir registers every *.yaml / *.yml table in dir. A file whose
// exact spec is already in the domain's history is skipped, so restarts do not
// mint new versions.
func registerRulesDir(ctx context.Context, reg *registry.Registry, dir string, log appLogger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("Rules directory %s does not exist", dir)
			return nil
		}
		return fmt.Errorf("read rules directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read rule table %s: %w", path, err)
		}
		spec, err := cascade.ParseSpec(data)
		if err != nil {
			return fmt.Errorf("rule table %s: %w", path, err)
		}
		source := "file:" + filepath.Base(path)
		if registered(reg, spec, source) {
			continue
		}
		if _, err := reg.Register(ctx, spec, source); err != nil {
			return fmt.Errorf("rule table %s: %w", path, err)
		}
	}
	return nil
}

// registered reports whether spec from source is already in the domain history.
func registered(reg *registry.Registry, spec cascade.TableSpec, source string) bool {
	history, err := reg.History(spec.Domain)
	if err != nil {
		return false
	}
	want, err := spec.Marshal()
	if err != nil {
		return false
	}
	for _, v := range history {
		if v.Source == source && bytes.Equal([]byte(v.Spec), want) {
			return true
		}
	}
	return false
}

// multiLogger delegates to multiple loggers
type multiLogger struct {
	loggers []appLogger
}

func (ml *multiLogger) Tracef(format string, args ...interface{}) {
	for _, l := range ml.loggers {
		l.Tracef(format, args...)
	}
}

func (ml *multiLogger) Debugf(format string, args ...interface{}) {
	for _, l := range ml.loggers {
		l.Debugf(format, args...)
	}
}

func (ml *multiLogger) Infof(format string, args ...interface{}) {
	for _, l := range ml.loggers {
		l.Infof(format, args...)
	}
}

func (ml *multiLogger) Warnf(format string, args ...interface{}) {
	for _, l := range ml.loggers {
		l.Warnf(format, args...)
	}
}

func (ml *multiLogger) Errorf(format string, args ...interface{}) {
	for _, l := range ml.loggers {
		l.Errorf(format, args...)
	}
}

func (ml *multiLogger) LogOutcome(outcome models.HybridOutcome) {
	for _, l := range ml.loggers {
		l.LogOutcome(outcome)
	}
}

func (ml *multiLogger) LogProgress(done, total int) {
	for _, l := range ml.loggers {
		l.LogProgress(done, total)
	}
}

func (ml *multiLogger) LogBatchSummary(outcomes []models.HybridOutcome, rejected int, elapsed time.Duration) {
	for _, l := range ml.loggers {
		l.LogBatchSummary(outcomes, rejected, elapsed)
	}
}
