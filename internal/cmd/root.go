package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for rootcause
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rootcause",
		Short: "Hybrid root-cause classification for failed browser automation runs",
		Long: `rootcause classifies why a web-automation task failed.

A deterministic rule cascade examines the evidence bundle (failure log, DOM
snapshot, recorded actions) first. When it is not confident enough, an oracle
backend is consulted. Every outcome is recorded in a local learning store that
mines recurring oracle verdicts into new deterministic rules.

Configuration is loaded from .rootcause/config.yaml if present.
CLI flags override configuration file settings.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
		// main prints the returned error
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to config file (default: .rootcause/config.yaml)")
	flags.String("log-level", "", "Log level: trace, debug, info, warn, error")
	flags.String("log-dir", "", "Directory for run and per-task log files")
	flags.String("db-path", "", "Path to the learning database (\":memory:\" for a throwaway store)")
	flags.String("backend", "", "Oracle backend: none, claude, openai")
	flags.String("model", "", "Oracle model override")

	cmd.AddCommand(NewClassifyCommand())
	cmd.AddCommand(NewBatchCommand())
	cmd.AddCommand(NewLearningCommand())
	cmd.AddCommand(NewRulesCommand())

	return cmd
}
