package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/rootcause/internal/filelock"
	"github.com/harrison/rootcause/internal/router"
)

// NewClassifyCommand creates the classify command
func NewClassifyCommand() *cobra.Command {
	var ev evidenceFlags
	var format, output, save string

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify one failed automation run",
		Long: `Classify one evidence bundle and print the hybrid outcome.

The bundle is read from --evidence (YAML or JSON, "-" for stdin) and/or
assembled from individual flags, which override fields of the file.

Examples:
  rootcause classify --evidence failure.yaml
  rootcause classify --task-id t-42 --log-file run.log --snapshot-file page.html
  cat failure.json | rootcause classify -e - --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			evidence, err := ev.build(cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd, cfg, appOptions{withOracle: true, fileLog: true})
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.router.Resolve(cmd.Context(), router.Request{
				Evidence:   evidence,
				DomainHint: cfg.Classification.DefaultDomain,
			})
			if err != nil {
				return err
			}
			a.log.LogOutcome(outcome)

			data, err := render(outcome, format)
			if err != nil {
				return err
			}
			if save != "" {
				line, err := jsonLine(outcome)
				if err != nil {
					return err
				}
				if err := filelock.LockAndAppend(cmd.Context(), save, line); err != nil {
					return fmt.Errorf("save outcome: %w", err)
				}
			}
			if output != "" {
				if err := filelock.LockAndWrite(cmd.Context(), output, data); err != nil {
					return fmt.Errorf("write outcome: %w", err)
				}
				return nil
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	ev.register(cmd)
	cmd.Flags().String("domain", "", "Rule table domain, or \"auto\" to detect")
	cmd.Flags().Float64("threshold", 0, "Deterministic confidence needed to skip the oracle (0-1)")
	cmd.Flags().String("mode", "", "Learning mode: off, passive, active, aggressive")
	cmd.Flags().Duration("timeout", 0, "Oracle timeout, retries included")
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the outcome to a file instead of stdout")
	cmd.Flags().StringVar(&save, "save", "", "Append the outcome as one JSON line to this file")

	return cmd
}
