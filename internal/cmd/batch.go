package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harrison/rootcause/internal/filelock"
	"github.com/harrison/rootcause/internal/models"
	"github.com/harrison/rootcause/internal/router"
)

// batchResult is the outcome or rejection of one bundle, in input order.
type batchResult struct {
	source  string
	outcome models.HybridOutcome
	err     error
}

// NewBatchCommand creates the batch command
func NewBatchCommand() *cobra.Command {
	var format, output, save, metricsFile string

	cmd := &cobra.Command{
		Use:   "batch <file|dir>...",
		Short: "Classify many evidence bundles concurrently",
		Long: `Classify every evidence bundle found in the given files and directories.

Directories contribute their *.yaml, *.yml, *.json and *.jsonl files. A .jsonl
file holds one JSON bundle per line. Outcomes are printed in input order as a
single YAML or JSON list. Bundles that fail validation are reported and the
command exits non-zero after the rest have been classified.

Examples:
  rootcause batch failures/
  rootcause batch run-1.jsonl run-2.jsonl --concurrency 8 --save outcomes.jsonl`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			sources, err := collectBundles(args)
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				return fmt.Errorf("no evidence bundles found")
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

			start := time.Now()
			results := runBatch(cmd.Context(), a, sources, cfg.Classification.Concurrency)
			elapsed := time.Since(start)

			var outcomes []models.HybridOutcome
			rejected := 0
			for _, r := range results {
				if r.err != nil {
					rejected++
					a.log.Errorf("Rejected %s: %v", r.source, r.err)
					continue
				}
				outcomes = append(outcomes, r.outcome)
				if save != "" {
					line, err := jsonLine(r.outcome)
					if err != nil {
						return err
					}
					if err := filelock.LockAndAppend(cmd.Context(), save, line); err != nil {
						return fmt.Errorf("save outcome: %w", err)
					}
				}
			}
			a.log.LogBatchSummary(outcomes, rejected, elapsed)

			if metricsFile != "" {
				if err := prometheus.WriteToTextfile(metricsFile, a.metrics); err != nil {
					return fmt.Errorf("write metrics: %w", err)
				}
			}

			if outcomes == nil {
				outcomes = []models.HybridOutcome{}
			}
			data, err := render(outcomes, format)
			if err != nil {
				return err
			}
			if output != "" {
				if err := filelock.LockAndWrite(cmd.Context(), output, data); err != nil {
					return fmt.Errorf("write outcomes: %w", err)
				}
			} else if _, err := cmd.OutOrStdout().Write(data); err != nil {
				return err
			}

			if rejected > 0 {
				return fmt.Errorf("%d of %d bundles rejected", rejected, len(results))
			}
			return nil
		},
	}

	cmd.Flags().String("domain", "", "Rule table domain, or \"auto\" to detect per bundle")
	cmd.Flags().Float64("threshold", 0, "Deterministic confidence needed to skip the oracle (0-1)")
	cmd.Flags().String("mode", "", "Learning mode: off, passive, active, aggressive")
	cmd.Flags().Duration("timeout", 0, "Oracle timeout per bundle, retries included")
	cmd.Flags().IntP("concurrency", "c", 0, "Bundles classified in parallel (0 = unlimited)")
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the outcomes to a file instead of stdout")
	cmd.Flags().StringVar(&save, "save", "", "Append each outcome as one JSON line to this file")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file")

	return cmd
}

// runBatch resolves every source with at most limit requests in flight.
// Results keep input order; a rejected bundle does not stop the others.
func runBatch(ctx context.Context, a *app, sources []bundleSource, limit int) []batchResult {
	results := make([]batchResult, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	var mu sync.Mutex
	done := 0
	for i, src := range sources {
		g.Go(func() error {
			res := batchResult{source: src.name, err: src.err}
			if res.err == nil {
				res.outcome, res.err = a.router.Resolve(gctx, router.Request{
					Evidence:   src.evidence,
					DomainHint: a.cfg.Classification.DefaultDomain,
				})
			}
			results[i] = res
			if res.err == nil {
				a.log.LogOutcome(res.outcome)
			}

			mu.Lock()
			done++
			a.log.LogProgress(done, len(sources))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
