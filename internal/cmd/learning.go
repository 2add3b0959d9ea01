package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/rootcause/internal/learning"
	"github.com/harrison/rootcause/internal/models"
)

// NewLearningCommand creates the learning command with its subcommands
func NewLearningCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learning",
		Short: "Inspect and curate the learning store",
		Long: `Inspect recorded classification cases, review them, and mine
recurring oracle verdicts into rule update proposals.`,
	}

	cmd.AddCommand(newLearningStatsCommand())
	cmd.AddCommand(newLearningListCommand())
	cmd.AddCommand(newLearningShowCommand())
	cmd.AddCommand(newLearningSimilarCommand())
	cmd.AddCommand(newLearningProposeCommand())
	cmd.AddCommand(newLearningValidateCommand())

	return cmd
}

// openStoreApp loads config and builds the app without oracle or file logging.
func openStoreApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cmd, cfg, appOptions{})
}

func newLearningStatsCommand() *cobra.Command {
	var domain string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show learning store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.store.Stats(cmd.Context(), domain)
			if err != nil {
				return err
			}
			displayStats(cmd.OutOrStdout(), domain, st)
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "Limit to one domain")
	return cmd
}

func displayStats(w io.Writer, domain string, st learning.Stats) {
	title := "Learning Statistics"
	if domain != "" {
		title += ": " + domain
	}
	fmt.Fprintf(w, "=== %s ===\n\n", title)
	fmt.Fprintf(w, "Cases:       %d\n", st.Cases)
	fmt.Fprintf(w, "Oracle rate: %.1f%%\n", st.OracleUse*100)
	fmt.Fprintf(w, "Schema:      v%d\n", st.Schema)

	section := func(name string, counts map[string]int) {
		if len(counts) == 0 {
			return
		}
		fmt.Fprintf(w, "\n%s:\n", name)
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-24s %d\n", k, counts[k])
		}
	}

	byStatus := make(map[string]int, len(st.ByStatus))
	for k, v := range st.ByStatus {
		byStatus[string(k)] = v
	}
	byMethod := make(map[string]int, len(st.ByMethod))
	for k, v := range st.ByMethod {
		byMethod[string(k)] = v
	}
	byLabel := make(map[string]int, len(st.ByLabel))
	for k, v := range st.ByLabel {
		byLabel[string(k)] = v
	}
	updates := make(map[string]int, len(st.Updates))
	for k, v := range st.Updates {
		updates[string(k)] = v
	}
	section("By status", byStatus)
	section("By method", byMethod)
	section("By label", byLabel)
	section("Rule updates", updates)
}

func newLearningListCommand() *cobra.Command {
	var domain, status, label string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded cases, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := learning.CaseFilter{Domain: domain, Limit: limit}
			if status != "" {
				st, err := models.ParseValidationStatus(status)
				if err != nil {
					return err
				}
				filter.Status = st
			}
			if label != "" {
				rc, err := models.ParseRootCause(label)
				if err != nil {
					return err
				}
				filter.Label = rc
			}

			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			cases, err := a.store.ListCases(cmd.Context(), filter)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(cases) == 0 {
				fmt.Fprintln(w, "No cases recorded.")
				return nil
			}
			fmt.Fprintf(w, "%-22s  %-10s  %-22s  %-13s  %-9s  %s\n", "CASE", "DOMAIN", "LABEL", "METHOD", "STATUS", "TASK")
			for _, c := range cases {
				label, method := caseVerdict(c)
				fmt.Fprintf(w, "%-22s  %-10s  %-22s  %-13s  %-9s  %s\n",
					c.ID, c.Domain, label, method, c.Status, c.Evidence.TaskID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "Limit to one domain")
	cmd.Flags().StringVar(&status, "status", "", "Filter by validation status: pending, validated, rejected")
	cmd.Flags().StringVar(&label, "label", "", "Filter by final label, e.g. WEBSITE_STATE_FAILURE")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum cases to list (0 = all)")
	return cmd
}

// caseVerdict summarizes which tier decided a case and what it said.
func caseVerdict(c *models.LearningCase) (string, string) {
	if c.AI != nil {
		if c.AI.Success {
			return string(c.AI.Label), string(models.MethodAI)
		}
		return models.AnalysisFailureLabel, string(models.MethodFallback)
	}
	if c.Deterministic != nil {
		return string(c.Deterministic.Label), string(models.MethodDeterministic)
	}
	return string(models.Unknown), "-"
}

func newLearningShowCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show one recorded case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.store.GetCase(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := render(c, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml or json")
	return cmd
}

func newLearningSimilarCommand() *cobra.Command {
	var domain string
	cmd := &cobra.Command{
		Use:   "similar <evidence-file>",
		Short: "Find recorded cases resembling an evidence bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			ev, err := decodeBundle(data, args[0])
			if err != nil {
				return err
			}

			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			resolved := a.router.ResolveDomain(domain, ev)
			matches, err := a.store.FindSimilar(cmd.Context(), ev, resolved)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintf(w, "No similar cases in domain %s.\n", resolved)
				return nil
			}
			fmt.Fprintf(w, "Similar cases in domain %s:\n", resolved)
			for _, m := range matches {
				fmt.Fprintf(w, "  %-32s similarity %.2f  boost +%.2f  cases %d\n",
					m.RecommendedLabel, m.Similarity, m.ConfidenceBoost, len(m.CaseIDs))
				fmt.Fprintf(w, "    %s\n", strings.Join(m.CaseIDs, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "Domain to search, or \"auto\" to detect")
	return cmd
}

func newLearningProposeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "propose [domain]",
		Short: "Mine recurring oracle verdicts into pending rule updates",
		Long: `Cluster cases where the oracle decided after the rule cascade was unsure,
and propose a rule update for each cluster that recurs often enough.
Without a domain every registered domain is mined.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			domains := a.registry.Domains()
			if len(args) == 1 {
				domains = []string{args[0]}
			}

			w := cmd.OutOrStdout()
			total := 0
			for _, d := range domains {
				updates, err := a.store.ProposeUpdates(cmd.Context(), d)
				if err != nil {
					return fmt.Errorf("propose for %s: %w", d, err)
				}
				for _, u := range updates {
					total++
					fmt.Fprintf(w, "%s  %-10s  %-22s  %.2f  %d cases  [%s]\n",
						u.ID, u.Domain, u.ExpectedLabel, u.Confidence, len(u.SupportingCases), strings.Join(u.Keywords, ", "))
				}
			}
			if total == 0 {
				fmt.Fprintln(w, "No new rule updates proposed.")
				return nil
			}
			fmt.Fprintf(w, "\n%d rule update(s) pending. Review with 'rootcause rules updates'.\n", total)
			return nil
		},
	}
	return cmd
}

func newLearningValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <case-id> <pending|validated|rejected>",
		Short: "Set the review status of a case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := models.ParseValidationStatus(args[1])
			if err != nil {
				return err
			}

			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.SetValidation(cmd.Context(), args[0], status); err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s case %s marked %s\n", green("✓"), args[0], status)
			return nil
		},
	}
	return cmd
}
