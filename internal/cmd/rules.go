package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/rootcause/internal/filelock"
	"github.com/harrison/rootcause/internal/learning"
	"github.com/harrison/rootcause/internal/models"
)

// NewRulesCommand creates the rules command with its subcommands
func NewRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage versioned rule tables and rule updates",
	}

	cmd.AddCommand(newRulesListCommand())
	cmd.AddCommand(newRulesShowCommand())
	cmd.AddCommand(newRulesHistoryCommand())
	cmd.AddCommand(newRulesUpdatesCommand())
	cmd.AddCommand(newRulesApplyCommand())
	cmd.AddCommand(newRulesRejectCommand())
	cmd.AddCommand(newRulesRollbackCommand())
	cmd.AddCommand(newRulesResetCommand())
	cmd.AddCommand(newRulesPruneCommand())
	cmd.AddCommand(newRulesExportCommand())

	return cmd
}

func newRulesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rule tables and their active versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-12s  %-7s  %-5s  %-7s  %s\n", "DOMAIN", "VERSION", "STEPS", "LEARNED", "KEYWORDS")
			for _, t := range a.registry.Tables() {
				fmt.Fprintf(w, "%-12s  v%-6d  %-5d  %-7d  %s\n",
					t.Domain, t.Version, len(t.Steps), len(t.Learned), strings.Join(t.Keywords, ", "))
			}
			return nil
		},
	}
}

func newRulesShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <domain>",
		Short: "Print the active rule table of a domain as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := a.registry.Snapshot(args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newRulesHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <domain>",
		Short: "List retained versions of a domain's rule table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			history, err := a.registry.History(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-3s %-7s  %-6s  %-20s  %s\n", "", "VERSION", "PARENT", "CREATED", "SOURCE")
			for _, v := range history {
				marker := ""
				if v.Active {
					marker = "*"
				}
				parent := "-"
				if v.Parent > 0 {
					parent = fmt.Sprintf("v%d", v.Parent)
				}
				fmt.Fprintf(w, "%-3s v%-6d  %-6s  %-20s  %s\n",
					marker, v.Version, parent, v.CreatedAt.Format("2006-01-02 15:04:05"), v.Source)
			}
			return nil
		},
	}
}

func newRulesUpdatesCommand() *cobra.Command {
	var domain, status string
	cmd := &cobra.Command{
		Use:   "updates",
		Short: "List proposed and decided rule updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			updates, err := a.store.ListUpdates(cmd.Context(), domain, models.UpdateStatus(status))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(updates) == 0 {
				fmt.Fprintln(w, "No rule updates.")
				return nil
			}
			for _, u := range updates {
				fmt.Fprintf(w, "%s  %-10s  %-11s  %-22s  %.2f  %d cases  [%s]\n",
					u.ID, u.Domain, u.Status, u.ExpectedLabel, u.Confidence, len(u.SupportingCases), strings.Join(u.Keywords, ", "))
				if u.Error != "" {
					fmt.Fprintf(w, "    error: %s\n", u.Error)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "Limit to one domain")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: pending, applied, rejected, rolled_back")
	return cmd
}

func newRulesApplyCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "apply <update-id>",
		Short: "Apply a pending rule update as a new table version",
		Long: `Apply a pending rule update. Every supporting case must have been
validated with 'rootcause learning validate' unless --force is given.

Updates are only applied when learning.mode is active or aggressive. In off
or passive mode the command refuses unless --force is given; --force applies
regardless of mode and validation state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			mode, err := models.ParseLearningMode(a.cfg.Learning.Mode)
			if err != nil {
				return err
			}
			if !force && !mode.Proposes() {
				return fmt.Errorf("learning.mode is %s, rule updates are not applied in this mode (set mode to active or pass --force)", mode)
			}

			u, err := a.learner.ApplyUpdate(cmd.Context(), args[0], !force)
			if err != nil {
				if errors.Is(err, learning.ErrNotValidated) {
					return fmt.Errorf("%w (validate the supporting cases or pass --force)", err)
				}
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s applied %s to %s as v%d\n", green("✓"), u.ID, u.Domain, u.AppliedVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Apply without requiring validated supporting cases")
	return cmd
}

func newRulesRejectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <update-id>",
		Short: "Reject a pending rule update",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.learner.RejectUpdate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rejected %s (%s)\n", u.ID, u.Domain)
			return nil
		},
	}
}

func newRulesRollbackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <domain>",
		Short: "Restore the previous version of a domain's rule table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			domain := args[0]
			source := activeSource(a, domain)
			restored, err := a.registry.Rollback(cmd.Context(), domain)
			if err != nil {
				return err
			}
			if err := markRolledBack(cmd.Context(), a.store, source); err != nil {
				a.log.Warnf("Rolled back %s but could not update rule update state: %v", domain, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now at v%d\n", domain, restored)
			return nil
		},
	}
}

func newRulesResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <domain>",
		Short: "Restore the builtin rule table of a domain as a new version",
		Long: `Register the builtin table of a domain as a new version. Learned rules
and rules_dir edits are dropped from the active table but stay in history,
so 'rootcause rules rollback' undoes the reset.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			domain := args[0]
			spec, _, err := a.registry.Spec(domain)
			if err != nil {
				return err
			}
			v, err := a.registry.Reset(cmd.Context(), domain)
			if err != nil {
				return err
			}
			for _, l := range spec.Learned {
				if l.UpdateID == "" {
					continue
				}
				if err := markRolledBack(cmd.Context(), a.store, "learned:"+l.UpdateID); err != nil {
					a.log.Warnf("Reset %s but could not update rule update %s: %v", domain, l.UpdateID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reset to the builtin table as v%d\n", domain, v)
			return nil
		},
	}
}

// activeSource returns the source of domain's active version, or "".
func activeSource(a *app, domain string) string {
	history, err := a.registry.History(domain)
	if err != nil {
		return ""
	}
	for _, v := range history {
		if v.Active {
			return v.Source
		}
	}
	return ""
}

// markRolledBack flags the rule update behind a learned version as rolled back.
func markRolledBack(ctx context.Context, store *learning.Store, source string) error {
	id, ok := strings.CutPrefix(source, "learned:")
	if !ok {
		return nil
	}
	u, err := store.GetUpdate(ctx, id)
	if err != nil {
		return err
	}
	if u.Status != models.UpdateApplied {
		return nil
	}
	u.Status = models.UpdateRolledBack
	u.Error = "rolled back by operator"
	now := time.Now().UTC()
	u.UpdatedAt = &now
	return store.SaveUpdateState(ctx, u)
}

func newRulesPruneCommand() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune <domain>",
		Short: "Drop old versions of a domain's rule table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("keep") {
				keep = a.cfg.Learning.KeepVersions
			}
			if keep <= 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "keep is 0, all versions of %s retained\n", args[0])
				return nil
			}
			n, err := a.registry.Prune(cmd.Context(), args[0], keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d version(s) of %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "Versions to retain (default: learning.keep_versions)")
	return cmd
}

func newRulesExportCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <domain>",
		Short: "Export the active rule table of a domain as YAML",
		Long: `Export the active rule table of a domain. The file can be placed in the
rules directory (rules_dir in config) to be registered on startup.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStoreApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := a.registry.Snapshot(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := filelock.LockAndWrite(cmd.Context(), output, data); err != nil {
				return fmt.Errorf("export %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", args[0], output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}
