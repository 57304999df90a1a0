// SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kusari-oss/remedy/cmd/remedy/cmd/cliutil"
	"github.com/kusari-oss/remedy/internal/core/config"
	"github.com/kusari-oss/remedy/internal/core/models"
	corestrategy "github.com/kusari-oss/remedy/internal/core/strategy"
	"github.com/kusari-oss/remedy/internal/defaults"
	"github.com/kusari-oss/remedy/internal/remedy"
	"github.com/kusari-oss/remedy/internal/remedy/ingest"
	"github.com/kusari-oss/remedy/internal/remedy/orchestrator"
	"github.com/kusari-oss/remedy/internal/remedy/resolver"
)

// NewStrategyCmd creates the strategy command
func NewStrategyCmd() *cobra.Command {
	strategyCmd := &cobra.Command{
		Use:   "strategy",
		Short: "List and try fixer strategies",
	}

	strategyCmd.AddCommand(newListCmd())
	strategyCmd.AddCommand(newRunCmd())
	strategyCmd.AddCommand(newBuiltinsCmd())
	strategyCmd.AddCommand(newSyncCmd())

	return strategyCmd
}

func newListCmd() *cobra.Command {
	var (
		labelsFlag string
		check      bool
	)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available strategies",
		Long: `List strategies defined in the config file and in the strategy directories,
optionally filtered by labels (key=v1|v2,other=v3).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := remedy.LoadConfig(cliutil.Options(cmd))
			if err != nil {
				return cliutil.ConfigError(err)
			}

			selectors, err := resolver.ParseLabelSelectors(labelsFlag)
			if err != nil {
				return err
			}

			r := resolver.NewResolver(cfg.ResolvedStrategyDirs(), logger)
			definitions, err := r.Definitions(cfg.Strategies)
			if err != nil {
				return cliutil.ConfigError(err)
			}
			definitions = resolver.FilterByLabels(definitions, selectors)

			out := cmd.OutOrStdout()
			if len(definitions) == 0 {
				fmt.Fprintln(out, "No strategies found.")
				return nil
			}

			fmt.Fprintln(out, "Available strategies:")
			fmt.Fprintln(out, "---------------------")
			var missing int
			for _, def := range definitions {
				fmt.Fprintf(out, "- %s (%s) applies to %s\n", def.Name, def.Type, strings.Join(def.AppliesTo, ", "))
				if def.Description != "" {
					fmt.Fprintf(out, "  %s\n", def.Description)
				}
				if def.When != "" {
					fmt.Fprintf(out, "  when: %s\n", def.When)
				}
				if len(def.Labels) > 0 {
					keys := make([]string, 0, len(def.Labels))
					for k := range def.Labels {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						fmt.Fprintf(out, "  %s: %s\n", k, strings.Join(def.Labels[k], ", "))
					}
				}
				if check {
					if err := resolver.ValidateCommand(def); err != nil {
						missing++
						fmt.Fprintf(out, "  WARNING: %v\n", err)
					}
				}
			}

			if missing > 0 {
				return fmt.Errorf("%d strategies reference unavailable commands", missing)
			}
			return nil
		},
	}

	listCmd.Flags().StringVarP(&labelsFlag, "labels", "l", "", "Filter by labels (key=v1|v2,other=v3)")
	listCmd.Flags().BoolVar(&check, "check", false, "Verify that cli strategy commands are on PATH")

	return listCmd
}

func newRunCmd() *cobra.Command {
	var (
		targetID    string
		category    string
		payloadFile string
		write       bool
	)

	runCmd := &cobra.Command{
		Use:   "run [strategy-name]",
		Short: "Run one strategy against a payload",
		Long: `Run a single strategy once, outside any chain. Nothing is recorded in the
attempt log and no escalation is sent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := remedy.NewRegistryOnly(cliutil.Options(cmd))
			if err != nil {
				return cliutil.ConfigError(err)
			}

			s, ok := app.Strategies[args[0]]
			if !ok {
				return fmt.Errorf("strategy not found: %s", args[0])
			}

			target, err := buildTarget(s, targetID, category, payloadFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cond, ok := s.(corestrategy.Conditional); ok {
				run, err := cond.ShouldRun(target)
				if err != nil {
					return err
				}
				if !run {
					fmt.Fprintf(out, "Strategy %s skipped: condition not met\n", s.Name())
					return nil
				}
			}

			timeout := app.Config.Orchestrator.StrategyTimeout
			if timeout <= 0 {
				timeout = orchestrator.DefaultStrategyTimeout
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			outcome, err := s.Execute(ctx, target)
			if err != nil {
				return fmt.Errorf("strategy %s failed: %w", s.Name(), err)
			}

			switch outcome.Kind {
			case models.OutcomeFixed:
				fmt.Fprintf(out, "Strategy %s fixed %s\n", s.Name(), target.ID)
				if write && payloadFile != "" {
					if _, err := ingest.WriteBack([]models.Session{{Target: target, Status: models.StatusFixed, Payload: outcome.Payload}}); err != nil {
						return err
					}
					fmt.Fprintf(out, "Wrote %s\n", payloadFile)
				} else if len(outcome.Payload) > 0 {
					fmt.Fprintln(out, "---")
					fmt.Fprint(out, string(outcome.Payload))
				}
				return nil
			case models.OutcomeNoChange:
				fmt.Fprintf(out, "Strategy %s made no change\n", s.Name())
				return &cliutil.ExitError{Code: models.ExitUnresolved}
			default:
				fmt.Fprintf(out, "Strategy %s failed: %s\n", s.Name(), outcome.Reason)
				return &cliutil.ExitError{Code: models.ExitUnresolved}
			}
		},
	}

	runCmd.Flags().StringVar(&targetID, "target", "manual", "Target ID passed to the strategy")
	runCmd.Flags().StringVarP(&category, "category", "c", "", "Target category (default is the strategy's first category)")
	runCmd.Flags().StringVarP(&payloadFile, "payload-file", "f", "", "File holding the payload to repair")
	runCmd.Flags().BoolVar(&write, "write", false, "Write a fixed payload back to --payload-file")

	return runCmd
}

func buildTarget(s corestrategy.Strategy, id, categoryName, payloadFile string) (models.Target, error) {
	target := models.Target{ID: id}

	if categoryName == "" {
		target.Category = s.AppliesTo()[0]
	} else {
		c, ok := models.ParseCategory(categoryName)
		if !ok {
			return target, fmt.Errorf("unknown category: %s", categoryName)
		}
		if !corestrategy.Applies(s, c) {
			return target, fmt.Errorf("strategy %s does not apply to %s", s.Name(), c)
		}
		target.Category = c
	}

	if payloadFile != "" {
		abs, err := filepath.Abs(payloadFile)
		if err != nil {
			return target, err
		}
		payload, err := os.ReadFile(abs)
		if err != nil {
			return target, fmt.Errorf("error reading payload file: %w", err)
		}
		target.Payload = payload
		target.Metadata = map[string]string{ingest.MetadataPayloadFile: abs}
	}
	return target, nil
}

func newBuiltinsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "builtins",
		Short: "List the builtin fixers usable with type: builtin",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			for _, name := range corestrategy.BuiltinNames() {
				fmt.Fprintf(out, "- %s: %s\n", name, corestrategy.BuiltinDescription(name))
			}
		},
	}
}

func newSyncCmd() *cobra.Command {
	var (
		dir    string
		force  bool
		dryRun bool
	)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Install or refresh the shipped strategy library",
		Long: `Copy the strategies shipped with remedy into a strategy directory.
Files you have edited are left alone unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = config.ExpandPathWithTilde(config.DefaultGlobalStrategies)
			}

			changes, stats, err := defaults.Install(dir, defaults.InstallOptions{Force: force, DryRun: dryRun})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintf(out, "Dry run for %s, nothing written\n", dir)
			}
			for _, c := range changes {
				if c.Action == defaults.ActionSkip {
					fmt.Fprintf(out, "  %-6s %s (%s)\n", c.Action, c.Name, c.Reason)
					continue
				}
				fmt.Fprintf(out, "  %-6s %s\n", c.Action, c.Name)
			}
			fmt.Fprintf(out, "Examined %d, created %d, updated %d, skipped %d\n",
				stats.Examined, stats.Created, stats.Updated, stats.Skipped)
			return nil
		},
	}

	syncCmd.Flags().StringVarP(&dir, "dir", "d", "", "Strategy directory (default ~/.remedy/strategies)")
	syncCmd.Flags().BoolVar(&force, "force", false, "Overwrite locally modified files")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would change without writing")

	return syncCmd
}
