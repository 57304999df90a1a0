// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kusari-oss/remedy/internal/core/config"
	"github.com/kusari-oss/remedy/internal/defaults"
)

func newInitCmd() *cobra.Command {
	var (
		dir   string
		force bool
	)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a .remedy directory with a default configuration",
		Long: `Create .remedy/config.yaml with default settings and starter chains, and
install the shipped strategy library into .remedy/strategies.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir := filepath.Join(dir, config.DefaultConfigDir)
			configPath := filepath.Join(configDir, config.DefaultConfigFileName)
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
			}

			cfg := config.NewDefaultConfig()
			cfg.Chains = map[string][]string{
				"lint":   {"json-trailing-commas", "trim-trailing-whitespace", "ensure-final-newline"},
				"config": {"json-trailing-commas", "tabs-to-spaces", "ensure-final-newline"},
			}
			if err := config.SaveConfig(cfg, dir); err != nil {
				return err
			}

			strategiesDir := filepath.Join(configDir, "strategies")
			_, stats, err := defaults.Install(strategiesDir, defaults.InstallOptions{Force: force})
			if err != nil {
				return fmt.Errorf("error installing strategies: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initialized remedy in %s\n", configDir)
			fmt.Fprintf(out, "Installed %d strategies into %s\n", stats.Created+stats.Updated, strategiesDir)
			fmt.Fprintf(out, "Edit %s to configure chains and escalation.\n", configPath)
			return nil
		},
	}

	initCmd.Flags().StringVar(&dir, "dir", ".", "Project directory")
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")

	return initCmd
}
