// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kusari-oss/remedy/cmd/remedy/cmd/attempts"
	"github.com/kusari-oss/remedy/cmd/remedy/cmd/chain"
	"github.com/kusari-oss/remedy/cmd/remedy/cmd/remediate"
	"github.com/kusari-oss/remedy/cmd/remedy/cmd/serve"
	"github.com/kusari-oss/remedy/cmd/remedy/cmd/strategy"
	"github.com/kusari-oss/remedy/cmd/remedy/cmd/watch"
	"github.com/kusari-oss/remedy/internal/version"
)

// NewRootCmd builds the remedy command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "remedy",
		Short: "Automated remediation pipeline",
		Long: `Remedy works failing targets (lint errors, broken builds, failed deployments)
through ordered chains of fixer strategies, retrying with backoff, recording
every attempt and escalating to humans when a chain is exhausted.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version.Version, version.Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "config file (default is .remedy/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(remediate.NewRemediateCmd())
	rootCmd.AddCommand(attempts.NewAttemptsCmd())
	rootCmd.AddCommand(strategy.NewStrategyCmd())
	rootCmd.AddCommand(chain.NewChainCmd())
	rootCmd.AddCommand(serve.NewServeCmd())
	rootCmd.AddCommand(watch.NewWatchCmd())
	rootCmd.AddCommand(newInitCmd())

	return rootCmd
}

// Execute runs the root command with ctx, which is cancelled on interrupt
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
