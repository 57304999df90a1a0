// SPDX-License-Identifier: Apache-2.0

package chain

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kusari-oss/remedy/cmd/remedy/cmd/cliutil"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy"
)

// NewChainCmd creates the chain command
func NewChainCmd() *cobra.Command {
	chainCmd := &cobra.Command{
		Use:   "chain",
		Short: "Inspect strategy chains",
	}
	chainCmd.AddCommand(newListCmd())
	return chainCmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the strategy chain for each category",
		Long: `Show the ordered strategies tried for each category. Loading the chains also
validates them, so this doubles as a configuration check.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := remedy.NewRegistryOnly(cliutil.Options(cmd))
			if err != nil {
				return cliutil.ConfigError(err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Strategy chains:")
			fmt.Fprintln(out, "----------------")
			for _, category := range models.AllCategories {
				chain, err := app.Registry.Resolve(category)
				if err != nil {
					fmt.Fprintf(out, "- %s: (none, targets are reported as unknown category)\n", category)
					continue
				}
				fmt.Fprintf(out, "- %s: %s\n", category, strings.Join(chain.Names(), " -> "))
			}
			return nil
		},
	}
}
