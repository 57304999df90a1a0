// SPDX-License-Identifier: Apache-2.0

package serve

import (
	"github.com/spf13/cobra"

	"github.com/kusari-oss/remedy/cmd/remedy/cmd/cliutil"
	"github.com/kusari-oss/remedy/internal/remedy"
	"github.com/kusari-oss/remedy/internal/remedy/api"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the attempt log over HTTP",
		Long: `Serve GET /api/v1/attempts, /healthz and /metrics until interrupted.

The attempt log is opened read-only, so several serve and attempts list
processes can share it. To watch history live while batches run, use
remedy watch --serve-addr, which serves the log the watcher is writing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := remedy.LoadConfig(cliutil.Options(cmd))
			if err != nil {
				return cliutil.ConfigError(err)
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}

			log, err := remedy.OpenReader(cfg, logger)
			if err != nil {
				return err
			}
			defer log.Close()

			server, err := api.NewServer(log, addr, logger)
			if err != nil {
				return err
			}
			return server.Run(cmd.Context(), cfg.Server.ShutdownTimeout)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, 127.0.0.1:8089)")
	return cmd
}
