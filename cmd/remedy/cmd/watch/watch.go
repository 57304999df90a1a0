// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kusari-oss/remedy/cmd/remedy/cmd/cliutil"
	"github.com/kusari-oss/remedy/cmd/remedy/cmd/remediate"
	"github.com/kusari-oss/remedy/internal/remedy"
	"github.com/kusari-oss/remedy/internal/remedy/attemptlog"
	"github.com/kusari-oss/remedy/internal/remedy/ingest"
)

// NewWatchCmd creates the watch command
func NewWatchCmd() *cobra.Command {
	var (
		dir      string
		apply     bool
		debounce  time.Duration
		serveAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Remediate batch files as they appear in a directory",
		Long: `Watch a directory and remediate every batch file written to it until
interrupted. A batch that fails to load is logged and skipped; an attempt log
failure stops the watch. With --serve-addr the attempt API is served from the
log being written, so dashboards see attempts as they are recorded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			app, err := remedy.New(ctx, cliutil.Options(cmd))
			if err != nil {
				return cliutil.ConfigError(err)
			}
			defer cliutil.CloseApp(app)

			watcher, err := ingest.NewWatcher(dir, debounce, app.Logger)
			if err != nil {
				return err
			}

			if serveAddr != "" {
				server, err := app.NewAPIServer(serveAddr)
				if err != nil {
					return err
				}
				serveDone := make(chan struct{})
				go func() {
					defer close(serveDone)
					if err := server.Run(ctx, app.Config.Server.ShutdownTimeout); err != nil {
						app.Logger.Error("Attempt API stopped", zap.Error(err))
					}
				}()
				// The server must stop before the app closes the log
				defer func() {
					cancel()
					<-serveDone
				}()
			}

			runErr := make(chan error, 1)
			go func() { runErr <- watcher.Run(ctx) }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %s for batch files\n", dir)

			for path := range watcher.Batches() {
				logger := app.Logger.With(zap.String("batch_file", path))

				targets, err := ingest.LoadBatch(path)
				if err != nil {
					logger.Error("Skipping batch file", zap.Error(err))
					continue
				}

				report, batchErr := app.Remediate(ctx, targets)
				err = remediate.Finish(out, logger, report, batchErr, "", apply)

				var exitErr *cliutil.ExitError
				switch {
				case err == nil:
				case errors.As(err, &exitErr) && errors.Is(exitErr.Err, attemptlog.ErrLogUnavailable):
					return err
				case errors.As(err, &exitErr):
					logger.Info("Batch finished with unresolved targets", zap.Int("exit_code", exitErr.Code))
				default:
					logger.Error("Error finishing batch", zap.Error(err))
				}
				fmt.Fprintln(out)
			}

			if err := <-runErr; err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory to watch")
	cmd.Flags().BoolVar(&apply, "apply", false, "Write fixed payloads back to their payload_file")
	cmd.Flags().StringVar(&serveAddr, "serve-addr", "", "Also serve the attempt API on this address")
	cmd.Flags().DurationVar(&debounce, "debounce", ingest.DefaultDebounce, "Quiet period before a written file is processed")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}
