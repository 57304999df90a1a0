// SPDX-License-Identifier: Apache-2.0

// Package cliutil holds helpers shared by the remedy subcommands.
package cliutil

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy"
)

// closeTimeout bounds draining escalations at exit
const closeTimeout = 30 * time.Second

// ExitError carries a process exit code to main. A nil Err exits silently.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ConfigError wraps err with the configuration-error exit code
func ConfigError(err error) error {
	return &ExitError{Code: models.ExitConfigError, Err: err}
}

// Options reads the persistent root flags
func Options(cmd *cobra.Command) remedy.Options {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	return remedy.Options{
		ConfigPath: configPath,
		Verbose:    verbose,
		LogOutput:  cmd.ErrOrStderr(),
	}
}

// CloseApp shuts the app down, giving pending escalations time to deliver
func CloseApp(app *remedy.App) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := app.Close(ctx); err != nil {
		app.Logger.Warn("Error during shutdown", zap.Error(err))
	}
}
