// SPDX-License-Identifier: Apache-2.0

package remediate

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kusari-oss/remedy/cmd/remedy/cmd/cliutil"
	"github.com/kusari-oss/remedy/internal/core/format"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy"
	"github.com/kusari-oss/remedy/internal/remedy/ingest"
)

// NewRemediateCmd creates the remediate command
func NewRemediateCmd() *cobra.Command {
	var (
		targetsFile string
		reportFile  string
		workers     int
		apply       bool
	)

	cmd := &cobra.Command{
		Use:   "remediate",
		Short: "Remediate a batch of targets",
		Long: `Run every target in a batch file through the strategy chain for its category.

Exit status is 0 when every target was fixed, 1 when any target was escalated
or cancelled, and 2 for an unknown category, a configuration error or an
attempt log failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cliutil.Options(cmd)
			opts.Workers = workers

			targets, err := ingest.LoadBatch(targetsFile)
			if err != nil {
				return cliutil.ConfigError(err)
			}

			app, err := remedy.New(cmd.Context(), opts)
			if err != nil {
				return cliutil.ConfigError(err)
			}
			defer cliutil.CloseApp(app)

			report, runErr := app.Remediate(cmd.Context(), targets)
			return Finish(cmd.OutOrStdout(), app.Logger, report, runErr, reportFile, apply)
		},
	}

	cmd.Flags().StringVarP(&targetsFile, "targets", "t", "", "Batch file listing the targets (YAML, JSON or JSONC)")
	cmd.Flags().StringVar(&reportFile, "report", "", "Write the full report to this file (.json or .yaml)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent sessions (default from config, then CPU count)")
	cmd.Flags().BoolVar(&apply, "apply", false, "Write fixed payloads back to their payload_file")
	_ = cmd.MarkFlagRequired("targets")

	return cmd
}

// Finish prints and saves a report, applies fixes and maps the outcome to an
// exit code. It is shared with the watch command.
func Finish(out io.Writer, logger *zap.Logger, report *models.RemediationReport, runErr error, reportFile string, apply bool) error {
	PrintSummary(out, report)

	if reportFile != "" {
		if err := format.WriteFile(reportFile, report); err != nil {
			return fmt.Errorf("error writing report: %w", err)
		}
		fmt.Fprintf(out, "Report written to %s\n", reportFile)
	}

	if apply {
		written, err := ingest.WriteBack(report.Sessions)
		for _, path := range written {
			fmt.Fprintf(out, "Applied fix to %s\n", path)
		}
		if err != nil {
			return err
		}
	}

	if runErr != nil {
		logger.Error("Remediation batch aborted", zap.Error(runErr))
		return &cliutil.ExitError{Code: models.ExitConfigError, Err: runErr}
	}
	if code := report.ExitCode(); code != models.ExitAllFixed {
		return &cliutil.ExitError{Code: code}
	}
	return nil
}

// PrintSummary writes a per-target line and the batch totals
func PrintSummary(out io.Writer, report *models.RemediationReport) {
	fmt.Fprintf(out, "Batch %s\n", report.BatchID)
	fmt.Fprintln(out, "------------------")
	for _, s := range report.Sessions {
		line := fmt.Sprintf("- %s [%s]: %s (%d attempts)", s.Target.ID, s.Target.Category, s.Status, len(s.Attempts))
		switch {
		case s.Error != "":
			line += ": " + s.Error
		case s.Status == models.StatusEscalated:
			line += ": " + s.LastFailure()
		}
		fmt.Fprintln(out, line)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Fixed: %d  Escalated: %d  Unknown category: %d  Cancelled: %d\n",
		report.FixedCount, report.EscalatedCount, report.UnknownCategoryCount, report.CancelledCount)
	fmt.Fprintf(out, "Attempts: %d  Success rate: %.1f%%  Average attempt: %.0fms  Duration: %s\n",
		report.TotalAttempts(), report.SuccessRate()*100, report.AverageAttemptMs(),
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	if report.DegradedLogging {
		fmt.Fprintf(out, "Warning: attempt log degraded, %d attempts are buffered and not yet recorded\n",
			report.BufferedAttempts())
	}
	if report.Error != "" {
		fmt.Fprintf(out, "Batch error: %s\n", report.Error)
	}
}
