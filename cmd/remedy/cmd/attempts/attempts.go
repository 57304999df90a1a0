// SPDX-License-Identifier: Apache-2.0

package attempts

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kusari-oss/remedy/cmd/remedy/cmd/cliutil"
	"github.com/kusari-oss/remedy/internal/core/format"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy"
	"github.com/kusari-oss/remedy/internal/remedy/api"
	"github.com/kusari-oss/remedy/internal/remedy/attemptlog"
)

// NewAttemptsCmd creates the attempts command
func NewAttemptsCmd() *cobra.Command {
	attemptsCmd := &cobra.Command{
		Use:   "attempts",
		Short: "Inspect the attempt log",
	}
	attemptsCmd.AddCommand(newListCmd())
	return attemptsCmd
}

func newListCmd() *cobra.Command {
	var (
		target   string
		category string
		status   string
		batch    string
		since    string
		after    uint64
		limit    int
		asJSON   bool
	)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded attempts",
		Long: `List attempts in the order they were recorded.

--since accepts an RFC3339 timestamp or a duration such as 24h.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceValue, err := resolveSince(since, time.Now())
			if err != nil {
				return err
			}

			query := map[string]string{
				"target":   target,
				"category": category,
				"status":   status,
				"batch":    batch,
				"since":    sinceValue,
				"limit":    strconv.Itoa(limit),
			}
			if after > 0 {
				query["after"] = strconv.FormatUint(after, 10)
			}
			filter, err := api.ParseFilter(func(k string) string { return query[k] })
			if err != nil {
				return err
			}

			cfg, logger, err := remedy.LoadConfig(cliutil.Options(cmd))
			if err != nil {
				return cliutil.ConfigError(err)
			}
			var found []models.Attempt
			log, err := remedy.OpenReader(cfg, logger)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				logger.Debug("No attempt log yet", zap.String("path", cfg.LogPath()))
			case err != nil:
				return err
			default:
				defer log.Close()
				found, err = attemptlog.Collect(log.Query(cmd.Context(), filter))
				if err != nil {
					return fmt.Errorf("error querying attempt log: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := format.FormatData(found, false)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, data)
				return nil
			}

			if len(found) == 0 {
				fmt.Fprintln(out, "No attempts found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tSTARTED\tTARGET\tCATEGORY\tSTRATEGY\tRETRY\tOUTCOME\tDURATION\tREASON")
			for _, a := range found {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%dms\t%s\n",
					a.Seq, a.StartedAt.Local().Format(time.DateTime), a.TargetID, a.Category,
					a.StrategyName, a.Retry, a.Outcome, a.DurationMs, a.Reason)
			}
			return w.Flush()
		},
	}

	listCmd.Flags().StringVar(&target, "target", "", "Only attempts for this target ID")
	listCmd.Flags().StringVar(&category, "category", "", "Only attempts for this category")
	listCmd.Flags().StringVar(&status, "status", "", "Only attempts with this outcome (fixed, no_change, failed)")
	listCmd.Flags().StringVar(&batch, "batch", "", "Only attempts from this batch ID")
	listCmd.Flags().StringVar(&since, "since", "", "Only attempts started at or after this time")
	listCmd.Flags().Uint64Var(&after, "after", 0, "Only attempts with a sequence number above this")
	listCmd.Flags().IntVar(&limit, "limit", api.DefaultLimit, "Maximum number of attempts to show")
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return listCmd
}

// resolveSince turns a duration into an RFC3339 timestamp relative to now
func resolveSince(since string, now time.Time) (string, error) {
	if since == "" {
		return "", nil
	}
	if d, err := time.ParseDuration(since); err == nil {
		return now.Add(-d).UTC().Format(time.RFC3339), nil
	}
	if _, err := time.Parse(time.RFC3339, since); err != nil {
		return "", fmt.Errorf("invalid --since %q: expected RFC3339 time or duration", since)
	}
	return since, nil
}
