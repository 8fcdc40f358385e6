package main

import (
	"fmt"
	"time"

	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/repository"
	"github.com/dandriscoll/devlogs/internal/service"
	"github.com/spf13/cobra"
)

var (
	rollupSince       string
	rollupOperationID string
	historyLimit      int
)

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Fold child log entries into their operation documents",
	Long: `Group log_entry children by their root operation and write one
operation document per group, then delete the folded children.

Without flags every child in the index is rolled up.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := service.ParseSince(rollupSince, time.Now())
		if err != nil {
			return fmt.Errorf("--since: %w", err)
		}

		// A nil interface disables run history when the state DB is unavailable.
		var runs service.RunStore
		if db, err := cli.stateDB(); err != nil {
			cli.log.WithError(err).Warn("rollup history disabled")
		} else {
			runs = repository.NewRollupRunRepository(db)
		}

		run, err := cli.rollupService().Run(cmd.Context(), runs, service.RollupRequest{
			OperationID: rollupOperationID,
			Since:       since,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if run.Groups == 0 {
			success(out, "nothing to roll up")
			return nil
		}
		success(out, "rolled up %d entries into %d operations", run.Children, run.Groups)
		return nil
	},
}

var rollupHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent rollup runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := cli.stateDB()
		if err != nil {
			return err
		}
		runs, err := repository.NewRollupRunRepository(db).ListRecent(cmd.Context(), cli.index(), historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, styleMuted.Render("no rollup runs recorded"))
			return nil
		}
		for _, r := range runs {
			fmt.Fprintln(out, formatRun(r))
		}
		return nil
	},
}

func formatRun(r domain.RollupRun) string {
	scope := "all"
	switch {
	case r.OperationID != "":
		scope = "operation " + r.OperationID
	case r.Since != "":
		scope = "since " + r.Since
	}
	status := string(r.Status)
	switch r.Status {
	case domain.RunStatusCompleted:
		status = styleSuccess.Render(status)
	case domain.RunStatusFailed:
		status = styleError.Render(status)
	}
	line := fmt.Sprintf("%s  %-9s  %-30s  entries=%d operations=%d",
		r.StartedAt.Local().Format("2006-01-02 15:04:05"), status, scope, r.Children, r.Groups)
	if r.CompletedAt != nil {
		line += fmt.Sprintf(" took=%s", r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	if r.ErrorLog != "" {
		line += "\n    " + styleMuted.Render(r.ErrorLog)
	}
	return line
}

func init() {
	rollupCmd.Flags().StringVar(&rollupSince, "since", "", "only children newer than a duration or timestamp")
	rollupCmd.Flags().StringVarP(&rollupOperationID, "operation", "o", "", "roll up only the tree containing this operation")
	rollupHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs")
	rollupCmd.AddCommand(rollupHistoryCmd)
	rootCmd.AddCommand(rollupCmd)
}
