package main

import (
	"fmt"
	"io"

	"github.com/dandriscoll/devlogs/internal/service"
	"github.com/spf13/cobra"
)

var (
	cleanupDryRun bool
	cleanupStats  bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete documents past their retention",
	Long: `Delete debug documents after DEVLOGS_RETENTION_DEBUG, info documents
after DEVLOGS_RETENTION_INFO and everything after DEVLOGS_RETENTION_WARNING.
When archiving is enabled each tier is copied to object storage first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cli.retentionService(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if cleanupStats {
			stats, err := svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			printStats(out, stats)
			return nil
		}

		res, err := svc.Cleanup(cmd.Context(), cleanupDryRun)
		if res != nil {
			printCleanup(out, res)
		}
		return err
	},
}

func printStats(w io.Writer, stats *service.RetentionStats) {
	fmt.Fprintf(w, "%s %d\n", styleBold.Render("total documents:"), stats.Total)
	fmt.Fprintf(w, "%s %d\n", styleBold.Render("hot (within debug retention):"), stats.Hot)
	for _, tier := range []string{service.TierDebug, service.TierInfo, service.TierWarning} {
		if n, ok := stats.Eligible[tier]; ok {
			fmt.Fprintf(w, "  %-8s eligible for deletion: %d\n", tier, n)
		}
	}
}

func printCleanup(w io.Writer, res *service.CleanupResult) {
	if len(res.Tiers) == 0 {
		warn(w, "no retention tiers enabled")
		return
	}
	for _, tr := range res.Tiers {
		if res.DryRun {
			fmt.Fprintf(w, "  %-8s older than %s: would delete %d\n", tr.Tier, tr.Cutoff, tr.Matched)
			continue
		}
		line := fmt.Sprintf("%-8s older than %s: deleted %d", tr.Tier, tr.Cutoff, tr.Deleted)
		if tr.ArchiveKey != "" {
			line += fmt.Sprintf(" (archived %d to %s)", tr.Archived, tr.ArchiveKey)
		}
		success(w, "%s", line)
	}
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "only count what would be deleted")
	cleanupCmd.Flags().BoolVar(&cleanupStats, "stats", false, "show document counts per tier")
	rootCmd.AddCommand(cleanupCmd)
}
