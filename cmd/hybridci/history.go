package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hybridci/internal/history"
)

var (
	historyLimit   int
	historySummary bool
	historyJSON    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
	historyCmd.Flags().BoolVar(&historySummary, "summary", false, "Show aggregate statistics instead of runs")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := history.Open(cfg.Path(cfg.History.Path))
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if historySummary {
		sum, err := db.Summary(ctx)
		if err != nil {
			return err
		}
		if historyJSON {
			return printJSON(out, sum)
		}
		fmt.Fprintf(out, "Runs:           %d\n", sum.Runs)
		fmt.Fprintf(out, "Average time:   %.2fs\n", sum.AvgTime)
		fmt.Fprintf(out, "Average tests:  %.1f\n", sum.AvgTests)
		fmt.Fprintf(out, "Cache hit rate: %.1f%%\n", sum.CacheHitRate*100)
		return nil
	}

	runs, err := db.List(ctx, historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		return printJSON(out, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		status := "FAIL"
		if r.Passed {
			status = "ok"
		}
		hit := ""
		if r.CacheHit {
			hit = " (cached)"
		}
		fmt.Fprintf(out, "%s  %s  %-14s %4d tests %8.2fs  %s%s\n",
			shortID(r.ID), r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Mode, r.TestsRun, r.TimeTaken, status, hit)
	}
	return nil
}

// shortID safely truncates an ID string to 8 characters.
func shortID(s string) string {
	if len(s) >= 8 {
		return s[:8]
	}
	return s
}
