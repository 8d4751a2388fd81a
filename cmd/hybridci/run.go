package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hybridci/internal/history"
	"hybridci/internal/lang"
	"hybridci/internal/pipeline"
)

var (
	runBaseline      bool
	runLanguageAware bool
	runTimeout       time.Duration
	runJSON          bool
	runNoHistory     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Select and run the tests impacted by the current change",
	Long: `Detects changed files, selects the impacted tests and runs them,
reusing a cached selection when the same change set was seen before.

Modes:
  hybrid          - one cache entry per change set (default)
  language-aware  - one cache entry per language of the change set
  baseline        - run every test, ignoring changes and the cache

Examples:
  hybridci run
  hybridci run --language-aware --json
  hybridci run --baseline --timeout 10m`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runBaseline, "baseline", false, "Run every test without change detection or caching")
	runCmd.Flags().BoolVar(&runLanguageAware, "language-aware", false, "Cache selections per language")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Abort the run after this long (0 uses run.timeout)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the result as JSON")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "Do not record the run in history")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("language-aware") {
		cfg.Run.LanguageAware = runLanguageAware
	}
	if runTimeout > 0 {
		cfg.Run.Timeout = runTimeout
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	runnerOut := out
	if runJSON {
		runnerOut = cmd.ErrOrStderr()
	}
	p, err := newPipeline(cfg, log, store, runnerOut, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	req, err := loadRequest(cmd, cfg)
	if err != nil {
		return err
	}
	req.Baseline = runBaseline

	ctx := cmd.Context()
	if cfg.Run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Run.Timeout)
		defer cancel()
	}

	res, err := p.Run(ctx, req)
	if err != nil {
		return err
	}

	if !runNoHistory {
		if err := recordRun(ctx, cfg.Path(cfg.History.Path), res); err != nil {
			log.Warn("recording run history failed", "err", err)
		}
	}

	if runJSON {
		if err := printJSON(out, res); err != nil {
			return err
		}
	} else {
		printResult(out, res)
	}
	if !res.Passed {
		return fmt.Errorf("tests failed")
	}
	return nil
}

func recordRun(ctx context.Context, path string, res *pipeline.Result) error {
	db, err := history.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Record(ctx, history.Run{
		Mode:      string(res.Mode),
		TestsRun:  len(res.Tests),
		TimeTaken: res.Time,
		CacheHit:  res.CacheHit,
		Passed:    res.Passed,
	})
	return err
}

func printResult(w io.Writer, res *pipeline.Result) {
	status := "MISS"
	if res.CacheHit {
		status = "HIT"
	}
	fmt.Fprintf(w, "Mode:          %s\n", res.Mode)
	if res.Mode != pipeline.ModeBaseline {
		fmt.Fprintf(w, "Changed files: %d\n", res.ChangedFiles)
		fmt.Fprintf(w, "Cache:         %s\n", status)
	}
	fmt.Fprintf(w, "Tests:         %d\n", len(res.Tests))
	fmt.Fprintf(w, "Time:          %.2fs\n", res.Time)
	if len(res.Languages) > 0 {
		names := make([]string, len(res.Languages))
		for i, l := range res.Languages {
			names[i] = string(l)
		}
		fmt.Fprintf(w, "Languages:     %s\n", strings.Join(names, ", "))
	}
	for _, t := range res.Tests {
		fmt.Fprintf(w, "  %s\n", t)
	}
	if len(res.LanguageBreakdown) > 0 {
		fmt.Fprintln(w)
		fmt.Fprint(w, lang.FormatReport(res.LanguageBreakdown))
	}
}
