package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"hybridci/internal/watch"
)

var watchDebounce = watch.DefaultDebounce

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run impacted tests whenever source files change",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Quiet period before a run is triggered")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	p, err := newPipeline(cfg, log, store, out, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	w := &watch.Watcher{
		Root:     cfg.Repo,
		Debounce: watchDebounce,
		Logger:   log,
		OnChange: func(ctx context.Context, paths []string) {
			fmt.Fprintf(out, "\n%d file(s) changed\n", len(paths))
			req, err := loadRequest(cmd, cfg)
			if err != nil {
				log.Error("loading inputs failed", "err", err)
				return
			}
			res, err := p.Run(ctx, req)
			if err != nil {
				log.Error("run failed", "err", err)
				return
			}
			if err := recordRun(ctx, cfg.Path(cfg.History.Path), res); err != nil {
				log.Warn("recording run history failed", "err", err)
			}
			printResult(out, res)
		},
	}

	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", cfg.Repo)
	return w.Run(cmd.Context())
}
