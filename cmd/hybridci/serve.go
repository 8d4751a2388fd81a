package main

import (
	"context"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"hybridci/internal/api"
	"hybridci/internal/history"
	"hybridci/internal/pipeline"
	"hybridci/internal/watch"
)

var (
	serveListen string
	serveWatch  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve pipeline runs and history over HTTP",
	Long: `Starts an HTTP server exposing:

  GET /health        liveness and version
  GET /run           run the pipeline (?language_aware=true|false)
  GET /baseline      run every test
  GET /runs?limit=N  recent runs, newest first
  GET /summary       aggregate run statistics
  GET /cache/stats   cache entry counts
  GET /ws            websocket feed of completed runs

With --watch, file changes in the repository trigger runs that are
recorded and pushed to /ws clients.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default serve.listen)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Run the pipeline whenever source files change")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Serve.Listen = serveListen
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	db, err := history.Open(cfg.Path(cfg.History.Path))
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := newPipeline(cfg, log, store, cmd.ErrOrStderr(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	hub := api.NewHub(log)
	router := api.NewRouter(api.Config{
		Runner:  p,
		History: db,
		Cache:   store,
		Inputs: func() (pipeline.Request, error) {
			return loadRequest(cmd, cfg)
		},
		LanguageAware: cfg.Run.LanguageAware,
		Timeout:       cfg.Run.Timeout,
		Version:       Version,
		Events:        hub,
	})

	ln, err := net.Listen("tcp", cfg.Serve.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Serve.Listen, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", ln.Addr())

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return api.Serve(ctx, ln, api.WithDefaults(router, log), log)
	})
	if serveWatch {
		w := &watch.Watcher{
			Root:   cfg.Repo,
			Logger: log,
			OnChange: func(ctx context.Context, paths []string) {
				log.Info("changes detected", "files", len(paths))
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
				run, err := db.Record(ctx, history.Run{
					Mode:      string(res.Mode),
					TestsRun:  len(res.Tests),
					TimeTaken: res.Time,
					CacheHit:  res.CacheHit,
					Passed:    res.Passed,
				})
				if err != nil {
					log.Warn("recording run history failed", "err", err)
				}
				hub.PublishRun("watch", run.ID, res)
			},
		}
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}
