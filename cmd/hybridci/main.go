// Package main provides the hybridci CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"hybridci/internal/cache"
	"hybridci/internal/changes"
	"hybridci/internal/config"
	"hybridci/internal/depgraph"
	"hybridci/internal/ibst"
	"hybridci/internal/pipeline"
	"hybridci/internal/runner"
	"hybridci/internal/testmap"
)

// Version is the current hybridci version.
var Version = "0.3.0"

var (
	flagRepo     string
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:     "hybridci",
	Short:   "HybridCI - selective test execution with caching",
	Version: Version,
	Long: `HybridCI runs only the tests impacted by a change and caches the
selection so that re-running the same change set is free.

Configuration is read from .hybridci.yaml in the repository root (or
--config) and HYBRIDCI_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRepo, "repo", ".", "Path to the repository")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default <repo>/.hybridci.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads configuration and builds the logger for a command.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	repo, err := filepath.Abs(flagRepo)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving repo path: %w", err)
	}
	cfg, err := config.Load(repo, flagConfig)
	if err != nil {
		return nil, nil, err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return cfg, log, nil
}

func openStore(cfg *config.Config, log *slog.Logger) (*cache.Store, error) {
	return cache.Open(cache.Options{
		Dir:      cfg.Path(cfg.Cache.Dir),
		Backend:  cache.BackendKind(cfg.Cache.Backend),
		Compress: cfg.Cache.Compress,
		Logger:   log,
	})
}

func newDetector(cfg *config.Config, log *slog.Logger) (*changes.Detector, error) {
	src, err := changes.NewSource(cfg.VCS.Backend, cfg.Repo, cfg.VCS.Timeout)
	if err != nil {
		return nil, err
	}
	return changes.NewDetector(src,
		changes.WithFallbackExtension(cfg.VCS.FallbackExtension),
		changes.WithLogger(log),
	), nil
}

func newExecutor(cfg *config.Config, stdout, stderr io.Writer) runner.Executor {
	if args := strings.Fields(cfg.Run.Command); len(args) > 0 {
		return runner.Command{Args: args, Dir: cfg.Repo, Stdout: stdout, Stderr: stderr}
	}
	return runner.Simulated{PerTest: cfg.Run.PerTest}
}

// loadTestMap reads the configured test map file, or generates one from
// the test directory.
func loadTestMap(cfg *config.Config) (ibst.TestMap, error) {
	if cfg.Tests.Map != "" {
		return testmap.Load(cfg.Path(cfg.Tests.Map))
	}
	return testmap.Generate(cfg.Path(cfg.Tests.Dir), cfg.Tests.Pattern)
}

// loadGraph reads or builds the dependency graph; nil when unconfigured.
func loadGraph(cmd *cobra.Command, cfg *config.Config) (ibst.DependencyGraph, error) {
	switch {
	case cfg.Graph.Path != "":
		return depgraph.Load(cfg.Path(cfg.Graph.Path))
	case cfg.Graph.Src != "":
		return depgraph.Build(cmd.Context(), cfg.Path(cfg.Graph.Src))
	}
	return nil, nil
}

func loadRequest(cmd *cobra.Command, cfg *config.Config) (pipeline.Request, error) {
	tests, err := loadTestMap(cfg)
	if err != nil {
		return pipeline.Request{}, err
	}
	graph, err := loadGraph(cmd, cfg)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{Tests: tests, Graph: graph, LanguageAware: cfg.Run.LanguageAware}, nil
}

func newPipeline(cfg *config.Config, log *slog.Logger, store *cache.Store, stdout, stderr io.Writer) (*pipeline.Pipeline, error) {
	det, err := newDetector(cfg, log)
	if err != nil {
		return nil, err
	}
	return pipeline.New(det, store, newExecutor(cfg, stdout, stderr), pipeline.Options{
		Selector: ibst.Selector{Depth: cfg.Selection.Depth},
		Workers:  cfg.Run.Workers,
		Timeout:  cfg.Run.Timeout,
		Logger:   log,
	}), nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
