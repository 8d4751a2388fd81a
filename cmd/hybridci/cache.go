package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hybridci/internal/lang"
)

var cacheStatsJSON bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the selection cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry counts",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	cacheStatsCmd.Flags().BoolVar(&cacheStatsJSON, "json", false, "Print as JSON")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if cacheStatsJSON {
		return printJSON(out, stats)
	}
	fmt.Fprintf(out, "Entries:           %d\n", stats.TotalEntries)
	fmt.Fprintf(out, "Language entries:  %d\n", stats.TotalLanguageEntries)
	tags := make(lang.Map, len(stats.Languages))
	for tag := range stats.Languages {
		tags[tag] = nil
	}
	for _, tag := range tags.Tags() {
		fmt.Fprintf(out, "  %-16s %d\n", tag, stats.Languages[tag])
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
	return nil
}
