package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"hybridci/internal/lang"
)

var (
	changesJSON       bool
	changesByLanguage bool
	analyzeJSON       bool
	languagesStats    bool
	languagesJSON     bool
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "List the changed files the pipeline would use",
	RunE:  runChanges,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [files...]",
	Short: "Estimate the impact of changed files",
	Long: `Classifies each file by language and flags test, config and shared
files. Without arguments the detected change set is analyzed.`,
	RunE: runAnalyze,
}

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List supported languages, or the language mix of the repository",
	Args:  cobra.NoArgs,
	RunE:  runLanguages,
}

func init() {
	changesCmd.Flags().BoolVar(&changesJSON, "json", false, "Print as JSON")
	changesCmd.Flags().BoolVar(&changesByLanguage, "by-language", false, "Group files by language")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print as JSON")
	languagesCmd.Flags().BoolVar(&languagesStats, "stats", false, "Count repository files per language")
	languagesCmd.Flags().BoolVar(&languagesJSON, "json", false, "Print as JSON")

	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(languagesCmd)
}

func runChanges(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	det, err := newDetector(cfg, log)
	if err != nil {
		return err
	}
	byLang, files, err := det.ByLanguage(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case changesJSON && changesByLanguage:
		return printJSON(out, byLang)
	case changesJSON:
		return printJSON(out, files)
	case changesByLanguage:
		for _, tag := range byLang.Tags() {
			fmt.Fprintf(out, "%s (%d)\n", tag, len(byLang[tag]))
			for _, f := range byLang[tag] {
				fmt.Fprintf(out, "  %s\n", f)
			}
		}
	default:
		for _, f := range files {
			fmt.Fprintln(out, f)
		}
	}
	return nil
}

type analysis struct {
	lang.Impact
	Runners []string `json:"runners,omitempty"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	files := args
	if len(files) == 0 {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		det, err := newDetector(cfg, log)
		if err != nil {
			return err
		}
		if files, err = det.Detect(cmd.Context()); err != nil {
			return err
		}
	}

	results := make([]analysis, 0, len(files))
	for _, f := range files {
		impact := lang.AnalyzeImpact(f)
		results = append(results, analysis{Impact: impact, Runners: lang.TestRunners(impact.Language)})
	}

	out := cmd.OutOrStdout()
	if analyzeJSON {
		return printJSON(out, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No changed files.")
		return nil
	}
	for _, a := range results {
		var flags []string
		if a.IsTest {
			flags = append(flags, "test")
		}
		if a.IsConfig {
			flags = append(flags, "config")
		}
		if a.IsShared {
			flags = append(flags, "shared")
		}
		fmt.Fprintf(out, "%-40s %-12s %-5s %s\n", a.Filename, a.Language, a.EstimatedImpact, strings.Join(flags, ","))
		if len(a.Runners) > 0 {
			fmt.Fprintf(out, "  runners: %s\n", strings.Join(a.Runners, ", "))
		}
	}
	return nil
}

func runLanguages(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if !languagesStats {
		supported := lang.Supported()
		if languagesJSON {
			return printJSON(out, supported)
		}
		for _, s := range supported {
			fmt.Fprintf(out, "%-12s %s\n", s.Name, strings.Join(s.Extensions, " "))
		}
		return nil
	}

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	stats, err := lang.ProjectStats(cfg.Repo)
	if err != nil {
		return err
	}
	if languagesJSON {
		return printJSON(out, stats)
	}
	counts := make(map[lang.Tag]int, len(stats.ByLanguage))
	for tag, files := range stats.ByLanguage {
		counts[tag] = len(files)
	}
	fmt.Fprintf(out, "%d source files\n", stats.TotalFiles)
	for _, tag := range lang.Map(stats.ByLanguage).Tags() {
		fmt.Fprintf(out, "  %-12s %d\n", tag, counts[tag])
	}
	return nil
}
