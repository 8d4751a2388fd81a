package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"hybridci/internal/depgraph"
	"hybridci/internal/testmap"
)

var (
	testmapOut     string
	testmapPattern string
	depgraphOut    string
)

var testmapCmd = &cobra.Command{
	Use:   "testmap [dir]",
	Short: "Generate a test map from a test directory",
	Long: `Maps every test file matching the pattern to the source file it
covers, by stripping the test_ prefix or _test suffix from its name.

The map is printed as YAML, or written to --out.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTestmap,
}

var depgraphCmd = &cobra.Command{
	Use:   "depgraph [dir]",
	Short: "Build a dependency graph from Python imports",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDepgraph,
}

func init() {
	testmapCmd.Flags().StringVarP(&testmapOut, "out", "o", "", "Write the map to this file")
	testmapCmd.Flags().StringVar(&testmapPattern, "pattern", "", "Glob for test files (default tests.pattern)")
	depgraphCmd.Flags().StringVarP(&depgraphOut, "out", "o", "", "Write the graph to this file")
	rootCmd.AddCommand(testmapCmd)
	rootCmd.AddCommand(depgraphCmd)
}

func runTestmap(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dir := cfg.Path(cfg.Tests.Dir)
	if len(args) == 1 {
		dir = cfg.Path(args[0])
	}
	pattern := cfg.Tests.Pattern
	if testmapPattern != "" {
		pattern = testmapPattern
	}

	m, err := testmap.Generate(dir, pattern)
	if err != nil {
		return err
	}
	if testmapOut != "" {
		if err := testmap.Save(cfg.Path(testmapOut), m); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d tests to %s\n", len(m), testmapOut)
		return nil
	}
	return printYAML(cmd, m)
}

func runDepgraph(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dir := cfg.Repo
	if len(args) == 1 {
		dir = cfg.Path(args[0])
	} else if cfg.Graph.Src != "" {
		dir = cfg.Path(cfg.Graph.Src)
	}

	g, err := depgraph.Build(cmd.Context(), dir)
	if err != nil {
		return err
	}
	if depgraphOut != "" {
		if err := depgraph.Save(cfg.Path(depgraphOut), g); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d modules to %s\n", len(g), depgraphOut)
		return nil
	}
	return printYAML(cmd, g)
}

func printYAML(cmd *cobra.Command, v interface{}) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}
	return enc.Close()
}
