package lang

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

var configFileNames = map[string]bool{
	"package.json":     true,
	"pyproject.toml":   true,
	"requirements.txt": true,
	"pom.xml":          true,
	"build.gradle":     true,
}

var sharedPathMarkers = []string{"utils", "common", "shared", "helpers"}

// Impact is a heuristic assessment of how widely a file change may reach.
type Impact struct {
	Language        Tag    `json:"language"`
	Filename        string `json:"filename"`
	IsTest          bool   `json:"is_test"`
	IsConfig        bool   `json:"is_config"`
	IsShared        bool   `json:"is_shared"`
	EstimatedImpact string `json:"estimated_impact"`
}

// AnalyzeImpact classifies a single changed file.
func AnalyzeImpact(filePath string) Impact {
	name := baseName(filePath)
	lowerName := strings.ToLower(name)
	lowerPath := strings.ToLower(filePath)

	impact := Impact{
		Language: Classify(filePath),
		Filename: name,
		IsTest:   strings.Contains(lowerName, "test"),
		IsConfig: configFileNames[name],
	}
	for _, marker := range sharedPathMarkers {
		if strings.Contains(lowerPath, marker) {
			impact.IsShared = true
			break
		}
	}

	impact.EstimatedImpact = "low"
	if impact.IsTest || impact.IsConfig || strings.Contains(lowerPath, "utils") {
		impact.EstimatedImpact = "high"
	}
	return impact
}

var testRunners = map[Tag][]string{
	Python:     {"pytest", "unittest", "nose"},
	JavaScript: {"jest", "mocha", "jasmine"},
	TypeScript: {"jest", "mocha", "vitest"},
	Java:       {"junit", "testng"},
	CSharp:     {"nunit", "xunit", "mstest"},
	Go:         {"testing", "testify"},
	Rust:       {"cargo test"},
	Ruby:       {"rspec", "minitest"},
	PHP:        {"phpunit", "pest"},
}

// TestRunners returns the recommended test runners for a language.
func TestRunners(tag Tag) []string {
	return append([]string(nil), testRunners[tag]...)
}

const reportRule = "========================================"

// FormatReport renders a per-language test count breakdown as a fixed-width
// table, largest share first.
func FormatReport(breakdown map[Tag]int) string {
	tags := make([]Tag, 0, len(breakdown))
	total := 0
	for tag, count := range breakdown {
		tags = append(tags, tag)
		total += count
	}
	sort.Slice(tags, func(i, j int) bool {
		if breakdown[tags[i]] != breakdown[tags[j]] {
			return breakdown[tags[i]] > breakdown[tags[j]]
		}
		return tags[i] < tags[j]
	})

	var b strings.Builder
	b.WriteString("Language-Aware Test Execution Report\n")
	b.WriteString(reportRule + "\n")
	for _, tag := range tags {
		count := breakdown[tag]
		pct := 0.0
		if total > 0 {
			pct = float64(count) / float64(total) * 100
		}
		fmt.Fprintf(&b, "%-15s %3d tests (%5.1f%%)\n", tag, count, pct)
	}
	b.WriteString(reportRule + "\n")
	fmt.Fprintf(&b, "%-15s %3d tests\n", "Total", total)
	return b.String()
}

// Stats summarizes the language distribution of a source tree.
type Stats struct {
	TotalFiles int              `json:"total_files"`
	ByLanguage map[Tag][]string `json:"by_language"`
}

// ProjectStats walks root and groups every known-language file by tag.
// Dot-prefixed directories are skipped. Paths are relative to root.
func ProjectStats(root string) (Stats, error) {
	stats := Stats{ByLanguage: make(map[Tag][]string)}

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		tag := Classify(p)
		if tag == Unknown {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		stats.TotalFiles++
		stats.ByLanguage[tag] = append(stats.ByLanguage[tag], filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("scanning %s: %w", root, err)
	}
	return stats, nil
}
