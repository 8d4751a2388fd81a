// Package testmap builds and loads the test coverage map.
package testmap

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"hybridci/internal/ibst"
)

// DefaultPattern matches Python test modules anywhere under the root.
const DefaultPattern = "**/test_*.py"

// Generate maps every file under root matching pattern to the source file
// it is assumed to cover. Test IDs are slash-separated paths relative to
// root.
func Generate(root, pattern string) (ibst.TestMap, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid test pattern %q", pattern)
	}

	m := make(ibst.TestMap)
	err := doublestar.GlobWalk(os.DirFS(root), pattern, func(p string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		if covered := CoveredName(path.Base(p)); covered != "" {
			m[p] = []string{covered}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning tests in %s: %w", root, err)
	}
	return m, nil
}

// CoveredName strips test affixes from a test file name:
// test_x.py, x_test.go, x.test.ts, x.spec.js and XTest.java map to the
// corresponding source name. It returns "" when no affix is present.
func CoveredName(name string) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	switch {
	case strings.HasPrefix(stem, "test_") && len(stem) > len("test_"):
		return strings.TrimPrefix(stem, "test_") + ext
	case strings.HasSuffix(stem, "_test") && len(stem) > len("_test"):
		return strings.TrimSuffix(stem, "_test") + ext
	case strings.HasSuffix(stem, ".test") && len(stem) > len(".test"):
		return strings.TrimSuffix(stem, ".test") + ext
	case strings.HasSuffix(stem, ".spec") && len(stem) > len(".spec"):
		return strings.TrimSuffix(stem, ".spec") + ext
	case strings.HasSuffix(stem, "Test") && len(stem) > len("Test"):
		return strings.TrimSuffix(stem, "Test") + ext
	}
	return ""
}

// Load reads a test map from a YAML or JSON file.
func Load(p string) (ibst.TestMap, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading test map: %w", err)
	}
	var m ibst.TestMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing test map %s: %w", p, err)
	}
	if m == nil {
		m = ibst.TestMap{}
	}
	return m, nil
}

// Save writes m as YAML.
func Save(p string, m ibst.TestMap) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling test map: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("writing test map: %w", err)
	}
	return nil
}
