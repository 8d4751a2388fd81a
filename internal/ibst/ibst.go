// Package ibst selects the tests impacted by a set of changed files.
package ibst

import (
	"path"
	"sort"
	"strings"
)

// TestMap maps a test identifier to the base names of the files it covers.
type TestMap map[string][]string

// DependencyGraph maps a file base name to the modules it imports.
type DependencyGraph map[string][]string

// TestIDs returns every test identifier, sorted.
func (m TestMap) TestIDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CoveredFiles returns the union of all covered files in test-id order.
func (m TestMap) CoveredFiles() []string {
	var files []string
	for _, id := range m.TestIDs() {
		files = append(files, m[id]...)
	}
	return files
}

// index inverts the map: covered file -> tests covering it.
func (m TestMap) index() map[string][]string {
	idx := make(map[string][]string)
	for test, covered := range m {
		for _, f := range covered {
			idx[f] = append(idx[f], test)
		}
	}
	return idx
}

func baseName(p string) string {
	return path.Base(strings.ReplaceAll(p, `\`, "/"))
}

// Select returns the sorted set of tests whose covered files include the
// base name of any changed file. The graph is accepted but not consulted.
func Select(changed []string, _ DependencyGraph, tests TestMap) []string {
	idx := tests.index()
	selected := make(map[string]struct{})
	for _, f := range changed {
		for _, test := range idx[baseName(f)] {
			selected[test] = struct{}{}
		}
	}
	return sortedSet(selected)
}

func sortedSet(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
