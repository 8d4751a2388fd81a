package ibst

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dominikbraun/graph"

	"hybridci/internal/lang"
)

// Selector extends Select with transitive impact through the dependency
// graph. Depth is the number of import hops followed: 0 disables
// expansion, a negative value follows imports to closure.
type Selector struct {
	Depth int
}

// Select returns the sorted set of tests impacted directly or, within
// Depth import hops, through a covered file that imports a changed module.
func (s Selector) Select(changed []string, deps DependencyGraph, tests TestMap) ([]string, error) {
	if s.Depth == 0 || len(deps) == 0 {
		return Select(changed, deps, tests), nil
	}

	g, err := importGraph(deps)
	if err != nil {
		return nil, err
	}
	preds, err := g.PredecessorMap()
	if err != nil {
		return nil, fmt.Errorf("reading import graph: %w", err)
	}

	seeds := make([]string, 0, len(changed))
	for _, f := range changed {
		seeds = append(seeds, moduleStem(baseName(f)))
	}
	affected := reach(preds, seeds, s.Depth)

	selected := make(map[string]struct{})
	for _, test := range Select(changed, deps, tests) {
		selected[test] = struct{}{}
	}
	for test, covered := range tests {
		for _, f := range covered {
			if _, ok := affected[moduleStem(f)]; ok {
				selected[test] = struct{}{}
				break
			}
		}
	}
	return sortedSet(selected), nil
}

// importGraph builds a directed graph over module stems with an edge from
// each importing module to each module it imports.
func importGraph(deps DependencyGraph) (graph.Graph[string, string], error) {
	g := graph.New(graph.StringHash, graph.Directed())
	addVertex := func(v string) error {
		if err := g.AddVertex(v); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
			return fmt.Errorf("adding module %s: %w", v, err)
		}
		return nil
	}

	for file, imports := range deps {
		from := moduleStem(file)
		if from == "" {
			continue
		}
		if err := addVertex(from); err != nil {
			return nil, err
		}
		for _, imp := range imports {
			to := moduleStem(imp)
			if to == "" {
				continue
			}
			if err := addVertex(to); err != nil {
				return nil, err
			}
			if err := g.AddEdge(from, to); err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
				return nil, fmt.Errorf("adding import %s -> %s: %w", from, to, err)
			}
		}
	}
	return g, nil
}

// reach walks predecessor edges breadth-first from seeds, up to depth hops
// (unbounded when depth < 0), and returns every module visited including
// the seeds.
func reach(preds map[string]map[string]graph.Edge[string], seeds []string, depth int) map[string]struct{} {
	visited := make(map[string]struct{}, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if _, ok := visited[s]; !ok {
			visited[s] = struct{}{}
			frontier = append(frontier, s)
		}
	}

	for hop := 0; len(frontier) > 0 && (depth < 0 || hop < depth); hop++ {
		var next []string
		for _, v := range frontier {
			for importer := range preds[v] {
				if _, ok := visited[importer]; ok {
					continue
				}
				visited[importer] = struct{}{}
				next = append(next, importer)
			}
		}
		frontier = next
	}
	return visited
}

// moduleStem reduces a file name or dotted module path to its final
// component without extension: "utils.py" and "pkg.utils" both become
// "utils".
func moduleStem(name string) string {
	name = strings.TrimSpace(name)
	if lang.Known(name) {
		name = strings.TrimSuffix(name, path.Ext(name))
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}
