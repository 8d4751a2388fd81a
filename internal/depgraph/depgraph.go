// Package depgraph builds a module import graph for Python sources.
package depgraph

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
	"gopkg.in/yaml.v3"

	"hybridci/internal/ibst"
)

// Build parses every .py file under root and records the modules named in
// its plain import statements, keyed by file base name. Files sharing a
// base name have their imports merged.
func Build(ctx context.Context, root string) (ibst.DependencyGraph, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	g := make(ibst.DependencyGraph)
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
		if filepath.Ext(p) != ".py" {
			return nil
		}

		src, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		imports, err := parseImports(ctx, parser, src)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}
		name := d.Name()
		g[name] = mergeUnique(g[name], imports)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("building dependency graph: %w", err)
	}
	return g, nil
}

// ParseImports returns the module names of the import statements in a
// Python source, in source order. "from x import y" statements are not
// included.
func ParseImports(ctx context.Context, src []byte) ([]string, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	return parseImports(ctx, parser, src)
}

func parseImports(ctx context.Context, parser *sitter.Parser, src []byte) ([]string, error) {
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	imports := []string{}
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == "import_statement" {
			for i := 0; i < int(n.NamedChildCount()); i++ {
				if name := moduleName(n.NamedChild(i), src); name != "" {
					imports = append(imports, name)
				}
			}
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(tree.RootNode())
	return imports, nil
}

func moduleName(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "dotted_name", "identifier":
		return strings.TrimSpace(n.Content(src))
	case "aliased_import":
		if name := n.ChildByFieldName("name"); name != nil {
			return strings.TrimSpace(name.Content(src))
		}
	}
	return ""
}

func mergeUnique(dst, src []string) []string {
	if dst == nil {
		dst = []string{}
	}
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}

// Load reads a dependency graph from a YAML or JSON file.
func Load(p string) (ibst.DependencyGraph, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading dependency graph: %w", err)
	}
	var g ibst.DependencyGraph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing dependency graph %s: %w", p, err)
	}
	if g == nil {
		g = ibst.DependencyGraph{}
	}
	return g, nil
}

// Save writes g as YAML.
func Save(p string, g ibst.DependencyGraph) error {
	data, err := yaml.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshaling dependency graph: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("writing dependency graph: %w", err)
	}
	return nil
}
