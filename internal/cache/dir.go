package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const tempPrefix = ".tmp-"

// DirBackend stores each record as a file under <base>/<ns>/<name>.
type DirBackend struct {
	base string
}

// NewDirBackend creates the base directory if needed.
func NewDirBackend(base string) (*DirBackend, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &DirBackend{base: base}, nil
}

func (b *DirBackend) path(ns, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid record name %q", name)
	}
	return filepath.Join(b.base, ns, name), nil
}

// Get reads a record.
func (b *DirBackend) Get(ns, name string) ([]byte, error) {
	p, err := b.path(ns, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return data, nil
}

// Put writes a record to a temp file in the same directory and renames it
// into place.
func (b *DirBackend) Put(ns, name string, data []byte) error {
	p, err := b.path(ns, name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating namespace directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// List returns the record names in a namespace, sorted. In-flight temp
// files are not reported.
func (b *DirBackend) List(ns string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.base, ns))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing namespace %s: %w", ns, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Clear removes every record in every namespace.
func (b *DirBackend) Clear() error {
	entries, err := os.ReadDir(b.base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading cache directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(b.base, e.Name())); err != nil {
			return fmt.Errorf("removing %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Close is a no-op.
func (b *DirBackend) Close() error {
	return nil
}
