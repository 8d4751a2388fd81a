// Package watch re-triggers selection when source files change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"hybridci/internal/lang"
)

// DefaultDebounce is the quiet period before a batch of changes fires.
const DefaultDebounce = 300 * time.Millisecond

var skippedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".hybridci":    true,
	"node_modules": true,
	"build":        true,
	"dist":         true,
	"target":       true,
	"__pycache__":  true,
	".venv":        true,
	".gradle":      true,
	".idea":        true,
	".vscode":      true,
}

// Watcher calls OnChange with the repository-relative paths of
// known-language files changed since the previous call.
type Watcher struct {
	Root     string
	Debounce time.Duration
	OnChange func(ctx context.Context, paths []string)
	Logger   *slog.Logger
}

// Run watches Root recursively until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	log := w.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err := addWatchDirs(watcher, w.Root); err != nil {
		return fmt.Errorf("watching directories: %w", err)
	}

	pending := make(map[string]struct{})
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				addIfDirectory(watcher, event.Name)
			}
			if !isRelevantChange(event) {
				continue
			}
			rel, err := filepath.Rel(w.Root, event.Name)
			if err != nil {
				rel = event.Name
			}
			pending[filepath.ToSlash(rel)] = struct{}{}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", "err", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = make(map[string]struct{})
			log.Debug("changes settled", "files", len(paths))
			w.OnChange(ctx, paths)
		}
	}
}

func isRelevantChange(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	return lang.Known(event.Name)
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skippedDirs[d.Name()] {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
}

func addIfDirectory(watcher *fsnotify.Watcher, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() || skippedDirs[info.Name()] {
		return
	}
	_ = addWatchDirs(watcher, path)
}
