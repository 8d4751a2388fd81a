package changes

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"hybridci/internal/lang"
)

// DefaultFallbackExtension narrows the last-commit fallback to one language.
const DefaultFallbackExtension = ".py"

// Detector resolves the changed-file set through a three-tier fallback:
// diff against the parent revision, then the files of the last commit
// filtered to the fallback extension, then every tracked file.
type Detector struct {
	src         Source
	fallbackExt string
	log         *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithFallbackExtension sets the extension kept by the last-commit tier.
func WithFallbackExtension(ext string) Option {
	return func(d *Detector) {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		d.fallbackExt = ext
	}
}

// WithLogger sets the logger used to report the tier taken.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDetector returns a Detector over src.
func NewDetector(src Source, opts ...Option) *Detector {
	d := &Detector{
		src:         src,
		fallbackExt: DefaultFallbackExtension,
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns the changed files. Classified source errors select the
// next tier; unclassified errors and errors from the last tier propagate.
func (d *Detector) Detect(ctx context.Context) ([]string, error) {
	files, err := d.src.DiffAgainstParent(ctx)
	if err == nil && len(files) > 0 {
		d.log.Debug("changes from parent diff", "files", len(files))
		return files, nil
	}
	if err != nil {
		kind, ok := KindOf(err)
		if !ok {
			return nil, fmt.Errorf("detecting changes: %w", err)
		}
		if kind != NoHistory {
			d.log.Debug("parent diff failed, using tracked files", "err", err)
			return d.tracked(ctx)
		}
	}

	last, err := d.src.LastCommitFiles(ctx)
	if err != nil {
		if _, ok := KindOf(err); !ok {
			return nil, fmt.Errorf("detecting changes: %w", err)
		}
		d.log.Debug("last commit query failed, using tracked files", "err", err)
		return d.tracked(ctx)
	}
	filtered := d.filter(last)
	d.log.Debug("changes from last commit", "files", len(filtered), "ext", d.fallbackExt)
	return filtered, nil
}

func (d *Detector) tracked(ctx context.Context) ([]string, error) {
	files, err := d.src.TrackedFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting changes: %w", err)
	}
	d.log.Debug("changes from tracked files", "files", len(files))
	return files, nil
}

func (d *Detector) filter(files []string) []string {
	if d.fallbackExt == "" {
		return files
	}
	kept := []string{}
	for _, f := range files {
		if strings.EqualFold(path.Ext(f), d.fallbackExt) {
			kept = append(kept, f)
		}
	}
	return kept
}

// ByLanguage detects changes and partitions them by language.
func (d *Detector) ByLanguage(ctx context.Context) (lang.Map, []string, error) {
	files, err := d.Detect(ctx)
	if err != nil {
		return nil, nil, err
	}
	return lang.Partition(files), files, nil
}
