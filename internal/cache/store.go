// Package cache persists test selection results keyed by the set of
// changed files, in a flat namespace and a per-language namespace.
package cache

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"hybridci/internal/lang"
)

const (
	nsFlat    = "flat"
	nsLang    = "lang"
	nsLangMap = "langmap"
)

// Entry is a cached selection result.
type Entry struct {
	Tests    []string `json:"tests"`
	Time     float64  `json:"time"`
	Language lang.Tag `json:"language,omitempty"`
}

// Stats summarizes the contents of a store.
type Stats struct {
	TotalEntries         int              `json:"total_entries"`
	TotalLanguageEntries int              `json:"total_language_entries"`
	Languages            map[lang.Tag]int `json:"languages"`
}

// BackendKind selects the storage backend.
type BackendKind string

const (
	BackendDir    BackendKind = "dir"
	BackendSQLite BackendKind = "sqlite"
)

// Options configures Open.
type Options struct {
	Dir      string
	Backend  BackendKind
	Compress bool
	Logger   *slog.Logger
}

// Store reads and writes cache entries through a Backend.
type Store struct {
	backend  Backend
	compress bool
	log      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCompression zstd-compresses records on write.
func WithCompression(on bool) Option {
	return func(s *Store) { s.compress = on }
}

// WithLogger sets the logger used for cache diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New wraps an existing backend.
func New(b Backend, opts ...Option) *Store {
	s := &Store{
		backend: b,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a store rooted at opts.Dir.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("cache directory not set")
	}

	var (
		b   Backend
		err error
	)
	switch opts.Backend {
	case "", BackendDir:
		b, err = NewDirBackend(opts.Dir)
	case BackendSQLite:
		b, err = OpenSQLite(filepath.Join(opts.Dir, "cache.db"))
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return New(b, WithCompression(opts.Compress), WithLogger(opts.Logger)), nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func langName(key string, tag lang.Tag) string {
	return key + "_" + string(tag)
}

// Load returns the flat entry for key, or nil if absent.
func (s *Store) Load(key string) (*Entry, error) {
	return s.get(nsFlat, key)
}

// Save writes the flat entry for key, replacing any previous one.
func (s *Store) Save(key string, e Entry) error {
	e.Language = ""
	return s.put(nsFlat, key, e)
}

// LoadLang returns the entry for key restricted to one language, or nil if
// absent.
func (s *Store) LoadLang(key string, tag lang.Tag) (*Entry, error) {
	return s.get(nsLang, langName(key, tag))
}

// SaveLang writes the per-language entry for key.
func (s *Store) SaveLang(key string, e Entry, tag lang.Tag) error {
	e.Language = tag
	return s.put(nsLang, langName(key, tag), e)
}

// SaveLanguageMap records which files of a change set belong to which
// language.
func (s *Store) SaveLanguageMap(key string, m lang.Map) error {
	data, err := encode(m, s.compress)
	if err != nil {
		return err
	}
	if err := s.backend.Put(nsLangMap, key, data); err != nil {
		return fmt.Errorf("saving language map %s: %w", key, err)
	}
	return nil
}

// LoadLanguageMap returns the language map saved for key, or nil if absent.
func (s *Store) LoadLanguageMap(key string) (lang.Map, error) {
	data, err := s.backend.Get(nsLangMap, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading language map %s: %w", key, err)
	}
	var m lang.Map
	if err := decode(data, &m); err != nil {
		return nil, fmt.Errorf("loading language map %s: %w", key, err)
	}
	return m, nil
}

// Stats counts entries by enumerating the backend.
func (s *Store) Stats() (Stats, error) {
	stats := Stats{Languages: make(map[lang.Tag]int)}

	flat, err := s.backend.List(nsFlat)
	if err != nil {
		return stats, fmt.Errorf("listing entries: %w", err)
	}
	stats.TotalEntries = len(flat)

	names, err := s.backend.List(nsLang)
	if err != nil {
		return stats, fmt.Errorf("listing language entries: %w", err)
	}
	for _, name := range names {
		i := strings.LastIndexByte(name, '_')
		if i < 0 {
			continue
		}
		stats.TotalLanguageEntries++
		stats.Languages[lang.Tag(name[i+1:])]++
	}
	return stats, nil
}

// Clear removes every entry from every namespace.
func (s *Store) Clear() error {
	if err := s.backend.Clear(); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}

func (s *Store) get(ns, name string) (*Entry, error) {
	data, err := s.backend.Get(ns, name)
	if errors.Is(err, ErrNotFound) {
		s.log.Debug("cache miss", "ns", ns, "name", name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", ns, name, err)
	}
	var e Entry
	if err := decode(data, &e); err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", ns, name, err)
	}
	s.log.Debug("cache hit", "ns", ns, "name", name, "tests", len(e.Tests))
	return &e, nil
}

func (s *Store) put(ns, name string, e Entry) error {
	data, err := encode(e, s.compress)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ns, name, data); err != nil {
		return fmt.Errorf("saving %s/%s: %w", ns, name, err)
	}
	return nil
}
