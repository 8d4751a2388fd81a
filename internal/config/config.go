// Package config loads HybridCI settings from defaults, a YAML file in the
// repository and HYBRIDCI_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the repository root.
const FileName = ".hybridci.yaml"

// EnvPrefix prefixes environment overrides: run.workers is read from
// HYBRIDCI_RUN_WORKERS.
const EnvPrefix = "HYBRIDCI"

// Config is the complete HybridCI configuration.
type Config struct {
	Repo      string          `mapstructure:"repo"`
	Cache     CacheConfig     `mapstructure:"cache"`
	History   HistoryConfig   `mapstructure:"history"`
	VCS       VCSConfig       `mapstructure:"vcs"`
	Tests     TestsConfig     `mapstructure:"tests"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Selection SelectionConfig `mapstructure:"selection"`
	Run       RunConfig       `mapstructure:"run"`
	Serve     ServeConfig     `mapstructure:"serve"`
	Log       LogConfig       `mapstructure:"log"`
}

type CacheConfig struct {
	Dir      string `mapstructure:"dir"`
	Backend  string `mapstructure:"backend"`
	Compress bool   `mapstructure:"compress"`
}

type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

type VCSConfig struct {
	// Backend is "git" (the git executable) or "go-git".
	Backend           string        `mapstructure:"backend"`
	FallbackExtension string        `mapstructure:"fallback_extension"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// TestsConfig locates the test map. Map, when set, names a YAML or JSON
// file; otherwise the map is generated from Dir using Pattern.
type TestsConfig struct {
	Map     string `mapstructure:"map"`
	Dir     string `mapstructure:"dir"`
	Pattern string `mapstructure:"pattern"`
}

// GraphConfig locates the dependency graph: a file at Path, or built from
// the Python sources under Src. Both empty means no graph.
type GraphConfig struct {
	Path string `mapstructure:"path"`
	Src  string `mapstructure:"src"`
}

type SelectionConfig struct {
	Depth int `mapstructure:"depth"`
}

type RunConfig struct {
	LanguageAware bool          `mapstructure:"language_aware"`
	Workers       int           `mapstructure:"workers"`
	PerTest       time.Duration `mapstructure:"per_test"`
	// Command, when set, runs a real test runner instead of the simulated
	// one; selected test IDs are appended as arguments.
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ServeConfig struct {
	Listen string `mapstructure:"listen"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper, repoRoot string) {
	v.SetDefault("repo", repoRoot)
	v.SetDefault("cache.dir", ".hybridci/cache")
	v.SetDefault("cache.backend", "dir")
	v.SetDefault("cache.compress", false)
	v.SetDefault("history.path", ".hybridci/history.db")
	v.SetDefault("vcs.backend", "git")
	v.SetDefault("vcs.fallback_extension", ".py")
	v.SetDefault("vcs.timeout", 10*time.Second)
	v.SetDefault("tests.map", "")
	v.SetDefault("tests.dir", "tests")
	v.SetDefault("tests.pattern", "**/test_*.py")
	v.SetDefault("graph.path", "")
	v.SetDefault("graph.src", "")
	v.SetDefault("selection.depth", 0)
	v.SetDefault("run.language_aware", false)
	v.SetDefault("run.workers", 4)
	v.SetDefault("run.per_test", 500*time.Millisecond)
	v.SetDefault("run.command", "")
	v.SetDefault("run.timeout", time.Duration(0))
	v.SetDefault("serve.listen", ":8080")
	v.SetDefault("log.level", "warn")
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default(repoRoot string) *Config {
	v := viper.New()
	setDefaults(v, repoRoot)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

// Load reads configuration for the repository at repoRoot. When file is
// empty, FileName in repoRoot is used if it exists; an explicit file must
// exist.
func Load(repoRoot, file string) (*Config, error) {
	v := viper.New()
	setDefaults(v, repoRoot)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(repoRoot)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated and numeric settings.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "dir", "sqlite":
	default:
		return &Error{Field: "cache.backend", Message: fmt.Sprintf("unknown backend %q", c.Cache.Backend)}
	}
	switch c.VCS.Backend {
	case "git", "go-git":
	default:
		return &Error{Field: "vcs.backend", Message: fmt.Sprintf("unknown backend %q", c.VCS.Backend)}
	}
	if c.Run.Workers < 0 {
		return &Error{Field: "run.workers", Message: "must not be negative"}
	}
	if c.Run.PerTest < 0 {
		return &Error{Field: "run.per_test", Message: "must not be negative"}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return &Error{Field: "log.level", Message: err.Error()}
	}
	return nil
}

// Path resolves p against the repository root unless it is absolute.
// An empty p stays empty.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Repo, p)
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, err
	}
	return level, nil
}

// Error reports an invalid setting.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
