// Package config loads the kb-host configuration file. Every field has a
// default, so a missing file is not an error; CLI flags and KB_HOST_*
// environment variables override file values.
package config

import (
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/entrhq/kbhost/pkg/fileaccess"
	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = goerr.New("invalid configuration")

// Config is the on-disk configuration.
type Config struct {
	// IndexPath is used when a request carries no filePath.
	IndexPath string `yaml:"index_path"`
	// BaseDir is used when a request carries no baseDir.
	BaseDir string `yaml:"base_dir"`

	LockTimeout     Duration `yaml:"lock_timeout"`
	MaxRequestSize  uint32   `yaml:"max_request_size"`
	MaxResponseSize uint32   `yaml:"max_response_size"`

	Log     LogConfig     `yaml:"log"`
	Migrate MigrateConfig `yaml:"migrate"`
}

// LogConfig controls where and how much the host logs.
type LogConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"` // file or stderr
	Dir    string `yaml:"dir"`
}

// MigrateConfig tunes the migrate command.
type MigrateConfig struct {
	Concurrency  int      `yaml:"concurrency"`
	Rate         float64  `yaml:"rate"` // requests per second
	FetchTimeout Duration `yaml:"fetch_timeout"`
	UserAgent    string   `yaml:"user_agent"`
}

const (
	OutputFile   = "file"
	OutputStderr = "stderr"

	EnvPrefix = "KB_HOST_"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		IndexPath:       "~/AI_KB/curated_sources.yaml",
		BaseDir:         "~/AI_KB/08_bookmarked_content",
		LockTimeout:     Duration(5 * time.Second),
		MaxRequestSize:  64 << 20,
		MaxResponseSize: 1 << 20,
		Log: LogConfig{
			Level:  "info",
			Output: OutputFile,
			Dir:    "~/.kb-host/logs",
		},
		Migrate: MigrateConfig{
			Concurrency:  4,
			Rate:         2,
			FetchTimeout: Duration(30 * time.Second),
			UserAgent:    "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
	}
}

// DefaultPath returns ~/.kb-host/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".kb-host", "config.yaml")
	}
	return filepath.Join(home, ".kb-host", "config.yaml")
}

// Load reads the file at path over the defaults. An empty path means
// DefaultPath; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	expanded, err := fileaccess.ExpandPath(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	// #nosec G304 - the config path is chosen by the local user
	data, err := os.ReadFile(expanded)
	switch {
	case os.IsNotExist(err):
		return cfg, nil
	case err != nil:
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", expanded))
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, goerr.Wrap(ErrInvalidConfig, "failed to parse config file",
			goerr.V("path", expanded), goerr.V("cause", err.Error()))
	}
	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "config file rejected", goerr.V("path", expanded))
	}
	return cfg, nil
}

// LoadEnv loads a .env file sitting next to the config file into the process
// environment without overriding variables that are already set.
func LoadEnv(configPath string) error {
	if configPath == "" {
		configPath = DefaultPath()
	}
	expanded, err := fileaccess.ExpandPath(configPath)
	if err != nil {
		return err
	}
	envFile := filepath.Join(filepath.Dir(expanded), ".env")
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return goerr.Wrap(err, "failed to load .env", goerr.V("path", envFile))
	}
	return nil
}

// Validate checks every field for a usable value.
func (c *Config) Validate() error {
	switch {
	case c.LockTimeout <= 0:
		return goerr.Wrap(ErrInvalidConfig, "lock_timeout must be positive", goerr.V("lock_timeout", c.LockTimeout.String()))
	case c.MaxRequestSize == 0:
		return goerr.Wrap(ErrInvalidConfig, "max_request_size must be positive")
	case c.MaxResponseSize == 0:
		return goerr.Wrap(ErrInvalidConfig, "max_response_size must be positive")
	case !slices.Contains(logLevels, c.Log.Level):
		return goerr.Wrap(ErrInvalidConfig, "unknown log level", goerr.V("level", c.Log.Level))
	case c.Log.Output != OutputFile && c.Log.Output != OutputStderr:
		return goerr.Wrap(ErrInvalidConfig, "log output must be file or stderr", goerr.V("output", c.Log.Output))
	case c.Migrate.Concurrency < 1:
		return goerr.Wrap(ErrInvalidConfig, "migrate.concurrency must be at least 1", goerr.V("concurrency", c.Migrate.Concurrency))
	case c.Migrate.Rate <= 0:
		return goerr.Wrap(ErrInvalidConfig, "migrate.rate must be positive", goerr.V("rate", c.Migrate.Rate))
	case c.Migrate.FetchTimeout <= 0:
		return goerr.Wrap(ErrInvalidConfig, "migrate.fetch_timeout must be positive")
	}
	return nil
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return goerr.Wrap(ErrInvalidConfig, "invalid duration", goerr.V("value", s))
	}
	*d = Duration(parsed)
	return nil
}
