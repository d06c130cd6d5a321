// Package config loads the forgesync configuration from a YAML file and
// FORGESYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/Sternrassler/forge-sync/pkg/logging"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FORGESYNC_GITHUB_TOKEN.
const EnvPrefix = "FORGESYNC"

// Config holds all application configuration
type Config struct {
	GitHub  GitHubConfig  `mapstructure:"github"`
	Jira    JiraConfig    `mapstructure:"jira"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Store   StoreConfig   `mapstructure:"store"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// GitHubConfig configures the GitHub upstream.
type GitHubConfig struct {
	Token             string  `mapstructure:"token"`
	Owner             string  `mapstructure:"owner"`
	Repo              string  `mapstructure:"repo"`
	BaseURL           string  `mapstructure:"base_url"`
	UserAgent         string  `mapstructure:"user_agent"`
	Retries           int     `mapstructure:"retries"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// JiraConfig configures the optional Jira upstream. Jira is synced only
// when URL is set.
type JiraConfig struct {
	URL     string `mapstructure:"url"`
	User    string `mapstructure:"user"`
	Token   string `mapstructure:"token"`
	JQL     string `mapstructure:"jql"`
	Retries int    `mapstructure:"retries"`

	// Timezone of the Jira user profile, an IANA name. JQL date literals
	// are read in it.
	Timezone string `mapstructure:"timezone"`
}

// Enabled reports whether Jira is configured.
func (j JiraConfig) Enabled() bool {
	return j.URL != ""
}

// Location resolves Timezone. An empty Timezone is UTC.
func (j JiraConfig) Location() (*time.Location, error) {
	if j.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(j.Timezone)
}

// RedisConfig configures the shared rate limit state and HTTP cache.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// StoreConfig configures the local document store.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// SyncConfig selects what is synced.
type SyncConfig struct {
	// Resources limits the run to these resources; empty syncs all.
	Resources []string `mapstructure:"resources"`
	MaxPages  int      `mapstructure:"max_pages"`

	// Full ignores the last sync time and fetches everything.
	Full bool `mapstructure:"full"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		GitHub: GitHubConfig{
			BaseURL:           "https://api.github.com/",
			UserAgent:         "forgesync/1.0",
			Retries:           5,
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Jira: JiraConfig{
			Retries:  3,
			Timezone: "UTC",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			CacheTTL: 24 * time.Hour,
		},
		Store: StoreConfig{
			Path: defaultStorePath(),
		},
		Sync: SyncConfig{
			MaxPages: 1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultStorePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "forgesync.db"
	}
	return filepath.Join(dir, "forgesync", "forgesync.db")
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "forgesync")
}

// setDefaults registers every key so environment overrides apply even when
// the key is missing from the file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("github.token", cfg.GitHub.Token)
	v.SetDefault("github.owner", cfg.GitHub.Owner)
	v.SetDefault("github.repo", cfg.GitHub.Repo)
	v.SetDefault("github.base_url", cfg.GitHub.BaseURL)
	v.SetDefault("github.user_agent", cfg.GitHub.UserAgent)
	v.SetDefault("github.retries", cfg.GitHub.Retries)
	v.SetDefault("github.requests_per_second", cfg.GitHub.RequestsPerSecond)
	v.SetDefault("github.burst", cfg.GitHub.Burst)

	v.SetDefault("jira.url", cfg.Jira.URL)
	v.SetDefault("jira.user", cfg.Jira.User)
	v.SetDefault("jira.token", cfg.Jira.Token)
	v.SetDefault("jira.jql", cfg.Jira.JQL)
	v.SetDefault("jira.retries", cfg.Jira.Retries)
	v.SetDefault("jira.timezone", cfg.Jira.Timezone)

	v.SetDefault("redis.enabled", cfg.Redis.Enabled)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.cache_ttl", cfg.Redis.CacheTTL)

	v.SetDefault("store.path", cfg.Store.Path)

	v.SetDefault("sync.resources", cfg.Sync.Resources)
	v.SetDefault("sync.max_pages", cfg.Sync.MaxPages)
	v.SetDefault("sync.full", cfg.Sync.Full)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)

	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
}

// Load reads configuration from path, or from forgesync.yaml in the
// working directory or the user config directory when path is empty.
// A missing default file is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("forgesync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultConfigPath())
	}

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("github.token", EnvPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.GitHub.Owner == "" {
		errs = append(errs, errors.New("github.owner is required"))
	}
	if c.GitHub.Repo == "" {
		errs = append(errs, errors.New("github.repo is required"))
	}
	if c.GitHub.UserAgent == "" {
		errs = append(errs, errors.New("github.user_agent is required"))
	}
	if c.GitHub.Retries < 0 {
		errs = append(errs, fmt.Errorf("github.retries must be >= 0 (got %d)", c.GitHub.Retries))
	}
	if c.GitHub.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("github.requests_per_second must be >= 0 (got %v)", c.GitHub.RequestsPerSecond))
	}

	if c.Jira.Enabled() {
		if c.Jira.JQL == "" {
			errs = append(errs, errors.New("jira.jql is required when jira.url is set"))
		}
		if c.Jira.Retries < 0 {
			errs = append(errs, fmt.Errorf("jira.retries must be >= 0 (got %d)", c.Jira.Retries))
		}
		if _, err := c.Jira.Location(); err != nil {
			errs = append(errs, fmt.Errorf("jira.timezone: %w", err))
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Sync.MaxPages <= 0 {
		errs = append(errs, fmt.Errorf("sync.max_pages must be > 0 (got %d)", c.Sync.MaxPages))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errors.Join(errs...)
}
