// Package config loads conductor configuration from a YAML file with
// environment variable overrides.
//
// Precedence, later wins: built-in defaults, config file
// (.conductor/config.yaml or ~/.conductor/config.yaml), CONDUCTOR_*
// environment variables (CONDUCTOR_DATABASE_DSN, CONDUCTOR_GITHUB_TOKEN, ...).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cswenor/conductor/internal/db/driver"
)

// DatabaseConfig selects the backing store.
type DatabaseConfig struct {
	// Dialect is "sqlite" or "postgres".
	Dialect string `mapstructure:"dialect" yaml:"dialect"`
	// DSN is a file path for sqlite, a connection string for postgres.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// OrchestratorConfig tunes the decision loop.
type OrchestratorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// OutboxConfig tunes the GitHub write pipeline.
type OutboxConfig struct {
	MaxRetries   int64         `mapstructure:"max_retries" yaml:"max_retries"`
	BackoffBase  time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	StallAfter   time.Duration `mapstructure:"stall_after" yaml:"stall_after"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
}

// GitHubConfig holds API credentials.
type GitHubConfig struct {
	Token string `mapstructure:"token" yaml:"token"`
	// BaseURL points at a GitHub Enterprise instance when set.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// Config is the full conductor configuration.
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Outbox       OutboxConfig       `mapstructure:"outbox" yaml:"outbox"`
	GitHub       GitHubConfig       `mapstructure:"github" yaml:"github"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Dialect: string(driver.DialectSQLite),
			DSN:     ".conductor/conductor.db",
		},
		Orchestrator: OrchestratorConfig{
			PollInterval: 2 * time.Second,
		},
		Outbox: OutboxConfig{
			MaxRetries:   5,
			BackoffBase:  time.Second,
			StallAfter:   5 * time.Minute,
			PollInterval: time.Second,
			BatchSize:    20,
		},
		GitHub: GitHubConfig{},
	}
}

// Load reads configuration from cfgFile (or the default search paths when
// empty) and applies CONDUCTOR_* environment overrides. A missing config
// file is not an error; the defaults apply.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".conductor")
		v.AddConfigPath("$HOME/.conductor")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment variables bind even when
// the config file never mentions them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.dialect", d.Database.Dialect)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("orchestrator.poll_interval", d.Orchestrator.PollInterval)
	v.SetDefault("outbox.max_retries", d.Outbox.MaxRetries)
	v.SetDefault("outbox.backoff_base", d.Outbox.BackoffBase)
	v.SetDefault("outbox.stall_after", d.Outbox.StallAfter)
	v.SetDefault("outbox.poll_interval", d.Outbox.PollInterval)
	v.SetDefault("outbox.batch_size", d.Outbox.BatchSize)
	v.SetDefault("github.token", d.GitHub.Token)
	v.SetDefault("github.base_url", d.GitHub.BaseURL)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if _, err := driver.ParseDialect(c.Database.Dialect); err != nil {
		return fmt.Errorf("database.dialect: %w", err)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Outbox.MaxRetries < 0 {
		return fmt.Errorf("outbox.max_retries must be >= 0")
	}
	if c.Orchestrator.PollInterval <= 0 {
		return fmt.Errorf("orchestrator.poll_interval must be positive")
	}
	return nil
}

// Dialect returns the parsed database dialect. Call Validate first.
func (c *Config) Dialect() driver.Dialect {
	d, _ := driver.ParseDialect(c.Database.Dialect)
	return d
}

// Dump renders the effective configuration as YAML with the GitHub token
// masked.
func (c *Config) Dump() (string, error) {
	out := *c
	if out.GitHub.Token != "" {
		out.GitHub.Token = "***"
	}
	b, err := yaml.Marshal(&out)
	if err != nil {
		return "", fmt.Errorf("render config: %w", err)
	}
	return string(b), nil
}
