// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gamepulse/harvester/internal/harvest"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig                    `mapstructure:"logging"`
	DB       DBConfig                         `mapstructure:"db"`
	API      APIConfig                        `mapstructure:"api"`
	Harvest  HarvestConfig                    `mapstructure:"harvest"`
	Forum    ForumConfig                      `mapstructure:"forum"`
	Server   ServerConfig                     `mapstructure:"server"`
	Channels map[string]harvest.ChannelSource `mapstructure:"channels"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// APIConfig governs the upstream API client and its credential pool.
type APIConfig struct {
	Keys             []string `mapstructure:"keys"`
	MaxResults       int64    `mapstructure:"max_results"`
	Retries          int      `mapstructure:"retries"`
	BackoffMs        int      `mapstructure:"backoff_ms"`
	GlobalBackoffMin int      `mapstructure:"global_backoff_minutes"`
	MaxInflight      int64    `mapstructure:"max_inflight"`
}

// HarvestConfig governs the comment fetch pipeline.
type HarvestConfig struct {
	CutoffDate    string   `mapstructure:"cutoff_date"`
	Keywords      []string `mapstructure:"keywords"`
	Concurrency   int      `mapstructure:"concurrency"`
	RetentionDays int      `mapstructure:"retention_days"`
	CachePath     string   `mapstructure:"cache_path"`
	CacheCapacity int      `mapstructure:"cache_capacity"`
}

// ForumConfig governs the forum crawl.
type ForumConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	AllowedDomains []string `mapstructure:"allowed_domains"`
	UserAgent      string   `mapstructure:"user_agent"`
	Concurrency    int      `mapstructure:"concurrency"`
	DelaySeconds   int      `mapstructure:"delay_seconds"`
	MaxDepth       int      `mapstructure:"max_depth"`
	SubforumPaths  []string `mapstructure:"subforum_paths"`
	DenyForums     []string `mapstructure:"deny_forums"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("api.max_results", 100)
	v.SetDefault("api.retries", 5)
	v.SetDefault("api.backoff_ms", 200)
	v.SetDefault("api.global_backoff_minutes", 10)
	v.SetDefault("api.max_inflight", 5)
	v.SetDefault("harvest.cutoff_date", "2018-08-14")
	v.SetDefault("harvest.concurrency", 4)
	v.SetDefault("harvest.retention_days", 30)
	v.SetDefault("harvest.cache_path", "metadata_cache.json")
	v.SetDefault("harvest.cache_capacity", 4096)
	v.SetDefault("forum.concurrency", 2)
	v.SetDefault("forum.delay_seconds", 1)
	v.SetDefault("forum.max_depth", 6)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.API.MaxResults <= 0 || c.API.MaxResults > 100 {
		return fmt.Errorf("api.max_results must be in (0, 100]")
	}
	if c.Harvest.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be > 0")
	}
	if _, err := c.CutoffDate(); err != nil {
		return err
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	for name, src := range c.Channels {
		if src.ChannelID == "" {
			return fmt.Errorf("channel %q is missing channel_id", name)
		}
	}
	return nil
}

// CutoffDate parses the harvest cutoff into a UTC time.
func (c Config) CutoffDate() (time.Time, error) {
	t, err := time.Parse("2006-01-02", c.Harvest.CutoffDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("harvest.cutoff_date must be YYYY-MM-DD: %w", err)
	}
	return t.UTC(), nil
}

// BackoffBase converts the API backoff knob into a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.API.BackoffMs) * time.Millisecond
}

// GlobalBackoff converts the pool-exhaustion bench window into a duration.
func (c Config) GlobalBackoff() time.Duration {
	return time.Duration(c.API.GlobalBackoffMin) * time.Minute
}

// MaxConnLifetime converts the pool lifetime knob into a duration.
func (c Config) MaxConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeMin) * time.Minute
}

// ForumDelay converts the forum politeness delay into a duration.
func (c Config) ForumDelay() time.Duration {
	return time.Duration(c.Forum.DelaySeconds) * time.Second
}
