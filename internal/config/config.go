// Package config loads and validates the service configuration from a yaml
// file, with environment-variable overrides for secrets and deploy-time
// settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultClientTimeout  = 30 * time.Second
	defaultSyncInterval   = 30 * time.Minute
	defaultRecordDelay    = 500 * time.Millisecond
	defaultPageSize       = 100
	defaultMaxPages       = 500
	defaultServerAddress  = ":8070"
)

// Config is the root configuration for all propsync binaries.
type Config struct {
	Debug    bool           `yaml:"debug"` // controls log level and format
	Server   ServerConfig   `yaml:"server"`
	Source   SourceConfig   `yaml:"source"`
	Staging  StagingConfig  `yaml:"staging"`
	CMS      CMSConfig      `yaml:"cms"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Sync     SyncConfig     `yaml:"sync"`
}

// ServerConfig configures the operational API server.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins"`
}

// SourceConfig configures the listings-provider client.
type SourceConfig struct {
	BaseURL  string        `yaml:"base_url"`
	ClientID string        `yaml:"client_id"`
	ServerID string        `yaml:"server_id"`
	APIKey   string        `yaml:"api_key"` // env SOURCE_API_KEY preferred
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
}

// StagingConfig configures the tabular staging-store client.
type StagingConfig struct {
	BaseURL         string        `yaml:"base_url"`
	BaseID          string        `yaml:"base_id"`
	Token           string        `yaml:"token"` // env STAGING_TOKEN preferred
	PropertiesTable string        `yaml:"properties_table"`
	AgentsTable     string        `yaml:"agents_table"`
	Timeout         time.Duration `yaml:"timeout"`
}

// CMSConfig configures the publishing-target client. Collections maps a
// collection kind name (property, agent, location, legal, files_links,
// layout_inside, layout_outside, comfort, facility, environment, project)
// to the target system's collection id.
type CMSConfig struct {
	BaseURL     string            `yaml:"base_url"`
	Token       string            `yaml:"token"` // env CMS_TOKEN preferred
	SiteID      string            `yaml:"site_id"`
	Collections map[string]string `yaml:"collections"`
	Timeout     time.Duration     `yaml:"timeout"`
}

// RedisConfig configures the run-metrics store.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig configures the optional run-history database.
type PostgresConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname"`
	SSLMode      string `yaml:"sslmode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// SyncConfig configures the reconciliation pass.
type SyncConfig struct {
	Interval    time.Duration `yaml:"interval"`
	RecordDelay time.Duration `yaml:"record_delay"` // pause between records
	PageSize    int           `yaml:"page_size"`
	MaxPages    int           `yaml:"max_pages"` // iteration ceiling
	TargetCount int           `yaml:"target_count"`
	StartOffset int           `yaml:"start_offset"`
	PriorityIDs []int         `yaml:"priority_ids"` // processed first, no eligibility bypass
}

// Validate checks the configuration and returns a descriptive error for the
// first problem found.
func (c *Config) Validate() error {
	if c.Source.BaseURL == "" {
		return errors.New("source.base_url is required")
	}
	if c.Source.APIKey == "" {
		return errors.New("source.api_key is required (set SOURCE_API_KEY)")
	}
	if c.Staging.BaseURL == "" {
		return errors.New("staging.base_url is required")
	}
	if c.Staging.Token == "" {
		return errors.New("staging.token is required (set STAGING_TOKEN)")
	}
	if c.CMS.BaseURL == "" {
		return errors.New("cms.base_url is required")
	}
	if c.CMS.Token == "" {
		return errors.New("cms.token is required (set CMS_TOKEN)")
	}
	if len(c.CMS.Collections) == 0 {
		return errors.New("cms.collections is required")
	}
	if _, ok := c.CMS.Collections["property"]; !ok {
		return errors.New("cms.collections.property is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %v", c.Sync.Interval)
	}
	if c.Sync.PageSize <= 0 || c.Sync.PageSize > defaultPageSize {
		return fmt.Errorf("sync.page_size must be in (0,%d], got %d", defaultPageSize, c.Sync.PageSize)
	}
	if c.Postgres.Enabled && c.Postgres.Host == "" {
		return errors.New("postgres.host is required when postgres.enabled is true")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultServerAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = defaultClientTimeout
	}
	if cfg.Source.Language == "" {
		cfg.Source.Language = "nl"
	}
	if cfg.Staging.Timeout == 0 {
		cfg.Staging.Timeout = defaultClientTimeout
	}
	if cfg.Staging.PropertiesTable == "" {
		cfg.Staging.PropertiesTable = "Properties"
	}
	if cfg.Staging.AgentsTable == "" {
		cfg.Staging.AgentsTable = "Agents"
	}
	if cfg.CMS.Timeout == 0 {
		cfg.CMS.Timeout = defaultClientTimeout
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = defaultSyncInterval
	}
	if cfg.Sync.RecordDelay == 0 {
		cfg.Sync.RecordDelay = defaultRecordDelay
	}
	if cfg.Sync.PageSize == 0 {
		cfg.Sync.PageSize = defaultPageSize
	}
	if cfg.Sync.MaxPages == 0 {
		cfg.Sync.MaxPages = defaultMaxPages
	}
	if cfg.Postgres.Port == "" {
		cfg.Postgres.Port = "5432"
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
}

func overrideWithEnvVars(cfg *Config) {
	if v := os.Getenv("SOURCE_API_KEY"); v != "" {
		cfg.Source.APIKey = v
	}
	if v := os.Getenv("SOURCE_CLIENT_ID"); v != "" {
		cfg.Source.ClientID = v
	}
	if v := os.Getenv("SOURCE_SERVER_ID"); v != "" {
		cfg.Source.ServerID = v
	}
	if v := os.Getenv("STAGING_TOKEN"); v != "" {
		cfg.Staging.Token = v
	}
	if v := os.Getenv("CMS_TOKEN"); v != "" {
		cfg.CMS.Token = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("APP_DEBUG"); v != "" {
		cfg.Debug = parseBool(v)
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			cfg.Server.Address = ":" + v
		}
	}
}

// Load reads, defaults, env-overrides, and validates the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)
	overrideWithEnvVars(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// parseBool accepts the common truthy strings "true", "1", "yes".
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
