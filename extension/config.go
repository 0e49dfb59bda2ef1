package extension

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/genquota"
)

// Store drivers understood by OpenStore.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
)

// Config holds the genquota extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.genquota" or "genquota" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DefaultMonthlyLimit is the limit Remaining applies (default: 100).
	DefaultMonthlyLimit int64 `json:"default_monthly_limit" mapstructure:"default_monthly_limit" yaml:"default_monthly_limit"`

	// CreateRaceRetries is how often the increment is retried after losing
	// the race to create a month's document (default: 1, max: 3).
	CreateRaceRetries int `json:"create_race_retries" mapstructure:"create_race_retries" yaml:"create_race_retries"`

	// HookTimeout bounds each plugin hook call (default: 5s).
	HookTimeout time.Duration `json:"hook_timeout" mapstructure:"hook_timeout" yaml:"hook_timeout"`

	// Database selects the store backend when no store is set with WithStore.
	Database DatabaseConfig `json:"database" mapstructure:"database" yaml:"database"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DatabaseConfig describes how to reach the document store.
type DatabaseConfig struct {
	// Driver is one of memory, sqlite, postgres, mongo or redis (default: memory).
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// DSN is the driver-specific connection string: a file path for sqlite,
	// a postgres:// URL, a mongodb:// URI or a redis:// URL.
	DSN string `json:"dsn" mapstructure:"dsn" yaml:"dsn"`

	// Name is the MongoDB database name (default: "genquota").
	Name string `json:"name" mapstructure:"name" yaml:"name"`

	// KeyPrefix is the Redis key prefix (default: "genquota:").
	KeyPrefix string `json:"key_prefix" mapstructure:"key_prefix" yaml:"key_prefix"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultMonthlyLimit: genquota.DefaultMonthlyLimit,
		CreateRaceRetries:   genquota.DefaultCreateRaceRetries,
		HookTimeout:         5 * time.Second,
		Database: DatabaseConfig{
			Driver: DriverMemory,
			Name:   "genquota",
		},
	}
}

// LoadConfig reads and parses a YAML config file for hosts that do not run
// Forge. Environment variables in the format ${VAR} are expanded before
// parsing, and unset fields take their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("genquota: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("genquota: parse config: %w", err)
	}

	cfg = mergeWithDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config for consistency.
func (c Config) Validate() error {
	if c.DefaultMonthlyLimit < 0 {
		return fmt.Errorf("genquota: config: default_monthly_limit must not be negative")
	}
	if c.CreateRaceRetries < 0 || c.CreateRaceRetries > genquota.MaxCreateRaceRetries {
		return fmt.Errorf("genquota: config: create_race_retries must be between 0 (default) and %d", genquota.MaxCreateRaceRetries)
	}
	if c.HookTimeout < 0 {
		return fmt.Errorf("genquota: config: hook_timeout must not be negative")
	}

	switch c.Database.Driver {
	case "", DriverMemory:
	case DriverSQLite, DriverPostgres, DriverMongo, DriverRedis:
		if c.Database.DSN == "" {
			return fmt.Errorf("genquota: config: database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("genquota: config: unknown database driver %q", c.Database.Driver)
	}
	return nil
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.DefaultMonthlyLimit == 0 {
		cfg.DefaultMonthlyLimit = defaults.DefaultMonthlyLimit
	}
	if cfg.CreateRaceRetries == 0 {
		cfg.CreateRaceRetries = defaults.CreateRaceRetries
	}
	if cfg.HookTimeout == 0 {
		cfg.HookTimeout = defaults.HookTimeout
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = defaults.Database.Name
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.DefaultMonthlyLimit == 0 && programmaticConfig.DefaultMonthlyLimit != 0 {
		yamlConfig.DefaultMonthlyLimit = programmaticConfig.DefaultMonthlyLimit
	}
	if yamlConfig.CreateRaceRetries == 0 && programmaticConfig.CreateRaceRetries != 0 {
		yamlConfig.CreateRaceRetries = programmaticConfig.CreateRaceRetries
	}
	if yamlConfig.HookTimeout == 0 && programmaticConfig.HookTimeout != 0 {
		yamlConfig.HookTimeout = programmaticConfig.HookTimeout
	}
	if yamlConfig.Database.Driver == "" {
		yamlConfig.Database = programmaticConfig.Database
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
