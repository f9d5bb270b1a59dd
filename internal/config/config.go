// Package config loads service settings from file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/hed1ad/dace/internal/logging"
	"github.com/hed1ad/dace/pkg/engine"
	"github.com/hed1ad/dace/pkg/fusion"
)

// Config is the service configuration. Zero-valued optional settings
// disable their feature: no log file, no Redis cache.
type Config struct {
	Port           int      `mapstructure:"port"`
	DatabasePath   string   `mapstructure:"database_path"`
	LogLevel       string   `mapstructure:"log_level"`
	LogFormat      string   `mapstructure:"log_format"`
	LogFile        string   `mapstructure:"log_file"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RedisAddr      string   `mapstructure:"redis_addr"`
	CacheTTLSec    int      `mapstructure:"cache_ttl_sec"`

	// DefaultHours is the series length when a request names none.
	DefaultHours int `mapstructure:"default_hours"`
	MaxHours     int `mapstructure:"max_hours"`

	RequestTimeoutSec  int `mapstructure:"request_timeout_sec"`
	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_sec"`

	ThresholdMode string  `mapstructure:"threshold_mode"`
	Contamination float64 `mapstructure:"contamination"`
	Seed          int64   `mapstructure:"seed"`

	// DocsDir receives the CSV artefacts of the run command.
	DocsDir string `mapstructure:"docs_dir"`
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 5000)
	v.SetDefault("database_path", "./energy_consumption.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file", "")
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("redis_addr", "")
	v.SetDefault("cache_ttl_sec", 300)
	v.SetDefault("default_hours", 168)
	v.SetDefault("max_hours", 24*365*2)
	v.SetDefault("request_timeout_sec", 60)
	v.SetDefault("shutdown_timeout_sec", 15)
	v.SetDefault("threshold_mode", string(fusion.ModeBatch))
	v.SetDefault("contamination", 0.05)
	v.SetDefault("seed", 42)
	v.SetDefault("docs_dir", "docs")
}

// Load reads configuration into a Config. An explicit file must exist;
// otherwise config.yaml is looked up in ., $HOME/.dace and /etc/dace and
// may be absent. DACE_-prefixed environment variables override the file.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.dace")
		v.AddConfigPath("/etc/dace/")
	}

	v.SetEnvPrefix("DACE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.Contamination <= 0 || c.Contamination > 0.5 {
		errs = append(errs, fmt.Errorf("contamination %v not in (0, 0.5]", c.Contamination))
	}
	if _, err := fusion.ParseMode(c.ThresholdMode); err != nil {
		errs = append(errs, err)
	}
	if c.DefaultHours <= 0 {
		errs = append(errs, fmt.Errorf("default_hours %d must be positive", c.DefaultHours))
	}
	if c.MaxHours < c.DefaultHours {
		errs = append(errs, fmt.Errorf("max_hours %d below default_hours %d", c.MaxHours, c.DefaultHours))
	}
	if c.CacheTTLSec < 0 {
		errs = append(errs, fmt.Errorf("cache_ttl_sec %d is negative", c.CacheTTLSec))
	}
	return errors.Join(errs...)
}

// Engine returns the training configuration.
func (c *Config) Engine() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Contamination = c.Contamination
	cfg.Seed = c.Seed
	// Validate has already rejected unknown modes.
	cfg.Policy.Mode, _ = fusion.ParseMode(c.ThresholdMode)
	return cfg
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.LogLevel
	lc.Format = c.LogFormat
	lc.File = c.LogFile
	return lc
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}
