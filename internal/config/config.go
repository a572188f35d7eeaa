// Package config provides configuration management for the broccoli gateway.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MWS      MWSConfig      `mapstructure:"mws"`
	Outbound OutboundConfig `mapstructure:"outbound"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds HTTP front-end settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisConfig holds the shared kvstore connection settings.
type RedisConfig struct {
	// URL is a redis:// connection URL; the REDIS_URL environment variable
	// binds here.
	URL string `mapstructure:"url"`

	// Enabled switches between Redis and the in-process store. Disabling
	// Redis loses cross-worker quota coordination.
	Enabled bool `mapstructure:"enabled"`
}

// MWSConfig holds the Amazon account credentials. The MWS_ACCESS_KEY,
// MWS_SECRET_KEY, MWS_SELLER_ID, and MWS_AUTH_TOKEN environment variables
// bind to the matching fields.
type MWSConfig struct {
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	SellerID  string `mapstructure:"seller_id"`
	AuthToken string `mapstructure:"auth_token"`

	// AssociateTag is the Product Advertising account id. Falls back to
	// SellerID when empty.
	AssociateTag string `mapstructure:"associate_tag"`

	// Domain is a two-letter MWS region code or a literal hostname.
	Domain string `mapstructure:"domain"`

	// DefaultMarket is a two-letter country code or a literal marketplace id.
	DefaultMarket string `mapstructure:"default_market"`
}

// OutboundConfig holds settings for calls to Amazon.
type OutboundConfig struct {
	// Timeout is the soft time limit for one outbound HTTP call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// ThrottleConfig holds throttler tuning.
type ThrottleConfig struct {
	// PendingTTL bounds the lifetime of the in-flight counters so crashed
	// workers cannot pin a quota.
	PendingTTL time.Duration `mapstructure:"pending_ttl"`
}

// CacheConfig holds result-cache tuning.
type CacheConfig struct {
	// TTLOverrides replaces per-action cache TTLs, keyed by fully
	// qualified action name ("products.GetServiceStatus").
	TTLOverrides map[string]time.Duration `mapstructure:"ttl_overrides"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values and are prefixed
// with BROCCOLI_; the legacy MWS_* and REDIS_URL variables bind directly.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("BROCCOLI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy environment inputs from the worker deployment.
	v.BindEnv("mws.access_key", "MWS_ACCESS_KEY", "BROCCOLI_MWS_ACCESS_KEY")
	v.BindEnv("mws.secret_key", "MWS_SECRET_KEY", "BROCCOLI_MWS_SECRET_KEY")
	v.BindEnv("mws.seller_id", "MWS_SELLER_ID", "BROCCOLI_MWS_SELLER_ID")
	v.BindEnv("mws.auth_token", "MWS_AUTH_TOKEN", "BROCCOLI_MWS_AUTH_TOKEN")
	v.BindEnv("redis.url", "REDIS_URL", "BROCCOLI_REDIS_URL")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/broccoli")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is acceptable - use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute) // throttled calls can sleep a long time
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Redis defaults
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", true)

	// MWS defaults
	v.SetDefault("mws.domain", "NA")
	v.SetDefault("mws.default_market", "US")

	// Outbound defaults
	v.SetDefault("outbound.timeout", 30*time.Second)

	// Throttle defaults
	v.SetDefault("throttle.pending_ttl", 200*time.Second)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9091)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.MWS.AccessKey == "" {
		return fmt.Errorf("mws.access_key is required")
	}
	if c.MWS.SecretKey == "" {
		return fmt.Errorf("mws.secret_key is required")
	}
	if c.MWS.SellerID == "" {
		return fmt.Errorf("mws.seller_id is required")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when redis is enabled")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
// Useful for main function initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
