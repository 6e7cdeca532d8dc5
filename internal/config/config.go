package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	MarketData  MarketDataConfig `mapstructure:"market_data"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Pricing     PricingConfig    `mapstructure:"pricing"`
	Telemetry   TelemetryConfig  `mapstructure:"telemetry"`
	Security    SecurityConfig   `mapstructure:"security"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MarketDataConfig configures the remote provider of the price matrix,
// market index and market depth datasets.
type MarketDataConfig struct {
	BaseURL            string  `mapstructure:"base_url"`
	Timeout            int     `mapstructure:"timeout"`
	CacheTTL           string  `mapstructure:"cache_ttl"`
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateBurst          int     `mapstructure:"rate_burst"`
	MaxRetries         int     `mapstructure:"max_retries"`
	RefreshInterval    string  `mapstructure:"refresh_interval"`
	WarmOnStartup      bool    `mapstructure:"warm_on_startup"`
}

// CacheConfig selects the storage backend behind the market data cache.
type CacheConfig struct {
	Backend   string `mapstructure:"backend"`
	KeyPrefix string `mapstructure:"key_prefix"`
	Retention string `mapstructure:"retention"`
}

type PricingConfig struct {
	DefaultClarity string `mapstructure:"default_clarity"`
}

type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Exporter       string  `mapstructure:"exporter"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	LogsEnabled    bool    `mapstructure:"logs_enabled"`
}

type SecurityConfig struct {
	AdminAPIKey     string `mapstructure:"admin_api_key" json:"-" yaml:"-"`
	AdminAPIKeyHash string `mapstructure:"admin_api_key_hash" json:"-" yaml:"-"`
	JWTSecret       string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
	JWTExpiry       string `mapstructure:"jwt_expiry"`
	RequireAuth     bool   `mapstructure:"require_auth"`
	BcryptCost      int    `mapstructure:"bcrypt_cost"`
}

// Cache backends accepted by cache.backend.
const (
	CacheBackendMemory   = "memory"
	CacheBackendRedis    = "redis"
	CacheBackendPostgres = "postgres"
)

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("security.jwt_secret", "JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind JWT_SECRET environment variable: %w", err)
	}
	if err := viper.BindEnv("security.admin_api_key", "ADMIN_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind ADMIN_API_KEY environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)
	config.Cache.Backend = strings.ToLower(config.Cache.Backend)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Environment != "development" && c.Security.RequireAuth && c.Security.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required when security.require_auth is enabled")
	}

	if c.Security.JWTExpiry != "" {
		if _, err := time.ParseDuration(c.Security.JWTExpiry); err != nil {
			return fmt.Errorf("invalid JWT expiry duration: %w", err)
		}
	}

	if c.Security.BcryptCost < bcrypt.MinCost || c.Security.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, c.Security.BcryptCost)
	}

	if c.Security.AdminAPIKeyHash != "" {
		if _, err := bcrypt.Cost([]byte(c.Security.AdminAPIKeyHash)); err != nil {
			return fmt.Errorf("invalid admin API key hash: %w", err)
		}
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if !c.Redis.Enabled {
			return errors.New("cache backend redis requires redis.enabled")
		}
	case CacheBackendPostgres:
		if !c.Database.Enabled {
			return errors.New("cache backend postgres requires database.enabled")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	if c.MarketData.BaseURL == "" {
		return errors.New("market_data.base_url is required")
	}

	for name, value := range map[string]string{
		"market_data.cache_ttl":        c.MarketData.CacheTTL,
		"market_data.refresh_interval": c.MarketData.RefreshInterval,
		"cache.retention":              c.Cache.Retention,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s duration: %w", name, err)
		}
	}

	return nil
}

// CacheTTLDuration returns the market data entry lifetime, defaulting to 24h.
func (m MarketDataConfig) CacheTTLDuration() time.Duration {
	return parseDurationOr(m.CacheTTL, 24*time.Hour)
}

// RefreshIntervalDuration returns how often the background refresher runs.
// Zero disables it.
func (m MarketDataConfig) RefreshIntervalDuration() time.Duration {
	return parseDurationOr(m.RefreshInterval, 0)
}

// RetentionDuration returns how long backends with native expiry keep an
// entry after it is written. Zero keeps entries until explicitly cleared.
func (c CacheConfig) RetentionDuration() time.Duration {
	return parseDurationOr(c.Retention, 0)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "celebrum_gem")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", "300s")

	// Redis
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Market data provider
	viper.SetDefault("market_data.base_url", "http://localhost:3001")
	viper.SetDefault("market_data.timeout", 10)
	viper.SetDefault("market_data.cache_ttl", "24h")
	viper.SetDefault("market_data.rate_limit_per_second", 5.0)
	viper.SetDefault("market_data.rate_burst", 3)
	viper.SetDefault("market_data.max_retries", 2)
	viper.SetDefault("market_data.refresh_interval", "6h")
	viper.SetDefault("market_data.warm_on_startup", true)

	// Cache
	viper.SetDefault("cache.backend", CacheBackendMemory)
	viper.SetDefault("cache.key_prefix", "market_data:")
	viper.SetDefault("cache.retention", "168h")

	// Pricing
	viper.SetDefault("pricing.default_clarity", "VS2")

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.exporter", "otlp")
	viper.SetDefault("telemetry.otlp_endpoint", "")
	viper.SetDefault("telemetry.service_name", "celebrum-gem-go")
	viper.SetDefault("telemetry.service_version", "1.0.0")
	viper.SetDefault("telemetry.sample_ratio", 1.0)
	viper.SetDefault("telemetry.logs_enabled", false)

	// Security
	viper.SetDefault("security.admin_api_key", "")
	viper.SetDefault("security.admin_api_key_hash", "")
	viper.SetDefault("security.jwt_secret", "")
	viper.SetDefault("security.jwt_expiry", "24h")
	viper.SetDefault("security.require_auth", false)
	viper.SetDefault("security.bcrypt_cost", 12)
}
