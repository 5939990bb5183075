package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/authz-api/internal/service/audit"
	"github.com/jwalitptl/authz-api/pkg/validator"
)

const envPrefix = "AUTHZ"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Directory DirectoryConfig `mapstructure:"directory"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Debug           bool          `mapstructure:"debug"`
	MaxBodySize     int64         `mapstructure:"max_body_size" validate:"gt=0"`

	// HideExistence answers forbidden resource-bound requests from
	// non-admin callers with the same 404 used for missing resources
	HideExistence bool `mapstructure:"hide_existence"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"gt=0"`
	User            string        `mapstructure:"user" validate:"required"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name" validate:"required"`
	SSLMode         string        `mapstructure:"sslmode" validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url" validate:"required_if=Enabled true"`
	Channel string `mapstructure:"channel"`
}

type JWTConfig struct {
	Secret   string        `mapstructure:"secret" validate:"required,min=16"`
	Issuer   string        `mapstructure:"issuer"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type CacheConfig struct {
	DecisionCapacity int           `mapstructure:"decision_capacity" validate:"gt=0"`
	DecisionTTL      time.Duration `mapstructure:"decision_ttl" validate:"gt=0"`
	SessionCapacity  int           `mapstructure:"session_capacity" validate:"gt=0"`
	SessionTTL       time.Duration `mapstructure:"session_ttl" validate:"gt=0"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

type AuditConfig struct {
	audit.Config  `mapstructure:",squash"`
	CleanupPeriod time.Duration `mapstructure:"cleanup_period" validate:"gt=0"`
	PersistEvents bool          `mapstructure:"persist_events"`
}

type DirectoryConfig struct {
	BreakerMaxRequests uint32        `mapstructure:"breaker_max_requests"`
	BreakerInterval    time.Duration `mapstructure:"breaker_interval"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
	BreakerFailures    uint32        `mapstructure:"breaker_failures" validate:"gt=0"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=0"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Secrets are read from the environment only
type Secrets struct {
	JWTSecret        string `envconfig:"JWT_SECRET"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD"`
	RedisURL         string `envconfig:"REDIS_URL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.hide_existence", true)
	v.SetDefault("server.max_body_size", 64<<10)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "authz")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel", "audit-events")

	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.cache_ttl", 5*time.Minute)

	v.SetDefault("cache.decision_capacity", 1000)
	v.SetDefault("cache.decision_ttl", 5*time.Minute)
	v.SetDefault("cache.session_capacity", 500)
	v.SetDefault("cache.session_ttl", 5*time.Minute)
	v.SetDefault("cache.sweep_interval", time.Minute)

	v.SetDefault("audit.buffer_size", audit.DefaultBufferSize)
	v.SetDefault("audit.retention_days", audit.DefaultRetentionDays)
	v.SetDefault("audit.emit_structured", true)
	v.SetDefault("audit.queue_size", audit.DefaultQueueSize)
	v.SetDefault("audit.sink_timeout", audit.DefaultSinkTimeout)
	v.SetDefault("audit.cleanup_period", 24*time.Hour)
	v.SetDefault("audit.persist_events", true)

	v.SetDefault("directory.breaker_max_requests", 1)
	v.SetDefault("directory.breaker_interval", time.Minute)
	v.SetDefault("directory.breaker_timeout", 30*time.Second)
	v.SetDefault("directory.breaker_failures", 5)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads config.yaml from the usual locations, applies AUTHZ_*
// environment overrides and secrets, and validates the result. A missing
// config file is not an error.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var secrets Secrets
	if err := envconfig.Process(envPrefix, &secrets); err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}
	config.applySecrets(secrets)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applySecrets(s Secrets) {
	if s.JWTSecret != "" {
		c.JWT.Secret = s.JWTSecret
	}
	if s.DatabasePassword != "" {
		c.Database.Password = s.DatabasePassword
	}
	if s.RedisURL != "" {
		c.Redis.URL = s.RedisURL
		c.Redis.Enabled = true
	}
}

// Validate checks struct constraints
func (c *Config) Validate() error {
	if err := validator.New().Validate(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}
