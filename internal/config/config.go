package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                  = "LINKDROP"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabaseDriver      = DatabaseDriverSQLite
	defaultDatabaseDSN         = "linkdrop.db"
	defaultLinksBackend        = LinksBackendDatabase
	defaultActiveLimit         = 5
	defaultReapIntervalSeconds = 60
	defaultRedisAddress        = "127.0.0.1:6379"
	defaultTokenTTLMinutes     = 60 * 24
	defaultLookupsPerSecond    = 2.0
	defaultLookupBurst         = 10
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"

	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
	LinksBackendDatabase   = "database"
	LinksBackendRedis      = "redis"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabaseDriver     string
	DatabaseDSN        string
	LinksBackend       string
	ActiveLimit        int
	ReapInterval       time.Duration
	CacheEnabled       bool
	RedisAddress       string
	RedisPassword      string
	RedisDB            int
	SigningSecret      string
	TokenTTL           time.Duration
	LookupsPerSecond   float64
	LookupBurst        int
	CORSAllowedOrigins []string
	LogLevel           string
	LogFormat          string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	bindEnvironment(configViper)

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("links.backend", defaultLinksBackend)
	configViper.SetDefault("links.active_limit", defaultActiveLimit)
	configViper.SetDefault("links.reap_interval_seconds", defaultReapIntervalSeconds)
	configViper.SetDefault("links.cache_enabled", false)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("ratelimit.lookups_per_second", defaultLookupsPerSecond)
	configViper.SetDefault("ratelimit.burst", defaultLookupBurst)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment without overriding existing variables.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		LinksBackend:       strings.ToLower(strings.TrimSpace(configViper.GetString("links.backend"))),
		ActiveLimit:        configViper.GetInt("links.active_limit"),
		ReapInterval:       time.Duration(configViper.GetInt("links.reap_interval_seconds")) * time.Second,
		CacheEnabled:       configViper.GetBool("links.cache_enabled"),
		RedisAddress:       configViper.GetString("redis.address"),
		RedisPassword:      configViper.GetString("redis.password"),
		RedisDB:            configViper.GetInt("redis.db"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenTTL:           time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		LookupsPerSecond:   configViper.GetFloat64("ratelimit.lookups_per_second"),
		LookupBurst:        configViper.GetInt("ratelimit.burst"),
		CORSAllowedOrigins: splitList(configViper.GetStringSlice("cors.allowed_origins")),
		LogLevel:           configViper.GetString("log.level"),
		LogFormat:          configViper.GetString("log.format"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q", DatabaseDriverSQLite, DatabaseDriverPostgres)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.LinksBackend {
	case LinksBackendDatabase:
	case LinksBackendRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required for the redis backend")
		}
	default:
		return fmt.Errorf("links.backend must be %q or %q", LinksBackendDatabase, LinksBackendRedis)
	}
	if c.ActiveLimit <= 0 {
		return fmt.Errorf("links.active_limit must be positive")
	}
	if c.ReapInterval < 0 {
		return fmt.Errorf("links.reap_interval_seconds must not be negative")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.LookupsPerSecond <= 0 || c.LookupBurst <= 0 {
		return fmt.Errorf("ratelimit.lookups_per_second and ratelimit.burst must be positive")
	}
	return nil
}

func bindEnvironment(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()
}

// splitList flattens comma separated entries so env values like "a,b" behave like YAML lists.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
