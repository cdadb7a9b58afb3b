package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`

	Database struct {
		Driver string `mapstructure:"driver"` // "postgres" | "memory"
	} `mapstructure:"database"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Cache struct {
		Backend          string   `mapstructure:"backend"` // "memory" | "redis" | "memcache"
		TTLSeconds       int      `mapstructure:"ttl_seconds"`
		LedgerTTLSeconds int      `mapstructure:"ledger_ttl_seconds"`
		MemorySize       int      `mapstructure:"memory_size"`
		RedisURL         string   `mapstructure:"redis_url"`
		MemcacheServers  []string `mapstructure:"memcache_servers"`
	} `mapstructure:"cache"`

	Engine struct {
		RetryAttempts  int `mapstructure:"retry_attempts"`
		RetryBackoffMS int `mapstructure:"retry_backoff_ms"`
		StoreTimeoutMS int `mapstructure:"store_timeout_ms"`
	} `mapstructure:"engine"`
}

// keys registered up front so AutomaticEnv can resolve them during Unmarshal
var envKeys = []string{
	"server.addr", "server.log_level",
	"database.driver",
	"postgres.host", "postgres.port", "postgres.user", "postgres.password",
	"postgres.db_name", "postgres.ssl_mode", "postgres.max_open_conns", "postgres.max_idle_conns",
	"listener.channel", "listener.reconnect_seconds",
	"cache.backend", "cache.ttl_seconds", "cache.ledger_ttl_seconds", "cache.memory_size",
	"cache.redis_url", "cache.memcache_servers",
	"engine.retry_attempts", "engine.retry_backoff_ms", "engine.store_timeout_ms",
}

func Load() Config {
	cfg, err := LoadFrom("configs")
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadFrom reads application.yaml from dir (optional) and applies APP_* env overrides.
func LoadFrom(dir string) (Config, error) {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	_ = v.ReadInConfig() // optional; env can fully configure

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(c *Config) error {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 10
	}
	if c.Listener.Channel == "" {
		c.Listener.Channel = "homesnippets_change"
	}
	if c.Listener.ReconnectSeconds <= 0 {
		c.Listener.ReconnectSeconds = 5
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 3600
	}
	if c.Cache.LedgerTTLSeconds <= 0 {
		c.Cache.LedgerTTLSeconds = 2 * c.Cache.TTLSeconds
	}
	if c.Cache.MemorySize <= 0 {
		c.Cache.MemorySize = 100_000
	}
	if c.Engine.RetryAttempts <= 0 {
		c.Engine.RetryAttempts = 3
	}
	if c.Engine.RetryBackoffMS <= 0 {
		c.Engine.RetryBackoffMS = 50
	}
	if c.Engine.StoreTimeoutMS <= 0 {
		c.Engine.StoreTimeoutMS = 2000
	}

	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("config: cache.redis_url required for redis backend")
		}
	case "memcache":
		if len(c.Cache.MemcacheServers) == 0 {
			return fmt.Errorf("config: cache.memcache_servers required for memcache backend")
		}
	default:
		return fmt.Errorf("config: unsupported cache backend %q", c.Cache.Backend)
	}
	// a ledger entry must outlive every cache entry it can invalidate
	if c.Cache.LedgerTTLSeconds < c.Cache.TTLSeconds {
		return fmt.Errorf("config: cache.ledger_ttl_seconds (%d) must be >= cache.ttl_seconds (%d)",
			c.Cache.LedgerTTLSeconds, c.Cache.TTLSeconds)
	}
	return nil
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) CacheTTL() time.Duration { return time.Duration(c.Cache.TTLSeconds) * time.Second }

func (c Config) LedgerTTL() time.Duration { return time.Duration(c.Cache.LedgerTTLSeconds) * time.Second }

func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Engine.RetryBackoffMS) * time.Millisecond
}

func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.Engine.StoreTimeoutMS) * time.Millisecond
}
