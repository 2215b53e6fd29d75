/*
config.go - Configuration for the freightsync binaries

PURPOSE:
  One TOML file configures both the store server and the engine. Every
  key has a default and can be overridden from the environment.

FILE FORMAT:
  [server]
  addr = ":3000"
  db   = "freight.db"

  [engine]
  store_url         = "http://localhost:3000/api"
  addr              = ":3100"
  poll_interval     = "15s"
  request_timeout   = "10s"
  auto_fix_pod      = true
  enforce_adjacency = false
  success_retention = "60s"
  failure_retention = "5m"

  [cache]
  backend = "memory"   # memory | sqlite | redis

  [log]
  level = "info"

ENVIRONMENT:
  FREIGHTSYNC_ADDR, FREIGHTSYNC_DB, FREIGHTSYNC_STORE_URL,
  FREIGHTSYNC_ENGINE_ADDR, FREIGHTSYNC_POLL_INTERVAL,
  FREIGHTSYNC_CACHE_BACKEND, FREIGHTSYNC_REDIS_ADDR, FREIGHTSYNC_LOG_LEVEL
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Duration is a time.Duration that decodes from strings like "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Cache backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	Server ServerConfig `toml:"server"`
	Engine EngineConfig `toml:"engine"`
	Cache  CacheConfig  `toml:"cache"`
	Log    LogConfig    `toml:"log"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// DB is the SQLite path; ":memory:" or "" keeps trips in process memory.
	DB string `toml:"db"`
}

type EngineConfig struct {
	StoreURL         string   `toml:"store_url"`
	Addr             string   `toml:"addr"`
	PollInterval     Duration `toml:"poll_interval"`
	RequestTimeout   Duration `toml:"request_timeout"`
	AutoFixPOD       bool     `toml:"auto_fix_pod"`
	EnforceAdjacency bool     `toml:"enforce_adjacency"`
	SuccessRetention Duration `toml:"success_retention"`
	FailureRetention Duration `toml:"failure_retention"`
}

type CacheConfig struct {
	Backend       string `toml:"backend"`
	SQLitePath    string `toml:"sqlite_path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr: ":3000",
			DB:   "freight.db",
		},
		Engine: EngineConfig{
			StoreURL:         "http://localhost:3000/api",
			Addr:             ":3100",
			PollInterval:     Duration{15 * time.Second},
			RequestTimeout:   Duration{10 * time.Second},
			AutoFixPOD:       true,
			SuccessRetention: Duration{60 * time.Second},
			FailureRetention: Duration{300 * time.Second},
		},
		Cache: CacheConfig{
			Backend:     BackendMemory,
			SQLitePath:  "freight-cache.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "freightsync:",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Addr = envOrDefault("FREIGHTSYNC_ADDR", c.Server.Addr)
	c.Server.DB = envOrDefault("FREIGHTSYNC_DB", c.Server.DB)
	c.Engine.StoreURL = envOrDefault("FREIGHTSYNC_STORE_URL", c.Engine.StoreURL)
	c.Engine.Addr = envOrDefault("FREIGHTSYNC_ENGINE_ADDR", c.Engine.Addr)
	c.Cache.Backend = envOrDefault("FREIGHTSYNC_CACHE_BACKEND", c.Cache.Backend)
	c.Cache.RedisAddr = envOrDefault("FREIGHTSYNC_REDIS_ADDR", c.Cache.RedisAddr)
	c.Log.Level = envOrDefault("FREIGHTSYNC_LOG_LEVEL", c.Log.Level)

	if v := os.Getenv("FREIGHTSYNC_POLL_INTERVAL"); v != "" {
		if err := c.Engine.PollInterval.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("FREIGHTSYNC_POLL_INTERVAL: %w", err)
		}
	}
	if v := os.Getenv("FREIGHTSYNC_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FREIGHTSYNC_REDIS_DB: %w", err)
		}
		c.Cache.RedisDB = n
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	switch c.Cache.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Engine.PollInterval.Duration <= 0 {
		return errors.New("engine.poll_interval must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// NewLogger builds the process logger.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
