/*
Package config loads cache settings from a YAML file, the environment and an
optional .env file.

Precedence, highest first: TIERCACHE_* environment variables, the config
file, built-in defaults. Nested keys map to env names with dots replaced by
underscores, e.g. memory.ceiling → TIERCACHE_MEMORY_CEILING.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	gap "github.com/muesli/go-app-paths"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	cache "github.com/krisalay/tiered-cache"
	"github.com/krisalay/tiered-cache/eviction"
	"github.com/krisalay/tiered-cache/expiration"
	"github.com/krisalay/tiered-cache/refresh"
	"github.com/krisalay/tiered-cache/types"
	"github.com/krisalay/tiered-cache/writepolicy"
)

const (
	appName   = "tiercache"
	envPrefix = "TIERCACHE"
)

// Backend names accepted in Config.Backend.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendDisk     = "disk"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Namespace string         `mapstructure:"namespace"`
	Backend   string         `mapstructure:"backend"`
	Memory    MemoryConfig   `mapstructure:"memory"`
	Write     WriteConfig    `mapstructure:"write"`
	Refresh   RefreshConfig  `mapstructure:"refresh"`
	Codec     CodecConfig    `mapstructure:"codec"`
	Disk      DiskConfig     `mapstructure:"disk"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Postgres  PostgresConfig `mapstructure:"postgres"`
	Log       LogConfig      `mapstructure:"log"`
}

type MemoryConfig struct {
	// Ceiling is a human size such as "64MiB". "0" disables eviction.
	Ceiling            string        `mapstructure:"ceiling"`
	EvictionFraction   float64       `mapstructure:"eviction_fraction"`
	EvictionPolicy     string        `mapstructure:"eviction_policy"`
	PropagateEvictions bool          `mapstructure:"propagate_evictions"`
	Segments           int           `mapstructure:"segments"`
	MaxAge             time.Duration `mapstructure:"max_age"`
}

type WriteConfig struct {
	Mode   string `mapstructure:"mode"`
	Buffer int    `mapstructure:"buffer"`
}

// RefreshConfig tunes refresh.AheadOfExpiry. A zero Window disables it.
type RefreshConfig struct {
	Window float64 `mapstructure:"window"`
	Rate   float64 `mapstructure:"rate"`
	Burst  int     `mapstructure:"burst"`
}

// CodecConfig controls value encoding. Compression > 0 wraps values in zstd
// at that level before they reach the durable tier.
type CodecConfig struct {
	Compression int `mapstructure:"compression"`
}

type DiskConfig struct {
	Dir         string `mapstructure:"dir"`
	Capacity    string `mapstructure:"capacity"`
	Compression int    `mapstructure:"compression"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("namespace", "default")
	v.SetDefault("backend", BackendDisk)

	v.SetDefault("memory.ceiling", "64MiB")
	v.SetDefault("memory.eviction_fraction", eviction.DefaultFraction)
	v.SetDefault("memory.eviction_policy", string(eviction.OldestWrite))
	v.SetDefault("memory.propagate_evictions", false)
	v.SetDefault("memory.segments", 16)
	v.SetDefault("memory.max_age", time.Duration(0))

	v.SetDefault("write.mode", string(writepolicy.WriteThrough))
	v.SetDefault("write.buffer", 1024)

	v.SetDefault("refresh.window", 0.0)
	v.SetDefault("refresh.rate", 10.0)
	v.SetDefault("refresh.burst", 10)

	v.SetDefault("codec.compression", 0)

	v.SetDefault("disk.dir", defaultCacheDir())
	v.SetDefault("disk.capacity", "512MiB")
	v.SetDefault("disk.compression", 3)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("postgres.conn_max_idle_time", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// defaultCacheDir is the per-user cache directory, or "" when it cannot be found.
func defaultCacheDir() string {
	dir, err := gap.NewScope(gap.User, appName).CacheDir()
	if err != nil {
		return ""
	}
	return dir
}

func configDirs() []string {
	var dirs []string
	if c := os.Getenv(envPrefix + "_CONFIG_HOME"); c != "" {
		dirs = append(dirs, c)
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append(dirs, filepath.Join(c, appName))
	}
	if found, err := gap.NewScope(gap.User, appName).ConfigDirs(); err == nil {
		dirs = append(dirs, found...)
	}
	return dirs
}

/*
Load reads configuration. path may name a config file explicitly; when empty,
tiercache.yml is looked up in the user config directories and is optional.
A .env file in the working directory is loaded first if present.
*/
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		for _, dir := range configDirs() {
			v.AddConfigPath(dir)
		}
		v.SetConfigName(appName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later and less clearly.
func (c *Config) Validate() error {
	if _, err := c.MemoryCeilingBytes(); err != nil {
		return err
	}
	if _, err := c.DiskCapacityBytes(); err != nil {
		return err
	}
	if c.Memory.EvictionFraction < 0 || c.Memory.EvictionFraction > 1 {
		return fmt.Errorf("memory.eviction_fraction must be within [0, 1], got %v", c.Memory.EvictionFraction)
	}
	if _, err := eviction.NewEvictionPolicy(eviction.PolicyType(strings.ToUpper(c.Memory.EvictionPolicy))); err != nil {
		return err
	}
	if c.Codec.Compression < 0 || c.Codec.Compression > 22 {
		return fmt.Errorf("codec.compression must be within [0, 22], got %d", c.Codec.Compression)
	}
	switch writepolicy.Mode(c.Write.Mode) {
	case writepolicy.WriteThrough, writepolicy.WriteBack:
	default:
		return fmt.Errorf("unknown write.mode %q", c.Write.Mode)
	}
	switch c.Backend {
	case BackendNone, BackendMemory, BackendDisk, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// MemoryCeilingBytes parses memory.ceiling.
func (c *Config) MemoryCeilingBytes() (int64, error) {
	return parseSize("memory.ceiling", c.Memory.Ceiling)
}

// DiskCapacityBytes parses disk.capacity.
func (c *Config) DiskCapacityBytes() (int64, error) {
	return parseSize("disk.capacity", c.Disk.Capacity)
}

func parseSize(name, s string) (int64, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return int64(n), nil
}

// CacheConfig maps the file settings onto cache.Config.
func (c *Config) CacheConfig(logger logrus.FieldLogger, metrics types.Metrics) (cache.Config, error) {
	ceiling, err := c.MemoryCeilingBytes()
	if err != nil {
		return cache.Config{}, err
	}

	cfg := cache.DefaultConfig()
	cfg.Namespace = c.Namespace
	cfg.MemoryCeiling = ceiling
	cfg.EvictionFraction = c.Memory.EvictionFraction
	cfg.EvictionPolicy = eviction.PolicyType(strings.ToUpper(c.Memory.EvictionPolicy))
	cfg.PropagateEvictions = c.Memory.PropagateEvictions
	cfg.Segments = c.Memory.Segments
	cfg.WriteMode = writepolicy.Mode(c.Write.Mode)
	cfg.WriteBuffer = c.Write.Buffer
	cfg.Logger = logger
	cfg.Metrics = metrics
	if c.Memory.MaxAge > 0 {
		cfg.Expiration = expiration.MaxAge{Max: c.Memory.MaxAge}
	}
	return cfg, nil
}

// RefreshOptions returns the refresh tuning and whether refresh is enabled.
func (c *Config) RefreshOptions(logger logrus.FieldLogger, metrics types.Metrics) (refresh.Options, bool) {
	return refresh.Options{
		Window:  c.Refresh.Window,
		Rate:    rate.Limit(c.Refresh.Rate),
		Burst:   c.Refresh.Burst,
		Logger:  logger,
		Metrics: metrics,
	}, c.Refresh.Window > 0
}

// NewLogger builds a logrus logger from log.level and log.format.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(level)
	}
	return logger
}
