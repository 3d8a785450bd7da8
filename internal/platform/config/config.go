// Package config loads server configuration from an optional file plus
// RELAYPOOL_* environment variables, with the environment taking
// precedence. Every key has a default so a bare binary starts with the
// in-memory catalog and no external dependencies.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	dErrors "relaypool/pkg/domain-errors"
	"relaypool/pkg/platform/validation"
)

// Config is the root of the configuration tree.
type Config struct {
	Server  Server  `mapstructure:"server"`
	Log     Log     `mapstructure:"log"`
	Catalog Catalog `mapstructure:"catalog"`
	Redis   Redis   `mapstructure:"redis"`
	Relay   Relay   `mapstructure:"relay"`
	Usage   Usage   `mapstructure:"usage"`
	Kafka   Kafka   `mapstructure:"kafka"`
	Seed    Seed    `mapstructure:"seed"`
	Sweeper Sweeper `mapstructure:"sweeper"`
}

type Server struct {
	Addr            string        `mapstructure:"addr"`
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Log struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Catalog backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Catalog picks the persistent account store.
type Catalog struct {
	Backend     string `mapstructure:"backend"` // memory, redis, postgres
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type Redis struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Relay configures the proxy surface. KeyHashes are bcrypt hashes of the
// accepted client API keys; an empty list leaves the relay unauthenticated,
// for deployments that terminate auth upstream. Endpoints map provider
// names to base URLs; a provider without an endpoint cannot be dispatched
// to.
type Relay struct {
	KeyHashes  []string          `mapstructure:"key_hashes"`
	SessionTTL time.Duration     `mapstructure:"session_ttl"`
	Endpoints  map[string]string `mapstructure:"endpoints"`
}

// Usage configures the request-usage trail. KafkaTopic is optional; when
// set, raw entries are mirrored to that topic.
type Usage struct {
	Path          string        `mapstructure:"path"` // sqlite database file
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	KafkaTopic    string        `mapstructure:"kafka_topic"`
}

type Kafka struct {
	Brokers string `mapstructure:"brokers"` // comma separated host:port list
}

// Seed points at a YAML/TOML account roster applied at startup. Watch
// re-applies the file whenever it changes.
type Seed struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

type Sweeper struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from path (optional; "" skips the file) and
// the environment. RELAYPOOL_SERVER_ADDR overrides server.addr, and so on.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RELAYPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, dErrors.Wrap(err, dErrors.CodeInternal, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, dErrors.Wrap(err, dErrors.CodeInternal, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Every key needs a default: AutomaticEnv only surfaces variables for
// keys viper already knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.environment", "production")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("catalog.backend", "memory")
	v.SetDefault("catalog.postgres_dsn", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("relay.key_hashes", []string{})
	v.SetDefault("relay.session_ttl", time.Hour)
	v.SetDefault("relay.endpoints", map[string]string{
		"claude":         "https://api.anthropic.com",
		"claude-console": "https://api.anthropic.com",
	})

	v.SetDefault("usage.path", "data/usage.db")
	v.SetDefault("usage.flush_interval", 30*time.Second)
	v.SetDefault("usage.kafka_topic", "")

	v.SetDefault("kafka.brokers", "")

	v.SetDefault("seed.path", "")
	v.SetDefault("seed.watch", false)

	v.SetDefault("sweeper.interval", time.Minute)
}

// Validate catches configurations that cannot possibly run before any
// connection is attempted.
func (c Config) Validate() error {
	switch c.Catalog.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return dErrors.New(dErrors.CodeValidation, "catalog backend redis requires redis.url")
		}
	case BackendPostgres:
		if c.Catalog.PostgresDSN == "" {
			return dErrors.New(dErrors.CodeValidation, "catalog backend postgres requires catalog.postgres_dsn")
		}
	default:
		return dErrors.New(dErrors.CodeValidation, "unknown catalog backend: "+c.Catalog.Backend)
	}

	if err := validation.CheckEachStringLength("relay key hash", c.Relay.KeyHashes, validation.MaxKeyHashLength); err != nil {
		return err
	}

	if c.Usage.KafkaTopic != "" && c.Kafka.Brokers == "" {
		return dErrors.New(dErrors.CodeValidation, "usage.kafka_topic requires kafka.brokers")
	}
	if c.Seed.Watch && c.Seed.Path == "" {
		return dErrors.New(dErrors.CodeValidation, "seed.watch requires seed.path")
	}
	return nil
}
