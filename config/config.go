// Package config loads the opscached service configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables. The result is validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/opscache"
	"github.com/unkn0wn-root/opscache/datastore"
)

type Config struct {
	Cache    Cache    `yaml:"cache"`
	Supabase Supabase `yaml:"supabase"`
	Redis    Redis    `yaml:"redis"`
	Log      Log      `yaml:"log"`
	Breaker  Breaker  `yaml:"breaker"`
	HTTP     HTTP     `yaml:"http"`
	// Rules replace the built-in invalidation graph when non-empty.
	Rules []Rule `yaml:"rules" validate:"dive"`

	// Path is the file the config was read from; "" when env-only.
	Path string `yaml:"-"`
}

type Cache struct {
	Namespace string        `yaml:"namespace" validate:"required"`
	TTL       time.Duration `yaml:"ttl" validate:"gte=0"`
	Retention time.Duration `yaml:"retention" validate:"gte=0"`
	Provider  string        `yaml:"provider" validate:"oneof=memory ristretto bigcache redis"`
	Codec     string        `yaml:"codec" validate:"oneof=json cbor msgpack"`
	// MaxMB bounds the in-process providers (ristretto cost, bigcache size).
	MaxMB    int  `yaml:"max_mb" validate:"gte=0"`
	Disabled bool `yaml:"disabled"`
}

type Supabase struct {
	URL string `yaml:"url" validate:"omitempty,url"`
	Key string `yaml:"key"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	// FeedPrefix is the Pub/Sub channel prefix of the change feed.
	FeedPrefix string `yaml:"feed_prefix"`
}

type Log struct {
	Level   string `yaml:"level" validate:"oneof=debug info warn error"`
	Format  string `yaml:"format" validate:"oneof=json console"`
	// Backend is the logger behind the cache's own events; the service
	// itself always logs through zap.
	Backend string `yaml:"backend" validate:"oneof=zap logrus zerolog slog"`
}

type Breaker struct {
	Enabled      bool          `yaml:"enabled"`
	MaxRequests  uint32        `yaml:"max_requests"`
	Interval     time.Duration `yaml:"interval" validate:"gte=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	FailureRatio float64       `yaml:"failure_ratio" validate:"gte=0,lte=1"`
	MinRequests  uint32        `yaml:"min_requests"`
}

type HTTP struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// Rule is the file form of opscache.Rule. On lists mutation kinds
// (INSERT, UPDATE, DELETE); empty means all of them.
type Rule struct {
	Entity       string   `yaml:"entity" validate:"required"`
	Dependencies []string `yaml:"dependencies"`
	On           []string `yaml:"on"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Cache: Cache{
			Namespace: "opscache",
			TTL:       opscache.DefaultTTL,
			Retention: time.Hour,
			Provider:  "memory",
			Codec:     "json",
			MaxMB:     64,
		},
		Redis: Redis{FeedPrefix: "changes"},
		Log:   Log{Level: "info", Format: "json", Backend: "zap"},
		Breaker: Breaker{
			Enabled:      true,
			MaxRequests:  5,
			Interval:     30 * time.Second,
			Timeout:      60 * time.Second,
			FailureRatio: 0.8,
			MinRequests:  5,
		},
		HTTP: HTTP{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load reads path (optional; "" or a missing file is skipped), applies the
// environment and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			cfg.Path = path
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Cache.Namespace = getEnv("OPSCACHE_NAMESPACE", c.Cache.Namespace)
	c.Cache.TTL = getEnvDuration("OPSCACHE_TTL", c.Cache.TTL)
	c.Cache.Retention = getEnvDuration("OPSCACHE_RETENTION", c.Cache.Retention)
	c.Cache.Provider = getEnv("OPSCACHE_PROVIDER", c.Cache.Provider)
	c.Cache.Codec = getEnv("OPSCACHE_CODEC", c.Cache.Codec)
	c.Cache.MaxMB = getEnvInt("OPSCACHE_MAX_MB", c.Cache.MaxMB)
	c.Cache.Disabled = getEnvBool("OPSCACHE_DISABLED", c.Cache.Disabled)

	c.Supabase.URL = getEnv("SUPABASE_URL", c.Supabase.URL)
	c.Supabase.Key = getEnv("SUPABASE_KEY", c.Supabase.Key)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.Log.Level = strings.ToLower(getEnv("OPSCACHE_LOG_LEVEL", c.Log.Level))
	c.Log.Format = strings.ToLower(getEnv("OPSCACHE_LOG_FORMAT", c.Log.Format))
	c.Log.Backend = strings.ToLower(getEnv("OPSCACHE_LOG_BACKEND", c.Log.Backend))

	c.Breaker.Enabled = getEnvBool("OPSCACHE_BREAKER_ENABLED", c.Breaker.Enabled)
	c.HTTP.Addr = getEnv("OPSCACHE_HTTP_ADDR", c.HTTP.Addr)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return fmt.Errorf("config: %w", err)
		}
		for _, fe := range ve {
			errs = append(errs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
		}
	}
	if c.Cache.Provider == "redis" && c.Redis.Addr == "" {
		errs = append(errs, errors.New("cache.provider redis requires redis.addr"))
	}
	if (c.Supabase.URL == "") != (c.Supabase.Key == "") {
		errs = append(errs, errors.New("supabase.url and supabase.key must be set together"))
	}
	for i, r := range c.Rules {
		for _, k := range r.On {
			if _, err := datastore.ParseKind(k); err != nil {
				errs = append(errs, fmt.Errorf("rules[%d].on: %w", i, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// RuleSet converts the configured rules; the built-in graph when none are set.
func (c *Config) RuleSet() *opscache.Rules {
	if len(c.Rules) == 0 {
		return opscache.DefaultRules()
	}
	rules := make([]opscache.Rule, 0, len(c.Rules))
	for _, r := range c.Rules {
		on := datastore.AllKinds
		if len(r.On) > 0 {
			kinds := make([]datastore.Kind, 0, len(r.On))
			for _, s := range r.On {
				if k, err := datastore.ParseKind(s); err == nil {
					kinds = append(kinds, k)
				}
			}
			on = datastore.KindsOf(kinds...)
		}
		rules = append(rules, opscache.Rule{Entity: r.Entity, Dependencies: r.Dependencies, InvalidateOn: on})
	}
	return opscache.NewRules(rules...)
}

// Realtime reports whether the Redis change feed can be used.
func (c *Config) Realtime() bool { return c.Redis.Addr != "" }

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
