// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/pageweight/internal/tracker"
)

// Scheduler modes.
const (
	ModePing     = "ping"
	ModeInterval = "interval"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Auth      AuthConfig        `mapstructure:"auth"`
	Sites     map[string]string `mapstructure:"sites"`
	Scheduler SchedulerConfig   `mapstructure:"scheduler"`
	Measure   MeasureConfig     `mapstructure:"measure"`
	History   HistoryConfig     `mapstructure:"history"`
	HTTP      HTTPConfig        `mapstructure:"http"`
	Cache     CacheConfig       `mapstructure:"cache"`
	Storage   StorageConfig     `mapstructure:"storage"`
	PubSub    PubSubConfig      `mapstructure:"pubsub"`
	Logging   LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig protects the trigger routes with an API key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SchedulerConfig selects and tunes the run gate.
type SchedulerConfig struct {
	Mode        string        `mapstructure:"mode"`
	PingWindow  time.Duration `mapstructure:"ping_window"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	// Interval is the debounce used by the interval mode.
	Interval time.Duration `mapstructure:"interval"`
}

// MeasureConfig selects the recorded schema variant.
type MeasureConfig struct {
	SplitAssets   bool   `mapstructure:"split_assets"`
	TrackRevision bool   `mapstructure:"track_revision"`
	Topic         string `mapstructure:"topic"`
}

// HistoryConfig bounds the cached read path.
type HistoryConfig struct {
	Limit int           `mapstructure:"limit"`
	TTL   time.Duration `mapstructure:"ttl"`
}

// HTTPConfig configures outbound fetches.
type HTTPConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// CacheConfig selects the shared cache.
type CacheConfig struct {
	Driver string      `mapstructure:"driver"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig addresses the Redis cache.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Prefix    string `mapstructure:"prefix"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// StorageConfig selects the measurement store.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	MaxConns    int32  `mapstructure:"max_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// PubSubConfig holds metadata for measurement notifications.
type PubSubConfig struct {
	// Driver is "", "memory" or "pubsub". Empty disables publishing.
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DefaultSites are tracked when configuration names none.
var DefaultSites = map[string]string{
	"dev":  "https://marketplace-dev.allizom.org",
	"prod": "https://marketplace.firefox.com",
}

// LoadDotEnv loads KEY=value files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEWEIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Sites) == 0 {
		cfg.Sites = make(map[string]string, len(DefaultSites))
		for id, base := range DefaultSites {
			cfg.Sites[id] = base
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("scheduler.mode", ModePing)
	v.SetDefault("scheduler.ping_window", 5*time.Minute)
	v.SetDefault("scheduler.min_interval", 5*time.Minute)
	v.SetDefault("scheduler.interval", 15*time.Minute)
	v.SetDefault("measure.split_assets", true)
	v.SetDefault("measure.track_revision", false)
	v.SetDefault("measure.topic", "")
	v.SetDefault("history.limit", 336)
	v.SetDefault("history.ttl", time.Hour)
	v.SetDefault("http.user_agent", "pageweight/1.0 (+https://github.com/JakeFAU/pageweight)")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.prefix", "pageweight:")
	v.SetDefault("cache.redis.timeout_ms", 500)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.table", "measurements")
	v.SetDefault("storage.auto_migrate", false)
	v.SetDefault("pubsub.driver", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Sites) == 0 {
		return fmt.Errorf("sites must name at least one site")
	}
	for id, base := range c.Sites {
		u, err := url.Parse(base)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("sites.%s must be an absolute http(s) URL, got %q", id, base)
		}
	}
	switch c.Scheduler.Mode {
	case ModePing:
		if c.Scheduler.PingWindow <= 0 || c.Scheduler.MinInterval <= 0 {
			return fmt.Errorf("scheduler.ping_window and scheduler.min_interval must be > 0")
		}
	case ModeInterval:
		if c.Scheduler.Interval <= 0 {
			return fmt.Errorf("scheduler.interval must be > 0")
		}
	default:
		return fmt.Errorf("scheduler.mode must be %q or %q, got %q", ModePing, ModeInterval, c.Scheduler.Mode)
	}
	if c.History.Limit <= 0 {
		return fmt.Errorf("history.limit must be > 0")
	}
	if c.History.TTL <= 0 {
		return fmt.Errorf("history.ttl must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if !slices.Contains([]string{"memory", "redis"}, c.Cache.Driver) {
		return fmt.Errorf("cache.driver must be memory or redis, got %q", c.Cache.Driver)
	}
	if c.Cache.Driver == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr must be set when cache.driver is redis")
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set when storage.driver is %s", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver must be memory, postgres or sqlite, got %q", c.Storage.Driver)
	}
	switch c.PubSub.Driver {
	case "", "memory":
	case "pubsub":
		if c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub.project_id must be set when pubsub.driver is pubsub")
		}
	default:
		return fmt.Errorf("pubsub.driver must be empty, memory or pubsub, got %q", c.PubSub.Driver)
	}
	if c.PubSub.Driver != "" && c.Measure.Topic == "" {
		return fmt.Errorf("measure.topic must be set when publishing is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// TrackedSites returns the configured sites ordered by identifier. Trailing
// slashes are trimmed so paths can be appended to the base URL.
func (c Config) TrackedSites() []tracker.TrackedSite {
	out := make([]tracker.TrackedSite, 0, len(c.Sites))
	for id, base := range c.Sites {
		out = append(out, tracker.TrackedSite{ID: id, BaseURL: strings.TrimRight(base, "/")})
	}
	slices.SortFunc(out, func(a, b tracker.TrackedSite) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// FetchTimeout converts the HTTP timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
