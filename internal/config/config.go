// Package config loads and validates worker configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Origin        OriginConfig        `mapstructure:"origin"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Prefetch      PrefetchConfig      `mapstructure:"prefetch"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Trigger       TriggerConfig       `mapstructure:"trigger"`
	PubSub        PubSubConfig        `mapstructure:"pubsub"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	MaxBodyBytes           int `mapstructure:"max_body_bytes"`
}

// OriginConfig names the application the worker fronts.
type OriginConfig struct {
	// URL is the scope every relative resource resolves against.
	URL             string `mapstructure:"url"`
	OfflineDocument string `mapstructure:"offline_document"`
	Placeholder     string `mapstructure:"placeholder"`
	CatalogPath     string `mapstructure:"catalog_path"`
}

// CacheConfig names the versioned tiers.
type CacheConfig struct {
	Prefix              string `mapstructure:"prefix"`
	Version             string `mapstructure:"version"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
}

// StorageConfig selects the tier backend.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
	LocalDir   string `mapstructure:"local_dir"`
	GCSBucket  string `mapstructure:"gcs_bucket"`
	GCSPrefix  string `mapstructure:"gcs_prefix"`
}

// QueueConfig selects the notification queue backend and its retry policy.
type QueueConfig struct {
	Backend            string         `mapstructure:"backend"`
	SQLitePath         string         `mapstructure:"sqlite_path"`
	Postgres           PostgresConfig `mapstructure:"postgres"`
	BackoffBaseSeconds int            `mapstructure:"backoff_base_seconds"`
	BackoffMaxSeconds  int            `mapstructure:"backoff_max_seconds"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PrefetchConfig governs the install-time catalog walk.
type PrefetchConfig struct {
	Concurrency  int  `mapstructure:"concurrency"`
	MaxBodyBytes int  `mapstructure:"max_body_bytes"`
	OnStart      bool `mapstructure:"on_start"`
}

// NotificationsConfig shapes displayed notifications and session routing.
type NotificationsConfig struct {
	AppName            string   `mapstructure:"app_name"`
	DeepLinkPattern    string   `mapstructure:"deep_link_pattern"`
	AllowedCategories  []string `mapstructure:"allowed_categories"`
	ExcludedCategories []string `mapstructure:"excluded_categories"`
	BodyLimit          int      `mapstructure:"body_limit"`
	SessionBuffer      int      `mapstructure:"session_buffer"`
	// LaunchWebhook receives {"url": ...} when a click needs a new session.
	LaunchWebhook string `mapstructure:"launch_webhook"`
}

// TriggerConfig drives the periodic queue pass.
type TriggerConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Tag             string `mapstructure:"tag"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID  string `mapstructure:"project_id"`
	TopicName  string `mapstructure:"topic_name"`
	EventTopic string `mapstructure:"event_topic"`
}

// HTTPConfig configures the outbound HTTP clients.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RateLimitConfig bounds per-host request rates for prefetching.
type RateLimitConfig struct {
	Enabled      bool               `mapstructure:"enabled"`
	DefaultRPS   float64            `mapstructure:"default_rps"`
	DefaultBurst int                `mapstructure:"default_burst"`
	Hosts        map[string]float64 `mapstructure:"hosts"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OFFLINE")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("origin.url", "http://localhost:3000/")
	v.SetDefault("origin.offline_document", "/offline.html")
	v.SetDefault("origin.placeholder", "/asset/192.png")
	v.SetDefault("origin.catalog_path", "/data.json")
	v.SetDefault("cache.prefix", "tfstream")
	v.SetDefault("cache.version", "v1")
	v.SetDefault("cache.write_timeout_seconds", 30)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.sqlite_path", "data/offline.db")
	v.SetDefault("storage.local_dir", "data/tiers")
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.sqlite_path", "data/offline.db")
	v.SetDefault("queue.postgres.table", "notification_queue")
	v.SetDefault("queue.postgres.max_conns", 4)
	v.SetDefault("queue.backoff_base_seconds", 30)
	v.SetDefault("queue.backoff_max_seconds", 3600)
	v.SetDefault("prefetch.concurrency", 4)
	v.SetDefault("prefetch.max_body_bytes", 10*1024*1024)
	v.SetDefault("prefetch.on_start", true)
	v.SetDefault("notifications.app_name", "TF-Stream")
	v.SetDefault("notifications.deep_link_pattern", "/watch/{slug}")
	v.SetDefault("notifications.allowed_categories", []string{"film", "série", "serie", "anime", "animé"})
	v.SetDefault("notifications.excluded_categories", []string{"post"})
	v.SetDefault("notifications.body_limit", 120)
	v.SetDefault("notifications.session_buffer", 64)
	v.SetDefault("trigger.enabled", true)
	v.SetDefault("trigger.tag", "tfstream-notifs")
	v.SetDefault("trigger.interval_seconds", 3600)
	v.SetDefault("pubsub.event_topic", "notification-shown")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "offline-catalog-worker/0.1")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.default_rps", 4.0)
	v.SetDefault("ratelimit.default_burst", 4)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	u, err := url.Parse(c.Origin.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("origin.url must be an absolute URL")
	}
	if c.Cache.Prefix == "" || c.Cache.Version == "" {
		return fmt.Errorf("cache.prefix and cache.version are required")
	}
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, sqlite, local, gcs", c.Storage.Backend)
	}
	switch c.Queue.Backend {
	case "memory":
	case "sqlite":
		if c.Queue.SQLitePath == "" {
			return fmt.Errorf("queue.sqlite_path is required for the sqlite backend")
		}
	case "postgres":
		if c.Queue.Postgres.DSN == "" {
			return fmt.Errorf("queue.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("queue.backend %q is not one of memory, sqlite, postgres", c.Queue.Backend)
	}
	if c.Queue.BackoffBaseSeconds <= 0 || c.Queue.BackoffMaxSeconds < c.Queue.BackoffBaseSeconds {
		return fmt.Errorf("queue.backoff_max_seconds must be >= queue.backoff_base_seconds > 0")
	}
	if c.Prefetch.Concurrency <= 0 {
		return fmt.Errorf("prefetch.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Trigger.Enabled && c.Trigger.IntervalSeconds <= 0 {
		return fmt.Errorf("trigger.interval_seconds must be > 0 when the trigger is enabled")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// Scope returns the origin URL with a trailing slash.
func (c Config) Scope() string {
	if strings.HasSuffix(c.Origin.URL, "/") {
		return c.Origin.URL
	}
	return c.Origin.URL + "/"
}

// Resolve makes path absolute against the origin.
func (c Config) Resolve(path string) string {
	base, err := url.Parse(c.Scope())
	if err != nil {
		return path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	return base.ResolveReference(ref).String()
}

// HTTPTimeout converts the HTTP timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds the drain on exit.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
