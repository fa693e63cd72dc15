// Package config defines arbwatch's configuration and its validation.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBWATCH_* environment variables.
type Config struct {
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	Store      StoreConfig      `toml:"store"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	NATS       NATSConfig       `toml:"nats"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	Venues     []VenueConfig    `toml:"venues"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Alerts     AlertsConfig     `toml:"alerts"`
	Notify     NotifyConfig     `toml:"notify"`
	Server     ServerConfig     `toml:"server"`
}

// StoreConfig selects where window and minute rows live.
type StoreConfig struct {
	Driver string `toml:"driver"` // "memory" or "postgres"
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis backs the latest
// price cache, pub/sub, the alert stream, the scan lock and the API rate
// limiter. Those features are skipped when it is disabled.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	PriceTTL   duration `toml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the minute
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NATSConfig configures the shared connection used by venues with
// transport "nats".
type NATSConfig struct {
	URL            string   `toml:"url"`
	Name           string   `toml:"name"`
	SubjectPrefix  string   `toml:"subject_prefix"`
	ConnectTimeout duration `toml:"connect_timeout"`
	ReconnectWait  duration `toml:"reconnect_wait"`
	MaxReconnects  int      `toml:"max_reconnects"`
}

// AggregatorConfig sizes the windows and sets flush and retention cadence.
type AggregatorConfig struct {
	WindowDuration   duration `toml:"window_duration"`
	WindowsPerMinute int      `toml:"windows_per_minute"`
	FlushCheck       duration `toml:"flush_check"`
	PruneInterval    duration `toml:"prune_interval"`
	Retention        duration `toml:"retention"`
	InboundBuffer    int      `toml:"inbound_buffer"`
	// Archive copies minute rows to S3 before they are pruned.
	Archive bool `toml:"archive"`
}

// VenueConfig describes one exchange feed.
type VenueConfig struct {
	Name              string            `toml:"name"`
	Disabled          bool              `toml:"disabled"`
	Transport         string            `toml:"transport"` // "ws" or "nats"
	URL               string            `toml:"url"`
	Decoder           string            `toml:"decoder"`
	Subscribe         []string          `toml:"subscribe"`
	Headers           map[string]string `toml:"headers"`
	ReconnectDelay    duration          `toml:"reconnect_delay"`
	MaxReconnectDelay duration          `toml:"max_reconnect_delay"`
}

// ArbitrageConfig holds the defaults used by the HTTP scan endpoint.
type ArbitrageConfig struct {
	Exchanges        []string `toml:"exchanges"`
	Symbols          []string `toml:"symbols"`
	MinProfitPercent float64  `toml:"min_profit_percent"`
}

// AlertsConfig controls the alert scheduler.
type AlertsConfig struct {
	Interval        duration     `toml:"interval"`
	CleanupInterval duration     `toml:"cleanup_interval"`
	MaxAge          duration     `toml:"max_age"`
	Rules           []RuleConfig `toml:"rules"`
}

// RuleConfig is one alert subscription. Empty Exchanges falls back to
// arbitrage.exchanges.
type RuleConfig struct {
	Name             string   `toml:"name"`
	Exchanges        []string `toml:"exchanges"`
	Symbols          []string `toml:"symbols"`
	MinProfitPercent float64  `toml:"min_profit_percent"`
	Cooldown         duration `toml:"cooldown"`
	Channels         []string `toml:"channels"`
}

// NotifyConfig holds delivery channel credentials.
type NotifyConfig struct {
	Console           bool              `toml:"console"`
	WebhookURL        string            `toml:"webhook_url"`
	WebhookHeaders    map[string]string `toml:"webhook_headers"`
	WebhookSecret     string            `toml:"webhook_secret"`
	TelegramAPIBase   string            `toml:"telegram_api_base"`
	TelegramToken     string            `toml:"telegram_token"`
	TelegramChatID    string            `toml:"telegram_chat_id"`
	DiscordWebhookURL string            `toml:"discord_webhook_url"`
	DiscordUsername   string            `toml:"discord_username"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Store:    StoreConfig{Driver: "memory"},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "arbwatch",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "arbwatch:",
			PriceTTL:   duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbwatch-archive",
			ForcePathStyle: true,
		},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			Name:           "arbwatch",
			SubjectPrefix:  "ticks",
			ConnectTimeout: duration{5 * time.Second},
			ReconnectWait:  duration{2 * time.Second},
			MaxReconnects:  -1,
		},
		Aggregator: AggregatorConfig{
			WindowDuration:   duration{5 * time.Second},
			WindowsPerMinute: 12,
			FlushCheck:       duration{time.Second},
			PruneInterval:    duration{time.Minute},
			Retention:        duration{time.Hour},
			InboundBuffer:    1024,
		},
		Arbitrage: ArbitrageConfig{
			MinProfitPercent: 0.1,
		},
		Alerts: AlertsConfig{
			Interval:        duration{30 * time.Second},
			CleanupInterval: duration{10 * time.Minute},
			MaxAge:          duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Console:         true,
			TelegramAPIBase: "https://api.telegram.org",
			DiscordUsername: "arbwatch",
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
	}
}

var (
	validModes     = []string{"collect", "scan", "server", "full"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validDrivers   = []string{"memory", "postgres"}
	validChannels  = []string{"console", "webhook", "discord", "telegram"}
)

// Collects reports whether mode runs venue feeds.
func (c *Config) Collects() bool { return c.Mode == "collect" || c.Mode == "full" }

// AlertsEnabled reports whether mode runs the alert scheduler.
func (c *Config) AlertsEnabled() bool { return c.Mode == "scan" || c.Mode == "full" }

// Serves reports whether mode runs the HTTP API.
func (c *Config) Serves() bool { return c.Mode == "server" || c.Mode == "full" }

// EnabledVenues returns the venues not marked disabled.
func (c *Config) EnabledVenues() []VenueConfig {
	var out []VenueConfig
	for _, v := range c.Venues {
		if !v.Disabled {
			out = append(out, v)
		}
	}
	return out
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	c.Mode = strings.ToLower(c.Mode)
	if !slices.Contains(validModes, c.Mode) {
		add("unknown mode %q (valid: %s)", c.Mode, strings.Join(validModes, ", "))
	}
	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		add("unknown log_level %q (valid: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if !slices.Contains(validDrivers, c.Store.Driver) {
		add("store: unknown driver %q (valid: %s)", c.Store.Driver, strings.Join(validDrivers, ", "))
	}
	if c.Store.Driver == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}
	if c.Store.Driver == "memory" && c.Mode != "full" {
		add("store: driver memory only shares data within one process; use mode full or driver postgres")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}

	c.validateAggregator(add)
	if c.Collects() {
		c.validateVenues(add)
	}
	if c.AlertsEnabled() {
		c.validateAlerts(add)
	}

	if c.Serves() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateAggregator(add func(string, ...any)) {
	a := c.Aggregator
	if a.WindowDuration.Duration <= 0 || a.WindowsPerMinute <= 0 ||
		a.WindowDuration.Duration*time.Duration(a.WindowsPerMinute) != time.Minute {
		add("aggregator: window_duration (%s) x windows_per_minute (%d) must equal 1m",
			a.WindowDuration.Duration, a.WindowsPerMinute)
	}
	if a.FlushCheck.Duration <= 0 {
		add("aggregator: flush_check must be > 0")
	}
	if a.Retention.Duration < time.Minute {
		add("aggregator: retention must be >= 1m")
	}
	if a.Archive && !c.S3.Enabled {
		add("aggregator: archive requires s3.enabled")
	}
}

func (c *Config) validateVenues(add func(string, ...any)) {
	venues := c.EnabledVenues()
	if len(venues) == 0 {
		add("venues: at least one enabled venue is required for mode %s", c.Mode)
	}
	seen := make(map[string]bool, len(venues))
	for i, v := range venues {
		if v.Name == "" {
			add("venues[%d]: name must not be empty", i)
			continue
		}
		if seen[v.Name] {
			add("venues: duplicate name %q", v.Name)
		}
		seen[v.Name] = true
		switch v.Transport {
		case "ws":
			if v.URL == "" {
				add("venues.%s: url is required for transport ws", v.Name)
			}
		case "nats":
			if c.NATS.URL == "" {
				add("venues.%s: nats.url is required for transport nats", v.Name)
			}
		default:
			add("venues.%s: unknown transport %q (valid: ws, nats)", v.Name, v.Transport)
		}
	}
}

func (c *Config) validateAlerts(add func(string, ...any)) {
	if len(c.Alerts.Rules) == 0 {
		add("alerts: at least one rule is required for mode %s", c.Mode)
	}
	if c.Alerts.Interval.Duration <= 0 {
		add("alerts: interval must be > 0")
	}
	for i, r := range c.Alerts.Rules {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rules[%d]", i)
			add("alerts.%s: name must not be empty", name)
		}
		exchanges := r.Exchanges
		if len(exchanges) == 0 {
			exchanges = c.Arbitrage.Exchanges
		}
		if len(exchanges) < 2 {
			add("alerts.%s: at least two exchanges are required", name)
		}
		if r.Cooldown.Duration < 0 {
			add("alerts.%s: cooldown must be >= 0", name)
		}
		for _, ch := range r.Channels {
			if !slices.Contains(validChannels, ch) {
				add("alerts.%s: unknown channel %q (valid: %s)", name, ch, strings.Join(validChannels, ", "))
				continue
			}
			if !c.Notify.configured(ch) {
				add("alerts.%s: channel %q is not configured under [notify]", name, ch)
			}
		}
	}
}

func (n NotifyConfig) configured(channel string) bool {
	switch channel {
	case "console":
		return n.Console
	case "webhook":
		return n.WebhookURL != ""
	case "discord":
		return n.DiscordWebhookURL != ""
	case "telegram":
		return n.TelegramToken != "" && n.TelegramChatID != ""
	}
	return false
}
