package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	s3blob "github.com/alanyoungcy/arbwatch/internal/blob/s3"
	"github.com/alanyoungcy/arbwatch/internal/cache/redis"
	"github.com/alanyoungcy/arbwatch/internal/config"
	"github.com/alanyoungcy/arbwatch/internal/crypto"
	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/feed"
	"github.com/alanyoungcy/arbwatch/internal/notify"
	"github.com/alanyoungcy/arbwatch/internal/server/handler"
	"github.com/alanyoungcy/arbwatch/internal/store/memory"
	"github.com/alanyoungcy/arbwatch/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on. Optional
// members are nil when their backend is not configured.
type Dependencies struct {
	SnapshotStore domain.SnapshotStore
	PriceReader   domain.PriceReader
	AlertStore    domain.AlertStore

	// Redis-backed; nil without [redis].
	PriceCache  domain.PriceCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Nil unless aggregator.archive is set.
	Archiver domain.MinuteArchiver

	// Nil unless a venue uses transport nats.
	NATS *feed.NATSSource

	Notify *notify.Registry
	Health map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- Snapshot, minute and alert storage ---
	switch cfg.Store.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.SnapshotStore = postgres.NewSnapshotStore(pool)
		deps.PriceReader = postgres.NewPriceStore(pool)
		deps.AlertStore = postgres.NewAlertStore(pool)
		deps.Health["postgres"] = pgClient
	default:
		mem := memory.New()
		deps.SnapshotStore = mem
		deps.PriceReader = mem
		deps.AlertStore = mem
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Health["redis"] = redisClient
	}

	// --- S3 minute archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		if cfg.Aggregator.Archive {
			deps.Archiver = s3blob.NewMinuteArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client))
		}
		deps.Health["s3"] = handler.PingFunc(s3Client.Health)
	}

	// --- NATS ---
	if cfg.Collects() && usesNATS(cfg.EnabledVenues()) {
		src, err := feed.DialNATS(feed.NATSConfig{
			URL:            cfg.NATS.URL,
			Name:           cfg.NATS.Name,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			ConnectTimeout: cfg.NATS.ConnectTimeout.Duration,
			ReconnectWait:  cfg.NATS.ReconnectWait.Duration,
			MaxReconnects:  cfg.NATS.MaxReconnects,
		}, logger)
		if err != nil {
			return fail("nats", err)
		}
		closers = append(closers, func() {
			if err := src.Close(); err != nil {
				logger.Warn("nats close", slog.String("error", err.Error()))
			}
		})
		deps.NATS = src
	}

	// --- Notifications ---
	deps.Notify = notify.NewRegistry(logger)
	if cfg.Notify.Console {
		deps.Notify.Register(notify.NewConsoleSender(os.Stdout))
	}
	if cfg.Notify.WebhookURL != "" {
		wh := notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookHeaders)
		if cfg.Notify.WebhookSecret != "" {
			wh.WithSigner(crypto.NewSigner(cfg.Notify.WebhookSecret, nil))
		}
		deps.Notify.Register(wh)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		deps.Notify.Register(notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		deps.Notify.Register(notify.NewTelegramSender(cfg.Notify.TelegramAPIBase, cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}

	return deps, cleanup, nil
}

func usesNATS(venues []config.VenueConfig) bool {
	for _, v := range venues {
		if v.Transport == "nats" {
			return true
		}
	}
	return false
}
