package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/perparb/internal/blob/s3"
	"github.com/alanyoungcy/perparb/internal/cache/redis"
	"github.com/alanyoungcy/perparb/internal/config"
	"github.com/alanyoungcy/perparb/internal/domain"
	"github.com/alanyoungcy/perparb/internal/notify"
	"github.com/alanyoungcy/perparb/internal/server/handler"
	"github.com/alanyoungcy/perparb/internal/store/postgres"
)

// Dependencies bundles the infrastructure the engine runs on. Every field
// is nil when its backend is disabled in the configuration.
type Dependencies struct {
	// Stores
	ExecutionStore domain.ExecutionStore
	AuditStore     domain.AuditStore

	// Caches
	Redis       *redis.Client
	QuoteCache  domain.QuoteCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver *s3blob.ArchiveImpl

	// Notifications
	Notifier *notify.Notifier

	// Health lists the backends reported by /healthz.
	Health map[string]handler.Pinger
}

// Wire connects every enabled backend and returns the dependencies with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.ExecutionStore = postgres.NewExecutionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient
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
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		ttl := time.Duration(cfg.Redis.CacheTTLMinutes) * time.Minute
		deps.Redis = redisClient
		deps.QuoteCache = redis.NewQuoteCache(redisClient, ttl)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.Health["redis"] = redisClient
	}

	// --- S3 archive ---
	if cfg.S3.Enabled && deps.ExecutionStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.ExecutionStore, deps.AuditStore, logger)
		deps.Health["s3"] = pingFunc(s3Client.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if deps.SignalBus != nil {
		senders = append(senders, notify.NewBusSender(deps.SignalBus, notify.AlertChannel))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }
