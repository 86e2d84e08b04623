package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/sbtcoptions/internal/blob/s3"
	"github.com/alanyoungcy/sbtcoptions/internal/cache/redis"
	"github.com/alanyoungcy/sbtcoptions/internal/config"
	"github.com/alanyoungcy/sbtcoptions/internal/custody"
	"github.com/alanyoungcy/sbtcoptions/internal/domain"
	"github.com/alanyoungcy/sbtcoptions/internal/notify"
	"github.com/alanyoungcy/sbtcoptions/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the modes need.
// Optional backends stay nil when disabled. It is constructed by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	StateStore domain.StateStore
	BlockStore domain.BlockStore
	MetaStore  domain.MetaStore
	AuditStore domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Custody vault debited and credited by the contract.
	Custody domain.Custody

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.BlockArchiver

	Notifier *notify.Notifier
}

// needsPostgres reports whether mode persists chain state.
func needsPostgres(cfg *config.Config) bool {
	return cfg.Mode == "node" && cfg.Postgres.Enabled
}

// needsRedis reports whether mode uses the shared cache layer.
func needsRedis(cfg *config.Config) bool {
	return cfg.Mode == "node" && cfg.Redis.Enabled
}

// needsS3 reports whether mode reads or writes the block archive.
func needsS3(cfg *config.Config) bool {
	switch cfg.Mode {
	case "replay":
		return true
	case "node":
		return cfg.Archive.Enabled
	default:
		return false
	}
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

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if needsPostgres(cfg) {
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
		deps.StateStore = postgres.NewStateStore(pool)
		deps.BlockStore = postgres.NewBlockStore(pool)
		deps.MetaStore = postgres.NewMetaStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	var redisClient *redis.Client
	if needsRedis(cfg) {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			ClientName: "optionsd-" + cfg.Mode,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- Custody ---
	switch cfg.Custody.Backend {
	case "redis":
		if redisClient == nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: custody backend redis requires redis")
		}
		vault := redis.NewCustodyVault(redisClient, cfg.Custody.Namespace)
		if err := fundFaucet(ctx, vault, cfg.Custody.Faucet, logger); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: custody faucet: %w", err)
		}
		deps.Custody = vault
	default:
		vault := custody.NewMemoryVault()
		for p, amount := range cfg.Custody.Faucet {
			vault.Fund(domain.Principal(p), amount)
		}
		deps.Custody = vault
	}

	// --- S3 blob storage ---
	if needsS3(cfg) {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		// Archiving reads persisted blocks, so it needs Postgres too.
		if deps.BlockStore != nil {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.BlockStore,
				deps.MetaStore,
				deps.AuditStore,
				cfg.Archive.BatchSize,
				logger,
			)
		} else if cfg.Mode == "node" {
			logger.WarnContext(ctx, "archive enabled without postgres; archiving disabled")
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// faucetVault is a custody vault that can mint test balances.
type faucetVault interface {
	Fund(ctx context.Context, account domain.Principal, amount uint64) error
	Balance(ctx context.Context, account domain.Principal) (uint64, error)
}

// fundFaucet credits each faucet wallet that is still empty, so restarts
// against a shared vault do not mint twice.
func fundFaucet(ctx context.Context, v faucetVault, faucet map[string]uint64, logger *slog.Logger) error {
	for p, amount := range faucet {
		account := domain.Principal(p)
		bal, err := v.Balance(ctx, account)
		if err != nil {
			return err
		}
		if bal > 0 {
			continue
		}
		if err := v.Fund(ctx, account, amount); err != nil {
			return err
		}
		logger.InfoContext(ctx, "faucet funded wallet",
			slog.String("account", p),
			slog.Uint64("amount", amount),
		)
	}
	return nil
}
