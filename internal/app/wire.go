package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/celomarket/internal/blob/s3"
	"github.com/alanyoungcy/celomarket/internal/cache/memory"
	"github.com/alanyoungcy/celomarket/internal/cache/redis"
	"github.com/alanyoungcy/celomarket/internal/config"
	"github.com/alanyoungcy/celomarket/internal/crypto"
	"github.com/alanyoungcy/celomarket/internal/domain"
	"github.com/alanyoungcy/celomarket/internal/executor"
	"github.com/alanyoungcy/celomarket/internal/notify"
	"github.com/alanyoungcy/celomarket/internal/platform/celo"
	"github.com/alanyoungcy/celomarket/internal/server/handler"
	"github.com/alanyoungcy/celomarket/internal/service"
	"github.com/alanyoungcy/celomarket/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
// Fields for subsystems the mode does not use are left nil.
type Dependencies struct {
	// Ledger
	Ledger    *celo.Client
	Connector *crypto.Connector

	// Caches and coordination
	Cache   domain.ListingCache
	Locks   domain.LockManager
	Guard   *executor.Guard // set when locks are process-local
	Bus     domain.SignalBus
	Limiter domain.RateLimiter

	// Persistence
	Postgres *postgres.Client
	Journal  domain.IntentJournal
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
	Bridge   *notify.Bridge

	// Services
	Marketplace *service.Marketplace

	// Health probes keyed by dependency name.
	Health map[string]handler.HealthCheck
}

// needsLedger returns true for modes that talk to the chain.
func needsLedger(mode string) bool {
	return mode == "serve"
}

// needsPostgres returns true when the intent journal must be available.
func needsPostgres(cfg *config.Config) bool {
	switch cfg.Mode {
	case "migrate", "archive":
		return true
	default:
		return cfg.Postgres.Enabled
	}
}

// needsS3 returns true when object storage must be available.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "archive" || cfg.S3.Enabled
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

	deps := &Dependencies{Health: make(map[string]handler.HealthCheck)}

	// --- PostgreSQL intent journal ---
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
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)
		deps.Postgres = pgClient
		deps.Health["postgres"] = pgClient.Ping

		// Migrate mode applies them itself and reports what ran.
		if cfg.Postgres.RunMigrations && cfg.Mode != "migrate" {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				return fail("postgres migrations", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "postgres migrations applied", slog.Any("migrations", applied))
			}
		}
		deps.Journal = postgres.NewIntentStore(pgClient.Pool())
	}

	// --- S3 archive ---
	if needsS3(cfg) && deps.Journal != nil {
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
			return fail("s3", err)
		}
		deps.Health["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewArchiver(deps.Journal, s3blob.NewWriter(s3Client), s3blob.ArchiveConfig{
			Prefix:        cfg.Archive.Prefix,
			RetentionDays: cfg.Archive.RetentionDays,
			BatchSize:     cfg.Archive.BatchSize,
		}, logger)
	}

	if !needsLedger(cfg.Mode) {
		return deps, cleanup, nil
	}

	// --- Caches, locks, bus and rate limiting ---
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
		deps.Health["redis"] = redisClient.Ping

		deps.Cache = redis.NewListingCache(redisClient, cfg.Cache.TTL.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
	} else {
		deps.Guard = executor.NewGuard()
		deps.Cache = memory.NewListingCache(cfg.Cache.TTL.Duration)
		deps.Locks = deps.Guard
		deps.Bus = memory.NewSignalBus()
		deps.Limiter = memory.NewRateLimiter()
	}

	// --- Ledger ---
	ledger, closeLedger, err := celo.Dial(ctx, celo.Config{
		RPCURL:             cfg.Chain.RPCURL,
		ChainID:            cfg.Chain.ChainID,
		MarketplaceAddress: cfg.Chain.MarketplaceAddress,
		TokenAddress:       cfg.Chain.TokenAddress,
		PollInterval:       cfg.Confirm.PollInterval.Duration,
	}, logger)
	if err != nil {
		return fail("celo", err)
	}
	closers = append(closers, closeLedger)
	deps.Ledger = ledger
	deps.Health["celo"] = ledger.Health

	// --- Identity ---
	deps.Connector = crypto.NewConnector(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}, logger)
	if cfg.Wallet.AutoConnect {
		deps.Connector.PromptConnect(ctx)
		if _, ok := deps.Connector.CurrentIdentity(); !ok {
			return fail("wallet", fmt.Errorf("auto_connect is set but no wallet could be connected"))
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
	deps.Bridge = notify.NewBridge(deps.Notifier, cfg.Chain.ExplorerURL, logger)

	// --- Services ---
	exec := executor.NewExecutor(ledger, cfg.Confirm.Timeout.Duration, logger)
	deps.Marketplace = service.NewMarketplace(service.Deps{
		Reader:   service.NewListingReader(ledger, deps.Cache, logger),
		Executor: exec,
		Gate:     executor.NewApprovalGate(exec, ledger, cfg.Approval.ReuseStandingAllowance, logger),
		Identity: deps.Connector,
		Locks:    deps.Locks,
		Bus:      deps.Bus,
		Journal:  deps.Journal,
		Observer: deps.Bridge,
		Config: service.OrchestratorConfig{
			Spender:          ledger.MarketplaceAddress(),
			MinConfirmations: cfg.Confirm.MinConfirmations,
			LockTTL:          cfg.Cache.LockTTL.Duration,
		},
		Logger: logger,
	})

	return deps, cleanup, nil
}
