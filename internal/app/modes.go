package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/celomarket/internal/server"
	"github.com/alanyoungcy/celomarket/internal/server/handler"
	"github.com/alanyoungcy/celomarket/internal/server/ws"
)

const (
	shutdownTimeout = 10 * time.Second
	guardSweepEvery = time.Minute
)

// ServeMode starts the HTTP API, the WebSocket hub and, when object storage
// is configured, the periodic journal archiver.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.Int64("chain_id", a.cfg.Chain.ChainID),
		slog.String("marketplace", deps.Ledger.MarketplaceAddress()),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("journal", deps.Journal != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.Bus, a.base, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: a.startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	market := deps.Marketplace
	srv := server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		CORSOrigins:      a.cfg.Server.CORSOrigins,
		APIKey:           a.cfg.Server.APIKey,
		IntentRateLimit:  a.cfg.Server.IntentRateLimit,
		IntentRateWindow: a.cfg.Server.IntentRateWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.Health, a.base),
		Status: &handler.StatusHandler{
			Mode:        a.cfg.Mode,
			ChainID:     a.cfg.Chain.ChainID,
			Marketplace: deps.Ledger.MarketplaceAddress(),
			StartedAt:   a.startedAt,
			Active:      market.Active,
		},
		Listings: handler.NewListingHandler(market.Reader(), deps.Connector, a.cfg.Chain.ExplorerURL, a.base),
		Intents:  handler.NewIntentHandler(market, a.base),
		Wallet:   handler.NewWalletHandler(deps.Connector, a.base),
	}, deps.Limiter, hub, a.base)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if deps.Archiver != nil && a.cfg.Archive.Interval.Duration > 0 {
		g.Go(func() error {
			return deps.Archiver.RunEvery(ctx, a.cfg.Archive.Interval.Duration)
		})
	}

	// Process-local locks expire lazily; sweep so abandoned keys do not pile up.
	if deps.Guard != nil {
		g.Go(func() error {
			ticker := time.NewTicker(guardSweepEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					deps.Guard.Cleanup()
				}
			}
		})
	}

	return g.Wait()
}

// ArchiveMode moves journal rows past the retention window to object
// storage once, then returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver not configured")
	}
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	n, err := deps.Archiver.Run(ctx)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive complete", slog.Int64("archived", n))
	return nil
}

// MigrateMode applies pending schema migrations, then returns.
func (a *App) MigrateMode(ctx context.Context, deps *Dependencies) error {
	if deps.Postgres == nil {
		return fmt.Errorf("migrate mode: postgres not configured")
	}
	applied, err := deps.Postgres.RunMigrations(ctx)
	if err != nil {
		return fmt.Errorf("migrate mode: %w", err)
	}
	if len(applied) == 0 {
		a.logger.InfoContext(ctx, "schema up to date")
		return nil
	}
	a.logger.InfoContext(ctx, "migrations applied", slog.Any("migrations", applied))
	return nil
}
