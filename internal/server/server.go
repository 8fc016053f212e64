// Package server exposes the marketplace over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/celomarket/internal/domain"
	"github.com/alanyoungcy/celomarket/internal/server/handler"
	"github.com/alanyoungcy/celomarket/internal/server/middleware"
	"github.com/alanyoungcy/celomarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// IntentRateLimit bounds intent requests per client per
	// IntentRateWindow. Zero disables limiting.
	IntentRateLimit  int
	IntentRateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Listings *handler.ListingHandler
	Intents  *handler.IntentHandler
	Wallet   *handler.WalletHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	intents    *handler.IntentHandler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in logging, CORS and
// auth middleware. limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	limited := func(h http.HandlerFunc) http.Handler {
		if limiter == nil || cfg.IntentRateLimit <= 0 {
			return h
		}
		return middleware.RateLimit(limiter, "intent", cfg.IntentRateLimit, cfg.IntentRateWindow, logger)(h)
	}

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	// Listing reads.
	mux.HandleFunc("GET /api/listings", handlers.Listings.ListListings)
	mux.HandleFunc("GET /api/listings/{id}", handlers.Listings.GetListing)
	mux.HandleFunc("GET /api/listings/{id}/comments", handlers.Listings.GetComments)
	mux.HandleFunc("GET /api/listings/{id}/liked", handlers.Listings.GetLiked)
	mux.HandleFunc("POST /api/listings/{id}/refresh", handlers.Listings.RefreshListing)

	// Intents.
	mux.Handle("POST /api/listings/{id}/purchase", limited(handlers.Intents.Purchase))
	mux.Handle("POST /api/listings/{id}/like", limited(handlers.Intents.Like))
	mux.Handle("POST /api/listings/{id}/unlike", limited(handlers.Intents.Unlike))
	mux.Handle("POST /api/listings/{id}/comments", limited(handlers.Intents.Comment))
	mux.HandleFunc("GET /api/listings/{id}/intents", handlers.Intents.ListingIntents)
	mux.HandleFunc("GET /api/intents/history", handlers.Intents.History)

	// Wallet.
	mux.HandleFunc("GET /api/wallet", handlers.Wallet.GetWallet)
	mux.HandleFunc("POST /api/wallet/connect", handlers.Wallet.Connect)
	mux.HandleFunc("DELETE /api/wallet", handlers.Wallet.Disconnect)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		intents: handlers.Intents,
		logger:  logger,
	}
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, then waits for in-flight requests and
// background intents within the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}

	return s.intentsWait(ctx)
}

func (s *Server) intentsWait(ctx context.Context) error {
	if s.intents == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.intents.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("server: background intents still running: %w", ctx.Err())
	}
}
