package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
	"github.com/alanyoungcy/sbtcoptions/internal/server/handler"
	"github.com/alanyoungcy/sbtcoptions/internal/server/middleware"
	"github.com/alanyoungcy/sbtcoptions/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // with HMACSecret also empty, authentication is disabled
	HMACSecret  string
	RateLimit   int
	RateWindow  time.Duration
	// ManualMining exposes POST /api/blocks/mine.
	ManualMining bool
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Tx       *handler.TxHandler
	Blocks   *handler.BlockHandler
	Contract *handler.ContractHandler
}

// Server is the HTTP + WebSocket API of the options node.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in the middleware chain.
// limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Health.GetStatus)

	mux.HandleFunc("POST /api/tx", handlers.Tx.SubmitTx)
	mux.HandleFunc("GET /api/tx/{id}", handlers.Tx.GetReceipt)

	mux.HandleFunc("GET /api/blocks/latest", handlers.Blocks.LatestBlock)
	mux.HandleFunc("GET /api/blocks/{height}", handlers.Blocks.GetBlock)
	if cfg.ManualMining {
		mux.HandleFunc("POST /api/blocks/mine", handlers.Blocks.MineBlock)
	}

	mux.HandleFunc("GET /api/options", handlers.Contract.ListOptions)
	mux.HandleFunc("GET /api/options/{id}", handlers.Contract.GetOption)
	mux.HandleFunc("GET /api/accounts/{principal}", handlers.Contract.GetAccount)
	mux.HandleFunc("GET /api/oracle", handlers.Contract.GetOracle)
	mux.HandleFunc("GET /api/contract", handlers.Contract.GetContract)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Auth(middleware.AuthConfig{
		APIKey:     cfg.APIKey,
		HMACSecret: cfg.HMACSecret,
		Public:     []string{"/api/health"},
	})(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
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

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
