package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"toolbridge/internal/domain"
	"toolbridge/internal/infra/config"
	"toolbridge/internal/infra/metrics"
	"toolbridge/internal/infra/middleware"
	"toolbridge/internal/usecase/catalog"
	"toolbridge/internal/usecase/orchestrator"
)

// ChatStarter begins a streamed conversation turn.
type ChatStarter interface {
	Start(ctx context.Context, turn orchestrator.Turn) (<-chan domain.StreamEvent, error)
}

// Catalog is the request/response surface over the compiled tools.
type Catalog interface {
	ListTools() []catalog.ToolInfo
	ExecuteTool(ctx context.Context, name string, params domain.Params) (domain.ExecutionResult, error)
	HealthCheck(ctx context.Context) domain.ExecutionResult
	Reload(ctx context.Context) (int, error)
}

// Deps holds the use cases served by the gateway.
type Deps struct {
	Chat    ChatStarter
	Catalog Catalog
	Metrics *metrics.Provider
}

// Server is the HTTP gateway. It serves SSE and WebSocket chat streams
// alongside the tool catalog endpoints.
type Server struct {
	cfg     config.ServerConfig
	chat    ChatStarter
	catalog Catalog
	metrics *metrics.Provider
	logger  *slog.Logger
	started time.Time

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a gateway server.
func NewServer(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		chat:    deps.Chat,
		catalog: deps.Catalog,
		metrics: deps.Metrics,
		logger:  logger.With("component", "gateway"),
		started: time.Now(),
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
// ctx bounds background work owned by the middleware.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/chat/ws", s.handleChatWS)
	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("POST /v1/tools/{name}/execute", s.handleExecuteTool)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/admin/reload", s.handleReload)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mws := []func(http.Handler) http.Handler{
		middleware.RequestLogger(s.logger),
		middleware.SecurityHeaders,
		middleware.CORS(s.cfg.AllowedOrigins),
	}
	if s.cfg.RateLimit.Enabled {
		mws = append(mws, middleware.RateLimit(ctx, s.cfg.RateLimit))
	}
	return middleware.Chain(mux, mws...)
}

// Start listens on the configured address and serves until ctx is
// cancelled or Stop is called. Cancelling ctx shuts the server down
// gracefully and Start returns once the shutdown has finished.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		stopped <- s.Stop(context.WithoutCancel(ctx))
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	if ctx.Err() != nil {
		return <-stopped
	}
	return nil
}

// Stop gracefully shuts down the server, waiting up to the configured
// shutdown timeout for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("gateway stopping")
	return srv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}
