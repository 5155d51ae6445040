package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/amoylab/dalle-sse/internal/broker"
	"github.com/amoylab/dalle-sse/internal/common/config"
	"github.com/amoylab/dalle-sse/internal/mcp/session"
	"github.com/amoylab/dalle-sse/internal/transport"
	"github.com/amoylab/dalle-sse/pkg/metrics"

	"github.com/gin-gonic/gin"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

type (
	// Server is the MCP HTTP+SSE server
	Server struct {
		logger  *zap.Logger
		cfg     config.ServerConfig
		router  *gin.Engine
		httpSrv *http.Server
		broker  broker.Broker
		// sessions holds the open streams of this process for the shutdown sweep
		sessions *session.Registry
		mcp      *mcpserver.MCPServer
		metrics  *metrics.Metrics

		metricsPath  string
		traceService string
		generator    ImageGenerator
		processor    ImageProcessor

		// shutdownCh is used to signal shutdown to all SSE connections
		shutdownCh   chan struct{}
		shutdownOnce sync.Once
	}

	// Option configures a Server
	Option func(*Server)
)

// WithMetrics records metrics on m and serves them on path
func WithMetrics(m *metrics.Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsPath = path
	}
}

// WithTracing instruments every route for the given service name
func WithTracing(serviceName string) Option {
	return func(s *Server) { s.traceService = serviceName }
}

// WithImageTool registers the generate_image tool
func WithImageTool(gen ImageGenerator, proc ImageProcessor) Option {
	return func(s *Server) {
		s.generator = gen
		s.processor = proc
	}
}

// NewServer creates a new MCP server
func NewServer(logger *zap.Logger, cfg config.ServerConfig, b broker.Broker, opts ...Option) (*Server, error) {
	if b == nil {
		return nil, errors.New("broker is required")
	}
	s := &Server{
		logger:     logger.Named("core"),
		cfg:        cfg,
		router:     gin.New(),
		broker:     b,
		sessions:   session.NewRegistry(logger),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcp = s.newMCPServer()

	if s.traceService != "" {
		s.router.Use(otelgin.Middleware(s.traceService))
	}
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware())
	}
	s.router.Use(s.loggerMiddleware())
	s.router.Use(s.recoveryMiddleware())

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/health_check", s.handleHealthCheck)
	if s.metrics != nil && s.metricsPath != "" {
		s.router.GET(s.metricsPath, gin.WrapH(s.metrics.Handler()))
	}
	s.router.GET(s.cfg.SSEPath, s.handleSSE)
	s.router.POST(s.cfg.MessagePath, s.handleMessage)
	s.logger.Debug("routes registered",
		zap.String("sse_path", s.cfg.SSEPath),
		zap.String("message_path", s.cfg.MessagePath))
}

func (s *Server) handleHealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.broker.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Health check passed.",
	})
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the registry of open streams
func (s *Server) Sessions() *session.Registry {
	return s.sessions
}

// Start serves HTTP in the background
func (s *Server) Start() {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.logger.Info("server listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("failed to start server", zap.Error(err))
		}
	}()
}

// Shutdown stops every stream, closes the sessions still registered, stops
// the HTTP server and finally closes the broker.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server", zap.Int("open_sessions", s.sessions.Len()))
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })

	var errs []error
	if err := s.sessions.CloseAll(ctx); err != nil {
		s.logger.Warn("failed to close sessions", zap.Error(err))
		errs = append(errs, err)
	}
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}
	if err := s.broker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close broker: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) transportOptions() []transport.Option {
	return []transport.Option{
		transport.WithLogger(s.logger),
		transport.WithMetrics(s.metrics),
		transport.WithKeepAlive(s.cfg.KeepAlive),
		transport.WithMaxBodyBytes(s.cfg.MaxBodyBytes),
	}
}
