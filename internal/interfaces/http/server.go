// Package http exposes the approval and purchase-order services over gin.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/garyjia/procurement-approval/internal/application/service"
	"github.com/garyjia/procurement-approval/internal/domain/approval"
	domainwf "github.com/garyjia/procurement-approval/internal/domain/workflow"
	"github.com/garyjia/procurement-approval/internal/observability"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ActorDirectory looks up the users named in requests
type ActorDirectory interface {
	Actor(id string) (approval.Actor, bool)
}

// HealthCheck reports whether a backing component is usable
type HealthCheck func(ctx context.Context) error

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	metrics    *observability.Metrics
	gatherer   prometheus.Gatherer
	logger     Logger
}

// Option configures the server
type Option func(*Server)

// WithMetrics records request metrics and serves them on /metrics
func WithMetrics(m *observability.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithHealthCheck adds a named component to /health
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.handlers.checks[name] = check
	}
}

// WithClock overrides the clock used for expiry scans
func WithClock(clock domainwf.Clock) Option {
	return func(s *Server) {
		s.handlers.clock = clock
	}
}

// NewServer creates a new HTTP server with the given services
func NewServer(
	config ServerConfig,
	approvalService service.ApprovalService,
	orderService service.OrderService,
	directory ActorDirectory,
	logger Logger,
	opts ...Option,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:   config,
		router:   gin.New(),
		handlers: NewHandlers(approvalService, orderService, directory, logger),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(server)
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery(), s.requestLogger())
	if s.metrics != nil {
		s.router.Use(s.metrics.GinMiddleware())
	}
}

// requestLogger logs one line per request keyed by the matched route.
// Server errors are logged at error level together with any gin errors.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := []interface{}{
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			if len(c.Errors) > 0 {
				fields = append(fields, "errors", c.Errors.String())
			}
			s.logger.Error("HTTP request failed", fields...)
			return
		}
		s.logger.Info("HTTP request", fields...)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := s.handlers

	// Health check
	s.router.GET("/health", h.HealthCheck)

	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(observability.Handler(s.gatherer)))
	}

	// API routes
	api := s.router.Group("/api")
	{
		api.GET("/policies", h.ListPolicies)

		// Policy evaluation
		api.POST("/approvals/check", h.CheckApproval)
		api.POST("/approvals/submit", h.SubmitForApproval)

		// Requests
		api.POST("/requests", h.CreateRequest)
		api.GET("/requests", h.ListRequests)
		api.POST("/requests/expire", h.ExpireOverdue)
		api.GET("/requests/:id", h.GetRequest)
		api.POST("/requests/:id/decisions", h.Decide)
		api.POST("/requests/:id/cancel", h.CancelRequest)
		api.GET("/requests/:id/capabilities", h.Capabilities)

		// Reports
		api.GET("/reports/requests.xlsx", h.ExportRequests)
		api.POST("/reports/archive", h.ArchiveRequests)

		// Purchase orders
		api.POST("/orders", h.CreateOrder)
		api.GET("/orders/:id", h.GetOrder)
		api.POST("/orders/:id/submit", h.SubmitOrder)
		api.POST("/orders/:id/revise", h.ReviseOrder)
		api.POST("/orders/:id/transitions", h.TransitionOrder)
		api.GET("/orders/:id/actions", h.OrderActions)
	}
}

// Start binds the listener and serves until ctx is cancelled, then shuts
// down gracefully. A bind failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address(), err)
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.Info("HTTP server listening", "address", ln.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("HTTP server stopped unexpectedly", "error", err)
		return err
	}
}

// Stop drains in-flight requests within the shutdown timeout
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultServerConfig().ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
