package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-approval/internal/application/dispatcher"
	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/application/service"
	"github.com/garyjia/procurement-approval/internal/application/workflow"
	"github.com/garyjia/procurement-approval/internal/config"
	domainwf "github.com/garyjia/procurement-approval/internal/domain/workflow"
	"github.com/garyjia/procurement-approval/internal/infrastructure/directory"
	"github.com/garyjia/procurement-approval/internal/infrastructure/idgen"
	"github.com/garyjia/procurement-approval/internal/infrastructure/worker"
	httpserver "github.com/garyjia/procurement-approval/internal/interfaces/http"
	"github.com/garyjia/procurement-approval/internal/observability"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger
	clock  domainwf.Clock

	// Observability
	registry *prometheus.Registry
	metrics  *observability.Metrics

	// Infrastructure
	database     *DatabaseBundle
	repositories *RepositoryBundle
	directory    *directory.Static
	sender       port.NotificationSender

	// Application
	policies   *PolicyBundle
	dispatcher dispatcher.Dispatcher
	services   *ServiceBundle

	// Interfaces
	workers *worker.WorkerManager
	server  *httpserver.Server

	// Lifecycle
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Requests port.RequestRepository
	Orders   port.OrderRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Approval     service.ApprovalService
	Order        service.OrderService
	Notification service.NotificationService
	Workflow     workflow.WorkflowEngine
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Option configures the container
type Option func(*Container)

// WithClock overrides the wall clock, mainly for tests
func WithClock(clock domainwf.Clock) Option {
	return func(c *Container) {
		c.clock = clock
	}
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config: cfg,
		logger: logger,
		clock:  domainwf.SystemClock,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Metrics registry
// 2. Database and repositories
// 3. Directory, policies and notification sender
// 4. Event dispatcher and application services
// 5. Workers
// 6. HTTP server (constructed, started by the caller)
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	c.initMetrics()

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initDomain(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize policies: %w", err)
	}
	c.logger.Info("Policies loaded", zap.Int("policy_count", len(c.policies.Policies)))

	if err := c.initServices(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	if err := c.initWorkers(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	c.initServer()

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errs[0])
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever Start managed to build
func (c *Container) teardown() []error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
		c.workers = nil
	}

	// pending notifications and order transitions drain before the database goes away
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
		c.dispatcher = nil
	}

	if c.database != nil {
		if err := c.database.DB.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.database = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	mark := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}

	if c.database != nil {
		if err := c.database.DB.PingContext(ctx); err != nil {
			mark("database", ComponentHealth{Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			mark("database", ComponentHealth{Healthy: true})
		}
	} else {
		mark("database", ComponentHealth{Message: "not initialized"})
	}

	if c.workers != nil {
		for _, ws := range c.workers.Statuses() {
			h := ComponentHealth{Healthy: ws.Running}
			if !ws.Running {
				h.Message = "not running"
			}
			mark("worker:"+ws.Name, h)
		}
		mark("workers", ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()),
		})
	} else {
		mark("workers", ComponentHealth{Message: "not initialized"})
	}

	if c.dispatcher != nil {
		mark("dispatcher", ComponentHealth{Healthy: true})
	} else {
		mark("dispatcher", ComponentHealth{Message: "not initialized"})
	}

	if c.policies != nil {
		mark("policies", ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("policy count: %d", len(c.policies.Policies)),
		})
	} else {
		mark("policies", ComponentHealth{Message: "not initialized"})
	}

	return status
}

func (c *Container) initMetrics() {
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.metrics = observability.InitMetrics(c.registry)
}

// initDatabase opens the database and creates the repositories using providers.
func (c *Container) initDatabase() error {
	db, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.database = db

	repos, err := ProvideRepositories(db.TransactionMgr, c.logger.Named("repository"))
	if err != nil {
		c.teardown()
		return err
	}
	c.repositories = repos
	return nil
}

// initDomain builds the approver directory, policies and notification sender.
func (c *Container) initDomain() error {
	dir, err := ProvideDirectory(&c.config.Approvers)
	if err != nil {
		return err
	}
	c.directory = dir

	policies, err := ProvidePolicies(&c.config.Policies, idgen.NewUUIDGenerator(), c.clock)
	if err != nil {
		return err
	}
	c.policies = policies

	sender, err := ProvideNotificationSender(c.config, c.logger.Named("notification"))
	if err != nil {
		return err
	}
	c.sender = sender
	return nil
}

// initServices creates the dispatcher and wires the services to it.
func (c *Container) initServices() error {
	disp, err := ProvideDispatcher(c.logger, c.metrics)
	if err != nil {
		return err
	}
	c.dispatcher = disp

	services, err := ProvideServices(&ServiceDeps{
		Repos:      c.repositories,
		TxManager:  c.database.TransactionMgr,
		Policies:   c.policies,
		Directory:  c.directory,
		Dispatcher: c.dispatcher,
		Sender:     c.sender,
		Metrics:    c.metrics,
		IDs:        idgen.NewUUIDGenerator(),
		Clock:      c.clock,
		ReportDir:  c.config.Report.OutputDir,
		Logger:     c.logger.Named("service"),
	})
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

// initWorkers creates and starts the background workers.
func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Scheduler: &c.config.Scheduler,
		Sweeper:   c.services.Approval,
		Metrics:   c.metrics,
		Clock:     c.clock,
		Logger:    c.logger.Named("worker"),
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

// initServer builds the HTTP server on top of the services.
func (c *Container) initServer() {
	cfg := c.config.Server
	c.server = httpserver.NewServer(
		httpserver.ServerConfig{
			Host:            cfg.Host,
			Port:            cfg.Port,
			ReadTimeout:     cfg.ReadTimeout,
			WriteTimeout:    cfg.WriteTimeout,
			ShutdownTimeout: cfg.ShutdownTimeout,
		},
		c.services.Approval,
		c.services.Order,
		c.directory,
		&zapLoggerAdapter{logger: c.logger.Named("http")},
		httpserver.WithMetrics(c.metrics, c.registry),
		httpserver.WithClock(c.clock),
		httpserver.WithHealthCheck("database", c.database.DB.PingContext),
	)
}

// Getters for accessing container components

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Server returns the HTTP server.
func (c *Container) Server() *httpserver.Server {
	return c.server
}

// Metrics returns the application metrics.
func (c *Container) Metrics() *observability.Metrics {
	return c.metrics
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the key/value Logger interfaces of
// the service, dispatcher and http packages.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
