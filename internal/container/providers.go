// Package container provides dependency injection and lifecycle management
// for the procurement approval service.
package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/procurement-approval/internal/application/dispatcher"
	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/application/service"
	"github.com/garyjia/procurement-approval/internal/application/workflow"
	"github.com/garyjia/procurement-approval/internal/config"
	"github.com/garyjia/procurement-approval/internal/domain/approval"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	domainwf "github.com/garyjia/procurement-approval/internal/domain/workflow"
	"github.com/garyjia/procurement-approval/internal/infrastructure/directory"
	infraLark "github.com/garyjia/procurement-approval/internal/infrastructure/external/lark"
	"github.com/garyjia/procurement-approval/internal/infrastructure/notifier"
	"github.com/garyjia/procurement-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/procurement-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/procurement-approval/internal/infrastructure/storage"
	"github.com/garyjia/procurement-approval/internal/infrastructure/worker"
	"github.com/garyjia/procurement-approval/internal/observability"
	"github.com/garyjia/procurement-approval/internal/report"
	"github.com/garyjia/procurement-approval/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// PolicyBundle holds the loaded policies and the components evaluating them.
type PolicyBundle struct {
	Policies []approval.Policy
	Engine   *approval.Engine
	Matcher  *approval.Matcher
}

// ProvideDatabase opens the database, runs pending migrations and wraps the
// connection in a transaction manager.
func ProvideDatabase(cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.MigrationsDir != "" {
		if err := database.NewMigrator(db, logger).RunMigrations(cfg.MigrationsDir); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories on top of the transaction manager.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Requests: repository.NewRequestRepository(db, logger),
		Orders:   repository.NewOrderRepository(db, logger),
	}, nil
}

// ProvideDirectory indexes the configured approvers.
func ProvideDirectory(cfg *config.ApproversConfig) (*directory.Static, error) {
	if cfg == nil {
		return nil, fmt.Errorf("approvers config is required")
	}
	dir, err := directory.NewStatic(cfg.Users)
	if err != nil {
		return nil, fmt.Errorf("failed to build approver directory: %w", err)
	}
	return dir, nil
}

// ProvidePolicies loads the policy file and builds the engine and matcher.
func ProvidePolicies(cfg *config.PoliciesConfig, ids approval.IDGenerator, clock domainwf.Clock) (*PolicyBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("policies config is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}

	policies, err := config.LoadPolicies(cfg.Path)
	if err != nil {
		return nil, err
	}

	engine, err := approval.NewEngine(policies, approval.EngineOptions{IDs: ids, Clock: clock})
	if err != nil {
		return nil, fmt.Errorf("failed to create approval engine: %w", err)
	}

	return &PolicyBundle{
		Policies: policies,
		Engine:   engine,
		Matcher:  approval.NewMatcher(policies, approval.WithEnablement(cfg.Enablement())),
	}, nil
}

// ProvideNotificationSender picks the sender for the configured channel.
func ProvideNotificationSender(cfg *config.Config, logger *zap.Logger) (port.NotificationSender, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	switch cfg.Notification.Channel {
	case config.ChannelLark:
		client := infraLark.NewSDKClient(infraLark.Config{
			AppID:     cfg.Lark.AppID,
			AppSecret: cfg.Lark.AppSecret,
			BaseURL:   cfg.Lark.BaseURL,
			Timeout:   cfg.Lark.APITimeout,
		}, logger)
		return infraLark.NewMessenger(client, logger), nil
	case config.ChannelLog, "":
		return notifier.NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown notification channel %q", cfg.Notification.Channel)
	}
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger, recorder dispatcher.Recorder) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	opts := []dispatcher.Option{
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("dispatcher")}),
	}
	if recorder != nil {
		opts = append(opts, dispatcher.WithRecorder(recorder))
	}
	return dispatcher.NewDispatcher(opts...), nil
}

// ServiceDeps holds dependencies required for creating application services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Policies   *PolicyBundle
	Directory  *directory.Static
	Dispatcher dispatcher.Dispatcher
	Sender     port.NotificationSender
	Metrics    *observability.Metrics
	IDs        approval.IDGenerator
	Clock      domainwf.Clock
	ReportDir  string
	Logger     *zap.Logger
}

// ProvideServices creates the application services and the order workflow
// engine, and subscribes them to the dispatcher.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Policies == nil {
		return nil, fmt.Errorf("policies are required")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Sender == nil {
		return nil, fmt.Errorf("notification sender is required")
	}
	if deps.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = domainwf.SystemClock
	}
	serviceLogger := &zapLoggerAdapter{logger: deps.Logger}

	approvalOpts := []service.ApprovalOption{
		service.WithEventDispatcher(deps.Dispatcher),
	}
	if deps.Metrics != nil {
		approvalOpts = append(approvalOpts, service.WithMetrics(deps.Metrics))
	}
	if deps.ReportDir != "" {
		approvalOpts = append(approvalOpts, service.WithExporter(
			report.NewExcelExporter(deps.Logger),
			storage.NewLocalReportStore(deps.ReportDir, deps.Logger),
		))
	}
	approvals := service.NewApprovalService(
		deps.Policies.Engine,
		deps.Policies.Matcher,
		deps.Repos.Requests,
		deps.TxManager,
		deps.Directory.Resolve,
		serviceLogger,
		approvalOpts...,
	)

	machine, err := workflow.BuildPurchaseOrderMachine(clock)
	if err != nil {
		return nil, fmt.Errorf("failed to build purchase order machine: %w", err)
	}
	engine := workflow.NewEngine(
		machine,
		deps.Repos.Orders,
		deps.Repos.Requests,
		deps.TxManager,
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithApprovalCheck(func(po *entity.PurchaseOrder) bool {
			return approvals.CheckApproval(context.Background(), service.OrderEvaluationContext(po)).Required
		}),
	)
	workflow.SubscribeApprovalOutcomes(deps.Dispatcher, engine)

	notifications := service.NewNotificationService(deps.Repos.Requests, deps.Sender, serviceLogger)
	notifications.Register(deps.Dispatcher)

	return &ServiceBundle{
		Approval:     approvals,
		Order:        service.NewOrderService(deps.Repos.Orders, engine, approvals, deps.TxManager, deps.IDs, clock, serviceLogger),
		Notification: notifications,
		Workflow:     engine,
	}, nil
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Scheduler *config.SchedulerConfig
	Sweeper   worker.ExpirySweeper
	Metrics   *observability.Metrics
	Clock     domainwf.Clock
	Logger    *zap.Logger
}

// ProvideWorkers creates the worker manager and registers the enabled workers.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("scheduler config is required")
	}
	if deps.Sweeper == nil {
		return nil, fmt.Errorf("expiry sweeper is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)
	if !deps.Scheduler.Enabled {
		deps.Logger.Info("Expiry scheduler disabled")
		return manager, nil
	}

	var opts []worker.ExpiryOption
	if deps.Metrics != nil {
		opts = append(opts, worker.WithScanRecorder(deps.Metrics))
	}
	expiry := worker.NewExpiryWorker(
		worker.ExpiryWorkerConfig{
			PollInterval: deps.Scheduler.ExpiryInterval,
			BatchSize:    deps.Scheduler.BatchSize,
		},
		deps.Sweeper,
		deps.Clock,
		deps.Logger.Named("expiry"),
		opts...,
	)
	if err := manager.Register(expiry); err != nil {
		return nil, err
	}
	return manager, nil
}
