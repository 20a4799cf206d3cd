package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/homeshield/aegis/config"
	"github.com/homeshield/aegis/internal/adapters/dispatch"
	"github.com/homeshield/aegis/internal/core"
	"github.com/homeshield/aegis/internal/data"
	apperrors "github.com/homeshield/aegis/internal/errors"
	"github.com/homeshield/aegis/internal/events"
	"github.com/homeshield/aegis/internal/observability/notify/pagerduty"
	"github.com/homeshield/aegis/internal/observability/notify/slack"
	"github.com/homeshield/aegis/internal/observability/statsd"
	"github.com/homeshield/aegis/internal/service"
	"github.com/homeshield/aegis/internal/service/failurenotifier"
)

// How long to wait for a background goroutine after cancelling its context.
const shutdownWaitTimeout = 15 * time.Second

// ObservabilityContainer groups shared observability dependencies. The zero
// value emits nothing.
type ObservabilityContainer struct {
	MetricsSink *statsd.Client
}

// Sink returns the metric sink, or nil when metrics are disabled.
//
//nolint:ireturn // statsd.Sink is the contract the services accept.
func (o ObservabilityContainer) Sink() statsd.Sink {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink
}

// ServiceDeps groups dependencies for service initialization. DB and
// RedisClient are optional: without a DB tasks live in memory, without a
// Redis client no event bridge is built. A nil Dispatcher selects the
// logging dispatcher.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Dispatcher  core.ActionDispatcher
	Logger      *slog.Logger
}

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Observability ObservabilityContainer
	Bus           *events.Notifier
	Repo          core.TaskRepository
	Dispatcher    core.ActionDispatcher
	Executor      *service.Executor
	Engine        *service.Engine
	Supervisor    *Supervisor
	Bridge        *events.RedisBridge
	Notifier      *failurenotifier.Service
}

// NewServices wires the full scheduler: event bus, task repository, action
// dispatcher, executor, engine, supervisor, and the optional Redis bridge.
func NewServices(deps *ServiceDeps) (*ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return nil, apperrors.Validation("service config is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observability := buildObservability(logger, cfg)
	sink := observability.Sink()

	bus := events.NewNotifier(events.NotifierOptions{
		Logger: logger.With("component", "event_bus"),
	})
	repo := buildTaskRepo(deps, logger)

	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = dispatch.NewLoggingDispatcher(dispatch.LoggingDispatcherOptions{
			Logger: logger.With("component", "dispatcher"),
		})
	}

	executorCfg := cfg.Executor.ToCore()
	if !cfg.Features.AdvancedRetries {
		executorCfg.MaxRetries = 0
	}
	executor, err := service.NewExecutor(service.ExecutorOptions{
		Repo:       repo,
		Dispatcher: dispatcher,
		Bus:        bus,
		Config:     &executorCfg,
		Logger:     logger.With("component", "executor"),
		Metrics:    sink,
	})
	if err != nil {
		return nil, fmt.Errorf("build executor: %w", err)
	}

	engineCfg := cfg.Engine.ToCore()
	engine, err := service.NewEngine(service.EngineOptions{
		Repo:    repo,
		Runner:  executor,
		Bus:     bus,
		Config:  &engineCfg,
		Logger:  logger.With("component", "engine"),
		Metrics: sink,
	})
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	supervisor, err := NewSupervisor(SupervisorOptions{
		Engine:    engine,
		Executor:  executor,
		Repo:      repo,
		Bus:       bus,
		Scheduler: cfg.Scheduler,
		Logger:    logger.With("component", "supervisor"),
		Metrics:   sink,
	})
	if err != nil {
		return nil, fmt.Errorf("build supervisor: %w", err)
	}

	container := &ServiceContainer{
		Observability: observability,
		Bus:           bus,
		Repo:          repo,
		Dispatcher:    dispatcher,
		Executor:      executor,
		Engine:        engine,
		Supervisor:    supervisor,
		Notifier:      buildFailureNotifier(logger, cfg.Observability.Notifications, bus, repo),
	}

	if deps.RedisClient != nil {
		bridge, bridgeErr := events.NewRedisBridge(events.RedisBridgeOptions{
			Logger:  logger.With("component", "redis_bridge"),
			Client:  deps.RedisClient,
			Bus:     bus,
			Channel: cfg.Redis.EventChannel,
		})
		if bridgeErr != nil {
			return nil, fmt.Errorf("build redis bridge: %w", bridgeErr)
		}
		container.Bridge = bridge
	}

	return container, nil
}

// buildObservability configures the metrics adapter. Emission is on when
// enabled directly or through the performance-monitoring feature flag; a
// client that cannot be built disables metrics instead of failing startup.
func buildObservability(logger *slog.Logger, cfg *config.AppConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	metricsCfg := cfg.Observability.Metrics
	if !metricsCfg.IsEnabled() && !cfg.Features.PerformanceMonitoring {
		return ObservabilityContainer{}
	}

	client, err := statsd.NewClient(statsd.Config{
		Enabled:    true,
		Address:    metricsCfg.StatsdAddress,
		Prefix:     metricsCfg.Prefix,
		Logger:     obsLogger,
		GlobalTags: map[string]string{"service": "aegis"},
	})
	if err != nil {
		obsLogger.Error("failed to initialise statsd client", "error", err)
		return ObservabilityContainer{}
	}

	obsLogger.Info("metrics enabled", "address", metricsCfg.StatsdAddress, "prefix", metricsCfg.Prefix)
	return ObservabilityContainer{MetricsSink: client}
}

// buildFailureNotifier assembles the notification sinks from config. The
// returned service reports Enabled() false when notifications are off or no
// sink survives validation.
func buildFailureNotifier(
	logger *slog.Logger,
	cfg config.ObservabilityNotificationsConfig,
	bus core.EventBus,
	repo core.TaskRepository,
) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}
	notifierLogger := baseLogger.With("component", "failure_notifier")

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{Logger: notifierLogger})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Username:   cfg.Slack.Username,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	if len(sinks) > 0 {
		baseLogger.Info("failure notifications enabled", "sinks", len(sinks))
	}
	return failurenotifier.NewService(failurenotifier.Options{
		Logger: notifierLogger,
		Sinks:  sinks,
		Bus:    bus,
		Repo:   repo,
	})
}

// buildTaskRepo selects Postgres-backed storage when a database handle is
// present, in-memory storage otherwise.
//
//nolint:ireturn // core.TaskRepository is the contract the services accept.
func buildTaskRepo(deps *ServiceDeps, logger *slog.Logger) core.TaskRepository {
	if deps.DB != nil {
		logger.Info("task storage: postgres")
		return data.NewPostgresTaskRepo(deps.DB)
	}
	logger.Info("task storage: in-memory", "reason", "persistence disabled")
	return data.NewMemoryTaskRepo()
}

// ServiceOrchestrationConfig bundles what RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

// backgroundService describes one long-running goroutine launched at
// startup.
type backgroundService struct {
	name  string
	start func(ctx context.Context) error
}

// serviceHandle tracks a launched background service for shutdown.
type serviceHandle struct {
	name string
	done chan struct{}
}

// RunServicesWithShutdown starts the scheduler and blocks until a
// termination signal stops it or a background service fails. It owns the
// teardown of everything NewServices built except the DB and Redis
// handles, which belong to the caller.
func RunServicesWithShutdown(orch *ServiceOrchestrationConfig) error {
	if orch == nil || orch.Services == nil || orch.Services.Supervisor == nil {
		return apperrors.Validation("service container is required")
	}
	logger := orch.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var background []backgroundService
	if orch.Services.Bridge != nil {
		background = append(background, backgroundService{
			name:  "redis-bridge",
			start: orch.Services.Bridge.Run,
		})
	}
	if notifier := orch.Services.Notifier; notifier != nil && notifier.Enabled() {
		background = append(background, backgroundService{
			name:  "failure-notifier",
			start: notifier.Run,
		})
	}

	errCh := make(chan error, len(background)+1)
	handles := make([]serviceHandle, 0, len(background))
	for _, svc := range background {
		logger.Info("starting background service", "service", svc.name)
		handles = append(handles, launchBackground(ctx, svc, errCh, logger))
	}

	supervisor := orch.Services.Supervisor
	if err := supervisor.Initialize(ctx); err != nil {
		return err
	}
	// No-op when AutoStart already started the scheduler.
	if err := supervisor.Start(ctx); err != nil {
		return err
	}

	runErr := waitForShutdown(ctx, supervisor, errCh, logger)

	cancel()
	for _, handle := range handles {
		waitForService(handle, logger)
	}
	orch.Services.Bus.Close()
	if client := orch.Services.Observability.MetricsSink; client != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close statsd client failed", "error", closeErr)
		}
	}
	return runErr
}

// launchBackground runs one background service, reporting its failure on
// errCh. A full channel drops the error with a log line rather than
// blocking the goroutine.
func launchBackground(ctx context.Context, svc backgroundService, errCh chan<- error, logger *slog.Logger) serviceHandle {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := svc.start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case errCh <- fmt.Errorf("%s: %w", svc.name, err):
			default:
				logger.Warn("background service error dropped", "service", svc.name, "error", err)
			}
		}
	}()
	return serviceHandle{name: svc.name, done: done}
}

// waitForShutdown blocks until the supervisor stops, whether by signal or
// by a direct Stop call. A background service failure initiates the stop.
func waitForShutdown(ctx context.Context, supervisor *Supervisor, errCh <-chan error, logger *slog.Logger) error {
	select {
	case <-supervisor.Done():
		return nil
	case err := <-errCh:
		logger.Error("background service failed, stopping scheduler", "error", err)
		if stopErr := supervisor.Stop(ctx); stopErr != nil {
			return errors.Join(err, stopErr)
		}
		return err
	}
}

// waitForService waits for one background goroutine to finish, bounded so
// a stuck service cannot hang process exit.
func waitForService(handle serviceHandle, logger *slog.Logger) {
	select {
	case <-handle.done:
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("background service did not stop in time", "service", handle.name)
	}
}
