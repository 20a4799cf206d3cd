package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/homeshield/aegis/config"
	"github.com/homeshield/aegis/internal/core"
	"github.com/homeshield/aegis/internal/data"
	"github.com/homeshield/aegis/internal/domain/model"
	apperrors "github.com/homeshield/aegis/internal/errors"
	"github.com/homeshield/aegis/internal/observability/metrics"
	"github.com/homeshield/aegis/internal/observability/statsd"
	"github.com/homeshield/aegis/internal/service"
)

// Executor queue depth above which the supervisor reports degraded health.
const degradedQueueDepth = 10

// EngineController is the slice of the scheduling engine the supervisor
// drives. *service.Engine satisfies it.
type EngineController interface {
	Start(ctx context.Context, loadExisting bool) error
	Stop(ctx context.Context, cancelActive bool) error
	ScheduleTask(task *model.ScheduledTask) error
	RescheduleTask(task *model.ScheduledTask) error
	UnscheduleTask(taskID string)
	Status() service.EngineStatus
}

// ExecutorController is the slice of the executor the supervisor drives.
// *service.Executor satisfies it.
type ExecutorController interface {
	Shutdown(ctx context.Context) error
	Status() service.ExecutorStatus
}

// SupervisorOptions holds the dependencies for creating a Supervisor.
type SupervisorOptions struct {
	Engine    EngineController
	Executor  ExecutorController
	Repo      core.TaskRepository
	Bus       core.EventBus
	Scheduler config.SchedulerConfig

	TimeProvider data.TimeProvider
	Logger       *slog.Logger
	Metrics      statsd.Sink
}

// HealthState is the aggregate health classification of the scheduler.
type HealthState string

// Health states, ordered from best to worst.
const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
	HealthError     HealthState = "error"
)

// HealthReport aggregates component status for the whole scheduler.
type HealthReport struct {
	State    HealthState            `json:"state"`
	Uptime   time.Duration          `json:"uptime,omitempty"`
	Engine   service.EngineStatus   `json:"engine"`
	Executor service.ExecutorStatus `json:"executor"`
	Notes    []string               `json:"notes,omitempty"`
}

// Supervisor wires the engine and executor to the event bus and the host
// process. It forwards schedule lifecycle events into the engine, owns the
// shutdown sequence, and answers health checks.
type Supervisor struct {
	engine   EngineController
	executor ExecutorController
	repo     core.TaskRepository
	bus      core.EventBus
	cfg      config.SchedulerConfig

	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink

	mu           sync.Mutex
	initialized  bool
	started      bool
	shuttingDown bool
	startedAt    time.Time

	// Lifecycle subscription state, set during Initialize.
	unsubscribe  func()
	events       <-chan core.Event
	eventsDone   chan struct{}
	lifecycleCtx context.Context //nolint:containedctx // scopes event handlers to the supervisor lifetime.
	cancelEvents context.CancelFunc

	signalCh   chan os.Signal
	signalStop chan struct{}
	done       chan struct{}
}

// NewSupervisor constructs a supervisor. Engine, Executor, Repo, and Bus
// are required.
func NewSupervisor(opts SupervisorOptions) (*Supervisor, error) {
	if opts.Engine == nil {
		return nil, apperrors.Validation("engine is required")
	}
	if opts.Executor == nil {
		return nil, apperrors.Validation("executor is required")
	}
	if opts.Repo == nil {
		return nil, apperrors.Validation("task repository is required")
	}
	if opts.Bus == nil {
		return nil, apperrors.Validation("event bus is required")
	}

	cfg := opts.Scheduler
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "supervisor")
	}

	return &Supervisor{
		engine:       opts.Engine,
		executor:     opts.Executor,
		repo:         opts.Repo,
		bus:          opts.Bus,
		cfg:          cfg,
		timeProvider: timeProvider,
		logger:       logger,
		metrics:      opts.Metrics,
		done:         make(chan struct{}),
	}, nil
}

// Initialize subscribes to schedule lifecycle events, installs signal
// handlers, and, when AutoStart is set, starts the scheduler. Calling it
// again is a no-op.
func (s *Supervisor) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return apperrors.NotReady("supervisor is shutting down")
	}
	if s.initialized {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "supervisor already initialized")
		return nil
	}

	s.lifecycleCtx, s.cancelEvents = context.WithCancel(context.WithoutCancel(ctx))
	s.unsubscribe, s.events = s.bus.Subscribe(
		core.SubjectScheduleCreated,
		core.SubjectScheduleUpdated,
		core.SubjectScheduleCancelled,
	)
	s.eventsDone = make(chan struct{})
	go s.consumeLifecycle()

	s.signalCh = make(chan os.Signal, 1)
	s.signalStop = make(chan struct{})
	signal.Notify(s.signalCh, syscall.SIGINT, syscall.SIGTERM)
	go s.watchSignals()

	s.initialized = true
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "supervisor initialized", "auto_start", s.cfg.AutoStart)

	if s.cfg.AutoStart {
		return s.Start(ctx)
	}
	return nil
}

// Start starts the engine and announces the scheduler. The engine loads
// stored tasks when LoadExisting is set. Starting an already-started
// supervisor is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return apperrors.NotReady("supervisor is not initialized")
	}
	if s.shuttingDown {
		s.mu.Unlock()
		return apperrors.NotReady("supervisor is shutting down")
	}
	if s.started {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "supervisor already started")
		return nil
	}
	s.mu.Unlock()

	if err := s.engine.Start(ctx, s.cfg.LoadExisting); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "start engine")
	}

	now := s.timeProvider.Now()
	s.mu.Lock()
	s.started = true
	s.startedAt = now
	s.mu.Unlock()

	s.bus.Publish(ctx, core.NewEvent(core.SubjectSchedulerStarted, "", now).
		WithFields(map[string]any{"load_existing": s.cfg.LoadExisting}))
	s.logger.InfoContext(ctx, "scheduler started", "load_existing", s.cfg.LoadExisting)
	return nil
}

// Stop drains the engine and the executor concurrently, bounded by the
// configured shutdown timeout, then tears down subscriptions and signal
// handlers. Component errors are logged, not returned; the only error is a
// timeout when the drain outlives its budget. Stop is idempotent: a second
// call waits for the first to finish.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return nil
	}
	if s.shuttingDown {
		s.mu.Unlock()
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.shuttingDown = true
	wasStarted := s.started
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "stopping scheduler", "timeout", s.cfg.ShutdownTimeout)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	var timedOut bool
	if wasStarted {
		timedOut = s.drainComponents(stopCtx)
	}

	// Stop forwarding lifecycle events before announcing the stop so no
	// handler races the teardown.
	s.cancelEvents()
	s.unsubscribe()
	<-s.eventsDone

	signal.Stop(s.signalCh)
	close(s.signalStop)

	now := s.timeProvider.Now()
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	event := core.NewEvent(core.SubjectSchedulerStopped, "", now)
	if timedOut {
		event = event.WithFields(map[string]any{"timed_out": true})
	}
	s.bus.Publish(context.WithoutCancel(ctx), event)
	close(s.done)

	if timedOut {
		s.logger.WarnContext(ctx, "scheduler stopped after timeout", "timeout", s.cfg.ShutdownTimeout)
		return apperrors.Timeoutf("shutdown timed out after %s", s.cfg.ShutdownTimeout)
	}
	s.logger.InfoContext(ctx, "scheduler stopped")
	return nil
}

// drainComponents stops the engine and the executor concurrently and
// reports whether the shutdown deadline expired before both finished.
func (s *Supervisor) drainComponents(ctx context.Context) bool {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.engine.Stop(gctx, false); err != nil {
			s.logger.ErrorContext(gctx, "engine stop failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.executor.Shutdown(gctx); err != nil {
			s.logger.ErrorContext(gctx, "executor shutdown failed", "error", err)
		}
		return nil
	})

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = g.Wait()
	}()

	select {
	case <-finished:
		return false
	case <-ctx.Done():
		return true
	}
}

// Done is closed once the supervisor has fully stopped.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the supervisor has fully stopped, typically after a
// termination signal.
func (s *Supervisor) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HealthCheck aggregates component health. Degraded means the scheduler is
// working but the executor queue is backing up; unhealthy means it is not
// running; error means the repository probe itself failed.
func (s *Supervisor) HealthCheck(ctx context.Context) HealthReport {
	s.mu.Lock()
	initialized := s.initialized
	started := s.started
	shuttingDown := s.shuttingDown
	startedAt := s.startedAt
	s.mu.Unlock()

	report := HealthReport{
		State:    HealthHealthy,
		Engine:   s.engine.Status(),
		Executor: s.executor.Status(),
	}
	if started {
		report.Uptime = s.timeProvider.Now().Sub(startedAt)
	}

	switch {
	case !initialized:
		report.State = HealthUnhealthy
		report.Notes = append(report.Notes, "supervisor not initialized")
		return report
	case shuttingDown:
		report.State = HealthUnhealthy
		report.Notes = append(report.Notes, "shutdown in progress")
		return report
	case !started:
		report.State = HealthUnhealthy
		report.Notes = append(report.Notes, "supervisor not started")
		return report
	case !report.Engine.Running:
		report.State = HealthUnhealthy
		report.Notes = append(report.Notes, "engine not running")
		return report
	}

	if probe, ok := s.repo.(interface{ Health(ctx context.Context) error }); ok {
		if err := probe.Health(ctx); err != nil {
			report.State = HealthError
			report.Notes = append(report.Notes, "repository probe failed: "+err.Error())
			return report
		}
	}

	if report.Executor.Pending > degradedQueueDepth {
		report.State = HealthDegraded
		report.Notes = append(report.Notes, "executor queue backing up")
	}
	return report
}

// consumeLifecycle forwards schedule lifecycle events to the engine until
// the subscription channel closes. Events are handled sequentially, so
// updates for the same task apply in arrival order.
func (s *Supervisor) consumeLifecycle() {
	defer close(s.eventsDone)
	for event := range s.events {
		s.handleLifecycle(event)
	}
}

func (s *Supervisor) handleLifecycle(event core.Event) {
	ctx := s.lifecycleCtx
	if ctx.Err() != nil {
		return
	}

	var err error
	switch event.Subject {
	case core.SubjectScheduleCreated:
		err = s.applySchedule(ctx, event, s.engine.ScheduleTask)
	case core.SubjectScheduleUpdated:
		err = s.applySchedule(ctx, event, s.engine.RescheduleTask)
	case core.SubjectScheduleCancelled:
		s.engine.UnscheduleTask(event.TaskID)
	default:
		return
	}

	metrics.EmitLifecycle(s.metrics, string(event.Subject), err == nil)
	if err != nil {
		s.logger.Warn("lifecycle event not applied",
			"subject", event.Subject,
			"task_id", event.TaskID,
			"error", err,
		)
		s.bus.Publish(ctx, core.NewEvent(core.SubjectSchedulerError, event.TaskID, s.timeProvider.Now()).
			WithErr(err).
			WithFields(map[string]any{"subject": string(event.Subject)}))
		return
	}
	s.logger.Debug("lifecycle event applied", "subject", event.Subject, "task_id", event.TaskID)
}

// applySchedule resolves the task carried by the event, falling back to a
// repository load, and hands it to the given engine operation.
func (s *Supervisor) applySchedule(ctx context.Context, event core.Event, apply func(*model.ScheduledTask) error) error {
	task := event.Task
	if task == nil {
		if event.TaskID == "" {
			return apperrors.Validation("lifecycle event carries neither task nor task id")
		}
		loaded, err := s.repo.FindByID(ctx, event.TaskID)
		if err != nil {
			return err
		}
		task = loaded
	}
	return apply(task)
}

// watchSignals turns the first termination signal into a graceful stop.
func (s *Supervisor) watchSignals() {
	select {
	case sig := <-s.signalCh:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		if err := s.Stop(context.Background()); err != nil {
			s.logger.Error("shutdown after signal failed", "error", err)
		}
	case <-s.signalStop:
	}
}
