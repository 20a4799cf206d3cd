package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/homeshield/aegis/internal/core"
	"github.com/homeshield/aegis/internal/data"
	"github.com/homeshield/aegis/internal/domain/model"
	apperrors "github.com/homeshield/aegis/internal/errors"
	"github.com/homeshield/aegis/internal/observability/metrics"
	"github.com/homeshield/aegis/internal/observability/statsd"
)

// stopDrainTimeout bounds how long Stop waits for in-flight executions when
// cancelActive is false.
const stopDrainTimeout = 30 * time.Second

// upcomingFireLimit is how many future fires a status report carries.
const upcomingFireLimit = 5

// TaskRunner runs one task synchronously and reports the outcome. Satisfied
// by *Executor; narrowed to an interface so engine tests can stub execution.
type TaskRunner interface {
	ExecuteTaskWithOptions(ctx context.Context, task *model.ScheduledTask, opts ExecuteOptions) (*ExecutionResult, error)
}

// EngineOptions holds the dependencies for creating an Engine.
// Uses an options struct to keep parameter count <= 3 as per project conventions.
type EngineOptions struct {
	Repo         core.TaskRepository
	Runner       TaskRunner
	Bus          core.EventPublisher
	Config       *core.EngineConfig
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
	Metrics      statsd.Sink
}

// Engine drives active tasks from wall-clock time. Each scheduled task owns
// one single-shot timer; a periodic sweep re-picks fires lost to crashes or
// drift, a health check purges timers that silently missed their instant,
// and a cleanup pass resyncs the timer map against storage.
type Engine struct {
	repo         core.TaskRepository
	runner       TaskRunner
	bus          core.EventPublisher
	cfg          core.EngineConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink

	loopWG sync.WaitGroup
	execWG sync.WaitGroup

	mu         sync.Mutex
	running    bool
	loopCtx    context.Context
	loopCancel context.CancelFunc
	execCtx    context.Context
	timers     map[string]*timerRecord
	inFlight   map[string]struct{}
	stats      EngineStats
}

// timerRecord is one pending fire. scheduledFor is the instant the timer
// targets, which differs from the snapshot's expression-derived fire when
// the fire was deferred. Guarded by the engine mutex.
type timerRecord struct {
	handle       *time.Timer
	scheduledFor time.Time
	createdAt    time.Time
	snapshot     *model.ScheduledTask
	// ignoreOverdue marks fires that intentionally run late (startup
	// recovery, concurrency deferrals) so the dispatcher skips its own
	// staleness check.
	ignoreOverdue bool
}

// EngineStats counts lifetime engine activity.
type EngineStats struct {
	Scheduled       int64 `json:"scheduled"`
	Unscheduled     int64 `json:"unscheduled"`
	Fired           int64 `json:"fired"`
	Deferred        int64 `json:"deferred"`
	Executed        int64 `json:"executed"`
	Failed          int64 `json:"failed"`
	Skipped         int64 `json:"skipped"`
	StaleTimers     int64 `json:"stale_timers"`
	CancelledTimers int64 `json:"cancelled_timers"`
}

// UpcomingFire is one scheduled fire in a status report.
type UpcomingFire struct {
	TaskID       string    `json:"task_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// EngineStatus is a point-in-time view of the engine.
type EngineStatus struct {
	Running  bool           `json:"running"`
	Timers   int            `json:"timers"`
	InFlight []string       `json:"in_flight"`
	Stats    EngineStats    `json:"stats"`
	Upcoming []UpcomingFire `json:"upcoming"`
}

// SweepReport summarises one due-task pass.
type SweepReport struct {
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// NewEngine constructs an engine. Repo and Runner are required.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Repo == nil {
		return nil, apperrors.Validation("task repository is required")
	}
	if opts.Runner == nil {
		return nil, apperrors.Validation("task runner is required")
	}

	cfg := core.DefaultEngineConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	defaults := core.DefaultEngineConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = defaults.Tolerance
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaults.HealthInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}
	if cfg.MaxTimerDrift <= 0 {
		cfg.MaxTimerDrift = defaults.MaxTimerDrift
	}
	if cfg.DeferDelay <= 0 {
		cfg.DeferDelay = defaults.DeferDelay
	}
	if cfg.StartupDelay <= 0 {
		cfg.StartupDelay = defaults.StartupDelay
	}

	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "engine")
	}

	return &Engine{
		repo:         opts.Repo,
		runner:       opts.Runner,
		bus:          opts.Bus,
		cfg:          cfg,
		timeProvider: timeProvider,
		logger:       logger,
		metrics:      opts.Metrics,
		timers:       make(map[string]*timerRecord),
		inFlight:     make(map[string]struct{}),
	}, nil
}

// Start marks the engine running, optionally schedules every ACTIVE task
// from storage, and launches the periodic sweep, health and cleanup loops.
// Tasks already overdue at startup are deferred by the configured startup
// delay instead of firing in a burst. The context seeds the loop contexts
// with its values; loop lifetime is governed by Stop, not by the context.
func (e *Engine) Start(ctx context.Context, loadExisting bool) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logger.WarnContext(ctx, "engine already running")
		return nil
	}
	e.running = true
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.loopCtx = loopCtx
	e.loopCancel = cancel
	e.execCtx = context.WithoutCancel(loopCtx)
	e.mu.Unlock()

	if loadExisting {
		if err := e.loadExistingTasks(loopCtx); err != nil {
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			cancel()
			return err
		}
	}

	e.loopWG.Add(3)
	go e.sweepLoop(loopCtx)
	go e.healthLoop(loopCtx)
	go e.cleanupLoop(loopCtx)

	timers := e.timerCount()
	e.publish(loopCtx, core.NewEvent(core.SubjectEngineStarted, "", e.timeProvider.Now()).
		WithFields(map[string]any{"load_existing": loadExisting, "timers": timers}))
	e.logger.InfoContext(ctx, "engine started",
		"load_existing", loadExisting,
		"timers", timers,
		"sweep_interval", e.cfg.SweepInterval,
	)
	return nil
}

// Stop halts the loops and cancels every pending timer. With cancelActive
// false, in-flight executions are drained up to the drain timeout; with
// true their tracking is abandoned. Dispatcher calls in progress are never
// interrupted either way.
func (e *Engine) Stop(ctx context.Context, cancelActive bool) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		e.logger.WarnContext(ctx, "engine already stopped")
		return nil
	}
	e.running = false
	cancel := e.loopCancel

	cancelled := len(e.timers)
	for id, record := range e.timers {
		record.handle.Stop()
		delete(e.timers, id)
	}
	e.stats.CancelledTimers += int64(cancelled)
	inFlight := len(e.inFlight)
	e.mu.Unlock()

	cancel()
	e.loopWG.Wait()

	var err error
	if !cancelActive && inFlight > 0 {
		e.logger.InfoContext(ctx, "waiting for in-flight executions", "in_flight", inFlight)
		err = e.waitForDrain(ctx)
	}

	e.publish(context.WithoutCancel(ctx), core.NewEvent(core.SubjectEngineStopped, "", e.timeProvider.Now()).
		WithErr(err).
		WithFields(map[string]any{"cancelled_timers": cancelled, "in_flight": inFlight}))
	metrics.EngineGauges(e.metrics, 0, 0)

	if err != nil {
		e.logger.WarnContext(ctx, "engine stopped with executions still in flight", "error", err)
		return err
	}
	e.logger.InfoContext(ctx, "engine stopped", "cancelled_timers", cancelled)
	return nil
}

// ScheduleTask installs a single-shot timer for the task's next fire
// instant, replacing any pending timer for the same id. The task must be
// ACTIVE with a next fire set.
func (e *Engine) ScheduleTask(task *model.ScheduledTask) error {
	return e.schedule(task, false)
}

// UnscheduleTask cancels the pending timer for the id, if any. It never
// touches an in-flight execution. Repeated calls are no-ops.
func (e *Engine) UnscheduleTask(taskID string) {
	e.mu.Lock()
	removed := e.unscheduleLocked(taskID)
	ctx := e.loopCtx
	if removed {
		e.stats.Unscheduled++
		e.gaugesLocked()
	}
	e.mu.Unlock()

	if !removed {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.publish(ctx, core.NewEvent(core.SubjectTaskUnscheduled, taskID, e.timeProvider.Now()))
	e.logger.DebugContext(ctx, "task unscheduled", "task_id", taskID)
}

// RescheduleTask replaces the task's pending timer with one for its current
// next fire instant.
func (e *Engine) RescheduleTask(task *model.ScheduledTask) error {
	if task == nil {
		return apperrors.Validation("task is required")
	}
	e.UnscheduleTask(task.ID)
	return e.ScheduleTask(task)
}

// ExecuteDueTasks runs every due task within tolerance under the engine's
// remaining concurrency budget, skips occurrences missed beyond tolerance,
// and resyncs the timer map. The sweep loop calls this each tick; it also
// serves as the manual operator trigger.
func (e *Engine) ExecuteDueTasks(ctx context.Context) (SweepReport, error) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return SweepReport{}, apperrors.NotReady("engine is not running")
	}
	budget := e.cfg.MaxConcurrent - len(e.inFlight)
	e.mu.Unlock()

	report := SweepReport{}
	now := e.timeProvider.Now()
	due, err := e.repo.FindByNextExecutionTimeBefore(ctx, now)
	if err != nil {
		return report, apperrors.Wrap(err, apperrors.ErrCodeRepository, "load due tasks")
	}

	runnable := make([]*model.ScheduledTask, 0, len(due))
	for _, task := range due {
		if task.Status != model.StatusActive || task.NextExecutionTime == nil {
			continue
		}
		if now.Sub(*task.NextExecutionTime) > e.cfg.Tolerance {
			e.skipMissedOccurrence(ctx, task, now)
			report.Skipped++
			continue
		}
		runnable = append(runnable, task)
	}

	if budget <= 0 {
		if len(runnable) > 0 {
			e.logger.WarnContext(ctx, "due tasks waiting on concurrency budget", "due", len(runnable))
		}
		e.refreshSchedules(ctx)
		return report, nil
	}
	if len(runnable) > budget {
		e.logger.WarnContext(ctx, "due tasks exceed concurrency budget",
			"due", len(runnable),
			"budget", budget,
		)
		runnable = runnable[:budget]
	}

	var reportMu sync.Mutex
	var group errgroup.Group
	for _, task := range runnable {
		task := task
		if !e.claimExecution(task.ID) {
			continue
		}
		group.Go(func() error {
			ok := e.execute(task, ExecuteOptions{ExecutionTime: *task.NextExecutionTime})
			reportMu.Lock()
			if ok {
				report.Executed++
			} else {
				report.Failed++
			}
			reportMu.Unlock()
			return nil
		})
	}
	// Workers record outcomes in the report and never return errors.
	_ = group.Wait()

	e.refreshSchedules(ctx)
	return report, nil
}

// Status reports the engine's load, lifetime stats and the next few fires.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	inFlight := make([]string, 0, len(e.inFlight))
	for id := range e.inFlight {
		inFlight = append(inFlight, id)
	}
	sort.Strings(inFlight)

	upcoming := make([]UpcomingFire, 0, len(e.timers))
	for id, record := range e.timers {
		upcoming = append(upcoming, UpcomingFire{TaskID: id, ScheduledFor: record.scheduledFor})
	}
	sort.Slice(upcoming, func(i, j int) bool {
		if upcoming[i].ScheduledFor.Equal(upcoming[j].ScheduledFor) {
			return upcoming[i].TaskID < upcoming[j].TaskID
		}
		return upcoming[i].ScheduledFor.Before(upcoming[j].ScheduledFor)
	})
	if len(upcoming) > upcomingFireLimit {
		upcoming = upcoming[:upcomingFireLimit]
	}

	return EngineStatus{
		Running:  e.running,
		Timers:   len(e.timers),
		InFlight: inFlight,
		Stats:    e.stats,
		Upcoming: upcoming,
	}
}

// loadExistingTasks schedules every ACTIVE task from storage. Overdue tasks
// are deferred by the startup delay and flagged to ignore staleness.
func (e *Engine) loadExistingTasks(ctx context.Context) error {
	tasks, err := e.repo.FindActive(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeRepository, "load active tasks")
	}

	now := e.timeProvider.Now()
	scheduled, deferred := 0, 0
	for _, task := range tasks {
		if task.NextExecutionTime == nil {
			e.logger.WarnContext(ctx, "active task has no next execution time", "task_id", task.ID)
			continue
		}

		overdue := !task.NextExecutionTime.After(now)
		if overdue {
			next := now.Add(e.cfg.StartupDelay)
			task.NextExecutionTime = &next
			deferred++
		}
		if scheduleErr := e.schedule(task, overdue); scheduleErr != nil {
			e.logger.WarnContext(ctx, "could not schedule stored task",
				"task_id", task.ID,
				"error", scheduleErr,
			)
			continue
		}
		scheduled++
	}

	e.logger.InfoContext(ctx, "existing tasks scheduled", "scheduled", scheduled, "overdue_deferred", deferred)
	return nil
}

// schedule installs the timer. ignoreOverdue marks deliberate late fires.
func (e *Engine) schedule(task *model.ScheduledTask, ignoreOverdue bool) error {
	if task == nil {
		return apperrors.Validation("task is required")
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return apperrors.NotReady("engine is not running")
	}
	now := e.timeProvider.Now()
	ctx := e.loopCtx
	err := e.scheduleLocked(task, ignoreOverdue, now)
	if err == nil {
		e.gaugesLocked()
	}
	e.mu.Unlock()

	if err != nil {
		return err
	}

	scheduledFor := *task.NextExecutionTime
	delay := scheduledFor.Sub(now)
	if delay < 0 {
		delay = 0
	}
	e.publish(ctx, core.NewEvent(core.SubjectTaskScheduled, task.ID, now).
		WithFields(map[string]any{"scheduled_for": scheduledFor, "delay_ms": delay.Milliseconds()}))
	e.logger.DebugContext(ctx, "task scheduled",
		"task_id", task.ID,
		"scheduled_for", scheduledFor,
		"delay", delay,
	)
	return nil
}

// scheduleLocked installs the timer record; the caller holds the mutex and
// has verified the engine is running.
func (e *Engine) scheduleLocked(task *model.ScheduledTask, ignoreOverdue bool, now time.Time) error {
	if task.Status != model.StatusActive {
		return apperrors.Statef("cannot schedule %s task %s", task.Status, task.ID)
	}
	if task.NextExecutionTime == nil {
		return apperrors.Validationf("task %s has no next execution time", task.ID)
	}

	// At most one timer per id: replace silently.
	e.unscheduleLocked(task.ID)

	delay := task.NextExecutionTime.Sub(now)
	if delay < 0 {
		delay = 0
	}

	id := task.ID
	record := &timerRecord{
		scheduledFor:  *task.NextExecutionTime,
		createdAt:     now,
		snapshot:      task.Clone(),
		ignoreOverdue: ignoreOverdue,
	}
	record.handle = time.AfterFunc(delay, func() { e.fire(id) })
	e.timers[id] = record
	e.stats.Scheduled++
	return nil
}

// fire runs when a task timer elapses. Over the concurrency cap the fire is
// deferred through a fresh timer; otherwise the task executes on this
// goroutine and is rescheduled from storage afterwards.
func (e *Engine) fire(taskID string) {
	e.mu.Lock()
	record, ok := e.timers[taskID]
	if !ok {
		// Cancelled between timer fire and lock acquisition.
		e.mu.Unlock()
		return
	}
	delete(e.timers, taskID)

	if !e.running {
		e.mu.Unlock()
		return
	}
	ctx := e.loopCtx
	if _, busy := e.inFlight[taskID]; busy {
		// A sweep beat the timer; the completion path reschedules.
		e.mu.Unlock()
		return
	}

	now := e.timeProvider.Now()
	if len(e.inFlight) >= e.cfg.MaxConcurrent {
		next := now.Add(e.cfg.DeferDelay)
		snapshot := record.snapshot
		snapshot.NextExecutionTime = &next
		e.stats.Deferred++
		deferErr := e.scheduleLocked(snapshot, true, now)
		e.mu.Unlock()

		e.logger.WarnContext(ctx, "fire deferred by concurrency cap",
			"task_id", taskID,
			"retry_at", next,
			"error", deferErr,
		)
		metrics.EmitExecution(e.metrics, metrics.ExecutionMetric{
			ActionKind: string(snapshot.Action.Kind),
			Result:     metrics.ResultDeferred,
		})
		return
	}

	e.inFlight[taskID] = struct{}{}
	e.stats.Fired++
	e.execWG.Add(1)
	e.gaugesLocked()
	e.mu.Unlock()

	e.execute(record.snapshot, ExecuteOptions{
		ExecutionTime: record.scheduledFor,
		IgnoreOverdue: record.ignoreOverdue,
	})
}

// claimExecution marks the id in flight when the engine is running, the id
// is idle and the cap has room. The caller must pair a successful claim
// with execute, which releases it.
func (e *Engine) claimExecution(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return false
	}
	if _, busy := e.inFlight[taskID]; busy {
		return false
	}
	if len(e.inFlight) >= e.cfg.MaxConcurrent {
		return false
	}
	e.inFlight[taskID] = struct{}{}
	e.stats.Fired++
	e.execWG.Add(1)
	return true
}

// execute hands the claimed task to the runner, settles counters and events,
// and reschedules from the stored state. Returns true on success. Runs on
// the engine's execution context so an engine stop never interrupts it.
func (e *Engine) execute(task *model.ScheduledTask, opts ExecuteOptions) bool {
	defer e.execWG.Done()

	ctx := e.executionContext()
	e.publish(ctx, core.NewEvent(core.SubjectTaskExecutionStarted, task.ID, e.timeProvider.Now()).
		WithFields(map[string]any{"execution_time": opts.ExecutionTime}))

	result, err := e.runner.ExecuteTaskWithOptions(ctx, task, opts)
	success := err == nil && result != nil && result.Success

	e.mu.Lock()
	delete(e.inFlight, task.ID)
	e.stats.Executed++
	if !success {
		e.stats.Failed++
	}
	e.gaugesLocked()
	e.mu.Unlock()

	subject := core.SubjectTaskExecutionCompleted
	if !success {
		subject = core.SubjectTaskExecutionFailed
	}
	event := core.NewEvent(subject, task.ID, e.timeProvider.Now())
	switch {
	case err != nil:
		event = event.WithErr(err)
	case result != nil && result.Err != nil:
		event = event.WithErr(result.Err)
	}
	e.publish(ctx, event)

	if err != nil {
		e.logger.ErrorContext(ctx, "task execution errored", "task_id", task.ID, "error", err)
	}

	e.rescheduleAfterExecution(ctx, task.ID)
	return success
}

// rescheduleAfterExecution re-reads the task and installs the next timer
// when it is still ACTIVE with a fire instant. Failed or cancelled tasks
// leave the schedule here.
func (e *Engine) rescheduleAfterExecution(ctx context.Context, taskID string) {
	fresh, err := e.repo.FindByID(ctx, taskID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			e.logger.DebugContext(ctx, "task gone after execution", "task_id", taskID)
			return
		}
		e.logger.WarnContext(ctx, "reload task after execution", "task_id", taskID, "error", err)
		return
	}

	if fresh.Status != model.StatusActive || fresh.NextExecutionTime == nil {
		e.logger.InfoContext(ctx, "task left the schedule",
			"task_id", taskID,
			"status", fresh.Status,
		)
		return
	}
	if scheduleErr := e.ScheduleTask(fresh); scheduleErr != nil && !apperrors.IsNotReady(scheduleErr) {
		e.logger.WarnContext(ctx, "reschedule after execution", "task_id", taskID, "error", scheduleErr)
	}
}

// skipMissedOccurrence advances a task whose fire instant drifted beyond
// tolerance: the missed occurrence is not executed, the schedule is
// recomputed from now and persisted.
func (e *Engine) skipMissedOccurrence(ctx context.Context, task *model.ScheduledTask, now time.Time) {
	scheduledFor := *task.NextExecutionTime
	e.logger.WarnContext(ctx, "occurrence missed beyond tolerance; skipping",
		"task_id", task.ID,
		"scheduled_for", scheduledFor,
		"overdue", now.Sub(scheduledFor),
	)

	if err := task.RefreshNextExecution(now); err != nil {
		e.logger.ErrorContext(ctx, "recompute schedule after missed occurrence", "task_id", task.ID, "error", err)
	}
	saved, err := e.repo.Save(ctx, task)
	if err != nil {
		e.logger.ErrorContext(ctx, "save skipped task", "task_id", task.ID, "error", err)
		return
	}

	e.mu.Lock()
	e.stats.Skipped++
	e.mu.Unlock()
	metrics.EmitExecution(e.metrics, metrics.ExecutionMetric{
		ActionKind: string(task.Action.Kind),
		Result:     metrics.ResultSkipped,
	})

	if saved.Status == model.StatusActive {
		if scheduleErr := e.ScheduleTask(saved); scheduleErr != nil {
			e.logger.WarnContext(ctx, "reschedule skipped task", "task_id", task.ID, "error", scheduleErr)
		}
		return
	}
	e.UnscheduleTask(task.ID)
}

// refreshSchedules aligns the timer map with storage: every ACTIVE task gets
// a timer for its current fire instant, timers for vanished tasks are
// dropped, in-flight tasks are left to their completion path.
func (e *Engine) refreshSchedules(ctx context.Context) {
	active, err := e.repo.FindActive(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "load active tasks for refresh", "error", err)
		return
	}

	keep := make(map[string]struct{}, len(active))
	for _, task := range active {
		if task.NextExecutionTime == nil {
			continue
		}
		keep[task.ID] = struct{}{}

		e.mu.Lock()
		_, busy := e.inFlight[task.ID]
		record, ok := e.timers[task.ID]
		aligned := ok && record.scheduledFor.Equal(*task.NextExecutionTime)
		e.mu.Unlock()
		if busy || aligned {
			continue
		}

		if scheduleErr := e.ScheduleTask(task); scheduleErr != nil {
			e.logger.WarnContext(ctx, "refresh could not schedule task",
				"task_id", task.ID,
				"error", scheduleErr,
			)
		}
	}

	e.mu.Lock()
	orphans := make([]string, 0)
	for id := range e.timers {
		if _, ok := keep[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	e.mu.Unlock()
	for _, id := range orphans {
		e.UnscheduleTask(id)
	}
}

// healthCheck purges timers whose fire instant passed by more than the
// allowed drift without firing, then resyncs if any were found.
func (e *Engine) healthCheck(ctx context.Context) {
	now := e.timeProvider.Now()
	cutoff := now.Add(-e.cfg.MaxTimerDrift)

	e.mu.Lock()
	stale := make([]string, 0)
	for id, record := range e.timers {
		if record.scheduledFor.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	e.stats.StaleTimers += int64(len(stale))
	e.mu.Unlock()

	for _, id := range stale {
		e.UnscheduleTask(id)
	}
	if len(stale) > 0 {
		e.logger.WarnContext(ctx, "stale timers purged", "count", len(stale))
		e.refreshSchedules(ctx)
	}

	e.mu.Lock()
	timers, inFlight := len(e.timers), len(e.inFlight)
	e.mu.Unlock()
	e.publish(ctx, core.NewEvent(core.SubjectHealthCheck, "", now).WithFields(map[string]any{
		"timers":        timers,
		"in_flight":     inFlight,
		"stale_removed": len(stale),
	}))
	metrics.EngineGauges(e.metrics, timers, inFlight)
}

// timerCleanup resyncs the timer map against storage on the long interval.
func (e *Engine) timerCleanup(ctx context.Context) {
	before := e.timerCount()
	e.refreshSchedules(ctx)
	after := e.timerCount()

	e.publish(ctx, core.NewEvent(core.SubjectTimerCleanup, "", e.timeProvider.Now()).
		WithFields(map[string]any{"before": before, "after": after}))
	e.logger.DebugContext(ctx, "timer cleanup complete", "before", before, "after", after)
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.loopWG.Done()

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := e.ExecuteDueTasks(ctx)
			if err != nil {
				if apperrors.IsNotReady(err) {
					return
				}
				e.logger.ErrorContext(ctx, "sweep failed", "error", err)
				continue
			}
			if report.Executed+report.Failed+report.Skipped > 0 {
				e.logger.InfoContext(ctx, "sweep complete",
					"executed", report.Executed,
					"failed", report.Failed,
					"skipped", report.Skipped,
				)
			}
		}
	}
}

func (e *Engine) healthLoop(ctx context.Context) {
	defer e.loopWG.Done()

	ticker := time.NewTicker(e.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.healthCheck(ctx)
		}
	}
}

func (e *Engine) cleanupLoop(ctx context.Context) {
	defer e.loopWG.Done()

	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.timerCleanup(ctx)
		}
	}
}

// unscheduleLocked cancels and removes the timer for the id. Caller holds
// the mutex. Returns whether a timer existed.
func (e *Engine) unscheduleLocked(id string) bool {
	record, ok := e.timers[id]
	if !ok {
		return false
	}
	record.handle.Stop()
	delete(e.timers, id)
	e.stats.CancelledTimers++
	return true
}

func (e *Engine) waitForDrain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.execWG.Wait()
		close(done)
	}()

	timer := time.NewTimer(stopDrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return apperrors.Timeout("drain deadline elapsed with executions in flight")
	case <-ctx.Done():
		return apperrors.Canceled("stop interrupted")
	}
}

func (e *Engine) timerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// executionContext returns the long-lived context executions run on, or
// Background before Start.
func (e *Engine) executionContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.execCtx != nil {
		return e.execCtx
	}
	return context.Background()
}

func (e *Engine) publish(ctx context.Context, event core.Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(ctx, event)
}

// gaugesLocked emits load gauges; caller holds the mutex.
func (e *Engine) gaugesLocked() {
	metrics.EngineGauges(e.metrics, len(e.timers), len(e.inFlight))
}
