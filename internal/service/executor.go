package service

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/homeshield/aegis/internal/core"
	"github.com/homeshield/aegis/internal/data"
	"github.com/homeshield/aegis/internal/domain/model"
	apperrors "github.com/homeshield/aegis/internal/errors"
	"github.com/homeshield/aegis/internal/observability/metrics"
	"github.com/homeshield/aegis/internal/observability/statsd"
)

// ExecutorOptions holds the dependencies for creating an Executor.
// Uses an options struct to keep parameter count <= 3 as per project conventions.
type ExecutorOptions struct {
	Repo         core.TaskRepository
	Dispatcher   core.ActionDispatcher
	Bus          core.EventPublisher
	Config       *core.ExecutorConfig
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
	Metrics      statsd.Sink
}

// Executor runs security actions with bounded concurrency, per-attempt
// timeouts and classified retries. Submissions beyond the concurrency cap
// queue for a slot up to the queue timeout. One execution per task may be
// in flight at a time; duplicate submissions are rejected with the state of
// the running execution.
type Executor struct {
	repo         core.TaskRepository
	dispatcher   core.ActionDispatcher
	bus          core.EventPublisher
	cfg          core.ExecutorConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink

	// jitter returns a value in [0,1) for backoff spreading; replaced in tests.
	jitter func() float64

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]*executionRecord
	pending  int
	draining bool
	stats    ExecutorStats
}

// executionRecord tracks one accepted submission from queue entry to
// completion. Fields are guarded by the executor mutex.
type executionRecord struct {
	taskID    string
	startedAt time.Time
	retry     int
	running   bool
}

// ExecutionResult reports the outcome of one task submission.
type ExecutionResult struct {
	TaskID       string
	Success      bool
	Message      string
	Attempts     int
	CurrentRetry int
	StartedAt    time.Time
	CompletedAt  time.Time
	Duration     time.Duration
	Err          error
}

// ExecuteOptions carries per-submission execution context.
type ExecuteOptions struct {
	// ExecutionTime is the fire instant the dispatch is honouring. Zero
	// means the submission time.
	ExecutionTime time.Time
	// IgnoreOverdue tells the dispatcher to run even for stale fire
	// instants, e.g. executions deferred across a restart.
	IgnoreOverdue bool
}

// ExecutorStats counts lifetime executor activity.
type ExecutorStats struct {
	Executed  int64
	Succeeded int64
	Failed    int64
	Retried   int64
	Rejected  int64
}

// ExecutorStatus is a point-in-time view of executor load.
type ExecutorStatus struct {
	InFlight int
	Pending  int
	Draining bool
	Stats    ExecutorStats
}

// NewExecutor constructs an executor. Repo and Dispatcher are required.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Repo == nil {
		return nil, apperrors.Validation("task repository is required")
	}
	if opts.Dispatcher == nil {
		return nil, apperrors.Validation("action dispatcher is required")
	}

	cfg := core.DefaultExecutorConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	defaults := core.DefaultExecutorConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = defaults.BackoffMax
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = defaults.QueueTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaults.ShutdownGrace
	}

	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "executor")
	}

	return &Executor{
		repo:         opts.Repo,
		dispatcher:   opts.Dispatcher,
		bus:          opts.Bus,
		cfg:          cfg,
		timeProvider: timeProvider,
		logger:       logger,
		metrics:      opts.Metrics,
		jitter:       rand.Float64,
		sem:          semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		inFlight:     make(map[string]*executionRecord),
	}, nil
}

// ExecuteTask runs the task's action with the default execution options.
func (e *Executor) ExecuteTask(ctx context.Context, task *model.ScheduledTask) (*ExecutionResult, error) {
	return e.ExecuteTaskWithOptions(ctx, task, ExecuteOptions{})
}

// ExecuteTaskWithOptions runs the task's action synchronously: it queues for
// an execution slot, dispatches with per-attempt timeouts, retries failures
// the error taxonomy classifies as retryable, and persists the final outcome
// on the stored task. A business failure is reported in the result, not as
// a returned error.
func (e *Executor) ExecuteTaskWithOptions(
	ctx context.Context,
	task *model.ScheduledTask,
	opts ExecuteOptions,
) (*ExecutionResult, error) {
	if task == nil {
		return nil, apperrors.Validation("task is required")
	}
	if opts.ExecutionTime.IsZero() {
		if task.NextExecutionTime != nil {
			opts.ExecutionTime = *task.NextExecutionTime
		} else {
			opts.ExecutionTime = e.timeProvider.Now()
		}
	}

	submitted := e.timeProvider.Now()
	record, rejected := e.register(task.ID, submitted)
	if rejected != nil {
		return rejected, nil
	}
	defer e.unregister(task.ID)

	e.wg.Add(1)
	defer e.wg.Done()

	e.publish(ctx, core.NewEvent(core.SubjectTaskQueued, task.ID, submitted).
		WithFields(map[string]any{"pending": e.pendingCount()}))
	e.emitGauges()

	if err := e.acquireSlot(ctx); err != nil {
		e.publish(ctx, core.NewEvent(core.SubjectTaskDequeued, task.ID, e.timeProvider.Now()).WithErr(err))
		e.noteRejected()
		e.logger.WarnContext(ctx, "task never reached an execution slot",
			"task_id", task.ID,
			"error", err,
		)
		return e.conclude(ctx, task, &ExecutionResult{
			TaskID:    task.ID,
			Message:   err.Error(),
			StartedAt: submitted,
			Err:       err,
		}), nil
	}
	e.markRunning(record)
	e.publish(ctx, core.NewEvent(core.SubjectTaskDequeued, task.ID, e.timeProvider.Now()))
	e.emitGauges()

	return e.run(ctx, task, record, opts), nil
}

// run owns the slot acquired by the caller and releases it on every path.
func (e *Executor) run(
	ctx context.Context,
	task *model.ScheduledTask,
	record *executionRecord,
	opts ExecuteOptions,
) *ExecutionResult {
	startedAt := e.timeProvider.Now()
	e.publish(ctx, core.NewEvent(core.SubjectExecutionStarted, task.ID, startedAt).
		WithFields(map[string]any{"execution_time": opts.ExecutionTime}))
	e.logger.InfoContext(ctx, "executing task",
		"task_id", task.ID,
		"action", task.Action.Kind,
		"execution_time", opts.ExecutionTime,
	)

	attempts := 0
	var lastErr error

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.backoffDelay(attempt - 1)
			e.noteRetry(record, attempt)
			e.publish(ctx, core.NewEvent(core.SubjectExecutionRetry, task.ID, e.timeProvider.Now()).
				WithErr(lastErr).
				WithFields(map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds()}))
			metrics.EmitRetry(e.metrics, string(task.Action.Kind), attempt)
			e.logger.WarnContext(ctx, "retrying task",
				"task_id", task.ID,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)

			// The slot is surrendered for the wait so backoff never
			// starves other submissions.
			e.releaseSlot()
			if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
				return e.concludeCanceled(ctx, task, startedAt, attempts)
			}
			if acquireErr := e.acquireSlot(ctx); acquireErr != nil {
				lastErr = apperrors.Timeout("timed out waiting to resume after backoff")
				e.persistOutcome(ctx, task.ID, lastErr)
				return e.conclude(ctx, task, &ExecutionResult{
					TaskID:    task.ID,
					Message:   lastErr.Error(),
					Attempts:  attempts,
					StartedAt: startedAt,
					Err:       lastErr,
				})
			}
		}

		attempts++
		lastErr = e.dispatchAttempt(ctx, task, opts)
		if lastErr == nil {
			e.persistOutcome(ctx, task.ID, nil)
			e.releaseSlot()
			return e.conclude(ctx, task, &ExecutionResult{
				TaskID:    task.ID,
				Success:   true,
				Attempts:  attempts,
				StartedAt: startedAt,
			})
		}

		if apperrors.IsCanceled(lastErr) || ctx.Err() != nil {
			e.releaseSlot()
			return e.concludeCanceled(ctx, task, startedAt, attempts)
		}
		class := apperrors.Classify(lastErr)
		if class == apperrors.ClassNonRetryable {
			break
		}
		if class == apperrors.ClassTimeout && !e.cfg.RetryOnTimeout {
			break
		}
	}

	e.persistOutcome(ctx, task.ID, lastErr)
	e.releaseSlot()
	return e.conclude(ctx, task, &ExecutionResult{
		TaskID:    task.ID,
		Message:   lastErr.Error(),
		Attempts:  attempts,
		StartedAt: startedAt,
		Err:       lastErr,
	})
}

// BatchOptions tunes one ExecuteBatchWithOptions call.
type BatchOptions struct {
	// MaxConcurrent caps simultaneous launches within the batch. Zero or
	// anything above the executor's own cap falls back to that cap.
	MaxConcurrent int
	// ContinueOnError keeps launching after a failed task. When false the
	// batch stops launching at the first failure; tasks already launched
	// run to completion.
	ContinueOnError bool
}

// ExecuteBatch runs every task concurrently under the executor cap and
// returns one result per task, index-aligned with the input. Per-task
// failures are carried in the results, never returned as an error.
func (e *Executor) ExecuteBatch(ctx context.Context, tasks []*model.ScheduledTask) []*ExecutionResult {
	return e.ExecuteBatchWithOptions(ctx, tasks, BatchOptions{ContinueOnError: true})
}

// ExecuteBatchWithOptions runs the tasks with bounded batch concurrency.
// With ContinueOnError false, a failed task stops further launches; results
// for never-launched tasks report the abort without any execution attempt.
func (e *Executor) ExecuteBatchWithOptions(
	ctx context.Context,
	tasks []*model.ScheduledTask,
	opts BatchOptions,
) []*ExecutionResult {
	limit := opts.MaxConcurrent
	if limit <= 0 || limit > e.cfg.MaxConcurrent {
		limit = e.cfg.MaxConcurrent
	}

	results := make([]*ExecutionResult, len(tasks))
	var stopped atomic.Bool

	var group errgroup.Group
	group.SetLimit(limit)
	for i, task := range tasks {
		i, task := i, task
		group.Go(func() error {
			// The stop flag is rechecked at launch time so workers queued
			// behind the limit see failures that landed while they waited.
			if stopped.Load() {
				err := apperrors.NotReady("batch stopped after earlier failure")
				result := &ExecutionResult{Message: err.Error(), Err: err}
				if task != nil {
					result.TaskID = task.ID
				}
				results[i] = result
				return nil
			}

			result, err := e.ExecuteTaskWithOptions(ctx, task, ExecuteOptions{})
			if err != nil {
				result = &ExecutionResult{Message: err.Error(), Err: err}
				if task != nil {
					result.TaskID = task.ID
				}
			}
			if !result.Success && !opts.ContinueOnError {
				stopped.Store(true)
			}
			results[i] = result
			return nil
		})
	}
	// Workers record their failures in results and never return errors.
	_ = group.Wait()

	return results
}

// Shutdown stops accepting submissions and waits up to the shutdown grace
// for in-flight executions to drain. In-flight work is never interrupted.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return nil
	}
	e.draining = true
	inFlight := len(e.inFlight)
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "executor draining", "in_flight", inFlight, "grace", e.cfg.ShutdownGrace)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(e.cfg.ShutdownGrace)
	defer timer.Stop()

	var err error
	select {
	case <-done:
	case <-timer.C:
		err = apperrors.Timeout("shutdown grace elapsed with executions in flight")
	case <-ctx.Done():
		err = apperrors.Canceled("shutdown interrupted")
	}

	e.publish(context.WithoutCancel(ctx),
		core.NewEvent(core.SubjectExecutorShutdown, "", e.timeProvider.Now()).WithErr(err))
	if err != nil {
		e.logger.WarnContext(ctx, "executor shutdown incomplete", "error", err)
		return err
	}
	e.logger.InfoContext(ctx, "executor drained")
	return nil
}

// Status reports current executor load and lifetime stats.
func (e *Executor) Status() ExecutorStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	running := 0
	for _, record := range e.inFlight {
		if record.running {
			running++
		}
	}
	return ExecutorStatus{
		InFlight: running,
		Pending:  e.pending,
		Draining: e.draining,
		Stats:    e.stats,
	}
}

// dispatchAttempt performs one dispatcher call bounded by the attempt
// timeout. The dispatcher goroutine observes the attempt context itself; on
// timeout it is abandoned, never interrupted mid-action.
func (e *Executor) dispatchAttempt(ctx context.Context, task *model.ScheduledTask, opts ExecuteOptions) error {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	type attemptOutcome struct {
		result *core.DispatchResult
		err    error
	}
	done := make(chan attemptOutcome, 1)
	go func() {
		result, err := e.dispatcher.Execute(attemptCtx, core.DispatchRequest{
			TaskID:        task.ID,
			Action:        task.Action,
			ExecutionTime: opts.ExecutionTime,
			IgnoreOverdue: opts.IgnoreOverdue,
		})
		done <- attemptOutcome{result: result, err: err}
	}()

	select {
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return apperrors.Canceled("execution canceled")
		}
		return apperrors.Timeout("action timed out after " + e.cfg.Timeout.String())
	case out := <-done:
		if out.err != nil {
			return out.err
		}
		if out.result != nil && !out.result.Success {
			message := out.result.Message
			if message == "" {
				message = "action reported failure"
			}
			return apperrors.Execution(message)
		}
		return nil
	}
}

// persistOutcome records the execution result on the freshly loaded task so
// concurrent edits are never overwritten by a stale snapshot. The write
// survives caller cancellation.
func (e *Executor) persistOutcome(ctx context.Context, taskID string, execErr error) {
	persistCtx := context.WithoutCancel(ctx)

	fresh, err := e.repo.FindByID(persistCtx, taskID)
	if err != nil {
		e.logger.WarnContext(persistCtx, "load task for outcome", "task_id", taskID, "error", err)
		return
	}

	at := e.timeProvider.Now()
	if execErr == nil {
		err = fresh.RecordSuccess(at)
	} else {
		err = fresh.MarkFailed(execErr.Error(), at)
	}
	if err != nil {
		// The task left ACTIVE status while executing (e.g. cancelled
		// by its owner); the outcome is not recorded.
		e.logger.WarnContext(persistCtx, "task outcome not recorded",
			"task_id", taskID,
			"status", fresh.Status,
			"error", err,
		)
		return
	}

	if _, saveErr := e.repo.Save(persistCtx, fresh); saveErr != nil {
		e.logger.ErrorContext(persistCtx, "save task outcome", "task_id", taskID, "error", saveErr)
	}
}

// backoffDelay computes the exponential retry delay with jitter in
// [0.5x, 1.0x], capped at the configured maximum. retry is zero-based.
func (e *Executor) backoffDelay(retry int) time.Duration {
	base := float64(e.cfg.BackoffBase)
	factor := math.Pow(2, float64(retry))
	spread := 0.5 + e.jitter()*0.5

	delay := time.Duration(base * factor * spread)
	if delay > e.cfg.BackoffMax {
		delay = e.cfg.BackoffMax
	}
	return delay
}

func (e *Executor) acquireSlot(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.QueueTimeout)
	defer cancel()

	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return apperrors.Canceled("execution canceled while queued")
		}
		return apperrors.Timeout("timed out waiting for execution slot")
	}
	return nil
}

func (e *Executor) releaseSlot() {
	e.sem.Release(1)
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// register admits a submission only when the executor is accepting work and
// no execution for the same task is queued or running. The returned result
// is non-nil when the submission is rejected.
func (e *Executor) register(taskID string, at time.Time) (*executionRecord, *ExecutionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.draining {
		e.stats.Rejected++
		return nil, &ExecutionResult{
			TaskID:      taskID,
			Message:     "executor is shutting down",
			StartedAt:   at,
			CompletedAt: at,
			Err:         apperrors.NotReady("executor is shutting down"),
		}
	}
	if existing, ok := e.inFlight[taskID]; ok {
		e.stats.Rejected++
		return nil, &ExecutionResult{
			TaskID:       taskID,
			Message:      "task is already executing",
			StartedAt:    existing.startedAt,
			CurrentRetry: existing.retry,
			CompletedAt:  at,
			Err:          apperrors.Conflict("task is already executing"),
		}
	}

	record := &executionRecord{taskID: taskID, startedAt: at}
	e.inFlight[taskID] = record
	e.pending++
	return record, nil
}

func (e *Executor) unregister(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok := e.inFlight[taskID]
	if !ok {
		return
	}
	if !record.running {
		e.pending--
	}
	delete(e.inFlight, taskID)
}

func (e *Executor) markRunning(record *executionRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending--
	record.running = true
}

func (e *Executor) noteRetry(record *executionRecord, attempt int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record.retry = attempt
	e.stats.Retried++
}

func (e *Executor) noteRejected() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Rejected++
}

func (e *Executor) pendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// conclude finalises a result: stamps timing, updates stats, publishes the
// terminal event and emits metrics.
func (e *Executor) conclude(ctx context.Context, task *model.ScheduledTask, result *ExecutionResult) *ExecutionResult {
	if result.CompletedAt.IsZero() {
		result.CompletedAt = e.timeProvider.Now()
	}
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	e.mu.Lock()
	e.stats.Executed++
	if result.Success {
		e.stats.Succeeded++
	} else {
		e.stats.Failed++
	}
	e.mu.Unlock()

	subject := core.SubjectExecutionCompleted
	outcome := metrics.ResultSuccess
	fields := map[string]any{"attempts": result.Attempts, "duration_ms": result.Duration.Milliseconds()}
	if !result.Success {
		subject = core.SubjectExecutionFailed
		outcome = metrics.ResultFailure
		fields["error_class"] = string(apperrors.Classify(result.Err))
	}
	e.publish(ctx, core.NewEvent(subject, result.TaskID, result.CompletedAt).
		WithErr(result.Err).
		WithFields(fields))
	metrics.EmitExecution(e.metrics, metrics.ExecutionMetric{
		ActionKind: string(task.Action.Kind),
		Result:     outcome,
		Attempts:   result.Attempts,
		Duration:   result.Duration,
		Err:        result.Err,
	})
	e.emitGauges()

	if result.Success {
		e.logger.InfoContext(ctx, "task executed",
			"task_id", result.TaskID,
			"attempts", result.Attempts,
			"duration", result.Duration,
		)
	} else {
		e.logger.WarnContext(ctx, "task execution failed",
			"task_id", result.TaskID,
			"attempts", result.Attempts,
			"error", result.Err,
		)
	}
	return result
}

// concludeCanceled finishes a run interrupted by caller cancellation. The
// stored task is left untouched so a restarted engine can recover it.
func (e *Executor) concludeCanceled(
	ctx context.Context,
	task *model.ScheduledTask,
	startedAt time.Time,
	attempts int,
) *ExecutionResult {
	err := apperrors.Canceled("execution canceled")
	return e.conclude(ctx, task, &ExecutionResult{
		TaskID:    task.ID,
		Message:   err.Error(),
		Attempts:  attempts,
		StartedAt: startedAt,
		Err:       err,
	})
}

func (e *Executor) publish(ctx context.Context, event core.Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(ctx, event)
}

func (e *Executor) emitGauges() {
	if e.metrics == nil {
		return
	}
	status := e.Status()
	metrics.ExecutorGauges(e.metrics, status.Pending, status.InFlight)
}
