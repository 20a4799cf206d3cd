// Package dispatch provides action dispatcher implementations.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/homeshield/aegis/internal/core"
	"github.com/homeshield/aegis/internal/data"
	"github.com/homeshield/aegis/internal/domain/model"
	apperrors "github.com/homeshield/aegis/internal/errors"
)

// LoggingDispatcherOptions holds the dependencies for creating a
// LoggingDispatcher.
type LoggingDispatcherOptions struct {
	Logger *slog.Logger

	// Latency delays each dispatch to simulate panel round-trip time.
	Latency time.Duration

	// FailFn, when set, is consulted before every dispatch; a non-nil
	// return fails the request. Used to inject failures in demos and tests.
	FailFn func(req core.DispatchRequest) error

	TimeProvider data.TimeProvider
}

// LoggingDispatcher is the development implementation of
// core.ActionDispatcher: it logs the requested security action and reports
// success. Production deployments supply their own dispatcher wired to the
// panel integration.
type LoggingDispatcher struct {
	logger       *slog.Logger
	latency      time.Duration
	failFn       func(req core.DispatchRequest) error
	timeProvider data.TimeProvider
}

// NewLoggingDispatcher creates a dispatcher that only logs actions.
func NewLoggingDispatcher(opts LoggingDispatcherOptions) *LoggingDispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "dispatcher")
	}
	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}

	return &LoggingDispatcher{
		logger:       logger,
		latency:      opts.Latency,
		failFn:       opts.FailFn,
		timeProvider: timeProvider,
	}
}

// Execute logs the action and reports success after the configured latency.
func (d *LoggingDispatcher) Execute(ctx context.Context, req core.DispatchRequest) (*core.DispatchResult, error) {
	if err := req.Action.Validate(); err != nil {
		return nil, err
	}

	if d.latency > 0 {
		timer := time.NewTimer(d.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeTimeout, "dispatch timed out")
			}
			return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeCanceled, "dispatch interrupted")
		case <-timer.C:
		}
	}

	if d.failFn != nil {
		if err := d.failFn(req); err != nil {
			return nil, err
		}
	}

	message := d.logAction(ctx, req)
	return &core.DispatchResult{
		Success:     true,
		Message:     message,
		CompletedAt: d.timeProvider.Now(),
	}, nil
}

func (d *LoggingDispatcher) logAction(ctx context.Context, req core.DispatchRequest) string {
	attrs := []any{
		"task_id", req.TaskID,
		"execution_time", req.ExecutionTime,
		"ignore_overdue", req.IgnoreOverdue,
		"zone_ids", req.Action.ZoneIDs(),
	}

	switch req.Action.Kind {
	case model.ActionArmSystem:
		mode := model.ArmModeAway
		if req.Action.Arm != nil {
			mode = req.Action.Arm.Mode
		}
		d.logger.InfoContext(ctx, "arming security system", append(attrs, "mode", mode)...)
		return "armed in " + string(mode) + " mode"
	case model.ActionDisarmSystem:
		d.logger.InfoContext(ctx, "disarming security system", attrs...)
		return "disarmed"
	default:
		d.logger.WarnContext(ctx, "unknown action kind", append(attrs, "kind", req.Action.Kind)...)
		return "no-op"
	}
}

var _ core.ActionDispatcher = (*LoggingDispatcher)(nil)
