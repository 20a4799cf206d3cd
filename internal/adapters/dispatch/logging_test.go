package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeshield/aegis/internal/core"
	"github.com/homeshield/aegis/internal/data"
	"github.com/homeshield/aegis/internal/domain/model"
	apperrors "github.com/homeshield/aegis/internal/errors"
)

func armRequest(t *testing.T, mode model.ArmMode, zoneIDs []string) core.DispatchRequest {
	t.Helper()
	action, err := model.NewArmAction(mode, zoneIDs)
	require.NoError(t, err)
	return core.DispatchRequest{
		TaskID:        "task-1",
		Action:        action,
		ExecutionTime: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestLoggingDispatcher_Execute_ArmSuccess(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 1, 0, time.UTC)
	d := NewLoggingDispatcher(LoggingDispatcherOptions{
		TimeProvider: data.NewFixedTimeProvider(now),
	})

	result, err := d.Execute(context.Background(), armRequest(t, model.ArmModeStay, []string{"zone-1", "zone-2"}))

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "armed in stay mode", result.Message)
	assert.True(t, result.CompletedAt.Equal(now))
}

func TestLoggingDispatcher_Execute_DisarmSuccess(t *testing.T) {
	action, err := model.NewDisarmAction(nil)
	require.NoError(t, err)

	d := NewLoggingDispatcher(LoggingDispatcherOptions{})
	result, execErr := d.Execute(context.Background(), core.DispatchRequest{
		TaskID: "task-1",
		Action: action,
	})

	require.NoError(t, execErr)
	assert.True(t, result.Success)
	assert.Equal(t, "disarmed", result.Message)
}

func TestLoggingDispatcher_Execute_InvalidActionRejected(t *testing.T) {
	d := NewLoggingDispatcher(LoggingDispatcherOptions{})

	result, err := d.Execute(context.Background(), core.DispatchRequest{TaskID: "task-1"})

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, apperrors.IsValidation(err))
}

func TestLoggingDispatcher_Execute_FailureInjection(t *testing.T) {
	d := NewLoggingDispatcher(LoggingDispatcherOptions{
		FailFn: func(req core.DispatchRequest) error {
			return apperrors.Execution("panel offline")
		},
	})

	result, err := d.Execute(context.Background(), armRequest(t, model.ArmModeAway, nil))

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, apperrors.IsExecution(err))
	assert.Contains(t, err.Error(), "panel offline")
}

func TestLoggingDispatcher_Execute_LatencyHonoursDeadline(t *testing.T) {
	d := NewLoggingDispatcher(LoggingDispatcherOptions{Latency: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := d.Execute(ctx, armRequest(t, model.ArmModeAway, nil))

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, apperrors.IsTimeout(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLoggingDispatcher_Execute_LatencyCancelled(t *testing.T) {
	d := NewLoggingDispatcher(LoggingDispatcherOptions{Latency: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := d.Execute(ctx, armRequest(t, model.ArmModeAway, nil))

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, apperrors.IsCanceled(err))
}
