package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeshield/aegis/internal/domain/schedule"
	apperrors "github.com/homeshield/aegis/internal/errors"
)

// mondayMorning is Monday 2024-01-01 08:00 UTC.
var mondayMorning = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func weeklyExpression(t *testing.T, days ...schedule.Day) schedule.Expression {
	t.Helper()
	expr, err := schedule.NewExpression(days, schedule.MustTimeOfDay(9, 0), "UTC")
	require.NoError(t, err)
	return expr
}

func newActiveArmTask(t *testing.T, days ...schedule.Day) *ScheduledTask {
	t.Helper()
	task, err := NewArmTask("user-1", weeklyExpression(t, days...), ArmModeAway, nil, mondayMorning)
	require.NoError(t, err)
	require.NoError(t, task.Activate(mondayMorning))
	return task
}

func TestNewArmTask(t *testing.T) {
	task, err := NewArmTask("user-1", weeklyExpression(t, schedule.Monday), ArmModeAway, []string{"zone-1"}, mondayMorning)
	require.NoError(t, err)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "user-1", task.UserID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, ActionArmSystem, task.Action.Kind)
	assert.Equal(t, 0, task.ExecutionCount)
	assert.Equal(t, 0, task.FailureCount)
	assert.Nil(t, task.LastError)
	assert.Nil(t, task.LastExecutionTime)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)

	require.NotNil(t, task.NextExecutionTime)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), task.NextExecutionTime.UTC())

	require.NoError(t, task.Validate())
}

func TestNewDisarmTask(t *testing.T) {
	task, err := NewDisarmTask("user-1", weeklyExpression(t, schedule.Sunday), []string{"zone-3"}, mondayMorning)
	require.NoError(t, err)
	assert.Equal(t, ActionDisarmSystem, task.Action.Kind)
	require.NoError(t, task.Validate())
}

func TestNewArmTask_Validation(t *testing.T) {
	expr := weeklyExpression(t, schedule.Monday)

	_, err := NewArmTask("", expr, ArmModeAway, nil, mondayMorning)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = NewArmTask("user-1", schedule.Expression{}, ArmModeAway, nil, mondayMorning)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = NewArmTask("user-1", expr, ArmMode("vacation"), nil, mondayMorning)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestScheduledTask_Activate(t *testing.T) {
	task, err := NewArmTask("user-1", weeklyExpression(t, schedule.Monday), ArmModeAway, nil, mondayMorning)
	require.NoError(t, err)

	require.NoError(t, task.Activate(mondayMorning))
	assert.Equal(t, StatusActive, task.Status)
	require.NotNil(t, task.NextExecutionTime)
}

func TestScheduledTask_Activate_RecoversFromFailed(t *testing.T) {
	task := newActiveArmTask(t, schedule.Monday)
	require.NoError(t, task.MarkFailed("panel offline", mondayMorning.Add(time.Hour)))
	require.Equal(t, StatusFailed, task.Status)

	require.NoError(t, task.Activate(mondayMorning.Add(2*time.Hour)))
	assert.Equal(t, StatusActive, task.Status)
	assert.Nil(t, task.LastError)
	require.NotNil(t, task.NextExecutionTime)
	assert.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), task.NextExecutionTime.UTC())
}

func TestScheduledTask_Activate_RejectedFromTerminal(t *testing.T) {
	cancelled := newActiveArmTask(t, schedule.Monday)
	require.NoError(t, cancelled.Cancel("user request", mondayMorning))
	err := cancelled.Activate(mondayMorning)
	require.Error(t, err)
	assert.True(t, apperrors.IsState(err))

	completed := newActiveArmTask(t, schedule.Monday)
	require.NoError(t, completed.Complete(mondayMorning))
	err = completed.Activate(mondayMorning)
	require.Error(t, err)
	assert.True(t, apperrors.IsState(err))
}

func TestScheduledTask_RecordSuccess_AdvancesToNextDay(t *testing.T) {
	// Fires Monday, Wednesday, Friday at 09:00. Success two minutes after
	// the Monday fire leaves the task active and pointed at Wednesday.
	task := newActiveArmTask(t, schedule.Monday, schedule.Wednesday, schedule.Friday)
	executedAt := time.Date(2024, 1, 1, 9, 2, 0, 0, time.UTC)

	require.NoError(t, task.RecordSuccess(executedAt))

	assert.Equal(t, StatusActive, task.Status)
	assert.Equal(t, 1, task.ExecutionCount)
	assert.Equal(t, 0, task.FailureCount)
	assert.Nil(t, task.LastError)
	require.NotNil(t, task.LastExecutionTime)
	assert.Equal(t, executedAt, task.LastExecutionTime.UTC())
	require.NotNil(t, task.NextExecutionTime)
	assert.Equal(t, time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC), task.NextExecutionTime.UTC())
}

func TestScheduledTask_RecordSuccess_RequiresActive(t *testing.T) {
	task, err := NewArmTask("user-1", weeklyExpression(t, schedule.Monday), ArmModeAway, nil, mondayMorning)
	require.NoError(t, err)

	err = task.RecordSuccess(mondayMorning.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, apperrors.IsState(err))
	assert.Equal(t, 0, task.ExecutionCount)
}

func TestScheduledTask_MarkFailed(t *testing.T) {
	task := newActiveArmTask(t, schedule.Monday)
	failedAt := time.Date(2024, 1, 1, 9, 1, 0, 0, time.UTC)

	require.NoError(t, task.MarkFailed("user not found", failedAt))

	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, 1, task.ExecutionCount)
	assert.Equal(t, 1, task.FailureCount)
	require.NotNil(t, task.LastError)
	assert.Equal(t, "user not found", *task.LastError)
	assert.Nil(t, task.NextExecutionTime)
	require.NotNil(t, task.LastExecutionTime)
	assert.Equal(t, failedAt, task.LastExecutionTime.UTC())
}

func TestScheduledTask_MarkFailed_RejectedFromTerminal(t *testing.T) {
	task := newActiveArmTask(t, schedule.Monday)
	require.NoError(t, task.Cancel("", mondayMorning))

	err := task.MarkFailed("boom", mondayMorning)
	require.Error(t, err)
	assert.True(t, apperrors.IsState(err))
}

func TestScheduledTask_Cancel(t *testing.T) {
	task := newActiveArmTask(t, schedule.Monday)
	require.NoError(t, task.Cancel("vacation mode", mondayMorning.Add(time.Hour)))

	assert.Equal(t, StatusCancelled, task.Status)
	assert.Nil(t, task.NextExecutionTime)
	require.NotNil(t, task.LastError)
	assert.Equal(t, "vacation mode", *task.LastError)

	err := task.Cancel("again", mondayMorning.Add(2*time.Hour))
	require.Error(t, err)
	assert.True(t, apperrors.IsState(err))
}

func TestScheduledTask_Complete(t *testing.T) {
	task := newActiveArmTask(t, schedule.Monday)
	require.NoError(t, task.Complete(mondayMorning.Add(time.Hour)))

	assert.Equal(t, StatusCompleted, task.Status)
	assert.Nil(t, task.NextExecutionTime)

	err := task.Complete(mondayMorning.Add(2 * time.Hour))
	require.Error(t, err)
	assert.True(t, apperrors.IsState(err))
}

func TestScheduledTask_IsReadyForExecution(t *testing.T) {
	task := newActiveArmTask(t, schedule.Monday)
	fire := task.NextExecutionTime.UTC()

	assert.False(t, task.IsReadyForExecution(fire.Add(-time.Second)))
	assert.True(t, task.IsReadyForExecution(fire))
	assert.True(t, task.IsReadyForExecution(fire.Add(time.Minute)))

	pending, err := NewArmTask("user-1", weeklyExpression(t, schedule.Monday), ArmModeAway, nil, mondayMorning)
	require.NoError(t, err)
	assert.False(t, pending.IsReadyForExecution(fire.Add(time.Minute)))
}

func TestScheduledTask_IsOverdue(t *testing.T) {
	task := newActiveArmTask(t, schedule.Monday)
	fire := task.NextExecutionTime.UTC()
	tolerance := 5 * time.Minute

	assert.False(t, task.IsOverdue(fire.Add(time.Minute), tolerance))
	assert.False(t, task.IsOverdue(fire.Add(tolerance-time.Second), tolerance))
	assert.True(t, task.IsOverdue(fire.Add(tolerance), tolerance))
	assert.True(t, task.IsOverdue(fire.Add(time.Hour), tolerance))
}

func TestScheduledTask_CountInvariantsHoldAcrossLifecycle(t *testing.T) {
	task := newActiveArmTask(t, schedule.Monday, schedule.Wednesday)
	at := time.Date(2024, 1, 1, 9, 0, 30, 0, time.UTC)

	check := func() {
		t.Helper()
		assert.GreaterOrEqual(t, task.ExecutionCount, task.FailureCount)
		assert.GreaterOrEqual(t, task.FailureCount, 0)
		assert.False(t, task.UpdatedAt.Before(task.CreatedAt))
	}

	check()
	require.NoError(t, task.RecordSuccess(at))
	check()
	require.NoError(t, task.RecordSuccess(at.Add(48*time.Hour)))
	check()
	require.NoError(t, task.MarkFailed("panel offline", at.Add(96*time.Hour)))
	check()
	require.NoError(t, task.Activate(at.Add(97*time.Hour)))
	check()
	require.NoError(t, task.Cancel("done testing", at.Add(98*time.Hour)))
	check()
}

func TestScheduledTask_Validate_RejectsCorruptRecords(t *testing.T) {
	base := func() *ScheduledTask { return newActiveArmTask(t, schedule.Monday) }

	corrupted := base()
	corrupted.FailureCount = corrupted.ExecutionCount + 1
	require.Error(t, corrupted.Validate())

	corrupted = base()
	corrupted.UpdatedAt = corrupted.CreatedAt.Add(-time.Hour)
	require.Error(t, corrupted.Validate())

	corrupted = base()
	corrupted.NextExecutionTime = nil
	require.Error(t, corrupted.Validate())

	corrupted = base()
	require.NoError(t, corrupted.Cancel("", mondayMorning))
	next := mondayMorning.Add(time.Hour)
	corrupted.NextExecutionTime = &next
	require.Error(t, corrupted.Validate())

	corrupted = base()
	corrupted.Status = Status("LIMBO")
	require.Error(t, corrupted.Validate())
}

func TestScheduledTask_Clone_IsIndependent(t *testing.T) {
	task := newActiveArmTask(t, schedule.Monday)
	task.Action.Arm.ZoneIDs = []string{"zone-1"}

	snapshot := task.Clone()
	require.NoError(t, task.RecordSuccess(time.Date(2024, 1, 1, 9, 0, 0, 1, time.UTC)))
	task.Action.Arm.ZoneIDs[0] = "zone-2"

	assert.Equal(t, 0, snapshot.ExecutionCount)
	assert.Equal(t, "zone-1", snapshot.Action.Arm.ZoneIDs[0])
	assert.NotEqual(t, task.UpdatedAt, snapshot.UpdatedAt)
}

func TestScheduledTask_JSONRoundTrip(t *testing.T) {
	task, err := NewArmTask("user-1", weeklyExpression(t, schedule.Monday, schedule.Friday), ArmModeStay, []string{"zone-9"}, mondayMorning)
	require.NoError(t, err)

	data, err := json.Marshal(task)
	require.NoError(t, err)

	var back ScheduledTask
	require.NoError(t, json.Unmarshal(data, &back))
	require.NoError(t, back.Validate())

	assert.Equal(t, task.ID, back.ID)
	assert.Equal(t, task.Status, back.Status)
	assert.True(t, task.Expression.Equal(back.Expression))
	assert.Equal(t, task.Action, back.Action)
	assert.Equal(t, task.NextExecutionTime.UTC(), back.NextExecutionTime.UTC())
}
