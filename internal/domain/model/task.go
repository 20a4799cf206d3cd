package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/homeshield/aegis/internal/domain/schedule"
	apperrors "github.com/homeshield/aegis/internal/errors"
)

// Status is the lifecycle state of a scheduled task.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, the rest value receivers
type Status string

const (
	// StatusPending indicates a task has been created but not yet activated.
	StatusPending Status = "PENDING"
	// StatusActive indicates a task is scheduled and will fire.
	StatusActive Status = "ACTIVE"
	// StatusCompleted indicates a task has been retired. Terminal.
	StatusCompleted Status = "COMPLETED"
	// StatusCancelled indicates a task was cancelled. Terminal.
	StatusCancelled Status = "CANCELLED"
	// StatusFailed indicates the last execution failed permanently.
	// Recoverable through Activate.
	StatusFailed Status = "FAILED"
)

// Valid returns true if the Status is recognized.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Terminal returns true for sink states that admit no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	v := Status(strings.ToUpper(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return apperrors.ValidationField("status", "invalid task status: "+string(text))
	}
	*s = v
	return nil
}

// ScheduledTask is a persistent recurring security action: when its
// expression fires, the action is dispatched and the execution statistics
// below are updated. The engine and executor treat loaded instances as
// snapshots; mutations happen through the methods here and are persisted
// by the repository.
type ScheduledTask struct {
	ID                string              `json:"id"                            db:"id"`
	UserID            string              `json:"user_id"                       db:"user_id"`
	Expression        schedule.Expression `json:"expression"                    db:"expression"`
	Action            Action              `json:"action"                        db:"action"`
	Status            Status              `json:"status"                        db:"status"`
	CreatedAt         time.Time           `json:"created_at"                    db:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"                    db:"updated_at"`
	NextExecutionTime *time.Time          `json:"next_execution_time,omitempty" db:"next_execution_time"`
	LastExecutionTime *time.Time          `json:"last_execution_time,omitempty" db:"last_execution_time"`
	ExecutionCount    int                 `json:"execution_count"               db:"execution_count"`
	FailureCount      int                 `json:"failure_count"                 db:"failure_count"`
	LastError         *string             `json:"last_error,omitempty"          db:"last_error"`
}

// NewArmTask creates a PENDING task that arms the system on the given schedule.
func NewArmTask(userID string, expr schedule.Expression, mode ArmMode, zoneIDs []string, now time.Time) (*ScheduledTask, error) {
	action, err := NewArmAction(mode, zoneIDs)
	if err != nil {
		return nil, err
	}
	return newTask(userID, expr, action, now)
}

// NewDisarmTask creates a PENDING task that disarms the system on the given schedule.
func NewDisarmTask(userID string, expr schedule.Expression, zoneIDs []string, now time.Time) (*ScheduledTask, error) {
	action, err := NewDisarmAction(zoneIDs)
	if err != nil {
		return nil, err
	}
	return newTask(userID, expr, action, now)
}

func newTask(userID string, expr schedule.Expression, action Action, now time.Time) (*ScheduledTask, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.ValidationField("user_id", "user id is required")
	}
	if len(expr.Days()) == 0 {
		return nil, apperrors.ValidationField("expression", "schedule expression is required")
	}

	now = now.UTC()
	next, err := expr.NextFire(now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "expression has no future fire instant")
	}

	return &ScheduledTask{
		ID:                uuid.NewString(),
		UserID:            userID,
		Expression:        expr,
		Action:            action,
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
		NextExecutionTime: &next,
	}, nil
}

// Activate moves the task to ACTIVE and recomputes its next fire instant.
// Activation is rejected from terminal states; recovery from FAILED is
// allowed.
func (t *ScheduledTask) Activate(now time.Time) error {
	if t.Status.Terminal() {
		return apperrors.Statef("cannot activate %s task %s", t.Status, t.ID)
	}
	t.Status = StatusActive
	t.LastError = nil
	t.touch(now)
	return t.RefreshNextExecution(now)
}

// RecordSuccess registers a successful execution at the given instant and
// recomputes the next fire. The task stays ACTIVE: every expression in
// this system recurs.
func (t *ScheduledTask) RecordSuccess(at time.Time) error {
	if t.Status != StatusActive {
		return apperrors.Statef("cannot record success on %s task %s", t.Status, t.ID)
	}
	t.ExecutionCount++
	at = at.UTC()
	t.LastExecutionTime = &at
	t.LastError = nil
	t.touch(at)
	return t.RefreshNextExecution(at)
}

// MarkFailed registers a permanently failed execution: counters advance,
// the reason is recorded, and the task leaves the schedule until it is
// re-activated.
func (t *ScheduledTask) MarkFailed(reason string, at time.Time) error {
	if t.Status.Terminal() {
		return apperrors.Statef("cannot fail %s task %s", t.Status, t.ID)
	}
	t.ExecutionCount++
	t.FailureCount++
	at = at.UTC()
	t.LastExecutionTime = &at
	t.LastError = &reason
	t.Status = StatusFailed
	t.NextExecutionTime = nil
	t.touch(at)
	return nil
}

// Cancel moves a non-terminal task to CANCELLED.
func (t *ScheduledTask) Cancel(reason string, now time.Time) error {
	if t.Status.Terminal() {
		return apperrors.Statef("cannot cancel %s task %s", t.Status, t.ID)
	}
	t.Status = StatusCancelled
	t.NextExecutionTime = nil
	if strings.TrimSpace(reason) != "" {
		t.LastError = &reason
	}
	t.touch(now)
	return nil
}

// Complete retires a non-terminal task.
func (t *ScheduledTask) Complete(now time.Time) error {
	if t.Status.Terminal() {
		return apperrors.Statef("cannot complete %s task %s", t.Status, t.ID)
	}
	t.Status = StatusCompleted
	t.NextExecutionTime = nil
	t.touch(now)
	return nil
}

// RefreshNextExecution recomputes the next fire instant from the given
// reference. If the expression cannot be evaluated the task transitions
// to FAILED with the reason recorded, and the error is returned.
func (t *ScheduledTask) RefreshNextExecution(from time.Time) error {
	next, err := t.Expression.NextFire(from)
	if err != nil {
		reason := err.Error()
		t.LastError = &reason
		t.Status = StatusFailed
		t.NextExecutionTime = nil
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to compute next execution time")
	}
	t.NextExecutionTime = &next
	return nil
}

// IsReadyForExecution reports whether the task is ACTIVE with a fire
// instant at or before now.
func (t *ScheduledTask) IsReadyForExecution(now time.Time) bool {
	return t.Status == StatusActive &&
		t.NextExecutionTime != nil &&
		!t.NextExecutionTime.After(now)
}

// IsOverdue reports whether the task is ready and its fire instant is more
// than tolerance in the past.
func (t *ScheduledTask) IsOverdue(now time.Time, tolerance time.Duration) bool {
	return t.IsReadyForExecution(now) &&
		!t.NextExecutionTime.After(now.Add(-tolerance))
}

// Recurring reports whether the expression admits future fires. Every
// well-formed expression here does; the method exists so callers do not
// hard-code that assumption.
func (t *ScheduledTask) Recurring() bool {
	return len(t.Expression.Days()) > 0
}

// Validate checks the structural invariants of the record. Intended for
// data loaded from storage or decoded from JSON; the mutation methods
// preserve these invariants on their own.
func (t *ScheduledTask) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return apperrors.ValidationField("id", "task id is required")
	}
	if strings.TrimSpace(t.UserID) == "" {
		return apperrors.ValidationField("user_id", "user id is required")
	}
	if !t.Status.Valid() {
		return apperrors.ValidationField("status", "invalid task status: "+string(t.Status))
	}
	if len(t.Expression.Days()) == 0 {
		return apperrors.ValidationField("expression", "schedule expression is required")
	}
	if err := t.Action.Validate(); err != nil {
		return err
	}
	if t.FailureCount < 0 || t.ExecutionCount < t.FailureCount {
		return apperrors.ValidationField("execution_count", "execution count must be at least the failure count")
	}
	if t.UpdatedAt.Before(t.CreatedAt) {
		return apperrors.ValidationField("updated_at", "updated time cannot precede creation time")
	}
	if t.NextExecutionTime != nil && t.Status.Terminal() {
		return apperrors.ValidationField("next_execution_time", "terminal tasks cannot have a next execution time")
	}
	if t.NextExecutionTime == nil && (t.Status == StatusPending || t.Status == StatusActive) {
		return apperrors.ValidationField("next_execution_time", "schedulable tasks require a next execution time")
	}
	return nil
}

// Clone returns a deep copy, safe to hand to another goroutine.
func (t *ScheduledTask) Clone() *ScheduledTask {
	if t == nil {
		return nil
	}
	out := *t
	out.Action = t.Action.clone()
	out.NextExecutionTime = cloneTime(t.NextExecutionTime)
	out.LastExecutionTime = cloneTime(t.LastExecutionTime)
	if t.LastError != nil {
		v := *t.LastError
		out.LastError = &v
	}
	return &out
}

// touch refreshes the update stamp, never moving it before creation.
func (t *ScheduledTask) touch(now time.Time) {
	now = now.UTC()
	if now.Before(t.CreatedAt) {
		now = t.CreatedAt
	}
	t.UpdatedAt = now
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
