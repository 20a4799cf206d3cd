package core

import (
	"time"

	"github.com/google/uuid"

	"github.com/homeshield/aegis/internal/domain/model"
)

// Subject identifies an event category on the bus.
type Subject string

// Engine subjects.
const (
	SubjectTaskScheduled          Subject = "task.scheduled"
	SubjectTaskUnscheduled        Subject = "task.unscheduled"
	SubjectTaskExecutionStarted   Subject = "task.execution.started"
	SubjectTaskExecutionCompleted Subject = "task.execution.completed"
	SubjectTaskExecutionFailed    Subject = "task.execution.failed"
	SubjectHealthCheck            Subject = "health.check"
	SubjectTimerCleanup           Subject = "timer.cleanup"
	SubjectEngineStarted          Subject = "engine.started"
	SubjectEngineStopped          Subject = "engine.stopped"
)

// Executor subjects.
const (
	SubjectExecutionStarted   Subject = "execution.started"
	SubjectExecutionCompleted Subject = "execution.completed"
	SubjectExecutionFailed    Subject = "execution.failed"
	SubjectExecutionRetry     Subject = "execution.retry"
	SubjectTaskQueued         Subject = "task.queued"
	SubjectTaskDequeued       Subject = "task.dequeued"
	SubjectExecutorShutdown   Subject = "executor.shutdown"
)

// Lifecycle subjects published by callers and consumed by the supervisor,
// plus the supervisor's own announcements.
const (
	SubjectScheduleCreated   Subject = "schedule.created"
	SubjectScheduleUpdated   Subject = "schedule.updated"
	SubjectScheduleCancelled Subject = "schedule.cancelled"
	SubjectSchedulerStarted  Subject = "scheduler.started"
	SubjectSchedulerStopped  Subject = "scheduler.stopped"
	SubjectSchedulerError    Subject = "scheduler.error"
)

// Event is the envelope delivered on the bus. TaskID is set for every
// task-scoped subject; Task carries a snapshot when the consumer needs more
// than the id (schedule.created and schedule.updated). Fields holds
// subject-specific payload documented at the emission site.
type Event struct {
	ID      string               `json:"id"`
	Subject Subject              `json:"subject"`
	TaskID  string               `json:"task_id,omitempty"`
	Task    *model.ScheduledTask `json:"task,omitempty"`
	Err     string               `json:"error,omitempty"`
	At      time.Time            `json:"at"`
	Fields  map[string]any       `json:"fields,omitempty"`
}

// NewEvent builds an event envelope with a fresh id.
func NewEvent(subject Subject, taskID string, at time.Time) Event {
	return Event{
		ID:      uuid.NewString(),
		Subject: subject,
		TaskID:  taskID,
		At:      at.UTC(),
	}
}

// WithErr returns a copy of the event carrying an error message.
func (e Event) WithErr(err error) Event {
	if err != nil {
		e.Err = err.Error()
	}
	return e
}

// WithTask returns a copy of the event carrying a task snapshot.
func (e Event) WithTask(task *model.ScheduledTask) Event {
	if task != nil {
		e.Task = task.Clone()
	}
	return e
}

// WithFields returns a copy of the event carrying extra payload fields.
func (e Event) WithFields(fields map[string]any) Event {
	e.Fields = fields
	return e
}
