// Package core defines the contracts between the scheduling services and the
// collaborators they consume (ports in hexagonal architecture). Service
// implementations depend on these interfaces, never on concrete adapters.
package core

import (
	"context"
	"time"

	"github.com/homeshield/aegis/internal/domain/model"
)

// TaskRepository defines the interface for scheduled task storage.
// Implementations return apperrors codes: not_found for missing ids,
// conflict for duplicate ids, repository for I/O failures.
type TaskRepository interface {
	// Save inserts or updates a task and returns the stored snapshot.
	Save(ctx context.Context, task *model.ScheduledTask) (*model.ScheduledTask, error)
	// FindByID returns the task with the given id.
	FindByID(ctx context.Context, id string) (*model.ScheduledTask, error)
	// FindActive returns every task in ACTIVE status.
	FindActive(ctx context.Context) ([]*model.ScheduledTask, error)
	// FindByUserID returns every task belonging to the user.
	FindByUserID(ctx context.Context, userID string) ([]*model.ScheduledTask, error)
	// FindByNextExecutionTimeBefore returns ACTIVE tasks whose next fire
	// instant is at or before the cutoff.
	FindByNextExecutionTimeBefore(ctx context.Context, cutoff time.Time) ([]*model.ScheduledTask, error)
	// Delete removes a task. Returns true if a record was removed.
	Delete(ctx context.Context, id string) (bool, error)
	// Exists reports whether a task with the given id is stored.
	Exists(ctx context.Context, id string) (bool, error)
}

// DispatchRequest carries one action invocation to the dispatcher.
type DispatchRequest struct {
	TaskID        string
	Action        model.Action
	ExecutionTime time.Time
	// IgnoreOverdue tells the dispatcher to run even when the fire
	// instant is stale, e.g. for deferred overdue executions at startup.
	IgnoreOverdue bool
}

// DispatchResult reports the outcome of an action invocation.
type DispatchResult struct {
	Success     bool
	Message     string
	CompletedAt time.Time
}

// ActionDispatcher executes the security action behind a scheduled task.
// A failure may surface either as a returned error or as an unsuccessful
// result; both feed the executor's retry policy.
type ActionDispatcher interface {
	Execute(ctx context.Context, req DispatchRequest) (*DispatchResult, error)
}

// EventPublisher is the publish-only face of the event bus handed to the
// engine and the executor.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// EventBus is the full bus surface owned by the bootstrap: publishing plus
// subscription. Subscribe returns an unsubscribe function and the delivery
// channel; after unsubscribe the channel is closed. An empty subject list
// subscribes to every subject.
type EventBus interface {
	EventPublisher
	Subscribe(subjects ...Subject) (func(), <-chan Event)
}
