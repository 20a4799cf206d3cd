package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/homeshield/aegis/internal/core"
	"github.com/homeshield/aegis/internal/domain/model"
	apperrors "github.com/homeshield/aegis/internal/errors"
)

// MemoryTaskRepo is an in-memory TaskRepository for development and tests.
// All tasks are deep-copied on the way in and out so callers can never
// mutate stored state through a shared pointer.
type MemoryTaskRepo struct {
	mu    sync.RWMutex
	tasks map[string]*model.ScheduledTask
}

// NewMemoryTaskRepo creates an empty in-memory repository.
func NewMemoryTaskRepo() *MemoryTaskRepo {
	return &MemoryTaskRepo{
		tasks: make(map[string]*model.ScheduledTask),
	}
}

// Save inserts or updates a task and returns the stored snapshot.
func (r *MemoryTaskRepo) Save(ctx context.Context, task *model.ScheduledTask) (*model.ScheduledTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Canceled("save interrupted")
	}
	if task == nil {
		return nil, apperrors.Validation("task is required")
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := task.Clone()
	r.tasks[stored.ID] = stored
	return stored.Clone(), nil
}

// FindByID returns the task with the given id.
func (r *MemoryTaskRepo) FindByID(ctx context.Context, id string) (*model.ScheduledTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Canceled("lookup interrupted")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("task not found")
	}
	return task.Clone(), nil
}

// FindActive returns every task in ACTIVE status ordered by next fire
// instant, soonest first. Tasks without a fire instant sort last.
func (r *MemoryTaskRepo) FindActive(ctx context.Context) ([]*model.ScheduledTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Canceled("lookup interrupted")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*model.ScheduledTask
	for _, task := range r.tasks {
		if task.Status == model.StatusActive {
			active = append(active, task.Clone())
		}
	}
	sortByNextExecution(active)
	return active, nil
}

// FindByUserID returns every task belonging to the user ordered by creation
// time.
func (r *MemoryTaskRepo) FindByUserID(ctx context.Context, userID string) ([]*model.ScheduledTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Canceled("lookup interrupted")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var owned []*model.ScheduledTask
	for _, task := range r.tasks {
		if task.UserID == userID {
			owned = append(owned, task.Clone())
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID < owned[j].ID
		}
		return owned[i].CreatedAt.Before(owned[j].CreatedAt)
	})
	return owned, nil
}

// FindByNextExecutionTimeBefore returns ACTIVE tasks whose next fire instant
// is at or before the cutoff, soonest first.
func (r *MemoryTaskRepo) FindByNextExecutionTimeBefore(ctx context.Context, cutoff time.Time) ([]*model.ScheduledTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Canceled("lookup interrupted")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []*model.ScheduledTask
	for _, task := range r.tasks {
		if task.Status != model.StatusActive || task.NextExecutionTime == nil {
			continue
		}
		if task.NextExecutionTime.After(cutoff) {
			continue
		}
		due = append(due, task.Clone())
	}
	sortByNextExecution(due)
	return due, nil
}

// Delete removes a task. Returns true if a record was removed.
func (r *MemoryTaskRepo) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Canceled("delete interrupted")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return false, nil
	}
	delete(r.tasks, id)
	return true, nil
}

// Exists reports whether a task with the given id is stored.
func (r *MemoryTaskRepo) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Canceled("lookup interrupted")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.tasks[id]
	return ok, nil
}

// Len returns the number of stored tasks.
func (r *MemoryTaskRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

func sortByNextExecution(tasks []*model.ScheduledTask) {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i].NextExecutionTime, tasks[j].NextExecutionTime
		switch {
		case a == nil && b == nil:
			return tasks[i].ID < tasks[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return tasks[i].ID < tasks[j].ID
		default:
			return a.Before(*b)
		}
	})
}

var _ core.TaskRepository = (*MemoryTaskRepo)(nil)
