package failurenotifier

import (
	"context"
	"log/slog"
	"sync"

	"github.com/homeshield/aegis/internal/core"
	"github.com/homeshield/aegis/internal/domain/model"
	apperrors "github.com/homeshield/aegis/internal/errors"
	"github.com/homeshield/aegis/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// Bus supplies execution failure events to Run. Optional when the
	// caller drives NotifyTaskFailure directly.
	Bus core.EventBus
	// Repo enriches bus events with the owning user and action kind.
	Repo core.TaskRepository
}

// Service turns exhausted executions into notifications and fans them out
// to all registered sinks.
type Service struct {
	logger *slog.Logger
	sinks  []SinkRegistration
	bus    core.EventBus
	repo   core.TaskRepository
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "failure_notifier")
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{
			Name: name,
			Sink: entry.Sink,
		})
	}

	return &Service{
		logger: logger,
		sinks:  sinks,
		bus:    opts.Bus,
		repo:   opts.Repo,
	}
}

// Run consumes execution failure events from the bus and notifies the
// sinks until the context is cancelled or the bus closes.
func (s *Service) Run(ctx context.Context) error {
	if s.bus == nil {
		return apperrors.Validation("failure notifier requires an event bus to run")
	}

	unsub, ch := s.bus.Subscribe(core.SubjectExecutionFailed)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			s.NotifyTaskFailure(ctx, s.payloadForEvent(ctx, event))
		}
	}
}

// payloadForEvent translates a bus event into a notification payload,
// enriched with the stored task when the repository still has it. A task
// that cannot be loaded produces a notification from the event alone.
func (s *Service) payloadForEvent(ctx context.Context, event core.Event) notify.TaskFailurePayload {
	payload := notify.TaskFailurePayload{
		TaskID:     event.TaskID,
		Error:      event.Err,
		Attempts:   intField(event.Fields, "attempts"),
		ErrorClass: stringField(event.Fields, "error_class"),
		OccurredAt: event.At,
	}

	task := event.Task
	if task == nil && s.repo != nil && event.TaskID != "" {
		loaded, err := s.repo.FindByID(ctx, event.TaskID)
		if err != nil {
			s.logger.WarnContext(ctx, "failure notification without task details",
				"task_id", event.TaskID,
				"error", err,
			)
		} else {
			task = loaded
		}
	}
	if task != nil {
		payload.UserID = task.UserID
		payload.ActionKind = string(task.Action.Kind)
		payload.Severity = severityFor(task.Action.Kind)
	}
	return payload
}

// NotifyTaskFailure fans the payload out to all sinks and waits for every
// delivery to finish. Sink errors are logged, never propagated.
func (s *Service) NotifyTaskFailure(ctx context.Context, payload notify.TaskFailurePayload) {
	if len(s.sinks) == 0 {
		return
	}

	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		entry := entry
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendTaskFailure(ctx, payload); err != nil {
				s.logger.Error("failure notifier delivery error",
					"sink", entry.Name,
					"task_id", payload.TaskID,
					"action", payload.ActionKind,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return len(s.sinks) > 0
}

// severityFor grades the failure: a missed arm leaves the home unprotected,
// a missed disarm only risks a false alarm.
func severityFor(kind model.ActionKind) string {
	if kind == model.ActionDisarmSystem {
		return notify.SeverityWarning
	}
	return notify.SeverityCritical
}

func intField(fields map[string]any, key string) int {
	switch v := fields[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func stringField(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}
