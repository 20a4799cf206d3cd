package failurenotifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/homeshield/aegis/internal/core"
	"github.com/homeshield/aegis/internal/data"
	"github.com/homeshield/aegis/internal/domain/model"
	"github.com/homeshield/aegis/internal/domain/schedule"
	"github.com/homeshield/aegis/internal/events"
	"github.com/homeshield/aegis/internal/observability/notify"
)

func TestServiceNotifyTaskFailure(t *testing.T) {
	ctx := context.Background()

	var received []notify.TaskFailurePayload
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{
				Name: "capture",
				Sink: notify.SinkFunc(func(ctx context.Context, payload notify.TaskFailurePayload) error {
					received = append(received, payload)
					return nil
				}),
			},
		},
	})

	svc.NotifyTaskFailure(ctx, notify.TaskFailurePayload{
		TaskID:     "task-123",
		ActionKind: "ARM_SYSTEM",
	})

	if len(received) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(received))
	}
	if received[0].Severity != notify.SeverityCritical {
		t.Fatalf("expected severity to default to critical, got %s", received[0].Severity)
	}
}

func TestServiceDisabled(t *testing.T) {
	svc := NewService(Options{})
	if svc.Enabled() {
		t.Fatal("expected Enabled() to be false when no sinks registered")
	}
}

func TestServiceLogsErrors(t *testing.T) {
	// Ensure we don't panic when sink returns an error.
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{
				Name: "fail",
				Sink: notify.SinkFunc(func(ctx context.Context, payload notify.TaskFailurePayload) error {
					return errors.New("boom")
				}),
			},
		},
	})

	svc.NotifyTaskFailure(context.Background(), notify.TaskFailurePayload{TaskID: "task-123"})
}

func TestServiceRunConsumesFailureEvents(t *testing.T) {
	bus := events.NewNotifier(events.NotifierOptions{})
	defer bus.Close()

	repo := data.NewMemoryTaskRepo()
	saved := saveArmTask(t, repo)

	payloadCh := make(chan notify.TaskFailurePayload, 1)
	svc := NewService(Options{
		Bus:  bus,
		Repo: repo,
		Sinks: []SinkRegistration{
			{
				Name: "capture",
				Sink: notify.SinkFunc(func(ctx context.Context, payload notify.TaskFailurePayload) error {
					payloadCh <- payload
					return nil
				}),
			},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	bus.Publish(context.Background(), core.NewEvent(core.SubjectExecutionFailed, saved.ID, time.Now()).
		WithErr(errors.New("panel unreachable")).
		WithFields(map[string]any{"attempts": 3, "error_class": "retryable"}))

	select {
	case payload := <-payloadCh:
		if payload.TaskID != saved.ID {
			t.Fatalf("expected task id %s, got %s", saved.ID, payload.TaskID)
		}
		if payload.UserID != saved.UserID {
			t.Fatalf("expected user id %s, got %s", saved.UserID, payload.UserID)
		}
		if payload.ActionKind != string(model.ActionArmSystem) {
			t.Fatalf("expected arm action, got %s", payload.ActionKind)
		}
		if payload.Severity != notify.SeverityCritical {
			t.Fatalf("expected critical severity for arm failure, got %s", payload.Severity)
		}
		if payload.Attempts != 3 {
			t.Fatalf("expected 3 attempts, got %d", payload.Attempts)
		}
		if payload.ErrorClass != "retryable" {
			t.Fatalf("expected retryable error class, got %s", payload.ErrorClass)
		}
		if payload.Error != "panel unreachable" {
			t.Fatalf("expected error text, got %s", payload.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}

	cancel()
	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled from Run, got %v", err)
	}
}

func TestServiceRunStopsWhenBusCloses(t *testing.T) {
	bus := events.NewNotifier(events.NotifierOptions{})
	svc := NewService(Options{
		Bus: bus,
		Sinks: []SinkRegistration{
			{Name: "noop", Sink: notify.SinkFunc(nil)},
		},
	})

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(context.Background()) }()
	time.Sleep(100 * time.Millisecond)

	bus.Close()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("expected nil from Run on bus close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to stop")
	}
}

func TestServiceRunRequiresBus(t *testing.T) {
	svc := NewService(Options{})
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected error when running without a bus")
	}
}

func TestPayloadForEventGradesDisarmAsWarning(t *testing.T) {
	repo := data.NewMemoryTaskRepo()
	saved := saveDisarmTask(t, repo)

	svc := NewService(Options{Repo: repo})
	payload := svc.payloadForEvent(context.Background(), core.NewEvent(core.SubjectExecutionFailed, saved.ID, time.Now()))

	if payload.Severity != notify.SeverityWarning {
		t.Fatalf("expected warning severity for disarm failure, got %s", payload.Severity)
	}
	if payload.ActionKind != string(model.ActionDisarmSystem) {
		t.Fatalf("expected disarm action, got %s", payload.ActionKind)
	}
}

func TestPayloadForEventMissingTask(t *testing.T) {
	svc := NewService(Options{Repo: data.NewMemoryTaskRepo()})

	event := core.NewEvent(core.SubjectExecutionFailed, "no-such-task", time.Now()).
		WithErr(errors.New("boom"))
	payload := svc.payloadForEvent(context.Background(), event)

	if payload.TaskID != "no-such-task" {
		t.Fatalf("expected task id to survive, got %s", payload.TaskID)
	}
	if payload.UserID != "" || payload.ActionKind != "" {
		t.Fatalf("expected no enrichment without a stored task, got %+v", payload)
	}
	if payload.Error != "boom" {
		t.Fatalf("expected error text, got %s", payload.Error)
	}
}

func saveArmTask(t *testing.T, repo core.TaskRepository) *model.ScheduledTask {
	t.Helper()

	now := time.Now().UTC()
	expr, err := schedule.NewExpression(schedule.EveryDay(), schedule.MustTimeOfDay(21, 30), "UTC")
	if err != nil {
		t.Fatalf("build expression: %v", err)
	}
	task, err := model.NewArmTask("user-1", expr, model.ArmModeAway, nil, now)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	saved, err := repo.Save(context.Background(), task)
	if err != nil {
		t.Fatalf("save task: %v", err)
	}
	return saved
}

func saveDisarmTask(t *testing.T, repo core.TaskRepository) *model.ScheduledTask {
	t.Helper()

	now := time.Now().UTC()
	expr, err := schedule.NewExpression(schedule.Weekdays(), schedule.MustTimeOfDay(7, 0), "UTC")
	if err != nil {
		t.Fatalf("build expression: %v", err)
	}
	task, err := model.NewDisarmTask("user-1", expr, nil, now)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	saved, err := repo.Save(context.Background(), task)
	if err != nil {
		t.Fatalf("save task: %v", err)
	}
	return saved
}
