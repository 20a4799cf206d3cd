package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeshield/aegis/config"
	"github.com/homeshield/aegis/internal/adapters/dispatch"
	"github.com/homeshield/aegis/internal/core"
	apperrors "github.com/homeshield/aegis/internal/errors"
)

func schedulerTestConfig() *config.AppConfig {
	return &config.AppConfig{
		Scheduler: config.SchedulerConfig{
			AutoStart:       true,
			ShutdownTimeout: time.Second,
		},
	}
}

func TestNewServices_RequiresConfig(t *testing.T) {
	_, err := NewServices(nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = NewServices(&ServiceDeps{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestNewServices_DefaultWiring(t *testing.T) {
	container, err := NewServices(&ServiceDeps{Config: schedulerTestConfig()})
	require.NoError(t, err)
	t.Cleanup(container.Bus.Close)

	assert.NotNil(t, container.Bus)
	assert.NotNil(t, container.Repo)
	assert.NotNil(t, container.Executor)
	assert.NotNil(t, container.Engine)
	assert.NotNil(t, container.Supervisor)
	assert.Nil(t, container.Bridge, "no bridge without a redis client")
	assert.Nil(t, container.Observability.MetricsSink, "metrics disabled by default")

	require.NotNil(t, container.Notifier)
	assert.False(t, container.Notifier.Enabled(), "no notification sinks by default")

	_, isLogging := container.Dispatcher.(*dispatch.LoggingDispatcher)
	assert.True(t, isLogging, "nil dispatcher selects the logging dispatcher")
}

func TestNewServices_FailureNotifierSinks(t *testing.T) {
	cfg := schedulerTestConfig()
	cfg.Observability.Notifications.Enabled = true
	cfg.Observability.Notifications.Slack.Enabled = true
	cfg.Observability.Notifications.Slack.WebhookURL = "https://hooks.slack.com/services/test"

	container, err := NewServices(&ServiceDeps{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(container.Bus.Close)

	assert.True(t, container.Notifier.Enabled(), "slack sink should register")
}

func TestNewServices_CustomDispatcher(t *testing.T) {
	custom := dispatch.NewLoggingDispatcher(dispatch.LoggingDispatcherOptions{Latency: time.Millisecond})

	container, err := NewServices(&ServiceDeps{
		Config:     schedulerTestConfig(),
		Dispatcher: custom,
	})
	require.NoError(t, err)
	t.Cleanup(container.Bus.Close)

	assert.Same(t, custom, container.Dispatcher)
}

func TestBuildObservability_MetricsEnabled(t *testing.T) {
	cfg := schedulerTestConfig()
	cfg.Observability.Metrics.Enabled = true
	cfg.Observability.Metrics.StatsdAddress = "127.0.0.1:8125"
	cfg.Observability.Metrics.Prefix = "aegis"

	obs := buildObservability(nil, cfg)

	require.NotNil(t, obs.MetricsSink)
	assert.NotNil(t, obs.Sink())
	require.NoError(t, obs.MetricsSink.Close())
}

func TestBuildObservability_DisabledByDefault(t *testing.T) {
	obs := buildObservability(nil, schedulerTestConfig())

	assert.Nil(t, obs.MetricsSink)
	assert.Nil(t, obs.Sink())
}

func TestRunServicesWithShutdown_RequiresContainer(t *testing.T) {
	err := RunServicesWithShutdown(nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	err = RunServicesWithShutdown(&ServiceOrchestrationConfig{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestRunServicesWithShutdown_StopsWithSupervisor(t *testing.T) {
	cfg := schedulerTestConfig()
	container, err := NewServices(&ServiceDeps{Config: cfg})
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() {
		runDone <- RunServicesWithShutdown(&ServiceOrchestrationConfig{
			Config:   cfg,
			Services: container,
		})
	}()

	require.Eventually(t, func() bool {
		return container.Supervisor.HealthCheck(context.Background()).State == HealthHealthy
	}, waitFor, tick)

	require.NoError(t, container.Supervisor.Stop(context.Background()))

	select {
	case runErr := <-runDone:
		require.NoError(t, runErr)
	case <-time.After(waitFor):
		t.Fatal("RunServicesWithShutdown did not return after stop")
	}
}

func TestServiceContainer_EngineExecutesThroughExecutor(t *testing.T) {
	cfg := schedulerTestConfig()
	container, err := NewServices(&ServiceDeps{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(container.Bus.Close)

	require.NoError(t, container.Supervisor.Initialize(context.Background()))
	t.Cleanup(func() { _ = container.Supervisor.Stop(context.Background()) })

	task := buildActiveTask(t, "wired-task")
	stored, err := container.Repo.Save(context.Background(), task)
	require.NoError(t, err)

	// Announce the schedule on the bus; the supervisor forwards it to the
	// engine, which installs a timer for the next fire.
	container.Bus.Publish(context.Background(),
		core.NewEvent(core.SubjectScheduleCreated, stored.ID, time.Now().UTC()).WithTask(stored))

	require.Eventually(t, func() bool {
		return container.Engine.Status().Timers == 1
	}, waitFor, tick)
}
