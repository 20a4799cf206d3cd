// Package metrics centralises metric names and tagging for the scheduling
// services so engine and executor emit a consistent surface.
package metrics

import (
	"strconv"
	"time"

	apperrors "github.com/homeshield/aegis/internal/errors"
	"github.com/homeshield/aegis/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultDeferred = "deferred"
	ResultSkipped  = "skipped"
)

// ExecutionMetric captures one task execution outcome for metric emission.
type ExecutionMetric struct {
	ActionKind string
	Result     string
	Attempts   int
	Duration   time.Duration
	Err        error
}

// EmitExecution emits standardised execution lifecycle metrics.
func EmitExecution(sink statsd.Sink, in ExecutionMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"action": in.ActionKind,
		"result": in.Result,
	}
	if in.Attempts > 0 {
		tags["attempts"] = strconv.Itoa(in.Attempts)
	}
	if in.Err != nil && in.Result == ResultFailure {
		tags["error_class"] = string(apperrors.Classify(in.Err))
	}

	sink.Count("task.execution", 1, tags)

	if in.Duration > 0 {
		sink.Timing("task.execution.duration", in.Duration, CloneTags(tags))
	}
}

// EmitRetry counts one retry attempt for an action kind.
func EmitRetry(sink statsd.Sink, actionKind string, attempt int) {
	if sink == nil {
		return
	}
	sink.Count("task.execution.retry", 1, map[string]string{
		"action":  actionKind,
		"attempt": strconv.Itoa(attempt),
	})
}

// EmitLifecycle counts one lifecycle event handled by the supervisor.
func EmitLifecycle(sink statsd.Sink, subject string, ok bool) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	if !ok {
		result = ResultFailure
	}
	sink.Count("supervisor.lifecycle", 1, map[string]string{
		"subject": subject,
		"result":  result,
	})
}

// EngineGauges reports the engine's current timer and in-flight load.
func EngineGauges(sink statsd.Sink, timers, inFlight int) {
	if sink == nil {
		return
	}
	sink.Gauge("engine.timers", float64(timers), nil)
	sink.Gauge("engine.in_flight", float64(inFlight), nil)
}

// ExecutorGauges reports the executor's queue depth and in-flight load.
func ExecutorGauges(sink statsd.Sink, pending, inFlight int) {
	if sink == nil {
		return
	}
	sink.Gauge("executor.queue.pending", float64(pending), nil)
	sink.Gauge("executor.in_flight", float64(inFlight), nil)
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
