package pagerduty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/homeshield/aegis/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when routing key missing")
	}
}

func TestBuildEventDefaults(t *testing.T) {
	client, err := NewClient(Config{
		RoutingKey: "key",
		Source:     "",
		Component:  "",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := notify.TaskFailurePayload{
		TaskID:     "task-123",
		ActionKind: "ARM_SYSTEM",
		Attempts:   2,
		Error:      "panel unreachable",
		ErrorClass: "retryable",
	}
	event := client.buildEvent(payload)

	payloadSection, ok := event["payload"].(map[string]any)
	if !ok {
		t.Fatalf("expected payload section")
	}
	if payloadSection["severity"] != notify.SeverityCritical {
		t.Fatalf("expected default severity, got %v", payloadSection["severity"])
	}
	if payloadSection["source"] != "aegis" {
		t.Fatalf("expected default source, got %v", payloadSection["source"])
	}
	if payloadSection["component"] != "aegis" {
		t.Fatalf("expected default component, got %v", payloadSection["component"])
	}

	custom, ok := payloadSection["custom_details"].(map[string]any)
	if !ok {
		t.Fatalf("expected custom details")
	}

	required := []string{"task_id", "action", "attempts", "error", "error_class"}
	for _, key := range required {
		if _, exists := custom[key]; !exists {
			t.Fatalf("expected key %s in custom details", key)
		}
	}

	dedup, _ := event["dedup_key"].(string)
	if !strings.Contains(dedup, "task-123") {
		t.Fatalf("expected dedup key to reference task id, got %s", dedup)
	}
}

func TestBuildEventSeverityPassthrough(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := client.buildEvent(notify.TaskFailurePayload{
		TaskID:     "task-55",
		ActionKind: "DISARM_SYSTEM",
		Severity:   notify.SeverityWarning,
	})

	payloadSection, ok := event["payload"].(map[string]any)
	if !ok {
		t.Fatalf("expected payload section")
	}
	if payloadSection["severity"] != notify.SeverityWarning {
		t.Fatalf("expected warning severity, got %v", payloadSection["severity"])
	}
}

func TestSendTaskFailureSubmitsTrigger(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode event: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		RoutingKey: "key",
		Endpoint:   server.URL,
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = client.SendTaskFailure(context.Background(), notify.TaskFailurePayload{
		TaskID:     "task-123",
		ActionKind: "ARM_SYSTEM",
		Error:      "panel unreachable",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received["event_action"] != "trigger" {
		t.Fatalf("expected trigger event, got %v", received["event_action"])
	}
	if received["routing_key"] != "key" {
		t.Fatalf("expected routing key to be set, got %v", received["routing_key"])
	}
}
