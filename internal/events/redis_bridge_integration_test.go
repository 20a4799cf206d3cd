package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeshield/aegis/internal/core"
	"github.com/homeshield/aegis/internal/testutil"
)

func TestRedisBridge_Integration_MirrorsBusEvents(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewNotifier(NotifierOptions{})
	defer bus.Close()

	const channel = "aegis:events:integration"
	bridge, err := NewRedisBridge(RedisBridgeOptions{
		Client:   client,
		Bus:      bus,
		Channel:  channel,
		Subjects: []core.Subject{core.SubjectTaskScheduled},
	})
	require.NoError(t, err)

	pubsub := client.Subscribe(ctx, channel)
	defer func() { _ = pubsub.Close() }()
	_, err = pubsub.Receive(ctx)
	require.NoError(t, err, "subscription must be confirmed before publishing")

	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()
	// Let the bridge register its bus subscription.
	time.Sleep(100 * time.Millisecond)

	// Publish a filtered-out subject first: if filtering were broken it
	// would arrive ahead of the mirrored event and fail the id check below.
	bus.Publish(ctx, core.NewEvent(core.SubjectHealthCheck, "", time.Now()))
	sent := core.NewEvent(core.SubjectTaskScheduled, "task-42", time.Now())
	bus.Publish(ctx, sent)

	select {
	case msg := <-pubsub.Channel():
		var got core.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, core.SubjectTaskScheduled, got.Subject)
		assert.Equal(t, "task-42", got.TaskID)
	case <-time.After(3 * time.Second):
		t.Fatal("no event arrived on the redis channel")
	}

	select {
	case msg := <-pubsub.Channel():
		t.Fatalf("filtered subject leaked to redis: %s", msg.Payload)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case runErr := <-done:
		assert.ErrorIs(t, runErr, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop on context cancellation")
	}
}

func TestRedisBridge_Integration_StopsWhenBusCloses(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer func() { _ = client.Close() }()

	bus := NewNotifier(NotifierOptions{})
	bridge, err := NewRedisBridge(RedisBridgeOptions{Client: client, Bus: bus})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- bridge.Run(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	bus.Close()
	select {
	case runErr := <-done:
		assert.NoError(t, runErr, "closed bus ends the bridge cleanly")
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop when the bus closed")
	}
}
