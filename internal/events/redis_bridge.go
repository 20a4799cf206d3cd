package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/homeshield/aegis/internal/core"
)

// DefaultChannel is the Redis pub/sub channel bus traffic is mirrored to.
const DefaultChannel = "aegis:events"

// RedisBridgeOptions configure the bridge.
type RedisBridgeOptions struct {
	Logger  *slog.Logger
	Client  redis.UniversalClient
	Bus     core.EventBus
	Channel string
	// Subjects limits which subjects are mirrored. Empty mirrors all.
	Subjects []core.Subject
}

// RedisBridge mirrors bus events to a Redis pub/sub channel as JSON so
// processes outside the scheduler (dashboards, audit consumers) can follow
// scheduling activity without a direct bus subscription.
type RedisBridge struct {
	logger   *slog.Logger
	client   redis.UniversalClient
	bus      core.EventBus
	channel  string
	subjects []core.Subject
}

// NewRedisBridge constructs a bridge. Client and Bus are required.
func NewRedisBridge(opts RedisBridgeOptions) (*RedisBridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("redis bridge requires a client")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("redis bridge requires an event bus")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "redis_bridge")
	}

	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	return &RedisBridge{
		logger:   logger,
		client:   opts.Client,
		bus:      opts.Bus,
		channel:  channel,
		subjects: opts.Subjects,
	}, nil
}

// Run subscribes to the bus and forwards events until the context is
// cancelled or the subscription channel closes. Marshal or publish failures
// are logged and skipped; the bridge never interrupts the scheduler.
func (b *RedisBridge) Run(ctx context.Context) error {
	unsub, ch := b.bus.Subscribe(b.subjects...)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			b.forward(ctx, event)
		}
	}
}

func (b *RedisBridge) forward(ctx context.Context, event core.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.ErrorContext(ctx, "redis bridge marshal failed",
			"subject", event.Subject,
			"task_id", event.TaskID,
			"error", err,
		)
		return
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.WarnContext(ctx, "redis bridge publish failed",
			"subject", event.Subject,
			"channel", b.channel,
			"error", err,
		)
	}
}

// Health checks the Redis connection behind the bridge.
func (b *RedisBridge) Health(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
