// Package events provides the in-process event bus that connects the
// scheduling services to lifecycle consumers, plus an optional Redis bridge
// that mirrors bus traffic to external listeners.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/homeshield/aegis/internal/core"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 64

// NotifierOptions configure the default bus implementation.
type NotifierOptions struct {
	Logger     *slog.Logger
	BufferSize int
}

// subscription tracks one subscriber channel and its subject filter.
// An empty filter receives every subject.
type subscription struct {
	ch      chan core.Event
	filter  map[core.Subject]struct{}
	dropped uint64
}

func (s *subscription) wants(subject core.Subject) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[subject]
	return ok
}

// Notifier is the default in-process implementation of core.EventBus.
// Publish never blocks: when a subscriber's buffer is full the event is
// dropped for that subscriber and counted.
type Notifier struct {
	logger *slog.Logger
	buffer int

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// NewNotifier constructs the default bus implementation.
func NewNotifier(opts NotifierOptions) *Notifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "event_bus")
	}

	buffer := opts.BufferSize
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	return &Notifier{
		logger: logger,
		buffer: buffer,
		subs:   make(map[*subscription]struct{}),
	}
}

// Publish fans the event out to every matching subscriber.
func (n *Notifier) Publish(ctx context.Context, event core.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}

	for sub := range n.subs {
		if !sub.wants(event.Subject) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped++
			n.logger.WarnContext(ctx, "event dropped, subscriber buffer full",
				"subject", event.Subject,
				"task_id", event.TaskID,
				"dropped_total", sub.dropped,
			)
		}
	}
}

// Subscribe registers a listener for the given subjects. An empty subject
// list receives everything. The returned function removes the subscription
// and closes the channel.
func (n *Notifier) Subscribe(subjects ...core.Subject) (func(), <-chan core.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := &subscription{ch: make(chan core.Event, n.buffer)}
	if len(subjects) > 0 {
		sub.filter = make(map[core.Subject]struct{}, len(subjects))
		for _, subject := range subjects {
			sub.filter[subject] = struct{}{}
		}
	}

	if n.closed {
		close(sub.ch)
		return func() {}, sub.ch
	}
	n.subs[sub] = struct{}{}

	unsub := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subs[sub]; !ok {
			return
		}
		delete(n.subs, sub)
		drainAndClose(sub.ch)
	}

	return unsub, sub.ch
}

// Close removes every subscription and closes their channels. Publish
// becomes a no-op afterwards.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for sub := range n.subs {
		drainAndClose(sub.ch)
		delete(n.subs, sub)
	}
}

// Dropped returns the total number of events discarded across all current
// subscribers.
func (n *Notifier) Dropped() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	var total uint64
	for sub := range n.subs {
		total += sub.dropped
	}
	return total
}

// drainAndClose removes any buffered events before closing the channel so
// receivers observe a closed channel immediately.
func drainAndClose(ch chan core.Event) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

var _ core.EventBus = (*Notifier)(nil)
