package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"legisledger/internal/shared/events"
)

var (
	ErrBusClosed      = errors.New("event bus is closed")
	ErrSubscriberBusy = errors.New("subscriber buffer is full")
)

const subscriberBuffer = 128

type subscription struct {
	topic         string
	consumerGroup string
	ch            chan events.Envelope
}

// Bus is the in-process event bus fed by the outbox relay. Delivery is
// at-least-once: a publish that cannot reach every subscriber fails and the
// relay retries it, so consumers deduplicate by event id.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscription
	closed      bool
	wg          sync.WaitGroup
	logger      *slog.Logger
}

// NewBus accepts the configured broker list for parity with an external broker;
// the in-process bus does not dial anything.
func NewBus(brokers []string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("event bus created",
		"event", "bus_created",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"brokers", brokers,
	)
	return &Bus{
		subscribers: make(map[string][]*subscription),
		logger:      logger,
	}
}

func (b *Bus) Publish(ctx context.Context, topic string, event events.Envelope) error {
	// Sends never block, so holding the read lock keeps Close from closing a
	// channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	subs := b.subscribers[topic]

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub.ch <- event:
		default:
			b.logger.Warn("subscriber buffer full",
				"event", "bus_publish_busy",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", topic,
				"consumer_group", sub.consumerGroup,
				"event_id", event.EventID,
			)
			return fmt.Errorf("%w: %s/%s", ErrSubscriberBusy, topic, sub.consumerGroup)
		}
	}

	b.logger.Debug("event published",
		"event", "bus_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"subscribers", len(subs),
	)
	return nil
}

// Subscribe starts a consumer goroutine that runs until ctx is done or the bus closes.
func (b *Bus) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, events.Envelope) error,
) error {
	sub := &subscription{
		topic:         topic,
		consumerGroup: consumerGroup,
		ch:            make(chan events.Envelope, subscriberBuffer),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				b.remove(sub)
				return
			case event, ok := <-sub.ch:
				if !ok {
					return
				}
				if err := handler(ctx, event); err != nil {
					b.logger.Error("consumer handler failed",
						"event", "bus_consume_failed",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"topic", topic,
						"consumer_group", consumerGroup,
						"event_id", event.EventID,
						"event_type", event.EventType,
						"error", err.Error(),
					)
				}
			}
		}
	}()
	return nil
}

// Close stops accepting events and waits for consumer goroutines to exit.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for topic, subs := range b.subscribers {
		for _, sub := range subs {
			close(sub.ch)
		}
		delete(b.subscribers, topic)
	}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

func (b *Bus) remove(target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.subscribers[target.topic]
	filtered := make([]*subscription, 0, len(items))
	for _, item := range items {
		if item != target {
			filtered = append(filtered, item)
		}
	}
	b.subscribers[target.topic] = filtered
}
