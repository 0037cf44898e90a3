package messaging

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"legisledger/internal/shared/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func envelope(id string) events.Envelope {
	return events.Envelope{EventID: id, EventType: events.LawVoteCast}
}

func TestBusDeliversToEveryGroup(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(nil, nil)
	ctx := context.Background()

	var mu sync.Mutex
	received := map[string][]string{}
	var wg sync.WaitGroup
	wg.Add(4)
	for _, group := range []string{"a", "b"} {
		group := group
		require.NoError(t, bus.Subscribe(ctx, "votes", group, func(_ context.Context, e events.Envelope) error {
			mu.Lock()
			received[group] = append(received[group], e.EventID)
			mu.Unlock()
			wg.Done()
			return nil
		}))
	}

	require.NoError(t, bus.Publish(ctx, "votes", envelope("evt-1")))
	require.NoError(t, bus.Publish(ctx, "votes", envelope("evt-2")))
	require.NoError(t, bus.Publish(ctx, "other", envelope("evt-3")))
	wg.Wait()
	require.NoError(t, bus.Close())

	assert.Equal(t, []string{"evt-1", "evt-2"}, received["a"])
	assert.Equal(t, []string{"evt-1", "evt-2"}, received["b"])
}

func TestBusHandlerErrorDoesNotStopConsumer(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(nil, nil)
	done := make(chan string, 2)
	require.NoError(t, bus.Subscribe(context.Background(), "votes", "g", func(_ context.Context, e events.Envelope) error {
		done <- e.EventID
		return fmt.Errorf("boom %s", e.EventID)
	}))

	require.NoError(t, bus.Publish(context.Background(), "votes", envelope("evt-1")))
	require.NoError(t, bus.Publish(context.Background(), "votes", envelope("evt-2")))
	assert.Equal(t, "evt-1", <-done)
	assert.Equal(t, "evt-2", <-done)
	require.NoError(t, bus.Close())
}

func TestBusClosed(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus([]string{"localhost:9092"}, nil)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(context.Background(), "votes", envelope("evt-1")), ErrBusClosed)
	err := bus.Subscribe(context.Background(), "votes", "g", func(context.Context, events.Envelope) error { return nil })
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestBusReportsFullSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(nil, nil)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	require.NoError(t, bus.Subscribe(context.Background(), "votes", "slow", func(context.Context, events.Envelope) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), "votes", envelope("evt-0")))
	<-started
	for i := 1; i <= subscriberBuffer; i++ {
		require.NoError(t, bus.Publish(context.Background(), "votes", envelope(fmt.Sprintf("evt-%d", i))))
	}
	err := bus.Publish(context.Background(), "votes", envelope("evt-overflow"))
	assert.ErrorIs(t, err, ErrSubscriberBusy)

	close(release)
	require.NoError(t, bus.Close())
}

func TestBusCancelledSubscriberIsRemoved(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bus.Subscribe(ctx, "votes", "g", func(context.Context, events.Envelope) error { return nil }))
	cancel()

	require.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.subscribers["votes"]) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), "votes", envelope("evt-1")))
	require.NoError(t, bus.Close())
}
