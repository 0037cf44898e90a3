package workers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	votingledger "legisledger/contexts/legislature/voting-ledger"
	"legisledger/contexts/legislature/voting-ledger/adapters/memory"
	"legisledger/contexts/legislature/voting-ledger/application/commands"
	"legisledger/contexts/legislature/voting-ledger/application/reconciliation"
	"legisledger/contexts/legislature/voting-ledger/application/workers"
	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	"legisledger/contexts/legislature/voting-ledger/ports"
	"legisledger/internal/platform/messaging"
	"legisledger/internal/shared/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type capturePublisher struct {
	mu       sync.Mutex
	failFrom int
	topics   []string
	events   []ports.EventEnvelope
}

func (p *capturePublisher) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFrom > 0 && len(p.events)+1 >= p.failFrom {
		return errors.New("broker unavailable")
	}
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

type stubSubscriber struct {
	handlers map[string]func(context.Context, ports.EventEnvelope) error
	groups   map[string]string
}

func (s *stubSubscriber) Subscribe(
	_ context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, ports.EventEnvelope) error,
) error {
	if s.handlers == nil {
		s.handlers = make(map[string]func(context.Context, ports.EventEnvelope) error)
		s.groups = make(map[string]string)
	}
	s.handlers[topic] = handler
	s.groups[topic] = consumerGroup
	return nil
}

type countingSyncer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *countingSyncer) SyncLaw(_ context.Context, _ string, lawID string) (reconciliation.LawSyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, lawID)
	return reconciliation.LawSyncResult{LawID: lawID}, s.err
}

func envelope(id string, eventType string, data map[string]any) ports.EventEnvelope {
	payload, _ := json.Marshal(data)
	return ports.EventEnvelope{
		EventID:      id,
		EventType:    eventType,
		OccurredAt:   time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
		PartitionKey: fmt.Sprint(data["law_id"]),
		Data:         payload,
	}
}

func TestOutboxRelayPublishesInOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	for i := 1; i <= 3; i++ {
		require.NoError(t, store.AppendOutbox(ctx, envelope(fmt.Sprintf("evt-%d", i), events.LawVoteCast, map[string]any{"law_id": "law-1"})))
	}
	publisher := &capturePublisher{}
	relay := workers.OutboxRelay{Outbox: store, Publisher: publisher, Clock: store, BatchSize: 10}

	require.NoError(t, relay.RunOnce(ctx))
	require.Len(t, publisher.events, 3)
	for i, event := range publisher.events {
		assert.Equal(t, fmt.Sprintf("evt-%d", i+1), event.EventID)
		assert.Equal(t, events.LawVoteCast, publisher.topics[i])
	}

	pending, err := store.ListPendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, relay.RunOnce(ctx))
	assert.Len(t, publisher.events, 3)
}

func TestOutboxRelayStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	for i := 1; i <= 3; i++ {
		require.NoError(t, store.AppendOutbox(ctx, envelope(fmt.Sprintf("evt-%d", i), events.SessionFinished, map[string]any{"law_id": "law-1"})))
	}
	publisher := &capturePublisher{failFrom: 2}
	relay := workers.OutboxRelay{Outbox: store, Publisher: publisher, Clock: store}

	require.Error(t, relay.RunOnce(ctx))
	require.Len(t, publisher.events, 1)

	pending, err := store.ListPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "evt-2", pending[0].OutboxID)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestVoteCastConsumerDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	subscriber := &stubSubscriber{}
	syncer := &countingSyncer{}
	consumer := workers.VoteCastConsumer{
		Subscriber: subscriber,
		Dedup:      store,
		Syncer:     syncer,
		Clock:      store,
	}
	require.NoError(t, consumer.Start(ctx))
	handler := subscriber.handlers[events.LawVoteCast]
	require.NotNil(t, handler)
	assert.Equal(t, "voting-ledger-vote-cast-cg", subscriber.groups[events.LawVoteCast])

	event := envelope("evt-1", events.LawVoteCast, map[string]any{"session_id": "s-1", "law_id": "law-1"})
	require.NoError(t, handler(ctx, event))
	require.NoError(t, handler(ctx, event))
	assert.Equal(t, []string{"law-1"}, syncer.calls)

	tampered := envelope("evt-1", events.LawVoteCast, map[string]any{"session_id": "s-1", "law_id": "law-2"})
	require.Error(t, handler(ctx, tampered))
}

func TestVoteCastConsumerRetriesEventAfterSyncFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	syncer := &countingSyncer{err: errors.New("ledger down")}
	consumer := workers.VoteCastConsumer{Dedup: store, Syncer: syncer, Clock: store}
	event := envelope("evt-5", events.LawVoteCast, map[string]any{"session_id": "s-1", "law_id": "law-5"})

	require.Error(t, consumer.Handle(ctx, event))

	syncer.mu.Lock()
	syncer.err = nil
	syncer.mu.Unlock()
	require.NoError(t, consumer.Handle(ctx, event))
	require.NoError(t, consumer.Handle(ctx, event))
	assert.Equal(t, []string{"law-5", "law-5"}, syncer.calls)
}

func TestVoteCastConsumerDisabled(t *testing.T) {
	subscriber := &stubSubscriber{}
	consumer := workers.VoteCastConsumer{Subscriber: subscriber, Disabled: true}
	require.NoError(t, consumer.Start(context.Background()))
	assert.Empty(t, subscriber.handlers)
}

func TestVoteCastConsumerSurfacesSyncFailure(t *testing.T) {
	syncer := &countingSyncer{err: errors.New("ledger down")}
	consumer := workers.VoteCastConsumer{Syncer: syncer}
	err := consumer.Handle(context.Background(), envelope("evt-9", events.LawVoteCast, map[string]any{"law_id": "law-9"}))
	require.Error(t, err)
}

func TestVoteFlowsFromOutboxToReconciliation(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	module := votingledger.NewInMemoryModule([]entities.Voter{{
		ID: "voter-1", Address: fmt.Sprintf("0x%040x", 1), IsRegistered: true, Active: true,
	}}, nil)
	session, err := module.Sessions.CreateSession(ctx, commands.CreateSessionCommand{
		Title: "Plenary", Description: "Bus plenary", Date: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	law, err := module.Sessions.AddLaw(ctx, commands.AddLawCommand{SessionID: session.ID, Title: "Act", Description: "Bus act"})
	require.NoError(t, err)
	activation, err := module.Sessions.ActivateSession(ctx, session.ID)
	require.NoError(t, err)

	bus := messaging.NewBus(nil, nil)
	defer bus.Close()
	consumed := make(chan string, 1)
	syncer := lawSyncerFunc(func(ctx context.Context, sessionID string, lawID string) (reconciliation.LawSyncResult, error) {
		result, err := module.Reconciliation.SyncLaw(ctx, sessionID, lawID)
		consumed <- lawID
		return result, err
	})
	consumer := workers.VoteCastConsumer{Subscriber: bus, Dedup: module.Store, Syncer: syncer, Clock: module.Store}
	require.NoError(t, consumer.Start(ctx))

	_, err = module.Votes.CastVote(ctx, commands.CastVoteCommand{
		SessionID: session.ID, LawID: law.ID, VoterID: "voter-1", Value: entities.VoteFavor,
	})
	require.NoError(t, err)
	stored, err := module.Store.LoadLaw(ctx, law.ID)
	require.NoError(t, err)
	require.NoError(t, module.Ledger.SetTally(*activation.Session.LedgerSessionID, *stored.LedgerLawID, entities.LedgerCounts{Favor: 3}))

	relay := workers.OutboxRelay{Outbox: module.Store, Publisher: bus, Clock: module.Store}
	require.NoError(t, relay.RunOnce(ctx))

	select {
	case lawID := <-consumed:
		assert.Equal(t, law.ID, lawID)
	case <-time.After(2 * time.Second):
		t.Fatal("vote cast event was not consumed")
	}
	stored, err = module.Store.LoadLaw(ctx, law.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Tally.Counts.Favor)

	cancel()
	require.NoError(t, bus.Close())
}

type lawSyncerFunc func(ctx context.Context, sessionID string, lawID string) (reconciliation.LawSyncResult, error)

func (f lawSyncerFunc) SyncLaw(ctx context.Context, sessionID string, lawID string) (reconciliation.LawSyncResult, error) {
	return f(ctx, sessionID, lawID)
}

type recordingEngine struct {
	sessions []string
	voters   int
}

func (e *recordingEngine) SyncSession(_ context.Context, sessionID string) (reconciliation.SessionSyncResult, error) {
	e.sessions = append(e.sessions, sessionID)
	return reconciliation.SessionSyncResult{SessionID: sessionID, Outcome: entities.OutcomeSucceeded}, nil
}

func (e *recordingEngine) SyncVoters(context.Context) (reconciliation.VoterSyncBatch, error) {
	e.voters++
	return reconciliation.VoterSyncBatch{Outcome: entities.OutcomeSucceeded}, nil
}

func TestReconciliationSchedulerVisitsActiveLedgerSessions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledgerID := uint64(1)
	require.NoError(t, store.CreateSession(ctx, entities.Session{ID: "active", State: entities.SessionStateActive, IsOnLedger: true, LedgerSessionID: &ledgerID}))
	require.NoError(t, store.CreateSession(ctx, entities.Session{ID: "draft", State: entities.SessionStateDraft}))
	require.NoError(t, store.CreateSession(ctx, entities.Session{ID: "finished", State: entities.SessionStateFinished, IsOnLedger: true, LedgerSessionID: &ledgerID}))

	engine := &recordingEngine{}
	scheduler := workers.ReconciliationScheduler{Sessions: store, Engine: engine, SyncVoters: true}
	require.NoError(t, scheduler.RunOnce(ctx))
	assert.Equal(t, []string{"active"}, engine.sessions)
	assert.Equal(t, 1, engine.voters)

	scheduler.SyncVoters = false
	require.NoError(t, scheduler.RunOnce(ctx))
	assert.Equal(t, 1, engine.voters)
}
