package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"legisledger/contexts/legislature/voting-ledger/ports"
)

const sourceService = "voting-ledger"

// NewEnvelope builds the canonical envelope for an event emitted by this module.
func NewEnvelope(
	eventID string,
	eventType string,
	partitionKeyPath string,
	partitionKey string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    sourceService,
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: partitionKeyPath,
		PartitionKey:     partitionKey,
		Data:             payload,
	}, nil
}

// EventSink appends events to the outbox. A nil Outbox makes every append a no-op.
type EventSink struct {
	Outbox ports.OutboxWriter
	IDGen  ports.IDGenerator
}

func (s EventSink) Append(
	ctx context.Context,
	eventType string,
	partitionKeyPath string,
	partitionKey string,
	occurredAt time.Time,
	data map[string]any,
) error {
	if s.Outbox == nil {
		return nil
	}
	eventID := partitionKey + ":" + eventType + ":" + occurredAt.UTC().Format(time.RFC3339Nano)
	if s.IDGen != nil {
		id, err := s.IDGen.NewID(ctx)
		if err != nil {
			return err
		}
		eventID = id
	}
	envelope, err := NewEnvelope(eventID, eventType, partitionKeyPath, partitionKey, occurredAt, data)
	if err != nil {
		return err
	}
	return s.Outbox.AppendOutbox(ctx, envelope)
}

// Now returns the clock time in UTC, falling back to the wall clock.
func Now(clock ports.Clock) time.Time {
	if clock == nil {
		return time.Now().UTC()
	}
	return clock.Now().UTC()
}

// LockLaw acquires the per-law critical section. A nil locker is a no-op.
func LockLaw(ctx context.Context, locker ports.LawLocker, lawID string) (func(), error) {
	if locker == nil {
		return func() {}, nil
	}
	return locker.LockLaw(ctx, lawID)
}

// ResolveLogger falls back to slog.Default when no logger was wired.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
