package workers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	application "legisledger/contexts/legislature/voting-ledger/application"
	"legisledger/contexts/legislature/voting-ledger/application/reconciliation"
	"legisledger/contexts/legislature/voting-ledger/ports"
	"legisledger/internal/shared/events"
)

const defaultVoteCastCG = "voting-ledger-vote-cast-cg"

type LawSyncer interface {
	SyncLaw(ctx context.Context, sessionID string, lawID string) (reconciliation.LawSyncResult, error)
}

// VoteCastConsumer re-reads the ledger tally of a law after every vote so counters
// converge even when a confirmed vote could not be saved locally.
type VoteCastConsumer struct {
	Subscriber    ports.EventSubscriber
	Dedup         ports.EventDedupStore
	Syncer        LawSyncer
	Clock         ports.Clock
	ConsumerGroup string
	DedupTTL      time.Duration
	Disabled      bool
	Logger        *slog.Logger
}

func (c VoteCastConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	if c.Disabled {
		logger.Info("vote cast consumer disabled by feature flag",
			"event", "ledger_vote_cast_consumer_disabled",
			"module", "legislature/voting-ledger",
			"layer", "worker",
		)
		return nil
	}
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultVoteCastCG
	}
	if err := c.Subscriber.Subscribe(ctx, events.LawVoteCast, group, c.Handle); err != nil {
		logger.Error("vote cast consumer subscribe failed",
			"event", "ledger_vote_cast_consumer_subscribe_failed",
			"module", "legislature/voting-ledger",
			"layer", "worker",
			"topic", events.LawVoteCast,
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("vote cast consumer subscribed",
		"event", "ledger_vote_cast_consumer_started",
		"module", "legislature/voting-ledger",
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

func (c VoteCastConsumer) Handle(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	if c.Dedup != nil {
		alreadyProcessed, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Data), application.Now(c.Clock).Add(c.dedupTTL()))
		if err != nil {
			logger.Error("vote cast event dedupe failed",
				"event", "ledger_vote_cast_dedupe_failed",
				"module", "legislature/voting-ledger",
				"layer", "worker",
				"event_id", event.EventID,
				"error", err.Error(),
			)
			return err
		}
		if alreadyProcessed {
			logger.Debug("vote cast replay skipped",
				"event", "ledger_vote_cast_replayed",
				"module", "legislature/voting-ledger",
				"layer", "worker",
				"event_id", event.EventID,
			)
			return nil
		}
	}

	// A failed run gives its reservation back so a redelivery syncs again.
	release := func() {
		if c.Dedup == nil {
			return
		}
		if err := c.Dedup.ReleaseEvent(ctx, event.EventID); err != nil {
			logger.Error("vote cast event release failed",
				"event", "ledger_vote_cast_release_failed",
				"module", "legislature/voting-ledger",
				"layer", "worker",
				"event_id", event.EventID,
				"error", err.Error(),
			)
		}
	}

	var payload struct {
		SessionID string `json:"session_id"`
		LawID     string `json:"law_id"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("vote cast payload decode failed",
			"event", "ledger_vote_cast_decode_failed",
			"module", "legislature/voting-ledger",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		release()
		return err
	}
	result, err := c.Syncer.SyncLaw(ctx, payload.SessionID, payload.LawID)
	if err != nil {
		logger.Warn("post-vote law sync failed",
			"event", "ledger_vote_cast_sync_failed",
			"module", "legislature/voting-ledger",
			"layer", "worker",
			"event_id", event.EventID,
			"law_id", payload.LawID,
			"error", err.Error(),
		)
		release()
		return err
	}
	logger.Info("vote cast consumed",
		"event", "ledger_vote_cast_consumed",
		"module", "legislature/voting-ledger",
		"layer", "worker",
		"event_id", event.EventID,
		"law_id", payload.LawID,
		"updated", result.Updated,
	)
	return nil
}

func (c VoteCastConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.DedupTTL
}

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
