package workers

import (
	"context"
	"log/slog"

	application "legisledger/contexts/legislature/voting-ledger/application"
	"legisledger/contexts/legislature/voting-ledger/application/reconciliation"
	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	"legisledger/contexts/legislature/voting-ledger/ports"
)

type SessionSyncer interface {
	SyncSession(ctx context.Context, sessionID string) (reconciliation.SessionSyncResult, error)
	SyncVoters(ctx context.Context) (reconciliation.VoterSyncBatch, error)
}

// ReconciliationScheduler runs one reconciliation pass per tick over every active,
// ledger-registered session, followed by a voter membership sync.
type ReconciliationScheduler struct {
	Sessions   ports.SessionRepository
	Engine     SessionSyncer
	SyncVoters bool
	Logger     *slog.Logger
}

func (s ReconciliationScheduler) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(s.Logger)
	sessions, err := s.Sessions.ListSessionsByState(ctx, entities.SessionStateActive)
	if err != nil {
		logger.Error("reconciliation session listing failed",
			"event", "ledger_reconciliation_list_failed",
			"module", "legislature/voting-ledger",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	synced, updated, partial := 0, 0, 0
	for _, session := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := session.LedgerRef(); !ok {
			continue
		}
		result, err := s.Engine.SyncSession(ctx, session.ID)
		if err != nil {
			logger.Warn("session reconciliation failed",
				"event", "ledger_reconciliation_session_failed",
				"module", "legislature/voting-ledger",
				"layer", "worker",
				"session_id", session.ID,
				"error", err.Error(),
			)
			continue
		}
		synced++
		updated += result.Updated()
		if result.Outcome != entities.OutcomeSucceeded {
			partial++
		}
	}

	corrected := 0
	if s.SyncVoters {
		batch, err := s.Engine.SyncVoters(ctx)
		if err != nil {
			logger.Warn("voter reconciliation failed",
				"event", "ledger_reconciliation_voters_failed",
				"module", "legislature/voting-ledger",
				"layer", "worker",
				"error", err.Error(),
			)
		} else {
			corrected = batch.Corrected
		}
	}

	logger.Info("reconciliation cycle completed",
		"event", "ledger_reconciliation_completed",
		"module", "legislature/voting-ledger",
		"layer", "worker",
		"sessions_synced", synced,
		"laws_updated", updated,
		"sessions_partial", partial,
		"voters_corrected", corrected,
	)
	return nil
}
