package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	application "legisledger/contexts/legislature/voting-ledger/application"
	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
	"legisledger/contexts/legislature/voting-ledger/ports"
	"legisledger/internal/shared/events"
)

type CastVoteCommand struct {
	SessionID string
	LawID     string
	VoterID   string
	Value     entities.VoteValue
}

type CastVoteResult struct {
	LawID     string
	Tally     entities.VoteTally
	WasUpdate bool
	TxRef     string
}

// VoteUseCase casts votes. The ledger is the write-ahead authority: nothing local
// changes until the ledger confirms the vote.
type VoteUseCase struct {
	Sessions ports.SessionRepository
	Laws     ports.LawRepository
	Voters   ports.VoterRepository
	Ledger   ports.LedgerClient
	Signers  ports.SignerResolver
	Locks    ports.LawLocker
	Outbox   ports.OutboxWriter
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Logger   *slog.Logger
}

// CastVote records the vote of one voter on one law, replacing any previous vote
// of the same voter. The whole operation runs under the law lock.
func (uc VoteUseCase) CastVote(ctx context.Context, cmd CastVoteCommand) (CastVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	voterID := strings.TrimSpace(cmd.VoterID)
	if !cmd.Value.Valid() {
		return CastVoteResult{}, fmt.Errorf("%w: %q", domainerrors.ErrInvalidVoteValue, string(cmd.Value))
	}
	if voterID == "" {
		return CastVoteResult{}, fmt.Errorf("%w: voter id is required", domainerrors.ErrValidation)
	}
	encoded, err := cmd.Value.Encode()
	if err != nil {
		return CastVoteResult{}, fmt.Errorf("%w: %v", domainerrors.ErrInvalidVoteValue, err)
	}
	logger.Info("vote cast processing started",
		"event", "ledger_vote_cast_started",
		"module", "legislature/voting-ledger",
		"layer", "application",
		"session_id", cmd.SessionID,
		"law_id", cmd.LawID,
		"voter_id", voterID,
	)

	unlock, err := application.LockLaw(ctx, uc.Locks, cmd.LawID)
	if err != nil {
		return CastVoteResult{}, err
	}
	defer unlock()

	law, err := uc.Laws.LoadLaw(ctx, cmd.LawID)
	if err != nil {
		return CastVoteResult{}, err
	}
	if cmd.SessionID != "" && law.SessionID != cmd.SessionID {
		return CastVoteResult{}, domainerrors.ErrLawSessionMismatch
	}
	if law.State != entities.LawStateVoting {
		return CastVoteResult{}, domainerrors.ErrLawNotVoting
	}
	session, err := uc.Sessions.LoadSession(ctx, law.SessionID)
	if err != nil {
		return CastVoteResult{}, err
	}
	if session.State != entities.SessionStateActive {
		return CastVoteResult{}, domainerrors.ErrSessionNotActive
	}
	ledgerSessionID, ok := session.LedgerRef()
	if !ok {
		return CastVoteResult{}, domainerrors.ErrSessionNotOnLedger
	}
	ledgerLawID, ok := law.LedgerRef()
	if !ok {
		return CastVoteResult{}, domainerrors.ErrLawNotVoting
	}

	voter, err := uc.Voters.LoadVoter(ctx, voterID)
	if err != nil {
		return CastVoteResult{}, err
	}
	if !voter.Active {
		return CastVoteResult{}, domainerrors.ErrVoterInactive
	}
	if !voter.IsRegistered {
		logger.Warn("vote rejected for unregistered voter",
			"event", "ledger_vote_cast_voter_unregistered",
			"module", "legislature/voting-ledger",
			"layer", "application",
			"law_id", law.ID,
			"voter_id", voter.ID,
		)
		return CastVoteResult{}, domainerrors.ErrVoterNotRegistered
	}
	if uc.Signers == nil {
		return CastVoteResult{}, domainerrors.ErrSigningUnavailable
	}
	signer, err := uc.Signers.ResolveSigner(ctx, voter)
	if err != nil {
		return CastVoteResult{}, fmt.Errorf("%w: %v", domainerrors.ErrSigningUnavailable, err)
	}

	txRef, err := uc.Ledger.CastVote(ctx, ledgerSessionID, ledgerLawID, encoded, signer)
	if err == nil {
		err = application.CheckTxRef("cast_vote", txRef)
	}
	if err != nil {
		err = domainerrors.Ledger("cast_vote", err)
		logger.Error("vote ledger submission failed",
			"event", "ledger_vote_cast_ledger_failed",
			"module", "legislature/voting-ledger",
			"layer", "application",
			"law_id", law.ID,
			"voter_id", voter.ID,
			"error", err.Error(),
		)
		return CastVoteResult{}, err
	}

	now := application.Now(uc.Clock)
	wasUpdate := law.Tally.Apply(voter.ID, cmd.Value, now, txRef)
	version, err := uc.Laws.SaveLaw(ctx, law)
	if err != nil {
		// The ledger already holds the vote; reconciliation restores the counters.
		logger.Error("confirmed vote save failed",
			"event", "ledger_vote_cast_save_failed",
			"module", "legislature/voting-ledger",
			"layer", "application",
			"law_id", law.ID,
			"voter_id", voter.ID,
			"tx_ref", txRef,
			"error", err.Error(),
		)
		return CastVoteResult{}, err
	}
	law.Version = version

	sink := application.EventSink{Outbox: uc.Outbox, IDGen: uc.IDGen}
	if err := sink.Append(ctx, events.LawVoteCast, "law_id", law.ID, now, map[string]any{
		"session_id": session.ID,
		"law_id":     law.ID,
		"voter_id":   voter.ID,
		"value":      string(cmd.Value),
		"tx_ref":     txRef,
		"was_update": wasUpdate,
	}); err != nil {
		return CastVoteResult{}, err
	}

	logger.Info("vote cast",
		"event", "ledger_vote_cast_completed",
		"module", "legislature/voting-ledger",
		"layer", "application",
		"law_id", law.ID,
		"voter_id", voter.ID,
		"was_update", wasUpdate,
		"tx_ref", txRef,
	)
	return CastVoteResult{
		LawID:     law.ID,
		Tally:     law.Tally.Clone(),
		WasUpdate: wasUpdate,
		TxRef:     txRef,
	}, nil
}
