package reconciliation

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	application "legisledger/contexts/legislature/voting-ledger/application"
	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
	"legisledger/contexts/legislature/voting-ledger/ports"
	"legisledger/internal/shared/events"
)

const defaultConcurrency = 4

// LawSyncResult reports one law reconciliation. Err is set only inside a session
// sync, where per-law failures are captured instead of returned.
type LawSyncResult struct {
	LawID   string
	Skipped bool
	Updated bool
	Before  entities.TallyCounts
	After   entities.TallyCounts
	Err     error
}

type SessionSyncResult struct {
	SessionID string
	Laws      []LawSyncResult
	Outcome   entities.Outcome
}

func (r SessionSyncResult) Updated() int {
	updated := 0
	for _, item := range r.Laws {
		if item.Updated {
			updated++
		}
	}
	return updated
}

type VoterRegistrationResult struct {
	Voter entities.Voter
	TxRef string
}

// VoterSyncReport is the tri-state comparison of local and ledger membership.
type VoterSyncReport struct {
	VoterID string
	Address string
	Local   bool
	Ledger  *bool
	State   entities.SyncState
	Cause   error
	// Corrected is set by SyncVoters when the local flag was overwritten.
	Corrected bool
}

type VoterSyncBatch struct {
	Voters    []VoterSyncReport
	Corrected int
	Outcome   entities.Outcome
}

type LedgerStatusReport struct {
	Status ports.LedgerStatus
	Cause  error
}

// SyncObserver receives reconciliation outcomes. Optional.
type SyncObserver interface {
	LawSynced(updated bool)
	LawSyncFailed()
	VoterCorrected()
}

// Engine keeps local tallies and registration flags consistent with the ledger.
// The ledger always wins.
type Engine struct {
	Sessions    ports.SessionRepository
	Laws        ports.LawRepository
	Voters      ports.VoterRepository
	Ledger      ports.LedgerClient
	Locks       ports.LawLocker
	Outbox      ports.OutboxWriter
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Observer    SyncObserver
	Concurrency int
	Logger      *slog.Logger
}

// SyncLaw pulls the ledger tally of one law and overwrites local counters that differ.
func (e Engine) SyncLaw(ctx context.Context, sessionID string, lawID string) (LawSyncResult, error) {
	session, err := e.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return LawSyncResult{}, err
	}
	result, err := e.syncLaw(ctx, session, lawID)
	e.observe(result, err)
	return result, err
}

func (e Engine) syncLaw(ctx context.Context, session entities.Session, lawID string) (LawSyncResult, error) {
	logger := application.ResolveLogger(e.Logger)
	unlock, err := application.LockLaw(ctx, e.Locks, lawID)
	if err != nil {
		return LawSyncResult{LawID: lawID}, err
	}
	defer unlock()

	law, err := e.Laws.LoadLaw(ctx, lawID)
	if err != nil {
		return LawSyncResult{LawID: lawID}, err
	}
	if law.SessionID != session.ID {
		return LawSyncResult{LawID: lawID}, domainerrors.ErrLawSessionMismatch
	}
	result := LawSyncResult{LawID: law.ID, Before: law.Tally.Counts, After: law.Tally.Counts}
	ledgerSessionID, sessionOnLedger := session.LedgerRef()
	ledgerLawID, lawOnLedger := law.LedgerRef()
	if !sessionOnLedger || !lawOnLedger {
		result.Skipped = true
		return result, nil
	}

	remote, err := e.Ledger.FetchTally(ctx, ledgerSessionID, ledgerLawID)
	if err != nil {
		err = domainerrors.Ledger("fetch_tally", err)
		logger.Warn("law tally fetch failed",
			"event", "ledger_law_sync_fetch_failed",
			"module", "legislature/voting-ledger",
			"layer", "application",
			"session_id", session.ID,
			"law_id", law.ID,
			"error", err.Error(),
		)
		return result, err
	}
	if remote.Favor < 0 || remote.Against < 0 || remote.Abstain < 0 || remote.Absent < 0 {
		return result, domainerrors.Ledger("fetch_tally", domainerrors.ErrMalformedLedgerReply)
	}
	if !law.Tally.OverwriteFromLedger(remote) {
		return result, nil
	}

	version, err := e.Laws.SaveLaw(ctx, law)
	if err != nil {
		return result, err
	}
	law.Version = version
	result.Updated = true
	result.After = law.Tally.Counts

	now := application.Now(e.Clock)
	sink := application.EventSink{Outbox: e.Outbox, IDGen: e.IDGen}
	if err := sink.Append(ctx, events.LawTallyReconciled, "law_id", law.ID, now, map[string]any{
		"session_id": session.ID,
		"law_id":     law.ID,
		"before":     countsPayload(result.Before),
		"after":      countsPayload(result.After),
	}); err != nil {
		return result, err
	}
	logger.Info("law tally reconciled from ledger",
		"event", "ledger_law_sync_updated",
		"module", "legislature/voting-ledger",
		"layer", "application",
		"session_id", session.ID,
		"law_id", law.ID,
		"favor_before", result.Before.Favor,
		"favor_after", result.After.Favor,
		"against_before", result.Before.Against,
		"against_after", result.After.Against,
	)
	return result, nil
}

// SyncSession reconciles every law of a session concurrently. A failing law is
// captured in its result and never aborts the others; only loading the session
// or its law list can fail the call.
func (e Engine) SyncSession(ctx context.Context, sessionID string) (SessionSyncResult, error) {
	logger := application.ResolveLogger(e.Logger)
	session, err := e.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return SessionSyncResult{}, err
	}
	laws, err := e.Laws.ListLawsBySession(ctx, session.ID)
	if err != nil {
		return SessionSyncResult{}, err
	}

	results := make([]LawSyncResult, len(laws))
	limit := e.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	var group errgroup.Group
	group.SetLimit(limit)
	for i, law := range laws {
		group.Go(func() error {
			result, err := e.syncLaw(ctx, session, law.ID)
			e.observe(result, err)
			if err != nil {
				result.LawID = law.ID
				result.Err = err
			}
			results[i] = result
			return nil
		})
	}
	_ = group.Wait()

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	outcome := entities.OutcomeOf(len(results), failed)
	logger.Info("session sync completed",
		"event", "ledger_session_sync_completed",
		"module", "legislature/voting-ledger",
		"layer", "application",
		"session_id", session.ID,
		"laws", len(results),
		"failed", failed,
		"outcome", string(outcome),
	)
	return SessionSyncResult{SessionID: session.ID, Laws: results, Outcome: outcome}, nil
}

func (e Engine) RegisterVoter(ctx context.Context, voterID string) (VoterRegistrationResult, error) {
	return e.setRegistration(ctx, voterID, true)
}

func (e Engine) UnregisterVoter(ctx context.Context, voterID string) (VoterRegistrationResult, error) {
	return e.setRegistration(ctx, voterID, false)
}

func (e Engine) setRegistration(ctx context.Context, voterID string, target bool) (VoterRegistrationResult, error) {
	logger := application.ResolveLogger(e.Logger)
	voter, err := e.Voters.LoadVoter(ctx, voterID)
	if err != nil {
		return VoterRegistrationResult{}, err
	}
	if voter.IsRegistered == target {
		if target {
			return VoterRegistrationResult{}, domainerrors.ErrVoterAlreadyMember
		}
		return VoterRegistrationResult{}, domainerrors.ErrVoterNotMember
	}
	if !entities.ValidAddress(voter.Address) {
		return VoterRegistrationResult{}, domainerrors.ErrInvalidVoterAddress
	}

	op, eventType := "register_voter", events.VoterRegistered
	call := e.Ledger.RegisterVoter
	if !target {
		op, eventType = "unregister_voter", events.VoterUnregistered
		call = e.Ledger.UnregisterVoter
	}
	txRef, err := call(ctx, voter.Address)
	if err == nil {
		err = application.CheckTxRef(op, txRef)
	}
	if err != nil {
		err = domainerrors.Ledger(op, err)
		logger.Error("voter ledger membership change failed",
			"event", "ledger_voter_"+op+"_failed",
			"module", "legislature/voting-ledger",
			"layer", "application",
			"voter_id", voter.ID,
			"error", err.Error(),
		)
		return VoterRegistrationResult{}, err
	}

	now := application.Now(e.Clock)
	voter.IsRegistered = target
	voter.UpdatedAt = now
	if err := e.Voters.SaveVoter(ctx, voter); err != nil {
		return VoterRegistrationResult{}, err
	}
	sink := application.EventSink{Outbox: e.Outbox, IDGen: e.IDGen}
	if err := sink.Append(ctx, eventType, "voter_id", voter.ID, now, map[string]any{
		"voter_id": voter.ID,
		"address":  voter.Address,
		"tx_ref":   txRef,
	}); err != nil {
		return VoterRegistrationResult{}, err
	}
	logger.Info("voter ledger membership changed",
		"event", "ledger_voter_"+op,
		"module", "legislature/voting-ledger",
		"layer", "application",
		"voter_id", voter.ID,
		"tx_ref", txRef,
	)
	return VoterRegistrationResult{Voter: voter, TxRef: txRef}, nil
}

// VerifyVoterSync compares the local registration flag with the ledger. Ledger
// failures degrade to SyncStateError with the cause attached.
func (e Engine) VerifyVoterSync(ctx context.Context, voterID string) (VoterSyncReport, error) {
	voter, err := e.Voters.LoadVoter(ctx, voterID)
	if err != nil {
		return VoterSyncReport{}, err
	}
	return e.verify(ctx, voter), nil
}

func (e Engine) verify(ctx context.Context, voter entities.Voter) VoterSyncReport {
	report := VoterSyncReport{
		VoterID: voter.ID,
		Address: voter.Address,
		Local:   voter.IsRegistered,
	}
	if !entities.ValidAddress(voter.Address) {
		report.State = entities.SyncStateError
		report.Cause = domainerrors.ErrInvalidVoterAddress
		return report
	}
	registered, err := e.Ledger.IsVoterRegistered(ctx, voter.Address)
	if err != nil {
		report.State = entities.SyncStateError
		report.Cause = domainerrors.Ledger("is_voter_registered", err)
		return report
	}
	report.Ledger = &registered
	if registered == voter.IsRegistered {
		report.State = entities.SyncStateInSync
	} else {
		report.State = entities.SyncStateOutOfSync
	}
	return report
}

// SyncVoters sets every out-of-sync local flag to the ledger value.
func (e Engine) SyncVoters(ctx context.Context) (VoterSyncBatch, error) {
	logger := application.ResolveLogger(e.Logger)
	voters, err := e.Voters.ListVoters(ctx)
	if err != nil {
		return VoterSyncBatch{}, err
	}
	batch := VoterSyncBatch{Voters: make([]VoterSyncReport, 0, len(voters))}
	failed := 0
	for _, voter := range voters {
		report := e.verify(ctx, voter)
		if report.State == entities.SyncStateOutOfSync {
			voter.IsRegistered = *report.Ledger
			voter.UpdatedAt = application.Now(e.Clock)
			if err := e.Voters.SaveVoter(ctx, voter); err != nil {
				if errors.Is(err, domainerrors.ErrStorage) {
					return VoterSyncBatch{}, err
				}
				report.State = entities.SyncStateError
				report.Cause = err
			} else {
				report.Corrected = true
				batch.Corrected++
				if e.Observer != nil {
					e.Observer.VoterCorrected()
				}
			}
		}
		if report.State == entities.SyncStateError {
			failed++
		}
		batch.Voters = append(batch.Voters, report)
	}
	batch.Outcome = entities.OutcomeOf(len(batch.Voters), failed)
	logger.Info("voter sync completed",
		"event", "ledger_voter_sync_completed",
		"module", "legislature/voting-ledger",
		"layer", "application",
		"voters", len(batch.Voters),
		"corrected", batch.Corrected,
		"failed", failed,
	)
	return batch, nil
}

// LedgerStatus checks ledger connectivity without failing.
func (e Engine) LedgerStatus(ctx context.Context) LedgerStatusReport {
	status, err := e.Ledger.Status(ctx)
	if err != nil {
		return LedgerStatusReport{
			Status: ports.LedgerStatus{Connected: false},
			Cause:  domainerrors.Ledger("status", err),
		}
	}
	return LedgerStatusReport{Status: status}
}

func (e Engine) observe(result LawSyncResult, err error) {
	if e.Observer == nil || result.Skipped {
		return
	}
	if err != nil {
		e.Observer.LawSyncFailed()
		return
	}
	e.Observer.LawSynced(result.Updated)
}

func countsPayload(counts entities.TallyCounts) map[string]int {
	return map[string]int{
		"favor":   counts.Favor,
		"against": counts.Against,
		"abstain": counts.Abstain,
		"absent":  counts.Absent,
	}
}
