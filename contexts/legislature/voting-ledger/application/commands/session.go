package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "legisledger/contexts/legislature/voting-ledger/application"
	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
	"legisledger/contexts/legislature/voting-ledger/ports"
	"legisledger/internal/shared/events"
)

type CreateSessionCommand struct {
	Title       string
	Description string
	Date        time.Time
	VotingType  entities.VotingType
	Quorum      int
}

type AddLawCommand struct {
	SessionID   string
	Title       string
	Description string
	Category    entities.LawCategory
}

// LawRegistration is the per-law entry of an activation or retry report.
type LawRegistration struct {
	LawID       string
	Registered  bool
	LedgerLawID uint64
	TxRef       string
	Err         error
}

type ActivationResult struct {
	Session entities.Session
	Laws    []LawRegistration
	Outcome entities.Outcome
}

func (r ActivationResult) Failed() []LawRegistration {
	failed := make([]LawRegistration, 0)
	for _, item := range r.Laws {
		if !item.Registered {
			failed = append(failed, item)
		}
	}
	return failed
}

type LawResolution struct {
	LawID  string
	State  entities.LawState
	Counts entities.TallyCounts
}

type FinishResult struct {
	Session entities.Session
	Laws    []LawResolution
	// LedgerTxRef is empty when the session was not on the ledger or finalization failed.
	LedgerTxRef string
	LedgerErr   error
	Outcome     entities.Outcome
}

type CancelResult struct {
	Session entities.Session
	LawIDs  []string
}

// SessionUseCase drives the session and law lifecycle. Ledger registration on
// activation is best-effort per law; everything else is all-or-nothing.
type SessionUseCase struct {
	Sessions ports.SessionRepository
	Laws     ports.LawRepository
	Ledger   ports.LedgerClient
	Locks    ports.LawLocker
	Outbox   ports.OutboxWriter
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Logger   *slog.Logger
}

func (uc SessionUseCase) CreateSession(ctx context.Context, cmd CreateSessionCommand) (entities.Session, error) {
	logger := application.ResolveLogger(uc.Logger)
	votingType := cmd.VotingType
	if votingType == "" {
		votingType = entities.VotingTypeSimple
	}
	quorum := cmd.Quorum
	if quorum == 0 {
		quorum = entities.DefaultQuorum
	}
	title := strings.TrimSpace(cmd.Title)
	description := strings.TrimSpace(cmd.Description)
	if err := entities.ValidateSessionFields(title, description, cmd.Date, votingType, quorum); err != nil {
		logger.Warn("session create validation failed",
			"event", "ledger_session_create_validation_failed",
			"module", "legislature/voting-ledger",
			"layer", "application",
			"error", err.Error(),
		)
		return entities.Session{}, err
	}

	sessionID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.Session{}, err
	}
	session := entities.Session{
		ID:          sessionID,
		Title:       title,
		Description: description,
		Date:        cmd.Date.UTC(),
		State:       entities.SessionStateDraft,
		CreatedAt:   application.Now(uc.Clock),
		Quorum:      quorum,
		VotingType:  votingType,
	}
	if err := uc.Sessions.CreateSession(ctx, session); err != nil {
		return entities.Session{}, err
	}
	logger.Info("session created",
		"event", "ledger_session_created",
		"module", "legislature/voting-ledger",
		"layer", "application",
		"session_id", session.ID,
	)
	return session, nil
}

func (uc SessionUseCase) UpdateSession(ctx context.Context, sessionID string, patch entities.SessionPatch) (entities.Session, error) {
	session, err := uc.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return entities.Session{}, err
	}
	if err := session.ApplyPatch(patch); err != nil {
		return entities.Session{}, err
	}
	if err := uc.Sessions.SaveSession(ctx, session); err != nil {
		return entities.Session{}, err
	}
	return session, nil
}

// ActivateSession registers the session on the ledger, then registers every draft
// law under it. A failed session registration aborts with the session still draft;
// failed law registrations are reported and leave those laws in draft.
func (uc SessionUseCase) ActivateSession(ctx context.Context, sessionID string) (ActivationResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	session, err := uc.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return ActivationResult{}, err
	}
	if err := session.CheckActivatable(); err != nil {
		return ActivationResult{}, err
	}
	laws, err := uc.Laws.ListLawsBySession(ctx, session.ID)
	if err != nil {
		return ActivationResult{}, err
	}
	if len(laws) == 0 {
		logger.Warn("session activation rejected without laws",
			"event", "ledger_session_activate_no_laws",
			"module", "legislature/voting-ledger",
			"layer", "application",
			"session_id", session.ID,
		)
		return ActivationResult{}, domainerrors.ErrSessionWithoutLaws
	}

	registration, err := uc.Ledger.RegisterSession(ctx, session.Date, session.Description)
	if err == nil {
		err = application.CheckTxRef("register_session", registration.TxRef)
	}
	if err != nil {
		logger.Error("session ledger registration failed",
			"event", "ledger_session_register_failed",
			"module", "legislature/voting-ledger",
			"layer", "application",
			"session_id", session.ID,
			"error", err.Error(),
		)
		return ActivationResult{}, domainerrors.Ledger("register_session", err)
	}

	now := application.Now(uc.Clock)
	if err := session.Activate(registration.LedgerID, registration.TxRef, now); err != nil {
		return ActivationResult{}, err
	}
	if err := uc.Sessions.SaveSession(ctx, session); err != nil {
		logger.Error("activated session save failed",
			"event", "ledger_session_activate_save_failed",
			"module", "legislature/voting-ledger",
			"layer", "application",
			"session_id", session.ID,
			"ledger_session_id", registration.LedgerID,
			"error", err.Error(),
		)
		return ActivationResult{}, err
	}

	results, err := uc.registerDraftLaws(ctx, session, laws)
	if err != nil {
		return ActivationResult{}, err
	}
	outcome := entities.OutcomeSucceeded
	if len(ActivationResult{Laws: results}.Failed()) > 0 {
		outcome = entities.OutcomePartial
	}

	sink := application.EventSink{Outbox: uc.Outbox, IDGen: uc.IDGen}
	if err := sink.Append(ctx, events.SessionActivated, "session_id", session.ID, now, map[string]any{
		"session_id":        session.ID,
		"ledger_session_id": registration.LedgerID,
		"tx_ref":            registration.TxRef,
		"laws_registered":   len(results) - len(ActivationResult{Laws: results}.Failed()),
		"laws_total":        len(results),
	}); err != nil {
		return ActivationResult{}, err
	}

	logger.Info("session activated",
		"event", "ledger_session_activated",
		"module", "legislature/voting-ledger",
		"layer", "application",
		"session_id", session.ID,
		"ledger_session_id", registration.LedgerID,
		"outcome", string(outcome),
	)
	return ActivationResult{Session: session, Laws: results, Outcome: outcome}, nil
}

// RetryLawRegistration registers laws that are still draft inside an active session.
func (uc SessionUseCase) RetryLawRegistration(ctx context.Context, sessionID string) (ActivationResult, error) {
	session, err := uc.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return ActivationResult{}, err
	}
	if session.State != entities.SessionStateActive {
		return ActivationResult{}, domainerrors.ErrSessionNotActive
	}
	if _, ok := session.LedgerRef(); !ok {
		return ActivationResult{}, domainerrors.ErrSessionNotOnLedger
	}
	laws, err := uc.Laws.ListLawsBySession(ctx, session.ID)
	if err != nil {
		return ActivationResult{}, err
	}
	results, err := uc.registerDraftLaws(ctx, session, laws)
	if err != nil {
		return ActivationResult{}, err
	}
	failed := len(ActivationResult{Laws: results}.Failed())
	return ActivationResult{
		Session: session,
		Laws:    results,
		Outcome: entities.OutcomeOf(len(results), failed),
	}, nil
}

func (uc SessionUseCase) registerDraftLaws(
	ctx context.Context,
	session entities.Session,
	laws []entities.Law,
) ([]LawRegistration, error) {
	logger := application.ResolveLogger(uc.Logger)
	ledgerSessionID, _ := session.LedgerRef()
	results := make([]LawRegistration, 0, len(laws))
	for _, law := range laws {
		if law.State != entities.LawStateDraft {
			continue
		}
		registration, err := uc.Ledger.RegisterLaw(ctx, ledgerSessionID, law.Title, law.Description)
		if err == nil {
			err = application.CheckTxRef("register_law", registration.TxRef)
		}
		if err != nil {
			err = domainerrors.Ledger("register_law", err)
			logger.Warn("law ledger registration failed",
				"event", "ledger_law_register_failed",
				"module", "legislature/voting-ledger",
				"layer", "application",
				"session_id", session.ID,
				"law_id", law.ID,
				"error", err.Error(),
			)
			results = append(results, LawRegistration{LawID: law.ID, Err: err})
			continue
		}
		if err := uc.openVoting(ctx, law.ID, registration); err != nil {
			if errors.Is(err, domainerrors.ErrStorage) {
				return nil, err
			}
			results = append(results, LawRegistration{LawID: law.ID, Err: err})
			continue
		}
		results = append(results, LawRegistration{
			LawID:       law.ID,
			Registered:  true,
			LedgerLawID: registration.LedgerID,
			TxRef:       registration.TxRef,
		})
	}
	return results, nil
}

func (uc SessionUseCase) openVoting(ctx context.Context, lawID string, registration ports.LedgerRegistration) error {
	unlock, err := application.LockLaw(ctx, uc.Locks, lawID)
	if err != nil {
		return err
	}
	defer unlock()

	law, err := uc.Laws.LoadLaw(ctx, lawID)
	if err != nil {
		return err
	}
	if err := law.OpenVoting(registration.LedgerID, registration.TxRef, application.Now(uc.Clock)); err != nil {
		return err
	}
	_, err = uc.Laws.SaveLaw(ctx, law)
	return err
}

// FinishSession closes an active session and freezes every law as approved or
// rejected. Ledger finalization is best-effort and reported in the result.
func (uc SessionUseCase) FinishSession(ctx context.Context, sessionID string) (FinishResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	session, err := uc.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return FinishResult{}, err
	}
	if session.State != entities.SessionStateActive {
		return FinishResult{}, domainerrors.ErrSessionNotActive
	}

	result := FinishResult{Outcome: entities.OutcomeSucceeded}
	if ledgerSessionID, ok := session.LedgerRef(); ok {
		txRef, err := uc.Ledger.FinalizeSession(ctx, ledgerSessionID)
		if err == nil {
			err = application.CheckTxRef("finalize_session", txRef)
		}
		if err != nil {
			result.LedgerErr = domainerrors.Ledger("finalize_session", err)
			result.Outcome = entities.OutcomePartial
			logger.Warn("session ledger finalization failed",
				"event", "ledger_session_finalize_failed",
				"module", "legislature/voting-ledger",
				"layer", "application",
				"session_id", session.ID,
				"ledger_session_id", ledgerSessionID,
				"error", result.LedgerErr.Error(),
			)
		} else {
			result.LedgerTxRef = txRef
		}
	}

	now := application.Now(uc.Clock)
	if err := session.Finish(now); err != nil {
		return FinishResult{}, err
	}

	// Laws are frozen before the session is saved so a failed run can be repeated.
	laws, err := uc.Laws.ListLawsBySession(ctx, session.ID)
	if err != nil {
		return FinishResult{}, err
	}
	for _, law := range laws {
		resolved, err := uc.mutateLaw(ctx, law.ID, func(law *entities.Law) bool {
			if law.Terminal() {
				return false
			}
			return law.Resolve(now) == nil
		})
		if err != nil {
			return FinishResult{}, err
		}
		result.Laws = append(result.Laws, LawResolution{
			LawID:  resolved.ID,
			State:  resolved.State,
			Counts: resolved.Tally.Counts,
		})
	}
	if err := uc.Sessions.SaveSession(ctx, session); err != nil {
		return FinishResult{}, err
	}
	result.Session = session

	sink := application.EventSink{Outbox: uc.Outbox, IDGen: uc.IDGen}
	resolutions := make([]map[string]any, 0, len(result.Laws))
	for _, item := range result.Laws {
		resolutions = append(resolutions, map[string]any{
			"law_id":  item.LawID,
			"state":   string(item.State),
			"favor":   item.Counts.Favor,
			"against": item.Counts.Against,
			"abstain": item.Counts.Abstain,
		})
	}
	if err := sink.Append(ctx, events.SessionFinished, "session_id", session.ID, now, map[string]any{
		"session_id":       session.ID,
		"ledger_finalized": result.LedgerErr == nil && result.LedgerTxRef != "",
		"laws":             resolutions,
	}); err != nil {
		return FinishResult{}, err
	}

	logger.Info("session finished",
		"event", "ledger_session_finished",
		"module", "legislature/voting-ledger",
		"layer", "application",
		"session_id", session.ID,
		"laws", len(result.Laws),
		"outcome", string(result.Outcome),
	)
	return result, nil
}

// CancelSession moves a draft or active session and all its laws to cancelled.
func (uc SessionUseCase) CancelSession(ctx context.Context, sessionID string) (CancelResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	session, err := uc.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return CancelResult{}, err
	}
	now := application.Now(uc.Clock)
	if err := session.Cancel(now); err != nil {
		return CancelResult{}, err
	}

	laws, err := uc.Laws.ListLawsBySession(ctx, session.ID)
	if err != nil {
		return CancelResult{}, err
	}
	lawIDs := make([]string, 0, len(laws))
	for _, law := range laws {
		if _, err := uc.mutateLaw(ctx, law.ID, func(law *entities.Law) bool {
			if law.State == entities.LawStateCancelled {
				return false
			}
			law.Cancel()
			return true
		}); err != nil {
			return CancelResult{}, err
		}
		lawIDs = append(lawIDs, law.ID)
	}
	if err := uc.Sessions.SaveSession(ctx, session); err != nil {
		return CancelResult{}, err
	}

	sink := application.EventSink{Outbox: uc.Outbox, IDGen: uc.IDGen}
	if err := sink.Append(ctx, events.SessionCancelled, "session_id", session.ID, now, map[string]any{
		"session_id": session.ID,
		"law_ids":    lawIDs,
	}); err != nil {
		return CancelResult{}, err
	}
	logger.Info("session cancelled",
		"event", "ledger_session_cancelled",
		"module", "legislature/voting-ledger",
		"layer", "application",
		"session_id", session.ID,
		"laws", len(lawIDs),
	)
	return CancelResult{Session: session, LawIDs: lawIDs}, nil
}

// DeleteDraftSession removes a draft session and its laws. Laws with votes block deletion.
func (uc SessionUseCase) DeleteDraftSession(ctx context.Context, sessionID string) error {
	session, err := uc.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := session.CheckDeletable(); err != nil {
		return err
	}
	laws, err := uc.Laws.ListLawsBySession(ctx, session.ID)
	if err != nil {
		return err
	}
	for _, law := range laws {
		if law.Tally.HasVotes() {
			return domainerrors.ErrLawHasVotes
		}
	}
	for _, law := range laws {
		if err := uc.Laws.DeleteLaw(ctx, law.ID); err != nil {
			return err
		}
	}
	if err := uc.Sessions.DeleteSession(ctx, session.ID); err != nil {
		return err
	}
	application.ResolveLogger(uc.Logger).Info("draft session deleted",
		"event", "ledger_session_deleted",
		"module", "legislature/voting-ledger",
		"layer", "application",
		"session_id", session.ID,
		"laws", len(laws),
	)
	return nil
}

func (uc SessionUseCase) AddLaw(ctx context.Context, cmd AddLawCommand) (entities.Law, error) {
	session, err := uc.Sessions.LoadSession(ctx, cmd.SessionID)
	if err != nil {
		return entities.Law{}, err
	}
	if err := session.CheckAcceptsLaws(); err != nil {
		return entities.Law{}, err
	}
	category := cmd.Category
	if category == "" {
		category = entities.LawCategoryOther
	}
	title := strings.TrimSpace(cmd.Title)
	description := strings.TrimSpace(cmd.Description)
	if err := entities.ValidateLawFields(title, description, category); err != nil {
		return entities.Law{}, err
	}

	existing, err := uc.Laws.ListLawsBySession(ctx, session.ID)
	if err != nil {
		return entities.Law{}, err
	}
	position := 1
	for _, law := range existing {
		if law.Position >= position {
			position = law.Position + 1
		}
	}
	lawID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.Law{}, err
	}
	law := entities.Law{
		ID:          lawID,
		SessionID:   session.ID,
		Position:    position,
		Title:       title,
		Description: description,
		Category:    category,
		State:       entities.LawStateDraft,
		CreatedAt:   application.Now(uc.Clock),
	}
	if err := uc.Laws.CreateLaw(ctx, law); err != nil {
		return entities.Law{}, err
	}
	application.ResolveLogger(uc.Logger).Info("law added",
		"event", "ledger_law_added",
		"module", "legislature/voting-ledger",
		"layer", "application",
		"session_id", session.ID,
		"law_id", law.ID,
		"position", position,
	)
	return law, nil
}

func (uc SessionUseCase) UpdateLaw(ctx context.Context, sessionID string, lawID string, patch entities.LawPatch) (entities.Law, error) {
	var patchErr error
	law, err := uc.mutateLaw(ctx, lawID, func(law *entities.Law) bool {
		if law.SessionID != sessionID {
			patchErr = domainerrors.ErrLawSessionMismatch
			return false
		}
		patchErr = law.ApplyPatch(patch)
		return patchErr == nil
	})
	if err != nil {
		return entities.Law{}, err
	}
	if patchErr != nil {
		return entities.Law{}, patchErr
	}
	return law, nil
}

func (uc SessionUseCase) RemoveLaw(ctx context.Context, sessionID string, lawID string) error {
	session, err := uc.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := session.CheckAcceptsLaws(); err != nil {
		return err
	}

	unlock, err := application.LockLaw(ctx, uc.Locks, lawID)
	if err != nil {
		return err
	}
	defer unlock()

	law, err := uc.Laws.LoadLaw(ctx, lawID)
	if err != nil {
		return err
	}
	if law.SessionID != session.ID {
		return domainerrors.ErrLawSessionMismatch
	}
	if law.Tally.HasVotes() {
		return domainerrors.ErrLawHasVotes
	}
	return uc.Laws.DeleteLaw(ctx, law.ID)
}

// mutateLaw reloads a law under its lock, applies fn and saves when fn reports a change.
func (uc SessionUseCase) mutateLaw(ctx context.Context, lawID string, fn func(*entities.Law) bool) (entities.Law, error) {
	unlock, err := application.LockLaw(ctx, uc.Locks, lawID)
	if err != nil {
		return entities.Law{}, err
	}
	defer unlock()

	law, err := uc.Laws.LoadLaw(ctx, lawID)
	if err != nil {
		return entities.Law{}, err
	}
	if !fn(&law) {
		return law, nil
	}
	version, err := uc.Laws.SaveLaw(ctx, law)
	if err != nil {
		return entities.Law{}, err
	}
	law.Version = version
	return law, nil
}
