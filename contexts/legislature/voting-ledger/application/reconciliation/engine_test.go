package reconciliation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	votingledger "legisledger/contexts/legislature/voting-ledger"
	ledgeradapter "legisledger/contexts/legislature/voting-ledger/adapters/ledger"
	"legisledger/contexts/legislature/voting-ledger/adapters/memory"
	"legisledger/contexts/legislature/voting-ledger/application/commands"
	"legisledger/contexts/legislature/voting-ledger/application/reconciliation"
	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
	"legisledger/internal/shared/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingObserver struct {
	mu        sync.Mutex
	synced    int
	updated   int
	failed    int
	corrected int
}

func (o *recordingObserver) LawSynced(updated bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.synced++
	if updated {
		o.updated++
	}
}

func (o *recordingObserver) LawSyncFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed++
}

func (o *recordingObserver) VoterCorrected() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.corrected++
}

// flakyLedger fails tally reads for a single ledger law id.
type flakyLedger struct {
	*ledgeradapter.Simulated
	failLawID uint64
}

func (f flakyLedger) FetchTally(ctx context.Context, ledgerSessionID uint64, ledgerLawID uint64) (entities.LedgerCounts, error) {
	if ledgerLawID == f.failLawID {
		return entities.LedgerCounts{}, errors.New("rpc timeout")
	}
	return f.Simulated.FetchTally(ctx, ledgerSessionID, ledgerLawID)
}

// countingLedger records how many tally reads reached the ledger.
type countingLedger struct {
	*ledgeradapter.Simulated
	fetches *atomic.Int32
}

func (c countingLedger) FetchTally(ctx context.Context, ledgerSessionID uint64, ledgerLawID uint64) (entities.LedgerCounts, error) {
	c.fetches.Add(1)
	return c.Simulated.FetchTally(ctx, ledgerSessionID, ledgerLawID)
}

func voter(n int, registered bool) entities.Voter {
	return entities.Voter{
		ID:           fmt.Sprintf("voter-%d", n),
		Address:      fmt.Sprintf("0x%040x", n),
		IsRegistered: registered,
		Active:       true,
	}
}

func newModule(t *testing.T) votingledger.Module {
	t.Helper()
	return votingledger.NewInMemoryModule([]entities.Voter{voter(1, true), voter(2, true), voter(3, false)}, nil)
}

func engineFor(module votingledger.Module, observer reconciliation.SyncObserver) reconciliation.Engine {
	engine := module.Reconciliation
	engine.Observer = observer
	return engine
}

func activeSession(t *testing.T, module votingledger.Module, lawCount int) (entities.Session, []entities.Law) {
	t.Helper()
	ctx := context.Background()
	session, err := module.Sessions.CreateSession(ctx, commands.CreateSessionCommand{
		Title:       "Plenary",
		Description: "Reconciliation plenary",
		Date:        time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	for i := 0; i < lawCount; i++ {
		_, err := module.Sessions.AddLaw(ctx, commands.AddLawCommand{
			SessionID:   session.ID,
			Title:       fmt.Sprintf("Act %d", i+1),
			Description: "Reconciled act",
		})
		require.NoError(t, err)
	}
	result, err := module.Sessions.ActivateSession(ctx, session.ID)
	require.NoError(t, err)
	laws, err := module.Store.ListLawsBySession(ctx, session.ID)
	require.NoError(t, err)
	return result.Session, laws
}

func TestSyncLawOverwritesFromLedgerOnce(t *testing.T) {
	ctx := context.Background()
	module := newModule(t)
	observer := &recordingObserver{}
	engine := engineFor(module, observer)
	session, laws := activeSession(t, module, 1)
	law := laws[0]

	_, err := module.Votes.CastVote(ctx, commands.CastVoteCommand{
		SessionID: session.ID, LawID: law.ID, VoterID: "voter-1", Value: entities.VoteFavor,
	})
	require.NoError(t, err)

	remote := entities.LedgerCounts{Favor: 4, Against: 2, Abstain: 1}
	require.NoError(t, module.Ledger.SetTally(*session.LedgerSessionID, *law.LedgerLawID, remote))

	result, err := engine.SyncLaw(ctx, session.ID, law.ID)
	require.NoError(t, err)
	assert.True(t, result.Updated)
	assert.Equal(t, 1, result.Before.Favor)
	assert.Equal(t, remote, result.After.Ledger())

	stored, err := module.Store.LoadLaw(ctx, law.ID)
	require.NoError(t, err)
	assert.Equal(t, remote, stored.Tally.Counts.Ledger())
	assert.Len(t, stored.Tally.Records, 1)
	assert.False(t, stored.Tally.Consistent())

	again, err := engine.SyncLaw(ctx, session.ID, law.ID)
	require.NoError(t, err)
	assert.False(t, again.Updated)

	reconciled := 0
	for _, envelope := range module.Store.OutboxEvents() {
		if envelope.EventType == events.LawTallyReconciled {
			reconciled++
		}
	}
	assert.Equal(t, 1, reconciled)
	assert.Equal(t, 2, observer.synced)
	assert.Equal(t, 1, observer.updated)
}

func TestSyncLawSkipsUnregisteredLaw(t *testing.T) {
	ctx := context.Background()
	module := newModule(t)
	session, err := module.Sessions.CreateSession(ctx, commands.CreateSessionCommand{
		Title: "Draft", Description: "Draft plenary", Date: time.Now(),
	})
	require.NoError(t, err)
	law, err := module.Sessions.AddLaw(ctx, commands.AddLawCommand{
		SessionID: session.ID, Title: "Act", Description: "Unregistered act",
	})
	require.NoError(t, err)

	result, err := module.Reconciliation.SyncLaw(ctx, session.ID, law.ID)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.False(t, result.Updated)
}

func TestSyncLawLedgerFailure(t *testing.T) {
	ctx := context.Background()
	module := newModule(t)
	observer := &recordingObserver{}
	engine := engineFor(module, observer)
	session, laws := activeSession(t, module, 1)
	module.Ledger.FailOn("fetch_tally", errors.New("rpc timeout"))

	_, err := engine.SyncLaw(ctx, session.ID, laws[0].ID)
	require.ErrorIs(t, err, domainerrors.ErrLedger)
	assert.Equal(t, 1, observer.failed)
}

func TestSyncSessionCapturesPerLawFailures(t *testing.T) {
	ctx := context.Background()
	module := newModule(t)
	session, laws := activeSession(t, module, 3)
	require.NoError(t, module.Ledger.SetTally(*session.LedgerSessionID, *laws[0].LedgerLawID, entities.LedgerCounts{Favor: 2}))

	engine := module.Reconciliation
	engine.Ledger = flakyLedger{Simulated: module.Ledger, failLawID: *laws[1].LedgerLawID}
	engine.Concurrency = 2

	result, err := engine.SyncSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.OutcomePartial, result.Outcome)
	require.Len(t, result.Laws, 3)
	assert.Equal(t, 1, result.Updated())

	byID := make(map[string]reconciliation.LawSyncResult)
	for _, item := range result.Laws {
		byID[item.LawID] = item
	}
	assert.True(t, byID[laws[0].ID].Updated)
	require.ErrorIs(t, byID[laws[1].ID].Err, domainerrors.ErrLedger)
	assert.NoError(t, byID[laws[2].ID].Err)
	assert.False(t, byID[laws[2].ID].Updated)
}

func TestSyncSessionAllFailing(t *testing.T) {
	module := newModule(t)
	session, _ := activeSession(t, module, 2)
	module.Ledger.FailOn("fetch_tally", errors.New("node down"))

	result, err := module.Reconciliation.SyncSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.OutcomeFailed, result.Outcome)
}

func TestRegisterAndUnregisterVoter(t *testing.T) {
	ctx := context.Background()
	module := newModule(t)

	_, err := module.Reconciliation.RegisterVoter(ctx, "voter-1")
	require.ErrorIs(t, err, domainerrors.ErrConflict)

	result, err := module.Reconciliation.RegisterVoter(ctx, "voter-3")
	require.NoError(t, err)
	assert.True(t, result.Voter.IsRegistered)
	assert.True(t, entities.ValidTxRef(result.TxRef))
	member, err := module.Ledger.IsVoterRegistered(ctx, voter(3, false).Address)
	require.NoError(t, err)
	assert.True(t, member)

	result, err = module.Reconciliation.UnregisterVoter(ctx, "voter-3")
	require.NoError(t, err)
	assert.False(t, result.Voter.IsRegistered)

	_, err = module.Reconciliation.UnregisterVoter(ctx, "voter-3")
	require.ErrorIs(t, err, domainerrors.ErrConflict)
}

func TestRegisterVoterLedgerFailureKeepsFlag(t *testing.T) {
	ctx := context.Background()
	module := newModule(t)
	module.Ledger.FailOn("register_voter", errors.New("out of gas"))

	_, err := module.Reconciliation.RegisterVoter(ctx, "voter-3")
	require.ErrorIs(t, err, domainerrors.ErrLedger)

	stored, err := module.Store.LoadVoter(ctx, "voter-3")
	require.NoError(t, err)
	assert.False(t, stored.IsRegistered)
}

func TestVerifyVoterSyncStates(t *testing.T) {
	ctx := context.Background()
	module := newModule(t)

	report, err := module.Reconciliation.VerifyVoterSync(ctx, "voter-1")
	require.NoError(t, err)
	assert.Equal(t, entities.SyncStateInSync, report.State)
	require.NotNil(t, report.Ledger)
	assert.True(t, *report.Ledger)

	module.Ledger.SetMember(voter(2, true).Address, false)
	report, err = module.Reconciliation.VerifyVoterSync(ctx, "voter-2")
	require.NoError(t, err)
	assert.Equal(t, entities.SyncStateOutOfSync, report.State)
	assert.True(t, report.Local)
	assert.False(t, *report.Ledger)

	module.Ledger.FailOn("is_voter_registered", errors.New("rpc timeout"))
	report, err = module.Reconciliation.VerifyVoterSync(ctx, "voter-1")
	require.NoError(t, err)
	assert.Equal(t, entities.SyncStateError, report.State)
	assert.Nil(t, report.Ledger)
	require.ErrorIs(t, report.Cause, domainerrors.ErrLedger)

	_, err = module.Reconciliation.VerifyVoterSync(ctx, "voter-404")
	require.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestSyncVotersCorrectsLocalFlags(t *testing.T) {
	ctx := context.Background()
	module := newModule(t)
	observer := &recordingObserver{}
	engine := engineFor(module, observer)
	module.Ledger.SetMember(voter(2, true).Address, false)
	module.Ledger.SetMember(voter(3, false).Address, true)

	batch, err := engine.SyncVoters(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities.OutcomeSucceeded, batch.Outcome)
	assert.Equal(t, 2, batch.Corrected)
	assert.Equal(t, 2, observer.corrected)
	require.Len(t, batch.Voters, 3)

	second, err := module.Store.LoadVoter(ctx, "voter-2")
	require.NoError(t, err)
	assert.False(t, second.IsRegistered)
	third, err := module.Store.LoadVoter(ctx, "voter-3")
	require.NoError(t, err)
	assert.True(t, third.IsRegistered)

	again, err := engine.SyncVoters(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Corrected)
}

func TestSyncVotersReportsInvalidAddress(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.SaveVoter(ctx, entities.Voter{ID: "voter-bad", Address: "not-an-address", Active: true}))
	require.NoError(t, store.SaveVoter(ctx, voter(1, false)))
	engine := reconciliation.Engine{
		Sessions: store,
		Laws:     store,
		Voters:   store,
		Ledger:   ledgeradapter.NewSimulated("", ""),
		Locks:    memory.NewLawLocks(),
	}

	batch, err := engine.SyncVoters(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities.OutcomePartial, batch.Outcome)
	assert.Equal(t, entities.SyncStateError, batch.Voters[1].State)
	require.ErrorIs(t, batch.Voters[1].Cause, domainerrors.ErrValidation)
}

func TestLedgerStatus(t *testing.T) {
	ctx := context.Background()
	module := newModule(t)

	report := module.Reconciliation.LedgerStatus(ctx)
	assert.True(t, report.Status.Connected)
	assert.Equal(t, "simulated", report.Status.NetworkID)
	assert.NoError(t, report.Cause)

	module.Ledger.FailOn("status", errors.New("dial tcp: refused"))
	report = module.Reconciliation.LedgerStatus(ctx)
	assert.False(t, report.Status.Connected)
	require.ErrorIs(t, report.Cause, domainerrors.ErrLedger)
}

func TestSyncLawWaitsForLawLock(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	base := newModule(t)
	locks := memory.NewLawLocks()
	ledger := countingLedger{Simulated: base.Ledger, fetches: &atomic.Int32{}}
	module := votingledger.NewModule(votingledger.Dependencies{
		Sessions: base.Store,
		Laws:     base.Store,
		Voters:   base.Store,
		Ledger:   ledger,
		Signers:  base.Keyring,
		Locks:    locks,
		Outbox:   base.Store,
		Clock:    base.Store,
		IDGen:    base.Store,
	})
	module.Store = base.Store
	module.Ledger = base.Ledger
	module.Keyring = base.Keyring

	session, laws := activeSession(t, module, 1)
	law := laws[0]
	remote := entities.LedgerCounts{Favor: 2, Against: 1}
	require.NoError(t, module.Ledger.SetTally(*session.LedgerSessionID, *law.LedgerLawID, remote))

	baseline := ledger.fetches.Load()
	unlock, err := locks.LockLaw(ctx, law.ID)
	require.NoError(t, err)

	done := make(chan reconciliation.LawSyncResult, 1)
	go func() {
		result, err := module.Reconciliation.SyncLaw(ctx, session.ID, law.ID)
		assert.NoError(t, err)
		done <- result
	}()

	assert.Never(t, func() bool { return ledger.fetches.Load() > baseline }, 100*time.Millisecond, 5*time.Millisecond)
	held, err := module.Store.LoadLaw(ctx, law.ID)
	assert.NoError(t, err)
	assert.Equal(t, law.Version, held.Version)
	assert.Zero(t, held.Tally.Counts.Favor)

	voteCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	_, err = module.Votes.CastVote(voteCtx, commands.CastVoteCommand{
		SessionID: session.ID, LawID: law.ID, VoterID: "voter-1", Value: entities.VoteFavor,
	})
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	select {
	case result := <-done:
		assert.True(t, result.Updated)
		assert.Equal(t, remote, result.After.Ledger())
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not finish after the law lock was released")
	}
	assert.Equal(t, baseline+1, ledger.fetches.Load())

	stored, err := module.Store.LoadLaw(ctx, law.ID)
	require.NoError(t, err)
	assert.Equal(t, remote, stored.Tally.Counts.Ledger())
}
