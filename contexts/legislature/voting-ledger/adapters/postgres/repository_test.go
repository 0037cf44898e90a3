package postgresadapter_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	votingledger "legisledger/contexts/legislature/voting-ledger"
	ledgeradapter "legisledger/contexts/legislature/voting-ledger/adapters/ledger"
	"legisledger/contexts/legislature/voting-ledger/adapters/memory"
	postgresadapter "legisledger/contexts/legislature/voting-ledger/adapters/postgres"
	"legisledger/contexts/legislature/voting-ledger/application/commands"
	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
	"legisledger/contexts/legislature/voting-ledger/ports"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newRepository(t *testing.T) *postgresadapter.Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(postgresadapter.Models()...))
	return postgresadapter.NewRepository(db, nil)
}

func seedSession(t *testing.T, repo *postgresadapter.Repository, id string) entities.Session {
	t.Helper()
	session := entities.Session{
		ID:          id,
		Title:       "Plenary",
		Description: "Stored plenary",
		Date:        time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		State:       entities.SessionStateDraft,
		Quorum:      50,
		VotingType:  entities.VotingTypeSimple,
		CreatedAt:   time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.CreateSession(context.Background(), session))
	return session
}

func seedLaw(t *testing.T, repo *postgresadapter.Repository, sessionID string, id string, position int) entities.Law {
	t.Helper()
	law := entities.Law{
		ID:          id,
		SessionID:   sessionID,
		Position:    position,
		Title:       "Act " + id,
		Description: "Stored act",
		Category:    entities.LawCategoryEconomic,
		State:       entities.LawStateDraft,
		CreatedAt:   time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.CreateLaw(context.Background(), law))
	return law
}

func TestRepositorySessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	session := seedSession(t, repo, "s-1")
	seedLaw(t, repo, session.ID, "l-2", 2)
	seedLaw(t, repo, session.ID, "l-1", 1)

	require.ErrorIs(t, repo.CreateSession(ctx, session), domainerrors.ErrConflict)

	loaded, err := repo.LoadSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Title, loaded.Title)
	assert.True(t, session.Date.Equal(loaded.Date))
	assert.Equal(t, []string{"l-1", "l-2"}, loaded.LawIDs)

	ledgerID := uint64(12)
	startedAt := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	loaded.State = entities.SessionStateActive
	loaded.IsOnLedger = true
	loaded.LedgerSessionID = &ledgerID
	loaded.StartedAt = &startedAt
	require.NoError(t, repo.SaveSession(ctx, loaded))

	active, err := repo.ListSessionsByState(ctx, entities.SessionStateActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	ref, ok := active[0].LedgerRef()
	require.True(t, ok)
	assert.Equal(t, uint64(12), ref)

	_, err = repo.LoadSession(ctx, "missing")
	require.ErrorIs(t, err, domainerrors.ErrSessionNotFound)
}

func TestRepositoryLawRequiresSession(t *testing.T) {
	repo := newRepository(t)
	err := repo.CreateLaw(context.Background(), entities.Law{ID: "l-1", SessionID: "nope", State: entities.LawStateDraft})
	require.ErrorIs(t, err, domainerrors.ErrSessionNotFound)
}

func TestRepositorySaveLawVersionCheck(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	seedSession(t, repo, "s-1")
	seedLaw(t, repo, "s-1", "l-1", 1)

	first, err := repo.LoadLaw(ctx, "l-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)
	stale, err := repo.LoadLaw(ctx, "l-1")
	require.NoError(t, err)

	first.Tally.Apply("voter-1", entities.VoteFavor, time.Now().UTC(), "0x01")
	version, err := repo.SaveLaw(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	stale.Title = "Overwritten"
	_, err = repo.SaveLaw(ctx, stale)
	require.ErrorIs(t, err, domainerrors.ErrStaleVersion)

	_, err = repo.SaveLaw(ctx, entities.Law{ID: "ghost", Version: 1})
	require.ErrorIs(t, err, domainerrors.ErrLawNotFound)
}

func TestRepositoryVotesUpsertInPlace(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	seedSession(t, repo, "s-1")
	seedLaw(t, repo, "s-1", "l-1", 1)

	law, err := repo.LoadLaw(ctx, "l-1")
	require.NoError(t, err)
	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	law.Tally.Apply("voter-1", entities.VoteFavor, at, "0x01")
	law.Tally.Apply("voter-2", entities.VoteAgainst, at, "0x02")
	law.Version, err = repo.SaveLaw(ctx, law)
	require.NoError(t, err)

	law.Tally.Apply("voter-1", entities.VoteAbstain, at.Add(time.Minute), "0x03")
	_, err = repo.SaveLaw(ctx, law)
	require.NoError(t, err)

	stored, err := repo.LoadLaw(ctx, "l-1")
	require.NoError(t, err)
	require.Len(t, stored.Tally.Records, 2)
	assert.Equal(t, "voter-1", stored.Tally.Records[0].VoterID)
	assert.Equal(t, entities.VoteAbstain, stored.Tally.Records[0].Value)
	assert.Equal(t, "0x03", stored.Tally.Records[0].TxRef)
	assert.Equal(t, entities.TallyCounts{Against: 1, Abstain: 1}, stored.Tally.Counts)
	assert.True(t, stored.Tally.Consistent())
}

func TestRepositoryDeleteLawAndSession(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	seedSession(t, repo, "s-1")
	seedLaw(t, repo, "s-1", "l-1", 1)

	require.NoError(t, repo.DeleteLaw(ctx, "l-1"))
	require.ErrorIs(t, repo.DeleteLaw(ctx, "l-1"), domainerrors.ErrLawNotFound)
	require.NoError(t, repo.DeleteSession(ctx, "s-1"))
	require.ErrorIs(t, repo.DeleteSession(ctx, "s-1"), domainerrors.ErrSessionNotFound)
}

func TestRepositoryVoters(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	require.NoError(t, repo.SaveVoter(ctx, entities.Voter{ID: "v-2", Address: "0xb", IsRegistered: true, Active: true}))
	require.NoError(t, repo.SaveVoter(ctx, entities.Voter{ID: "v-1", Address: "0xa", Active: true}))
	require.NoError(t, repo.SaveVoter(ctx, entities.Voter{ID: "v-1", Address: "0xa", IsRegistered: true, Active: true}))

	voters, err := repo.ListVoters(ctx)
	require.NoError(t, err)
	require.Len(t, voters, 2)
	assert.Equal(t, "v-1", voters[0].ID)
	assert.True(t, voters[0].IsRegistered)

	count, err := repo.CountRegisteredVoters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = repo.LoadVoter(ctx, "v-9")
	require.ErrorIs(t, err, domainerrors.ErrVoterNotFound)
}

func TestRepositoryOutbox(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 2; i++ {
		require.NoError(t, repo.AppendOutbox(ctx, ports.EventEnvelope{
			EventID:    fmt.Sprintf("evt-%d", i),
			EventType:  "law.vote_cast",
			OccurredAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, repo.AppendOutbox(ctx, ports.EventEnvelope{
		EventID: "evt-1", EventType: "law.vote_cast", OccurredAt: base.Add(time.Second),
	}))
	require.ErrorIs(t, repo.AppendOutbox(ctx, ports.EventEnvelope{
		EventID: "evt-1", EventType: "session.finished", OccurredAt: base,
	}), domainerrors.ErrIdempotencyConflict)

	pending, err := repo.ListPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "evt-1", pending[0].OutboxID)

	require.NoError(t, repo.MarkOutboxPublished(ctx, "evt-1", base))
	require.NoError(t, repo.MarkOutboxFailed(ctx, "evt-2", "broker down"))
	require.ErrorIs(t, repo.MarkOutboxPublished(ctx, "evt-404", base), domainerrors.ErrNotFound)

	pending, err = repo.ListPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestRepositoryReserveEvent(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	expires := time.Now().UTC().Add(time.Hour)

	duplicate, err := repo.ReserveEvent(ctx, "evt-1", "hash-a", expires)
	require.NoError(t, err)
	assert.False(t, duplicate)

	duplicate, err = repo.ReserveEvent(ctx, "evt-1", "hash-a", expires)
	require.NoError(t, err)
	assert.True(t, duplicate)

	_, err = repo.ReserveEvent(ctx, "evt-1", "hash-b", expires)
	require.ErrorIs(t, err, domainerrors.ErrIdempotencyConflict)

	require.NoError(t, repo.ReleaseEvent(ctx, "evt-1"))
	duplicate, err = repo.ReserveEvent(ctx, "evt-1", "hash-b", expires)
	require.NoError(t, err)
	assert.False(t, duplicate)
}

func TestModuleOnRepository(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	address := fmt.Sprintf("0x%040x", 7)
	require.NoError(t, repo.SaveVoter(ctx, entities.Voter{ID: "voter-7", Address: address, IsRegistered: true, Active: true}))

	ledger := ledgeradapter.NewSimulated("", "")
	ledger.SetMember(address, true)
	keyring := ledgeradapter.NewKeyring()
	keyring.Add(address, []byte("voter-7"))
	module := votingledger.NewModule(votingledger.Dependencies{
		Sessions: repo,
		Laws:     repo,
		Voters:   repo,
		Ledger:   ledger,
		Signers:  keyring,
		Locks:    memory.NewLawLocks(),
		Outbox:   repo,
		Clock:    postgresadapter.SystemClock{},
		IDGen:    postgresadapter.UUIDGenerator{},
	})

	session, err := module.Sessions.CreateSession(ctx, commands.CreateSessionCommand{
		Title: "Plenary", Description: "Stored flow", Date: time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	law, err := module.Sessions.AddLaw(ctx, commands.AddLawCommand{SessionID: session.ID, Title: "Act", Description: "Stored flow act"})
	require.NoError(t, err)
	_, err = module.Sessions.ActivateSession(ctx, session.ID)
	require.NoError(t, err)

	for _, value := range []entities.VoteValue{entities.VoteAgainst, entities.VoteFavor} {
		_, err = module.Votes.CastVote(ctx, commands.CastVoteCommand{
			SessionID: session.ID, LawID: law.ID, VoterID: "voter-7", Value: value,
		})
		require.NoError(t, err)
	}

	finished, err := module.Sessions.FinishSession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, finished.Laws, 1)
	assert.Equal(t, entities.LawStateApproved, finished.Laws[0].State)

	stored, err := repo.LoadLaw(ctx, law.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.TallyCounts{Favor: 1}, stored.Tally.Counts)
	require.Len(t, stored.Tally.Records, 1)

	pending, err := repo.ListPendingOutbox(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, pending, 4)
}
