package commands_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	votingledger "legisledger/contexts/legislature/voting-ledger"
	"legisledger/contexts/legislature/voting-ledger/application/commands"
	"legisledger/contexts/legislature/voting-ledger/domain/entities"

	"github.com/stretchr/testify/require"
)

func testVoter(n int, registered bool) entities.Voter {
	return entities.Voter{
		ID:           fmt.Sprintf("voter-%d", n),
		Name:         fmt.Sprintf("Legislator %d", n),
		Address:      fmt.Sprintf("0x%040x", n),
		IsRegistered: registered,
		Active:       true,
	}
}

// newTestModule seeds three registered voters and one that is not on the ledger.
func newTestModule(t *testing.T) votingledger.Module {
	t.Helper()
	return votingledger.NewInMemoryModule([]entities.Voter{
		testVoter(1, true),
		testVoter(2, true),
		testVoter(3, true),
		testVoter(4, false),
	}, nil)
}

func createSession(t *testing.T, module votingledger.Module) entities.Session {
	t.Helper()
	session, err := module.Sessions.CreateSession(context.Background(), commands.CreateSessionCommand{
		Title:       "Plenary",
		Description: "Weekly plenary session",
		Date:        time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return session
}

func addLaw(t *testing.T, module votingledger.Module, sessionID string, title string) entities.Law {
	t.Helper()
	law, err := module.Sessions.AddLaw(context.Background(), commands.AddLawCommand{
		SessionID:   sessionID,
		Title:       title,
		Description: title + " description",
	})
	require.NoError(t, err)
	return law
}

// activeSessionWithLaw returns an active session holding one law open for voting.
func activeSessionWithLaw(t *testing.T, module votingledger.Module) (entities.Session, entities.Law) {
	t.Helper()
	session := createSession(t, module)
	law := addLaw(t, module, session.ID, "Budget act")
	result, err := module.Sessions.ActivateSession(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, entities.OutcomeSucceeded, result.Outcome)
	return result.Session, law
}

func vote(t *testing.T, module votingledger.Module, sessionID string, lawID string, voterID string, value entities.VoteValue) commands.CastVoteResult {
	t.Helper()
	result, err := module.Votes.CastVote(context.Background(), commands.CastVoteCommand{
		SessionID: sessionID,
		LawID:     lawID,
		VoterID:   voterID,
		Value:     value,
	})
	require.NoError(t, err)
	return result
}
