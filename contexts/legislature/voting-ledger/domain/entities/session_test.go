package entities

import (
	"strings"
	"testing"
	"time"

	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draftSession() Session {
	return Session{
		ID:          "session-1",
		Title:       "Ordinary session",
		Description: "Budget review",
		Date:        time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		State:       SessionStateDraft,
		Quorum:      DefaultQuorum,
		VotingType:  VotingTypeSimple,
	}
}

func TestValidateSessionFields(t *testing.T) {
	date := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name        string
		title       string
		description string
		date        time.Time
		votingType  VotingType
		quorum      int
		wantErr     bool
	}{
		{name: "valid", title: "t", description: "d", date: date, votingType: VotingTypeSimple, quorum: 50},
		{name: "blank title", title: "  ", description: "d", date: date, votingType: VotingTypeSimple, quorum: 50, wantErr: true},
		{name: "long title", title: strings.Repeat("x", MaxSessionTitleLength+1), description: "d", date: date, votingType: VotingTypeSimple, quorum: 50, wantErr: true},
		{name: "missing description", title: "t", date: date, votingType: VotingTypeSimple, quorum: 50, wantErr: true},
		{name: "zero date", title: "t", description: "d", votingType: VotingTypeSimple, quorum: 50, wantErr: true},
		{name: "unknown voting type", title: "t", description: "d", date: date, votingType: "secret", quorum: 50, wantErr: true},
		{name: "quorum too high", title: "t", description: "d", date: date, votingType: VotingTypeQualified, quorum: 101, wantErr: true},
		{name: "quorum zero", title: "t", description: "d", date: date, votingType: VotingTypeQualified, quorum: 0, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSessionFields(tc.title, tc.description, tc.date, tc.votingType, tc.quorum)
			if tc.wantErr {
				require.ErrorIs(t, err, domainerrors.ErrValidation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	session := draftSession()

	_, ok := session.LedgerRef()
	assert.False(t, ok)
	require.NoError(t, session.CheckDeletable())

	require.NoError(t, session.Activate(7, "0xabc", at))
	assert.Equal(t, SessionStateActive, session.State)
	ledgerID, ok := session.LedgerRef()
	require.True(t, ok)
	assert.Equal(t, uint64(7), ledgerID)
	require.NotNil(t, session.StartedAt)

	require.ErrorIs(t, session.Activate(8, "0xdef", at), domainerrors.ErrInvalidState)
	require.ErrorIs(t, session.CheckDeletable(), domainerrors.ErrInvalidState)
	require.NoError(t, session.CheckAcceptsLaws())

	require.NoError(t, session.Finish(at.Add(time.Hour)))
	assert.True(t, session.Terminal())
	require.NotNil(t, session.EndedAt)

	require.ErrorIs(t, session.Finish(at), domainerrors.ErrInvalidState)
	require.ErrorIs(t, session.Cancel(at), domainerrors.ErrInvalidState)
	require.ErrorIs(t, session.CheckAcceptsLaws(), domainerrors.ErrInvalidState)
}

func TestSessionFinishRequiresActive(t *testing.T) {
	session := draftSession()
	require.ErrorIs(t, session.Finish(time.Now()), domainerrors.ErrSessionNotActive)
}

func TestSessionCancelFromDraft(t *testing.T) {
	session := draftSession()
	require.NoError(t, session.Cancel(time.Now()))
	assert.Equal(t, SessionStateCancelled, session.State)
}

func TestSessionApplyPatch(t *testing.T) {
	session := draftSession()
	title := "  Extraordinary session "
	quorum := 66
	require.NoError(t, session.ApplyPatch(SessionPatch{Title: &title, Quorum: &quorum}))
	assert.Equal(t, "Extraordinary session", session.Title)
	assert.Equal(t, 66, session.Quorum)

	bad := 0
	require.ErrorIs(t, session.ApplyPatch(SessionPatch{Quorum: &bad}), domainerrors.ErrValidation)
	assert.Equal(t, 66, session.Quorum)

	require.NoError(t, session.Cancel(time.Now()))
	require.ErrorIs(t, session.ApplyPatch(SessionPatch{Title: &title}), domainerrors.ErrInvalidState)
}
