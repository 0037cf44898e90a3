package ledgeradapter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addMember(t *testing.T, ledger *Simulated, keyring *Keyring, n int) entities.Voter {
	t.Helper()
	voter := entities.Voter{ID: fmt.Sprintf("voter-%d", n), Address: fmt.Sprintf("0x%040X", n)}
	keyring.Add(voter.Address, []byte(voter.ID))
	ledger.SetMember(voter.Address, true)
	return voter
}

func TestSimulatedVoteReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	ledger := NewSimulated("", "0xABC")
	keyring := NewKeyring()
	voter := addMember(t, ledger, keyring, 10)
	signer, err := keyring.ResolveSigner(ctx, voter)
	require.NoError(t, err)

	session, err := ledger.RegisterSession(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "plenary")
	require.NoError(t, err)
	law, err := ledger.RegisterLaw(ctx, session.LedgerID, "Act", "desc")
	require.NoError(t, err)
	assert.True(t, entities.ValidTxRef(session.TxRef))
	assert.NotEqual(t, session.TxRef, law.TxRef)

	favor, _ := entities.VoteFavor.Encode()
	against, _ := entities.VoteAgainst.Encode()
	_, err = ledger.CastVote(ctx, session.LedgerID, law.LedgerID, favor, signer)
	require.NoError(t, err)
	_, err = ledger.CastVote(ctx, session.LedgerID, law.LedgerID, against, signer)
	require.NoError(t, err)

	counts, err := ledger.FetchTally(ctx, session.LedgerID, law.LedgerID)
	require.NoError(t, err)
	assert.Equal(t, entities.LedgerCounts{Against: 1}, counts)

	status, err := ledger.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), status.BlockHeight)
	assert.Equal(t, "simulated", status.NetworkID)
	assert.Equal(t, "0xabc", status.Account)
}

func TestSimulatedRejectsNonMembersAndFinalizedSessions(t *testing.T) {
	ctx := context.Background()
	ledger := NewSimulated("testnet", "")
	keyring := NewKeyring()
	outsider := entities.Voter{ID: "outsider", Address: fmt.Sprintf("0x%040x", 99)}
	keyring.Add(outsider.Address, []byte("outsider"))
	member := addMember(t, ledger, keyring, 1)

	session, err := ledger.RegisterSession(ctx, time.Now(), "plenary")
	require.NoError(t, err)
	law, err := ledger.RegisterLaw(ctx, session.LedgerID, "Act", "desc")
	require.NoError(t, err)

	outsiderSigner, err := keyring.ResolveSigner(ctx, outsider)
	require.NoError(t, err)
	_, err = ledger.CastVote(ctx, session.LedgerID, law.LedgerID, 2, outsiderSigner)
	require.ErrorIs(t, err, domainerrors.ErrLedger)

	_, err = ledger.FinalizeSession(ctx, session.LedgerID)
	require.NoError(t, err)
	signer, err := keyring.ResolveSigner(ctx, member)
	require.NoError(t, err)
	_, err = ledger.CastVote(ctx, session.LedgerID, law.LedgerID, 2, signer)
	require.ErrorIs(t, err, domainerrors.ErrLedger)
	_, err = ledger.RegisterLaw(ctx, session.LedgerID, "Late", "desc")
	require.ErrorIs(t, err, domainerrors.ErrLedger)
	_, err = ledger.FinalizeSession(ctx, session.LedgerID)
	require.ErrorIs(t, err, domainerrors.ErrLedger)

	_, err = ledger.FetchTally(ctx, 404, 1)
	require.ErrorIs(t, err, domainerrors.ErrLedger)
	_, err = ledger.CastVote(ctx, session.LedgerID, law.LedgerID, 9, signer)
	require.ErrorIs(t, err, domainerrors.ErrLedger)
	_, err = ledger.CastVote(ctx, session.LedgerID, law.LedgerID, 2, nil)
	require.ErrorIs(t, err, domainerrors.ErrLedger)
}

func TestSimulatedMembership(t *testing.T) {
	ctx := context.Background()
	ledger := NewSimulated("", "")
	address := fmt.Sprintf("0x%040x", 5)

	_, err := ledger.UnregisterVoter(ctx, address)
	require.ErrorIs(t, err, domainerrors.ErrLedger)
	txRef, err := ledger.RegisterVoter(ctx, address)
	require.NoError(t, err)
	assert.True(t, entities.ValidTxRef(txRef))
	_, err = ledger.RegisterVoter(ctx, address)
	require.ErrorIs(t, err, domainerrors.ErrLedger)

	registered, err := ledger.IsVoterRegistered(ctx, address)
	require.NoError(t, err)
	assert.True(t, registered)
}

func TestSimulatedFailOn(t *testing.T) {
	ctx := context.Background()
	ledger := NewSimulated("", "")
	cause := errors.New("rpc down")
	ledger.FailOn("status", cause)

	_, err := ledger.Status(ctx)
	require.ErrorIs(t, err, cause)
	var ledgerErr *domainerrors.LedgerError
	require.ErrorAs(t, err, &ledgerErr)
	assert.Equal(t, "status", ledgerErr.Op)

	ledger.FailOn("status", nil)
	_, err = ledger.Status(ctx)
	require.NoError(t, err)
}

func TestKeyringSignatures(t *testing.T) {
	ctx := context.Background()
	keyring := NewKeyring()
	voter := entities.Voter{ID: "voter-1", Address: fmt.Sprintf("0x%040x", 1)}

	_, err := keyring.ResolveSigner(ctx, voter)
	require.Error(t, err)

	keyring.Add(voter.Address, []byte("secret"))
	signer, err := keyring.ResolveSigner(ctx, voter)
	require.NoError(t, err)
	first, err := signer.Sign(ctx, VotePayload(1, 2, 3))
	require.NoError(t, err)
	second, err := signer.Sign(ctx, VotePayload(1, 2, 3))
	require.NoError(t, err)
	other, err := signer.Sign(ctx, VotePayload(1, 2, 4))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.NotContains(t, fmt.Sprint(signer), "secret")
}
