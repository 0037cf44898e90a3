package ledgeradapter

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
	"legisledger/contexts/legislature/voting-ledger/ports"
)

var (
	errUnknownSession    = errors.New("ledger session does not exist")
	errUnknownLaw        = errors.New("ledger law does not exist")
	errSessionFinalized  = errors.New("ledger session is finalized")
	errVoterNotMember    = errors.New("voter is not a member")
	errVoterAlready      = errors.New("voter is already a member")
	errSignatureRequired = errors.New("vote signature is empty")
)

type simulatedLaw struct {
	votes  map[string]uint8
	counts map[uint8]int
}

type simulatedSession struct {
	finalized bool
	laws      map[uint64]*simulatedLaw
}

// Simulated is an in-process stand-in for the voting contract. It keeps the same
// rules the contract enforces: one replaceable vote per member and law, no votes
// after finalization, and membership-gated voting.
type Simulated struct {
	mu        sync.Mutex
	networkID string
	account   string
	height    uint64
	nextSess  uint64
	nextLaw   uint64
	sessions  map[uint64]*simulatedSession
	members   map[string]bool
	failures  map[string]error
}

func NewSimulated(networkID string, account string) *Simulated {
	if networkID == "" {
		networkID = "simulated"
	}
	return &Simulated{
		networkID: networkID,
		account:   strings.ToLower(account),
		sessions:  make(map[uint64]*simulatedSession),
		members:   make(map[string]bool),
		failures:  make(map[string]error),
	}
}

// FailOn makes every call of op fail with err until cleared with a nil err.
// Op names match the LedgerError ops, e.g. "register_law" or "fetch_tally".
func (s *Simulated) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// SetTally overwrites the counters of a law, emulating votes the local store never saw.
func (s *Simulated) SetTally(ledgerSessionID uint64, ledgerLawID uint64, counts entities.LedgerCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	law, err := s.lawLocked(ledgerSessionID, ledgerLawID)
	if err != nil {
		return err
	}
	law.counts[encoded(entities.VoteFavor)] = counts.Favor
	law.counts[encoded(entities.VoteAgainst)] = counts.Against
	law.counts[encoded(entities.VoteAbstain)] = counts.Abstain
	law.counts[encoded(entities.VoteAbsent)] = counts.Absent
	return nil
}

// SetMember changes membership without a transaction.
func (s *Simulated) SetMember(address string, member bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[strings.ToLower(address)] = member
}

func (s *Simulated) RegisterSession(_ context.Context, date time.Time, description string) (ports.LedgerRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failureLocked("register_session"); err != nil {
		return ports.LedgerRegistration{}, err
	}
	s.nextSess++
	s.sessions[s.nextSess] = &simulatedSession{laws: make(map[uint64]*simulatedLaw)}
	return ports.LedgerRegistration{
		LedgerID: s.nextSess,
		TxRef:    s.txLocked("register_session", fmt.Sprint(s.nextSess), date.UTC().Format(time.RFC3339), description),
	}, nil
}

func (s *Simulated) RegisterLaw(_ context.Context, ledgerSessionID uint64, title string, description string) (ports.LedgerRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failureLocked("register_law"); err != nil {
		return ports.LedgerRegistration{}, err
	}
	session, ok := s.sessions[ledgerSessionID]
	if !ok {
		return ports.LedgerRegistration{}, domainerrors.Ledger("register_law", errUnknownSession)
	}
	if session.finalized {
		return ports.LedgerRegistration{}, domainerrors.Ledger("register_law", errSessionFinalized)
	}
	s.nextLaw++
	session.laws[s.nextLaw] = &simulatedLaw{
		votes:  make(map[string]uint8),
		counts: make(map[uint8]int),
	}
	return ports.LedgerRegistration{
		LedgerID: s.nextLaw,
		TxRef:    s.txLocked("register_law", fmt.Sprint(ledgerSessionID), fmt.Sprint(s.nextLaw), title, description),
	}, nil
}

func (s *Simulated) FinalizeSession(_ context.Context, ledgerSessionID uint64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failureLocked("finalize_session"); err != nil {
		return "", err
	}
	session, ok := s.sessions[ledgerSessionID]
	if !ok {
		return "", domainerrors.Ledger("finalize_session", errUnknownSession)
	}
	if session.finalized {
		return "", domainerrors.Ledger("finalize_session", errSessionFinalized)
	}
	session.finalized = true
	return s.txLocked("finalize_session", fmt.Sprint(ledgerSessionID)), nil
}

func (s *Simulated) CastVote(
	ctx context.Context,
	ledgerSessionID uint64,
	ledgerLawID uint64,
	encodedVote uint8,
	signer ports.Signer,
) (string, error) {
	if signer == nil {
		return "", domainerrors.Ledger("cast_vote", errSignatureRequired)
	}
	if _, err := entities.DecodeVoteValue(encodedVote); err != nil {
		return "", domainerrors.Ledger("cast_vote", err)
	}
	payload := VotePayload(ledgerSessionID, ledgerLawID, encodedVote)
	signature, err := signer.Sign(ctx, payload)
	if err != nil {
		return "", domainerrors.Ledger("cast_vote", err)
	}
	if len(signature) == 0 {
		return "", domainerrors.Ledger("cast_vote", errSignatureRequired)
	}
	address := strings.ToLower(signer.Address())

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failureLocked("cast_vote"); err != nil {
		return "", err
	}
	if !s.members[address] {
		return "", domainerrors.Ledger("cast_vote", errVoterNotMember)
	}
	if session, ok := s.sessions[ledgerSessionID]; ok && session.finalized {
		return "", domainerrors.Ledger("cast_vote", errSessionFinalized)
	}
	law, err := s.lawLocked(ledgerSessionID, ledgerLawID)
	if err != nil {
		return "", domainerrors.Ledger("cast_vote", err)
	}
	if previous, ok := law.votes[address]; ok && law.counts[previous] > 0 {
		law.counts[previous]--
	}
	law.votes[address] = encodedVote
	law.counts[encodedVote]++
	return s.txLocked("cast_vote", fmt.Sprint(ledgerSessionID), fmt.Sprint(ledgerLawID), address, hex.EncodeToString(signature)), nil
}

func (s *Simulated) FetchTally(_ context.Context, ledgerSessionID uint64, ledgerLawID uint64) (entities.LedgerCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failureLocked("fetch_tally"); err != nil {
		return entities.LedgerCounts{}, err
	}
	law, err := s.lawLocked(ledgerSessionID, ledgerLawID)
	if err != nil {
		return entities.LedgerCounts{}, domainerrors.Ledger("fetch_tally", err)
	}
	return entities.LedgerCounts{
		Favor:   law.counts[encoded(entities.VoteFavor)],
		Against: law.counts[encoded(entities.VoteAgainst)],
		Abstain: law.counts[encoded(entities.VoteAbstain)],
		Absent:  law.counts[encoded(entities.VoteAbsent)],
	}, nil
}

func (s *Simulated) IsVoterRegistered(_ context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failureLocked("is_voter_registered"); err != nil {
		return false, err
	}
	return s.members[strings.ToLower(address)], nil
}

func (s *Simulated) RegisterVoter(_ context.Context, address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failureLocked("register_voter"); err != nil {
		return "", err
	}
	key := strings.ToLower(address)
	if s.members[key] {
		return "", domainerrors.Ledger("register_voter", errVoterAlready)
	}
	s.members[key] = true
	return s.txLocked("register_voter", key), nil
}

func (s *Simulated) UnregisterVoter(_ context.Context, address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failureLocked("unregister_voter"); err != nil {
		return "", err
	}
	key := strings.ToLower(address)
	if !s.members[key] {
		return "", domainerrors.Ledger("unregister_voter", errVoterNotMember)
	}
	s.members[key] = false
	return s.txLocked("unregister_voter", key), nil
}

func (s *Simulated) Status(_ context.Context) (ports.LedgerStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failureLocked("status"); err != nil {
		return ports.LedgerStatus{}, err
	}
	return ports.LedgerStatus{
		Connected:   true,
		BlockHeight: s.height,
		NetworkID:   s.networkID,
		Account:     s.account,
	}, nil
}

func (s *Simulated) lawLocked(ledgerSessionID uint64, ledgerLawID uint64) (*simulatedLaw, error) {
	session, ok := s.sessions[ledgerSessionID]
	if !ok {
		return nil, errUnknownSession
	}
	law, ok := session.laws[ledgerLawID]
	if !ok {
		return nil, errUnknownLaw
	}
	return law, nil
}

func (s *Simulated) failureLocked(op string) error {
	if err, ok := s.failures[op]; ok {
		return domainerrors.Ledger(op, err)
	}
	return nil
}

// txLocked mines one block and returns a deterministic 32-byte transaction hash.
func (s *Simulated) txLocked(parts ...string) string {
	s.height++
	hasher := sha256.New()
	var height [8]byte
	binary.BigEndian.PutUint64(height[:], s.height)
	hasher.Write(height[:])
	for _, part := range parts {
		hasher.Write([]byte(part))
		hasher.Write([]byte{0})
	}
	return "0x" + hex.EncodeToString(hasher.Sum(nil))
}

func encoded(value entities.VoteValue) uint8 {
	code, _ := value.Encode()
	return code
}

// VotePayload is the byte string a voter signs for one vote.
func VotePayload(ledgerSessionID uint64, ledgerLawID uint64, encodedVote uint8) []byte {
	payload := make([]byte, 17)
	binary.BigEndian.PutUint64(payload[0:8], ledgerSessionID)
	binary.BigEndian.PutUint64(payload[8:16], ledgerLawID)
	payload[16] = encodedVote
	return payload
}

var _ ports.LedgerClient = (*Simulated)(nil)
