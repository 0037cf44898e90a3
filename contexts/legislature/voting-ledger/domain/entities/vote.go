package entities

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type VoteValue string

const (
	VoteAbsent  VoteValue = "absent"
	VotePresent VoteValue = "present"
	VoteFavor   VoteValue = "favor"
	VoteAgainst VoteValue = "against"
	VoteAbstain VoteValue = "abstain"
)

// Ledger contract encoding. Changing these breaks interop with votes already on chain.
const (
	encodedAbsent uint8 = iota
	encodedPresent
	encodedFavor
	encodedAgainst
	encodedAbstain
)

var voteValues = []VoteValue{VoteAbsent, VotePresent, VoteFavor, VoteAgainst, VoteAbstain}

// VoteValues returns every vote value in ledger encoding order.
func VoteValues() []VoteValue {
	out := make([]VoteValue, len(voteValues))
	copy(out, voteValues)
	return out
}

func (v VoteValue) Valid() bool {
	switch v {
	case VoteAbsent, VotePresent, VoteFavor, VoteAgainst, VoteAbstain:
		return true
	default:
		return false
	}
}

// Counted reports whether the value takes part in approval math.
func (v VoteValue) Counted() bool {
	return v == VoteFavor || v == VoteAgainst || v == VoteAbstain
}

// Encode returns the numeric value sent to the ledger.
func (v VoteValue) Encode() (uint8, error) {
	switch v {
	case VoteAbsent:
		return encodedAbsent, nil
	case VotePresent:
		return encodedPresent, nil
	case VoteFavor:
		return encodedFavor, nil
	case VoteAgainst:
		return encodedAgainst, nil
	case VoteAbstain:
		return encodedAbstain, nil
	default:
		return 0, fmt.Errorf("unknown vote value %q", string(v))
	}
}

func DecodeVoteValue(code uint8) (VoteValue, error) {
	switch code {
	case encodedAbsent:
		return VoteAbsent, nil
	case encodedPresent:
		return VotePresent, nil
	case encodedFavor:
		return VoteFavor, nil
	case encodedAgainst:
		return VoteAgainst, nil
	case encodedAbstain:
		return VoteAbstain, nil
	default:
		return "", fmt.Errorf("unknown vote code %d", code)
	}
}

// ParseVoteValue accepts the canonical names case-insensitively.
func ParseVoteValue(raw string) (VoteValue, bool) {
	value := VoteValue(strings.ToLower(strings.TrimSpace(raw)))
	return value, value.Valid()
}

type VoteRecord struct {
	VoterID string
	Value   VoteValue
	CastAt  time.Time
	TxRef   string
}

var (
	txRefPattern   = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

// ValidTxRef reports whether ref looks like a 32-byte hash rendered as 0x + 64 hex.
func ValidTxRef(ref string) bool {
	return txRefPattern.MatchString(ref)
}

func ValidAddress(address string) bool {
	return addressPattern.MatchString(address)
}
