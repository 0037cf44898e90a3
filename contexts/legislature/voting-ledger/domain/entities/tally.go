package entities

import "time"

// TallyCounts are the aggregate counters for one law.
type TallyCounts struct {
	Favor   int
	Against int
	Abstain int
	Present int
	Absent  int
}

func (c TallyCounts) TotalCounted() int {
	return c.Favor + c.Against + c.Abstain
}

// LedgerCounts are the four counters the ledger exposes. Present is not tracked on chain.
type LedgerCounts struct {
	Favor   int
	Against int
	Abstain int
	Absent  int
}

func (c TallyCounts) Ledger() LedgerCounts {
	return LedgerCounts{Favor: c.Favor, Against: c.Against, Abstain: c.Abstain, Absent: c.Absent}
}

// VoteTally holds the counters and the per-voter record history of a law.
type VoteTally struct {
	Counts  TallyCounts
	Records []VoteRecord
}

// Apply records value for voterID. An existing record is overwritten in place after
// its old bucket is decremented; otherwise a record is appended. Returns true when an
// existing record was replaced.
func (t *VoteTally) Apply(voterID string, value VoteValue, castAt time.Time, txRef string) bool {
	for i := range t.Records {
		if t.Records[i].VoterID != voterID {
			continue
		}
		t.adjust(t.Records[i].Value, -1)
		t.Records[i].Value = value
		t.Records[i].CastAt = castAt
		t.Records[i].TxRef = txRef
		t.adjust(value, 1)
		return true
	}
	t.Records = append(t.Records, VoteRecord{
		VoterID: voterID,
		Value:   value,
		CastAt:  castAt,
		TxRef:   txRef,
	})
	t.adjust(value, 1)
	return false
}

func (t *VoteTally) adjust(value VoteValue, delta int) {
	var counter *int
	switch value {
	case VoteFavor:
		counter = &t.Counts.Favor
	case VoteAgainst:
		counter = &t.Counts.Against
	case VoteAbstain:
		counter = &t.Counts.Abstain
	case VotePresent:
		counter = &t.Counts.Present
	case VoteAbsent:
		counter = &t.Counts.Absent
	default:
		return
	}
	*counter += delta
	// A ledger overwrite can leave a bucket below its record count, so a
	// re-vote out of it floors at zero and Consistent reports the drift.
	if *counter < 0 {
		*counter = 0
	}
}

// RecordFor returns the current vote of voterID.
func (t VoteTally) RecordFor(voterID string) (VoteRecord, bool) {
	for _, record := range t.Records {
		if record.VoterID == voterID {
			return record, true
		}
	}
	return VoteRecord{}, false
}

func (t VoteTally) HasVotes() bool {
	return len(t.Records) > 0
}

func (t VoteTally) TotalCounted() int {
	return t.Counts.TotalCounted()
}

// Recount derives counters from the records alone.
func (t VoteTally) Recount() TallyCounts {
	recount := VoteTally{}
	for _, record := range t.Records {
		recount.adjust(record.Value, 1)
	}
	return recount.Counts
}

// Consistent reports whether the counters equal the multiset count of the records.
// A ledger reconciliation may legitimately break this.
func (t VoteTally) Consistent() bool {
	return t.Recount() == t.Counts
}

// OverwriteFromLedger replaces the ledger-tracked counters and reports whether any changed.
// Records are kept for audit.
func (t *VoteTally) OverwriteFromLedger(remote LedgerCounts) bool {
	if t.Counts.Ledger() == remote {
		return false
	}
	t.Counts.Favor = remote.Favor
	t.Counts.Against = remote.Against
	t.Counts.Abstain = remote.Abstain
	t.Counts.Absent = remote.Absent
	return true
}

// Approves is the finish rule: strictly more favor than against. Ties reject.
func (c TallyCounts) Approves() bool {
	return c.Favor > c.Against
}

// Clone returns a deep copy so callers can hold snapshots.
func (t VoteTally) Clone() VoteTally {
	records := make([]VoteRecord, len(t.Records))
	copy(records, t.Records)
	return VoteTally{Counts: t.Counts, Records: records}
}
