package queries

import (
	"context"
	"math"

	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
	"legisledger/contexts/legislature/voting-ledger/ports"
)

type SessionDetail struct {
	Session entities.Session
	// Laws is nil unless the caller asked for them.
	Laws []entities.Law
}

type LawResults struct {
	Law            entities.Law
	Local          entities.TallyCounts
	Ledger         *entities.LedgerCounts
	LedgerErr      error
	TotalCounted   int
	ApprovalPct    float64
	RejectionPct   float64
	AbstentionPct  float64
	RegisteredPool int
	Participation  float64
	QuorumReached  bool
	Approved       bool
	Consistent     bool
}

type Ballot struct {
	LawID      string
	LawTitle   string
	Vote       *entities.VoteRecord
	VotingOpen bool
}

// SessionQueries serves read models. Loading is explicit: nothing is attached to a
// read unless the caller asks for it.
type SessionQueries struct {
	Sessions ports.SessionRepository
	Laws     ports.LawRepository
	Voters   ports.VoterRepository
	Ledger   ports.LedgerClient
}

func (q SessionQueries) GetSession(ctx context.Context, sessionID string, includeLaws bool) (SessionDetail, error) {
	session, err := q.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return SessionDetail{}, err
	}
	detail := SessionDetail{Session: session}
	if includeLaws {
		laws, err := q.Laws.ListLawsBySession(ctx, session.ID)
		if err != nil {
			return SessionDetail{}, err
		}
		detail.Laws = laws
	}
	return detail, nil
}

func (q SessionQueries) ListSessionLaws(ctx context.Context, sessionID string) ([]entities.Law, error) {
	if _, err := q.Sessions.LoadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return q.Laws.ListLawsBySession(ctx, sessionID)
}

// LawResults combines local counters with a best-effort ledger read.
func (q SessionQueries) LawResults(ctx context.Context, sessionID string, lawID string) (LawResults, error) {
	session, law, err := q.loadPair(ctx, sessionID, lawID)
	if err != nil {
		return LawResults{}, err
	}
	counts := law.Tally.Counts
	results := LawResults{
		Law:          law,
		Local:        counts,
		TotalCounted: counts.TotalCounted(),
		Approved:     counts.Approves(),
		Consistent:   law.Tally.Consistent(),
	}
	// A resolved law keeps the decision it was frozen with even if a later
	// ledger sync moved its counters.
	if law.Terminal() {
		results.Approved = law.State == entities.LawStateApproved
	}
	if total := counts.TotalCounted(); total > 0 {
		results.ApprovalPct = percent(counts.Favor, total)
		results.RejectionPct = percent(counts.Against, total)
		results.AbstentionPct = percent(counts.Abstain, total)
	}

	if q.Voters != nil {
		registered, err := q.Voters.CountRegisteredVoters(ctx)
		if err != nil {
			return LawResults{}, err
		}
		results.RegisteredPool = registered
		if registered > 0 {
			results.Participation = percent(counts.TotalCounted(), registered)
		}
		results.QuorumReached = registered > 0 && results.Participation >= float64(session.Quorum)
	}

	if q.Ledger != nil {
		ledgerSessionID, sessionOK := session.LedgerRef()
		ledgerLawID, lawOK := law.LedgerRef()
		if sessionOK && lawOK {
			remote, err := q.Ledger.FetchTally(ctx, ledgerSessionID, ledgerLawID)
			if err != nil {
				results.LedgerErr = domainerrors.Ledger("fetch_tally", err)
			} else {
				results.Ledger = &remote
			}
		}
	}
	return results, nil
}

func (q SessionQueries) VoterBallot(ctx context.Context, sessionID string, lawID string, voterID string) (Ballot, error) {
	session, law, err := q.loadPair(ctx, sessionID, lawID)
	if err != nil {
		return Ballot{}, err
	}
	return ballotFor(session, law, voterID), nil
}

func (q SessionQueries) VoterBallots(ctx context.Context, sessionID string, voterID string) ([]Ballot, error) {
	session, err := q.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	laws, err := q.Laws.ListLawsBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	ballots := make([]Ballot, 0, len(laws))
	for _, law := range laws {
		ballots = append(ballots, ballotFor(session, law, voterID))
	}
	return ballots, nil
}

func (q SessionQueries) loadPair(ctx context.Context, sessionID string, lawID string) (entities.Session, entities.Law, error) {
	session, err := q.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return entities.Session{}, entities.Law{}, err
	}
	law, err := q.Laws.LoadLaw(ctx, lawID)
	if err != nil {
		return entities.Session{}, entities.Law{}, err
	}
	if law.SessionID != session.ID {
		return entities.Session{}, entities.Law{}, domainerrors.ErrLawSessionMismatch
	}
	return session, law, nil
}

func ballotFor(session entities.Session, law entities.Law, voterID string) Ballot {
	ballot := Ballot{
		LawID:      law.ID,
		LawTitle:   law.Title,
		VotingOpen: session.State == entities.SessionStateActive && law.State == entities.LawStateVoting,
	}
	if record, ok := law.Tally.RecordFor(voterID); ok {
		ballot.Vote = &record
	}
	return ballot
}

// percent rounds part/total to two decimals.
func percent(part int, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}
