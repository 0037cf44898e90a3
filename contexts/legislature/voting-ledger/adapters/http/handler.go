package httpadapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"legisledger/contexts/legislature/voting-ledger/application/commands"
	"legisledger/contexts/legislature/voting-ledger/application/queries"
	"legisledger/contexts/legislature/voting-ledger/application/reconciliation"
	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
	httptransport "legisledger/contexts/legislature/voting-ledger/transport/http"
)

type Handler struct {
	Sessions       commands.SessionUseCase
	Votes          commands.VoteUseCase
	Reconciliation reconciliation.Engine
	Queries        queries.SessionQueries
	Logger         *slog.Logger
}

func (h Handler) CreateSessionHandler(
	ctx context.Context,
	req httptransport.CreateSessionRequest,
) (httptransport.SessionResponse, error) {
	date, err := parseSessionDate(req.Date)
	if err != nil {
		return httptransport.SessionResponse{}, err
	}
	session, err := h.Sessions.CreateSession(ctx, commands.CreateSessionCommand{
		Title:       req.Title,
		Description: req.Description,
		Date:        date,
		VotingType:  entities.VotingType(strings.ToLower(strings.TrimSpace(req.VotingType))),
		Quorum:      req.Quorum,
	})
	if err != nil {
		return httptransport.SessionResponse{}, err
	}
	return mapSession(session, nil), nil
}

func (h Handler) GetSessionHandler(
	ctx context.Context,
	sessionID string,
	includeLaws bool,
) (httptransport.SessionResponse, error) {
	detail, err := h.Queries.GetSession(ctx, sessionID, includeLaws)
	if err != nil {
		return httptransport.SessionResponse{}, err
	}
	return mapSession(detail.Session, detail.Laws), nil
}

func (h Handler) UpdateSessionHandler(
	ctx context.Context,
	sessionID string,
	req httptransport.UpdateSessionRequest,
) (httptransport.SessionResponse, error) {
	patch := entities.SessionPatch{
		Title:       req.Title,
		Description: req.Description,
		Quorum:      req.Quorum,
	}
	if req.Date != nil {
		date, err := parseSessionDate(*req.Date)
		if err != nil {
			return httptransport.SessionResponse{}, err
		}
		patch.Date = &date
	}
	if req.VotingType != nil {
		votingType := entities.VotingType(strings.ToLower(strings.TrimSpace(*req.VotingType)))
		patch.VotingType = &votingType
	}
	session, err := h.Sessions.UpdateSession(ctx, sessionID, patch)
	if err != nil {
		return httptransport.SessionResponse{}, err
	}
	return mapSession(session, nil), nil
}

func (h Handler) DeleteSessionHandler(ctx context.Context, sessionID string) error {
	return h.Sessions.DeleteDraftSession(ctx, sessionID)
}

func (h Handler) ActivateSessionHandler(ctx context.Context, sessionID string) (httptransport.ActivationResponse, error) {
	result, err := h.Sessions.ActivateSession(ctx, sessionID)
	if err != nil {
		return httptransport.ActivationResponse{}, err
	}
	return mapActivation(result), nil
}

func (h Handler) RetryLawRegistrationHandler(ctx context.Context, sessionID string) (httptransport.ActivationResponse, error) {
	result, err := h.Sessions.RetryLawRegistration(ctx, sessionID)
	if err != nil {
		return httptransport.ActivationResponse{}, err
	}
	return mapActivation(result), nil
}

func (h Handler) FinishSessionHandler(ctx context.Context, sessionID string) (httptransport.FinishResponse, error) {
	result, err := h.Sessions.FinishSession(ctx, sessionID)
	if err != nil {
		return httptransport.FinishResponse{}, err
	}
	response := httptransport.FinishResponse{
		Outcome:     string(result.Outcome),
		Session:     mapSession(result.Session, nil),
		Laws:        make([]httptransport.LawResolutionItem, 0, len(result.Laws)),
		LedgerTxRef: result.LedgerTxRef,
	}
	if result.LedgerErr != nil {
		response.LedgerError = result.LedgerErr.Error()
	}
	for _, item := range result.Laws {
		response.Laws = append(response.Laws, httptransport.LawResolutionItem{
			LawID: item.LawID,
			State: string(item.State),
			Tally: mapCounts(item.Counts),
		})
	}
	return response, nil
}

func (h Handler) CancelSessionHandler(ctx context.Context, sessionID string) (httptransport.CancelResponse, error) {
	result, err := h.Sessions.CancelSession(ctx, sessionID)
	if err != nil {
		return httptransport.CancelResponse{}, err
	}
	lawIDs := result.LawIDs
	if lawIDs == nil {
		lawIDs = []string{}
	}
	return httptransport.CancelResponse{
		Session: mapSession(result.Session, nil),
		LawIDs:  lawIDs,
	}, nil
}

func (h Handler) SyncSessionHandler(ctx context.Context, sessionID string) (httptransport.SessionSyncResponse, error) {
	result, err := h.Reconciliation.SyncSession(ctx, sessionID)
	if err != nil {
		return httptransport.SessionSyncResponse{}, err
	}
	response := httptransport.SessionSyncResponse{
		SessionID: result.SessionID,
		Outcome:   string(result.Outcome),
		Updated:   result.Updated(),
		Laws:      make([]httptransport.LawSyncItem, 0, len(result.Laws)),
	}
	for _, item := range result.Laws {
		entry := httptransport.LawSyncItem{
			LawID:   item.LawID,
			Skipped: item.Skipped,
			Updated: item.Updated,
			Before:  mapLedgerCounts(item.Before.Ledger()),
			After:   mapLedgerCounts(item.After.Ledger()),
		}
		if item.Err != nil {
			entry.Error = item.Err.Error()
			entry.ErrorCode = string(domainerrors.KindOf(item.Err))
		}
		response.Laws = append(response.Laws, entry)
	}
	return response, nil
}

func (h Handler) ListLawsHandler(ctx context.Context, sessionID string) (httptransport.LawListResponse, error) {
	laws, err := h.Queries.ListSessionLaws(ctx, sessionID)
	if err != nil {
		return httptransport.LawListResponse{}, err
	}
	return httptransport.LawListResponse{
		SessionID: sessionID,
		Items:     mapLaws(laws),
	}, nil
}

func (h Handler) AddLawHandler(
	ctx context.Context,
	sessionID string,
	req httptransport.CreateLawRequest,
) (httptransport.LawResponse, error) {
	law, err := h.Sessions.AddLaw(ctx, commands.AddLawCommand{
		SessionID:   sessionID,
		Title:       req.Title,
		Description: req.Description,
		Category:    entities.NormalizeLawCategory(req.Category),
	})
	if err != nil {
		return httptransport.LawResponse{}, err
	}
	return mapLaw(law), nil
}

func (h Handler) UpdateLawHandler(
	ctx context.Context,
	sessionID string,
	lawID string,
	req httptransport.UpdateLawRequest,
) (httptransport.LawResponse, error) {
	patch := entities.LawPatch{
		Title:       req.Title,
		Description: req.Description,
	}
	if req.Category != nil {
		category := entities.NormalizeLawCategory(*req.Category)
		patch.Category = &category
	}
	law, err := h.Sessions.UpdateLaw(ctx, sessionID, lawID, patch)
	if err != nil {
		return httptransport.LawResponse{}, err
	}
	return mapLaw(law), nil
}

func (h Handler) RemoveLawHandler(ctx context.Context, sessionID string, lawID string) error {
	return h.Sessions.RemoveLaw(ctx, sessionID, lawID)
}

func (h Handler) CastVoteHandler(
	ctx context.Context,
	sessionID string,
	lawID string,
	voterID string,
	req httptransport.CastVoteRequest,
) (httptransport.CastVoteResponse, error) {
	value, ok := entities.ParseVoteValue(req.Value)
	if !ok {
		return httptransport.CastVoteResponse{}, fmt.Errorf("%w: %q", domainerrors.ErrInvalidVoteValue, req.Value)
	}
	result, err := h.Votes.CastVote(ctx, commands.CastVoteCommand{
		SessionID: sessionID,
		LawID:     lawID,
		VoterID:   voterID,
		Value:     value,
	})
	if err != nil {
		return httptransport.CastVoteResponse{}, err
	}
	return httptransport.CastVoteResponse{
		LawID:     result.LawID,
		Tally:     mapCounts(result.Tally.Counts),
		WasUpdate: result.WasUpdate,
		TxRef:     result.TxRef,
	}, nil
}

func (h Handler) LawResultsHandler(ctx context.Context, sessionID string, lawID string) (httptransport.LawResultsResponse, error) {
	results, err := h.Queries.LawResults(ctx, sessionID, lawID)
	if err != nil {
		return httptransport.LawResultsResponse{}, err
	}
	response := httptransport.LawResultsResponse{
		LawID:          results.Law.ID,
		State:          string(results.Law.State),
		Local:          mapCounts(results.Local),
		ApprovalPct:    results.ApprovalPct,
		RejectionPct:   results.RejectionPct,
		AbstentionPct:  results.AbstentionPct,
		RegisteredPool: results.RegisteredPool,
		Participation:  results.Participation,
		QuorumReached:  results.QuorumReached,
		Approved:       results.Approved,
		Consistent:     results.Consistent,
	}
	if results.Ledger != nil {
		remote := mapLedgerCounts(*results.Ledger)
		response.Ledger = &remote
	}
	if results.LedgerErr != nil {
		response.LedgerError = results.LedgerErr.Error()
	}
	return response, nil
}

func (h Handler) MyVoteHandler(
	ctx context.Context,
	sessionID string,
	lawID string,
	voterID string,
) (httptransport.BallotResponse, error) {
	ballot, err := h.Queries.VoterBallot(ctx, sessionID, lawID, voterID)
	if err != nil {
		return httptransport.BallotResponse{}, err
	}
	return mapBallot(ballot), nil
}

func (h Handler) MyVotesHandler(ctx context.Context, sessionID string, voterID string) (httptransport.BallotListResponse, error) {
	ballots, err := h.Queries.VoterBallots(ctx, sessionID, voterID)
	if err != nil {
		return httptransport.BallotListResponse{}, err
	}
	response := httptransport.BallotListResponse{
		SessionID: sessionID,
		VoterID:   voterID,
		Items:     make([]httptransport.BallotResponse, 0, len(ballots)),
	}
	for _, ballot := range ballots {
		response.Items = append(response.Items, mapBallot(ballot))
	}
	return response, nil
}

func (h Handler) RegisterVoterHandler(ctx context.Context, voterID string) (httptransport.VoterRegistrationResponse, error) {
	result, err := h.Reconciliation.RegisterVoter(ctx, voterID)
	if err != nil {
		return httptransport.VoterRegistrationResponse{}, err
	}
	return mapRegistration(result), nil
}

func (h Handler) UnregisterVoterHandler(ctx context.Context, voterID string) (httptransport.VoterRegistrationResponse, error) {
	result, err := h.Reconciliation.UnregisterVoter(ctx, voterID)
	if err != nil {
		return httptransport.VoterRegistrationResponse{}, err
	}
	return mapRegistration(result), nil
}

func (h Handler) VerifyVoterSyncHandler(ctx context.Context, voterID string) (httptransport.VoterSyncResponse, error) {
	report, err := h.Reconciliation.VerifyVoterSync(ctx, voterID)
	if err != nil {
		return httptransport.VoterSyncResponse{}, err
	}
	return mapVoterSync(report), nil
}

func (h Handler) SyncVotersHandler(ctx context.Context) (httptransport.VoterSyncBatchResponse, error) {
	batch, err := h.Reconciliation.SyncVoters(ctx)
	if err != nil {
		return httptransport.VoterSyncBatchResponse{}, err
	}
	response := httptransport.VoterSyncBatchResponse{
		Outcome:   string(batch.Outcome),
		Corrected: batch.Corrected,
		Items:     make([]httptransport.VoterSyncResponse, 0, len(batch.Voters)),
	}
	for _, report := range batch.Voters {
		response.Items = append(response.Items, mapVoterSync(report))
	}
	return response, nil
}

func (h Handler) LedgerStatusHandler(ctx context.Context) httptransport.LedgerStatusResponse {
	report := h.Reconciliation.LedgerStatus(ctx)
	response := httptransport.LedgerStatusResponse{
		Connected:   report.Status.Connected,
		BlockHeight: report.Status.BlockHeight,
		NetworkID:   report.Status.NetworkID,
		Account:     report.Status.Account,
	}
	if report.Cause != nil {
		response.Cause = report.Cause.Error()
	}
	return response
}

func parseSessionDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if date, err := time.Parse(time.DateOnly, raw); err == nil {
		return date.UTC(), nil
	}
	date, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD or RFC 3339", domainerrors.ErrInvalidSessionInput)
	}
	return date.UTC(), nil
}

func mapSession(session entities.Session, laws []entities.Law) httptransport.SessionResponse {
	lawIDs := session.LawIDs
	if lawIDs == nil {
		lawIDs = []string{}
	}
	response := httptransport.SessionResponse{
		SessionID:       session.ID,
		Title:           session.Title,
		Description:     session.Description,
		Date:            session.Date,
		State:           string(session.State),
		IsOnLedger:      session.IsOnLedger,
		LedgerSessionID: session.LedgerSessionID,
		TxRef:           session.TxRef,
		Quorum:          session.Quorum,
		VotingType:      string(session.VotingType),
		LawIDs:          lawIDs,
		CreatedAt:       session.CreatedAt,
		StartedAt:       session.StartedAt,
		EndedAt:         session.EndedAt,
	}
	if laws != nil {
		response.Laws = mapLaws(laws)
	}
	return response
}

func mapLaws(laws []entities.Law) []httptransport.LawResponse {
	items := make([]httptransport.LawResponse, 0, len(laws))
	for _, law := range laws {
		items = append(items, mapLaw(law))
	}
	return items
}

func mapLaw(law entities.Law) httptransport.LawResponse {
	return httptransport.LawResponse{
		LawID:       law.ID,
		SessionID:   law.SessionID,
		Position:    law.Position,
		Title:       law.Title,
		Description: law.Description,
		Category:    string(law.Category),
		State:       string(law.State),
		IsOnLedger:  law.IsOnLedger,
		LedgerLawID: law.LedgerLawID,
		TxRef:       law.TxRef,
		Tally:       mapCounts(law.Tally.Counts),
		VoteCount:   len(law.Tally.Records),
		CreatedAt:   law.CreatedAt,
		VotingAt:    law.VotingAt,
		ApprovedAt:  law.ApprovedAt,
	}
}

func mapCounts(counts entities.TallyCounts) httptransport.TallyResponse {
	return httptransport.TallyResponse{
		Favor:        counts.Favor,
		Against:      counts.Against,
		Abstain:      counts.Abstain,
		Present:      counts.Present,
		Absent:       counts.Absent,
		TotalCounted: counts.TotalCounted(),
	}
}

func mapLedgerCounts(counts entities.LedgerCounts) httptransport.LedgerTallyResponse {
	return httptransport.LedgerTallyResponse{
		Favor:   counts.Favor,
		Against: counts.Against,
		Abstain: counts.Abstain,
		Absent:  counts.Absent,
	}
}

func mapActivation(result commands.ActivationResult) httptransport.ActivationResponse {
	response := httptransport.ActivationResponse{
		Outcome: string(result.Outcome),
		Session: mapSession(result.Session, nil),
		Laws:    make([]httptransport.LawRegistrationItem, 0, len(result.Laws)),
	}
	for _, item := range result.Laws {
		entry := httptransport.LawRegistrationItem{
			LawID:       item.LawID,
			Registered:  item.Registered,
			LedgerLawID: item.LedgerLawID,
			TxRef:       item.TxRef,
		}
		if item.Err != nil {
			entry.Error = item.Err.Error()
			entry.ErrorCode = string(domainerrors.KindOf(item.Err))
		}
		response.Laws = append(response.Laws, entry)
	}
	return response
}

func mapBallot(ballot queries.Ballot) httptransport.BallotResponse {
	response := httptransport.BallotResponse{
		LawID:      ballot.LawID,
		LawTitle:   ballot.LawTitle,
		VotingOpen: ballot.VotingOpen,
	}
	if ballot.Vote != nil {
		castAt := ballot.Vote.CastAt
		response.Voted = true
		response.Value = string(ballot.Vote.Value)
		response.CastAt = &castAt
		response.TxRef = ballot.Vote.TxRef
	}
	return response
}

func mapRegistration(result reconciliation.VoterRegistrationResult) httptransport.VoterRegistrationResponse {
	return httptransport.VoterRegistrationResponse{
		VoterID:      result.Voter.ID,
		Address:      result.Voter.Address,
		IsRegistered: result.Voter.IsRegistered,
		TxRef:        result.TxRef,
	}
}

func mapVoterSync(report reconciliation.VoterSyncReport) httptransport.VoterSyncResponse {
	response := httptransport.VoterSyncResponse{
		VoterID:   report.VoterID,
		Address:   report.Address,
		Local:     report.Local,
		Ledger:    report.Ledger,
		State:     string(report.State),
		Corrected: report.Corrected,
	}
	if report.Cause != nil {
		response.Cause = report.Cause.Error()
	}
	return response
}
