package http

import "time"

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateSessionRequest accepts the date as YYYY-MM-DD or RFC 3339.
type CreateSessionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
	VotingType  string `json:"voting_type,omitempty"`
	Quorum      int    `json:"quorum,omitempty"`
}

// UpdateSessionRequest only carries allow-listed fields; any other key is ignored.
type UpdateSessionRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Date        *string `json:"date,omitempty"`
	VotingType  *string `json:"voting_type,omitempty"`
	Quorum      *int    `json:"quorum,omitempty"`
}

type SessionResponse struct {
	SessionID       string     `json:"session_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Date            time.Time  `json:"date"`
	State           string     `json:"state"`
	IsOnLedger      bool       `json:"is_on_ledger"`
	LedgerSessionID *uint64    `json:"ledger_session_id,omitempty"`
	TxRef           string     `json:"tx_ref,omitempty"`
	Quorum          int        `json:"quorum"`
	VotingType      string     `json:"voting_type"`
	LawIDs          []string   `json:"law_ids"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Laws            []LawResponse `json:"laws,omitempty"`
}

type CreateLawRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

type UpdateLawRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
}

type TallyResponse struct {
	Favor        int `json:"favor"`
	Against      int `json:"against"`
	Abstain      int `json:"abstain"`
	Present      int `json:"present"`
	Absent       int `json:"absent"`
	TotalCounted int `json:"total_counted"`
}

type LawResponse struct {
	LawID       string        `json:"law_id"`
	SessionID   string        `json:"session_id"`
	Position    int           `json:"position"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	State       string        `json:"state"`
	IsOnLedger  bool          `json:"is_on_ledger"`
	LedgerLawID *uint64       `json:"ledger_law_id,omitempty"`
	TxRef       string        `json:"tx_ref,omitempty"`
	Tally       TallyResponse `json:"tally"`
	VoteCount   int           `json:"vote_count"`
	CreatedAt   time.Time     `json:"created_at"`
	VotingAt    *time.Time    `json:"voting_at,omitempty"`
	ApprovedAt  *time.Time    `json:"approved_at,omitempty"`
}

type LawListResponse struct {
	SessionID string        `json:"session_id"`
	Items     []LawResponse `json:"items"`
}

type LawRegistrationItem struct {
	LawID       string `json:"law_id"`
	Registered  bool   `json:"registered"`
	LedgerLawID uint64 `json:"ledger_law_id,omitempty"`
	TxRef       string `json:"tx_ref,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
}

type ActivationResponse struct {
	Outcome string                `json:"outcome"`
	Session SessionResponse       `json:"session"`
	Laws    []LawRegistrationItem `json:"laws"`
}

type LawResolutionItem struct {
	LawID   string        `json:"law_id"`
	State   string        `json:"state"`
	Tally   TallyResponse `json:"tally"`
}

type FinishResponse struct {
	Outcome     string              `json:"outcome"`
	Session     SessionResponse     `json:"session"`
	Laws        []LawResolutionItem `json:"laws"`
	LedgerTxRef string              `json:"ledger_tx_ref,omitempty"`
	LedgerError string              `json:"ledger_error,omitempty"`
}

type CancelResponse struct {
	Session SessionResponse `json:"session"`
	LawIDs  []string        `json:"law_ids"`
}

type CastVoteRequest struct {
	Value string `json:"value"`
}

type CastVoteResponse struct {
	LawID     string        `json:"law_id"`
	Tally     TallyResponse `json:"tally"`
	WasUpdate bool          `json:"was_update"`
	TxRef     string        `json:"tx_ref"`
}

type LedgerTallyResponse struct {
	Favor   int `json:"favor"`
	Against int `json:"against"`
	Abstain int `json:"abstain"`
	Absent  int `json:"absent"`
}

type LawResultsResponse struct {
	LawID          string               `json:"law_id"`
	State          string               `json:"state"`
	Local          TallyResponse        `json:"local"`
	Ledger         *LedgerTallyResponse `json:"ledger,omitempty"`
	LedgerError    string               `json:"ledger_error,omitempty"`
	ApprovalPct    float64              `json:"approval_pct"`
	RejectionPct   float64              `json:"rejection_pct"`
	AbstentionPct  float64              `json:"abstention_pct"`
	RegisteredPool int                  `json:"registered_voters"`
	Participation  float64              `json:"participation_pct"`
	QuorumReached  bool                 `json:"quorum_reached"`
	Approved       bool                 `json:"approved"`
	Consistent     bool                 `json:"consistent"`
}

type BallotResponse struct {
	LawID      string     `json:"law_id"`
	LawTitle   string     `json:"law_title"`
	Voted      bool       `json:"voted"`
	Value      string     `json:"value,omitempty"`
	CastAt     *time.Time `json:"cast_at,omitempty"`
	TxRef      string     `json:"tx_ref,omitempty"`
	VotingOpen bool       `json:"voting_open"`
}

type BallotListResponse struct {
	SessionID string           `json:"session_id"`
	VoterID   string           `json:"voter_id"`
	Items     []BallotResponse `json:"items"`
}

type LawSyncItem struct {
	LawID     string             `json:"law_id"`
	Skipped   bool               `json:"skipped"`
	Updated   bool               `json:"updated"`
	Before    LedgerTallyResponse `json:"before"`
	After     LedgerTallyResponse `json:"after"`
	Error     string             `json:"error,omitempty"`
	ErrorCode string             `json:"error_code,omitempty"`
}

type SessionSyncResponse struct {
	SessionID string        `json:"session_id"`
	Outcome   string        `json:"outcome"`
	Updated   int           `json:"updated"`
	Laws      []LawSyncItem `json:"laws"`
}

type VoterRegistrationResponse struct {
	VoterID      string `json:"voter_id"`
	Address      string `json:"address"`
	IsRegistered bool   `json:"is_registered"`
	TxRef        string `json:"tx_ref"`
}

type VoterSyncResponse struct {
	VoterID   string `json:"voter_id"`
	Address   string `json:"address"`
	Local     bool   `json:"local"`
	Ledger    *bool  `json:"ledger,omitempty"`
	State     string `json:"state"`
	Cause     string `json:"cause,omitempty"`
	Corrected bool   `json:"corrected,omitempty"`
}

type VoterSyncBatchResponse struct {
	Outcome   string              `json:"outcome"`
	Corrected int                 `json:"corrected"`
	Items     []VoterSyncResponse `json:"items"`
}

type LedgerStatusResponse struct {
	Connected   bool   `json:"connected"`
	BlockHeight uint64 `json:"block_height"`
	NetworkID   string `json:"network_id,omitempty"`
	Account     string `json:"account,omitempty"`
	Cause       string `json:"cause,omitempty"`
}
