package postgresadapter

import (
	"strings"
	"time"

	"legisledger/contexts/legislature/voting-ledger/domain/entities"
)

type sessionModel struct {
	ID              string     `gorm:"column:id;primaryKey"`
	Title           string     `gorm:"column:title"`
	Description     string     `gorm:"column:description"`
	Date            time.Time  `gorm:"column:date"`
	State           string     `gorm:"column:state;index"`
	IsOnLedger      bool       `gorm:"column:is_on_ledger"`
	LedgerSessionID *int64     `gorm:"column:ledger_session_id"`
	TxRef           string     `gorm:"column:tx_ref"`
	Quorum          int        `gorm:"column:quorum"`
	VotingType      string     `gorm:"column:voting_type"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	StartedAt       *time.Time `gorm:"column:started_at"`
	EndedAt         *time.Time `gorm:"column:ended_at"`
}

func (sessionModel) TableName() string {
	return "legislative_sessions"
}

func sessionModelFromEntity(session entities.Session) sessionModel {
	row := sessionModel{
		ID:          strings.TrimSpace(session.ID),
		Title:       session.Title,
		Description: session.Description,
		Date:        session.Date.UTC(),
		State:       string(session.State),
		IsOnLedger:  session.IsOnLedger,
		TxRef:       session.TxRef,
		Quorum:      session.Quorum,
		VotingType:  string(session.VotingType),
		CreatedAt:   session.CreatedAt.UTC(),
		StartedAt:   normalizeOptionalTime(session.StartedAt),
		EndedAt:     normalizeOptionalTime(session.EndedAt),
	}
	if session.LedgerSessionID != nil {
		id := int64(*session.LedgerSessionID)
		row.LedgerSessionID = &id
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row
}

func (m sessionModel) toEntity(lawIDs []string) entities.Session {
	session := entities.Session{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Date:        m.Date.UTC(),
		State:       entities.SessionState(m.State),
		IsOnLedger:  m.IsOnLedger,
		TxRef:       m.TxRef,
		CreatedAt:   m.CreatedAt.UTC(),
		StartedAt:   normalizeOptionalTime(m.StartedAt),
		EndedAt:     normalizeOptionalTime(m.EndedAt),
		LawIDs:      lawIDs,
		Quorum:      m.Quorum,
		VotingType:  entities.VotingType(m.VotingType),
	}
	if m.LedgerSessionID != nil {
		id := uint64(*m.LedgerSessionID)
		session.LedgerSessionID = &id
	}
	return session
}

type lawModel struct {
	ID          string     `gorm:"column:id;primaryKey"`
	SessionID   string     `gorm:"column:session_id;index"`
	Position    int        `gorm:"column:position"`
	Title       string     `gorm:"column:title"`
	Description string     `gorm:"column:description"`
	Category    string     `gorm:"column:category"`
	State       string     `gorm:"column:state"`
	IsOnLedger  bool       `gorm:"column:is_on_ledger"`
	LedgerLawID *int64     `gorm:"column:ledger_law_id"`
	TxRef       string     `gorm:"column:tx_ref"`
	Favor       int        `gorm:"column:favor"`
	Against     int        `gorm:"column:against"`
	Abstain     int        `gorm:"column:abstain"`
	Present     int        `gorm:"column:present"`
	Absent      int        `gorm:"column:absent"`
	Version     int64      `gorm:"column:version"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	VotingAt    *time.Time `gorm:"column:voting_at"`
	ApprovedAt  *time.Time `gorm:"column:approved_at"`
}

func (lawModel) TableName() string {
	return "laws"
}

func lawModelFromEntity(law entities.Law) lawModel {
	row := lawModel{
		ID:          strings.TrimSpace(law.ID),
		SessionID:   strings.TrimSpace(law.SessionID),
		Position:    law.Position,
		Title:       law.Title,
		Description: law.Description,
		Category:    string(law.Category),
		State:       string(law.State),
		IsOnLedger:  law.IsOnLedger,
		TxRef:       law.TxRef,
		Favor:       law.Tally.Counts.Favor,
		Against:     law.Tally.Counts.Against,
		Abstain:     law.Tally.Counts.Abstain,
		Present:     law.Tally.Counts.Present,
		Absent:      law.Tally.Counts.Absent,
		Version:     law.Version,
		CreatedAt:   law.CreatedAt.UTC(),
		VotingAt:    normalizeOptionalTime(law.VotingAt),
		ApprovedAt:  normalizeOptionalTime(law.ApprovedAt),
	}
	if law.LedgerLawID != nil {
		id := int64(*law.LedgerLawID)
		row.LedgerLawID = &id
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row
}

func (m lawModel) toEntity(votes []lawVoteModel) entities.Law {
	law := entities.Law{
		ID:          m.ID,
		SessionID:   m.SessionID,
		Position:    m.Position,
		Title:       m.Title,
		Description: m.Description,
		Category:    entities.LawCategory(m.Category),
		State:       entities.LawState(m.State),
		IsOnLedger:  m.IsOnLedger,
		TxRef:       m.TxRef,
		Tally: entities.VoteTally{
			Counts: entities.TallyCounts{
				Favor:   m.Favor,
				Against: m.Against,
				Abstain: m.Abstain,
				Present: m.Present,
				Absent:  m.Absent,
			},
			Records: make([]entities.VoteRecord, 0, len(votes)),
		},
		CreatedAt:  m.CreatedAt.UTC(),
		VotingAt:   normalizeOptionalTime(m.VotingAt),
		ApprovedAt: normalizeOptionalTime(m.ApprovedAt),
		Version:    m.Version,
	}
	if m.LedgerLawID != nil {
		id := uint64(*m.LedgerLawID)
		law.LedgerLawID = &id
	}
	for _, vote := range votes {
		law.Tally.Records = append(law.Tally.Records, entities.VoteRecord{
			VoterID: vote.VoterID,
			Value:   entities.VoteValue(vote.Value),
			CastAt:  vote.CastAt.UTC(),
			TxRef:   vote.TxRef,
		})
	}
	return law
}

// lawVoteModel holds one voter's current vote on a law. Ordinal keeps first-cast order.
type lawVoteModel struct {
	LawID   string    `gorm:"column:law_id;primaryKey"`
	VoterID string    `gorm:"column:voter_id;primaryKey"`
	Ordinal int       `gorm:"column:ordinal"`
	Value   string    `gorm:"column:value"`
	CastAt  time.Time `gorm:"column:cast_at"`
	TxRef   string    `gorm:"column:tx_ref"`
}

func (lawVoteModel) TableName() string {
	return "law_votes"
}

func lawVoteModelsFromEntity(law entities.Law) []lawVoteModel {
	rows := make([]lawVoteModel, 0, len(law.Tally.Records))
	for i, record := range law.Tally.Records {
		rows = append(rows, lawVoteModel{
			LawID:   law.ID,
			VoterID: record.VoterID,
			Ordinal: i,
			Value:   string(record.Value),
			CastAt:  record.CastAt.UTC(),
			TxRef:   record.TxRef,
		})
	}
	return rows
}

type voterModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Name         string    `gorm:"column:name"`
	Address      string    `gorm:"column:address;index"`
	IsRegistered bool      `gorm:"column:is_registered"`
	Active       bool      `gorm:"column:active"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (voterModel) TableName() string {
	return "voters"
}

func voterModelFromEntity(voter entities.Voter) voterModel {
	row := voterModel{
		ID:           strings.TrimSpace(voter.ID),
		Name:         voter.Name,
		Address:      strings.TrimSpace(voter.Address),
		IsRegistered: voter.IsRegistered,
		Active:       voter.Active,
		CreatedAt:    voter.CreatedAt.UTC(),
		UpdatedAt:    voter.UpdatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}

func (m voterModel) toEntity() entities.Voter {
	return entities.Voter{
		ID:           m.ID,
		Name:         m.Name,
		Address:      m.Address,
		IsRegistered: m.IsRegistered,
		Active:       m.Active,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status;index"`
	Attempts     int        `gorm:"column:attempts"`
	LastError    string     `gorm:"column:last_error"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "voting_ledger_outbox"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "voting_ledger_event_dedup"
}

// Models lists every table owned by the repository, in migration order.
func Models() []any {
	return []any{
		&sessionModel{},
		&lawModel{},
		&lawVoteModel{},
		&voterModel{},
		&outboxModel{},
		&eventDedupModel{},
	}
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}
