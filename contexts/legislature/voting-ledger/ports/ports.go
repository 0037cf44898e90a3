package ports

import (
	"context"
	"time"

	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	"legisledger/internal/shared/events"
)

// Repository boundary. Every method fails with a NotFound or Storage kind.

type SessionRepository interface {
	CreateSession(ctx context.Context, session entities.Session) error
	LoadSession(ctx context.Context, sessionID string) (entities.Session, error)
	SaveSession(ctx context.Context, session entities.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessionsByState(ctx context.Context, state entities.SessionState) ([]entities.Session, error)
}

type LawRepository interface {
	CreateLaw(ctx context.Context, law entities.Law) error
	LoadLaw(ctx context.Context, lawID string) (entities.Law, error)
	// SaveLaw persists law when the stored version equals law.Version and returns the new version.
	SaveLaw(ctx context.Context, law entities.Law) (int64, error)
	DeleteLaw(ctx context.Context, lawID string) error
	ListLawsBySession(ctx context.Context, sessionID string) ([]entities.Law, error)
}

type VoterRepository interface {
	LoadVoter(ctx context.Context, voterID string) (entities.Voter, error)
	SaveVoter(ctx context.Context, voter entities.Voter) error
	ListVoters(ctx context.Context) ([]entities.Voter, error)
	CountRegisteredVoters(ctx context.Context) (int, error)
}

// LawLocker serializes vote casts and syncs on one law.
type LawLocker interface {
	LockLaw(ctx context.Context, lawID string) (unlock func(), err error)
}

type LedgerRegistration struct {
	LedgerID uint64
	TxRef    string
}

type LedgerStatus struct {
	Connected   bool
	BlockHeight uint64
	NetworkID   string
	Account     string
}

// LedgerClient is the capability contract of the authoritative ledger.
// Failures are reported as domain LedgerError values.
type LedgerClient interface {
	RegisterSession(ctx context.Context, date time.Time, description string) (LedgerRegistration, error)
	RegisterLaw(ctx context.Context, ledgerSessionID uint64, title string, description string) (LedgerRegistration, error)
	FinalizeSession(ctx context.Context, ledgerSessionID uint64) (string, error)
	CastVote(ctx context.Context, ledgerSessionID uint64, ledgerLawID uint64, encodedVote uint8, signer Signer) (string, error)
	FetchTally(ctx context.Context, ledgerSessionID uint64, ledgerLawID uint64) (entities.LedgerCounts, error)
	IsVoterRegistered(ctx context.Context, address string) (bool, error)
	RegisterVoter(ctx context.Context, address string) (string, error)
	UnregisterVoter(ctx context.Context, address string) (string, error)
	Status(ctx context.Context) (LedgerStatus, error)
}

// Signer is an opaque signing capability for one voter. Implementations never expose
// key material.
type Signer interface {
	Address() string
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

type SignerResolver interface {
	ResolveSigner(ctx context.Context, voter entities.Voter) (Signer, error)
}

type EventEnvelope = events.Envelope

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	Attempts     int
	CreatedAt    time.Time
}

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
	MarkOutboxFailed(ctx context.Context, outboxID string, lastError string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error)
	ReleaseEvent(ctx context.Context, eventID string) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
