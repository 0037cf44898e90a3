package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
	"legisledger/contexts/legislature/voting-ledger/ports"
	"legisledger/internal/shared/outbox"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message ports.OutboxMessage
	seq     int
	status  string
	lastErr string
}

type dedupRecord struct {
	payloadHash string
	expiresAt   time.Time
}

// Store is the in-memory implementation of every repository port of the module.
type Store struct {
	mu sync.RWMutex

	sessions   map[string]entities.Session
	laws       map[string]entities.Law
	voters     map[string]entities.Voter
	outbox     map[string]outboxRecord
	outboxSeq  int
	eventDedup map[string]dedupRecord

	clock func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions:   make(map[string]entities.Session),
		laws:       make(map[string]entities.Law),
		voters:     make(map[string]entities.Voter),
		outbox:     make(map[string]outboxRecord),
		eventDedup: make(map[string]dedupRecord),
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source returned by Now.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *Store) CreateSession(_ context.Context, session entities.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return domainerrors.ErrConflict
	}
	session.LawIDs = nil
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) LoadSession(_ context.Context, sessionID string) (entities.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return entities.Session{}, domainerrors.ErrSessionNotFound
	}
	laws := s.lawsBySessionLocked(session.ID)
	session.LawIDs = make([]string, 0, len(laws))
	for _, law := range laws {
		session.LawIDs = append(session.LawIDs, law.ID)
	}
	return session, nil
}

func (s *Store) SaveSession(_ context.Context, session entities.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return domainerrors.ErrSessionNotFound
	}
	session.LawIDs = nil
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return domainerrors.ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *Store) ListSessionsByState(_ context.Context, state entities.SessionState) ([]entities.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Session, 0)
	for _, session := range s.sessions {
		if session.State == state {
			items = append(items, session)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *Store) CreateLaw(_ context.Context, law entities.Law) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[law.SessionID]; !ok {
		return domainerrors.ErrSessionNotFound
	}
	if _, ok := s.laws[law.ID]; ok {
		return domainerrors.ErrConflict
	}
	law.Tally = law.Tally.Clone()
	law.Version = 1
	s.laws[law.ID] = law
	return nil
}

func (s *Store) LoadLaw(_ context.Context, lawID string) (entities.Law, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	law, ok := s.laws[strings.TrimSpace(lawID)]
	if !ok {
		return entities.Law{}, domainerrors.ErrLawNotFound
	}
	law.Tally = law.Tally.Clone()
	return law, nil
}

func (s *Store) SaveLaw(_ context.Context, law entities.Law) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.laws[law.ID]
	if !ok {
		return 0, domainerrors.ErrLawNotFound
	}
	if current.Version != law.Version {
		return 0, domainerrors.ErrStaleVersion
	}
	law.Tally = law.Tally.Clone()
	law.Version = current.Version + 1
	s.laws[law.ID] = law
	return law.Version, nil
}

func (s *Store) DeleteLaw(_ context.Context, lawID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.laws[lawID]; !ok {
		return domainerrors.ErrLawNotFound
	}
	delete(s.laws, lawID)
	return nil
}

func (s *Store) ListLawsBySession(_ context.Context, sessionID string) ([]entities.Law, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lawsBySessionLocked(strings.TrimSpace(sessionID)), nil
}

func (s *Store) lawsBySessionLocked(sessionID string) []entities.Law {
	items := make([]entities.Law, 0)
	for _, law := range s.laws {
		if law.SessionID == sessionID {
			law.Tally = law.Tally.Clone()
			items = append(items, law)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Position == items[j].Position {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].Position < items[j].Position
	})
	return items
}

func (s *Store) LoadVoter(_ context.Context, voterID string) (entities.Voter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	voter, ok := s.voters[strings.TrimSpace(voterID)]
	if !ok {
		return entities.Voter{}, domainerrors.ErrVoterNotFound
	}
	return voter, nil
}

// SaveVoter upserts a voter.
func (s *Store) SaveVoter(_ context.Context, voter entities.Voter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	voter.ID = strings.TrimSpace(voter.ID)
	if voter.ID == "" {
		return domainerrors.ErrValidation
	}
	s.voters[voter.ID] = voter
	return nil
}

func (s *Store) ListVoters(_ context.Context) ([]entities.Voter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Voter, 0, len(s.voters))
	for _, voter := range s.voters {
		items = append(items, voter)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *Store) CountRegisteredVoters(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, voter := range s.voters {
		if voter.IsRegistered && voter.Active {
			count++
		}
	}
	return count, nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, ok := s.outbox[outboxID]; ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return domainerrors.ErrIdempotencyConflict
		}
		return nil
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = s.clock()
	}
	s.outboxSeq++
	s.outbox[outboxID] = outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			CreatedAt:    createdAt,
		},
		seq:    s.outboxSeq,
		status: outbox.StatusPending,
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows := make([]outboxRecord, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.status == outbox.StatusPending {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].seq < rows[j].seq
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.message)
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrNotFound
	}
	row.status = outbox.StatusPublished
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

// MarkOutboxFailed counts a failed attempt and parks the row after outbox.MaxAttempts.
func (s *Store) MarkOutboxFailed(_ context.Context, outboxID string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrNotFound
	}
	row.message.Attempts++
	row.lastErr = lastError
	if row.message.Attempts >= outbox.MaxAttempts {
		row.status = outbox.StatusFailed
	}
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

// OutboxEvents returns every appended envelope in append order.
func (s *Store) OutboxEvents() []ports.EventEnvelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]outboxRecord, 0, len(s.outbox))
	for _, row := range s.outbox {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].seq < rows[j].seq
	})
	items := make([]ports.EventEnvelope, 0, len(rows))
	for _, row := range rows {
		var envelope ports.EventEnvelope
		if err := json.Unmarshal(row.message.Payload, &envelope); err == nil {
			items = append(items, envelope)
		}
	}
	return items
}

func (s *Store) ReserveEvent(
	_ context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(eventID)
	existing, ok := s.eventDedup[key]
	if ok {
		if !existing.expiresAt.IsZero() && s.clock().After(existing.expiresAt.UTC()) {
			delete(s.eventDedup, key)
		} else {
			if existing.payloadHash != strings.TrimSpace(payloadHash) {
				return false, domainerrors.ErrIdempotencyConflict
			}
			return true, nil
		}
	}

	s.eventDedup[key] = dedupRecord{
		payloadHash: strings.TrimSpace(payloadHash),
		expiresAt:   expiresAt.UTC(),
	}
	return false, nil
}

func (s *Store) ReleaseEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.eventDedup, strings.TrimSpace(eventID))
	return nil
}

func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}
