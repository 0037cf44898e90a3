package entities

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
)

type SessionState string

const (
	SessionStateDraft     SessionState = "draft"
	SessionStateActive    SessionState = "active"
	SessionStateFinished  SessionState = "finished"
	SessionStateCancelled SessionState = "cancelled"
)

type VotingType string

const (
	VotingTypeSimple    VotingType = "simple"
	VotingTypeQualified VotingType = "qualified"
)

const (
	DefaultQuorum               = 50
	MaxSessionTitleLength       = 200
	MaxSessionDescriptionLength = 1000
)

type Session struct {
	ID              string
	Title           string
	Description     string
	Date            time.Time
	State           SessionState
	IsOnLedger      bool
	LedgerSessionID *uint64
	TxRef           string
	CreatedAt       time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	// LawIDs is filled by the repository in law position order.
	LawIDs     []string
	Quorum     int
	VotingType VotingType
}

// SessionPatch is the allow-listed set of mutable session fields.
type SessionPatch struct {
	Title       *string
	Description *string
	Date        *time.Time
	VotingType  *VotingType
	Quorum      *int
}

func ValidateSessionFields(title string, description string, date time.Time, votingType VotingType, quorum int) error {
	titleLen := utf8.RuneCountInString(strings.TrimSpace(title))
	if titleLen == 0 || titleLen > MaxSessionTitleLength {
		return fmt.Errorf("%w: title must be 1..%d characters", domainerrors.ErrInvalidSessionInput, MaxSessionTitleLength)
	}
	descLen := utf8.RuneCountInString(strings.TrimSpace(description))
	if descLen == 0 || descLen > MaxSessionDescriptionLength {
		return fmt.Errorf("%w: description must be 1..%d characters", domainerrors.ErrInvalidSessionInput, MaxSessionDescriptionLength)
	}
	if date.IsZero() {
		return fmt.Errorf("%w: date is required", domainerrors.ErrInvalidSessionInput)
	}
	if votingType != VotingTypeSimple && votingType != VotingTypeQualified {
		return fmt.Errorf("%w: unknown voting type %q", domainerrors.ErrInvalidSessionInput, string(votingType))
	}
	if quorum < 1 || quorum > 100 {
		return fmt.Errorf("%w: quorum must be between 1 and 100", domainerrors.ErrInvalidSessionInput)
	}
	return nil
}

func (s Session) Terminal() bool {
	return s.State == SessionStateFinished || s.State == SessionStateCancelled
}

func (s Session) LedgerRef() (uint64, bool) {
	if !s.IsOnLedger || s.LedgerSessionID == nil {
		return 0, false
	}
	return *s.LedgerSessionID, true
}

// CheckActivatable returns InvalidState unless the session is a draft.
func (s Session) CheckActivatable() error {
	if s.State != SessionStateDraft {
		return fmt.Errorf("%w: session %s is %s", domainerrors.ErrSessionNotDraft, s.ID, s.State)
	}
	return nil
}

// Activate records the ledger registration and moves the draft to active.
func (s *Session) Activate(ledgerSessionID uint64, txRef string, at time.Time) error {
	if err := s.CheckActivatable(); err != nil {
		return err
	}
	id := ledgerSessionID
	startedAt := at
	s.State = SessionStateActive
	s.IsOnLedger = true
	s.LedgerSessionID = &id
	s.TxRef = txRef
	s.StartedAt = &startedAt
	return nil
}

func (s *Session) Finish(at time.Time) error {
	if s.State != SessionStateActive {
		return fmt.Errorf("%w: session %s is %s", domainerrors.ErrSessionNotActive, s.ID, s.State)
	}
	endedAt := at
	s.State = SessionStateFinished
	s.EndedAt = &endedAt
	return nil
}

func (s *Session) Cancel(at time.Time) error {
	if s.Terminal() {
		return fmt.Errorf("%w: session %s is %s", domainerrors.ErrSessionClosed, s.ID, s.State)
	}
	endedAt := at
	s.State = SessionStateCancelled
	s.EndedAt = &endedAt
	return nil
}

func (s Session) CheckAcceptsLaws() error {
	if s.Terminal() {
		return fmt.Errorf("%w: session %s is %s", domainerrors.ErrSessionClosed, s.ID, s.State)
	}
	return nil
}

func (s Session) CheckDeletable() error {
	if s.State != SessionStateDraft {
		return fmt.Errorf("%w: session %s is %s", domainerrors.ErrSessionNotDraft, s.ID, s.State)
	}
	return nil
}

// ApplyPatch sets allow-listed fields on a draft or active session.
func (s *Session) ApplyPatch(patch SessionPatch) error {
	if s.Terminal() {
		return fmt.Errorf("%w: session %s is %s", domainerrors.ErrSessionClosed, s.ID, s.State)
	}
	title, description, date := s.Title, s.Description, s.Date
	votingType, quorum := s.VotingType, s.Quorum
	if patch.Title != nil {
		title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		description = strings.TrimSpace(*patch.Description)
	}
	if patch.Date != nil {
		date = *patch.Date
	}
	if patch.VotingType != nil {
		votingType = *patch.VotingType
	}
	if patch.Quorum != nil {
		quorum = *patch.Quorum
	}
	if err := ValidateSessionFields(title, description, date, votingType, quorum); err != nil {
		return err
	}
	s.Title, s.Description, s.Date = title, description, date
	s.VotingType, s.Quorum = votingType, quorum
	return nil
}
