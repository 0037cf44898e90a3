package entities

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
)

type LawState string

const (
	LawStateDraft     LawState = "draft"
	LawStateVoting    LawState = "voting"
	LawStateApproved  LawState = "approved"
	LawStateRejected  LawState = "rejected"
	LawStateCancelled LawState = "cancelled"
)

type LawCategory string

const (
	LawCategoryEconomic      LawCategory = "economic"
	LawCategorySocial        LawCategory = "social"
	LawCategoryEducation     LawCategory = "education"
	LawCategoryHealth        LawCategory = "health"
	LawCategorySecurity      LawCategory = "security"
	LawCategoryEnvironmental LawCategory = "environmental"
	LawCategoryOther         LawCategory = "other"
)

const (
	MaxLawTitleLength       = 300
	MaxLawDescriptionLength = 2000
)

func (c LawCategory) Valid() bool {
	switch c {
	case LawCategoryEconomic, LawCategorySocial, LawCategoryEducation, LawCategoryHealth,
		LawCategorySecurity, LawCategoryEnvironmental, LawCategoryOther:
		return true
	default:
		return false
	}
}

type Law struct {
	ID          string
	SessionID   string
	Position    int
	Title       string
	Description string
	Category    LawCategory
	State       LawState
	IsOnLedger  bool
	LedgerLawID *uint64
	TxRef       string
	Tally       VoteTally
	CreatedAt   time.Time
	VotingAt    *time.Time
	ApprovedAt  *time.Time
	// Version is bumped by every successful save.
	Version int64
}

// LawPatch is the allow-listed set of mutable law fields.
type LawPatch struct {
	Title       *string
	Description *string
	Category    *LawCategory
}

func NormalizeLawCategory(raw string) LawCategory {
	category := LawCategory(strings.ToLower(strings.TrimSpace(raw)))
	if category == "" {
		return LawCategoryOther
	}
	return category
}

func ValidateLawFields(title string, description string, category LawCategory) error {
	titleLen := utf8.RuneCountInString(strings.TrimSpace(title))
	if titleLen == 0 || titleLen > MaxLawTitleLength {
		return fmt.Errorf("%w: title must be 1..%d characters", domainerrors.ErrInvalidLawInput, MaxLawTitleLength)
	}
	descLen := utf8.RuneCountInString(strings.TrimSpace(description))
	if descLen == 0 || descLen > MaxLawDescriptionLength {
		return fmt.Errorf("%w: description must be 1..%d characters", domainerrors.ErrInvalidLawInput, MaxLawDescriptionLength)
	}
	if !category.Valid() {
		return fmt.Errorf("%w: unknown category %q", domainerrors.ErrInvalidLawInput, string(category))
	}
	return nil
}

func (l Law) Terminal() bool {
	switch l.State {
	case LawStateApproved, LawStateRejected, LawStateCancelled:
		return true
	default:
		return false
	}
}

// LedgerRef returns the ledger law id when the law is registered.
func (l Law) LedgerRef() (uint64, bool) {
	if !l.IsOnLedger || l.LedgerLawID == nil {
		return 0, false
	}
	return *l.LedgerLawID, true
}

// OpenVoting records a successful ledger registration and moves a draft law to voting.
func (l *Law) OpenVoting(ledgerLawID uint64, txRef string, at time.Time) error {
	if l.State != LawStateDraft {
		return fmt.Errorf("%w: law %s is %s", domainerrors.ErrInvalidTransition, l.ID, l.State)
	}
	id := ledgerLawID
	votingAt := at
	l.IsOnLedger = true
	l.LedgerLawID = &id
	l.TxRef = txRef
	l.State = LawStateVoting
	l.VotingAt = &votingAt
	return nil
}

// Resolve freezes the law into approved or rejected from its current counters.
func (l *Law) Resolve(at time.Time) error {
	if l.Terminal() {
		return fmt.Errorf("%w: law %s is %s", domainerrors.ErrLawClosed, l.ID, l.State)
	}
	if l.Tally.Counts.Approves() {
		approvedAt := at
		l.State = LawStateApproved
		l.ApprovedAt = &approvedAt
		return nil
	}
	l.State = LawStateRejected
	return nil
}

// Cancel moves the law to cancelled regardless of its prior state.
func (l *Law) Cancel() {
	l.State = LawStateCancelled
}

// ApplyPatch sets allow-listed fields. The patch is validated against the merged result.
func (l *Law) ApplyPatch(patch LawPatch) error {
	if l.Terminal() {
		return fmt.Errorf("%w: law %s is %s", domainerrors.ErrLawClosed, l.ID, l.State)
	}
	title, description, category := l.Title, l.Description, l.Category
	if patch.Title != nil {
		title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		description = strings.TrimSpace(*patch.Description)
	}
	if patch.Category != nil {
		category = *patch.Category
	}
	if err := ValidateLawFields(title, description, category); err != nil {
		return err
	}
	l.Title, l.Description, l.Category = title, description, category
	return nil
}
