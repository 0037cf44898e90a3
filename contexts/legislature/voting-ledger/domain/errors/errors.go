package errors

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the module matches exactly one of these
// through errors.Is.
var (
	ErrInvalidState       = errors.New("invalid state")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrConflict           = errors.New("conflict")
	ErrLedger             = errors.New("ledger error")
	ErrNotFound           = errors.New("not found")
	ErrStorage            = errors.New("storage error")
	ErrValidation         = errors.New("validation error")
)

var (
	ErrSessionNotFound = fmt.Errorf("%w: session not found", ErrNotFound)
	ErrLawNotFound     = fmt.Errorf("%w: law not found", ErrNotFound)
	ErrVoterNotFound   = fmt.Errorf("%w: voter not found", ErrNotFound)

	ErrSessionNotDraft      = fmt.Errorf("%w: session is not in draft", ErrInvalidState)
	ErrSessionNotActive     = fmt.Errorf("%w: session is not active", ErrInvalidState)
	ErrSessionClosed        = fmt.Errorf("%w: session is finished or cancelled", ErrInvalidState)
	ErrLawNotVoting         = fmt.Errorf("%w: law is not open for voting", ErrInvalidState)
	ErrLawClosed            = fmt.Errorf("%w: law is in a terminal state", ErrInvalidState)
	ErrLawSessionMismatch   = fmt.Errorf("%w: law does not belong to session", ErrNotFound)
	ErrInvalidTransition    = fmt.Errorf("%w: transition not allowed", ErrInvalidState)
	ErrSessionWithoutLaws   = fmt.Errorf("%w: session has no laws", ErrPreconditionFailed)
	ErrSessionNotOnLedger   = fmt.Errorf("%w: session is not registered on the ledger", ErrPreconditionFailed)
	ErrVoterNotRegistered   = fmt.Errorf("%w: voter is not registered on the ledger", ErrPreconditionFailed)
	ErrVoterInactive        = fmt.Errorf("%w: voter is inactive", ErrPreconditionFailed)
	ErrSigningUnavailable   = fmt.Errorf("%w: signing material unavailable", ErrPreconditionFailed)
	ErrLawHasVotes          = fmt.Errorf("%w: law has recorded votes", ErrConflict)
	ErrVoterAlreadyMember   = fmt.Errorf("%w: voter already registered on the ledger", ErrConflict)
	ErrVoterNotMember       = fmt.Errorf("%w: voter not registered on the ledger", ErrConflict)
	ErrStaleVersion         = fmt.Errorf("%w: record was modified concurrently", ErrConflict)
	ErrIdempotencyConflict  = fmt.Errorf("%w: idempotency key conflict", ErrConflict)
	ErrInvalidVoteValue     = fmt.Errorf("%w: invalid vote value", ErrValidation)
	ErrInvalidTxRef         = fmt.Errorf("%w: transaction reference must be 0x followed by 64 hex characters", ErrValidation)
	ErrInvalidVoterAddress  = fmt.Errorf("%w: voter address must be 0x followed by 40 hex characters", ErrValidation)
	ErrInvalidSessionInput  = fmt.Errorf("%w: invalid session input", ErrValidation)
	ErrInvalidLawInput      = fmt.Errorf("%w: invalid law input", ErrValidation)
	ErrMalformedLedgerReply = fmt.Errorf("%w: malformed ledger response", ErrLedger)
)

// LedgerError wraps a failed LedgerClient call.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

func (e *LedgerError) Is(target error) bool { return target == ErrLedger }

// Ledger wraps err as a LedgerError unless it already is one.
func Ledger(op string, err error) error {
	if err == nil {
		return nil
	}
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) {
		return err
	}
	return &LedgerError{Op: op, Err: err}
}

// StorageError wraps a failed repository call that is not a domain outcome.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a StorageError unless it already carries a kind.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

type Kind string

const (
	KindUnknown            Kind = ""
	KindInvalidState       Kind = "invalid_state"
	KindPreconditionFailed Kind = "precondition_failed"
	KindConflict           Kind = "conflict"
	KindLedger             Kind = "ledger_error"
	KindNotFound           Kind = "not_found"
	KindStorage            Kind = "storage_error"
	KindValidation         Kind = "validation_error"
)

// KindOf classifies err into the module taxonomy.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrPreconditionFailed):
		return KindPreconditionFailed
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrLedger):
		return KindLedger
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindUnknown
	}
}
