package entities

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
)

// OutcomeOf classifies a batch where failed of total items did not complete.
func OutcomeOf(total int, failed int) Outcome {
	switch {
	case failed == 0:
		return OutcomeSucceeded
	case failed >= total:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

type SyncState string

const (
	SyncStateInSync    SyncState = "sync"
	SyncStateOutOfSync SyncState = "out-of-sync"
	SyncStateError     SyncState = "error"
)
