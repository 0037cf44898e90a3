package outbox

// Row statuses. Rows are written in the same save as the state they describe and
// moved to published by the relay.
const (
	StatusPending   = "pending"
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// MaxAttempts bounds publish retries before a row is parked as failed.
const MaxAttempts = 10
