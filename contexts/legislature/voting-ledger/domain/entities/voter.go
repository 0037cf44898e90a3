package entities

import "time"

// Voter is a legislator known locally. IsRegistered mirrors ledger membership and
// only changes through explicit registration or a voter sync.
type Voter struct {
	ID           string
	Name         string
	Address      string
	IsRegistered bool
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
