// Package votingledger implements the voting ledger of the legislature context.
//
// The module owns the session and law lifecycle, vote casting against an external
// append-only ledger, and reconciliation of local tallies and voter registration
// flags with that ledger. Business rules live in the application and domain
// layers; storage, the ledger client, signing and messaging sit behind ports.
package votingledger
