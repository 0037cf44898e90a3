package votingledger

import (
	"context"
	"log/slog"

	ledgeradapter "legisledger/contexts/legislature/voting-ledger/adapters/ledger"
	httpadapter "legisledger/contexts/legislature/voting-ledger/adapters/http"
	"legisledger/contexts/legislature/voting-ledger/adapters/memory"
	"legisledger/contexts/legislature/voting-ledger/application/commands"
	"legisledger/contexts/legislature/voting-ledger/application/queries"
	"legisledger/contexts/legislature/voting-ledger/application/reconciliation"
	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	"legisledger/contexts/legislature/voting-ledger/ports"
)

type Module struct {
	Handler        httpadapter.Handler
	Sessions       commands.SessionUseCase
	Votes          commands.VoteUseCase
	Reconciliation reconciliation.Engine
	Queries        queries.SessionQueries

	// Set by NewInMemoryModule only.
	Store   *memory.Store
	Ledger  *ledgeradapter.Simulated
	Keyring *ledgeradapter.Keyring
}

type Dependencies struct {
	Sessions    ports.SessionRepository
	Laws        ports.LawRepository
	Voters      ports.VoterRepository
	Ledger      ports.LedgerClient
	Signers     ports.SignerResolver
	Locks       ports.LawLocker
	Outbox      ports.OutboxWriter
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Observer    reconciliation.SyncObserver
	Concurrency int
	Logger      *slog.Logger
}

func NewModule(deps Dependencies) Module {
	sessionUseCase := commands.SessionUseCase{
		Sessions: deps.Sessions,
		Laws:     deps.Laws,
		Ledger:   deps.Ledger,
		Locks:    deps.Locks,
		Outbox:   deps.Outbox,
		Clock:    deps.Clock,
		IDGen:    deps.IDGen,
		Logger:   deps.Logger,
	}
	voteUseCase := commands.VoteUseCase{
		Sessions: deps.Sessions,
		Laws:     deps.Laws,
		Voters:   deps.Voters,
		Ledger:   deps.Ledger,
		Signers:  deps.Signers,
		Locks:    deps.Locks,
		Outbox:   deps.Outbox,
		Clock:    deps.Clock,
		IDGen:    deps.IDGen,
		Logger:   deps.Logger,
	}
	engine := reconciliation.Engine{
		Sessions:    deps.Sessions,
		Laws:        deps.Laws,
		Voters:      deps.Voters,
		Ledger:      deps.Ledger,
		Locks:       deps.Locks,
		Outbox:      deps.Outbox,
		Clock:       deps.Clock,
		IDGen:       deps.IDGen,
		Observer:    deps.Observer,
		Concurrency: deps.Concurrency,
		Logger:      deps.Logger,
	}
	sessionQueries := queries.SessionQueries{
		Sessions: deps.Sessions,
		Laws:     deps.Laws,
		Voters:   deps.Voters,
		Ledger:   deps.Ledger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Sessions:       sessionUseCase,
			Votes:          voteUseCase,
			Reconciliation: engine,
			Queries:        sessionQueries,
			Logger:         deps.Logger,
		},
		Sessions:       sessionUseCase,
		Votes:          voteUseCase,
		Reconciliation: engine,
		Queries:        sessionQueries,
	}
}

// NewInMemoryModule wires the module on the in-memory store and the simulated
// ledger. Seeded voters flagged as registered are made ledger members and get a
// development signing key derived from their id.
func NewInMemoryModule(seed []entities.Voter, logger *slog.Logger) Module {
	store := memory.NewStore()
	ledger := ledgeradapter.NewSimulated("simulated", "")
	keyring := ledgeradapter.NewKeyring()
	for _, voter := range seed {
		_ = store.SaveVoter(context.Background(), voter)
		keyring.Add(voter.Address, []byte(voter.ID))
		if voter.IsRegistered {
			ledger.SetMember(voter.Address, true)
		}
	}
	module := NewModule(Dependencies{
		Sessions: store,
		Laws:     store,
		Voters:   store,
		Ledger:   ledger,
		Signers:  keyring,
		Locks:    memory.NewLawLocks(),
		Outbox:   store,
		Clock:    store,
		IDGen:    store,
		Logger:   logger,
	})
	module.Store = store
	module.Ledger = ledger
	module.Keyring = keyring
	return module
}
