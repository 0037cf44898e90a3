package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	votingledger "legisledger/contexts/legislature/voting-ledger"
	ledgeradapter "legisledger/contexts/legislature/voting-ledger/adapters/ledger"
	"legisledger/contexts/legislature/voting-ledger/adapters/memory"
	postgresadapter "legisledger/contexts/legislature/voting-ledger/adapters/postgres"
	workerapp "legisledger/contexts/legislature/voting-ledger/application/workers"
	"legisledger/contexts/legislature/voting-ledger/ports"
	"legisledger/internal/platform/config"
	"legisledger/internal/platform/db"
	"legisledger/internal/platform/httpserver"
	"legisledger/internal/platform/messaging"
	"legisledger/internal/platform/metrics"
	"legisledger/internal/platform/tracing"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

// components holds what the API and worker processes share.
type components struct {
	cfg      config.Config
	database *db.Database
	repo     *postgresadapter.Repository
	module   votingledger.Module
	registry *prometheus.Registry
	shutdown func(context.Context) error
	logger   *slog.Logger
}

type APIApp struct {
	rt     *components
	server *httpserver.Server
	worker *WorkerApp
}

type WorkerApp struct {
	rt             *components
	bus            *messaging.Bus
	outboxRelay    workerapp.OutboxRelay
	voteConsumer   workerapp.VoteCastConsumer
	scheduler      workerapp.ReconciliationScheduler
	reconcile      bool
	pollInterval   time.Duration
	reconcileEvery time.Duration
	logger         *slog.Logger
}

func buildComponents(ctx context.Context, cfg config.Config, logger *slog.Logger) (*components, error) {
	rt := &components{cfg: cfg, logger: logger}

	if cfg.TracingEnabled {
		shutdown, err := tracing.Setup(ctx, cfg.ServiceName, cfg.TracingExporter)
		if err != nil {
			return nil, err
		}
		rt.shutdown = shutdown
	}

	var err error
	opts := db.Options{Tracing: cfg.TracingEnabled}
	switch cfg.Database {
	case config.DatabaseSQLite:
		rt.database, err = db.OpenSQLite(cfg.SQLitePath, opts)
	default:
		rt.database, err = db.Connect(cfg.PostgresDSN, opts)
	}
	if err != nil {
		_ = rt.close()
		return nil, err
	}
	if err := rt.database.Migrate(postgresadapter.Models()...); err != nil {
		_ = rt.close()
		return nil, err
	}
	rt.repo = postgresadapter.NewRepository(rt.database.DB, logger)

	rt.registry = metrics.NewRegistry()
	ledgerMetrics := ledgeradapter.NewMetrics(rt.registry)

	var (
		client  ports.LedgerClient
		signers ports.SignerResolver
	)
	switch cfg.Ledger {
	case config.LedgerGateway:
		gateway, err := ledgeradapter.NewGateway(ledgeradapter.GatewayConfig{
			BaseURL:      cfg.LedgerGatewayURL,
			RetryMax:     cfg.LedgerRetryMax,
			RetryWaitMin: cfg.LedgerRetryWaitMin,
			RetryWaitMax: cfg.LedgerRetryWaitMax,
			Logger:       logger,
		})
		if err != nil {
			_ = rt.close()
			return nil, err
		}
		client, signers = gateway, gateway
	default:
		keyring := ledgeradapter.NewKeyring()
		for address, secret := range cfg.SigningKeys {
			keyring.Add(address, []byte(secret))
		}
		client = ledgeradapter.NewSimulated(cfg.LedgerNetworkID, "")
		signers = keyring
		logger.Warn("using simulated ledger",
			"event", "bootstrap_simulated_ledger",
			"module", "internal/app/bootstrap",
			"layer", "platform",
			"signing_keys", len(cfg.SigningKeys),
		)
	}

	rt.module = votingledger.NewModule(votingledger.Dependencies{
		Sessions:    rt.repo,
		Laws:        rt.repo,
		Voters:      rt.repo,
		Ledger:      ledgeradapter.NewInstrumented(client, ledgerMetrics, cfg.LedgerCallTimeout),
		Signers:     signers,
		Locks:       memory.NewLawLocks(),
		Outbox:      rt.repo,
		Clock:       postgresadapter.SystemClock{},
		IDGen:       postgresadapter.UUIDGenerator{},
		Observer:    ledgerMetrics,
		Concurrency: cfg.ReconcileConcurrency,
		Logger:      logger,
	})
	return rt, nil
}

func (rt *components) close() error {
	var errs []error
	if rt.database != nil {
		errs = append(errs, rt.database.Close())
	}
	if rt.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, rt.shutdown(ctx))
	}
	return errors.Join(errs...)
}

// BuildAPI wires the HTTP process. With embeddedWorker the outbox relay and
// reconciliation loops run in the same process, which is required for the
// simulated ledger and in-memory SQLite to be shared.
func BuildAPI(ctx context.Context, cfg config.Config, logger *slog.Logger, embeddedWorker bool) (*APIApp, error) {
	logger = logger.With("service", cfg.ServiceName, "process", "api")
	rt, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var metricsHandler = metrics.Handler(rt.registry)
	if !cfg.MetricsEnabled {
		metricsHandler = nil
	}
	app := &APIApp{
		rt:     rt,
		server: httpserver.New(rt.module, metricsHandler, logger, cfg.Addr()),
	}
	if embeddedWorker {
		app.worker = newWorker(rt, logger)
	}
	return app, nil
}

func BuildWorker(ctx context.Context, cfg config.Config, logger *slog.Logger) (*WorkerApp, error) {
	logger = logger.With("service", cfg.ServiceName, "process", "worker")
	rt, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return newWorker(rt, logger), nil
}

func newWorker(rt *components, logger *slog.Logger) *WorkerApp {
	cfg := rt.cfg
	bus := messaging.NewBus(cfg.KafkaBrokers, logger)
	return &WorkerApp{
		rt:  rt,
		bus: bus,
		outboxRelay: workerapp.OutboxRelay{
			Outbox:    rt.repo,
			Publisher: bus,
			Clock:     postgresadapter.SystemClock{},
			BatchSize: cfg.OutboxBatchSize,
			Logger:    logger,
		},
		voteConsumer: workerapp.VoteCastConsumer{
			Subscriber:    bus,
			Dedup:         rt.repo,
			Syncer:        rt.module.Reconciliation,
			Clock:         postgresadapter.SystemClock{},
			ConsumerGroup: "voting-ledger-vote-cast-cg",
			DedupTTL:      7 * 24 * time.Hour,
			Disabled:      !cfg.EnableVoteCastConsumer,
			Logger:        logger,
		},
		scheduler: workerapp.ReconciliationScheduler{
			Sessions:   rt.repo,
			Engine:     rt.module.Reconciliation,
			SyncVoters: cfg.EnableVoterSync,
			Logger:     logger,
		},
		reconcile:      cfg.EnableReconciliation,
		pollInterval:   cfg.WorkerPollInterval,
		reconcileEvery: cfg.ReconcileInterval,
		logger:         logger,
	}
}

func (a *APIApp) Run(ctx context.Context) error {
	a.rt.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"embedded_worker", a.worker != nil,
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(a.server.Start)
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	if a.worker != nil {
		group.Go(func() error { return a.worker.Run(ctx) })
	}
	return group.Wait()
}

func (a *APIApp) Close() error {
	if a.worker != nil {
		_ = a.worker.bus.Close()
	}
	return a.rt.close()
}

// Run drives the outbox relay on the poll interval and the reconciliation
// scheduler on its own interval until ctx is done.
func (w *WorkerApp) Run(ctx context.Context) error {
	if err := w.voteConsumer.Start(ctx); err != nil {
		return err
	}

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
		"reconcile_interval", w.reconcileEvery.String(),
		"reconcile_enabled", w.reconcile,
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return loop(ctx, w.pollInterval, w.outboxRelay.RunOnce)
	})
	if w.reconcile {
		group.Go(func() error {
			return loop(ctx, w.reconcileEvery, w.scheduler.RunOnce)
		})
	}
	return group.Wait()
}

func (w *WorkerApp) Close() error {
	_ = w.bus.Close()
	return w.rt.close()
}

// loop runs fn immediately and then on every tick. A failed cycle is logged by
// fn itself and retried on the next tick; only cancellation ends the loop.
func loop(ctx context.Context, every time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := fn(ctx); err != nil && ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Describe is a one-line summary of the wiring used in startup logs.
func Describe(cfg config.Config) string {
	return fmt.Sprintf("database=%s ledger=%s tracing=%t metrics=%t", cfg.Database, cfg.Ledger, cfg.TracingEnabled, cfg.MetricsEnabled)
}
