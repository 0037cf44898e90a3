package ledgeradapter

import (
	"context"
	"time"

	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	"legisledger/contexts/legislature/voting-ledger/ports"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "legisledger/ledger"

// Instrumented decorates a LedgerClient with a per-call deadline, a span per call
// and prometheus call metrics.
type Instrumented struct {
	next    ports.LedgerClient
	metrics *Metrics
	tracer  trace.Tracer
	timeout time.Duration
}

func NewInstrumented(next ports.LedgerClient, metrics *Metrics, timeout time.Duration) *Instrumented {
	return &Instrumented{
		next:    next,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
		timeout: timeout,
	}
}

func (i *Instrumented) call(ctx context.Context, op string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}
	ctx, span := i.tracer.Start(ctx, "ledger."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if i.metrics != nil {
		i.metrics.observeCall(op, time.Since(start).Seconds(), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (i *Instrumented) RegisterSession(ctx context.Context, date time.Time, description string) (ports.LedgerRegistration, error) {
	var out ports.LedgerRegistration
	err := i.call(ctx, "register_session", func(ctx context.Context) error {
		var err error
		out, err = i.next.RegisterSession(ctx, date, description)
		return err
	})
	return out, err
}

func (i *Instrumented) RegisterLaw(ctx context.Context, ledgerSessionID uint64, title string, description string) (ports.LedgerRegistration, error) {
	var out ports.LedgerRegistration
	err := i.call(ctx, "register_law", func(ctx context.Context) error {
		var err error
		out, err = i.next.RegisterLaw(ctx, ledgerSessionID, title, description)
		return err
	}, attribute.Int64("ledger.session_id", int64(ledgerSessionID)))
	return out, err
}

func (i *Instrumented) FinalizeSession(ctx context.Context, ledgerSessionID uint64) (string, error) {
	var out string
	err := i.call(ctx, "finalize_session", func(ctx context.Context) error {
		var err error
		out, err = i.next.FinalizeSession(ctx, ledgerSessionID)
		return err
	}, attribute.Int64("ledger.session_id", int64(ledgerSessionID)))
	return out, err
}

func (i *Instrumented) CastVote(
	ctx context.Context,
	ledgerSessionID uint64,
	ledgerLawID uint64,
	encodedVote uint8,
	signer ports.Signer,
) (string, error) {
	var out string
	err := i.call(ctx, "cast_vote", func(ctx context.Context) error {
		var err error
		out, err = i.next.CastVote(ctx, ledgerSessionID, ledgerLawID, encodedVote, signer)
		return err
	},
		attribute.Int64("ledger.session_id", int64(ledgerSessionID)),
		attribute.Int64("ledger.law_id", int64(ledgerLawID)),
	)
	return out, err
}

func (i *Instrumented) FetchTally(ctx context.Context, ledgerSessionID uint64, ledgerLawID uint64) (entities.LedgerCounts, error) {
	var out entities.LedgerCounts
	err := i.call(ctx, "fetch_tally", func(ctx context.Context) error {
		var err error
		out, err = i.next.FetchTally(ctx, ledgerSessionID, ledgerLawID)
		return err
	},
		attribute.Int64("ledger.session_id", int64(ledgerSessionID)),
		attribute.Int64("ledger.law_id", int64(ledgerLawID)),
	)
	return out, err
}

func (i *Instrumented) IsVoterRegistered(ctx context.Context, address string) (bool, error) {
	var out bool
	err := i.call(ctx, "is_voter_registered", func(ctx context.Context) error {
		var err error
		out, err = i.next.IsVoterRegistered(ctx, address)
		return err
	})
	return out, err
}

func (i *Instrumented) RegisterVoter(ctx context.Context, address string) (string, error) {
	var out string
	err := i.call(ctx, "register_voter", func(ctx context.Context) error {
		var err error
		out, err = i.next.RegisterVoter(ctx, address)
		return err
	})
	return out, err
}

func (i *Instrumented) UnregisterVoter(ctx context.Context, address string) (string, error) {
	var out string
	err := i.call(ctx, "unregister_voter", func(ctx context.Context) error {
		var err error
		out, err = i.next.UnregisterVoter(ctx, address)
		return err
	})
	return out, err
}

func (i *Instrumented) Status(ctx context.Context) (ports.LedgerStatus, error) {
	var out ports.LedgerStatus
	err := i.call(ctx, "status", func(ctx context.Context) error {
		var err error
		out, err = i.next.Status(ctx)
		return err
	})
	return out, err
}

var _ ports.LedgerClient = (*Instrumented)(nil)
