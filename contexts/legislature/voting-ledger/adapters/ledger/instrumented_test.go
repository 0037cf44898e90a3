package ledgeradapter

import (
	"context"
	"errors"
	"testing"
	"time"

	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
	"legisledger/contexts/legislature/voting-ledger/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentedRecordsCalls(t *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	ledger := NewSimulated("", "")
	client := NewInstrumented(ledger, metrics, time.Second)

	session, err := client.RegisterSession(ctx, time.Now(), "plenary")
	require.NoError(t, err)
	_, err = client.RegisterLaw(ctx, session.LedgerID, "Act", "desc")
	require.NoError(t, err)

	ledger.FailOn("fetch_tally", errors.New("timeout"))
	_, err = client.FetchTally(ctx, session.LedgerID, 1)
	require.ErrorIs(t, err, domainerrors.ErrLedger)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues("register_session", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues("register_law", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues("fetch_tally", "error")))
	assert.Equal(t, 3, testutil.CollectAndCount(metrics.callDuration))
}

func TestInstrumentedAppliesDeadline(t *testing.T) {
	client := NewInstrumented(deadlineStatus{}, nil, 50*time.Millisecond)
	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Connected)
}

func TestMetricsSyncOutcomes(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.LawSynced(true)
	metrics.LawSynced(false)
	metrics.LawSynced(false)
	metrics.LawSyncFailed()
	metrics.VoterCorrected()

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.lawSyncs.WithLabelValues("updated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.lawSyncs.WithLabelValues("unchanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.lawSyncs.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.votersCorrected))
}

type deadlineStatus struct {
	*Simulated
}

func (deadlineStatus) Status(ctx context.Context) (ports.LedgerStatus, error) {
	if _, ok := ctx.Deadline(); !ok {
		return ports.LedgerStatus{}, errors.New("call has no deadline")
	}
	return ports.LedgerStatus{Connected: true}, nil
}
