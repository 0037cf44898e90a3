package ledgeradapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTxRef = "0x" + strings.Repeat("1f", 32)

func newTestGateway(t *testing.T, handler http.Handler) *Gateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	gateway, err := NewGateway(GatewayConfig{
		BaseURL:      server.URL + "/",
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return gateway
}

func writeTestJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestNewGatewayRejectsBadURL(t *testing.T) {
	_, err := NewGateway(GatewayConfig{BaseURL: "not a url"})
	require.Error(t, err)
	_, err = NewGateway(GatewayConfig{})
	require.Error(t, err)
}

func TestGatewayRegistersAndVotes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "plenary", body["description"])
		writeTestJSON(w, http.StatusOK, map[string]any{"ledger_id": 7, "tx_ref": testTxRef})
	})
	mux.HandleFunc("POST /v1/sessions/7/laws", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"ledger_id": 3, "tx_ref": testTxRef})
	})
	mux.HandleFunc("POST /v1/signatures", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, strings.HasPrefix(body["payload"], "0x"))
		writeTestJSON(w, http.StatusOK, map[string]any{"signature": "0xdeadbeef"})
	})
	mux.HandleFunc("POST /v1/sessions/7/laws/3/votes", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xdeadbeef", body["signature"])
		assert.EqualValues(t, 2, body["vote"])
		writeTestJSON(w, http.StatusOK, map[string]any{"tx_ref": testTxRef})
	})
	mux.HandleFunc("GET /v1/sessions/7/laws/3/tally", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"favor": 4, "against": 1, "abstain": 2, "absent": 0})
	})
	gateway := newTestGateway(t, mux)
	ctx := context.Background()

	session, err := gateway.RegisterSession(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "plenary")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), session.LedgerID)
	law, err := gateway.RegisterLaw(ctx, session.LedgerID, "Act", "desc")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), law.LedgerID)

	signer, err := gateway.ResolveSigner(ctx, entities.Voter{Address: fmt.Sprintf("0x%040x", 1)})
	require.NoError(t, err)
	txRef, err := gateway.CastVote(ctx, 7, 3, 2, signer)
	require.NoError(t, err)
	assert.Equal(t, testTxRef, txRef)

	counts, err := gateway.FetchTally(ctx, 7, 3)
	require.NoError(t, err)
	assert.Equal(t, entities.LedgerCounts{Favor: 4, Against: 1, Abstain: 2}, counts)
}

func TestGatewayVoterEndpoints(t *testing.T) {
	address := fmt.Sprintf("0x%040x", 2)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/voters/{address}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, address, r.PathValue("address"))
		writeTestJSON(w, http.StatusOK, map[string]any{"registered": true})
	})
	mux.HandleFunc("POST /v1/voters", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusConflict, map[string]any{"code": "already_member", "message": "voter already registered"})
	})
	mux.HandleFunc("DELETE /v1/voters/{address}", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"tx_ref": testTxRef})
	})
	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"block_height": 99, "network_id": "31337", "account": "0xfeed"})
	})
	gateway := newTestGateway(t, mux)
	ctx := context.Background()

	registered, err := gateway.IsVoterRegistered(ctx, address)
	require.NoError(t, err)
	assert.True(t, registered)

	_, err = gateway.RegisterVoter(ctx, address)
	require.ErrorIs(t, err, domainerrors.ErrLedger)
	assert.Contains(t, err.Error(), "already_member")

	txRef, err := gateway.UnregisterVoter(ctx, address)
	require.NoError(t, err)
	assert.Equal(t, testTxRef, txRef)

	status, err := gateway.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Equal(t, uint64(99), status.BlockHeight)
	assert.Equal(t, "31337", status.NetworkID)
}

func TestGatewayRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	gateway := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"tx_ref": testTxRef})
	}))

	txRef, err := gateway.FinalizeSession(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, testTxRef, txRef)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGatewayRetriedWriteKeepsIdempotencyKey(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	gateway := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		attempt := len(keys)
		mu.Unlock()
		if attempt == 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"ledger_id": attempt, "tx_ref": testTxRef})
	}))

	_, err := gateway.RegisterSession(context.Background(), time.Unix(0, 0), "first")
	require.NoError(t, err)
	registration, err := gateway.RegisterSession(context.Background(), time.Unix(0, 0), "second")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), registration.LedgerID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, keys, 3)
	assert.NotEmpty(t, keys[0])
	assert.NotEqual(t, keys[0], keys[1])
	assert.Equal(t, keys[1], keys[2])
}

func TestGatewayReadsCarryNoIdempotencyKey(t *testing.T) {
	gateway := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Idempotency-Key"))
		writeTestJSON(w, http.StatusOK, map[string]any{"block_height": 1, "network_id": "1"})
	}))

	_, err := gateway.Status(context.Background())
	require.NoError(t, err)
}

func TestGatewayMalformedReply(t *testing.T) {
	gateway := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"favor": "many"`))
	}))
	_, err := gateway.FetchTally(context.Background(), 1, 1)
	require.ErrorIs(t, err, domainerrors.ErrMalformedLedgerReply)
	require.ErrorIs(t, err, domainerrors.ErrLedger)
}

func TestGatewaySignerRejectsBadAddress(t *testing.T) {
	gateway := newTestGateway(t, http.NotFoundHandler())
	_, err := gateway.ResolveSigner(context.Background(), entities.Voter{Address: "0x12"})
	require.ErrorIs(t, err, domainerrors.ErrValidation)
}
