package ledgeradapter

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
	"legisledger/contexts/legislature/voting-ledger/ports"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// GatewayConfig configures the HTTP ledger gateway client.
type GatewayConfig struct {
	BaseURL      string
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       *slog.Logger
}

// Gateway talks to a ledger gateway service that owns the chain connection,
// signing keys and gas management. Transient failures are retried here; callers
// never retry ledger calls themselves. Every attempt of one write carries the
// same Idempotency-Key so the gateway submits the transaction at most once.
type Gateway struct {
	baseURL string
	client  *retryablehttp.Client
}

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("invalid ledger gateway url %q", cfg.BaseURL)
	}
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	client.Logger = nil
	if cfg.Logger != nil {
		client.Logger = cfg.Logger
	}
	return &Gateway{baseURL: base, client: client}, nil
}

const idempotencyKeyHeader = "Idempotency-Key"

type registrationResponse struct {
	LedgerID uint64 `json:"ledger_id"`
	TxRef    string `json:"tx_ref"`
}

type txResponse struct {
	TxRef string `json:"tx_ref"`
}

type tallyResponse struct {
	Favor   int `json:"favor"`
	Against int `json:"against"`
	Abstain int `json:"abstain"`
	Absent  int `json:"absent"`
}

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (g *Gateway) RegisterSession(ctx context.Context, date time.Time, description string) (ports.LedgerRegistration, error) {
	var resp registrationResponse
	err := g.do(ctx, "register_session", http.MethodPost, "/v1/sessions", map[string]any{
		"date":        date.UTC().Unix(),
		"description": description,
	}, &resp)
	if err != nil {
		return ports.LedgerRegistration{}, err
	}
	return ports.LedgerRegistration{LedgerID: resp.LedgerID, TxRef: resp.TxRef}, nil
}

func (g *Gateway) RegisterLaw(ctx context.Context, ledgerSessionID uint64, title string, description string) (ports.LedgerRegistration, error) {
	var resp registrationResponse
	path := fmt.Sprintf("/v1/sessions/%d/laws", ledgerSessionID)
	err := g.do(ctx, "register_law", http.MethodPost, path, map[string]any{
		"title":       title,
		"description": description,
	}, &resp)
	if err != nil {
		return ports.LedgerRegistration{}, err
	}
	return ports.LedgerRegistration{LedgerID: resp.LedgerID, TxRef: resp.TxRef}, nil
}

func (g *Gateway) FinalizeSession(ctx context.Context, ledgerSessionID uint64) (string, error) {
	var resp txResponse
	path := fmt.Sprintf("/v1/sessions/%d/finalize", ledgerSessionID)
	if err := g.do(ctx, "finalize_session", http.MethodPost, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.TxRef, nil
}

func (g *Gateway) CastVote(
	ctx context.Context,
	ledgerSessionID uint64,
	ledgerLawID uint64,
	encodedVote uint8,
	signer ports.Signer,
) (string, error) {
	if signer == nil {
		return "", domainerrors.Ledger("cast_vote", errSignatureRequired)
	}
	signature, err := signer.Sign(ctx, VotePayload(ledgerSessionID, ledgerLawID, encodedVote))
	if err != nil {
		return "", domainerrors.Ledger("cast_vote", err)
	}
	var resp txResponse
	path := fmt.Sprintf("/v1/sessions/%d/laws/%d/votes", ledgerSessionID, ledgerLawID)
	err = g.do(ctx, "cast_vote", http.MethodPost, path, map[string]any{
		"vote":      encodedVote,
		"voter":     signer.Address(),
		"signature": "0x" + hex.EncodeToString(signature),
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.TxRef, nil
}

func (g *Gateway) FetchTally(ctx context.Context, ledgerSessionID uint64, ledgerLawID uint64) (entities.LedgerCounts, error) {
	var resp tallyResponse
	path := fmt.Sprintf("/v1/sessions/%d/laws/%d/tally", ledgerSessionID, ledgerLawID)
	if err := g.do(ctx, "fetch_tally", http.MethodGet, path, nil, &resp); err != nil {
		return entities.LedgerCounts{}, err
	}
	return entities.LedgerCounts{
		Favor:   resp.Favor,
		Against: resp.Against,
		Abstain: resp.Abstain,
		Absent:  resp.Absent,
	}, nil
}

func (g *Gateway) IsVoterRegistered(ctx context.Context, address string) (bool, error) {
	var resp struct {
		Registered bool `json:"registered"`
	}
	path := "/v1/voters/" + url.PathEscape(address)
	if err := g.do(ctx, "is_voter_registered", http.MethodGet, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.Registered, nil
}

func (g *Gateway) RegisterVoter(ctx context.Context, address string) (string, error) {
	var resp txResponse
	if err := g.do(ctx, "register_voter", http.MethodPost, "/v1/voters", map[string]any{
		"address": address,
	}, &resp); err != nil {
		return "", err
	}
	return resp.TxRef, nil
}

func (g *Gateway) UnregisterVoter(ctx context.Context, address string) (string, error) {
	var resp txResponse
	path := "/v1/voters/" + url.PathEscape(address)
	if err := g.do(ctx, "unregister_voter", http.MethodDelete, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.TxRef, nil
}

func (g *Gateway) Status(ctx context.Context) (ports.LedgerStatus, error) {
	var resp struct {
		BlockHeight uint64 `json:"block_height"`
		NetworkID   string `json:"network_id"`
		Account     string `json:"account"`
	}
	if err := g.do(ctx, "status", http.MethodGet, "/v1/status", nil, &resp); err != nil {
		return ports.LedgerStatus{}, err
	}
	return ports.LedgerStatus{
		Connected:   true,
		BlockHeight: resp.BlockHeight,
		NetworkID:   resp.NetworkID,
		Account:     resp.Account,
	}, nil
}

// ResolveSigner returns a signer whose signatures are produced by the gateway
// keystore for the voter address.
func (g *Gateway) ResolveSigner(_ context.Context, voter entities.Voter) (ports.Signer, error) {
	if !entities.ValidAddress(voter.Address) {
		return nil, domainerrors.ErrInvalidVoterAddress
	}
	return gatewaySigner{gateway: g, address: voter.Address}, nil
}

type gatewaySigner struct {
	gateway *Gateway
	address string
}

func (s gatewaySigner) Address() string { return s.address }

func (s gatewaySigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	var resp struct {
		Signature string `json:"signature"`
	}
	if err := s.gateway.do(ctx, "sign", http.MethodPost, "/v1/signatures", map[string]any{
		"address": s.address,
		"payload": "0x" + hex.EncodeToString(payload),
	}, &resp); err != nil {
		return nil, err
	}
	signature, err := hex.DecodeString(strings.TrimPrefix(resp.Signature, "0x"))
	if err != nil {
		return nil, domainerrors.Ledger("sign", fmt.Errorf("%w: %v", domainerrors.ErrMalformedLedgerReply, err))
	}
	return signature, nil
}

func (g *Gateway) do(ctx context.Context, op string, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return domainerrors.Ledger(op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return domainerrors.Ledger(op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set(idempotencyKeyHeader, uuid.NewString())
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return domainerrors.Ledger(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domainerrors.Ledger(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var gwErr gatewayError
		if json.Unmarshal(raw, &gwErr) == nil && gwErr.Message != "" {
			return domainerrors.Ledger(op, fmt.Errorf("gateway status %d: %s: %s", resp.StatusCode, gwErr.Code, gwErr.Message))
		}
		return domainerrors.Ledger(op, fmt.Errorf("gateway status %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domainerrors.Ledger(op, fmt.Errorf("%w: %v", domainerrors.ErrMalformedLedgerReply, err))
	}
	return nil
}

var _ ports.LedgerClient = (*Gateway)(nil)
var _ ports.SignerResolver = (*Gateway)(nil)
