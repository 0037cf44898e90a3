package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	votingledger "legisledger/contexts/legislature/voting-ledger"
	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
	ledgerhttp "legisledger/contexts/legislature/voting-ledger/transport/http"
	_ "legisledger/internal/platform/httpserver/docs"

	httpSwagger "github.com/swaggo/http-swagger"
)

type Server struct {
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	addr    string
	ledger  votingledger.Module
	metrics http.Handler
}

// New builds the server. metrics may be nil, in which case /metrics is not served.
func New(
	ledger votingledger.Module,
	metrics http.Handler,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:     http.NewServeMux(),
		logger:  logger,
		addr:    addr,
		ledger:  ledger,
		metrics: metrics,
	}
	s.registerRoutes()
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}

	s.mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/v1/sessions/{session_id}", s.handleGetSession)
	s.mux.HandleFunc("PATCH /api/v1/sessions/{session_id}", s.handleUpdateSession)
	s.mux.HandleFunc("DELETE /api/v1/sessions/{session_id}", s.handleDeleteSession)
	s.mux.HandleFunc("POST /api/v1/sessions/{session_id}/activate", s.handleActivateSession)
	s.mux.HandleFunc("POST /api/v1/sessions/{session_id}/finish", s.handleFinishSession)
	s.mux.HandleFunc("POST /api/v1/sessions/{session_id}/cancel", s.handleCancelSession)
	s.mux.HandleFunc("POST /api/v1/sessions/{session_id}/retry-laws", s.handleRetryLaws)
	s.mux.HandleFunc("POST /api/v1/sessions/{session_id}/sync", s.handleSyncSession)

	s.mux.HandleFunc("GET /api/v1/sessions/{session_id}/my-votes", s.handleMyVotes)

	s.mux.HandleFunc("GET /api/v1/sessions/{session_id}/laws", s.handleListLaws)
	s.mux.HandleFunc("POST /api/v1/sessions/{session_id}/laws", s.handleAddLaw)
	s.mux.HandleFunc("PATCH /api/v1/sessions/{session_id}/laws/{law_id}", s.handleUpdateLaw)
	s.mux.HandleFunc("DELETE /api/v1/sessions/{session_id}/laws/{law_id}", s.handleRemoveLaw)
	s.mux.HandleFunc("POST /api/v1/sessions/{session_id}/laws/{law_id}/votes", s.handleCastVote)
	s.mux.HandleFunc("GET /api/v1/sessions/{session_id}/laws/{law_id}/results", s.handleLawResults)
	s.mux.HandleFunc("GET /api/v1/sessions/{session_id}/laws/{law_id}/my-vote", s.handleMyVote)

	s.mux.HandleFunc("POST /api/v1/voters/{voter_id}/registration", s.handleRegisterVoter)
	s.mux.HandleFunc("DELETE /api/v1/voters/{voter_id}/registration", s.handleUnregisterVoter)
	s.mux.HandleFunc("GET /api/v1/voters/{voter_id}/sync", s.handleVerifyVoterSync)
	s.mux.HandleFunc("POST /api/v1/voters/sync", s.handleSyncVoters)
	s.mux.HandleFunc("GET /api/v1/ledger/status", s.handleLedgerStatus)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req ledgerhttp.CreateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.ledger.Handler.CreateSessionHandler(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	includeLaws := false
	if raw := r.URL.Query().Get("include_laws"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_include_laws", "include_laws must be a boolean")
			return
		}
		includeLaws = parsed
	}
	resp, err := s.ledger.Handler.GetSessionHandler(r.Context(), r.PathValue("session_id"), includeLaws)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req ledgerhttp.UpdateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.ledger.Handler.UpdateSessionHandler(r.Context(), r.PathValue("session_id"), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Handler.DeleteSessionHandler(r.Context(), r.PathValue("session_id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivateSession(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.ActivateSessionHandler(r.Context(), r.PathValue("session_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFinishSession(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.FinishSessionHandler(r.Context(), r.PathValue("session_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.CancelSessionHandler(r.Context(), r.PathValue("session_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRetryLaws(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.RetryLawRegistrationHandler(r.Context(), r.PathValue("session_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSyncSession(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.SyncSessionHandler(r.Context(), r.PathValue("session_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListLaws(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.ListLawsHandler(r.Context(), r.PathValue("session_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddLaw(w http.ResponseWriter, r *http.Request) {
	var req ledgerhttp.CreateLawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.ledger.Handler.AddLawHandler(r.Context(), r.PathValue("session_id"), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleUpdateLaw(w http.ResponseWriter, r *http.Request) {
	var req ledgerhttp.UpdateLawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.ledger.Handler.UpdateLawHandler(r.Context(), r.PathValue("session_id"), r.PathValue("law_id"), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRemoveLaw(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Handler.RemoveLawHandler(r.Context(), r.PathValue("session_id"), r.PathValue("law_id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	voterID, ok := requireVoter(w, r)
	if !ok {
		return
	}
	var req ledgerhttp.CastVoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.ledger.Handler.CastVoteHandler(
		r.Context(),
		r.PathValue("session_id"),
		r.PathValue("law_id"),
		voterID,
		req,
	)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLawResults(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.LawResultsHandler(r.Context(), r.PathValue("session_id"), r.PathValue("law_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMyVote(w http.ResponseWriter, r *http.Request) {
	voterID, ok := requireVoter(w, r)
	if !ok {
		return
	}
	resp, err := s.ledger.Handler.MyVoteHandler(r.Context(), r.PathValue("session_id"), r.PathValue("law_id"), voterID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMyVotes(w http.ResponseWriter, r *http.Request) {
	voterID, ok := requireVoter(w, r)
	if !ok {
		return
	}
	resp, err := s.ledger.Handler.MyVotesHandler(r.Context(), r.PathValue("session_id"), voterID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegisterVoter(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.RegisterVoterHandler(r.Context(), r.PathValue("voter_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUnregisterVoter(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.UnregisterVoterHandler(r.Context(), r.PathValue("voter_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyVoterSync(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.VerifyVoterSyncHandler(r.Context(), r.PathValue("voter_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSyncVoters(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.SyncVotersHandler(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLedgerStatus(w http.ResponseWriter, r *http.Request) {
	resp := s.ledger.Handler.LedgerStatusHandler(r.Context())
	status := http.StatusOK
	if !resp.Connected {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// statusForKind maps the module error taxonomy onto HTTP statuses.
func statusForKind(kind domainerrors.Kind) int {
	switch kind {
	case domainerrors.KindValidation:
		return http.StatusBadRequest
	case domainerrors.KindNotFound:
		return http.StatusNotFound
	case domainerrors.KindInvalidState, domainerrors.KindConflict:
		return http.StatusConflict
	case domainerrors.KindPreconditionFailed:
		return http.StatusUnprocessableEntity
	case domainerrors.KindLedger:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domainerrors.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"event", "http_request_failed",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"method", r.Method,
			"path", r.URL.Path,
			"error_kind", string(kind),
			"error", err.Error(),
		)
	}
	if kind == domainerrors.KindUnknown || kind == domainerrors.KindStorage {
		writeError(w, status, "internal_error", "internal server error")
		return
	}
	writeError(w, status, string(kind), err.Error())
}

func requireVoter(w http.ResponseWriter, r *http.Request) (string, bool) {
	voterID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if voterID == "" {
		writeError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return "", false
	}
	return voterID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, ledgerhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
