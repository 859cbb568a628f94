package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/moltkeeper/internal/apperr"
	"github.com/raaihank/moltkeeper/internal/ledger"
	"github.com/raaihank/moltkeeper/internal/session"
)

// RunLog answers ledger queries.
type RunLog interface {
	Recent(ctx context.Context, limit int) ([]ledger.Run, error)
	BySession(ctx context.Context, sessionID string) ([]ledger.Run, error)
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

type submitRequest struct {
	SessionID       string                 `json:"session_id"`
	ProposedChanges map[string]interface{} `json:"proposed_changes"`
}

type rehydrateRequest struct {
	SessionID string      `json:"session_id"`
	Payload   interface{} `json:"payload"`
}

type rehydrateResponse struct {
	SessionID string      `json:"session_id"`
	Payload   interface{} `json:"payload"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":              "moltkeeper",
		"version":           Version,
		"shuffling_enabled": s.config.Shuffling.Enabled,
		"vault_backend":     s.config.Vault.Backend,
		"rate_limit":        s.config.Server.RateLimit.Enabled,
		"ledger_enabled":    s.runs != nil,
		"websocket_enabled": s.wsHub != nil && s.config.WebSocket.Enabled,
	}
	if s.wsHub != nil {
		info["websocket_clients"] = s.wsHub.ClientCount()
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleReadSafeStructure(w http.ResponseWriter, r *http.Request) {
	var req session.ReadRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.service.ReadSafeStructure(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSubmitOptimization(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.service.SubmitOptimization(r.Context(), req.SessionID, req.ProposedChanges)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.service.ListPolicies()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(policies),
		"policies": policies,
	})
}

func (s *Server) handleGetVaultInfo(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.VaultInfo(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRehydrate(w http.ResponseWriter, r *http.Request) {
	var req rehydrateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Payload == nil {
		s.writeError(w, r, apperr.Missing("payload"))
		return
	}

	restored, err := s.service.RehydrateSession(r.Context(), req.SessionID, req.Payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rehydrateResponse{SessionID: req.SessionID, Payload: restored})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var (
		runs []ledger.Run
		err  error
	)
	if sessionID := query.Get("session_id"); sessionID != "" {
		runs, err = s.runs.BySession(r.Context(), sessionID)
	} else {
		limit := 0
		if raw := query.Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 0 {
				s.writeError(w, r, apperr.Invalid("limit", "must be a non-negative integer"))
				return
			}
		}
		runs, err = s.runs.Recent(r.Context(), limit)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(runs),
		"runs":  runs,
	})
}

// decode reads a JSON body bounded by the configured size limit. Numbers
// in untyped fields stay json.Number so payloads round-trip exactly.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if s.config.Server.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return apperr.Invalid("body", err.Error())
	}
	return nil
}

// statusFor maps error kinds to HTTP status codes
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrParse):
		return http.StatusUnprocessableEntity, "parse_error"
	case errors.Is(err, apperr.ErrCorruptVault):
		return http.StatusInternalServerError, "corrupt_vault"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	requestID := getRequestID(r.Context())

	message := err.Error()
	if kind == "internal" {
		message = "internal server error"
	}

	log := s.logger.WithRequestID(requestID)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", zap.String("path", r.URL.Path), zap.String("kind", kind), zap.Error(err))
	} else {
		log.Info("Request rejected", zap.String("path", r.URL.Path), zap.String("kind", kind), zap.Error(err))
	}

	writeJSON(w, status, errorResponse{Error: message, Kind: kind, RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
