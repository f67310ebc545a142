// ABOUTME: Admin HTTP API: pairing decisions, channel status, kill switch, queue
// ABOUTME: Thin JSON handlers behind JWT bearer auth; no rendering, no sessions

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/hearth-gateway/internal/auth"
	"github.com/2389/hearth-gateway/internal/channel"
	"github.com/2389/hearth-gateway/internal/logutil"
	"github.com/2389/hearth-gateway/internal/store"
)

// pairingAdmin is the slice of the pairing service the API needs.
type pairingAdmin interface {
	ListPending(ctx context.Context, limit, offset int) ([]*store.PairingRequest, error)
	ListApproved(ctx context.Context, limit, offset int) ([]*store.ApprovedContact, error)
	Approve(ctx context.Context, contactID, approvedBy, tier, notes string) (*store.ApprovedContact, error)
	Deny(ctx context.Context, contactID, deniedBy, reason string) (*store.DeniedContact, error)
	Revoke(ctx context.Context, contactID string) error
}

// channelAdmin is the slice of the channel manager the API needs.
type channelAdmin interface {
	Status(ctx context.Context) []channel.ChannelStatus
}

// controlStore is the slice of the store the API needs.
type controlStore interface {
	SetPause(ctx context.Context, contactID, reason string, ttl time.Duration) error
	ClearPause(ctx context.Context, contactID string) (bool, error)
	ListQueue(ctx context.Context, limit int) ([]*store.QueuedMessage, error)
}

// Server is the admin HTTP API.
type Server struct {
	pairing  pairingAdmin
	channels channelAdmin
	store    controlStore
	verifier auth.TokenVerifier
	logger   *slog.Logger
}

// NewServer creates an admin API server.
func NewServer(pairing pairingAdmin, channels channelAdmin, st controlStore, verifier auth.TokenVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pairing:  pairing,
		channels: channels,
		store:    st,
		verifier: verifier,
		logger:   logger.With("component", "httpapi"),
	}
}

// Handler returns the routed handler. /health is open; everything under
// /api requires a bearer token.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/pairing/pending", s.handleListPending)
	api.HandleFunc("GET /api/pairing/approved", s.handleListApproved)
	api.HandleFunc("POST /api/pairing/{id}/approve", s.handleApprove)
	api.HandleFunc("POST /api/pairing/{id}/deny", s.handleDeny)
	api.HandleFunc("DELETE /api/pairing/{id}", s.handleRevoke)
	api.HandleFunc("GET /api/channels", s.handleChannels)
	api.HandleFunc("POST /api/pause", s.handleSetPause)
	api.HandleFunc("DELETE /api/pause", s.handleClearPause)
	api.HandleFunc("GET /api/queue", s.handleQueue)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("/api/", auth.Middleware(s.verifier)(api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	pending, err := s.pairing.ListPending(r.Context(), limit, offset)
	if err != nil {
		s.internalError(w, "list pending", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func (s *Server) handleListApproved(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	approved, err := s.pairing.ListApproved(r.Context(), limit, offset)
	if err != nil {
		s.internalError(w, "list approved", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approved": approved})
}

type approveRequest struct {
	ApprovedBy string `json:"approvedBy"`
	Tier       string `json:"tier"`
	Notes      string `json:"notes"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	contactID := r.PathValue("id")
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ApprovedBy == "" {
		req.ApprovedBy = "admin-api"
	}

	approved, err := s.pairing.Approve(r.Context(), contactID, req.ApprovedBy, req.Tier, req.Notes)
	if err != nil {
		s.internalError(w, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, approved)
}

type denyRequest struct {
	DeniedBy string `json:"deniedBy"`
	Reason   string `json:"reason"`
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	contactID := r.PathValue("id")
	var req denyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DeniedBy == "" {
		req.DeniedBy = "admin-api"
	}

	denied, err := s.pairing.Deny(r.Context(), contactID, req.DeniedBy, req.Reason)
	if err != nil {
		s.internalError(w, "deny", err)
		return
	}
	writeJSON(w, http.StatusOK, denied)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	contactID := r.PathValue("id")
	err := s.pairing.Revoke(r.Context(), contactID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "contact not approved")
		return
	}
	if err != nil {
		s.internalError(w, "revoke", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"channels": s.channels.Status(r.Context())})
}

type pauseRequest struct {
	// ContactID defaults to the global kill switch when empty.
	ContactID string `json:"contactId"`
	Reason    string `json:"reason"`
	// TTLSeconds of 0 means indefinite.
	TTLSeconds int `json:"ttlSeconds"`
}

func (s *Server) handleSetPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ContactID == "" {
		req.ContactID = store.PauseAll
	}
	if req.Reason == "" {
		req.Reason = store.PauseReasonManual
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := s.store.SetPause(r.Context(), req.ContactID, req.Reason, ttl); err != nil {
		s.internalError(w, "set pause", err)
		return
	}
	s.logger.Info("pause set via admin api", "contact_id", logutil.MaskContactID(req.ContactID), "reason", req.Reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleClearPause(w http.ResponseWriter, r *http.Request) {
	contactID := r.URL.Query().Get("contactId")
	if contactID == "" {
		contactID = store.PauseAll
	}

	existed, err := s.store.ClearPause(r.Context(), contactID)
	if err != nil {
		s.internalError(w, "clear pause", err)
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "no pause set")
		return
	}
	s.logger.Info("pause cleared via admin api", "contact_id", logutil.MaskContactID(contactID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	limit, _ := pagination(r)
	msgs, err := s.store.ListQueue(r.Context(), limit)
	if err != nil {
		s.internalError(w, "list queue", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("admin api request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
