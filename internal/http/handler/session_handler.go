package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tabletop-session-service/internal/http/middleware"
	"tabletop-session-service/internal/http/response"
	"tabletop-session-service/internal/observability"
	"tabletop-session-service/internal/registry"
)

// SessionHandler serves the read-only session projections and the
// master-only create endpoint.
type SessionHandler struct {
	store *registry.Store
}

func NewSessionHandler(store *registry.Store) *SessionHandler {
	return &SessionHandler{store: store}
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.store.List())
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ok := h.store.Get(id)
	if !ok {
		response.Error(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, session)
}

type createSessionRequest struct {
	Name       string `json:"name"`
	SystemType string `json:"systemType"`
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "malformed request body", nil)
		return
	}
	if req.Name == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "session name is required", nil)
		return
	}
	session := h.store.Create(req.Name, req.SystemType, identity.UserID)
	observability.Audit(r, "session_created", "session_id", session.ID, "master_id", identity.UserID)
	response.JSON(w, r, http.StatusCreated, session)
}
