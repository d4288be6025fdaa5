package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"tabletop-session-service/internal/coordinator"
	"tabletop-session-service/internal/domain"
	"tabletop-session-service/internal/http/middleware"
	"tabletop-session-service/internal/http/response"
	"tabletop-session-service/internal/transport"
)

// RealtimeHandler adapts the coordinator to HTTP: an SSE stream carries
// outbound events for one connection, and a command endpoint feeds inbound
// commands for that connection. Commands from the same connection are
// serialized; the coordinator orders everything else per session.
type RealtimeHandler struct {
	hub    *transport.Hub
	coord  *coordinator.Coordinator
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*connection
}

type connection struct {
	mu     sync.Mutex
	client *coordinator.Client
	closed bool
}

func NewRealtimeHandler(hub *transport.Hub, coord *coordinator.Coordinator, logger *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		hub:     hub,
		coord:   coord,
		logger:  logger,
		clients: make(map[string]*connection),
	}
}

// Stream establishes the event stream for one connection. The first SSE
// event carries the connection id the client must echo on command posts.
func (h *RealtimeHandler) Stream(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, r, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "response writer does not support streaming", nil)
		return
	}

	connID := fmt.Sprintf("conn_%s", uuid.NewString())
	events := h.hub.Register(connID)
	client := coordinator.NewClient(connID, identity.UserID, identity.Username, identity.Role)
	conn := &connection{client: client}

	h.mu.Lock()
	h.clients[connID] = conn
	h.mu.Unlock()

	defer func() {
		h.closeConnection(connID, conn)
		h.logger.Info("connection closed", "conn_id", connID, "user_id", identity.UserID)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, "connected", map[string]string{"connectionId": connID})
	flusher.Flush()
	h.logger.Info("connection established", "conn_id", connID, "user_id", identity.UserID)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			writeSSE(w, string(ev.Type), ev.Payload)
			flusher.Flush()
		}
	}
}

type commandRequest struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	SessionID string `json:"sessionId"`
}

type chatPayload struct {
	Message string `json:"message"`
}

type rollPayload struct {
	Notation   string            `json:"notation"`
	Reason     string            `json:"reason"`
	Visibility domain.Visibility `json:"visibility"`
}

type permissionsPayload struct {
	TargetUserID string          `json:"targetUserId"`
	Permissions  map[string]bool `json:"permissions"`
}

type tempGrantPayload struct {
	TargetUserID    string `json:"targetUserId"`
	Permission      string `json:"permission"`
	DurationSeconds int    `json:"durationSeconds"`
}

type updateCharacterPayload struct {
	CharacterID string                 `json:"characterId"`
	Updates     domain.CharacterUpdate `json:"updates"`
}

// Command dispatches one inbound command for an established connection.
// Results and errors arrive asynchronously on the connection's stream.
func (h *RealtimeHandler) Command(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	connID := r.Header.Get("X-Connection-Id")
	h.mu.RLock()
	conn, found := h.clients[connID]
	h.mu.RUnlock()
	if !found {
		response.Error(w, r, http.StatusNotFound, "CONNECTION_NOT_FOUND", "unknown connection id", nil)
		return
	}
	if conn.client.UserID != identity.UserID {
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "connection belongs to another user", nil)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "malformed request body", nil)
		return
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		response.Error(w, r, http.StatusNotFound, "CONNECTION_NOT_FOUND", "connection is closed", nil)
		return
	}
	if err := h.dispatch(conn.client, req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_COMMAND", err.Error(), nil)
		return
	}
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// closeConnection tears the connection down in command order: once the
// entry leaves the map no new command can find it, and holding conn.mu
// around Disconnect means a command already past lookup finishes before the
// implicit leave runs, so it cannot re-add the player afterwards.
func (h *RealtimeHandler) closeConnection(connID string, conn *connection) {
	h.mu.Lock()
	delete(h.clients, connID)
	h.mu.Unlock()

	conn.mu.Lock()
	conn.closed = true
	h.coord.Disconnect(conn.client)
	conn.mu.Unlock()

	h.hub.Unregister(connID)
}

func (h *RealtimeHandler) dispatch(client *coordinator.Client, req commandRequest) error {
	switch req.Command {
	case "join-session":
		var p joinPayload
		if err := unmarshal(req.Payload, &p); err != nil {
			return err
		}
		h.coord.Join(client, p.SessionID)
	case "leave-session":
		h.coord.Leave(client)
	case "chat-message":
		var p chatPayload
		if err := unmarshal(req.Payload, &p); err != nil {
			return err
		}
		h.coord.Chat(client, p.Message)
	case "roll-dice":
		var p rollPayload
		if err := unmarshal(req.Payload, &p); err != nil {
			return err
		}
		h.coord.RollDice(client, p.Notation, p.Reason, p.Visibility)
	case "update-permissions":
		var p permissionsPayload
		if err := unmarshal(req.Payload, &p); err != nil {
			return err
		}
		h.coord.UpdatePermissions(client, p.TargetUserID, p.Permissions)
	case "grant-temp-permission":
		var p tempGrantPayload
		if err := unmarshal(req.Payload, &p); err != nil {
			return err
		}
		h.coord.GrantTempPermission(client, p.TargetUserID, p.Permission, p.DurationSeconds)
	case "revoke-temp-permission":
		var p tempGrantPayload
		if err := unmarshal(req.Payload, &p); err != nil {
			return err
		}
		h.coord.RevokeTempPermission(client, p.TargetUserID, p.Permission)
	case "create-character":
		var p coordinator.CharacterInput
		if err := unmarshal(req.Payload, &p); err != nil {
			return err
		}
		h.coord.CreateCharacter(client, p)
	case "update-character":
		var p updateCharacterPayload
		if err := unmarshal(req.Payload, &p); err != nil {
			return err
		}
		h.coord.UpdateCharacter(client, p.CharacterID, p.Updates)
	default:
		return fmt.Errorf("unknown command %q", req.Command)
	}
	return nil
}

func unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing command payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("malformed command payload: %w", err)
	}
	return nil
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
