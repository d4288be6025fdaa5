// Package transport delivers coordinator events to connections. The hub is
// an in-process fan-out with socket.io-style rooms; framing to the outside
// world (SSE, websockets) sits on top of the per-connection channels.
package transport

import (
	"log/slog"
	"sync"

	"tabletop-session-service/internal/coordinator"
)

const connBuffer = 64

// Hub tracks connections, their event channels and room membership. It
// implements coordinator.Emitter. Events to a connection whose buffer is
// full are dropped rather than blocking the command path.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]chan coordinator.Event
	rooms  map[string]map[string]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]chan coordinator.Event),
		rooms:  make(map[string]map[string]struct{}),
		logger: logger,
	}
}

// Register creates the event channel for a connection. The caller owns
// draining it until Unregister.
func (h *Hub) Register(connID string) <-chan coordinator.Event {
	ch := make(chan coordinator.Event, connBuffer)
	h.mu.Lock()
	h.conns[connID] = ch
	h.mu.Unlock()
	return ch
}

// Unregister drops the connection from every room and closes its channel.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	ch, ok := h.conns[connID]
	delete(h.conns, connID)
	for room, members := range h.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (h *Hub) JoinRoom(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[connID] = struct{}{}
}

func (h *Hub) LeaveRoom(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) ToConnection(connID string, ev coordinator.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if ch, ok := h.conns[connID]; ok {
		h.send(connID, ch, ev)
	}
}

func (h *Hub) ToRoom(room string, ev coordinator.Event) {
	h.fanOut(room, "", ev)
}

func (h *Hub) ToRoomExcept(room, exceptConnID string, ev coordinator.Event) {
	h.fanOut(room, exceptConnID, ev)
}

func (h *Hub) fanOut(room, exceptConnID string, ev coordinator.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID := range h.rooms[room] {
		if connID == exceptConnID {
			continue
		}
		if ch, ok := h.conns[connID]; ok {
			h.send(connID, ch, ev)
		}
	}
}

// send must run under h.mu so a racing Unregister cannot close the channel
// mid-write. It never blocks, so holding the read lock is safe.
func (h *Hub) send(connID string, ch chan coordinator.Event, ev coordinator.Event) {
	select {
	case ch <- ev:
	default:
		h.logger.Warn("dropping event for slow connection",
			"conn_id", connID, "event", string(ev.Type))
	}
}
