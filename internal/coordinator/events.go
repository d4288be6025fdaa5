package coordinator

import "tabletop-session-service/internal/domain"

// EventType names an outbound event on the wire.
type EventType string

const (
	EventSessionJoined   EventType = "session-joined"
	EventSessionUpdate   EventType = "session-update"
	EventPlayerJoined    EventType = "player-joined"
	EventPlayerLeft      EventType = "player-left"
	EventChatMessage     EventType = "chat-message"
	EventDiceRolled      EventType = "dice-rolled"
	EventPermsUpdated    EventType = "permissions-updated"
	EventTempPermGranted EventType = "temp-permission-granted"
	EventTempPermRevoked EventType = "temp-permission-revoked"
	EventCharCreated     EventType = "character-created"
	EventCharUpdated     EventType = "character-updated"
	EventError           EventType = "error"
)

// Event is one outbound message to a connection or a room.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// Emitter is the delivery contract the transport fulfils. Rooms hold the
// connections currently joined to one session; the coordinator manages
// membership as players join and leave.
type Emitter interface {
	JoinRoom(connID, room string)
	LeaveRoom(connID, room string)
	ToConnection(connID string, ev Event)
	ToRoom(room string, ev Event)
	ToRoomExcept(room, exceptConnID string, ev Event)
}

// Error codes carried on sender-directed error events.
const (
	CodeNotFound  = "not_found"
	CodeForbidden = "forbidden"
	CodeInvalid   = "invalid"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SessionJoinedPayload struct {
	Session     domain.Session       `json:"session"`
	Permissions domain.PermissionSet `json:"permissions"`
}

type PlayerPayload struct {
	UserID   string      `json:"userId"`
	Username string      `json:"username"`
	Role     domain.Role `json:"role,omitempty"`
}

type TempGrantPayload struct {
	Permission string `json:"permission"`
	ExpiresIn  int    `json:"expiresIn"`
}

type CharacterUpdatedPayload struct {
	CharacterID string                 `json:"characterId"`
	Updates     domain.CharacterUpdate `json:"updates"`
}
