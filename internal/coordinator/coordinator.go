// Package coordinator is the real-time protocol core: it validates
// connection-scoped commands against the permission model, mutates the
// session registry, and fans the resulting events out to connected parties.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"tabletop-session-service/internal/dice"
	"tabletop-session-service/internal/domain"
	"tabletop-session-service/internal/observability"
	"tabletop-session-service/internal/registry"
)

// Coordinator applies commands atomically per session: a per-session mutex
// wraps mutation plus emission so broadcast order follows mutation order.
type Coordinator struct {
	store    *registry.Store
	emitter  Emitter
	logger   *slog.Logger
	now      func() time.Time
	maxGrant time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand

	locks sync.Map // sessionID -> *sync.Mutex
}

type Option func(*Coordinator)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithRand injects the dice randomness source.
func WithRand(rng *rand.Rand) Option {
	return func(c *Coordinator) { c.rng = rng }
}

// WithMaxGrantDuration caps temporary permission durations.
func WithMaxGrantDuration(d time.Duration) Option {
	return func(c *Coordinator) { c.maxGrant = d }
}

func New(store *registry.Store, emitter Emitter, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		emitter:  emitter,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		maxGrant: time.Hour,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Join attaches the connection to a session. The sender gets the session
// snapshot plus their effective permissions; the rest of the room is told a
// player joined. Joining while already attached is a no-op beyond the
// snapshot answer.
func (c *Coordinator) Join(client *Client, sessionID string) {
	if client.sessionID != "" && client.sessionID != sessionID {
		c.Leave(client)
	}
	if _, ok := c.store.Get(sessionID); !ok {
		c.fail(client, "join", CodeNotFound, "session not found")
		return
	}
	c.withSession(sessionID, func() {
		added := c.store.AddPlayer(sessionID, domain.Player{
			ConnectionID: client.ConnID,
			UserID:       client.UserID,
			Username:     client.Username,
			Role:         client.Role,
		})
		c.emitter.JoinRoom(client.ConnID, sessionID)
		client.sessionID = sessionID

		snap, _ := c.store.Get(sessionID)
		perms, _ := c.store.UserPermissions(sessionID, client.UserID)
		c.emitter.ToConnection(client.ConnID, Event{
			Type:    EventSessionJoined,
			Payload: SessionJoinedPayload{Session: snap, Permissions: perms},
		})
		if added {
			c.emitter.ToRoomExcept(sessionID, client.ConnID, Event{
				Type:    EventPlayerJoined,
				Payload: PlayerPayload{UserID: client.UserID, Username: client.Username, Role: client.Role},
			})
		}
	})
	observability.RecordCommand(context.Background(), "join", "success")
	c.logger.Info("player joined session", "session_id", sessionID, "user_id", client.UserID)
}

// Leave detaches the connection from its session. Idempotent: a second
// leave is a silent no-op with no duplicate broadcast.
func (c *Coordinator) Leave(client *Client) {
	sessionID := client.sessionID
	if sessionID == "" {
		return
	}
	c.withSession(sessionID, func() {
		c.store.RemovePlayer(sessionID, client.UserID)
		c.emitter.LeaveRoom(client.ConnID, sessionID)
		client.sessionID = ""
		c.emitter.ToRoom(sessionID, Event{
			Type:    EventPlayerLeft,
			Payload: PlayerPayload{UserID: client.UserID, Username: client.Username},
		})
	})
	observability.RecordCommand(context.Background(), "leave", "success")
	c.logger.Info("player left session", "session_id", sessionID, "user_id", client.UserID)
}

// Disconnect is the implicit leave on connection teardown.
func (c *Coordinator) Disconnect(client *Client) {
	c.Leave(client)
}

// Chat appends a message to the session chat log and broadcasts it.
func (c *Coordinator) Chat(client *Client, text string) {
	sessionID := client.sessionID
	if sessionID == "" {
		return
	}
	if text == "" {
		c.fail(client, "chat", CodeInvalid, "message must not be empty")
		return
	}
	c.withSession(sessionID, func() {
		if !c.store.HasPermission(sessionID, client.UserID, domain.CapChat) {
			c.fail(client, "chat", CodeForbidden, "no permission to send messages")
			return
		}
		msg := domain.ChatMessage{
			ID:         fmt.Sprintf("msg_%s", uuid.NewString()),
			SenderID:   client.UserID,
			SenderName: client.Username,
			Message:    text,
			Timestamp:  c.now(),
			Type:       "chat",
		}
		c.store.AddChatMessage(sessionID, msg)
		c.emitter.ToRoom(sessionID, Event{Type: EventChatMessage, Payload: msg})
		observability.RecordCommand(context.Background(), "chat", "success")
	})
}

// RollDice parses the notation, rolls, records the roll and routes the
// result: public rolls go to the whole room, gm-only rolls to the master's
// connection and the roller.
func (c *Coordinator) RollDice(client *Client, notation, reason string, visibility domain.Visibility) {
	sessionID := client.sessionID
	if sessionID == "" {
		return
	}
	if visibility == "" {
		visibility = domain.VisibilityPublic
	}
	if visibility != domain.VisibilityPublic && visibility != domain.VisibilityGMOnly {
		c.fail(client, "roll_dice", CodeInvalid, "unknown roll visibility")
		return
	}
	c.withSession(sessionID, func() {
		if !c.store.HasPermission(sessionID, client.UserID, domain.CapRollDice) {
			c.fail(client, "roll_dice", CodeForbidden, "no permission to roll dice")
			return
		}
		parsed, err := dice.Parse(notation)
		if err != nil {
			c.fail(client, "roll_dice", CodeInvalid, "invalid dice notation")
			return
		}
		c.rngMu.Lock()
		result := parsed.Roll(c.rng)
		c.rngMu.Unlock()

		roll := domain.DiceRoll{
			ID:         fmt.Sprintf("roll_%s", uuid.NewString()),
			Timestamp:  c.now(),
			RollerID:   client.UserID,
			RollerName: client.Username,
			Notation:   notation,
			Result:     result.Total,
			Rolls:      result.Rolls,
			Modifier:   parsed.Modifier,
			Reason:     reason,
			Visibility: visibility,
		}
		c.store.AddDiceRoll(sessionID, roll)

		ev := Event{Type: EventDiceRolled, Payload: roll}
		if visibility == domain.VisibilityPublic {
			c.emitter.ToRoom(sessionID, ev)
		} else {
			snap, _ := c.store.Get(sessionID)
			if masterConn, ok := snap.MasterConnection(); ok && masterConn != client.ConnID {
				c.emitter.ToConnection(masterConn, ev)
			}
			c.emitter.ToConnection(client.ConnID, ev)
		}
		observability.RecordCommand(context.Background(), "roll_dice", "success")
	})
}

// UpdatePermissions merges a partial permission set onto the target user's
// stored set. Master only.
func (c *Coordinator) UpdatePermissions(client *Client, targetUserID string, overrides map[string]bool) {
	sessionID := client.sessionID
	if sessionID == "" {
		return
	}
	c.withSession(sessionID, func() {
		snap, ok := c.store.Get(sessionID)
		if !ok || snap.MasterID != client.UserID {
			c.fail(client, "update_permissions", CodeForbidden, "only the session master can change permissions")
			return
		}
		if err := c.store.UpdatePermissions(sessionID, targetUserID, overrides); err != nil {
			c.fail(client, "update_permissions", CodeInvalid, err.Error())
			return
		}
		if target, attached := snap.FindPlayer(targetUserID); attached {
			perms, _ := c.store.UserPermissions(sessionID, targetUserID)
			c.emitter.ToConnection(target.ConnectionID, Event{Type: EventPermsUpdated, Payload: perms})
		}
		updated, _ := c.store.Get(sessionID)
		c.emitter.ToRoom(sessionID, Event{Type: EventSessionUpdate, Payload: updated})
		observability.RecordCommand(context.Background(), "update_permissions", "success")
	})
}

// GrantTempPermission inserts a time-boxed capability override for the
// target user. Master only; duration is clamped to the configured maximum.
func (c *Coordinator) GrantTempPermission(client *Client, targetUserID, capability string, durationSeconds int) {
	sessionID := client.sessionID
	if sessionID == "" {
		return
	}
	c.withSession(sessionID, func() {
		snap, ok := c.store.Get(sessionID)
		if !ok || snap.MasterID != client.UserID {
			c.fail(client, "grant_temp_permission", CodeForbidden, "only the session master can grant temporary permissions")
			return
		}
		parsed, err := domain.ParseCapability(capability)
		if err != nil {
			c.fail(client, "grant_temp_permission", CodeInvalid, err.Error())
			return
		}
		if durationSeconds <= 0 {
			c.fail(client, "grant_temp_permission", CodeInvalid, "duration must be positive")
			return
		}
		duration := time.Duration(durationSeconds) * time.Second
		if duration > c.maxGrant {
			duration = c.maxGrant
			durationSeconds = int(c.maxGrant / time.Second)
		}
		c.store.GrantTemporary(sessionID, targetUserID, parsed, duration)

		if target, attached := snap.FindPlayer(targetUserID); attached {
			perms, _ := c.store.UserPermissions(sessionID, targetUserID)
			c.emitter.ToConnection(target.ConnectionID, Event{Type: EventPermsUpdated, Payload: perms})
			c.emitter.ToConnection(target.ConnectionID, Event{
				Type:    EventTempPermGranted,
				Payload: TempGrantPayload{Permission: capability, ExpiresIn: durationSeconds},
			})
		}
		observability.RecordCommand(context.Background(), "grant_temp_permission", "success")
		c.logger.Info("temporary permission granted",
			"session_id", sessionID, "target", targetUserID,
			"permission", capability, "duration_seconds", durationSeconds)
	})
}

// RevokeTempPermission drops an unexpired grant early. Master only.
func (c *Coordinator) RevokeTempPermission(client *Client, targetUserID, capability string) {
	sessionID := client.sessionID
	if sessionID == "" {
		return
	}
	c.withSession(sessionID, func() {
		snap, ok := c.store.Get(sessionID)
		if !ok || snap.MasterID != client.UserID {
			c.fail(client, "revoke_temp_permission", CodeForbidden, "only the session master can revoke temporary permissions")
			return
		}
		parsed, err := domain.ParseCapability(capability)
		if err != nil {
			c.fail(client, "revoke_temp_permission", CodeInvalid, err.Error())
			return
		}
		c.store.RevokeTemporary(sessionID, targetUserID, parsed)
		if target, attached := snap.FindPlayer(targetUserID); attached {
			perms, _ := c.store.UserPermissions(sessionID, targetUserID)
			c.emitter.ToConnection(target.ConnectionID, Event{Type: EventPermsUpdated, Payload: perms})
			c.emitter.ToConnection(target.ConnectionID, Event{
				Type:    EventTempPermRevoked,
				Payload: TempGrantPayload{Permission: capability},
			})
		}
		observability.RecordCommand(context.Background(), "revoke_temp_permission", "success")
	})
}

// CharacterInput is the sender-supplied part of a new character.
type CharacterInput struct {
	Name       string         `json:"name"`
	Race       string         `json:"race"`
	Class      string         `json:"class"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// CreateCharacter appends a character owned by the sender.
func (c *Coordinator) CreateCharacter(client *Client, input CharacterInput) {
	sessionID := client.sessionID
	if sessionID == "" {
		return
	}
	if input.Name == "" {
		c.fail(client, "create_character", CodeInvalid, "character name is required")
		return
	}
	c.withSession(sessionID, func() {
		if !c.store.HasPermission(sessionID, client.UserID, domain.CapCreateCharacter) {
			c.fail(client, "create_character", CodeForbidden, "no permission to create characters")
			return
		}
		character := domain.Character{
			ID:         fmt.Sprintf("char_%s", uuid.NewString()),
			OwnerID:    client.UserID,
			Name:       input.Name,
			Race:       input.Race,
			Class:      input.Class,
			Attributes: input.Attributes,
		}
		c.store.AddCharacter(sessionID, character)
		c.emitter.ToRoom(sessionID, Event{Type: EventCharCreated, Payload: character})
		observability.RecordCommand(context.Background(), "create_character", "success")
	})
}

// UpdateCharacter shallow-merges a partial update into one character.
func (c *Coordinator) UpdateCharacter(client *Client, characterID string, updates domain.CharacterUpdate) {
	sessionID := client.sessionID
	if sessionID == "" {
		return
	}
	c.withSession(sessionID, func() {
		if !c.store.HasPermission(sessionID, client.UserID, domain.CapEditCharacter) {
			c.fail(client, "update_character", CodeForbidden, "no permission to edit characters")
			return
		}
		if !c.store.UpdateCharacter(sessionID, characterID, updates) {
			c.fail(client, "update_character", CodeNotFound, "character not found")
			return
		}
		c.emitter.ToRoom(sessionID, Event{
			Type:    EventCharUpdated,
			Payload: CharacterUpdatedPayload{CharacterID: characterID, Updates: updates},
		})
		observability.RecordCommand(context.Background(), "update_character", "success")
	})
}

func (c *Coordinator) fail(client *Client, command, code, message string) {
	observability.RecordCommand(context.Background(), command, code)
	c.emitter.ToConnection(client.ConnID, Event{
		Type:    EventError,
		Payload: ErrorPayload{Code: code, Message: message},
	})
	c.logger.Debug("command rejected",
		"command", command, "code", code, "user_id", client.UserID)
}

// withSession serializes mutation plus emission for one session so every
// room member observes broadcasts in mutation order.
func (c *Coordinator) withSession(sessionID string, fn func()) {
	muAny, _ := c.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	fn()
}
