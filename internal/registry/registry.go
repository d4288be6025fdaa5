// Package registry holds all live session state in process memory. The
// store is the single source of truth: the coordinator mutates it in
// response to commands and the sweeper prunes lapsed temporary grants.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tabletop-session-service/internal/domain"
	"tabletop-session-service/internal/observability"
)

var ErrSessionNotFound = errors.New("session not found")

// Store is an in-memory session registry. A read-write mutex guards the
// session map; each session carries its own mutex so commands on the same
// session serialize while different sessions proceed concurrently.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	now      func() time.Time
}

type sessionState struct {
	mu sync.Mutex
	s  domain.Session
}

func New() *Store {
	return NewWithClock(func() time.Time { return time.Now().UTC() })
}

// NewWithClock builds a store with an injected clock, used by tests to
// simulate the passage of time.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		sessions: make(map[string]*sessionState),
		now:      now,
	}
}

// Create registers a new session and returns its snapshot.
func (st *Store) Create(name, systemType, masterID string) domain.Session {
	now := st.now()
	s := domain.Session{
		ID:                   fmt.Sprintf("session_%s", uuid.NewString()),
		Name:                 name,
		SystemType:           systemType,
		MasterID:             masterID,
		Players:              []domain.Player{},
		Characters:           []domain.Character{},
		Permissions:          make(map[string]domain.PermissionSet),
		TemporaryPermissions: []domain.TemporaryPermission{},
		ChatLog:              []domain.ChatMessage{},
		DiceHistory:          []domain.DiceRoll{},
		CreatedAt:            now,
		LastActivity:         now,
	}

	st.mu.Lock()
	st.sessions[s.ID] = &sessionState{s: s}
	st.mu.Unlock()

	observability.RecordRegistryOperation(context.Background(), "create", "success")
	return cloneSession(&s)
}

// Get returns a snapshot of one session.
func (st *Store) Get(sessionID string) (domain.Session, bool) {
	var snap domain.Session
	ok := st.locked(sessionID, func(s *domain.Session) {
		snap = cloneSession(s)
	})
	return snap, ok
}

// List returns snapshots of every registered session.
func (st *Store) List() []domain.Session {
	st.mu.RLock()
	states := make([]*sessionState, 0, len(st.sessions))
	for _, state := range st.sessions {
		states = append(states, state)
	}
	st.mu.RUnlock()

	out := make([]domain.Session, 0, len(states))
	for _, state := range states {
		state.mu.Lock()
		out = append(out, cloneSession(&state.s))
		state.mu.Unlock()
	}
	return out
}

// Delete removes a session entirely.
func (st *Store) Delete(sessionID string) bool {
	st.mu.Lock()
	_, ok := st.sessions[sessionID]
	delete(st.sessions, sessionID)
	st.mu.Unlock()
	if ok {
		observability.RecordRegistryOperation(context.Background(), "delete", "success")
	} else {
		observability.RecordRegistryOperation(context.Background(), "delete", "not_found")
	}
	return ok
}

// AddPlayer attaches a player to a session. It refuses a userID that is
// already attached, and lazily initializes the user's stored permission set
// from their role template.
func (st *Store) AddPlayer(sessionID string, p domain.Player) bool {
	added := false
	ok := st.locked(sessionID, func(s *domain.Session) {
		if _, dup := s.FindPlayer(p.UserID); dup {
			return
		}
		s.Players = append(s.Players, p)
		if _, has := s.Permissions[p.UserID]; !has {
			s.Permissions[p.UserID] = domain.DefaultPermissions(p.Role)
		}
		s.LastActivity = st.now()
		added = true
	})
	if !ok {
		observability.RecordRegistryOperation(context.Background(), "add_player", "not_found")
		return false
	}
	if added {
		observability.RecordRegistryOperation(context.Background(), "add_player", "success")
	} else {
		observability.RecordRegistryOperation(context.Background(), "add_player", "duplicate")
	}
	return added
}

// RemovePlayer detaches a player. Stored permissions and temporary grants
// survive so a rejoin keeps prior grants. Idempotent.
func (st *Store) RemovePlayer(sessionID, userID string) bool {
	return st.mutate(sessionID, "remove_player", func(s *domain.Session) {
		kept := s.Players[:0]
		for _, p := range s.Players {
			if p.UserID != userID {
				kept = append(kept, p)
			}
		}
		s.Players = kept
	})
}

// AddChatMessage appends to the session's chat log.
func (st *Store) AddChatMessage(sessionID string, msg domain.ChatMessage) bool {
	return st.mutate(sessionID, "add_chat_message", func(s *domain.Session) {
		s.ChatLog = append(s.ChatLog, msg)
	})
}

// AddDiceRoll appends to the session's dice history.
func (st *Store) AddDiceRoll(sessionID string, roll domain.DiceRoll) bool {
	return st.mutate(sessionID, "add_dice_roll", func(s *domain.Session) {
		s.DiceHistory = append(s.DiceHistory, roll)
	})
}

// AddCharacter appends a character record.
func (st *Store) AddCharacter(sessionID string, c domain.Character) bool {
	return st.mutate(sessionID, "add_character", func(s *domain.Session) {
		s.Characters = append(s.Characters, c)
	})
}

// UpdateCharacter shallow-merges a partial update into one character.
// Returns false when the session or the character is absent.
func (st *Store) UpdateCharacter(sessionID, characterID string, upd domain.CharacterUpdate) bool {
	found := false
	ok := st.locked(sessionID, func(s *domain.Session) {
		for i := range s.Characters {
			if s.Characters[i].ID != characterID {
				continue
			}
			c := &s.Characters[i]
			if upd.Name != nil {
				c.Name = *upd.Name
			}
			if upd.Race != nil {
				c.Race = *upd.Race
			}
			if upd.Class != nil {
				c.Class = *upd.Class
			}
			if len(upd.Attributes) > 0 {
				if c.Attributes == nil {
					c.Attributes = make(map[string]any, len(upd.Attributes))
				}
				for k, v := range upd.Attributes {
					c.Attributes[k] = v
				}
			}
			s.LastActivity = st.now()
			found = true
			return
		}
	})
	outcome := "success"
	if !ok || !found {
		outcome = "not_found"
	}
	observability.RecordRegistryOperation(context.Background(), "update_character", outcome)
	return ok && found
}

// UserPermissions returns the user's effective permission set: the stored
// set merged with every unexpired temporary grant. Lapsed grants are purged
// as a side effect so they can never contribute again. A user without a
// stored record gets the player defaults.
func (st *Store) UserPermissions(sessionID, userID string) (domain.PermissionSet, bool) {
	var effective domain.PermissionSet
	now := st.now()
	ok := st.locked(sessionID, func(s *domain.Session) {
		s.TemporaryPermissions = domain.SweepExpired(s.TemporaryPermissions, now)
		stored, has := s.Permissions[userID]
		if !has {
			stored = domain.PlayerPermissions()
		}
		effective = domain.EffectivePermissions(stored, s.TemporaryPermissions, userID, now)
	})
	return effective, ok
}

// HasPermission reports whether the user currently holds a capability.
// Missing sessions and missing users fail closed.
func (st *Store) HasPermission(sessionID, userID string, c domain.Capability) bool {
	perms, ok := st.UserPermissions(sessionID, userID)
	if !ok {
		return false
	}
	return perms.Has(c)
}

// UpdatePermissions merges named overrides onto the user's stored set.
// Unknown capability names reject the whole update.
func (st *Store) UpdatePermissions(sessionID, userID string, overrides map[string]bool) error {
	var applyErr error
	ok := st.locked(sessionID, func(s *domain.Session) {
		stored, has := s.Permissions[userID]
		if !has {
			stored = domain.PlayerPermissions()
		}
		next, err := stored.Apply(overrides)
		if err != nil {
			applyErr = err
			return
		}
		s.Permissions[userID] = next
		s.LastActivity = st.now()
	})
	if !ok {
		observability.RecordRegistryOperation(context.Background(), "update_permissions", "not_found")
		return ErrSessionNotFound
	}
	if applyErr != nil {
		observability.RecordRegistryOperation(context.Background(), "update_permissions", "invalid")
		return applyErr
	}
	observability.RecordRegistryOperation(context.Background(), "update_permissions", "success")
	return nil
}

// GrantTemporary inserts a time-boxed grant forcing one capability to true.
// An existing grant for the same (user, capability) pair is replaced.
func (st *Store) GrantTemporary(sessionID, userID string, c domain.Capability, duration time.Duration) (time.Time, bool) {
	var expiresAt time.Time
	ok := st.locked(sessionID, func(s *domain.Session) {
		expiresAt = st.now().Add(duration)
		kept := s.TemporaryPermissions[:0]
		for _, g := range s.TemporaryPermissions {
			if !(g.UserID == userID && g.Capability == c) {
				kept = append(kept, g)
			}
		}
		s.TemporaryPermissions = append(kept, domain.TemporaryPermission{
			UserID:     userID,
			Capability: c,
			ExpiresAt:  expiresAt,
		})
		s.LastActivity = st.now()
	})
	outcome := "success"
	if !ok {
		outcome = "not_found"
	}
	observability.RecordRegistryOperation(context.Background(), "grant_temporary", outcome)
	return expiresAt, ok
}

// RevokeTemporary drops a grant before its expiry. Idempotent.
func (st *Store) RevokeTemporary(sessionID, userID string, c domain.Capability) bool {
	return st.mutate(sessionID, "revoke_temporary", func(s *domain.Session) {
		kept := s.TemporaryPermissions[:0]
		for _, g := range s.TemporaryPermissions {
			if !(g.UserID == userID && g.Capability == c) {
				kept = append(kept, g)
			}
		}
		s.TemporaryPermissions = kept
	})
}

// Sweep purges lapsed temporary grants from every session and returns how
// many were dropped. Correctness never depends on it: every permission read
// filters by the current time on its own.
func (st *Store) Sweep() int {
	st.mu.RLock()
	states := make([]*sessionState, 0, len(st.sessions))
	for _, state := range st.sessions {
		states = append(states, state)
	}
	st.mu.RUnlock()

	now := st.now()
	purged := 0
	for _, state := range states {
		state.mu.Lock()
		before := len(state.s.TemporaryPermissions)
		state.s.TemporaryPermissions = domain.SweepExpired(state.s.TemporaryPermissions, now)
		purged += before - len(state.s.TemporaryPermissions)
		state.mu.Unlock()
	}
	if purged > 0 {
		observability.RecordSweep(context.Background(), purged)
	}
	return purged
}

// locked runs fn with the session's mutex held. Returns false when the
// session does not exist.
func (st *Store) locked(sessionID string, fn func(*domain.Session)) bool {
	st.mu.RLock()
	state, ok := st.sessions[sessionID]
	st.mu.RUnlock()
	if !ok {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	fn(&state.s)
	return true
}

func (st *Store) mutate(sessionID, op string, fn func(*domain.Session)) bool {
	ok := st.locked(sessionID, func(s *domain.Session) {
		fn(s)
		s.LastActivity = st.now()
	})
	outcome := "success"
	if !ok {
		outcome = "not_found"
	}
	observability.RecordRegistryOperation(context.Background(), op, outcome)
	return ok
}

// cloneSession deep-copies the collections so snapshots never alias live
// state.
func cloneSession(s *domain.Session) domain.Session {
	out := *s
	out.Players = append([]domain.Player(nil), s.Players...)
	out.TemporaryPermissions = append([]domain.TemporaryPermission(nil), s.TemporaryPermissions...)
	out.ChatLog = append([]domain.ChatMessage(nil), s.ChatLog...)
	out.DiceHistory = append([]domain.DiceRoll(nil), s.DiceHistory...)
	out.Permissions = make(map[string]domain.PermissionSet, len(s.Permissions))
	for k, v := range s.Permissions {
		out.Permissions[k] = v
	}
	out.Characters = make([]domain.Character, len(s.Characters))
	for i, c := range s.Characters {
		cc := c
		if c.Attributes != nil {
			cc.Attributes = make(map[string]any, len(c.Attributes))
			for k, v := range c.Attributes {
				cc.Attributes[k] = v
			}
		}
		out.Characters[i] = cc
	}
	return out
}
