package domain

import (
	"fmt"
	"time"
)

// Capability names one of the eleven gates a session command can require.
type Capability string

const (
	CapCreateCharacter   Capability = "canCreateCharacter"
	CapEditCharacter     Capability = "canEditCharacter"
	CapViewAllCharacters Capability = "canViewAllCharacters"
	CapRollDice          Capability = "canRollDice"
	CapChat              Capability = "canChat"
	CapViewMap           Capability = "canViewMap"
	CapEditMap           Capability = "canEditMap"
	CapInitiateBattle    Capability = "canInitiateBattle"
	CapControlBattle     Capability = "canControlBattle"
	CapViewNotes         Capability = "canViewNotes"
	CapEditNotes         Capability = "canEditNotes"
)

// Capabilities lists every known capability in a stable order.
var Capabilities = []Capability{
	CapCreateCharacter,
	CapEditCharacter,
	CapViewAllCharacters,
	CapRollDice,
	CapChat,
	CapViewMap,
	CapEditMap,
	CapInitiateBattle,
	CapControlBattle,
	CapViewNotes,
	CapEditNotes,
}

// ParseCapability validates a wire-level capability name.
func ParseCapability(name string) (Capability, error) {
	c := Capability(name)
	switch c {
	case CapCreateCharacter, CapEditCharacter, CapViewAllCharacters,
		CapRollDice, CapChat, CapViewMap, CapEditMap,
		CapInitiateBattle, CapControlBattle, CapViewNotes, CapEditNotes:
		return c, nil
	}
	return "", fmt.Errorf("unknown capability %q", name)
}

// PermissionSet is the closed set of capabilities a user holds in a session.
// The zero value denies everything.
type PermissionSet struct {
	CanCreateCharacter   bool `json:"canCreateCharacter"`
	CanEditCharacter     bool `json:"canEditCharacter"`
	CanViewAllCharacters bool `json:"canViewAllCharacters"`
	CanRollDice          bool `json:"canRollDice"`
	CanChat              bool `json:"canChat"`
	CanViewMap           bool `json:"canViewMap"`
	CanEditMap           bool `json:"canEditMap"`
	CanInitiateBattle    bool `json:"canInitiateBattle"`
	CanControlBattle     bool `json:"canControlBattle"`
	CanViewNotes         bool `json:"canViewNotes"`
	CanEditNotes         bool `json:"canEditNotes"`
}

// MasterPermissions returns the default template for the master role.
func MasterPermissions() PermissionSet {
	return PermissionSet{
		CanCreateCharacter:   true,
		CanEditCharacter:     true,
		CanViewAllCharacters: true,
		CanRollDice:          true,
		CanChat:              true,
		CanViewMap:           true,
		CanEditMap:           true,
		CanInitiateBattle:    true,
		CanControlBattle:     true,
		CanViewNotes:         true,
		CanEditNotes:         true,
	}
}

// PlayerPermissions returns the default template for the player role.
func PlayerPermissions() PermissionSet {
	return PermissionSet{
		CanRollDice: true,
		CanChat:     true,
		CanViewMap:  true,
	}
}

// DefaultPermissions picks the template matching a role. Unknown roles get
// the player template.
func DefaultPermissions(role Role) PermissionSet {
	if role == RoleMaster {
		return MasterPermissions()
	}
	return PlayerPermissions()
}

// Has reports whether the set includes the given capability.
func (p PermissionSet) Has(c Capability) bool {
	switch c {
	case CapCreateCharacter:
		return p.CanCreateCharacter
	case CapEditCharacter:
		return p.CanEditCharacter
	case CapViewAllCharacters:
		return p.CanViewAllCharacters
	case CapRollDice:
		return p.CanRollDice
	case CapChat:
		return p.CanChat
	case CapViewMap:
		return p.CanViewMap
	case CapEditMap:
		return p.CanEditMap
	case CapInitiateBattle:
		return p.CanInitiateBattle
	case CapControlBattle:
		return p.CanControlBattle
	case CapViewNotes:
		return p.CanViewNotes
	case CapEditNotes:
		return p.CanEditNotes
	}
	return false
}

func (p *PermissionSet) set(c Capability, v bool) {
	switch c {
	case CapCreateCharacter:
		p.CanCreateCharacter = v
	case CapEditCharacter:
		p.CanEditCharacter = v
	case CapViewAllCharacters:
		p.CanViewAllCharacters = v
	case CapRollDice:
		p.CanRollDice = v
	case CapChat:
		p.CanChat = v
	case CapViewMap:
		p.CanViewMap = v
	case CapEditMap:
		p.CanEditMap = v
	case CapInitiateBattle:
		p.CanInitiateBattle = v
	case CapControlBattle:
		p.CanControlBattle = v
	case CapViewNotes:
		p.CanViewNotes = v
	case CapEditNotes:
		p.CanEditNotes = v
	}
}

// Apply shallow-merges the named overrides onto the set. Keys not present in
// the override map keep their prior value. Unknown keys reject the whole
// update before any value is applied.
func (p PermissionSet) Apply(overrides map[string]bool) (PermissionSet, error) {
	caps := make(map[Capability]bool, len(overrides))
	for name, v := range overrides {
		c, err := ParseCapability(name)
		if err != nil {
			return PermissionSet{}, err
		}
		caps[c] = v
	}
	for c, v := range caps {
		p.set(c, v)
	}
	return p, nil
}

// TemporaryPermission is a time-boxed override forcing one capability to
// true for one user until ExpiresAt.
type TemporaryPermission struct {
	UserID     string     `json:"userId"`
	Capability Capability `json:"permission"`
	ExpiresAt  time.Time  `json:"expiresAt"`
}

// Expired reports whether the grant no longer contributes at the given time.
func (t TemporaryPermission) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// EffectivePermissions merges the stored set with every unexpired temporary
// grant held by the user. Grants only ever force a capability to true.
func EffectivePermissions(stored PermissionSet, grants []TemporaryPermission, userID string, now time.Time) PermissionSet {
	for _, g := range grants {
		if g.UserID != userID || g.Expired(now) {
			continue
		}
		stored.set(g.Capability, true)
	}
	return stored
}

// SweepExpired returns the grants still alive at the given time.
func SweepExpired(grants []TemporaryPermission, now time.Time) []TemporaryPermission {
	alive := grants[:0]
	for _, g := range grants {
		if !g.Expired(now) {
			alive = append(alive, g)
		}
	}
	return alive
}
