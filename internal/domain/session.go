package domain

import "time"

// Role is the identity role supplied by the verification boundary.
type Role string

const (
	RoleMaster Role = "master"
	RolePlayer Role = "player"
)

// Visibility controls who sees a dice roll.
type Visibility string

const (
	VisibilityPublic Visibility = "public"
	VisibilityGMOnly Visibility = "gm-only"
)

// Player is one connected participant of a session.
type Player struct {
	ConnectionID string `json:"-"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	Role         Role   `json:"role"`
}

// Character is an opaque character record owned by one user. Fields beyond
// the identifying ones are carried without interpretation.
type Character struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"ownerId"`
	Name       string         `json:"name"`
	Race       string         `json:"race"`
	Class      string         `json:"class"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// CharacterUpdate is a partial character mutation; nil fields are untouched
// and Attributes entries merge over existing ones.
type CharacterUpdate struct {
	Name       *string        `json:"name,omitempty"`
	Race       *string        `json:"race,omitempty"`
	Class      *string        `json:"class,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ChatMessage is one entry of a session's chat log.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"type"`
}

// DiceRoll is one recorded roll, individual dice included.
type DiceRoll struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	RollerID   string     `json:"rollerId"`
	RollerName string     `json:"rollerName"`
	Notation   string     `json:"diceNotation"`
	Result     int        `json:"result"`
	Rolls      []int      `json:"rolls"`
	Modifier   int        `json:"modifier"`
	Reason     string     `json:"reason,omitempty"`
	Visibility Visibility `json:"visibility"`
}

// Session is one live game table: a single master, any number of players,
// and the append-only chat and dice history they share.
type Session struct {
	ID                   string                   `json:"id"`
	Name                 string                   `json:"name"`
	SystemType           string                   `json:"systemType"`
	MasterID             string                   `json:"masterId"`
	Players              []Player                 `json:"players"`
	Characters           []Character              `json:"characters"`
	Permissions          map[string]PermissionSet `json:"permissions"`
	TemporaryPermissions []TemporaryPermission    `json:"temporaryPermissions"`
	ChatLog              []ChatMessage            `json:"chatLog"`
	DiceHistory          []DiceRoll               `json:"diceHistory"`
	CreatedAt            time.Time                `json:"createdAt"`
	LastActivity         time.Time                `json:"lastActivity"`
}

// MasterConnection returns the connection handle of the session's master if
// a player with the master role is currently attached.
func (s *Session) MasterConnection() (string, bool) {
	for _, p := range s.Players {
		if p.Role == RoleMaster {
			return p.ConnectionID, true
		}
	}
	return "", false
}

// FindPlayer returns the attached player entry for a user.
func (s *Session) FindPlayer(userID string) (Player, bool) {
	for _, p := range s.Players {
		if p.UserID == userID {
			return p, true
		}
	}
	return Player{}, false
}
