package coordinator

import "tabletop-session-service/internal/domain"

// Client is the per-connection state the coordinator tracks: the verified
// identity plus the session the connection is currently joined to, if any.
type Client struct {
	ConnID   string
	UserID   string
	Username string
	Role     domain.Role

	sessionID string
}

func NewClient(connID, userID, username string, role domain.Role) *Client {
	return &Client{ConnID: connID, UserID: userID, Username: username, Role: role}
}

// SessionID returns the session this connection has joined, or "".
func (c *Client) SessionID() string { return c.sessionID }
