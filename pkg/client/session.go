package client

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Session bundles the socket and REST clients of one signed-in user.
// Build one per login; nothing is shared between sessions.
type Session struct {
	UserID string
	Conn   *Conn
	REST   *REST
}

// NewSession derives the socket URL from baseURL when opts.URL is empty.
func NewSession(baseURL, token, userID string, opts ConnOptions) (*Session, error) {
	if opts.URL == "" {
		u, err := SocketURL(baseURL)
		if err != nil {
			return nil, err
		}
		opts.URL = u
	}
	opts.Token = token
	return &Session{
		UserID: userID,
		Conn:   NewConn(opts),
		REST:   NewREST(baseURL, token),
	}, nil
}

// Thread opens the local view of one conversation. Bind feeds it socket events.
func (s *Session) Thread(conversationID uuid.UUID) *Thread {
	return NewThread(conversationID, s.UserID, s.Conn, s.REST)
}

// SocketURL maps http(s)://host/base to ws(s)://host/ws.
func SocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
