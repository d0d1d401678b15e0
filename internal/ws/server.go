package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// pongWait must cover at least two heartbeat intervals so a single
	// delayed pong does not kill a healthy connection.
	pongWait = 3 * heartbeatInterval
)

type authService interface {
	GetUserID(token string) (string, error)
}

type Server struct {
	auth     authService
	hub      *Hub
	handler  publishHandler
	upgrader *websocket.Upgrader
}

func NewServer(auth authService, hub *Hub, handler publishHandler) *Server {
	return &Server{
		auth:    auth,
		hub:     hub,
		handler: handler,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // cross-origin handshake is allowed; auth is the token
			},
		},
	}
}

// liveConn adapts a gorilla connection to the wsConnection interface
// and keeps the read deadline fed by pongs.
type liveConn struct {
	*websocket.Conn
}

func (c *liveConn) Ping() error {
	return c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// HandleConnections upgrades an authenticated request to the one
// persistent duplex channel for that user.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	userID, err := s.auth.GetUserID(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	conn := NewConnection(s.hub, s.handler, &liveConn{ws}, userID)
	if err := conn.Handle(r.Context()); err != nil {
		slog.Debug("connection closed", "user_id", userID, "error", err)
	}
}
