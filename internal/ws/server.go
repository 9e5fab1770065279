package ws

import (
	"log/slog"
	"net/http"

	"palaver/internal/presence"

	"github.com/gorilla/websocket"
)

type identityResolver interface {
	Identity(token string) (string, error)
}

// Server upgrades authenticated HTTP requests to websocket
// connections and ties each one to the presence registry.
type Server struct {
	auth     identityResolver
	registry *presence.Registry
	upgrader *websocket.Upgrader
}

func NewServer(auth identityResolver, registry *presence.Registry) *Server {
	return &Server{
		auth:     auth,
		registry: registry,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Same-origin enforcement happens at the REST layer
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}

	userID, err := s.auth.Identity(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("error upgrading to websocket", "error", err)
		return
	}

	conn := NewConnection(s.registry, ws, userID)
	if err := conn.Handle(r.Context()); err != nil {
		slog.Debug("connection closed", "user_id", userID, "error", err)
	}
}
