package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"palaver/internal/api"
	"palaver/internal/metrics"
	"palaver/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// NewMux builds the full route table. Split out from NewAPIServer so
// tests can mount it on an httptest server.
func NewMux(apiHandlers *api.API, wsServer *ws.Server) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /login", apiHandlers.LoginHandler)
	mux.HandleFunc("POST /logoff", apiHandlers.LogoffHandler)

	mux.HandleFunc("GET /conversations/{id}/messages", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))
	mux.HandleFunc("POST /conversations/{id}/messages", apiHandlers.RequireAuth(apiHandlers.SendMessageHandler))

	mux.HandleFunc("POST /groups", apiHandlers.RequireAuth(apiHandlers.CreateGroupHandler))
	mux.HandleFunc("PUT /groups/{id}", apiHandlers.RequireAuth(apiHandlers.UpdateGroupHandler))
	mux.HandleFunc("GET /groups/sidebar", apiHandlers.RequireAuth(apiHandlers.SidebarGroupsHandler))
	mux.HandleFunc("GET /users/sidebar", apiHandlers.RequireAuth(apiHandlers.SidebarUsersHandler))

	mux.HandleFunc("GET /files/{id}", apiHandlers.GetFileHandler)

	// Push channel
	mux.HandleFunc("GET /ws", wsServer.HandleConnections)

	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

func NewAPIServer(apiHandlers *api.API, wsServer *ws.Server, addr string) *APIServer {
	mux := NewMux(apiHandlers, wsServer)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
