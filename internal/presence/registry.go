package presence

import (
	"sync"

	"palaver/internal/metrics"
	"palaver/internal/models"
)

// Conn is a live transport endpoint able to receive push events.
// The registry only addresses pushes through it; connection lifecycle
// is owned by the transport layer.
type Conn interface {
	Push(ev models.Event) error
}

// Registry is a concurrency-safe identity -> connection mapping.
// At most one connection per identity; a later Register for the same
// identity wins (reconnect, second tab).
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]Conn),
	}
}

// Register binds userID to conn, overwriting any previous entry.
func (r *Registry) Register(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[userID] = conn
	metrics.OnlineConnections.Set(float64(len(r.conns)))
}

// Unregister removes the entry for userID only if the stored
// connection is conn. A disconnect event for an old connection can
// arrive after a newer connection has registered for the same
// identity; removing unconditionally would evict the live one.
func (r *Registry) Unregister(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[userID]; ok && cur == conn {
		delete(r.conns, userID)
	}
	metrics.OnlineConnections.Set(float64(len(r.conns)))
}

// Lookup resolves the live connection for userID, if any.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[userID]
	return conn, ok
}

// OnlineSet returns a snapshot of identities with a live connection.
// The snapshot may be stale by the time the caller uses it.
func (r *Registry) OnlineSet() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	online := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		online = append(online, userID)
	}
	return online
}
