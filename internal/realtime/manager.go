// Package realtime serves the voice tutoring loop over WebSocket.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnManager tracks open realtime connections per learner.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
	logger *slog.Logger
}

// NewConnManager creates an empty connection registry.
func NewConnManager(logger *slog.Logger) *ConnManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnManager{
		active: make(map[string]map[string]*websocket.Conn),
		logger: logger,
	}
}

// Register adds a connection for a learner. A learner may hold several.
func (m *ConnManager) Register(userID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}
	m.active[userID][connID] = conn
	m.logger.Info("Realtime connection registered", "user_id", userID, "conn_id", connID)
}

// Unregister removes a connection if it is still the one registered.
func (m *ConnManager) Unregister(userID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[userID]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.active, userID)
			}
			m.logger.Info("Realtime connection unregistered", "user_id", userID, "conn_id", connID)
		}
	}
}

// Count returns the number of open connections for userID.
func (m *ConnManager) Count(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[userID])
}

// Total returns the number of open connections across all learners.
func (m *ConnManager) Total() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, conns := range m.active {
		n += len(conns)
	}
	return n
}

// CloseAll sends a going-away close to every open connection concurrently
// and waits for the close handshakes until ctx is done.
func (m *ConnManager) CloseAll(ctx context.Context) {
	type entry struct {
		userID, connID string
		conn           *websocket.Conn
	}

	m.mu.Lock()
	var open []entry
	for userID, conns := range m.active {
		for connID, conn := range conns {
			open = append(open, entry{userID: userID, connID: connID, conn: conn})
		}
	}
	m.active = make(map[string]map[string]*websocket.Conn)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range open {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.conn.Close(websocket.StatusGoingAway, "server shutting down")
			m.logger.Info("Realtime connection closed", "user_id", e.userID, "conn_id", e.connID)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Realtime close handshakes still pending", "error", ctx.Err())
	}
}
