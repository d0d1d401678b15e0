package ws

import (
	"sync"

	"github.com/ltmoamin/RentalCar/internal/models"
)

// Hub tracks the one live frame channel per connected user. It is the
// single fan-out point for the four logical subscription topics: a
// frame tagged with its channel goes to exactly one user's connection.
type Hub struct {
	// Map of userID -> Connection channel
	connectedUsers map[string]chan models.Frame

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		connectedUsers: make(map[string]chan models.Frame),
	}
}

// Join registers the user's connection and returns the channel their
// outbound frames are delivered on. A second connection for the same
// user replaces the first.
func (h *Hub) Join(userID string) chan models.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.connectedUsers[userID]; ok {
		close(old)
	}

	ch := make(chan models.Frame, 100)
	h.connectedUsers[userID] = ch
	return ch
}

// Leave closes the user's channel. The ch argument guards against a
// reconnect racing the old connection's teardown.
func (h *Hub) Leave(userID string, ch chan models.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.connectedUsers[userID]
	if !ok || current != ch {
		return
	}
	close(current)
	delete(h.connectedUsers, userID)
}

// SendTo delivers a frame to the user's connection if they are online.
// Returns false if the user is offline or their buffer is full.
func (h *Hub) SendTo(userID string, frame models.Frame) bool {
	h.mu.RLock()
	ch, online := h.connectedUsers[userID]
	h.mu.RUnlock()

	if !online {
		return false
	}

	select {
	case ch <- frame:
		return true
	default:
		// Slow consumer: drop rather than block inbound processing.
		return false
	}
}

func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, online := h.connectedUsers[userID]
	return online
}
