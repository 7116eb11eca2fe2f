package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-lifecycle/internal/models"
)

// writeWait bounds each client write; a stalled client fails the write
// and gets dropped instead of blocking the fan-out.
const writeWait = 5 * time.Second

// wsClient is one connected watcher of a ride.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// StatusUpdate is what hub subscribers receive as a ride progresses.
type StatusUpdate struct {
	RideID          string       `json:"ride_id"`
	Status          string       `json:"status"`
	DistanceCovered float64      `json:"distance_covered"`
	Location        models.Coord `json:"location"`
}

// WSHub fans ride progress out to WebSocket watchers, keyed by ride id.
// Slow or dead clients are dropped rather than blocking the fan-out.
type WSHub struct {
	mu       sync.RWMutex
	watchers map[string][]*wsClient
	Logger   *slog.Logger
}

func NewWSHub() *WSHub {
	return &WSHub{watchers: make(map[string][]*wsClient)}
}

func (h *WSHub) Add(rideID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchers[rideID] = append(h.watchers[rideID], &wsClient{conn: conn})
}

// Broadcast sends the update to every watcher of the ride.
func (h *WSHub) Broadcast(u StatusUpdate) {
	h.mu.RLock()
	clients := h.watchers[u.RideID]
	h.mu.RUnlock()

	var dead []*wsClient
	for _, c := range clients {
		if err := c.send(u); err != nil {
			dead = append(dead, c)
		}
	}
	if len(dead) > 0 {
		h.drop(u.RideID, dead)
	}
}

func (h *WSHub) drop(rideID string, dead []*wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	alive := h.watchers[rideID][:0]
	for _, c := range h.watchers[rideID] {
		keep := true
		for _, d := range dead {
			if c == d {
				keep = false
				_ = c.conn.Close()
				break
			}
		}
		if keep {
			alive = append(alive, c)
		}
	}
	if len(alive) == 0 {
		delete(h.watchers, rideID)
		return
	}
	h.watchers[rideID] = alive
}
