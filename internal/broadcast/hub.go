// Package broadcast fans realtime updates out to websocket subscribers.
// Subscriptions are per route: a client subscribed to route-10 only receives
// messages about route-10. Dead connections are detected on write failure and
// pruned; a periodic ping keeps idle connections honest.
package broadcast

import (
	"log/slog"
	"sync"
	"time"
)

// Conn is the subset of a websocket connection the hub needs. It is satisfied
// by *websocket.Conn from gorilla/websocket.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Message is the envelope every hub payload is wrapped in.
type Message struct {
	Type      string    `json:"type"`
	RouteID   string    `json:"route_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// subscriber pairs a connection with its write lock. Broadcasts and the
// heartbeat run concurrently and a websocket connection allows only one
// writer at a time, so every write goes through send.
type subscriber struct {
	conn    Conn
	writeMu sync.Mutex
}

func (s *subscriber) send(msg Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// Hub tracks subscribers grouped by route id. Membership is guarded by one
// mutex; snapshots are taken under the lock and writes happen outside it so a
// slow client cannot stall subscription changes.
type Hub struct {
	mu     sync.Mutex
	routes map[string]map[Conn]*subscriber

	pingInterval time.Duration
	logger       *slog.Logger

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewHub creates a hub and starts its heartbeat loop.
func NewHub(pingInterval time.Duration, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if pingInterval <= 0 {
		pingInterval = 10 * time.Second
	}

	h := &Hub{
		routes:       make(map[string]map[Conn]*subscriber),
		pingInterval: pingInterval,
		logger:       logger,
		shutdownChan: make(chan struct{}),
	}

	h.wg.Add(1)
	go h.heartbeat()
	return h
}

// Connect subscribes a connection to a route.
func (h *Hub) Connect(routeID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.routes[routeID] == nil {
		h.routes[routeID] = make(map[Conn]*subscriber)
	}
	h.routes[routeID][c] = &subscriber{conn: c}

	h.logger.Debug("websocket subscribed",
		slog.String("route_id", routeID),
		slog.Int("route_subscribers", len(h.routes[routeID])))
}

// Disconnect removes a connection from a route's subscribers. The connection
// itself is not closed; callers own its lifecycle.
func (h *Hub) Disconnect(routeID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(routeID, c)
}

func (h *Hub) removeLocked(routeID string, c Conn) {
	subscribers, ok := h.routes[routeID]
	if !ok {
		return
	}
	delete(subscribers, c)
	if len(subscribers) == 0 {
		delete(h.routes, routeID)
	}
}

// BroadcastToRoute sends a message to every subscriber of one route.
// Connections whose write fails are dropped and closed.
func (h *Hub) BroadcastToRoute(routeID string, msg Message) {
	h.mu.Lock()
	subscribers := make([]*subscriber, 0, len(h.routes[routeID]))
	for _, s := range h.routes[routeID] {
		subscribers = append(subscribers, s)
	}
	h.mu.Unlock()

	if len(subscribers) == 0 {
		return
	}

	var failed []Conn
	for _, s := range subscribers {
		if err := s.send(msg); err != nil {
			failed = append(failed, s.conn)
		}
	}

	h.prune(routeID, failed)
}

func (h *Hub) prune(routeID string, failed []Conn) {
	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	for _, c := range failed {
		h.removeLocked(routeID, c)
	}
	h.mu.Unlock()

	for _, c := range failed {
		_ = c.Close()
	}
	h.logger.Debug("pruned dead websocket connections",
		slog.String("route_id", routeID),
		slog.Int("count", len(failed)))
}

// SubscriberCount returns the total number of connections across all routes.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := 0
	for _, subscribers := range h.routes {
		total += len(subscribers)
	}
	return total
}

// RouteSubscriberCount returns the number of connections on one route.
func (h *Hub) RouteSubscriberCount(routeID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.routes[routeID])
}

// heartbeat pings every subscriber on a fixed cadence so half-open
// connections fail a write and get pruned.
func (h *Hub) heartbeat() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.pingAll()
		case <-h.shutdownChan:
			return
		}
	}
}

func (h *Hub) pingAll() {
	h.mu.Lock()
	routeIDs := make([]string, 0, len(h.routes))
	for routeID := range h.routes {
		routeIDs = append(routeIDs, routeID)
	}
	h.mu.Unlock()

	for _, routeID := range routeIDs {
		h.BroadcastToRoute(routeID, Message{Type: "ping", Timestamp: time.Now()})
	}
}

// Shutdown stops the heartbeat loop and closes every connection.
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		close(h.shutdownChan)
		h.wg.Wait()

		h.mu.Lock()
		defer h.mu.Unlock()
		for routeID, subscribers := range h.routes {
			for _, s := range subscribers {
				_ = s.conn.Close()
			}
			delete(h.routes, routeID)
		}
	})
}
