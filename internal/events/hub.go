package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/metrics"
)

const sinkWebSocket = "websocket"

// Hub maintains active WebSocket connections and broadcasts alert events
type Hub struct {
	// Registered clients
	clients map[*Client]struct{}

	// Outbound encoded events
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc

	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub creates a new WebSocket hub. An empty origin list or "*" accepts
// any origin.
func NewHub(ctx context.Context, allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]struct{}),
		ctx:        hubCtx,
		cancel:     cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.Named("ws"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Run starts the hub
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client: drop it rather than stall everyone.
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

// Stop stops the hub and disconnects every client
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.removeLocked(client)
	}
}

// Publish broadcasts e to every connected client.
func (h *Hub) Publish(ctx context.Context, e Event) error {
	if err := h.ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(sinkWebSocket, "encode_error").Inc()
		return fmt.Errorf("encode event: %w", err)
	}
	select {
	case h.broadcast <- data:
		metrics.EventsPublishedTotal.WithLabelValues(sinkWebSocket, "success").Inc()
		return nil
	case <-h.ctx.Done():
		return h.ctx.Err()
	case <-ctx.Done():
		metrics.EventsPublishedTotal.WithLabelValues(sinkWebSocket, "dropped").Inc()
		return ctx.Err()
	}
}

// Close implements Publisher.
func (h *Hub) Close() error {
	h.Stop()
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events to the client
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(h.ctx, h, conn, uuid.New().String())
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()

	h.logger.Debug("websocket client connected", zap.String("client_id", client.id))
}
