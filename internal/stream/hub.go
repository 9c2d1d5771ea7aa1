// Package stream implements the Stream Server (C6): the MJPEG /video_feed
// endpoint, the duplex /ws/game2 websocket, the /tracking_data polling
// endpoint, and the session-history/HSV/session-control HTTP surface.
// Adapted from the teacher's FrameBroadcaster (fanout with per-client
// backpressure) and from large-farva's ws.Hub (gorilla/websocket
// registration and keepalive), generalized from pure broadcast to
// per-client duplex command dispatch.
package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/steadyscript/steadyscript/internal/logger"
	"github.com/steadyscript/steadyscript/internal/metrics"
)

const commandQueueCap = 256

// defaultPingInterval is used if NewHub is given a non-positive interval.
const defaultPingInterval = 20 * time.Second

// Hub tracks connected /ws/game2 duplex clients and routes their inbound
// commands to a single channel the pipeline task drains at the top of
// each tick (spec §5: control messages apply between frames).
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	upgrader websocket.Upgrader

	commands     chan Command
	pingInterval time.Duration
	mx           *metrics.Metrics
}

// NewHub allocates a duplex hub. Commands returns the channel the pipeline
// task should read from. pingInterval configures the keepalive cadence
// (config.WsHeartbeatInterval); mx may be nil in tests that don't assert
// on counters.
func NewHub(mx *metrics.Metrics, pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	return &Hub{
		clients:      make(map[*Client]struct{}),
		commands:     make(chan Command, commandQueueCap),
		pingInterval: pingInterval,
		mx:           mx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Commands is the channel of parsed inbound duplex commands.
func (h *Hub) Commands() <-chan Command { return h.commands }

// Handler upgrades the request to a websocket, registers the client, and
// sends it an initial "connected" message.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
		return
	}

	c := newClient(h, conn)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	active := len(h.clients)
	h.mu.Unlock()

	if h.mx != nil {
		h.mx.TotalClients.Add(1)
		h.mx.ActiveClients.Store(uint64(active))
	}

	logger.Info("stream", "duplex client connected (total: %d)", active)
	c.sendControl("connected", struct{}{})

	go c.writePump()
	go c.readPump()
}

// removeClient drops a client from the registry; called once from
// Client.close().
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	remaining := len(h.clients)
	h.mu.Unlock()

	if h.mx != nil {
		h.mx.ActiveClients.Store(uint64(remaining))
	}
	logger.Info("stream", "duplex client disconnected (remaining: %d)", remaining)
}

// BroadcastFrame sends a "frame" message to every connected client; for a
// client whose frame queue is full, the oldest queued frame is evicted to
// make room for this one.
func (h *Hub) BroadcastFrame(b64jpeg string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.sendFrame(b64jpeg)
	}
}

// BroadcastControl sends a non-frame message (metrics, session_complete)
// to every connected client.
func (h *Hub) BroadcastControl(msgType string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.sendControl(msgType, payload)
	}
}

// Run keeps the hub alive until ctx is cancelled, at which point every
// connected client is closed.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
	}
}
