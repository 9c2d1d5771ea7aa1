package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/steadyscript/steadyscript/internal/logger"
)

const (
	pongWait        = 60 * time.Second
	writeWait       = 3 * time.Second
	controlQueueCap = 32
)

// Client is one /ws/game2 duplex connection. Outbound frame messages use a
// depth-2 queue that evicts the oldest pending frame under backpressure, so
// the newest frame always wins (spec §4.6); metrics/session_complete/error/
// connected messages go through a deeper queue (controlQueueCap) with the
// same eviction policy, so once that queue is full the oldest pending
// control message is dropped without notice.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	frameCh   chan []byte
	controlCh chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		frameCh:   make(chan []byte, 2),
		controlCh: make(chan []byte, controlQueueCap),
		done:      make(chan struct{}),
	}
}

// sendFrame enqueues an outbound "frame" message. Under backpressure (the
// client hasn't drained the previous frame) the oldest queued frame is
// evicted so the newest one wins, per spec §4.6.
func (c *Client) sendFrame(b64jpeg string) {
	b, err := json.Marshal(envelope{Type: "frame", Data: mustJSON(FrameMessage{Data: b64jpeg})})
	if err != nil {
		return
	}
	select {
	case c.frameCh <- b:
		return
	default:
	}
	select {
	case <-c.frameCh:
		if c.hub.mx != nil {
			c.hub.mx.StreamFramesDropped.Add(1)
		}
	default:
	}
	select {
	case c.frameCh <- b:
	default:
	}
}

// sendControl enqueues an outbound non-frame message (metrics,
// session_complete, connected, error). If the queue is saturated, the
// oldest pending message is evicted to make room rather than dropping the
// newest; the evicted message is not delivered.
func (c *Client) sendControl(msgType string, payload any) {
	b, err := json.Marshal(envelope{Type: msgType, Data: mustJSON(payload)})
	if err != nil {
		return
	}
	select {
	case c.controlCh <- b:
		return
	default:
	}
	select {
	case <-c.controlCh:
	default:
	}
	select {
	case c.controlCh <- b:
	default:
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// writePump owns the connection's write side: outbound messages from the
// control and frame queues (no priority between the two when both are
// ready) and ping keepalives.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.controlCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.recordError()
				c.close()
				return
			}
		case msg := <-c.frameCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.recordError()
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.recordError()
				c.close()
				return
			}
		}
	}
}

func (c *Client) recordError() {
	if c.hub.mx != nil {
		c.hub.mx.StreamErrors.Add(1)
	}
}

// readPump owns the connection's read side: inbound command parsing,
// forwarded to the hub's command channel for the pipeline task to apply.
func (c *Client) readPump() {
	defer c.close()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.sendControl("error", ErrorMessage{Reason: "malformed message"})
			continue
		}
		cmd := Command{Type: env.Type, Data: env.Data, client: c}
		select {
		case c.hub.commands <- cmd:
		default:
			logger.Warn("stream", "command queue full, dropping %s from client", env.Type)
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		c.hub.removeClient(c)
	})
}
