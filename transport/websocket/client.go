package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/wricardo/dungeondweller/game/room"
)

// Client is one browser tab. It implements room.Conn.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, id string, bufSize int) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, bufSize),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Send encodes the frame now and queues it.
func (c *Client) Send(event string, payload any) error {
	data, err := json.Marshal(Frame{Event: event, Data: payload})
	if err != nil {
		log.Error().Str("module", "websocket").Str("conn", c.id).Str("event", event).Err(err).Msg("failed to marshal frame")
		return fmt.Errorf("encode %s: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return room.ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return room.ErrSendQueueFull
	}
}

// Close stops the client after queued frames are written.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.cancel()
}

// readPump decodes client frames and hands them to the coordinator. Frames
// from one connection reach the coordinator in the order they were read.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Str("module", "websocket").Str("conn", c.id).Err(err).Msg("read failed")
			}
			return
		}

		ev, err := DecodeEvent(raw)
		if err != nil {
			log.Debug().Str("module", "websocket").Str("conn", c.id).Err(err).Msg("rejected frame")
			c.Send(room.EventError, room.ErrorPayload{Message: err.Error()})
			continue
		}

		if err := c.hub.coord.Handle(c.ctx, c, ev); err != nil {
			log.Debug().Str("module", "websocket").Str("conn", c.id).Str("event", ev.Name()).Err(err).Msg("event not handled")
			if c.ctx.Err() != nil {
				return
			}
		}
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
