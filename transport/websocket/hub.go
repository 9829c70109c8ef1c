package websocket

import (
	"context"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/wricardo/dungeondweller/game/room"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Outbound frames buffered per client before new ones are dropped.
	DefaultSendBuffer = 256
)

// Coordinator is the part of room.Coordinator the transport needs.
type Coordinator interface {
	Handle(ctx context.Context, conn room.Conn, ev room.Event) error
	Disconnect(ctx context.Context, conn room.Conn) error
}

// Option configures a Hub.
type Option func(*Hub)

// WithAllowedOrigins restricts the Origin header accepted on upgrade. An
// empty list or "*" allows every origin.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) { h.origins = origins }
}

// WithSendBuffer sets the per-client outbound queue length.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// Hub tracks live clients and reports dropped ones to the coordinator.
type Hub struct {
	coord Coordinator

	// Live clients. Only touched by Run.
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	done  chan struct{}
	count atomic.Int64

	upgrader   websocket.Upgrader
	origins    []string
	sendBuffer int
}

// NewHub creates a hub that forwards client events to coord.
func NewHub(coord Coordinator, opts ...Option) *Hub {
	h := &Hub{
		coord:      coord,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		sendBuffer: DefaultSendBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.origins) == 0 || slices.Contains(h.origins, "*") {
		return true
	}
	return slices.Contains(h.origins, r.Header.Get("Origin"))
}

// Run starts the hub's event loop. Cancelling ctx closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(ctx, client)

		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
			}
			log.Info().Str("module", "websocket").Int("clients", len(h.clients)).Msg("hub stopped")
			return
		}
	}
}

// Count returns the number of live clients.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// ServeWS upgrades the request and starts the client's pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("module", "websocket").Err(err).Msg("upgrade failed")
		return
	}

	client := newClient(h, conn, uuid.NewString(), h.sendBuffer)

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) registerClient(client *Client) {
	h.clients[client] = true
	h.count.Store(int64(len(h.clients)))

	log.Debug().Str("module", "websocket").Str("conn", client.id).Int("clients", len(h.clients)).Msg("client registered")
}

func (h *Hub) unregisterClient(ctx context.Context, client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.count.Store(int64(len(h.clients)))
	client.Close()

	if err := h.coord.Disconnect(ctx, client); err != nil {
		log.Warn().Str("module", "websocket").Str("conn", client.id).Err(err).Msg("disconnect not delivered")
	}

	log.Debug().Str("module", "websocket").Str("conn", client.id).Int("clients", len(h.clients)).Msg("client unregistered")
}
