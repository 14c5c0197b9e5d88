package ws

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vedran77/parley/internal/metrics"
	"github.com/vedran77/parley/internal/realtime"
)

// Hub tracks connected clients and routes channel publishes to the clients
// subscribed to them. A user may hold several connections.
type Hub struct {
	// clients maps userID → that user's connections. Owned by Run.
	clients map[uuid.UUID]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMsg
	stats      chan chan int
	done       chan struct{}

	log zerolog.Logger
}

// ErrHubClosed is returned by Publish after Run has returned.
var ErrHubClosed = errors.New("websocket hub closed")

type broadcastMsg struct {
	channel string
	data    []byte
}

var _ realtime.Transport = (*Hub)(nil)

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMsg, 256),
		stats:      make(chan chan int),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "ws.hub").Logger(),
	}
}

// Run is the Hub's event loop. It returns when ctx is cancelled, closing
// every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, conns := range h.clients {
				for client := range conns {
					h.drop(client)
				}
			}
			return

		case client := <-h.register:
			conns, ok := h.clients[client.userID]
			if !ok {
				conns = make(map[*Client]struct{})
				h.clients[client.userID] = conns
			}
			conns[client] = struct{}{}
			metrics.WSConnections.Inc()
			h.log.Debug().Str("user_id", client.userID.String()).Int("users", len(h.clients)).Msg("Client connected")

		case client := <-h.unregister:
			if h.drop(client) {
				h.log.Debug().Str("user_id", client.userID.String()).Int("users", len(h.clients)).Msg("Client disconnected")
			}

		case msg := <-h.broadcast:
			for _, conns := range h.clients {
				for client := range conns {
					if !client.IsSubscribed(msg.channel) {
						continue
					}
					select {
					case client.send <- msg.data:
					default:
						// Client buffer full - disconnect
						h.log.Warn().Str("user_id", client.userID.String()).Msg("Dropping slow client")
						h.drop(client)
					}
				}
			}

		case reply := <-h.stats:
			n := 0
			for _, conns := range h.clients {
				n += len(conns)
			}
			reply <- n
		}
	}
}

// Publish implements realtime.Transport. It blocks only until the Hub
// accepts the message or ctx ends.
func (h *Hub) Publish(ctx context.Context, channel string, data []byte) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.broadcast <- &broadcastMsg{channel: channel, data: data}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register adds client to the Hub. It reports false once the Hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Connections reports the number of open connections.
func (h *Hub) Connections(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	select {
	case h.stats <- reply:
	case <-h.done:
		return 0, ErrHubClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *Hub) drop(client *Client) bool {
	conns, ok := h.clients[client.userID]
	if !ok {
		return false
	}
	if _, ok := conns[client]; !ok {
		return false
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(h.clients, client.userID)
	}
	close(client.send)
	metrics.WSConnections.Dec()
	return true
}
