package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vedran77/parley/internal/domain"
	"github.com/vedran77/parley/internal/realtime"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
	sendBufSize    = 256
)

// InboundHandler applies client-originated actions. MessagingService
// satisfies it.
type InboundHandler interface {
	CanSubscribe(ctx context.Context, userID uuid.UUID, channel string) error
	SetTyping(ctx context.Context, userID, conversationID uuid.UUID, isTyping bool) error
	AcknowledgeDelivery(ctx context.Context, userID, messageID uuid.UUID) (*domain.Message, error)
}

// Client represents a single WebSocket connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	userID  uuid.UUID
	inbound InboundHandler
	log     zerolog.Logger

	mu            sync.RWMutex
	subscriptions map[string]struct{}

	// send is owned by the Hub, which closes it on unregister.
	send chan []byte
}

// NewClient creates a client already subscribed to its own user channels.
func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, inbound InboundHandler, log zerolog.Logger) *Client {
	c := &Client{
		hub:           hub,
		conn:          conn,
		userID:        userID,
		inbound:       inbound,
		log:           log.With().Str("user_id", userID.String()).Logger(),
		subscriptions: make(map[string]struct{}),
		send:          make(chan []byte, sendBufSize),
	}
	c.Subscribe(realtime.UserMessagesChannel(userID))
	c.Subscribe(realtime.UserStatusChannel(userID))
	return c
}

func (c *Client) IsSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *Client) Subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[channel] = struct{}{}
}

func (c *Client) Unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, channel)
}

// ReadPump reads client events until the connection or ctx closes.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()
	c.conn.SetReadLimit(maxMessageSize)

	for {
		var event Event
		if err := wsjson.Read(ctx, c.conn, &event); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.log.Debug().Msg("Client closed connection")
			} else {
				c.log.Warn().Err(err).Msg("WebSocket read failed")
			}
			return
		}
		c.handleEvent(ctx, &event)
	}
}

// WritePump drains the send channel to the socket and keeps the connection alive.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.write(ctx, message); err != nil {
				c.log.Warn().Err(err).Msg("WebSocket write failed")
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.log.Debug().Err(err).Msg("WebSocket ping failed")
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) handleEvent(ctx context.Context, event *Event) {
	switch event.Type {
	case EventTypeSubscribe:
		var p ChannelPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.Channel == "" {
			c.sendError(ctx, "INVALID_PAYLOAD", "invalid subscribe payload")
			return
		}
		if err := c.inbound.CanSubscribe(ctx, c.userID, p.Channel); err != nil {
			c.sendError(ctx, "FORBIDDEN", "cannot subscribe to "+p.Channel)
			return
		}
		c.Subscribe(p.Channel)
		c.reply(ctx, EventTypeSubscribed, p.Channel, p)

	case EventTypeUnsubscribe:
		var p ChannelPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.Channel == "" {
			c.sendError(ctx, "INVALID_PAYLOAD", "invalid unsubscribe payload")
			return
		}
		c.Unsubscribe(p.Channel)
		c.reply(ctx, EventTypeUnsubscribed, p.Channel, p)

	case EventTypeTypingStart, EventTypeTypingStop:
		var p TypingPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.ConversationID == uuid.Nil {
			c.sendError(ctx, "INVALID_PAYLOAD", "conversation_id required for typing events")
			return
		}
		if err := c.inbound.SetTyping(ctx, c.userID, p.ConversationID, event.Type == EventTypeTypingStart); err != nil {
			c.sendError(ctx, "FORBIDDEN", "cannot signal typing in this conversation")
		}

	case EventTypeMessageDelivered:
		var p DeliveredPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.MessageID == uuid.Nil {
			c.sendError(ctx, "INVALID_PAYLOAD", "message_id required")
			return
		}
		if _, err := c.inbound.AcknowledgeDelivery(ctx, c.userID, p.MessageID); err != nil {
			c.log.Debug().Err(err).Str("message_id", p.MessageID.String()).Msg("Delivery ack rejected")
			c.sendError(ctx, "ACK_REJECTED", err.Error())
		}

	case EventTypePing:
		c.reply(ctx, EventTypePong, "", struct{}{})

	default:
		c.sendError(ctx, "UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

func (c *Client) sendError(ctx context.Context, code, message string) {
	c.reply(ctx, EventTypeError, "", ErrorPayload{Code: code, Message: message})
}

// reply writes straight to the socket; the send channel belongs to the Hub.
func (c *Client) reply(ctx context.Context, eventType, channel string, payload any) {
	data, err := realtime.NewEnvelope(eventType, channel, payload)
	if err != nil {
		c.log.Error().Err(err).Str("type", eventType).Msg("Failed to encode reply")
		return
	}
	if err := c.write(ctx, data); err != nil {
		c.log.Debug().Err(err).Str("type", eventType).Msg("Failed to write reply")
	}
}

func (c *Client) write(ctx context.Context, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, data)
}
