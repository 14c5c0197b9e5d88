package ws

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Event types - Client → Server
const (
	EventTypeSubscribe        = "subscribe"
	EventTypeUnsubscribe      = "unsubscribe"
	EventTypeTypingStart      = "typing.start"
	EventTypeTypingStop       = "typing.stop"
	EventTypeMessageDelivered = "message.delivered"
	EventTypePing             = "ping"
)

// Event types - Server → Client. Message, status and typing pushes use the
// realtime envelope types.
const (
	EventTypeSubscribed   = "subscribed"
	EventTypeUnsubscribed = "unsubscribed"
	EventTypePong         = "pong"
	EventTypeError        = "error"
)

// Event is the envelope a client sends.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Client → Server payloads ---

type ChannelPayload struct {
	Channel string `json:"channel"`
}

type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type DeliveredPayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

// --- Server → Client payloads ---

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
