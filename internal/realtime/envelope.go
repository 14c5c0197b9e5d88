package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/parley/internal/domain"
)

// Server -> client event types.
const (
	EventMessageNew     = "message.new"
	EventMessageUpdated = "message.updated"
	EventMessageDeleted = "message.deleted"
	EventMessageStatus  = "message.status"
	EventMessagesRead   = "messages.read"
	EventTyping         = "typing"
)

// Envelope is the wire shape pushed on every channel.
type Envelope struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts"`
}

type MessagePayload struct {
	domain.Message
}

type MessageDeletedPayload struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
}

type StatusPayload struct {
	MessageID      uuid.UUID            `json:"message_id"`
	ConversationID uuid.UUID            `json:"conversation_id"`
	Status         domain.MessageStatus `json:"status"`
}

type ReadReceiptPayload struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	ReaderID       uuid.UUID   `json:"reader_id"`
	MessageIDs     []uuid.UUID `json:"message_ids"`
}

type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
}

// NewEnvelope marshals payload into a timestamped envelope.
func NewEnvelope(eventType, channel string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:      eventType,
		Channel:   channel,
		Payload:   data,
		Timestamp: time.Now().UnixMilli(),
	})
}
