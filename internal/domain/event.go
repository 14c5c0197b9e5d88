package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventMessageCreated      EventType = "MessageCreated"
	EventMessageUpdated      EventType = "MessageUpdated"
	EventMessageDeleted      EventType = "MessageDeleted"
	EventMessagesRead        EventType = "MessagesRead"
	EventMessagesDelivered   EventType = "MessagesDelivered"
	EventConversationCreated EventType = "ConversationCreated"
	EventConversationDeleted EventType = "ConversationDeleted"
)

// Event describes a committed change. Cache layers key on ConversationID and
// MessageIDs so a duplicated or reordered event can be recomputed, not replayed.
type Event struct {
	Type           EventType   `json:"type"`
	ActorID        uuid.UUID   `json:"actorId"`
	ConversationID uuid.UUID   `json:"conversationId"`
	MessageIDs     []uuid.UUID `json:"messageIds"`
	OccurredAt     time.Time   `json:"occurredAt"`
}

func NewEvent(t EventType, actorID, conversationID uuid.UUID, messageIDs ...uuid.UUID) Event {
	ids := make([]uuid.UUID, len(messageIDs))
	copy(ids, messageIDs)
	return Event{
		Type:           t,
		ActorID:        actorID,
		ConversationID: conversationID,
		MessageIDs:     ids,
		OccurredAt:     time.Now().UTC(),
	}
}
