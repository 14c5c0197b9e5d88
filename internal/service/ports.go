package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/parley/internal/domain"
)

// EventPublisher receives committed changes. Publish must not block.
type EventPublisher interface {
	Publish(evt domain.Event)
}

// Dispatcher broadcasts real-time events to connected clients. Every method
// is fire-and-forget.
type Dispatcher interface {
	PushNewMessage(msg domain.Message)
	PushMessageUpdated(msg domain.Message)
	PushMessageDeleted(conversationID, messageID uuid.UUID)
	PushReadReceipt(conversationID, readerID, interlocutorID uuid.UUID, messageIDs []uuid.UUID)
	PushStatusChanged(msg domain.Message)
	PushTyping(conversationID, userID uuid.UUID, isTyping bool)
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.Event) {}

type nopDispatcher struct{}

func (nopDispatcher) PushNewMessage(domain.Message) {}
func (nopDispatcher) PushMessageUpdated(domain.Message) {}
func (nopDispatcher) PushMessageDeleted(uuid.UUID, uuid.UUID) {}
func (nopDispatcher) PushReadReceipt(uuid.UUID, uuid.UUID, uuid.UUID, []uuid.UUID) {}
func (nopDispatcher) PushStatusChanged(domain.Message) {}
func (nopDispatcher) PushTyping(uuid.UUID, uuid.UUID, bool) {}

// now is the store clock: UTC at the precision Postgres keeps.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
