package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus tracks delivery and consumption, not content changes.
type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
)

var statusRank = map[MessageStatus]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

func (s MessageStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank orders statuses along SENT -> DELIVERED -> READ. Unknown statuses rank -1.
func (s MessageStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Next returns the immediate successor, or false for READ.
func (s MessageStatus) Next() (MessageStatus, bool) {
	switch s {
	case StatusSent:
		return StatusDelivered, true
	case StatusDelivered:
		return StatusRead, true
	default:
		return "", false
	}
}

// Before reports whether s comes strictly earlier in the lifecycle than other.
func (s MessageStatus) Before(other MessageStatus) bool {
	return s.Valid() && other.Valid() && s.Rank() < other.Rank()
}

type Message struct {
	ID             uuid.UUID     `json:"id"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	SenderID       uuid.UUID     `json:"sender_id"`
	ReceiverID     uuid.UUID     `json:"receiver_id"`
	Content        string        `json:"content"`
	ImageURL       *string       `json:"image_url,omitempty"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	EditedAt       *time.Time    `json:"edited_at,omitempty"`
}

// IsUnread is true for SENT and DELIVERED.
func (m *Message) IsUnread() bool {
	return m.Status != StatusRead
}
