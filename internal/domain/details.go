package domain

// ConversationDetails is the read model for list and detail views.
type ConversationDetails struct {
	Conversation
	Messages    []Message `json:"messages,omitempty"`
	UnreadCount *int64    `json:"unread_count,omitempty"`
}
