package realtime

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	userPrefix         = "user:"
	conversationPrefix = "conversation:"
)

func UserMessagesChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s:messages", userID)
}

func UserStatusChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s:message-status", userID)
}

func ConversationChannel(conversationID uuid.UUID) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

func TypingChannel(conversationID uuid.UUID) string {
	return fmt.Sprintf("conversation:%s:typing", conversationID)
}

// ChannelScope identifies what a channel name belongs to.
type ChannelScope struct {
	UserID         uuid.UUID
	ConversationID uuid.UUID
	IsUser         bool
}

// ParseChannel recognises the four channel shapes and reports the owning
// user or conversation.
func ParseChannel(name string) (ChannelScope, bool) {
	switch {
	case strings.HasPrefix(name, userPrefix):
		rest := strings.TrimPrefix(name, userPrefix)
		idPart, suffix, ok := strings.Cut(rest, ":")
		if !ok || (suffix != "messages" && suffix != "message-status") {
			return ChannelScope{}, false
		}
		id, err := uuid.Parse(idPart)
		if err != nil {
			return ChannelScope{}, false
		}
		return ChannelScope{UserID: id, IsUser: true}, true

	case strings.HasPrefix(name, conversationPrefix):
		rest := strings.TrimPrefix(name, conversationPrefix)
		idPart, suffix, hasSuffix := strings.Cut(rest, ":")
		if hasSuffix && suffix != "typing" {
			return ChannelScope{}, false
		}
		id, err := uuid.Parse(idPart)
		if err != nil {
			return ChannelScope{}, false
		}
		return ChannelScope{ConversationID: id}, true
	}
	return ChannelScope{}, false
}
