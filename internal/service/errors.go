package service

import "errors"

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrAccessDenied         = errors.New("access denied")
	ErrSelfConversation     = errors.New("cannot start a conversation with yourself")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrInvalidImage         = errors.New("image url must not be blank")
	ErrEmptyMessage         = errors.New("message needs content or an image")
)
