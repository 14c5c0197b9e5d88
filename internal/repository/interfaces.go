package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/parley/internal/domain"
)

// CreateResult distinguishes a fresh insert from losing a uniqueness race.
type CreateResult int

const (
	Created CreateResult = iota
	AlreadyExists
)

func (r CreateResult) String() string {
	if r == AlreadyExists {
		return "already_exists"
	}
	return "created"
}

// Lookups return (nil, nil) when the row does not exist.
type ConversationRepository interface {
	// Create inserts conv. If a conversation for the same canonical pair
	// already exists it returns AlreadyExists and a nil error.
	Create(ctx context.Context, conv *domain.Conversation) (CreateResult, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	GetByParticipants(ctx context.Context, participantA, participantB uuid.UUID) (*domain.Conversation, error)
	ListByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]domain.Conversation, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type MessageRepository interface {
	// Create inserts msg and bumps the conversation's updated_at in one transaction.
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	// ListRecent returns up to limit messages, newest first.
	ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.Message, error)
	// ListBefore pages backwards from the message with id before (exclusive), newest first.
	ListBefore(ctx context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error)
	// UpdateContent reports false when the message no longer exists.
	UpdateContent(ctx context.Context, msg *domain.Message) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteByConversation removes every message in the conversation and returns their ids.
	DeleteByConversation(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)

	// CompareAndSetStatus moves a message from -> to only if it is currently at from.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to domain.MessageStatus, at time.Time) (bool, error)
	// AdvanceStatus moves every listed message addressed to receiverID that is
	// currently at from to status to, returning the ids that changed.
	AdvanceStatus(ctx context.Context, receiverID uuid.UUID, ids []uuid.UUID, from, to domain.MessageStatus, at time.Time) ([]uuid.UUID, error)
	// MarkConversationRead moves every non-READ message addressed to receiverID
	// in the conversation to READ, returning the ids that changed.
	MarkConversationRead(ctx context.Context, conversationID, receiverID uuid.UUID, at time.Time) ([]uuid.UUID, error)

	CountUnreadForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	CountUnreadInConversation(ctx context.Context, conversationID, userID uuid.UUID) (int64, error)
}
