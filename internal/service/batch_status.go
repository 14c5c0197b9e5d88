package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/vedran77/parley/internal/domain"
	"github.com/vedran77/parley/internal/metrics"
	"github.com/vedran77/parley/internal/repository"
)

// BatchStatusUpdater applies bulk status changes as single conditional
// statements. Both operations skip rows that are already at or past the
// target, so repeating a call changes nothing and reports zero.
type BatchStatusUpdater struct {
	conversations *ConversationManager
	msgRepo       repository.MessageRepository
}

func NewBatchStatusUpdater(conversations *ConversationManager, msgRepo repository.MessageRepository) *BatchStatusUpdater {
	return &BatchStatusUpdater{conversations: conversations, msgRepo: msgRepo}
}

// BatchAdvance moves the listed messages addressed to receiverID from one
// status to a later one. Only messages currently at from change; the
// returned ids are the ones that did.
func (b *BatchStatusUpdater) BatchAdvance(ctx context.Context, receiverID uuid.UUID, messageIDs []uuid.UUID, from, to domain.MessageStatus) ([]uuid.UUID, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	ids := lo.Uniq(messageIDs)
	if len(ids) == 0 {
		return []uuid.UUID{}, nil
	}

	changed, err := b.msgRepo.AdvanceStatus(ctx, receiverID, ids, from, to, now())
	if err != nil {
		return nil, fmt.Errorf("batch advancing status: %w", err)
	}
	metrics.RecordTransition("batch", string(to), len(changed))
	return nonNil(changed), nil
}

// MarkConversationRead moves every unread message addressed to userID in the
// conversation straight to READ, DELIVERED or not.
func (b *BatchStatusUpdater) MarkConversationRead(ctx context.Context, userID, conversationID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := b.conversations.GetForParticipant(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	changed, err := b.msgRepo.MarkConversationRead(ctx, conversationID, userID, now())
	if err != nil {
		return nil, fmt.Errorf("marking conversation read: %w", err)
	}
	metrics.RecordTransition("conversation_read", string(domain.StatusRead), len(changed))
	return nonNil(changed), nil
}

// CountUnreadForUser counts SENT and DELIVERED messages addressed to userID.
func (b *BatchStatusUpdater) CountUnreadForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	return b.msgRepo.CountUnreadForUser(ctx, userID)
}

func (b *BatchStatusUpdater) CountUnreadInConversation(ctx context.Context, userID, conversationID uuid.UUID) (int64, error) {
	if _, err := b.conversations.GetForParticipant(ctx, userID, conversationID); err != nil {
		return 0, err
	}
	return b.msgRepo.CountUnreadInConversation(ctx, conversationID, userID)
}

func nonNil(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
