package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/vedran77/parley/internal/domain"
	"github.com/vedran77/parley/internal/repository"
	"golang.org/x/sync/errgroup"
)

// ConversationDetailsAggregator assembles read models. It never changes
// message status: viewing is not reading.
type ConversationDetailsAggregator struct {
	msgRepo repository.MessageRepository
}

func NewConversationDetailsAggregator(msgRepo repository.MessageRepository) *ConversationDetailsAggregator {
	return &ConversationDetailsAggregator{msgRepo: msgRepo}
}

// Aggregate returns conv with up to previewLimit most recent messages,
// newest first.
func (a *ConversationDetailsAggregator) Aggregate(ctx context.Context, conv domain.Conversation, includeMessages bool, previewLimit int) (*domain.ConversationDetails, error) {
	return a.AggregateFor(ctx, conv, uuid.Nil, includeMessages, previewLimit)
}

// AggregateFor is Aggregate plus the viewer's unread count when viewerID is set.
func (a *ConversationDetailsAggregator) AggregateFor(ctx context.Context, conv domain.Conversation, viewerID uuid.UUID, includeMessages bool, previewLimit int) (*domain.ConversationDetails, error) {
	details := &domain.ConversationDetails{Conversation: conv}
	g, gctx := errgroup.WithContext(ctx)

	if includeMessages {
		limit := clampLimit(previewLimit, defaultPageSize)
		g.Go(func() error {
			msgs, err := a.msgRepo.ListRecent(gctx, conv.ID, limit)
			if err != nil {
				return err
			}
			if msgs == nil {
				msgs = []domain.Message{}
			}
			details.Messages = msgs
			return nil
		})
	}
	if viewerID != uuid.Nil {
		g.Go(func() error {
			n, err := a.msgRepo.CountUnreadInConversation(gctx, conv.ID, viewerID)
			if err != nil {
				return err
			}
			details.UnreadCount = &n
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return details, nil
}
