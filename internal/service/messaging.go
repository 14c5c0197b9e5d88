package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/vedran77/parley/internal/domain"
	"github.com/vedran77/parley/internal/realtime"
	"github.com/vedran77/parley/internal/repository"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMessagePage = 50
	detailsConcurrency = 8
)

// DetailsReader is satisfied by the aggregator and by the details cache.
type DetailsReader interface {
	AggregateFor(ctx context.Context, conv domain.Conversation, viewerID uuid.UUID, includeMessages bool, previewLimit int) (*domain.ConversationDetails, error)
}

type MessagingService struct {
	conversations *ConversationManager
	messages      *MessageStateMachine
	batch         *BatchStatusUpdater
	details       DetailsReader
	msgRepo       repository.MessageRepository
	publisher     EventPublisher
	dispatcher    Dispatcher
	previewLimit  int
	log           zerolog.Logger
}

type MessagingDeps struct {
	Conversations *ConversationManager
	Messages      *MessageStateMachine
	Batch         *BatchStatusUpdater
	Details       DetailsReader
	MessageRepo   repository.MessageRepository
	Publisher     EventPublisher
	Dispatcher    Dispatcher
	PreviewLimit  int
}

func NewMessagingService(deps MessagingDeps, log zerolog.Logger) *MessagingService {
	s := &MessagingService{
		conversations: deps.Conversations,
		messages:      deps.Messages,
		batch:         deps.Batch,
		details:       deps.Details,
		msgRepo:       deps.MessageRepo,
		publisher:     deps.Publisher,
		dispatcher:    deps.Dispatcher,
		previewLimit:  clampLimit(deps.PreviewLimit, defaultPageSize),
		log:           log.With().Str("component", "messaging").Logger(),
	}
	if s.publisher == nil {
		s.publisher = nopPublisher{}
	}
	if s.dispatcher == nil {
		s.dispatcher = nopDispatcher{}
	}
	if s.details == nil {
		s.details = NewConversationDetailsAggregator(deps.MessageRepo)
	}
	return s
}

type MessageListResponse struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// SendMessage delivers a message from sender to receiver, starting the
// conversation if they have none. Once the message is stored the send has
// succeeded; cache events and pushes follow asynchronously.
func (s *MessagingService) SendMessage(ctx context.Context, senderID, receiverID uuid.UUID, content string, imageURL *string) (*domain.Message, error) {
	if _, err := validateBody(content, imageURL); err != nil {
		return nil, err
	}
	conv, _, err := s.conversations.GetOrCreate(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, conv, senderID, content, imageURL)
}

// SendToConversation sends into an existing conversation; the receiver is
// the other participant.
func (s *MessagingService) SendToConversation(ctx context.Context, senderID, conversationID uuid.UUID, content string, imageURL *string) (*domain.Message, error) {
	conv, err := s.conversations.GetForParticipant(ctx, senderID, conversationID)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, conv, senderID, content, imageURL)
}

func (s *MessagingService) send(ctx context.Context, conv *domain.Conversation, senderID uuid.UUID, content string, imageURL *string) (*domain.Message, error) {
	msg, err := s.messages.Create(ctx, senderID, conv.Interlocutor(senderID), conv.ID, content, imageURL)
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(domain.NewEvent(domain.EventMessageCreated, senderID, conv.ID, msg.ID))
	s.dispatcher.PushNewMessage(*msg)
	return msg, nil
}

// MarkConversationRead marks everything addressed to userID in the
// conversation as read and returns how many messages changed.
func (s *MessagingService) MarkConversationRead(ctx context.Context, userID, conversationID uuid.UUID) (int, error) {
	conv, err := s.conversations.GetForParticipant(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}
	changed, err := s.batch.MarkConversationRead(ctx, userID, conv.ID)
	if err != nil {
		return 0, err
	}
	if len(changed) == 0 {
		return 0, nil
	}

	s.publisher.Publish(domain.NewEvent(domain.EventMessagesRead, userID, conv.ID, changed...))
	s.dispatcher.PushReadReceipt(conv.ID, userID, conv.Interlocutor(userID), changed)
	return len(changed), nil
}

// AcknowledgeDelivery moves one message from SENT to DELIVERED. Repeating it
// is a no-op.
func (s *MessagingService) AcknowledgeDelivery(ctx context.Context, userID, messageID uuid.UUID) (*domain.Message, error) {
	msg, changed, err := s.messages.Advance(ctx, messageID, userID, domain.StatusDelivered)
	if err != nil {
		return nil, err
	}
	if changed {
		s.publisher.Publish(domain.NewEvent(domain.EventMessagesDelivered, userID, msg.ConversationID, msg.ID))
		s.dispatcher.PushStatusChanged(*msg)
	}
	return msg, nil
}

// BatchAcknowledgeDelivery moves the listed SENT messages addressed to userID
// to DELIVERED and returns how many changed.
func (s *MessagingService) BatchAcknowledgeDelivery(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) (int, error) {
	changed, err := s.batch.BatchAdvance(ctx, userID, messageIDs, domain.StatusSent, domain.StatusDelivered)
	if err != nil {
		return 0, err
	}
	if len(changed) == 0 {
		return 0, nil
	}

	// The ids may span conversations; events and pushes are per conversation.
	var delivered []domain.Message
	for _, id := range changed {
		msg, err := s.msgRepo.GetByID(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("message_id", id.String()).Msg("Could not load delivered message for notification")
			continue
		}
		if msg != nil {
			delivered = append(delivered, *msg)
		}
	}
	byConversation := lo.GroupBy(delivered, func(m domain.Message) uuid.UUID { return m.ConversationID })
	for convID, msgs := range byConversation {
		ids := lo.Map(msgs, func(m domain.Message, _ int) uuid.UUID { return m.ID })
		s.publisher.Publish(domain.NewEvent(domain.EventMessagesDelivered, userID, convID, ids...))
		for _, m := range msgs {
			s.dispatcher.PushStatusChanged(m)
		}
	}
	return len(changed), nil
}

func (s *MessagingService) EditMessage(ctx context.Context, userID, messageID uuid.UUID, content string, imageURL *string) (*domain.Message, error) {
	msg, err := s.messages.Edit(ctx, messageID, userID, content, imageURL)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(domain.NewEvent(domain.EventMessageUpdated, userID, msg.ConversationID, msg.ID))
	s.dispatcher.PushMessageUpdated(*msg)
	return msg, nil
}

func (s *MessagingService) DeleteMessage(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, err := s.messages.Delete(ctx, messageID, userID)
	if err != nil {
		return err
	}
	s.publisher.Publish(domain.NewEvent(domain.EventMessageDeleted, userID, msg.ConversationID, msg.ID))
	s.dispatcher.PushMessageDeleted(msg.ConversationID, msg.ID)
	return nil
}

func (s *MessagingService) DeleteConversation(ctx context.Context, userID, conversationID uuid.UUID) error {
	return s.conversations.Delete(ctx, userID, conversationID)
}

// SetTyping broadcasts a typing indicator. Nothing is stored.
func (s *MessagingService) SetTyping(ctx context.Context, userID, conversationID uuid.UUID, isTyping bool) error {
	if _, err := s.conversations.GetForParticipant(ctx, userID, conversationID); err != nil {
		return err
	}
	s.dispatcher.PushTyping(conversationID, userID, isTyping)
	return nil
}

// StartConversation is get-or-create for the HTTP API.
func (s *MessagingService) StartConversation(ctx context.Context, userID, otherUserID uuid.UUID) (*domain.ConversationDetails, bool, error) {
	conv, created, err := s.conversations.GetOrCreate(ctx, userID, otherUserID)
	if err != nil {
		return nil, false, err
	}
	details, err := s.details.AggregateFor(ctx, *conv, userID, false, s.previewLimit)
	if err != nil {
		return nil, false, err
	}
	return details, created, nil
}

// ListConversations returns the user's conversations with details, most
// recently updated first.
func (s *MessagingService) ListConversations(ctx context.Context, userID uuid.UUID, offset, limit int, includeMessages bool) ([]domain.ConversationDetails, error) {
	convs, err := s.conversations.ListForUser(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ConversationDetails, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailsConcurrency)
	for i, conv := range convs {
		g.Go(func() error {
			d, err := s.details.AggregateFor(gctx, conv, userID, includeMessages, s.previewLimit)
			if err != nil {
				return fmt.Errorf("conversation %s details: %w", conv.ID, err)
			}
			out[i] = *d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MessagingService) GetConversation(ctx context.Context, userID, conversationID uuid.UUID, includeMessages bool) (*domain.ConversationDetails, error) {
	conv, err := s.conversations.GetForParticipant(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	return s.details.AggregateFor(ctx, *conv, userID, includeMessages, s.previewLimit)
}

// ListMessages pages backwards through a conversation. Messages come back in
// chronological order; before is an exclusive message-id cursor.
func (s *MessagingService) ListMessages(ctx context.Context, userID, conversationID uuid.UUID, before *uuid.UUID, limit int) (*MessageListResponse, error) {
	if _, err := s.conversations.GetForParticipant(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, defaultMessagePage)

	// Fetch one extra to know whether there is more.
	messages, err := s.msgRepo.ListBefore(ctx, conversationID, before, limit+1)
	if err != nil {
		return nil, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	slices.Reverse(messages)

	if messages == nil {
		messages = []domain.Message{}
	}
	return &MessageListResponse{
		Messages: messages,
		HasMore:  hasMore,
	}, nil
}

func (s *MessagingService) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.batch.CountUnreadForUser(ctx, userID)
}

func (s *MessagingService) ConversationUnreadCount(ctx context.Context, userID, conversationID uuid.UUID) (int64, error) {
	return s.batch.CountUnreadInConversation(ctx, userID, conversationID)
}

// CanSubscribe decides whether userID may listen on a realtime channel: its
// own user channels, or channels of conversations it takes part in.
func (s *MessagingService) CanSubscribe(ctx context.Context, userID uuid.UUID, channel string) error {
	scope, ok := realtime.ParseChannel(channel)
	if !ok {
		return fmt.Errorf("%w: unknown channel %q", ErrAccessDenied, channel)
	}
	if scope.IsUser {
		if scope.UserID != userID {
			return ErrAccessDenied
		}
		return nil
	}
	_, err := s.conversations.GetForParticipant(ctx, userID, scope.ConversationID)
	return err
}
