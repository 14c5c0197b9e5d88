package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vedran77/parley/internal/domain"
	"github.com/vedran77/parley/internal/repository"
	"golang.org/x/sync/singleflight"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ConversationManager owns conversation identity: one conversation per
// unordered pair of users.
type ConversationManager struct {
	convRepo  repository.ConversationRepository
	msgRepo   repository.MessageRepository
	publisher EventPublisher
	log       zerolog.Logger

	creating singleflight.Group
}

func NewConversationManager(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	publisher EventPublisher,
	log zerolog.Logger,
) *ConversationManager {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &ConversationManager{
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		publisher: publisher,
		log:       log.With().Str("component", "conversations").Logger(),
	}
}

type getOrCreateResult struct {
	conv    *domain.Conversation
	created bool
}

// GetOrCreate returns the conversation between userA and userB, creating it
// if needed. created reports whether this call inserted the row.
func (m *ConversationManager) GetOrCreate(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, bool, error) {
	if userA == userB {
		return nil, false, ErrSelfConversation
	}

	a, b := domain.CanonicalPair(userA, userB)
	// Coalesced callers share the leader's work, including its actor, so one
	// caller's cancellation must not fail the others.
	v, err, _ := m.creating.Do(a.String()+":"+b.String(), func() (interface{}, error) {
		return m.getOrCreate(context.WithoutCancel(ctx), userA, a, b)
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(getOrCreateResult)
	conv := *res.conv
	return &conv, res.created, nil
}

func (m *ConversationManager) getOrCreate(ctx context.Context, actorID, a, b uuid.UUID) (getOrCreateResult, error) {
	conv, err := m.convRepo.GetByParticipants(ctx, a, b)
	if err != nil {
		return getOrCreateResult{}, err
	}
	if conv != nil {
		return getOrCreateResult{conv: conv}, nil
	}

	at := now()
	conv = &domain.Conversation{
		ID:           uuid.New(),
		ParticipantA: a,
		ParticipantB: b,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	result, err := m.convRepo.Create(ctx, conv)
	if err != nil {
		return getOrCreateResult{}, fmt.Errorf("creating conversation: %w", err)
	}

	if result == repository.AlreadyExists {
		// Another process inserted the pair first.
		winner, err := m.convRepo.GetByParticipants(ctx, a, b)
		if err != nil {
			return getOrCreateResult{}, err
		}
		if winner == nil {
			return getOrCreateResult{}, fmt.Errorf("conversation for %s/%s vanished after uniqueness conflict", a, b)
		}
		m.log.Debug().Str("conversation_id", winner.ID.String()).Msg("Lost conversation create race")
		return getOrCreateResult{conv: winner}, nil
	}

	m.publisher.Publish(domain.NewEvent(domain.EventConversationCreated, actorID, conv.ID))
	return getOrCreateResult{conv: conv, created: true}, nil
}

func (m *ConversationManager) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	conv, err := m.convRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// GetForParticipant is GetByID plus the participant check every
// conversation-scoped operation needs.
func (m *ConversationManager) GetForParticipant(ctx context.Context, actorID, id uuid.UUID) (*domain.Conversation, error) {
	conv, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(actorID) {
		return nil, ErrAccessDenied
	}
	return conv, nil
}

// Delete removes the conversation's messages and then the conversation. The
// two steps are not atomic: a failure in between leaves an empty but valid
// conversation.
func (m *ConversationManager) Delete(ctx context.Context, actorID, id uuid.UUID) error {
	if _, err := m.GetForParticipant(ctx, actorID, id); err != nil {
		return err
	}

	deleted, err := m.msgRepo.DeleteByConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting conversation messages: %w", err)
	}
	if err := m.convRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	m.publisher.Publish(domain.NewEvent(domain.EventConversationDeleted, actorID, id, deleted...))
	return nil
}

// ListForUser returns the user's conversations, most recently updated first.
func (m *ConversationManager) ListForUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]domain.Conversation, error) {
	if offset < 0 {
		offset = 0
	}
	limit = clampLimit(limit, defaultPageSize)

	convs, err := m.convRepo.ListByUser(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	return convs, nil
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
