// Package memory is a process-local store with the same uniqueness and
// conditional-update semantics as the postgres repositories.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/vedran77/parley/internal/domain"
	"github.com/vedran77/parley/internal/repository"
)

type pairKey struct {
	a, b uuid.UUID
}

type Store struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]domain.Conversation
	byPair        map[pairKey]uuid.UUID
	messages      map[uuid.UUID]domain.Message
}

func NewStore() *Store {
	return &Store{
		conversations: make(map[uuid.UUID]domain.Conversation),
		byPair:        make(map[pairKey]uuid.UUID),
		messages:      make(map[uuid.UUID]domain.Message),
	}
}

func (s *Store) Conversations() *ConversationRepo { return &ConversationRepo{s: s} }

func (s *Store) Messages() *MessageRepo { return &MessageRepo{s: s} }

type ConversationRepo struct {
	s *Store
}

var _ repository.ConversationRepository = (*ConversationRepo)(nil)

func (r *ConversationRepo) Create(_ context.Context, conv *domain.Conversation) (repository.CreateResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, b := domain.CanonicalPair(conv.ParticipantA, conv.ParticipantB)
	key := pairKey{a, b}
	if _, ok := r.s.byPair[key]; ok {
		return repository.AlreadyExists, nil
	}
	stored := *conv
	stored.ParticipantA, stored.ParticipantB = a, b
	r.s.conversations[stored.ID] = stored
	r.s.byPair[key] = stored.ID
	return repository.Created, nil
}

func (r *ConversationRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	conv, ok := r.s.conversations[id]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (r *ConversationRepo) GetByParticipants(_ context.Context, participantA, participantB uuid.UUID) (*domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, b := domain.CanonicalPair(participantA, participantB)
	id, ok := r.s.byPair[pairKey{a, b}]
	if !ok {
		return nil, nil
	}
	conv := r.s.conversations[id]
	return &conv, nil
}

func (r *ConversationRepo) ListByUser(_ context.Context, userID uuid.UUID, offset, limit int) ([]domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var convs []domain.Conversation
	for _, conv := range r.s.conversations {
		if conv.HasParticipant(userID) {
			convs = append(convs, conv)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID.String() > convs[j].ID.String()
	})
	return page(convs, offset, limit), nil
}

func (r *ConversationRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	conv, ok := r.s.conversations[id]
	if !ok {
		return nil
	}
	delete(r.s.byPair, pairKey{conv.ParticipantA, conv.ParticipantB})
	delete(r.s.conversations, id)
	return nil
}

type MessageRepo struct {
	s *Store
}

var _ repository.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(_ context.Context, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.messages[msg.ID] = cloneMessage(*msg)
	if conv, ok := r.s.conversations[msg.ConversationID]; ok && conv.UpdatedAt.Before(msg.CreatedAt) {
		conv.UpdatedAt = msg.CreatedAt
		r.s.conversations[conv.ID] = conv
	}
	return nil
}

func (r *MessageRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	msg, ok := r.s.messages[id]
	if !ok {
		return nil, nil
	}
	msg = cloneMessage(msg)
	return &msg, nil
}

func (r *MessageRepo) ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.Message, error) {
	return r.ListBefore(ctx, conversationID, nil, limit)
}

func (r *MessageRepo) ListBefore(_ context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	msgs := r.conversationMessagesLocked(conversationID)
	if before != nil {
		cursor, ok := r.s.messages[*before]
		if !ok || cursor.ConversationID != conversationID {
			return nil, nil
		}
		msgs = lo.Filter(msgs, func(m domain.Message, _ int) bool {
			return newerFirst(cursor, m)
		})
	}
	return page(msgs, 0, limit), nil
}

func (r *MessageRepo) UpdateContent(_ context.Context, msg *domain.Message) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.messages[msg.ID]
	if !ok {
		return false, nil
	}
	stored.Content = msg.Content
	stored.ImageURL = nil
	if msg.ImageURL != nil {
		stored.ImageURL = lo.ToPtr(*msg.ImageURL)
	}
	at := msg.UpdatedAt
	stored.UpdatedAt = at
	stored.EditedAt = &at
	r.s.messages[msg.ID] = stored
	return true, nil
}

func (r *MessageRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.messages, id)
	return nil
}

func (r *MessageRepo) DeleteByConversation(_ context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var ids []uuid.UUID
	for id, msg := range r.s.messages {
		if msg.ConversationID == conversationID {
			ids = append(ids, id)
			delete(r.s.messages, id)
		}
	}
	return ids, nil
}

func (r *MessageRepo) CompareAndSetStatus(_ context.Context, id uuid.UUID, from, to domain.MessageStatus, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	msg, ok := r.s.messages[id]
	if !ok || msg.Status != from {
		return false, nil
	}
	msg.Status = to
	msg.UpdatedAt = at
	r.s.messages[id] = msg
	return true, nil
}

func (r *MessageRepo) AdvanceStatus(_ context.Context, receiverID uuid.UUID, ids []uuid.UUID, from, to domain.MessageStatus, at time.Time) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var changed []uuid.UUID
	for _, id := range lo.Uniq(ids) {
		msg, ok := r.s.messages[id]
		if !ok || msg.ReceiverID != receiverID || msg.Status != from {
			continue
		}
		msg.Status = to
		msg.UpdatedAt = at
		r.s.messages[id] = msg
		changed = append(changed, id)
	}
	return changed, nil
}

func (r *MessageRepo) MarkConversationRead(_ context.Context, conversationID, receiverID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var changed []uuid.UUID
	for id, msg := range r.s.messages {
		if msg.ConversationID != conversationID || msg.ReceiverID != receiverID || msg.Status == domain.StatusRead {
			continue
		}
		msg.Status = domain.StatusRead
		msg.UpdatedAt = at
		r.s.messages[id] = msg
		changed = append(changed, id)
	}
	return changed, nil
}

func (r *MessageRepo) CountUnreadForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, msg := range r.s.messages {
		if msg.ReceiverID == userID && msg.IsUnread() {
			n++
		}
	}
	return n, nil
}

func (r *MessageRepo) CountUnreadInConversation(_ context.Context, conversationID, userID uuid.UUID) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, msg := range r.s.messages {
		if msg.ConversationID == conversationID && msg.ReceiverID == userID && msg.IsUnread() {
			n++
		}
	}
	return n, nil
}

// conversationMessagesLocked returns the conversation's messages newest first.
func (r *MessageRepo) conversationMessagesLocked(conversationID uuid.UUID) []domain.Message {
	var msgs []domain.Message
	for _, msg := range r.s.messages {
		if msg.ConversationID == conversationID {
			msgs = append(msgs, cloneMessage(msg))
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		return newerFirst(msgs[i], msgs[j])
	})
	return msgs
}

// newerFirst orders by (created_at, id) descending, matching the SQL ordering.
func newerFirst(a, b domain.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}

func cloneMessage(m domain.Message) domain.Message {
	if m.ImageURL != nil {
		m.ImageURL = lo.ToPtr(*m.ImageURL)
	}
	if m.EditedAt != nil {
		m.EditedAt = lo.ToPtr(*m.EditedAt)
	}
	return m
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
