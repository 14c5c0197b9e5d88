package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/vedran77/parley/internal/domain"
	"github.com/vedran77/parley/internal/metrics"
	"github.com/vedran77/parley/internal/repository"
)

// MessageStateMachine is the only path for single-message changes: creation,
// content edits, deletion and one-step status advances.
type MessageStateMachine struct {
	msgRepo repository.MessageRepository
}

func NewMessageStateMachine(msgRepo repository.MessageRepository) *MessageStateMachine {
	return &MessageStateMachine{msgRepo: msgRepo}
}

// CanTransition reports whether a single message may move from -> to in one step.
func CanTransition(from, to domain.MessageStatus) bool {
	next, ok := from.Next()
	return ok && next == to
}

// Create persists a new SENT message. The conversation's updated_at moves in
// the same transaction.
func (sm *MessageStateMachine) Create(ctx context.Context, senderID, receiverID, conversationID uuid.UUID, content string, imageURL *string) (*domain.Message, error) {
	image, err := validateBody(content, imageURL)
	if err != nil {
		return nil, err
	}

	at := now()
	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		ImageURL:       image,
		Status:         domain.StatusSent,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	if err := sm.msgRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}
	return msg, nil
}

// Advance moves a message one step forward on behalf of its receiver.
// Requesting the status the message already has is a successful no-op and
// reports changed=false.
func (sm *MessageStateMachine) Advance(ctx context.Context, messageID, actingUserID uuid.UUID, target domain.MessageStatus) (*domain.Message, bool, error) {
	if !target.Valid() {
		return nil, false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}

	// Status only moves forward, so a lost compare-and-set can repeat at most
	// once per remaining step.
	for attempt := 0; attempt <= len(statusSteps); attempt++ {
		msg, err := sm.get(ctx, messageID)
		if err != nil {
			return nil, false, err
		}
		if msg.ReceiverID != actingUserID {
			return nil, false, ErrAccessDenied
		}
		if msg.Status == target {
			return msg, false, nil
		}
		if !CanTransition(msg.Status, target) {
			return nil, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, msg.Status, target)
		}

		at := now()
		ok, err := sm.msgRepo.CompareAndSetStatus(ctx, msg.ID, msg.Status, target, at)
		if err != nil {
			return nil, false, fmt.Errorf("advancing message status: %w", err)
		}
		if ok {
			msg.Status = target
			msg.UpdatedAt = at
			metrics.RecordTransition("single", string(target), 1)
			return msg, true, nil
		}
	}
	return nil, false, fmt.Errorf("advancing message %s: status kept changing", messageID)
}

var statusSteps = []domain.MessageStatus{domain.StatusSent, domain.StatusDelivered, domain.StatusRead}

// Edit replaces content and image on behalf of the sender.
func (sm *MessageStateMachine) Edit(ctx context.Context, messageID, actingUserID uuid.UUID, content string, imageURL *string) (*domain.Message, error) {
	msg, err := sm.get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != actingUserID {
		return nil, ErrAccessDenied
	}
	image, err := validateBody(content, imageURL)
	if err != nil {
		return nil, err
	}

	at := now()
	msg.Content = content
	msg.ImageURL = image
	msg.UpdatedAt = at
	msg.EditedAt = &at
	ok, err := sm.msgRepo.UpdateContent(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("updating message: %w", err)
	}
	if !ok {
		// Deleted between the read and the write.
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

// Delete removes a message on behalf of the sender and returns what was removed.
func (sm *MessageStateMachine) Delete(ctx context.Context, messageID, actingUserID uuid.UUID) (*domain.Message, error) {
	msg, err := sm.get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != actingUserID {
		return nil, ErrAccessDenied
	}
	if err := sm.msgRepo.Delete(ctx, messageID); err != nil {
		return nil, fmt.Errorf("deleting message: %w", err)
	}
	return msg, nil
}

func (sm *MessageStateMachine) get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	msg, err := sm.msgRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

// validateBody returns the normalized image url. An image reference that is
// present but blank is rejected, and a message needs text or an image.
func validateBody(content string, imageURL *string) (*string, error) {
	var image *string
	if imageURL != nil {
		trimmed := strings.TrimSpace(*imageURL)
		if trimmed == "" {
			return nil, ErrInvalidImage
		}
		image = &trimmed
	}
	if strings.TrimSpace(content) == "" && image == nil {
		return nil, ErrEmptyMessage
	}
	return image, nil
}
