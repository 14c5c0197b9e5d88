package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/parley/internal/domain"
	"github.com/vedran77/parley/internal/mocks"
	"github.com/vedran77/parley/internal/realtime"
	"github.com/vedran77/parley/internal/repository"
	"go.uber.org/mock/gomock"
)

func TestMessagingService_SendAndReadScenario(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()

	// Given no prior conversation, when alice sends "hi" to bob
	msg, err := f.svc.SendMessage(ctx, alice, bob, "hi", nil)
	req.NoError(err)

	// Then a conversation exists with one SENT message
	req.Equal(domain.StatusSent, msg.Status)
	req.Equal(bob, msg.ReceiverID)
	convs, err := f.svc.ListConversations(ctx, bob, 0, 10, true)
	req.NoError(err)
	req.Len(convs, 1)
	req.Len(convs[0].Messages, 1)
	req.Equal(int64(1), *convs[0].UnreadCount)

	// When bob opens the conversation
	count, err := f.svc.MarkConversationRead(ctx, bob, msg.ConversationID)
	req.NoError(err)
	req.Equal(1, count)
	req.Equal(domain.StatusRead, f.status(t, msg.ID))

	// And does it again
	count, err = f.svc.MarkConversationRead(ctx, bob, msg.ConversationID)
	req.NoError(err)
	req.Equal(0, count)

	req.Equal([]domain.EventType{
		domain.EventConversationCreated,
		domain.EventMessageCreated,
		domain.EventMessagesRead,
	}, f.publisher.types())
	req.Equal([]string{"new", "read"}, f.dispatcher.kinds())
	req.Equal(alice, f.dispatcher.pushes[1].to)
}

func TestMessagingService_SendSucceedsWhenTransportAlwaysFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	req := require.New(t)
	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().
		Publish(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("socket closed")).
		AnyTimes()

	dispatcher := realtime.NewDispatcher(transport, zerolog.Nop(), realtime.Options{Workers: 2, Timeout: 50 * time.Millisecond})
	dispatcher.Start(context.Background())
	f := newFixtureWithDispatcher(t, dispatcher)
	alice, bob := uuid.New(), uuid.New()

	msg, err := f.svc.SendMessage(context.Background(), alice, bob, "hi", nil)
	req.NoError(err)
	req.NotNil(msg)

	n, err := f.svc.MarkConversationRead(context.Background(), bob, msg.ConversationID)
	req.NoError(err)
	req.Equal(1, n)

	req.NoError(f.svc.SetTyping(context.Background(), alice, msg.ConversationID, true))
	dispatcher.Close()
}

func TestMessagingService_ValidationHappensBeforeAnyMutation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()

	_, err := f.svc.SendMessage(ctx, alice, bob, "hi", lo.ToPtr("  "))
	req.ErrorIs(err, ErrInvalidImage)
	_, err = f.svc.SendMessage(ctx, alice, alice, "hi", nil)
	req.ErrorIs(err, ErrSelfConversation)

	convs, err := f.svc.ListConversations(ctx, alice, 0, 10, false)
	req.NoError(err)
	req.Empty(convs)
	req.Empty(f.publisher.types())
	req.Empty(f.dispatcher.kinds())
}

func TestMessagingService_ConversationScopedAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice, bob, mallory := uuid.New(), uuid.New(), uuid.New()
	msg := f.sendText(t, alice, bob, "hi")
	conv := msg.ConversationID

	calls := map[string]func() error{
		"send to conversation": func() error {
			_, err := f.svc.SendToConversation(ctx, mallory, conv, "hey", nil)
			return err
		},
		"mark read": func() error {
			_, err := f.svc.MarkConversationRead(ctx, mallory, conv)
			return err
		},
		"list messages": func() error {
			_, err := f.svc.ListMessages(ctx, mallory, conv, nil, 10)
			return err
		},
		"get conversation": func() error {
			_, err := f.svc.GetConversation(ctx, mallory, conv, true)
			return err
		},
		"delete conversation": func() error {
			return f.svc.DeleteConversation(ctx, mallory, conv)
		},
		"typing": func() error {
			return f.svc.SetTyping(ctx, mallory, conv, true)
		},
		"unread in conversation": func() error {
			_, err := f.svc.ConversationUnreadCount(ctx, mallory, conv)
			return err
		},
		"edit by receiver": func() error {
			_, err := f.svc.EditMessage(ctx, bob, msg.ID, "changed", nil)
			return err
		},
		"delete by receiver": func() error {
			return f.svc.DeleteMessage(ctx, bob, msg.ID)
		},
		"ack by sender": func() error {
			_, err := f.svc.AcknowledgeDelivery(ctx, alice, msg.ID)
			return err
		},
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, call(), ErrAccessDenied)
		})
	}
	require.Equal(t, domain.StatusSent, f.status(t, msg.ID))
}

func TestMessagingService_SendToConversation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	first := f.sendText(t, alice, bob, "hi")

	reply, err := f.svc.SendToConversation(ctx, bob, first.ConversationID, "", lo.ToPtr("https://cdn.example/cat.png"))

	req.NoError(err)
	req.Equal(alice, reply.ReceiverID)
	req.Equal(first.ConversationID, reply.ConversationID)
	req.Equal("https://cdn.example/cat.png", *reply.ImageURL)
}

func TestMessagingService_DeliveryAcknowledgement(t *testing.T) {
	ctx := context.Background()

	t.Run("single ack notifies the sender once", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		alice, bob := uuid.New(), uuid.New()
		msg := f.sendText(t, alice, bob, "hi")

		_, err := f.svc.AcknowledgeDelivery(ctx, bob, msg.ID)
		req.NoError(err)
		_, err = f.svc.AcknowledgeDelivery(ctx, bob, msg.ID)
		req.NoError(err)

		req.Equal([]string{"new", "status"}, f.dispatcher.kinds())
		req.Equal(alice, f.dispatcher.pushes[1].to)
		req.Equal(domain.EventMessagesDelivered, f.publisher.last().Type)
	})

	t.Run("batch ack groups events per conversation", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		alice, carol, bob := uuid.New(), uuid.New(), uuid.New()
		a1 := f.sendText(t, alice, bob, "a1")
		a2 := f.sendText(t, alice, bob, "a2")
		c1 := f.sendText(t, carol, bob, "c1")

		n, err := f.svc.BatchAcknowledgeDelivery(ctx, bob, []uuid.UUID{a1.ID, a2.ID, c1.ID, uuid.New()})
		req.NoError(err)
		req.Equal(3, n)

		delivered := lo.Filter(f.publisher.events, func(e domain.Event, _ int) bool {
			return e.Type == domain.EventMessagesDelivered
		})
		req.Len(delivered, 2)
		byConv := lo.KeyBy(delivered, func(e domain.Event) uuid.UUID { return e.ConversationID })
		req.ElementsMatch([]uuid.UUID{a1.ID, a2.ID}, byConv[a1.ConversationID].MessageIDs)
		req.ElementsMatch([]uuid.UUID{c1.ID}, byConv[c1.ConversationID].MessageIDs)

		n, err = f.svc.BatchAcknowledgeDelivery(ctx, bob, []uuid.UUID{a1.ID, a2.ID, c1.ID})
		req.NoError(err)
		req.Zero(n)
	})
}

func TestMessagingService_EditAndDeleteNotify(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	msg := f.sendText(t, alice, bob, "hi")

	edited, err := f.svc.EditMessage(ctx, alice, msg.ID, "hello", nil)
	req.NoError(err)
	req.Equal("hello", edited.Content)
	req.NoError(f.svc.DeleteMessage(ctx, alice, msg.ID))

	req.Equal([]string{"new", "updated", "deleted"}, f.dispatcher.kinds())
	req.Equal(domain.EventMessageDeleted, f.publisher.last().Type)
	req.Equal([]uuid.UUID{msg.ID}, f.publisher.last().MessageIDs)
}

// deletingOnReadRepo removes the message right after it has been read, as a
// concurrent delete landing between an edit's read and write would.
type deletingOnReadRepo struct {
	repository.MessageRepository
}

func (r deletingOnReadRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	msg, err := r.MessageRepository.GetByID(ctx, id)
	if err != nil || msg == nil {
		return msg, err
	}
	return msg, r.MessageRepository.Delete(ctx, id)
}

func TestMessagingService_EditOfConcurrentlyDeletedMessage(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	msg := f.sendText(t, alice, bob, "hello")

	// Given an edit whose message disappears before the write
	racing := NewMessagingService(MessagingDeps{
		Conversations: f.convs,
		Messages:      NewMessageStateMachine(deletingOnReadRepo{f.store.Messages()}),
		Batch:         f.batch,
		MessageRepo:   f.store.Messages(),
		Publisher:     f.publisher,
		Dispatcher:    f.dispatcher,
	}, zerolog.Nop())
	eventsBefore := len(f.publisher.types())

	// When the sender edits it
	edited, err := racing.EditMessage(ctx, alice, msg.ID, "hello again", nil)

	// Then the edit fails and nothing is announced
	req.ErrorIs(err, ErrMessageNotFound)
	req.Nil(edited)
	req.Len(f.publisher.types(), eventsBefore)
	req.NotContains(f.dispatcher.kinds(), "updated")
	gone, err := f.store.Messages().GetByID(ctx, msg.ID)
	req.NoError(err)
	req.Nil(gone)
}

func TestMessagingService_ListMessagesIgnoresForeignCursor(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	first := f.sendText(t, alice, bob, "one")
	f.sendText(t, alice, bob, "two")
	foreign := f.sendText(t, alice, carol, "elsewhere")

	// A cursor from another conversation does not move the page window
	page, err := f.svc.ListMessages(ctx, alice, first.ConversationID, &foreign.ID, 10)

	req.NoError(err)
	req.Empty(page.Messages)
	req.False(page.HasMore)
}

func TestMessagingService_ListMessagesPages(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()

	var sent []*domain.Message
	for i := 0; i < 5; i++ {
		sent = append(sent, f.sendText(t, alice, bob, string(rune('a'+i))))
		time.Sleep(time.Millisecond)
	}
	conv := sent[0].ConversationID

	page, err := f.svc.ListMessages(ctx, bob, conv, nil, 2)
	req.NoError(err)
	req.True(page.HasMore)
	req.Equal([]uuid.UUID{sent[3].ID, sent[4].ID}, lo.Map(page.Messages, func(m domain.Message, _ int) uuid.UUID { return m.ID }))

	cursor := page.Messages[0].ID
	page, err = f.svc.ListMessages(ctx, bob, conv, &cursor, 2)
	req.NoError(err)
	req.True(page.HasMore)
	req.Equal([]uuid.UUID{sent[1].ID, sent[2].ID}, lo.Map(page.Messages, func(m domain.Message, _ int) uuid.UUID { return m.ID }))

	cursor = page.Messages[0].ID
	page, err = f.svc.ListMessages(ctx, bob, conv, &cursor, 2)
	req.NoError(err)
	req.False(page.HasMore)
	req.Len(page.Messages, 1)
	req.Equal(sent[0].ID, page.Messages[0].ID)
}

func TestMessagingService_ViewingDoesNotRead(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, f.sendText(t, alice, bob, "m").ID)
		time.Sleep(time.Millisecond)
	}

	details, err := f.svc.GetConversation(ctx, bob, f.sendText(t, alice, bob, "last").ConversationID, true)
	req.NoError(err)
	req.Len(details.Messages, 4)
	req.Equal("last", details.Messages[0].Content)
	for i := 1; i < len(details.Messages); i++ {
		req.False(details.Messages[i].CreatedAt.After(details.Messages[i-1].CreatedAt))
	}
	for _, id := range ids {
		req.Equal(domain.StatusSent, f.status(t, id))
	}
	unread, err := f.svc.UnreadCount(ctx, bob)
	req.NoError(err)
	req.Equal(int64(4), unread)
}

func TestConversationDetailsAggregator_PreviewLimit(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	var last *domain.Message
	for i := 0; i < 5; i++ {
		last = f.sendText(t, alice, bob, "m")
	}
	conv, err := f.convs.GetByID(ctx, last.ConversationID)
	req.NoError(err)
	agg := NewConversationDetailsAggregator(f.store.Messages())

	details, err := agg.Aggregate(ctx, *conv, true, 2)
	req.NoError(err)
	req.Len(details.Messages, 2)
	req.Nil(details.UnreadCount)

	details, err = agg.Aggregate(ctx, *conv, false, 2)
	req.NoError(err)
	req.Nil(details.Messages)
}

func TestMessagingService_CanSubscribe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	msg := f.sendText(t, alice, bob, "hi")

	tests := []struct {
		name    string
		user    uuid.UUID
		channel string
		wantErr error
	}{
		{"own messages", alice, realtime.UserMessagesChannel(alice), nil},
		{"own status", bob, realtime.UserStatusChannel(bob), nil},
		{"someone else's messages", alice, realtime.UserMessagesChannel(bob), ErrAccessDenied},
		{"conversation as participant", bob, realtime.ConversationChannel(msg.ConversationID), nil},
		{"typing as participant", alice, realtime.TypingChannel(msg.ConversationID), nil},
		{"conversation as outsider", uuid.New(), realtime.ConversationChannel(msg.ConversationID), ErrAccessDenied},
		{"missing conversation", alice, realtime.ConversationChannel(uuid.New()), ErrConversationNotFound},
		{"garbage", alice, "lobby", ErrAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.CanSubscribe(ctx, tt.user, tt.channel)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
