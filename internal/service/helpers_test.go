package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/parley/internal/domain"
	"github.com/vedran77/parley/internal/repository/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(evt domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) last() domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type push struct {
	kind string
	ids  []uuid.UUID
	to   uuid.UUID
}

type recordingDispatcher struct {
	mu     sync.Mutex
	pushes []push
}

func (d *recordingDispatcher) record(p push) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pushes = append(d.pushes, p)
}

func (d *recordingDispatcher) PushNewMessage(msg domain.Message) {
	d.record(push{kind: "new", ids: []uuid.UUID{msg.ID}, to: msg.ReceiverID})
}

func (d *recordingDispatcher) PushMessageUpdated(msg domain.Message) {
	d.record(push{kind: "updated", ids: []uuid.UUID{msg.ID}})
}

func (d *recordingDispatcher) PushMessageDeleted(_, messageID uuid.UUID) {
	d.record(push{kind: "deleted", ids: []uuid.UUID{messageID}})
}

func (d *recordingDispatcher) PushReadReceipt(_, _, interlocutorID uuid.UUID, messageIDs []uuid.UUID) {
	d.record(push{kind: "read", ids: messageIDs, to: interlocutorID})
}

func (d *recordingDispatcher) PushStatusChanged(msg domain.Message) {
	d.record(push{kind: "status", ids: []uuid.UUID{msg.ID}, to: msg.SenderID})
}

func (d *recordingDispatcher) PushTyping(_, userID uuid.UUID, _ bool) {
	d.record(push{kind: "typing", to: userID})
}

func (d *recordingDispatcher) kinds() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.pushes))
	for _, p := range d.pushes {
		out = append(out, p.kind)
	}
	return out
}

type fixture struct {
	store      *memory.Store
	publisher  *recordingPublisher
	dispatcher *recordingDispatcher
	convs      *ConversationManager
	messages   *MessageStateMachine
	batch      *BatchStatusUpdater
	svc        *MessagingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithDispatcher(t, &recordingDispatcher{})
}

func newFixtureWithDispatcher(t *testing.T, dispatcher Dispatcher) *fixture {
	t.Helper()
	store := memory.NewStore()
	pub := &recordingPublisher{}
	log := zerolog.Nop()

	convs := NewConversationManager(store.Conversations(), store.Messages(), pub, log)
	messages := NewMessageStateMachine(store.Messages())
	batch := NewBatchStatusUpdater(convs, store.Messages())
	svc := NewMessagingService(MessagingDeps{
		Conversations: convs,
		Messages:      messages,
		Batch:         batch,
		MessageRepo:   store.Messages(),
		Publisher:     pub,
		Dispatcher:    dispatcher,
		PreviewLimit:  20,
	}, log)

	f := &fixture{
		store:     store,
		publisher: pub,
		convs:     convs,
		messages:  messages,
		batch:     batch,
		svc:       svc,
	}
	if rd, ok := dispatcher.(*recordingDispatcher); ok {
		f.dispatcher = rd
	}
	return f
}

// sendText sends content from -> to and fails the test on error.
func (f *fixture) sendText(t *testing.T, from, to uuid.UUID, content string) *domain.Message {
	t.Helper()
	msg, err := f.svc.SendMessage(context.Background(), from, to, content, nil)
	require.NoError(t, err)
	return msg
}

func (f *fixture) status(t *testing.T, id uuid.UUID) domain.MessageStatus {
	t.Helper()
	msg, err := f.store.Messages().GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, msg)
	return msg.Status
}
