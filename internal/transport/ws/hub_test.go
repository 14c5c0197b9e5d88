package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/parley/internal/domain"
	"github.com/vedran77/parley/internal/realtime"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const testSecret = "ws-test-secret"

type stubInbound struct {
	mu      sync.Mutex
	allowed map[string]bool
	typing  []bool
	acked   []uuid.UUID
}

func (s *stubInbound) CanSubscribe(_ context.Context, _ uuid.UUID, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.allowed[channel] {
		return errors.New("denied")
	}
	return nil
}

func (s *stubInbound) SetTyping(_ context.Context, _, _ uuid.UUID, isTyping bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, isTyping)
	return nil
}

func (s *stubInbound) AcknowledgeDelivery(_ context.Context, _, messageID uuid.UUID) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, messageID)
	return &domain.Message{ID: messageID}, nil
}

func startHub(t *testing.T) (*Hub, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, ctx
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case data := <-c.send:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a push")
		return nil
	}
}

func TestHub_RoutesBySubscription(t *testing.T) {
	req := require.New(t)
	hub, ctx := startHub(t)

	// Given two users connected, one of them subscribed to a conversation
	alice, bob := uuid.New(), uuid.New()
	convID := uuid.New()
	ca := NewClient(hub, nil, alice, &stubInbound{}, zerolog.Nop())
	cb := NewClient(hub, nil, bob, &stubInbound{}, zerolog.Nop())
	ca.Subscribe(realtime.ConversationChannel(convID))
	req.True(hub.Register(ca))
	req.True(hub.Register(cb))

	// When a push goes to bob's own channel
	req.NoError(hub.Publish(ctx, realtime.UserMessagesChannel(bob), []byte("to-bob")))
	// Then only bob gets it
	req.Equal("to-bob", string(receive(t, cb)))

	// When a push goes to the conversation channel
	req.NoError(hub.Publish(ctx, realtime.ConversationChannel(convID), []byte("to-conv")))
	// Then only the subscriber gets it
	req.Equal("to-conv", string(receive(t, ca)))

	req.Never(func() bool { return len(ca.send) > 0 || len(cb.send) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestHub_MultipleConnectionsPerUser(t *testing.T) {
	req := require.New(t)
	hub, ctx := startHub(t)

	userID := uuid.New()
	first := NewClient(hub, nil, userID, &stubInbound{}, zerolog.Nop())
	second := NewClient(hub, nil, userID, &stubInbound{}, zerolog.Nop())
	req.True(hub.Register(first))
	req.True(hub.Register(second))

	req.NoError(hub.Publish(ctx, realtime.UserStatusChannel(userID), []byte("status")))
	req.Equal("status", string(receive(t, first)))
	req.Equal("status", string(receive(t, second)))

	n, err := hub.Connections(ctx)
	req.NoError(err)
	req.Equal(2, n)

	// Unregistering one connection keeps the other
	hub.Unregister(first)
	req.Eventually(func() bool {
		n, err := hub.Connections(ctx)
		return err == nil && n == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHub_DropsSlowClient(t *testing.T) {
	req := require.New(t)
	hub, ctx := startHub(t)

	// Given a client whose buffer is full
	userID := uuid.New()
	c := NewClient(hub, nil, userID, &stubInbound{}, zerolog.Nop())
	req.True(hub.Register(c))
	for range sendBufSize {
		c.send <- []byte("x")
	}

	// When one more push arrives
	req.NoError(hub.Publish(ctx, realtime.UserMessagesChannel(userID), []byte("overflow")))

	// Then the client is disconnected
	req.Eventually(func() bool {
		n, err := hub.Connections(ctx)
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_PublishAfterStop(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zerolog.Nop())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	cancel()
	<-stopped

	err := hub.Publish(context.Background(), "user:x:messages", []byte("late"))
	req.ErrorIs(err, ErrHubClosed)
	req.False(hub.Register(NewClient(hub, nil, uuid.New(), &stubInbound{}, zerolog.Nop())))
}

func dial(t *testing.T, serverURL string, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws?token=" + tok
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) realtime.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var env realtime.Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	return env
}

func send(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(context.Background(), conn, Event{Type: eventType, Payload: raw}))
}

func TestServeWS_EndToEnd(t *testing.T) {
	req := require.New(t)
	hub, ctx := startHub(t)

	convID := uuid.New()
	inbound := &stubInbound{allowed: map[string]bool{realtime.ConversationChannel(convID): true}}
	srv := httptest.NewServer(ServeWS(ctx, hub, inbound, testSecret, zerolog.Nop()))
	defer srv.Close()

	userID := uuid.New()
	conn := dial(t, srv.URL, userID)

	// Ping gets a pong
	send(t, conn, EventTypePing, struct{}{})
	req.Equal(EventTypePong, readEnvelope(t, conn).Type)

	// Allowed subscription is confirmed and then receives pushes
	send(t, conn, EventTypeSubscribe, ChannelPayload{Channel: realtime.ConversationChannel(convID)})
	env := readEnvelope(t, conn)
	req.Equal(EventTypeSubscribed, env.Type)
	req.Equal(realtime.ConversationChannel(convID), env.Channel)

	data, err := realtime.NewEnvelope(realtime.EventMessageUpdated, realtime.ConversationChannel(convID), map[string]string{"id": "m1"})
	req.NoError(err)
	req.NoError(hub.Publish(ctx, realtime.ConversationChannel(convID), data))
	req.Equal(realtime.EventMessageUpdated, readEnvelope(t, conn).Type)

	// Denied subscription gets an error
	send(t, conn, EventTypeSubscribe, ChannelPayload{Channel: realtime.ConversationChannel(uuid.New())})
	env = readEnvelope(t, conn)
	req.Equal(EventTypeError, env.Type)
	var ep ErrorPayload
	req.NoError(json.Unmarshal(env.Payload, &ep))
	req.Equal("FORBIDDEN", ep.Code)

	// Typing and delivery acks reach the inbound handler
	msgID := uuid.New()
	send(t, conn, EventTypeTypingStart, TypingPayload{ConversationID: convID})
	send(t, conn, EventTypeMessageDelivered, DeliveredPayload{MessageID: msgID})
	req.Eventually(func() bool {
		inbound.mu.Lock()
		defer inbound.mu.Unlock()
		return len(inbound.typing) == 1 && inbound.typing[0] && len(inbound.acked) == 1 && inbound.acked[0] == msgID
	}, 2*time.Second, 10*time.Millisecond)

	// Unknown events are rejected
	send(t, conn, "bogus", struct{}{})
	env = readEnvelope(t, conn)
	req.Equal(EventTypeError, env.Type)
}

func TestServeWS_RejectsBadToken(t *testing.T) {
	req := require.New(t)
	hub, ctx := startHub(t)
	srv := httptest.NewServer(ServeWS(ctx, hub, &stubInbound{}, testSecret, zerolog.Nop()))
	defer srv.Close()

	dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.Dial(dctx, url, nil)
	req.Error(err)
	req.NotNil(resp)
	req.Equal(401, resp.StatusCode)
}
