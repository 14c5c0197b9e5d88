// Package realtime pushes message, status and typing events to connected
// clients. Every push is best-effort: a transport failure is logged and
// counted, never returned to the caller.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vedran77/parley/internal/domain"
	"github.com/vedran77/parley/internal/metrics"
)

var ErrDispatchFailure = errors.New("realtime dispatch failed")

type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	return o
}

type push struct {
	kind    string
	channel string
	data    []byte
}

type Dispatcher struct {
	transport Transport
	log       zerolog.Logger
	opts      Options
	queue     chan push

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewDispatcher(transport Transport, log zerolog.Logger, opts Options) *Dispatcher {
	if transport == nil {
		transport = NopTransport{}
	}
	opts = opts.withDefaults()
	return &Dispatcher{
		transport: transport,
		log:       log.With().Str("component", "realtime").Logger(),
		opts:      opts,
		queue:     make(chan push, opts.QueueSize),
	}
}

// Start launches the workers. Cancelling ctx stops them without draining.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Close stops accepting pushes, lets workers finish what is queued and waits.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) PushNewMessage(msg domain.Message) {
	d.enqueue(EventMessageNew, UserMessagesChannel(msg.ReceiverID), MessagePayload{Message: msg})
	d.enqueue(EventMessageNew, ConversationChannel(msg.ConversationID), MessagePayload{Message: msg})
}

func (d *Dispatcher) PushMessageUpdated(msg domain.Message) {
	d.enqueue(EventMessageUpdated, ConversationChannel(msg.ConversationID), MessagePayload{Message: msg})
}

func (d *Dispatcher) PushMessageDeleted(conversationID, messageID uuid.UUID) {
	d.enqueue(EventMessageDeleted, ConversationChannel(conversationID), MessageDeletedPayload{
		ID:             messageID,
		ConversationID: conversationID,
	})
}

// PushReadReceipt tells the interlocutor that readerID has read messageIDs.
func (d *Dispatcher) PushReadReceipt(conversationID, readerID, interlocutorID uuid.UUID, messageIDs []uuid.UUID) {
	d.enqueue(EventMessagesRead, UserStatusChannel(interlocutorID), ReadReceiptPayload{
		ConversationID: conversationID,
		ReaderID:       readerID,
		MessageIDs:     messageIDs,
	})
}

// PushStatusChanged tells the sender that one message reached status.
func (d *Dispatcher) PushStatusChanged(msg domain.Message) {
	d.enqueue(EventMessageStatus, UserStatusChannel(msg.SenderID), StatusPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Status:         msg.Status,
	})
}

func (d *Dispatcher) PushTyping(conversationID, userID uuid.UUID, isTyping bool) {
	d.enqueue(EventTyping, TypingChannel(conversationID), TypingPayload{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	})
}

func (d *Dispatcher) enqueue(kind, channel string, payload any) {
	data, err := NewEnvelope(kind, channel, payload)
	if err != nil {
		d.fail(kind, channel, "encode", err)
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.fail(kind, channel, "closed", errors.New("dispatcher closed"))
		return
	}
	select {
	case d.queue <- push{kind: kind, channel: channel, data: data}:
	default:
		d.fail(kind, channel, "queue_full", errors.New("dispatch queue full"))
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-d.queue:
			if !ok {
				return
			}
			d.send(ctx, p)
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, p push) {
	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	err := d.publishSafely(pctx, p)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.RecordDispatch(p.kind, outcome, elapsed)
		d.fail(p.kind, p.channel, outcome, err)
		return
	}
	metrics.RecordDispatch(p.kind, "ok", elapsed)
}

func (d *Dispatcher) publishSafely(ctx context.Context, p push) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return d.transport.Publish(ctx, p.channel, p.data)
}

func (d *Dispatcher) fail(kind, channel, reason string, err error) {
	if reason != "error" && reason != "timeout" {
		metrics.RecordDispatch(kind, reason, 0)
	}
	d.log.Warn().
		Err(fmt.Errorf("%w: %w", ErrDispatchFailure, err)).
		Str("kind", kind).
		Str("channel", channel).
		Str("reason", reason).
		Msg("Realtime push dropped")
}
