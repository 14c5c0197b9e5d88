// Package events delivers cache invalidation events to subscribers.
//
// Publish never blocks and never fails the caller. A single delivery
// goroutine drains the queue in publish order and hands each event to every
// sink, retrying a failing sink with exponential backoff. A retried delivery
// may reach a sink twice, so sinks must be idempotent.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/vedran77/parley/internal/domain"
	"github.com/vedran77/parley/internal/metrics"
)

// ErrPublishFailure marks an event that could not be handed to a sink.
var ErrPublishFailure = errors.New("event publish failed")

type Options struct {
	QueueSize       int
	MaxRetries      int
	InitialInterval time.Duration
	SinkTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 100 * time.Millisecond
	}
	if o.SinkTimeout <= 0 {
		o.SinkTimeout = 2 * time.Second
	}
	return o
}

type Publisher struct {
	log   zerolog.Logger
	opts  Options
	sinks []Sink
	queue chan domain.Event

	mu      sync.Mutex
	started bool
	done    chan struct{}
	stopped chan struct{}

	// closeMu orders Publish against Close: once closed is set no event
	// enters the queue.
	closeMu sync.RWMutex
	closed  bool
}

func NewPublisher(log zerolog.Logger, opts Options, sinks ...Sink) *Publisher {
	opts = opts.withDefaults()
	return &Publisher{
		log:     log.With().Str("component", "events").Logger(),
		opts:    opts,
		sinks:   sinks,
		queue:   make(chan domain.Event, opts.QueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// AddSink registers a sink. Call before Start.
func (p *Publisher) AddSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// Start launches the delivery goroutine. Cancelling ctx aborts in-flight
// retries; Close drains what is already queued.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	go p.run(ctx)
}

// Publish enqueues evt. It drops the event when the queue is full or the
// publisher is closed; a dropped event only leaves a cache stale.
func (p *Publisher) Publish(evt domain.Event) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		p.drop(evt, "closed")
		return
	}

	select {
	case p.queue <- evt:
	default:
		p.drop(evt, "queue_full")
	}
}

// Close stops accepting events, delivers what is queued and waits for the
// delivery goroutine.
func (p *Publisher) Close() {
	p.closeMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.closeMu.Unlock()

	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if started {
		<-p.stopped
	}
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.stopped)
	for {
		select {
		case evt := <-p.queue:
			p.deliver(ctx, evt)
		case <-p.done:
			p.drain(ctx)
			return
		case <-ctx.Done():
			p.drain(context.WithoutCancel(ctx))
			return
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	for {
		select {
		case evt := <-p.queue:
			p.deliver(ctx, evt)
		default:
			return
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, evt domain.Event) {
	p.mu.Lock()
	sinks := p.sinks
	p.mu.Unlock()

	for i, sink := range sinks {
		if err := p.deliverTo(ctx, sink, evt); err != nil {
			metrics.RecordEvent(string(evt.Type), "failed")
			p.log.Error().
				Err(fmt.Errorf("%w: %w", ErrPublishFailure, err)).
				Int("sink", i).
				Str("type", string(evt.Type)).
				Str("conversation_id", evt.ConversationID.String()).
				Msg("Dropping invalidation event after retries")
			continue
		}
		metrics.RecordEvent(string(evt.Type), "delivered")
	}
}

func (p *Publisher) deliverTo(ctx context.Context, sink Sink, evt domain.Event) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.InitialInterval
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		sctx, cancel := context.WithTimeout(ctx, p.opts.SinkTimeout)
		defer cancel()
		err := consumeSafely(sctx, sink, evt)
		if err != nil && attempt <= p.opts.MaxRetries {
			p.log.Warn().Err(err).Int("attempt", attempt).Str("type", string(evt.Type)).Msg("Sink failed, retrying")
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.opts.MaxRetries)), ctx)
	return backoff.Retry(op, policy)
}

func consumeSafely(ctx context.Context, sink Sink, evt domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sink.Consume(ctx, evt)
}

func (p *Publisher) drop(evt domain.Event, reason string) {
	metrics.RecordEvent(string(evt.Type), reason)
	p.log.Warn().
		Str("reason", reason).
		Str("type", string(evt.Type)).
		Str("conversation_id", evt.ConversationID.String()).
		Msg("Invalidation event dropped")
}
