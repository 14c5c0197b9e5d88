package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vedran77/parley/internal/domain"
)

// RedisSink publishes events on a Redis pub/sub channel so cache layers in
// other processes can invalidate.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Consume(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.client.Publish(ctx, s.channel, data).Err()
}

// RedisSubscriber forwards events received on the Redis channel to local sinks.
type RedisSubscriber struct {
	client  redis.UniversalClient
	channel string
	sinks   []Sink
	log     zerolog.Logger
}

func NewRedisSubscriber(client redis.UniversalClient, channel string, log zerolog.Logger, sinks ...Sink) *RedisSubscriber {
	return &RedisSubscriber{
		client:  client,
		channel: channel,
		sinks:   sinks,
		log:     log.With().Str("component", "events.subscriber").Logger(),
	}
}

// Run blocks until ctx is cancelled or the subscription closes.
func (s *RedisSubscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.log.Info().Str("channel", s.channel).Msg("Listening for invalidation events")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *RedisSubscriber) handle(ctx context.Context, payload string) {
	evt, err := DecodeEvent([]byte(payload))
	if err != nil {
		s.log.Warn().Err(err).Msg("Skipping malformed invalidation event")
		return
	}
	for _, sink := range s.sinks {
		if err := consumeSafely(ctx, sink, evt); err != nil {
			s.log.Error().Err(err).Str("type", string(evt.Type)).Msg("Local sink failed")
		}
	}
}

func DecodeEvent(data []byte) (domain.Event, error) {
	var evt domain.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return domain.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if evt.Type == "" {
		return domain.Event{}, fmt.Errorf("decode event: missing type")
	}
	return evt, nil
}
