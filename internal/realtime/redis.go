package realtime

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisTransport fans envelopes out through Redis so every instance's local
// transport (see RedisRelay) can deliver to its own connections.
type RedisTransport struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisTransport(client redis.UniversalClient, prefix string) *RedisTransport {
	return &RedisTransport{client: client, prefix: prefix}
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, data []byte) error {
	return t.client.Publish(ctx, t.prefix+channel, data).Err()
}

// RedisRelay pattern-subscribes to prefix* and republishes on a local transport.
type RedisRelay struct {
	client redis.UniversalClient
	prefix string
	local  Transport
	log    zerolog.Logger
}

func NewRedisRelay(client redis.UniversalClient, prefix string, local Transport, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		prefix: prefix,
		local:  local,
		log:    log.With().Str("component", "realtime.relay").Logger(),
	}
}

func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			channel := strings.TrimPrefix(msg.Channel, r.prefix)
			if err := r.local.Publish(ctx, channel, []byte(msg.Payload)); err != nil {
				r.log.Warn().Err(err).Str("channel", channel).Msg("Local relay publish failed")
			}
		}
	}
}
