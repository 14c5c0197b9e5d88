//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=../mocks/mock_transport.go -package=mocks
package realtime

import (
	"context"
	"errors"
)

// Transport delivers an encoded envelope to whoever listens on channel.
// Presence and subscriptions belong to the transport.
type Transport interface {
	Publish(ctx context.Context, channel string, data []byte) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, channel string, data []byte) error

func (f TransportFunc) Publish(ctx context.Context, channel string, data []byte) error {
	return f(ctx, channel, data)
}

// NopTransport discards everything.
type NopTransport struct{}

func (NopTransport) Publish(context.Context, string, []byte) error { return nil }

// MultiTransport publishes to every transport and joins their errors.
type MultiTransport []Transport

func (m MultiTransport) Publish(ctx context.Context, channel string, data []byte) error {
	var errs []error
	for _, t := range m {
		if err := t.Publish(ctx, channel, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
