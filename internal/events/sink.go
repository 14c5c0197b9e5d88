//go:generate go run go.uber.org/mock/mockgen -source=sink.go -destination=../mocks/mock_sink.go -package=mocks
package events

import (
	"context"

	"github.com/vedran77/parley/internal/domain"
)

// Sink receives every published event. Deliveries may repeat.
type Sink interface {
	Consume(ctx context.Context, evt domain.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt domain.Event) error

func (f SinkFunc) Consume(ctx context.Context, evt domain.Event) error {
	return f(ctx, evt)
}
