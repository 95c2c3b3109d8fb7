package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type memorySub struct {
	pattern  string
	consumer string
	handler  Handler
}

// MemoryBus delivers events synchronously to in-process subscribers. It is
// used when KurrentDB is disabled or unreachable, and in tests.
type MemoryBus struct {
	mu   sync.RWMutex
	subs []memorySub
	log  *zap.Logger
}

func NewMemoryBus(log *zap.Logger) *MemoryBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryBus{log: log.Named("events")}
}

// Publish calls every matching handler in subscription order. Handler
// errors are logged and do not fail the publish.
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]memorySub, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !MatchesPattern(event.Type, s.pattern) {
			continue
		}
		if err := s.handler(ctx, event); err != nil {
			b.log.Error("handler failed",
				zap.String("consumer", s.consumer),
				zap.String("event_id", event.ID),
				zap.String("type", event.Type),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, pattern string, consumerName string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, memorySub{pattern: pattern, consumer: consumerName, handler: handler})
	return nil
}

func (b *MemoryBus) Close() {}

func (b *MemoryBus) Health() error { return nil }
