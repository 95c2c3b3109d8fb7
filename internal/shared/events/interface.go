package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/shared/config"
)

// Handler is a function that handles an event
type Handler func(ctx context.Context, event Event) error

// EventBus defines the interface for event publishing and subscription
type EventBus interface {
	// Publish publishes an event to the bus
	Publish(ctx context.Context, event Event) error

	// Subscribe creates a subscription to events matching a pattern
	Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error

	// Close closes the event bus connection
	Close()

	// Health checks the event bus connection
	Health() error
}

// NewEventBus connects to KurrentDB when enabled and falls back to the
// in-memory bus otherwise. The returned string names the transport.
func NewEventBus(cfg config.KurrentDBConfig, log *zap.Logger) (EventBus, string) {
	if !cfg.Enabled {
		return NewMemoryBus(log), "memory"
	}

	bus, err := NewBus(cfg, log)
	if err == nil {
		if err = bus.Health(); err == nil {
			return bus, "kurrentdb"
		}
		bus.Close()
	}

	log.Warn("KurrentDB unavailable, using in-memory event bus", zap.Error(fmt.Errorf("connect %s:%d: %w", cfg.Host, cfg.Port, err)))
	return NewMemoryBus(log), "memory"
}

// Publish is a convenience for publishers that treat the bus as optional.
// Failures are logged, never returned.
func Publish(ctx context.Context, bus EventBus, log *zap.Logger, event Event) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, event); err != nil && log != nil {
		log.Warn("failed to publish event", zap.String("type", event.Type), zap.Error(err))
	}
}

var (
	_ EventBus = (*Bus)(nil)
	_ EventBus = (*MemoryBus)(nil)
)
