package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/shared/config"
)

// Bus provides event publishing and subscription using KurrentDB
type Bus struct {
	client *esdb.Client
	prefix string
	log    *zap.Logger
}

// NewBus creates a new event bus connected to KurrentDB
func NewBus(cfg config.KurrentDBConfig, log *zap.Logger) (*Bus, error) {
	settings, err := esdb.ParseConnectionString(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create KurrentDB client: %w", err)
	}

	return &Bus{
		client: client,
		prefix: "psique",
		log:    log.Named("events"),
	}, nil
}

// buildConnectionString creates the esdb:// connection string
func buildConnectionString(cfg config.KurrentDBConfig) string {
	var auth string
	if cfg.Username != "" && cfg.Password != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}

	params := ""
	if cfg.Insecure {
		params = "?tls=false&tlsVerifyCert=false&keepAliveInterval=10000&keepAliveTimeout=10000"
	}

	return fmt.Sprintf("esdb://%s%s:%d%s", auth, cfg.Host, cfg.Port, params)
}

// Publish appends the event to its type stream
func (b *Bus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
	}

	_, err = b.client.AppendToStream(ctx, streamName(b.prefix, event.Type), esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, esdb.EventData{
		EventType:   event.Type,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		EventID:     eventID,
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe starts a catch-up subscription on $all filtered by event type.
// Events are delivered from the end of the log.
func (b *Bus) Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error {
	sub, err := b.client.SubscribeToAll(ctx, esdb.SubscribeToAllOptions{
		From: esdb.End{},
		Filter: &esdb.SubscriptionFilter{
			Type:  esdb.EventFilterType,
			Regex: patternToRegex(pattern),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to pattern: %w", err)
	}

	go b.consume(ctx, sub, pattern, consumerName, handler)
	return nil
}

func (b *Bus) consume(ctx context.Context, sub *esdb.Subscription, pattern, consumer string, handler Handler) {
	defer sub.Close()
	log := b.log.With(zap.String("consumer", consumer))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		subEvent := sub.Recv()
		if subEvent.SubscriptionDropped != nil {
			log.Warn("subscription dropped", zap.Error(subEvent.SubscriptionDropped.Error))
			return
		}
		if subEvent.EventAppeared == nil || subEvent.EventAppeared.Event == nil {
			continue
		}

		recorded := subEvent.EventAppeared.Event
		if len(recorded.EventType) > 0 && recorded.EventType[0] == '$' {
			continue
		}
		if !MatchesPattern(recorded.EventType, pattern) {
			continue
		}

		var event Event
		if err := json.Unmarshal(recorded.Data, &event); err != nil {
			log.Error("failed to decode event", zap.String("event_id", recorded.EventID.String()), zap.Error(err))
			continue
		}
		if event.ID == "" {
			event.ID = recorded.EventID.String()
		}

		if err := handler(ctx, event); err != nil {
			log.Error("handler failed", zap.String("event_id", event.ID), zap.String("type", event.Type), zap.Error(err))
		}
	}
}

// Close closes the event bus connection
func (b *Bus) Close() {
	if b.client != nil {
		b.client.Close()
	}
}

// Health checks the KurrentDB connection
func (b *Bus) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := b.client.ReadStream(ctx, "$streams", esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, 1)
	if err != nil {
		return fmt.Errorf("KurrentDB health check failed: %w", err)
	}
	defer stream.Close()

	return nil
}
