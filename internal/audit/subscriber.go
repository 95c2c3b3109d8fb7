package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/shared/events"
	"github.com/psique-app/platform/internal/shared/metrics"
	"github.com/psique-app/platform/internal/shared/types"
)

// Subscriber listens to domain events and appends them to the audit chain
type Subscriber struct {
	store Store
	bus   events.EventBus
	log   *zap.Logger
}

// NewSubscriber creates a new audit subscriber
func NewSubscriber(store Store, bus events.EventBus, log *zap.Logger) *Subscriber {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{store: store, bus: bus, log: log.Named("audit")}
}

// Start subscribes to every audited event family
func (s *Subscriber) Start(ctx context.Context) error {
	patterns := []struct {
		pattern      string
		consumerName string
	}{
		{"student.*", "audit-student-subscriber"},
		{"assessment.*", "audit-assessment-subscriber"},
		{"appointment.*", "audit-appointment-subscriber"},
		{"user.*", "audit-user-subscriber"},
		{"auth.*", "audit-auth-subscriber"},
	}

	for _, p := range patterns {
		if err := s.bus.Subscribe(ctx, p.pattern, p.consumerName, s.handleEvent); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", p.pattern, err)
		}
	}
	return nil
}

func (s *Subscriber) handleEvent(ctx context.Context, event events.Event) error {
	entry := EntryFromEvent(event)
	if entry == nil {
		return nil
	}

	if err := s.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	metrics.RecordAuditEntry()
	s.log.Debug("audit entry appended",
		zap.Int64("sequence", entry.Sequence),
		zap.String("action", entry.Action),
	)
	return nil
}

// EntryFromEvent converts a domain event into an unsealed audit entry. It
// returns nil for event types without a resource prefix.
func EntryFromEvent(event events.Event) *Entry {
	resourceType, _, ok := strings.Cut(event.Type, ".")
	if !ok {
		return nil
	}

	entry := &Entry{
		ID:            types.NewID(),
		Timestamp:     event.Timestamp.UTC().Truncate(time.Microsecond),
		ActorType:     ActorTypeSystem,
		ActorRole:     event.ActorRole,
		Action:        event.Type,
		ResourceType:  resourceType,
		CorrelationID: event.CorrelationID,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC().Truncate(time.Microsecond)
	}
	if !event.ActorID.IsZero() {
		actor := event.ActorID
		entry.ActorType = ActorTypeUser
		entry.ActorID = &actor
	}

	data, _ := event.Data.(map[string]any)
	if len(data) > 0 {
		entry.Changes = data
	}

	// auth events concern a user account
	idFields := []string{resourceType + "_id", "id"}
	if resourceType == "auth" {
		idFields = append(idFields, "user_id")
	}
	for _, field := range idFields {
		if id, ok := idValue(data[field]); ok {
			entry.ResourceID = &id
			break
		}
	}
	return entry
}

func idValue(v any) (types.ID, bool) {
	var raw string
	switch val := v.(type) {
	case string:
		raw = val
	case types.ID:
		raw = string(val)
	case fmt.Stringer:
		raw = val.String()
	default:
		return "", false
	}
	id, err := types.ParseID(raw)
	if err != nil {
		return "", false
	}
	return id, true
}
