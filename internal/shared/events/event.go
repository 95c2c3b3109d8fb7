package events

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/psique-app/platform/internal/shared/types"
)

// Event types published by the platform.
const (
	TypeStudentCreated        = "student.created"
	TypeStudentUpdated        = "student.updated"
	TypeStudentDeleted        = "student.deleted"
	TypeStudentsImported      = "student.imported"
	TypeClinicalNoteAdded     = "student.note.added"
	TypeClinicalNoteDeleted   = "student.note.deleted"
	TypeAssessmentCreated     = "assessment.created"
	TypeAssessmentRemarked    = "assessment.remarks.updated"
	TypeAppointmentCreated    = "appointment.created"
	TypeAppointmentUpdated    = "appointment.updated"
	TypeAppointmentCancelled  = "appointment.cancelled"
	TypeUserCreated           = "user.created"
	TypeUserUpdated           = "user.updated"
	TypeUserDeleted           = "user.deleted"
	TypeUserPasswordChanged   = "user.password.changed"
	TypeUserLoggedIn          = "auth.login"
	TypeLoginFailed           = "auth.login_failed"
	TypePasswordResetRequest  = "auth.reset.requested"
	TypePasswordResetComplete = "auth.reset.completed"
	TypeReportRendered        = "report.rendered"
)

// Event represents a domain event
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`

	// Actor information
	ActorID   types.ID `json:"actor_id,omitempty"`
	ActorType string   `json:"actor_type"` // user, system
	ActorRole string   `json:"actor_role,omitempty"`

	// Event data
	Data any `json:"data"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType, source string, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		ActorType: "system",
		Data:      data,
	}
}

// WithActor sets the actor information on the event
func (e Event) WithActor(actorID types.ID, actorRole string) Event {
	e.ActorID = actorID
	e.ActorType = "user"
	e.ActorRole = actorRole
	return e
}

// WithCorrelation sets the correlation ID for request tracing
func (e Event) WithCorrelation(correlationID string) Event {
	e.CorrelationID = correlationID
	return e
}

// MatchesPattern checks if an event type matches a wildcard pattern.
// "student.*" matches "student.created" and "student.note.added".
func MatchesPattern(eventType, pattern string) bool {
	if pattern == "*" || pattern == ">" {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	typeParts := strings.Split(eventType, ".")

	for i, pp := range patternParts {
		if pp == "*" {
			return i < len(typeParts)
		}
		if i >= len(typeParts) || pp != typeParts[i] {
			return false
		}
	}

	return len(patternParts) == len(typeParts)
}

// streamName converts an event type to a stream-safe name:
// student.created -> psique-student-created
func streamName(prefix, eventType string) string {
	return prefix + "-" + strings.ReplaceAll(eventType, ".", "-")
}

// patternToRegex converts a wildcard pattern to an event type regex.
func patternToRegex(pattern string) string {
	var b strings.Builder
	b.WriteByte('^')
	for _, c := range pattern {
		switch c {
		case '.':
			b.WriteString(`\.`)
		case '*':
			b.WriteString(".*")
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}
