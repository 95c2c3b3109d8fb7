package appointment

import (
	"time"

	"github.com/psique-app/platform/internal/shared/types"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "PENDIENTE"
	StatusCompleted Status = "COMPLETADA"
	StatusCancelled Status = "CANCELADA"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Appointment is a scheduled session between a psychologist and a student.
type Appointment struct {
	ID             types.ID  `json:"id"`
	StudentID      types.ID  `json:"studentId"`
	PsychologistID types.ID  `json:"psychologistId"`
	Date           time.Time `json:"date"`
	Reason         string    `json:"reason"`
	Status         Status    `json:"status"`
	Notes          string    `json:"notes"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	StudentName      string `json:"studentName,omitempty"`
	StudentEmail     string `json:"studentEmail,omitempty"`
	PsychologistName string `json:"psychologistName,omitempty"`
}

// CreateAppointmentRequest is the body of POST /appointments.
type CreateAppointmentRequest struct {
	StudentID types.ID  `json:"studentId" validate:"required,uuid"`
	Date      time.Time `json:"date" validate:"required"`
	Reason    string    `json:"reason" validate:"required,max=500"`
	Notes     string    `json:"notes" validate:"max=2000"`
}

// UpdateAppointmentRequest is the body of PUT /appointments/{id}.
type UpdateAppointmentRequest struct {
	Date   *time.Time `json:"date"`
	Reason *string    `json:"reason" validate:"omitempty,min=1,max=500"`
	Status *Status    `json:"status" validate:"omitempty,oneof=PENDIENTE COMPLETADA CANCELADA"`
	Notes  *string    `json:"notes" validate:"omitempty,max=2000"`
}

// ListFilter selects active appointments.
type ListFilter struct {
	PsychologistID *types.ID
	StudentID      *types.ID
	Status         *Status
	// Newest first when set; the list endpoint shows upcoming first.
	Descending bool
}
