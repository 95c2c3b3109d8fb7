package appointment

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/events"
	"github.com/psique-app/platform/internal/shared/httpx"
	"github.com/psique-app/platform/internal/shared/metrics"
	"github.com/psique-app/platform/internal/shared/types"
)

// StudentDirectory resolves the psychologist assigned to an active student.
type StudentDirectory interface {
	AssignedPsychologist(ctx context.Context, studentID types.ID) (types.ID, error)
}

// Handler provides HTTP handlers for the appointment module
type Handler struct {
	store    Store
	students StudentDirectory
	bus      events.EventBus
	log      *zap.Logger
	now      func() time.Time
}

// NewHandler creates a new appointment handler
func NewHandler(store Store, students StudentDirectory, bus events.EventBus, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{store: store, students: students, bus: bus, log: log.Named("appointment"), now: time.Now}
}

// Routes registers the appointment routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequirePsychologist)

	r.Get("/", h.ListAppointments)
	r.Post("/", h.CreateAppointment)
	r.Put("/{id}", h.UpdateAppointment)
	r.Delete("/{id}", h.CancelAppointment)

	return r
}

// ListAppointments lists active appointments, soonest first
func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	studentID, err := httpx.QueryID(r, "studentId")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	filter := ListFilter{StudentID: studentID}
	if s := Status(r.URL.Query().Get("status")); s.Valid() {
		filter.Status = &s
	}
	if !identity.IsAdmin() {
		filter.PsychologistID = &identity.ID
	}

	appointments, err := h.store.List(r.Context(), filter)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"data":  appointments,
		"total": len(appointments),
	})
}

// CreateAppointment books a new appointment
func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	var req CreateAppointmentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	assigned, err := h.students.AssignedPsychologist(r.Context(), req.StudentID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if !identity.IsAdmin() && assigned != identity.ID {
		httpx.WriteError(w, errors.Forbidden("student is not assigned to you"))
		return
	}

	date := req.Date.UTC()
	if err := h.checkSlot(r.Context(), assigned, date, nil); err != nil {
		httpx.WriteError(w, err)
		return
	}

	a := &Appointment{
		ID:             types.NewID(),
		StudentID:      req.StudentID,
		PsychologistID: assigned,
		Date:           date,
		Reason:         strings.TrimSpace(req.Reason),
		Status:         StatusPending,
		Notes:          req.Notes,
		Active:         true,
	}
	if err := h.store.Create(r.Context(), a); err != nil {
		httpx.WriteError(w, err)
		return
	}

	metrics.RecordAppointmentChange("created")
	h.publish(r, events.TypeAppointmentCreated, a)

	if created, err := h.store.Get(r.Context(), a.ID); err == nil {
		a = created
	}
	httpx.WriteJSON(w, http.StatusCreated, a)
}

// UpdateAppointment changes date, reason, status or notes
func (h *Handler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req UpdateAppointmentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	a, err := h.store.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if !identity.IsAdmin() && a.PsychologistID != identity.ID {
		httpx.WriteError(w, errors.Forbidden("you cannot modify this appointment"))
		return
	}
	if !a.Active || a.Status == StatusCancelled {
		httpx.WriteError(w, errors.BadRequest("a cancelled appointment cannot be modified"))
		return
	}

	if req.Date != nil {
		date := req.Date.UTC()
		if !date.Equal(a.Date) {
			if err := h.checkSlot(r.Context(), a.PsychologistID, date, &a.ID); err != nil {
				httpx.WriteError(w, err)
				return
			}
		}
		a.Date = date
	}
	if req.Reason != nil {
		a.Reason = strings.TrimSpace(*req.Reason)
	}
	if req.Status != nil {
		a.Status = *req.Status
	}
	if req.Notes != nil {
		a.Notes = *req.Notes
	}

	if err := h.store.Update(r.Context(), a); err != nil {
		httpx.WriteError(w, err)
		return
	}

	metrics.RecordAppointmentChange("updated")
	h.publish(r, events.TypeAppointmentUpdated, a)
	httpx.WriteJSON(w, http.StatusOK, a)
}

// CancelAppointment soft-cancels an appointment
func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	a, err := h.store.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if !identity.IsAdmin() && a.PsychologistID != identity.ID {
		httpx.WriteError(w, errors.Forbidden("you cannot cancel this appointment"))
		return
	}

	if err := h.store.Cancel(r.Context(), id); err != nil {
		httpx.WriteError(w, err)
		return
	}
	a.Active = false
	a.Status = StatusCancelled

	metrics.RecordAppointmentChange("cancelled")
	h.publish(r, events.TypeAppointmentCancelled, a)
	httpx.WriteJSON(w, http.StatusOK, a)
}

// checkSlot rejects past dates and double-booked pending slots.
func (h *Handler) checkSlot(ctx context.Context, psychologistID types.ID, date time.Time, exclude *types.ID) error {
	if date.Before(h.now()) {
		return errors.BadRequest("appointment date cannot be in the past")
	}
	conflict, err := h.store.HasConflict(ctx, psychologistID, date, exclude)
	if err != nil {
		return err
	}
	if conflict {
		return errors.Conflict("you already have an appointment at this date and time")
	}
	return nil
}

func (h *Handler) publish(r *http.Request, eventType string, a *Appointment) {
	identity := auth.FromContext(r.Context())
	events.Publish(r.Context(), h.bus, h.log, events.NewEvent(eventType, "appointment", map[string]any{
		"appointment_id": a.ID,
		"student_id":     a.StudentID,
		"date":           a.Date,
		"status":         a.Status,
	}).WithActor(identity.ID, string(identity.Role)).WithCorrelation(chimw.GetReqID(r.Context())))
}
