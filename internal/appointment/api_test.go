package appointment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/events"
	"github.com/psique-app/platform/internal/shared/types"
)

type memoryStore struct {
	items    map[types.ID]*Appointment
	students map[types.ID]types.ID
}

func (s *memoryStore) AssignedPsychologist(_ context.Context, id types.ID) (types.ID, error) {
	p, ok := s.students[id]
	if !ok {
		return "", errors.NotFound("student", id.String())
	}
	return p, nil
}

func (s *memoryStore) Create(_ context.Context, a *Appointment) error {
	cp := *a
	s.items[a.ID] = &cp
	return nil
}

func (s *memoryStore) Get(_ context.Context, id types.ID) (*Appointment, error) {
	a, ok := s.items[id]
	if !ok {
		return nil, errors.NotFound("appointment", id.String())
	}
	cp := *a
	return &cp, nil
}

func (s *memoryStore) List(_ context.Context, f ListFilter) ([]Appointment, error) {
	out := []Appointment{}
	for _, a := range s.items {
		if !a.Active {
			continue
		}
		if f.PsychologistID != nil && a.PsychologistID != *f.PsychologistID {
			continue
		}
		if f.StudentID != nil && a.StudentID != *f.StudentID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (s *memoryStore) Update(_ context.Context, a *Appointment) error {
	cp := *a
	s.items[a.ID] = &cp
	return nil
}

func (s *memoryStore) Cancel(_ context.Context, id types.ID) error {
	a, ok := s.items[id]
	if !ok {
		return errors.NotFound("appointment", id.String())
	}
	a.Active = false
	a.Status = StatusCancelled
	return nil
}

func (s *memoryStore) HasConflict(_ context.Context, psychologistID types.ID, date time.Time, exclude *types.ID) (bool, error) {
	for _, a := range s.items {
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if a.Active && a.Status == StatusPending && a.PsychologistID == psychologistID && a.Date.Equal(date) {
			return true, nil
		}
	}
	return false, nil
}

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memoryStore
	handler http.Handler
	events  []string
	psych   *auth.Identity
	other   *auth.Identity
	admin   *auth.Identity
	student types.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   &memoryStore{items: map[types.ID]*Appointment{}, students: map[types.ID]types.ID{}},
		psych:   &auth.Identity{ID: types.NewID(), Role: auth.RolePsychologist},
		other:   &auth.Identity{ID: types.NewID(), Role: auth.RolePsychologist},
		admin:   &auth.Identity{ID: types.NewID(), Role: auth.RoleAdmin},
		student: types.NewID(),
	}
	f.store.students[f.student] = f.psych.ID

	bus := events.NewMemoryBus(nil)
	_ = bus.Subscribe(context.Background(), "appointment.*", "test", func(_ context.Context, e events.Event) error {
		f.events = append(f.events, e.Type)
		return nil
	})

	h := NewHandler(f.store, f.store, bus, zap.NewNop())
	h.now = func() time.Time { return fixedNow }
	f.handler = h.Routes()
	return f
}

func (f *fixture) do(t *testing.T, as *auth.Identity, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(auth.WithIdentity(req.Context(), as))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) book(t *testing.T, as *auth.Identity, at time.Time) *Appointment {
	t.Helper()
	rec := f.do(t, as, http.MethodPost, "/", CreateAppointmentRequest{StudentID: f.student, Date: at, Reason: "Follow-up"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var a Appointment
	_ = json.NewDecoder(rec.Body).Decode(&a)
	return &a
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture(t)
	at := fixedNow.Add(48 * time.Hour)

	a := f.book(t, f.psych, at)
	if a.Status != StatusPending || !a.Active {
		t.Errorf("Expected active pending appointment, got %s active=%v", a.Status, a.Active)
	}
	if a.PsychologistID != f.psych.ID {
		t.Errorf("Expected psychologist to be the assigned one")
	}

	tests := []struct {
		name   string
		as     *auth.Identity
		body   CreateAppointmentRequest
		status int
	}{
		{"double booked", f.psych, CreateAppointmentRequest{StudentID: f.student, Date: at, Reason: "Again"}, http.StatusConflict},
		{"past date", f.psych, CreateAppointmentRequest{StudentID: f.student, Date: fixedNow.Add(-time.Hour), Reason: "Late"}, http.StatusBadRequest},
		{"missing reason", f.psych, CreateAppointmentRequest{StudentID: f.student, Date: at.Add(time.Hour)}, http.StatusBadRequest},
		{"not assigned", f.other, CreateAppointmentRequest{StudentID: f.student, Date: at.Add(time.Hour), Reason: "x"}, http.StatusForbidden},
		{"unknown student", f.psych, CreateAppointmentRequest{StudentID: types.NewID(), Date: at.Add(time.Hour), Reason: "x"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, tt.as, http.MethodPost, "/", tt.body); rec.Code != tt.status {
				t.Errorf("Expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAdminBooksForAssignedPsychologist(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.admin, fixedNow.Add(time.Hour))

	if a.PsychologistID != f.psych.ID {
		t.Errorf("Expected appointment with the student's psychologist, got %s", a.PsychologistID)
	}
}

func TestUpdateAppointment(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, f.psych, fixedNow.Add(24*time.Hour))
	second := f.book(t, f.psych, fixedNow.Add(48*time.Hour))

	rec := f.do(t, f.psych, http.MethodPut, "/"+second.ID.String(), map[string]any{"date": first.Date})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 moving onto a booked slot, got %d", rec.Code)
	}

	rec = f.do(t, f.psych, http.MethodPut, "/"+first.ID.String(), map[string]any{"date": first.Date, "notes": "bring forms"})
	if rec.Code != http.StatusOK {
		t.Errorf("Expected keeping its own slot to pass, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, f.psych, http.MethodPut, "/"+first.ID.String(), map[string]any{"status": "DONE"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown status, got %d", rec.Code)
	}

	rec = f.do(t, f.other, http.MethodPut, "/"+first.ID.String(), map[string]any{"reason": "x"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for other psychologist, got %d", rec.Code)
	}

	rec = f.do(t, f.psych, http.MethodPut, "/"+first.ID.String(), map[string]any{"status": StatusCompleted})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if f.store.items[first.ID].Status != StatusCompleted {
		t.Errorf("Expected status COMPLETADA, got %s", f.store.items[first.ID].Status)
	}
}

func TestCancelAppointment(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.psych, fixedNow.Add(time.Hour))

	if rec := f.do(t, f.psych, http.MethodDelete, "/"+a.ID.String(), nil); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	stored := f.store.items[a.ID]
	if stored.Active || stored.Status != StatusCancelled {
		t.Errorf("Expected soft cancel, got active=%v status=%s", stored.Active, stored.Status)
	}

	if rec := f.do(t, f.psych, http.MethodPut, "/"+a.ID.String(), map[string]any{"reason": "x"}); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected cancelled appointment to be immutable, got %d", rec.Code)
	}

	// The slot is free again
	f.book(t, f.psych, a.Date)

	want := []string{events.TypeAppointmentCreated, events.TypeAppointmentCancelled, events.TypeAppointmentCreated}
	if len(f.events) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, f.events)
	}
	for i := range want {
		if f.events[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], f.events[i])
		}
	}
}

func TestListAppointments(t *testing.T) {
	f := newFixture(t)
	f.book(t, f.psych, fixedNow.Add(time.Hour))
	done := f.book(t, f.psych, fixedNow.Add(2*time.Hour))
	f.do(t, f.psych, http.MethodPut, "/"+done.ID.String(), map[string]any{"status": StatusCompleted})

	total := func(rec *httptest.ResponseRecorder) int {
		var body struct {
			Total int `json:"total"`
		}
		_ = json.NewDecoder(rec.Body).Decode(&body)
		return body.Total
	}

	if got := total(f.do(t, f.psych, http.MethodGet, "/", nil)); got != 2 {
		t.Errorf("Expected 2, got %d", got)
	}
	if got := total(f.do(t, f.psych, http.MethodGet, "/?status=COMPLETADA", nil)); got != 1 {
		t.Errorf("Expected 1 completed, got %d", got)
	}
	if got := total(f.do(t, f.psych, http.MethodGet, "/?status=bogus", nil)); got != 2 {
		t.Errorf("Expected unknown status to be ignored, got %d", got)
	}
	if got := total(f.do(t, f.other, http.MethodGet, "/", nil)); got != 0 {
		t.Errorf("Expected other psychologist to see none, got %d", got)
	}
	if got := total(f.do(t, f.admin, http.MethodGet, "/?studentId="+f.student.String(), nil)); got != 2 {
		t.Errorf("Expected admin to see all, got %d", got)
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusCompleted, StatusCancelled} {
		if !s.Valid() {
			t.Errorf("Expected %s to be valid", s)
		}
	}
	if Status("DONE").Valid() {
		t.Error("Expected DONE to be invalid")
	}
}
