package student

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/appointment"
	"github.com/psique-app/platform/internal/assessment"
	"github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/shared/cache"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/events"
	"github.com/psique-app/platform/internal/shared/httpx"
	"github.com/psique-app/platform/internal/shared/metrics"
	"github.com/psique-app/platform/internal/shared/types"
)

// MaxImportBytes caps spreadsheet uploads.
const MaxImportBytes = 10 << 20

// AssessmentLister lists assessments for the student detail view.
type AssessmentLister interface {
	List(ctx context.Context, filter assessment.ListFilter) ([]assessment.Assessment, error)
}

// AppointmentLister lists appointments for the student detail view.
type AppointmentLister interface {
	List(ctx context.Context, filter appointment.ListFilter) ([]appointment.Appointment, error)
}

// PsychologistDirectory checks that an account is an active psychologist.
type PsychologistDirectory interface {
	IsActivePsychologist(ctx context.Context, id types.ID) (bool, error)
}

// Handler provides HTTP handlers for the student module
type Handler struct {
	store         Store
	assessments   AssessmentLister
	appointments  AppointmentLister
	psychologists PsychologistDirectory
	bus           events.EventBus
	cache         cache.Cache
	log           *zap.Logger
}

// NewHandler creates a new student handler
func NewHandler(
	store Store,
	assessments AssessmentLister,
	appointments AppointmentLister,
	psychologists PsychologistDirectory,
	bus events.EventBus,
	c cache.Cache,
	log *zap.Logger,
) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if c == nil {
		c = cache.Nop{}
	}
	return &Handler{
		store:         store,
		assessments:   assessments,
		appointments:  appointments,
		psychologists: psychologists,
		bus:           bus,
		cache:         c,
		log:           log.Named("student"),
	}
}

// Routes registers the student routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequirePsychologist)

	r.Get("/", h.ListStudents)
	r.Post("/", h.CreateStudent)
	r.Get("/search", h.SearchStudents)
	r.Get("/by-psychologist/{id}", h.ListByPsychologist)
	r.With(auth.RequirePermission(auth.PermStudentImport)).Post("/import", h.ImportStudents)
	r.Get("/export", h.ExportStudents)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.GetStudent)
		r.Put("/", h.UpdateStudent)
		r.Delete("/", h.DeleteStudent)

		r.Post("/clinical-notes", h.AddClinicalNote)
		r.Put("/clinical-notes/{noteId}", h.UpdateClinicalNote)
		r.Delete("/clinical-notes/{noteId}", h.DeleteClinicalNote)
	})

	return r
}

// visibleFilter scopes a listing to the caller's students unless they are an admin.
func visibleFilter(identity *auth.Identity) ListFilter {
	if identity.IsAdmin() {
		return ListFilter{}
	}
	return ListFilter{PsychologistID: &identity.ID}
}

// ListStudents lists the caller's active students
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.store.List(r.Context(), visibleFilter(auth.FromContext(r.Context())))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"data":  students,
		"total": len(students),
	})
}

// SearchStudents finds students by first name
func (h *Handler) SearchStudents(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		httpx.WriteError(w, errors.BadRequest("query parameter q is required"))
		return
	}

	filter := visibleFilter(auth.FromContext(r.Context()))
	filter.FirstName = q

	students, err := h.store.List(r.Context(), filter)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"data":  students,
		"total": len(students),
	})
}

// ListByPsychologist lists a psychologist's students with assessment counts
func (h *Handler) ListByPsychologist(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	psychologistID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if !identity.IsAdmin() && psychologistID != identity.ID {
		httpx.WriteError(w, errors.Forbidden("you can only list your own students"))
		return
	}

	summaries, err := h.store.Summaries(r.Context(), psychologistID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"data":  summaries,
		"total": len(summaries),
	})
}

// GetStudent returns a student with their assessments and appointments
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadAccessible(w, r)
	if !ok {
		return
	}

	assessments, err := h.assessments.List(r.Context(), assessment.ListFilter{StudentID: &s.ID})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	appointments, err := h.appointments.List(r.Context(), appointment.ListFilter{StudentID: &s.ID, Descending: true})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, Detail{
		Student:      s,
		Assessments:  assessments,
		Appointments: appointments,
	})
}

// CreateStudent registers a new student
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, err)
		return
	}
	trimInput(&in)
	if err := httpx.Validate(in); err != nil {
		httpx.WriteError(w, err)
		return
	}

	psychologistID, err := h.resolvePsychologist(r.Context(), identity, in.AssignedPsychologist)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	s := newStudent(in, psychologistID)
	if err := h.store.Create(r.Context(), s); err != nil {
		httpx.WriteError(w, err)
		return
	}
	s.ClinicalNotes = []ClinicalNote{}

	h.invalidateStats(r.Context())
	h.publish(r, events.TypeStudentCreated, map[string]any{
		"student_id":            s.ID,
		"assigned_psychologist": s.AssignedPsychologist,
	})

	httpx.WriteJSON(w, http.StatusCreated, s)
}

// UpdateStudent applies a partial update to a student
func (h *Handler) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	s, ok := h.loadAccessible(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	if req.AssignedPsychologist != nil && *req.AssignedPsychologist != s.AssignedPsychologist {
		psychologistID, err := h.resolvePsychologist(r.Context(), identity, req.AssignedPsychologist)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		s.AssignedPsychologist = psychologistID
	}
	applyUpdate(s, &req)

	if err := h.store.Update(r.Context(), s); err != nil {
		httpx.WriteError(w, err)
		return
	}

	h.invalidateStats(r.Context())
	h.publish(r, events.TypeStudentUpdated, map[string]any{"student_id": s.ID})

	httpx.WriteJSON(w, http.StatusOK, s)
}

// DeleteStudent soft-deletes a student
func (h *Handler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadAccessible(w, r)
	if !ok {
		return
	}

	if err := h.store.Deactivate(r.Context(), s.ID); err != nil {
		httpx.WriteError(w, err)
		return
	}

	h.invalidateStats(r.Context())
	h.publish(r, events.TypeStudentDeleted, map[string]any{"student_id": s.ID})

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "student deleted"})
}

// AddClinicalNote appends a note written by the caller
func (h *Handler) AddClinicalNote(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	studentID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req NoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	req.Note = strings.TrimSpace(req.Note)
	if err := httpx.Validate(req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	assigned, err := h.store.AssignedPsychologist(r.Context(), studentID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if assigned != identity.ID {
		httpx.WriteError(w, errors.Forbidden("only the assigned psychologist can add clinical notes"))
		return
	}

	note := &ClinicalNote{
		ID:            types.NewID(),
		Note:          req.Note,
		CreatedBy:     identity.ID,
		CreatedByName: identity.Name,
	}
	if err := h.store.AddNote(r.Context(), studentID, note); err != nil {
		httpx.WriteError(w, err)
		return
	}

	h.publish(r, events.TypeClinicalNoteAdded, map[string]any{
		"student_id": studentID,
		"note_id":    note.ID,
	})

	httpx.WriteJSON(w, http.StatusCreated, note)
}

// UpdateClinicalNote edits a note; only its author may do so
func (h *Handler) UpdateClinicalNote(w http.ResponseWriter, r *http.Request) {
	studentID, note, ok := h.loadOwnNote(w, r)
	if !ok {
		return
	}

	var req NoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	req.Note = strings.TrimSpace(req.Note)
	if err := httpx.Validate(req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	if err := h.store.UpdateNote(r.Context(), studentID, note.ID, req.Note); err != nil {
		httpx.WriteError(w, err)
		return
	}
	note.Note = req.Note

	httpx.WriteJSON(w, http.StatusOK, note)
}

// DeleteClinicalNote removes a note; only its author may do so
func (h *Handler) DeleteClinicalNote(w http.ResponseWriter, r *http.Request) {
	studentID, note, ok := h.loadOwnNote(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteNote(r.Context(), studentID, note.ID); err != nil {
		httpx.WriteError(w, err)
		return
	}

	h.publish(r, events.TypeClinicalNoteDeleted, map[string]any{
		"student_id": studentID,
		"note_id":    note.ID,
	})

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "clinical note deleted"})
}

// ImportStudents creates students from an uploaded .xlsx workbook. Rows
// that fail are reported and do not stop the import.
func (h *Handler) ImportStudents(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, MaxImportBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.WriteError(w, errors.BadRequest("an .xlsx file is required in the file field"))
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") {
		httpx.WriteError(w, errors.BadRequest("only .xlsx files are supported"))
		return
	}

	rows, err := ReadWorkbook(file)
	if err != nil {
		httpx.WriteError(w, errors.BadRequest(err.Error()))
		return
	}

	result := h.importRows(r.Context(), identity, rows)

	metrics.RecordStudentImport(result.Imported, result.Failed)
	if result.Imported > 0 {
		h.invalidateStats(r.Context())
		h.publish(r, events.TypeStudentsImported, map[string]any{
			"imported": result.Imported,
			"failed":   result.Failed,
		})
	}
	h.log.Info("students imported",
		zap.String("psychologist_id", identity.ID.String()),
		zap.Int("imported", result.Imported),
		zap.Int("failed", result.Failed),
	)

	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) importRows(ctx context.Context, identity *auth.Identity, rows []SheetRow) ImportResult {
	result := ImportResult{Errors: []ImportError{}}
	fail := func(row int, msg string) {
		result.Failed++
		result.Errors = append(result.Errors, ImportError{Row: row, Message: msg})
	}

	for _, row := range rows {
		if row.Err != nil {
			fail(row.Row, row.Err.Error())
			continue
		}
		in := row.Input
		in.AssignedPsychologist = nil
		trimInput(&in)
		if err := httpx.Validate(in); err != nil {
			fail(row.Row, describeValidation(err))
			continue
		}

		if err := h.store.Create(ctx, newStudent(in, identity.ID)); err != nil {
			if errors.Is(err, errors.ErrConflict) {
				fail(row.Row, "email "+in.Email+" is already registered")
				continue
			}
			h.log.Error("failed to import student row", zap.Int("row", row.Row), zap.Error(err))
			fail(row.Row, "failed to save student")
			continue
		}
		result.Imported++
	}
	return result
}

// ExportStudents downloads the caller's students as an .xlsx workbook
func (h *Handler) ExportStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.store.List(r.Context(), visibleFilter(auth.FromContext(r.Context())))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	data, err := WriteWorkbook(students)
	if err != nil {
		httpx.WriteError(w, errors.Wrap(err, "failed to build workbook"))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="students.xlsx"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// loadAccessible loads the {id} student and checks the caller may manage it.
func (h *Handler) loadAccessible(w http.ResponseWriter, r *http.Request) (*Student, bool) {
	identity := auth.FromContext(r.Context())

	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return nil, false
	}

	s, err := h.store.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return nil, false
	}
	if !identity.IsAdmin() && s.AssignedPsychologist != identity.ID {
		httpx.WriteError(w, errors.Forbidden("student is not assigned to you"))
		return nil, false
	}
	return s, true
}

func (h *Handler) loadOwnNote(w http.ResponseWriter, r *http.Request) (types.ID, *ClinicalNote, bool) {
	identity := auth.FromContext(r.Context())

	studentID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return "", nil, false
	}
	noteID, err := httpx.PathID(r, "noteId")
	if err != nil {
		httpx.WriteError(w, err)
		return "", nil, false
	}

	note, err := h.store.GetNote(r.Context(), studentID, noteID)
	if err != nil {
		httpx.WriteError(w, err)
		return "", nil, false
	}
	if note.CreatedBy != identity.ID {
		httpx.WriteError(w, errors.Forbidden("only the author can modify this clinical note"))
		return "", nil, false
	}
	return studentID, note, true
}

// resolvePsychologist picks the psychologist a student is assigned to. It
// defaults to the caller, and only admins may choose someone else.
func (h *Handler) resolvePsychologist(ctx context.Context, identity *auth.Identity, requested *types.ID) (types.ID, error) {
	if requested == nil || *requested == identity.ID {
		return identity.ID, nil
	}
	if !identity.IsAdmin() {
		return "", errors.Forbidden("you cannot assign students to another psychologist")
	}

	ok, err := h.psychologists.IsActivePsychologist(ctx, *requested)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.Validation("validation failed", map[string]string{
			"assignedPsychologist": "must be an active psychologist",
		})
	}
	return *requested, nil
}

func (h *Handler) invalidateStats(ctx context.Context) {
	if err := h.cache.DeletePrefix(ctx, assessment.StatsCachePrefix); err != nil {
		h.log.Warn("failed to invalidate statistics cache", zap.Error(err))
	}
}

func (h *Handler) publish(r *http.Request, eventType string, data map[string]any) {
	identity := auth.FromContext(r.Context())
	events.Publish(r.Context(), h.bus, h.log, events.NewEvent(eventType, "student", data).
		WithActor(identity.ID, string(identity.Role)).
		WithCorrelation(chimw.GetReqID(r.Context())))
}

func newStudent(in Input, psychologistID types.ID) *Student {
	return &Student{
		ID:                   types.NewID(),
		FirstName:            in.FirstName,
		LastName:             in.LastName,
		Age:                  in.Age,
		Phone:                in.Phone,
		Email:                in.Email,
		City:                 in.City,
		Gender:               in.Gender,
		Career:               in.Career,
		Level:                in.Level,
		EmploymentStatus:     in.EmploymentStatus,
		Income:               in.Income,
		AssignedPsychologist: psychologistID,
		Status:               true,
	}
}

func trimInput(in *Input) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.City = strings.TrimSpace(in.City)
	in.Career = strings.TrimSpace(in.Career)
	in.Level = strings.TrimSpace(in.Level)
}

func applyUpdate(s *Student, req *UpdateRequest) {
	if req.FirstName != nil {
		s.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		s.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Age != nil {
		s.Age = *req.Age
	}
	if req.Phone != nil {
		s.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Email != nil {
		s.Email = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.City != nil {
		s.City = strings.TrimSpace(*req.City)
	}
	if req.Gender != nil {
		s.Gender = *req.Gender
	}
	if req.Career != nil {
		s.Career = strings.TrimSpace(*req.Career)
	}
	if req.Level != nil {
		s.Level = strings.TrimSpace(*req.Level)
	}
	if req.EmploymentStatus != nil {
		s.EmploymentStatus = *req.EmploymentStatus
	}
	if req.Income != nil {
		s.Income = *req.Income
	}
}

// describeValidation flattens validation details into one line per row.
func describeValidation(err error) string {
	appErr := errors.As(err)
	if len(appErr.Details) == 0 {
		return appErr.Message
	}
	fields := make([]string, 0, len(appErr.Details))
	for _, name := range SheetHeader {
		if msg, ok := appErr.Details[name]; ok {
			fields = append(fields, name+" "+msg)
		}
	}
	return strings.Join(fields, "; ")
}
