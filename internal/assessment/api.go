package assessment

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/shared/cache"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/events"
	"github.com/psique-app/platform/internal/shared/httpx"
	"github.com/psique-app/platform/internal/shared/metrics"
	"github.com/psique-app/platform/internal/shared/types"
)

// StatsCachePrefix is the cache key prefix of every statistics response.
const StatsCachePrefix = "stats:"

// StudentDirectory resolves the psychologist assigned to an active student.
// It returns a NotFound error for unknown or deactivated students.
type StudentDirectory interface {
	AssignedPsychologist(ctx context.Context, studentID types.ID) (types.ID, error)
}

// Handler provides HTTP handlers for the assessment module
type Handler struct {
	store    Store
	students StudentDirectory
	bus      events.EventBus
	cache    cache.Cache
	log      *zap.Logger
	now      func() time.Time
}

// NewHandler creates a new assessment handler
func NewHandler(store Store, students StudentDirectory, bus events.EventBus, c cache.Cache, log *zap.Logger) *Handler {
	if c == nil {
		c = cache.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store:    store,
		students: students,
		bus:      bus,
		cache:    c,
		log:      log.Named("assessment"),
		now:      time.Now,
	}
}

// Routes registers the assessment routes. Callers mount it behind
// auth.Middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequirePsychologist)

	r.Post("/", h.CreateAssessment)
	r.Get("/", h.ListAssessments)
	r.Get("/statistics", h.GetStatistics)
	r.Get("/{id}", h.GetAssessment)
	r.Put("/{id}/remarks", h.UpdateRemarks)

	return r
}

// CreateAssessment validates, classifies and stores a new assessment
func (h *Handler) CreateAssessment(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	var req CreateAssessmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := ValidateCreate(&req); err != nil {
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

	normalize(&req.Answers)
	classification := Classify(req.Answers)

	a := &Assessment{
		ID:                types.NewID(),
		StudentID:         req.StudentID,
		PsychologistID:    identity.ID,
		Date:              h.now().UTC(),
		Answers:           req.Answers,
		IdeationRiskLevel: classification.IdeationRiskLevel,
		BehaviorRiskLevel: classification.BehaviorRiskLevel,
		Observations:      strings.TrimSpace(req.Observations),
	}

	if err := h.store.Create(r.Context(), a); err != nil {
		httpx.WriteError(w, err)
		return
	}

	metrics.RecordAssessmentCreated(string(a.IdeationRiskLevel), string(a.BehaviorRiskLevel))
	if err := h.cache.DeletePrefix(r.Context(), StatsCachePrefix); err != nil {
		h.log.Warn("failed to invalidate statistics cache", zap.Error(err))
	}

	events.Publish(r.Context(), h.bus, h.log, events.NewEvent(events.TypeAssessmentCreated, "assessment", map[string]any{
		"assessment_id":  a.ID,
		"student_id":     a.StudentID,
		"ideation_level": a.IdeationRiskLevel,
		"behavior_level": a.BehaviorRiskLevel,
	}).WithActor(identity.ID, string(identity.Role)).WithCorrelation(chimw.GetReqID(r.Context())))

	created, err := h.store.Get(r.Context(), a.ID)
	if err != nil {
		// The row is committed; answer with what we have.
		created = a
	}
	httpx.WriteJSON(w, http.StatusCreated, created)
}

// ListAssessments lists assessments for a student, or every assessment the
// caller can see
func (h *Handler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	studentID, err := httpx.QueryID(r, "studentId")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	filter := ListFilter{StudentID: studentID}
	switch {
	case studentID != nil && !identity.IsAdmin():
		assigned, err := h.students.AssignedPsychologist(r.Context(), *studentID)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		if assigned != identity.ID {
			httpx.WriteError(w, errors.Forbidden("student is not assigned to you"))
			return
		}
	case studentID == nil && !identity.IsAdmin():
		filter.PsychologistID = &identity.ID
	}

	assessments, err := h.store.List(r.Context(), filter)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"data":  assessments,
		"total": len(assessments),
	})
}

// GetAssessment returns a single assessment
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
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
	if !CanRead(auth.FromContext(r.Context()), a) {
		httpx.WriteError(w, errors.Forbidden("you cannot view this assessment"))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, a)
}

// UpdateRemarks sets the final remarks of an assessment
func (h *Handler) UpdateRemarks(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req UpdateRemarksRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	req.FinalRemarks = strings.TrimSpace(req.FinalRemarks)
	if err := httpx.Validate(req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	a, err := h.store.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if !identity.IsAdmin() && a.PsychologistID != identity.ID {
		httpx.WriteError(w, errors.Forbidden("only the assessing psychologist can update remarks"))
		return
	}

	if err := h.store.UpdateRemarks(r.Context(), id, req.FinalRemarks); err != nil {
		httpx.WriteError(w, err)
		return
	}
	a.FinalRemarks = req.FinalRemarks

	events.Publish(r.Context(), h.bus, h.log, events.NewEvent(events.TypeAssessmentRemarked, "assessment", map[string]any{
		"assessment_id": a.ID,
		"student_id":    a.StudentID,
	}).WithActor(identity.ID, string(identity.Role)).WithCorrelation(chimw.GetReqID(r.Context())))

	httpx.WriteJSON(w, http.StatusOK, a)
}

// GetStatistics returns the dashboard overview
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	var scope *types.ID
	if !identity.IsAdmin() {
		scope = &identity.ID
	}

	summary, err := h.store.Summary(r.Context(), scope)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, summary)
}

// CanRead reports whether identity may view the assessment: admins always,
// psychologists when they assessed it or the student is assigned to them.
func CanRead(identity *auth.Identity, a *Assessment) bool {
	if identity.IsAdmin() {
		return true
	}
	return identity != nil && (a.PsychologistID == identity.ID || a.StudentPsychologistID == identity.ID)
}
