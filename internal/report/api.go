package report

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/assessment"
	"github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/httpx"
	"github.com/psique-app/platform/internal/shared/metrics"
	"github.com/psique-app/platform/internal/shared/types"
	"github.com/psique-app/platform/internal/student"
)

// AssessmentSource loads assessments.
type AssessmentSource interface {
	Get(ctx context.Context, id types.ID) (*assessment.Assessment, error)
	List(ctx context.Context, filter assessment.ListFilter) ([]assessment.Assessment, error)
}

// StudentSource loads active students with their clinical notes.
type StudentSource interface {
	Get(ctx context.Context, id types.ID) (*student.Student, error)
}

// Handler serves the PDF reports
type Handler struct {
	assessments AssessmentSource
	students    StudentSource
	log         *zap.Logger
	now         func() time.Time
}

// NewHandler creates a new report handler
func NewHandler(assessments AssessmentSource, students StudentSource, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		assessments: assessments,
		students:    students,
		log:         log.Named("report"),
		now:         time.Now,
	}
}

// AssessmentRoutes serves GET /{id}/report/pdfassessment. Callers mount it
// behind auth.Middleware.
func (h *Handler) AssessmentRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequirePsychologist)
	r.Get("/{id}/report/pdfassessment", h.AssessmentReport)
	return r
}

// StudentRoutes serves GET /student/{id}. Callers mount it behind
// auth.Middleware.
func (h *Handler) StudentRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequirePsychologist)
	r.Get("/student/{id}", h.StudentReport)
	return r
}

// AssessmentReport renders one assessment
func (h *Handler) AssessmentReport(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	a, err := h.assessments.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if !assessment.CanRead(identity, a) {
		httpx.WriteError(w, errors.Forbidden("you do not have access to this assessment"))
		return
	}

	s, err := h.students.Get(r.Context(), a.StudentID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		httpx.WriteError(w, err)
		return
	}

	doc, err := AssessmentPDF(a, s, h.now())
	if err != nil {
		httpx.WriteError(w, errors.Wrap(err, "failed to render assessment report"))
		return
	}
	h.writePDF(w, "assessment", fmt.Sprintf("evaluacion-%s.pdf", a.ID), doc)
}

// StudentReport renders a student's record and assessment history
func (h *Handler) StudentReport(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	s, err := h.students.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if !identity.IsAdmin() && s.AssignedPsychologist != identity.ID {
		httpx.WriteError(w, errors.Forbidden("student is not assigned to you"))
		return
	}

	history, err := h.assessments.List(r.Context(), assessment.ListFilter{StudentID: &s.ID})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	doc, err := StudentPDF(s, history, h.now())
	if err != nil {
		httpx.WriteError(w, errors.Wrap(err, "failed to render student report"))
		return
	}
	h.writePDF(w, "student", fmt.Sprintf("estudiante-%s.pdf", s.ID), doc)
}

func (h *Handler) writePDF(w http.ResponseWriter, kind, filename string, doc []byte) {
	metrics.RecordReportRendered(kind)
	h.log.Debug("report rendered", zap.String("kind", kind), zap.Int("bytes", len(doc)))

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}
