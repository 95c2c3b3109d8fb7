package report

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/psique-app/platform/internal/assessment"
	"github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/types"
	"github.com/psique-app/platform/internal/student"
)

type stubAssessments map[types.ID]*assessment.Assessment

func (s stubAssessments) Get(_ context.Context, id types.ID) (*assessment.Assessment, error) {
	a, ok := s[id]
	if !ok {
		return nil, errors.NotFound("assessment", id.String())
	}
	return a, nil
}

func (s stubAssessments) List(_ context.Context, f assessment.ListFilter) ([]assessment.Assessment, error) {
	out := []assessment.Assessment{}
	for _, a := range s {
		if f.StudentID == nil || a.StudentID == *f.StudentID {
			out = append(out, *a)
		}
	}
	return out, nil
}

type stubStudents map[types.ID]*student.Student

func (s stubStudents) Get(_ context.Context, id types.ID) (*student.Student, error) {
	st, ok := s[id]
	if !ok {
		return nil, errors.NotFound("student", id.String())
	}
	return st, nil
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

var generatedAt = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func sampleStudent(psychologist types.ID) *student.Student {
	return &student.Student{
		ID:                   types.NewID(),
		FirstName:            "María José",
		LastName:             "Núñez",
		Age:                  20,
		Phone:                "555-0101",
		Email:                "mj@example.com",
		City:                 "Bogotá",
		Gender:               student.GenderFemale,
		Career:               "Psicología",
		Level:                "Tercer semestre",
		EmploymentStatus:     student.EmploymentStudent,
		Income:               1250.5,
		AssignedPsychologist: psychologist,
		ClinicalNotes: []student.ClinicalNote{
			{ID: types.NewID(), Note: "Primera entrevista, ánimo bajo.", CreatedAt: generatedAt.AddDate(0, -1, 0), CreatedByName: "Ana Ruiz"},
		},
	}
}

func sampleAssessment(s *student.Student) *assessment.Assessment {
	a := &assessment.Assessment{
		ID:                types.NewID(),
		StudentID:         s.ID,
		PsychologistID:    s.AssignedPsychologist,
		Date:              generatedAt.AddDate(0, 0, -3),
		StudentName:       s.FullName(),
		PsychologistName:  "Ana Ruiz",
		IdeationRiskLevel: assessment.RiskModerado,
		BehaviorRiskLevel: assessment.RiskBajo,
		Observations:      "Refiere insomnio.",
	}
	a.DeathWish = assessment.Question{Present: boolPtr(true), Description: "A veces"}
	a.NonSpecificActiveSuicidalThoughts = assessment.Question{Present: boolPtr(true)}
	a.ActiveSuicidalIdeationWithMethods = assessment.IdeationQuestion{Question: assessment.Question{Present: boolPtr(true)}, Frequency: intPtr(1)}
	a.ActualAttempt = assessment.BehaviorQuestion{Question: assessment.Question{Present: boolPtr(false)}}
	a.IdeationIntensity = assessment.IdeationIntensity{MostSeriousIdeationType: 3, Frequency: intPtr(1), FrequencyLabel: "Una vez"}
	a.PotentialLethality = intPtr(1)
	return a
}

func assertPDF(t *testing.T, doc []byte) {
	t.Helper()
	if !bytes.HasPrefix(doc, []byte("%PDF-")) {
		t.Fatalf("Expected a PDF header, got %q", doc[:min(len(doc), 16)])
	}
	if !bytes.Contains(doc[max(0, len(doc)-32):], []byte("%%EOF")) {
		t.Error("Expected the PDF trailer")
	}
}

func TestAssessmentPDF(t *testing.T) {
	s := sampleStudent(types.NewID())
	a := sampleAssessment(s)

	doc, err := AssessmentPDF(a, s, generatedAt)
	if err != nil {
		t.Fatalf("AssessmentPDF failed: %v", err)
	}
	assertPDF(t, doc)

	// Without a student record and without the secondary ideation block.
	a.NonSpecificActiveSuicidalThoughts = assessment.Question{Present: boolPtr(false)}
	doc, err = AssessmentPDF(a, nil, generatedAt)
	if err != nil {
		t.Fatalf("AssessmentPDF without student failed: %v", err)
	}
	assertPDF(t, doc)
}

func TestStudentPDF(t *testing.T) {
	s := sampleStudent(types.NewID())

	doc, err := StudentPDF(s, []assessment.Assessment{*sampleAssessment(s)}, generatedAt)
	if err != nil {
		t.Fatalf("StudentPDF failed: %v", err)
	}
	assertPDF(t, doc)

	s.ClinicalNotes = nil
	if doc, err = StudentPDF(s, nil, generatedAt); err != nil {
		t.Fatalf("StudentPDF with empty history failed: %v", err)
	}
	assertPDF(t, doc)
}

type fixture struct {
	router  http.Handler
	psych   *auth.Identity
	other   *auth.Identity
	admin   *auth.Identity
	student *student.Student
	assess  *assessment.Assessment
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		psych: &auth.Identity{ID: types.NewID(), Role: auth.RolePsychologist},
		other: &auth.Identity{ID: types.NewID(), Role: auth.RolePsychologist},
		admin: &auth.Identity{ID: types.NewID(), Role: auth.RoleAdmin},
	}
	f.student = sampleStudent(f.psych.ID)
	f.assess = sampleAssessment(f.student)
	f.assess.StudentPsychologistID = f.psych.ID

	h := NewHandler(stubAssessments{f.assess.ID: f.assess}, stubStudents{f.student.ID: f.student}, nil)
	h.now = func() time.Time { return generatedAt }

	r := chi.NewRouter()
	r.Mount("/pdfassessement", h.AssessmentRoutes())
	r.Mount("/pdfreport", h.StudentRoutes())
	f.router = r
	return f
}

func (f *fixture) get(as *auth.Identity, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), as))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestAssessmentReportEndpoint(t *testing.T) {
	f := newFixture(t)
	path := "/pdfassessement/" + f.assess.ID.String() + "/report/pdfassessment"

	for _, as := range []*auth.Identity{f.psych, f.admin} {
		rec := f.get(as, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200 for %s, got %d: %s", as.Role, rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
			t.Errorf("Expected application/pdf, got %s", ct)
		}
		if cd := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "inline;") {
			t.Errorf("Expected inline disposition, got %s", cd)
		}
		assertPDF(t, rec.Body.Bytes())
	}

	if rec := f.get(f.other, path); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for unrelated psychologist, got %d", rec.Code)
	}
	if rec := f.get(f.psych, "/pdfassessement/"+types.NewID().String()+"/report/pdfassessment"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
	if rec := f.get(f.psych, "/pdfassessement/not-an-id/report/pdfassessment"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestStudentReportEndpoint(t *testing.T) {
	f := newFixture(t)
	path := "/pdfreport/student/" + f.student.ID.String()

	rec := f.get(f.psych, path)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	assertPDF(t, rec.Body.Bytes())

	if rec := f.get(f.other, path); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}
	if rec := f.get(&auth.Identity{ID: types.NewID(), Role: auth.RoleStudent}, path); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-staff, got %d", rec.Code)
	}
	if rec := f.get(f.admin, "/pdfreport/student/"+types.NewID().String()); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}
