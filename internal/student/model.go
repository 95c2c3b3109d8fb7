package student

import (
	"time"

	"github.com/psique-app/platform/internal/appointment"
	"github.com/psique-app/platform/internal/assessment"
	"github.com/psique-app/platform/internal/shared/types"
)

type Gender string

const (
	GenderMale   Gender = "MASCULINO"
	GenderFemale Gender = "FEMENINO"
	GenderOther  Gender = "OTRO"
)

type EmploymentStatus string

const (
	EmploymentEmployed   EmploymentStatus = "EMPLEADO"
	EmploymentUnemployed EmploymentStatus = "DESEMPLEADO"
	EmploymentStudent    EmploymentStatus = "ESTUDIANTE"
)

// ClinicalNote is a free-text note a psychologist attaches to a student.
type ClinicalNote struct {
	ID            types.ID  `json:"id"`
	Note          string    `json:"note"`
	CreatedAt     time.Time `json:"createdAt"`
	CreatedBy     types.ID  `json:"createdBy"`
	CreatedByName string    `json:"createdByName,omitempty"`
}

// Student is a person under psychological follow-up. Students are records
// managed by psychologists, not accounts.
type Student struct {
	ID        types.ID `json:"id"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Age       int      `json:"age"`
	Phone     string   `json:"phone"`
	Email     string   `json:"email"`
	City      string   `json:"city"`
	Gender    Gender   `json:"gender"`

	Career string `json:"career"`
	Level  string `json:"level"`

	EmploymentStatus EmploymentStatus `json:"employmentStatus"`
	Income           float64          `json:"income"`

	AssignedPsychologist     types.ID `json:"assignedPsychologist"`
	AssignedPsychologistName string   `json:"assignedPsychologistName,omitempty"`

	ClinicalNotes []ClinicalNote `json:"clinicalNotes"`

	Status    bool      `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FullName joins first and last name.
func (s *Student) FullName() string {
	return s.FirstName + " " + s.LastName
}

// Detail is a student with their assessment and appointment history.
type Detail struct {
	*Student
	Assessments  []assessment.Assessment   `json:"assessments"`
	Appointments []appointment.Appointment `json:"appointments"`
}

// Input carries the writable student fields. It is shared by the create
// endpoint and the spreadsheet import.
type Input struct {
	FirstName        string           `json:"firstName" validate:"required,max=120"`
	LastName         string           `json:"lastName" validate:"required,max=120"`
	Age              int              `json:"age" validate:"required,gte=1,lte=120"`
	Phone            string           `json:"phone" validate:"required,max=40"`
	Email            string           `json:"email" validate:"required,email,max=255"`
	City             string           `json:"city" validate:"required,max=120"`
	Gender           Gender           `json:"gender" validate:"required,oneof=MASCULINO FEMENINO OTRO"`
	Career           string           `json:"career" validate:"required,max=200"`
	Level            string           `json:"level" validate:"required,max=60"`
	EmploymentStatus EmploymentStatus `json:"employmentStatus" validate:"required,oneof=EMPLEADO DESEMPLEADO ESTUDIANTE"`
	Income           float64          `json:"income" validate:"gte=0"`

	AssignedPsychologist *types.ID `json:"assignedPsychologist,omitempty" validate:"omitempty,uuid"`
}

// UpdateRequest is the body of PUT /students/{id}. Nil fields are kept.
type UpdateRequest struct {
	FirstName        *string           `json:"firstName" validate:"omitempty,min=1,max=120"`
	LastName         *string           `json:"lastName" validate:"omitempty,min=1,max=120"`
	Age              *int              `json:"age" validate:"omitempty,gte=1,lte=120"`
	Phone            *string           `json:"phone" validate:"omitempty,min=1,max=40"`
	Email            *string           `json:"email" validate:"omitempty,email,max=255"`
	City             *string           `json:"city" validate:"omitempty,min=1,max=120"`
	Gender           *Gender           `json:"gender" validate:"omitempty,oneof=MASCULINO FEMENINO OTRO"`
	Career           *string           `json:"career" validate:"omitempty,min=1,max=200"`
	Level            *string           `json:"level" validate:"omitempty,min=1,max=60"`
	EmploymentStatus *EmploymentStatus `json:"employmentStatus" validate:"omitempty,oneof=EMPLEADO DESEMPLEADO ESTUDIANTE"`
	Income           *float64          `json:"income" validate:"omitempty,gte=0"`

	AssignedPsychologist *types.ID `json:"assignedPsychologist" validate:"omitempty,uuid"`
}

// NoteRequest is the body of the clinical note endpoints.
type NoteRequest struct {
	Note string `json:"note" validate:"required,max=5000"`
}

// Summary is a student row in the per-psychologist overview.
type Summary struct {
	ID              types.ID  `json:"id"`
	FullName        string    `json:"fullName"`
	Email           string    `json:"email"`
	Career          string    `json:"career"`
	Level           string    `json:"level"`
	HasAssessment   bool      `json:"hasAssessment"`
	EvaluationCount int       `json:"evaluationCount"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ListFilter selects active students.
type ListFilter struct {
	PsychologistID *types.ID
	// FirstName matches a case-insensitive substring of the first name.
	FirstName string
}

// ImportError reports why a spreadsheet row was not imported.
type ImportError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportResult is the outcome of a spreadsheet import.
type ImportResult struct {
	Imported int           `json:"imported"`
	Failed   int           `json:"failed"`
	Errors   []ImportError `json:"errors"`
}
