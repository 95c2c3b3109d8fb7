package assessment

import (
	"time"

	"github.com/psique-app/platform/internal/shared/types"
)

// RiskLevel is an ordinal clinical triage label.
type RiskLevel string

const (
	RiskBajo         RiskLevel = "BAJO"
	RiskModeradoBajo RiskLevel = "MODERADO-BAJO"
	RiskModerado     RiskLevel = "MODERADO"
	RiskAlto         RiskLevel = "ALTO"
	RiskMuyAlto      RiskLevel = "MUY_ALTO"
)

// IdeationLevels lists the ideation outcomes from least to most severe.
var IdeationLevels = []RiskLevel{RiskBajo, RiskModeradoBajo, RiskModerado, RiskAlto, RiskMuyAlto}

// BehaviorLevels lists the behavior outcomes from least to most severe.
var BehaviorLevels = []RiskLevel{RiskBajo, RiskModeradoBajo, RiskAlto, RiskMuyAlto}

// Question is a yes/no item with an optional free-text description.
// Present is a pointer so a missing answer can be told apart from "no".
type Question struct {
	Present     *bool  `json:"present"`
	Description string `json:"description,omitempty"`
}

// IsPresent reports whether the item was answered yes.
func (q Question) IsPresent() bool {
	return q.Present != nil && *q.Present
}

// Answered reports whether the item was answered at all.
func (q Question) Answered() bool {
	return q.Present != nil
}

// IdeationQuestion is an active-ideation item asked only when non-specific
// active suicidal thoughts are present.
type IdeationQuestion struct {
	Question
	Frequency *int `json:"frequency,omitempty" validate:"omitempty,gte=0"`
}

// BehaviorQuestion is a suicidal-behavior item.
type BehaviorQuestion struct {
	Question
	TotalAttempts *int `json:"totalAttempts,omitempty" validate:"omitempty,gte=0"`
}

// IdeationIntensity describes the most serious ideation reported.
type IdeationIntensity struct {
	MostSeriousIdeationType        int    `json:"mostSeriousIdeationType,omitempty" validate:"omitempty,gte=1,lte=5"`
	MostSeriousIdeationDescription string `json:"mostSeriousIdeationDescription,omitempty"`
	// Frequency is 0 (unknown / not applicable) or 1 (once).
	Frequency      *int   `json:"frequency,omitempty" validate:"omitempty,oneof=0 1"`
	FrequencyLabel string `json:"frequencyLabel,omitempty"`
}

// FrequencyValue returns the frequency, treating a missing value as 0.
func (i IdeationIntensity) FrequencyValue() int {
	if i.Frequency == nil {
		return 0
	}
	return *i.Frequency
}

// Answers is the full questionnaire answer set. It is stored verbatim.
type Answers struct {
	DeathWish                         Question `json:"deathWish"`
	NonSpecificActiveSuicidalThoughts Question `json:"nonSpecificActiveSuicidalThoughts"`

	ActiveSuicidalIdeationWithMethods IdeationQuestion `json:"activeSuicidalIdeationWithMethods"`
	ActiveSuicidalIdeationWithIntent  IdeationQuestion `json:"activeSuicidalIdeationWithIntent"`
	ActiveSuicidalIdeationWithPlan    IdeationQuestion `json:"activeSuicidalIdeationWithPlan"`

	IdeationIntensity IdeationIntensity `json:"ideationIntensity"`

	ActualAttempt      BehaviorQuestion `json:"actualAttempt"`
	InterruptedAttempt BehaviorQuestion `json:"interruptedAttempt"`
	AbortedAttempt     BehaviorQuestion `json:"abortedAttempt"`
	PreparatoryActs    BehaviorQuestion `json:"preparatoryActs"`

	CompletedSuicide      bool        `json:"completedSuicide"`
	MostLethalAttemptDate *types.Date `json:"mostLethalAttemptDate,omitempty"`
	LethalityDegree       int         `json:"lethalityDegree" validate:"gte=0,lte=5"`
	PotentialLethality    *int        `json:"potentialLethality,omitempty" validate:"omitempty,gte=0,lte=2"`
}

// ShowsAdditionalIdeation reports whether the active ideation items apply.
func (a Answers) ShowsAdditionalIdeation() bool {
	return a.NonSpecificActiveSuicidalThoughts.IsPresent()
}

// HasIdeation reports whether either screening ideation item is present.
func (a Answers) HasIdeation() bool {
	return a.DeathWish.IsPresent() || a.NonSpecificActiveSuicidalThoughts.IsPresent()
}

// Assessment is one questionnaire instance for one student on one date.
type Assessment struct {
	ID             types.ID  `json:"id"`
	StudentID      types.ID  `json:"studentId"`
	PsychologistID types.ID  `json:"psychologistId"`
	Date           time.Time `json:"date"`

	Answers

	IdeationRiskLevel RiskLevel `json:"ideationRiskLevel"`
	BehaviorRiskLevel RiskLevel `json:"behaviorRiskLevel"`
	Observations      string    `json:"observations"`
	FinalRemarks      string    `json:"finalRemarks"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Populated by reads that join the student and psychologist.
	StudentName      string `json:"studentName,omitempty"`
	PsychologistName string `json:"psychologistName,omitempty"`

	// Psychologist currently assigned to the student, used for access checks.
	StudentPsychologistID types.ID `json:"-"`
}

// CreateAssessmentRequest is the body of POST /suicide-assessments.
type CreateAssessmentRequest struct {
	StudentID    types.ID `json:"studentId"`
	Observations string   `json:"observations"`
	Answers
}

// UpdateRemarksRequest is the body of PUT /suicide-assessments/{id}/remarks.
type UpdateRemarksRequest struct {
	FinalRemarks string `json:"finalRemarks" validate:"required"`
}

// ListFilter selects assessments. Nil fields are not filtered on.
type ListFilter struct {
	StudentID      *types.ID
	PsychologistID *types.ID
}

// LevelCount is a count of assessments at a risk level.
type LevelCount struct {
	Level RiskLevel `json:"level"`
	Count int       `json:"count"`
}

// GenderCount is a count of assessments by student gender.
type GenderCount struct {
	Gender string `json:"gender"`
	Count  int    `json:"count"`
}

// CareerCount is a count of assessments by student career.
type CareerCount struct {
	Career string `json:"career"`
	Count  int    `json:"count"`
}

// Summary is the dashboard overview returned by GET /statistics.
type Summary struct {
	RiskLevels               []LevelCount  `json:"riskLevels"`
	BehaviorLevels           []LevelCount  `json:"behaviorLevels"`
	GenderStats              []GenderCount `json:"genderStats"`
	CareerStats              []CareerCount `json:"careerStats"`
	TotalStudentsActive      int           `json:"totalStudentsActive"`
	TotalPsychologistsActive int           `json:"totalPsychologistsActive"`
	TotalAssessments         int           `json:"totalAssessments"`
}
