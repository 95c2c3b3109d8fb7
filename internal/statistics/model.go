// Package statistics serves the dashboard aggregations over assessments.
package statistics

import (
	"time"

	"github.com/psique-app/platform/internal/assessment"
	"github.com/psique-app/platform/internal/shared/types"
)

// Record is one assessment flattened with the student and psychologist
// attributes the dashboards group by.
type Record struct {
	ID                types.ID             `json:"id"`
	StudentID         types.ID             `json:"studentId"`
	StudentName       string               `json:"studentName"`
	PsychologistID    types.ID             `json:"psychologistId"`
	PsychologistName  string               `json:"psychologistName"`
	Date              time.Time            `json:"date"`
	IdeationRiskLevel assessment.RiskLevel `json:"ideationRiskLevel"`
	BehaviorRiskLevel assessment.RiskLevel `json:"behaviorRiskLevel"`

	DeathWish          bool `json:"deathWish"`
	NonSpecific        bool `json:"nonSpecificActiveSuicidalThoughts"`
	WithMethods        bool `json:"activeSuicidalIdeationWithMethods"`
	WithIntent         bool `json:"activeSuicidalIdeationWithIntent"`
	WithPlan           bool `json:"activeSuicidalIdeationWithPlan"`
	ActualAttempt      bool `json:"actualAttempt"`
	InterruptedAttempt bool `json:"interruptedAttempt"`
	AbortedAttempt     bool `json:"abortedAttempt"`
	PreparatoryActs    bool `json:"preparatoryActs"`

	Career string `json:"career"`
	Gender string `json:"gender"`
	Age    int    `json:"age"`
}

// Filter selects records. Zero fields are not filtered on.
type Filter struct {
	PsychologistID *types.ID
	From           *time.Time
	To             *time.Time
	Career         string
	Gender         string
}

// NamedCount is a chart point.
type NamedCount struct {
	Name string `json:"name"`
	Y    int    `json:"y"`
}

// TimeCount is the number of assessments in one time bucket.
type TimeCount struct {
	DateLabel string `json:"dateLabel"`
	Count     int    `json:"count"`
}

type CareerRisk struct {
	Career    string               `json:"career"`
	RiskLevel assessment.RiskLevel `json:"riskLevel"`
	Count     int                  `json:"count"`
}

type GenderRisk struct {
	Gender    string               `json:"gender"`
	RiskLevel assessment.RiskLevel `json:"riskLevel"`
	Count     int                  `json:"count"`
}

type AgeRisk struct {
	AgeGroup  string               `json:"ageGroup"`
	RiskLevel assessment.RiskLevel `json:"riskLevel"`
	Count     int                  `json:"count"`
}

// IdeationFrequency counts the ideation items answered yes.
type IdeationFrequency struct {
	DeathWishCount   int `json:"deathWishCount"`
	NonSpecificCount int `json:"nonSpecificCount"`
	MethodsCount     int `json:"methodsCount"`
	IntentCount      int `json:"intentCount"`
	PlanCount        int `json:"planCount"`
}

// BehaviorFrequency counts the behavior items answered yes.
type BehaviorFrequency struct {
	ActualAttemptCount      int `json:"actualAttemptCount"`
	InterruptedAttemptCount int `json:"interruptedAttemptCount"`
	AbortedAttemptCount     int `json:"abortedAttemptCount"`
	PreparatoryActsCount    int `json:"preparatoryActsCount"`
}

// PsychologistCount is the number of assessments a psychologist performed.
type PsychologistCount struct {
	PsychologistID   types.ID `json:"psychologistId"`
	PsychologistName string   `json:"psychologistName"`
	Count            int      `json:"count"`
}
