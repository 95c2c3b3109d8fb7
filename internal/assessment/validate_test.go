package assessment

import (
	"testing"

	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/types"
)

func validationDetails(t *testing.T, err error) map[string]string {
	t.Helper()
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	appErr := errors.As(err)
	if appErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("Expected VALIDATION_ERROR, got %s", appErr.Code)
	}
	return appErr.Details
}

func TestValidateAnswersScreeningRequired(t *testing.T) {
	details := validationDetails(t, ValidateAnswers(Answers{}))

	for _, field := range []string{"deathWish.present", "nonSpecificActiveSuicidalThoughts.present"} {
		if details[field] != "is required" {
			t.Errorf("Expected %s to be required, got %v", field, details)
		}
	}
}

func TestValidateAnswersBehaviorSection(t *testing.T) {
	a := Answers{DeathWish: no(), NonSpecificActiveSuicidalThoughts: no()}
	details := validationDetails(t, ValidateAnswers(a))

	for _, field := range []string{"actualAttempt.present", "interruptedAttempt.present", "abortedAttempt.present", "preparatoryActs.present"} {
		if _, ok := details[field]; !ok {
			t.Errorf("Expected %s in details, got %v", field, details)
		}
	}

	if err := ValidateAnswers(behavior(false, true, false, false)); err != nil {
		t.Errorf("Expected complete behavior section to pass, got %v", err)
	}
}

func TestValidateAnswersIdeationSection(t *testing.T) {
	a := Answers{DeathWish: yes(), NonSpecificActiveSuicidalThoughts: no()}
	details := validationDetails(t, ValidateAnswers(a))

	for _, field := range []string{
		"ideationIntensity.mostSeriousIdeationType",
		"ideationIntensity.mostSeriousIdeationDescription",
		"ideationIntensity.frequency",
	} {
		if _, ok := details[field]; !ok {
			t.Errorf("Expected %s in details, got %v", field, details)
		}
	}
	if _, ok := details["actualAttempt.present"]; ok {
		t.Error("Behavior items should not be required when ideation is present")
	}

	if err := ValidateAnswers(intensity(3, 1)); err != nil {
		t.Errorf("Expected complete ideation section to pass, got %v", err)
	}
}

func TestValidateAnswersActiveIdeationItems(t *testing.T) {
	a := intensity(4, 0)
	a.NonSpecificActiveSuicidalThoughts = yes()
	details := validationDetails(t, ValidateAnswers(a))

	if _, ok := details["activeSuicidalIdeationWithPlan.present"]; !ok {
		t.Errorf("Expected plan item to be required, got %v", details)
	}

	a.ActiveSuicidalIdeationWithMethods = IdeationQuestion{Question: no()}
	a.ActiveSuicidalIdeationWithIntent = IdeationQuestion{Question: no()}
	a.ActiveSuicidalIdeationWithPlan = IdeationQuestion{Question: yes(), Frequency: intPtr(2)}
	if err := ValidateAnswers(a); err != nil {
		t.Errorf("Expected answers to pass, got %v", err)
	}
}

func TestValidateAnswersRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Answers)
		field  string
	}{
		{"type above 5", func(a *Answers) { a.IdeationIntensity.MostSeriousIdeationType = 6 }, "ideationIntensity.mostSeriousIdeationType"},
		{"frequency outside enum", func(a *Answers) { a.IdeationIntensity.Frequency = intPtr(2) }, "ideationIntensity.frequency"},
		{"lethality above 5", func(a *Answers) { a.LethalityDegree = 6 }, "lethalityDegree"},
		{"negative lethality", func(a *Answers) { a.LethalityDegree = -1 }, "lethalityDegree"},
		{"potential lethality above 2", func(a *Answers) { a.PotentialLethality = intPtr(3) }, "potentialLethality"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := intensity(3, 1)
			tt.mutate(&a)
			details := validationDetails(t, ValidateAnswers(a))
			if _, ok := details[tt.field]; !ok {
				t.Errorf("Expected %s in details, got %v", tt.field, details)
			}
		})
	}
}

func TestValidateCreate(t *testing.T) {
	req := &CreateAssessmentRequest{StudentID: "not-a-uuid", Answers: intensity(3, 1)}
	details := validationDetails(t, ValidateCreate(req))
	if details["studentId"] != "must be a valid ID" {
		t.Errorf("Expected studentId error, got %v", details)
	}

	id := types.NewID()
	req = &CreateAssessmentRequest{StudentID: types.ID(id.String()), Answers: intensity(3, 1)}
	if err := ValidateCreate(req); err != nil {
		t.Errorf("Expected valid request, got %v", err)
	}
}

func TestNormalizeFrequencyLabel(t *testing.T) {
	a := intensity(3, 1)
	normalize(&a)
	if a.IdeationIntensity.FrequencyLabel != "N/A" {
		t.Errorf("Expected N/A default, got %q", a.IdeationIntensity.FrequencyLabel)
	}

	b := behavior(false, false, false, false)
	normalize(&b)
	if b.IdeationIntensity.FrequencyLabel != "" {
		t.Errorf("Expected no label without ideation, got %q", b.IdeationIntensity.FrequencyLabel)
	}
}
