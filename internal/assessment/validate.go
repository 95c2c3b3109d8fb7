package assessment

import (
	"strings"

	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/httpx"
	"github.com/psique-app/platform/internal/shared/types"
)

// ValidateAnswers checks field ranges and the conditional requirements
// between questionnaire sections:
//   - both screening items must be answered;
//   - the active ideation items are required when non-specific thoughts are present;
//   - the intensity section is required when either screening item is present;
//   - the behavior items are required when neither screening item is present.
func ValidateAnswers(a Answers) error {
	details := map[string]string{}

	if err := httpx.Validate(a); err != nil {
		if appErr := errors.As(err); appErr.Details != nil {
			for k, v := range appErr.Details {
				details[k] = v
			}
		} else {
			return err
		}
	}

	required := func(field string, q Question) {
		if !q.Answered() {
			details[field+".present"] = "is required"
		}
	}

	required("deathWish", a.DeathWish)
	required("nonSpecificActiveSuicidalThoughts", a.NonSpecificActiveSuicidalThoughts)

	if a.ShowsAdditionalIdeation() {
		required("activeSuicidalIdeationWithMethods", a.ActiveSuicidalIdeationWithMethods.Question)
		required("activeSuicidalIdeationWithIntent", a.ActiveSuicidalIdeationWithIntent.Question)
		required("activeSuicidalIdeationWithPlan", a.ActiveSuicidalIdeationWithPlan.Question)
	}

	if a.HasIdeation() {
		in := a.IdeationIntensity
		if in.MostSeriousIdeationType == 0 {
			details["ideationIntensity.mostSeriousIdeationType"] = "is required"
		}
		if strings.TrimSpace(in.MostSeriousIdeationDescription) == "" {
			details["ideationIntensity.mostSeriousIdeationDescription"] = "is required"
		}
		if in.Frequency == nil {
			details["ideationIntensity.frequency"] = "is required"
		}
	} else if a.DeathWish.Answered() && a.NonSpecificActiveSuicidalThoughts.Answered() {
		required("actualAttempt", a.ActualAttempt.Question)
		required("interruptedAttempt", a.InterruptedAttempt.Question)
		required("abortedAttempt", a.AbortedAttempt.Question)
		required("preparatoryActs", a.PreparatoryActs.Question)
	}

	if len(details) > 0 {
		return errors.Validation("invalid assessment", details)
	}
	return nil
}

// ValidateCreate checks a creation request: the student reference and the
// answer set.
func ValidateCreate(req *CreateAssessmentRequest) error {
	err := ValidateAnswers(req.Answers)
	if _, idErr := types.ParseID(req.StudentID.String()); idErr != nil {
		details := map[string]string{}
		if err != nil {
			appErr := errors.As(err)
			if appErr.Details == nil {
				return err
			}
			details = appErr.Details
		}
		details["studentId"] = "must be a valid ID"
		return errors.Validation("invalid assessment", details)
	}
	if err != nil {
		return err
	}
	req.StudentID, _ = types.ParseID(req.StudentID.String())
	return nil
}

// normalize fills defaults the questionnaire leaves implicit.
func normalize(a *Answers) {
	if a.HasIdeation() && a.IdeationIntensity.FrequencyLabel == "" {
		a.IdeationIntensity.FrequencyLabel = "N/A"
	}
}
