package assessment

// Classification is the pair of risk levels derived from an answer set.
type Classification struct {
	IdeationRiskLevel RiskLevel `json:"ideationRiskLevel"`
	BehaviorRiskLevel RiskLevel `json:"behaviorRiskLevel"`
}

type behaviorRule struct {
	applies func(Answers) bool
	level   RiskLevel
}

// behaviorRules are evaluated in order and the last matching rule wins.
// Stored assessments depend on this order.
var behaviorRules = []behaviorRule{
	{func(a Answers) bool { return a.PreparatoryActs.IsPresent() }, RiskBajo},
	{func(a Answers) bool { return a.AbortedAttempt.IsPresent() }, RiskModeradoBajo},
	{func(a Answers) bool { return a.InterruptedAttempt.IsPresent() }, RiskAlto},
	{func(a Answers) bool { return a.ActualAttempt.IsPresent() }, RiskMuyAlto},
}

// Classify maps an answer set to its ideation and behavior risk levels. It
// is pure and total: answers are expected to have passed ValidateAnswers,
// but any input yields a result.
func Classify(a Answers) Classification {
	return Classification{
		IdeationRiskLevel: ideationRisk(a.IdeationIntensity),
		BehaviorRiskLevel: behaviorRisk(a),
	}
}

func behaviorRisk(a Answers) RiskLevel {
	level := RiskBajo
	for _, rule := range behaviorRules {
		if rule.applies(a) {
			level = rule.level
		}
	}
	return level
}

// ideationRisk averages the ideation type with its frequency. Without a
// type the level stays BAJO.
func ideationRisk(in IdeationIntensity) RiskLevel {
	if in.MostSeriousIdeationType == 0 {
		return RiskBajo
	}

	trueRisk := float64(in.MostSeriousIdeationType+in.FrequencyValue()) / 2
	switch {
	case trueRisk <= 1.5:
		return RiskBajo
	case trueRisk <= 2.5:
		return RiskModeradoBajo
	case trueRisk <= 3.5:
		return RiskModerado
	case trueRisk <= 4.0:
		return RiskAlto
	default:
		return RiskMuyAlto
	}
}
