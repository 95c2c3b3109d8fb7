package statistics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psique-app/platform/internal/assessment"
	"github.com/psique-app/platform/internal/shared/types"
)

func TestAgeGroup(t *testing.T) {
	tests := map[int]string{
		16: AgeGroupUnclassified,
		17: AgeGroup17to19,
		19: AgeGroup17to19,
		20: AgeGroup20to22,
		22: AgeGroup20to22,
		23: AgeGroup23Plus,
		41: AgeGroup23Plus,
		0:  AgeGroupUnclassified,
	}
	for age, want := range tests {
		assert.Equal(t, want, AgeGroup(age), "age %d", age)
	}
}

func TestTimeLabel(t *testing.T) {
	at := time.Date(2024, 2, 14, 22, 30, 0, 0, time.UTC)

	assert.Equal(t, "2024-02-14", TimeLabel(at, TimeframeDay))
	assert.Equal(t, "2024-W7", TimeLabel(at, TimeframeWeek))
	assert.Equal(t, "2024-02", TimeLabel(at, TimeframeMonth))
	assert.Equal(t, "2024", TimeLabel(at, TimeframeYear))
	assert.Equal(t, "2020-W53", TimeLabel(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), TimeframeWeek))

	// Labels are taken in UTC.
	local := time.Date(2024, 2, 14, 22, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))
	assert.Equal(t, "2024-02-15", TimeLabel(local, TimeframeDay))
}

func TestPeriodStart(t *testing.T) {
	now := time.Date(2026, 10, 19, 15, 4, 5, 0, time.UTC) // Monday

	tests := map[string]time.Time{
		TimeframeDay:   time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		TimeframeWeek:  time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
		TimeframeMonth: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		TimeframeYear:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for period, want := range tests {
		got := PeriodStart(period, now)
		require.NotNil(t, got, period)
		assert.True(t, want.Equal(*got), "%s: got %s", period, got)
	}

	assert.Nil(t, PeriodStart("", now))
	assert.Nil(t, PeriodStart("decade", now))

	sunday := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), *PeriodStart(TimeframeWeek, sunday))
}

func TestParseDateRange(t *testing.T) {
	from, to, err := ParseDateRange("2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, int(999*time.Millisecond), time.UTC), to)

	for _, tt := range [][2]string{
		{"", "2024-01-31"},
		{"2024-01-01", ""},
		{"2024-13-01", "2024-01-31"},
		{"2024-01-01", "yesterday"},
		{"2024-02-01", "2024-01-01"},
	} {
		_, _, err := ParseDateRange(tt[0], tt[1])
		assert.Error(t, err, "%v", tt)
	}
}

func record(level assessment.RiskLevel, gender, career string, age int, date time.Time) Record {
	return Record{ID: types.NewID(), IdeationRiskLevel: level, Gender: gender, Career: career, Age: age, Date: date}
}

func TestAggregations(t *testing.T) {
	jan := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)
	records := []Record{
		record(assessment.RiskBajo, "FEMENINO", "Medicina", 18, jan),
		record(assessment.RiskBajo, "FEMENINO", "Medicina", 21, jan),
		record(assessment.RiskAlto, "FEMENINO", "Derecho", 24, feb),
		record(assessment.RiskModerado, "MASCULINO", "Derecho", 15, feb),
		record(assessment.RiskBajo, "MASCULINO", "Medicina", 19, feb),
	}

	assert.Equal(t, []NamedCount{
		{Name: "BAJO", Y: 3},
		{Name: "ALTO", Y: 1},
		{Name: "MODERADO", Y: 1},
	}, RiskLevelCounts(records))

	assert.Equal(t, []TimeCount{
		{DateLabel: "2024-01", Count: 2},
		{DateLabel: "2024-02", Count: 3},
	}, TimeSeries(records, TimeframeMonth))

	assert.Equal(t, []CareerRisk{
		{Career: "Derecho", RiskLevel: assessment.RiskAlto, Count: 1},
		{Career: "Derecho", RiskLevel: assessment.RiskModerado, Count: 1},
		{Career: "Medicina", RiskLevel: assessment.RiskBajo, Count: 3},
	}, CareerRisks(records))

	assert.Equal(t, []GenderRisk{
		{Gender: "FEMENINO", RiskLevel: assessment.RiskBajo, Count: 2},
		{Gender: "FEMENINO", RiskLevel: assessment.RiskAlto, Count: 1},
		{Gender: "MASCULINO", RiskLevel: assessment.RiskModerado, Count: 1},
		{Gender: "MASCULINO", RiskLevel: assessment.RiskBajo, Count: 1},
	}, GenderRisks(records))

	assert.Equal(t, []AgeRisk{
		{AgeGroup: AgeGroup23Plus, RiskLevel: assessment.RiskAlto, Count: 1},
		{AgeGroup: AgeGroup17to19, RiskLevel: assessment.RiskBajo, Count: 2},
		{AgeGroup: AgeGroup20to22, RiskLevel: assessment.RiskBajo, Count: 1},
		{AgeGroup: AgeGroupUnclassified, RiskLevel: assessment.RiskModerado, Count: 1},
	}, AgeRisks(records, ""))

	assert.Equal(t, []AgeRisk{
		{AgeGroup: AgeGroup17to19, RiskLevel: assessment.RiskBajo, Count: 2},
	}, AgeRisks(records, "17-19"))
	assert.Len(t, AgeRisks(records, "30-40"), 4, "unknown ranges are ignored")
}

func TestFrequencies(t *testing.T) {
	records := []Record{
		{DeathWish: true, NonSpecific: true, WithPlan: true, ActualAttempt: true},
		{DeathWish: true, WithMethods: true, WithIntent: true, PreparatoryActs: true, AbortedAttempt: true},
		{InterruptedAttempt: true},
	}

	assert.Equal(t, IdeationFrequency{DeathWishCount: 2, NonSpecificCount: 1, MethodsCount: 1, IntentCount: 1, PlanCount: 1}, IdeationFrequencies(records))
	assert.Equal(t, BehaviorFrequency{ActualAttemptCount: 1, InterruptedAttemptCount: 1, AbortedAttemptCount: 1, PreparatoryActsCount: 1}, BehaviorFrequencies(records))
	assert.Equal(t, IdeationFrequency{}, IdeationFrequencies(nil))
}

func TestPsychologistCounts(t *testing.T) {
	ana, luis := types.NewID(), types.NewID()
	records := []Record{
		{PsychologistID: ana, PsychologistName: "Ana"},
		{PsychologistID: luis, PsychologistName: "Luis"},
		{PsychologistID: luis, PsychologistName: "Luis"},
	}

	assert.Equal(t, []PsychologistCount{
		{PsychologistID: luis, PsychologistName: "Luis", Count: 2},
		{PsychologistID: ana, PsychologistName: "Ana", Count: 1},
	}, PsychologistCounts(records))
	assert.Empty(t, PsychologistCounts(nil))
}
