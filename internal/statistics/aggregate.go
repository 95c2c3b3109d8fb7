package statistics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/psique-app/platform/internal/assessment"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/types"
)

// Timeframes accepted by the time series.
const (
	TimeframeDay   = "day"
	TimeframeWeek  = "week"
	TimeframeMonth = "month"
	TimeframeYear  = "year"
)

// Age groups.
const (
	AgeGroup17to19       = "17-19 Años"
	AgeGroup20to22       = "20-22 Años"
	AgeGroup23Plus       = "+23 Años"
	AgeGroupUnclassified = "Sin Clasificar"
)

var ageRanges = map[string]string{
	"17-19": AgeGroup17to19,
	"20-22": AgeGroup20to22,
	"23+":   AgeGroup23Plus,
}

// AgeGroup buckets a student age.
func AgeGroup(age int) string {
	switch {
	case age >= 17 && age <= 19:
		return AgeGroup17to19
	case age >= 20 && age <= 22:
		return AgeGroup20to22
	case age >= 23:
		return AgeGroup23Plus
	default:
		return AgeGroupUnclassified
	}
}

// ValidTimeframe reports whether tf is a known timeframe.
func ValidTimeframe(tf string) bool {
	switch tf {
	case TimeframeDay, TimeframeWeek, TimeframeMonth, TimeframeYear:
		return true
	}
	return false
}

// TimeLabel formats t (in UTC) as the bucket label for the timeframe.
// Weeks use the ISO week number without padding, e.g. 2024-W7.
func TimeLabel(t time.Time, timeframe string) string {
	t = t.UTC()
	switch timeframe {
	case TimeframeDay:
		return t.Format("2006-01-02")
	case TimeframeWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%d", year, week)
	case TimeframeYear:
		return t.Format("2006")
	default:
		return t.Format("2006-01")
	}
}

// PeriodStart returns the start of the period containing now, in now's
// location. Weeks start on Sunday. An empty or unknown period returns nil.
func PeriodStart(period string, now time.Time) *time.Time {
	y, m, d := now.Date()
	loc := now.Location()

	var start time.Time
	switch period {
	case TimeframeDay:
		start = time.Date(y, m, d, 0, 0, 0, 0, loc)
	case TimeframeWeek:
		start = time.Date(y, m, d-int(now.Weekday()), 0, 0, 0, 0, loc)
	case TimeframeMonth:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case TimeframeYear:
		start = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	default:
		return nil
	}
	return &start
}

// ParseDateRange parses YYYY-MM-DD bounds into whole UTC days: the start at
// 00:00:00 and the end at 23:59:59.999.
func ParseDateRange(startDate, endDate string) (time.Time, time.Time, error) {
	startDate, endDate = strings.TrimSpace(startDate), strings.TrimSpace(endDate)
	if startDate == "" || endDate == "" {
		return time.Time{}, time.Time{}, errors.BadRequest("startDate and endDate are required")
	}
	from, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return time.Time{}, time.Time{}, errors.BadRequest("invalid startDate")
	}
	to, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return time.Time{}, time.Time{}, errors.BadRequest("invalid endDate")
	}
	to = to.Add(24*time.Hour - time.Millisecond)
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.BadRequest("endDate is before startDate")
	}
	return from, to, nil
}

// RiskLevelCounts counts ideation levels, most frequent first.
func RiskLevelCounts(records []Record) []NamedCount {
	counts := map[string]int{}
	for _, r := range records {
		counts[string(r.IdeationRiskLevel)]++
	}

	out := make([]NamedCount, 0, len(counts))
	for name, y := range counts {
		out = append(out, NamedCount{Name: name, Y: y})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y > out[j].Y
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// TimeSeries counts assessments per time bucket, ordered by label.
func TimeSeries(records []Record, timeframe string) []TimeCount {
	counts := map[string]int{}
	for _, r := range records {
		counts[TimeLabel(r.Date, timeframe)]++
	}

	out := make([]TimeCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, TimeCount{DateLabel: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateLabel < out[j].DateLabel })
	return out
}

type groupKey struct {
	group string
	level assessment.RiskLevel
}

func countByGroup(records []Record, group func(Record) string) map[groupKey]int {
	counts := map[groupKey]int{}
	for _, r := range records {
		counts[groupKey{group: group(r), level: r.IdeationRiskLevel}]++
	}
	return counts
}

// CareerRisks counts ideation levels per career.
func CareerRisks(records []Record) []CareerRisk {
	counts := countByGroup(records, func(r Record) string { return r.Career })

	out := make([]CareerRisk, 0, len(counts))
	for k, n := range counts {
		out = append(out, CareerRisk{Career: k.group, RiskLevel: k.level, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Career != out[j].Career {
			return out[i].Career < out[j].Career
		}
		return out[i].RiskLevel < out[j].RiskLevel
	})
	return out
}

// GenderRisks counts ideation levels per gender, ordered by gender and then
// by level descending.
func GenderRisks(records []Record) []GenderRisk {
	counts := countByGroup(records, func(r Record) string { return r.Gender })

	out := make([]GenderRisk, 0, len(counts))
	for k, n := range counts {
		out = append(out, GenderRisk{Gender: k.group, RiskLevel: k.level, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Gender != out[j].Gender {
			return out[i].Gender < out[j].Gender
		}
		return out[i].RiskLevel > out[j].RiskLevel
	})
	return out
}

// AgeRisks counts ideation levels per age group. A known ageRange keeps
// only that group; anything else is ignored.
func AgeRisks(records []Record, ageRange string) []AgeRisk {
	only, filtered := ageRanges[ageRange]

	counts := map[groupKey]int{}
	for _, r := range records {
		group := AgeGroup(r.Age)
		if filtered && group != only {
			continue
		}
		counts[groupKey{group: group, level: r.IdeationRiskLevel}]++
	}

	out := make([]AgeRisk, 0, len(counts))
	for k, n := range counts {
		out = append(out, AgeRisk{AgeGroup: k.group, RiskLevel: k.level, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AgeGroup != out[j].AgeGroup {
			return out[i].AgeGroup < out[j].AgeGroup
		}
		return out[i].RiskLevel < out[j].RiskLevel
	})
	return out
}

func IdeationFrequencies(records []Record) IdeationFrequency {
	var f IdeationFrequency
	for _, r := range records {
		f.DeathWishCount += btoi(r.DeathWish)
		f.NonSpecificCount += btoi(r.NonSpecific)
		f.MethodsCount += btoi(r.WithMethods)
		f.IntentCount += btoi(r.WithIntent)
		f.PlanCount += btoi(r.WithPlan)
	}
	return f
}

func BehaviorFrequencies(records []Record) BehaviorFrequency {
	var f BehaviorFrequency
	for _, r := range records {
		f.ActualAttemptCount += btoi(r.ActualAttempt)
		f.InterruptedAttemptCount += btoi(r.InterruptedAttempt)
		f.AbortedAttemptCount += btoi(r.AbortedAttempt)
		f.PreparatoryActsCount += btoi(r.PreparatoryActs)
	}
	return f
}

// PsychologistCounts counts assessments per psychologist, busiest first.
func PsychologistCounts(records []Record) []PsychologistCount {
	byID := map[types.ID]*PsychologistCount{}
	for _, r := range records {
		pc, ok := byID[r.PsychologistID]
		if !ok {
			pc = &PsychologistCount{PsychologistID: r.PsychologistID, PsychologistName: r.PsychologistName}
			byID[r.PsychologistID] = pc
		}
		pc.Count++
	}

	out := make([]PsychologistCount, 0, len(byID))
	for _, pc := range byID {
		out = append(out, *pc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].PsychologistName < out[j].PsychologistName
	})
	return out
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
