package statistics

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psique-app/platform/internal/shared/errors"
)

// Store loads the assessment records the dashboards aggregate.
type Store interface {
	Records(ctx context.Context, filter Filter) ([]Record, error)
}

// Repository reads assessment records from Postgres
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new statistics repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Records returns the matching assessments, newest first.
func (r *Repository) Records(ctx context.Context, filter Filter) ([]Record, error) {
	conditions := []string{"TRUE"}
	var args []any
	argNum := 1

	if filter.PsychologistID != nil {
		conditions = append(conditions, fmt.Sprintf("a.psychologist_id = $%d", argNum))
		args = append(args, *filter.PsychologistID)
		argNum++
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("a.date >= $%d", argNum))
		args = append(args, *filter.From)
		argNum++
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("a.date <= $%d", argNum))
		args = append(args, *filter.To)
		argNum++
	}
	if filter.Career != "" {
		conditions = append(conditions, fmt.Sprintf("s.career = $%d", argNum))
		args = append(args, filter.Career)
		argNum++
	}
	if filter.Gender != "" {
		conditions = append(conditions, fmt.Sprintf("s.gender = $%d", argNum))
		args = append(args, strings.ToUpper(filter.Gender))
		argNum++
	}

	query := `
		SELECT a.id, a.student_id, s.first_name || ' ' || s.last_name,
			a.psychologist_id, u.first_name || ' ' || u.last_name,
			a.date, a.ideation_risk_level, a.behavior_risk_level,
			a.death_wish, a.non_specific, a.with_methods, a.with_intent, a.with_plan,
			a.actual_attempt, a.interrupted_attempt, a.aborted_attempt, a.preparatory_acts,
			s.career, s.gender, s.age
		FROM assessments a
		JOIN students s ON s.id = a.student_id
		JOIN users u ON u.id = a.psychologist_id
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY a.date DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query assessments")
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		err := rows.Scan(
			&rec.ID, &rec.StudentID, &rec.StudentName,
			&rec.PsychologistID, &rec.PsychologistName,
			&rec.Date, &rec.IdeationRiskLevel, &rec.BehaviorRiskLevel,
			&rec.DeathWish, &rec.NonSpecific, &rec.WithMethods, &rec.WithIntent, &rec.WithPlan,
			&rec.ActualAttempt, &rec.InterruptedAttempt, &rec.AbortedAttempt, &rec.PreparatoryActs,
			&rec.Career, &rec.Gender, &rec.Age,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan assessment")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to query assessments")
	}
	return records, nil
}
