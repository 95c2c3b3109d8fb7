package assessment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/types"
)

// Store is the persistence the assessment handlers depend on.
type Store interface {
	Create(ctx context.Context, a *Assessment) error
	Get(ctx context.Context, id types.ID) (*Assessment, error)
	List(ctx context.Context, filter ListFilter) ([]Assessment, error)
	UpdateRemarks(ctx context.Context, id types.ID, remarks string) error
	Summary(ctx context.Context, psychologistID *types.ID) (*Summary, error)
}

// Repository provides database operations for assessments
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new assessment repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectAssessment = `
	SELECT a.id, a.student_id, a.psychologist_id, a.date, a.answers,
		a.ideation_risk_level, a.behavior_risk_level, a.observations, a.final_remarks,
		a.created_at, a.updated_at,
		s.first_name || ' ' || s.last_name,
		u.first_name || ' ' || u.last_name,
		s.assigned_psychologist
	FROM assessments a
	JOIN students s ON s.id = a.student_id
	JOIN users u ON u.id = a.psychologist_id`

func scanAssessment(row pgx.Row) (*Assessment, error) {
	a := &Assessment{}
	var answers []byte
	err := row.Scan(
		&a.ID, &a.StudentID, &a.PsychologistID, &a.Date, &answers,
		&a.IdeationRiskLevel, &a.BehaviorRiskLevel, &a.Observations, &a.FinalRemarks,
		&a.CreatedAt, &a.UpdatedAt,
		&a.StudentName, &a.PsychologistName, &a.StudentPsychologistID,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(answers, &a.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	return a, nil
}

// Create inserts an assessment. The classification must already be set.
func (r *Repository) Create(ctx context.Context, a *Assessment) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return errors.Wrap(err, "failed to encode answers")
	}

	query := `
		INSERT INTO assessments (
			id, student_id, psychologist_id, date, answers,
			ideation_risk_level, behavior_risk_level, observations, final_remarks
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err = r.pool.QueryRow(ctx, query,
		a.ID, a.StudentID, a.PsychologistID, a.Date, answers,
		a.IdeationRiskLevel, a.BehaviorRiskLevel, a.Observations, a.FinalRemarks,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to create assessment")
	}
	return nil
}

// Get retrieves an assessment by ID with student and psychologist names
func (r *Repository) Get(ctx context.Context, id types.ID) (*Assessment, error) {
	a, err := scanAssessment(r.pool.QueryRow(ctx, selectAssessment+` WHERE a.id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("assessment", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get assessment")
	}
	return a, nil
}

// List returns assessments matching the filter, most recent first
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Assessment, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.StudentID != nil {
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", argNum))
		args = append(args, *filter.StudentID)
		argNum++
	}
	if filter.PsychologistID != nil {
		conditions = append(conditions, fmt.Sprintf("a.psychologist_id = $%d", argNum))
		args = append(args, *filter.PsychologistID)
		argNum++
	}

	query := selectAssessment
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY a.date DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list assessments")
	}
	defer rows.Close()

	assessments := []Assessment{}
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan assessment")
		}
		assessments = append(assessments, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list assessments")
	}
	return assessments, nil
}

// UpdateRemarks sets the final remarks. Risk levels are not touched.
func (r *Repository) UpdateRemarks(ctx context.Context, id types.ID, remarks string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE assessments SET final_remarks = $2, updated_at = NOW() WHERE id = $1`,
		id, remarks,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update remarks")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("assessment", id.String())
	}
	return nil
}

// Summary aggregates the dashboard overview, optionally scoped to one
// psychologist's assessments. Active totals are always global.
func (r *Repository) Summary(ctx context.Context, psychologistID *types.ID) (*Summary, error) {
	scope := "TRUE"
	var args []any
	if psychologistID != nil {
		scope = "a.psychologist_id = $1"
		args = append(args, *psychologistID)
	}

	s := &Summary{}
	var err error

	if s.RiskLevels, err = r.levelCounts(ctx, "a.ideation_risk_level", scope, args); err != nil {
		return nil, err
	}
	if s.BehaviorLevels, err = r.levelCounts(ctx, "a.behavior_risk_level", scope, args); err != nil {
		return nil, err
	}

	genderRows, err := r.groupCounts(ctx, "st.gender", scope, args)
	if err != nil {
		return nil, err
	}
	for _, g := range genderRows {
		s.GenderStats = append(s.GenderStats, GenderCount{Gender: g.key, Count: g.count})
	}

	careerRows, err := r.groupCounts(ctx, "st.career", scope, args)
	if err != nil {
		return nil, err
	}
	for _, c := range careerRows {
		s.CareerStats = append(s.CareerStats, CareerCount{Career: c.key, Count: c.count})
	}

	err = r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM students WHERE status),
			(SELECT COUNT(*) FROM users WHERE role = 'PSYCHOLOGIST' AND status)`,
	).Scan(&s.TotalStudentsActive, &s.TotalPsychologistsActive)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count active records")
	}

	err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM assessments a WHERE `+scope, args...).Scan(&s.TotalAssessments)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count assessments")
	}

	if s.GenderStats == nil {
		s.GenderStats = []GenderCount{}
	}
	if s.CareerStats == nil {
		s.CareerStats = []CareerCount{}
	}
	return s, nil
}

type keyCount struct {
	key   string
	count int
}

func (r *Repository) groupCounts(ctx context.Context, column, scope string, args []any) ([]keyCount, error) {
	query := fmt.Sprintf(`
		SELECT %[1]s, COUNT(*)
		FROM assessments a
		JOIN students st ON st.id = a.student_id
		WHERE %[2]s
		GROUP BY %[1]s
		ORDER BY %[1]s`, column, scope)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate assessments")
	}
	defer rows.Close()

	var out []keyCount
	for rows.Next() {
		var kc keyCount
		if err := rows.Scan(&kc.key, &kc.count); err != nil {
			return nil, errors.Wrap(err, "failed to scan aggregate")
		}
		out = append(out, kc)
	}
	return out, rows.Err()
}

func (r *Repository) levelCounts(ctx context.Context, column, scope string, args []any) ([]LevelCount, error) {
	rows, err := r.groupCounts(ctx, column, scope, args)
	if err != nil {
		return nil, err
	}
	out := make([]LevelCount, 0, len(rows))
	for _, kc := range rows {
		out = append(out, LevelCount{Level: RiskLevel(kc.key), Count: kc.count})
	}
	return out, nil
}
