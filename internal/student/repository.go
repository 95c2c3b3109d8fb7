package student

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psique-app/platform/internal/shared/database"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/types"
)

// Store is the persistence the student handlers depend on.
type Store interface {
	Create(ctx context.Context, s *Student) error
	Get(ctx context.Context, id types.ID) (*Student, error)
	List(ctx context.Context, filter ListFilter) ([]Student, error)
	Update(ctx context.Context, s *Student) error
	Deactivate(ctx context.Context, id types.ID) error
	Summaries(ctx context.Context, psychologistID types.ID) ([]Summary, error)
	AssignedPsychologist(ctx context.Context, studentID types.ID) (types.ID, error)

	AddNote(ctx context.Context, studentID types.ID, note *ClinicalNote) error
	GetNote(ctx context.Context, studentID, noteID types.ID) (*ClinicalNote, error)
	UpdateNote(ctx context.Context, studentID, noteID types.ID, text string) error
	DeleteNote(ctx context.Context, studentID, noteID types.ID) error
}

// Repository provides database operations for students
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new student repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectStudent = `
	SELECT s.id, s.first_name, s.last_name, s.age, s.phone, s.email, s.city, s.gender,
		s.career, s.level, s.employment_status, s.income::float8,
		s.assigned_psychologist, COALESCE(u.first_name || ' ' || u.last_name, ''),
		s.status, s.created_at, s.updated_at
	FROM students s
	LEFT JOIN users u ON u.id = s.assigned_psychologist`

func scanStudent(row pgx.Row) (*Student, error) {
	s := &Student{}
	err := row.Scan(
		&s.ID, &s.FirstName, &s.LastName, &s.Age, &s.Phone, &s.Email, &s.City, &s.Gender,
		&s.Career, &s.Level, &s.EmploymentStatus, &s.Income,
		&s.AssignedPsychologist, &s.AssignedPsychologistName,
		&s.Status, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

// Create inserts a student
func (r *Repository) Create(ctx context.Context, s *Student) error {
	query := `
		INSERT INTO students (id, first_name, last_name, age, phone, email, city, gender,
			career, level, employment_status, income, assigned_psychologist, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		s.ID, s.FirstName, s.LastName, s.Age, s.Phone, s.Email, s.City, s.Gender,
		s.Career, s.Level, s.EmploymentStatus, s.Income, s.AssignedPsychologist, s.Status,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("a student with this email already exists")
		}
		return errors.Wrap(err, "failed to create student")
	}
	return nil
}

// Get retrieves an active student with their clinical notes, newest first
func (r *Repository) Get(ctx context.Context, id types.ID) (*Student, error) {
	s, err := scanStudent(r.pool.QueryRow(ctx, selectStudent+` WHERE s.id = $1 AND s.status`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("student", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get student")
	}

	rows, err := r.pool.Query(ctx, `
		SELECT n.id, n.note, n.created_at, n.created_by, COALESCE(u.first_name || ' ' || u.last_name, '')
		FROM clinical_notes n
		LEFT JOIN users u ON u.id = n.created_by
		WHERE n.student_id = $1
		ORDER BY n.created_at DESC`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load clinical notes")
	}
	defer rows.Close()

	s.ClinicalNotes = []ClinicalNote{}
	for rows.Next() {
		var n ClinicalNote
		if err := rows.Scan(&n.ID, &n.Note, &n.CreatedAt, &n.CreatedBy, &n.CreatedByName); err != nil {
			return nil, errors.Wrap(err, "failed to scan clinical note")
		}
		s.ClinicalNotes = append(s.ClinicalNotes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to load clinical notes")
	}
	return s, nil
}

// List returns active students matching the filter
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Student, error) {
	conditions := []string{"s.status"}
	var args []any
	argNum := 1

	if filter.PsychologistID != nil {
		conditions = append(conditions, fmt.Sprintf("s.assigned_psychologist = $%d", argNum))
		args = append(args, *filter.PsychologistID)
		argNum++
	}
	if filter.FirstName != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(s.first_name) LIKE $%d ESCAPE '\\'", argNum))
		args = append(args, "%"+escapeLike(strings.ToLower(filter.FirstName))+"%")
		argNum++
	}

	query := selectStudent + " WHERE " + strings.Join(conditions, " AND ") + " ORDER BY s.created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list students")
	}
	defer rows.Close()

	students := []Student{}
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan student")
		}
		students = append(students, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list students")
	}
	return students, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Update writes the mutable student fields
func (r *Repository) Update(ctx context.Context, s *Student) error {
	query := `
		UPDATE students SET first_name = $2, last_name = $3, age = $4, phone = $5, email = $6,
			city = $7, gender = $8, career = $9, level = $10, employment_status = $11,
			income = $12, assigned_psychologist = $13, updated_at = NOW()
		WHERE id = $1 AND status
		RETURNING updated_at`

	err := r.pool.QueryRow(ctx, query,
		s.ID, s.FirstName, s.LastName, s.Age, s.Phone, s.Email,
		s.City, s.Gender, s.Career, s.Level, s.EmploymentStatus,
		s.Income, s.AssignedPsychologist,
	).Scan(&s.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("student", s.ID.String())
	}
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("a student with this email already exists")
		}
		return errors.Wrap(err, "failed to update student")
	}
	return nil
}

// Deactivate soft-deletes a student
func (r *Repository) Deactivate(ctx context.Context, id types.ID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE students SET status = FALSE, updated_at = NOW() WHERE id = $1 AND status`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete student")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("student", id.String())
	}
	return nil
}

// Summaries lists a psychologist's active students with the number of
// assessments that psychologist has applied to each.
func (r *Repository) Summaries(ctx context.Context, psychologistID types.ID) ([]Summary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.first_name || ' ' || s.last_name, s.email, s.career, s.level, s.created_at,
			(SELECT COUNT(*) FROM assessments a WHERE a.student_id = s.id AND a.psychologist_id = $1)
		FROM students s
		WHERE s.assigned_psychologist = $1 AND s.status
		ORDER BY s.created_at DESC`, psychologistID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list students")
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.FullName, &s.Email, &s.Career, &s.Level, &s.CreatedAt, &s.EvaluationCount); err != nil {
			return nil, errors.Wrap(err, "failed to scan student")
		}
		s.HasAssessment = s.EvaluationCount > 0
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list students")
	}
	return summaries, nil
}

// AssignedPsychologist returns the psychologist of an active student.
func (r *Repository) AssignedPsychologist(ctx context.Context, studentID types.ID) (types.ID, error) {
	var psychologistID types.ID
	err := r.pool.QueryRow(ctx,
		`SELECT assigned_psychologist FROM students WHERE id = $1 AND status`, studentID,
	).Scan(&psychologistID)
	if err == pgx.ErrNoRows {
		return "", errors.NotFound("student", studentID.String())
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to get student")
	}
	return psychologistID, nil
}

// AddNote appends a clinical note to a student
func (r *Repository) AddNote(ctx context.Context, studentID types.ID, note *ClinicalNote) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO clinical_notes (id, student_id, note, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		note.ID, studentID, note.Note, note.CreatedBy,
	).Scan(&note.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to add clinical note")
	}
	return nil
}

// GetNote retrieves a clinical note of a student
func (r *Repository) GetNote(ctx context.Context, studentID, noteID types.ID) (*ClinicalNote, error) {
	n := &ClinicalNote{}
	err := r.pool.QueryRow(ctx, `
		SELECT n.id, n.note, n.created_at, n.created_by, COALESCE(u.first_name || ' ' || u.last_name, '')
		FROM clinical_notes n
		LEFT JOIN users u ON u.id = n.created_by
		WHERE n.id = $1 AND n.student_id = $2`, noteID, studentID,
	).Scan(&n.ID, &n.Note, &n.CreatedAt, &n.CreatedBy, &n.CreatedByName)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("clinical note", noteID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get clinical note")
	}
	return n, nil
}

// UpdateNote replaces the text of a clinical note
func (r *Repository) UpdateNote(ctx context.Context, studentID, noteID types.ID, text string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE clinical_notes SET note = $3 WHERE id = $1 AND student_id = $2`, noteID, studentID, text)
	if err != nil {
		return errors.Wrap(err, "failed to update clinical note")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("clinical note", noteID.String())
	}
	return nil
}

// DeleteNote removes a clinical note
func (r *Repository) DeleteNote(ctx context.Context, studentID, noteID types.ID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM clinical_notes WHERE id = $1 AND student_id = $2`, noteID, studentID)
	if err != nil {
		return errors.Wrap(err, "failed to delete clinical note")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("clinical note", noteID.String())
	}
	return nil
}
