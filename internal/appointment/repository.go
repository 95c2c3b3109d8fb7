package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psique-app/platform/internal/shared/database"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/types"
)

// Store is the persistence the appointment handlers depend on.
type Store interface {
	Create(ctx context.Context, a *Appointment) error
	Get(ctx context.Context, id types.ID) (*Appointment, error)
	List(ctx context.Context, filter ListFilter) ([]Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Cancel(ctx context.Context, id types.ID) error
	HasConflict(ctx context.Context, psychologistID types.ID, date time.Time, exclude *types.ID) (bool, error)
}

// Repository provides database operations for appointments
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new appointment repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectAppointment = `
	SELECT a.id, a.student_id, a.psychologist_id, a.date, a.reason, a.status, a.notes, a.active,
		a.created_at, a.updated_at,
		s.first_name || ' ' || s.last_name, s.email,
		u.first_name || ' ' || u.last_name
	FROM appointments a
	JOIN students s ON s.id = a.student_id
	JOIN users u ON u.id = a.psychologist_id`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	a := &Appointment{}
	err := row.Scan(
		&a.ID, &a.StudentID, &a.PsychologistID, &a.Date, &a.Reason, &a.Status, &a.Notes, &a.Active,
		&a.CreatedAt, &a.UpdatedAt,
		&a.StudentName, &a.StudentEmail, &a.PsychologistName,
	)
	return a, err
}

// Create inserts an appointment
func (r *Repository) Create(ctx context.Context, a *Appointment) error {
	query := `
		INSERT INTO appointments (id, student_id, psychologist_id, date, reason, status, notes, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		a.ID, a.StudentID, a.PsychologistID, a.Date, a.Reason, a.Status, a.Notes, a.Active,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("you already have an appointment at this date and time")
		}
		return errors.Wrap(err, "failed to create appointment")
	}
	return nil
}

// Get retrieves an appointment by ID
func (r *Repository) Get(ctx context.Context, id types.ID) (*Appointment, error) {
	a, err := scanAppointment(r.pool.QueryRow(ctx, selectAppointment+` WHERE a.id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("appointment", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get appointment")
	}
	return a, nil
}

// List returns active appointments matching the filter
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Appointment, error) {
	conditions := []string{"a.active"}
	var args []any
	argNum := 1

	if filter.PsychologistID != nil {
		conditions = append(conditions, fmt.Sprintf("a.psychologist_id = $%d", argNum))
		args = append(args, *filter.PsychologistID)
		argNum++
	}
	if filter.StudentID != nil {
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", argNum))
		args = append(args, *filter.StudentID)
		argNum++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", argNum))
		args = append(args, *filter.Status)
		argNum++
	}

	order := "ASC"
	if filter.Descending {
		order = "DESC"
	}
	query := selectAppointment + " WHERE " + strings.Join(conditions, " AND ") + " ORDER BY a.date " + order

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list appointments")
	}
	defer rows.Close()

	appointments := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan appointment")
		}
		appointments = append(appointments, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list appointments")
	}
	return appointments, nil
}

// Update writes the mutable fields of an appointment
func (r *Repository) Update(ctx context.Context, a *Appointment) error {
	query := `
		UPDATE appointments SET date = $2, reason = $3, status = $4, notes = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.pool.QueryRow(ctx, query, a.ID, a.Date, a.Reason, a.Status, a.Notes).Scan(&a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("appointment", a.ID.String())
	}
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("you already have an appointment at this date and time")
		}
		return errors.Wrap(err, "failed to update appointment")
	}
	return nil
}

// Cancel soft-deletes an appointment
func (r *Repository) Cancel(ctx context.Context, id types.ID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments SET active = FALSE, status = $2, updated_at = NOW()
		WHERE id = $1`, id, StatusCancelled)
	if err != nil {
		return errors.Wrap(err, "failed to cancel appointment")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("appointment", id.String())
	}
	return nil
}

// HasConflict reports whether the psychologist already has an active
// pending appointment at exactly this instant.
func (r *Repository) HasConflict(ctx context.Context, psychologistID types.ID, date time.Time, exclude *types.ID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE psychologist_id = $1 AND date = $2 AND status = $3 AND active
			AND ($4::uuid IS NULL OR id <> $4::uuid)
		)`

	var excludeArg any
	if exclude != nil {
		excludeArg = *exclude
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, query, psychologistID, date, StatusPending, excludeArg).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "failed to check appointment conflicts")
	}
	return exists, nil
}
