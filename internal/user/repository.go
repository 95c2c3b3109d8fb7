package user

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/shared/database"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/types"
)

// Store is the persistence the user and auth handlers depend on.
type Store interface {
	auth.IdentityStore

	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id types.ID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	Deactivate(ctx context.Context, id types.ID) error
	Count(ctx context.Context) (int, error)
	CountActiveAdmins(ctx context.Context) (int, error)
	ActiveAdmin(ctx context.Context) (*User, error)
	ListPsychologists(ctx context.Context, activeOnly bool) ([]User, error)
	IsActivePsychologist(ctx context.Context, id types.ID) (bool, error)

	SetResetToken(ctx context.Context, id types.ID, tokenHash string, expiresAt time.Time) error
	// ResetPassword swaps the password of the account holding a live reset
	// token and clears the token. It returns NotFound when no such token exists.
	ResetPassword(ctx context.Context, tokenHash, passwordHash string, now time.Time) (types.ID, error)
}

// Repository provides database operations for accounts
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new user repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectUser = `
	SELECT id, first_name, last_name, email, password_hash, img, cover_image, role, status,
		created_at, updated_at
	FROM users`

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.Img, &u.CoverImage,
		&u.Role, &u.Status, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

// Create inserts an account
func (r *Repository) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (id, first_name, last_name, email, password_hash, img, cover_image, role, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		u.ID, u.FirstName, u.LastName, u.Email, u.PasswordHash, u.Img, u.CoverImage, u.Role, u.Status,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("email is already registered")
		}
		return errors.Wrap(err, "failed to create user")
	}
	return nil
}

// Get retrieves an account by ID regardless of status
func (r *Repository) Get(ctx context.Context, id types.ID) (*User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, selectUser+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user")
	}
	return u, nil
}

// GetByEmail retrieves an account by email, case-insensitively
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, selectUser+` WHERE LOWER(email) = LOWER($1)`, strings.TrimSpace(email)))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", email)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user")
	}
	return u, nil
}

// LookupIdentity implements auth.IdentityStore
func (r *Repository) LookupIdentity(ctx context.Context, id types.ID) (*auth.Identity, error) {
	u, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.Identity(), nil
}

// Update writes profile, image and password fields
func (r *Repository) Update(ctx context.Context, u *User) error {
	query := `
		UPDATE users SET first_name = $2, last_name = $3, email = $4, password_hash = $5,
			img = $6, cover_image = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.pool.QueryRow(ctx, query,
		u.ID, u.FirstName, u.LastName, u.Email, u.PasswordHash, u.Img, u.CoverImage,
	).Scan(&u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("user", u.ID.String())
	}
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("email is already registered")
		}
		return errors.Wrap(err, "failed to update user")
	}
	return nil
}

// Deactivate sets status=false
func (r *Repository) Deactivate(ctx context.Context, id types.ID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET status = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to deactivate user")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("user", id.String())
	}
	return nil
}

func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count users")
	}
	return n, nil
}

func (r *Repository) CountActiveAdmins(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role = $1 AND status`, auth.RoleAdmin).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count admins")
	}
	return n, nil
}

// ActiveAdmin returns the oldest active administrator
func (r *Repository) ActiveAdmin(ctx context.Context) (*User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		selectUser+` WHERE role = $1 AND status ORDER BY created_at LIMIT 1`, auth.RoleAdmin))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("admin", "")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get admin")
	}
	return u, nil
}

// ListPsychologists returns psychologist accounts, newest first, each with
// the number of active students assigned to them.
func (r *Repository) ListPsychologists(ctx context.Context, activeOnly bool) ([]User, error) {
	query := `
		SELECT u.id, u.first_name, u.last_name, u.email, u.password_hash, u.img, u.cover_image,
			u.role, u.status, u.created_at, u.updated_at,
			(SELECT COUNT(*) FROM students s WHERE s.assigned_psychologist = u.id AND s.status)
		FROM users u
		WHERE u.role = $1 AND ($2 = FALSE OR u.status)
		ORDER BY u.created_at DESC`

	rows, err := r.pool.Query(ctx, query, auth.RolePsychologist, activeOnly)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list psychologists")
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		var active int
		if err := rows.Scan(
			&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.Img, &u.CoverImage,
			&u.Role, &u.Status, &u.CreatedAt, &u.UpdatedAt, &active,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan psychologist")
		}
		u.ActiveStudents = &active
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list psychologists")
	}
	return users, nil
}

// IsActivePsychologist reports whether id is an active psychologist account
func (r *Repository) IsActivePsychologist(ctx context.Context, id types.ID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND role = $2 AND status)`, id, auth.RolePsychologist,
	).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, "failed to check psychologist")
	}
	return ok, nil
}

func (r *Repository) SetResetToken(ctx context.Context, id types.ID, tokenHash string, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET reset_token_hash = $2, reset_expires_at = $3, updated_at = NOW()
		WHERE id = $1`, id, tokenHash, expiresAt)
	if err != nil {
		return errors.Wrap(err, "failed to store reset token")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("user", id.String())
	}
	return nil
}

func (r *Repository) ResetPassword(ctx context.Context, tokenHash, passwordHash string, now time.Time) (types.ID, error) {
	var id types.ID
	err := r.pool.QueryRow(ctx, `
		UPDATE users SET password_hash = $2, reset_token_hash = NULL, reset_expires_at = NULL, updated_at = NOW()
		WHERE reset_token_hash = $1 AND reset_expires_at > $3 AND status
		RETURNING id`, tokenHash, passwordHash, now,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", errors.NotFound("reset token", "")
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to reset password")
	}
	return id, nil
}
