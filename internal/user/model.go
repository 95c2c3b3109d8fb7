package user

import (
	"encoding/json"
	"time"

	"github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/shared/types"
)

// User is an administrator or psychologist account.
type User struct {
	ID           types.ID  `json:"uid"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Img          string    `json:"img"`
	CoverImage   string    `json:"coverImage"`
	Role         auth.Role `json:"role"`
	Status       bool      `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	// Set on psychologist listings only.
	ActiveStudents *int `json:"activeStudents,omitempty"`
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// Identity returns the authentication view of the account.
func (u *User) Identity() *auth.Identity {
	return &auth.Identity{
		ID:     u.ID,
		Role:   u.Role,
		Email:  u.Email,
		Name:   u.FullName(),
		Active: u.Status,
	}
}

// MarshalJSON adds the display name.
func (u User) MarshalJSON() ([]byte, error) {
	type plain User
	return json.Marshal(struct {
		plain
		Name string `json:"name"`
	}{plain(u), u.FullName()})
}

// CreateUserRequest is the body of POST /users.
type CreateUserRequest struct {
	FirstName string    `json:"firstName" validate:"required,max=120"`
	LastName  string    `json:"lastName" validate:"required,max=120"`
	Email     string    `json:"email" validate:"required,email,max=255"`
	Password  string    `json:"password" validate:"required,min=6,max=72"`
	Role      auth.Role `json:"role" validate:"required,oneof=ADMIN PSYCHOLOGIST STUDENT"`
}

// UpdateUserRequest is the body of PUT /users/{id}. Nil fields are kept.
type UpdateUserRequest struct {
	FirstName *string    `json:"firstName" validate:"omitempty,min=1,max=120"`
	LastName  *string    `json:"lastName" validate:"omitempty,min=1,max=120"`
	Email     *string    `json:"email" validate:"omitempty,email,max=255"`
	Password  *string    `json:"password" validate:"omitempty,min=6,max=72"`
	Role      *auth.Role `json:"role"`
}

// UpdatePsychologistRequest is the body of the admin psychologist update.
type UpdatePsychologistRequest struct {
	FirstName string `json:"firstName" validate:"required,max=120"`
	LastName  string `json:"lastName" validate:"required,max=120"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"omitempty,min=6,max=72"`
}

// ChangePasswordRequest replaces a password after checking the current one.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,max=72"`
}
