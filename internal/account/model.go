package account

import (
	"time"

	"github.com/google/uuid"
)

// Role distinguishes students, who buy and spend lesson credits, from teachers.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher
}

type Account struct {
	ID               uuid.UUID `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Role             Role      `json:"role"`
	PasswordHash     string    `json:"-"` // Never expose password hash in JSON
	EmailVerified    bool      `json:"emailVerified"`
	AvailableLessons int       `json:"availableLessons"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`

	// Digests of single-use secrets and the current refresh token.
	EmailVerifyTokenHash   *string    `json:"-"`
	EmailVerifyExpiresAt   *time.Time `json:"-"`
	PasswordResetTokenHash *string    `json:"-"`
	PasswordResetExpiresAt *time.Time `json:"-"`
	RefreshTokenHash       *string    `json:"-"`
	RefreshTokenExpiresAt  *time.Time `json:"-"`
}

// HasPendingVerification reports whether an unexpired verification secret exists
func (a *Account) HasPendingVerification(now time.Time) bool {
	return a.EmailVerifyTokenHash != nil && a.EmailVerifyExpiresAt != nil && !now.After(*a.EmailVerifyExpiresAt)
}

// NewAccount carries everything needed to insert an account at registration
type NewAccount struct {
	Email                string
	Name                 string
	Role                 Role
	PasswordHash         string
	EmailVerifyTokenHash string
	EmailVerifyExpiresAt time.Time
}

// Teacher is the public view of a teacher account
type Teacher struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}
