package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tutorhub/lessons-api/internal/account"
)

// TokenService defines the interface for token creation and validation.
// Implementations include PasetoService (PASETO v4.local) and JWTService (HS256).
// Access and refresh tokens are signed with different keys, so one can never
// be presented as the other.
type TokenService interface {
	CreateAccessToken(accountID uuid.UUID, email string, duration time.Duration) (string, error)
	VerifyAccessToken(tokenStr string) (*TokenClaims, error)
	CreateRefreshToken(accountID uuid.UUID, duration time.Duration) (string, error)
	VerifyRefreshToken(tokenStr string) (*TokenClaims, error)
}

// AccountRepository is the credential store used by the auth service
type AccountRepository interface {
	Create(ctx context.Context, in account.NewAccount) (*account.Account, error)
	GetByEmail(ctx context.Context, email string) (*account.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error)
	GetByVerifyTokenHash(ctx context.Context, tokenHash string) (*account.Account, error)
	GetByResetTokenHash(ctx context.Context, tokenHash string) (*account.Account, error)
	GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*account.Account, error)
	ConsumeVerifyToken(ctx context.Context, id uuid.UUID, tokenHash string, now time.Time) error
	SetVerifyToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error
	SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error
	ResetPassword(ctx context.Context, id uuid.UUID, tokenHash, passwordHash string, now time.Time) error
	StoreRefreshToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error
	RotateRefreshToken(ctx context.Context, id uuid.UUID, oldHash, newHash string, expiresAt, now time.Time) error
	ClearRefreshToken(ctx context.Context, id uuid.UUID) error
}

// EmailService defines the interface for email operations
type EmailService interface {
	SendVerificationEmail(ctx context.Context, toEmail, name, token string) error
	SendPasswordResetEmail(ctx context.Context, toEmail, name, token string) error
}
