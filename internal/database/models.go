package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Account is the persisted form of a marketplace user (student or teacher).
// Secrets are stored only as SHA-256 hex digests.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	ID                     uuid.UUID  `bun:"id,pk,type:uuid,nullzero,default:gen_random_uuid()"`
	Email                  string     `bun:"email,notnull,unique"`
	Name                   string     `bun:"name,notnull"`
	Role                   string     `bun:"role,notnull"`
	PasswordHash           string     `bun:"password_hash,notnull"`
	EmailVerified          bool       `bun:"email_verified,notnull,default:false"`
	EmailVerifyTokenHash   *string    `bun:"email_verify_token_hash"`
	EmailVerifyExpiresAt   *time.Time `bun:"email_verify_expires_at"`
	PasswordResetTokenHash *string    `bun:"password_reset_token_hash"`
	PasswordResetExpiresAt *time.Time `bun:"password_reset_expires_at"`
	RefreshTokenHash       *string    `bun:"refresh_token_hash"`
	RefreshTokenExpiresAt  *time.Time `bun:"refresh_token_expires_at"`
	AvailableLessons       int        `bun:"available_lessons,notnull,default:0"`
	Active                 bool       `bun:"active,notnull,default:true"`
	CreatedAt              time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt              time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// Package is a purchasable bundle of lesson credits.
type Package struct {
	bun.BaseModel `bun:"table:packages,alias:p"`

	ID          int64     `bun:"id,pk,autoincrement"`
	Name        string    `bun:"name,notnull"`
	Description string    `bun:"description,notnull"`
	LessonCount int       `bun:"lesson_count,notnull"`
	PriceCents  int64     `bun:"price_cents,notnull"`
	Currency    string    `bun:"currency,notnull"`
	Active      bool      `bun:"active,notnull,default:true"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Transaction links an external payment to the credit it applied.
type Transaction struct {
	bun.BaseModel `bun:"table:transactions,alias:t"`

	ID                uuid.UUID `bun:"id,pk,type:uuid,nullzero,default:gen_random_uuid()"`
	AccountID         uuid.UUID `bun:"account_id,type:uuid,notnull"`
	PackageID         *int64    `bun:"package_id"`
	ExternalPaymentID string    `bun:"external_payment_id,notnull,unique"`
	AmountCents       int64     `bun:"amount_cents,notnull"`
	LessonCount       int       `bun:"lesson_count,notnull"`
	Status            string    `bun:"status,notnull"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// Booking is a scheduled lesson paid for with one credit.
type Booking struct {
	bun.BaseModel `bun:"table:bookings,alias:b"`

	ID            uuid.UUID `bun:"id,pk,type:uuid,nullzero,default:gen_random_uuid()"`
	AccountID     uuid.UUID `bun:"account_id,type:uuid,notnull"`
	TeacherID     uuid.UUID `bun:"teacher_id,type:uuid,notnull"`
	ScheduledDate time.Time `bun:"scheduled_date,notnull"`
	Status        string    `bun:"status,notnull"`
	PlatformRef   string    `bun:"platform_ref,notnull,default:''"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`

	Teacher *Account `bun:"rel:belongs-to,join:teacher_id=id"`
}
