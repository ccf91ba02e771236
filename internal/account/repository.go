package account

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/uptrace/bun"

	"github.com/tutorhub/lessons-api/internal/database"
)

var (
	ErrNotFound       = errors.New("account not found")
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrStaleSecret is returned when a conditional update finds the secret
	// already consumed, rotated or expired by the time it runs.
	ErrStaleSecret = errors.New("secret no longer matches")
)

// Repository is the credential store: identity, password hash,
// single-use secret digests and the revocable refresh token digest.
type Repository struct {
	db bun.IDB
}

func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new account in the pending-verification state
func (r *Repository) Create(ctx context.Context, in NewAccount) (*Account, error) {
	expiresAt := in.EmailVerifyExpiresAt
	dbAccount := &database.Account{
		Email:                in.Email,
		Name:                 in.Name,
		Role:                 string(in.Role),
		PasswordHash:         in.PasswordHash,
		EmailVerified:        false,
		EmailVerifyTokenHash: &in.EmailVerifyTokenHash,
		EmailVerifyExpiresAt: &expiresAt,
		Active:               true,
	}

	_, err := r.db.NewInsert().
		Model(dbAccount).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, oops.Code("ACCOUNT_CREATE_FAILED").Wrap(err)
	}

	return mapDBAccountToModel(dbAccount), nil
}

// GetByEmail retrieves an account by email
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return r.getOne(ctx, "email = ?", email)
}

// GetByID retrieves an account by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByVerifyTokenHash retrieves the account holding the given verification digest
func (r *Repository) GetByVerifyTokenHash(ctx context.Context, tokenHash string) (*Account, error) {
	return r.getOne(ctx, "email_verify_token_hash = ?", tokenHash)
}

// GetByResetTokenHash retrieves the account holding the given password reset digest
func (r *Repository) GetByResetTokenHash(ctx context.Context, tokenHash string) (*Account, error) {
	return r.getOne(ctx, "password_reset_token_hash = ?", tokenHash)
}

// GetByRefreshTokenHash retrieves the account whose current refresh token has the given digest
func (r *Repository) GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*Account, error) {
	return r.getOne(ctx, "refresh_token_hash = ?", tokenHash)
}

func (r *Repository) getOne(ctx context.Context, where string, arg any) (*Account, error) {
	dbAccount := new(database.Account)
	err := r.db.NewSelect().
		Model(dbAccount).
		Where(where, arg).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, oops.Code("ACCOUNT_GET_FAILED").With("where", where).Wrap(err)
	}

	return mapDBAccountToModel(dbAccount), nil
}

// ConsumeVerifyToken marks the email as verified and clears the verification
// secret, provided the digest still matches and has not expired at now.
func (r *Repository) ConsumeVerifyToken(ctx context.Context, id uuid.UUID, tokenHash string, now time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*database.Account)(nil)).
		Set("email_verified = ?", true).
		Set("email_verify_token_hash = NULL").
		Set("email_verify_expires_at = NULL").
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Where("email_verify_token_hash = ?", tokenHash).
		Where("email_verify_expires_at >= ?", now).
		Exec(ctx)
	if err != nil {
		return oops.Code("ACCOUNT_VERIFY_FAILED").With("account_id", id).Wrap(err)
	}
	return expectOneRow(result, ErrStaleSecret)
}

// SetVerifyToken replaces the verification secret of an unverified account
func (r *Repository) SetVerifyToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*database.Account)(nil)).
		Set("email_verify_token_hash = ?", tokenHash).
		Set("email_verify_expires_at = ?", expiresAt).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Where("email_verified = ?", false).
		Exec(ctx)
	if err != nil {
		return oops.Code("ACCOUNT_SET_VERIFY_TOKEN_FAILED").With("account_id", id).Wrap(err)
	}
	return expectOneRow(result, ErrNotFound)
}

// SetResetToken stores a password reset secret, replacing any previous one
func (r *Repository) SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*database.Account)(nil)).
		Set("password_reset_token_hash = ?", tokenHash).
		Set("password_reset_expires_at = ?", expiresAt).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return oops.Code("ACCOUNT_SET_RESET_TOKEN_FAILED").With("account_id", id).Wrap(err)
	}
	return expectOneRow(result, ErrNotFound)
}

// ResetPassword stores a new password hash, consumes the reset secret and
// revokes the refresh token in one statement.
func (r *Repository) ResetPassword(ctx context.Context, id uuid.UUID, tokenHash, passwordHash string, now time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*database.Account)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("password_reset_token_hash = NULL").
		Set("password_reset_expires_at = NULL").
		Set("refresh_token_hash = NULL").
		Set("refresh_token_expires_at = NULL").
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Where("password_reset_token_hash = ?", tokenHash).
		Where("password_reset_expires_at >= ?", now).
		Exec(ctx)
	if err != nil {
		return oops.Code("ACCOUNT_RESET_PASSWORD_FAILED").With("account_id", id).Wrap(err)
	}
	return expectOneRow(result, ErrStaleSecret)
}

// StoreRefreshToken overwrites the refresh token digest. Only one session per
// account is active: storing a new digest revokes the previous one.
func (r *Repository) StoreRefreshToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*database.Account)(nil)).
		Set("refresh_token_hash = ?", tokenHash).
		Set("refresh_token_expires_at = ?", expiresAt).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return oops.Code("ACCOUNT_STORE_REFRESH_FAILED").With("account_id", id).Wrap(err)
	}
	return expectOneRow(result, ErrNotFound)
}

// RotateRefreshToken swaps oldHash for newHash if oldHash is still the
// current, unexpired digest. Concurrent rotations of the same token have
// exactly one winner; the others get ErrStaleSecret.
func (r *Repository) RotateRefreshToken(ctx context.Context, id uuid.UUID, oldHash, newHash string, expiresAt, now time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*database.Account)(nil)).
		Set("refresh_token_hash = ?", newHash).
		Set("refresh_token_expires_at = ?", expiresAt).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Where("refresh_token_hash = ?", oldHash).
		Where("refresh_token_expires_at >= ?", now).
		Exec(ctx)
	if err != nil {
		return oops.Code("ACCOUNT_ROTATE_REFRESH_FAILED").With("account_id", id).Wrap(err)
	}
	return expectOneRow(result, ErrStaleSecret)
}

// ClearRefreshToken revokes the current refresh token
func (r *Repository) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*database.Account)(nil)).
		Set("refresh_token_hash = NULL").
		Set("refresh_token_expires_at = NULL").
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return oops.Code("ACCOUNT_CLEAR_REFRESH_FAILED").With("account_id", id).Wrap(err)
	}
	return nil
}

// ListTeachers returns active teachers ordered by name
func (r *Repository) ListTeachers(ctx context.Context) ([]Teacher, error) {
	var rows []database.Account
	err := r.db.NewSelect().
		Model(&rows).
		Column("id", "name", "email").
		Where("role = ?", string(RoleTeacher)).
		Where("active = ?", true).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_TEACHERS_FAILED").Wrap(err)
	}

	teachers := make([]Teacher, 0, len(rows))
	for _, row := range rows {
		teachers = append(teachers, Teacher{ID: row.ID, Name: row.Name, Email: row.Email})
	}
	return teachers, nil
}

func expectOneRow(result sql.Result, notMatched error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return oops.Code("ROWS_AFFECTED_FAILED").Wrap(err)
	}
	if rowsAffected == 0 {
		return notMatched
	}
	return nil
}

// mapDBAccountToModel converts database model to domain model
func mapDBAccountToModel(dba *database.Account) *Account {
	return &Account{
		ID:                     dba.ID,
		Email:                  dba.Email,
		Name:                   dba.Name,
		Role:                   Role(dba.Role),
		PasswordHash:           dba.PasswordHash,
		EmailVerified:          dba.EmailVerified,
		AvailableLessons:       dba.AvailableLessons,
		Active:                 dba.Active,
		CreatedAt:              dba.CreatedAt,
		UpdatedAt:              dba.UpdatedAt,
		EmailVerifyTokenHash:   dba.EmailVerifyTokenHash,
		EmailVerifyExpiresAt:   dba.EmailVerifyExpiresAt,
		PasswordResetTokenHash: dba.PasswordResetTokenHash,
		PasswordResetExpiresAt: dba.PasswordResetExpiresAt,
		RefreshTokenHash:       dba.RefreshTokenHash,
		RefreshTokenExpiresAt:  dba.RefreshTokenExpiresAt,
	}
}
