package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tutorhub/lessons-api/internal/account"
	"github.com/tutorhub/lessons-api/internal/logging"
	"github.com/tutorhub/lessons-api/internal/metrics"
)

const (
	verifyTokenTTL = 24 * time.Hour
	resetTokenTTL  = time.Hour
)

// AuthTokens is the session handed to the client
type AuthTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// RegisterInput carries the registration form
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Role     account.Role
}

// Service handles authentication business logic
type Service struct {
	accounts             AccountRepository
	tokenService         TokenService
	hasher               PasswordHasher
	emailService         EmailService
	metrics              *metrics.Metrics
	logger               *logging.Logger
	accessTokenDuration  time.Duration
	refreshTokenDuration time.Duration
	now                  func() time.Time

	// dummyHash is verified against when the email is unknown so that
	// unknown emails and wrong passwords take the same time.
	dummyHash string
}

func NewService(
	accounts AccountRepository,
	tokenService TokenService,
	hasher PasswordHasher,
	emailService EmailService,
	m *metrics.Metrics,
	logger *logging.Logger,
	accessTokenDuration time.Duration,
	refreshTokenDuration time.Duration,
) *Service {
	s := &Service{
		accounts:             accounts,
		tokenService:         tokenService,
		hasher:               hasher,
		emailService:         emailService,
		metrics:              m,
		logger:               logger,
		accessTokenDuration:  accessTokenDuration,
		refreshTokenDuration: refreshTokenDuration,
		now:                  time.Now,
	}
	s.dummyHash, _ = hasher.Hash(uuid.NewString())
	return s
}

// Register creates a pending account, opens a session for it and sends the
// verification email. A failed email does not fail the registration: the
// user can ask for a new one.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*account.Account, *AuthTokens, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, ErrNameRequired
	}
	if len(in.Password) < minPasswordLength {
		return nil, nil, ErrWeakPassword
	}
	role := in.Role
	if role == "" {
		role = account.RoleStudent
	}
	if !role.Valid() {
		return nil, nil, ErrInvalidRole
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	verifyToken, verifyDigest, err := NewOpaqueSecret()
	if err != nil {
		return nil, nil, err
	}

	newAccount, err := s.accounts.Create(ctx, account.NewAccount{
		Email:                email,
		Name:                 name,
		Role:                 role,
		PasswordHash:         passwordHash,
		EmailVerifyTokenHash: verifyDigest,
		EmailVerifyExpiresAt: s.now().Add(verifyTokenTTL),
	})
	if err != nil {
		if errors.Is(err, account.ErrDuplicateEmail) {
			s.metrics.RecordAuthEvent("register", metrics.ResultRejected)
			return nil, nil, account.ErrDuplicateEmail
		}
		return nil, nil, fmt.Errorf("failed to create account: %w", err)
	}

	tokens, err := s.issueSession(ctx, newAccount)
	if err != nil {
		return nil, nil, err
	}

	if err := s.emailService.SendVerificationEmail(ctx, email, name, verifyToken); err != nil {
		s.logger.Warn("failed to send verification email", "account_id", newAccount.ID, "error", err)
	}

	s.metrics.RecordAuthEvent("register", metrics.ResultSuccess)
	return newAccount, tokens, nil
}

// Login authenticates an account and returns a new session. The password is
// checked before the verified flag, so only the credential holder learns
// whether the email is verified.
func (s *Service) Login(ctx context.Context, email, password string) (*account.Account, *AuthTokens, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, nil, ErrInvalidCredentials
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			s.hasher.Verify(s.dummyHash, password)
			s.metrics.RecordAuthEvent("login", metrics.ResultRejected)
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("failed to get account: %w", err)
	}

	if !s.hasher.Verify(existing.PasswordHash, password) {
		s.metrics.RecordAuthEvent("login", metrics.ResultRejected)
		return nil, nil, ErrInvalidCredentials
	}

	if !existing.EmailVerified {
		s.metrics.RecordAuthEvent("login", metrics.ResultRejected)
		return nil, nil, ErrEmailNotVerified
	}

	tokens, err := s.issueSession(ctx, existing)
	if err != nil {
		return nil, nil, err
	}

	s.metrics.RecordAuthEvent("login", metrics.ResultSuccess)
	return existing, tokens, nil
}

// Refresh exchanges a refresh token for a new session. The token must
// authenticate, match the persisted digest and not be past the persisted
// expiry. Rotation is compare-and-swap, so of two concurrent refreshes with
// the same token only one succeeds.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthTokens, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}

	claims, err := s.tokenService.VerifyRefreshToken(refreshToken)
	if err != nil {
		s.metrics.RecordAuthEvent("refresh", metrics.ResultRejected)
		return nil, ErrInvalidRefreshToken
	}

	oldDigest := HashSecret(refreshToken)
	existing, err := s.accounts.GetByRefreshTokenHash(ctx, oldDigest)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			s.metrics.RecordAuthEvent("refresh", metrics.ResultRejected)
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("failed to get account by refresh token: %w", err)
	}

	now := s.now()
	if existing.ID != claims.AccountID ||
		existing.RefreshTokenExpiresAt == nil || now.After(*existing.RefreshTokenExpiresAt) {
		s.metrics.RecordAuthEvent("refresh", metrics.ResultRejected)
		return nil, ErrInvalidRefreshToken
	}

	tokens, newDigest, expiresAt, err := s.generateTokens(existing)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.RotateRefreshToken(ctx, existing.ID, oldDigest, newDigest, expiresAt, now); err != nil {
		if errors.Is(err, account.ErrStaleSecret) {
			s.metrics.RecordAuthEvent("refresh", metrics.ResultRejected)
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	s.metrics.RecordAuthEvent("refresh", metrics.ResultSuccess)
	return tokens, nil
}

// Logout revokes the persisted refresh token. Access tokens are stateless
// and stay valid until they expire.
func (s *Service) Logout(ctx context.Context, accountID uuid.UUID) error {
	if err := s.accounts.ClearRefreshToken(ctx, accountID); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	s.metrics.RecordAuthEvent("logout", metrics.ResultSuccess)
	return nil
}

// Authenticate validates an access token and returns the caller identity
func (s *Service) Authenticate(accessToken string) (account.Identity, error) {
	claims, err := s.tokenService.VerifyAccessToken(accessToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return account.Identity{}, ErrTokenExpired
		}
		return account.Identity{}, ErrTokenInvalid
	}
	return account.Identity{AccountID: claims.AccountID, Email: claims.Email}, nil
}

// VerifyEmail consumes a verification secret
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrTokenInvalid
	}

	digest := HashSecret(token)
	existing, err := s.accounts.GetByVerifyTokenHash(ctx, digest)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("failed to find account by verification token: %w", err)
	}

	now := s.now()
	if existing.EmailVerifyExpiresAt == nil || now.After(*existing.EmailVerifyExpiresAt) {
		return ErrTokenExpired
	}

	// Conditional on the digest: a concurrent consumer that lost the race sees no row.
	if err := s.accounts.ConsumeVerifyToken(ctx, existing.ID, digest, now); err != nil {
		if errors.Is(err, account.ErrStaleSecret) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("failed to verify email: %w", err)
	}

	s.metrics.RecordAuthEvent("verify_email", metrics.ResultSuccess)
	return nil
}

// ResendVerification issues a fresh verification secret for an unverified
// account that has no unexpired one.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return account.ErrNotFound
		}
		return fmt.Errorf("failed to get account: %w", err)
	}

	if existing.EmailVerified {
		return ErrAlreadyVerified
	}

	now := s.now()
	if existing.HasPendingVerification(now) {
		return ErrVerificationAlreadyPending
	}

	token, digest, err := NewOpaqueSecret()
	if err != nil {
		return err
	}

	if err := s.accounts.SetVerifyToken(ctx, existing.ID, digest, now.Add(verifyTokenTTL)); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			// Verified between the read and the write
			return ErrAlreadyVerified
		}
		return fmt.Errorf("failed to update verification token: %w", err)
	}

	if err := s.emailService.SendVerificationEmail(ctx, existing.Email, existing.Name, token); err != nil {
		return fmt.Errorf("%w: %w", ErrEmailDispatchFailed, err)
	}

	s.metrics.RecordAuthEvent("resend_verification", metrics.ResultSuccess)
	return nil
}

// ForgotPassword starts the reset flow. Unknown emails and internal lookup
// failures return nil so the caller cannot probe which emails exist; only a
// failed dispatch to an existing account is reported.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			s.logger.LogError("failed to get account for password reset", err)
		}
		return nil
	}

	token, digest, err := NewOpaqueSecret()
	if err != nil {
		s.logger.LogError("failed to generate password reset token", err)
		return nil
	}

	if err := s.accounts.SetResetToken(ctx, existing.ID, digest, s.now().Add(resetTokenTTL)); err != nil {
		s.logger.LogError("failed to store password reset token", err, "account_id", existing.ID)
		return nil
	}

	if err := s.emailService.SendPasswordResetEmail(ctx, existing.Email, existing.Name, token); err != nil {
		return fmt.Errorf("%w: %w", ErrEmailDispatchFailed, err)
	}

	s.metrics.RecordAuthEvent("forgot_password", metrics.ResultSuccess)
	return nil
}

// ResetPassword sets a new password from a reset secret and revokes the
// current session.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return ErrWeakPassword
	}
	if token == "" {
		return ErrTokenInvalid
	}

	digest := HashSecret(token)
	existing, err := s.accounts.GetByResetTokenHash(ctx, digest)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("failed to find account by reset token: %w", err)
	}

	now := s.now()
	if existing.PasswordResetExpiresAt == nil || now.After(*existing.PasswordResetExpiresAt) {
		return ErrTokenExpired
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.accounts.ResetPassword(ctx, existing.ID, digest, passwordHash, now); err != nil {
		if errors.Is(err, account.ErrStaleSecret) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.metrics.RecordAuthEvent("reset_password", metrics.ResultSuccess)
	return nil
}

// issueSession creates tokens and persists the refresh digest, replacing
// any previous session of the account.
func (s *Service) issueSession(ctx context.Context, acc *account.Account) (*AuthTokens, error) {
	tokens, digest, expiresAt, err := s.generateTokens(acc)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.StoreRefreshToken(ctx, acc.ID, digest, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return tokens, nil
}

// generateTokens creates both access and refresh tokens
func (s *Service) generateTokens(acc *account.Account) (*AuthTokens, string, time.Time, error) {
	accessToken, err := s.tokenService.CreateAccessToken(acc.ID, acc.Email, s.accessTokenDuration)
	if err != nil {
		return nil, "", time.Time{}, fmt.Errorf("failed to create access token: %w", err)
	}

	refreshToken, err := s.tokenService.CreateRefreshToken(acc.ID, s.refreshTokenDuration)
	if err != nil {
		return nil, "", time.Time{}, fmt.Errorf("failed to create refresh token: %w", err)
	}

	tokens := &AuthTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTokenDuration.Seconds()),
	}
	return tokens, HashSecret(refreshToken), s.now().Add(s.refreshTokenDuration), nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmailRequired
	}
	if len(email) > 254 {
		return "", ErrInvalidEmailFormat
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmailFormat
	}
	return email, nil
}
