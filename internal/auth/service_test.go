package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorhub/lessons-api/internal/account"
	"github.com/tutorhub/lessons-api/internal/logging"
)

var (
	testAccessKey  = []byte("0123456789abcdef0123456789abcdef")
	testRefreshKey = []byte("fedcba9876543210fedcba9876543210")
)

type serviceFixture struct {
	svc      *Service
	accounts *fakeAccounts
	email    *fakeEmail
	now      time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	tokens, err := NewPasetoService(testAccessKey, testRefreshKey)
	require.NoError(t, err)

	f := &serviceFixture{
		accounts: newFakeAccounts(),
		email:    &fakeEmail{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(
		f.accounts,
		tokens,
		NewArgon2HasherWithParams(1, 8*1024, 1),
		f.email,
		nil,
		logging.Discard(),
		15*time.Minute,
		7*24*time.Hour,
	)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *serviceFixture) register(t *testing.T, email string) (*account.Account, *AuthTokens) {
	t.Helper()
	acc, tokens, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    email,
		Password: "secret1",
		Name:     "Ana",
	})
	require.NoError(t, err)
	return acc, tokens
}

func (f *serviceFixture) registerVerified(t *testing.T, email string) *account.Account {
	t.Helper()
	acc, _ := f.register(t, email)
	sent, ok := f.email.last("verify")
	require.True(t, ok)
	require.NoError(t, f.svc.VerifyEmail(context.Background(), sent.token))
	return acc
}

func TestRegister_CreatesPendingAccountWithSession(t *testing.T) {
	f := newServiceFixture(t)

	acc, tokens, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    "  Ana@Example.com ",
		Password: "secret1",
		Name:     "Ana",
	})
	require.NoError(t, err)

	assert.Equal(t, "ana@example.com", acc.Email)
	assert.Equal(t, account.RoleStudent, acc.Role)
	assert.False(t, acc.EmailVerified)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	stored := f.accounts.get(acc.ID)
	assert.NotEqual(t, "secret1", stored.PasswordHash)
	require.NotNil(t, stored.RefreshTokenHash)
	assert.Equal(t, HashSecret(tokens.RefreshToken), *stored.RefreshTokenHash)

	sent, ok := f.email.last("verify")
	require.True(t, ok)
	assert.Equal(t, "ana@example.com", sent.to)
	assert.Len(t, sent.token, 64)
	require.NotNil(t, stored.EmailVerifyTokenHash)
	assert.Equal(t, HashSecret(sent.token), *stored.EmailVerifyTokenHash, "only the digest is stored")
	assert.Equal(t, f.now.Add(24*time.Hour), *stored.EmailVerifyExpiresAt)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name    string
		input   RegisterInput
		wantErr error
	}{
		{"missing email", RegisterInput{Password: "secret1", Name: "Ana"}, ErrEmailRequired},
		{"bad email", RegisterInput{Email: "not-an-email", Password: "secret1", Name: "Ana"}, ErrInvalidEmailFormat},
		{"display name form", RegisterInput{Email: "Ana <ana@example.com>", Password: "secret1", Name: "Ana"}, ErrInvalidEmailFormat},
		{"missing name", RegisterInput{Email: "ana@example.com", Password: "secret1", Name: "  "}, ErrNameRequired},
		{"short password", RegisterInput{Email: "ana@example.com", Password: "12345", Name: "Ana"}, ErrWeakPassword},
		{"unknown role", RegisterInput{Email: "ana@example.com", Password: "secret1", Name: "Ana", Role: "admin"}, ErrInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			_, _, err := f.svc.Register(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "ana@example.com")

	_, _, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "ANA@example.com", Password: "secret1", Name: "Ana",
	})
	assert.ErrorIs(t, err, account.ErrDuplicateEmail)
}

func TestRegister_EmailFailureIsSwallowed(t *testing.T) {
	f := newServiceFixture(t)
	f.email.err = errors.New("smtp down")

	acc, tokens, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "ana@example.com", Password: "secret1", Name: "Ana", Role: account.RoleTeacher,
	})
	require.NoError(t, err)
	assert.Equal(t, account.RoleTeacher, acc.Role)
	assert.NotNil(t, tokens)
}

func TestLogin(t *testing.T) {
	f := newServiceFixture(t)
	f.registerVerified(t, "ana@example.com")
	f.register(t, "pending@example.com")

	t.Run("success", func(t *testing.T) {
		acc, tokens, err := f.svc.Login(context.Background(), "ana@example.com", "secret1")
		require.NoError(t, err)
		assert.Equal(t, "ana@example.com", acc.Email)
		assert.NotEmpty(t, tokens.AccessToken)
	})

	t.Run("unknown email and wrong password are identical", func(t *testing.T) {
		_, _, errUnknown := f.svc.Login(context.Background(), "nobody@example.com", "secret1")
		_, _, errWrong := f.svc.Login(context.Background(), "ana@example.com", "wrong-password")
		assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
		assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	})

	t.Run("unverified with wrong password does not disclose verification state", func(t *testing.T) {
		_, _, err := f.svc.Login(context.Background(), "pending@example.com", "wrong-password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unverified with right password", func(t *testing.T) {
		_, _, err := f.svc.Login(context.Background(), "pending@example.com", "secret1")
		assert.ErrorIs(t, err, ErrEmailNotVerified)
	})
}

func TestLogin_ReplacesPreviousSession(t *testing.T) {
	f := newServiceFixture(t)
	f.registerVerified(t, "ana@example.com")

	_, first, err := f.svc.Login(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)
	_, second, err := f.svc.Login(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), first.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = f.svc.Refresh(context.Background(), second.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_RotatesToken(t *testing.T) {
	f := newServiceFixture(t)
	f.registerVerified(t, "ana@example.com")
	_, tokens, err := f.svc.Login(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)

	rotated, err := f.svc.Refresh(context.Background(), tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	_, err = f.svc.Refresh(context.Background(), tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken, "old token is spent")

	_, err = f.svc.Refresh(context.Background(), rotated.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_Rejections(t *testing.T) {
	f := newServiceFixture(t)
	acc := f.registerVerified(t, "ana@example.com")
	_, tokens, err := f.svc.Login(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := f.svc.Refresh(context.Background(), "")
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := f.svc.Refresh(context.Background(), "v4.local.garbage")
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("access token presented as refresh token", func(t *testing.T) {
		_, err := f.svc.Refresh(context.Background(), tokens.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("persisted expiry passed", func(t *testing.T) {
		f.accounts.mutate(acc.ID, func(a *account.Account) {
			a.RefreshTokenExpiresAt = timePtr(f.now.Add(-time.Second))
		})
		_, err := f.svc.Refresh(context.Background(), tokens.RefreshToken)
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})
}

func TestRefresh_ConcurrentRotationHasOneWinner(t *testing.T) {
	f := newServiceFixture(t)
	f.registerVerified(t, "ana@example.com")
	_, tokens, err := f.svc.Login(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(context.Background(), tokens.RefreshToken)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInvalidRefreshToken)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	f := newServiceFixture(t)
	acc := f.registerVerified(t, "ana@example.com")
	_, tokens, err := f.svc.Login(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background(), acc.ID))

	_, err = f.svc.Refresh(context.Background(), tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	// Access tokens are stateless and survive logout until they expire.
	identity, err := f.svc.Authenticate(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, identity.AccountID)
}

func TestAuthenticate(t *testing.T) {
	f := newServiceFixture(t)
	acc, tokens := f.register(t, "ana@example.com")

	identity, err := f.svc.Authenticate(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, identity.AccountID)
	assert.Equal(t, "ana@example.com", identity.Email)

	_, err = f.svc.Authenticate("not-a-token")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = f.svc.Authenticate(tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	expired, err := f.svc.tokenService.CreateAccessToken(acc.ID, acc.Email, -time.Minute)
	require.NoError(t, err)
	_, err = f.svc.Authenticate(expired)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyEmail(t *testing.T) {
	f := newServiceFixture(t)
	acc, _ := f.register(t, "ana@example.com")
	sent, _ := f.email.last("verify")

	require.NoError(t, f.svc.VerifyEmail(context.Background(), sent.token))

	stored := f.accounts.get(acc.ID)
	assert.True(t, stored.EmailVerified)
	assert.Nil(t, stored.EmailVerifyTokenHash)
	assert.Nil(t, stored.EmailVerifyExpiresAt)

	err := f.svc.VerifyEmail(context.Background(), sent.token)
	assert.ErrorIs(t, err, ErrTokenInvalid, "secret is single use")
}

func TestVerifyEmail_Errors(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "ana@example.com")
	sent, _ := f.email.last("verify")

	assert.ErrorIs(t, f.svc.VerifyEmail(context.Background(), ""), ErrTokenInvalid)
	assert.ErrorIs(t, f.svc.VerifyEmail(context.Background(), "deadbeef"), ErrTokenInvalid)

	f.now = f.now.Add(24 * time.Hour)
	assert.NoError(t, f.svc.VerifyEmail(context.Background(), sent.token), "valid up to and including the expiry instant")
}

func TestVerifyEmail_Expired(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "ana@example.com")
	sent, _ := f.email.last("verify")

	f.now = f.now.Add(24*time.Hour + time.Second)
	assert.ErrorIs(t, f.svc.VerifyEmail(context.Background(), sent.token), ErrTokenExpired)
}

func TestResendVerification(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "pending@example.com")
	f.registerVerified(t, "done@example.com")

	t.Run("unknown email", func(t *testing.T) {
		err := f.svc.ResendVerification(context.Background(), "nobody@example.com")
		assert.ErrorIs(t, err, account.ErrNotFound)
	})

	t.Run("already verified", func(t *testing.T) {
		err := f.svc.ResendVerification(context.Background(), "done@example.com")
		assert.ErrorIs(t, err, ErrAlreadyVerified)
	})

	t.Run("pending secret still valid", func(t *testing.T) {
		err := f.svc.ResendVerification(context.Background(), "pending@example.com")
		assert.ErrorIs(t, err, ErrVerificationAlreadyPending)
	})

	t.Run("expired secret is replaced", func(t *testing.T) {
		old, _ := f.email.last("verify")
		f.now = f.now.Add(25 * time.Hour)

		require.NoError(t, f.svc.ResendVerification(context.Background(), "pending@example.com"))

		fresh, _ := f.email.last("verify")
		assert.NotEqual(t, old.token, fresh.token)
		assert.ErrorIs(t, f.svc.VerifyEmail(context.Background(), old.token), ErrTokenInvalid)
		assert.NoError(t, f.svc.VerifyEmail(context.Background(), fresh.token))
	})
}

func TestResendVerification_DispatchFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "ana@example.com")
	f.now = f.now.Add(25 * time.Hour)
	f.email.err = errors.New("smtp down")

	err := f.svc.ResendVerification(context.Background(), "ana@example.com")
	assert.ErrorIs(t, err, ErrEmailDispatchFailed)
}

func TestForgotPassword(t *testing.T) {
	f := newServiceFixture(t)
	acc := f.registerVerified(t, "ana@example.com")

	require.NoError(t, f.svc.ForgotPassword(context.Background(), "nobody@example.com"))
	_, sent := f.email.last("reset")
	assert.False(t, sent, "no email for unknown accounts")

	require.NoError(t, f.svc.ForgotPassword(context.Background(), "ana@example.com"))
	reset, ok := f.email.last("reset")
	require.True(t, ok)

	stored := f.accounts.get(acc.ID)
	require.NotNil(t, stored.PasswordResetTokenHash)
	assert.Equal(t, HashSecret(reset.token), *stored.PasswordResetTokenHash)
	assert.Equal(t, f.now.Add(time.Hour), *stored.PasswordResetExpiresAt)
}

func TestForgotPassword_Failures(t *testing.T) {
	f := newServiceFixture(t)
	f.registerVerified(t, "ana@example.com")

	f.email.err = errors.New("smtp down")
	assert.ErrorIs(t, f.svc.ForgotPassword(context.Background(), "ana@example.com"), ErrEmailDispatchFailed)

	f.accounts.err = errStoreDown
	assert.NoError(t, f.svc.ForgotPassword(context.Background(), "ana@example.com"), "lookup failures answer generically")
}

func TestResetPassword(t *testing.T) {
	f := newServiceFixture(t)
	acc := f.registerVerified(t, "ana@example.com")
	_, session, err := f.svc.Login(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, f.svc.ForgotPassword(context.Background(), "ana@example.com"))
	reset, _ := f.email.last("reset")

	assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), reset.token, "123"), ErrWeakPassword)
	require.NoError(t, f.svc.ResetPassword(context.Background(), reset.token, "new-secret"))

	_, _, err = f.svc.Login(context.Background(), "ana@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = f.svc.Login(context.Background(), "ana@example.com", "new-secret")
	assert.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), session.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken, "reset revokes the session")

	assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), reset.token, "other-secret"), ErrTokenInvalid)
	assert.Nil(t, f.accounts.get(acc.ID).PasswordResetTokenHash)
}

func TestResetPassword_Expired(t *testing.T) {
	f := newServiceFixture(t)
	f.registerVerified(t, "ana@example.com")
	require.NoError(t, f.svc.ForgotPassword(context.Background(), "ana@example.com"))
	reset, _ := f.email.last("reset")

	f.now = f.now.Add(time.Hour + time.Second)
	assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), reset.token, "new-secret"), ErrTokenExpired)
	assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), "", "new-secret"), ErrTokenInvalid)
}

func TestService_StoreFailuresAreWrapped(t *testing.T) {
	f := newServiceFixture(t)
	f.accounts.err = errStoreDown

	_, _, err := f.svc.Login(context.Background(), "ana@example.com", "secret1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errStoreDown)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	err = f.svc.Logout(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errStoreDown)
}
