package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutorhub/lessons-api/internal/account"
)

// fakeAccounts mirrors the conditional updates of account.Repository in memory
type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*account.Account
	err      error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: map[uuid.UUID]*account.Account{}}
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func (f *fakeAccounts) copyOf(a *account.Account) *account.Account {
	c := *a
	return &c
}

func (f *fakeAccounts) find(match func(*account.Account) bool) (*account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, a := range f.accounts {
		if match(a) {
			return f.copyOf(a), nil
		}
	}
	return nil, account.ErrNotFound
}

func (f *fakeAccounts) Create(_ context.Context, in account.NewAccount) (*account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, a := range f.accounts {
		if a.Email == in.Email {
			return nil, account.ErrDuplicateEmail
		}
	}
	a := &account.Account{
		ID:                   uuid.New(),
		Email:                in.Email,
		Name:                 in.Name,
		Role:                 in.Role,
		PasswordHash:         in.PasswordHash,
		Active:               true,
		EmailVerifyTokenHash: strPtr(in.EmailVerifyTokenHash),
		EmailVerifyExpiresAt: timePtr(in.EmailVerifyExpiresAt),
	}
	f.accounts[a.ID] = a
	return f.copyOf(a), nil
}

func (f *fakeAccounts) GetByEmail(_ context.Context, email string) (*account.Account, error) {
	return f.find(func(a *account.Account) bool { return a.Email == email })
}

func (f *fakeAccounts) GetByID(_ context.Context, id uuid.UUID) (*account.Account, error) {
	return f.find(func(a *account.Account) bool { return a.ID == id })
}

func (f *fakeAccounts) GetByVerifyTokenHash(_ context.Context, h string) (*account.Account, error) {
	return f.find(func(a *account.Account) bool { return eq(a.EmailVerifyTokenHash, h) })
}

func (f *fakeAccounts) GetByResetTokenHash(_ context.Context, h string) (*account.Account, error) {
	return f.find(func(a *account.Account) bool { return eq(a.PasswordResetTokenHash, h) })
}

func (f *fakeAccounts) GetByRefreshTokenHash(_ context.Context, h string) (*account.Account, error) {
	return f.find(func(a *account.Account) bool { return eq(a.RefreshTokenHash, h) })
}

func (f *fakeAccounts) ConsumeVerifyToken(_ context.Context, id uuid.UUID, h string, now time.Time) error {
	return f.update(id, func(a *account.Account) error {
		if !eq(a.EmailVerifyTokenHash, h) || a.EmailVerifyExpiresAt.Before(now) {
			return account.ErrStaleSecret
		}
		a.EmailVerified = true
		a.EmailVerifyTokenHash, a.EmailVerifyExpiresAt = nil, nil
		return nil
	})
}

func (f *fakeAccounts) SetVerifyToken(_ context.Context, id uuid.UUID, h string, expiresAt time.Time) error {
	return f.update(id, func(a *account.Account) error {
		if a.EmailVerified {
			return account.ErrNotFound
		}
		a.EmailVerifyTokenHash, a.EmailVerifyExpiresAt = strPtr(h), timePtr(expiresAt)
		return nil
	})
}

func (f *fakeAccounts) SetResetToken(_ context.Context, id uuid.UUID, h string, expiresAt time.Time) error {
	return f.update(id, func(a *account.Account) error {
		a.PasswordResetTokenHash, a.PasswordResetExpiresAt = strPtr(h), timePtr(expiresAt)
		return nil
	})
}

func (f *fakeAccounts) ResetPassword(_ context.Context, id uuid.UUID, h, passwordHash string, now time.Time) error {
	return f.update(id, func(a *account.Account) error {
		if !eq(a.PasswordResetTokenHash, h) || a.PasswordResetExpiresAt.Before(now) {
			return account.ErrStaleSecret
		}
		a.PasswordHash = passwordHash
		a.PasswordResetTokenHash, a.PasswordResetExpiresAt = nil, nil
		a.RefreshTokenHash, a.RefreshTokenExpiresAt = nil, nil
		return nil
	})
}

func (f *fakeAccounts) StoreRefreshToken(_ context.Context, id uuid.UUID, h string, expiresAt time.Time) error {
	return f.update(id, func(a *account.Account) error {
		a.RefreshTokenHash, a.RefreshTokenExpiresAt = strPtr(h), timePtr(expiresAt)
		return nil
	})
}

func (f *fakeAccounts) RotateRefreshToken(_ context.Context, id uuid.UUID, oldHash, newHash string, expiresAt, now time.Time) error {
	return f.update(id, func(a *account.Account) error {
		if !eq(a.RefreshTokenHash, oldHash) || a.RefreshTokenExpiresAt.Before(now) {
			return account.ErrStaleSecret
		}
		a.RefreshTokenHash, a.RefreshTokenExpiresAt = strPtr(newHash), timePtr(expiresAt)
		return nil
	})
}

func (f *fakeAccounts) ClearRefreshToken(_ context.Context, id uuid.UUID) error {
	return f.update(id, func(a *account.Account) error {
		a.RefreshTokenHash, a.RefreshTokenExpiresAt = nil, nil
		return nil
	})
}

func (f *fakeAccounts) update(id uuid.UUID, fn func(*account.Account) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	a, ok := f.accounts[id]
	if !ok {
		return account.ErrNotFound
	}
	return fn(a)
}

// mutate edits a stored account directly, bypassing the conditional updates
func (f *fakeAccounts) mutate(id uuid.UUID, fn func(*account.Account)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.accounts[id])
}

func (f *fakeAccounts) get(id uuid.UUID) *account.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copyOf(f.accounts[id])
}

func eq(p *string, s string) bool { return p != nil && *p == s }

type sentEmail struct {
	kind  string
	to    string
	token string
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (f *fakeEmail) SendVerificationEmail(_ context.Context, to, _, token string) error {
	return f.record("verify", to, token)
}

func (f *fakeEmail) SendPasswordResetEmail(_ context.Context, to, _, token string) error {
	return f.record("reset", to, token)
}

func (f *fakeEmail) record(kind, to, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEmail{kind: kind, to: to, token: token})
	return nil
}

func (f *fakeEmail) last(kind string) (sentEmail, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].kind == kind {
			return f.sent[i], true
		}
	}
	return sentEmail{}, false
}

var errStoreDown = errors.New("connection refused")
