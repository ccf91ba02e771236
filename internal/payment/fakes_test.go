package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tutorhub/lessons-api/internal/account"
	"github.com/tutorhub/lessons-api/internal/catalog"
)

type fakePackages map[int64]*catalog.Package

func (f fakePackages) GetActive(_ context.Context, id int64) (*catalog.Package, error) {
	if p, ok := f[id]; ok {
		return p, nil
	}
	return nil, catalog.ErrPackageNotFound
}

type fakeAccounts map[uuid.UUID]*account.Account

func (f fakeAccounts) GetByID(_ context.Context, id uuid.UUID) (*account.Account, error) {
	if a, ok := f[id]; ok {
		return a, nil
	}
	return nil, account.ErrNotFound
}

type fakeGateway struct {
	mu          sync.Mutex
	preferences []PreferenceRequest
	payments    map[string]*GatewayPayment
	err         error
}

func (f *fakeGateway) CreatePreference(_ context.Context, req PreferenceRequest) (*Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.preferences = append(f.preferences, req)
	return &Preference{ID: "pref-1", InitPoint: "https://mp/init", SandboxInitPoint: "https://mp/sandbox"}, nil
}

func (f *fakeGateway) GetPayment(_ context.Context, id string) (*GatewayPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.payments[id]; ok {
		return p, nil
	}
	return nil, ErrPaymentNotFound
}

// fakeStore keeps the status guard of Repository: completed is terminal and
// only the transition into completed credits the account.
type fakeStore struct {
	mu       sync.Mutex
	statuses map[string]string
	credited map[uuid.UUID]int
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: map[string]string{}, credited: map[uuid.UUID]int{}}
}

func (f *fakeStore) Apply(_ context.Context, ev PaymentEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.statuses[ev.ExternalPaymentID] == StatusCompleted {
		return false, nil
	}
	f.statuses[ev.ExternalPaymentID] = ev.Status
	if ev.Status != StatusCompleted {
		return false, nil
	}
	f.credited[ev.AccountID] += ev.LessonCount
	return true, nil
}

func (f *fakeStore) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

func (f *fakeStore) creditedTo(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credited[id]
}
