package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorhub/lessons-api/internal/account"
	"github.com/tutorhub/lessons-api/internal/ledger"
	"github.com/tutorhub/lessons-api/internal/logging"
	"github.com/tutorhub/lessons-api/internal/metrics"
)

type fakeAccounts map[uuid.UUID]*account.Account

func (f fakeAccounts) GetByID(_ context.Context, id uuid.UUID) (*account.Account, error) {
	if a, ok := f[id]; ok {
		return a, nil
	}
	return nil, account.ErrNotFound
}

// fakeLedger keeps balances in memory. creditFailures makes the next n
// credits fail.
type fakeLedger struct {
	mu             sync.Mutex
	balances       map[uuid.UUID]int
	creditFailures int
	credits        int
}

func (f *fakeLedger) Debit(_ context.Context, id uuid.UUID, amount int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[id]
	if !ok {
		return 0, account.ErrNotFound
	}
	if balance < amount {
		return 0, ledger.ErrInsufficientBalance
	}
	f.balances[id] = balance - amount
	return f.balances[id], nil
}

func (f *fakeLedger) Credit(_ context.Context, id uuid.UUID, amount int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credits++
	if f.creditFailures > 0 {
		f.creditFailures--
		return 0, errors.New("connection reset")
	}
	f.balances[id] += amount
	return f.balances[id], nil
}

func (f *fakeLedger) balance(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[id]
}

type fakeStore struct {
	mu       sync.Mutex
	bookings []Booking
	err      error
}

func (f *fakeStore) Create(_ context.Context, in NewBooking) (*Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	b := Booking{
		ID:            uuid.New(),
		AccountID:     in.AccountID,
		TeacherID:     in.TeacherID,
		ScheduledDate: in.ScheduledDate,
		Status:        StatusScheduled,
		PlatformRef:   in.PlatformRef,
	}
	f.bookings = append(f.bookings, b)
	return &b, nil
}

func (f *fakeStore) ListByAccount(_ context.Context, id uuid.UUID) ([]Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Booking{}
	for _, b := range f.bookings {
		if b.AccountID == id {
			out = append(out, b)
		}
	}
	return out, nil
}

type bookingFixture struct {
	student uuid.UUID
	teacher *account.Account
	other   *account.Account
	ledger  *fakeLedger
	store   *fakeStore
	metrics *metrics.Metrics
	svc     *Service
}

func newBookingFixture(t *testing.T, balance int) *bookingFixture {
	t.Helper()
	f := &bookingFixture{
		student: uuid.New(),
		teacher: &account.Account{ID: uuid.New(), Name: "Bruno", Email: "bruno@example.com", Role: account.RoleTeacher, Active: true},
		other:   &account.Account{ID: uuid.New(), Name: "Carla", Role: account.RoleStudent, Active: true},
		store:   &fakeStore{},
		metrics: metrics.New(),
	}
	f.ledger = &fakeLedger{balances: map[uuid.UUID]int{f.student: balance}}
	f.svc = NewService(
		fakeAccounts{f.teacher.ID: f.teacher, f.other.ID: f.other},
		f.ledger,
		f.store,
		f.metrics,
		logging.Discard(),
	)
	f.svc.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
	}
	return f
}

func (f *bookingFixture) input(teacherID uuid.UUID) NewBooking {
	return NewBooking{
		AccountID:     f.student,
		TeacherID:     teacherID,
		ScheduledDate: time.Date(2026, 11, 3, 14, 0, 0, 0, time.UTC),
		PlatformRef:   "meet.example.com/abc",
	}
}

func TestCreateBooking(t *testing.T) {
	f := newBookingFixture(t, 2)

	b, balance, err := f.svc.CreateBooking(context.Background(), f.input(f.teacher.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, balance)
	assert.Equal(t, StatusScheduled, b.Status)
	assert.Equal(t, &TeacherRef{Name: "Bruno", Email: "bruno@example.com"}, b.Teacher)
	assert.Equal(t, 1, f.ledger.balance(f.student))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Bookings.WithLabelValues(metrics.ResultSuccess)))
}

func TestCreateBooking_InsufficientBalance(t *testing.T) {
	f := newBookingFixture(t, 0)

	_, _, err := f.svc.CreateBooking(context.Background(), f.input(f.teacher.ID))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Empty(t, f.store.bookings)
}

func TestCreateBooking_TeacherMustExist(t *testing.T) {
	f := newBookingFixture(t, 1)

	_, _, err := f.svc.CreateBooking(context.Background(), f.input(uuid.New()))
	assert.ErrorIs(t, err, ErrTeacherNotFound)

	_, _, err = f.svc.CreateBooking(context.Background(), f.input(f.other.ID))
	assert.ErrorIs(t, err, ErrTeacherNotFound, "students cannot be booked")

	f.teacher.Active = false
	_, _, err = f.svc.CreateBooking(context.Background(), f.input(f.teacher.ID))
	assert.ErrorIs(t, err, ErrTeacherNotFound)

	assert.Equal(t, 1, f.ledger.balance(f.student), "nothing debited")
}

func TestCreateBooking_ScheduledDateRequired(t *testing.T) {
	f := newBookingFixture(t, 1)
	in := f.input(f.teacher.ID)
	in.ScheduledDate = time.Time{}

	_, _, err := f.svc.CreateBooking(context.Background(), in)
	assert.ErrorIs(t, err, ErrScheduledDateRequired)
}

func TestCreateBooking_InsertFailureReturnsCredit(t *testing.T) {
	f := newBookingFixture(t, 1)
	f.store.err = errors.New("insert failed")
	f.ledger.creditFailures = 2

	_, _, err := f.svc.CreateBooking(context.Background(), f.input(f.teacher.ID))
	require.Error(t, err)
	assert.Equal(t, 1, f.ledger.balance(f.student), "debit compensated")
	assert.Equal(t, 3, f.ledger.credits, "credit retried until it succeeds")
}

func TestCreateBooking_CompensationSurvivesCancelledRequest(t *testing.T) {
	f := newBookingFixture(t, 1)
	f.store.err = context.Canceled
	f.ledger.creditFailures = 1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := f.svc.CreateBooking(ctx, f.input(f.teacher.ID))
	require.Error(t, err)
	assert.Equal(t, 1, f.ledger.balance(f.student))
	assert.Equal(t, 2, f.ledger.credits)
}

func TestCreateBooking_ConcurrentWithOneCredit(t *testing.T) {
	f := newBookingFixture(t, 1)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := f.svc.CreateBooking(context.Background(), f.input(f.teacher.ID)); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Zero(t, f.ledger.balance(f.student))
}

func TestListBookings(t *testing.T) {
	f := newBookingFixture(t, 2)
	_, _, err := f.svc.CreateBooking(context.Background(), f.input(f.teacher.ID))
	require.NoError(t, err)

	bookings, err := f.svc.ListBookings(context.Background(), f.student)
	require.NoError(t, err)
	assert.Len(t, bookings, 1)

	bookings, err = f.svc.ListBookings(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, bookings)
}
