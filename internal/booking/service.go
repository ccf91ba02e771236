package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/tutorhub/lessons-api/internal/account"
	"github.com/tutorhub/lessons-api/internal/ledger"
	"github.com/tutorhub/lessons-api/internal/logging"
	"github.com/tutorhub/lessons-api/internal/metrics"
)

var (
	ErrTeacherNotFound       = errors.New("teacher not found")
	ErrScheduledDateRequired = errors.New("scheduledDate is required")
)

// AccountReader looks up the teacher being booked
type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error)
}

// Ledger moves lesson credits
type Ledger interface {
	Debit(ctx context.Context, accountID uuid.UUID, amount int) (int, error)
	Credit(ctx context.Context, accountID uuid.UUID, amount int) (int, error)
}

// Store persists bookings
type Store interface {
	Create(ctx context.Context, in NewBooking) (*Booking, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]Booking, error)
}

// Service books lessons against the credit balance
type Service struct {
	accounts AccountReader
	ledger   Ledger
	bookings Store
	metrics  *metrics.Metrics
	logger   *logging.Logger
	backoff  func() retry.Backoff
}

func NewService(accounts AccountReader, l Ledger, bookings Store, m *metrics.Metrics, logger *logging.Logger) *Service {
	return &Service{
		accounts: accounts,
		ledger:   l,
		bookings: bookings,
		metrics:  m,
		logger:   logger,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
		},
	}
}

// CreateBooking spends one credit and schedules the lesson. The debit runs
// first; when the booking cannot be stored the credit is given back.
func (s *Service) CreateBooking(ctx context.Context, in NewBooking) (*Booking, int, error) {
	if in.ScheduledDate.IsZero() {
		return nil, 0, ErrScheduledDateRequired
	}

	teacher, err := s.accounts.GetByID(ctx, in.TeacherID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			s.metrics.RecordBooking(metrics.ResultRejected)
			return nil, 0, ErrTeacherNotFound
		}
		s.metrics.RecordBooking(metrics.ResultError)
		return nil, 0, err
	}
	if teacher.Role != account.RoleTeacher || !teacher.Active {
		s.metrics.RecordBooking(metrics.ResultRejected)
		return nil, 0, ErrTeacherNotFound
	}

	balance, err := s.ledger.Debit(ctx, in.AccountID, 1)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) || errors.Is(err, account.ErrNotFound) {
			s.metrics.RecordBooking(metrics.ResultRejected)
		} else {
			s.metrics.RecordBooking(metrics.ResultError)
		}
		return nil, 0, err
	}

	created, err := s.bookings.Create(ctx, in)
	if err != nil {
		s.metrics.RecordBooking(metrics.ResultError)
		s.refund(ctx, in.AccountID, in.TeacherID)
		return nil, 0, err
	}

	created.Teacher = &TeacherRef{Name: teacher.Name, Email: teacher.Email}
	s.metrics.RecordBooking(metrics.ResultSuccess)
	return created, balance, nil
}

// refund gives back the credit taken for a booking that was not stored. It
// ignores the request's cancellation so a dropped client does not lose the credit.
func (s *Service) refund(parent context.Context, accountID, teacherID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 10*time.Second)
	defer cancel()

	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		_, err := s.ledger.Credit(ctx, accountID, 1)
		if err != nil && !errors.Is(err, account.ErrNotFound) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		s.logger.LogError("booking compensation failed: credit was not returned", err,
			"account_id", accountID,
			"teacher_id", teacherID,
		)
		return
	}

	s.logger.Warn("booking failed, credit returned", "account_id", accountID, "teacher_id", teacherID)
}

// ListBookings returns the account's bookings, earliest first
func (s *Service) ListBookings(ctx context.Context, accountID uuid.UUID) ([]Booking, error) {
	return s.bookings.ListByAccount(ctx, accountID)
}
