package payment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/uptrace/bun"

	"github.com/tutorhub/lessons-api/internal/account"
	"github.com/tutorhub/lessons-api/internal/database"
	"github.com/tutorhub/lessons-api/internal/ledger"
)

// Stored transaction statuses
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// The unique key on external_payment_id plus the status guard make
// completion a one-time transition: only the statement that moves a row into
// completed gets a row back.
const (
	completeQuery = `INSERT INTO transactions (account_id, package_id, external_payment_id, amount_cents, lesson_count, status)
VALUES (?, ?, ?, ?, ?, 'completed')
ON CONFLICT (external_payment_id) DO UPDATE
SET status = 'completed', amount_cents = EXCLUDED.amount_cents, updated_at = NOW()
WHERE transactions.status <> 'completed'
RETURNING account_id, lesson_count`

	recordStatusQuery = `INSERT INTO transactions (account_id, package_id, external_payment_id, amount_cents, lesson_count, status)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (external_payment_id) DO UPDATE
SET status = EXCLUDED.status, updated_at = NOW()
WHERE transactions.status <> 'completed'`
)

// PaymentEvent is a gateway payment reduced to what the ledger needs
type PaymentEvent struct {
	ExternalPaymentID string
	Status            string
	AccountID         uuid.UUID
	PackageID         *int64
	LessonCount       int
	AmountCents       int64
}

// Repository persists payment transactions and applies approved ones to the ledger
type Repository struct {
	db      *bun.DB
	ledger  *ledger.Ledger
	backoff func() retry.Backoff
}

func NewRepository(db *bun.DB, l *ledger.Ledger) *Repository {
	return &Repository{
		db:     db,
		ledger: l,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
		},
	}
}

// Apply stores the event. For a completed event it credits the lessons in
// the same transaction, at most once per external payment id. applied
// reports whether this call performed the credit.
func (r *Repository) Apply(ctx context.Context, ev PaymentEvent) (applied bool, err error) {
	err = retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		var txErr error
		if ev.Status == StatusCompleted {
			applied, txErr = r.complete(ctx, ev)
		} else {
			txErr = r.recordStatus(ctx, ev)
		}
		if txErr != nil && database.IsRetryable(txErr) {
			return retry.RetryableError(txErr)
		}
		return txErr
	})
	if err != nil {
		if database.IsForeignKeyViolation(err) || errors.Is(err, account.ErrNotFound) {
			return false, ErrInvalidMetadata
		}
		return false, err
	}
	return applied, nil
}

func (r *Repository) complete(ctx context.Context, ev PaymentEvent) (bool, error) {
	applied := false
	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var (
			accountID   uuid.UUID
			lessonCount int
		)
		err := tx.QueryRowContext(ctx, completeQuery,
			ev.AccountID, ev.PackageID, ev.ExternalPaymentID, ev.AmountCents, ev.LessonCount,
		).Scan(&accountID, &lessonCount)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return oops.Code("PAYMENT_COMPLETE_FAILED").With("payment_id", ev.ExternalPaymentID).Wrap(err)
		}

		if _, err := r.ledger.CreditTx(ctx, tx, accountID, lessonCount); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *Repository) recordStatus(ctx context.Context, ev PaymentEvent) error {
	_, err := r.db.ExecContext(ctx, recordStatusQuery,
		ev.AccountID, ev.PackageID, ev.ExternalPaymentID, ev.AmountCents, ev.LessonCount, ev.Status,
	)
	if err != nil {
		return oops.Code("PAYMENT_RECORD_FAILED").
			With("payment_id", ev.ExternalPaymentID).
			With("status", ev.Status).
			Wrap(err)
	}
	return nil
}

// StatusOf returns the stored status of an external payment
func (r *Repository) StatusOf(ctx context.Context, externalPaymentID string) (string, error) {
	var status string
	err := r.db.NewSelect().
		Model((*database.Transaction)(nil)).
		Column("status").
		Where("external_payment_id = ?", externalPaymentID).
		Scan(ctx, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrPaymentNotFound
		}
		return "", oops.Code("PAYMENT_STATUS_FAILED").With("payment_id", externalPaymentID).Wrap(err)
	}
	return status, nil
}
