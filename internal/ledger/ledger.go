package ledger

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/uptrace/bun"

	"github.com/tutorhub/lessons-api/internal/account"
	"github.com/tutorhub/lessons-api/internal/database"
	"github.com/tutorhub/lessons-api/internal/metrics"
)

var (
	ErrInsufficientBalance = errors.New("insufficient lesson balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// Each mutation is one conditional statement on the account row. Postgres
// row locks serialize concurrent mutations of the same account and the
// CHECK (available_lessons >= 0) constraint backs the non-negative balance.
const (
	debitQuery = `UPDATE accounts
SET available_lessons = available_lessons - ?, updated_at = NOW()
WHERE id = ? AND available_lessons >= ?
RETURNING available_lessons`

	creditQuery = `UPDATE accounts
SET available_lessons = available_lessons + ?, updated_at = NOW()
WHERE id = ?
RETURNING available_lessons`
)

// Ledger owns the lesson credit balance of every account
type Ledger struct {
	db      bun.IDB
	metrics *metrics.Metrics
}

func New(db bun.IDB, m *metrics.Metrics) *Ledger {
	return &Ledger{db: db, metrics: m}
}

// GetBalance returns the number of lessons the account can still book
func (l *Ledger) GetBalance(ctx context.Context, accountID uuid.UUID) (int, error) {
	var balance int
	err := l.db.NewSelect().
		Model((*database.Account)(nil)).
		Column("available_lessons").
		Where("id = ?", accountID).
		Scan(ctx, &balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, account.ErrNotFound
		}
		return 0, oops.Code("LEDGER_BALANCE_FAILED").With("account_id", accountID).Wrap(err)
	}
	return balance, nil
}

// Debit removes amount lessons and returns the new balance. It never takes
// the balance below zero.
func (l *Ledger) Debit(ctx context.Context, accountID uuid.UUID, amount int) (int, error) {
	return l.DebitTx(ctx, l.db, accountID, amount)
}

// DebitTx is Debit running on db, typically a transaction owned by the caller
func (l *Ledger) DebitTx(ctx context.Context, db bun.IDB, accountID uuid.UUID, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int
	err := db.QueryRowContext(ctx, debitQuery, amount, accountID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || database.IsCheckViolation(err) {
			return 0, l.debitRejected(ctx, db, accountID)
		}
		l.metrics.RecordLedgerOperation("debit", metrics.ResultError)
		return 0, oops.Code("LEDGER_DEBIT_FAILED").With("account_id", accountID).With("amount", amount).Wrap(err)
	}

	l.metrics.RecordLedgerOperation("debit", metrics.ResultSuccess)
	return balance, nil
}

// debitRejected tells a missing account apart from a short balance
func (l *Ledger) debitRejected(ctx context.Context, db bun.IDB, accountID uuid.UUID) error {
	exists, err := db.NewSelect().
		Model((*database.Account)(nil)).
		Where("id = ?", accountID).
		Exists(ctx)
	if err != nil {
		l.metrics.RecordLedgerOperation("debit", metrics.ResultError)
		return oops.Code("LEDGER_DEBIT_FAILED").With("account_id", accountID).Wrap(err)
	}

	l.metrics.RecordLedgerOperation("debit", metrics.ResultRejected)
	if !exists {
		return account.ErrNotFound
	}
	return ErrInsufficientBalance
}

// Credit adds amount lessons and returns the new balance
func (l *Ledger) Credit(ctx context.Context, accountID uuid.UUID, amount int) (int, error) {
	return l.CreditTx(ctx, l.db, accountID, amount)
}

// CreditTx is Credit running on db, typically a transaction owned by the caller
func (l *Ledger) CreditTx(ctx context.Context, db bun.IDB, accountID uuid.UUID, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int
	err := db.QueryRowContext(ctx, creditQuery, amount, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			l.metrics.RecordLedgerOperation("credit", metrics.ResultRejected)
			return 0, account.ErrNotFound
		}
		l.metrics.RecordLedgerOperation("credit", metrics.ResultError)
		return 0, oops.Code("LEDGER_CREDIT_FAILED").With("account_id", accountID).With("amount", amount).Wrap(err)
	}

	l.metrics.RecordLedgerOperation("credit", metrics.ResultSuccess)
	return balance, nil
}
