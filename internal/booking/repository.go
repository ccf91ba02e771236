package booking

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/uptrace/bun"

	"github.com/tutorhub/lessons-api/internal/database"
)

// Repository stores bookings
type Repository struct {
	db bun.IDB
}

func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db}
}

// Create inserts a scheduled booking
func (r *Repository) Create(ctx context.Context, in NewBooking) (*Booking, error) {
	row := &database.Booking{
		AccountID:     in.AccountID,
		TeacherID:     in.TeacherID,
		ScheduledDate: in.ScheduledDate,
		Status:        StatusScheduled,
		PlatformRef:   in.PlatformRef,
	}

	_, err := r.db.NewInsert().
		Model(row).
		Returning("id, created_at").
		Exec(ctx)
	if err != nil {
		return nil, oops.Code("BOOKING_CREATE_FAILED").
			With("account_id", in.AccountID).
			With("teacher_id", in.TeacherID).
			Wrap(err)
	}

	return mapDBBooking(row), nil
}

// ListByAccount returns the account's bookings, earliest first
func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]Booking, error) {
	var rows []database.Booking
	err := r.db.NewSelect().
		Model(&rows).
		Relation("Teacher", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Column("name", "email")
		}).
		Where("b.account_id = ?", accountID).
		Order("b.scheduled_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, oops.Code("BOOKING_LIST_FAILED").With("account_id", accountID).Wrap(err)
	}

	bookings := make([]Booking, 0, len(rows))
	for i := range rows {
		bookings = append(bookings, *mapDBBooking(&rows[i]))
	}
	return bookings, nil
}

func mapDBBooking(row *database.Booking) *Booking {
	b := &Booking{
		ID:            row.ID,
		AccountID:     row.AccountID,
		TeacherID:     row.TeacherID,
		ScheduledDate: row.ScheduledDate,
		Status:        row.Status,
		PlatformRef:   row.PlatformRef,
		CreatedAt:     row.CreatedAt,
	}
	if row.Teacher != nil {
		b.Teacher = &TeacherRef{Name: row.Teacher.Name, Email: row.Teacher.Email}
	}
	return b
}
