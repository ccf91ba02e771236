package booking

import (
	"time"

	"github.com/google/uuid"
)

const StatusScheduled = "scheduled"

// Booking is a lesson scheduled with a teacher, paid with one credit
type Booking struct {
	ID            uuid.UUID   `json:"id"`
	AccountID     uuid.UUID   `json:"accountId"`
	TeacherID     uuid.UUID   `json:"teacherId"`
	ScheduledDate time.Time   `json:"scheduledDate"`
	Status        string      `json:"status"`
	PlatformRef   string      `json:"platformRef"`
	CreatedAt     time.Time   `json:"createdAt"`
	Teacher       *TeacherRef `json:"teacher,omitempty"`
}

// TeacherRef is the teacher summary embedded in a booking
type TeacherRef struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// NewBooking carries what the caller chooses when booking
type NewBooking struct {
	AccountID     uuid.UUID
	TeacherID     uuid.UUID
	ScheduledDate time.Time
	PlatformRef   string
}
