package booking

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tutorhub/lessons-api/internal/account"
	"github.com/tutorhub/lessons-api/internal/httputil"
	"github.com/tutorhub/lessons-api/internal/ledger"
	"github.com/tutorhub/lessons-api/internal/logging"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CreateRequest is the body of POST /bookings
type CreateRequest struct {
	TeacherID     string `json:"teacherId"`
	ScheduledDate string `json:"scheduledDate"`
	PlatformRef   string `json:"platformRef,omitempty"`
}

// CreateResponse is the created booking and the balance left after it
type CreateResponse struct {
	Message    string   `json:"message"`
	Booking    *Booking `json:"booking"`
	NewBalance int      `json:"newBalance"`
}

// Create books a lesson
// @Summary      Book a lesson
// @Description  Spend one lesson credit on a lesson with a teacher
// @Tags         bookings
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body CreateRequest true "Booking"
// @Success      201 {object} CreateResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid request or insufficient balance"
// @Failure      401 {object} httputil.ErrorResponse "Unauthorized"
// @Failure      404 {object} httputil.ErrorResponse "Teacher not found"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /bookings [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	identity, ok := account.IdentityFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	var req CreateRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	teacherID, err := uuid.Parse(req.TeacherID)
	if err != nil {
		httputil.RespondErrorWithCode(w, "teacherId must be a valid id", httputil.CodeValidationFailed, http.StatusBadRequest)
		return
	}

	if req.ScheduledDate == "" {
		httputil.RespondErrorWithCode(w, ErrScheduledDateRequired.Error(), httputil.CodeValidationFailed, http.StatusBadRequest)
		return
	}
	scheduledDate, err := time.Parse(time.RFC3339, req.ScheduledDate)
	if err != nil {
		httputil.RespondErrorWithCode(w, "scheduledDate must be an RFC 3339 timestamp", httputil.CodeValidationFailed, http.StatusBadRequest)
		return
	}

	created, balance, err := h.service.CreateBooking(r.Context(), NewBooking{
		AccountID:     identity.AccountID,
		TeacherID:     teacherID,
		ScheduledDate: scheduledDate,
		PlatformRef:   req.PlatformRef,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrTeacherNotFound):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeTeacherNotFound, http.StatusNotFound)
		case errors.Is(err, ledger.ErrInsufficientBalance):
			httputil.RespondErrorWithCode(w, "insufficient lesson balance", httputil.CodeInsufficientBalance, http.StatusBadRequest)
		case errors.Is(err, account.ErrNotFound):
			httputil.RespondErrorWithCode(w, "account not found", httputil.CodeAccountNotFound, http.StatusNotFound)
		default:
			logger.LogError("booking failed: internal error", err, "account_id", identity.AccountID)
			httputil.RespondErrorWithCode(w, "failed to book lesson", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("lesson booked", "account_id", identity.AccountID, "booking_id", created.ID)
	httputil.RespondJSON(w, CreateResponse{
		Message:    "lesson booked successfully",
		Booking:    created,
		NewBalance: balance,
	}, http.StatusCreated)
}

// List returns the caller's bookings
// @Summary      List bookings
// @Description  Bookings of the authenticated account ordered by scheduled date
// @Tags         bookings
// @Produce      json
// @Security     BearerAuth
// @Success      200 {array} Booking
// @Failure      401 {object} httputil.ErrorResponse "Unauthorized"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /bookings [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := account.IdentityFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	bookings, err := h.service.ListBookings(r.Context(), identity.AccountID)
	if err != nil {
		logging.GetLoggerFromContext(r.Context()).LogError("failed to list bookings", err, "account_id", identity.AccountID)
		httputil.RespondErrorWithCode(w, "failed to list bookings", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	httputil.RespondJSON(w, bookings, http.StatusOK)
}
