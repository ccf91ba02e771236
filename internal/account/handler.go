package account

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/tutorhub/lessons-api/internal/httputil"
	"github.com/tutorhub/lessons-api/internal/logging"
)

// Reader is the read side of the account store used by the handlers
type Reader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	ListTeachers(ctx context.Context) ([]Teacher, error)
}

// BalanceReader reports the lesson credit balance
type BalanceReader interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (int, error)
}

type Handler struct {
	accounts Reader
	balances BalanceReader
}

func NewHandler(accounts Reader, balances BalanceReader) *Handler {
	return &Handler{accounts: accounts, balances: balances}
}

// BalanceResponse is the lesson credit balance
type BalanceResponse struct {
	AvailableLessons int `json:"availableLessons"`
}

// Profile returns the authenticated account
// @Summary      Get profile
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} Account
// @Failure      401 {object} httputil.ErrorResponse "Unauthorized"
// @Failure      404 {object} httputil.ErrorResponse "Account not found"
// @Router       /users/profile [get]
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	acc, err := h.accounts.GetByID(r.Context(), identity.AccountID)
	if err != nil {
		h.respondLookupError(w, r, err, "failed to load profile")
		return
	}

	httputil.RespondJSON(w, acc, http.StatusOK)
}

// Balance returns the number of lessons the caller can still book
// @Summary      Get lesson balance
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} BalanceResponse
// @Failure      401 {object} httputil.ErrorResponse "Unauthorized"
// @Failure      404 {object} httputil.ErrorResponse "Account not found"
// @Router       /users/balance [get]
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	balance, err := h.balances.GetBalance(r.Context(), identity.AccountID)
	if err != nil {
		h.respondLookupError(w, r, err, "failed to load balance")
		return
	}

	httputil.RespondJSON(w, BalanceResponse{AvailableLessons: balance}, http.StatusOK)
}

// Teachers lists the teachers that can be booked
// @Summary      List teachers
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200 {array} Teacher
// @Failure      401 {object} httputil.ErrorResponse "Unauthorized"
// @Router       /users/teachers [get]
func (h *Handler) Teachers(w http.ResponseWriter, r *http.Request) {
	teachers, err := h.accounts.ListTeachers(r.Context())
	if err != nil {
		logging.GetLoggerFromContext(r.Context()).LogError("failed to list teachers", err)
		httputil.RespondErrorWithCode(w, "failed to list teachers", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	httputil.RespondJSON(w, teachers, http.StatusOK)
}

func (h *Handler) respondLookupError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if errors.Is(err, ErrNotFound) {
		httputil.RespondErrorWithCode(w, "account not found", httputil.CodeAccountNotFound, http.StatusNotFound)
		return
	}
	logging.GetLoggerFromContext(r.Context()).LogError(message, err)
	httputil.RespondErrorWithCode(w, message, httputil.CodeInternalError, http.StatusInternalServerError)
}
