package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/tutorhub/lessons-api/internal/account"
	"github.com/tutorhub/lessons-api/internal/httputil"
	"github.com/tutorhub/lessons-api/internal/logging"
	"github.com/tutorhub/lessons-api/internal/ratelimit"
)

// RateLimiter counts requests per client IP and purpose
type RateLimiter interface {
	CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error)
	RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error
}

// Handler contains HTTP handlers for authentication endpoints
type Handler struct {
	service     *Service
	rateLimiter RateLimiter
}

func NewHandler(service *Service, rateLimiter RateLimiter) *Handler {
	return &Handler{
		service:     service,
		rateLimiter: rateLimiter,
	}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest represents the token refresh request body
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// EmailRequest is the body of forgot-password and resend-verification
type EmailRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest represents the password reset confirmation
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// SessionResponse carries a new session and, on register and login, the account
type SessionResponse struct {
	AuthTokens
	User    *account.Account `json:"user,omitempty"`
	Message string           `json:"message,omitempty"`
}

// Register handles account registration
// @Summary      Register a new account
// @Description  Create a student or teacher account. A verification email is sent and a session is returned.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RegisterRequest true "Registration form"
// @Success      201 {object} SessionResponse
// @Failure      400 {object} httputil.ErrorResponse "Validation error, weak password or duplicate email"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allow(w, r, ratelimit.PurposeRegister) {
		return
	}

	var req RegisterRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid registration request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	newAccount, tokens, err := h.service.Register(r.Context(), RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     account.Role(req.Role),
	})
	if err != nil {
		switch {
		case errors.Is(err, account.ErrDuplicateEmail):
			logger.Warn("registration failed: email already exists")
			respondError(w, "email already exists", httputil.CodeDuplicateEmail, http.StatusBadRequest)
		case errors.Is(err, ErrWeakPassword):
			respondError(w, err.Error(), httputil.CodeWeakPassword, http.StatusBadRequest)
		case isValidationError(err):
			logger.Warn("registration failed: validation error", "error", err.Error())
			respondError(w, err.Error(), httputil.CodeValidationFailed, http.StatusBadRequest)
		default:
			logger.LogError("registration failed: internal error", err)
			respondError(w, "failed to register account", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("account registered", "account_id", newAccount.ID, "role", newAccount.Role)

	respondJSON(w, SessionResponse{
		AuthTokens: *tokens,
		User:       newAccount,
		Message:    "Registration successful. Please check your email to verify your account.",
	}, http.StatusCreated)
}

// Login handles account login
// @Summary      Login
// @Description  Authenticate with email and password and receive access and refresh tokens
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Login credentials"
// @Success      200 {object} SessionResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      401 {object} httputil.ErrorResponse "Invalid credentials or email not verified"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allow(w, r, ratelimit.PurposeLogin) {
		return
	}

	var req LoginRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid login request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	acc, tokens, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			logger.Warn("login failed: invalid credentials")
			respondError(w, "invalid email or password", httputil.CodeInvalidCredentials, http.StatusUnauthorized)
		case errors.Is(err, ErrEmailNotVerified):
			logger.Warn("login failed: email not verified")
			respondError(w, err.Error(), httputil.CodeEmailNotVerified, http.StatusUnauthorized)
		default:
			logger.LogError("login failed: internal error", err)
			respondError(w, "failed to login", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("account logged in", "account_id", acc.ID)
	respondJSON(w, SessionResponse{AuthTokens: *tokens, User: acc}, http.StatusOK)
}

// Refresh handles token rotation
// @Summary      Refresh tokens
// @Description  Exchange a refresh token for a new access and refresh token pair. The old refresh token stops working.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RefreshRequest true "Refresh token"
// @Success      200 {object} AuthTokens
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      403 {object} httputil.ErrorResponse "Invalid refresh token"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/refresh-token [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allow(w, r, ratelimit.PurposeRefresh) {
		return
	}

	var req RefreshRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	tokens, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			logger.Warn("refresh failed: invalid refresh token")
			respondError(w, err.Error(), httputil.CodeInvalidRefreshToken, http.StatusForbidden)
			return
		}
		logger.LogError("refresh failed: internal error", err)
		respondError(w, "failed to refresh token", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	respondJSON(w, tokens, http.StatusOK)
}

// Logout handles session revocation
// @Summary      Logout
// @Description  Revoke the current refresh token. The access token stays valid until it expires.
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} httputil.MessageResponse
// @Failure      401 {object} httputil.ErrorResponse "Unauthorized"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	identity, ok := account.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	if err := h.service.Logout(r.Context(), identity.AccountID); err != nil {
		logger.LogError("logout failed", err, "account_id", identity.AccountID)
		respondError(w, "failed to logout", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("account logged out", "account_id", identity.AccountID)
	httputil.RespondMessage(w, "logged out successfully", http.StatusOK)
}

// VerifyEmail handles email verification
// @Summary      Verify email
// @Description  Consume the verification token sent by email
// @Tags         auth
// @Produce      json
// @Param        token query string true "Verification token"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid or expired token"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/verify-email [get]
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	err := h.service.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired):
			respondError(w, "verification token has expired", httputil.CodeTokenExpired, http.StatusBadRequest)
		case errors.Is(err, ErrTokenInvalid):
			respondError(w, "invalid verification token", httputil.CodeInvalidToken, http.StatusBadRequest)
		default:
			logger.LogError("email verification failed: internal error", err)
			respondError(w, "failed to verify email", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	httputil.RespondMessage(w, "email verified successfully", http.StatusOK)
}

// ForgotPassword handles password reset requests
// @Summary      Request password reset
// @Description  Send a password reset link. The same answer is returned whether or not the email exists.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body EmailRequest true "Email address"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Email could not be sent"
// @Router       /auth/forgot-password [post]
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allow(w, r, ratelimit.PurposeForgotPassword) {
		return
	}

	var req EmailRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		switch {
		case isValidationError(err):
			respondError(w, err.Error(), httputil.CodeValidationFailed, http.StatusBadRequest)
		case errors.Is(err, ErrEmailDispatchFailed):
			logger.LogError("password reset email failed", err)
			respondError(w, "failed to send password reset email", httputil.CodeEmailDispatchFailed, http.StatusInternalServerError)
		default:
			logger.LogError("password reset request failed", err)
			respondError(w, "failed to process request", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	httputil.RespondMessage(w, "if the email is registered, a password reset link has been sent", http.StatusOK)
}

// ResetPassword handles password reset confirmation
// @Summary      Reset password
// @Description  Set a new password with the token from the reset email. Signs out the current session.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ResetPasswordRequest true "Reset token and new password"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid or expired token, or weak password"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/reset-password [post]
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allow(w, r, ratelimit.PurposeResetPassword) {
		return
	}

	var req ResetPasswordRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, ErrWeakPassword):
			respondError(w, err.Error(), httputil.CodeWeakPassword, http.StatusBadRequest)
		case errors.Is(err, ErrTokenExpired):
			respondError(w, "password reset token has expired", httputil.CodeTokenExpired, http.StatusBadRequest)
		case errors.Is(err, ErrTokenInvalid):
			respondError(w, "invalid password reset token", httputil.CodeInvalidToken, http.StatusBadRequest)
		default:
			logger.LogError("password reset failed: internal error", err)
			respondError(w, "failed to reset password", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	httputil.RespondMessage(w, "password has been reset, please log in again", http.StatusOK)
}

// ResendVerification sends a new verification email
// @Summary      Resend verification email
// @Description  Issue a new verification token when the previous one has expired
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body EmailRequest true "Email address"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Already verified or a verification is still pending"
// @Failure      404 {object} httputil.ErrorResponse "Account not found"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Email could not be sent"
// @Router       /auth/resend-verification [post]
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allow(w, r, ratelimit.PurposeResendVerification) {
		return
	}

	var req EmailRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		switch {
		case isValidationError(err):
			respondError(w, err.Error(), httputil.CodeValidationFailed, http.StatusBadRequest)
		case errors.Is(err, account.ErrNotFound):
			respondError(w, "account not found", httputil.CodeAccountNotFound, http.StatusNotFound)
		case errors.Is(err, ErrAlreadyVerified):
			respondError(w, err.Error(), httputil.CodeAlreadyVerified, http.StatusBadRequest)
		case errors.Is(err, ErrVerificationAlreadyPending):
			respondError(w, err.Error(), httputil.CodeVerificationPending, http.StatusBadRequest)
		case errors.Is(err, ErrEmailDispatchFailed):
			logger.LogError("verification email failed", err)
			respondError(w, "failed to send verification email", httputil.CodeEmailDispatchFailed, http.StatusInternalServerError)
		default:
			logger.LogError("resend verification failed: internal error", err)
			respondError(w, "failed to resend verification email", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	httputil.RespondMessage(w, "verification email sent", http.StatusOK)
}

// allow applies the per-IP rate limit for purpose. A Redis failure is logged
// and the request goes through.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, purpose string) bool {
	if h.rateLimiter == nil {
		return true
	}

	logger := logging.GetLoggerFromContext(r.Context())
	ip := httputil.ClientIP(r)

	exceeded, err := h.rateLimiter.CheckIPRateLimitWithPurpose(r.Context(), ip, purpose)
	if err != nil {
		logger.Error("failed to check IP rate limit", "purpose", purpose, "error", err.Error())
		return true
	}
	if exceeded {
		logger.Warn("IP rate limit exceeded", "purpose", purpose, "ip", ip)
		respondError(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return false
	}

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, purpose); err != nil {
		logger.Error("failed to record IP request", "purpose", purpose, "error", err.Error())
	}
	return true
}

func isValidationError(err error) bool {
	return errors.Is(err, ErrEmailRequired) ||
		errors.Is(err, ErrInvalidEmailFormat) ||
		errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrInvalidRole)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data any, statusCode int) {
	httputil.RespondJSON(w, data, statusCode)
}

// respondError sends an error response with a machine-readable code
func respondError(w http.ResponseWriter, message string, code string, statusCode int) {
	httputil.RespondErrorWithCode(w, message, code, statusCode)
}
