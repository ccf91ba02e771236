package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutorhub/lessons-api/internal/account"
	"github.com/tutorhub/lessons-api/internal/catalog"
	"github.com/tutorhub/lessons-api/internal/httputil"
	"github.com/tutorhub/lessons-api/internal/logging"
	"github.com/tutorhub/lessons-api/internal/ratelimit"
)

const maxWebhookBodyBytes = 64 << 10

// RateLimiter counts requests per client IP and purpose
type RateLimiter interface {
	CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error)
	RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error
}

// Handler contains HTTP handlers for checkout, webhook and status endpoints
type Handler struct {
	reconciler    *Reconciler
	webhookSecret string
	rateLimiter   RateLimiter
}

// NewHandler builds the payment handlers. An empty webhookSecret disables
// signature verification, which is only accepted in development.
func NewHandler(reconciler *Reconciler, webhookSecret string, rateLimiter RateLimiter) *Handler {
	return &Handler{
		reconciler:    reconciler,
		webhookSecret: webhookSecret,
		rateLimiter:   rateLimiter,
	}
}

// CheckoutRequest is the body of create-checkout-session
type CheckoutRequest struct {
	PackageID int64 `json:"packageId"`
}

// WebhookNotification is the body Mercado Pago posts to the notification URL
type WebhookNotification struct {
	ID     FlexibleID `json:"id"`
	Type   string     `json:"type"`
	Action string     `json:"action"`
	Data   struct {
		ID FlexibleID `json:"id"`
	} `json:"data"`
}

// WebhookAck acknowledges a notification
type WebhookAck struct {
	Received bool `json:"received"`
}

// CreateCheckoutSession opens a hosted checkout for a package
// @Summary      Create checkout session
// @Description  Create a Mercado Pago preference for a lesson package and return its checkout URL
// @Tags         payment
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body CheckoutRequest true "Package to buy"
// @Success      200 {object} Checkout
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      401 {object} httputil.ErrorResponse "Unauthorized"
// @Failure      404 {object} httputil.ErrorResponse "Package not found"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      502 {object} httputil.ErrorResponse "Payment gateway error"
// @Router       /payment/create-checkout-session [post]
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	identity, ok := account.IdentityFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	if !h.allow(w, r) {
		return
	}

	var req CheckoutRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}
	if req.PackageID <= 0 {
		httputil.RespondErrorWithCode(w, "packageId is required", httputil.CodeValidationFailed, http.StatusBadRequest)
		return
	}

	checkout, err := h.reconciler.CreateCheckout(r.Context(), identity.AccountID, req.PackageID)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrPackageNotFound):
			httputil.RespondErrorWithCode(w, "package not found", httputil.CodePackageNotFound, http.StatusNotFound)
		case errors.Is(err, account.ErrNotFound):
			httputil.RespondErrorWithCode(w, "account not found", httputil.CodeAccountNotFound, http.StatusNotFound)
		case errors.Is(err, ErrGateway):
			logger.LogError("checkout failed: gateway error", err, "account_id", identity.AccountID)
			httputil.RespondErrorWithCode(w, "payment provider is unavailable", httputil.CodePaymentGatewayError, http.StatusBadGateway)
		default:
			logger.LogError("checkout failed: internal error", err, "account_id", identity.AccountID)
			httputil.RespondErrorWithCode(w, "failed to create checkout", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	httputil.RespondJSON(w, checkout, http.StatusOK)
}

// Webhook receives Mercado Pago payment notifications
// @Summary      Payment webhook
// @Description  Notification endpoint called by Mercado Pago. Redeliveries of an applied payment are no-ops.
// @Tags         payment
// @Accept       json
// @Produce      json
// @Param        x-signature header string false "Mercado Pago signature"
// @Param        x-request-id header string false "Mercado Pago request id"
// @Param        request body WebhookNotification true "Notification"
// @Success      200 {object} WebhookAck
// @Failure      400 {object} httputil.ErrorResponse "Unparseable notification"
// @Failure      401 {object} httputil.ErrorResponse "Invalid signature"
// @Failure      500 {object} httputil.ErrorResponse "Notification could not be applied"
// @Router       /payment/webhook [post]
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	var notification WebhookNotification
	if len(body) > 0 {
		if err := json.Unmarshal(body, &notification); err != nil {
			httputil.RespondErrorWithCode(w, "invalid notification", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
			return
		}
	}

	// The query string carries the same fields and is what gets signed.
	query := r.URL.Query()
	dataID := query.Get("data.id")
	if dataID == "" {
		dataID = notification.Data.ID.String()
	}
	notificationType := query.Get("type")
	if notificationType == "" {
		notificationType = notification.Type
	}
	if dataID == "" || notificationType == "" {
		httputil.RespondErrorWithCode(w, "notification has no type or data id", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if h.webhookSecret != "" {
		err := VerifySignature(h.webhookSecret, r.Header.Get("x-signature"), r.Header.Get("x-request-id"), dataID)
		if err != nil {
			logger.Warn("webhook rejected: invalid signature", "data_id", dataID)
			h.reconciler.RecordRejectedNotification()
			httputil.RespondErrorWithCode(w, "invalid signature", httputil.CodeInvalidSignature, http.StatusUnauthorized)
			return
		}
	}

	outcome, err := h.reconciler.HandleNotification(r.Context(), notificationType, dataID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidMetadata), errors.Is(err, ErrPaymentNotFound):
			// Redelivery cannot fix these, so the notification is acknowledged.
			logger.Warn("webhook acknowledged without effect", "data_id", dataID, "error", err.Error())
		default:
			logger.LogError("webhook failed", err, "data_id", dataID)
			httputil.RespondErrorWithCode(w, "failed to process notification", httputil.CodeInternalError, http.StatusInternalServerError)
			return
		}
	} else {
		logger.Info("webhook processed", "data_id", dataID, "type", notificationType, "outcome", outcome)
	}

	httputil.RespondJSON(w, WebhookAck{Received: true}, http.StatusOK)
}

// PaymentStatus reports the gateway status of one of the caller's payments
// @Summary      Payment status
// @Description  Read-through to Mercado Pago for a payment created by the caller
// @Tags         payment
// @Produce      json
// @Security     BearerAuth
// @Param        paymentId path string true "Mercado Pago payment id"
// @Success      200 {object} Status
// @Failure      401 {object} httputil.ErrorResponse "Unauthorized"
// @Failure      404 {object} httputil.ErrorResponse "Payment not found"
// @Failure      502 {object} httputil.ErrorResponse "Payment gateway error"
// @Router       /payment/status/{paymentId} [get]
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	identity, ok := account.IdentityFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	paymentID := chi.URLParam(r, "paymentId")
	if paymentID == "" {
		httputil.RespondErrorWithCode(w, "payment not found", httputil.CodePaymentNotFound, http.StatusNotFound)
		return
	}

	status, err := h.reconciler.CheckStatus(r.Context(), identity.AccountID, paymentID)
	if err != nil {
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			httputil.RespondErrorWithCode(w, "payment not found", httputil.CodePaymentNotFound, http.StatusNotFound)
		case errors.Is(err, ErrGateway):
			logger.LogError("payment status failed: gateway error", err, "payment_id", paymentID)
			httputil.RespondErrorWithCode(w, "payment provider is unavailable", httputil.CodePaymentGatewayError, http.StatusBadGateway)
		default:
			logger.LogError("payment status failed: internal error", err, "payment_id", paymentID)
			httputil.RespondErrorWithCode(w, "failed to check payment status", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	httputil.RespondJSON(w, status, http.StatusOK)
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.rateLimiter == nil {
		return true
	}

	logger := logging.GetLoggerFromContext(r.Context())
	ip := httputil.ClientIP(r)

	exceeded, err := h.rateLimiter.CheckIPRateLimitWithPurpose(r.Context(), ip, ratelimit.PurposeCheckout)
	if err != nil {
		logger.Error("failed to check IP rate limit", "purpose", ratelimit.PurposeCheckout, "error", err.Error())
	}
	if exceeded {
		httputil.RespondErrorWithCode(w, "too many checkout attempts, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return false
	}

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, ratelimit.PurposeCheckout); err != nil {
		logger.Error("failed to record IP request", "purpose", ratelimit.PurposeCheckout, "error", err.Error())
	}
	return true
}
