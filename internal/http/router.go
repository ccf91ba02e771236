package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/tutorhub/lessons-api/internal/account"
	"github.com/tutorhub/lessons-api/internal/auth"
	"github.com/tutorhub/lessons-api/internal/booking"
	"github.com/tutorhub/lessons-api/internal/catalog"
	"github.com/tutorhub/lessons-api/internal/config"
	"github.com/tutorhub/lessons-api/internal/httputil"
	"github.com/tutorhub/lessons-api/internal/logging"
	"github.com/tutorhub/lessons-api/internal/payment"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handlers groups everything the router mounts
type Handlers struct {
	Auth           *auth.Handler
	AuthMiddleware *auth.Middleware
	Accounts       *account.Handler
	Catalog        *catalog.Handler
	Payment        *payment.Handler
	Booking        *booking.Handler
	Metrics        http.Handler
	Database       Pinger
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, h Handlers, logger *logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	// CORS - must be first
	if len(cfg.Server.TrustedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.TrustedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: false,
			MaxAge:           300, // 5 minutes
		}))
	}

	r.Use(SecurityHeaders)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Compress(5))

	r.Get("/health", handleHealth(h.Database))
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	// Swagger UI - only in development
	if cfg.Server.IsDevelopment() {
		logger.Info("swagger UI enabled at /swagger/*")
		r.Get("/swagger/*", httpSwagger.WrapHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Auth.Register)
		r.Post("/login", h.Auth.Login)
		r.Post("/refresh-token", h.Auth.Refresh)
		r.Get("/verify-email", h.Auth.VerifyEmail)
		r.Post("/forgot-password", h.Auth.ForgotPassword)
		r.Post("/reset-password", h.Auth.ResetPassword)
		r.Post("/resend-verification", h.Auth.ResendVerification)
		r.With(h.AuthMiddleware.RequireAuth).Post("/logout", h.Auth.Logout)
	})

	r.Get("/packages", h.Catalog.List)

	// Signed by the gateway, not by our tokens.
	r.Post("/payment/webhook", h.Payment.Webhook)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware.RequireAuth)

		r.Route("/users", func(r chi.Router) {
			r.Get("/profile", h.Accounts.Profile)
			r.Get("/balance", h.Accounts.Balance)
			r.Get("/teachers", h.Accounts.Teachers)
		})

		r.Post("/payment/create-checkout-session", h.Payment.CreateCheckoutSession)
		r.Get("/payment/status/{paymentId}", h.Payment.PaymentStatus)

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.Booking.Create)
			r.Get("/", h.Booking.List)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.RespondErrorWithCode(w, "route not found", httputil.CodeNotFound, http.StatusNotFound)
	})

	return r
}

// HealthResponse is the health check answer
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// handleHealth reports liveness and database reachability
// @Summary      Health check
// @Description  Check if the API and its database are reachable
// @Tags         health
// @Produce      json
// @Success      200 {object} HealthResponse
// @Failure      503 {object} HealthResponse
// @Router       /health [get]
func handleHealth(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			httputil.RespondJSON(w, HealthResponse{Status: "ok", Database: "unknown"}, http.StatusOK)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			logging.GetLoggerFromContext(r.Context()).Error("health check: database unreachable", "error", err.Error())
			httputil.RespondJSON(w, HealthResponse{Status: "degraded", Database: "unreachable"}, http.StatusServiceUnavailable)
			return
		}

		httputil.RespondJSON(w, HealthResponse{Status: "ok", Database: "ok"}, http.StatusOK)
	}
}
