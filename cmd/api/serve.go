package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tutorhub/lessons-api/internal/account"
	"github.com/tutorhub/lessons-api/internal/auth"
	"github.com/tutorhub/lessons-api/internal/booking"
	"github.com/tutorhub/lessons-api/internal/catalog"
	"github.com/tutorhub/lessons-api/internal/config"
	"github.com/tutorhub/lessons-api/internal/database"
	"github.com/tutorhub/lessons-api/internal/email"
	httpServer "github.com/tutorhub/lessons-api/internal/http"
	"github.com/tutorhub/lessons-api/internal/ledger"
	"github.com/tutorhub/lessons-api/internal/logging"
	"github.com/tutorhub/lessons-api/internal/metrics"
	"github.com/tutorhub/lessons-api/internal/payment"
	"github.com/tutorhub/lessons-api/internal/ratelimit"
)

// NewServeCmd creates the serve subcommand
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	logger.Info("starting application",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"token_format", cfg.Auth.TokenFormat,
	)

	db, err := database.Open(ctx, cfg.Database.ConnectionString())
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer db.Close()

	redisClient, err := initRedis(ctx, cfg.Redis)
	if err != nil {
		return oops.Code("REDIS_CONNECT_FAILED").Wrap(err)
	}
	defer redisClient.Close()

	tokenService, err := newTokenService(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}

	emailService, err := email.NewService(email.Config{
		SMTPHost:     cfg.Email.SMTPHost,
		SMTPPort:     cfg.Email.SMTPPort,
		SMTPUser:     cfg.Email.SMTPUser,
		SMTPPassword: cfg.Email.SMTPPassword,
		From:         cfg.Email.From,
		APIURL:       cfg.Payment.AppURL,
		FrontendURL:  cfg.Email.FrontendURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize email service: %w", err)
	}

	m := metrics.New()

	accounts := account.NewRepository(db)
	packages := catalog.NewRepository(db)
	lessons := ledger.New(db, m)

	rateLimiter := ratelimit.NewLimiter(redisClient,
		ratelimit.DefaultPolicies(
			ratelimit.Policy{Limit: cfg.RateLimit.AuthLimit, Window: cfg.RateLimit.AuthWindow},
			ratelimit.Policy{Limit: cfg.RateLimit.SensitiveLimit, Window: cfg.RateLimit.SensitiveWindow},
		),
		ratelimit.Policy{Limit: cfg.RateLimit.AuthLimit, Window: cfg.RateLimit.AuthWindow},
	)

	authService := auth.NewService(
		accounts,
		tokenService,
		auth.NewArgon2Hasher(),
		emailService,
		m,
		logger,
		cfg.Auth.AccessTokenDuration,
		cfg.Auth.RefreshTokenDuration,
	)

	reconciler := payment.NewReconciler(
		packages,
		accounts,
		payment.NewMercadoPagoClient(cfg.Payment.BaseURL, cfg.Payment.AccessToken, &http.Client{Timeout: 10 * time.Second}),
		payment.NewRepository(db, lessons),
		payment.Settings{
			AppURL:   cfg.Payment.AppURL,
			Currency: cfg.Payment.Currency,
			Sandbox:  cfg.Payment.Sandbox,
		},
		m,
		logger,
	)
	if cfg.Payment.WebhookSecret == "" {
		logger.Warn("MP_WEBHOOK_SECRET is not set: webhook signatures are not verified")
	}

	bookings := booking.NewService(accounts, lessons, booking.NewRepository(db), m, logger)

	router := httpServer.NewRouter(cfg, httpServer.Handlers{
		Auth:           auth.NewHandler(authService, rateLimiter),
		AuthMiddleware: auth.NewMiddleware(authService),
		Accounts:       account.NewHandler(accounts, lessons),
		Catalog:        catalog.NewHandler(packages),
		Payment:        payment.NewHandler(reconciler, cfg.Payment.WebhookSecret, rateLimiter),
		Booking:        booking.NewHandler(bookings),
		Metrics:        m.Handler(),
		Database:       db,
	}, logger)

	server := httpServer.NewServer(
		":"+cfg.Server.Port,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		logger,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("received signal", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

func newTokenService(cfg config.AuthConfig) (auth.TokenService, error) {
	switch cfg.TokenFormat {
	case config.TokenFormatJWT:
		return auth.NewJWTService(cfg.JWTSecret, cfg.JWTRefreshSecret, "lessons-api")
	default:
		return auth.NewPasetoService(cfg.PasetoKey, cfg.PasetoRefreshKey)
	}
}

// initRedis connects to Redis and verifies the connection
func initRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}
