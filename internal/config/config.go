package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	TokenFormatPaseto = "paseto"
	TokenFormatJWT    = "jwt"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Email     EmailConfig
	Payment   PaymentConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port            string
	Env             string // dev or prod
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TrustedOrigins  []string // CORS allowed origins
}

type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	ChannelBinding string // "require" for Neon DB, empty for local
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type AuthConfig struct {
	// TokenFormat selects the token implementation: "paseto" (v4.local) or "jwt" (HS256)
	TokenFormat string

	// PASETO symmetric keys (must be 32 bytes each for v4.local)
	PasetoKey        []byte
	PasetoRefreshKey []byte

	JWTSecret        []byte
	JWTRefreshSecret []byte

	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	From         string
	FrontendURL  string // Frontend URL for verification links
}

type PaymentConfig struct {
	AppURL        string // public base URL used for back_urls and notification_url
	AccessToken   string
	BaseURL       string
	WebhookSecret string
	Sandbox       bool
	Currency      string
}

type RateLimitConfig struct {
	AuthLimit       int
	AuthWindow      time.Duration
	SensitiveLimit  int
	SensitiveWindow time.Duration
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	env := getEnv("APP_ENV", "dev")

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Env:             env,
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			TrustedOrigins:  getSliceEnv("TRUSTED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: databaseFromEnv(),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			TokenFormat:          strings.ToLower(getEnv("TOKEN_FORMAT", TokenFormatPaseto)),
			PasetoKey:            []byte(getEnv("PASETO_KEY", "")),
			PasetoRefreshKey:     []byte(getEnv("PASETO_REFRESH_KEY", "")),
			JWTSecret:            []byte(getEnv("JWT_SECRET", "")),
			JWTRefreshSecret:     []byte(getEnv("JWT_REFRESH_SECRET", "")),
			AccessTokenDuration:  getDurationEnv("ACCESS_TOKEN_DURATION", 15*time.Minute),
			RefreshTokenDuration: getDurationEnv("REFRESH_TOKEN_DURATION", 7*24*time.Hour),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUser:     getEnv("SMTP_USER", ""),
			SMTPPassword: getEnv("SMTP_PASS", ""),
			From:         getEnv("EMAIL_FROM", getEnv("SMTP_USER", "")),
			FrontendURL:  getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		Payment: PaymentConfig{
			AppURL:        strings.TrimRight(getEnv("APP_URL", "http://localhost:8080"), "/"),
			AccessToken:   getEnv("MP_ACCESS_TOKEN", ""),
			BaseURL:       strings.TrimRight(getEnv("MP_BASE_URL", "https://api.mercadopago.com"), "/"),
			WebhookSecret: getEnv("MP_WEBHOOK_SECRET", ""),
			Sandbox:       getBoolEnv("MP_SANDBOX", env != "prod"),
			Currency:      getEnv("PAYMENT_CURRENCY", "BRL"),
		},
		RateLimit: RateLimitConfig{
			AuthLimit:       getIntEnv("RATE_LIMIT_AUTH", 5),
			AuthWindow:      getDurationEnv("RATE_LIMIT_AUTH_WINDOW", 15*time.Minute),
			SensitiveLimit:  getIntEnv("RATE_LIMIT_SENSITIVE", 10),
			SensitiveWindow: getDurationEnv("RATE_LIMIT_SENSITIVE_WINDOW", time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabase reads only the database settings. Schema migrations use it so
// they can run without the token keys the API requires.
func LoadDatabase() (*DatabaseConfig, error) {
	_ = godotenv.Load()

	cfg := databaseFromEnv()
	if cfg.Host == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("DB_HOST and DB_NAME must be set")
	}
	return &cfg, nil
}

func databaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host:           getEnv("DB_HOST", "localhost"),
		Port:           getEnv("DB_PORT", "5432"),
		User:           getEnv("DB_USER", "postgres"),
		Password:       getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "lessons"),
		SSLMode:        getEnv("DB_SSLMODE", "disable"),
		ChannelBinding: getEnv("DB_CHANNEL_BINDING", ""),
	}
}

// Validate checks the settings that must be correct before serving traffic.
func (c *Config) Validate() error {
	switch c.Auth.TokenFormat {
	case TokenFormatPaseto:
		// Validate PASETO key lengths (must be 32 bytes for v4.local)
		if len(c.Auth.PasetoKey) != 32 {
			return fmt.Errorf("PASETO_KEY must be exactly 32 bytes, got %d", len(c.Auth.PasetoKey))
		}
		if len(c.Auth.PasetoRefreshKey) != 32 {
			return fmt.Errorf("PASETO_REFRESH_KEY must be exactly 32 bytes, got %d", len(c.Auth.PasetoRefreshKey))
		}
		if string(c.Auth.PasetoKey) == string(c.Auth.PasetoRefreshKey) {
			return fmt.Errorf("PASETO_KEY and PASETO_REFRESH_KEY must differ")
		}
	case TokenFormatJWT:
		if len(c.Auth.JWTSecret) < 32 || len(c.Auth.JWTRefreshSecret) < 32 {
			return fmt.Errorf("JWT_SECRET and JWT_REFRESH_SECRET must be at least 32 bytes")
		}
		if string(c.Auth.JWTSecret) == string(c.Auth.JWTRefreshSecret) {
			return fmt.Errorf("JWT_SECRET and JWT_REFRESH_SECRET must differ")
		}
	default:
		return fmt.Errorf("TOKEN_FORMAT must be %q or %q, got %q", TokenFormatPaseto, TokenFormatJWT, c.Auth.TokenFormat)
	}

	if c.Auth.AccessTokenDuration <= 0 || c.Auth.RefreshTokenDuration <= c.Auth.AccessTokenDuration {
		return fmt.Errorf("REFRESH_TOKEN_DURATION must exceed ACCESS_TOKEN_DURATION")
	}

	if !c.Server.IsDevelopment() && c.Payment.WebhookSecret == "" {
		return fmt.Errorf("MP_WEBHOOK_SECRET is required outside development")
	}

	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)

	// Add channel_binding if configured (required for Neon DB)
	if c.ChannelBinding != "" {
		connStr += fmt.Sprintf(" channel_binding=%s", c.ChannelBinding)
	}

	return connStr
}

// URL returns the connection settings as a postgres:// URL, the form golang-migrate expects.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   c.DBName,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	if c.ChannelBinding != "" {
		q.Set("channel_binding", c.ChannelBinding)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Address returns Redis connection address (host:port)
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if the environment is set to dev
func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "dev"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolValue
}

// getDurationEnv reads a whole number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	seconds, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return time.Duration(seconds) * time.Second
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Split by comma and trim whitespace
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}
