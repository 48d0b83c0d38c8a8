package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// MinSecretLength is the shortest accepted JWT signing secret.
const MinSecretLength = 32

type Config struct {
	DatabaseURL string // sqlite path or file: DSN, or postgres:// URL (default: auth.db)
	RedisURL    string // Required: redis:// URL for blacklist, rate limits and locks
	CachePrefix string // Optional: key namespace in the cache (default: auth:)

	AccessSecret  string        // Required: HS256 secret for access tokens, >= 32 chars
	RefreshSecret string        // Required: HS256 secret for refresh tokens, >= 32 chars, differs from AccessSecret
	AccessTTL     time.Duration // Access token lifetime (default: 15m)
	RefreshTTL    time.Duration // Refresh token lifetime (default: 7d)
	Issuer        string        // iss claim (default: fintab-auth)
	Audience      []string      // aud claim (default: fintab)

	BcryptCost      int    // Password hash cost factor (default: 12)
	MFASecretLength int    // TOTP secret size in bytes (default: 20)
	MFAIssuer       string // Issuer shown in authenticator apps (default: FinTab)

	CORSOrigins     []string      // Allowed cross-origin callers (default: none)
	RateLimitWindow time.Duration // Credential endpoint window per IP (default: 15m)
	RateLimitMax    int           // Credential endpoint requests per window (default: 100)
	RequestTimeout  time.Duration // Per-request deadline (default: 10s)

	OTLPEndpoint string // Optional: OTLP/HTTP trace collector

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	return Config{
		DatabaseURL: getEnvOrDefault("DATABASE_URL", "auth.db"),
		RedisURL:    os.Getenv("REDIS_URL"),
		CachePrefix: getEnvOrDefault("CACHE_PREFIX", "auth:"),

		AccessSecret:  os.Getenv("JWT_ACCESS_SECRET"),
		RefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
		AccessTTL:     getEnvDurationOrDefault("JWT_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:    getEnvDurationOrDefault("JWT_REFRESH_TTL", 7*24*time.Hour),
		Issuer:        getEnvOrDefault("AUTH_ISSUER", "fintab-auth"),
		Audience:      getEnvListOrDefault("AUTH_AUDIENCE", []string{"fintab"}),

		BcryptCost:      getEnvIntOrDefault("BCRYPT_COST", 12),
		MFASecretLength: getEnvIntOrDefault("MFA_SECRET_LENGTH", 20),
		MFAIssuer:       getEnvOrDefault("MFA_ISSUER", "FinTab"),

		CORSOrigins:     getEnvListOrDefault("CORS_ALLOWED_ORIGINS", nil),
		RateLimitWindow: getEnvDurationOrDefault("RATE_LIMIT_WINDOW", 15*time.Minute),
		RateLimitMax:    getEnvIntOrDefault("RATE_LIMIT_MAX_REQUESTS", 100),
		RequestTimeout:  getEnvDurationOrDefault("REQUEST_TIMEOUT", 10*time.Second),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}
}

// Validate reports every problem at once so a misconfigured deploy fails
// with the full list.
func (c Config) Validate() error {
	var errs []error

	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if len(c.AccessSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("JWT_ACCESS_SECRET must be at least %d characters", MinSecretLength))
	}
	if len(c.RefreshSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("JWT_REFRESH_SECRET must be at least %d characters", MinSecretLength))
	}
	if c.AccessSecret != "" && c.AccessSecret == c.RefreshSecret {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.MFASecretLength < 10 {
		errs = append(errs, errors.New("MFA_SECRET_LENGTH must be at least 10 bytes"))
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW and RATE_LIMIT_MAX_REQUESTS must be positive"))
	}

	return errors.Join(errs...)
}

// IsPostgres reports whether DatabaseURL selects the postgres driver.
func (c Config) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}

// getEnvListOrDefault splits a comma separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for part := range strings.SplitSeq(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
