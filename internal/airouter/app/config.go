package app

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/fintab/internal/airouter/provider"
)

type Config struct {
	OpenAIKey     string // Required: primary provider API key
	OpenAIBaseURL string // Primary API base (default: https://api.openai.com/v1)
	OpenAIModel   string // Primary model (default: gpt-4o-mini)

	PerplexityKey     string // Optional: secondary provider API key, fallback is disabled without it
	PerplexityBaseURL string // Secondary API base (default: https://api.perplexity.ai)
	PerplexityModel   string // Secondary model (default: sonar)

	PrimaryTimeout   time.Duration // Primary call deadline (default: 15s)
	SecondaryTimeout time.Duration // Secondary stream deadline (default: 60s)
	PrimaryMaxTokens int           // Primary completion cap (default: 800)
	ContextWindow    int           // Trailing messages sent to the primary (default: 5)
	FallbackPattern  string        // Optional: regex overriding the no real-time data signature

	CORSOrigins  []string // Allowed cross-origin callers (default: none)
	OTLPEndpoint string   // Optional: OTLP/HTTP trace collector

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8081)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	return Config{
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),

		PerplexityKey:     os.Getenv("PERPLEXITY_API_KEY"),
		PerplexityBaseURL: getEnvOrDefault("PERPLEXITY_BASE_URL", "https://api.perplexity.ai"),
		PerplexityModel:   getEnvOrDefault("PERPLEXITY_MODEL", "sonar"),

		PrimaryTimeout:   getEnvDurationOrDefault("PRIMARY_TIMEOUT", 15*time.Second),
		SecondaryTimeout: getEnvDurationOrDefault("SECONDARY_TIMEOUT", 60*time.Second),
		PrimaryMaxTokens: getEnvIntOrDefault("PRIMARY_MAX_TOKENS", 800),
		ContextWindow:    getEnvIntOrDefault("CONTEXT_WINDOW_MESSAGES", 5),
		FallbackPattern:  os.Getenv("FALLBACK_PATTERN"),

		CORSOrigins:  getEnvListOrDefault("CORS_ALLOWED_ORIGINS", nil),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8081),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.OpenAIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.PrimaryTimeout <= 0 || c.SecondaryTimeout <= 0 {
		errs = append(errs, errors.New("PRIMARY_TIMEOUT and SECONDARY_TIMEOUT must be positive"))
	}
	if c.PrimaryMaxTokens <= 0 {
		errs = append(errs, errors.New("PRIMARY_MAX_TOKENS must be positive"))
	}
	if c.ContextWindow <= 0 {
		errs = append(errs, errors.New("CONTEXT_WINDOW_MESSAGES must be positive"))
	}
	if c.FallbackPattern != "" {
		if _, err := regexp.Compile(c.FallbackPattern); err != nil {
			errs = append(errs, fmt.Errorf("FALLBACK_PATTERN: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (c Config) Primary() provider.Config {
	return provider.Config{
		BaseURL: c.OpenAIBaseURL,
		APIKey:  c.OpenAIKey,
		Model:   c.OpenAIModel,
		Timeout: c.PrimaryTimeout,
	}
}

func (c Config) Secondary() provider.Config {
	return provider.Config{
		BaseURL: c.PerplexityBaseURL,
		APIKey:  c.PerplexityKey,
		Model:   c.PerplexityModel,
		Timeout: c.SecondaryTimeout,
	}
}

// HasSecondary reports whether fallback to the secondary provider is enabled.
func (c Config) HasSecondary() bool {
	return c.Secondary().Configured()
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

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds here, upstream deadlines are short
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}

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
