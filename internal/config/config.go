package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Session tokens
	TokenSigningKey string
	TokenTTL        time.Duration
	RefreshWindow   time.Duration

	// OTP
	OTPTTL           time.Duration
	OTPSweepInterval time.Duration
	OTPSweepGrace    time.Duration
	OTPResendGap     time.Duration

	// Login throttling
	LoginFailureLimit  int
	LoginFailureWindow time.Duration

	// Developer login bypass; never honored when Env == "production".
	DevLoginEnabled bool

	// Mail
	MailProvider      string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESFromName       string
	AWSRegion         string

	CORSAllowedOrigins []string
	CORSAllowedHeaders []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		TokenSigningKey: getEnv("TOKEN_SIGNING_KEY", ""),
		TokenTTL:        time.Duration(getEnvAsInt("TOKEN_TTL_SECONDS", 3600)) * time.Second,
		RefreshWindow:   time.Duration(getEnvAsInt("TOKEN_REFRESH_WINDOW_SECONDS", 900)) * time.Second,

		OTPTTL:           time.Duration(getEnvAsInt("OTP_TTL_SECONDS", 300)) * time.Second,
		OTPSweepInterval: getEnvAsDuration("OTP_SWEEP_INTERVAL", 5*time.Minute),
		OTPSweepGrace:    getEnvAsDuration("OTP_SWEEP_GRACE", 5*time.Minute),
		OTPResendGap:     getEnvAsDuration("OTP_RESEND_GAP", 60*time.Second),

		LoginFailureLimit:  getEnvAsInt("LOGIN_FAILURE_LIMIT", 10),
		LoginFailureWindow: getEnvAsDuration("LOGIN_FAILURE_WINDOW", 15*time.Minute),

		DevLoginEnabled: getEnvAsBool("DEV_LOGIN_ENABLED", false),

		MailProvider:      strings.ToLower(strings.TrimSpace(getEnv("MAIL_PROVIDER", "stub"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Careloop Clinic"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Careloop Clinic"),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),

		CORSAllowedOrigins: splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "")),
		CORSAllowedHeaders: splitAndTrim(getEnv("CORS_ALLOWED_HEADERS", "")),
	}
}

// Validate checks startup-critical settings. The signing key must be long
// enough for HMAC-SHA-256; a short key is a deploy mistake, not a warning.
func (c *Config) Validate() error {
	if len(c.TokenSigningKey) < 32 {
		return fmt.Errorf("config: TOKEN_SIGNING_KEY must be at least 32 bytes, got %d", len(c.TokenSigningKey))
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	return nil
}

// DevLoginAllowed reports whether the developer bypass flow may be mounted.
func (c *Config) DevLoginAllowed() bool {
	return c.DevLoginEnabled && c.Env != "production"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
