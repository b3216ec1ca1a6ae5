// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Run incomplete policies.
const (
	IncompletePolicyEmpty = "empty"
	IncompletePolicyError = "error"
)

// Config holds all application configuration.
type Config struct {
	Port        string `validate:"required,numeric"`
	Env         string `validate:"oneof=development production test"`
	FrontendURL string `validate:"omitempty,url"`
	CORSOrigins []string

	// TrustProxy takes the client address from X-Forwarded-For and X-Real-IP.
	TrustProxy bool

	// SessionKeyHex is the 32-byte cookie cipher key. Empty means a random key per process.
	SessionKeyHex string        `validate:"omitempty,hexadecimal,len=64"`
	CookieTTL     time.Duration `validate:"gt=0"`

	// MaxRequestBodySize caps JSON request bodies in bytes.
	MaxRequestBodySize int64 `validate:"gt=0"`

	// GRPCHealthPort enables the gRPC health service when non-empty.
	GRPCHealthPort string `validate:"omitempty,numeric"`

	OpenAI     OpenAIConfig
	Run        RunConfig
	Moderation ModerationConfig
	RateLimit  RateLimitConfig
	Audit      AuditConfig
	Log        LogConfig
}

// OpenAIConfig identifies the remote assistant.
type OpenAIConfig struct {
	APIKey         string        `validate:"required"`
	OrganizationID string
	ProjectID      string
	AssistantID    string        `validate:"required"`
	BaseURL        string        `validate:"omitempty,url"`
	RequestTimeout time.Duration `validate:"gt=0"`
}

// RunConfig bounds the run polling loop.
type RunConfig struct {
	PollInterval     time.Duration `validate:"gt=0"`
	MaxPollInterval  time.Duration `validate:"gt=0"`
	Timeout          time.Duration `validate:"gt=0"`
	IncompletePolicy string        `validate:"oneof=empty error"`
	SerializeThreads bool
}

// ModerationConfig controls the content moderation gate.
type ModerationConfig struct {
	Enabled bool
	Model   string

	// PolicyPath points at a rego module defining data.moderation.decision. Empty uses the built-in policy.
	PolicyPath string
}

// RateLimitConfig controls per-client request throttling on /api.
type RateLimitConfig struct {
	Amount int           `validate:"gt=0"`
	Window time.Duration `validate:"gt=0"`
}

// AuditConfig controls the write-only audit document store.
type AuditConfig struct {
	Enabled   bool
	DBPath    string
	QueueSize int `validate:"gt=0"`
}

// LogConfig controls log sinks.
type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
	Dir   string
}

var validate = validator.New()

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	frontendURL := strings.TrimSpace(getEnv("FRONTEND_URL", ""))
	corsDefault := []string{"*"}
	if frontendURL != "" {
		corsDefault = []string{frontendURL}
	}

	cfg := &Config{
		Port:               getEnv("PORT", "3000"),
		Env:                strings.ToLower(getEnv("APP_ENV", getEnv("NODE_ENV", "development"))),
		FrontendURL:        frontendURL,
		CORSOrigins:        getEnvList("CORS_ORIGINS", corsDefault),
		TrustProxy:         getEnvBool("TRUST_PROXY", false),
		SessionKeyHex:      strings.TrimSpace(getEnv("SESSION_KEY", "")),
		CookieTTL:          getEnvDuration("COOKIE_TTL", 30*time.Minute),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		GRPCHealthPort:     getEnv("GRPC_HEALTH_PORT", ""),
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPEN_AI_PROJECT_SECRET", getEnv("OPENAI_API_KEY", "")),
			OrganizationID: getEnv("OPEN_AI_ORGANIZATION_ID", ""),
			ProjectID:      getEnv("OPEN_AI_PROJECT_ID", ""),
			AssistantID:    getEnv("OPEN_AI_ASSISTANT_ID", ""),
			BaseURL:        getEnv("OPEN_AI_BASE_URL", ""),
			RequestTimeout: getEnvMillis("OPEN_AI_REQUEST_TIMEOUT_MS", 30*time.Second),
		},
		Run: RunConfig{
			PollInterval:     getEnvMillis("RUN_POLL_INTERVAL_MS", 500*time.Millisecond),
			MaxPollInterval:  getEnvMillis("RUN_POLL_MAX_INTERVAL_MS", 3*time.Second),
			Timeout:          getEnvMillis("RUN_TIMEOUT_MS", 90*time.Second),
			IncompletePolicy: strings.ToLower(getEnv("RUN_INCOMPLETE_POLICY", IncompletePolicyEmpty)),
			SerializeThreads: getEnvBool("SERIALIZE_THREAD_RUNS", true),
		},
		Moderation: ModerationConfig{
			Enabled:    getEnvBool("MODERATION_ENABLED", true),
			Model:      getEnv("MODERATION_MODEL", "omni-moderation-latest"),
			PolicyPath: getEnv("MODERATION_POLICY_PATH", ""),
		},
		RateLimit: RateLimitConfig{
			Amount: getEnvInt("RATE_LIMIT_AMOUNT", 20),
			Window: getEnvMillis("RATE_LIMIT_WINDOW_MS", 5*time.Minute),
		},
		Audit: AuditConfig{
			Enabled:   getEnvBool("AUDIT_ENABLED", true),
			DBPath:    getEnv("DB_PATH", "./data/audit.db"),
			QueueSize: getEnvInt("AUDIT_QUEUE_SIZE", 1000),
		},
		Log: LogConfig{
			Level: strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Dir:   getEnv("LOG_DIR", "./logs"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Run.MaxPollInterval < c.Run.PollInterval {
		return fmt.Errorf("RUN_POLL_MAX_INTERVAL_MS must be >= RUN_POLL_INTERVAL_MS")
	}
	if c.Run.Timeout < c.Run.PollInterval {
		return fmt.Errorf("RUN_TIMEOUT_MS must be >= RUN_POLL_INTERVAL_MS")
	}
	if c.Audit.Enabled && c.Audit.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty when auditing is enabled")
	}
	return nil
}

// IsProduction reports whether error details must be hidden from clients.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvMillis reads an integer number of milliseconds, matching the *_MS variables.
func getEnvMillis(key string, fallback time.Duration) time.Duration {
	n := getEnvInt(key, -1)
	if n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
