package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Pipeline   PipelineConfig
	Geocoding  GeocodingConfig
	LLM        LLMConfig
	Traffic    TrafficConfig
	Dedup      DedupConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig
	Resilience ResilienceConfig
	Telemetry  TelemetryConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	LogLevel     string
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  string // Comma-separated list of allowed origins
	MaxBodyBytes int64
}

// PipelineConfig bounds a single dispatch turn
type PipelineConfig struct {
	RequestDeadlineMS int
	// ProvidersRequired lists providers whose credentials must be present
	// at startup (comma-separated: geocoding, llm, traffic). Anything not
	// listed degrades to its fallback when the key is absent.
	ProvidersRequired []string
}

// RequestDeadline returns the per-turn processing budget
func (c PipelineConfig) RequestDeadline() time.Duration {
	return time.Duration(c.RequestDeadlineMS) * time.Millisecond
}

// GeocodingConfig holds the geocoding provider configuration
type GeocodingConfig struct {
	APIKey    string
	TimeoutMS int
}

// Enabled reports whether the live geocoder can be used
func (c GeocodingConfig) Enabled() bool { return c.APIKey != "" }

// Timeout returns the per-call geocoding deadline
func (c GeocodingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// LLMConfig holds the language-model provider configuration
type LLMConfig struct {
	Provider    string // "openai" (any OpenAI-compatible host) or "gemini"
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	TimeoutMS   int
}

// Enabled reports whether the LLM extractor can be used
func (c LLMConfig) Enabled() bool { return c.APIKey != "" }

// Timeout returns the per-call LLM deadline
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// TrafficConfig holds the live traffic provider configuration
type TrafficConfig struct {
	APIKey    string
	TimeoutMS int
}

// Enabled reports whether live traffic lookups can be used
func (c TrafficConfig) Enabled() bool { return c.APIKey != "" }

// Timeout returns the per-call traffic deadline
func (c TrafficConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// DedupConfig holds turn-deduplication settings
type DedupConfig struct {
	Backend     string // "memory" or "redis"
	Capacity    int
	TTLHours    int
	RedisPrefix string
}

// TTL returns the replay window duration
func (c DedupConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled     bool
	PerMinute   int
	Burst       int
	RedisPrefix string
}

// Window returns the rate limit window duration
func (c RateLimitConfig) Window() time.Duration { return time.Minute }

// ResilienceConfig groups runtime resilience controls
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// CircuitBreakerConfig captures default and per-provider breaker tuning
type CircuitBreakerConfig struct {
	// OpenAfter is the count of consecutive failures that opens a breaker.
	OpenAfter int
	// ResetMS is how long an open breaker waits before a half-open probe.
	ResetMS int
	// IntervalSeconds is the closed-state window after which counters reset.
	IntervalSeconds   int
	SuccessThreshold  int
	ProviderOverrides map[string]CircuitBreakerSettings
}

// CircuitBreakerSettings overrides defaults for a specific upstream provider
type CircuitBreakerSettings struct {
	OpenAfter        int `json:"open_after"`
	ResetMS          int `json:"reset_ms"`
	IntervalSeconds  int `json:"interval_seconds"`
	SuccessThreshold int `json:"success_threshold"`
}

// TelemetryConfig holds optional observability sinks
type TelemetryConfig struct {
	SentryDSN    string
	OTelEnabled  bool
	OTelEndpoint string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			LogLevel:     getEnv("LOG_LEVEL", "info"),
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT_SECONDS", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT_SECONDS", 15),
			CORSOrigins:  getEnv("CORS_ORIGINS", "*"),
			MaxBodyBytes: int64(getEnvAsInt("MAX_BODY_BYTES", 64<<10)),
		},
		Pipeline: PipelineConfig{
			RequestDeadlineMS: getEnvAsInt("REQUEST_DEADLINE_MS", 2000),
			ProvidersRequired: getEnvAsSlice("PROVIDERS_REQUIRED"),
		},
		Geocoding: GeocodingConfig{
			APIKey:    getEnv("GEOCODING_KEY", ""),
			TimeoutMS: getEnvAsInt("GEOCODE_TIMEOUT_MS", 1500),
		},
		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", "openai"),
			APIKey:      getEnv("LLM_KEY", ""),
			BaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			Model:       getEnv("LLM_MODEL", ""),
			MaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 512),
			Temperature: getEnvAsFloat("LLM_TEMPERATURE", 0.1),
			TimeoutMS:   getEnvAsInt("LLM_TIMEOUT_MS", 8000),
		},
		Traffic: TrafficConfig{
			APIKey:    getEnv("TRAFFIC_KEY", ""),
			TimeoutMS: getEnvAsInt("TRAFFIC_TIMEOUT_MS", 1000),
		},
		Dedup: DedupConfig{
			Backend:     getEnv("DEDUP_BACKEND", "memory"),
			Capacity:    getEnvAsInt("DEDUP_CAPACITY", 50000),
			TTLHours:    getEnvAsInt("DEDUP_TTL_HOURS", 24),
			RedisPrefix: getEnv("DEDUP_REDIS_PREFIX", "dedup"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getEnvAsBool("RATE_LIMIT_ENABLED", false),
			PerMinute:   getEnvAsInt("RATE_LIMIT_RPM", 30),
			Burst:       getEnvAsInt("RATE_LIMIT_BURST", 10),
			RedisPrefix: getEnv("RATE_LIMIT_REDIS_PREFIX", "rate-limit"),
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				OpenAfter:        getEnvAsInt("CIRCUIT_OPEN_AFTER", 5),
				ResetMS:          getEnvAsInt("CIRCUIT_RESET_MS", 30000),
				IntervalSeconds:  getEnvAsInt("CIRCUIT_INTERVAL_SECONDS", 60),
				SuccessThreshold: getEnvAsInt("CIRCUIT_SUCCESS_THRESHOLD", 1),
			},
		},
		Telemetry: TelemetryConfig{
			SentryDSN:    getEnv("SENTRY_DSN", ""),
			OTelEnabled:  getEnvAsBool("OTEL_ENABLED", false),
			OTelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		},
	}

	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "gemini":
			cfg.LLM.Model = "gemini-1.5-flash"
		default:
			cfg.LLM.Model = "gpt-4o-mini"
		}
	}

	if overrides := getEnv("CIRCUIT_PROVIDER_OVERRIDES", ""); overrides != "" {
		var providerConfig map[string]CircuitBreakerSettings
		if err := json.Unmarshal([]byte(overrides), &providerConfig); err != nil {
			return nil, &InvalidError{Setting: "CIRCUIT_PROVIDER_OVERRIDES", Reason: err.Error()}
		}
		cfg.Resilience.CircuitBreaker.ProviderOverrides = providerConfig
	}

	return cfg, nil
}

// InvalidError reports a malformed or out-of-range setting.
type InvalidError struct {
	Setting string
	Reason  string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Setting, e.Reason)
}

// MissingCredentialError reports a provider named in PROVIDERS_REQUIRED
// whose API key is absent.
type MissingCredentialError struct {
	Provider string
	Variable string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("provider %s is required but %s is not set", e.Provider, e.Variable)
}

// Validate checks settings that cannot be defaulted away. InvalidError and
// MissingCredentialError let the caller pick distinct exit codes.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return &InvalidError{Setting: "PORT", Reason: fmt.Sprintf("%q is not a valid port", c.Server.Port)}
	}

	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &InvalidError{Setting: "LOG_LEVEL", Reason: fmt.Sprintf("unknown level %q", c.Server.LogLevel)}
	}

	if c.Pipeline.RequestDeadlineMS < 100 || c.Pipeline.RequestDeadlineMS > 60000 {
		return &InvalidError{Setting: "REQUEST_DEADLINE_MS", Reason: "must be between 100 and 60000"}
	}

	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return &InvalidError{Setting: "LLM_PROVIDER", Reason: fmt.Sprintf("unknown provider %q", c.LLM.Provider)}
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return &InvalidError{Setting: "LLM_TEMPERATURE", Reason: "must be between 0 and 2"}
	}

	if c.LLM.MaxTokens <= 0 {
		return &InvalidError{Setting: "LLM_MAX_TOKENS", Reason: "must be positive"}
	}

	switch c.Dedup.Backend {
	case "memory", "redis":
	default:
		return &InvalidError{Setting: "DEDUP_BACKEND", Reason: fmt.Sprintf("unknown backend %q", c.Dedup.Backend)}
	}

	if c.Dedup.Capacity <= 0 {
		return &InvalidError{Setting: "DEDUP_CAPACITY", Reason: "must be positive"}
	}

	if c.Dedup.TTLHours <= 0 {
		return &InvalidError{Setting: "DEDUP_TTL_HOURS", Reason: "must be positive"}
	}

	if c.Resilience.CircuitBreaker.OpenAfter <= 0 {
		return &InvalidError{Setting: "CIRCUIT_OPEN_AFTER", Reason: "must be positive"}
	}

	if c.Resilience.CircuitBreaker.ResetMS <= 0 {
		return &InvalidError{Setting: "CIRCUIT_RESET_MS", Reason: "must be positive"}
	}

	for _, provider := range c.Pipeline.ProvidersRequired {
		switch provider {
		case "geocoding":
			if !c.Geocoding.Enabled() {
				return &MissingCredentialError{Provider: provider, Variable: "GEOCODING_KEY"}
			}
		case "llm":
			if !c.LLM.Enabled() {
				return &MissingCredentialError{Provider: provider, Variable: "LLM_KEY"}
			}
		case "traffic":
			if !c.Traffic.Enabled() {
				return &MissingCredentialError{Provider: provider, Variable: "TRAFFIC_KEY"}
			}
		default:
			return &InvalidError{Setting: "PROVIDERS_REQUIRED", Reason: fmt.Sprintf("unknown provider %q", provider)}
		}
	}

	return nil
}

// SettingsFor returns effective breaker settings for a specific upstream provider name
func (c CircuitBreakerConfig) SettingsFor(provider string) CircuitBreakerSettings {
	settings := CircuitBreakerSettings{
		OpenAfter:        c.OpenAfter,
		ResetMS:          c.ResetMS,
		IntervalSeconds:  c.IntervalSeconds,
		SuccessThreshold: c.SuccessThreshold,
	}

	if c.ProviderOverrides != nil {
		if override, ok := c.ProviderOverrides[provider]; ok {
			if override.OpenAfter > 0 {
				settings.OpenAfter = override.OpenAfter
			}
			if override.ResetMS > 0 {
				settings.ResetMS = override.ResetMS
			}
			if override.IntervalSeconds > 0 {
				settings.IntervalSeconds = override.IntervalSeconds
			}
			if override.SuccessThreshold > 0 {
				settings.SuccessThreshold = override.SuccessThreshold
			}
		}
	}

	if settings.OpenAfter <= 0 {
		settings.OpenAfter = 5
	}
	if settings.ResetMS <= 0 {
		settings.ResetMS = 30000
	}
	if settings.IntervalSeconds <= 0 {
		settings.IntervalSeconds = 60
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 1
	}

	return settings
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
