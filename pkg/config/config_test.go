package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load("dispatch-service")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.Equal(t, "dispatch-service", cfg.Server.ServiceName)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, 2000, cfg.Pipeline.RequestDeadlineMS)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.RequestDeadline())
	assert.Equal(t, 1500, cfg.Geocoding.TimeoutMS)
	assert.Equal(t, 8000, cfg.LLM.TimeoutMS)
	assert.Equal(t, 1000, cfg.Traffic.TimeoutMS)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 0.0001)
	assert.Equal(t, "memory", cfg.Dedup.Backend)
	assert.Equal(t, 50000, cfg.Dedup.Capacity)
	assert.Equal(t, 24*time.Hour, cfg.Dedup.TTL())
	assert.Equal(t, 5, cfg.Resilience.CircuitBreaker.OpenAfter)
	assert.Equal(t, 30000, cfg.Resilience.CircuitBreaker.ResetMS)
	assert.False(t, cfg.Geocoding.Enabled())
	assert.False(t, cfg.LLM.Enabled())
	assert.False(t, cfg.Traffic.Enabled())

	require.NoError(t, cfg.Validate())
}

func TestLoadGeminiModelDefault(t *testing.T) {
	os.Clearenv()
	os.Setenv("LLM_PROVIDER", "gemini")

	cfg, err := Load("dispatch-service")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-flash", cfg.LLM.Model)
}

func TestValidateInvalidSettings(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		setting string
	}{
		{"bad port", "PORT", "http", "PORT"},
		{"port out of range", "PORT", "70000", "PORT"},
		{"bad log level", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"deadline too small", "REQUEST_DEADLINE_MS", "50", "REQUEST_DEADLINE_MS"},
		{"unknown llm provider", "LLM_PROVIDER", "anthropic", "LLM_PROVIDER"},
		{"temperature out of range", "LLM_TEMPERATURE", "3.5", "LLM_TEMPERATURE"},
		{"unknown dedup backend", "DEDUP_BACKEND", "memcache", "DEDUP_BACKEND"},
		{"zero dedup capacity", "DEDUP_CAPACITY", "0", "DEDUP_CAPACITY"},
		{"unknown required provider", "PROVIDERS_REQUIRED", "weather", "PROVIDERS_REQUIRED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv(tt.key, tt.value)

			cfg, err := Load("dispatch-service")
			require.NoError(t, err)

			err = cfg.Validate()
			require.Error(t, err)

			var invalid *InvalidError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, tt.setting, invalid.Setting)
		})
	}
}

func TestValidateMissingCredential(t *testing.T) {
	os.Clearenv()
	os.Setenv("PROVIDERS_REQUIRED", "geocoding,llm")
	os.Setenv("GEOCODING_KEY", "test-key")

	cfg, err := Load("dispatch-service")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)

	var missing *MissingCredentialError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "llm", missing.Provider)
	assert.Equal(t, "LLM_KEY", missing.Variable)

	os.Setenv("LLM_KEY", "test-key")
	cfg, err = Load("dispatch-service")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestCircuitBreakerSettingsFor(t *testing.T) {
	os.Clearenv()
	os.Setenv("CIRCUIT_PROVIDER_OVERRIDES", `{"llm":{"open_after":3,"reset_ms":5000}}`)

	cfg, err := Load("dispatch-service")
	require.NoError(t, err)

	llm := cfg.Resilience.CircuitBreaker.SettingsFor("llm")
	assert.Equal(t, 3, llm.OpenAfter)
	assert.Equal(t, 5000, llm.ResetMS)
	assert.Equal(t, 60, llm.IntervalSeconds)

	geo := cfg.Resilience.CircuitBreaker.SettingsFor("geocoding")
	assert.Equal(t, 5, geo.OpenAfter)
	assert.Equal(t, 30000, geo.ResetMS)
}

func TestCircuitBreakerOverridesRejectBadJSON(t *testing.T) {
	os.Clearenv()
	os.Setenv("CIRCUIT_PROVIDER_OVERRIDES", "{not json")

	_, err := Load("dispatch-service")
	require.Error(t, err)

	var invalid *InvalidError
	assert.True(t, errors.As(err, &invalid))
}
