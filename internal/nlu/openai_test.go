package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/fieldline/dispatch/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAIConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		Provider:    "openai",
		APIKey:      "sk-test",
		BaseURL:     baseURL,
		Model:       "gpt-4o-mini",
		MaxTokens:   300,
		Temperature: 0.1,
		TimeoutMS:   1000,
	}
}

func TestOpenAIComplete(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"{\"job_type\":\"leak\"}"}}]}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider(openAIConfig(server.URL), nil)

	out, err := p.Complete(context.Background(), Prompt{System: "extract fields", User: "customer: my sink leaks"})

	require.NoError(t, err)
	assert.Equal(t, `{"job_type":"leak"}`, out)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotBody.Model)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Equal(t, "extract fields", gotBody.Messages[0].Content)
	assert.Equal(t, "user", gotBody.Messages[1].Role)
	assert.Equal(t, "customer: my sink leaks", gotBody.Messages[1].Content)
	assert.Equal(t, 300, gotBody.MaxTokens)
	assert.Equal(t, 0.1, gotBody.Temperature)
}

func TestOpenAIComplete_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewOpenAIProvider(openAIConfig(server.URL), nil)

	_, err := p.Complete(context.Background(), Prompt{User: "customer: hi"})

	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIComplete_DoesNotRetryAuthErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewOpenAIProvider(openAIConfig(server.URL), nil)

	_, err := p.Complete(context.Background(), Prompt{User: "customer: hi"})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIComplete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider(openAIConfig(server.URL), nil)

	_, err := p.Complete(context.Background(), Prompt{User: "customer: hi"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty choices")
}

func TestOpenAIComplete_DefaultBaseURL(t *testing.T) {
	p := NewOpenAIProvider(config.LLMConfig{APIKey: "sk-test"}, nil)
	assert.Equal(t, "openai", p.Name())
}
