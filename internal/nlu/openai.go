package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fieldline/dispatch/pkg/config"
	"github.com/fieldline/dispatch/pkg/httpclient"
	"github.com/fieldline/dispatch/pkg/resilience"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// OpenAIProvider speaks the /chat/completions protocol. Any compatible
// host works by pointing LLM_BASE_URL at it.
type OpenAIProvider struct {
	client      *httpclient.Client
	breaker     *resilience.CircuitBreaker
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
}

func NewOpenAIProvider(cfg config.LLMConfig, breaker *resilience.CircuitBreaker) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client:      httpclient.NewClient(baseURL, cfg.Timeout(), httpclient.WithTransientRetry()),
		breaker:     breaker,
		apiKey:      cfg.APIKey,
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete sends one chat completion and returns the raw assistant text.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt Prompt) (string, error) {
	body := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
	headers := map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	}

	result, err := p.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return p.client.Post(ctx, "/chat/completions", body, headers)
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	var resp chatResponse
	if err := json.Unmarshal(result.([]byte), &resp); err != nil {
		return "", fmt.Errorf("decode chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}
