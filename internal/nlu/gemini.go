package nlu

import (
	"context"
	"fmt"
	"strings"

	"github.com/fieldline/dispatch/pkg/config"
	"github.com/fieldline/dispatch/pkg/resilience"
	"github.com/fieldline/dispatch/pkg/tracing"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// tracerName scopes spans emitted by the nlu package.
const tracerName = "github.com/fieldline/dispatch/internal/nlu"

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiProvider runs extraction through Google's Gemini models.
type GeminiProvider struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	breaker *resilience.CircuitBreaker
}

// NewGeminiProvider dials the Gemini API. Callers should Close the
// provider on shutdown to release the connection.
func NewGeminiProvider(ctx context.Context, cfg config.LLMConfig, breaker *resilience.CircuitBreaker) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	name := cfg.Model
	if name == "" {
		name = defaultGeminiModel
	}
	model := client.GenerativeModel(name)
	model.SetTemperature(float32(cfg.Temperature))
	if cfg.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(cfg.MaxTokens))
	}
	return &GeminiProvider{client: client, model: model, breaker: breaker}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Close() error { return p.client.Close() }

// Complete sends one generation request. Gemini takes a single text body,
// so the system and user parts are concatenated.
func (p *GeminiProvider) Complete(ctx context.Context, prompt Prompt) (string, error) {
	text := prompt.System + "\n\n" + prompt.User

	var resp *genai.GenerateContentResponse
	err := tracing.TraceExternalAPI(ctx, tracerName, "gemini", "generate_content", func(ctx context.Context) error {
		result, err := p.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			return p.model.GenerateContent(ctx, genai.Text(text))
		})
		if err != nil {
			return err
		}
		resp = result.(*genai.GenerateContentResponse)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini generate: empty candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}
