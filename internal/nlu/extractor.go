package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fieldline/dispatch/pkg/logger"
	"github.com/fieldline/dispatch/pkg/models"
	"github.com/fieldline/dispatch/pkg/security"
	"go.uber.org/zap"
)

// Source identifies which path produced an Extraction. Callers may log it
// but must not branch on it.
type Source string

const (
	SourceLLM     Source = "llm"
	SourceKeyword Source = "keyword"
)

const defaultExtractTimeout = 8 * time.Second

// Provider turns one prompt into raw model output. Implementations own
// their transport, retry policy and circuit breaker.
type Provider interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
	Name() string
}

// Extractor reads one customer turn into a typed Extraction. The keyword
// pass runs on every turn; a configured provider refines it when it
// answers in time with valid JSON.
type Extractor struct {
	provider Provider
	timeout  time.Duration
}

// NewExtractor wires the model provider. A nil provider is valid and
// leaves only the keyword path.
func NewExtractor(provider Provider, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = defaultExtractTimeout
	}
	return &Extractor{provider: provider, timeout: timeout}
}

// Extract reads the request's current message. It never fails: any
// provider error, timeout or schema violation falls back to the keyword
// read, so the caller always gets a usable Extraction.
func (e *Extractor) Extract(ctx context.Context, req *models.DispatchRequest) (models.Extraction, Source) {
	keyword := Fallback(req.CurrentMessage, req.ConversationHistory, req.Profile.Trade)
	if e == nil || e.provider == nil {
		return keyword, SourceKeyword
	}

	llmCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.provider.Complete(llmCtx, BuildPrompt(req))
	if err != nil {
		logger.WarnContext(ctx, "llm extraction failed, using keyword read",
			zap.String("provider", e.provider.Name()),
			zap.Error(err))
		return keyword, SourceKeyword
	}

	parsed, err := parse(raw, &req.Profile)
	if err != nil {
		logger.WarnContext(ctx, "llm output rejected, using keyword read",
			zap.String("provider", e.provider.Name()),
			zap.Error(err))
		return keyword, SourceKeyword
	}

	return merge(parsed, keyword), SourceLLM
}

// parse pulls the first JSON object out of raw model output and checks it
// against the schema. Any violation is an error so the caller falls back
// to the keyword read instead of acting on a half-trusted field.
func parse(raw string, profile *models.BusinessProfile) (models.Extraction, error) {
	obj, ok := FirstJSONObject(raw)
	if !ok {
		return models.Extraction{}, fmt.Errorf("no JSON object in model output")
	}

	var ext models.Extraction
	if err := json.Unmarshal([]byte(obj), &ext); err != nil {
		return models.Extraction{}, fmt.Errorf("decode extraction: %w", err)
	}

	switch ext.Urgency {
	case models.UrgencyEmergency, models.UrgencyUrgent, models.UrgencyNormal:
	default:
		return models.Extraction{}, fmt.Errorf("invalid urgency_hint %q", ext.Urgency)
	}
	switch ext.Confirmation {
	case models.ConfirmationYes, models.ConfirmationNo, models.ConfirmationUnknown:
	default:
		return models.Extraction{}, fmt.Errorf("invalid confirmation %q", ext.Confirmation)
	}
	if ext.JobType != "" && !profile.Offers(ext.JobType) {
		return models.Extraction{}, fmt.Errorf("job_type %q not in price list", ext.JobType)
	}
	if ext.JobConfidence < 0 || ext.JobConfidence > 1 {
		return models.Extraction{}, fmt.Errorf("job_confidence %v out of range", ext.JobConfidence)
	}
	if ext.UrgencyConfidence < 0 || ext.UrgencyConfidence > 1 {
		return models.Extraction{}, fmt.Errorf("urgency_confidence %v out of range", ext.UrgencyConfidence)
	}

	ext.AddressText = security.NormalizeWhitespace(ext.AddressText)
	return ext, nil
}

// merge folds the deterministic keyword read into the model's. The model
// wins field by field except where the keyword pass is the more reliable
// reader: literal yes/no answers, un-negated trade safety words, and jobs
// the model missed entirely.
func merge(llm, keyword models.Extraction) models.Extraction {
	out := llm

	if out.JobType == "" && keyword.JobType != "" {
		out.JobType = keyword.JobType
		out.JobConfidence = keyword.JobConfidence
	}

	if out.Confirmation == models.ConfirmationUnknown {
		out.Confirmation = keyword.Confirmation
	}

	if keyword.Urgency == models.UrgencyEmergency && out.Urgency != models.UrgencyEmergency {
		out.Urgency = models.UrgencyEmergency
		out.UrgencyConfidence = keyword.UrgencyConfidence
	}

	if out.AddressText == "" {
		out.AddressText = keyword.AddressText
	} else if keyword.AddressText != "" && !materiallyDifferent(out.AddressText, keyword.AddressText) {
		// Same address either way; keep the regex capture verbatim rather
		// than a model paraphrase of it.
		out.AddressText = keyword.AddressText
	}

	return out
}

func materiallyDifferent(a, b string) bool {
	return !strings.EqualFold(security.NormalizeWhitespace(a), security.NormalizeWhitespace(b))
}
