package nlu

import (
	"fmt"
	"strings"

	"github.com/fieldline/dispatch/pkg/models"
	"github.com/fieldline/dispatch/pkg/security"
)

const (
	// historyTurns is how many trailing turns the prompt carries.
	historyTurns = 6
	// maxTurnChars keeps a single quoted turn from flooding the prompt.
	maxTurnChars = 500
)

// Prompt is a model request split into instructions and conversation.
// OpenAI-style providers send the parts as separate roles; Gemini
// concatenates them.
type Prompt struct {
	System string
	User   string
}

const systemTemplate = `You extract structured details from SMS messages sent to a %s dispatch line.
Respond with exactly one JSON object and nothing else:
{"job_type": "", "job_confidence": 0.0, "urgency_hint": "", "urgency_confidence": 0.0, "address_text": "", "confirmation": ""}

Rules:
- job_type: one of [%s], or "" when the conversation does not identify one.
- job_confidence, urgency_confidence: your confidence in [0,1].
- urgency_hint: "emergency" only for active danger or damage (flooding, sparks, gas); "urgent" when the customer presses for speed; otherwise "normal".
- address_text: the street address exactly as the customer wrote it, or "".
- confirmation: "yes" or "no" only when the customer is answering a booking question; otherwise "unknown".
Never invent details the customer did not write.`

// BuildPrompt renders the extraction prompt for one turn: pinned schema
// and trade vocabulary in the system part, the trailing conversation and
// current message in the user part.
func BuildPrompt(req *models.DispatchRequest) Prompt {
	system := fmt.Sprintf(systemTemplate,
		req.Profile.Trade,
		strings.Join(quoteAll(req.Profile.JobTypes()), ", "),
	)

	var b strings.Builder
	history := req.ConversationHistory
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	for _, turn := range history {
		b.WriteString(string(turn.Sender))
		b.WriteString(": ")
		b.WriteString(cleanTurn(turn.Text))
		b.WriteString("\n")
	}
	b.WriteString("customer: ")
	b.WriteString(cleanTurn(req.CurrentMessage))

	return Prompt{System: system, User: b.String()}
}

func cleanTurn(text string) string {
	return security.TruncateString(security.NormalizeWhitespace(text), maxTurnChars)
}

func quoteAll(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = `"` + s + `"`
	}
	return out
}
