package dispatch

import (
	"strings"
	"time"

	"github.com/fieldline/dispatch/internal/nlu"
	"github.com/fieldline/dispatch/pkg/models"
)

// The dispatcher keeps no session store, so the conversation's position is
// reconstructed from the supplied history on every turn. The composer's
// fixed phrases are the markers that make this possible: every open offer
// carries "Reply YES" and every question ends with a question mark. A
// recorded yes answer to an offer means the thread already completed.

const (
	// conversationTimeout is how stale the last bot message may be
	// before the thread is treated as expired rather than resumed.
	conversationTimeout = 24 * time.Hour

	// questionBudget caps the distinct questions the bot asks in one
	// conversation. Needing a third means the exchange is going nowhere
	// and a person should take over.
	questionBudget = 2
)

// offerMarker appears in every offer awaiting a yes or no.
const offerMarker = "Reply YES"

// conversation is what the history says about the exchange so far.
type conversation struct {
	// Stage the thread was in when the current message arrived.
	Stage models.Stage
	// Declines counts offers the customer has already turned down.
	Declines int
	// TimedOut is true when the current message arrived more than
	// conversationTimeout after the bot last spoke.
	TimedOut bool
	// FirstContact is true when the bot has not spoken yet.
	FirstContact bool

	asked map[string]bool
}

// CanAsk reports whether the bot may send this question. Repeating a
// question it already asked is always allowed; a new one must fit the
// budget.
func (c conversation) CanAsk(question string) bool {
	if c.asked[question] {
		return true
	}
	return len(c.asked) < questionBudget
}

// readConversation replays the history to recover the stage, the question
// count and any declined offers.
func readConversation(req *models.DispatchRequest) conversation {
	conv := conversation{
		Stage:        models.StageInitial,
		FirstContact: true,
		asked:        make(map[string]bool),
	}

	var lastBot *models.Turn
	pendingOffer := false
	completed := false

	for i := range req.ConversationHistory {
		turn := &req.ConversationHistory[i]
		switch turn.Sender {
		case models.RoleBot:
			lastBot = turn
			conv.FirstContact = false
			pendingOffer = strings.Contains(turn.Text, offerMarker)
			if strings.Contains(turn.Text, "?") {
				conv.asked[strings.TrimSpace(turn.Text)] = true
			}
		case models.RoleCustomer:
			if !pendingOffer {
				continue
			}
			switch nlu.ReadConfirmation(turn.Text) {
			case models.ConfirmationYes:
				completed = true
				pendingOffer = false
			case models.ConfirmationNo:
				conv.Declines++
				pendingOffer = false
			}
			// Anything else leaves the offer open; the customer may
			// be answering with new details instead of yes or no.
		}
	}

	if lastBot == nil {
		return conv
	}

	if !lastBot.Timestamp.IsZero() && req.CurrentTime.Sub(lastBot.Timestamp) >= conversationTimeout {
		conv.TimedOut = true
	}

	switch {
	case completed:
		conv.Stage = models.StageComplete
	case pendingOffer:
		conv.Stage = models.StageConfirming
	case strings.Contains(lastBot.Text, "?"):
		conv.Stage = models.StageCollectingInfo
	default:
		// The previous thread concluded (closed hours, rejection); a
		// fresh message starts over.
		conv.Stage = models.StageInitial
	}

	return conv
}
