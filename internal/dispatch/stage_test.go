package dispatch

import (
	"testing"
	"time"

	"github.com/fieldline/dispatch/pkg/models"
	"github.com/stretchr/testify/assert"
)

var stageBase = time.Date(2025, 8, 6, 14, 0, 0, 0, time.UTC)

const (
	offerText       = "We can have a technician out today between 3:00-5:00 PM for $150-$400. Reply YES to confirm or NO for another time."
	altOfferText    = "No problem. We also have tomorrow between 9:00-10:30 AM for $150-$400. Reply YES to confirm or NO if that won't work."
	bookedText      = "You're booked for today between 3:00-5:00 PM. Your reference is abc. See you then."
	addressQuestion = "What's the service address?"
	rejectionText   = "We couldn't find a time that works on our end. Sorry we couldn't help this time."
)

func turnAt(sender models.Role, text string, at time.Time) models.Turn {
	return models.Turn{Sender: sender, Text: text, Timestamp: at}
}

func historyRequest(now time.Time, turns ...models.Turn) *models.DispatchRequest {
	return &models.DispatchRequest{ConversationHistory: turns, CurrentTime: now}
}

func TestReadConversation_FreshThread(t *testing.T) {
	conv := readConversation(historyRequest(stageBase))

	assert.Equal(t, models.StageInitial, conv.Stage)
	assert.True(t, conv.FirstContact)
	assert.False(t, conv.TimedOut)
	assert.Zero(t, conv.Declines)
}

func TestReadConversation_PendingQuestion(t *testing.T) {
	conv := readConversation(historyRequest(stageBase.Add(10*time.Minute),
		turnAt(models.RoleCustomer, "something broke", stageBase),
		turnAt(models.RoleBot, addressQuestion, stageBase.Add(time.Minute)),
	))

	assert.Equal(t, models.StageCollectingInfo, conv.Stage)
	assert.False(t, conv.FirstContact)
}

func TestReadConversation_PendingOffer(t *testing.T) {
	conv := readConversation(historyRequest(stageBase.Add(10*time.Minute),
		turnAt(models.RoleCustomer, "water heater burst, 789 Sunset Blvd 90210", stageBase),
		turnAt(models.RoleBot, offerText, stageBase.Add(time.Minute)),
	))

	assert.Equal(t, models.StageConfirming, conv.Stage)
	assert.Zero(t, conv.Declines)
}

func TestReadConversation_AcceptedOfferCompletesThread(t *testing.T) {
	conv := readConversation(historyRequest(stageBase.Add(30*time.Minute),
		turnAt(models.RoleCustomer, "water heater burst, 789 Sunset Blvd 90210", stageBase),
		turnAt(models.RoleBot, offerText, stageBase.Add(time.Minute)),
		turnAt(models.RoleCustomer, "YES", stageBase.Add(2*time.Minute)),
		turnAt(models.RoleBot, bookedText, stageBase.Add(3*time.Minute)),
		turnAt(models.RoleCustomer, "great, thanks!", stageBase.Add(4*time.Minute)),
	))

	assert.Equal(t, models.StageComplete, conv.Stage)
}

func TestReadConversation_DeclineCountsAndReoffersStayConfirming(t *testing.T) {
	conv := readConversation(historyRequest(stageBase.Add(30*time.Minute),
		turnAt(models.RoleCustomer, "water heater burst, 789 Sunset Blvd 90210", stageBase),
		turnAt(models.RoleBot, offerText, stageBase.Add(time.Minute)),
		turnAt(models.RoleCustomer, "no", stageBase.Add(2*time.Minute)),
		turnAt(models.RoleBot, altOfferText, stageBase.Add(3*time.Minute)),
	))

	assert.Equal(t, models.StageConfirming, conv.Stage)
	assert.Equal(t, 1, conv.Declines)
}

func TestReadConversation_UnknownReplyLeavesOfferPending(t *testing.T) {
	conv := readConversation(historyRequest(stageBase.Add(30*time.Minute),
		turnAt(models.RoleCustomer, "water heater burst, 789 Sunset Blvd 90210", stageBase),
		turnAt(models.RoleBot, offerText, stageBase.Add(time.Minute)),
		turnAt(models.RoleCustomer, "how long does the work take", stageBase.Add(2*time.Minute)),
	))

	assert.Equal(t, models.StageConfirming, conv.Stage)
	assert.Zero(t, conv.Declines)
}

func TestReadConversation_ConcludedThreadStartsOver(t *testing.T) {
	conv := readConversation(historyRequest(stageBase.Add(time.Hour),
		turnAt(models.RoleCustomer, "need help with a faucet", stageBase),
		turnAt(models.RoleBot, rejectionText, stageBase.Add(time.Minute)),
	))

	assert.Equal(t, models.StageInitial, conv.Stage)
	assert.False(t, conv.FirstContact)
}

func TestReadConversation_StaleThreadTimesOut(t *testing.T) {
	history := []models.Turn{
		turnAt(models.RoleCustomer, "water heater burst, 789 Sunset Blvd 90210", stageBase),
		turnAt(models.RoleBot, offerText, stageBase.Add(time.Minute)),
	}

	fresh := readConversation(historyRequest(stageBase.Add(23*time.Hour), history...))
	assert.False(t, fresh.TimedOut)

	stale := readConversation(historyRequest(stageBase.Add(25*time.Hour), history...))
	assert.True(t, stale.TimedOut)
}

func TestConversation_QuestionBudget(t *testing.T) {
	conv := readConversation(historyRequest(stageBase.Add(time.Hour),
		turnAt(models.RoleCustomer, "help", stageBase),
		turnAt(models.RoleBot, "What seems to be the problem?", stageBase.Add(time.Minute)),
		turnAt(models.RoleCustomer, "stuff is wet", stageBase.Add(2*time.Minute)),
		turnAt(models.RoleBot, addressQuestion, stageBase.Add(3*time.Minute)),
	))

	assert.True(t, conv.CanAsk(addressQuestion), "repeating an asked question is free")
	assert.False(t, conv.CanAsk("Which unit number are you in?"), "a third distinct question exceeds the budget")
}
