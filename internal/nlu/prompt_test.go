package nlu

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fieldline/dispatch/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt_SystemPinsSchemaAndVocabulary(t *testing.T) {
	req := plumbingRequest("my water heater is leaking")

	p := BuildPrompt(req)

	assert.Contains(t, p.System, "plumbing dispatch line")
	assert.Contains(t, p.System, `"job_type"`)
	assert.Contains(t, p.System, `"urgency_hint"`)
	assert.Contains(t, p.System, `"confirmation"`)
	assert.Contains(t, p.System, `"water_heater"`)
	assert.Contains(t, p.System, `"diagnostic"`)
	assert.Contains(t, p.System, "exactly one JSON object")
	assert.NotContains(t, p.System, "water heater is leaking")
}

func TestBuildPrompt_UserCarriesConversation(t *testing.T) {
	req := plumbingRequest("yes",
		turn(models.RoleCustomer, "my sink is clogged"),
		turn(models.RoleBot, "We can come today at 4:00 PM. Reply YES to book."),
	)

	p := BuildPrompt(req)

	lines := strings.Split(p.User, "\n")
	assert.Equal(t, []string{
		"customer: my sink is clogged",
		"bot: We can come today at 4:00 PM. Reply YES to book.",
		"customer: yes",
	}, lines)
}

func TestBuildPrompt_KeepsOnlyTrailingTurns(t *testing.T) {
	var history []models.Turn
	for i := 1; i <= 9; i++ {
		history = append(history, turn(models.RoleCustomer, fmt.Sprintf("turn number %d", i)))
	}
	req := plumbingRequest("latest message", history...)

	p := BuildPrompt(req)

	assert.NotContains(t, p.User, "turn number 3")
	assert.Contains(t, p.User, "turn number 4")
	assert.Contains(t, p.User, "turn number 9")
	assert.True(t, strings.HasSuffix(p.User, "customer: latest message"))
}

func TestBuildPrompt_CleansAndCapsTurns(t *testing.T) {
	long := strings.Repeat("a", 900)
	req := plumbingRequest("now:   "+long,
		turn(models.RoleCustomer, "spaced    out\n\nmessage"),
	)

	p := BuildPrompt(req)

	assert.Contains(t, p.User, "customer: spaced out message")
	for _, line := range strings.Split(p.User, "\n") {
		assert.LessOrEqual(t, len(line), len("customer: ")+maxTurnChars)
	}
}
