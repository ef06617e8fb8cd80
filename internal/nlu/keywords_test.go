package nlu

import (
	"testing"
	"time"

	"github.com/fieldline/dispatch/pkg/models"
	"github.com/stretchr/testify/assert"
)

func turn(sender models.Role, text string) models.Turn {
	return models.Turn{Sender: sender, Text: text, Timestamp: time.Date(2025, time.March, 14, 14, 0, 0, 0, time.UTC)}
}

func TestFallback_JobTables(t *testing.T) {
	tests := []struct {
		name    string
		trade   models.Trade
		message string
		want    string
	}{
		{"plumbing water heater phrase", models.TradePlumbing, "My water heater is busted", "water_heater"},
		{"plumbing no hot water", models.TradePlumbing, "there's no hot water upstairs", "water_heater"},
		{"plumbing clog beats sink in table order", models.TradePlumbing, "the sink is clogged", "clog"},
		{"plumbing wet carpet reads as leak", models.TradePlumbing, "the carpet near the wall is wet", "leak"},
		{"plumbing faucet", models.TradePlumbing, "kitchen faucet won't shut off", "faucet"},
		{"electrical breaker", models.TradeElectrical, "breaker keeps tripping every hour", "breaker_repair"},
		{"electrical panel", models.TradeElectrical, "looking for a panel upgrade quote", "panel_upgrade"},
		{"electrical lights", models.TradeElectrical, "the hallway lights flicker", "lighting"},
		{"hvac ac token", models.TradeHVAC, "AC stopped cooling yesterday", "ac_repair"},
		{"hvac furnace", models.TradeHVAC, "furnace won't turn on and we have no heat", "furnace_repair"},
		{"hvac thermostat", models.TradeHVAC, "thermostat screen is blank", "thermostat"},
		{"locksmith lockout", models.TradeLocksmith, "I'm locked out of my house", "lockout"},
		{"locksmith rekey beats locks", models.TradeLocksmith, "need to rekey the locks after moving in", "rekey"},
		{"garage spring", models.TradeGarageDoor, "the spring snapped this morning", "spring_replacement"},
		{"garage stuck beats door", models.TradeGarageDoor, "garage door is stuck halfway", "door_repair"},
		{"no match", models.TradePlumbing, "hello, are you open today?", ""},
		{"wrong trade vocabulary", models.TradeLocksmith, "my water heater is leaking", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fallback(tt.message, nil, tt.trade)
			assert.Equal(t, tt.want, got.JobType)
			if tt.want != "" {
				assert.Equal(t, fallbackJobConfidence, got.JobConfidence)
			} else {
				assert.Zero(t, got.JobConfidence)
			}
		})
	}
}

func TestFallback_Urgency(t *testing.T) {
	tests := []struct {
		name           string
		trade          models.Trade
		message        string
		wantUrgency    models.Urgency
		wantConfidence float64
	}{
		{"plumbing flooding", models.TradePlumbing, "water is flooding the kitchen", models.UrgencyEmergency, 0.7},
		{"negation defuses emergency", models.TradePlumbing, "no flooding, just a slow drip", models.UrgencyNormal, 0.5},
		{"negation beyond window does not defuse", models.TradePlumbing, "not sure why but it is flooding", models.UrgencyEmergency, 0.7},
		{"clean second mention still fires", models.TradePlumbing, "no flooding yesterday but now flooding again", models.UrgencyEmergency, 0.7},
		{"electrical sparking", models.TradeElectrical, "the outlet is sparking", models.UrgencyEmergency, 0.7},
		{"hvac smell gas phrase", models.TradeHVAC, "I smell gas near the furnace", models.UrgencyEmergency, 0.7},
		{"hvac gas furnace is not an emergency", models.TradeHVAC, "gas furnace won't start", models.UrgencyNormal, 0.5},
		{"intensifier reads urgent", models.TradeElectrical, "lights are flickering bad", models.UrgencyUrgent, 0.6},
		{"asap reads urgent", models.TradePlumbing, "need the toilet fixed asap", models.UrgencyUrgent, 0.6},
		{"emergency outranks intensifier", models.TradePlumbing, "burst pipe, water everywhere", models.UrgencyEmergency, 0.7},
		{"plain request", models.TradePlumbing, "toilet won't flush", models.UrgencyNormal, 0.5},
		{"emergency vocabulary is per trade", models.TradeLocksmith, "the basement is flooding", models.UrgencyNormal, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fallback(tt.message, nil, tt.trade)
			assert.Equal(t, tt.wantUrgency, got.Urgency)
			assert.Equal(t, tt.wantConfidence, got.UrgencyConfidence)
		})
	}
}

func TestFallback_Confirmation(t *testing.T) {
	tests := []struct {
		message string
		want    models.Confirmation
	}{
		{"yes", models.ConfirmationYes},
		{"  YES  ", models.ConfirmationYes},
		{"y", models.ConfirmationYes},
		{"ok", models.ConfirmationYes},
		{"book it", models.ConfirmationYes},
		{"confirm", models.ConfirmationYes},
		{"no", models.ConfirmationNo},
		{"n", models.ConfirmationNo},
		{"cancel", models.ConfirmationNo},
		{"different time", models.ConfirmationNo},
		{"yes please", models.ConfirmationUnknown},
		{"sure", models.ConfirmationUnknown},
		{"maybe tomorrow", models.ConfirmationUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := Fallback(tt.message, nil, models.TradePlumbing)
			assert.Equal(t, tt.want, got.Confirmation)
		})
	}
}

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{
			name:    "street with city and zip",
			message: "I'm at 123 Main St, Springfield 62704",
			want:    "123 Main St, Springfield 62704",
		},
		{
			name:    "avenue with unit and zip",
			message: "888 Oak Avenue apt 4, Denver, 80202",
			want:    "888 Oak Avenue apt 4, Denver, 80202",
		},
		{
			name:    "street only",
			message: "come to 77 Sunset Blvd",
			want:    "77 Sunset Blvd",
		},
		{
			name:    "case insensitive suffix",
			message: "456 ELM STREET",
			want:    "456 ELM STREET",
		},
		{
			name:    "collapses ragged whitespace",
			message: "  9  Cedar   Lane ",
			want:    "9 Cedar Lane",
		},
		{
			name:    "street name without number is not an address",
			message: "somewhere on Main Street",
			want:    "",
		},
		{
			name:    "no address",
			message: "my sink is leaking",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractAddress(tt.message))
		})
	}
}

func TestFallback_HistoryBackfill(t *testing.T) {
	history := []models.Turn{
		turn(models.RoleCustomer, "my kitchen sink is leaking"),
		turn(models.RoleBot, "Can you share your street address?"),
	}

	got := Fallback("123 Main St, Springfield 62704", history, models.TradePlumbing)

	assert.Equal(t, "leak", got.JobType)
	assert.Equal(t, fallbackJobConfidence, got.JobConfidence)
	assert.Equal(t, "123 Main St, Springfield 62704", got.AddressText)
	assert.Equal(t, models.UrgencyNormal, got.Urgency)
}

func TestFallback_HistoryLatestCustomerTurnWins(t *testing.T) {
	history := []models.Turn{
		turn(models.RoleCustomer, "the toilet is broken"),
		turn(models.RoleBot, "Got it, a toilet problem."),
		turn(models.RoleCustomer, "actually it's the water heater"),
	}

	got := Fallback("how soon can someone come?", history, models.TradePlumbing)

	assert.Equal(t, "water_heater", got.JobType)
}

func TestFallback_CurrentMessageBeatsHistory(t *testing.T) {
	history := []models.Turn{
		turn(models.RoleCustomer, "water heater quote please"),
	}

	got := Fallback("never mind, now the toilet broke too", history, models.TradePlumbing)

	assert.Equal(t, "toilet", got.JobType)
}

func TestFallback_BareYesCarriesEmergencyForward(t *testing.T) {
	history := []models.Turn{
		turn(models.RoleCustomer, "everything is flooding!"),
		turn(models.RoleBot, "We can come at 5:30 PM today. Reply YES to book."),
	}

	got := Fallback("yes", history, models.TradePlumbing)

	assert.Equal(t, models.ConfirmationYes, got.Confirmation)
	assert.Equal(t, models.UrgencyEmergency, got.Urgency)
	assert.Equal(t, "leak", got.JobType)
}

func TestFallback_CurrentUrgencySignalBlocksCarryover(t *testing.T) {
	history := []models.Turn{
		turn(models.RoleCustomer, "the basement was flooding"),
	}

	got := Fallback("please hurry, it's urgent", history, models.TradePlumbing)

	assert.Equal(t, models.UrgencyUrgent, got.Urgency)
}

func TestFallback_IgnoresBotTurns(t *testing.T) {
	history := []models.Turn{
		turn(models.RoleBot, "Is the water heater leaking at 123 Main St, Springfield 62704?"),
	}

	got := Fallback("hi there", history, models.TradePlumbing)

	assert.Empty(t, got.JobType)
	assert.Empty(t, got.AddressText)
}

func TestTokenize(t *testing.T) {
	got := tokenize("Don't panic: the A/C (isn't working)!")
	assert.Equal(t, []string{"don't", "panic", "the", "a", "c", "isn't", "working"}, got)
}
