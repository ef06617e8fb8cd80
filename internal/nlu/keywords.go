package nlu

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/fieldline/dispatch/pkg/models"
	"github.com/fieldline/dispatch/pkg/security"
)

// Deterministic extraction. Runs on every turn to produce the address
// candidate, and carries the whole turn when the model path is down or
// returns garbage. Both paths emit the same schema.

// fallbackJobConfidence caps how sure the keyword tables ever claim to be.
const fallbackJobConfidence = 0.6

// jobRule maps a token or phrase to a job type. Tables are scanned in
// order and the first matching rule wins, so specific phrases come first.
type jobRule struct {
	phrase string
	job    string
}

var jobTables = map[models.Trade][]jobRule{
	models.TradePlumbing: {
		{"water heater", "water_heater"},
		{"no hot water", "water_heater"},
		{"hot water", "water_heater"},
		{"sewage", "sewer"},
		{"sewer", "sewer"},
		{"toilet", "toilet"},
		{"clogged", "clog"},
		{"clog", "clog"},
		{"drain", "clog"},
		{"backed up", "clog"},
		{"burst", "leak"},
		{"flooding", "leak"},
		{"flood", "leak"},
		{"leaking", "leak"},
		{"leak", "leak"},
		{"dripping", "leak"},
		{"drip", "leak"},
		{"wet", "leak"},
		{"faucet", "faucet"},
		{"tap", "faucet"},
		{"sink", "faucet"},
	},
	models.TradeElectrical: {
		{"panel", "panel_upgrade"},
		{"breaker", "breaker_repair"},
		{"tripping", "breaker_repair"},
		{"trips", "breaker_repair"},
		{"outlet", "outlet_repair"},
		{"socket", "outlet_repair"},
		{"rewire", "wiring_repair"},
		{"wiring", "wiring_repair"},
		{"wire", "wiring_repair"},
		{"lights", "lighting"},
		{"light", "lighting"},
		{"fixture", "lighting"},
	},
	models.TradeHVAC: {
		{"thermostat", "thermostat"},
		{"furnace", "furnace_repair"},
		{"no heat", "furnace_repair"},
		{"heating", "furnace_repair"},
		{"heater", "furnace_repair"},
		{"heat", "furnace_repair"},
		{"air conditioner", "ac_repair"},
		{"air conditioning", "ac_repair"},
		{"a c", "ac_repair"},
		{"ac", "ac_repair"},
		{"cooling", "ac_repair"},
		{"ducts", "duct_cleaning"},
		{"duct", "duct_cleaning"},
		{"vents", "duct_cleaning"},
		{"vent", "duct_cleaning"},
		{"tune up", "maintenance"},
		{"maintenance", "maintenance"},
	},
	models.TradeLocksmith: {
		{"locked out", "lockout"},
		{"lockout", "lockout"},
		{"rekey", "rekey"},
		{"re key", "rekey"},
		{"deadbolt", "lock_repair"},
		{"keys", "key_replacement"},
		{"key", "key_replacement"},
		{"locks", "lock_repair"},
		{"lock", "lock_repair"},
	},
	models.TradeGarageDoor: {
		{"springs", "spring_replacement"},
		{"spring", "spring_replacement"},
		{"opener", "opener_repair"},
		{"remote", "opener_repair"},
		{"off track", "track_repair"},
		{"track", "track_repair"},
		{"rollers", "track_repair"},
		{"dented", "panel_replacement"},
		{"dent", "panel_replacement"},
		{"stuck", "door_repair"},
		{"door", "door_repair"},
	},
}

// emergencyTables lists phrases that read as emergencies for a trade,
// subject to the negation window.
var emergencyTables = map[models.Trade][]string{
	models.TradePlumbing:   {"burst", "flooding", "flood", "gushing", "sewage", "overflowing"},
	models.TradeElectrical: {"sparks", "sparking", "spark", "smoke", "smoking", "burning", "shocked", "shock"},
	models.TradeHVAC:       {"gas leak", "leaking gas", "smell gas", "smells gas", "carbon monoxide", "fumes", "no heat"},
	models.TradeLocksmith:  {"break in", "breakin", "burglary", "intruder"},
	models.TradeGarageDoor: {"fell", "falling", "collapsed"},
}

// negationWindow is how many tokens back a negation still defuses an
// emergency phrase ("no flooding", "it is not leaking gas").
const negationWindow = 3

var negationTokens = map[string]bool{
	"no": true, "not": true, "never": true, "without": true, "stopped": true,
	"don't": true, "dont": true, "isn't": true, "isnt": true,
	"wasn't": true, "wasnt": true, "nothing": true,
}

var intensifierTokens = map[string]bool{
	"bad": true, "badly": true, "everywhere": true, "asap": true,
	"immediately": true, "urgent": true, "urgently": true,
}

var addressPattern = regexp.MustCompile(
	`(?i)\d+\s+[A-Za-z0-9'.\- ]+(st|street|ave|avenue|rd|road|blvd|dr|drive|way|ln|lane)\b[^,]*,?\s*[A-Za-z .]*,?\s*(\d{5})?`)

var confirmationYes = map[string]bool{
	"yes": true, "y": true, "ok": true, "confirm": true, "book it": true,
}

var confirmationNo = map[string]bool{
	"no": true, "n": true, "cancel": true, "different time": true,
}

// Fallback extracts job, urgency, address and confirmation from the
// message using the per-trade tables. History is consulted latest
// customer turn first for a job type or address the current message
// lacks, and an emergency read in an earlier turn carries forward when
// the current turn has no urgency signal of its own, so a bare "yes"
// still books the emergency it confirms. Confirmation always reads the
// current turn.
func Fallback(message string, history []models.Turn, trade models.Trade) models.Extraction {
	normalized := security.NormalizeWhitespace(message)
	tokens := tokenize(normalized)

	out := models.Extraction{
		Confirmation: ReadConfirmation(message),
	}
	out.Urgency, out.UrgencyConfidence = readUrgency(tokens, trade)

	out.JobType = matchJob(tokens, trade)
	out.AddressText = strings.TrimSpace(addressPattern.FindString(normalized))

	inheritUrgency := out.Urgency == models.UrgencyNormal
	for i := len(history) - 1; i >= 0 && (out.JobType == "" || out.AddressText == "" || inheritUrgency); i-- {
		if history[i].Sender != models.RoleCustomer {
			continue
		}
		past := security.NormalizeWhitespace(history[i].Text)
		pastTokens := tokenize(past)
		if out.JobType == "" {
			out.JobType = matchJob(pastTokens, trade)
		}
		if out.AddressText == "" {
			out.AddressText = strings.TrimSpace(addressPattern.FindString(past))
		}
		if inheritUrgency && hasEmergency(pastTokens, trade) {
			out.Urgency, out.UrgencyConfidence = models.UrgencyEmergency, 0.7
			inheritUrgency = false
		}
	}

	if out.JobType != "" {
		out.JobConfidence = fallbackJobConfidence
	}
	return out
}

// ExtractAddress runs only the address regex over the message. This is
// the cheap candidate raced against the model call each turn.
func ExtractAddress(message string) string {
	return strings.TrimSpace(addressPattern.FindString(security.NormalizeWhitespace(message)))
}

func readUrgency(tokens []string, trade models.Trade) (models.Urgency, float64) {
	if hasEmergency(tokens, trade) {
		return models.UrgencyEmergency, 0.7
	}
	for _, tok := range tokens {
		if intensifierTokens[tok] {
			return models.UrgencyUrgent, 0.6
		}
	}
	return models.UrgencyNormal, 0.5
}

// hasEmergency reports whether any emergency phrase for the trade occurs
// without a negation token in the preceding window. A negated mention
// does not suppress a later clean one.
func hasEmergency(tokens []string, trade models.Trade) bool {
	for _, phrase := range emergencyTables[trade] {
		want := strings.Fields(phrase)
		for _, at := range phraseIndexes(tokens, want) {
			if !negatedBefore(tokens, at) {
				return true
			}
		}
	}
	return false
}

func negatedBefore(tokens []string, at int) bool {
	for i := at - 1; i >= 0 && i >= at-negationWindow; i-- {
		if negationTokens[tokens[i]] {
			return true
		}
	}
	return false
}

func matchJob(tokens []string, trade models.Trade) string {
	for _, rule := range jobTables[trade] {
		if len(phraseIndexes(tokens, strings.Fields(rule.phrase))) > 0 {
			return rule.job
		}
	}
	return ""
}

// phraseIndexes returns the start positions where the phrase tokens occur
// consecutively.
func phraseIndexes(tokens, phrase []string) []int {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return nil
	}
	var out []int
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		match := true
		for j, want := range phrase {
			if tokens[i+j] != want {
				match = false
				break
			}
		}
		if match {
			out = append(out, i)
		}
	}
	return out
}

// ReadConfirmation reads a message as a literal yes or no answer. Only a
// bare answer counts; "yes tomorrow works" is left for the model to read.
func ReadConfirmation(message string) models.Confirmation {
	trimmed := strings.ToLower(strings.TrimSpace(message))
	switch {
	case confirmationYes[trimmed]:
		return models.ConfirmationYes
	case confirmationNo[trimmed]:
		return models.ConfirmationNo
	default:
		return models.ConfirmationUnknown
	}
}

// tokenize lowers the text and splits on anything that is not a letter,
// digit or apostrophe, so contractions like "don't" stay whole.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
