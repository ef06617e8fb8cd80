package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// ValidatePhoneNumber
// ---------------------------------------------------------------------------

func TestValidatePhoneNumber(t *testing.T) {
	tests := []struct {
		name   string
		phone  string
		expect bool
	}{
		{"valid US number", "+13105551234", true},
		{"valid max length", "+123456789012345", true},
		{"valid min length", "+1234567890", true},
		{"missing plus", "13105551234", false},
		{"too short", "+123456789", false},
		{"too long", "+1234567890123456", false},
		{"letters", "+1310555abcd", false},
		{"spaces", "+1 310 555 1234", false},
		{"empty", "", false},
		{"leading whitespace trimmed", " +13105551234", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ValidatePhoneNumber(tt.phone))
		})
	}
}

// ---------------------------------------------------------------------------
// ValidateHours
// ---------------------------------------------------------------------------

func TestValidateHours(t *testing.T) {
	tests := []struct {
		clock  string
		expect bool
	}{
		{"00:00", true},
		{"08:00", true},
		{"19:30", true},
		{"23:59", true},
		{"24:00", false},
		{"7:00", false},
		{"07:60", false},
		{"0700", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.clock, func(t *testing.T) {
			assert.Equal(t, tt.expect, ValidateHours(tt.clock))
		})
	}
}

// ---------------------------------------------------------------------------
// ValidateStruct
// ---------------------------------------------------------------------------

type sampleRequest struct {
	Phone  string  `json:"caller_phone" validate:"required,e164"`
	Trade  string  `json:"trade" validate:"required,trade"`
	Radius float64 `json:"service_radius_miles" validate:"gte=1,lte=100"`
	Open   string  `json:"open" validate:"omitempty,hhmm"`
}

func TestValidateStructReportsJSONFieldName(t *testing.T) {
	err := ValidateStruct(sampleRequest{Phone: "+13105551234", Trade: "plumbing", Radius: 500})
	require.Error(t, err)

	var fieldErr *FieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "service_radius_miles", fieldErr.Field)
	assert.Equal(t, "lte", fieldErr.Rule)
}

func TestValidateStructCustomRules(t *testing.T) {
	tests := []struct {
		name    string
		req     sampleRequest
		wantErr string // offending field, empty for ok
	}{
		{"valid", sampleRequest{Phone: "+13105551234", Trade: "hvac", Radius: 25}, ""},
		{"bad phone", sampleRequest{Phone: "310-555-1234", Trade: "hvac", Radius: 25}, "caller_phone"},
		{"bad trade", sampleRequest{Phone: "+13105551234", Trade: "roofing", Radius: 25}, "trade"},
		{"bad clock", sampleRequest{Phone: "+13105551234", Trade: "hvac", Radius: 25, Open: "8am"}, "open"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var fieldErr *FieldError
			require.ErrorAs(t, err, &fieldErr)
			assert.Equal(t, tt.wantErr, fieldErr.Field)
		})
	}
}

func TestValidateCoordinates(t *testing.T) {
	assert.NoError(t, ValidateCoordinates(34.0522, -118.2437))
	assert.Error(t, ValidateCoordinates(91, 0))
	assert.Error(t, ValidateCoordinates(0, -190))
}

func TestValidateServiceRadius(t *testing.T) {
	assert.NoError(t, ValidateServiceRadius(25))
	assert.Error(t, ValidateServiceRadius(0.5))
	assert.Error(t, ValidateServiceRadius(150))
}
