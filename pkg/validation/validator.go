package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	// Validate is the global validator instance
	Validate *validator.Validate

	phoneRegex = regexp.MustCompile(`^\+\d{10,15}$`) // E.164, plus sign required
	hhmmRegex  = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

func init() {
	Validate = validator.New()
	register(Validate)

	// gin binds request structs through its own validator engine; the
	// custom rules have to exist there too.
	if engine, ok := binding.Validator.Engine().(*validator.Validate); ok {
		register(engine)
	}
}

func register(v *validator.Validate) {
	v.RegisterTagNameFunc(jsonFieldName)

	_ = v.RegisterValidation("latitude", validateLatitude)
	_ = v.RegisterValidation("longitude", validateLongitude)
	_ = v.RegisterValidation("e164", validateE164)
	_ = v.RegisterValidation("hhmm", validateHHMM)
	_ = v.RegisterValidation("trade", validateTrade)
	_ = v.RegisterValidation("urgency_band", validateUrgencyBand)
}

// jsonFieldName reports validation failures by wire name, not Go name.
func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}

// ValidateStruct validates a struct and returns the first field failure.
func ValidateStruct(s interface{}) error {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}
	if fieldErrors, ok := err.(validator.ValidationErrors); ok && len(fieldErrors) > 0 {
		fe := fieldErrors[0]
		return &FieldError{Field: fe.Field(), Rule: fe.Tag()}
	}
	return err
}

// FieldError names the first offending field and the rule it broke.
type FieldError struct {
	Field string
	Rule  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s failed %s validation", e.Field, e.Rule)
}

// validateLatitude checks if latitude is within valid range (-90 to 90)
func validateLatitude(fl validator.FieldLevel) bool {
	latitude := fl.Field().Float()
	return latitude >= -90.0 && latitude <= 90.0
}

// validateLongitude checks if longitude is within valid range (-180 to 180)
func validateLongitude(fl validator.FieldLevel) bool {
	longitude := fl.Field().Float()
	return longitude >= -180.0 && longitude <= 180.0
}

// validateE164 checks phone numbers against the strict E.164 form with a
// mandatory leading plus and 10-15 digits.
func validateE164(fl validator.FieldLevel) bool {
	return phoneRegex.MatchString(fl.Field().String())
}

// validateHHMM checks 24h clock strings like "08:00" or "19:30".
func validateHHMM(fl validator.FieldLevel) bool {
	return hhmmRegex.MatchString(fl.Field().String())
}

// validateTrade checks the supported service verticals.
func validateTrade(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "plumbing", "electrical", "hvac", "locksmith", "garage_door":
		return true
	}
	return false
}

// validateUrgencyBand checks extracted urgency values.
func validateUrgencyBand(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "emergency", "urgent", "normal":
		return true
	}
	return false
}

// ValidatePhoneNumber validates phone number format
func ValidatePhoneNumber(phone string) bool {
	return phoneRegex.MatchString(strings.TrimSpace(phone))
}

// ValidateHours validates a HH:MM clock string
func ValidateHours(clock string) bool {
	return hhmmRegex.MatchString(clock)
}

// ValidateCoordinates validates latitude and longitude
func ValidateCoordinates(latitude, longitude float64) error {
	if latitude < -90.0 || latitude > 90.0 {
		return fmt.Errorf("latitude must be between -90 and 90, got: %f", latitude)
	}
	if longitude < -180.0 || longitude > 180.0 {
		return fmt.Errorf("longitude must be between -180 and 180, got: %f", longitude)
	}
	return nil
}

// ValidateServiceRadius validates the service area radius in miles
func ValidateServiceRadius(miles float64) error {
	if miles < 1 || miles > 100 {
		return fmt.Errorf("service radius must be between 1 and 100 miles, got: %f", miles)
	}
	return nil
}
