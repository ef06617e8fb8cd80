package common

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/fieldline/dispatch/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// HandleServiceError handles service errors with consistent patterns.
// Returns true if an error was handled (and response was sent), false otherwise.
//
// Usage:
//
//	decision, err := h.service.Process(ctx, req)
//	if HandleServiceError(c, err, "failed to process turn") {
//	    return
//	}
func HandleServiceError(c *gin.Context, err error, fallbackMessage string) bool {
	if err == nil {
		return false
	}

	// Check for AppError first (typed business errors)
	var appErr *AppError
	if errors.As(err, &appErr) {
		AppErrorResponse(c, appErr)
		return true
	}

	// Log the unexpected error for debugging
	logger.ErrorContext(c.Request.Context(), fallbackMessage,
		zap.Error(err),
	)

	ErrorResponse(c, http.StatusInternalServerError, CodeInternalError, fallbackMessage)
	return true
}

// BindJSON binds the JSON request body and sends the right error class on
// failure: 400 for bodies that are not parseable JSON at all, 422 when the
// JSON is fine but a field rule fails. Returns true on success.
//
// Usage:
//
//	var req models.DispatchRequest
//	if !BindJSON(c, &req) {
//	    return
//	}
func BindJSON(c *gin.Context, obj interface{}) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		ErrorResponse(c, http.StatusRequestEntityTooLarge, CodePayloadTooLarge,
			"request body exceeds the size limit")
		return false
	}

	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		fe := fieldErrors[0]
		FieldErrorResponse(c, http.StatusUnprocessableEntity, CodeValidationFailed,
			validationMessage(fe), fe.Field())
		return false
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		// Wrong JSON type for a known field is a validation problem, not a
		// malformed document.
		FieldErrorResponse(c, http.StatusUnprocessableEntity, CodeValidationFailed,
			"unexpected type for field "+typeErr.Field, typeErr.Field)
		return false
	}

	if errors.Is(err, io.EOF) {
		ErrorResponse(c, http.StatusBadRequest, CodeInvalidRequest, "request body is empty")
		return false
	}

	ErrorResponse(c, http.StatusBadRequest, CodeInvalidRequest, "request body is not valid JSON")
	return false
}

// NoRouteHandler answers unknown paths with the standard envelope.
func NoRouteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ErrorResponse(c, http.StatusNotFound, CodeNotFound, "route not found")
	}
}

// NoMethodHandler answers known paths hit with the wrong verb.
func NoMethodHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ErrorResponse(c, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
	}
}

// validationMessage renders a short human-readable reason for a field failure.
func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "e164":
		return fe.Field() + " must be an E.164 phone number"
	case "hhmm":
		return fe.Field() + " must be a HH:MM clock value"
	case "trade":
		return fe.Field() + " is not a supported trade"
	case "min", "gte":
		return fe.Field() + " is below the allowed minimum"
	case "max", "lte":
		return fe.Field() + " exceeds the allowed maximum"
	case "latitude", "longitude":
		return fe.Field() + " is out of range"
	default:
		return strings.TrimSpace(fe.Field() + " failed " + fe.Tag() + " validation")
	}
}
