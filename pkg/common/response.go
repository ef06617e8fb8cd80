package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the wire shape of a failed request:
//
//	{"error": {"code": "...", "message": "...", "field": "..."}}
//
// Successful dispatch turns return the Decision document directly, without
// an envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ErrorEnvelope wraps an ErrorBody for JSON encoding.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// JSONResponse sends an arbitrary payload with the given status.
func JSONResponse(c *gin.Context, statusCode int, payload interface{}) {
	c.JSON(statusCode, payload)
}

// RawJSONResponse writes pre-marshaled JSON bytes verbatim. Used for
// deduplicated replays, which must be byte-identical to the first answer.
func RawJSONResponse(c *gin.Context, statusCode int, body []byte) {
	c.Data(statusCode, "application/json; charset=utf-8", body)
}

// ErrorResponse sends an error envelope with the given status and code.
func ErrorResponse(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorEnvelope{Error: ErrorBody{Code: code, Message: message}})
}

// FieldErrorResponse sends an error envelope naming the offending field.
func FieldErrorResponse(c *gin.Context, statusCode int, code, message, field string) {
	c.JSON(statusCode, ErrorEnvelope{Error: ErrorBody{Code: code, Message: message, Field: field}})
}

// AppErrorResponse sends an AppError as the wire envelope.
func AppErrorResponse(c *gin.Context, err *AppError) {
	code := err.ErrorCode
	if code == "" {
		code = CodeInternalError
	}
	statusCode := err.Code
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	c.JSON(statusCode, ErrorEnvelope{Error: ErrorBody{
		Code:    code,
		Message: err.Message,
		Field:   err.Field,
	}})
}
