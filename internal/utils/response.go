// internal/utils/response.go
package utils

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"device-bridge/internal/model"
)

// Gin context keys. Handlers record the bridge outcome for the access log.
const (
	RequestIDKey = "request_id"
	ErrorKindKey = "bridge_error_kind"
	ExchangeKey  = "bridge_exchange"
)

// APIResponse represents standard API response structure
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError represents error information
type APIError struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Details   string          `json:"details,omitempty"`
	Kind      model.ErrorKind `json:"kind,omitempty"`
	Retryable bool            `json:"retryable"`
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	response := APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	}

	c.JSON(statusCode, response)
}

// ErrorResponse sends an error response
func ErrorResponse(c *gin.Context, statusCode int, message string, err error) {
	apiError := &APIError{
		Code:    getErrorCode(statusCode),
		Message: message,
	}

	if err != nil {
		apiError.Details = err.Error()
	}

	response := APIResponse{
		Success:   false,
		Message:   message,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	}

	c.JSON(statusCode, response)
}

// BridgeErrorResponse sends a translated bridge error. The status and retry
// hint come from the caller so the envelope stays independent of the mapping.
func BridgeErrorResponse(c *gin.Context, statusCode int, retryable bool, err *model.BridgeError) {
	apiError := &APIError{
		Code:      string(err.Kind),
		Message:   bridgeErrorMessage(err.Kind),
		Details:   err.Detail,
		Kind:      err.Kind,
		Retryable: retryable,
	}

	response := APIResponse{
		Success:   false,
		Message:   apiError.Message,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	}

	c.Set(ErrorKindKey, err.Kind)
	c.JSON(statusCode, response)
}

// ValidationErrorResponse rejects invalid request parameters as a malformed
// request and lists the problem for each parameter
func ValidationErrorResponse(c *gin.Context, invalid map[string]string) {
	names := make([]string, 0, len(invalid))
	for name := range invalid {
		names = append(names, name)
	}
	sort.Strings(names)

	apiError := &APIError{
		Code:    string(model.ErrorKindMalformedRequest),
		Message: bridgeErrorMessage(model.ErrorKindMalformedRequest),
		Details: "invalid parameters: " + strings.Join(names, ", "),
		Kind:    model.ErrorKindMalformedRequest,
	}

	response := APIResponse{
		Success:   false,
		Message:   apiError.Message,
		Error:     apiError,
		Data:      gin.H{"validation_errors": invalid},
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	}

	c.Set(ErrorKindKey, model.ErrorKindMalformedRequest)
	c.JSON(http.StatusBadRequest, response)
}

// getRequestID extracts request ID from context
func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(RequestIDKey); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}

func bridgeErrorMessage(kind model.ErrorKind) string {
	switch kind {
	case model.ErrorKindConnectFailed:
		return "Device unreachable"
	case model.ErrorKindTimeout:
		return "Device did not answer in time"
	case model.ErrorKindMalformedRequest:
		return "Invalid request"
	case model.ErrorKindMalformedDeviceReply:
		return "Device sent an invalid reply"
	case model.ErrorKindDeviceRejected:
		return "Device rejected the request"
	default:
		return "Internal error"
	}
}

// getErrorCode returns error code based on HTTP status
func getErrorCode(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusTooManyRequests:
		return "RATE_LIMIT_EXCEEDED"
	case http.StatusInternalServerError:
		return "INTERNAL_SERVER_ERROR"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "UNKNOWN_ERROR"
	}
}
