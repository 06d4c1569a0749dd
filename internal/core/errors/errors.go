package errors

const (
	HttpInternalError         = "internal_error"
	HttpInvalidJsonError      = "invalid_json"
	HttpValidationError       = "validation_failed"
	HttpPayloadTooLargeError  = "payload_too_large"
	HttpInvalidQueryError     = "invalid_query"
	HttpServiceUnavailableErr = "service_unavailable"
)

// ErrorResponse is the error response body for ingestion and query errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
