package ingestion

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	v1 "github.com/aevon-lab/event-aggregator/internal/api/v1"
	httperr "github.com/aevon-lab/event-aggregator/internal/core/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgProcessFailed  = "Failed to process event"

	headerRequestID = "X-Request-ID"
)

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// PublishResponse is returned by POST /publish.
type PublishResponse struct {
	Status    string `json:"status"`
	Topic     string `json:"topic"`
	EventID   string `json:"event_id"`
	Processed *bool  `json:"processed,omitempty"`
	Mode      string `json:"mode"`
	Message   string `json:"message"`
}

// BatchRequest is the body of POST /publish/batch.
type BatchRequest struct {
	Events []v1.RawEvent `json:"events"`
}

// BatchResponse is returned by POST /publish/batch.
type BatchResponse struct {
	Status     string    `json:"status"`
	Count      int       `json:"count"`
	Processed  int       `json:"processed"`
	Duplicates int       `json:"duplicates"`
	Mode       string    `json:"mode"`
	Message    string    `json:"message"`
	Results    []Outcome `json:"results"`
}

// PublishHandler handles POST /publish with a single event.
func (s *Service) PublishHandler(c *gin.Context) {
	requestID := tagRequest(c)

	var raw v1.RawEvent
	if err := s.bindBody(c, &raw); err != nil {
		writeError(c, err)
		return
	}

	res, err := s.Submit(c.Request.Context(), []v1.RawEvent{raw})
	if err != nil {
		writeError(c, submitError(requestID, err))
		return
	}

	out := res.Outcomes[0]
	slog.Info("[Ingestion] Event accepted",
		"request_id", requestID,
		"topic", out.Topic,
		"event_id", out.EventID,
		"mode", res.Mode)

	resp := PublishResponse{
		Status:    "accepted",
		Topic:     out.Topic,
		EventID:   out.EventID,
		Processed: out.Processed,
		Mode:      res.Mode,
	}
	switch {
	case res.Mode == ModeQueued:
		resp.Message = "Event queued for processing"
	case res.Processed == 1:
		resp.Message = "Event processed"
	default:
		resp.Message = "Duplicate event dropped"
	}

	c.JSON(statusFor(res), resp)
}

// PublishBatchHandler handles POST /publish/batch with {"events": [...]}.
func (s *Service) PublishBatchHandler(c *gin.Context) {
	requestID := tagRequest(c)

	var req BatchRequest
	if err := s.bindBody(c, &req); err != nil {
		writeError(c, err)
		return
	}

	res, err := s.Submit(c.Request.Context(), req.Events)
	if err != nil {
		writeError(c, submitError(requestID, err))
		return
	}

	slog.Info("[Ingestion] Batch accepted",
		"request_id", requestID,
		"count", len(res.Outcomes),
		"processed", res.Processed,
		"duplicates", res.Duplicates,
		"mode", res.Mode)

	resp := BatchResponse{
		Status:     "accepted",
		Count:      len(res.Outcomes),
		Processed:  res.Processed,
		Duplicates: res.Duplicates,
		Mode:       res.Mode,
		Results:    res.Outcomes,
	}
	if res.Mode == ModeQueued {
		resp.Message = fmt.Sprintf("%d events queued for processing", resp.Count)
	} else {
		resp.Message = fmt.Sprintf("%d events processed, %d duplicates dropped", res.Processed, res.Duplicates)
	}

	c.JSON(statusFor(res), resp)
}

// statusFor returns 202 when work was handed to the consumer and 200 when it
// already completed.
func statusFor(res *SubmitResult) int {
	if res.Mode == ModeQueued {
		return http.StatusAccepted
	}
	return http.StatusOK
}

func tagRequest(c *gin.Context) string {
	requestID := c.GetHeader(headerRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header(headerRequestID, requestID)
	return requestID
}

// bindBody reads the size-limited request body and binds it as JSON into dst.
func (s *Service) bindBody(c *gin.Context, dst interface{}) *ingestionError {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("[Ingestion] Failed to read request body", "error", err)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("[Ingestion] Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpPayloadTooLargeError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	if err := c.ShouldBindJSON(dst); err != nil {
		slog.Warn("[Ingestion] Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
			details:    err.Error(),
		}
	}
	return nil
}

// submitError maps a Submit failure onto the HTTP error shape.
func submitError(requestID string, err error) *ingestionError {
	var batchErr *BatchValidationError
	if errors.As(err, &batchErr) {
		details := map[string]interface{}{"index": batchErr.Index}
		var vErr *v1.ValidationError
		if errors.As(batchErr.Err, &vErr) {
			details["field"] = vErr.Field
			details["reason"] = vErr.Reason
		}
		slog.Warn("[Ingestion] Validation failed", "request_id", requestID, "error", err)
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    err.Error(),
			details:    details,
		}
	}

	if errors.Is(err, ErrEmptyBatch) {
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    err.Error(),
		}
	}

	slog.Error("[Ingestion] Failed to process submission", "request_id", requestID, "error", err)
	return &ingestionError{
		statusCode: http.StatusInternalServerError,
		errorType:  httperr.HttpInternalError,
		message:    msgProcessFailed,
	}
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
