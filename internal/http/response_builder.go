// This file implements the builder for JSON responses and the mapping from
// domain errors to status codes.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"bizledger/internal/core"
	applog "bizledger/internal/log"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	payload    any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Data sets the value encoded as the response body.
func (b *JSONResponseBuilder) Data(v any) *JSONResponseBuilder {
	b.payload = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.payload == nil || b.statusCode == http.StatusNoContent {
		w.WriteHeader(b.statusCode)
		return
	}
	body, err := json.Marshal(b.payload)
	if err != nil {
		http.Error(w, `{"error":{"code":"internal","message":"encode response"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(body, '\n'))
}

// Error codes carried in error bodies.
const (
	CodeNotFound    = "not_found"
	CodeValidation  = "validation_failed"
	CodeConflict    = "conflict"
	CodeConsistency = "consistency_failure"
	CodeInternal    = "internal"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, code, message, field string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Data(errorBody{Error: errorDetail{Code: code, Message: message, Field: field}})
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, CodeNotFound, message, "")
}

// UnprocessableEntityError creates a 422 Unprocessable Entity error response.
func UnprocessableEntityError(message, field string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnprocessableEntity, CodeValidation, message, field)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, CodeInternal, message, "")
}

// ErrorFor maps a service error to its response. A consistency failure
// caused by contention is a 503 the client may retry; any other one (a
// drifted accumulator) is a 500 that needs reconciliation first.
func ErrorFor(err error) *JSONResponseBuilder {
	var (
		validation  *core.ValidationError
		notFound    *core.NotFoundError
		conflict    *core.ConflictError
		consistency *core.ConsistencyError
	)
	switch {
	case errors.As(err, &consistency) && core.IsTransient(consistency):
		return ErrorResponse(http.StatusServiceUnavailable, CodeConsistency, consistency.Error(), "").
			Header("Retry-After", "1")
	case errors.As(err, &consistency):
		return ErrorResponse(http.StatusInternalServerError, CodeConsistency, consistency.Error(), "")
	case errors.As(err, &validation):
		return UnprocessableEntityError(validation.Error(), validation.Field)
	case errors.Is(err, core.ErrValidation):
		return UnprocessableEntityError(err.Error(), "")
	case errors.As(err, &notFound):
		return NotFoundError(notFound.Error())
	case errors.Is(err, core.ErrNotFound):
		return NotFoundError(err.Error())
	case errors.As(err, &conflict):
		return ErrorResponse(http.StatusConflict, CodeConflict, conflict.Error(), "")
	case errors.Is(err, core.ErrConflict):
		return ErrorResponse(http.StatusConflict, CodeConflict, err.Error(), "")
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorResponse(http.StatusGatewayTimeout, CodeInternal, "request timed out", "")
	default:
		return InternalServerError("internal error")
	}
}

// writeError logs err with the request logger and writes its response.
// Client errors are logged at debug level.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := ErrorFor(err)
	logger := applog.FromContext(r.Context())
	if resp.statusCode >= http.StatusInternalServerError {
		applog.NewStructuredLogger(logger).LogError(r.Context(), "Request failed", err,
			applog.ComponentHTTP, op, applog.NewFields().WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.UserAgent()))
	} else {
		logger.DebugContext(r.Context(), "Request rejected",
			applog.FieldOperation, op, applog.FieldPath, r.URL.Path, applog.FieldError, err)
	}
	resp.Write(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	NewJSONResponse().Status(status).Data(v).Write(w)
}
