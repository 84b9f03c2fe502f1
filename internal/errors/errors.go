// Package errors defines the error types shared by the CLI and the HTTP
// server: HTTP error envelopes and process exit errors.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes used in HTTP responses.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
)

// HTTPError is the body of an error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPError under an "error" key.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// AppError is an error carrying an HTTP status and a stable code.
type AppError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	c := *e
	c.Details = details
	return &c
}

// NewBadRequest reports invalid client input.
func NewBadRequest(message string, err error) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message, Err: err}
}

// NewNotFound reports a missing resource.
func NewNotFound(message string) *AppError {
	return &AppError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

// NewServiceUnavailable reports a dependency that is not ready.
func NewServiceUnavailable(message string, err error) *AppError {
	return &AppError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Err: err}
}

// NewExternalServiceError reports a failing external dependency.
func NewExternalServiceError(message string) *AppError {
	return &AppError{Status: http.StatusBadGateway, Code: CodeExternalService, Message: message}
}

// WrapInternal wraps err as an internal error. The request id carried by
// ctx, if any, is attached to the details.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	e := &AppError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: message, Err: err}
	if id := RequestIDFromContext(ctx); id != "" {
		e.Details = map[string]any{"request_id": id}
	}
	return e
}

// RespondWithError writes err as a JSON error response. Errors that are not
// an *AppError become 500 INTERNAL_ERROR without leaking their text.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		appErr = &AppError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal server error"}
	}

	body := HTTPErrorResponse{Error: HTTPError{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	}}
	if r != nil {
		body.Error.RequestID = RequestIDFromContext(r.Context())
	}
	WriteJSON(w, appErr.Status, body)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NotFoundHandler responds 404 NOT_FOUND.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	RespondWithError(w, r, NewNotFound(fmt.Sprintf("no route for %s", r.URL.Path)))
}

// MethodNotAllowedHandler responds 405 METHOD_NOT_ALLOWED.
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	RespondWithError(w, r, &AppError{
		Status:  http.StatusMethodNotAllowed,
		Code:    CodeMethodNotAllowed,
		Message: fmt.Sprintf("method %s not allowed for %s", r.Method, r.URL.Path),
	})
}

type requestIDKey struct{}

// WithRequestID returns a context carrying a request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
