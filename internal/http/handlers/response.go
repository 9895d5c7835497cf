// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all endpoints,
// including structured error envelopes, consistent JSON serialization, and the
// mapping from service sentinel errors to HTTP statuses. The goal is to
// guarantee uniform responses for both success and failure cases, making the
// API predictable and machine-friendly.
//
// Conventions:
//   - All error responses must return an ErrorResponse with a stable `code`.
//   - `fail()` centralizes error logging and formatting, ensuring 5xx responses
//     are logged with request context for observability.
//   - `failErr()` translates service errors (NotFound/Forbidden/Conflict/
//     validation sentinels) so individual handlers never switch on them.
//   - `ok()` and `noContent()` simplify writing success responses in a
//     consistent shape across handlers.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "conflict",
//	  "message": "insufficient remaining capacity"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dopomoha/aid-backend/internal/http/middleware"
	"github.com/dopomoha/aid-backend/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
//
// Fields:
//   - RequestID: Optional correlation ID, echoed from X-Request-ID header, used
//     to correlate server logs with client-side errors.
//   - Code: A stable, machine-readable string (see errors.go constants).
//   - Message: A human-readable error description, safe for display to users.
//   - Fields: Present only for validation_failed; one entry per violated field.
//
// This struct is used in OpenAPI documentation via Swagger annotations.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"conflict"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"insufficient remaining capacity"`
	// Per-field violations, validation errors only
	Fields []services.FieldError `json:"fields,omitempty"`
}

// fail aborts the request with a structured error and logs server-side errors.
//
// It constructs an ErrorResponse, writes it as JSON with the given HTTP status,
// and calls gin.Context.AbortWithStatusJSON to stop further processing.
//
// Server errors (>=500) are logged using the request-scoped logger from middleware.
func fail(c *gin.Context, status int, code, msg string) {
	reqID := c.Writer.Header().Get("X-Request-ID")
	resp := ErrorResponse{
		RequestID: reqID,
		Code:      code,
		Message:   msg,
	}

	// Log 5xx (server-side) with request-scoped logger
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail().
//
// External packages (e.g., router setup) should call Fail to return
// consistent error envelopes without directly depending on unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failValidation writes a 400 with the full list of field violations.
func failValidation(c *gin.Context, ve *services.ValidationError) {
	reqID := c.Writer.Header().Get("X-Request-ID")
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		RequestID: reqID,
		Code:      ErrCodeValidationFailed,
		Message:   "validation failed",
		Fields:    ve.Fields,
	})
}

// failErr maps a service error to its HTTP response. Every handler funnels
// service errors through here so the taxonomy stays in one place.
func failErr(c *gin.Context, err error) {
	var ve *services.ValidationError
	if errors.As(err, &ve) {
		failValidation(c, ve)
		return
	}

	switch {
	case errors.Is(err, services.ErrRequestNotFound),
		errors.Is(err, services.ErrFulfillmentNotFound),
		errors.Is(err, services.ErrDeliveryNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrNotAuthor),
		errors.Is(err, services.ErrNotVolunteer),
		errors.Is(err, services.ErrNotCourier):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrDeliveryTaken):
		fail(c, http.StatusConflict, ErrCodeDeliveryTaken, err.Error())
	case errors.Is(err, services.ErrRequestClosed),
		errors.Is(err, services.ErrInsufficientCapacity),
		errors.Is(err, services.ErrFulfillmentNotPending),
		errors.Is(err, services.ErrFulfillmentNotActive),
		errors.Is(err, services.ErrCourierStepPending),
		errors.Is(err, services.ErrActiveCommitments),
		errors.Is(err, services.ErrOwnRequest),
		errors.Is(err, services.ErrDeliveryNotActive),
		errors.Is(err, services.ErrDeliveryExists),
		errors.Is(err, services.ErrNoCourierNeeded):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// ok writes a success JSON response.
//
// It serializes `body` as JSON with the given HTTP status code.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
//
// Used when the operation succeeds but there is no response body.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
