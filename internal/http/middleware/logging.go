// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the request ID injector, the structured access logger
// and a panic-safe recovery handler:
//
//   - RequestID() gives every request a stable correlation ID, propagated
//     via X-Request-ID and stored in the Gin context.
//   - Logger() emits structured access logs and attaches a request-scoped
//     zerolog.Logger so handlers and services can tag their own events,
//     e.g. lg.Info().Str("delivery_id", id).Msg("delivery taken").
//   - Recovery() converts panics into JSON 500 responses, keeping the
//     correlation ID and writing the stack trace to the logs.
//   - LoggerFrom() retrieves the request-scoped logger.
//
// Install in the order RequestID, Logger (or RedactingLogger), Recovery so
// panics and errors carry the correlation ID. Query strings are capped in
// logs to avoid bloat. The request-scoped logger lives under the "logger"
// context key.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
	// loggerKey is the Gin context key for the request-scoped logger.
	loggerKey = "logger"
	// maxQueryLogLength caps the number of bytes of raw query string logged.
	maxQueryLogLength = 2048
)

// RequestID attaches (or propagates) a correlation identifier per request.
//
// An incoming X-Request-ID is reused (header lookup is case-insensitive);
// otherwise a fresh UUIDv4 is generated. The ID is written back to the
// response header and stored in the Gin context under "requestID".
//
// Place this early in the chain so later middleware and handlers can rely
// on the ID for logging and error envelopes.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger writes a structured access log for each request and response.
//
// It records method, route (raw URL when unmatched), remote IP, UA,
// referer, correlation ID, caller ID when present, request size, status,
// latency and bytes written. A request-scoped zerolog.Logger is stored in
// the context under "logger" so domain code can emit enriched events tied
// to the same request. Outcome selects the level: error for 5xx or when
// the Gin context collected errors, warn for 4xx, info otherwise.
//
// Place after RequestID() so logs include the correlation ID.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		uid, _ := c.Get("userID")
		path := c.FullPath()
		if path == "" {
			// Route not matched / 404.
			path = c.Request.URL.Path
		}

		l := log.With().
			Str("request_id", asString(rid)).
			Str("user_id", asString(uid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("referer", c.Request.Referer()).
			Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
			// ContentLength can be -1 if unknown.
			Int64("bytes_in", c.Request.ContentLength).
			Logger()

		c.Set(loggerKey, &l)

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		bytesOut := c.Writer.Size()

		ev := l.With().
			Int("status", status).
			Dur("latency", latency).
			Int("bytes_out", bytesOut).
			Logger()

		switch {
		// Gin-collected errors win over the status code.
		case len(c.Errors) > 0:
			ev.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			ev.Error().Msg("request")
		case status >= 400:
			ev.Warn().Msg("request")
		default:
			ev.Info().Msg("request")
		}
	}
}

// Recovery intercepts panics, logs a stack trace, and returns a JSON 500.
//
// When nothing has been written yet it emits the standard error envelope
// { "request_id": "...", "code": "internal_error", "message": "internal
// server error" } and keeps the X-Request-ID header on the response.
// After a partial write it can only abort with the status code.
//
// Place after Logger() so the panic is captured with structured context.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid, _ := c.Get(requestIDKey)
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", asString(rid)).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.Header(requestIDHeader, asString(rid))
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": asString(rid),
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger. When Logger() did
// not run, a plain fallback logger is returned, so callers never need nil
// checks.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// asString converts a context value to a string, empty when it is not one.
func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes, appending an ellipsis. max <= 0 disables
// truncation. Byte-level slicing is acceptable for log output.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
