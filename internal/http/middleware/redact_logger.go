// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, a structured access logger that
// scrubs personal data from request metadata before it reaches the logs.
// Help requests carry contact phone numbers and the caller identity rides
// the X-User-ID header, so the raw request line is never safe to log as-is.
//
// Design goals:
//   - Default-safe: never logs request or response bodies
//   - Redacts emails, phone numbers and UUID-like identifiers
//   - Masks sensitive headers (Authorization, Cookie, Set-Cookie, X-User-ID,
//     plus any custom ones)
//   - Emits structured JSON via zerolog
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Api-Key"},
//	}))
//
// Scrubbing reduces but does not eliminate the risk of personal data
// leaking to logs; clients should still keep contact details out of query
// strings where possible.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders lists extra HTTP header names whose values are fully replaced
// with "[REDACTED]". Matching is case-insensitive and merged with the
// built-in sensitive headers ("Authorization", "Cookie", "Set-Cookie",
// "X-User-ID").
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger returns a Gin middleware that logs HTTP requests with
// sensitive values scrubbed.
//
// It logs method, route pattern, query string, status, response size,
// latency and request headers. Regex substitution redacts email addresses,
// phone numbers and UUIDs from query strings and header values; masked
// headers are replaced wholesale. Severity is info by default, warn for
// 4xx and error for 5xx.
//
// NOTE: UUIDs are redacted *before* phone numbers so the loose phone
// pattern cannot match the digit segments of a UUID.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	uuidRE := regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE := regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits-only phone pattern, loose enough for the formats contact
	// fields arrive in: "+380501234567", "+380 50 123 45 67", "050-123-45-67".
	phoneRE := regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{2,4}(?:[ .-]?\d{2})?\b`)

	scrub := func(s string) string {
		if s == "" {
			return s
		}
		out := s
		// Order matters: IDs, then email, then phone (phone is the loosest).
		out = uuidRE.ReplaceAllString(out, "[REDACTED:id]")
		out = emailRE.ReplaceAllString(out, "[REDACTED:email]")
		out = phoneRE.ReplaceAllString(out, "[REDACTED:phone]")
		return out
	}

	masked := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
		"x-user-id":     {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := scrub(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			val := strings.Join(vv, ", ")
			if _, ok := masked[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = scrub(val)
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		size := c.Writer.Size()

		reqID := c.Writer.Header().Get("X-Request-ID")
		if reqID == "" {
			reqID = c.GetHeader("X-Request-ID")
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", size).
			Dur("latency", latency).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
