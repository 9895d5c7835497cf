// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for proposal submission. Clients
// retry POSTs over flaky connections, and a duplicated submission would
// create a second pending proposal against the same request. The middleware
// validates an Idempotency-Key header, optionally performs a lookup to
// detect previously completed submissions, and annotates the request context
// so downstream handlers can:
//   - read the normalized key (GetIdempotencyKey)
//   - detect replayed requests (IsReplay)
//   - bypass rate limiting when a replay is served (internal flag)
//
// Transport concerns (validation, context stashing) stay here; persistence
// is decoupled behind the narrow IdempotencyLookup function type.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header clients use to convey an
// idempotency key for proposal submission.
//
// The value must be stable for a given semantic operation so that retries
// (network, client, or server initiated) deduplicate safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys used internally to stash idempotency state.
// Referenced via accessor helpers, never directly by handlers.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: true when a stored replay exists
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value reports presence.
//
// Handlers should prefer this over reading the header directly.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the middleware detected that this request would
// replay a previously completed submission for the same (user, request, key)
// tuple. Handlers and the rate limiter may short-circuit on it.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation for IdempotencyValidator.
// TTL enforcement belongs inside the provided lookup function, not here.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. If nil, a conservative
	// RFC7230-like token pattern is used: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// IdempotencyLookup answers whether a successful, still-valid result exists
// for (userID, requestID, key) at the given time. Implementations consult
// the idempotency table, which carries the previous response metadata and
// the TTL window.
//
// Return exists=true when the prior response can be replayed; return an
// error only for lookup failures (which must not block normal processing).
type IdempotencyLookup func(ctx context.Context, userID, requestID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header when present,
// stashes it in the request context, and optionally checks for a prior
// completed submission via lookup. On a hit it sets the replay and
// rate-bypass flags; the handler remains in control of serving the stored
// proposal.
//
// An absent header makes the middleware a no-op. A key that fails
// validation yields 400 with a compact error body.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		// RFC-7230-ish token + common safe chars.
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			uid := userIDFromCtx(c)
			requestID := c.Param("requestId") // POST /fulfillments/requests/:requestId
			now := time.Now().UTC()

			if exists, _ := lookup(c.Request.Context(), uid, requestID, key, now); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true) // let RL middleware skip limiting
			}
		}

		c.Next()
	}
}

// userIDFromCtx resolves the caller identity the same way the handlers do:
// the "userID" context key when an upstream middleware set it, otherwise the
// X-User-ID header. The final "demo-user" fallback matches the handlers so
// stored submissions and lookups key identically.
func userIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if s := c.GetHeader("X-User-ID"); s != "" {
		return s
	}
	return "demo-user"
}
