// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, a hardening middleware that attaches a
// conservative set of HTTP security headers suitable for a JSON API running
// behind a reverse proxy. It supports HSTS (when traffic is HTTPS
// end-to-end), cache controls for responses carrying contact details, and
// browser feature policies.
//
// Design notes:
//   - Safe defaults for APIs: no CSP here (only relevant when serving HTML)
//   - HSTS is opt-in and only applied when the request is actually HTTPS
//   - Header values are cheap to compute per request
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures the headers emitted by SecurityHeaders.
//
// EnableHSTS controls whether Strict-Transport-Security is sent for HTTPS
// requests (never for plain HTTP). Only enable when traffic is HTTPS
// end-to-end, including between the proxy and the app.
//
// HSTSMaxAge is the HSTS lifetime; 180 days is the default when unset.
//
// NoStore adds Cache-Control: no-store (plus legacy Pragma/Expires). The
// default server wiring leaves it off because the my-requests listing relies
// on ETag revalidation.
//
// EnablePolicy sends browser feature policies (Permissions-Policy and
// X-Permitted-Cross-Domain-Policies); they only matter to browsers and are
// harmless for other clients.
type SecurityOptions struct {
	EnableHSTS   bool          // set true only when traffic is HTTPS end-to-end
	HSTSMaxAge   time.Duration // e.g., 180 * 24h
	NoStore      bool          // add Cache-Control: no-store
	EnablePolicy bool          // include Permissions-Policy, etc.
}

// SecurityHeaders returns a Gin middleware that adds conservative HTTP
// security headers to each response.
//
// Always sets X-Content-Type-Options: nosniff, X-Frame-Options: DENY and
// Referrer-Policy: no-referrer. The remaining headers follow opt: feature
// policies under EnablePolicy, no-store cache headers under NoStore, and
// Strict-Transport-Security under EnableHSTS for HTTPS requests only. When
// an upstream middleware has set X-Request-ID, it is added to
// Access-Control-Expose-Headers so browser clients can correlate errors
// with server logs.
//
// Safe to use alongside the CORS and logging middlewares. Do not enable
// HSTS for localhost or when the proxy-to-app hop is plain HTTP.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds()) // 180 days default
	}
	hstsValue := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		// Baseline hardening for APIs.
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		// Responses carry contact data; keep them out of shared caches.
		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hstsValue)
		}

		if rid := h.Get("X-Request-ID"); rid != "" {
			exposeHeader(h, "X-Request-ID")
		}

		c.Next()
	}
}

// exposeHeader appends name to Access-Control-Expose-Headers without
// clobbering or duplicating existing entries.
func exposeHeader(h http.Header, name string) {
	const hdr = "Access-Control-Expose-Headers"
	cur := h.Get(hdr)
	switch {
	case cur == "":
		h.Set(hdr, name)
	case !strings.Contains(cur, name):
		h.Set(hdr, cur+", "+name)
	}
}

// isHTTPS reports whether the request used HTTPS either directly
// (r.TLS != nil) or via a reverse proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
