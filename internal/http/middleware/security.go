package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	EnableHSTS   bool          // only honoured on HTTPS requests
	HSTSMaxAge   time.Duration // default 180 days
	NoStore      bool          // Cache-Control: no-store unless the handler sets its own
	EnablePolicy bool          // Permissions-Policy and friends
}

// SecurityHeaders adds hardening headers suitable for a JSON API behind a
// proxy and exposes X-Request-ID and ETag to browser clients.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		exposeHeaders(h, requestIDHeader, "ETag")

		c.Next()
	}
}

// exposeHeaders appends names to Access-Control-Expose-Headers without
// duplicating entries already there.
func exposeHeaders(h http.Header, names ...string) {
	const key = "Access-Control-Expose-Headers"
	cur := h.Get(key)
	for _, n := range names {
		if strings.Contains(strings.ToLower(cur), strings.ToLower(n)) {
			continue
		}
		if cur == "" {
			cur = n
		} else {
			cur += ", " + n
		}
	}
	h.Set(key, cur)
}

func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
