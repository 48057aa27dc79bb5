package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecurity(opt SecurityOptions, req *http.Request, handler gin.HandlerFunc) *httptest.ResponseRecorder {
	r := newEngine(RequestID(), SecurityHeaders(opt))
	r.GET("/x", handler)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	w := serveSecurity(SecurityOptions{}, httptest.NewRequest(http.MethodGet, "/x", nil),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	h := w.Header()
	if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" || h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline headers: %v", h)
	}
	if h.Get("Strict-Transport-Security") != "" || h.Get("Cache-Control") != "" || h.Get("Permissions-Policy") != "" {
		t.Fatalf("optional headers set without opt-in: %v", h)
	}
	if got := h.Get("Access-Control-Expose-Headers"); got != "X-Request-ID, ETag" {
		t.Fatalf("expose=%q", got)
	}
}

func TestSecurityHeaders_OptIns(t *testing.T) {
	opt := SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour, NoStore: true, EnablePolicy: true}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.TLS = &tls.ConnectionState{}
	w := serveSecurity(opt, req, func(c *gin.Context) { c.Status(http.StatusOK) })
	h := w.Header()
	if h.Get("Strict-Transport-Security") != "max-age=3600; includeSubDomains; preload" {
		t.Fatalf("hsts=%q", h.Get("Strict-Transport-Security"))
	}
	if h.Get("Cache-Control") != "no-store" || h.Get("Permissions-Policy") == "" {
		t.Fatalf("opt-in headers: %v", h)
	}

	// plain HTTP never gets HSTS; a handler may relax caching
	w = serveSecurity(opt, httptest.NewRequest(http.MethodGet, "/x", nil), func(c *gin.Context) {
		c.Header("Cache-Control", "private, max-age=0")
		c.Status(http.StatusOK)
	})
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("hsts on plain http")
	}
	if w.Header().Get("Cache-Control") != "private, max-age=0" {
		t.Fatalf("handler cache-control lost: %q", w.Header().Get("Cache-Control"))
	}
}

func TestIsHTTPS_ForwardedProto(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if isHTTPS(req) {
		t.Fatal("plain request reported https")
	}
	req.Header.Set("X-Forwarded-Proto", "HTTPS")
	if !isHTTPS(req) {
		t.Fatal("forwarded https not detected")
	}
}

func TestExposeHeaders_NoDuplicates(t *testing.T) {
	h := http.Header{}
	h.Set("Access-Control-Expose-Headers", "etag")
	exposeHeaders(h, "X-Request-ID", "ETag")
	if got := h.Get("Access-Control-Expose-Headers"); got != "etag, X-Request-ID" {
		t.Fatalf("expose=%q", got)
	}
}
