// Package middleware contains the Gin middleware shared by the HTTP layer:
// correlation ids, actor headers, access logging, panic recovery, rate
// limiting, idempotency keys, security headers and Prometheus metrics.
//
// Recommended order: RequestID, Actors, Logger, Recovery, then the rest, so
// panics and rejections carry the request id and actor in the logs.
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
	requestIDKey      = "requestID"
	requestIDHeader   = "X-Request-ID"
	loggerKey         = "logger"
	maxQueryLogLength = 2048
)

// RequestID reuses an incoming X-Request-ID or mints a UUID, and echoes it
// on the response.
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

// RequestIDFrom returns the correlation id set by RequestID.
func RequestIDFrom(c *gin.Context) string { return c.GetString(requestIDKey) }

// LogOptions tunes Logger.
type LogOptions struct {
	// MaskHeaders are logged as [REDACTED] in addition to the built-in set.
	MaskHeaders []string
	// LogHeaders adds the (scrubbed) request headers to each access line.
	LogHeaders bool
}

// Logger emits one access line per request and attaches a request-scoped
// zerolog.Logger both to the Gin context and to the request context, so
// services reached through c.Request.Context() log with the same fields.
//
// Query strings are scrubbed of emails, phone numbers and redemption codes
// before logging. Level follows the outcome: error for 5xx or recorded
// errors, warn for 4xx, info otherwise.
func Logger(opts LogOptions) gin.HandlerFunc {
	rd := newRedactor(opts.MaskHeaders)
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		lc := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent())
		if q := c.Request.URL.RawQuery; q != "" {
			lc = lc.Str("query", truncate(rd.query(q), maxQueryLogLength))
		}
		if id := AccountID(c); id != "" {
			lc = lc.Str("account_id", id)
		}
		if id := StaffID(c); id != "" {
			lc = lc.Str("staff_id", id)
		}
		l := lc.Logger()

		c.Set(loggerKey, &l)
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		c.Next()

		ev := l.With().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int64("bytes_in", c.Request.ContentLength).
			Int("bytes_out", c.Writer.Size())
		if opts.LogHeaders {
			ev = ev.Interface("headers", rd.headers(c.Request.Header))
		}
		out := ev.Logger()

		status := c.Writer.Status()
		switch {
		case len(c.Errors) > 0:
			out.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			out.Error().Msg("request")
		case status >= 400:
			out.Warn().Msg("request")
		default:
			out.Info().Msg("request")
		}
	}
}

// Recovery turns a panic into a JSON 500 carrying the request id.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := RequestIDFrom(c)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global one when
// Logger did not run.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
