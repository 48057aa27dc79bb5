// Package handlers provides the HTTP handlers of the loyalty API.
//
// This file defines the response helpers shared by every endpoint: a single
// error envelope with a stable `code`, and thin wrappers for success bodies.
// 5xx failures are logged with the request-scoped logger; 4xx are left to the
// access log.
//
// Example error response:
//
//	HTTP/1.1 422 Unprocessable Entity
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "insufficient_points",
//	  "message": "insufficient points: need 100, have 90",
//	  "details": {"required": 100, "available": 90}
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-loyalty-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message
	Message string `json:"message" example:"order not found"`
	// Structured figures for some codes, e.g. required/available points
	Details map[string]any `json:"details,omitempty" swaggertype:"object"`
}

// fail aborts the request with a structured error.
func fail(c *gin.Context, status int, code, msg string) {
	failWith(c, status, code, msg, nil)
}

func failWith(c *gin.Context, status int, code, msg string, details map[string]any) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
		Details:   details,
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail, used by the router for 404/405.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
