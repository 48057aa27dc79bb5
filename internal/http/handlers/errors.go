package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-loyalty-backend/internal/services"
)

// Error codes. Clients branch on these, never on messages.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeUnavailable      = "service_unavailable"

	// Domain-specific:
	ErrCodeValidation         = "validation_failed"
	ErrCodeInvalidTransition  = "invalid_transition"
	ErrCodeTooManyOrders      = "too_many_active_orders"
	ErrCodeNotAvailable       = "not_available"
	ErrCodeInsufficientPoints = "insufficient_points"
	ErrCodeAlreadyUsed        = "already_used_or_not_found"
)

// writeError maps a service error onto the envelope. Unknown errors become
// a 500 without leaking the cause to the client.
func writeError(c *gin.Context, err error) {
	var (
		te *services.TransitionError
		ip *services.InsufficientPointsError
		na *services.NotAvailableError
	)
	switch {
	case errors.As(err, &te):
		failWith(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error(), map[string]any{
			"order_id":       te.OrderID,
			"current_status": te.Current,
			"action":         te.Action,
			"raced":          te.Raced,
		})
	case errors.As(err, &ip):
		failWith(c, http.StatusUnprocessableEntity, ErrCodeInsufficientPoints, err.Error(), map[string]any{
			"required":  ip.Required,
			"available": ip.Available,
		})
	case errors.As(err, &na):
		failWith(c, http.StatusUnprocessableEntity, ErrCodeNotAvailable, err.Error(), map[string]any{
			"reward_id": na.RewardID,
			"reason":    na.Reason,
		})
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrInvalidAmount):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, services.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrTooManyActiveOrders):
		fail(c, http.StatusUnprocessableEntity, ErrCodeTooManyOrders, err.Error())
	case errors.Is(err, services.ErrNotAvailable):
		fail(c, http.StatusUnprocessableEntity, ErrCodeNotAvailable, err.Error())
	case errors.Is(err, services.ErrInsufficientPoints):
		fail(c, http.StatusUnprocessableEntity, ErrCodeInsufficientPoints, err.Error())
	case errors.Is(err, services.ErrAlreadyUsedOrNotFound):
		fail(c, http.StatusConflict, ErrCodeAlreadyUsed, err.Error())
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		_ = c.Error(err)
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "request timed out")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}
