// Package services defines the business logic for orders, the points ledger,
// rewards and staff. This file centralizes service-level error values so that
// they can be consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
)

// Generic errors.
var (
	// ErrValidation is returned when input fails basic validation.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is the parent of every "X not found" error below.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates that a concurrent writer won a race.
	ErrConflict = errors.New("concurrent update")

	// ErrForbidden is returned when the actor may not perform the operation.
	ErrForbidden = errors.New("forbidden")
)

// Order errors.
var (
	// ErrOrderNotFound indicates that the requested order does not exist.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)

	// ErrInvalidTransition is returned when an action is not legal from the
	// order's current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrTooManyActiveOrders is returned when the account already holds the
	// maximum number of orders awaiting fulfillment.
	ErrTooManyActiveOrders = errors.New("too many active orders")

	// ErrNotAvailable is the parent of availability failures (catalog items,
	// rewards).
	ErrNotAvailable = errors.New("not available")

	// ErrItemUnavailable is returned when a requested catalog item is missing
	// or switched off.
	ErrItemUnavailable = fmt.Errorf("item %w", ErrNotAvailable)
)

// Ledger errors.
var (
	// ErrAccountNotFound indicates that the account does not exist.
	ErrAccountNotFound = fmt.Errorf("account %w", ErrNotFound)

	// ErrInsufficientPoints is returned when a debit exceeds the balance.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrInvalidAmount is returned for non-positive point amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Redemption errors.
var (
	// ErrRewardNotFound indicates that the reward does not exist.
	ErrRewardNotFound = fmt.Errorf("reward %w", ErrNotFound)

	// ErrRedemptionNotFound indicates that no redemption matches the code.
	ErrRedemptionNotFound = fmt.Errorf("redemption %w", ErrNotFound)

	// ErrAlreadyUsedOrNotFound is returned by ConfirmUse when the code does
	// not name a pending redemption, including when another confirmation
	// won the race.
	ErrAlreadyUsedOrNotFound = errors.New("redemption already used or not found")
)

// Staff errors.
var (
	// ErrStaffNotFound indicates that the staff member does not exist.
	ErrStaffNotFound = fmt.Errorf("staff %w", ErrNotFound)

	// ErrStaffInactive is returned when a disabled staff member acts.
	ErrStaffInactive = fmt.Errorf("staff inactive: %w", ErrForbidden)

	// ErrUnknownSession is returned for chat sessions not bound to staff.
	ErrUnknownSession = fmt.Errorf("session not linked: %w", ErrForbidden)

	// ErrOffDuty is returned when an off-duty session tries to act.
	ErrOffDuty = fmt.Errorf("session off duty: %w", ErrForbidden)
)

// TransitionError reports a rejected order transition together with the
// status the order was actually in.
type TransitionError struct {
	OrderID string
	Current domain.OrderStatus
	Action  domain.OrderAction
	// Raced is set when the action was legal on the caller's read but a
	// concurrent writer moved the order first.
	Raced bool
}

func (e *TransitionError) Error() string {
	if e.Raced {
		return fmt.Sprintf("cannot %s order %s: moved to %s concurrently", e.Action, e.OrderID, e.Current)
	}
	return fmt.Sprintf("cannot %s order %s in status %s", e.Action, e.OrderID, e.Current)
}

// Is matches ErrInvalidTransition, and ErrConflict when Raced.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition || (e.Raced && target == ErrConflict)
}

// InsufficientPointsError carries the figures behind a failed debit.
type InsufficientPointsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: need %d, have %d", e.Required, e.Available)
}

// Is matches ErrInsufficientPoints.
func (e *InsufficientPointsError) Is(target error) bool { return target == ErrInsufficientPoints }

// NotAvailableError explains why a reward cannot be redeemed.
type NotAvailableError struct {
	RewardID string
	Reason   string
}

func (e *NotAvailableError) Error() string {
	return fmt.Sprintf("reward %s not available: %s", e.RewardID, e.Reason)
}

// Is matches ErrNotAvailable.
func (e *NotAvailableError) Is(target error) bool { return target == ErrNotAvailable }

// Reasons carried by NotAvailableError.
const (
	ReasonDisabled   = "disabled"
	ReasonOutOfStock = "out_of_stock"
)
