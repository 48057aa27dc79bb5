// Package services – FulfillmentService
//
// FulfillmentService is the only writer of order status. Every transition is
// a single compare-and-set UPDATE guarded by the status the caller observed,
// so concurrent requests for the same order serialize on the row: exactly
// one wins, the rest see either "already in state" or a conflict.
//
// Completing an order credits its points to the placing account inside the
// same transaction as the status change; the UPDATE additionally requires
// points_earned to be unset, so the credit happens at most once.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
	"github.com/tbourn/go-loyalty-backend/internal/observability"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
)

// Defaults for the pending-order sweeper.
const (
	DefaultPendingTTL    = 30 * time.Minute
	DefaultSweepInterval = time.Minute
	sweepBatch           = 100
	maxReasonRunes       = 280
)

// FulfillmentService applies status transitions to orders.
type FulfillmentService struct {
	DB     *gorm.DB
	Ledger *LedgerService
	Staff  StaffDirectory
	Notify *Dispatcher

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewFulfillmentService constructs a FulfillmentService.
func NewFulfillmentService(db *gorm.DB, ledger *LedgerService, staff StaffDirectory, notify *Dispatcher) *FulfillmentService {
	return &FulfillmentService{
		DB:     db,
		Ledger: ledger,
		Staff:  staff,
		Notify: notify,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// ApplyTransition moves an order along the status machine on behalf of
// actor. Requesting the status the order is already in succeeds with
// Applied=false.
func (s *FulfillmentService) ApplyTransition(ctx context.Context, orderID string, action domain.OrderAction, actor domain.Actor, extra domain.TransitionExtra) (*domain.TransitionResult, error) {
	ctx, span := otel.Tracer("services/FulfillmentService").Start(ctx, "ApplyTransition",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("action", string(action)),
			attribute.String("actor.kind", string(actor.Kind)),
		),
	)
	defer span.End()

	res, err := s.applyTransition(ctx, orderID, action, actor, extra)
	switch {
	case err == nil && res.Applied:
		observability.ObserveTransition(string(action), observability.OutcomeApplied)
	case err == nil:
		observability.ObserveTransition(string(action), observability.OutcomeAlready)
	case errors.Is(err, ErrConflict):
		observability.ObserveTransition(string(action), observability.OutcomeConflict)
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrForbidden), errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		observability.ObserveTransition(string(action), observability.OutcomeRejected)
	default:
		observability.ObserveTransition(string(action), observability.OutcomeError)
	}
	if err != nil {
		return nil, err
	}

	l := logger(ctx).With().
		Str("order_id", res.Order.ID).
		Str("action", string(action)).
		Str("actor", actor.DisplayName()).
		Logger()
	if !res.Applied {
		l.Debug().Str("status", string(res.Order.Status)).Msg("order already in requested state")
		return res, nil
	}
	l.Info().Str("from", string(res.Previous)).Str("to", string(res.Order.Status)).Msg("order transition applied")

	snapshot := *res.Order
	s.Notify.Go(ctx, "transition", func(ctx context.Context, n Notifier) error {
		return n.NotifyTransition(ctx, &snapshot, actor)
	})
	return res, nil
}

func (s *FulfillmentService) applyTransition(ctx context.Context, orderID string, action domain.OrderAction, actor domain.Actor, extra domain.TransitionExtra) (*domain.TransitionResult, error) {
	target, ok := domain.TargetOf(action)
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}
	if action.IsStaffAction() {
		if err := s.authorizeStaff(ctx, &actor); err != nil {
			return nil, err
		}
	}

	reason := strings.TrimSpace(extra.Reason)
	if len([]rune(reason)) > maxReasonRunes {
		reason = string([]rune(reason)[:maxReasonRunes])
	}

	var result *domain.TransitionResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := repo.GetOrder(ctx, tx, orderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if action == domain.ActionCancel {
			if err := authorizeCancel(o, actor); err != nil {
				return err
			}
		}

		prev := o.Status
		if prev == target {
			result = &domain.TransitionResult{Order: o, Applied: false, Previous: prev}
			return nil
		}
		if _, ok := domain.Transition(prev, action); !ok {
			return &TransitionError{OrderID: o.ID, Current: prev, Action: action}
		}

		at := s.now()
		if at.Before(o.UpdatedAt) {
			// keeps per-order timestamps monotonic under clock skew
			at = o.UpdatedAt
		}
		ch := repo.StatusChange{ID: o.ID, From: prev, To: target, At: at}
		var credit int64
		switch action {
		case domain.ActionApprove:
			id := actor.ID
			ch.AssignedStaffID = &id
		case domain.ActionReject:
			if reason != "" {
				ch.RejectionReason = &reason
			}
		case domain.ActionComplete:
			if o.AccountID != nil {
				credit = o.PointsToEarn
			}
			earned := credit
			ch.PointsEarned = &earned
		}

		won, err := repo.ApplyStatusChange(ctx, tx, ch)
		if err != nil {
			return err
		}
		if !won {
			cur, err := repo.GetOrder(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if cur.Status == target {
				result = &domain.TransitionResult{Order: cur, Applied: false, Previous: cur.Status}
				return nil
			}
			return &TransitionError{OrderID: o.ID, Current: cur.Status, Action: action, Raced: true}
		}

		if credit > 0 && s.Ledger != nil {
			if _, err := s.Ledger.CreditTx(ctx, tx, *o.AccountID, credit, domain.ReasonOrderCompleted, domain.OrderRef(o.ID)); err != nil {
				return err
			}
		}

		updated, err := repo.GetOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		result = &domain.TransitionResult{Order: updated, Applied: true, Previous: prev}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *FulfillmentService) authorizeStaff(ctx context.Context, actor *domain.Actor) error {
	if actor.Kind != domain.ActorStaff {
		return fmt.Errorf("%w: staff action requested by %s", ErrForbidden, actor.Kind)
	}
	if s.Staff == nil {
		return nil
	}
	m, err := s.Staff.ActiveStaff(ctx, actor.ID)
	if err != nil {
		return err
	}
	if actor.Name == "" {
		actor.Name = m.Name
	}
	return nil
}

// authorizeCancel allows the placing account and background jobs only.
func authorizeCancel(o *domain.Order, actor domain.Actor) error {
	switch actor.Kind {
	case domain.ActorSystem:
		return nil
	case domain.ActorAccount:
		if o.AccountID != nil && *o.AccountID == actor.ID {
			return nil
		}
	}
	return fmt.Errorf("%w: only the placing account may cancel order %s", ErrForbidden, o.ID)
}

func (s *FulfillmentService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// SweepStalePending cancels pending orders created more than olderThan ago
// and returns how many were cancelled. Orders approved in the meantime are
// left alone by the conditional update.
func (s *FulfillmentService) SweepStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = DefaultPendingTTL
	}
	cutoff := s.now().Add(-olderThan)

	cancelled := 0
	for {
		ids, err := repo.ListStalePendingOrderIDs(ctx, s.DB, cutoff, sweepBatch)
		if err != nil {
			return cancelled, err
		}
		progressed := false
		for _, id := range ids {
			res, err := s.ApplyTransition(ctx, id, domain.ActionCancel, domain.SystemActor(), domain.TransitionExtra{})
			switch {
			case err == nil:
				if res.Applied {
					cancelled++
					progressed = true
				}
			case errors.Is(err, ErrInvalidTransition):
				// staff got there first
				progressed = true
			default:
				return cancelled, err
			}
		}
		if len(ids) < sweepBatch || !progressed {
			break
		}
	}
	if cancelled > 0 {
		logger(ctx).Info().Int("cancelled", cancelled).Dur("older_than", olderThan).Msg("stale pending orders cancelled")
	}
	return cancelled, nil
}

// RunSweeper calls SweepStalePending every interval until ctx is done.
func (s *FulfillmentService) RunSweeper(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.SweepStalePending(ctx, ttl); err != nil && ctx.Err() == nil {
				logger(ctx).Error().Err(err).Msg("pending order sweep failed")
			}
		}
	}
}

// Wait blocks until in-flight notifications have finished.
func (s *FulfillmentService) Wait() { s.Notify.Wait() }
