// Package services – RedemptionService
//
// RedemptionService exchanges points for rewards. Redeeming claims one unit
// of stock, debits the account and issues a single-use code in one
// transaction; confirming flips the code from pending to used with a
// conditional UPDATE so that only one of any number of concurrent
// confirmations succeeds.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
	"github.com/tbourn/go-loyalty-backend/internal/observability"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
)

// RedemptionService issues, validates and consumes redemption codes.
type RedemptionService struct {
	DB     *gorm.DB
	Ledger *LedgerService
	Staff  StaffDirectory
	Notify *Dispatcher

	CodeAttempts int
}

// NewRedemptionService constructs a RedemptionService.
func NewRedemptionService(db *gorm.DB, ledger *LedgerService, staff StaffDirectory, notify *Dispatcher) *RedemptionService {
	return &RedemptionService{
		DB:           db,
		Ledger:       ledger,
		Staff:        staff,
		Notify:       notify,
		CodeAttempts: defaultCodeAttempts,
	}
}

// ListRewards returns the rewards that can currently be redeemed.
func (s *RedemptionService) ListRewards(ctx context.Context) ([]domain.Reward, error) {
	return repo.ListRewards(ctx, s.DB, true)
}

// ListForAccount returns an account's most recent redemptions.
func (s *RedemptionService) ListForAccount(ctx context.Context, accountID string, limit int) ([]domain.Redemption, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return repo.ListAccountRedemptions(ctx, s.DB, accountID, limit)
}

// Redeem spends the reward's cost from the account and issues a pending
// code for it.
func (s *RedemptionService) Redeem(ctx context.Context, accountID, rewardID string) (*domain.Redemption, error) {
	ctx, span := otel.Tracer("services/RedemptionService").Start(ctx, "Redeem",
		trace.WithAttributes(
			attribute.String("account.id", accountID),
			attribute.String("reward.id", rewardID),
		),
	)
	defer span.End()

	r, err := s.redeem(ctx, accountID, rewardID)
	observability.ObserveRedemption("redeem", outcomeOf(err))
	if err != nil {
		return nil, err
	}

	logger(ctx).Info().
		Str("redemption_id", r.ID).
		Str("account_id", accountID).
		Str("reward_id", rewardID).
		Int64("points", r.PointsSpent).
		Msg("reward redeemed")

	snapshot := *r
	s.Notify.Go(ctx, "redemption", func(ctx context.Context, n Notifier) error {
		return n.NotifyRedemption(ctx, &snapshot)
	})
	return r, nil
}

func (s *RedemptionService) redeem(ctx context.Context, accountID, rewardID string) (*domain.Redemption, error) {
	reward, err := repo.GetReward(ctx, s.DB, rewardID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRewardNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := availability(reward); err != nil {
		return nil, err
	}
	acc, err := repo.GetAccount(ctx, s.DB, accountID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if acc.CurrentPoints < reward.PointsCost {
		return nil, &InsufficientPointsError{Required: reward.PointsCost, Available: acc.CurrentPoints}
	}

	attempts := s.CodeAttempts
	if attempts <= 0 {
		attempts = defaultCodeAttempts
	}
	var out *domain.Redemption
	for i := 0; i < attempts; i++ {
		out, err = s.redeemOnce(ctx, accountID, reward)
		if err == nil || !repo.IsDuplicate(err) {
			break
		}
		logger(ctx).Debug().Err(err).Int("attempt", i+1).Msg("redemption code collision, retrying")
	}
	if err != nil && repo.IsDuplicate(err) {
		return nil, fmt.Errorf("allocate redemption code: %w", ErrConflict)
	}
	return out, err
}

func (s *RedemptionService) redeemOnce(ctx context.Context, accountID string, reward *domain.Reward) (*domain.Redemption, error) {
	var out *domain.Redemption
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		took, err := repo.TakeRewardStock(ctx, tx, reward.ID)
		if err != nil {
			return err
		}
		if !took {
			cur, err := repo.GetReward(ctx, tx, reward.ID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRewardNotFound
			}
			if err != nil {
				return err
			}
			if err := availability(cur); err != nil {
				return err
			}
			return &NotAvailableError{RewardID: reward.ID, Reason: ReasonOutOfStock}
		}

		id := uuid.NewString()
		if _, err := s.Ledger.DebitTx(ctx, tx, accountID, reward.PointsCost, domain.ReasonRedemption, domain.RedemptionRef(id)); err != nil {
			return err
		}

		code, err := s.freeCode(ctx, tx)
		if err != nil {
			return err
		}
		r := &domain.Redemption{
			ID:          id,
			Code:        code,
			AccountID:   accountID,
			RewardID:    reward.ID,
			PointsSpent: reward.PointsCost,
			Status:      domain.RedemptionPending,
		}
		if err := repo.CreateRedemption(ctx, tx, r); err != nil {
			return err
		}
		out, err = repo.GetRedemption(ctx, tx, id)
		return err
	})
	return out, err
}

func (s *RedemptionService) freeCode(ctx context.Context, tx *gorm.DB) (string, error) {
	for i := 0; i < defaultCodeAttempts; i++ {
		code, err := domain.NewCode(domain.RedemptionCodeLen)
		if err != nil {
			return "", err
		}
		taken, err := repo.PendingRedemptionCodeExists(ctx, tx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("allocate redemption code: %w", ErrConflict)
}

func availability(r *domain.Reward) error {
	if !r.Enabled {
		return &NotAvailableError{RewardID: r.ID, Reason: ReasonDisabled}
	}
	if !r.InStock() {
		return &NotAvailableError{RewardID: r.ID, Reason: ReasonOutOfStock}
	}
	return nil
}

// Get returns a redemption by id or code.
func (s *RedemptionService) Get(ctx context.Context, codeOrID string) (*domain.Redemption, error) {
	return s.lookup(ctx, s.DB, codeOrID)
}

// Validate looks a code up without changing it. Lookups are case-insensitive.
func (s *RedemptionService) Validate(ctx context.Context, code string) (*domain.Redemption, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, ErrRedemptionNotFound
	}
	r, err := repo.GetRedemptionByCode(ctx, s.DB, code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRedemptionNotFound
	}
	return r, err
}

// ConfirmUse marks a pending redemption as used by staffID. codeOrID is
// either the short code or the redemption id. Anything but a pending
// redemption, including losing a concurrent confirmation, yields
// ErrAlreadyUsedOrNotFound.
func (s *RedemptionService) ConfirmUse(ctx context.Context, codeOrID, staffID string) (*domain.Redemption, error) {
	ctx, span := otel.Tracer("services/RedemptionService").Start(ctx, "ConfirmUse",
		trace.WithAttributes(attribute.String("staff.id", staffID)),
	)
	defer span.End()

	actor := domain.StaffActor(staffID, "")
	if s.Staff != nil {
		m, err := s.Staff.ActiveStaff(ctx, staffID)
		if err != nil {
			observability.ObserveRedemption("confirm", observability.OutcomeRejected)
			return nil, err
		}
		actor.Name = m.Name
	}

	var out *domain.Redemption
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := s.lookup(ctx, tx, codeOrID)
		if err != nil {
			return err
		}
		if r.Status != domain.RedemptionPending {
			return ErrAlreadyUsedOrNotFound
		}
		won, err := repo.MarkRedemptionUsed(ctx, tx, r.ID, staffID, s.now(r))
		if err != nil {
			return err
		}
		if !won {
			return ErrAlreadyUsedOrNotFound
		}
		out, err = repo.GetRedemption(ctx, tx, r.ID)
		return err
	})
	if errors.Is(err, ErrRedemptionNotFound) {
		err = ErrAlreadyUsedOrNotFound
	}
	observability.ObserveRedemption("confirm", outcomeOf(err))
	if err != nil {
		return nil, err
	}

	logger(ctx).Info().Str("redemption_id", out.ID).Str("staff_id", staffID).Msg("redemption used")
	snapshot := *out
	s.Notify.Go(ctx, "redemption_used", func(ctx context.Context, n Notifier) error {
		return n.NotifyRedemptionUsed(ctx, &snapshot, actor)
	})
	return out, nil
}

// Cancel withdraws a pending redemption, refunding its points and returning
// the stock unit. Only the owning account or the system may cancel.
func (s *RedemptionService) Cancel(ctx context.Context, codeOrID string, actor domain.Actor) (*domain.Redemption, error) {
	ctx, span := otel.Tracer("services/RedemptionService").Start(ctx, "Cancel",
		trace.WithAttributes(attribute.String("actor.kind", string(actor.Kind))),
	)
	defer span.End()

	var out *domain.Redemption
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := s.lookup(ctx, tx, codeOrID)
		if err != nil {
			return err
		}
		if actor.Kind != domain.ActorSystem && !(actor.Kind == domain.ActorAccount && actor.ID == r.AccountID) {
			return fmt.Errorf("%w: redemption belongs to another account", ErrForbidden)
		}
		if r.Status != domain.RedemptionPending {
			return ErrAlreadyUsedOrNotFound
		}
		won, err := repo.MarkRedemptionCancelled(ctx, tx, r.ID, s.now(r))
		if err != nil {
			return err
		}
		if !won {
			return ErrAlreadyUsedOrNotFound
		}
		if _, err := s.Ledger.CreditTx(ctx, tx, r.AccountID, r.PointsSpent, domain.ReasonRefund, domain.RedemptionRef(r.ID)); err != nil {
			return err
		}
		if err := repo.ReturnRewardStock(ctx, tx, r.RewardID); err != nil {
			return err
		}
		out, err = repo.GetRedemption(ctx, tx, r.ID)
		return err
	})
	observability.ObserveRedemption("cancel", outcomeOf(err))
	if err != nil {
		return nil, err
	}
	logger(ctx).Info().Str("redemption_id", out.ID).Str("actor", actor.DisplayName()).Msg("redemption cancelled")
	return out, nil
}

// lookup resolves a redemption by id or, failing that, by code.
func (s *RedemptionService) lookup(ctx context.Context, db *gorm.DB, codeOrID string) (*domain.Redemption, error) {
	codeOrID = strings.TrimSpace(codeOrID)
	if _, err := uuid.Parse(codeOrID); err == nil {
		r, err := repo.GetRedemption(ctx, db, codeOrID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRedemptionNotFound
		}
		return r, err
	}
	code := normalizeCode(codeOrID)
	if code == "" {
		return nil, ErrRedemptionNotFound
	}
	r, err := repo.GetRedemptionByCode(ctx, db, code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRedemptionNotFound
	}
	return r, err
}

// now never returns a time before the redemption was issued.
func (s *RedemptionService) now(r *domain.Redemption) time.Time {
	at := time.Now().UTC()
	if at.Before(r.IssuedAt) {
		return r.IssuedAt
	}
	return at
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeApplied
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyUsedOrNotFound):
		return observability.OutcomeConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotAvailable),
		errors.Is(err, ErrInsufficientPoints), errors.Is(err, ErrForbidden):
		return observability.OutcomeRejected
	}
	return observability.OutcomeError
}
