// Package services – LedgerService
//
// LedgerService owns point balances. Every change appends an immutable
// ledger entry and moves the account's cached balance in the same
// transaction, so Σ credits − Σ debits always equals the balance.
//
// The *Tx variants run inside a caller's transaction; they are how order
// completion and redemption fold the ledger write into their own atomic
// unit. The ledger does not deduplicate by reference: callers guarantee a
// business event posts once.
package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
	"github.com/tbourn/go-loyalty-backend/internal/observability"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
	"github.com/tbourn/go-loyalty-backend/internal/utils"
)

// LedgerService posts credits and debits against accounts.
type LedgerService struct {
	DB    *gorm.DB
	Tiers TierSource
}

// NewLedgerService constructs a LedgerService.
func NewLedgerService(db *gorm.DB, tiers TierSource) *LedgerService {
	if tiers == nil {
		tiers = StaticTiers(nil)
	}
	return &LedgerService{DB: db, Tiers: tiers}
}

// OpenAccount creates an account with a zero balance at the entry tier.
func (s *LedgerService) OpenAccount(ctx context.Context, name string) (*domain.Account, error) {
	tiers, err := s.Tiers.Tiers(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	t, _ := domain.TierFor(0, tiers)
	return repo.CreateAccount(ctx, s.DB, name, t.Name)
}

// Balance returns the account with its current and lifetime points. Tier is
// derived from lifetime points against the current tier table; the stored
// column is only a cache refreshed on credit.
func (s *LedgerService) Balance(ctx context.Context, accountID string) (*domain.Account, error) {
	a, err := repo.GetAccount(ctx, s.DB, accountID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	t, err := s.tierOf(ctx, s.DB, a)
	if err != nil {
		return nil, err
	}
	a.Tier = t.Name
	return a, nil
}

// tierOf derives the account's tier from a fresh read of the tier table.
func (s *LedgerService) tierOf(ctx context.Context, db *gorm.DB, a *domain.Account) (domain.Tier, error) {
	tiers, err := s.Tiers.Tiers(ctx, db)
	if err != nil {
		return domain.Tier{}, err
	}
	t, ok := domain.TierFor(a.LifetimePoints, tiers)
	if !ok {
		return domain.Tier{Multiplier: decimal.NewFromInt(1)}, nil
	}
	t.Multiplier = domain.MultiplierFor(t.Name, tiers)
	return t, nil
}

// Entries returns a page of the account's ledger, newest first.
func (s *LedgerService) Entries(ctx context.Context, accountID string, page, pageSize int) ([]domain.LedgerEntry, int64, error) {
	if _, err := s.Balance(ctx, accountID); err != nil {
		return nil, 0, err
	}
	page, pageSize = normalizePage(page, pageSize)

	total, err := repo.CountLedgerEntries(ctx, s.DB, accountID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.LedgerEntry{}, 0, nil
	}
	items, err := repo.ListLedgerEntriesPage(ctx, s.DB, accountID, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Multiplier returns the earning multiplier of the tier the account's
// lifetime points reach today.
func (s *LedgerService) Multiplier(ctx context.Context, db *gorm.DB, accountID string) (decimal.Decimal, error) {
	a, err := repo.GetAccount(ctx, db, accountID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	t, err := s.tierOf(ctx, db, a)
	if err != nil {
		return decimal.Zero, err
	}
	return t.Multiplier, nil
}

// Credit adds points in its own transaction and returns the new balance.
func (s *LedgerService) Credit(ctx context.Context, accountID string, amount int64, reason domain.Reason, ref domain.LedgerRef) (int64, error) {
	ctx, span := otel.Tracer("services/LedgerService").Start(ctx, "Credit",
		trace.WithAttributes(
			attribute.String("account.id", accountID),
			attribute.Int64("amount", amount),
			attribute.String("reason", string(reason)),
		),
	)
	defer span.End()

	var bal int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		bal, err = s.CreditTx(ctx, tx, accountID, amount, reason, ref)
		return err
	})
	return bal, err
}

// Debit removes points in its own transaction and returns the new balance.
func (s *LedgerService) Debit(ctx context.Context, accountID string, amount int64, reason domain.Reason, ref domain.LedgerRef) (int64, error) {
	ctx, span := otel.Tracer("services/LedgerService").Start(ctx, "Debit",
		trace.WithAttributes(
			attribute.String("account.id", accountID),
			attribute.Int64("amount", amount),
			attribute.String("reason", string(reason)),
		),
	)
	defer span.End()

	var bal int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		bal, err = s.DebitTx(ctx, tx, accountID, amount, reason, ref)
		return err
	})
	return bal, err
}

// CreditTx adds amount to the balance within tx, appends the entry and
// recomputes the tier. Refund credits do not raise lifetime points.
func (s *LedgerService) CreditTx(ctx context.Context, tx *gorm.DB, accountID string, amount int64, reason domain.Reason, ref domain.LedgerRef) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if err := repo.AddPoints(ctx, tx, accountID, amount, reason.RaisesLifetime()); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	acc, err := repo.GetAccount(ctx, tx, accountID)
	if err != nil {
		return 0, err
	}

	tiers, err := s.Tiers.Tiers(ctx, tx)
	if err != nil {
		return 0, err
	}
	if t, _ := domain.TierFor(acc.LifetimePoints, tiers); t.Name != acc.Tier {
		if err := repo.SetAccountTier(ctx, tx, accountID, t.Name); err != nil {
			return 0, err
		}
		logger(ctx).Info().
			Str("account_id", accountID).
			Str("from", acc.Tier).
			Str("to", t.Name).
			Int64("lifetime_points", acc.LifetimePoints).
			Msg("tier changed")
	}

	if err := s.appendEntry(ctx, tx, acc, domain.Credit, amount, reason, ref); err != nil {
		return 0, err
	}
	return acc.CurrentPoints, nil
}

// DebitTx removes amount from the balance within tx and appends the entry.
// It fails with *InsufficientPointsError when the balance does not cover it.
func (s *LedgerService) DebitTx(ctx context.Context, tx *gorm.DB, accountID string, amount int64, reason domain.Reason, ref domain.LedgerRef) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	ok, err := repo.SubtractPoints(ctx, tx, accountID, amount)
	if err != nil {
		return 0, err
	}
	acc, err := repo.GetAccount(ctx, tx, accountID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &InsufficientPointsError{Required: amount, Available: acc.CurrentPoints}
	}
	if err := s.appendEntry(ctx, tx, acc, domain.Debit, amount, reason, ref); err != nil {
		return 0, err
	}
	return acc.CurrentPoints, nil
}

func (s *LedgerService) appendEntry(ctx context.Context, tx *gorm.DB, acc *domain.Account, dir domain.Direction, amount int64, reason domain.Reason, ref domain.LedgerRef) error {
	e := &domain.LedgerEntry{
		ID:           uuid.NewString(),
		AccountID:    acc.ID,
		Direction:    dir,
		Amount:       amount,
		Reason:       reason,
		RefKind:      ref.Kind,
		BalanceAfter: acc.CurrentPoints,
	}
	if e.RefKind == "" {
		e.RefKind = domain.RefNone
	}
	if ref.ID != "" {
		id := ref.ID
		e.RefID = &id
	}
	if err := repo.InsertLedgerEntry(ctx, tx, e); err != nil {
		return err
	}
	observability.ObserveLedgerPosting(string(dir), string(reason), amount)
	return nil
}

// normalizePage applies the default paging window.
func normalizePage(page, pageSize int) (int, int) {
	p := utils.ClampPage(page, pageSize)
	return p.Number, p.Size
}
