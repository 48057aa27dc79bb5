// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for accounts and
// their append-only ledger.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - When an account is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Balance updates are conditional; callers learn whether the row moved
//     from the returned bool rather than from an error.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateAccount inserts a new account with a zero balance.
func CreateAccount(ctx context.Context, db *gorm.DB, name, tier string) (*domain.Account, error) {
	now := time.Now().UTC()
	a := &domain.Account{
		ID:        uuid.NewString(),
		Name:      name,
		Tier:      tier,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// GetAccount fetches an account by ID, or ErrNotFound.
func GetAccount(ctx context.Context, db *gorm.DB, id string) (*domain.Account, error) {
	var a domain.Account
	if err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// LockAccount reads an account under a row lock (SELECT ... FOR UPDATE) so
// that checks made on it hold until the transaction ends. SQLite has no row
// locks; its single writer gives the same guarantee.
func LockAccount(ctx context.Context, db *gorm.DB, id string) (*domain.Account, error) {
	var a domain.Account
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// AddPoints increases the balance by amount. When raiseLifetime is set the
// lifetime total grows by the same amount. Returns ErrNotFound when the
// account does not exist.
func AddPoints(ctx context.Context, db *gorm.DB, id string, amount int64, raiseLifetime bool) error {
	updates := map[string]any{
		"current_points": gorm.Expr("current_points + ?", amount),
		"updated_at":     time.Now().UTC(),
	}
	if raiseLifetime {
		updates["lifetime_points"] = gorm.Expr("lifetime_points + ?", amount)
	}
	res := db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SubtractPoints decreases the balance by amount only if the balance covers
// it. It reports false when the account is missing or the balance is short.
func SubtractPoints(ctx context.Context, db *gorm.DB, id string, amount int64) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("id = ? AND current_points >= ?", id, amount).
		Updates(map[string]any{
			"current_points": gorm.Expr("current_points - ?", amount),
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetAccountTier stores the cached tier name.
func SetAccountTier(ctx context.Context, db *gorm.DB, id, tier string) error {
	return db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("id = ?", id).
		Update("tier", tier).Error
}

// InsertLedgerEntry appends an entry. There is deliberately no update or
// delete counterpart.
func InsertLedgerEntry(ctx context.Context, db *gorm.DB, e *domain.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(e).Error
}

// CountLedgerEntries returns the number of entries for an account.
func CountLedgerEntries(ctx context.Context, db *gorm.DB, accountID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.LedgerEntry{}).
		Where("account_id = ?", accountID).
		Count(&total).Error
	return total, err
}

// ListLedgerEntriesPage returns entries newest first.
func ListLedgerEntriesPage(ctx context.Context, db *gorm.DB, accountID string, offset, limit int) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListLedgerEntriesByRef returns every entry pointing at ref, oldest first.
func ListLedgerEntriesByRef(ctx context.Context, db *gorm.DB, ref domain.LedgerRef) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := db.WithContext(ctx).
		Where("ref_kind = ? AND ref_id = ?", ref.Kind, ref.ID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// SumLedger returns Σ credits − Σ debits for an account.
func SumLedger(ctx context.Context, db *gorm.DB, accountID string) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).
		Raw(`SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)
		     FROM ledger_entries WHERE account_id = ?`, accountID).
		Scan(&sum).Error
	return sum, err
}
