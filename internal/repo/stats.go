// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
)

// OrdersStats returns the number of orders in any of statuses (all when empty)
// and the greatest UpdatedAt among them. maxUpdatedAt is nil when there are
// no rows.
func OrdersStats(ctx context.Context, db *gorm.DB, statuses []domain.OrderStatus) (count int64, maxUpdatedAt *time.Time, err error) {
	scope := func() *gorm.DB {
		q := db.WithContext(ctx).Model(&domain.Order{})
		if len(statuses) > 0 {
			q = q.Where("status IN ?", statuses)
		}
		return q
	}

	if err = scope().Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = scope().Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// LedgerStats returns the number of ledger entries for an account and the
// time of the newest one.
func LedgerStats(ctx context.Context, db *gorm.DB, accountID string) (count int64, newest *time.Time, err error) {
	q := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.LedgerEntry{}).Where("account_id = ?", accountID)
	}
	if err = q().Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}
	var row struct {
		CreatedAt time.Time
	}
	if err = q().Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
