// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for rewards and
// redemption codes.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
)

// CreateReward inserts a reward.
func CreateReward(ctx context.Context, db *gorm.DB, r *domain.Reward) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(r).Error
}

// GetReward fetches a reward by ID, or ErrNotFound.
func GetReward(ctx context.Context, db *gorm.DB, id string) (*domain.Reward, error) {
	var r domain.Reward
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRewards returns rewards ordered by cost. enabledOnly hides disabled ones.
func ListRewards(ctx context.Context, db *gorm.DB, enabledOnly bool) ([]domain.Reward, error) {
	var out []domain.Reward
	q := db.WithContext(ctx)
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	err := q.Order("points_cost ASC, name ASC").Find(&out).Error
	return out, err
}

// TakeRewardStock claims one unit of an enabled reward. Unlimited rewards
// always succeed. Reports false when the reward is disabled, missing or out
// of stock.
func TakeRewardStock(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Reward{}).
		Where("id = ? AND enabled = ? AND (stock IS NULL OR stock > 0)", id, true).
		Updates(map[string]any{
			"stock":      gorm.Expr("CASE WHEN stock IS NULL THEN NULL ELSE stock - 1 END"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReturnRewardStock puts one unit back. No-op for unlimited rewards.
func ReturnRewardStock(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.Reward{}).
		Where("id = ? AND stock IS NOT NULL", id).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock + 1"),
			"updated_at": time.Now().UTC(),
		}).Error
}

// PendingRedemptionCodeExists reports whether code is held by a pending row.
func PendingRedemptionCodeExists(ctx context.Context, db *gorm.DB, code string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Redemption{}).
		Where("code = ? AND status = ?", code, domain.RedemptionPending).
		Count(&n).Error
	return n > 0, err
}

// CreateRedemption inserts a pending redemption.
func CreateRedemption(ctx context.Context, db *gorm.DB, r *domain.Redemption) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.IssuedAt.IsZero() {
		r.IssuedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = domain.RedemptionPending
	}
	return db.WithContext(ctx).Omit("Reward").Create(r).Error
}

// GetRedemption fetches a redemption with its reward, or ErrNotFound.
func GetRedemption(ctx context.Context, db *gorm.DB, id string) (*domain.Redemption, error) {
	var r domain.Redemption
	if err := db.WithContext(ctx).Preload("Reward").Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRedemptionByCode returns the pending redemption holding code or, when
// none is pending, the most recently issued one. ErrNotFound otherwise.
func GetRedemptionByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Redemption, error) {
	var r domain.Redemption
	err := db.WithContext(ctx).
		Preload("Reward").
		Where("code = ?", code).
		Order("CASE WHEN status = 'pending' THEN 0 ELSE 1 END, issued_at DESC").
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// MarkRedemptionUsed flips a pending redemption to used. Reports whether
// this call performed the flip.
func MarkRedemptionUsed(ctx context.Context, db *gorm.DB, id, staffID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Redemption{}).
		Where("id = ? AND status = ?", id, domain.RedemptionPending).
		Updates(map[string]any{
			"status":       domain.RedemptionUsed,
			"used_at":      at,
			"confirmed_by": staffID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkRedemptionCancelled flips a pending redemption to cancelled.
func MarkRedemptionCancelled(ctx context.Context, db *gorm.DB, id string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Redemption{}).
		Where("id = ? AND status = ?", id, domain.RedemptionPending).
		Updates(map[string]any{
			"status":       domain.RedemptionCancelled,
			"cancelled_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListAccountRedemptions returns an account's redemptions, newest first.
func ListAccountRedemptions(ctx context.Context, db *gorm.DB, accountID string, limit int) ([]domain.Redemption, error) {
	var out []domain.Redemption
	q := db.WithContext(ctx).
		Preload("Reward").
		Where("account_id = ?", accountID).
		Order("issued_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
