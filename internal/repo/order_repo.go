// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for orders, their
// line items and the read-only catalog.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
)

// GetCatalogItems returns the catalog entries for ids keyed by id. Missing ids
// are simply absent from the map.
func GetCatalogItems(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.CatalogItem, error) {
	out := make(map[string]domain.CatalogItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.CatalogItem
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// SaveCatalogItem inserts or replaces a catalog entry.
func SaveCatalogItem(ctx context.Context, db *gorm.DB, it *domain.CatalogItem) error {
	return db.WithContext(ctx).Save(it).Error
}

// CreateOrder inserts an order and its line items. IDs and timestamps are
// filled in when empty.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) error {
	now := time.Now().UTC()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = o.CreatedAt
	for i := range o.Items {
		if o.Items[i].ID == "" {
			o.Items[i].ID = uuid.NewString()
		}
		o.Items[i].OrderID = o.ID
		o.Items[i].Position = i
		o.Items[i].CreatedAt = o.CreatedAt
	}
	return db.WithContext(ctx).Create(o).Error
}

func itemsInOrder(q *gorm.DB) *gorm.DB { return q.Order("position ASC") }

// GetOrder fetches an order with its line items, or ErrNotFound.
func GetOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Preload("Items", itemsInOrder).
		Where("id = ?", id).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ActiveOrderCodeExists reports whether code is held by a non-finished order.
func ActiveOrderCodeExists(ctx context.Context, db *gorm.DB, code string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("code = ? AND status IN ?", code, domain.ActiveCodeStatuses).
		Count(&n).Error
	return n > 0, err
}

// CountAccountOrders counts an account's orders in any of statuses.
func CountAccountOrders(ctx context.Context, db *gorm.DB, accountID string, statuses []domain.OrderStatus) (int64, error) {
	var n int64
	q := db.WithContext(ctx).Model(&domain.Order{}).Where("account_id = ?", accountID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Count(&n).Error
	return n, err
}

// ListAccountOrdersPage returns an account's orders, newest first.
func ListAccountOrdersPage(ctx context.Context, db *gorm.DB, accountID string, offset, limit int) ([]domain.Order, error) {
	var out []domain.Order
	err := db.WithContext(ctx).
		Preload("Items", itemsInOrder).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountOrders counts orders in any of statuses (all when empty).
func CountOrders(ctx context.Context, db *gorm.DB, statuses []domain.OrderStatus) (int64, error) {
	var n int64
	q := db.WithContext(ctx).Model(&domain.Order{})
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Count(&n).Error
	return n, err
}

// ListOrdersPage returns orders in any of statuses, oldest first so the
// queue reads in arrival order.
func ListOrdersPage(ctx context.Context, db *gorm.DB, statuses []domain.OrderStatus, offset, limit int) ([]domain.Order, error) {
	var out []domain.Order
	q := db.WithContext(ctx).Preload("Items", itemsInOrder)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// StatusChange describes a conditional status update. The row only moves if
// it is still in From (and, when PointsEarned is set, has not been credited).
type StatusChange struct {
	ID              string
	From            domain.OrderStatus
	To              domain.OrderStatus
	At              time.Time
	AssignedStaffID *string
	RejectionReason *string
	PointsEarned    *int64
}

// ApplyStatusChange performs the compare-and-set update and reports whether
// this call won it.
func ApplyStatusChange(ctx context.Context, db *gorm.DB, ch StatusChange) (bool, error) {
	updates := map[string]any{
		"status":     ch.To,
		"updated_at": ch.At,
	}
	if col := domain.TimestampColumn(ch.To); col != "" {
		updates[col] = ch.At
	}
	if ch.AssignedStaffID != nil {
		updates["assigned_staff_id"] = *ch.AssignedStaffID
	}
	if ch.RejectionReason != nil {
		updates["rejection_reason"] = *ch.RejectionReason
	}

	q := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status = ?", ch.ID, ch.From)
	if ch.PointsEarned != nil {
		updates["points_earned"] = *ch.PointsEarned
		q = q.Where("points_earned IS NULL")
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListStalePendingOrderIDs returns pending orders created before cutoff.
func ListStalePendingOrderIDs(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	q := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("status = ? AND created_at < ?", domain.StatusPending, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Pluck("id", &ids).Error
	return ids, err
}

// SetOrderMessageRef stores ref only if the order has none yet and reports
// whether it was stored.
func SetOrderMessageRef(ctx context.Context, db *gorm.DB, orderID, ref string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND external_message_ref IS NULL", orderID).
		Update("external_message_ref", ref)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
