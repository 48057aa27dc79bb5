// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides key/value access to the settings table.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
)

// GetSettings returns all settings whose key starts with prefix.
func GetSettings(ctx context.Context, db *gorm.DB, prefix string) (map[string]string, error) {
	var rows []domain.Setting
	q := db.WithContext(ctx)
	if prefix != "" {
		q = q.Where("key LIKE ?", prefix+"%")
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// PutSetting inserts or overwrites a setting.
func PutSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	s := &domain.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(s).Error
}
