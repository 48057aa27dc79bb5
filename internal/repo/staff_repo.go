// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for staff members,
// their chat sessions and the staff-channel message log.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
)

// CreateStaffMember inserts an active staff member.
func CreateStaffMember(ctx context.Context, db *gorm.DB, name string) (*domain.StaffMember, error) {
	now := time.Now().UTC()
	s := &domain.StaffMember{ID: uuid.NewString(), Name: name, Active: true, CreatedAt: now, UpdatedAt: now}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetStaffMember fetches a staff member by ID, or ErrNotFound.
func GetStaffMember(ctx context.Context, db *gorm.DB, id string) (*domain.StaffMember, error) {
	var s domain.StaffMember
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// SetStaffActive enables or disables a staff member.
func SetStaffActive(ctx context.Context, db *gorm.DB, id string, active bool) error {
	res := db.WithContext(ctx).
		Model(&domain.StaffMember{}).
		Where("id = ?", id).
		Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// LinkStaffSession binds a transport session to a staff member, replacing
// any previous binding of that session. The session starts off duty.
func LinkStaffSession(ctx context.Context, db *gorm.DB, staffID, sessionID string) (*domain.StaffSession, error) {
	now := time.Now().UTC()
	s := &domain.StaffSession{
		ID:                 uuid.NewString(),
		StaffID:            staffID,
		TransportSessionID: sessionID,
		LastActivityAt:     now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transport_session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"staff_id", "last_activity_at", "updated_at"}),
	}).Omit("Staff").Create(s).Error
	if err != nil {
		return nil, err
	}
	return GetStaffSession(ctx, db, sessionID)
}

// GetStaffSession fetches the session bound to a transport session ID.
func GetStaffSession(ctx context.Context, db *gorm.DB, sessionID string) (*domain.StaffSession, error) {
	var s domain.StaffSession
	err := db.WithContext(ctx).
		Preload("Staff").
		Where("transport_session_id = ?", sessionID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SetSessionOnDuty toggles one session's shift flag.
func SetSessionOnDuty(ctx context.Context, db *gorm.DB, sessionID string, onDuty bool) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.StaffSession{}).
		Where("transport_session_id = ?", sessionID).
		Updates(map[string]any{"on_duty": onDuty, "last_activity_at": now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetStaffOnDuty toggles the shift flag on every session of a staff member and
// returns how many sessions changed.
func SetStaffOnDuty(ctx context.Context, db *gorm.DB, staffID string, onDuty bool) (int64, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.StaffSession{}).
		Where("staff_id = ?", staffID).
		Updates(map[string]any{"on_duty": onDuty, "updated_at": now})
	return res.RowsAffected, res.Error
}

// TouchStaffSession records activity on a session.
func TouchStaffSession(ctx context.Context, db *gorm.DB, sessionID string) error {
	return db.WithContext(ctx).
		Model(&domain.StaffSession{}).
		Where("transport_session_id = ?", sessionID).
		Update("last_activity_at", time.Now().UTC()).Error
}

// ListOnDutySessions returns on-duty sessions whose staff member is active.
func ListOnDutySessions(ctx context.Context, db *gorm.DB) ([]domain.StaffSession, error) {
	var out []domain.StaffSession
	err := db.WithContext(ctx).
		InnerJoins("Staff", db.Where(&domain.StaffMember{Active: true})).
		Where("staff_sessions.on_duty = ?", true).
		Order("staff_sessions.created_at ASC").
		Find(&out).Error
	return out, err
}

// RecordNotificationMessage stores one delivered copy of a staff message.
func RecordNotificationMessage(ctx context.Context, db *gorm.DB, kind domain.SubjectKind, subjectID, sessionID, ref string) error {
	m := &domain.NotificationMessage{
		ID:          uuid.NewString(),
		SubjectKind: kind,
		SubjectID:   subjectID,
		SessionID:   sessionID,
		MessageRef:  ref,
		CreatedAt:   time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(m).Error
}

// ListNotificationMessages returns every recorded copy for a subject.
func ListNotificationMessages(ctx context.Context, db *gorm.DB, kind domain.SubjectKind, subjectID string) ([]domain.NotificationMessage, error) {
	var out []domain.NotificationMessage
	err := db.WithContext(ctx).
		Where("subject_kind = ? AND subject_id = ?", kind, subjectID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}
