package domain

import "time"

// StaffMember is a venue employee allowed to act on orders and redemptions.
type StaffMember struct {
	ID        string    `json:"id"     gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"   gorm:"type:varchar(255);not null"`
	Active    bool      `json:"active" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for StaffMember.
func (StaffMember) TableName() string { return "staff_members" }

// StaffSession binds a chat session to a staff member. Only on-duty sessions
// receive new-order notifications.
type StaffSession struct {
	ID                 string    `json:"id"                   gorm:"type:char(36);primaryKey"`
	StaffID            string    `json:"staff_id"             gorm:"type:char(36);not null;index"`
	TransportSessionID string    `json:"transport_session_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	OnDuty             bool      `json:"on_duty"              gorm:"not null;default:false;index"`
	LastActivityAt     time.Time `json:"last_activity_at"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	Staff StaffMember `json:"-" gorm:"foreignKey:StaffID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for StaffSession.
func (StaffSession) TableName() string { return "staff_sessions" }

// SubjectKind is what a staff-channel message is about.
type SubjectKind string

const (
	SubjectOrder      SubjectKind = "order"
	SubjectRedemption SubjectKind = "redemption"
)

// NotificationMessage records one delivered copy of a staff notification so
// later edits can reach every recipient.
type NotificationMessage struct {
	ID          string      `json:"id"           gorm:"type:char(36);primaryKey"`
	SubjectKind SubjectKind `json:"subject_kind" gorm:"type:varchar(16);not null;index:idx_notif_subject,priority:1"`
	SubjectID   string      `json:"subject_id"   gorm:"type:char(36);not null;index:idx_notif_subject,priority:2"`
	SessionID   string      `json:"session_id"   gorm:"type:varchar(64);not null"`
	MessageRef  string      `json:"message_ref"  gorm:"type:varchar(128);not null"`
	CreatedAt   time.Time   `json:"created_at"`
}

// TableName returns the database table name for NotificationMessage.
func (NotificationMessage) TableName() string { return "notification_messages" }
