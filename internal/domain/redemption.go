package domain

import "time"

// Reward is something an account can spend points on. A nil Stock means the
// reward is unlimited.
type Reward struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Name        string    `json:"name"         gorm:"type:varchar(255);not null"`
	Description string    `json:"description,omitempty" gorm:"type:text"`
	PointsCost  int64     `json:"points_cost"  gorm:"not null;check:points_cost > 0"`
	Stock       *int      `json:"stock,omitempty" gorm:"check:stock IS NULL OR stock >= 0"`
	Enabled     bool      `json:"enabled"      gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Reward.
func (Reward) TableName() string { return "rewards" }

// InStock reports whether at least one unit can be claimed.
func (r *Reward) InStock() bool { return r.Stock == nil || *r.Stock > 0 }

// RedemptionStatus is the lifecycle state of a redemption code.
type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionUsed      RedemptionStatus = "used"
	RedemptionCancelled RedemptionStatus = "cancelled"
)

// Redemption is a single-use code issued when an account claims a reward.
// Code is unique among pending redemptions only.
type Redemption struct {
	ID          string           `json:"id"           gorm:"type:char(36);primaryKey"`
	Code        string           `json:"code"         gorm:"type:varchar(16);not null;index"`
	AccountID   string           `json:"account_id"   gorm:"type:char(36);not null;index"`
	RewardID    string           `json:"reward_id"    gorm:"type:char(36);not null;index"`
	PointsSpent int64            `json:"points_spent" gorm:"not null"`
	Status      RedemptionStatus `json:"status"       gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','used','cancelled')"`
	IssuedAt    time.Time        `json:"issued_at"`
	UsedAt      *time.Time       `json:"used_at,omitempty"`
	CancelledAt *time.Time       `json:"cancelled_at,omitempty"`
	ConfirmedBy *string          `json:"confirmed_by,omitempty" gorm:"type:char(36)"`

	Reward *Reward `json:"reward,omitempty" gorm:"foreignKey:RewardID;references:ID"`
}

// TableName returns the database table name for Redemption.
func (Redemption) TableName() string { return "redemptions" }
