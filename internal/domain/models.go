package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Account is a loyalty member. CurrentPoints is spendable balance and never
// negative; LifetimePoints only grows and drives the tier.
//
// Fields:
//   - Tier: cached derivation of LifetimePoints, recomputed on every credit.
//   - Entries: append-only ledger history (not loaded by default).
type Account struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	Name           string    `json:"name"            gorm:"type:varchar(255);not null;default:''"`
	CurrentPoints  int64     `json:"current_points"  gorm:"not null;default:0;check:current_points >= 0"`
	LifetimePoints int64     `json:"lifetime_points" gorm:"not null;default:0;check:lifetime_points >= 0"`
	Tier           string    `json:"tier"            gorm:"type:varchar(32);not null;default:''"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Entries []LedgerEntry `json:"-" gorm:"foreignKey:AccountID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Account.
func (Account) TableName() string { return "accounts" }

// Direction is the sign of a ledger entry.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Reason tags why points moved.
type Reason string

const (
	ReasonOrderCompleted Reason = "order_completed"
	ReasonRedemption     Reason = "redemption"
	ReasonRefund         Reason = "refund"
	ReasonAdjustment     Reason = "adjustment"
	ReasonWelcome        Reason = "welcome"
)

// RaisesLifetime reports whether a credit with this reason counts toward
// lifetime points. Refunds give back spent points and do not.
func (r Reason) RaisesLifetime() bool { return r != ReasonRefund }

// RefKind identifies what a ledger entry refers to.
type RefKind string

const (
	RefNone       RefKind = "none"
	RefOrder      RefKind = "order"
	RefRedemption RefKind = "redemption"
)

// LedgerRef points a ledger entry at the business event that caused it.
type LedgerRef struct {
	Kind RefKind
	ID   string
}

// OrderRef returns a reference to an order.
func OrderRef(id string) LedgerRef { return LedgerRef{Kind: RefOrder, ID: id} }

// RedemptionRef returns a reference to a redemption.
func RedemptionRef(id string) LedgerRef { return LedgerRef{Kind: RefRedemption, ID: id} }

// NoRef is the empty reference.
func NoRef() LedgerRef { return LedgerRef{Kind: RefNone} }

// LedgerEntry is an immutable record of points moving in or out of an account.
// Entries are only ever inserted.
type LedgerEntry struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	AccountID    string    `json:"account_id"    gorm:"type:char(36);not null;index:idx_ledger_account_created,priority:1"`
	Direction    Direction `json:"direction"     gorm:"type:varchar(8);not null;check:direction IN ('credit','debit')"`
	Amount       int64     `json:"amount"        gorm:"not null;check:amount > 0"`
	Reason       Reason    `json:"reason"        gorm:"type:varchar(32);not null"`
	RefKind      RefKind   `json:"ref_kind"      gorm:"type:varchar(16);not null;default:'none';index:idx_ledger_ref,priority:1"`
	RefID        *string   `json:"ref_id,omitempty" gorm:"type:char(36);index:idx_ledger_ref,priority:2"`
	BalanceAfter int64     `json:"balance_after" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"    gorm:"index:idx_ledger_account_created,priority:2"`
}

// TableName returns the database table name for LedgerEntry.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// Signed returns the entry amount with its direction applied.
func (e LedgerEntry) Signed() int64 {
	if e.Direction == Debit {
		return -e.Amount
	}
	return e.Amount
}

// Ref returns the typed reference stored on the entry.
func (e LedgerEntry) Ref() LedgerRef {
	r := LedgerRef{Kind: e.RefKind}
	if e.RefID != nil {
		r.ID = *e.RefID
	}
	return r
}

// Tier is a membership level unlocked at MinLifetime lifetime points.
type Tier struct {
	Name        string          `json:"name"`
	MinLifetime int64           `json:"min_lifetime"`
	Multiplier  decimal.Decimal `json:"multiplier"`
}

// TierFor returns the highest tier whose threshold is at or below lifetime.
// tiers need not be sorted. ok is false when no threshold is reached.
func TierFor(lifetime int64, tiers []Tier) (tier Tier, ok bool) {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinLifetime < sorted[j].MinLifetime })
	for _, t := range sorted {
		if t.MinLifetime > lifetime {
			break
		}
		tier, ok = t, true
	}
	return tier, ok
}

// MultiplierFor returns the earning multiplier for the named tier, or 1.
func MultiplierFor(name string, tiers []Tier) decimal.Decimal {
	for _, t := range tiers {
		if t.Name == name && t.Multiplier.IsPositive() {
			return t.Multiplier
		}
	}
	return decimal.NewFromInt(1)
}

// Setting is a key/value row of membership configuration.
type Setting struct {
	Key       string    `json:"key"   gorm:"type:varchar(128);primaryKey"`
	Value     string    `json:"value" gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Setting.
func (Setting) TableName() string { return "settings" }
