// Package domain defines the persistence models and pure business rules of the
// loyalty backend: orders and their status machine, the points ledger, rewards
// and redemption codes, and staff sessions. Types are mapped with GORM and are
// shared across the repository, service and transport layers.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusApproved  OrderStatus = "approved"
	StatusPreparing OrderStatus = "preparing"
	StatusCompleted OrderStatus = "completed"
	StatusDelivered OrderStatus = "delivered"
	StatusRejected  OrderStatus = "rejected"
	StatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transition is legal from s.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// CountsTowardLimit reports whether an order in s occupies one of the
// account's active-order slots.
func (s OrderStatus) CountsTowardLimit() bool {
	return s == StatusPending || s == StatusApproved || s == StatusPreparing
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusPreparing, StatusCompleted,
		StatusDelivered, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// ActiveCodeStatuses are the statuses whose order codes must stay unique.
var ActiveCodeStatuses = []OrderStatus{StatusPending, StatusApproved, StatusPreparing, StatusCompleted}

// LimitedStatuses are the statuses counted by the per-account admission limit.
var LimitedStatuses = []OrderStatus{StatusPending, StatusApproved, StatusPreparing}

// OrderAction is an intent that moves an order along the status machine.
type OrderAction string

const (
	ActionApprove  OrderAction = "approve"
	ActionReject   OrderAction = "reject"
	ActionPrepare  OrderAction = "prepare"
	ActionComplete OrderAction = "complete"
	ActionDeliver  OrderAction = "deliver"
	ActionCancel   OrderAction = "cancel"
)

// IsStaffAction reports whether a is performed by venue staff.
func (a OrderAction) IsStaffAction() bool {
	switch a {
	case ActionApprove, ActionReject, ActionPrepare, ActionComplete, ActionDeliver:
		return true
	}
	return false
}

// transitions is the complete edge table. Anything absent is illegal.
var transitions = map[OrderStatus]map[OrderAction]OrderStatus{
	StatusPending: {
		ActionApprove: StatusApproved,
		ActionReject:  StatusRejected,
		ActionCancel:  StatusCancelled,
	},
	StatusApproved:  {ActionPrepare: StatusPreparing},
	StatusPreparing: {ActionComplete: StatusCompleted},
	StatusCompleted: {ActionDeliver: StatusDelivered},
}

var actionTargets = map[OrderAction]OrderStatus{
	ActionApprove:  StatusApproved,
	ActionReject:   StatusRejected,
	ActionPrepare:  StatusPreparing,
	ActionComplete: StatusCompleted,
	ActionDeliver:  StatusDelivered,
	ActionCancel:   StatusCancelled,
}

// TargetOf returns the status an action leads to, independent of the source.
func TargetOf(a OrderAction) (OrderStatus, bool) {
	s, ok := actionTargets[a]
	return s, ok
}

// Transition returns the status reached by applying a to from, and false when
// the edge is not part of the table.
func Transition(from OrderStatus, a OrderAction) (OrderStatus, bool) {
	to, ok := transitions[from][a]
	return to, ok
}

// NextActions lists the staff actions that are legal from s, in display order.
func NextActions(s OrderStatus) []OrderAction {
	order := []OrderAction{ActionApprove, ActionReject, ActionPrepare, ActionComplete, ActionDeliver}
	out := make([]OrderAction, 0, 2)
	for _, a := range order {
		if _, ok := transitions[s][a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// TimestampColumn is the column stamped when an order enters s.
func TimestampColumn(s OrderStatus) string {
	switch s {
	case StatusApproved:
		return "approved_at"
	case StatusPreparing:
		return "preparing_at"
	case StatusCompleted:
		return "completed_at"
	case StatusDelivered:
		return "delivered_at"
	case StatusRejected:
		return "rejected_at"
	case StatusCancelled:
		return "cancelled_at"
	}
	return ""
}

// Order is a customer order placed at the venue. It is created in pending and
// only ever mutated through the fulfillment coordinator.
//
// Money is kept as decimal; PointsToEarn is frozen at creation and
// PointsEarned is set exactly once, on completion.
type Order struct {
	ID          string          `json:"id"                     gorm:"type:char(36);primaryKey"`
	Code        string          `json:"code"                   gorm:"type:varchar(16);not null;index"`
	AccountID   *string         `json:"account_id,omitempty"   gorm:"type:char(36);index:idx_orders_account_status,priority:1"`
	TableNumber *int            `json:"table_number,omitempty"`
	Notes       string          `json:"notes,omitempty"        gorm:"type:text"`
	Subtotal    decimal.Decimal `json:"subtotal"               gorm:"type:numeric(12,2);not null"`
	Total       decimal.Decimal `json:"total"                  gorm:"type:numeric(12,2);not null"`

	PointsToEarn int64  `json:"points_to_earn"          gorm:"not null;default:0"`
	PointsEarned *int64 `json:"points_earned,omitempty"`

	Status          OrderStatus `json:"status"                      gorm:"type:varchar(16);not null;index:idx_orders_account_status,priority:2;index:idx_orders_status_created,priority:1;check:status IN ('pending','approved','preparing','completed','delivered','rejected','cancelled')"`
	AssignedStaffID *string     `json:"assigned_staff_id,omitempty" gorm:"type:char(36)"`
	RejectionReason *string     `json:"rejection_reason,omitempty"  gorm:"type:text"`

	// ExternalMessageRef is the first acknowledged staff-channel message.
	ExternalMessageRef *string `json:"external_message_ref,omitempty" gorm:"type:varchar(128)"`

	CreatedAt   time.Time  `json:"created_at" gorm:"index:idx_orders_status_created,priority:2"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	PreparingAt *time.Time `json:"preparing_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	Items []OrderLineItem `json:"items,omitempty" gorm:"foreignKey:OrderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// Timeline returns the non-nil transition timestamps in lifecycle order.
func (o *Order) Timeline() []time.Time {
	out := make([]time.Time, 0, 5)
	for _, ts := range []*time.Time{o.ApprovedAt, o.RejectedAt, o.CancelledAt, o.PreparingAt, o.CompletedAt, o.DeliveredAt} {
		if ts != nil {
			out = append(out, *ts)
		}
	}
	return out
}

// OrderLineItem is an immutable snapshot of a catalog item at order time.
type OrderLineItem struct {
	ID            string          `json:"id"              gorm:"type:char(36);primaryKey"`
	OrderID       string          `json:"order_id"        gorm:"type:char(36);not null;index"`
	Position      int             `json:"position"        gorm:"not null;default:0"`
	CatalogItemID string          `json:"catalog_item_id" gorm:"type:varchar(64);not null"`
	Name          string          `json:"name"            gorm:"type:varchar(255);not null"`
	UnitPrice     decimal.Decimal `json:"unit_price"      gorm:"type:numeric(12,2);not null"`
	UnitPoints    int64           `json:"unit_points"     gorm:"not null"`
	Quantity      int             `json:"quantity"        gorm:"not null;check:quantity BETWEEN 1 AND 100"`
	LineTotal     decimal.Decimal `json:"line_total"      gorm:"type:numeric(12,2);not null"`
	LinePoints    int64           `json:"line_points"     gorm:"not null"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TableName returns the database table name for OrderLineItem.
func (OrderLineItem) TableName() string { return "order_line_items" }

// CatalogItem is a menu entry as exposed by the catalog collaborator.
type CatalogItem struct {
	ID        string          `json:"id"        gorm:"type:varchar(64);primaryKey"`
	Name      string          `json:"name"      gorm:"type:varchar(255);not null"`
	Price     decimal.Decimal `json:"price"     gorm:"type:numeric(12,2);not null"`
	Points    int64           `json:"points"    gorm:"not null;default:0"`
	Available bool            `json:"available" gorm:"not null"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TableName returns the database table name for CatalogItem.
func (CatalogItem) TableName() string { return "catalog_items" }

// LineRequest is one requested line of a new order.
type LineRequest struct {
	CatalogItemID string `json:"catalog_item_id"`
	Quantity      int    `json:"quantity"`
}

// PricedOrder holds the figures computed for a new order.
type PricedOrder struct {
	Lines        []OrderLineItem
	Subtotal     decimal.Decimal
	Total        decimal.Decimal
	BasePoints   int64
	PointsToEarn int64
}

// PriceOrder snapshots catalog entries into line items and computes totals.
// Every line must reference an entry present in catalog. Earned points are the
// base points scaled by multiplier and rounded down.
func PriceOrder(lines []LineRequest, catalog map[string]CatalogItem, multiplier decimal.Decimal) PricedOrder {
	out := PricedOrder{
		Lines:    make([]OrderLineItem, 0, len(lines)),
		Subtotal: decimal.Zero,
	}
	for _, l := range lines {
		it := catalog[l.CatalogItemID]
		qty := decimal.NewFromInt(int64(l.Quantity))
		li := OrderLineItem{
			CatalogItemID: it.ID,
			Name:          it.Name,
			UnitPrice:     it.Price,
			UnitPoints:    it.Points,
			Quantity:      l.Quantity,
			LineTotal:     it.Price.Mul(qty),
			LinePoints:    it.Points * int64(l.Quantity),
		}
		out.Lines = append(out.Lines, li)
		out.Subtotal = out.Subtotal.Add(li.LineTotal)
		out.BasePoints += li.LinePoints
	}
	out.Total = out.Subtotal
	if multiplier.IsZero() || multiplier.IsNegative() {
		multiplier = decimal.NewFromInt(1)
	}
	out.PointsToEarn = decimal.NewFromInt(out.BasePoints).Mul(multiplier).Floor().IntPart()
	return out
}

// ActorKind identifies who requested a transition.
type ActorKind string

const (
	ActorStaff   ActorKind = "staff"
	ActorAccount ActorKind = "account"
	ActorSystem  ActorKind = "system"
)

// Actor is the principal behind a transition request.
type Actor struct {
	Kind ActorKind
	ID   string
	Name string
}

// StaffActor returns an actor for a staff member.
func StaffActor(id, name string) Actor { return Actor{Kind: ActorStaff, ID: id, Name: name} }

// AccountActor returns an actor for a customer account.
func AccountActor(id string) Actor { return Actor{Kind: ActorAccount, ID: id} }

// SystemActor returns the actor used by background jobs.
func SystemActor() Actor { return Actor{Kind: ActorSystem, ID: "system", Name: "system"} }

// DisplayName returns a human readable label for the actor.
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// TransitionExtra carries optional data for a transition.
type TransitionExtra struct {
	Reason string
}

// TransitionResult reports the outcome of a transition request. Applied is
// false when the order was already in the requested state.
type TransitionResult struct {
	Order    *Order      `json:"order"`
	Applied  bool        `json:"applied"`
	Previous OrderStatus `json:"previous_status"`
}
