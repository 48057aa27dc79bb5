package repo

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
)

func newOrder(code string, accountID *string, status domain.OrderStatus) *domain.Order {
	return &domain.Order{
		Code:      code,
		AccountID: accountID,
		Status:    status,
		Subtotal:  decimal.RequireFromString("7.50"),
		Total:     decimal.RequireFromString("7.50"),
		Items: []domain.OrderLineItem{
			{CatalogItemID: "beer", Name: "Caña", UnitPrice: decimal.RequireFromString("2.50"), UnitPoints: 5, Quantity: 2, LineTotal: decimal.RequireFromString("5.00"), LinePoints: 10},
			{CatalogItemID: "olives", Name: "Aceitunas", UnitPrice: decimal.RequireFromString("2.50"), UnitPoints: 2, Quantity: 1, LineTotal: decimal.RequireFromString("2.50"), LinePoints: 2},
		},
		PointsToEarn: 12,
	}
}

func TestCreateAndGetOrder_WithItemsInOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	acc, _ := CreateAccount(ctx, db, "Ana", "")

	o := newOrder("ABC234", &acc.ID, domain.StatusPending)
	if err := CreateOrder(ctx, db, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	got, err := GetOrder(ctx, db, o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if len(got.Items) != 2 || got.Items[0].CatalogItemID != "beer" || got.Items[1].CatalogItemID != "olives" {
		t.Fatalf("items out of order: %+v", got.Items)
	}
	if !got.Total.Equal(decimal.RequireFromString("7.5")) || got.PointsEarned != nil {
		t.Fatalf("unexpected order: %+v", got)
	}
	if _, err := GetOrder(ctx, db, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActiveOrderCodes_PartialUniqueIndex(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := newOrder("QWE234", nil, domain.StatusPending)
	if err := CreateOrder(ctx, db, first); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if ok, _ := ActiveOrderCodeExists(ctx, db, "QWE234"); !ok {
		t.Fatalf("code should be active")
	}
	dup := newOrder("QWE234", nil, domain.StatusPending)
	if err := CreateOrder(ctx, db, dup); !IsDuplicate(err) {
		t.Fatalf("expected duplicate on active code, got %v", err)
	}

	// Once delivered the code may be reused.
	now := time.Now().UTC()
	for _, step := range []struct{ from, to domain.OrderStatus }{
		{domain.StatusPending, domain.StatusApproved},
		{domain.StatusApproved, domain.StatusPreparing},
		{domain.StatusPreparing, domain.StatusCompleted},
		{domain.StatusCompleted, domain.StatusDelivered},
	} {
		ok, err := ApplyStatusChange(ctx, db, StatusChange{ID: first.ID, From: step.from, To: step.to, At: now})
		if err != nil || !ok {
			t.Fatalf("%s->%s: ok=%v err=%v", step.from, step.to, ok, err)
		}
	}
	if ok, _ := ActiveOrderCodeExists(ctx, db, "QWE234"); ok {
		t.Fatalf("delivered code should be free")
	}
	reuse := newOrder("QWE234", nil, domain.StatusPending)
	if err := CreateOrder(ctx, db, reuse); err != nil {
		t.Fatalf("reuse of finished code: %v", err)
	}
}

func TestApplyStatusChange_Conditional(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	o := newOrder("ZXC234", nil, domain.StatusPending)
	if err := CreateOrder(ctx, db, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	staff := "staff-1"
	now := time.Now().UTC()

	ok, err := ApplyStatusChange(ctx, db, StatusChange{ID: o.ID, From: domain.StatusPending, To: domain.StatusApproved, At: now, AssignedStaffID: &staff})
	if err != nil || !ok {
		t.Fatalf("approve: ok=%v err=%v", ok, err)
	}
	// stale expectation loses
	ok, err = ApplyStatusChange(ctx, db, StatusChange{ID: o.ID, From: domain.StatusPending, To: domain.StatusRejected, At: now})
	if err != nil || ok {
		t.Fatalf("stale reject must not apply: ok=%v err=%v", ok, err)
	}

	got, _ := GetOrder(ctx, db, o.ID)
	if got.Status != domain.StatusApproved || got.ApprovedAt == nil || got.RejectedAt != nil {
		t.Fatalf("unexpected order after race: %+v", got)
	}
	if got.AssignedStaffID == nil || *got.AssignedStaffID != staff {
		t.Fatalf("assigned staff not stored")
	}

	// points_earned is written once
	pts := int64(12)
	_, _ = ApplyStatusChange(ctx, db, StatusChange{ID: o.ID, From: domain.StatusApproved, To: domain.StatusPreparing, At: now})
	ok, _ = ApplyStatusChange(ctx, db, StatusChange{ID: o.ID, From: domain.StatusPreparing, To: domain.StatusCompleted, At: now, PointsEarned: &pts})
	if !ok {
		t.Fatalf("complete should apply")
	}
	got, _ = GetOrder(ctx, db, o.ID)
	if got.PointsEarned == nil || *got.PointsEarned != 12 {
		t.Fatalf("points_earned = %v", got.PointsEarned)
	}
}

func TestListAndCountOrders(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	acc, _ := CreateAccount(ctx, db, "Ana", "")

	codes := []string{"AAA222", "BBB222", "CCC222"}
	for _, c := range codes {
		if err := CreateOrder(ctx, db, newOrder(c, &acc.ID, domain.StatusPending)); err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
	}
	if err := CreateOrder(ctx, db, newOrder("DDD222", nil, domain.StatusPending)); err != nil {
		t.Fatalf("CreateOrder walk-in: %v", err)
	}

	n, err := CountAccountOrders(ctx, db, acc.ID, domain.LimitedStatuses)
	if err != nil || n != 3 {
		t.Fatalf("CountAccountOrders = %d, %v", n, err)
	}
	total, _ := CountOrders(ctx, db, []domain.OrderStatus{domain.StatusPending})
	if total != 4 {
		t.Fatalf("CountOrders = %d", total)
	}
	page, err := ListOrdersPage(ctx, db, []domain.OrderStatus{domain.StatusPending}, 1, 2)
	if err != nil || len(page) != 2 || len(page[0].Items) != 2 {
		t.Fatalf("ListOrdersPage = %+v, %v", page, err)
	}
	mine, err := ListAccountOrdersPage(ctx, db, acc.ID, 0, 10)
	if err != nil || len(mine) != 3 {
		t.Fatalf("ListAccountOrdersPage = %d, %v", len(mine), err)
	}

	count, maxAt, err := OrdersStats(ctx, db, nil)
	if err != nil || count != 4 || maxAt == nil {
		t.Fatalf("OrdersStats = %d, %v, %v", count, maxAt, err)
	}
	count, maxAt, err = OrdersStats(ctx, db, []domain.OrderStatus{domain.StatusDelivered})
	if err != nil || count != 0 || maxAt != nil {
		t.Fatalf("OrdersStats(delivered) = %d, %v, %v", count, maxAt, err)
	}
}

func TestStalePendingAndMessageRef(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	old := newOrder("OLD222", nil, domain.StatusPending)
	old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	fresh := newOrder("NEW222", nil, domain.StatusPending)
	for _, o := range []*domain.Order{old, fresh} {
		if err := CreateOrder(ctx, db, o); err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
	}
	ids, err := ListStalePendingOrderIDs(ctx, db, time.Now().UTC().Add(-time.Hour), 0)
	if err != nil || len(ids) != 1 || ids[0] != old.ID {
		t.Fatalf("stale ids = %v, %v", ids, err)
	}

	set, err := SetOrderMessageRef(ctx, db, fresh.ID, "chat1:10")
	if err != nil || !set {
		t.Fatalf("first ref: %v %v", set, err)
	}
	set, _ = SetOrderMessageRef(ctx, db, fresh.ID, "chat2:11")
	if set {
		t.Fatalf("second ref must not overwrite")
	}
	got, _ := GetOrder(ctx, db, fresh.ID)
	if got.ExternalMessageRef == nil || *got.ExternalMessageRef != "chat1:10" {
		t.Fatalf("external ref = %v", got.ExternalMessageRef)
	}
}

func TestGetCatalogItems(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := SaveCatalogItem(ctx, db, &domain.CatalogItem{ID: "beer", Name: "Caña", Price: decimal.RequireFromString("2.5"), Points: 5, Available: true}); err != nil {
		t.Fatalf("SaveCatalogItem: %v", err)
	}
	got, err := GetCatalogItems(ctx, db, []string{"beer", "ghost"})
	if err != nil {
		t.Fatalf("GetCatalogItems: %v", err)
	}
	if _, ok := got["ghost"]; ok || got["beer"].Points != 5 {
		t.Fatalf("unexpected catalog map: %+v", got)
	}
	empty, _ := GetCatalogItems(ctx, db, nil)
	if len(empty) != 0 {
		t.Fatalf("expected empty map")
	}
}
