package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
)

func TestNewOrderService_Defaults(t *testing.T) {
	s := NewOrderService(nil, nil, nil, nil)
	if s.MaxActiveOrders != DefaultMaxActiveOrders || s.MaxItemQty != DefaultMaxItemQty {
		t.Fatalf("unexpected limits: %+v", s)
	}
	if _, ok := s.Catalog.(DBCatalog); !ok {
		t.Fatalf("expected DBCatalog default, got %T", s.Catalog)
	}
}

func TestOrderCreate_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	cases := map[string][]domain.LineRequest{
		"no items":      nil,
		"zero quantity": {{CatalogItemID: "cafe", Quantity: 0}},
		"over max":      {{CatalogItemID: "cafe", Quantity: DefaultMaxItemQty + 1}},
		"blank id":      {{CatalogItemID: "  ", Quantity: 1}},
		"duplicate":     {{CatalogItemID: "cafe", Quantity: 1}, {CatalogItemID: "cafe", Quantity: 2}},
	}
	for name, lines := range cases {
		_, err := f.orders.Create(context.Background(), CreateOrderInput{Items: lines})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", name, err)
		}
	}

	_, err := f.orders.Create(context.Background(), CreateOrderInput{
		Items: []domain.LineRequest{{CatalogItemID: "cafe", Quantity: 1}},
		Notes: strings.Repeat("x", maxNotesRunes+1),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("long notes: expected ErrValidation, got %v", err)
	}
}

func TestOrderCreate_UnavailableItem(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"agotado", "no-existe"} {
		_, err := f.orders.Create(context.Background(), CreateOrderInput{
			Items: []domain.LineRequest{{CatalogItemID: "cafe", Quantity: 1}, {CatalogItemID: id, Quantity: 1}},
		})
		if !errors.Is(err, ErrItemUnavailable) || !errors.Is(err, ErrNotAvailable) {
			t.Fatalf("%s: expected ErrItemUnavailable, got %v", id, err)
		}
	}
}

func TestOrderCreate_SnapshotsPricesAndTierMultiplier(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 600) // plata, x1.25
	if acc.Tier != "plata" {
		t.Fatalf("expected plata, got %q", acc.Tier)
	}

	o := f.order(t, &acc.ID,
		domain.LineRequest{CatalogItemID: "cafe", Quantity: 2},
		domain.LineRequest{CatalogItemID: "tostada", Quantity: 1},
	)
	if o.Status != domain.StatusPending {
		t.Fatalf("status=%s", o.Status)
	}
	if len(o.Code) != domain.OrderCodeLen {
		t.Fatalf("code %q has wrong length", o.Code)
	}
	if !o.Subtotal.Equal(decimal.RequireFromString("9.00")) || !o.Total.Equal(o.Subtotal) {
		t.Fatalf("subtotal=%s total=%s", o.Subtotal, o.Total)
	}
	// (2*10 + 25) * 1.25 = 56.25 -> 56
	if o.PointsToEarn != 56 {
		t.Fatalf("points_to_earn=%d, want 56", o.PointsToEarn)
	}

	got, err := f.orders.Get(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Items) != 2 || got.Items[0].CatalogItemID != "cafe" || got.Items[1].CatalogItemID != "tostada" {
		t.Fatalf("unexpected items: %+v", got.Items)
	}
	if got.Items[0].Name != "Café" || got.Items[0].LinePoints != 20 {
		t.Fatalf("snapshot mismatch: %+v", got.Items[0])
	}
	if got.PointsEarned != nil {
		t.Fatalf("points_earned must be unset before completion")
	}
}

func TestOrderCreate_WalkInEarnsNothing(t *testing.T) {
	f := newFixture(t)
	o := f.order(t, nil, domain.LineRequest{CatalogItemID: "tostada", Quantity: 2})
	if o.AccountID != nil || o.PointsToEarn != 0 {
		t.Fatalf("walk-in order: account=%v points=%d", o.AccountID, o.PointsToEarn)
	}
}

func TestOrderCreate_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.orders.Create(context.Background(), CreateOrderInput{
		AccountID: strPtr("missing"),
		Items:     []domain.LineRequest{{CatalogItemID: "cafe", Quantity: 1}},
	})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestOrderCreate_ActiveOrderLimit(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 0)
	var first *domain.Order
	for i := 0; i < DefaultMaxActiveOrders; i++ {
		o := f.order(t, &acc.ID)
		if first == nil {
			first = o
		}
	}

	in := CreateOrderInput{AccountID: &acc.ID, Items: []domain.LineRequest{{CatalogItemID: "cafe", Quantity: 1}}}
	if _, err := f.orders.Create(context.Background(), in); !errors.Is(err, ErrTooManyActiveOrders) {
		t.Fatalf("expected ErrTooManyActiveOrders, got %v", err)
	}

	// freeing a slot admits the next order
	if _, err := f.fulfil.ApplyTransition(context.Background(), first.ID, domain.ActionCancel, domain.AccountActor(acc.ID), domain.TransitionExtra{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.orders.Create(context.Background(), in); err != nil {
		t.Fatalf("expected admission after cancel, got %v", err)
	}
}

func TestOrderCreate_NotifiesAfterCommit(t *testing.T) {
	f := newFixture(t)
	o := f.order(t, nil)
	f.dispatch.Wait()

	f.notes.mu.Lock()
	defer f.notes.mu.Unlock()
	if len(f.notes.newOrders) != 1 || f.notes.newOrders[0] != o.ID {
		t.Fatalf("expected one new-order notification, got %v", f.notes.newOrders)
	}
}

func TestOrderCreate_NotifierFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.notes.err = errors.New("chat down")
	if _, err := f.orders.Create(context.Background(), CreateOrderInput{
		Items: []domain.LineRequest{{CatalogItemID: "cafe", Quantity: 1}},
	}); err != nil {
		t.Fatalf("notification failure leaked: %v", err)
	}
	f.dispatch.Wait()
}

func TestOrderGet_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.orders.Get(context.Background(), "nope"); !errors.Is(err, ErrOrderNotFound) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderListPage_FiltersAndPaginates(t *testing.T) {
	f := newFixture(t)
	staff := f.staffActor(t)
	a := f.order(t, nil)
	b := f.order(t, nil)
	f.order(t, nil)
	f.advance(t, b.ID, staff, domain.ActionApprove)

	items, total, err := f.orders.ListPage(context.Background(), []domain.OrderStatus{domain.StatusPending}, 1, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(items) != 1 || items[0].ID != a.ID {
		t.Fatalf("total=%d items=%d first=%v", total, len(items), items)
	}

	items, total, err = f.orders.ListPage(context.Background(), nil, 0, 0)
	if err != nil || total != 3 || len(items) != 3 {
		t.Fatalf("all: total=%d len=%d err=%v", total, len(items), err)
	}

	if _, _, err := f.orders.ListPage(context.Background(), []domain.OrderStatus{"bogus"}, 1, 10); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestOrderListForAccount(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 0)
	f.order(t, &acc.ID)
	f.order(t, nil)

	items, total, err := f.orders.ListForAccount(context.Background(), acc.ID, 1, 10)
	if err != nil || total != 1 || len(items) != 1 {
		t.Fatalf("total=%d len=%d err=%v", total, len(items), err)
	}
	items, total, err = f.orders.ListForAccount(context.Background(), "other", 1, 10)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("expected empty page, got total=%d err=%v", total, err)
	}
}
