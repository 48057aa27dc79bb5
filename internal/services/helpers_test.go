package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
)

// ---------- test helpers ----------

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testTiers() StaticTiers {
	return StaticTiers{
		{Name: "bronce", MinLifetime: 0, Multiplier: decimal.NewFromInt(1)},
		{Name: "plata", MinLifetime: 500, Multiplier: decimal.RequireFromString("1.25")},
		{Name: "oro", MinLifetime: 1500, Multiplier: decimal.RequireFromString("1.5")},
		{Name: "platino", MinLifetime: 5000, Multiplier: decimal.NewFromInt(2)},
	}
}

// recorder is a Notifier that remembers every call.
type recorder struct {
	mu          sync.Mutex
	newOrders   []string
	transitions []domain.OrderStatus
	redeemed    []string
	used        []string
	err         error
}

func (r *recorder) NotifyNewOrder(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newOrders = append(r.newOrders, o.ID)
	return r.err
}

func (r *recorder) NotifyTransition(_ context.Context, o *domain.Order, _ domain.Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, o.Status)
	return r.err
}

func (r *recorder) NotifyRedemption(_ context.Context, red *domain.Redemption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redeemed = append(r.redeemed, red.ID)
	return r.err
}

func (r *recorder) NotifyRedemptionUsed(_ context.Context, red *domain.Redemption, _ domain.Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.used = append(r.used, red.ID)
	return r.err
}

type fixture struct {
	db       *gorm.DB
	notes    *recorder
	dispatch *Dispatcher
	ledger   *LedgerService
	staff    *StaffService
	orders   *OrderService
	fulfil   *FulfillmentService
	redeem   *RedemptionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	notes := &recorder{}
	d := NewDispatcher(notes, time.Second)
	ledger := NewLedgerService(db, testTiers())
	staff := NewStaffService(db)
	f := &fixture{
		db:       db,
		notes:    notes,
		dispatch: d,
		ledger:   ledger,
		staff:    staff,
		orders:   NewOrderService(db, ledger, nil, d),
		fulfil:   NewFulfillmentService(db, ledger, staff, d),
		redeem:   NewRedemptionService(db, ledger, staff, d),
	}
	seedCatalog(t, db)
	t.Cleanup(d.Wait)
	return f
}

func seedCatalog(t *testing.T, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	for _, it := range []domain.CatalogItem{
		{ID: "cafe", Name: "Café", Price: decimal.RequireFromString("2.50"), Points: 10, Available: true},
		{ID: "tostada", Name: "Tostada", Price: decimal.RequireFromString("4.00"), Points: 25, Available: true},
		{ID: "agotado", Name: "Tarta", Price: decimal.RequireFromString("5.00"), Points: 30, Available: false},
	} {
		it := it
		if err := repo.SaveCatalogItem(ctx, db, &it); err != nil {
			t.Fatalf("seed catalog: %v", err)
		}
	}
}

// account opens an account and credits it with points (as a welcome bonus).
func (f *fixture) account(t *testing.T, points int64) *domain.Account {
	t.Helper()
	ctx := context.Background()
	a, err := f.ledger.OpenAccount(ctx, "Cliente")
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	if points > 0 {
		if _, err := f.ledger.Credit(ctx, a.ID, points, domain.ReasonWelcome, domain.NoRef()); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	a, err = f.ledger.Balance(ctx, a.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return a
}

func (f *fixture) staffActor(t *testing.T) domain.Actor {
	t.Helper()
	m, err := f.staff.Create(context.Background(), "Lucía")
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	return domain.StaffActor(m.ID, m.Name)
}

func (f *fixture) order(t *testing.T, accountID *string, lines ...domain.LineRequest) *domain.Order {
	t.Helper()
	if len(lines) == 0 {
		lines = []domain.LineRequest{{CatalogItemID: "cafe", Quantity: 1}}
	}
	o, err := f.orders.Create(context.Background(), CreateOrderInput{AccountID: accountID, Items: lines})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func (f *fixture) reward(t *testing.T, cost int64, stock *int, enabled bool) *domain.Reward {
	t.Helper()
	r := &domain.Reward{Name: "Bebida gratis", PointsCost: cost, Stock: stock, Enabled: enabled}
	if err := repo.CreateReward(context.Background(), f.db, r); err != nil {
		t.Fatalf("create reward: %v", err)
	}
	return r
}

func (f *fixture) advance(t *testing.T, orderID string, actor domain.Actor, actions ...domain.OrderAction) *domain.Order {
	t.Helper()
	var o *domain.Order
	for _, a := range actions {
		res, err := f.fulfil.ApplyTransition(context.Background(), orderID, a, actor, domain.TransitionExtra{})
		if err != nil {
			t.Fatalf("%s: %v", a, err)
		}
		o = res.Order
	}
	return o
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func assertLedgerMatchesBalance(t *testing.T, db *gorm.DB, accountID string) {
	t.Helper()
	ctx := context.Background()
	sum, err := repo.SumLedger(ctx, db, accountID)
	if err != nil {
		t.Fatalf("sum ledger: %v", err)
	}
	a, err := repo.GetAccount(ctx, db, accountID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if sum != a.CurrentPoints {
		t.Fatalf("ledger sum %d != balance %d", sum, a.CurrentPoints)
	}
}
