package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
	"github.com/tbourn/go-loyalty-backend/internal/http/middleware"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
	"github.com/tbourn/go-loyalty-backend/internal/services"
)

// ---------- test helpers ----------

type apiFixture struct {
	db     *gorm.DB
	r      *gin.Engine
	ledger *services.LedgerService
	staff  *services.StaffService
}

func newAPIDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:api_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
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

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newAPIDB(t)
	ctx := context.Background()
	for _, it := range []domain.CatalogItem{
		{ID: "cafe", Name: "Café", Price: decimal.RequireFromString("2.50"), Points: 10, Available: true},
		{ID: "tostada", Name: "Tostada", Price: decimal.RequireFromString("4.00"), Points: 25, Available: true},
	} {
		it := it
		if err := repo.SaveCatalogItem(ctx, db, &it); err != nil {
			t.Fatalf("seed catalog: %v", err)
		}
	}

	disp := services.NewDispatcher(nil, time.Second)
	t.Cleanup(disp.Wait)
	ledger := services.NewLedgerService(db, services.StaticTiers{
		{Name: "bronce", MinLifetime: 0, Multiplier: decimal.NewFromInt(1)},
		{Name: "plata", MinLifetime: 500, Multiplier: decimal.RequireFromString("1.25")},
	})
	staff := services.NewStaffService(db)
	orders := services.NewOrderService(db, ledger, nil, disp)
	fulfil := services.NewFulfillmentService(db, ledger, staff, disp)
	red := services.NewRedemptionService(db, ledger, staff, disp)

	hs := New(orders, fulfil, ledger, red, staff, Options{DB: db, IdempotencyTTL: time.Hour})
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Actors(),
		middleware.Idempotency(middleware.IdempotencyOptions{Scope: IdempotencyScope}, IdempotencyLookup(db)))
	hs.Register(r.Group("/api/v1"))
	return &apiFixture{db: db, r: r, ledger: ledger, staff: staff}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (%s)", v, err, w.Body.String())
	}
	return v
}

func (f *apiFixture) account(t *testing.T, points int64) string {
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
	return a.ID
}

func (f *apiFixture) staffID(t *testing.T) string {
	t.Helper()
	m, err := f.staff.Create(context.Background(), "Lucía")
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	return m.ID
}

func (f *apiFixture) reward(t *testing.T, cost int64, stock *int) string {
	t.Helper()
	r := &domain.Reward{Name: "Bebida gratis", PointsCost: cost, Stock: stock, Enabled: true}
	if err := repo.CreateReward(context.Background(), f.db, r); err != nil {
		t.Fatalf("create reward: %v", err)
	}
	return r.ID
}

func (f *apiFixture) placeOrder(t *testing.T, accountID string) domain.Order {
	t.Helper()
	var hdr []string
	if accountID != "" {
		hdr = []string{middleware.HeaderAccountID, accountID}
	}
	w := f.do(t, http.MethodPost, "/orders", CreateOrderRequest{
		Items: []domain.LineRequest{{CatalogItemID: "cafe", Quantity: 2}, {CatalogItemID: "tostada", Quantity: 1}},
	}, hdr...)
	if w.Code != http.StatusCreated {
		t.Fatalf("create order: %d %s", w.Code, w.Body.String())
	}
	return decode[domain.Order](t, w)
}

func (f *apiFixture) transition(t *testing.T, staffID, orderID, action string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, "/orders/"+orderID+"/transitions",
		TransitionRequest{Action: action}, middleware.HeaderStaffID, staffID)
}

// ---------- accounts ----------

func TestOpenAndGetAccount(t *testing.T) {
	f := newAPI(t)
	w := f.do(t, http.MethodPost, "/accounts", OpenAccountRequest{Name: "  Marta "})
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	acc := decode[domain.Account](t, w)
	if acc.Name != "Marta" || acc.Tier != "bronce" || acc.CurrentPoints != 0 {
		t.Fatalf("unexpected account: %+v", acc)
	}

	w = f.do(t, http.MethodGet, "/accounts/"+acc.ID, nil)
	if w.Code != http.StatusOK || decode[domain.Account](t, w).ID != acc.ID {
		t.Fatalf("get: %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/accounts/"+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound || decode[ErrorResponse](t, w).Code != ErrCodeNotFound {
		t.Fatalf("missing account: %d %s", w.Code, w.Body.String())
	}
}

func TestOpenAccount_EmptyBody(t *testing.T) {
	f := newAPI(t)
	w := f.do(t, http.MethodPost, "/accounts", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestListLedger_PaginatedWithETag(t *testing.T) {
	f := newAPI(t)
	acc := f.account(t, 100)
	if _, err := f.ledger.Credit(context.Background(), acc, 5, domain.ReasonAdjustment, domain.NoRef()); err != nil {
		t.Fatal(err)
	}

	w := f.do(t, http.MethodGet, "/accounts/"+acc+"/ledger?page_size=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	resp := decode[ListLedgerResponse](t, w)
	if resp.Balance != 105 || len(resp.Entries) != 1 || resp.Pagination.Total != 2 || !resp.Pagination.HasNext {
		t.Fatalf("unexpected page: %+v", resp)
	}
	if resp.Entries[0].Amount != 5 {
		t.Fatalf("want newest first, got %+v", resp.Entries[0])
	}
	tag := w.Header().Get("ETag")
	if tag == "" {
		t.Fatal("missing ETag")
	}

	w = f.do(t, http.MethodGet, "/accounts/"+acc+"/ledger?page_size=1", nil, "If-None-Match", tag)
	if w.Code != http.StatusNotModified {
		t.Fatalf("want 304, got %d", w.Code)
	}

	// another page is another representation
	w = f.do(t, http.MethodGet, "/accounts/"+acc+"/ledger?page=2&page_size=1", nil, "If-None-Match", tag)
	if w.Code != http.StatusOK {
		t.Fatalf("page 2 with page 1 tag: %d", w.Code)
	}

	if _, err := f.ledger.Credit(context.Background(), acc, 1, domain.ReasonAdjustment, domain.NoRef()); err != nil {
		t.Fatal(err)
	}
	w = f.do(t, http.MethodGet, "/accounts/"+acc+"/ledger?page_size=1", nil, "If-None-Match", tag)
	if w.Code != http.StatusOK {
		t.Fatalf("stale tag should miss, got %d", w.Code)
	}
}

func TestAccountSubresources_RequireOwnHeader(t *testing.T) {
	f := newAPI(t)
	acc := f.account(t, 0)
	other := f.account(t, 0)
	f.placeOrder(t, acc)

	w := f.do(t, http.MethodGet, "/accounts/"+acc+"/orders", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no header: %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/accounts/"+acc+"/orders", nil, middleware.HeaderAccountID, other)
	if w.Code != http.StatusForbidden {
		t.Fatalf("other account: %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/accounts/"+acc+"/orders", nil, middleware.HeaderAccountID, acc)
	if w.Code != http.StatusOK || decode[ListOrdersResponse](t, w).Pagination.Total != 1 {
		t.Fatalf("own orders: %d %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodGet, "/accounts/"+acc+"/redemptions", nil, middleware.HeaderAccountID, acc)
	if w.Code != http.StatusOK || len(decode[ListRedemptionsResponse](t, w).Redemptions) != 0 {
		t.Fatalf("own redemptions: %d %s", w.Code, w.Body.String())
	}
}

// ---------- orders ----------

func TestCreateOrder_PricesAndNotes(t *testing.T) {
	f := newAPI(t)
	acc := f.account(t, 0)
	o := f.placeOrder(t, acc)
	if o.Status != domain.StatusPending || len(o.Items) != 2 || len(o.Code) == 0 {
		t.Fatalf("unexpected order: %+v", o)
	}
	if !o.Total.Equal(decimal.RequireFromString("9.00")) || o.PointsToEarn != 45 {
		t.Fatalf("total=%s points=%d", o.Total, o.PointsToEarn)
	}
	if o.AccountID == nil || *o.AccountID != acc {
		t.Fatalf("account not attached: %+v", o.AccountID)
	}
}

func TestCreateOrder_WalkInEarnsNothing(t *testing.T) {
	f := newAPI(t)
	o := f.placeOrder(t, "")
	if o.AccountID != nil || o.PointsToEarn != 0 {
		t.Fatalf("walk-in: %+v", o)
	}
}

func TestCreateOrder_Rejections(t *testing.T) {
	f := newAPI(t)
	cases := []struct {
		name   string
		body   any
		hdr    []string
		status int
		code   string
	}{
		{"bad json", "nope", nil, 400, ErrCodeBadRequest},
		{"no items", CreateOrderRequest{Items: []domain.LineRequest{}}, nil, 400, ErrCodeValidation},
		{"zero qty", CreateOrderRequest{Items: []domain.LineRequest{{CatalogItemID: "cafe"}}}, nil, 400, ErrCodeValidation},
		{"unknown item", CreateOrderRequest{Items: []domain.LineRequest{{CatalogItemID: "paella", Quantity: 1}}}, nil, 422, ErrCodeNotAvailable},
		{"unknown account", CreateOrderRequest{Items: []domain.LineRequest{{CatalogItemID: "cafe", Quantity: 1}}},
			[]string{middleware.HeaderAccountID, uuid.NewString()}, 404, ErrCodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/orders", tc.body, tc.hdr...)
			if w.Code != tc.status || decode[ErrorResponse](t, w).Code != tc.code {
				t.Fatalf("got %d %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestCreateOrder_ActiveOrderLimit(t *testing.T) {
	f := newAPI(t)
	acc := f.account(t, 0)
	for i := 0; i < services.DefaultMaxActiveOrders; i++ {
		f.placeOrder(t, acc)
	}
	w := f.do(t, http.MethodPost, "/orders", CreateOrderRequest{
		Items: []domain.LineRequest{{CatalogItemID: "cafe", Quantity: 1}},
	}, middleware.HeaderAccountID, acc)
	if w.Code != http.StatusUnprocessableEntity || decode[ErrorResponse](t, w).Code != ErrCodeTooManyOrders {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	f := newAPI(t)
	acc := f.account(t, 0)
	body := CreateOrderRequest{Items: []domain.LineRequest{{CatalogItemID: "cafe", Quantity: 1}}}
	hdr := []string{middleware.HeaderAccountID, acc, middleware.HeaderIdempotencyKey, "retry-1"}

	first := f.do(t, http.MethodPost, "/orders", body, hdr...)
	if first.Code != http.StatusCreated {
		t.Fatalf("first: %d %s", first.Code, first.Body.String())
	}
	second := f.do(t, http.MethodPost, "/orders", body, hdr...)
	if second.Code != http.StatusOK || second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay: %d %v", second.Code, second.Header())
	}
	if decode[domain.Order](t, first).ID != decode[domain.Order](t, second).ID {
		t.Fatal("replay returned a different order")
	}

	var n int64
	f.db.Model(&domain.Order{}).Count(&n)
	if n != 1 {
		t.Fatalf("want 1 order, got %d", n)
	}

	// the same key from another owner is a new request
	other := f.account(t, 0)
	w := f.do(t, http.MethodPost, "/orders", body, middleware.HeaderAccountID, other, middleware.HeaderIdempotencyKey, "retry-1")
	if w.Code != http.StatusCreated {
		t.Fatalf("other owner: %d", w.Code)
	}
}

func TestListOrders_StaffOnlyWithFilterAndETag(t *testing.T) {
	f := newAPI(t)
	staff := f.staffID(t)
	o1 := f.placeOrder(t, "")
	f.placeOrder(t, "")
	if w := f.transition(t, staff, o1.ID, "approve"); w.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", w.Code, w.Body.String())
	}

	if w := f.do(t, http.MethodGet, "/orders", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no header: %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/orders", nil, middleware.HeaderStaffID, uuid.NewString()); w.Code != http.StatusForbidden {
		t.Fatalf("unknown staff: %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/orders?status=lost", nil, middleware.HeaderStaffID, staff); w.Code != http.StatusBadRequest {
		t.Fatalf("bad status: %d", w.Code)
	}

	w := f.do(t, http.MethodGet, "/orders?status=approved", nil, middleware.HeaderStaffID, staff)
	resp := decode[ListOrdersResponse](t, w)
	if w.Code != http.StatusOK || len(resp.Orders) != 1 || resp.Orders[0].ID != o1.ID {
		t.Fatalf("filter: %d %+v", w.Code, resp)
	}

	w = f.do(t, http.MethodGet, "/orders?status=pending,approved", nil, middleware.HeaderStaffID, staff)
	if resp := decode[ListOrdersResponse](t, w); resp.Pagination.Total != 2 {
		t.Fatalf("two statuses: %+v", resp.Pagination)
	}
	tag := w.Header().Get("ETag")
	w = f.do(t, http.MethodGet, "/orders?status=approved&status=pending", nil,
		middleware.HeaderStaffID, staff, "If-None-Match", tag)
	if w.Code != http.StatusNotModified {
		t.Fatalf("equal filter should share the tag, got %d", w.Code)
	}
}

func TestGetOrder(t *testing.T) {
	f := newAPI(t)
	o := f.placeOrder(t, "")
	w := f.do(t, http.MethodGet, "/orders/"+o.ID, nil)
	if w.Code != http.StatusOK || len(decode[domain.Order](t, w).Items) != 2 {
		t.Fatalf("get: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodGet, "/orders/"+uuid.NewString(), nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing: %d", w.Code)
	}
}

func TestTransitionOrder_LifecycleCreditsPoints(t *testing.T) {
	f := newAPI(t)
	acc := f.account(t, 0)
	staff := f.staffID(t)
	o := f.placeOrder(t, acc)

	for _, a := range []string{"approve", "prepare", "complete"} {
		w := f.transition(t, staff, o.ID, a)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: %d %s", a, w.Code, w.Body.String())
		}
	}
	// repeating the last action is not an error
	w := f.transition(t, staff, o.ID, "complete")
	res := decode[domain.TransitionResult](t, w)
	if w.Code != http.StatusOK || res.Applied || res.Order.Status != domain.StatusCompleted {
		t.Fatalf("repeat: %d %+v", w.Code, res)
	}

	w = f.do(t, http.MethodGet, "/accounts/"+acc, nil)
	if got := decode[domain.Account](t, w).CurrentPoints; got != 45 {
		t.Fatalf("points after completion = %d; want 45", got)
	}

	w = f.transition(t, staff, o.ID, "deliver")
	if res := decode[domain.TransitionResult](t, w); !res.Applied || res.Previous != domain.StatusCompleted {
		t.Fatalf("deliver: %+v", res)
	}
}

func TestTransitionOrder_Rejections(t *testing.T) {
	f := newAPI(t)
	staff := f.staffID(t)
	o := f.placeOrder(t, "")

	if w := f.do(t, http.MethodPost, "/orders/"+o.ID+"/transitions", TransitionRequest{Action: "approve"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("no header: %d", w.Code)
	}
	if w := f.transition(t, staff, o.ID, "cancel"); w.Code != http.StatusBadRequest {
		t.Fatalf("cancel is not a staff action: %d", w.Code)
	}
	if w := f.transition(t, uuid.NewString(), o.ID, "approve"); w.Code != http.StatusForbidden {
		t.Fatalf("unknown staff: %d", w.Code)
	}

	w := f.transition(t, staff, o.ID, "deliver")
	er := decode[ErrorResponse](t, w)
	if w.Code != http.StatusConflict || er.Code != ErrCodeInvalidTransition || er.Details["current_status"] != "pending" {
		t.Fatalf("illegal edge: %d %+v", w.Code, er)
	}
}

func TestCancelOrder_OwnerOnly(t *testing.T) {
	f := newAPI(t)
	acc := f.account(t, 0)
	other := f.account(t, 0)
	o := f.placeOrder(t, acc)

	if w := f.do(t, http.MethodPost, "/orders/"+o.ID+"/cancel", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no header: %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/orders/"+o.ID+"/cancel", nil, middleware.HeaderAccountID, other); w.Code != http.StatusForbidden {
		t.Fatalf("other account: %d", w.Code)
	}
	w := f.do(t, http.MethodPost, "/orders/"+o.ID+"/cancel", nil, middleware.HeaderAccountID, acc)
	if res := decode[domain.TransitionResult](t, w); w.Code != http.StatusOK || res.Order.Status != domain.StatusCancelled {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
}

func TestCancelOrder_AfterApprovalConflicts(t *testing.T) {
	f := newAPI(t)
	acc := f.account(t, 0)
	o := f.placeOrder(t, acc)
	f.transition(t, f.staffID(t), o.ID, "approve")

	w := f.do(t, http.MethodPost, "/orders/"+o.ID+"/cancel", nil, middleware.HeaderAccountID, acc)
	if w.Code != http.StatusConflict {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

// ---------- rewards and redemptions ----------

func TestRewardsAndRedemptionFlow(t *testing.T) {
	f := newAPI(t)
	acc := f.account(t, 150)
	staff := f.staffID(t)
	reward := f.reward(t, 100, nil)

	w := f.do(t, http.MethodGet, "/rewards", nil)
	if w.Code != http.StatusOK || len(decode[ListRewardsResponse](t, w).Rewards) != 1 {
		t.Fatalf("rewards: %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/rewards/"+reward+"/redeem", nil, middleware.HeaderAccountID, acc)
	if w.Code != http.StatusCreated {
		t.Fatalf("redeem: %d %s", w.Code, w.Body.String())
	}
	red := decode[domain.Redemption](t, w)
	if red.Status != domain.RedemptionPending || red.PointsSpent != 100 {
		t.Fatalf("redemption: %+v", red)
	}

	w = f.do(t, http.MethodGet, "/redemptions/"+red.Code, nil)
	if w.Code != http.StatusOK || decode[domain.Redemption](t, w).ID != red.ID {
		t.Fatalf("validate: %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/redemptions/"+red.Code+"/confirm", nil, middleware.HeaderStaffID, staff)
	if got := decode[domain.Redemption](t, w); w.Code != http.StatusOK || got.Status != domain.RedemptionUsed {
		t.Fatalf("confirm: %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/redemptions/"+red.Code+"/confirm", nil, middleware.HeaderStaffID, staff)
	if w.Code != http.StatusConflict || decode[ErrorResponse](t, w).Code != ErrCodeAlreadyUsed {
		t.Fatalf("second confirm: %d %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodPost, "/redemptions/"+red.Code+"/cancel", nil, middleware.HeaderAccountID, acc)
	if w.Code != http.StatusConflict {
		t.Fatalf("cancel used code: %d", w.Code)
	}
}

func TestRedeem_InsufficientPoints(t *testing.T) {
	f := newAPI(t)
	acc := f.account(t, 90)
	reward := f.reward(t, 100, nil)

	w := f.do(t, http.MethodPost, "/rewards/"+reward+"/redeem", nil, middleware.HeaderAccountID, acc)
	er := decode[ErrorResponse](t, w)
	if w.Code != http.StatusUnprocessableEntity || er.Code != ErrCodeInsufficientPoints {
		t.Fatalf("got %d %+v", w.Code, er)
	}
	if er.Details["required"] != float64(100) || er.Details["available"] != float64(90) {
		t.Fatalf("details: %v", er.Details)
	}
	if w := f.do(t, http.MethodPost, "/rewards/"+reward+"/redeem", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no header: %d", w.Code)
	}
}

func TestRedeem_IdempotentReplayIsScopedToReward(t *testing.T) {
	f := newAPI(t)
	acc := f.account(t, 500)
	r1 := f.reward(t, 100, nil)
	r2 := f.reward(t, 100, nil)
	hdr := []string{middleware.HeaderAccountID, acc, middleware.HeaderIdempotencyKey, "k-1"}

	first := f.do(t, http.MethodPost, "/rewards/"+r1+"/redeem", nil, hdr...)
	again := f.do(t, http.MethodPost, "/rewards/"+r1+"/redeem", nil, hdr...)
	if first.Code != http.StatusCreated || again.Code != http.StatusOK {
		t.Fatalf("first=%d again=%d", first.Code, again.Code)
	}
	if decode[domain.Redemption](t, first).ID != decode[domain.Redemption](t, again).ID {
		t.Fatal("replay returned another redemption")
	}
	if w := f.do(t, http.MethodPost, "/rewards/"+r2+"/redeem", nil, hdr...); w.Code != http.StatusCreated {
		t.Fatalf("same key on another reward: %d", w.Code)
	}

	w := f.do(t, http.MethodGet, "/accounts/"+acc, nil)
	if got := decode[domain.Account](t, w).CurrentPoints; got != 300 {
		t.Fatalf("balance = %d; want 300", got)
	}
}

func TestRedeem_LastUnitConcurrently(t *testing.T) {
	f := newAPI(t)
	stock := 1
	reward := f.reward(t, 10, &stock)
	a, b := f.account(t, 50), f.account(t, 50)

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i, acc := range []string{a, b} {
		wg.Add(1)
		go func(i int, acc string) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/rewards/"+reward+"/redeem", nil)
			req.Header.Set(middleware.HeaderAccountID, acc)
			w := httptest.NewRecorder()
			f.r.ServeHTTP(w, req)
			codes[i] = w.Code
		}(i, acc)
	}
	wg.Wait()

	created, rejected := 0, 0
	for _, c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusUnprocessableEntity:
			rejected++
		}
	}
	if created != 1 || rejected != 1 {
		t.Fatalf("codes=%v; want one 201 and one 422", codes)
	}
}

func TestCancelRedemption_Refunds(t *testing.T) {
	f := newAPI(t)
	acc := f.account(t, 100)
	other := f.account(t, 0)
	reward := f.reward(t, 100, nil)
	w := f.do(t, http.MethodPost, "/rewards/"+reward+"/redeem", nil, middleware.HeaderAccountID, acc)
	red := decode[domain.Redemption](t, w)

	if w := f.do(t, http.MethodPost, "/redemptions/"+red.Code+"/cancel", nil, middleware.HeaderAccountID, other); w.Code != http.StatusForbidden {
		t.Fatalf("other account: %d", w.Code)
	}
	w = f.do(t, http.MethodPost, "/redemptions/"+red.Code+"/cancel", nil, middleware.HeaderAccountID, acc)
	if got := decode[domain.Redemption](t, w); w.Code != http.StatusOK || got.Status != domain.RedemptionCancelled {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodGet, "/accounts/"+acc, nil)
	if got := decode[domain.Account](t, w).CurrentPoints; got != 100 {
		t.Fatalf("balance after refund = %d", got)
	}
}

func TestConfirmAndValidate_Unknown(t *testing.T) {
	f := newAPI(t)
	if w := f.do(t, http.MethodGet, "/redemptions/ZZZZZZ", nil); w.Code != http.StatusNotFound {
		t.Fatalf("validate unknown: %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/redemptions/ZZZZZZ/confirm", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("confirm without staff: %d", w.Code)
	}
}

// ---------- staff ----------

func TestSetDuty(t *testing.T) {
	f := newAPI(t)
	staff := f.staffID(t)
	if _, err := f.staff.LinkSession(context.Background(), staff, "4242"); err != nil {
		t.Fatal(err)
	}
	on := true

	if w := f.do(t, http.MethodPut, "/staff/"+staff+"/duty", DutyRequest{OnDuty: &on}); w.Code != http.StatusUnauthorized {
		t.Fatalf("no header: %d", w.Code)
	}
	if w := f.do(t, http.MethodPut, "/staff/"+staff+"/duty", DutyRequest{OnDuty: &on},
		middleware.HeaderStaffID, f.staffID(t)); w.Code != http.StatusForbidden {
		t.Fatalf("other staff: %d", w.Code)
	}
	if w := f.do(t, http.MethodPut, "/staff/"+staff+"/duty", map[string]any{}, middleware.HeaderStaffID, staff); w.Code != http.StatusBadRequest {
		t.Fatalf("missing on_duty: %d", w.Code)
	}

	w := f.do(t, http.MethodPut, "/staff/"+staff+"/duty", DutyRequest{OnDuty: &on}, middleware.HeaderStaffID, staff)
	resp := decode[DutyResponse](t, w)
	if w.Code != http.StatusOK || !resp.OnDuty || resp.Sessions != 1 {
		t.Fatalf("duty: %d %+v", w.Code, resp)
	}
	sessions, err := f.staff.OnDutySessions(context.Background())
	if err != nil || len(sessions) != 1 || sessions[0].TransportSessionID != "4242" {
		t.Fatalf("on duty sessions: %v %+v", err, sessions)
	}
}
