// Package services – OrderService
//
// OrderService admits new orders: it validates the requested lines against
// the catalog, enforces the per-account limit on orders awaiting
// fulfillment, snapshots prices and points, assigns a short pickup code and
// persists everything atomically. Staff are notified after the commit.
//
// Status changes are not made here; see FulfillmentService.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
	"github.com/tbourn/go-loyalty-backend/internal/observability"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
)

// Defaults applied by NewOrderService.
const (
	DefaultMaxActiveOrders = 3
	DefaultMaxItemQty      = 10
	defaultCodeAttempts    = 8
	maxNotesRunes          = 500
)

// Catalog resolves menu entries by id.
type Catalog interface {
	Items(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.CatalogItem, error)
}

// DBCatalog reads the catalog_items table.
type DBCatalog struct{}

// Items implements Catalog.
func (DBCatalog) Items(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.CatalogItem, error) {
	return repo.GetCatalogItems(ctx, db, ids)
}

// CreateOrderInput is the request to place an order. A nil AccountID is a
// walk-in order that earns no points.
type CreateOrderInput struct {
	AccountID   *string
	Items       []domain.LineRequest
	TableNumber *int
	Notes       string
}

// OrderService creates and reads orders.
type OrderService struct {
	DB      *gorm.DB
	Ledger  *LedgerService
	Catalog Catalog
	Notify  *Dispatcher

	MaxActiveOrders int
	MaxItemQty      int
	CodeAttempts    int
}

// NewOrderService constructs an OrderService with default limits.
func NewOrderService(db *gorm.DB, ledger *LedgerService, catalog Catalog, notify *Dispatcher) *OrderService {
	if catalog == nil {
		catalog = DBCatalog{}
	}
	return &OrderService{
		DB:              db,
		Ledger:          ledger,
		Catalog:         catalog,
		Notify:          notify,
		MaxActiveOrders: DefaultMaxActiveOrders,
		MaxItemQty:      DefaultMaxItemQty,
		CodeAttempts:    defaultCodeAttempts,
	}
}

// Create validates and persists a new pending order.
func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	attrs := []attribute.KeyValue{attribute.Int("items", len(in.Items))}
	if in.AccountID != nil {
		attrs = append(attrs, attribute.String("account.id", *in.AccountID))
	}
	ctx, span := otel.Tracer("services/OrderService").Start(ctx, "Create", trace.WithAttributes(attrs...))
	defer span.End()

	if err := s.validate(&in); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(in.Items))
	for _, l := range in.Items {
		ids = append(ids, l.CatalogItemID)
	}
	catalog, err := s.Catalog.Items(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		it, ok := catalog[id]
		if !ok || !it.Available {
			return nil, fmt.Errorf("%w: %s", ErrItemUnavailable, id)
		}
	}

	attempts := s.CodeAttempts
	if attempts <= 0 {
		attempts = defaultCodeAttempts
	}
	var order *domain.Order
	for i := 0; i < attempts; i++ {
		order, err = s.createOnce(ctx, in, catalog)
		if err == nil || !repo.IsDuplicate(err) {
			break
		}
		// another order claimed the code between the check and the insert
		logger(ctx).Debug().Err(err).Int("attempt", i+1).Msg("order code collision, retrying")
	}
	if err != nil {
		if repo.IsDuplicate(err) {
			return nil, fmt.Errorf("allocate order code: %w", ErrConflict)
		}
		return nil, err
	}

	observability.ObserveOrderCreated()
	ev := logger(ctx).Info().Str("order_id", order.ID).Str("code", order.Code).Int64("points_to_earn", order.PointsToEarn)
	if order.AccountID != nil {
		ev = ev.Str("account_id", *order.AccountID)
	}
	ev.Msg("order created")

	snapshot := *order
	s.Notify.Go(ctx, "new_order", func(ctx context.Context, n Notifier) error {
		return n.NotifyNewOrder(ctx, &snapshot)
	})
	return order, nil
}

func (s *OrderService) createOnce(ctx context.Context, in CreateOrderInput, catalog map[string]domain.CatalogItem) (*domain.Order, error) {
	var order *domain.Order
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		multiplier := decimal.NewFromInt(1)
		if in.AccountID != nil {
			if _, err := repo.LockAccount(ctx, tx, *in.AccountID); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrAccountNotFound
				}
				return err
			}
			if s.MaxActiveOrders > 0 {
				n, err := repo.CountAccountOrders(ctx, tx, *in.AccountID, domain.LimitedStatuses)
				if err != nil {
					return err
				}
				if n >= int64(s.MaxActiveOrders) {
					return ErrTooManyActiveOrders
				}
			}
			if s.Ledger != nil {
				m, err := s.Ledger.Multiplier(ctx, tx, *in.AccountID)
				if err != nil {
					return err
				}
				multiplier = m
			}
		}

		priced := domain.PriceOrder(in.Items, catalog, multiplier)
		code, err := s.freeCode(ctx, tx)
		if err != nil {
			return err
		}

		o := &domain.Order{
			Code:         code,
			AccountID:    in.AccountID,
			TableNumber:  in.TableNumber,
			Notes:        in.Notes,
			Subtotal:     priced.Subtotal,
			Total:        priced.Total,
			PointsToEarn: priced.PointsToEarn,
			Status:       domain.StatusPending,
			CreatedAt:    time.Now().UTC(),
			Items:        priced.Lines,
		}
		if in.AccountID == nil {
			// walk-ins have nobody to credit
			o.PointsToEarn = 0
		}
		if err := repo.CreateOrder(ctx, tx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	return order, err
}

// freeCode picks a code not held by any active order. The partial unique
// index remains the final arbiter.
func (s *OrderService) freeCode(ctx context.Context, tx *gorm.DB) (string, error) {
	for i := 0; i < defaultCodeAttempts; i++ {
		code, err := domain.NewCode(domain.OrderCodeLen)
		if err != nil {
			return "", err
		}
		taken, err := repo.ActiveOrderCodeExists(ctx, tx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("allocate order code: %w", ErrConflict)
}

func (s *OrderService) validate(in *CreateOrderInput) error {
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrValidation)
	}
	maxQty := s.MaxItemQty
	if maxQty <= 0 {
		maxQty = DefaultMaxItemQty
	}
	seen := make(map[string]struct{}, len(in.Items))
	for i := range in.Items {
		l := &in.Items[i]
		l.CatalogItemID = strings.TrimSpace(l.CatalogItemID)
		if l.CatalogItemID == "" {
			return fmt.Errorf("%w: item %d has no catalog id", ErrValidation, i)
		}
		if l.Quantity < 1 || l.Quantity > maxQty {
			return fmt.Errorf("%w: quantity for %s must be between 1 and %d", ErrValidation, l.CatalogItemID, maxQty)
		}
		if _, dup := seen[l.CatalogItemID]; dup {
			return fmt.Errorf("%w: item %s listed twice", ErrValidation, l.CatalogItemID)
		}
		seen[l.CatalogItemID] = struct{}{}
	}
	if in.TableNumber != nil && *in.TableNumber <= 0 {
		return fmt.Errorf("%w: table number must be positive", ErrValidation)
	}
	in.Notes = strings.TrimSpace(in.Notes)
	if utf8.RuneCountInString(in.Notes) > maxNotesRunes {
		return fmt.Errorf("%w: notes longer than %d characters", ErrValidation, maxNotesRunes)
	}
	if in.AccountID != nil && strings.TrimSpace(*in.AccountID) == "" {
		in.AccountID = nil
	}
	return nil
}

// Get returns an order with its line items.
func (s *OrderService) Get(ctx context.Context, id string) (*domain.Order, error) {
	o, err := repo.GetOrder(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// ListPage returns a page of orders in any of statuses (all when empty),
// oldest first.
func (s *OrderService) ListPage(ctx context.Context, statuses []domain.OrderStatus, page, pageSize int) ([]domain.Order, int64, error) {
	ctx, span := otel.Tracer("services/OrderService").Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	for _, st := range statuses {
		if !st.Valid() {
			return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, st)
		}
	}
	page, pageSize = normalizePage(page, pageSize)

	total, err := repo.CountOrders(ctx, s.DB, statuses)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Order{}, 0, nil
	}
	items, err := repo.ListOrdersPage(ctx, s.DB, statuses, (page-1)*pageSize, pageSize)
	return items, total, err
}

// ListForAccount returns a page of an account's orders, newest first.
func (s *OrderService) ListForAccount(ctx context.Context, accountID string, page, pageSize int) ([]domain.Order, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	total, err := repo.CountAccountOrders(ctx, s.DB, accountID, nil)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Order{}, 0, nil
	}
	items, err := repo.ListAccountOrdersPage(ctx, s.DB, accountID, (page-1)*pageSize, pageSize)
	return items, total, err
}
