// Loyalty HTTP handlers.
//
// Handlers are transport-thin: they read actor headers and input, call the
// application services, and translate results into HTTP responses. Service
// errors are mapped in errors.go.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
	"github.com/tbourn/go-loyalty-backend/internal/http/middleware"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
	"github.com/tbourn/go-loyalty-backend/internal/services"
	"github.com/tbourn/go-loyalty-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// OrderService creates and reads orders.
type OrderService interface {
	Create(ctx context.Context, in services.CreateOrderInput) (*domain.Order, error)
	Get(ctx context.Context, id string) (*domain.Order, error)
	ListPage(ctx context.Context, statuses []domain.OrderStatus, page, pageSize int) ([]domain.Order, int64, error)
	ListForAccount(ctx context.Context, accountID string, page, pageSize int) ([]domain.Order, int64, error)
}

// FulfillmentService moves orders through the status machine.
type FulfillmentService interface {
	ApplyTransition(ctx context.Context, orderID string, action domain.OrderAction, actor domain.Actor, extra domain.TransitionExtra) (*domain.TransitionResult, error)
}

// LedgerService reads and opens accounts.
type LedgerService interface {
	OpenAccount(ctx context.Context, name string) (*domain.Account, error)
	Balance(ctx context.Context, accountID string) (*domain.Account, error)
	Entries(ctx context.Context, accountID string, page, pageSize int) ([]domain.LedgerEntry, int64, error)
}

// RedemptionService manages rewards and redemption codes.
type RedemptionService interface {
	ListRewards(ctx context.Context) ([]domain.Reward, error)
	ListForAccount(ctx context.Context, accountID string, limit int) ([]domain.Redemption, error)
	Redeem(ctx context.Context, accountID, rewardID string) (*domain.Redemption, error)
	Get(ctx context.Context, codeOrID string) (*domain.Redemption, error)
	Validate(ctx context.Context, code string) (*domain.Redemption, error)
	ConfirmUse(ctx context.Context, codeOrID, staffID string) (*domain.Redemption, error)
	Cancel(ctx context.Context, codeOrID string, actor domain.Actor) (*domain.Redemption, error)
}

// StaffService checks staff and toggles shifts.
type StaffService interface {
	ActiveStaff(ctx context.Context, id string) (*domain.StaffMember, error)
	SetDuty(ctx context.Context, staffID string, onDuty bool) (int64, error)
}

//
// Handler wiring
//

// Options carries handler dependencies that are not services.
type Options struct {
	// DB backs list ETags and idempotency records. Both are skipped when nil.
	DB *gorm.DB
	// IdempotencyTTL is how long a successful keyed request is remembered.
	IdempotencyTTL time.Duration
}

// Handlers groups the HTTP endpoints of the API.
type Handlers struct {
	orders      OrderService
	fulfillment FulfillmentService
	ledger      LedgerService
	redemptions RedemptionService
	staff       StaffService

	db      *gorm.DB
	idemTTL time.Duration
}

// New constructs Handlers bound to the given services.
func New(orders OrderService, fulfillment FulfillmentService, ledger LedgerService, redemptions RedemptionService, staff StaffService, opts Options) *Handlers {
	ttl := opts.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handlers{
		orders:      orders,
		fulfillment: fulfillment,
		ledger:      ledger,
		redemptions: redemptions,
		staff:       staff,
		db:          opts.DB,
		idemTTL:     ttl,
	}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func paginationOf(p utils.Page, total int64) Pagination {
	return Pagination{
		Page:       p.Number,
		PageSize:   p.Size,
		Total:      total,
		TotalPages: p.TotalPages(total),
		HasNext:    p.HasNext(total),
	}
}

//
// Helpers
//

func pageFrom(c *gin.Context) utils.Page {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"))
}

// accountID is the calling account. Actors normally sets it; the header is
// read directly when that middleware is not mounted.
func accountID(c *gin.Context) string {
	if id := middleware.AccountID(c); id != "" {
		return id
	}
	return strings.TrimSpace(c.GetHeader(middleware.HeaderAccountID))
}

func staffID(c *gin.Context) string {
	if id := middleware.StaffID(c); id != "" {
		return id
	}
	return strings.TrimSpace(c.GetHeader(middleware.HeaderStaffID))
}

// requireAccount aborts with 401 when no account header was sent.
func requireAccount(c *gin.Context) (string, bool) {
	id := accountID(c)
	if id == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, middleware.HeaderAccountID+" header required")
		return "", false
	}
	return id, true
}

// requireStaff aborts with 401 without a staff header and 403 when the
// staff member is unknown or inactive.
func (hs *Handlers) requireStaff(c *gin.Context) (*domain.StaffMember, bool) {
	id := staffID(c)
	if id == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, middleware.HeaderStaffID+" header required")
		return nil, false
	}
	m, err := hs.staff.ActiveStaff(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return m, true
}

// etag sets a weak ETag and reports whether the client already has it.
func etag(c *gin.Context, tag string) bool {
	c.Header("ETag", tag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == tag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

// weakTag derives a list ETag from the row count and newest change.
func weakTag(kind, scope string, p utils.Page, count int64, newest *time.Time) string {
	var ts int64
	if newest != nil {
		ts = newest.UnixNano()
	}
	return fmt.Sprintf(`W/"%s:%s:%d:%d:%d:%d"`, kind, scope, p.Number, p.Size, count, ts)
}

// replayed reports a retried keyed request and marks the response.
func replayed(c *gin.Context) (string, bool) {
	id, ok := middleware.ReplayOf(c)
	if ok {
		c.Header("Idempotency-Replayed", "true")
	}
	return id, ok
}

// remember records the resource a keyed request produced. Best effort: a
// lost race with a concurrent first attempt is ignored.
func (hs *Handlers) remember(c *gin.Context, resourceID string, status int) {
	key, ok := middleware.GetIdempotencyKey(c)
	if !ok || hs.db == nil {
		return
	}
	_, err := repo.CreateIdempotency(c.Request.Context(), hs.db, key.Owner, key.Scope, key.Key, resourceID, status, hs.idemTTL)
	if err != nil && !repo.IsDuplicate(err) {
		middleware.LoggerFrom(c).Warn().Err(err).Str("scope", key.Scope).Msg("idempotency record failed")
	}
}
