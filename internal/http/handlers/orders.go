package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
	"github.com/tbourn/go-loyalty-backend/internal/services"
)

// CreateOrderRequest is the JSON payload for placing an order.
type CreateOrderRequest struct {
	Items       []domain.LineRequest `json:"items" binding:"required"`
	TableNumber *int                 `json:"table_number,omitempty" example:"7"`
	Notes       string               `json:"notes,omitempty" example:"sin hielo"`
}

// TransitionRequest asks staff to move an order.
type TransitionRequest struct {
	Action string `json:"action" binding:"required" example:"approve" enums:"approve,reject,prepare,complete,deliver"`
	Reason string `json:"reason,omitempty" example:"sin stock de limón"`
}

// ListOrdersResponse wraps a page of orders.
type ListOrdersResponse struct {
	Orders     []domain.Order `json:"orders"`
	Pagination Pagination     `json:"pagination"`
}

// CreateOrder godoc
// @ID          createOrder
// @Summary     Place an order
// @Description Creates a pending order and notifies on-duty staff. Without X-Account-ID the order is a walk-in and earns no points.
// @Description Supports idempotency via the Idempotency-Key header; a replay returns 200 with Idempotency-Replayed: true.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Param       X-Account-ID     header  string  false  "Ordering account"
// @Param       Idempotency-Key  header  string  false  "Key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreateOrderRequest  true  "Order lines"
// @Success     201  {object} domain.Order
// @Success     200  {object} domain.Order "Idempotent replay"
// @Header      200  {string} Idempotency-Replayed "true when served from a previous attempt"
// @Failure     400  {object} handlers.ErrorResponse "Validation failed"
// @Failure     404  {object} handlers.ErrorResponse "Account not found"
// @Failure     422  {object} handlers.ErrorResponse "Item unavailable or too many active orders"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /orders [post]
func (hs *Handlers) CreateOrder(c *gin.Context) {
	ctx := c.Request.Context()
	if id, isReplay := replayed(c); isReplay {
		o, err := hs.orders.Get(ctx, id)
		if err == nil {
			ok(c, http.StatusOK, o)
			return
		}
		c.Writer.Header().Del("Idempotency-Replayed")
	}

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	in := services.CreateOrderInput{
		Items:       req.Items,
		TableNumber: req.TableNumber,
		Notes:       strings.TrimSpace(req.Notes),
	}
	if acc := accountID(c); acc != "" {
		in.AccountID = &acc
	}

	o, err := hs.orders.Create(ctx, in)
	if err != nil {
		writeError(c, err)
		return
	}
	hs.remember(c, o.ID, http.StatusCreated)
	ok(c, http.StatusCreated, o)
}

// ListOrders godoc
// @ID          listOrders
// @Summary     List orders for staff (paginated)
// @Description Filters by one or more statuses (repeated or comma separated). Supports a weak ETag via If-None-Match.
// @Tags        Orders
// @Produce     json
// @Param       X-Staff-ID     header  string  true   "Acting staff member"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       status         query   string  false  "Status filter"  example(pending,approved)
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListOrdersResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Unknown status"
// @Failure     401  {object} handlers.ErrorResponse "Missing staff header"
// @Failure     403  {object} handlers.ErrorResponse "Unknown or inactive staff"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /orders [get]
func (hs *Handlers) ListOrders(c *gin.Context) {
	if _, okStaff := hs.requireStaff(c); !okStaff {
		return
	}
	statuses, err := parseStatuses(c.QueryArray("status"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()
	p := pageFrom(c)

	if hs.db != nil {
		if count, newest, err := repo.OrdersStats(ctx, hs.db, statuses); err == nil {
			if etag(c, weakTag("orders", statusKey(statuses), p, count, newest)) {
				return
			}
		}
	}

	items, total, err := hs.orders.ListPage(ctx, statuses, p.Number, p.Size)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, ListOrdersResponse{Orders: items, Pagination: paginationOf(p, total)})
}

// GetOrder godoc
// @ID          getOrder
// @Summary     Get an order with its line items
// @Tags        Orders
// @Produce     json
// @Param       id   path     string  true  "Order ID"  format(uuid)
// @Success     200  {object} domain.Order
// @Failure     404  {object} handlers.ErrorResponse "Order not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /orders/{id} [get]
func (hs *Handlers) GetOrder(c *gin.Context) {
	o, err := hs.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// TransitionOrder godoc
// @ID          transitionOrder
// @Summary     Apply a staff action to an order
// @Description Repeating the action that produced the current status succeeds with applied=false.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Param       X-Staff-ID  header  string  true  "Acting staff member"
// @Param       id          path    string  true  "Order ID"  format(uuid)
// @Param       body        body    handlers.TransitionRequest  true  "Action"
// @Success     200  {object} domain.TransitionResult
// @Failure     400  {object} handlers.ErrorResponse "Unknown action"
// @Failure     401  {object} handlers.ErrorResponse "Missing staff header"
// @Failure     403  {object} handlers.ErrorResponse "Unknown or inactive staff"
// @Failure     404  {object} handlers.ErrorResponse "Order not found"
// @Failure     409  {object} handlers.ErrorResponse "Illegal from the current status"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /orders/{id}/transitions [post]
func (hs *Handlers) TransitionOrder(c *gin.Context) {
	sid := staffID(c)
	if sid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-Staff-ID header required")
		return
	}
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	action := domain.OrderAction(strings.ToLower(strings.TrimSpace(req.Action)))
	if !action.IsStaffAction() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown action "+req.Action)
		return
	}

	// the coordinator checks the staff member is active
	res, err := hs.fulfillment.ApplyTransition(c.Request.Context(), c.Param("id"), action,
		domain.StaffActor(sid, ""), domain.TransitionExtra{Reason: strings.TrimSpace(req.Reason)})
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// CancelOrder godoc
// @ID          cancelOrder
// @Summary     Cancel an own pending order
// @Tags        Orders
// @Produce     json
// @Param       X-Account-ID  header  string  true  "Owning account"
// @Param       id            path    string  true  "Order ID"  format(uuid)
// @Success     200  {object} domain.TransitionResult
// @Failure     401  {object} handlers.ErrorResponse "Missing account header"
// @Failure     403  {object} handlers.ErrorResponse "Order belongs to another account"
// @Failure     404  {object} handlers.ErrorResponse "Order not found"
// @Failure     409  {object} handlers.ErrorResponse "Order no longer pending"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /orders/{id}/cancel [post]
func (hs *Handlers) CancelOrder(c *gin.Context) {
	acc, okAcc := requireAccount(c)
	if !okAcc {
		return
	}
	res, err := hs.fulfillment.ApplyTransition(c.Request.Context(), c.Param("id"), domain.ActionCancel,
		domain.AccountActor(acc), domain.TransitionExtra{})
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// parseStatuses accepts repeated and comma separated values. Duplicates are
// dropped; the result is sorted so equal filters share an ETag.
func parseStatuses(raw []string) ([]domain.OrderStatus, error) {
	seen := map[domain.OrderStatus]bool{}
	var out []domain.OrderStatus
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			s := domain.OrderStatus(strings.ToLower(strings.TrimSpace(part)))
			if s == "" || seen[s] {
				continue
			}
			if !s.Valid() {
				return nil, fmt.Errorf("unknown status %q", string(s))
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func statusKey(statuses []domain.OrderStatus) string {
	if len(statuses) == 0 {
		return "all"
	}
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}
