package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
	"github.com/tbourn/go-loyalty-backend/internal/utils"
)

// OpenAccountRequest is the JSON payload for opening an account.
type OpenAccountRequest struct {
	Name string `json:"name" binding:"max=255" example:"Lucía"`
}

// ListLedgerResponse wraps a page of ledger entries.
type ListLedgerResponse struct {
	AccountID  string               `json:"account_id"`
	Balance    int64                `json:"balance"`
	Entries    []domain.LedgerEntry `json:"entries"`
	Pagination Pagination           `json:"pagination"`
}

// OpenAccount godoc
// @ID          openAccount
// @Summary     Open a loyalty account
// @Description Creates an account with a zero balance at the entry tier.
// @Tags        Accounts
// @Accept      json
// @Produce     json
// @Param       body  body     handlers.OpenAccountRequest  false  "Account holder"
// @Success     201   {object} domain.Account
// @Failure     400   {object} handlers.ErrorResponse "Bad request"
// @Failure     500   {object} handlers.ErrorResponse "Internal error"
// @Router      /accounts [post]
func (hs *Handlers) OpenAccount(c *gin.Context) {
	var req OpenAccountRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	acc, err := hs.ledger.OpenAccount(c.Request.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusCreated, acc)
}

// GetAccount godoc
// @ID          getAccount
// @Summary     Account balance and tier
// @Tags        Accounts
// @Produce     json
// @Param       id   path     string  true  "Account ID"  format(uuid)
// @Success     200  {object} domain.Account
// @Failure     404  {object} handlers.ErrorResponse "Account not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /accounts/{id} [get]
func (hs *Handlers) GetAccount(c *gin.Context) {
	acc, err := hs.ledger.Balance(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, acc)
}

// ListLedger godoc
// @ID          listLedger
// @Summary     Ledger entries (paginated)
// @Description Newest first. Supports a weak ETag via If-None-Match and may return 304.
// @Tags        Accounts
// @Produce     json
// @Param       id             path    string  true   "Account ID"  format(uuid)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListLedgerResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     404  {object} handlers.ErrorResponse "Account not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /accounts/{id}/ledger [get]
func (hs *Handlers) ListLedger(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	p := pageFrom(c)

	acc, err := hs.ledger.Balance(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if hs.db != nil {
		if count, newest, err := repo.LedgerStats(ctx, hs.db, id); err == nil {
			if etag(c, weakTag("ledger", id, p, count, newest)) {
				return
			}
		}
	}

	items, total, err := hs.ledger.Entries(ctx, id, p.Number, p.Size)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, ListLedgerResponse{
		AccountID:  acc.ID,
		Balance:    acc.CurrentPoints,
		Entries:    items,
		Pagination: paginationOf(p, total),
	})
}

// ListAccountOrders godoc
// @ID          listAccountOrders
// @Summary     Orders of the calling account (paginated)
// @Tags        Accounts
// @Produce     json
// @Param       X-Account-ID  header  string  true   "Calling account"
// @Param       id            path    string  true   "Account ID"  format(uuid)
// @Param       page          query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size     query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListOrdersResponse
// @Failure     401  {object} handlers.ErrorResponse "Missing account header"
// @Failure     403  {object} handlers.ErrorResponse "Another account"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /accounts/{id}/orders [get]
func (hs *Handlers) ListAccountOrders(c *gin.Context) {
	id, okAcc := hs.ownAccount(c)
	if !okAcc {
		return
	}
	p := pageFrom(c)
	items, total, err := hs.orders.ListForAccount(c.Request.Context(), id, p.Number, p.Size)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, ListOrdersResponse{Orders: items, Pagination: paginationOf(p, total)})
}

// ListAccountRedemptions godoc
// @ID          listAccountRedemptions
// @Summary     Recent redemptions of the calling account
// @Tags        Accounts
// @Produce     json
// @Param       X-Account-ID  header  string  true   "Calling account"
// @Param       id            path    string  true   "Account ID"  format(uuid)
// @Param       limit         query   int     false  "Max items"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListRedemptionsResponse
// @Failure     401  {object} handlers.ErrorResponse "Missing account header"
// @Failure     403  {object} handlers.ErrorResponse "Another account"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /accounts/{id}/redemptions [get]
func (hs *Handlers) ListAccountRedemptions(c *gin.Context) {
	id, okAcc := hs.ownAccount(c)
	if !okAcc {
		return
	}
	p := utils.ParsePage("1", c.Query("limit"))
	items, err := hs.redemptions.ListForAccount(c.Request.Context(), id, p.Size)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, ListRedemptionsResponse{Redemptions: items})
}

// ownAccount requires the account header to name the :id account.
func (hs *Handlers) ownAccount(c *gin.Context) (string, bool) {
	caller, okAcc := requireAccount(c)
	if !okAcc {
		return "", false
	}
	if id := c.Param("id"); id != caller {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "account mismatch")
		return "", false
	}
	return caller, true
}
