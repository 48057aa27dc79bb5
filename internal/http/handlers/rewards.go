package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
)

// ListRewardsResponse lists redeemable rewards.
type ListRewardsResponse struct {
	Rewards []domain.Reward `json:"rewards"`
}

// ListRedemptionsResponse lists redemptions, newest first.
type ListRedemptionsResponse struct {
	Redemptions []domain.Redemption `json:"redemptions"`
}

// ListRewards godoc
// @ID          listRewards
// @Summary     List enabled rewards
// @Tags        Rewards
// @Produce     json
// @Success     200  {object} handlers.ListRewardsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /rewards [get]
func (hs *Handlers) ListRewards(c *gin.Context) {
	items, err := hs.redemptions.ListRewards(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, ListRewardsResponse{Rewards: items})
}

// RedeemReward godoc
// @ID          redeemReward
// @Summary     Spend points on a reward
// @Description Debits the reward cost, takes one stock unit and issues a single-use code.
// @Description Supports idempotency via the Idempotency-Key header; a replay returns 200 with Idempotency-Replayed: true.
// @Tags        Rewards
// @Produce     json
// @Param       X-Account-ID     header  string  true   "Redeeming account"
// @Param       Idempotency-Key  header  string  false  "Key for safe retries"
// @Param       id               path    string  true   "Reward ID"  format(uuid)
// @Success     201  {object} domain.Redemption
// @Success     200  {object} domain.Redemption "Idempotent replay"
// @Failure     401  {object} handlers.ErrorResponse "Missing account header"
// @Failure     404  {object} handlers.ErrorResponse "Account or reward not found"
// @Failure     422  {object} handlers.ErrorResponse "Insufficient points or not available"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /rewards/{id}/redeem [post]
func (hs *Handlers) RedeemReward(c *gin.Context) {
	acc, okAcc := requireAccount(c)
	if !okAcc {
		return
	}
	ctx := c.Request.Context()
	if id, isReplay := replayed(c); isReplay {
		r, err := hs.redemptions.Get(ctx, id)
		if err == nil {
			ok(c, http.StatusOK, r)
			return
		}
		c.Writer.Header().Del("Idempotency-Replayed")
	}

	r, err := hs.redemptions.Redeem(ctx, acc, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	hs.remember(c, r.ID, http.StatusCreated)
	ok(c, http.StatusCreated, r)
}

// ValidateCode godoc
// @ID          validateCode
// @Summary     Look up a redemption code
// @Description Case-insensitive. Does not change the redemption.
// @Tags        Redemptions
// @Produce     json
// @Param       code  path     string  true  "Redemption code"  example(K7Q2M9)
// @Success     200   {object} domain.Redemption
// @Failure     404   {object} handlers.ErrorResponse "Unknown code"
// @Failure     500   {object} handlers.ErrorResponse "Internal error"
// @Router      /redemptions/{code} [get]
func (hs *Handlers) ValidateCode(c *gin.Context) {
	r, err := hs.redemptions.Validate(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// ConfirmRedemption godoc
// @ID          confirmRedemption
// @Summary     Mark a code as used
// @Description Exactly one of several concurrent confirmations succeeds.
// @Tags        Redemptions
// @Produce     json
// @Param       X-Staff-ID  header  string  true  "Confirming staff member"
// @Param       code        path    string  true  "Redemption code or id"
// @Success     200  {object} domain.Redemption
// @Failure     401  {object} handlers.ErrorResponse "Missing staff header"
// @Failure     403  {object} handlers.ErrorResponse "Unknown or inactive staff"
// @Failure     404  {object} handlers.ErrorResponse "Unknown code"
// @Failure     409  {object} handlers.ErrorResponse "Already used or cancelled"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /redemptions/{code}/confirm [post]
func (hs *Handlers) ConfirmRedemption(c *gin.Context) {
	sid := staffID(c)
	if sid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-Staff-ID header required")
		return
	}
	r, err := hs.redemptions.ConfirmUse(c.Request.Context(), c.Param("code"), sid)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// CancelRedemption godoc
// @ID          cancelRedemption
// @Summary     Cancel an unused code
// @Description Refunds the points and returns the stock unit.
// @Tags        Redemptions
// @Produce     json
// @Param       X-Account-ID  header  string  true  "Owning account"
// @Param       code          path    string  true  "Redemption code or id"
// @Success     200  {object} domain.Redemption
// @Failure     401  {object} handlers.ErrorResponse "Missing account header"
// @Failure     403  {object} handlers.ErrorResponse "Another account's code"
// @Failure     404  {object} handlers.ErrorResponse "Unknown code"
// @Failure     409  {object} handlers.ErrorResponse "Already used or cancelled"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /redemptions/{code}/cancel [post]
func (hs *Handlers) CancelRedemption(c *gin.Context) {
	acc, okAcc := requireAccount(c)
	if !okAcc {
		return
	}
	r, err := hs.redemptions.Cancel(c.Request.Context(), c.Param("code"), domain.AccountActor(acc))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}
