package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-loyalty-backend/internal/http/middleware"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
)

// Register mounts every API route on g.
func (hs *Handlers) Register(g gin.IRoutes) {
	g.POST("/accounts", hs.OpenAccount)
	g.GET("/accounts/:id", hs.GetAccount)
	g.GET("/accounts/:id/ledger", hs.ListLedger)
	g.GET("/accounts/:id/orders", hs.ListAccountOrders)
	g.GET("/accounts/:id/redemptions", hs.ListAccountRedemptions)

	g.POST("/orders", hs.CreateOrder)
	g.GET("/orders", hs.ListOrders)
	g.GET("/orders/:id", hs.GetOrder)
	g.POST("/orders/:id/transitions", hs.TransitionOrder)
	g.POST("/orders/:id/cancel", hs.CancelOrder)

	g.GET("/rewards", hs.ListRewards)
	g.POST("/rewards/:id/redeem", hs.RedeemReward)

	g.GET("/redemptions/:code", hs.ValidateCode)
	g.POST("/redemptions/:code/confirm", hs.ConfirmRedemption)
	g.POST("/redemptions/:code/cancel", hs.CancelRedemption)

	g.PUT("/staff/:id/duty", hs.SetDuty)
}

// IdempotencyScope names the keyed operations: "orders" for order
// creation and "redeem:<reward>" for redemptions. Other routes fall back to
// their pattern.
func IdempotencyScope(c *gin.Context) string {
	p := c.FullPath()
	switch {
	case strings.HasSuffix(p, "/rewards/:id/redeem"):
		return "redeem:" + c.Param("id")
	case strings.HasSuffix(p, "/orders") && c.Request.Method == http.MethodPost:
		return "orders"
	}
	return c.Request.Method + " " + p
}

// IdempotencyLookup resolves remembered keys from the idempotency table.
func IdempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, ownerID, scope, key string, now time.Time) (string, bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, ownerID, scope, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return rec.ResourceID, true, nil
	}
}
