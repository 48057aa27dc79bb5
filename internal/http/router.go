// Package httpapi wires the HTTP transport (Gin) to the loyalty services,
// middleware and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging with redaction, panic recovery,
// metrics, CORS, security headers, idempotency and rate limiting.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-loyalty-backend/docs"
	"github.com/tbourn/go-loyalty-backend/internal/config"
	"github.com/tbourn/go-loyalty-backend/internal/http/handlers"
	"github.com/tbourn/go-loyalty-backend/internal/http/middleware"
	"github.com/tbourn/go-loyalty-backend/internal/services"
)

// Services are the application services the API exposes.
type Services struct {
	Orders      *services.OrderService
	Fulfillment *services.FulfillmentService
	Ledger      *services.LedgerService
	Redemptions *services.RedemptionService
	Staff       *services.StaffService

	// Webhook receives staff bot updates; nil unless the bot runs in
	// webhook mode.
	Webhook http.Handler
}

// WebhookPath is where the staff bot's updates are delivered.
const WebhookPath = "/telegram/webhook"

var allowHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization",
	middleware.HeaderAccountID, middleware.HeaderStaffID, middleware.HeaderIdempotencyKey,
	"If-None-Match",
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the versioned API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID, Actors: correlation id and caller before logging
//  3. Logger: structured access log with redaction
//  4. Recovery: capture panics after the logger
//  5. Body size limit, gzip
//  6. Metrics
//  7. Idempotency (before rate limiting so replays bypass it)
//  8. Rate limiter per staff/account/IP
//  9. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, svc Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID(), middleware.Actors())
	r.Use(middleware.Logger(middleware.LogOptions{MaskHeaders: []string{"X-API-Key"}}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics", WebhookPath})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.Idempotency(
		middleware.IdempotencyOptions{MaxLen: 200, Scope: handlers.IdempotencyScope},
		handlers.IdempotencyLookup(db),
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByActorOrIP())
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Preflights are answered by the CORS middleware; this route only keeps
	// them off the 405 path and covers same-origin OPTIONS.
	r.OPTIONS("/*path", func(c *gin.Context) { c.AbortWithStatus(http.StatusNoContent) })

	r.GET("/health", health(db))

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	if svc.Webhook != nil {
		r.POST(WebhookPath, gin.WrapH(svc.Webhook))
	}

	h := handlers.New(svc.Orders, svc.Fulfillment, svc.Ledger, svc.Redemptions, svc.Staff, handlers.Options{
		DB:             db,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})
	h.Register(groupWithPrefix(r, cfg.APIBasePath))
}

// health reports liveness and whether the database answers.
func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status})
	}
}

// corsMiddleware allows every origin when none are configured, otherwise
// echoes allow-listed origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	if len(origins) == 0 {
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins: true,
				AllowMethods:    []string{"GET", "POST", "PUT", "OPTIONS"},
				AllowHeaders:    allowHeaders,
				ExposeHeaders:   []string{"X-Request-ID", "ETag", "Idempotency-Replayed", "Retry-After"},
				MaxAge:          12 * time.Hour,
			}),
		}
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:  origins,
			AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:  allowHeaders,
			ExposeHeaders: []string{"X-Request-ID", "ETag", "Idempotency-Replayed", "Retry-After"},
			MaxAge:        12 * time.Hour,
		}),
	}
}

// limitBody caps request bodies at maxBytes.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
