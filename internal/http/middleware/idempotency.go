package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's retry key on unsafe requests.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemOwner  = "idem.owner"
	ctxKeyIdemScope  = "idem.scope"
	ctxKeyIdemReplay = "idem.replay" // string: resource produced by the first attempt
	ctxKeyRateBypass = "rate.bypass"
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyLookup returns the resource a previous request with the same
// (owner, scope, key) produced, if it is still remembered.
type IdempotencyLookup func(ctx context.Context, ownerID, scope, key string, now time.Time) (resourceID string, found bool, err error)

// IdempotencyOptions configures Idempotency.
type IdempotencyOptions struct {
	// MaxLen caps the key length (default 200).
	MaxLen int
	// Pattern restricts allowed characters (default ^[A-Za-z0-9._~\-:]+$).
	Pattern *regexp.Regexp
	// Scope names the operation, e.g. "orders" or "redeem:<reward>".
	// Defaults to the matched route.
	Scope func(*gin.Context) string
}

// IdempotencyKey is the per-request idempotency state.
type IdempotencyKey struct {
	Owner string
	Scope string
	Key   string
}

// GetIdempotencyKey returns the validated key and the owner and scope it is
// bound to.
func GetIdempotencyKey(c *gin.Context) (IdempotencyKey, bool) {
	k := c.GetString(ctxKeyIdemKey)
	if k == "" {
		return IdempotencyKey{}, false
	}
	return IdempotencyKey{Owner: c.GetString(ctxKeyIdemOwner), Scope: c.GetString(ctxKeyIdemScope), Key: k}, true
}

// ReplayOf returns the resource id recorded for this key when the request
// is a retry of one that already succeeded.
func ReplayOf(c *gin.Context) (string, bool) {
	id := c.GetString(ctxKeyIdemReplay)
	return id, id != ""
}

// IdempotencyOwner is who a key belongs to: the calling account, or the
// client address for anonymous (walk-in) callers.
func IdempotencyOwner(c *gin.Context) string {
	if id := AccountID(c); id != "" {
		return "account:" + id
	}
	return "ip:" + c.ClientIP()
}

// Idempotency validates an Idempotency-Key header and, when lookup finds a
// remembered result, marks the request as a replay and exempts it from rate
// limiting. Handlers serve the replay; this middleware never writes a
// success body itself. Requests without the header pass through.
func Idempotency(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}
	scopeOf := opts.Scope
	if scopeOf == nil {
		scopeOf = func(c *gin.Context) string { return c.FullPath() }
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}

		owner, scope := IdempotencyOwner(c), scopeOf(c)
		c.Set(ctxKeyIdemKey, key)
		c.Set(ctxKeyIdemOwner, owner)
		c.Set(ctxKeyIdemScope, scope)

		if lookup != nil {
			id, found, err := lookup(c.Request.Context(), owner, scope, key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			}
			if found && id != "" {
				c.Set(ctxKeyIdemReplay, id)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
