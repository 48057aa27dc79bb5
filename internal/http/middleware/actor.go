package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Actor headers. Authentication is out of scope; the API trusts a fronting
// gateway to set these.
const (
	HeaderAccountID = "X-Account-ID"
	HeaderStaffID   = "X-Staff-ID"
)

const (
	ctxKeyAccountID = "actor.account"
	ctxKeyStaffID   = "actor.staff"
)

// Actors reads the actor headers once and stores the trimmed values.
func Actors() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v := strings.TrimSpace(c.GetHeader(HeaderAccountID)); v != "" {
			c.Set(ctxKeyAccountID, v)
		}
		if v := strings.TrimSpace(c.GetHeader(HeaderStaffID)); v != "" {
			c.Set(ctxKeyStaffID, v)
		}
		c.Next()
	}
}

// AccountID returns the calling account, if any.
func AccountID(c *gin.Context) string { return c.GetString(ctxKeyAccountID) }

// StaffID returns the calling staff member, if any.
func StaffID(c *gin.Context) string { return c.GetString(ctxKeyStaffID) }
