package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestKeyByActorOrIP(t *testing.T) {
	r := newEngine(Actors())
	r.GET("/k", func(c *gin.Context) { c.String(http.StatusOK, KeyByActorOrIP()(c)) })

	cases := []struct {
		account, staff, want string
	}{
		{"", "", "ip:203.0.113.9"},
		{"acc-1", "", "account:acc-1"},
		{"acc-1", "st-1", "staff:st-1"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/k", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		if tc.account != "" {
			req.Header.Set(HeaderAccountID, tc.account)
		}
		if tc.staff != "" {
			req.Header.Set(HeaderStaffID, tc.staff)
		}
		r.ServeHTTP(w, req)
		if w.Body.String() != tc.want {
			t.Fatalf("key=%q want %q", w.Body.String(), tc.want)
		}
	}
}

func TestRateLimiter_ReusesAndSweepsBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 0, nil)
	if rl.burst != 1 {
		t.Fatalf("burst=%d", rl.burst)
	}
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	rl.sweepN = 2

	a := rl.limiterFor("a")
	if rl.limiterFor("a") != a {
		t.Fatal("bucket not reused")
	}

	now = now.Add(rl.ttl)
	rl.limiterFor("b")
	rl.limiterFor("b") // second lookup reaches sweepN
	if _, ok := rl.buckets["a"]; ok {
		t.Fatal("idle bucket not swept")
	}
}

func TestRateLimiter_DeniesThenBypassesReplays(t *testing.T) {
	rl := NewRateLimiter(0.0001, 1, func(*gin.Context) string { return "fixed" })
	lookup := func(_ context.Context, _, _, key string, _ time.Time) (string, bool, error) {
		return "order-1", key == "replay", nil
	}
	r := newEngine(RequestID(), Idempotency(IdempotencyOptions{}, lookup), rl.Handler())
	r.POST("/orders", func(c *gin.Context) { c.Status(http.StatusCreated) })

	send := func(key string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/orders", nil)
		if key != "" {
			req.Header.Set(HeaderIdempotencyKey, key)
		}
		r.ServeHTTP(w, req)
		return w
	}

	if w := send(""); w.Code != http.StatusCreated {
		t.Fatalf("first: %d", w.Code)
	}
	w := send("")
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("second: %d retry=%q", w.Code, w.Header().Get("Retry-After"))
	}
	if w := send("replay"); w.Code != http.StatusCreated {
		t.Fatalf("replay should bypass: %d", w.Code)
	}
}
