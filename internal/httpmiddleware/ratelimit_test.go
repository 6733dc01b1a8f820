package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"tutorflow/internal/auth"
	"tutorflow/internal/model"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestTokenBucketRefills(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	l := NewTokenBucket(2, 60)
	l.now = clk.now

	for i := 0; i < 2; i++ {
		if _, ok := l.allow("a"); !ok {
			t.Fatalf("request %d refused", i)
		}
	}
	wait, ok := l.allow("a")
	if ok {
		t.Fatal("third request allowed")
	}
	if wait <= 0 || wait > time.Second {
		t.Fatalf("wait = %s", wait)
	}
	if _, ok := l.allow("b"); !ok {
		t.Fatal("other caller limited")
	}

	clk.t = clk.t.Add(time.Second)
	if _, ok := l.allow("a"); !ok {
		t.Fatal("not refilled after a second")
	}
}

func TestSweep(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	l := NewTokenBucket(1, 60)
	l.now = clk.now
	l.allow("a")
	clk.t = clk.t.Add(10 * time.Minute)
	l.allow("b")
	if n := l.Sweep(time.Minute); n != 1 {
		t.Fatalf("swept %d", n)
	}
}

func TestMiddlewareLimitsPerIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	const key, issuer = "k", "i"
	l := NewTokenBucket(1, 1)
	r := gin.New()
	r.GET("/x", auth.IdentityAuth(key, issuer), l.GinMiddleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	tokA, _, _ := auth.Issue(model.Identity{UserID: "a", Role: model.RoleStudent}, issuer, key, time.Minute)
	tokB, _, _ := auth.Issue(model.Identity{UserID: "b", Role: model.RoleStudent}, issuer, key, time.Minute)

	do := func(tok string) int {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	if code := do(tokA); code != http.StatusNoContent {
		t.Fatalf("first = %d", code)
	}
	if code := do(tokA); code != http.StatusTooManyRequests {
		t.Fatalf("second = %d", code)
	}
	if code := do(tokB); code != http.StatusNoContent {
		t.Fatalf("other identity = %d", code)
	}
}
