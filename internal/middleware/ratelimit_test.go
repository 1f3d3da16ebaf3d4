package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestLimiterStore_AllowAndCleanup(t *testing.T) {
	// allow 5 events immediately then the 6th should be rejected
	s := NewLimiterStore(5, 5, 100*time.Millisecond)
	defer s.Stop()

	key := "ip:203.0.113.7"
	for i := 0; i < 5; i++ {
		if !s.Allow(key) {
			t.Fatalf("expected allow at iteration %d", i)
		}
	}

	if s.Allow(key) {
		t.Fatalf("expected limiter to block after burst consumed")
	}

	// ensure cleanup eventually removes old entries
	time.Sleep(150 * time.Millisecond)
	s.mu.Lock()
	if _, ok := s.clients[key]; !ok {
		// entry may be removed after cleanup; that's acceptable
	}
	s.mu.Unlock()
}

func TestRateLimit_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := NewLimiterStore(1, 1, time.Minute)
	defer s.Stop()

	r := gin.New()
	r.Use(RateLimit(s))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := do(); code != http.StatusOK {
		t.Fatalf("first request: got %d, want %d", code, http.StatusOK)
	}
	if code := do(); code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want %d", code, http.StatusTooManyRequests)
	}
}
