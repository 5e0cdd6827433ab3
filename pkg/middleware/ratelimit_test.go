package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/creatorhub/creatorhub/pkg/contextkeys"
)

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter := NewRateLimiter(config)
	ctx := context.Background()

	key := "test-user"

	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		d, err := limiter.Allow(ctx, key)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if d.Allowed {
			allowedCount++
		}
	}

	expected := config.RequestsPerWindow + config.BurstSize
	if allowedCount != expected {
		t.Errorf("Allowed %d requests, want %d", allowedCount, expected)
	}

	// After waiting, tokens should refill
	time.Sleep(time.Second)
	if d, _ := limiter.Allow(ctx, key); !d.Allowed {
		t.Error("Should allow request after refill")
	}
}

func TestRateLimiter_Remaining(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
		BurstSize:         2,
	})

	if got := limiter.Remaining("fresh"); got != 12 {
		t.Errorf("Remaining() for unknown key = %d, want 12", got)
	}

	for i := 0; i < 5; i++ {
		_, _ = limiter.Allow(context.Background(), "k")
	}
	if got := limiter.Remaining("k"); got != 7 {
		t.Errorf("Remaining() = %d, want 7", got)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    10 * time.Millisecond,
		BurstSize:         0,
	})

	_, _ = limiter.Allow(context.Background(), "idle")
	time.Sleep(30 * time.Millisecond)
	limiter.Cleanup()

	limiter.mu.RLock()
	_, exists := limiter.buckets["idle"]
	limiter.mu.RUnlock()
	if exists {
		t.Error("idle bucket should have been removed")
	}
}

func TestRateLimiter_StartCleanup(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    10 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _ = limiter.Allow(ctx, "idle")
	limiter.StartCleanup(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		limiter.mu.RLock()
		n := len(limiter.buckets)
		limiter.mu.RUnlock()
		if n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("background cleanup never removed the idle bucket")
}

func TestRateLimiter_Concurrency(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 50,
		WindowDuration:    time.Hour,
		BurstSize:         0,
	})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := limiter.Allow(context.Background(), "shared")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}

func TestNewRateLimiter_NilConfig(t *testing.T) {
	limiter := NewRateLimiter(nil)
	if limiter.config.RequestsPerWindow != DefaultRateLimitConfig().RequestsPerWindow {
		t.Errorf("nil config should fall back to defaults, got %+v", limiter.config)
	}
}

func TestRateLimitConfig_Defaults(t *testing.T) {
	anon := DefaultRateLimitConfig()
	user := PerUserRateLimitConfig()

	if anon.RequestsPerWindow != 100 || anon.BurstSize != 10 || anon.WindowDuration != time.Minute {
		t.Errorf("unexpected anonymous defaults: %+v", anon)
	}
	if user.RequestsPerWindow != 1000 || user.BurstSize != 50 {
		t.Errorf("unexpected per-user defaults: %+v", user)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		xRealIP    string
		remoteAddr string
		want       string
	}{
		{name: "forwarded chain", xff: "203.0.113.5, 10.0.0.1", remoteAddr: "10.0.0.2:1234", want: "203.0.113.5"},
		{name: "real ip", xRealIP: "203.0.113.6", remoteAddr: "10.0.0.2:1234", want: "203.0.113.6"},
		{name: "remote addr", remoteAddr: "192.0.2.1:5555", want: "192.0.2.1"},
		{name: "remote addr without port", remoteAddr: "192.0.2.2", want: "192.0.2.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_Handler_Anonymous(t *testing.T) {
	anon := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Hour})
	users := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Hour})
	handler := NewRateLimitMiddleware(users, anon, nil, nil).Handler(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.7:999"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)

		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("X-RateLimit-Limit = %q, want 2", rec.Header().Get("X-RateLimit-Limit"))
		}
		if i == 2 && rec.Header().Get("Retry-After") == "" {
			t.Error("rejected response should carry Retry-After")
		}
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d: status = %d, want %d", i, codes[i], want[i])
		}
	}

	// A different client has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.8:999"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}
}

func TestRateLimitMiddleware_Handler_User(t *testing.T) {
	anon := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour})
	users := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Hour})
	handler := NewRateLimitMiddleware(users, anon, nil, nil).Handler(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(contextkeys.WithUserID(req.Context(), "42"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}

	if got := users.Remaining("user:42"); got != 0 {
		t.Errorf("user bucket remaining = %d, want 0", got)
	}
	if got := anon.Remaining("ip:192.0.2.1"); got != 1 {
		t.Errorf("anonymous bucket should be untouched, remaining = %d", got)
	}
}
