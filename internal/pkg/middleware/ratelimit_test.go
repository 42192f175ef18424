package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/facecontrol/face-remote/internal/pkg/logger"
)

func newTestLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(cfg, logger.Discard())
	t.Cleanup(rl.Stop)
	return rl
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.RequestsPerSecond != 5 {
		t.Errorf("expected RequestsPerSecond=5, got %f", cfg.RequestsPerSecond)
	}
	if cfg.Burst != 10 {
		t.Errorf("expected Burst=10, got %d", cfg.Burst)
	}
	if len(cfg.Methods) != 1 || cfg.Methods[0] != http.MethodPost {
		t.Errorf("expected POST only, got %v", cfg.Methods)
	}
}

func TestConfigForRate(t *testing.T) {
	cfg := ConfigForRate(3)
	if cfg.RequestsPerSecond != 3 || cfg.Burst != 6 {
		t.Errorf("ConfigForRate(3) = %+v", cfg)
	}
}

func TestNewRateLimiter_ClampsBurst(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{RequestsPerSecond: 1})
	if rl.burst != 1 {
		t.Errorf("burst = %d, want 1", rl.burst)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{RequestsPerSecond: 2, Burst: 2})

	clientIP := "192.168.1.100"

	if !rl.Allow(clientIP) || !rl.Allow(clientIP) {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if rl.Allow(clientIP) {
		t.Error("expected third request to be denied")
	}

	// Other clients have their own bucket
	if !rl.Allow("10.0.0.1") {
		t.Error("expected a different client to be allowed")
	}

	time.Sleep(600 * time.Millisecond)

	if !rl.Allow(clientIP) {
		t.Error("expected request to be allowed after waiting")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{RequestsPerSecond: 1, Burst: 1, Methods: []string{"post"}})

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/trigger", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := post(); rec.Code != http.StatusOK {
		t.Fatalf("first POST status = %d, want 200", rec.Code)
	}
	rec := post()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second POST status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
	}

	// GET is not limited
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %d status = %d, want 200", i, rec.Code)
		}
	}
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{RequestsPerSecond: 1, Burst: 1, IdleTimeout: time.Minute})

	rl.Allow("a")
	rl.Allow("b")
	if rl.Clients() != 2 {
		t.Fatalf("Clients() = %d, want 2", rl.Clients())
	}

	if n := rl.evictIdle(time.Now()); n != 0 {
		t.Errorf("evicted %d fresh clients", n)
	}
	if n := rl.evictIdle(time.Now().Add(2 * time.Minute)); n != 2 {
		t.Errorf("evicted %d, want 2", n)
	}
	if rl.Clients() != 0 {
		t.Errorf("Clients() = %d, want 0", rl.Clients())
	}
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig(), nil)
	rl.Stop()
	rl.Stop()
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{RequestsPerSecond: 1000, Burst: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				rl.Allow("shared")
			}
		}()
	}
	wg.Wait()

	if rl.Clients() != 1 {
		t.Errorf("Clients() = %d, want 1", rl.Clients())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.0.2.1:1234", nil, "192.0.2.1"},
		{"ipv6 remote addr", "[2001:db8::1]:443", nil, "2001:db8::1"},
		{"no port", "192.0.2.9", nil, "192.0.2.9"},
		{"x-forwarded-for chain", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"}, "203.0.113.5"},
		{"x-real-ip", "10.0.0.1:1", map[string]string{"X-Real-IP": " 198.51.100.7 "}, "198.51.100.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
