package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.allow("10.0.0.1") {
			t.Fatalf("Request %d should be allowed", i+1)
		}
	}
	if limiter.allow("10.0.0.1") {
		t.Error("Request over the limit should be rejected")
	}
	// A different client has its own window.
	if !limiter.allow("10.0.0.2") {
		t.Error("Other clients must not share the window")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	span := 50 * time.Millisecond
	limiter := NewRateLimiter(1, span)

	if !limiter.allow("10.0.0.1") {
		t.Fatal("First request should be allowed")
	}
	if limiter.allow("10.0.0.1") {
		t.Fatal("Second request should be rejected")
	}

	time.Sleep(span + 10*time.Millisecond)
	if !limiter.allow("10.0.0.1") {
		t.Error("Request after window expiry should be allowed")
	}
}

func TestRateLimiterCleanupRemovesExpiredWindows(t *testing.T) {
	limiter := NewRateLimiter(10, 50*time.Millisecond)

	now := time.Now()
	limiter.windows["expired"] = &window{count: 5, resetAt: now.Add(-time.Second)}
	limiter.windows["active"] = &window{count: 3, resetAt: now.Add(time.Minute)}

	limiter.cleanupExpired(now)

	if _, exists := limiter.windows["expired"]; exists {
		t.Error("Expired window should have been removed")
	}
	if _, exists := limiter.windows["active"]; !exists {
		t.Error("Active window should remain")
	}
}

func TestRateLimiterBoundedGrowth(t *testing.T) {
	span := 30 * time.Millisecond
	limiter := NewRateLimiter(10, span)

	for i := 0; i < 250; i++ {
		limiter.allow(fmt.Sprintf("172.16.0.%d", i))
	}
	time.Sleep(span + 10*time.Millisecond)

	// The next burst crosses the amortized cleanup thresholds and
	// sweeps the expired windows out.
	for i := 0; i < 100; i++ {
		limiter.allow("10.0.0.1")
	}

	if len(limiter.windows) > 50 {
		t.Errorf("Expected expired windows swept, map still has %d entries", len(limiter.windows))
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req.RemoteAddr = "192.0.2.1:1234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("Expected first two requests allowed, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected third request limited, got %v", codes)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "203.0.113.7:4567"
	if ip := GetClientIP(req); ip != "203.0.113.7:4567" {
		t.Errorf("Expected RemoteAddr fallback, got %q", ip)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")
	if ip := GetClientIP(req); ip != "198.51.100.9" {
		t.Errorf("Expected first X-Forwarded-For hop, got %q", ip)
	}
}
