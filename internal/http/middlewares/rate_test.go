package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dropDatabas3/mcpgate/internal/rate"
)

func TestRateLimitBlocksOverBudget(t *testing.T) {
	handler := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		WithRateLimit(RateLimitConfig{
			Limiter: rate.NewMemoryLimiter(2, time.Minute),
			KeyFunc: IPRateKey,
		}),
	)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/oauth/authorize/google", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("hit %d: status = %d", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize/google", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, quiero 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("falta Retry-After")
	}

	// Otra IP no comparte presupuesto.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/oauth/authorize/google", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("otra IP: status = %d", rec.Code)
	}
}

func TestRateLimitWhitelist(t *testing.T) {
	handler := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		WithRateLimit(RateLimitConfig{
			Limiter:   rate.NewMemoryLimiter(1, time.Minute),
			KeyFunc:   IPRateKey,
			Whitelist: []string{"/healthz"},
		}),
	)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("healthz hit %d: status = %d", i+1, rec.Code)
		}
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if ip := clientIP(req); ip != "203.0.113.7" {
		t.Fatalf("ip = %q", ip)
	}
}
