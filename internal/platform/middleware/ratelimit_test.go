package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
)

func limitedHandler(cfg RateLimitConfig) (*echo.Echo, echo.HandlerFunc) {
	e := echo.New()
	h := RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e, h
}

func hit(e *echo.Echo, h echo.HandlerFunc, actor string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if actor != "" {
		req.Header.Set("X-Actor", actor)
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimitAllowsBurst(t *testing.T) {
	e, h := limitedHandler(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		rec, err := hit(e, h, "")
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: code = %d, want 200", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: X-RateLimit-Limit = %q, want \"10\"", i+1, got)
		}
	}
}

func TestRateLimitRejectsBeyondBurst(t *testing.T) {
	e, h := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	for i := 0; i < 2; i++ {
		if _, err := hit(e, h, ""); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	_, err := hit(e, h, "")
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("err = %v (%T), want echo.HTTPError", err, err)
	}
	if he.Code != http.StatusTooManyRequests {
		t.Errorf("code = %d, want 429", he.Code)
	}
}

func TestRateLimitRetryAfterHeader(t *testing.T) {
	e, h := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := hit(e, h, ""); err != nil {
		t.Fatalf("first request: %v", err)
	}
	rec, err := hit(e, h, "")
	if err == nil {
		t.Fatal("second request should be limited")
	}

	ra, parseErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if parseErr != nil {
		t.Fatalf("Retry-After = %q, want an integer", rec.Header().Get("Retry-After"))
	}
	if ra < 1 {
		t.Errorf("Retry-After = %d, want >= 1", ra)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want \"0\"", got)
	}
}

func TestRateLimitBucketsPerActor(t *testing.T) {
	e, h := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := hit(e, h, "tech1"); err != nil {
		t.Fatalf("tech1 first request: %v", err)
	}
	if _, err := hit(e, h, "tech1"); err == nil {
		t.Fatal("tech1 second request should be limited")
	}
	// A different actor draws from its own bucket.
	if _, err := hit(e, h, "tech2"); err != nil {
		t.Fatalf("tech2 first request: %v", err)
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 {
		t.Errorf("RequestsPerSecond = %f, want 100", cfg.RequestsPerSecond)
	}
	if cfg.BurstSize != 200 {
		t.Errorf("BurstSize = %d, want 200", cfg.BurstSize)
	}
}

func TestTokenBucketRetryAfterZeroRate(t *testing.T) {
	b := newTokenBucket(0, 1)
	b.allow()
	// No refill rate: the bucket can only suggest the minimum wait.
	if ra := b.retryAfter(); ra != 1 {
		t.Errorf("retryAfter = %d, want 1", ra)
	}
}

func TestRateLimiterStoreReusesBuckets(t *testing.T) {
	store := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	a := store.getBucket("tech1")
	if a == nil {
		t.Fatal("bucket not created")
	}
	if b := store.getBucket("tech1"); a != b {
		t.Error("same key returned a different bucket")
	}
	if c := store.getBucket("tech2"); a == c {
		t.Error("different keys share a bucket")
	}
}
