package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
)

func newTestLimiter(t *testing.T, max int, window time.Duration) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimitConfig{Max: max, Window: window, KeyFn: KeyByIP})
	t.Cleanup(rl.Close)
	return rl
}

func TestRateLimiter_AllowsUpToMax(t *testing.T) {
	rl := newTestLimiter(t, 5, time.Minute)
	for i := 0; i < 5; i++ {
		if !rl.Allow("test-ip") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("test-ip") {
		t.Fatal("6th request should be blocked")
	}
}

func TestRateLimiter_DifferentKeysIndependent(t *testing.T) {
	rl := newTestLimiter(t, 2, time.Minute)

	rl.Allow("ip-a")
	rl.Allow("ip-a")
	if rl.Allow("ip-a") {
		t.Fatal("ip-a should be blocked")
	}
	if !rl.Allow("ip-b") {
		t.Fatal("ip-b should be allowed (independent key)")
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	rl := newTestLimiter(t, 2, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("test")
	rl.Allow("test")
	if rl.Allow("test") {
		t.Fatal("should be blocked within window")
	}

	now = now.Add(time.Minute + time.Second)
	if !rl.Allow("test") {
		t.Fatal("should be allowed after window reset")
	}
}

func TestRateLimiter_EvictExpired(t *testing.T) {
	rl := newTestLimiter(t, 2, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(2 * time.Minute)
	rl.Allow("b")
	rl.evictExpired()

	if _, ok := rl.windows["a"]; ok {
		t.Error("expired window was not evicted")
	}
	if _, ok := rl.windows["b"]; !ok {
		t.Error("live window was evicted")
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Max: 1, Window: time.Minute, KeyFn: KeyByClientID})
	t.Cleanup(rl.Close)

	app := fiber.New()
	app.Get("/", rl.Handler(), func(c fiber.Ctx) error { return c.SendString("ok") })

	do := func(client string) (int, string) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Client-ID", client)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.Header.Get("X-RateLimit-Limit") != "1" {
			t.Errorf("X-RateLimit-Limit = %q", resp.Header.Get("X-RateLimit-Limit"))
		}
		return resp.StatusCode, string(body)
	}

	if code, _ := do("platform-a"); code != fiber.StatusOK {
		t.Fatalf("first request = %d", code)
	}
	code, body := do("platform-a")
	if code != fiber.StatusTooManyRequests {
		t.Fatalf("second request = %d", code)
	}
	if body == "" {
		t.Error("expected error body")
	}
	if code, _ := do("platform-b"); code != fiber.StatusOK {
		t.Errorf("other client = %d", code)
	}
}

func TestPresetLimiters(t *testing.T) {
	tests := []struct {
		name string
		new  func() *RateLimiter
		max  int
	}{
		{"moderation", NewModerationRateLimiter, 20},
		{"read", NewReadRateLimiter, 120},
		{"evaluate", NewEvaluateRateLimiter, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := tt.new()
			defer rl.Close()
			for i := 0; i < tt.max; i++ {
				if !rl.Allow("k") {
					t.Fatalf("request %d should be allowed (max %d)", i+1, tt.max)
				}
			}
			if rl.Allow("k") {
				t.Fatalf("request %d should be blocked", tt.max+1)
			}
		})
	}
}
