package middleware

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
)

// RateLimitConfig defines the limit for a specific route or group.
type RateLimitConfig struct {
	Max    int                      // Maximum requests allowed in the window
	Window time.Duration            // Time window for the limit
	KeyFn  func(c fiber.Ctx) string // Returns the key to rate limit on (IP, client id)
}

// window tracks request count and window end for a single key.
type window struct {
	count int
	end   time.Time
}

// RateLimiter is an in-memory fixed-window rate limiter.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	config  RateLimitConfig
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewRateLimiter creates a rate limiter with the given config and starts its
// background sweep. Call Close to stop it.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.KeyFn == nil {
		cfg.KeyFn = KeyByIP
	}
	rl := &RateLimiter{
		windows: make(map[string]*window),
		config:  cfg,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.sweep(5 * time.Minute)
	return rl
}

// Handler returns a Fiber middleware handler that enforces the rate limit.
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c fiber.Ctx) error {
		remaining, end := rl.hit(rl.config.KeyFn(c))
		setRateLimitHeaders(c, rl.config.Max, remaining, end)

		if remaining < 0 {
			retryAfter := int(end.Sub(rl.now()).Seconds()) + 1
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": fiber.Map{
					"code":       "RATE_LIMITED",
					"message":    fmt.Sprintf("Too many requests. Try again in %d seconds.", retryAfter),
					"retryAfter": retryAfter,
				},
			})
		}
		return c.Next()
	}
}

// Allow records a request for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	remaining, _ := rl.hit(key)
	return remaining >= 0
}

// Close stops the background sweep.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// hit counts one request and returns the remaining budget, negative once the
// limit is exceeded, and the end of the current window.
func (rl *RateLimiter) hit(key string) (int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.After(w.end) {
		w = &window{end: now.Add(rl.config.Window)}
		rl.windows[key] = w
	}
	w.count++
	return rl.config.Max - w.count, w.end
}

func setRateLimitHeaders(c fiber.Ctx, limit, remaining int, resetAt time.Time) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func (rl *RateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictExpired()
		}
	}
}

func (rl *RateLimiter) evictExpired() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, w := range rl.windows {
		if now.After(w.end) {
			delete(rl.windows, key)
		}
	}
}

// KeyByIP returns the client IP as the rate limit key.
func KeyByIP(c fiber.Ctx) string {
	return "ip:" + c.IP()
}

// KeyByClientID keys on the X-Client-ID header sent by publishing platforms,
// falling back to the client IP.
func KeyByClientID(c fiber.Ctx) string {
	if id := c.Get("X-Client-ID"); id != "" {
		return "client:" + id
	}
	return "ip:" + c.IP()
}

// --- Pre-configured rate limiters matching the API contract ---

// NewModerationRateLimiter: 20 req/min per client. Each request may fan out
// into many provider calls.
func NewModerationRateLimiter() *RateLimiter {
	return NewRateLimiter(RateLimitConfig{
		Max:    20,
		Window: time.Minute,
		KeyFn:  KeyByClientID,
	})
}

// NewReadRateLimiter: 120 req/min per IP
func NewReadRateLimiter() *RateLimiter {
	return NewRateLimiter(RateLimitConfig{
		Max:    120,
		Window: time.Minute,
		KeyFn:  KeyByIP,
	})
}

// NewEvaluateRateLimiter: 60 req/min per IP
func NewEvaluateRateLimiter() *RateLimiter {
	return NewRateLimiter(RateLimitConfig{
		Max:    60,
		Window: time.Minute,
		KeyFn:  KeyByIP,
	})
}
